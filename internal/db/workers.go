package db

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
)

// Worker is one registered worker with its host info blob.
type Worker struct {
	ID   int64
	Name string
	Info map[string]any
}

// FindWorkerID returns the id of the named worker, registering it with the
// given info if absent. Safe against a concurrent registration of the same
// name.
func (m *MasterDB) FindWorkerID(ctx context.Context, name string, info map[string]any) (int64, error) {
	if info == nil {
		info = map[string]any{}
	}
	raw, err := json.Marshal(info)
	if err != nil {
		return 0, fmt.Errorf("encode worker info: %w", err)
	}

	for {
		var id int64
		err := m.QueryRowContext(ctx, `SELECT id FROM workers WHERE name = ?`, name).Scan(&id)
		if err == nil {
			return id, nil
		}
		if !errors.Is(err, sql.ErrNoRows) {
			return 0, fmt.Errorf("find worker: %w", err)
		}

		id, err = m.execInsert(ctx, `
			INSERT INTO workers (name, info) VALUES (?, ?)
		`, name, string(raw))
		if err == nil {
			return id, nil
		}
		if !m.Driver().IsUniqueViolation(err) {
			return 0, fmt.Errorf("insert worker: %w", err)
		}
		// registered concurrently, look it up again
	}
}

// SetWorkerInfo replaces a worker's info blob.
func (m *MasterDB) SetWorkerInfo(ctx context.Context, workerID int64, info map[string]any) error {
	raw, err := json.Marshal(info)
	if err != nil {
		return fmt.Errorf("encode worker info: %w", err)
	}
	if _, err := m.ExecContext(ctx, `
		UPDATE workers SET info = ? WHERE id = ?
	`, string(raw), workerID); err != nil {
		return fmt.Errorf("set worker info: %w", err)
	}
	return nil
}

// GetWorker retrieves a worker by id.
func (m *MasterDB) GetWorker(ctx context.Context, workerID int64) (*Worker, error) {
	row := m.QueryRowContext(ctx, `
		SELECT id, name, info FROM workers WHERE id = ?
	`, workerID)

	var w Worker
	var raw string
	if err := row.Scan(&w.ID, &w.Name, &raw); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("worker %d: %w", workerID, ErrNotFound)
		}
		return nil, fmt.Errorf("get worker: %w", err)
	}
	if err := json.Unmarshal([]byte(raw), &w.Info); err != nil {
		return nil, fmt.Errorf("decode worker info: %w", err)
	}
	return &w, nil
}

// ListWorkers returns all registered workers.
func (m *MasterDB) ListWorkers(ctx context.Context) ([]Worker, error) {
	rows, err := m.QueryContext(ctx, `
		SELECT id, name, info FROM workers ORDER BY name
	`)
	if err != nil {
		return nil, fmt.Errorf("list workers: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var workers []Worker
	for rows.Next() {
		var w Worker
		var raw string
		if err := rows.Scan(&w.ID, &w.Name, &raw); err != nil {
			return nil, fmt.Errorf("scan worker: %w", err)
		}
		if err := json.Unmarshal([]byte(raw), &w.Info); err != nil {
			return nil, fmt.Errorf("decode worker info: %w", err)
		}
		workers = append(workers, w)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate workers: %w", err)
	}

	return workers, nil
}
