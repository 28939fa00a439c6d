package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// Master is one registered master instance.
type Master struct {
	ID         int64
	Name       string
	Active     bool
	LastActive time.Time
}

// FindMasterID returns the id of the named master, registering it if absent.
// Safe against a concurrent registration of the same name.
func (m *MasterDB) FindMasterID(ctx context.Context, name string) (int64, error) {
	for {
		var id int64
		err := m.QueryRowContext(ctx, `SELECT id FROM masters WHERE name = ?`, name).Scan(&id)
		if err == nil {
			return id, nil
		}
		if !errors.Is(err, sql.ErrNoRows) {
			return 0, fmt.Errorf("find master: %w", err)
		}

		id, err = m.execInsert(ctx, `
			INSERT INTO masters (name, active, last_active) VALUES (?, 0, ?)
		`, name, time.Now().Unix())
		if err == nil {
			return id, nil
		}
		if !m.Driver().IsUniqueViolation(err) {
			return 0, fmt.Errorf("insert master: %w", err)
		}
		// registered concurrently, look it up again
	}
}

// SetMasterActive marks a master active or inactive, stamping last_active.
func (m *MasterDB) SetMasterActive(ctx context.Context, masterID int64, active bool) error {
	a := 0
	if active {
		a = 1
	}
	if _, err := m.ExecContext(ctx, `
		UPDATE masters SET active = ?, last_active = ? WHERE id = ?
	`, a, time.Now().Unix(), masterID); err != nil {
		return fmt.Errorf("set master active: %w", err)
	}
	return nil
}

// GetMaster retrieves a master by id.
func (m *MasterDB) GetMaster(ctx context.Context, masterID int64) (*Master, error) {
	row := m.QueryRowContext(ctx, `
		SELECT id, name, active, last_active FROM masters WHERE id = ?
	`, masterID)

	var ms Master
	var active int
	var lastActive int64
	if err := row.Scan(&ms.ID, &ms.Name, &active, &lastActive); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("master %d: %w", masterID, ErrNotFound)
		}
		return nil, fmt.Errorf("get master: %w", err)
	}
	ms.Active = active != 0
	ms.LastActive = time.Unix(lastActive, 0).UTC()
	return &ms, nil
}

// ListMasters returns all registered masters.
func (m *MasterDB) ListMasters(ctx context.Context) ([]Master, error) {
	rows, err := m.QueryContext(ctx, `
		SELECT id, name, active, last_active FROM masters ORDER BY name
	`)
	if err != nil {
		return nil, fmt.Errorf("list masters: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var masters []Master
	for rows.Next() {
		var ms Master
		var active int
		var lastActive int64
		if err := rows.Scan(&ms.ID, &ms.Name, &active, &lastActive); err != nil {
			return nil, fmt.Errorf("scan master: %w", err)
		}
		ms.Active = active != 0
		ms.LastActive = time.Unix(lastActive, 0).UTC()
		masters = append(masters, ms)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate masters: %w", err)
	}

	return masters, nil
}
