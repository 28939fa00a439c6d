package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
)

// Builder is one registered builder (a named build configuration).
type Builder struct {
	ID          int64
	Name        string
	Description *string
}

// FindBuilderID returns the id of the named builder, registering it if
// absent. Safe against a concurrent registration of the same name.
func (m *MasterDB) FindBuilderID(ctx context.Context, name string) (int64, error) {
	for {
		var id int64
		err := m.QueryRowContext(ctx, `SELECT id FROM builders WHERE name = ?`, name).Scan(&id)
		if err == nil {
			return id, nil
		}
		if !errors.Is(err, sql.ErrNoRows) {
			return 0, fmt.Errorf("find builder: %w", err)
		}

		id, err = m.execInsert(ctx, `INSERT INTO builders (name) VALUES (?)`, name)
		if err == nil {
			return id, nil
		}
		if !m.Driver().IsUniqueViolation(err) {
			return 0, fmt.Errorf("insert builder: %w", err)
		}
		// registered concurrently, look it up again
	}
}

// SetBuilderDescription updates a builder's description.
func (m *MasterDB) SetBuilderDescription(ctx context.Context, builderID int64, description string) error {
	if _, err := m.ExecContext(ctx, `
		UPDATE builders SET description = ? WHERE id = ?
	`, description, builderID); err != nil {
		return fmt.Errorf("set builder description: %w", err)
	}
	return nil
}

// GetBuilder retrieves a builder by id.
func (m *MasterDB) GetBuilder(ctx context.Context, builderID int64) (*Builder, error) {
	row := m.QueryRowContext(ctx, `
		SELECT id, name, description FROM builders WHERE id = ?
	`, builderID)

	var b Builder
	var description sql.NullString
	if err := row.Scan(&b.ID, &b.Name, &description); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("builder %d: %w", builderID, ErrNotFound)
		}
		return nil, fmt.Errorf("get builder: %w", err)
	}
	if description.Valid {
		b.Description = &description.String
	}
	return &b, nil
}

// ListBuilders returns all registered builders.
func (m *MasterDB) ListBuilders(ctx context.Context) ([]Builder, error) {
	rows, err := m.QueryContext(ctx, `
		SELECT id, name, description FROM builders ORDER BY name
	`)
	if err != nil {
		return nil, fmt.Errorf("list builders: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var builders []Builder
	for rows.Next() {
		var b Builder
		var description sql.NullString
		if err := rows.Scan(&b.ID, &b.Name, &description); err != nil {
			return nil, fmt.Errorf("scan builder: %w", err)
		}
		if description.Valid {
			b.Description = &description.String
		}
		builders = append(builders, b)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate builders: %w", err)
	}

	return builders, nil
}
