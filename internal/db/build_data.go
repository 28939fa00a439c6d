package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// BuildData is one key/value datum attached to a build. Values can be large
// (logs excerpts, artifacts manifests), so the no-value read paths skip the
// value column and leave Value nil while still reporting Length.
type BuildData struct {
	BuildID int64
	Name    string
	Length  int64
	Source  string
	Value   []byte
}

// SetBuildData stores a datum for a build, overwriting any previous value
// under the same name.
//
// The upsert runs as update-then-insert: if the update matched nothing and
// the insert then hits the (buildid, name) unique index, a competing writer
// inserted in between, and the update is retried.
func (m *MasterDB) SetBuildData(ctx context.Context, buildID int64, name string, value []byte, source string) error {
	for {
		res, err := m.ExecContext(ctx, `
			UPDATE build_data SET value = ?, length = ?, source = ?
			WHERE buildid = ? AND name = ?
		`, value, len(value), source, buildID, name)
		if err != nil {
			return fmt.Errorf("update build data: %w", err)
		}
		n, err := res.RowsAffected()
		if err != nil {
			return fmt.Errorf("check rows affected: %w", err)
		}
		if n > 0 {
			return nil
		}

		if m.insertRaceHook != nil {
			m.insertRaceHook(ctx)
		}

		_, err = m.ExecContext(ctx, `
			INSERT INTO build_data (buildid, name, value, length, source)
			VALUES (?, ?, ?, ?, ?)
		`, buildID, name, value, len(value), source)
		if err == nil {
			return nil
		}
		if !m.Driver().IsUniqueViolation(err) {
			return fmt.Errorf("insert build data: %w", err)
		}
		// a competing insert won the race, retry the update
	}
}

// GetBuildData retrieves a datum with its value.
// Returns nil if no datum exists under that name.
func (m *MasterDB) GetBuildData(ctx context.Context, buildID int64, name string) (*BuildData, error) {
	row := m.QueryRowContext(ctx, `
		SELECT buildid, name, value, length, source FROM build_data
		WHERE buildid = ? AND name = ?
	`, buildID, name)

	var d BuildData
	if err := row.Scan(&d.BuildID, &d.Name, &d.Value, &d.Length, &d.Source); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("get build data: %w", err)
	}
	return &d, nil
}

// GetBuildDataNoValue retrieves a datum's metadata without fetching the
// value. Returns nil if no datum exists under that name.
func (m *MasterDB) GetBuildDataNoValue(ctx context.Context, buildID int64, name string) (*BuildData, error) {
	row := m.QueryRowContext(ctx, `
		SELECT buildid, name, length, source FROM build_data
		WHERE buildid = ? AND name = ?
	`, buildID, name)

	var d BuildData
	if err := row.Scan(&d.BuildID, &d.Name, &d.Length, &d.Source); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("get build data: %w", err)
	}
	return &d, nil
}

// ListBuildDataNoValues retrieves metadata for all data attached to a build,
// without fetching values.
func (m *MasterDB) ListBuildDataNoValues(ctx context.Context, buildID int64) ([]BuildData, error) {
	rows, err := m.QueryContext(ctx, `
		SELECT buildid, name, length, source FROM build_data
		WHERE buildid = ?
		ORDER BY name
	`, buildID)
	if err != nil {
		return nil, fmt.Errorf("list build data: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var data []BuildData
	for rows.Next() {
		var d BuildData
		if err := rows.Scan(&d.BuildID, &d.Name, &d.Length, &d.Source); err != nil {
			return nil, fmt.Errorf("scan build data: %w", err)
		}
		data = append(data, d)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate build data: %w", err)
	}

	return data, nil
}

// DeleteOldBuildData removes data belonging to builds that completed before
// olderThan. Data of incomplete builds is never removed. Returns the number
// of rows deleted.
func (m *MasterDB) DeleteOldBuildData(ctx context.Context, olderThan time.Time) (int64, error) {
	horizon := olderThan.Unix()

	var query string
	if m.Driver().SupportsDeleteUsing() {
		query = `
			DELETE FROM build_data USING builds
			WHERE builds.id = build_data.buildid
			AND builds.complete_at IS NOT NULL
			AND builds.complete_at < ?
		`
	} else {
		// SQLite cannot join in a DELETE, so fall back to a subquery,
		// which is much slower.
		query = `
			DELETE FROM build_data
			WHERE buildid NOT IN (
				SELECT id FROM builds
				WHERE complete_at >= ? OR complete_at IS NULL
			)
		`
	}

	res, err := m.ExecContext(ctx, query, horizon)
	if err != nil {
		return 0, fmt.Errorf("delete old build data: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("check rows affected: %w", err)
	}
	return n, nil
}

var _ BuildDataStore = (*MasterDB)(nil)
