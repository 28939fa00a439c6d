package db

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"
)

// Build is one row of the builds table. WorkerID, CompleteAt and Results are
// nil until a worker is assigned resp. the build completes.
type Build struct {
	ID             int64
	Number         int
	BuilderID      int64
	BuildRequestID int64
	WorkerID       *int64
	MasterID       int64
	StartedAt      time.Time
	CompleteAt     *time.Time
	LocksDurationS int64
	StateString    string
	Results        *int
}

// Complete reports whether the build has finished.
func (b *Build) Complete() bool {
	return b.CompleteAt != nil
}

// NewBuild holds the fields needed to start a build.
type NewBuild struct {
	BuilderID      int64
	BuildRequestID int64
	WorkerID       *int64
	MasterID       int64
	StateString    string
}

// BuildsFilter selects builds in GetBuilds. Zero-valued fields do not filter.
type BuildsFilter struct {
	BuilderID      int64
	BuildRequestID int64
	WorkerID       int64
	Complete       *bool
}

// Property is one build property value with its source.
type Property struct {
	Value  any
	Source string
}

// AddBuild inserts a new build, allocating the next build number for the
// builder. If a build on another master takes the same number first, the
// insert hits the (builderid, number) unique index and the allocation is
// retried.
func (m *MasterDB) AddBuild(ctx context.Context, b NewBuild) (int64, int, error) {
	for {
		var number int
		err := m.QueryRowContext(ctx, `
			SELECT COALESCE(MAX(number), 0) + 1 FROM builds WHERE builderid = ?
		`, b.BuilderID).Scan(&number)
		if err != nil {
			return 0, 0, fmt.Errorf("allocate build number: %w", err)
		}

		if m.insertRaceHook != nil {
			m.insertRaceHook(ctx)
		}

		id, err := m.execInsert(ctx, `
			INSERT INTO builds (number, builderid, buildrequestid, workerid, masterid, started_at, locks_duration_s, state_string)
			VALUES (?, ?, ?, ?, ?, ?, 0, ?)
		`, number, b.BuilderID, b.BuildRequestID, b.WorkerID, b.MasterID, time.Now().Unix(), b.StateString)
		if err == nil {
			return id, number, nil
		}
		if !m.Driver().IsUniqueViolation(err) {
			return 0, 0, fmt.Errorf("insert build: %w", err)
		}
		// a competing build took this number, allocate the next one
	}
}

const buildColumns = `id, number, builderid, buildrequestid, workerid, masterid,
	started_at, complete_at, locks_duration_s, state_string, results`

// GetBuild retrieves a build by id. Returns nil if no such build exists.
func (m *MasterDB) GetBuild(ctx context.Context, buildID int64) (*Build, error) {
	row := m.QueryRowContext(ctx, `SELECT `+buildColumns+` FROM builds WHERE id = ?`, buildID)
	return scanBuild(row)
}

// GetBuildByNumber retrieves a build by builder and number.
// Returns nil if no such build exists.
func (m *MasterDB) GetBuildByNumber(ctx context.Context, builderID int64, number int) (*Build, error) {
	row := m.QueryRowContext(ctx, `
		SELECT `+buildColumns+` FROM builds WHERE builderid = ? AND number = ?
	`, builderID, number)
	return scanBuild(row)
}

// GetBuilds retrieves builds matching the filter, oldest first.
func (m *MasterDB) GetBuilds(ctx context.Context, filter BuildsFilter) ([]Build, error) {
	var query strings.Builder
	var args []any

	query.WriteString(`SELECT ` + buildColumns + ` FROM builds WHERE 1=1`)

	if filter.BuilderID != 0 {
		query.WriteString(" AND builderid = ?")
		args = append(args, filter.BuilderID)
	}
	if filter.BuildRequestID != 0 {
		query.WriteString(" AND buildrequestid = ?")
		args = append(args, filter.BuildRequestID)
	}
	if filter.WorkerID != 0 {
		query.WriteString(" AND workerid = ?")
		args = append(args, filter.WorkerID)
	}
	if filter.Complete != nil {
		if *filter.Complete {
			query.WriteString(" AND complete_at IS NOT NULL")
		} else {
			query.WriteString(" AND complete_at IS NULL")
		}
	}

	query.WriteString(" ORDER BY id")

	rows, err := m.QueryContext(ctx, query.String(), args...)
	if err != nil {
		return nil, fmt.Errorf("query builds: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var builds []Build
	for rows.Next() {
		b, err := scanBuild(rows)
		if err != nil {
			return nil, err
		}
		builds = append(builds, *b)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate builds: %w", err)
	}

	return builds, nil
}

// SetBuildStateString updates the human-readable state of a build.
func (m *MasterDB) SetBuildStateString(ctx context.Context, buildID int64, state string) error {
	if _, err := m.ExecContext(ctx, `
		UPDATE builds SET state_string = ? WHERE id = ?
	`, state, buildID); err != nil {
		return fmt.Errorf("set build state: %w", err)
	}
	return nil
}

// FinishBuild marks a build complete with the given results code.
func (m *MasterDB) FinishBuild(ctx context.Context, buildID int64, results int) error {
	if _, err := m.ExecContext(ctx, `
		UPDATE builds SET complete_at = ?, results = ? WHERE id = ?
	`, time.Now().Unix(), results, buildID); err != nil {
		return fmt.Errorf("finish build: %w", err)
	}
	return nil
}

// AddBuildLocksDuration accumulates time the build spent waiting on locks.
func (m *MasterDB) AddBuildLocksDuration(ctx context.Context, buildID int64, d time.Duration) error {
	if _, err := m.ExecContext(ctx, `
		UPDATE builds SET locks_duration_s = locks_duration_s + ? WHERE id = ?
	`, int64(d.Seconds()), buildID); err != nil {
		return fmt.Errorf("add locks duration: %w", err)
	}
	return nil
}

// GetBuildProperties retrieves all properties of a build, keyed by name.
func (m *MasterDB) GetBuildProperties(ctx context.Context, buildID int64) (map[string]Property, error) {
	rows, err := m.QueryContext(ctx, `
		SELECT name, value, source FROM build_properties WHERE buildid = ?
	`, buildID)
	if err != nil {
		return nil, fmt.Errorf("query build properties: %w", err)
	}
	defer func() { _ = rows.Close() }()

	props := make(map[string]Property)
	for rows.Next() {
		var name, raw, source string
		if err := rows.Scan(&name, &raw, &source); err != nil {
			return nil, fmt.Errorf("scan build property: %w", err)
		}
		var value any
		if err := json.Unmarshal([]byte(raw), &value); err != nil {
			return nil, fmt.Errorf("decode build property %s: %w", name, err)
		}
		props[name] = Property{Value: value, Source: source}
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate build properties: %w", err)
	}

	return props, nil
}

// SetBuildProperty stores a property on a build, overwriting any previous
// value. Same update-then-insert upsert as SetBuildData.
func (m *MasterDB) SetBuildProperty(ctx context.Context, buildID int64, name string, value any, source string) error {
	raw, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("encode build property %s: %w", name, err)
	}

	for {
		res, err := m.ExecContext(ctx, `
			UPDATE build_properties SET value = ?, source = ?
			WHERE buildid = ? AND name = ?
		`, string(raw), source, buildID, name)
		if err != nil {
			return fmt.Errorf("update build property: %w", err)
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
			INSERT INTO build_properties (buildid, name, value, source)
			VALUES (?, ?, ?, ?)
		`, buildID, name, string(raw), source)
		if err == nil {
			return nil
		}
		if !m.Driver().IsUniqueViolation(err) {
			return fmt.Errorf("insert build property: %w", err)
		}
		// a competing insert won the race, retry the update
	}
}

// rowScanner lets scanBuild work with both *sql.Row and *sql.Rows.
type rowScanner interface {
	Scan(dest ...any) error
}

func scanBuild(row rowScanner) (*Build, error) {
	var b Build
	var workerID, completeAt sql.NullInt64
	var results sql.NullInt64
	var startedAt int64

	if err := row.Scan(
		&b.ID, &b.Number, &b.BuilderID, &b.BuildRequestID, &workerID, &b.MasterID,
		&startedAt, &completeAt, &b.LocksDurationS, &b.StateString, &results,
	); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("scan build: %w", err)
	}

	b.StartedAt = time.Unix(startedAt, 0).UTC()
	if workerID.Valid {
		b.WorkerID = &workerID.Int64
	}
	if completeAt.Valid {
		t := time.Unix(completeAt.Int64, 0).UTC()
		b.CompleteAt = &t
	}
	if results.Valid {
		r := int(results.Int64)
		b.Results = &r
	}

	return &b, nil
}

var _ BuildsStore = (*MasterDB)(nil)
