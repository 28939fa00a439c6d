package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// BuildRequest is one queued request for a builder.
type BuildRequest struct {
	ID          int64
	BuilderID   int64
	Priority    int
	SubmittedAt time.Time
	Complete    bool
	CompleteAt  *time.Time
}

// AddBuildRequest queues a build request for a builder.
func (m *MasterDB) AddBuildRequest(ctx context.Context, builderID int64, priority int) (int64, error) {
	id, err := m.execInsert(ctx, `
		INSERT INTO buildrequests (builderid, priority, submitted_at) VALUES (?, ?, ?)
	`, builderID, priority, time.Now().Unix())
	if err != nil {
		return 0, fmt.Errorf("insert build request: %w", err)
	}
	return id, nil
}

// GetBuildRequest retrieves a build request by id.
func (m *MasterDB) GetBuildRequest(ctx context.Context, requestID int64) (*BuildRequest, error) {
	row := m.QueryRowContext(ctx, `
		SELECT id, builderid, priority, submitted_at, complete, complete_at
		FROM buildrequests WHERE id = ?
	`, requestID)

	var r BuildRequest
	var complete int
	var submittedAt int64
	var completeAt sql.NullInt64
	if err := row.Scan(&r.ID, &r.BuilderID, &r.Priority, &submittedAt, &complete, &completeAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("build request %d: %w", requestID, ErrNotFound)
		}
		return nil, fmt.Errorf("get build request: %w", err)
	}
	r.SubmittedAt = time.Unix(submittedAt, 0).UTC()
	r.Complete = complete != 0
	if completeAt.Valid {
		t := time.Unix(completeAt.Int64, 0).UTC()
		r.CompleteAt = &t
	}
	return &r, nil
}

// CompleteBuildRequest marks a build request complete.
func (m *MasterDB) CompleteBuildRequest(ctx context.Context, requestID int64) error {
	if _, err := m.ExecContext(ctx, `
		UPDATE buildrequests SET complete = 1, complete_at = ? WHERE id = ?
	`, time.Now().Unix(), requestID); err != nil {
		return fmt.Errorf("complete build request: %w", err)
	}
	return nil
}
