package janitor

import (
	"context"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/forgebuild/forge/internal/db"
	"github.com/forgebuild/forge/internal/db/fakedb"
)

func TestRunOnce_PrunesOldData(t *testing.T) {
	f := fakedb.New()
	ctx := context.Background()

	now := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)

	oldAt := now.Add(-40 * 24 * time.Hour)
	oldBuild := f.InsertBuild(db.Build{BuilderID: 1, Number: 1, CompleteAt: &oldAt})
	recentAt := now.Add(-24 * time.Hour)
	recentBuild := f.InsertBuild(db.Build{BuilderID: 1, Number: 2, CompleteAt: &recentAt})

	require.NoError(t, f.SetBuildData(ctx, oldBuild, "log", []byte("old"), "step"))
	require.NoError(t, f.SetBuildData(ctx, recentBuild, "log", []byte("recent"), "step"))

	j := New(f, Config{Schedule: "@daily", Horizon: 28 * 24 * time.Hour}, slog.Default())
	j.now = func() time.Time { return now }

	deleted, err := j.RunOnce(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), deleted)

	gone, err := f.GetBuildData(ctx, oldBuild, "log")
	require.NoError(t, err)
	assert.Nil(t, gone)

	kept, err := f.GetBuildData(ctx, recentBuild, "log")
	require.NoError(t, err)
	assert.NotNil(t, kept)
}

func TestRunOnce_NothingToDo(t *testing.T) {
	f := fakedb.New()

	j := New(f, Config{Schedule: "@daily", Horizon: 28 * 24 * time.Hour}, nil)

	deleted, err := j.RunOnce(context.Background())
	require.NoError(t, err)
	assert.Zero(t, deleted)
}

func TestStart_InvalidSchedule(t *testing.T) {
	j := New(fakedb.New(), Config{Schedule: "not a cron spec", Horizon: time.Hour}, slog.Default())

	err := j.Start()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "janitor schedule")
}

func TestStartStop(t *testing.T) {
	j := New(fakedb.New(), Config{Schedule: "@every 1h", Horizon: time.Hour}, slog.Default())

	require.NoError(t, j.Start())
	j.Stop()
}

func TestRunOnce_CallsOptimize(t *testing.T) {
	store := &maintainedStore{deleted: 3}
	j := New(store, Config{Schedule: "@daily", Horizon: time.Hour}, slog.Default())

	_, err := j.RunOnce(context.Background())
	require.NoError(t, err)
	assert.True(t, store.optimized, "Optimize should run after a prune that deleted rows")
}

// maintainedStore counts Optimize calls to verify post-prune housekeeping.
type maintainedStore struct {
	deleted   int64
	optimized bool
}

func (s *maintainedStore) DeleteOldBuildData(ctx context.Context, olderThan time.Time) (int64, error) {
	return s.deleted, nil
}

func (s *maintainedStore) Optimize(ctx context.Context) error {
	s.optimized = true
	return nil
}
