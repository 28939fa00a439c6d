// Package janitor prunes old build data on a schedule.
//
// Build data values can be large, and nothing else removes them once a build
// is done. The janitor periodically deletes data belonging to builds that
// completed before a configured horizon, then lets the store refresh its
// planner statistics.
package janitor

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/robfig/cron/v3"
)

// Store is the slice of the database the janitor needs.
type Store interface {
	DeleteOldBuildData(ctx context.Context, olderThan time.Time) (int64, error)
}

// Maintainer is optionally implemented by stores that support post-prune
// housekeeping (SQLite's PRAGMA optimize).
type Maintainer interface {
	Optimize(ctx context.Context) error
}

// Config holds janitor settings.
type Config struct {
	// Schedule is a cron expression (robfig/cron syntax, e.g. "@daily").
	Schedule string
	// Horizon is how long build data is kept after a build completes.
	Horizon time.Duration
}

// Janitor runs scheduled retention pruning against a Store.
type Janitor struct {
	store  Store
	cfg    Config
	logger *slog.Logger
	cron   *cron.Cron
	now    func() time.Time
}

// New creates a janitor. logger may be nil, in which case slog.Default is used.
func New(store Store, cfg Config, logger *slog.Logger) *Janitor {
	if logger == nil {
		logger = slog.Default()
	}
	return &Janitor{
		store:  store,
		cfg:    cfg,
		logger: logger,
		cron:   cron.New(),
		now:    time.Now,
	}
}

// Start registers the schedule and starts the cron loop.
func (j *Janitor) Start() error {
	_, err := j.cron.AddFunc(j.cfg.Schedule, func() {
		if _, err := j.RunOnce(context.Background()); err != nil {
			j.logger.Error("build data prune failed", "error", err)
		}
	})
	if err != nil {
		return fmt.Errorf("invalid janitor schedule %q: %w", j.cfg.Schedule, err)
	}

	j.cron.Start()
	j.logger.Info("janitor started", "schedule", j.cfg.Schedule, "horizon", j.cfg.Horizon)
	return nil
}

// Stop stops the cron loop and waits for a running job to finish.
func (j *Janitor) Stop() {
	<-j.cron.Stop().Done()
	j.logger.Info("janitor stopped")
}

// RunOnce prunes build data older than the horizon and returns the number of
// rows removed.
func (j *Janitor) RunOnce(ctx context.Context) (int64, error) {
	olderThan := j.now().Add(-j.cfg.Horizon)

	deleted, err := j.store.DeleteOldBuildData(ctx, olderThan)
	if err != nil {
		return 0, fmt.Errorf("delete old build data: %w", err)
	}
	j.logger.Info("pruned build data", "deleted", deleted, "older_than", olderThan)

	if m, ok := j.store.(Maintainer); ok && deleted > 0 {
		if err := m.Optimize(ctx); err != nil {
			j.logger.Warn("post-prune optimize failed", "error", err)
		}
	}

	return deleted, nil
}
