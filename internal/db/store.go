package db

import (
	"context"
	"time"
)

// BuildsStore is the accessor surface for the builds table and its
// properties. Implemented by MasterDB and by fakedb for unit tests.
type BuildsStore interface {
	AddBuild(ctx context.Context, b NewBuild) (id int64, number int, err error)
	GetBuild(ctx context.Context, buildID int64) (*Build, error)
	GetBuildByNumber(ctx context.Context, builderID int64, number int) (*Build, error)
	GetBuilds(ctx context.Context, filter BuildsFilter) ([]Build, error)
	SetBuildStateString(ctx context.Context, buildID int64, state string) error
	FinishBuild(ctx context.Context, buildID int64, results int) error
	AddBuildLocksDuration(ctx context.Context, buildID int64, d time.Duration) error

	GetBuildProperties(ctx context.Context, buildID int64) (map[string]Property, error)
	SetBuildProperty(ctx context.Context, buildID int64, name string, value any, source string) error
}

// BuildDataStore is the accessor surface for the build_data key/value table.
// Implemented by MasterDB and by fakedb for unit tests.
type BuildDataStore interface {
	SetBuildData(ctx context.Context, buildID int64, name string, value []byte, source string) error
	GetBuildData(ctx context.Context, buildID int64, name string) (*BuildData, error)
	GetBuildDataNoValue(ctx context.Context, buildID int64, name string) (*BuildData, error)
	ListBuildDataNoValues(ctx context.Context, buildID int64) ([]BuildData, error)
	DeleteOldBuildData(ctx context.Context, olderThan time.Time) (int64, error)
}
