// Package fakedb provides a map-backed, in-memory implementation of the
// store interfaces for unit tests. Consumers that only need a BuildsStore or
// BuildDataStore can be tested without opening a real database.
package fakedb

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/forgebuild/forge/internal/db"
)

// FakeDB implements db.BuildsStore and db.BuildDataStore over maps.
// All methods are safe for concurrent use.
type FakeDB struct {
	mu        sync.Mutex
	nextID    int64
	builds    map[int64]db.Build
	props     map[int64]map[string]db.Property
	buildData map[int64]map[string]db.BuildData

	// Now is the clock used for started_at/complete_at stamps.
	// Defaults to time.Now; tests can pin it.
	Now func() time.Time
}

// New creates an empty fake store.
func New() *FakeDB {
	return &FakeDB{
		nextID:    100,
		builds:    make(map[int64]db.Build),
		props:     make(map[int64]map[string]db.Property),
		buildData: make(map[int64]map[string]db.BuildData),
		Now:       time.Now,
	}
}

// InsertBuild seeds a build row directly, bypassing number allocation.
// Returns the build id (taken from b.ID if nonzero).
func (f *FakeDB) InsertBuild(b db.Build) int64 {
	f.mu.Lock()
	defer f.mu.Unlock()

	if b.ID == 0 {
		b.ID = f.newID()
	} else if b.ID >= f.nextID {
		f.nextID = b.ID + 1
	}
	f.builds[b.ID] = cloneBuild(b)
	return b.ID
}

// newID returns the next unused build id. Callers hold f.mu.
func (f *FakeDB) newID() int64 {
	id := f.nextID
	f.nextID++
	return id
}

// cloneBuild copies a build row, giving the pointer fields their own
// backing values so callers cannot mutate stored state through them.
func cloneBuild(b db.Build) db.Build {
	if b.WorkerID != nil {
		w := *b.WorkerID
		b.WorkerID = &w
	}
	if b.CompleteAt != nil {
		t := *b.CompleteAt
		b.CompleteAt = &t
	}
	if b.Results != nil {
		r := *b.Results
		b.Results = &r
	}
	return b
}

// AddBuild allocates the next number for the builder and records the build.
func (f *FakeDB) AddBuild(ctx context.Context, b db.NewBuild) (int64, int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	number := 0
	for _, row := range f.builds {
		if row.BuilderID == b.BuilderID && row.Number > number {
			number = row.Number
		}
	}
	number++

	id := f.newID()
	f.builds[id] = cloneBuild(db.Build{
		ID:             id,
		Number:         number,
		BuilderID:      b.BuilderID,
		BuildRequestID: b.BuildRequestID,
		WorkerID:       b.WorkerID,
		MasterID:       b.MasterID,
		StartedAt:      f.Now().UTC(),
		StateString:    b.StateString,
	})
	return id, number, nil
}

// GetBuild retrieves a build by id. Returns nil if no such build exists.
func (f *FakeDB) GetBuild(ctx context.Context, buildID int64) (*db.Build, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	b, ok := f.builds[buildID]
	if !ok {
		return nil, nil
	}
	b = cloneBuild(b)
	return &b, nil
}

// GetBuildByNumber retrieves a build by builder and number.
// Returns nil if no such build exists.
func (f *FakeDB) GetBuildByNumber(ctx context.Context, builderID int64, number int) (*db.Build, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	for _, b := range f.builds {
		if b.BuilderID == builderID && b.Number == number {
			b := cloneBuild(b)
			return &b, nil
		}
	}
	return nil, nil
}

// GetBuilds retrieves builds matching the filter, oldest first.
func (f *FakeDB) GetBuilds(ctx context.Context, filter db.BuildsFilter) ([]db.Build, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	var builds []db.Build
	for _, b := range f.builds {
		if filter.BuilderID != 0 && b.BuilderID != filter.BuilderID {
			continue
		}
		if filter.BuildRequestID != 0 && b.BuildRequestID != filter.BuildRequestID {
			continue
		}
		if filter.WorkerID != 0 && (b.WorkerID == nil || *b.WorkerID != filter.WorkerID) {
			continue
		}
		if filter.Complete != nil && *filter.Complete != b.Complete() {
			continue
		}
		builds = append(builds, cloneBuild(b))
	}

	sort.Slice(builds, func(i, j int) bool { return builds[i].ID < builds[j].ID })
	return builds, nil
}

// SetBuildStateString updates the state string of a build if it exists.
func (f *FakeDB) SetBuildStateString(ctx context.Context, buildID int64, state string) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if b, ok := f.builds[buildID]; ok {
		b.StateString = state
		f.builds[buildID] = b
	}
	return nil
}

// FinishBuild marks a build complete if it exists.
func (f *FakeDB) FinishBuild(ctx context.Context, buildID int64, results int) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if b, ok := f.builds[buildID]; ok {
		now := f.Now().UTC()
		b.CompleteAt = &now
		b.Results = &results
		f.builds[buildID] = b
	}
	return nil
}

// AddBuildLocksDuration accumulates lock wait time on a build if it exists.
func (f *FakeDB) AddBuildLocksDuration(ctx context.Context, buildID int64, d time.Duration) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if b, ok := f.builds[buildID]; ok {
		b.LocksDurationS += int64(d.Seconds())
		f.builds[buildID] = b
	}
	return nil
}

// GetBuildProperties retrieves all properties of a build, keyed by name.
func (f *FakeDB) GetBuildProperties(ctx context.Context, buildID int64) (map[string]db.Property, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	props := make(map[string]db.Property, len(f.props[buildID]))
	for name, p := range f.props[buildID] {
		props[name] = p
	}
	return props, nil
}

// SetBuildProperty stores a property on a build.
func (f *FakeDB) SetBuildProperty(ctx context.Context, buildID int64, name string, value any, source string) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if _, ok := f.builds[buildID]; !ok {
		return fmt.Errorf("build %d does not exist", buildID)
	}
	if f.props[buildID] == nil {
		f.props[buildID] = make(map[string]db.Property)
	}
	f.props[buildID][name] = db.Property{Value: value, Source: source}
	return nil
}

// SetBuildData stores a datum for a build, overwriting any previous value.
func (f *FakeDB) SetBuildData(ctx context.Context, buildID int64, name string, value []byte, source string) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.buildData[buildID] == nil {
		f.buildData[buildID] = make(map[string]db.BuildData)
	}
	f.buildData[buildID][name] = db.BuildData{
		BuildID: buildID,
		Name:    name,
		Length:  int64(len(value)),
		Source:  source,
		Value:   append([]byte(nil), value...),
	}
	return nil
}

// GetBuildData retrieves a datum with its value.
// Returns nil if no datum exists under that name.
func (f *FakeDB) GetBuildData(ctx context.Context, buildID int64, name string) (*db.BuildData, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	d, ok := f.buildData[buildID][name]
	if !ok {
		return nil, nil
	}
	d.Value = append([]byte(nil), d.Value...)
	return &d, nil
}

// GetBuildDataNoValue retrieves a datum's metadata, with Value nil.
// Returns nil if no datum exists under that name.
func (f *FakeDB) GetBuildDataNoValue(ctx context.Context, buildID int64, name string) (*db.BuildData, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	d, ok := f.buildData[buildID][name]
	if !ok {
		return nil, nil
	}
	d.Value = nil
	return &d, nil
}

// ListBuildDataNoValues retrieves metadata for all data attached to a build.
func (f *FakeDB) ListBuildDataNoValues(ctx context.Context, buildID int64) ([]db.BuildData, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	var data []db.BuildData
	for _, d := range f.buildData[buildID] {
		d.Value = nil
		data = append(data, d)
	}

	sort.Slice(data, func(i, j int) bool { return data[i].Name < data[j].Name })
	return data, nil
}

// DeleteOldBuildData removes data of builds completed before olderThan.
// Data of incomplete builds is never removed.
func (f *FakeDB) DeleteOldBuildData(ctx context.Context, olderThan time.Time) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	var deleted int64
	for buildID, data := range f.buildData {
		b, ok := f.builds[buildID]
		if !ok || b.CompleteAt == nil || !b.CompleteAt.Before(olderThan) {
			continue
		}
		deleted += int64(len(data))
		delete(f.buildData, buildID)
	}
	return deleted, nil
}

var (
	_ db.BuildsStore    = (*FakeDB)(nil)
	_ db.BuildDataStore = (*FakeDB)(nil)
)
