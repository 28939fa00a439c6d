package db

import (
	"bytes"
	"context"
	"testing"
	"time"
)

func TestSetBuildData_InsertAndGet(t *testing.T) {
	mdb := NewTestMasterDB(t)
	ctx := context.Background()
	id := seedBuild(t, mdb)

	value := []byte("test/sample.json content")
	if err := mdb.SetBuildData(ctx, id, "results.json", value, "step"); err != nil {
		t.Fatalf("SetBuildData failed: %v", err)
	}

	d, err := mdb.GetBuildData(ctx, id, "results.json")
	if err != nil {
		t.Fatalf("GetBuildData failed: %v", err)
	}
	if d == nil {
		t.Fatal("GetBuildData returned nil for existing datum")
	}
	if d.BuildID != id || d.Name != "results.json" || d.Source != "step" {
		t.Errorf("unexpected datum: %+v", d)
	}
	if !bytes.Equal(d.Value, value) {
		t.Errorf("value = %q, want %q", d.Value, value)
	}
	if d.Length != int64(len(value)) {
		t.Errorf("length = %d, want %d", d.Length, len(value))
	}
}

func TestSetBuildData_Overwrites(t *testing.T) {
	mdb := NewTestMasterDB(t)
	ctx := context.Background()
	id := seedBuild(t, mdb)

	if err := mdb.SetBuildData(ctx, id, "log", []byte("first"), "step"); err != nil {
		t.Fatalf("SetBuildData failed: %v", err)
	}
	if err := mdb.SetBuildData(ctx, id, "log", []byte("second, longer"), "worker"); err != nil {
		t.Fatalf("SetBuildData overwrite failed: %v", err)
	}

	d, err := mdb.GetBuildData(ctx, id, "log")
	if err != nil {
		t.Fatalf("GetBuildData failed: %v", err)
	}
	if string(d.Value) != "second, longer" {
		t.Errorf("value = %q, want overwrite to win", d.Value)
	}
	if d.Length != int64(len("second, longer")) {
		t.Errorf("length = %d, want %d", d.Length, len("second, longer"))
	}
	if d.Source != "worker" {
		t.Errorf("source = %q, want %q", d.Source, "worker")
	}

	// Still exactly one row under the name
	all, err := mdb.ListBuildDataNoValues(ctx, id)
	if err != nil {
		t.Fatalf("ListBuildDataNoValues failed: %v", err)
	}
	if len(all) != 1 {
		t.Errorf("expected 1 datum, got %d", len(all))
	}
}

func TestSetBuildData_RaceRetries(t *testing.T) {
	mdb := NewTestMasterDB(t)
	ctx := context.Background()
	id := seedBuild(t, mdb)

	// A competing writer inserts between our update and insert. The insert
	// hits the unique index and the update must be retried.
	mdb.insertRaceHook = func(ctx context.Context) {
		mdb.insertRaceHook = nil
		_, err := mdb.ExecContext(ctx, `
			INSERT INTO build_data (buildid, name, value, length, source)
			VALUES (?, ?, ?, ?, ?)
		`, id, "contested", []byte("theirs"), 6, "competitor")
		if err != nil {
			t.Errorf("competing insert failed: %v", err)
		}
	}

	if err := mdb.SetBuildData(ctx, id, "contested", []byte("ours"), "step"); err != nil {
		t.Fatalf("SetBuildData failed: %v", err)
	}

	d, err := mdb.GetBuildData(ctx, id, "contested")
	if err != nil {
		t.Fatalf("GetBuildData failed: %v", err)
	}
	if string(d.Value) != "ours" || d.Source != "step" {
		t.Errorf("datum = %+v, want our write to win", d)
	}
}

func TestSetBuildData_UnknownBuild(t *testing.T) {
	mdb := NewTestMasterDB(t)

	// The foreign key failure must surface as an error, not be mistaken
	// for a lost insert race and retried.
	err := mdb.SetBuildData(context.Background(), 424242, "log", []byte("x"), "step")
	if err == nil {
		t.Fatal("expected error for unknown build id")
	}
}

func TestGetBuildData_Missing(t *testing.T) {
	mdb := NewTestMasterDB(t)
	ctx := context.Background()
	id := seedBuild(t, mdb)

	d, err := mdb.GetBuildData(ctx, id, "absent")
	if err != nil {
		t.Fatalf("GetBuildData failed: %v", err)
	}
	if d != nil {
		t.Errorf("expected nil for missing datum, got %+v", d)
	}

	d, err = mdb.GetBuildDataNoValue(ctx, id, "absent")
	if err != nil {
		t.Fatalf("GetBuildDataNoValue failed: %v", err)
	}
	if d != nil {
		t.Errorf("expected nil for missing datum, got %+v", d)
	}
}

func TestGetBuildDataNoValue(t *testing.T) {
	mdb := NewTestMasterDB(t)
	ctx := context.Background()
	id := seedBuild(t, mdb)

	value := []byte("a fairly large blob")
	if err := mdb.SetBuildData(ctx, id, "artifact", value, "step"); err != nil {
		t.Fatalf("SetBuildData failed: %v", err)
	}

	d, err := mdb.GetBuildDataNoValue(ctx, id, "artifact")
	if err != nil {
		t.Fatalf("GetBuildDataNoValue failed: %v", err)
	}
	if d == nil {
		t.Fatal("GetBuildDataNoValue returned nil for existing datum")
	}
	if d.Value != nil {
		t.Errorf("value should not be fetched, got %q", d.Value)
	}
	if d.Length != int64(len(value)) {
		t.Errorf("length = %d, want %d", d.Length, len(value))
	}
	if d.Source != "step" {
		t.Errorf("source = %q, want %q", d.Source, "step")
	}
}

func TestListBuildDataNoValues(t *testing.T) {
	mdb := NewTestMasterDB(t)
	ctx := context.Background()
	id := seedBuild(t, mdb)

	for _, name := range []string{"b-log", "a-results", "c-trace"} {
		if err := mdb.SetBuildData(ctx, id, name, []byte(name+" value"), "step"); err != nil {
			t.Fatalf("SetBuildData failed: %v", err)
		}
	}

	data, err := mdb.ListBuildDataNoValues(ctx, id)
	if err != nil {
		t.Fatalf("ListBuildDataNoValues failed: %v", err)
	}
	if len(data) != 3 {
		t.Fatalf("expected 3 data, got %d", len(data))
	}

	wantOrder := []string{"a-results", "b-log", "c-trace"}
	for i, want := range wantOrder {
		if data[i].Name != want {
			t.Errorf("data[%d].Name = %q, want %q", i, data[i].Name, want)
		}
		if data[i].Value != nil {
			t.Errorf("data[%d] value should not be fetched", i)
		}
	}

	// Unknown build has no data
	empty, err := mdb.ListBuildDataNoValues(ctx, 9999)
	if err != nil {
		t.Fatalf("ListBuildDataNoValues failed: %v", err)
	}
	if len(empty) != 0 {
		t.Errorf("expected no data for unknown build, got %d", len(empty))
	}
}

func TestDeleteOldBuildData(t *testing.T) {
	mdb := NewTestMasterDB(t)
	ctx := context.Background()
	builderID, requestID, workerID, masterID := seedParents(t, mdb)

	nb := NewBuild{
		BuilderID:      builderID,
		BuildRequestID: requestID,
		WorkerID:       &workerID,
		MasterID:       masterID,
		StateString:    "created",
	}

	addBuild := func() int64 {
		id, _, err := mdb.AddBuild(ctx, nb)
		if err != nil {
			t.Fatalf("AddBuild failed: %v", err)
		}
		return id
	}
	oldBuild := addBuild()
	recentBuild := addBuild()
	runningBuild := addBuild()

	// oldBuild completed two days ago, recentBuild just now,
	// runningBuild is still going.
	twoDaysAgo := time.Now().Add(-48 * time.Hour).Unix()
	if _, err := mdb.ExecContext(ctx, `
		UPDATE builds SET complete_at = ?, results = 0 WHERE id = ?
	`, twoDaysAgo, oldBuild); err != nil {
		t.Fatalf("backdate build: %v", err)
	}
	if err := mdb.FinishBuild(ctx, recentBuild, 0); err != nil {
		t.Fatalf("FinishBuild failed: %v", err)
	}

	for _, id := range []int64{oldBuild, recentBuild, runningBuild} {
		if err := mdb.SetBuildData(ctx, id, "log", []byte("log data"), "step"); err != nil {
			t.Fatalf("SetBuildData failed: %v", err)
		}
		if err := mdb.SetBuildData(ctx, id, "results", []byte("{}"), "step"); err != nil {
			t.Fatalf("SetBuildData failed: %v", err)
		}
	}

	deleted, err := mdb.DeleteOldBuildData(ctx, time.Now().Add(-24*time.Hour))
	if err != nil {
		t.Fatalf("DeleteOldBuildData failed: %v", err)
	}
	if deleted != 2 {
		t.Errorf("deleted = %d, want 2", deleted)
	}

	// Old build's data is gone
	gone, err := mdb.ListBuildDataNoValues(ctx, oldBuild)
	if err != nil {
		t.Fatalf("ListBuildDataNoValues failed: %v", err)
	}
	if len(gone) != 0 {
		t.Errorf("old build still has %d data rows", len(gone))
	}

	// Recent and running builds keep theirs
	for _, id := range []int64{recentBuild, runningBuild} {
		kept, err := mdb.ListBuildDataNoValues(ctx, id)
		if err != nil {
			t.Fatalf("ListBuildDataNoValues failed: %v", err)
		}
		if len(kept) != 2 {
			t.Errorf("build %d has %d data rows, want 2", id, len(kept))
		}
	}

	// A second prune has nothing left to do
	deleted, err = mdb.DeleteOldBuildData(ctx, time.Now().Add(-24*time.Hour))
	if err != nil {
		t.Fatalf("DeleteOldBuildData failed: %v", err)
	}
	if deleted != 0 {
		t.Errorf("second prune deleted %d rows, want 0", deleted)
	}
}
