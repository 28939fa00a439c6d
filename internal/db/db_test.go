package db

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/forgebuild/forge/internal/db/driver"
)

func TestMigrate_CreatesTables(t *testing.T) {
	tmpDir := t.TempDir()
	dbPath := filepath.Join(tmpDir, ".forge", "forge.db")

	db, err := Open(dbPath)
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	defer func() { _ = db.Close() }()

	if err := db.Migrate("master"); err != nil {
		t.Fatalf("Migrate master failed: %v", err)
	}

	tables := []string{"masters", "builders", "workers", "buildrequests", "builds", "build_properties", "build_data"}
	for _, table := range tables {
		var name string
		err := db.QueryRow("SELECT name FROM sqlite_master WHERE type='table' AND name=?", table).Scan(&name)
		if err != nil {
			t.Errorf("table %s not created: %v", table, err)
		}
	}

	indexes := []string{
		"builds_number",
		"builds_complete_at",
		"build_properties_buildid_name",
		"build_data_buildid_name",
	}
	for _, idx := range indexes {
		var name string
		err := db.QueryRow("SELECT name FROM sqlite_master WHERE type='index' AND name=?", idx).Scan(&name)
		if err != nil {
			t.Errorf("index %s not created: %v", idx, err)
		}
	}
}

func TestMigrate_Idempotent(t *testing.T) {
	tmpDir := t.TempDir()
	dbPath := filepath.Join(tmpDir, ".forge", "forge.db")

	db, err := Open(dbPath)
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	defer func() { _ = db.Close() }()

	if err := db.Migrate("master"); err != nil {
		t.Fatalf("First Migrate failed: %v", err)
	}

	// Second migration should not fail
	if err := db.Migrate("master"); err != nil {
		t.Fatalf("Second Migrate (idempotent) failed: %v", err)
	}
}

func TestOpenMasterInMemory(t *testing.T) {
	mdb, err := OpenMasterInMemory()
	if err != nil {
		t.Fatalf("OpenMasterInMemory failed: %v", err)
	}
	defer func() { _ = mdb.Close() }()

	if mdb.Dialect() != driver.DialectSQLite {
		t.Errorf("expected sqlite dialect, got %s", mdb.Dialect())
	}
}

func TestRebind(t *testing.T) {
	tests := []struct {
		dialect driver.Dialect
		query   string
		want    string
	}{
		{driver.DialectSQLite, "SELECT * FROM builds WHERE id = ?", "SELECT * FROM builds WHERE id = ?"},
		{driver.DialectPostgres, "SELECT * FROM builds WHERE id = ?", "SELECT * FROM builds WHERE id = $1"},
		{driver.DialectPostgres, "UPDATE builds SET a = ?, b = ? WHERE id = ?", "UPDATE builds SET a = $1, b = $2 WHERE id = $3"},
		{driver.DialectPostgres, "SELECT 1", "SELECT 1"},
	}

	for _, tt := range tests {
		if got := rebind(tt.dialect, tt.query); got != tt.want {
			t.Errorf("rebind(%s, %q) = %q, want %q", tt.dialect, tt.query, got, tt.want)
		}
	}
}

func TestMasterDB_RunInTx_Rollback(t *testing.T) {
	mdb := NewTestMasterDB(t)
	ctx := context.Background()

	builderID, err := mdb.FindBuilderID(ctx, "runner")
	if err != nil {
		t.Fatalf("FindBuilderID failed: %v", err)
	}

	wantErr := "boom"
	err = mdb.RunInTx(ctx, func(tx *TxOps) error {
		if _, err := tx.Exec("UPDATE builders SET description = ? WHERE id = ?", "changed", builderID); err != nil {
			return err
		}
		return errNamed(wantErr)
	})
	if err == nil || err.Error() != wantErr {
		t.Fatalf("expected %q from RunInTx, got %v", wantErr, err)
	}

	b, err := mdb.GetBuilder(ctx, builderID)
	if err != nil {
		t.Fatalf("GetBuilder failed: %v", err)
	}
	if b.Description != nil {
		t.Errorf("description should have rolled back, got %q", *b.Description)
	}
}

type errNamed string

func (e errNamed) Error() string { return string(e) }
