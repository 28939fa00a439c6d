package db

import (
	"testing"
)

// NewTestMasterDB creates an in-memory master database for testing.
// The database is automatically closed when the test completes.
// Schema migrations are applied automatically.
func NewTestMasterDB(t testing.TB) *MasterDB {
	t.Helper()

	mdb, err := OpenMasterInMemory()
	if err != nil {
		t.Fatalf("create test master db: %v", err)
	}

	t.Cleanup(func() {
		_ = mdb.Close()
	})

	return mdb
}
