package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/forgebuild/forge/internal/db/driver"
)

// ErrNotFound is returned when a requested row does not exist.
var ErrNotFound = errors.New("not found")

// TxRunner provides a transactional execution interface.
// This allows operations to run within a transaction context,
// ensuring atomicity of multi-table operations.
type TxRunner interface {
	// RunInTx executes the given function within a transaction.
	// If fn returns an error, the transaction is rolled back.
	// If fn returns nil, the transaction is committed.
	RunInTx(ctx context.Context, fn func(tx *TxOps) error) error
}

// TxOps provides database operations within a transaction.
// It wraps a driver.Tx to provide the same interface as MasterDB
// but executes all operations within the transaction.
// The context is stored and used for all operations, enabling cancellation
// and timeout propagation through the entire transaction.
type TxOps struct {
	tx      driver.Tx
	dialect driver.Dialect
	ctx     context.Context
}

// Exec executes a query within the transaction.
func (t *TxOps) Exec(query string, args ...any) (sql.Result, error) {
	return t.tx.Exec(t.ctx, rebind(t.dialect, query), args...)
}

// Query executes a query that returns rows within the transaction.
func (t *TxOps) Query(query string, args ...any) (*sql.Rows, error) {
	return t.tx.Query(t.ctx, rebind(t.dialect, query), args...)
}

// QueryRow executes a query that returns at most one row within the transaction.
func (t *TxOps) QueryRow(query string, args ...any) *sql.Row {
	return t.tx.QueryRow(t.ctx, rebind(t.dialect, query), args...)
}

// Context returns the context associated with this transaction.
func (t *TxOps) Context() context.Context {
	return t.ctx
}

// Dialect returns the database dialect.
func (t *TxOps) Dialect() driver.Dialect {
	return t.dialect
}

// MasterDB provides operations on the master database.
type MasterDB struct {
	*DB

	// insertRaceHook runs between the update and insert halves of an upsert
	// so tests can interleave a competing insert.
	insertRaceHook func(ctx context.Context)
}

// OpenMaster opens the master database at the given path using SQLite.
func OpenMaster(path string) (*MasterDB, error) {
	db, err := Open(path)
	if err != nil {
		return nil, err
	}

	if err := db.Migrate("master"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("migrate master db: %w", err)
	}

	return &MasterDB{DB: db}, nil
}

// OpenMasterDefault opens the master database at ~/.forge/forge.db using SQLite.
func OpenMasterDefault() (*MasterDB, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return nil, fmt.Errorf("get home dir: %w", err)
	}

	return OpenMaster(filepath.Join(home, ".forge", "forge.db"))
}

// OpenMasterWithDialect opens the master database with a specific dialect.
// For SQLite, dsn is the file path. For PostgreSQL, dsn is the connection string.
func OpenMasterWithDialect(dsn string, dialect driver.Dialect) (*MasterDB, error) {
	db, err := OpenWithDialect(dsn, dialect)
	if err != nil {
		return nil, err
	}

	if err := db.Migrate("master"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("migrate master db: %w", err)
	}

	return &MasterDB{DB: db}, nil
}

// OpenMasterInMemory opens an in-memory master database for testing.
func OpenMasterInMemory() (*MasterDB, error) {
	db, err := OpenInMemory()
	if err != nil {
		return nil, err
	}

	if err := db.Migrate("master"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("migrate master db: %w", err)
	}

	return &MasterDB{DB: db}, nil
}

// RunInTx executes the given function within a database transaction.
// If fn returns an error, the transaction is rolled back.
// If fn returns nil, the transaction is committed.
func (m *MasterDB) RunInTx(ctx context.Context, fn func(tx *TxOps) error) error {
	tx, err := m.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}

	txOps := &TxOps{
		tx:      tx,
		dialect: m.Dialect(),
		ctx:     ctx,
	}

	if err := fn(txOps); err != nil {
		if rbErr := tx.Rollback(); rbErr != nil {
			return fmt.Errorf("rollback failed: %w (original error: %v)", rbErr, err)
		}
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit transaction: %w", err)
	}

	return nil
}

// Ensure MasterDB implements TxRunner
var _ TxRunner = (*MasterDB)(nil)

// Optimize refreshes SQLite planner statistics. No-op on other dialects.
func (m *MasterDB) Optimize(ctx context.Context) error {
	if m.Dialect() != driver.DialectSQLite {
		return nil
	}
	if _, err := m.ExecContext(ctx, "PRAGMA optimize"); err != nil {
		return fmt.Errorf("optimize database: %w", err)
	}
	return nil
}

// Vacuum rebuilds the SQLite database file to reclaim unused space.
// No-op on other dialects.
func (m *MasterDB) Vacuum(ctx context.Context) error {
	if m.Dialect() != driver.DialectSQLite {
		return nil
	}
	if _, err := m.ExecContext(ctx, "VACUUM"); err != nil {
		return fmt.Errorf("vacuum database: %w", err)
	}
	return nil
}
