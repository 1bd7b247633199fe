// Package db provides shared SQLite database utilities: connection
// setup with WAL pragmas and timestamp-versioned migrations.
package db

import (
	"context"
	"os"
	"path/filepath"
	"strings"

	"github.com/jmoiron/sqlx"
	"github.com/pkg/errors"
	_ "modernc.org/sqlite"
)

// DefaultDBPath returns the default path of the governance database.
func DefaultDBPath() (string, error) {
	if basePath := os.Getenv("SKILLGATE_BASE_PATH"); basePath != "" {
		return filepath.Join(basePath, "governance.db"), nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", errors.Wrap(err, "failed to get home directory")
	}
	return filepath.Join(home, ".skillgate", "governance.db"), nil
}

// Open opens or creates a SQLite database at dbPath and applies the
// WAL configuration.
func Open(ctx context.Context, dbPath string) (*sqlx.DB, error) {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0o755); err != nil {
		return nil, errors.Wrap(err, "failed to create database directory")
	}

	conn, err := sqlx.Open("sqlite", dbPath)
	if err != nil {
		return nil, errors.Wrap(err, "failed to open database")
	}

	if err := conn.Ping(); err != nil {
		conn.Close()
		return nil, errors.Wrap(err, "failed to ping database")
	}

	if err := Configure(ctx, conn); err != nil {
		conn.Close()
		return nil, errors.Wrap(err, "failed to configure database")
	}

	return conn, nil
}

// Configure applies the SQLite pragmas for WAL mode operation. The
// connection pool is pinned to a single connection; sqlite serializes
// writers anyway and a single connection avoids SQLITE_BUSY churn.
func Configure(ctx context.Context, conn *sqlx.DB) error {
	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA synchronous=NORMAL",
		"PRAGMA cache_size=1000",
		"PRAGMA temp_store=memory",
		"PRAGMA busy_timeout=5000",
		"PRAGMA foreign_keys=ON",
	}

	for _, pragma := range pragmas {
		if _, err := conn.ExecContext(ctx, pragma); err != nil {
			return errors.Wrapf(err, "failed to execute pragma: %s", pragma)
		}
	}

	conn.SetMaxIdleConns(1)
	conn.SetMaxOpenConns(1)

	var journalMode string
	if err := conn.QueryRowContext(ctx, "PRAGMA journal_mode").Scan(&journalMode); err != nil {
		return errors.Wrap(err, "failed to query journal mode")
	}
	if strings.ToLower(journalMode) != "wal" {
		return errors.Errorf("WAL mode not enabled, current mode: %s", journalMode)
	}

	return nil
}

// RunMigrations opens the default database and applies all pending
// migrations. Called once at startup.
func RunMigrations(ctx context.Context, migrations []Migration) error {
	dbPath, err := DefaultDBPath()
	if err != nil {
		return err
	}

	conn, err := Open(ctx, dbPath)
	if err != nil {
		return err
	}
	defer conn.Close()

	return NewMigrationRunner(conn).Run(ctx, migrations)
}

// GetMigrationStatus returns the applied migration versions of the
// default database in order.
func GetMigrationStatus(ctx context.Context) ([]int64, error) {
	dbPath, err := DefaultDBPath()
	if err != nil {
		return nil, err
	}

	conn, err := Open(ctx, dbPath)
	if err != nil {
		return nil, err
	}
	defer conn.Close()

	return NewMigrationRunner(conn).GetAppliedVersions(ctx)
}

// RollbackMigration reverts the most recently applied migration of the
// default database.
func RollbackMigration(ctx context.Context, migrations []Migration) error {
	dbPath, err := DefaultDBPath()
	if err != nil {
		return err
	}

	conn, err := Open(ctx, dbPath)
	if err != nil {
		return err
	}
	defer conn.Close()

	return NewMigrationRunner(conn).Rollback(ctx, migrations)
}

// VerifyConfiguration checks that the connection has the expected WAL
// configuration applied.
func VerifyConfiguration(conn *sqlx.DB) error {
	var journalMode string
	if err := conn.Get(&journalMode, "PRAGMA journal_mode"); err != nil {
		return errors.Wrap(err, "failed to query journal mode")
	}
	if strings.ToLower(journalMode) != "wal" {
		return errors.Errorf("expected WAL mode, got %s", journalMode)
	}

	var synchronous string
	if err := conn.Get(&synchronous, "PRAGMA synchronous"); err != nil {
		return errors.Wrap(err, "failed to query synchronous mode")
	}
	if synchronous != "1" {
		return errors.Errorf("expected NORMAL synchronous mode, got %s", synchronous)
	}

	var foreignKeys string
	if err := conn.Get(&foreignKeys, "PRAGMA foreign_keys"); err != nil {
		return errors.Wrap(err, "failed to query foreign keys")
	}
	if foreignKeys != "1" {
		return errors.Errorf("expected foreign keys ON, got %s", foreignKeys)
	}

	return nil
}
