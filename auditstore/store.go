// Package auditstore persists blob audit records in SQLite.
//
// One row is written per handled blob event: Processed on success, Skipped
// when the object is gone from the store, Failed when the event itself is
// unusable. A partial unique index over (Container, BlobName, EventTime)
// guarantees at most one Processed row per event identity, which is what
// makes redeliveries and concurrent duplicate handling safe.
package auditstore

import (
	"context"
	"database/sql"
	"fmt"
	"net/url"
	"time"

	_ "modernc.org/sqlite"

	"github.com/itsBaivab/edi-file-processor/errors"
)

const (
	busyTimeoutMS   = 5000
	maxOpenConns    = 1
	maxIdleConns    = 1
	connMaxLifetime = 5 * time.Minute
)

// Store wraps the SQLite database holding the BlobAudit table.
type Store struct {
	db *sql.DB
}

// Open opens the SQLite database at path and bootstraps the schema.
// Opening an already-initialized database applies only pending migrations,
// so restarts and repeated initialization are safe.
func Open(path string) (*Store, error) {
	dsn, err := sqliteDSN(path)
	if err != nil {
		return nil, errors.WrapInvalid(err, "AuditStore", "Open", "build DSN")
	}
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, errors.WrapTransient(err, "AuditStore", "Open", "open database")
	}

	if err := configureDB(db); err != nil {
		_ = db.Close()
		return nil, errors.WrapTransient(err, "AuditStore", "Open", "configure database")
	}
	if err := runMigrations(db); err != nil {
		_ = db.Close()
		return nil, errors.Wrap(err, "AuditStore", "Open", "run migrations")
	}

	return &Store{db: db}, nil
}

// Close closes the underlying database connection.
func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

// SchemaVersion returns the highest applied migration version.
func (s *Store) SchemaVersion(ctx context.Context) (int, error) {
	var version int
	err := s.db.QueryRowContext(ctx, "SELECT COALESCE(MAX(version), 0) FROM schema_migrations").Scan(&version)
	if err != nil {
		return 0, errors.WrapTransient(err, "AuditStore", "SchemaVersion", "query schema_migrations")
	}
	return version, nil
}

func configureDB(db *sql.DB) error {
	pragmas := []string{
		"PRAGMA journal_mode = WAL;",
		"PRAGMA synchronous = NORMAL;",
		"PRAGMA foreign_keys = ON;",
		fmt.Sprintf("PRAGMA busy_timeout = %d;", busyTimeoutMS),
	}
	for _, stmt := range pragmas {
		if _, err := db.Exec(stmt); err != nil {
			return err
		}
	}

	// Tune connection pool for a single-writer workload.
	db.SetMaxOpenConns(maxOpenConns)
	db.SetMaxIdleConns(maxIdleConns)
	db.SetConnMaxLifetime(connMaxLifetime)

	return nil
}

func sqliteDSN(path string) (string, error) {
	if path == "" {
		return "", fmt.Errorf("db path is required")
	}
	u := url.URL{Scheme: "file", Path: path}
	return u.String(), nil
}
