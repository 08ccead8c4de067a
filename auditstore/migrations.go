package auditstore

import (
	"database/sql"
	"fmt"
	"sort"
)

// Migration represents a schema migration step.
type Migration struct {
	Version     int
	Description string
	SQL         string
}

// migrations is the ordered list of all schema migrations.
var migrations = []Migration{
	{
		Version:     1,
		Description: "initial schema: BlobAudit table and name lookup index",
		SQL: `
CREATE TABLE IF NOT EXISTS BlobAudit (
  Id INTEGER PRIMARY KEY AUTOINCREMENT,
  BlobName TEXT NOT NULL,
  BlobSize INTEGER NOT NULL DEFAULT 0 CHECK (BlobSize >= 0),
  ProcessedAt TEXT NOT NULL,
  ContentType TEXT,
  Status TEXT NOT NULL DEFAULT 'Processed'
);

CREATE INDEX IF NOT EXISTS idx_blobaudit_name_processed ON BlobAudit(BlobName, ProcessedAt DESC);
`,
	},
	{
		Version:     2,
		Description: "event identity columns and Processed uniqueness",
		SQL: `
ALTER TABLE BlobAudit ADD COLUMN Container TEXT NOT NULL DEFAULT '';
ALTER TABLE BlobAudit ADD COLUMN EventTime TEXT;
ALTER TABLE BlobAudit ADD COLUMN Note TEXT;

CREATE UNIQUE INDEX IF NOT EXISTS idx_blobaudit_identity
  ON BlobAudit(Container, BlobName, EventTime)
  WHERE Status = 'Processed';
`,
	},
	{
		Version:     3,
		Description: "status index for running totals",
		SQL: `
CREATE INDEX IF NOT EXISTS idx_blobaudit_status ON BlobAudit(Status);
`,
	},
}

const migrationsTableSQL = `
CREATE TABLE IF NOT EXISTS schema_migrations (
  version INTEGER PRIMARY KEY,
  applied_at TEXT NOT NULL
);
`

// ensureMigrationsTable creates the schema_migrations table if it doesn't exist.
func ensureMigrationsTable(db *sql.DB) error {
	_, err := db.Exec(migrationsTableSQL)
	return err
}

// currentVersion returns the highest applied migration version, or 0 if none.
func currentVersion(db *sql.DB) (int, error) {
	var version int
	err := db.QueryRow("SELECT COALESCE(MAX(version), 0) FROM schema_migrations").Scan(&version)
	if err != nil {
		return 0, err
	}
	return version, nil
}

// runMigrations applies all pending migrations in order, one transaction each.
func runMigrations(db *sql.DB) error {
	if err := ensureMigrationsTable(db); err != nil {
		return fmt.Errorf("create migrations table: %w", err)
	}

	current, err := currentVersion(db)
	if err != nil {
		return fmt.Errorf("get current version: %w", err)
	}

	sorted := make([]Migration, len(migrations))
	copy(sorted, migrations)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Version < sorted[j].Version })

	for _, m := range sorted {
		if m.Version <= current {
			continue
		}

		tx, err := db.Begin()
		if err != nil {
			return fmt.Errorf("begin migration %d: %w", m.Version, err)
		}

		if _, err := tx.Exec(m.SQL); err != nil {
			_ = tx.Rollback()
			return fmt.Errorf("apply migration %d (%s): %w", m.Version, m.Description, err)
		}

		if _, err := tx.Exec("INSERT INTO schema_migrations (version, applied_at) VALUES (?, datetime('now'))", m.Version); err != nil {
			_ = tx.Rollback()
			return fmt.Errorf("record migration %d: %w", m.Version, err)
		}

		if err := tx.Commit(); err != nil {
			return fmt.Errorf("commit migration %d: %w", m.Version, err)
		}
	}

	return nil
}
