package triplelog

import (
	"database/sql"
	"fmt"
)

// SchemaVersion is the highest migration this build understands.
const SchemaVersion = 2

type migration struct {
	version int
	sql     string
}

var migrations = []migration{
	{
		version: 1,
		sql: `
CREATE TABLE IF NOT EXISTS versions (
  dataset TEXT NOT NULL,
  version_id INTEGER NOT NULL,
  kind TEXT NOT NULL,
  changeset_id TEXT NOT NULL DEFAULT '',
  range_from INTEGER NOT NULL,
  range_to INTEGER NOT NULL,
  op_count INTEGER NOT NULL DEFAULT 0,
  created_at_utc TEXT NOT NULL,
  PRIMARY KEY (dataset, version_id)
);
CREATE TABLE IF NOT EXISTS triple_log (
  seq INTEGER PRIMARY KEY AUTOINCREMENT,
  dataset TEXT NOT NULL,
  version_id INTEGER NOT NULL,
  is_insertion INTEGER NOT NULL,
  subject TEXT NOT NULL,
  predicate TEXT NOT NULL,
  object TEXT NOT NULL,
  FOREIGN KEY (dataset, version_id) REFERENCES versions(dataset, version_id)
);
CREATE INDEX IF NOT EXISTS idx_triple_log_dataset_seq ON triple_log(dataset, seq);
`,
	},
	{
		version: 2,
		sql: `
ALTER TABLE versions ADD COLUMN origin TEXT NOT NULL DEFAULT 'commit';
ALTER TABLE versions ADD COLUMN reverts INTEGER NOT NULL DEFAULT 0;
CREATE INDEX IF NOT EXISTS idx_versions_created ON versions(created_at_utc);
`,
	},
}

func EnsureSchema(db *sql.DB) error {
	if _, err := db.Exec(`
CREATE TABLE IF NOT EXISTS schema_migrations (
  version INTEGER PRIMARY KEY,
  applied_at_utc TEXT NOT NULL DEFAULT (CURRENT_TIMESTAMP)
);
`); err != nil {
		return fmt.Errorf("create schema_migrations table: %w", err)
	}

	var current int
	if err := db.QueryRow(`SELECT COALESCE(MAX(version), 0) FROM schema_migrations`).Scan(&current); err != nil {
		return fmt.Errorf("read schema_migrations version: %w", err)
	}
	if current > SchemaVersion {
		return fmt.Errorf("schema version %d is newer than supported version %d", current, SchemaVersion)
	}

	for _, m := range migrations {
		if m.version <= current {
			continue
		}
		tx, err := db.Begin()
		if err != nil {
			return fmt.Errorf("begin migration %d: %w", m.version, err)
		}
		if _, err := tx.Exec(m.sql); err != nil {
			_ = tx.Rollback()
			return fmt.Errorf("apply migration %d: %w", m.version, err)
		}
		if _, err := tx.Exec(`INSERT INTO schema_migrations(version) VALUES (?)`, m.version); err != nil {
			_ = tx.Rollback()
			return fmt.Errorf("record migration %d: %w", m.version, err)
		}
		if err := tx.Commit(); err != nil {
			return fmt.Errorf("commit migration %d: %w", m.version, err)
		}
	}
	return nil
}
