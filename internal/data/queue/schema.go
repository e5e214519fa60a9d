package queue

import (
	"database/sql"
	"fmt"
)

func migrateOutboxSchema(db *sql.DB) error {
	if db == nil {
		return fmt.Errorf("outbox db is nil")
	}
	_, err := db.Exec(`
CREATE TABLE IF NOT EXISTS notify_outbox (
  id INTEGER PRIMARY KEY AUTOINCREMENT,
  subject TEXT NOT NULL,
  payload BLOB NOT NULL,
  attempts INTEGER NOT NULL DEFAULT 0,
  next_attempt_at INTEGER NOT NULL,
  created_at INTEGER NOT NULL,
  last_error TEXT NOT NULL DEFAULT ''
);
CREATE INDEX IF NOT EXISTS idx_notify_outbox_next ON notify_outbox(next_attempt_at, id);
`)
	if err != nil {
		return fmt.Errorf("migrate outbox schema: %w", err)
	}
	return nil
}
