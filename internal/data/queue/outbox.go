// Package queue keeps commit events that could not be published in a
// durable sqlite outbox until a retry delivers them.
package queue

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"
)

const sqliteDriverName = "sqlite"

// Message is one spooled event.
type Message struct {
	ID        int64
	Subject   string
	Payload   []byte
	Attempts  int
	CreatedAt time.Time
	LastError string
}

type Outbox struct {
	db  *sql.DB
	now func() time.Time
}

func OpenOutbox(path string) (*Outbox, error) {
	cleanPath := strings.TrimSpace(path)
	if cleanPath == "" {
		return nil, fmt.Errorf("outbox path must not be empty")
	}
	if info, err := os.Stat(cleanPath); err == nil && info.IsDir() {
		return nil, fmt.Errorf("outbox path %q is a directory", cleanPath)
	}

	dir := filepath.Dir(cleanPath)
	if dir != "" && dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create outbox directory %q: %w", dir, err)
		}
	}

	dsn := fmt.Sprintf("file:%s?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)", cleanPath)
	db, err := sql.Open(sqliteDriverName, dsn)
	if err != nil {
		return nil, fmt.Errorf("open outbox sqlite %q: %w", cleanPath, err)
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)
	db.SetConnMaxIdleTime(0)

	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping outbox sqlite %q: %w", cleanPath, err)
	}
	if err := migrateOutboxSchema(db); err != nil {
		_ = db.Close()
		return nil, err
	}
	return &Outbox{db: db, now: time.Now}, nil
}

func (o *Outbox) Enqueue(ctx context.Context, subject string, payload []byte) error {
	if o == nil || o.db == nil {
		return fmt.Errorf("outbox not initialized")
	}
	now := o.now().UTC().UnixMilli()
	_, err := o.db.ExecContext(ctx, `
INSERT INTO notify_outbox (subject, payload, attempts, next_attempt_at, created_at, last_error)
VALUES (?, ?, 0, ?, ?, '')
`, subject, payload, now, now)
	if err != nil {
		return fmt.Errorf("enqueue outbox message: %w", err)
	}
	return nil
}

// DequeueBatch returns up to maxItems messages that are due, oldest first.
// Messages stay in the outbox until acked.
func (o *Outbox) DequeueBatch(ctx context.Context, maxItems int) ([]Message, error) {
	if o == nil || o.db == nil {
		return nil, fmt.Errorf("outbox not initialized")
	}
	if maxItems <= 0 {
		maxItems = 1
	}
	now := o.now().UTC().UnixMilli()
	rows, err := o.db.QueryContext(ctx, `
SELECT id, subject, payload, attempts, created_at, last_error
FROM notify_outbox
WHERE next_attempt_at <= ?
ORDER BY id ASC
LIMIT ?
`, now, maxItems)
	if err != nil {
		return nil, fmt.Errorf("dequeue outbox batch: %w", err)
	}
	defer rows.Close()

	out := make([]Message, 0, maxItems)
	for rows.Next() {
		var (
			m       Message
			created int64
		)
		if err := rows.Scan(&m.ID, &m.Subject, &m.Payload, &m.Attempts, &created, &m.LastError); err != nil {
			return nil, fmt.Errorf("scan outbox row: %w", err)
		}
		m.CreatedAt = time.UnixMilli(created).UTC()
		out = append(out, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate outbox rows: %w", err)
	}
	return out, nil
}

// Ack deletes delivered messages.
func (o *Outbox) Ack(ctx context.Context, ids []int64) error {
	if o == nil || o.db == nil {
		return fmt.Errorf("outbox not initialized")
	}
	if len(ids) == 0 {
		return nil
	}
	tx, err := o.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin outbox ack tx: %w", err)
	}
	stmt, err := tx.PrepareContext(ctx, `DELETE FROM notify_outbox WHERE id = ?`)
	if err != nil {
		_ = tx.Rollback()
		return fmt.Errorf("prepare outbox ack: %w", err)
	}
	defer stmt.Close()
	for _, id := range ids {
		if _, err := stmt.ExecContext(ctx, id); err != nil {
			_ = tx.Rollback()
			return fmt.Errorf("ack outbox row %d: %w", id, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit outbox ack tx: %w", err)
	}
	return nil
}

// Nack counts a failed attempt and defers each message to nextAttemptAt.
func (o *Outbox) Nack(ctx context.Context, msgs []Message, nextAttemptAt time.Time, lastErr string) error {
	if o == nil || o.db == nil {
		return fmt.Errorf("outbox not initialized")
	}
	if len(msgs) == 0 {
		return nil
	}
	nextMS := nextAttemptAt.UTC().UnixMilli()
	tx, err := o.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin outbox nack tx: %w", err)
	}
	stmt, err := tx.PrepareContext(ctx, `
UPDATE notify_outbox
SET attempts = ?, next_attempt_at = ?, last_error = ?
WHERE id = ?
`)
	if err != nil {
		_ = tx.Rollback()
		return fmt.Errorf("prepare outbox nack: %w", err)
	}
	defer stmt.Close()
	for _, m := range msgs {
		if _, err := stmt.ExecContext(ctx, m.Attempts+1, nextMS, lastErr, m.ID); err != nil {
			_ = tx.Rollback()
			return fmt.Errorf("nack outbox row %d: %w", m.ID, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit outbox nack tx: %w", err)
	}
	return nil
}

// DropExhausted deletes messages that have failed maxAttempts times or more.
func (o *Outbox) DropExhausted(ctx context.Context, maxAttempts int) (int, error) {
	if o == nil || o.db == nil {
		return 0, fmt.Errorf("outbox not initialized")
	}
	res, err := o.db.ExecContext(ctx, `DELETE FROM notify_outbox WHERE attempts >= ?`, maxAttempts)
	if err != nil {
		return 0, fmt.Errorf("drop exhausted outbox rows: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("count dropped outbox rows: %w", err)
	}
	return int(n), nil
}

func (o *Outbox) PendingCount(ctx context.Context) (int, error) {
	if o == nil || o.db == nil {
		return 0, fmt.Errorf("outbox not initialized")
	}
	var count int
	if err := o.db.QueryRowContext(ctx, `SELECT COUNT(1) FROM notify_outbox`).Scan(&count); err != nil {
		return 0, fmt.Errorf("count outbox rows: %w", err)
	}
	return count, nil
}

func (o *Outbox) Close() error {
	if o == nil || o.db == nil {
		return nil
	}
	return o.db.Close()
}
