// Package triplelog persists the triple log and the version table in sqlite.
// Each Append writes a version row and its log entries in one transaction,
// so a reopened store rebuilds exactly the committed history.
package triplelog

import (
	"context"
	"database/sql"
	stderrors "errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"vrdf/internal/core/errors"
	"vrdf/internal/engine/graph"
	"vrdf/internal/engine/ntriples"
	"vrdf/internal/engine/versions"

	_ "modernc.org/sqlite"
)

const (
	driverName  = "sqlite"
	maxAttempts = 5
	readerConns = 4

	// MemoryPath opens a private in-memory log.
	MemoryPath = ":memory:"
)

type Options struct {
	BusyTimeout time.Duration
}

// Store serializes appends through one writer connection. File-backed logs
// read through a separate query-only pool, so scans see the last committed
// snapshot while an append is in flight.
type Store struct {
	path   string
	db     *sql.DB
	reader *sql.DB
	mu     sync.Mutex // serializes appends
}

func Open(path string) (*Store, error) {
	return OpenWithOptions(path, Options{})
}

func OpenWithOptions(path string, opts Options) (*Store, error) {
	cleanPath := strings.TrimSpace(path)
	if cleanPath == "" {
		return nil, fmt.Errorf("triple log path must not be empty")
	}
	busy := opts.BusyTimeout
	if busy <= 0 {
		busy = 2 * time.Second
	}

	var dsn, readerDSN string
	if cleanPath == MemoryPath {
		dsn = fmt.Sprintf("file::memory:?_pragma=busy_timeout(%d)&_pragma=foreign_keys(ON)", busy.Milliseconds())
	} else {
		if info, err := os.Stat(cleanPath); err == nil && info.IsDir() {
			return nil, fmt.Errorf("triple log path %q is a directory, expected file", cleanPath)
		}
		dir := filepath.Dir(cleanPath)
		if dir != "" && dir != "." {
			if err := os.MkdirAll(dir, 0o755); err != nil {
				return nil, fmt.Errorf("create triple log directory %q: %w", dir, err)
			}
		}
		// WAL lets the reader pool run beside the writer connection.
		dsn = fmt.Sprintf("file:%s?_pragma=busy_timeout(%d)&_pragma=journal_mode(WAL)&_pragma=synchronous(FULL)&_pragma=foreign_keys(ON)",
			cleanPath, busy.Milliseconds())
		readerDSN = fmt.Sprintf("file:%s?_pragma=busy_timeout(%d)&_pragma=query_only(1)",
			cleanPath, busy.Milliseconds())
	}

	db, err := sql.Open(driverName, dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite triple log %q: %w", cleanPath, err)
	}
	// one connection: the in-memory database lives and dies with it
	db.SetMaxOpenConns(1)
	db.SetConnMaxLifetime(0)
	db.SetConnMaxIdleTime(0)

	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping sqlite triple log %q: %w", cleanPath, err)
	}
	if err := EnsureSchema(db); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("initialize sqlite schema %q: %w", cleanPath, err)
	}

	// the in-memory database is private to its one connection
	reader := db
	if readerDSN != "" {
		reader, err = sql.Open(driverName, readerDSN)
		if err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("open sqlite reader %q: %w", cleanPath, err)
		}
		reader.SetMaxOpenConns(readerConns)
		if err := reader.Ping(); err != nil {
			_ = reader.Close()
			_ = db.Close()
			return nil, fmt.Errorf("ping sqlite reader %q: %w", cleanPath, err)
		}
	}
	return &Store{path: cleanPath, db: db, reader: reader}, nil
}

func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	var rerr error
	if s.reader != nil && s.reader != s.db {
		rerr = s.reader.Close()
	}
	return stderrors.Join(s.db.Close(), rerr)
}

func (s *Store) Path() string {
	if s == nil {
		return ""
	}
	return s.path
}

// Append implements ports.TripleLog.
func (s *Store) Append(ctx context.Context, v versions.Version, ops []graph.Op) (versions.Version, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if strings.TrimSpace(v.Dataset) == "" {
		return versions.Version{}, errors.New(errors.CodeValidationError, "dataset name must not be empty")
	}
	if v.ID <= 0 {
		return versions.Version{}, errors.AddContext(
			errors.Newf(errors.CodeValidationError, "version id must be positive, got %d", v.ID),
			errors.CtxDataset, v.Dataset)
	}
	if v.CreatedAt.IsZero() {
		v.CreatedAt = time.Now().UTC()
	}
	if v.Origin == "" {
		v.Origin = versions.OriginCommit
	}
	if v.Kind == "" {
		v.Kind = versions.KindClock
	}

	rows := make([][3]string, len(ops))
	for i, op := range ops {
		if err := op.Triple.Validate(); err != nil {
			return versions.Version{}, errors.AddContext(
				errors.Wrap(err, errors.CodeValidationError, fmt.Sprintf("op %d", i)),
				errors.CtxDataset, v.Dataset)
		}
		rows[i] = [3]string{op.Triple.Subject.String(), op.Triple.Predicate.String(), op.Triple.Object.String()}
		// a row that cannot be read back would poison every later scan
		back, err := decodeTriple(rows[i][0], rows[i][1], rows[i][2])
		if err == nil && back != op.Triple {
			err = fmt.Errorf("triple %s does not survive an N-Triples round trip", op.Triple)
		}
		if err != nil {
			return versions.Version{}, errors.AddContext(
				errors.Wrap(err, errors.CodeValidationError, fmt.Sprintf("op %d", i)),
				errors.CtxDataset, v.Dataset)
		}
	}

	var out versions.Version
	err := s.withRetry("append triple log", func() error {
		var txErr error
		out, txErr = s.appendTx(ctx, v, ops, rows)
		return txErr
	})
	if err != nil {
		if errors.CodeOf(err) != "" {
			return versions.Version{}, err
		}
		return versions.Version{}, errors.AddContext(
			errors.Wrap(err, errors.CodeIOFailure, "triple log write failed"),
			errors.CtxDataset, v.Dataset)
	}
	return out, nil
}

func (s *Store) appendTx(ctx context.Context, v versions.Version, ops []graph.Op, rows [][3]string) (versions.Version, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return versions.Version{}, fmt.Errorf("begin append: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	var last sql.NullInt64
	if err := tx.QueryRowContext(ctx,
		`SELECT MAX(version_id) FROM versions WHERE dataset = ?`, v.Dataset,
	).Scan(&last); err != nil {
		return versions.Version{}, fmt.Errorf("read latest version: %w", err)
	}
	if last.Valid && v.ID <= last.Int64 {
		return versions.Version{}, errors.AddContext(errors.AddContext(
			errors.Newf(errors.CodeOrderingViolation, "version %d is not greater than latest %d", v.ID, last.Int64),
			errors.CtxDataset, v.Dataset), errors.CtxVersion, v.ID)
	}

	var from int64
	if err := tx.QueryRowContext(ctx, `SELECT COALESCE(MAX(seq), 0) FROM triple_log`).Scan(&from); err != nil {
		return versions.Version{}, fmt.Errorf("read log head: %w", err)
	}
	v.Range = versions.LogRange{From: from, To: from}
	v.OpCount = len(ops)

	// the version row goes first so log entries can reference it
	if _, err := tx.ExecContext(ctx, `
INSERT INTO versions (dataset, version_id, kind, changeset_id, range_from, range_to, op_count, created_at_utc, origin, reverts)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		v.Dataset, v.ID, string(v.Kind), v.ChangesetID, from, from, v.OpCount,
		v.CreatedAt.UTC().Format(time.RFC3339Nano), string(v.Origin), v.Reverts,
	); err != nil {
		return versions.Version{}, fmt.Errorf("insert version row: %w", err)
	}

	if len(ops) > 0 {
		stmt, err := tx.PrepareContext(ctx, `
INSERT INTO triple_log (dataset, version_id, is_insertion, subject, predicate, object)
VALUES (?, ?, ?, ?, ?, ?)`)
		if err != nil {
			return versions.Version{}, fmt.Errorf("prepare log insert: %w", err)
		}
		defer stmt.Close()

		for i, op := range ops {
			res, err := stmt.ExecContext(ctx, v.Dataset, v.ID, op.Kind == graph.OpAdd, rows[i][0], rows[i][1], rows[i][2])
			if err != nil {
				return versions.Version{}, fmt.Errorf("insert log entry %d: %w", i, err)
			}
			seq, err := res.LastInsertId()
			if err != nil {
				return versions.Version{}, fmt.Errorf("read log sequence: %w", err)
			}
			v.Range.To = seq
		}
		if _, err := tx.ExecContext(ctx,
			`UPDATE versions SET range_to = ? WHERE dataset = ? AND version_id = ?`,
			v.Range.To, v.Dataset, v.ID,
		); err != nil {
			return versions.Version{}, fmt.Errorf("update version range: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return versions.Version{}, fmt.Errorf("commit append: %w", err)
	}
	return v, nil
}

// Scan implements ports.TripleLog.
func (s *Store) Scan(ctx context.Context, dataset string, fromExclusive, toInclusive int64) ([]graph.Op, error) {
	out := make([]graph.Op, 0)
	if toInclusive <= fromExclusive {
		return out, nil
	}

	var rows *sql.Rows
	err := s.withRetry("scan triple log", func() error {
		var qErr error
		rows, qErr = s.reader.QueryContext(ctx, `
SELECT is_insertion, subject, predicate, object
FROM triple_log
WHERE dataset = ? AND seq > ? AND seq <= ?
ORDER BY seq ASC`, dataset, fromExclusive, toInclusive)
		return qErr
	})
	if err != nil {
		return nil, errors.Wrap(err, errors.CodeIOFailure, "triple log read failed")
	}
	defer rows.Close()

	for rows.Next() {
		var (
			insertion bool
			sRaw      string
			pRaw      string
			oRaw      string
		)
		if err := rows.Scan(&insertion, &sRaw, &pRaw, &oRaw); err != nil {
			return nil, readFailure(fmt.Errorf("scan log row: %w", err), dataset)
		}
		t, err := decodeTriple(sRaw, pRaw, oRaw)
		if err != nil {
			return nil, readFailure(err, dataset)
		}
		if insertion {
			out = append(out, graph.Add(t))
		} else {
			out = append(out, graph.Remove(t))
		}
	}
	if err := rows.Err(); err != nil {
		return nil, readFailure(fmt.Errorf("iterate log rows: %w", err), dataset)
	}
	return out, nil
}

func readFailure(err error, dataset string) error {
	return errors.AddContext(errors.Wrap(err, errors.CodeIOFailure, "triple log read failed"), errors.CtxDataset, dataset)
}

func decodeTriple(sRaw, pRaw, oRaw string) (graph.Triple, error) {
	s, err := ntriples.ParseTerm(sRaw)
	if err != nil {
		return graph.Triple{}, fmt.Errorf("decode subject %q: %w", sRaw, err)
	}
	p, err := ntriples.ParseTerm(pRaw)
	if err != nil {
		return graph.Triple{}, fmt.Errorf("decode predicate %q: %w", pRaw, err)
	}
	o, err := ntriples.ParseTerm(oRaw)
	if err != nil {
		return graph.Triple{}, fmt.Errorf("decode object %q: %w", oRaw, err)
	}
	return graph.NewTriple(s, p, o), nil
}

// Versions implements ports.TripleLog.
func (s *Store) Versions(ctx context.Context) ([]versions.Version, error) {
	var rows *sql.Rows
	err := s.withRetry("load versions", func() error {
		var qErr error
		rows, qErr = s.reader.QueryContext(ctx, `
SELECT dataset, version_id, kind, changeset_id, range_from, range_to, op_count, created_at_utc, origin, reverts
FROM versions
ORDER BY dataset ASC, version_id ASC`)
		return qErr
	})
	if err != nil {
		return nil, errors.Wrap(err, errors.CodeIOFailure, "version table read failed")
	}
	defer rows.Close()

	out := make([]versions.Version, 0)
	for rows.Next() {
		var (
			v         versions.Version
			kindRaw   string
			originRaw string
			tsRaw     string
		)
		if err := rows.Scan(&v.Dataset, &v.ID, &kindRaw, &v.ChangesetID, &v.Range.From, &v.Range.To,
			&v.OpCount, &tsRaw, &originRaw, &v.Reverts); err != nil {
			return nil, errors.Wrap(err, errors.CodeIOFailure, "version table read failed")
		}
		if v.Kind, err = versions.ParseKind(kindRaw); err != nil {
			return nil, errors.Wrap(err, errors.CodeIOFailure, "version table read failed")
		}
		if v.Origin, err = versions.ParseOrigin(originRaw); err != nil {
			return nil, errors.Wrap(err, errors.CodeIOFailure, "version table read failed")
		}
		ts, err := time.Parse(time.RFC3339Nano, tsRaw)
		if err != nil {
			return nil, errors.Wrap(fmt.Errorf("parse version timestamp %q: %w", tsRaw, err), errors.CodeIOFailure, "version table read failed")
		}
		v.CreatedAt = ts.UTC()
		out = append(out, v)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.Wrap(err, errors.CodeIOFailure, "version table read failed")
	}
	return out, nil
}

// Count implements ports.TripleLog.
func (s *Store) Count(ctx context.Context, dataset string) (int64, error) {
	query := `SELECT COUNT(*) FROM triple_log`
	args := make([]any, 0, 1)
	if dataset != "" {
		query += ` WHERE dataset = ?`
		args = append(args, dataset)
	}
	var n int64
	err := s.withRetry("count triple log", func() error {
		return s.reader.QueryRowContext(ctx, query, args...).Scan(&n)
	})
	if err != nil {
		return 0, errors.Wrap(err, errors.CodeIOFailure, "triple log read failed")
	}
	return n, nil
}

// Ping checks that the database is reachable.
func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

func (s *Store) withRetry(op string, fn func() error) error {
	var lastErr error
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		err := fn()
		if err == nil {
			return nil
		}
		lastErr = err
		if !isLockError(err) || attempt == maxAttempts {
			break
		}
		time.Sleep(time.Duration(attempt*25) * time.Millisecond)
	}
	return fmt.Errorf("%s: %w", op, lastErr)
}

func isLockError(err error) bool {
	if err == nil {
		return false
	}
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "database is locked") || strings.Contains(msg, "busy")
}

func IsCorruptError(err error) bool {
	if err == nil {
		return false
	}
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "malformed") || strings.Contains(msg, "not a database") || stderrors.Is(err, os.ErrInvalid)
}
