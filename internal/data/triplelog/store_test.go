package triplelog

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"vrdf/internal/core/errors"
	"vrdf/internal/engine/graph"
	"vrdf/internal/engine/versions"
)

var (
	bldg  = graph.Namespace("urn:bldg#")
	brick = graph.Namespace("https://brickschema.org/schema/Brick#")
	typ   = graph.IRI(graph.RDFType)
)

func logical(dataset string, id int64) versions.Version {
	return versions.Version{
		Dataset:     dataset,
		ID:          id,
		Kind:        versions.KindLogical,
		ChangesetID: "cs-" + dataset,
		CreatedAt:   time.Date(2026, 3, 1, 9, 0, int(id), 0, time.UTC),
	}
}

func TestStore_AppendScanRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "log.db")
	store, err := Open(path)
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	defer store.Close()
	ctx := context.Background()

	feeds := graph.NewTriple(bldg.Term("vav1"), brick.Term("feeds"), bldg.Term("zone1"))
	label := graph.NewTriple(bldg.Term("vav1"), graph.IRI(graph.RDFSLabel), graph.LangLiteral("VAV \"1\"", "en"))
	ops := []graph.Op{
		graph.Add(graph.NewTriple(bldg.Term("vav1"), typ, brick.Term("VAV"))),
		graph.Add(feeds),
		graph.Remove(feeds),
		graph.Add(label),
	}

	v1, err := store.Append(ctx, logical("bldg", 1), ops)
	if err != nil {
		t.Fatalf("append: %v", err)
	}
	if v1.Range.From != 0 || v1.Range.To != 4 || v1.OpCount != 4 {
		t.Fatalf("unexpected range %s ops=%d", v1.Range, v1.OpCount)
	}

	got, err := store.Scan(ctx, "bldg", v1.Range.From, v1.Range.To)
	if err != nil {
		t.Fatalf("scan: %v", err)
	}
	if len(got) != len(ops) {
		t.Fatalf("expected %d ops, got %d", len(ops), len(got))
	}
	for i := range ops {
		if got[i] != ops[i] {
			t.Fatalf("op %d: expected %v, got %v", i, ops[i], got[i])
		}
	}
}

func TestStore_RangesInterleaveAcrossDatasets(t *testing.T) {
	store, err := Open(MemoryPath)
	if err != nil {
		t.Fatalf("open memory store: %v", err)
	}
	defer store.Close()
	ctx := context.Background()

	x := graph.NewTriple(bldg.Term("a"), typ, brick.Term("Floor"))
	y := graph.NewTriple(bldg.Term("b"), typ, brick.Term("Floor"))

	a1, _ := store.Append(ctx, logical("a", 1), []graph.Op{graph.Add(x)})
	b1, _ := store.Append(ctx, logical("b", 1), []graph.Op{graph.Add(y), graph.Add(x)})
	a2, err := store.Append(ctx, logical("a", 2), nil)
	if err != nil {
		t.Fatalf("append empty changeset: %v", err)
	}
	if !a2.Range.Empty() || a2.Range.From != b1.Range.To {
		t.Fatalf("expected empty range at log head, got %s", a2.Range)
	}

	opsA, err := store.Scan(ctx, "a", 0, a2.Range.To)
	if err != nil {
		t.Fatal(err)
	}
	if len(opsA) != 1 || opsA[0] != graph.Add(x) {
		t.Fatalf("scan must only return dataset a's entries, got %v", opsA)
	}
	if a1.Range.To >= b1.Range.To {
		t.Fatalf("expected global sequence to advance, got %s then %s", a1.Range, b1.Range)
	}

	n, _ := store.Count(ctx, "")
	if n != 3 {
		t.Fatalf("expected 3 log entries, got %d", n)
	}
	n, _ = store.Count(ctx, "b")
	if n != 2 {
		t.Fatalf("expected 2 entries for b, got %d", n)
	}
}

func TestStore_OrderingViolationLeavesNoTrace(t *testing.T) {
	store, err := Open(MemoryPath)
	if err != nil {
		t.Fatal(err)
	}
	defer store.Close()
	ctx := context.Background()

	x := graph.NewTriple(bldg.Term("a"), typ, brick.Term("Floor"))
	if _, err := store.Append(ctx, logical("bldg", 5), []graph.Op{graph.Add(x)}); err != nil {
		t.Fatal(err)
	}
	for _, id := range []int64{5, 4} {
		_, err := store.Append(ctx, logical("bldg", id), []graph.Op{graph.Remove(x)})
		if !errors.IsCode(err, errors.CodeOrderingViolation) {
			t.Fatalf("id %d: expected ORDERING_VIOLATION, got %v", id, err)
		}
	}
	n, _ := store.Count(ctx, "bldg")
	if n != 1 {
		t.Fatalf("rejected appends must not write entries, got %d", n)
	}
	vs, _ := store.Versions(ctx)
	if len(vs) != 1 {
		t.Fatalf("rejected appends must not write versions, got %d", len(vs))
	}
}

func TestStore_ReopenRestoresVersions(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "log.db")
	store, err := Open(path)
	if err != nil {
		t.Fatal(err)
	}
	ctx := context.Background()
	x := graph.NewTriple(bldg.Term("a"), typ, brick.Term("Floor"))

	v := logical("bldg", 1)
	v.Origin = versions.OriginCommit
	if _, err := store.Append(ctx, v, []graph.Op{graph.Add(x)}); err != nil {
		t.Fatal(err)
	}
	undo := logical("bldg", 2)
	undo.Origin = versions.OriginUndo
	undo.Reverts = 1
	if _, err := store.Append(ctx, undo, []graph.Op{graph.Remove(x)}); err != nil {
		t.Fatal(err)
	}
	if err := store.Close(); err != nil {
		t.Fatal(err)
	}

	reopened, err := Open(path)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer reopened.Close()

	vs, err := reopened.Versions(ctx)
	if err != nil {
		t.Fatalf("versions: %v", err)
	}
	if len(vs) != 2 {
		t.Fatalf("expected 2 versions, got %d", len(vs))
	}
	if vs[1].Origin != versions.OriginUndo || vs[1].Reverts != 1 || vs[1].Kind != versions.KindLogical {
		t.Fatalf("unexpected undo record %+v", vs[1])
	}
	if !vs[0].CreatedAt.Equal(v.CreatedAt) {
		t.Fatalf("expected created_at to roundtrip, got %v", vs[0].CreatedAt)
	}

	ix := versions.NewIndex()
	if err := ix.Load(vs); err != nil {
		t.Fatalf("rebuild index: %v", err)
	}
}

func TestStore_RejectsInvalidInput(t *testing.T) {
	store, err := Open(MemoryPath)
	if err != nil {
		t.Fatal(err)
	}
	defer store.Close()
	ctx := context.Background()

	bad := graph.NewTriple(graph.Literal("x"), typ, brick.Term("VAV"))
	if _, err := store.Append(ctx, logical("bldg", 1), []graph.Op{graph.Add(bad)}); !errors.IsCode(err, errors.CodeValidationError) {
		t.Fatalf("expected VALIDATION_ERROR for literal subject, got %v", err)
	}
	if _, err := store.Append(ctx, logical("", 1), nil); !errors.IsCode(err, errors.CodeValidationError) {
		t.Fatalf("expected VALIDATION_ERROR for empty dataset, got %v", err)
	}
}

func TestOpen_RejectsDirectoryPath(t *testing.T) {
	dir := t.TempDir()
	if _, err := Open(dir); err == nil || !strings.Contains(err.Error(), "is a directory") {
		t.Fatalf("expected directory path error, got %v", err)
	}
	if _, err := Open("  "); err == nil {
		t.Fatal("expected empty path error")
	}
}

func TestEnsureSchema_RejectsNewerSchema(t *testing.T) {
	path := filepath.Join(t.TempDir(), "future.db")
	db, err := sql.Open(driverName, "file:"+path)
	if err != nil {
		t.Fatal(err)
	}
	defer db.Close()
	if err := EnsureSchema(db); err != nil {
		t.Fatalf("ensure schema: %v", err)
	}
	if _, err := db.Exec(`INSERT INTO schema_migrations(version) VALUES (?)`, SchemaVersion+1); err != nil {
		t.Fatal(err)
	}
	err = EnsureSchema(db)
	if err == nil || !strings.Contains(err.Error(), "newer than supported") {
		t.Fatalf("expected schema drift error, got %v", err)
	}
}

func TestIsCorruptError(t *testing.T) {
	if !IsCorruptError(os.ErrInvalid) {
		t.Fatal("expected os.ErrInvalid to be treated as corruption")
	}
	if IsCorruptError(nil) {
		t.Fatal("nil is not corruption")
	}
	if !IsCorruptError(fmt.Errorf("scan: database disk image is malformed")) {
		t.Fatal("expected malformed image to be treated as corruption")
	}
	if IsCorruptError(sql.ErrConnDone) {
		t.Fatal("closed connection is not corruption")
	}
}

func TestStore_RejectsTermsThatDoNotRoundTrip(t *testing.T) {
	store, err := Open(filepath.Join(t.TempDir(), "log.db"))
	if err != nil {
		t.Fatal(err)
	}
	defer store.Close()
	ctx := context.Background()

	objects := map[string]graph.Term{
		"blank with space":      graph.Blank("a b"),
		"blank with final dot":  graph.Blank("x."),
		"underscore lang tag":   graph.LangLiteral("hi", "en_US"),
		"invalid utf-8 literal": graph.Literal("\xff"),
		"iri with newline":      graph.IRI("urn:a\nb"),
	}
	for name, obj := range objects {
		t.Run(name, func(t *testing.T) {
			op := graph.Add(graph.NewTriple(bldg.Term("s"), typ, obj))
			if _, err := store.Append(ctx, logical("bldg", 1), []graph.Op{op}); !errors.IsCode(err, errors.CodeValidationError) {
				t.Fatalf("expected VALIDATION_ERROR, got %v", err)
			}
		})
	}

	if n, err := store.Count(ctx, ""); err != nil || n != 0 {
		t.Fatalf("rejected appends must leave no log entries, got %d (%v)", n, err)
	}
	vs, err := store.Versions(ctx)
	if err != nil || len(vs) != 0 {
		t.Fatalf("rejected appends must leave no versions, got %v (%v)", vs, err)
	}

	good := graph.Add(graph.NewTriple(bldg.Term("s"), typ, graph.LangLiteral("hi", "en-US")))
	v, err := store.Append(ctx, logical("bldg", 1), []graph.Op{good})
	if err != nil {
		t.Fatalf("append after rejections: %v", err)
	}
	ops, err := store.Scan(ctx, "bldg", v.Range.From, v.Range.To)
	if err != nil || len(ops) != 1 || ops[0] != good {
		t.Fatalf("expected the valid op back, got %v (%v)", ops, err)
	}
}

func TestStore_ScanDoesNotWaitForWriter(t *testing.T) {
	store, err := Open(filepath.Join(t.TempDir(), "log.db"))
	if err != nil {
		t.Fatal(err)
	}
	defer store.Close()
	ctx := context.Background()

	op := graph.Add(graph.NewTriple(bldg.Term("vav1"), typ, brick.Term("VAV")))
	v1, err := store.Append(ctx, logical("bldg", 1), []graph.Op{op})
	if err != nil {
		t.Fatalf("append: %v", err)
	}

	// hold the append lock and an open write transaction, as a long append would
	store.mu.Lock()
	defer store.mu.Unlock()
	tx, err := store.db.BeginTx(ctx, nil)
	if err != nil {
		t.Fatal(err)
	}
	defer func() { _ = tx.Rollback() }()
	if _, err := tx.ExecContext(ctx, `UPDATE versions SET op_count = op_count WHERE dataset = ?`, "bldg"); err != nil {
		t.Fatalf("start write: %v", err)
	}

	type result struct {
		ops []graph.Op
		n   int64
		err error
	}
	done := make(chan result, 1)
	go func() {
		ops, err := store.Scan(ctx, "bldg", v1.Range.From, v1.Range.To)
		if err != nil {
			done <- result{err: err}
			return
		}
		n, err := store.Count(ctx, "bldg")
		done <- result{ops: ops, n: n, err: err}
	}()

	select {
	case r := <-done:
		if r.err != nil || len(r.ops) != 1 || r.n != 1 {
			t.Fatalf("unexpected read during write: ops=%v n=%d err=%v", r.ops, r.n, r.err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("scan blocked behind an in-flight append")
	}
}

func TestStore_ScanReportsCorruptRowsAsIOFailure(t *testing.T) {
	store, err := Open(filepath.Join(t.TempDir(), "log.db"))
	if err != nil {
		t.Fatal(err)
	}
	defer store.Close()
	ctx := context.Background()

	op := graph.Add(graph.NewTriple(bldg.Term("vav1"), typ, brick.Term("VAV")))
	if _, err := store.Append(ctx, logical("bldg", 1), []graph.Op{op}); err != nil {
		t.Fatalf("append: %v", err)
	}
	if _, err := store.db.ExecContext(ctx, `
INSERT INTO triple_log (dataset, version_id, is_insertion, subject, predicate, object)
VALUES ('bldg', 1, 1, '_:a b', '<urn:p>', '<urn:o>')`); err != nil {
		t.Fatalf("write corrupt row: %v", err)
	}

	_, err = store.Scan(ctx, "bldg", 0, 100)
	if !errors.IsCode(err, errors.CodeIOFailure) {
		t.Fatalf("expected IO_FAILURE for an undecodable row, got %v", err)
	}
	if !strings.Contains(err.Error(), "dataset=bldg") {
		t.Fatalf("error should name the dataset, got %v", err)
	}
}
