package materialize

import (
	"context"
	"fmt"
	"math/rand"
	"testing"
	"time"

	"vrdf/internal/core/errors"
	"vrdf/internal/data/checkpoint"
	"vrdf/internal/data/triplelog"
	"vrdf/internal/engine/graph"
	"vrdf/internal/engine/versions"
)

var (
	bldg  = graph.Namespace("urn:bldg#")
	brick = graph.Namespace("https://brickschema.org/schema/Brick#")
	typ   = graph.IRI(graph.RDFType)
	t0    = time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
)

type fixture struct {
	log *triplelog.Store
	ix  *versions.Index
}

func newFixture(t testing.TB) *fixture {
	t.Helper()
	log, err := triplelog.Open(triplelog.MemoryPath)
	if err != nil {
		t.Fatalf("open log: %v", err)
	}
	t.Cleanup(func() { _ = log.Close() })
	return &fixture{log: log, ix: versions.NewIndex()}
}

func (f *fixture) commit(t testing.TB, dataset string, id int64, ops ...graph.Op) versions.Version {
	t.Helper()
	v := versions.Version{
		Dataset:     dataset,
		ID:          id,
		Kind:        versions.KindLogical,
		ChangesetID: fmt.Sprintf("%s-%d", dataset, id),
		CreatedAt:   t0.Add(time.Duration(f.ix.Len()) * time.Minute),
	}
	v, err := f.log.Append(context.Background(), v, ops)
	if err != nil {
		t.Fatalf("append %s@%d: %v", dataset, id, err)
	}
	if err := f.ix.Record(v); err != nil {
		t.Fatalf("record %s@%d: %v", dataset, id, err)
	}
	return v
}

func TestFold_LastOperationWins(t *testing.T) {
	x := graph.NewTriple(bldg.Term("vav1"), typ, brick.Term("VAV"))
	y := graph.NewTriple(bldg.Term("vav1"), brick.Term("feeds"), bldg.Term("zone1"))
	base := graph.New(y)

	got := Fold(base, []graph.Op{graph.Remove(x), graph.Add(x), graph.Remove(y), graph.Add(y), graph.Remove(y)})
	if !got.Has(x) || got.Has(y) {
		t.Fatalf("unexpected fold result %v", got.Triples())
	}
	if !base.Has(y) || base.Len() != 1 {
		t.Fatal("fold must not mutate its base")
	}
}

func TestMaterializer_Scenarios(t *testing.T) {
	f := newFixture(t)
	m := New(f.log, f.ix)
	ctx := context.Background()

	vavType := graph.NewTriple(bldg.Term("vav1"), typ, brick.Term("VAV"))
	feeds := graph.NewTriple(bldg.Term("vav1"), brick.Term("feeds"), bldg.Term("zone1"))
	zoneType := graph.NewTriple(bldg.Term("zone1"), typ, brick.Term("Zone"))

	f.commit(t, "bldg", 1, graph.Add(vavType), graph.Add(feeds))
	latest, err := m.Latest(ctx, "bldg")
	if err != nil {
		t.Fatal(err)
	}
	if !latest.Equal(graph.New(vavType, feeds)) {
		t.Fatalf("scenario A: unexpected latest %v", latest.Triples())
	}

	f.commit(t, "bldg", 2, graph.Remove(feeds), graph.Add(zoneType))
	v1, err := m.At(ctx, "bldg", 1)
	if err != nil {
		t.Fatal(err)
	}
	v2, err := m.At(ctx, "bldg", 2)
	if err != nil {
		t.Fatal(err)
	}
	if !v1.Has(feeds) || v2.Has(feeds) || !v2.Has(zoneType) {
		t.Fatalf("scenario B: v1=%v v2=%v", v1.Triples(), v2.Triples())
	}

	if _, err := m.At(ctx, "bldg", 3); !errors.IsCode(err, errors.CodeNotFound) {
		t.Fatalf("expected NOT_FOUND, got %v", err)
	}
	empty, err := m.Latest(ctx, "unknown")
	if err != nil || empty.Len() != 0 {
		t.Fatalf("expected empty graph for unknown dataset, got %v (%v)", empty, err)
	}
}

func TestMaterializer_RedundantOpsAreRecordedButInert(t *testing.T) {
	f := newFixture(t)
	m := New(f.log, f.ix)
	ctx := context.Background()
	x := graph.NewTriple(bldg.Term("vav1"), typ, brick.Term("VAV"))
	ghost := graph.NewTriple(bldg.Term("ghost"), typ, brick.Term("VAV"))

	f.commit(t, "bldg", 1, graph.Add(x))
	before, _ := m.Latest(ctx, "bldg")
	n0, _ := f.log.Count(ctx, "bldg")

	f.commit(t, "bldg", 2, graph.Add(x), graph.Remove(ghost))
	after, _ := m.Latest(ctx, "bldg")
	n1, _ := f.log.Count(ctx, "bldg")

	if !before.Equal(after) {
		t.Fatalf("redundant ops changed membership: %v -> %v", before.Triples(), after.Triples())
	}
	if n1-n0 != 2 {
		t.Fatalf("expected both redundant ops in the log, got %d new entries", n1-n0)
	}
}

func TestMaterializer_CheckpointsMatchFullReplay(t *testing.T) {
	f := newFixture(t)
	store := checkpoint.NewMemoryStore(64)
	m := New(f.log, f.ix, WithCheckpoints(store, 3))
	ctx := context.Background()
	rng := rand.New(rand.NewSource(42))

	pool := make([]graph.Triple, 12)
	for i := range pool {
		pool[i] = graph.NewTriple(bldg.Term(fmt.Sprintf("p%d", i%4)), brick.Term("hasPoint"), bldg.Term(fmt.Sprintf("pt%d", i)))
	}
	var recorded []versions.Version
	for id := int64(1); id <= 40; id++ {
		n := rng.Intn(6)
		ops := make([]graph.Op, 0, n)
		for j := 0; j < n; j++ {
			tr := pool[rng.Intn(len(pool))]
			if rng.Intn(2) == 0 {
				ops = append(ops, graph.Add(tr))
			} else {
				ops = append(ops, graph.Remove(tr))
			}
		}
		recorded = append(recorded, f.commit(t, "bldg", id*10, ops...))
		// interleave another dataset so global sequences have gaps
		if id%4 == 0 {
			f.commit(t, "other", id, graph.Add(pool[rng.Intn(len(pool))]))
		}
	}

	// visit versions out of order so both cold and warm paths run
	order := rng.Perm(len(recorded))
	for pass := 0; pass < 2; pass++ {
		for _, i := range order {
			v := recorded[i]
			want, err := m.FullReplay(ctx, v)
			if err != nil {
				t.Fatal(err)
			}
			got, err := m.At(ctx, "bldg", v.ID)
			if err != nil {
				t.Fatal(err)
			}
			if !got.Equal(want) {
				t.Fatalf("pass %d version %d: checkpointed %v != full %v", pass, v.ID, got.Triples(), want.Triples())
			}
		}
	}
	if store.Len() == 0 {
		t.Fatal("expected checkpoints to be stored")
	}
}

func TestMaterializer_SymmetricDifferenceIsNetEffect(t *testing.T) {
	f := newFixture(t)
	m := New(f.log, f.ix)
	ctx := context.Background()

	a := graph.NewTriple(bldg.Term("a"), typ, brick.Term("Floor"))
	b := graph.NewTriple(bldg.Term("b"), typ, brick.Term("Floor"))
	c := graph.NewTriple(bldg.Term("c"), typ, brick.Term("Floor"))

	f.commit(t, "bldg", 1, graph.Add(a), graph.Add(b))
	f.commit(t, "bldg", 2, graph.Remove(a), graph.Add(c))
	f.commit(t, "bldg", 3, graph.Add(a), graph.Remove(b))
	f.commit(t, "bldg", 4, graph.Remove(c))

	added, removed, err := m.Diff(ctx, "bldg", 1, 4)
	if err != nil {
		t.Fatal(err)
	}
	// net effect of versions 2..4 over state {a, b}: b removed, c added then removed
	if len(added) != 0 || len(removed) != 1 || removed[0] != b {
		t.Fatalf("unexpected diff added=%v removed=%v", added, removed)
	}

	v1, _ := m.At(ctx, "bldg", 1)
	replayed := v1.Clone()
	for _, id := range []int64{2, 3, 4} {
		v, _ := f.ix.Resolve("bldg", id)
		ops, _ := f.log.Scan(ctx, "bldg", v.Range.From, v.Range.To)
		replayed.ApplyAll(ops)
	}
	v4, _ := m.At(ctx, "bldg", 4)
	if !replayed.Equal(v4) {
		t.Fatalf("expected per-changeset replay to match materialized state")
	}
}

func TestMaterializer_UnionDedupeModes(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	shared := graph.NewTriple(bldg.Term("site"), typ, brick.Term("Site"))
	own := graph.NewTriple(bldg.Term("ahu1"), typ, brick.Term("AHU"))

	f.commit(t, "bldg", 1, graph.Add(shared), graph.Add(own))
	f.commit(t, "brick", 1, graph.Add(shared))

	dedupe := New(f.log, f.ix, WithDedupeUnion(true))
	n, err := dedupe.Len(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if n != 2 {
		t.Fatalf("expected deduplicated count 2, got %d", n)
	}
	union, _ := dedupe.UnionLatest(ctx)
	if union.Len() != 2 {
		t.Fatalf("expected union of 2 triples, got %d", union.Len())
	}

	sum := New(f.log, f.ix, WithDedupeUnion(false), WithConcurrency(1))
	n, err = sum.Len(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if n != 3 {
		t.Fatalf("expected per-dataset sum 3, got %d", n)
	}
}

func TestMaterializer_IterVersionsIsRestartable(t *testing.T) {
	f := newFixture(t)
	m := New(f.log, f.ix)
	f.commit(t, "bldg", 1)
	f.commit(t, "brick", 1)

	count := func() int {
		n := 0
		for range m.IterVersions() {
			n++
		}
		return n
	}
	if count() != 2 || count() != 2 {
		t.Fatal("expected two versions on every pass")
	}
	f.commit(t, "bldg", 2)
	if count() != 3 {
		t.Fatal("expected iteration to reflect new commits")
	}
	for v := range m.IterVersions() {
		if v.Dataset != "bldg" || v.ID != 1 {
			t.Fatalf("expected oldest version first, got %s", v)
		}
		break
	}
}

func TestMaterializer_AsOf(t *testing.T) {
	f := newFixture(t)
	m := New(f.log, f.ix)
	ctx := context.Background()
	x := graph.NewTriple(bldg.Term("a"), typ, brick.Term("Floor"))

	f.commit(t, "bldg", 1, graph.Add(x))
	f.commit(t, "bldg", 2, graph.Remove(x))

	g, _ := m.AsOf(ctx, "bldg", t0.Add(30*time.Second))
	if !g.Has(x) {
		t.Fatal("expected version 1 state between the commits")
	}
	g, _ = m.AsOf(ctx, "bldg", t0.Add(-time.Hour))
	if g.Len() != 0 {
		t.Fatal("expected empty graph before the first commit")
	}
}
