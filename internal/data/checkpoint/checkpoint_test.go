package checkpoint

import (
	"context"
	"fmt"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"vrdf/internal/engine/graph"
	"vrdf/internal/engine/versions"
)

var (
	bldg  = graph.Namespace("urn:bldg#")
	brick = graph.Namespace("https://brickschema.org/schema/Brick#")
	typ   = graph.IRI(graph.RDFType)
)

func version(dataset string, id int64) versions.Version {
	return versions.Version{
		Dataset:     dataset,
		ID:          id,
		ChangesetID: fmt.Sprintf("cs-%d", id),
		CreatedAt:   time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC),
	}
}

func sample() *graph.Graph {
	return graph.New(
		graph.NewTriple(bldg.Term("vav1"), typ, brick.Term("VAV")),
		graph.NewTriple(bldg.Term("vav1"), graph.IRI(graph.RDFSLabel), graph.LangLiteral("line\none", "en")),
		graph.NewTriple(graph.Blank("b0"), brick.Term("area"), graph.TypedLiteral("12.5", "http://www.w3.org/2001/XMLSchema#decimal")),
	)
}

func TestMemoryStore_EvictsLeastRecentlyUsed(t *testing.T) {
	ctx := context.Background()
	m := NewMemoryStore(2)
	g := sample()

	_ = m.Put(ctx, version("bldg", 1), g)
	_ = m.Put(ctx, version("bldg", 2), g)
	if _, ok, _ := m.Get(ctx, version("bldg", 1)); !ok {
		t.Fatal("expected hit for version 1")
	}
	_ = m.Put(ctx, version("bldg", 3), g)

	if m.Len() != 2 {
		t.Fatalf("expected 2 checkpoints, got %d", m.Len())
	}
	if _, ok, _ := m.Get(ctx, version("bldg", 2)); ok {
		t.Fatal("expected version 2 to be evicted")
	}
	if _, ok, _ := m.Get(ctx, version("bldg", 1)); !ok {
		t.Fatal("expected version 1 to survive")
	}
}

func TestMemoryStore_ReturnsPrivateCopies(t *testing.T) {
	ctx := context.Background()
	m := NewMemoryStore(4)
	g := sample()
	v := version("bldg", 1)
	_ = m.Put(ctx, v, g)

	g.Add(graph.NewTriple(bldg.Term("extra"), typ, brick.Term("VAV")))
	got, _, _ := m.Get(ctx, v)
	if got.Len() != 3 {
		t.Fatalf("mutating the source must not change the checkpoint, got %d", got.Len())
	}
	got.Remove(got.Triples()[0])
	again, _, _ := m.Get(ctx, v)
	if again.Len() != 3 {
		t.Fatalf("mutating a returned graph must not change the checkpoint, got %d", again.Len())
	}
}

func TestMemoryStore_KeyIncludesChangeset(t *testing.T) {
	ctx := context.Background()
	m := NewMemoryStore(4)
	v := version("bldg", 1)
	_ = m.Put(ctx, v, sample())

	other := v
	other.ChangesetID = "different"
	if _, ok, _ := m.Get(ctx, other); ok {
		t.Fatal("expected miss for a different changeset at the same id")
	}
}

func TestMemoryStore_ConcurrentAccess(t *testing.T) {
	ctx := context.Background()
	m := NewMemoryStore(8)
	g := sample()
	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			v := version("bldg", int64(i%10)+1)
			_ = m.Put(ctx, v, g)
			_, _, _ = m.Get(ctx, v)
		}(i)
	}
	wg.Wait()
	if m.Len() > 8 {
		t.Fatalf("capacity exceeded: %d", m.Len())
	}
}

func TestBadgerStore_RoundTrip(t *testing.T) {
	ctx := context.Background()
	cfg := BadgerConfig{InMemory: true}
	s, err := OpenBadger(cfg)
	if err != nil {
		t.Fatalf("open badger: %v", err)
	}
	defer s.Close()

	v := version("bldg", 7)
	if _, ok, err := s.Get(ctx, v); err != nil || ok {
		t.Fatalf("expected clean miss, got ok=%v err=%v", ok, err)
	}
	want := sample()
	if err := s.Put(ctx, v, want); err != nil {
		t.Fatalf("put: %v", err)
	}
	got, ok, err := s.Get(ctx, v)
	if err != nil || !ok {
		t.Fatalf("get: ok=%v err=%v", ok, err)
	}
	if !got.Equal(want) {
		t.Fatalf("expected %v, got %v", want.Triples(), got.Triples())
	}

	_ = s.Put(ctx, version("bldg", 12), graph.New())
	_ = s.Put(ctx, version("other", 1), graph.New())
	keys, err := s.Keys("bldg")
	if err != nil {
		t.Fatal(err)
	}
	if len(keys) != 2 || keys[0] != KeyOf(v).String() {
		t.Fatalf("unexpected keys %v", keys)
	}
}

func TestBadgerStore_PersistsAcrossReopen(t *testing.T) {
	ctx := context.Background()
	dir := filepath.Join(t.TempDir(), "checkpoints")
	cfg := BadgerConfig{Path: dir, SyncWrites: true}

	s, err := OpenBadger(cfg)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	v := version("bldg", 3)
	if err := s.Put(ctx, v, sample()); err != nil {
		t.Fatal(err)
	}
	if err := s.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	s, err = OpenBadger(cfg)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer s.Close()
	got, ok, err := s.Get(ctx, v)
	if err != nil || !ok {
		t.Fatalf("expected persisted checkpoint, ok=%v err=%v", ok, err)
	}
	if got.Len() != 3 {
		t.Fatalf("expected 3 triples, got %d", got.Len())
	}
}

func TestOpenBadger_RequiresPath(t *testing.T) {
	if _, err := OpenBadger(BadgerConfig{}); err == nil {
		t.Fatal("expected error without path")
	}
}

func TestTiered_PromotesColdHits(t *testing.T) {
	ctx := context.Background()
	hot := NewMemoryStore(4)
	cold, err := OpenBadger(BadgerConfig{InMemory: true})
	if err != nil {
		t.Fatal(err)
	}
	tiered := NewTiered(hot, cold)
	defer tiered.Close()

	v := version("bldg", 1)
	if err := cold.Put(ctx, v, sample()); err != nil {
		t.Fatal(err)
	}
	if hot.Len() != 0 {
		t.Fatal("hot tier should start empty")
	}
	if _, ok, err := tiered.Get(ctx, v); err != nil || !ok {
		t.Fatalf("expected cold hit, ok=%v err=%v", ok, err)
	}
	if hot.Len() != 1 {
		t.Fatal("expected cold hit to be promoted")
	}

	v2 := version("bldg", 2)
	if err := tiered.Put(ctx, v2, graph.New()); err != nil {
		t.Fatal(err)
	}
	if _, ok, _ := cold.Get(ctx, v2); !ok {
		t.Fatal("expected write-through to cold tier")
	}
}
