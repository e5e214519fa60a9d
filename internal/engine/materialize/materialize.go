// Package materialize folds the triple log into the graph that was valid at a
// given version. Periodic checkpoints let historical reads replay only the
// tail of the log after the nearest stored snapshot.
package materialize

import (
	"context"
	"fmt"
	"iter"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"

	"vrdf/internal/core/ports"
	"vrdf/internal/engine/graph"
	"vrdf/internal/engine/versions"
	"vrdf/internal/shared/observability"
)

// LogScanner is the read side of the triple log.
type LogScanner interface {
	Scan(ctx context.Context, dataset string, fromExclusive, toInclusive int64) ([]graph.Op, error)
}

type Option func(*Materializer)

// WithCheckpoints stores a snapshot every interval versions of a dataset.
// An interval <= 0 disables checkpointing.
func WithCheckpoints(store ports.CheckpointStore, interval int) Option {
	return func(m *Materializer) {
		m.checkpoints = store
		m.interval = interval
	}
}

// WithDedupeUnion controls Len: true counts distinct triples across all
// datasets, false sums per-dataset counts.
func WithDedupeUnion(dedupe bool) Option {
	return func(m *Materializer) { m.dedupeUnion = dedupe }
}

// WithConcurrency bounds the datasets materialized in parallel by UnionLatest.
func WithConcurrency(n int) Option {
	return func(m *Materializer) { m.concurrency = n }
}

func WithLogger(logger *slog.Logger) Option {
	return func(m *Materializer) {
		if logger != nil {
			m.logger = logger
		}
	}
}

type Materializer struct {
	log         LogScanner
	index       *versions.Index
	checkpoints ports.CheckpointStore
	interval    int
	dedupeUnion bool
	concurrency int
	logger      *slog.Logger
}

func New(log LogScanner, index *versions.Index, opts ...Option) *Materializer {
	m := &Materializer{
		log:         log,
		index:       index,
		dedupeUnion: true,
		concurrency: 4,
		logger:      slog.Default(),
	}
	for _, opt := range opts {
		opt(m)
	}
	if m.concurrency < 1 {
		m.concurrency = 1
	}
	return m
}

// Fold applies ops to a copy of base by tracking the last operation seen for
// each triple: a triple is present afterwards iff its last op is Add, or it
// was in base and no op mentions it.
func Fold(base *graph.Graph, ops []graph.Op) *graph.Graph {
	last := make(map[graph.Triple]graph.OpKind, len(ops))
	for _, op := range ops {
		last[op.Triple] = op.Kind
	}
	out := base.Clone()
	for t, kind := range last {
		if kind == graph.OpAdd {
			out.Add(t)
		} else {
			out.Remove(t)
		}
	}
	return out
}

// Latest returns the dataset's state at its highest version. A dataset with
// no versions is empty.
func (m *Materializer) Latest(ctx context.Context, dataset string) (*graph.Graph, error) {
	v, ok := m.index.Latest(dataset)
	if !ok {
		return graph.New(), nil
	}
	return m.Version(ctx, v)
}

// At returns the state at exactly version id, or NOT_FOUND.
func (m *Materializer) At(ctx context.Context, dataset string, id int64) (*graph.Graph, error) {
	v, err := m.index.Resolve(dataset, id)
	if err != nil {
		return nil, err
	}
	return m.Version(ctx, v)
}

// AsOf returns the state at the latest version created at or before t; empty
// when the dataset had no versions yet.
func (m *Materializer) AsOf(ctx context.Context, dataset string, t time.Time) (*graph.Graph, error) {
	v, ok := m.index.AsOf(dataset, t)
	if !ok {
		return graph.New(), nil
	}
	return m.Version(ctx, v)
}

// Version materializes a resolved version record.
func (m *Materializer) Version(ctx context.Context, v versions.Version) (*graph.Graph, error) {
	ctx, span := observability.Tracer().Start(ctx, "materialize.version",
		trace.WithAttributes(attribute.String("dataset", v.Dataset), attribute.Int64("version", v.ID)))
	defer span.End()

	if m.checkpoints == nil || m.interval <= 0 {
		return m.FullReplay(ctx, v)
	}
	start := time.Now()
	g, err := m.fromCheckpoint(ctx, v)
	if err != nil {
		span.RecordError(err)
		return nil, err
	}
	observability.MaterializeDuration.WithLabelValues("checkpoint").Observe(time.Since(start).Seconds())
	return g, nil
}

// FullReplay folds the dataset's log from genesis to v, ignoring checkpoints.
func (m *Materializer) FullReplay(ctx context.Context, v versions.Version) (*graph.Graph, error) {
	start := time.Now()
	ops, err := m.log.Scan(ctx, v.Dataset, 0, v.Range.To)
	if err != nil {
		return nil, err
	}
	g := Fold(graph.New(), ops)
	observability.MaterializeDuration.WithLabelValues("full").Observe(time.Since(start).Seconds())
	return g, nil
}

// checkpointOrdinal returns the highest checkpoint ordinal <= pos, or -1.
// Checkpoints sit at ordinals interval-1, 2*interval-1, ...
func (m *Materializer) checkpointOrdinal(pos int) int {
	return ((pos+1)/m.interval)*m.interval - 1
}

func (m *Materializer) fromCheckpoint(ctx context.Context, v versions.Version) (*graph.Graph, error) {
	pos, ok := m.index.Position(v.Dataset, v.ID)
	if !ok {
		return m.FullReplay(ctx, v)
	}

	base := graph.New()
	var fromSeq int64
	startPos := -1
	for c := m.checkpointOrdinal(pos); c >= 0; c -= m.interval {
		cv, ok := m.index.At(v.Dataset, c)
		if !ok {
			break
		}
		g, hit, err := m.checkpoints.Get(ctx, cv)
		if err != nil {
			m.logger.Warn("checkpoint read failed; replaying further back", "version", cv.String(), "error", err)
			continue
		}
		if hit {
			observability.CheckpointHitsTotal.Inc()
			base, fromSeq, startPos = g, cv.Range.To, c
			break
		}
		observability.CheckpointMissesTotal.Inc()
	}

	// replay segment by segment, storing each checkpoint passed on the way
	for c := startPos + m.interval; c <= pos; c += m.interval {
		cv, ok := m.index.At(v.Dataset, c)
		if !ok {
			return nil, fmt.Errorf("version index has no ordinal %d for %s", c, v.Dataset)
		}
		ops, err := m.log.Scan(ctx, v.Dataset, fromSeq, cv.Range.To)
		if err != nil {
			return nil, err
		}
		base = Fold(base, ops)
		fromSeq = cv.Range.To
		if err := m.checkpoints.Put(ctx, cv, base); err != nil {
			m.logger.Warn("checkpoint write failed", "version", cv.String(), "error", err)
		}
	}

	ops, err := m.log.Scan(ctx, v.Dataset, fromSeq, v.Range.To)
	if err != nil {
		return nil, err
	}
	return Fold(base, ops), nil
}

// Remember stores g as the checkpoint for v when v falls on a checkpoint
// ordinal. Commit paths call it with the graph they already hold.
func (m *Materializer) Remember(ctx context.Context, v versions.Version, g *graph.Graph) {
	if m.checkpoints == nil || m.interval <= 0 {
		return
	}
	pos, ok := m.index.Position(v.Dataset, v.ID)
	if !ok || (pos+1)%m.interval != 0 {
		return
	}
	if err := m.checkpoints.Put(ctx, v, g); err != nil {
		m.logger.Warn("checkpoint write failed", "version", v.String(), "error", err)
	}
}

// UnionLatest returns the union of every dataset's latest state.
func (m *Materializer) UnionLatest(ctx context.Context) (*graph.Graph, error) {
	parts, err := m.latestAll(ctx)
	if err != nil {
		return nil, err
	}
	out := graph.New()
	for _, g := range parts {
		out.Union(g)
	}
	return out, nil
}

// Len is the whole-store triple count. With deduplication enabled a triple
// present in several datasets counts once.
func (m *Materializer) Len(ctx context.Context) (int, error) {
	parts, err := m.latestAll(ctx)
	if err != nil {
		return 0, err
	}
	if m.dedupeUnion {
		out := graph.New()
		for _, g := range parts {
			out.Union(g)
		}
		return out.Len(), nil
	}
	n := 0
	for _, g := range parts {
		n += g.Len()
	}
	return n, nil
}

func (m *Materializer) latestAll(ctx context.Context) ([]*graph.Graph, error) {
	start := time.Now()
	datasets := m.index.Datasets()
	parts := make([]*graph.Graph, len(datasets))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(m.concurrency)
	for i, name := range datasets {
		g.Go(func() error {
			part, err := m.Latest(gctx, name)
			if err != nil {
				return fmt.Errorf("materialize %s: %w", name, err)
			}
			parts[i] = part
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	observability.MaterializeDuration.WithLabelValues("union").Observe(time.Since(start).Seconds())
	return parts, nil
}

// IterVersions yields every version across datasets ordered by creation
// time. Each iteration reads the index afresh.
func (m *Materializer) IterVersions() iter.Seq[versions.Version] {
	return func(yield func(versions.Version) bool) {
		for _, v := range m.index.ListAll() {
			if !yield(v) {
				return
			}
		}
	}
}

// Diff returns the triples added and removed going from version from to
// version to of dataset.
func (m *Materializer) Diff(ctx context.Context, dataset string, from, to int64) (added, removed []graph.Triple, err error) {
	a, err := m.At(ctx, dataset, from)
	if err != nil {
		return nil, nil, err
	}
	b, err := m.At(ctx, dataset, to)
	if err != nil {
		return nil, nil, err
	}
	return b.Difference(a), a.Difference(b), nil
}
