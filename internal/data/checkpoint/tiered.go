package checkpoint

import (
	"context"
	"errors"

	"vrdf/internal/core/ports"
	"vrdf/internal/engine/graph"
	"vrdf/internal/engine/versions"
)

// Tiered reads through a hot store to a cold one and promotes cold hits.
// Writes go to both.
type Tiered struct {
	hot  ports.CheckpointStore
	cold ports.CheckpointStore
}

func NewTiered(hot, cold ports.CheckpointStore) *Tiered {
	return &Tiered{hot: hot, cold: cold}
}

func (t *Tiered) Get(ctx context.Context, v versions.Version) (*graph.Graph, bool, error) {
	if g, ok, err := t.hot.Get(ctx, v); err != nil || ok {
		return g, ok, err
	}
	g, ok, err := t.cold.Get(ctx, v)
	if err != nil || !ok {
		return nil, false, err
	}
	if err := t.hot.Put(ctx, v, g); err != nil {
		return nil, false, err
	}
	return g, true, nil
}

func (t *Tiered) Put(ctx context.Context, v versions.Version, g *graph.Graph) error {
	if err := t.hot.Put(ctx, v, g); err != nil {
		return err
	}
	return t.cold.Put(ctx, v, g)
}

func (t *Tiered) Close() error {
	return errors.Join(t.hot.Close(), t.cold.Close())
}
