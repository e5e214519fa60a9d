package store

import (
	"context"

	"vrdf/internal/core/errors"
	"vrdf/internal/core/txn"
	"vrdf/internal/engine/graph"
	"vrdf/internal/engine/versions"
)

// UndoLast reverts the dataset's latest version by committing its inverse as
// a new version. History is never rewritten: the reverted version stays
// readable with At. Only operations that changed membership are inverted, so
// the new latest equals the state before the reverted version exactly. The
// compensating version therefore logs only those inverses, and its op count
// can be smaller than the reverted version's.
func (s *Store) UndoLast(ctx context.Context, dataset string) (*txn.CommitResult, error) {
	latest, ok := s.index.Latest(dataset)
	if !ok {
		return nil, errors.AddContext(errors.New(errors.CodeNotFound, "nothing to undo"), errors.CtxDataset, dataset)
	}
	return s.revert(ctx, latest, versions.OriginUndo)
}

// Redo re-applies the changeset most recently reverted by UndoLast. It only
// applies while the latest version is that undo; any later commit ends the
// redo window.
func (s *Store) Redo(ctx context.Context, dataset string) (*txn.CommitResult, error) {
	latest, ok := s.index.Latest(dataset)
	if !ok || latest.Origin != versions.OriginUndo {
		return nil, errors.AddContext(errors.New(errors.CodeNotFound, "nothing to redo"), errors.CtxDataset, dataset)
	}
	return s.revert(ctx, latest, versions.OriginRedo)
}

func (s *Store) revert(ctx context.Context, target versions.Version, origin versions.Origin) (*txn.CommitResult, error) {
	prior, err := s.stateBefore(ctx, target)
	if err != nil {
		return nil, err
	}
	ops, err := s.Ops(ctx, target)
	if err != nil {
		return nil, err
	}
	inverse := graph.InvertOps(graph.EffectiveOps(prior, ops))

	opts := []txn.OpenOption{txn.WithOrigin(origin, target.ID)}
	if target.Kind == versions.KindLogical {
		opts = append(opts, txn.WithVersion(target.ID+1))
	}
	res, err := s.Update(ctx, target.Dataset, func(cs *txn.Changeset) error {
		return cs.Stage(string(origin), inverse...)
	}, opts...)
	if err != nil {
		return nil, err
	}
	s.logger.Info("version reverted",
		"reverted", target.String(),
		"version", res.Version.String(),
		"origin", string(origin),
		"ops", len(inverse))
	return res, nil
}

// stateBefore materializes the dataset at the version preceding v.
func (s *Store) stateBefore(ctx context.Context, v versions.Version) (*graph.Graph, error) {
	pos, ok := s.index.Position(v.Dataset, v.ID)
	if !ok {
		return nil, errors.AddContext(errors.Newf(errors.CodeNotFound, "version %d not indexed", v.ID), errors.CtxDataset, v.Dataset)
	}
	if pos == 0 {
		return graph.New(), nil
	}
	prev, _ := s.index.At(v.Dataset, pos-1)
	return s.mat.Version(ctx, prev)
}
