package watcher

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"vrdf/internal/core/errors"
	"vrdf/internal/core/txn"
	"vrdf/internal/engine/graph"
	"vrdf/internal/engine/ntriples"
	"vrdf/internal/shared/observability"
)

// Target is the slice of the store a Mirror writes through.
type Target interface {
	Latest(ctx context.Context, dataset string) (*graph.Graph, error)
	Update(ctx context.Context, dataset string, fn func(*txn.Changeset) error, opts ...txn.OpenOption) (*txn.CommitResult, error)
}

// Mirror keeps each document under Root in a dataset named after its path
// relative to Root, without the extension. A sync commits only the
// difference between the document and the dataset's latest state.
// Deleting a document leaves its dataset untouched.
type Mirror struct {
	Root   string
	target Target
	logger *slog.Logger
}

func NewMirror(root string, target Target, logger *slog.Logger) *Mirror {
	if logger == nil {
		logger = slog.Default()
	}
	return &Mirror{Root: root, target: target, logger: logger}
}

// DatasetFor maps a document path to its dataset name.
func (m *Mirror) DatasetFor(path string) (string, error) {
	rel, err := filepath.Rel(m.Root, path)
	if err != nil {
		return "", err
	}
	rel = filepath.ToSlash(rel)
	if strings.HasPrefix(rel, "../") {
		return "", fmt.Errorf("%s is outside %s", path, m.Root)
	}
	return strings.TrimSuffix(rel, filepath.Ext(rel)), nil
}

// SyncFile brings the document's dataset in line with the file. It returns
// nil when nothing needed committing.
func (m *Mirror) SyncFile(ctx context.Context, path string) (*txn.CommitResult, error) {
	dataset, err := m.DatasetFor(path)
	if err != nil {
		return nil, errors.Wrap(err, errors.CodeValidationError, "map document to dataset")
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, errors.AddContext(errors.Wrap(err, errors.CodeIOFailure, "open document"), errors.CtxPath, path)
	}
	defer f.Close()
	triples, err := ntriples.ReadAll(f)
	if err != nil {
		return nil, errors.AddContext(errors.Wrap(err, errors.CodeValidationError, "parse document"), errors.CtxPath, path)
	}

	want := graph.New(triples...)
	have, err := m.target.Latest(ctx, dataset)
	if err != nil {
		return nil, err
	}
	ops := make([]graph.Op, 0)
	for _, t := range have.Difference(want) {
		ops = append(ops, graph.Remove(t))
	}
	for _, t := range want.Difference(have) {
		ops = append(ops, graph.Add(t))
	}
	if len(ops) == 0 {
		observability.MirrorSyncsTotal.WithLabelValues("unchanged").Inc()
		return nil, nil
	}

	res, err := m.target.Update(ctx, dataset, func(cs *txn.Changeset) error {
		return cs.Stage("mirror", ops...)
	})
	if err != nil {
		return nil, err
	}
	observability.MirrorSyncsTotal.WithLabelValues("committed").Inc()
	m.logger.Info("document synced",
		"path", path,
		"dataset", dataset,
		"version", res.Version.ID,
		"ops", len(ops))
	return res, nil
}

// SyncAll syncs every document under Root. It keeps going past failures and
// returns the first one.
func (m *Mirror) SyncAll(ctx context.Context, w *Watcher) (int, error) {
	var first error
	committed := 0
	for _, path := range w.Documents(m.Root) {
		res, err := m.sync(ctx, path)
		if err != nil && first == nil {
			first = err
		}
		if res != nil {
			committed++
		}
	}
	return committed, first
}

func (m *Mirror) sync(ctx context.Context, path string) (*txn.CommitResult, error) {
	if _, err := os.Stat(path); os.IsNotExist(err) {
		m.logger.Info("document removed; dataset kept", "path", path)
		return nil, nil
	}
	res, err := m.SyncFile(ctx, path)
	if err != nil {
		observability.MirrorSyncsTotal.WithLabelValues("failed").Inc()
		m.logger.Warn("document sync failed", "path", path, "error", err)
	}
	return res, err
}

// Run syncs Root once, then follows changes until ctx ends.
func (m *Mirror) Run(ctx context.Context, debounce time.Duration, excludeDirs, excludeFiles []string) error {
	w, err := NewWatcher(debounce, excludeDirs, excludeFiles, func(paths []string) {
		for _, p := range paths {
			_, _ = m.sync(ctx, p)
		}
	})
	if err != nil {
		return err
	}
	defer w.Close()

	if n, err := m.SyncAll(ctx, w); err != nil {
		m.logger.Warn("initial sync incomplete", "committed", n, "error", err)
	}
	if err := w.Watch(m.Root); err != nil {
		return err
	}
	<-ctx.Done()
	return nil
}
