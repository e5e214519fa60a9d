// Package txn owns the changeset lifecycle: the single-writer registry per
// dataset and the commit pipeline that runs hooks around the durable append.
package txn

import (
	"context"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"vrdf/internal/core/errors"
	"vrdf/internal/core/hooks"
	"vrdf/internal/core/ports"
	"vrdf/internal/engine/graph"
	"vrdf/internal/engine/versions"
	"vrdf/internal/shared/observability"
	"vrdf/internal/shared/util"
)

// StateReader gives the manager the committed state a commit builds on.
type StateReader interface {
	Latest(ctx context.Context, dataset string) (*graph.Graph, error)
	// Remember lets the reader keep the freshly committed graph, e.g. as a checkpoint.
	Remember(ctx context.Context, v versions.Version, g *graph.Graph)
}

type ManagerOption func(*Manager)

// WithClock replaces time.Now for version stamping.
func WithClock(now func() time.Time) ManagerOption {
	return func(m *Manager) {
		if now != nil {
			m.now = now
		}
	}
}

// WithLimits throttles commits per dataset. A nil registry means unlimited.
func WithLimits(reg *util.LimiterRegistry) ManagerOption {
	return func(m *Manager) { m.limits = reg }
}

func WithLogger(logger *slog.Logger) ManagerOption {
	return func(m *Manager) {
		if logger != nil {
			m.logger = logger
		}
	}
}

// Manager hands out changesets and commits them. At most one changeset per
// dataset is open at a time.
type Manager struct {
	log    ports.TripleLog
	index  *versions.Index
	state  StateReader
	hooks  *hooks.Registry
	limits *util.LimiterRegistry
	now    func() time.Time
	logger *slog.Logger

	mu     sync.Mutex
	open   map[string]*Changeset
	closed bool
}

func NewManager(log ports.TripleLog, index *versions.Index, state StateReader, registry *hooks.Registry, opts ...ManagerOption) *Manager {
	if registry == nil {
		registry = hooks.NewRegistry()
	}
	m := &Manager{
		log:    log,
		index:  index,
		state:  state,
		hooks:  registry,
		now:    time.Now,
		logger: slog.Default(),
		open:   make(map[string]*Changeset),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

type openConfig struct {
	version    int64
	versionSet bool
	origin     versions.Origin
	reverts    int64
}

type OpenOption func(*openConfig)

// WithVersion requests a logical version id for the commit. It must be
// positive and exceed the dataset's latest id at commit time.
func WithVersion(id int64) OpenOption {
	return func(c *openConfig) {
		c.version = id
		c.versionSet = true
	}
}

// WithOrigin marks the changeset as an undo or redo of version reverts.
func WithOrigin(origin versions.Origin, reverts int64) OpenOption {
	return func(c *openConfig) {
		c.origin = origin
		c.reverts = reverts
	}
}

// Open starts a changeset on dataset. It fails fast with CONCURRENT_WRITER
// when the dataset already has an open changeset.
func (m *Manager) Open(ctx context.Context, dataset string, opts ...OpenOption) (*Changeset, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	dataset = strings.TrimSpace(dataset)
	if dataset == "" {
		return nil, errors.New(errors.CodeValidationError, "dataset name must not be empty")
	}
	cfg := openConfig{origin: versions.OriginCommit}
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.versionSet && cfg.version <= 0 {
		return nil, errors.AddContext(
			errors.Newf(errors.CodeValidationError, "logical version id must be positive, got %d", cfg.version),
			errors.CtxDataset, dataset)
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return nil, errors.New(errors.CodeInvalidState, "store is closed")
	}
	if cur, ok := m.open[dataset]; ok {
		de := &errors.DomainError{
			Code:    errors.CodeConcurrentWriter,
			Message: "dataset already has an open changeset",
		}
		de.WithContext(errors.CtxDataset, dataset).WithContext(errors.CtxChangeset, cur.id)
		return nil, de
	}

	cs := &Changeset{
		id:        uuid.NewString(),
		dataset:   dataset,
		requested: cfg.version,
		origin:    cfg.origin,
		reverts:   cfg.reverts,
		mgr:       m,
		ops:       make([]graph.Op, 0),
		status:    StatusOpen,
	}
	m.open[dataset] = cs
	observability.OpenChangesets.Inc()
	m.logger.Debug("changeset opened", "dataset", dataset, "changeset", cs.id, "requested_version", cfg.version)
	return cs, nil
}

// IsOpen reports whether dataset has an open changeset.
func (m *Manager) IsOpen(dataset string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.open[dataset]
	return ok
}

// OpenDatasets lists datasets with an open changeset, sorted.
func (m *Manager) OpenDatasets() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return util.SortedStringKeys(m.open)
}

// Hooks exposes the registry commits run against.
func (m *Manager) Hooks() *hooks.Registry {
	return m.hooks
}

func (m *Manager) release(cs *Changeset) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.open[cs.dataset] == cs {
		delete(m.open, cs.dataset)
		observability.OpenChangesets.Dec()
	}
}

// Close refuses new changesets and aborts the open ones.
func (m *Manager) Close() {
	m.mu.Lock()
	m.closed = true
	pending := make([]*Changeset, 0, len(m.open))
	for _, cs := range m.open {
		pending = append(pending, cs)
	}
	m.mu.Unlock()

	sort.Slice(pending, func(i, j int) bool { return pending[i].dataset < pending[j].dataset })
	for _, cs := range pending {
		if err := cs.Abort(); err == nil {
			m.logger.Info("aborted open changeset on close", "dataset", cs.dataset, "changeset", cs.id)
		}
	}
}

// resolveVersion picks the id for a commit on dataset. Clock ids that would
// not advance the dataset are bumped to latest+1.
func (m *Manager) resolveVersion(cs *Changeset, now time.Time) (int64, versions.Kind, error) {
	latest, hasLatest := m.index.Latest(cs.dataset)
	if cs.requested > 0 {
		if hasLatest && cs.requested <= latest.ID {
			de := &errors.DomainError{
				Code:    errors.CodeOrderingViolation,
				Message: "version id must be greater than the dataset's latest",
			}
			de.WithContext(errors.CtxDataset, cs.dataset).
				WithContext(errors.CtxVersion, cs.requested).
				WithContext("latest", latest.ID)
			return 0, "", de
		}
		return cs.requested, versions.KindLogical, nil
	}
	id := now.UnixNano()
	if hasLatest && id <= latest.ID {
		id = latest.ID + 1
	}
	return id, versions.KindClock, nil
}
