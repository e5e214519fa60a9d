// Package store wires the triple log, version index, checkpoints, hooks and
// transaction manager into the store applications open.
package store

import (
	"context"
	stderrors "errors"
	"fmt"
	"io"
	"iter"
	"log/slog"
	"sync"
	"time"

	"vrdf/internal/core/config"
	"vrdf/internal/core/errors"
	"vrdf/internal/core/hooks"
	"vrdf/internal/core/ports"
	"vrdf/internal/core/txn"
	"vrdf/internal/data/checkpoint"
	"vrdf/internal/data/notify"
	"vrdf/internal/data/queue"
	"vrdf/internal/data/triplelog"
	"vrdf/internal/engine/graph"
	"vrdf/internal/engine/materialize"
	"vrdf/internal/engine/shapes"
	"vrdf/internal/engine/versions"
	"vrdf/internal/shared/util"
)

const (
	ShapesHookName = "shapes"
	NotifyHookName = "notify"
)

type options struct {
	logger    *slog.Logger
	clock     func() time.Time
	publisher ports.Publisher
}

type Option func(*options)

func WithLogger(logger *slog.Logger) Option {
	return func(o *options) { o.logger = logger }
}

// WithClock replaces time.Now for version timestamps and clock ids.
func WithClock(now func() time.Time) Option {
	return func(o *options) { o.clock = now }
}

// WithPublisher sends commit notifications through pub instead of dialing
// the configured NATS server. It only matters when notify is enabled.
func WithPublisher(pub ports.Publisher) Option {
	return func(o *options) { o.publisher = pub }
}

// Store is a versioned, multi-dataset triple store. All methods are safe for
// concurrent use.
type Store struct {
	cfg         *config.Config
	log         *triplelog.Store
	index       *versions.Index
	checkpoints ports.CheckpointStore
	mat         *materialize.Materializer
	hooks       *hooks.Registry
	txns        *txn.Manager
	limits      *util.LimiterRegistry
	closers     []io.Closer
	spool       *notify.SpoolingPublisher
	logger      *slog.Logger

	stopBackground context.CancelFunc
	background     sync.WaitGroup

	closeOnce sync.Once
	closeErr  error
}

// Open opens or creates the store described by cfg. A nil cfg uses the
// defaults. The version index is rebuilt from the log.
func Open(ctx context.Context, cfg *config.Config, opts ...Option) (_ *Store, err error) {
	if cfg == nil {
		cfg = config.DefaultConfig()
	}
	o := options{logger: slog.Default()}
	for _, opt := range opts {
		opt(&o)
	}
	if o.logger == nil {
		o.logger = slog.Default()
	}

	s := &Store{cfg: cfg, index: versions.NewIndex(), hooks: hooks.NewRegistry(), logger: o.logger}
	defer func() {
		if err != nil {
			_ = s.closeResources()
		}
	}()

	s.log, err = triplelog.OpenWithOptions(cfg.Store.Path, triplelog.Options{BusyTimeout: cfg.Store.BusyTimeout})
	if err != nil {
		return nil, err
	}
	recorded, err := s.log.Versions(ctx)
	if err != nil {
		return nil, err
	}
	if err := s.index.Load(recorded); err != nil {
		return nil, errors.Wrap(err, errors.CodeInternal, "rebuild version index")
	}

	if err := s.openCheckpoints(); err != nil {
		return nil, err
	}
	s.mat = materialize.New(s.log, s.index,
		materialize.WithCheckpoints(s.checkpoints, cfg.Checkpoint.Interval),
		materialize.WithDedupeUnion(cfg.Store.DedupeUnionEnabled()),
		materialize.WithConcurrency(cfg.Store.Concurrency),
		materialize.WithLogger(o.logger))

	if cfg.Limits.CommitRate > 0 {
		s.limits = util.NewLimiterRegistry(cfg.Limits.CommitRate, cfg.Limits.CommitBurst, 10*time.Minute)
	}
	s.txns = txn.NewManager(s.log, s.index, s.mat, s.hooks,
		txn.WithClock(o.clock),
		txn.WithLimits(s.limits),
		txn.WithLogger(o.logger))

	if err := s.registerShapes(); err != nil {
		return nil, err
	}
	if err := s.registerNotify(o.publisher); err != nil {
		return nil, err
	}

	o.logger.Info("store opened",
		"path", s.log.Path(),
		"datasets", len(s.index.Datasets()),
		"versions", s.index.Len(),
		"checkpoint_interval", cfg.Checkpoint.Interval)
	return s, nil
}

// OpenPath opens the store at path with default settings.
func OpenPath(ctx context.Context, path string, opts ...Option) (*Store, error) {
	cfg := config.DefaultConfig()
	cfg.Store.Path = path
	return Open(ctx, cfg, opts...)
}

func (s *Store) openCheckpoints() error {
	cp := s.cfg.Checkpoint
	if cp.Interval <= 0 {
		return nil
	}
	hot := checkpoint.NewMemoryStore(cp.CacheSize)
	if cp.Backend != config.BackendBadger {
		s.checkpoints = hot
		return nil
	}
	bcfg := checkpoint.DefaultBadgerConfig(cp.Path)
	bcfg.GCInterval = cp.GCInterval
	bcfg.Logger = s.logger
	cold, err := checkpoint.OpenBadger(bcfg)
	if err != nil {
		return err
	}
	s.checkpoints = checkpoint.NewTiered(hot, cold)
	return nil
}

func (s *Store) registerShapes() error {
	return s.ReloadShapes(s.cfg.Hooks)
}

// ReloadShapes swaps the shapes hook for one built from hc. When the rules
// fail to load the previous hook stays registered.
func (s *Store) ReloadShapes(hc config.Hooks) error {
	if hc.ShapesMode == config.ShapesOff || hc.ShapesFile == "" {
		s.hooks.Unregister(hooks.Precommit, ShapesHookName)
		s.hooks.Unregister(hooks.Postcommit, ShapesHookName)
		return nil
	}
	v, err := shapes.Load(hc.ShapesFile)
	if err != nil {
		return errors.AddContext(errors.Wrap(err, errors.CodeValidationError, "load shapes"), errors.CtxPath, hc.ShapesFile)
	}
	phase, other := hooks.Precommit, hooks.Postcommit
	if hc.ShapesMode == config.ShapesPostcommit {
		phase, other = other, phase
	}
	s.hooks.Unregister(other, ShapesHookName)
	if err := s.hooks.Register(phase, ShapesHookName, hooks.FromValidator(v), hooks.ForDatasets(hc.Datasets...)); err != nil {
		return err
	}
	s.logger.Info("shapes hook loaded", "path", hc.ShapesFile, "phase", phase, "rules", len(v.Shapes()))
	return nil
}

func (s *Store) registerNotify(pub ports.Publisher) error {
	nc := s.cfg.Notify
	if !nc.Enabled {
		return nil
	}
	if pub == nil {
		conn, err := notify.Connect(nc.NATSURL, nc.Timeout)
		if err != nil {
			return errors.Wrap(err, errors.CodeIOFailure, "connect notifier")
		}
		s.closers = append(s.closers, conn)
		pub = conn
	}
	if nc.OutboxPath != "" {
		ob, err := queue.OpenOutbox(nc.OutboxPath)
		if err != nil {
			return errors.AddContext(errors.Wrap(err, errors.CodeIOFailure, "open notify outbox"), errors.CtxPath, nc.OutboxPath)
		}
		s.closers = append(s.closers, ob)
		s.spool = notify.NewSpoolingPublisher(pub, ob, nc.RetryInterval, nc.MaxAttempts, s.logger)
		pub = s.spool

		ctx, cancel := context.WithCancel(context.Background())
		s.stopBackground = cancel
		s.background.Add(1)
		go func() {
			defer s.background.Done()
			s.spool.Run(ctx)
		}()
	}
	n := notify.NewNotifier(pub, nc.SubjectPrefix, true)
	return s.hooks.Register(hooks.Postcommit, NotifyHookName, n.Hook())
}

func (s *Store) Config() *config.Config { return s.cfg }

// Begin opens a changeset on dataset. The caller must Commit or Abort it;
// a second Begin on the same dataset fails with CONCURRENT_WRITER meanwhile.
func (s *Store) Begin(ctx context.Context, dataset string, opts ...txn.OpenOption) (*txn.Changeset, error) {
	return s.txns.Open(ctx, dataset, opts...)
}

// Update runs fn inside a changeset and commits it when fn returns nil. An
// error or panic from fn aborts the changeset; the panic is re-raised.
func (s *Store) Update(ctx context.Context, dataset string, fn func(*txn.Changeset) error, opts ...txn.OpenOption) (*txn.CommitResult, error) {
	cs, err := s.Begin(ctx, dataset, opts...)
	if err != nil {
		return nil, err
	}
	defer func() {
		if rec := recover(); rec != nil {
			_ = cs.Abort()
			panic(rec)
		}
	}()

	if err := fn(cs); err != nil {
		_ = cs.Abort()
		return nil, err
	}
	switch cs.Status() {
	case txn.StatusCommitted:
		res, _ := cs.Result()
		return res, nil
	case txn.StatusAborted:
		return nil, errors.AddContext(errors.New(errors.CodeInvalidState, "changeset was aborted inside update"), errors.CtxChangeset, cs.ID())
	}
	return cs.Commit(ctx)
}

// Load commits every triple of an N-Triples document to dataset as one version.
func (s *Store) Load(ctx context.Context, dataset string, r io.Reader, opts ...txn.OpenOption) (*txn.CommitResult, int, error) {
	var n int
	res, err := s.Update(ctx, dataset, func(cs *txn.Changeset) error {
		var err error
		n, err = cs.LoadNTriples(r)
		return err
	}, opts...)
	if err != nil {
		return nil, 0, err
	}
	return res, n, nil
}

// RegisterHook adds or replaces a named hook. Replacing keeps the position.
func (s *Store) RegisterHook(phase hooks.Phase, name string, fn hooks.Func, opts ...hooks.Option) error {
	return s.hooks.Register(phase, name, fn, opts...)
}

func (s *Store) UnregisterHook(phase hooks.Phase, name string) bool {
	return s.hooks.Unregister(phase, name)
}

func (s *Store) HookNames(phase hooks.Phase) []string {
	return s.hooks.Names(phase)
}

// Latest is the dataset's state at its highest version; empty when the
// dataset has no versions.
func (s *Store) Latest(ctx context.Context, dataset string) (*graph.Graph, error) {
	return s.mat.Latest(ctx, dataset)
}

// At is the dataset's state at exactly version id.
func (s *Store) At(ctx context.Context, dataset string, id int64) (*graph.Graph, error) {
	return s.mat.At(ctx, dataset, id)
}

// AsOf is the dataset's state at the last version created at or before t.
func (s *Store) AsOf(ctx context.Context, dataset string, t time.Time) (*graph.Graph, error) {
	return s.mat.AsOf(ctx, dataset, t)
}

func (s *Store) UnionLatest(ctx context.Context) (*graph.Graph, error) {
	return s.mat.UnionLatest(ctx)
}

// Len is the whole-store triple count at latest; see store.dedupe_union.
func (s *Store) Len(ctx context.Context) (int, error) {
	return s.mat.Len(ctx)
}

// IterVersions yields every version across datasets by creation time.
func (s *Store) IterVersions() iter.Seq[versions.Version] {
	return s.mat.IterVersions()
}

// Versions lists dataset's versions in ascending id order.
func (s *Store) Versions(dataset string) []versions.Version {
	return s.index.List(dataset)
}

// Version resolves a version record; id may be versions.Latest.
func (s *Store) Version(dataset string, id int64) (versions.Version, error) {
	return s.index.Resolve(dataset, id)
}

func (s *Store) Datasets() []string {
	return s.index.Datasets()
}

func (s *Store) Diff(ctx context.Context, dataset string, from, to int64) (added, removed []graph.Triple, err error) {
	return s.mat.Diff(ctx, dataset, from, to)
}

// Ops returns the logged operations of one version in log order.
func (s *Store) Ops(ctx context.Context, v versions.Version) ([]graph.Op, error) {
	return s.log.Scan(ctx, v.Dataset, v.Range.From, v.Range.To)
}

// LogLen counts log entries for dataset, or the whole log when dataset is "".
func (s *Store) LogLen(ctx context.Context, dataset string) (int64, error) {
	return s.log.Count(ctx, dataset)
}

// Close aborts open changesets and releases every resource. Calling it again
// returns the first result.
func (s *Store) Close() error {
	s.closeOnce.Do(func() {
		if s.txns != nil {
			s.txns.Close()
		}
		s.closeErr = s.closeResources()
		s.logger.Info("store closed")
	})
	return s.closeErr
}

func (s *Store) closeResources() error {
	if s.stopBackground != nil {
		s.stopBackground()
		s.background.Wait()
	}
	var errs []error
	if s.limits != nil {
		s.limits.Close()
	}
	for i := len(s.closers) - 1; i >= 0; i-- {
		if err := s.closers[i].Close(); err != nil {
			errs = append(errs, fmt.Errorf("close notifier: %w", err))
		}
	}
	if s.checkpoints != nil {
		if err := s.checkpoints.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close checkpoints: %w", err))
		}
	}
	if s.log != nil {
		if err := s.log.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close log: %w", err))
		}
	}
	return stderrors.Join(errs...)
}
