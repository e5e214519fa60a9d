package checkpoint

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"time"

	"github.com/dgraph-io/badger/v4"

	"vrdf/internal/engine/graph"
	"vrdf/internal/engine/ntriples"
	"vrdf/internal/engine/versions"
)

// BadgerConfig configures the persistent checkpoint store.
type BadgerConfig struct {
	// Path is the database directory. Ignored when InMemory is set.
	Path       string
	InMemory   bool
	SyncWrites bool
	// Logger receives badger's own log lines; nil silences them.
	Logger *slog.Logger
	// GCInterval triggers value log GC periodically; 0 disables it.
	GCInterval time.Duration
}

func DefaultBadgerConfig(path string) BadgerConfig {
	return BadgerConfig{Path: path, GCInterval: 5 * time.Minute}
}

type badgerLogger struct {
	logger *slog.Logger
}

func (l *badgerLogger) Errorf(format string, args ...interface{}) {
	l.logger.Error(fmt.Sprintf(format, args...))
}

func (l *badgerLogger) Warningf(format string, args ...interface{}) {
	l.logger.Warn(fmt.Sprintf(format, args...))
}

func (l *badgerLogger) Infof(format string, args ...interface{}) {
	l.logger.Info(fmt.Sprintf(format, args...))
}

func (l *badgerLogger) Debugf(format string, args ...interface{}) {
	l.logger.Debug(fmt.Sprintf(format, args...))
}

// BadgerStore persists checkpoints as N-Triples documents so they survive
// restarts and stay readable with standard tooling.
type BadgerStore struct {
	db     *badger.DB
	logger *slog.Logger

	stopOnce sync.Once
	stopCh   chan struct{}
	doneCh   chan struct{}
}

func OpenBadger(cfg BadgerConfig) (*BadgerStore, error) {
	if !cfg.InMemory && cfg.Path == "" {
		return nil, errors.New("checkpoint path is required for a persistent store")
	}

	var opts badger.Options
	if cfg.InMemory {
		opts = badger.DefaultOptions("").WithInMemory(true)
	} else {
		if err := os.MkdirAll(cfg.Path, 0o750); err != nil {
			return nil, fmt.Errorf("create checkpoint directory %s: %w", cfg.Path, err)
		}
		opts = badger.DefaultOptions(cfg.Path)
	}
	opts = opts.WithSyncWrites(cfg.SyncWrites).WithNumVersionsToKeep(1)
	if cfg.Logger != nil {
		opts = opts.WithLogger(&badgerLogger{logger: cfg.Logger})
	} else {
		opts = opts.WithLogger(nil)
	}

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("open badger checkpoint store: %w", err)
	}

	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	s := &BadgerStore{db: db, logger: logger, stopCh: make(chan struct{}), doneCh: make(chan struct{})}
	if cfg.GCInterval > 0 && !cfg.InMemory {
		go s.runGC(cfg.GCInterval)
	} else {
		close(s.doneCh)
	}
	return s, nil
}

func (s *BadgerStore) Get(_ context.Context, v versions.Version) (*graph.Graph, bool, error) {
	var raw []byte
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get([]byte(KeyOf(v).String()))
		if err != nil {
			return err
		}
		raw, err = item.ValueCopy(nil)
		return err
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("read checkpoint %s: %w", v, err)
	}

	triples, err := ntriples.ReadAll(bytes.NewReader(raw))
	if err != nil {
		return nil, false, fmt.Errorf("decode checkpoint %s: %w", v, err)
	}
	return graph.New(triples...), true, nil
}

func (s *BadgerStore) Put(_ context.Context, v versions.Version, g *graph.Graph) error {
	var buf bytes.Buffer
	if err := ntriples.WriteGraph(&buf, g); err != nil {
		return fmt.Errorf("encode checkpoint %s: %w", v, err)
	}
	err := s.db.Update(func(txn *badger.Txn) error {
		return txn.Set([]byte(KeyOf(v).String()), buf.Bytes())
	})
	if err != nil {
		return fmt.Errorf("write checkpoint %s: %w", v, err)
	}
	return nil
}

// Keys lists stored checkpoint keys for dataset in version order.
func (s *BadgerStore) Keys(dataset string) ([]string, error) {
	prefix := []byte("cp/" + dataset + "/")
	out := make([]string, 0)
	err := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = false
		it := txn.NewIterator(opts)
		defer it.Close()
		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			out = append(out, string(it.Item().KeyCopy(nil)))
		}
		return nil
	})
	return out, err
}

func (s *BadgerStore) runGC(interval time.Duration) {
	defer close(s.doneCh)
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-s.stopCh:
			return
		case <-ticker.C:
			err := s.db.RunValueLogGC(0.5)
			if err != nil && !errors.Is(err, badger.ErrNoRewrite) {
				s.logger.Warn("checkpoint value log GC failed", "error", err)
			}
		}
	}
}

func (s *BadgerStore) Close() error {
	s.stopOnce.Do(func() { close(s.stopCh) })
	<-s.doneCh
	return s.db.Close()
}
