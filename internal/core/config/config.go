package config

import (
	"os"
	"strings"
	"time"

	"github.com/BurntSushi/toml"

	"vrdf/internal/shared/version"
)

type Config struct {
	Version       int           `toml:"version"`
	Store         Store         `toml:"store"`
	Checkpoint    Checkpoint    `toml:"checkpoint"`
	Hooks         Hooks         `toml:"hooks"`
	Notify        Notify        `toml:"notify"`
	Limits        Limits        `toml:"limits"`
	Observability Observability `toml:"observability"`
	Watch         Watch         `toml:"watch"`
}

type Store struct {
	Path        string        `toml:"path"`
	BusyTimeout time.Duration `toml:"busy_timeout"`
	// DedupeUnion makes the whole-store count treat a triple present in
	// several datasets as one.
	DedupeUnion *bool `toml:"dedupe_union"`
	Concurrency int   `toml:"concurrency"`
}

type Checkpoint struct {
	// Interval is the number of versions between checkpoints of a dataset.
	// A negative interval disables checkpointing.
	Interval   int           `toml:"interval"`
	CacheSize  int           `toml:"cache_size"`
	Backend    string        `toml:"backend"`
	Path       string        `toml:"path"`
	GCInterval time.Duration `toml:"gc_interval"`
}

type Hooks struct {
	ShapesFile string   `toml:"shapes_file"`
	ShapesMode string   `toml:"shapes_mode"`
	Datasets   []string `toml:"datasets"`
}

type Notify struct {
	Enabled       bool          `toml:"enabled"`
	NATSURL       string        `toml:"nats_url"`
	SubjectPrefix string        `toml:"subject_prefix"`
	Timeout       time.Duration `toml:"timeout"`
	// OutboxPath spools events that fail to publish; empty disables it.
	OutboxPath    string        `toml:"outbox_path"`
	RetryInterval time.Duration `toml:"retry_interval"`
	MaxAttempts   int           `toml:"max_attempts"`
}

type Limits struct {
	CommitRate  float64 `toml:"commit_rate"`
	CommitBurst int     `toml:"commit_burst"`
}

type Observability struct {
	Enabled      bool   `toml:"enabled"`
	Address      string `toml:"address"`
	Tracing      string `toml:"tracing"`
	OTLPEndpoint string `toml:"otlp_endpoint"`
	OTLPInsecure bool   `toml:"otlp_insecure"`
	ServiceName  string `toml:"service_name"`
}

type Watch struct {
	Debounce time.Duration `toml:"debounce"`
}

const (
	BackendMemory = "memory"
	BackendBadger = "badger"

	ShapesOff        = "off"
	ShapesPrecommit  = "precommit"
	ShapesPostcommit = "postcommit"

	TracingNone   = "none"
	TracingStdout = "stdout"
	TracingOTLP   = "otlp"
)

// DefaultConfig is what an empty file loads to.
func DefaultConfig() *Config {
	cfg := &Config{}
	applyDefaults(cfg)
	return cfg
}

// Load reads a TOML file, fills defaults, applies VRDF_* environment
// overrides and validates the result.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return Parse(string(data))
}

// Parse is Load without the file read.
func Parse(data string) (*Config, error) {
	var cfg Config
	if _, err := toml.Decode(data, &cfg); err != nil {
		return nil, err
	}

	applyDefaults(&cfg)
	ApplyEnvOverrides(&cfg)
	normalize(&cfg)

	if err := validateVersion(&cfg); err != nil {
		return nil, err
	}
	if err := validateStore(&cfg); err != nil {
		return nil, err
	}
	if err := validateCheckpoint(&cfg); err != nil {
		return nil, err
	}
	if err := validateHooks(&cfg); err != nil {
		return nil, err
	}
	if err := validateNotify(&cfg); err != nil {
		return nil, err
	}
	if err := validateLimits(&cfg); err != nil {
		return nil, err
	}
	if err := validateObservability(&cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func applyDefaults(cfg *Config) {
	if cfg.Version == 0 {
		cfg.Version = 1
	}

	if strings.TrimSpace(cfg.Store.Path) == "" {
		cfg.Store.Path = "data/vrdf.db"
	}
	if cfg.Store.BusyTimeout <= 0 {
		cfg.Store.BusyTimeout = 5 * time.Second
	}
	if cfg.Store.DedupeUnion == nil {
		enabled := true
		cfg.Store.DedupeUnion = &enabled
	}
	if cfg.Store.Concurrency <= 0 {
		cfg.Store.Concurrency = 4
	}

	if cfg.Checkpoint.Interval == 0 {
		cfg.Checkpoint.Interval = 16
	}
	if cfg.Checkpoint.CacheSize <= 0 {
		cfg.Checkpoint.CacheSize = 64
	}
	if strings.TrimSpace(cfg.Checkpoint.Backend) == "" {
		cfg.Checkpoint.Backend = BackendMemory
	}
	if strings.TrimSpace(cfg.Checkpoint.Path) == "" {
		cfg.Checkpoint.Path = "data/checkpoints"
	}
	if cfg.Checkpoint.GCInterval <= 0 {
		cfg.Checkpoint.GCInterval = 10 * time.Minute
	}

	if strings.TrimSpace(cfg.Hooks.ShapesMode) == "" {
		if strings.TrimSpace(cfg.Hooks.ShapesFile) == "" {
			cfg.Hooks.ShapesMode = ShapesOff
		} else {
			cfg.Hooks.ShapesMode = ShapesPrecommit
		}
	}

	if strings.TrimSpace(cfg.Notify.NATSURL) == "" {
		cfg.Notify.NATSURL = "nats://127.0.0.1:4222"
	}
	if strings.TrimSpace(cfg.Notify.SubjectPrefix) == "" {
		cfg.Notify.SubjectPrefix = "vrdf.commits"
	}
	if cfg.Notify.Timeout <= 0 {
		cfg.Notify.Timeout = 2 * time.Second
	}
	if cfg.Notify.RetryInterval <= 0 {
		cfg.Notify.RetryInterval = 5 * time.Second
	}
	if cfg.Notify.MaxAttempts <= 0 {
		cfg.Notify.MaxAttempts = 20
	}

	if cfg.Limits.CommitBurst <= 0 {
		cfg.Limits.CommitBurst = 1
	}

	if strings.TrimSpace(cfg.Observability.Address) == "" {
		cfg.Observability.Address = "127.0.0.1:9464"
	}
	if strings.TrimSpace(cfg.Observability.Tracing) == "" {
		cfg.Observability.Tracing = TracingNone
	}
	if strings.TrimSpace(cfg.Observability.ServiceName) == "" {
		cfg.Observability.ServiceName = "vrdf"
	}

	if cfg.Watch.Debounce <= 0 {
		cfg.Watch.Debounce = 100 * time.Millisecond
	}
}

func normalize(cfg *Config) {
	cfg.Store.Path = strings.TrimSpace(cfg.Store.Path)
	cfg.Checkpoint.Backend = strings.ToLower(strings.TrimSpace(cfg.Checkpoint.Backend))
	cfg.Checkpoint.Path = strings.TrimSpace(cfg.Checkpoint.Path)
	cfg.Notify.OutboxPath = strings.TrimSpace(cfg.Notify.OutboxPath)
	cfg.Hooks.ShapesFile = strings.TrimSpace(cfg.Hooks.ShapesFile)
	cfg.Hooks.ShapesMode = strings.ToLower(strings.TrimSpace(cfg.Hooks.ShapesMode))
	cfg.Observability.Tracing = strings.ToLower(strings.TrimSpace(cfg.Observability.Tracing))

	if len(cfg.Hooks.Datasets) == 0 {
		return
	}
	patterns := make([]string, 0, len(cfg.Hooks.Datasets))
	for _, p := range cfg.Hooks.Datasets {
		p = strings.TrimSpace(p)
		if p == "" {
			continue
		}
		patterns = append(patterns, p)
	}
	cfg.Hooks.Datasets = patterns
}

// DedupeUnionEnabled reads the pointer default.
func (s Store) DedupeUnionEnabled() bool {
	return s.DedupeUnion == nil || *s.DedupeUnion
}

// ServiceVersion is reported by tracing resources.
func (o Observability) ServiceVersion() string {
	return version.Version
}
