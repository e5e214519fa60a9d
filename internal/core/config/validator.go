package config

import (
	"fmt"
	"net"
	"os"
	"strings"

	"github.com/gobwas/glob"
)

func validateVersion(cfg *Config) error {
	if cfg.Version < 1 {
		return fmt.Errorf("version must be >= 1")
	}
	if cfg.Version > 1 {
		return fmt.Errorf("config version %d is newer than supported (1)", cfg.Version)
	}
	return nil
}

func validateStore(cfg *Config) error {
	if cfg.Store.Path == "" {
		return fmt.Errorf("store.path must not be empty")
	}
	if cfg.Store.Concurrency < 1 {
		return fmt.Errorf("store.concurrency must be >= 1")
	}
	return nil
}

func validateCheckpoint(cfg *Config) error {
	switch cfg.Checkpoint.Backend {
	case BackendMemory:
	case BackendBadger:
		if cfg.Checkpoint.Path == "" {
			return fmt.Errorf("checkpoint.path is required when checkpoint.backend is %q", BackendBadger)
		}
	default:
		return fmt.Errorf("checkpoint.backend must be one of %q, %q; got %q", BackendMemory, BackendBadger, cfg.Checkpoint.Backend)
	}
	return nil
}

func validateHooks(cfg *Config) error {
	switch cfg.Hooks.ShapesMode {
	case ShapesOff:
	case ShapesPrecommit, ShapesPostcommit:
		if cfg.Hooks.ShapesFile == "" {
			return fmt.Errorf("hooks.shapes_file is required when hooks.shapes_mode is %q", cfg.Hooks.ShapesMode)
		}
	default:
		return fmt.Errorf("hooks.shapes_mode must be one of off, precommit, postcommit; got %q", cfg.Hooks.ShapesMode)
	}
	for i, p := range cfg.Hooks.Datasets {
		if _, err := glob.Compile(p); err != nil {
			return fmt.Errorf("hooks.datasets[%d] %q is not a valid pattern: %w", i, p, err)
		}
	}
	return nil
}

func validateNotify(cfg *Config) error {
	if !cfg.Notify.Enabled {
		return nil
	}
	if !strings.HasPrefix(cfg.Notify.NATSURL, "nats://") && !strings.HasPrefix(cfg.Notify.NATSURL, "tls://") {
		return fmt.Errorf("notify.nats_url must start with nats:// or tls://; got %q", cfg.Notify.NATSURL)
	}
	if strings.ContainsAny(cfg.Notify.SubjectPrefix, " *>") {
		return fmt.Errorf("notify.subject_prefix %q must not contain spaces or wildcards", cfg.Notify.SubjectPrefix)
	}
	if cfg.Notify.OutboxPath != "" && cfg.Notify.OutboxPath == cfg.Store.Path {
		return fmt.Errorf("notify.outbox_path must differ from store.path")
	}
	return nil
}

func validateLimits(cfg *Config) error {
	if cfg.Limits.CommitRate < 0 {
		return fmt.Errorf("limits.commit_rate must be >= 0 (0 = unlimited)")
	}
	return nil
}

func validateObservability(cfg *Config) error {
	switch cfg.Observability.Tracing {
	case TracingNone, TracingStdout:
	case TracingOTLP:
		if strings.TrimSpace(cfg.Observability.OTLPEndpoint) == "" {
			return fmt.Errorf("observability.otlp_endpoint is required when observability.tracing is %q", TracingOTLP)
		}
	default:
		return fmt.Errorf("observability.tracing must be one of none, stdout, otlp; got %q", cfg.Observability.Tracing)
	}
	if cfg.Observability.Enabled {
		if _, _, err := net.SplitHostPort(cfg.Observability.Address); err != nil {
			return fmt.Errorf("observability.address %q: %w", cfg.Observability.Address, err)
		}
	}
	return nil
}

// Validate runs every check and returns all failures, including ones that
// depend on the filesystem.
func Validate(cfg *Config) []error {
	var errs []error
	for _, check := range []func(*Config) error{
		validateVersion,
		validateStore,
		validateCheckpoint,
		validateHooks,
		validateNotify,
		validateLimits,
		validateObservability,
	} {
		if err := check(cfg); err != nil {
			errs = append(errs, err)
		}
	}
	errs = append(errs, validatePaths(cfg)...)
	return errs
}

func validatePaths(cfg *Config) []error {
	var errs []error
	if cfg.Hooks.ShapesFile != "" && cfg.Hooks.ShapesMode != ShapesOff {
		stat, err := os.Stat(cfg.Hooks.ShapesFile)
		if os.IsNotExist(err) {
			errs = append(errs, fmt.Errorf("hooks.shapes_file %q does not exist", cfg.Hooks.ShapesFile))
		} else if err == nil && stat.IsDir() {
			errs = append(errs, fmt.Errorf("hooks.shapes_file %q is a directory", cfg.Hooks.ShapesFile))
		}
	}
	return errs
}
