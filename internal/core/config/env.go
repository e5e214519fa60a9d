package config

import (
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"
)

// ApplyEnvOverrides applies environment variable overrides to the configuration.
// Pattern: VRDF_[SECTION]_[KEY] (e.g., VRDF_CHECKPOINT_INTERVAL).
func ApplyEnvOverrides(cfg *Config) {
	// Store
	setEnvString(&cfg.Store.Path, "VRDF_STORE_PATH")
	setEnvDuration(&cfg.Store.BusyTimeout, "VRDF_STORE_BUSY_TIMEOUT")
	setEnvBoolPtr(&cfg.Store.DedupeUnion, "VRDF_STORE_DEDUPE_UNION")
	setEnvInt(&cfg.Store.Concurrency, "VRDF_STORE_CONCURRENCY")

	// Checkpoint
	setEnvInt(&cfg.Checkpoint.Interval, "VRDF_CHECKPOINT_INTERVAL")
	setEnvInt(&cfg.Checkpoint.CacheSize, "VRDF_CHECKPOINT_CACHE_SIZE")
	setEnvString(&cfg.Checkpoint.Backend, "VRDF_CHECKPOINT_BACKEND")
	setEnvString(&cfg.Checkpoint.Path, "VRDF_CHECKPOINT_PATH")

	// Hooks
	setEnvString(&cfg.Hooks.ShapesFile, "VRDF_HOOKS_SHAPES_FILE")
	setEnvString(&cfg.Hooks.ShapesMode, "VRDF_HOOKS_SHAPES_MODE")
	setEnvList(&cfg.Hooks.Datasets, "VRDF_HOOKS_DATASETS")

	// Notify
	setEnvBool(&cfg.Notify.Enabled, "VRDF_NOTIFY_ENABLED")
	setEnvString(&cfg.Notify.NATSURL, "VRDF_NOTIFY_NATS_URL")
	setEnvString(&cfg.Notify.SubjectPrefix, "VRDF_NOTIFY_SUBJECT_PREFIX")
	setEnvString(&cfg.Notify.OutboxPath, "VRDF_NOTIFY_OUTBOX_PATH")
	setEnvDuration(&cfg.Notify.RetryInterval, "VRDF_NOTIFY_RETRY_INTERVAL")

	// Limits
	setEnvFloat64(&cfg.Limits.CommitRate, "VRDF_LIMITS_COMMIT_RATE")
	setEnvInt(&cfg.Limits.CommitBurst, "VRDF_LIMITS_COMMIT_BURST")

	// Observability
	setEnvBool(&cfg.Observability.Enabled, "VRDF_OBSERVABILITY_ENABLED")
	setEnvString(&cfg.Observability.Address, "VRDF_OBSERVABILITY_ADDRESS")
	setEnvString(&cfg.Observability.Tracing, "VRDF_OBSERVABILITY_TRACING")
	setEnvString(&cfg.Observability.OTLPEndpoint, "VRDF_OBSERVABILITY_OTLP_ENDPOINT")
	setEnvBool(&cfg.Observability.OTLPInsecure, "VRDF_OBSERVABILITY_OTLP_INSECURE")
}

func logOverride(key, val string) {
	slog.Debug("applying env override", "key", key, "value", val)
}

func setEnvString(target *string, key string) {
	if val, ok := os.LookupEnv(key); ok {
		logOverride(key, val)
		*target = val
	}
}

func setEnvList(target *[]string, key string) {
	if val, ok := os.LookupEnv(key); ok {
		logOverride(key, val)
		*target = strings.Split(val, ",")
	}
}

func setEnvInt(target *int, key string) {
	if val, ok := os.LookupEnv(key); ok {
		if i, err := strconv.Atoi(val); err == nil {
			logOverride(key, val)
			*target = i
		}
	}
}

func setEnvBool(target *bool, key string) {
	if val, ok := os.LookupEnv(key); ok {
		b, err := strconv.ParseBool(strings.ToLower(val))
		if err == nil {
			logOverride(key, val)
			*target = b
		}
	}
}

func setEnvBoolPtr(target **bool, key string) {
	if val, ok := os.LookupEnv(key); ok {
		b, err := strconv.ParseBool(strings.ToLower(val))
		if err == nil {
			logOverride(key, val)
			*target = &b
		}
	}
}

func setEnvFloat64(target *float64, key string) {
	if val, ok := os.LookupEnv(key); ok {
		if f, err := strconv.ParseFloat(val, 64); err == nil {
			logOverride(key, val)
			*target = f
		}
	}
}

func setEnvDuration(target *time.Duration, key string) {
	if val, ok := os.LookupEnv(key); ok {
		if d, err := time.ParseDuration(val); err == nil {
			logOverride(key, val)
			*target = d
		}
	}
}
