package config

import (
	"fmt"
	"path/filepath"
	"strings"
)

type ResolvedPaths struct {
	StorePath      string
	CheckpointPath string
	ShapesFile     string
	OutboxPath     string
}

// ResolvePaths anchors relative paths at base, normally the directory of the
// config file. The in-memory store path is passed through untouched.
func ResolvePaths(cfg *Config, base string) (ResolvedPaths, error) {
	if strings.TrimSpace(base) == "" {
		return ResolvedPaths{}, fmt.Errorf("base directory must not be empty")
	}
	resolved := ResolvedPaths{
		StorePath:      ResolveRelative(base, cfg.Store.Path),
		CheckpointPath: ResolveRelative(base, cfg.Checkpoint.Path),
	}
	if cfg.Store.Path == ":memory:" {
		resolved.StorePath = cfg.Store.Path
	}
	if cfg.Hooks.ShapesFile != "" {
		resolved.ShapesFile = ResolveRelative(base, cfg.Hooks.ShapesFile)
	}
	if cfg.Notify.OutboxPath != "" {
		resolved.OutboxPath = ResolveRelative(base, cfg.Notify.OutboxPath)
	}
	return resolved, nil
}

// Resolve returns a copy of cfg with its paths anchored at base.
func Resolve(cfg *Config, base string) (*Config, error) {
	paths, err := ResolvePaths(cfg, base)
	if err != nil {
		return nil, err
	}
	out := *cfg
	out.Store.Path = paths.StorePath
	out.Checkpoint.Path = paths.CheckpointPath
	out.Hooks.ShapesFile = paths.ShapesFile
	out.Notify.OutboxPath = paths.OutboxPath
	return &out, nil
}

func ResolveRelative(base, value string) string {
	raw := strings.TrimSpace(value)
	if raw == "" {
		return filepath.Clean(base)
	}
	if filepath.IsAbs(raw) {
		return filepath.Clean(raw)
	}
	return filepath.Clean(filepath.Join(base, raw))
}
