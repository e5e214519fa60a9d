package main

import (
	"context"
	"fmt"
	"log/slog"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"vrdf/internal/core/config"
	"vrdf/internal/core/store"
	"vrdf/internal/core/watcher"
	"vrdf/internal/shared/observability"
	"vrdf/internal/shared/version"
)

func serveCmd(flags *globalFlags) *cobra.Command {
	var addr string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Hold the store open and expose /metrics and /health",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			cfg, err := loadConfig(flags)
			if err != nil {
				return err
			}
			if addr != "" {
				cfg.Observability.Address = addr
			}
			return serve(ctx, cmd, flags, cfg)
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "", "Listen address (overrides observability.address)")
	return cmd
}

func serve(ctx context.Context, cmd *cobra.Command, flags *globalFlags, cfg *config.Config) error {
	shutdownTracing, err := observability.InitTracing(ctx, observability.TracingConfig{
		Exporter:     cfg.Observability.Tracing,
		OTLPEndpoint: cfg.Observability.OTLPEndpoint,
		OTLPInsecure: cfg.Observability.OTLPInsecure,
		ServiceName:  cfg.Observability.ServiceName,
		Version:      version.Version,
	})
	if err != nil {
		return err
	}
	defer func() {
		sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdownTracing(sctx); err != nil {
			slog.Warn("tracing shutdown failed", "error", err)
		}
	}()

	s, err := store.Open(ctx, cfg)
	if err != nil {
		return err
	}
	defer s.Close()

	srv := observability.NewServer(cfg.Observability.Address, s)
	if err := srv.Start(ctx); err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "serving metrics and health on http://%s\n", srv.Addr())

	if flags.configPath != "" {
		base := filepath.Dir(flags.configPath)
		w := config.NewWatcher(flags.configPath, cfg.Watch.Debounce, func(next *config.Config) {
			// shapes are swapped live; every other section needs a restart
			resolved, err := config.Resolve(next, base)
			if err != nil {
				slog.Warn("reloaded config rejected", "error", err)
				return
			}
			if err := s.ReloadShapes(resolved.Hooks); err != nil {
				slog.Warn("shapes reload failed; keeping previous rules", "error", err)
			}
		})
		if err := w.Start(ctx); err != nil {
			slog.Warn("config watcher unavailable", "error", err)
		} else {
			defer w.Stop()
		}
	}

	<-ctx.Done()
	sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return srv.Stop(sctx)
}

func mirrorCmd(flags *globalFlags) *cobra.Command {
	var (
		debounce     time.Duration
		excludeDirs  []string
		excludeFiles []string
	)
	cmd := &cobra.Command{
		Use:   "mirror <dir>",
		Short: "Keep one dataset per N-Triples document under dir in sync with the files",
		Long: `mirror commits the difference between each *.nt document under dir and the
latest state of its dataset, then follows file changes until interrupted.
A document at dir/east/ahu.nt maps to the dataset "east/ahu".`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			cfg, err := loadConfig(flags)
			if err != nil {
				return err
			}
			if debounce <= 0 {
				debounce = cfg.Watch.Debounce
			}
			s, err := store.Open(ctx, cfg)
			if err != nil {
				return err
			}
			defer s.Close()

			fmt.Fprintf(cmd.OutOrStdout(), "mirroring %s\n", args[0])
			return watcher.NewMirror(args[0], s, slog.Default()).Run(ctx, debounce, excludeDirs, excludeFiles)
		},
	}
	cmd.Flags().DurationVar(&debounce, "debounce", 0, "Quiet period before a change is synced (default: watch.debounce)")
	cmd.Flags().StringSliceVar(&excludeDirs, "exclude-dir", []string{".git"}, "Directory name globs to skip")
	cmd.Flags().StringSliceVar(&excludeFiles, "exclude", nil, "File name globs to skip")
	return cmd
}
