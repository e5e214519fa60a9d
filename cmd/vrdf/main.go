// # cmd/vrdf/main.go

// Command vrdf is the command-line front end of the versioned triple store.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"runtime"
	"strings"

	"github.com/spf13/cobra"

	"vrdf/internal/core/config"
	"vrdf/internal/core/store"
	"vrdf/internal/shared/version"
)

const appName = "vrdf"

func main() {
	defer func() {
		if r := recover(); r != nil {
			buf := make([]byte, 4096)
			n := runtime.Stack(buf, false)
			_, _ = fmt.Fprintf(os.Stderr, "PANIC: %v\nStack trace:\n%s\n", r, string(buf[:n]))
			os.Exit(2)
		}
	}()

	if err := rootCmd().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

type globalFlags struct {
	configPath string
	storePath  string
	logLevel   string
}

func rootCmd() *cobra.Command {
	var flags globalFlags

	cmd := &cobra.Command{
		Use:   appName,
		Short: "Versioned RDF triple store",
		Long: `vrdf keeps named RDF datasets under version control. Every commit appends
its operations to a durable log, and any past version can be read back,
diffed or reverted.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			setupLogging(cmd, flags.logLevel)
		},
	}

	cmd.PersistentFlags().StringVarP(&flags.configPath, "config", "c", "", "Config file path (TOML)")
	cmd.PersistentFlags().StringVar(&flags.storePath, "store", "", "Store database path (overrides store.path)")
	cmd.PersistentFlags().StringVar(&flags.logLevel, "log-level", "warn", "Log level (debug, info, warn, error)")

	cmd.AddCommand(
		loadCmd(&flags),
		addCmd(&flags),
		removeCmd(&flags),
		latestCmd(&flags),
		atCmd(&flags),
		asOfCmd(&flags),
		logCmd(&flags),
		diffCmd(&flags),
		matchCmd(&flags),
		exportCmd(&flags),
		validateCmd(&flags),
		undoCmd(&flags),
		redoCmd(&flags),
		countCmd(&flags),
		serveCmd(&flags),
		mirrorCmd(&flags),
		versionCmd(),
	)
	return cmd
}

func versionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "%s version %s\n", appName, version.Version)
		},
	}
}

func setupLogging(cmd *cobra.Command, level string) {
	lvl := slog.LevelWarn
	switch strings.ToLower(strings.TrimSpace(level)) {
	case "debug":
		lvl = slog.LevelDebug
	case "info":
		lvl = slog.LevelInfo
	case "error":
		lvl = slog.LevelError
	}
	logger := slog.New(slog.NewTextHandler(cmd.ErrOrStderr(), &slog.HandlerOptions{Level: lvl}))
	slog.SetDefault(logger)
}

// loadConfig reads --config when given, anchoring relative paths at the
// config file's directory; otherwise it uses defaults plus VRDF_* overrides.
func loadConfig(flags *globalFlags) (*config.Config, error) {
	var cfg *config.Config
	if strings.TrimSpace(flags.configPath) != "" {
		loaded, err := config.Load(flags.configPath)
		if err != nil {
			return nil, fmt.Errorf("load config: %w", err)
		}
		abs, err := filepath.Abs(flags.configPath)
		if err != nil {
			return nil, err
		}
		cfg, err = config.Resolve(loaded, filepath.Dir(abs))
		if err != nil {
			return nil, err
		}
	} else {
		cfg = config.DefaultConfig()
		config.ApplyEnvOverrides(cfg)
	}
	if strings.TrimSpace(flags.storePath) != "" {
		cfg.Store.Path = flags.storePath
	}
	if errs := config.Validate(cfg); len(errs) > 0 {
		return nil, fmt.Errorf("invalid configuration: %w", errs[0])
	}
	return cfg, nil
}

func openStore(ctx context.Context, flags *globalFlags) (*store.Store, error) {
	cfg, err := loadConfig(flags)
	if err != nil {
		return nil, err
	}
	return store.Open(ctx, cfg)
}

// withStore opens the store for the duration of fn.
func withStore(cmd *cobra.Command, flags *globalFlags, fn func(context.Context, *store.Store) error) (err error) {
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	s, err := openStore(ctx, flags)
	if err != nil {
		return err
	}
	defer func() {
		if cerr := s.Close(); cerr != nil && err == nil {
			err = cerr
		}
	}()
	return fn(ctx, s)
}
