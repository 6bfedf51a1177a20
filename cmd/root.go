// Package cmd defines the CLI for the source monitor.
package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/JakeFAU/source-monitor/internal/config"
	"github.com/JakeFAU/source-monitor/internal/logging"
	"github.com/JakeFAU/source-monitor/internal/metrics"
	"github.com/JakeFAU/source-monitor/internal/telemetry"
)

type runtimeKeyType struct{}

// runtime carries the loaded configuration and logger to subcommands.
type runtime struct {
	cfg    config.Config
	logger *zap.Logger
	flush  func()
}

// newRootCmd creates the root command and its subcommands.
func newRootCmd() *cobra.Command {
	var cfgFile string

	cmd := &cobra.Command{
		Use:   "monitor",
		Short: "Watches external sources and turns changes into findings.",
		Long: `monitor polls configured sources (HTML pages, RSS feeds, PDFs and
GitHub releases), detects content changes, records explained findings and
alerts, and escalates open tasks against their SLA.`,
		SilenceUsage: true,

		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			rt, err := newRuntime(cmd.Context(), cfgFile)
			if err != nil {
				return err
			}
			cmd.SetContext(context.WithValue(cmd.Context(), runtimeKeyType{}, rt))
			return nil
		},

		PersistentPostRun: func(cmd *cobra.Command, _ []string) {
			if rt, ok := cmd.Context().Value(runtimeKeyType{}).(*runtime); ok {
				rt.flush()
			}
		},
	}

	cmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (YAML); MONITOR_* env vars override it")

	cmd.AddCommand(newServeCmd())
	cmd.AddCommand(newTickCmd())
	cmd.AddCommand(newMigrateCmd())

	return cmd
}

func newRuntime(ctx context.Context, cfgFile string) (*runtime, error) {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	logger, err := logging.New(logging.Options{
		Development: cfg.Logging.Development,
		Level:       cfg.Logging.Level,
	})
	if err != nil {
		return nil, fmt.Errorf("init logger: %w", err)
	}
	zap.ReplaceGlobals(logger)
	metrics.Init()

	shutdownTracing := func() {}
	if cfg.Telemetry.TracingEnabled {
		tp, err := telemetry.InitTracerProvider(ctx, telemetry.Options{
			SampleRatio: cfg.Telemetry.SampleRatio,
			ProjectID:   cfg.Telemetry.ProjectID,
		})
		if err != nil {
			return nil, fmt.Errorf("init tracing: %w", err)
		}
		shutdownTracing = func() {
			if err := tp.Shutdown(context.Background()); err != nil {
				logger.Warn("tracer shutdown failed", zap.Error(err))
			}
		}
	}

	return &runtime{
		cfg:    cfg,
		logger: logger,
		flush: func() {
			shutdownTracing()
			// Sync on stderr-backed loggers reports EINVAL on some platforms.
			_ = logger.Sync()
		},
	}, nil
}

func runtimeFrom(ctx context.Context) (*runtime, error) {
	rt, ok := ctx.Value(runtimeKeyType{}).(*runtime)
	if !ok || rt == nil {
		return nil, errors.New("runtime not initialized")
	}
	return rt, nil
}

// Execute is the main entry point.
func Execute() {
	if err := newRootCmd().ExecuteContext(context.Background()); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
