package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"time"

	"github.com/charmbracelet/fang"
	"github.com/spf13/cobra"

	"github.com/vito/previewd/internal/dashboard"
	"github.com/vito/previewd/internal/demoengine"
	"github.com/vito/previewd/internal/telemetry"
	"github.com/vito/previewd/pkg/ioctx"
	"github.com/vito/previewd/pkg/preview"
)

// flags holds every Config knob plus the process-level switches (config
// file path, debug logging) that never round-trip through Config itself.
type flags struct {
	configFile string
	debug      bool

	dataPlaneHost    string
	controlPlaneHost string
	partialRendering bool
	invertColors     bool
	previewMode      string
	dashboardEnabled bool
	otelEndpoint     string
	logJSON          bool
}

func main() {
	var f flags

	rootCmd := &cobra.Command{
		Use:   "previewd",
		Short: "Live-preview coordination server",
		Long: `previewd sits between a typesetting engine and its viewer/editor
clients, fanning a single compiled document out to any number of
connected viewers while keeping one editor in sync with jump and
outline events.`,
		Example: `  # Run with defaults
  previewd

  # Run with a config file and the operator dashboard
  previewd --config previewd.toml --dashboard`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(cmd.Context(), f)
		},
	}

	rootCmd.Flags().StringVar(&f.configFile, "config", "", "Path to a TOML config file")
	rootCmd.Flags().BoolVarP(&f.debug, "debug", "d", false, "Enable debug logging")
	rootCmd.Flags().StringVar(&f.dataPlaneHost, "data-plane-host", "", "Viewer websocket bind address (overrides config)")
	rootCmd.Flags().StringVar(&f.controlPlaneHost, "control-plane-host", "", "Editor websocket bind address (overrides config)")
	rootCmd.Flags().BoolVar(&f.partialRendering, "partial-rendering", false, "Announce partial-rendering support to viewers")
	rootCmd.Flags().BoolVar(&f.invertColors, "invert-colors", false, "Hint viewers to invert page colors")
	rootCmd.Flags().StringVar(&f.previewMode, "preview-mode", "", "Preview mode hint: document or slide (overrides config)")
	rootCmd.Flags().BoolVar(&f.dashboardEnabled, "dashboard", false, "Launch the operator dashboard TUI")
	rootCmd.Flags().StringVar(&f.otelEndpoint, "otel-endpoint", "", "OTLP-gRPC endpoint for traces (overrides config)")
	rootCmd.Flags().BoolVar(&f.logJSON, "log-json", false, "Emit logs as JSON instead of text")

	ctx := context.Background()
	ctx = ioctx.StdoutToContext(ctx, os.Stdout)
	ctx = ioctx.StderrToContext(ctx, os.Stderr)
	if err := fang.Execute(ctx, rootCmd,
		fang.WithVersion("v0.1.0"),
		fang.WithCommit("dev"),
		fang.WithErrorHandler(func(w io.Writer, styles fang.Styles, err error) {
			_, _ = fmt.Fprintln(w, err.Error())
		}),
	); err != nil {
		os.Exit(1)
	}
}

// run wires Config, telemetry, the dashboard and the server together and
// blocks until ctx is cancelled or the editor disconnects.
func run(ctx context.Context, f flags) error {
	cfg, err := preview.LoadConfigFile(f.configFile)
	if err != nil {
		return err
	}
	applyFlagOverrides(&cfg, f)

	level := slog.LevelInfo
	if f.debug {
		level = slog.LevelDebug
	}
	var handler slog.Handler
	if cfg.LogJSON {
		handler = slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: level})
	} else {
		handler = slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level})
	}
	logger := slog.New(handler)
	slog.SetDefault(logger)

	providers, err := telemetry.Setup(ctx, cfg.OtelEndpoint)
	if err != nil {
		return fmt.Errorf("set up telemetry: %w", err)
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := providers.Shutdown(shutdownCtx); err != nil {
			logger.Error("telemetry shutdown failed", "error", err)
		}
	}()

	metrics, err := telemetry.NewMetrics(providers.MeterProvider.Meter("github.com/vito/previewd"))
	if err != nil {
		return fmt.Errorf("create metrics: %w", err)
	}

	engine := demoengine.New()
	server := preview.NewServer(cfg, engine, engine.NewSession, metrics, logger)

	if cfg.Dashboard {
		program, feed := dashboard.New()
		server.SetStatusFeed(feed)
		go func() {
			if _, err := program.Run(); err != nil {
				logger.Error("dashboard exited", "error", err)
			}
		}()
		defer program.Quit()
	}

	logger.Info("previewd starting",
		"data-plane", cfg.DataPlaneHost,
		"control-plane", cfg.ControlPlaneHost,
	)
	return server.Run(ctx)
}

func applyFlagOverrides(cfg *preview.Config, f flags) {
	if f.dataPlaneHost != "" {
		cfg.DataPlaneHost = f.dataPlaneHost
	}
	if f.controlPlaneHost != "" {
		cfg.ControlPlaneHost = f.controlPlaneHost
	}
	if f.partialRendering {
		cfg.PartialRendering = true
	}
	if f.invertColors {
		cfg.InvertColors = true
	}
	if f.previewMode != "" {
		cfg.PreviewMode = f.previewMode
	}
	if f.dashboardEnabled {
		cfg.Dashboard = true
	}
	if f.otelEndpoint != "" {
		cfg.OtelEndpoint = f.otelEndpoint
	}
	if f.logJSON {
		cfg.LogJSON = true
	}
}
