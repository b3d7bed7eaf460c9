// Package main is the entry point for the tvrelayd notification relay daemon.
package main

import (
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/jeremyward/tvrelay/internal/config"
	"github.com/jeremyward/tvrelay/internal/daemon"
)

// Build-time variables (set via ldflags)
var (
	version   = "dev"
	commit    = "unknown"
	buildTime = "unknown"
)

var globalOpts struct {
	verbose    bool
	configPath string
	listen     string
}

var rootCmd = &cobra.Command{
	Use:   "tvrelayd",
	Short: "LAN notification relay daemon",
	Long: `tvrelayd receives phone notifications over HTTP and relays them to a
TV overlay. Bursts from the same source are merged into a single overlay,
queued notifications are shown one at a time, and referenced media is
fetched before display.

Send events with POST /notify; check liveness at /healthz and runtime
state at /status.`,
	Version: fmt.Sprintf("%s (commit: %s, built: %s)", version, commit, buildTime),
	RunE:    runServe,
}

func init() {
	rootCmd.Flags().BoolVarP(&globalOpts.verbose, "verbose", "v", false,
		"Enable verbose logging")
	rootCmd.Flags().StringVar(&globalOpts.configPath, "config", "",
		"Path to config file (default: ~/.config/tvrelay/tvrelayd.toml)")
	rootCmd.Flags().StringVar(&globalOpts.listen, "listen", "",
		"Listen address, overrides the config file (default: :7979)")
}

func runServe(cmd *cobra.Command, args []string) error {
	logger := setupLogger()

	configPath := globalOpts.configPath
	if configPath == "" {
		var err error
		configPath, err = config.ConfigPath()
		if err != nil {
			return fmt.Errorf("failed to resolve config path: %w", err)
		}
	}

	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	if globalOpts.listen != "" {
		cfg.Server.Listen = globalOpts.listen
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	d := daemon.New(daemon.Options{
		Config:     cfg,
		ConfigPath: configPath,
		Logger:     logger,
		Version:    version,
	})

	logger.Info("starting tvrelayd", "version", version, "config", configPath)
	return d.Run(ctx)
}

func setupLogger() *slog.Logger {
	level := slog.LevelInfo
	if globalOpts.verbose {
		level = slog.LevelDebug
	}

	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: level,
	}))
	slog.SetDefault(logger)
	return logger
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
