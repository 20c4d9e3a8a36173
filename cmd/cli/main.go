// Package main implements the merchant-insights CLI.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/dvloznov/merchant-insights/internal/app"
	"github.com/dvloznov/merchant-insights/internal/config"
	"github.com/dvloznov/merchant-insights/internal/logger"
	"github.com/spf13/cobra"
)

var (
	logLevel string
	timeout  time.Duration
	version  = "dev"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "merchant-insights",
	Short: "Extract and enrich card statement transactions",
	Long: `merchant-insights extracts transactions from card statements and enriches
each purchase with merchant identity and cheaper competitor products.

Configuration is read from the environment and an optional .env file.`,
	Version:       version,
	SilenceUsage:  true,
	SilenceErrors: false,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "log level (debug, info, warn, error); overrides LOG_LEVEL")
	rootCmd.PersistentFlags().DurationVar(&timeout, "timeout", 10*time.Minute, "overall command timeout")
}

// commandContext returns a context carrying the configured logger that is
// cancelled on SIGINT/SIGTERM or after --timeout.
func commandContext(cfg *config.Config) (context.Context, context.CancelFunc) {
	level := cfg.Logger.Level
	if logLevel != "" {
		level = logLevel
	}
	log := logger.NewWithLevel(level)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	ctx, cancel := context.WithTimeout(ctx, timeout)
	ctx = logger.WithContext(ctx, log)
	return ctx, func() {
		cancel()
		stop()
	}
}

// loadApp loads configuration and wires the application.
func loadApp() (context.Context, *app.App, func(), error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, nil, nil, err
	}
	// The operator names files on their own machine, so local paths are not
	// confined to UPLOAD_DIR here.
	cfg.Storage.UploadDir = ""
	ctx, cancel := commandContext(cfg)

	a, err := app.New(ctx, cfg)
	if err != nil {
		cancel()
		return nil, nil, nil, err
	}
	cleanup := func() {
		if err := a.Close(); err != nil {
			log := logger.FromContext(ctx)
			log.Warn().Err(err).Msg("closing clients")
		}
		cancel()
	}
	return ctx, a, cleanup, nil
}

// writeJSON writes v as indented JSON to w, or to the file at path when set.
func writeJSON(w io.Writer, path string, v any) error {
	if path != "" {
		f, err := os.Create(path)
		if err != nil {
			return fmt.Errorf("creating %s: %w", path, err)
		}
		defer f.Close()
		w = f
	}
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
