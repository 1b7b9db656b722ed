// Command healer drives failing pytest suites to a verdict, remembers what it learned,
// and decides whether a run is safe to commit.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/healforge/healer/internal/config"
	"github.com/healforge/healer/internal/observability"
)

// Version is set at build time.
var Version = "dev"

const shutdownTimeout = 10 * time.Second

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)

	err := newRootCmd().ExecuteContext(ctx)

	stop()

	if err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

// cli carries the configuration loaded before any subcommand runs.
type cli struct {
	cfg *config.Config
}

func newRootCmd() *cobra.Command {
	c := &cli{}

	rootCmd := &cobra.Command{
		Use:           "healer",
		Short:         "Self-healing test loop with similarity memory",
		Version:       Version,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(_ *cobra.Command, _ []string) error {
			cfg, err := config.Load()
			if err != nil {
				return fmt.Errorf("load configuration: %w", err)
			}

			setupLogging(cfg.LogLevel, cfg.LogFormat)

			c.cfg = cfg

			return nil
		},
	}

	rootCmd.AddCommand(c.healCmd())
	rootCmd.AddCommand(c.gateCmd())
	rootCmd.AddCommand(c.changesCmd())
	rootCmd.AddCommand(c.snapshotCmd())
	rootCmd.AddCommand(c.dedupCmd())
	rootCmd.AddCommand(c.memoryCmd())
	rootCmd.AddCommand(c.analyticsCmd())

	return rootCmd
}

// withApp builds the App, runs fn and shuts the App down, also when fn fails.
func (c *cli) withApp(ctx context.Context, fn func(context.Context, *App) error) (err error) {
	app, err := NewApp(c.cfg)
	if err != nil {
		return err
	}

	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
		defer cancel()

		if shutdownErr := app.Shutdown(shutdownCtx); shutdownErr != nil {
			if err == nil {
				err = shutdownErr
			} else {
				slog.Error("shutdown", "error", shutdownErr)
			}
		}
	}()

	return fn(ctx, app)
}

// setupLogging configures the default logger on stderr, keeping stdout for command output.
// Records carry trace and run ids through TraceContextHandler.
func setupLogging(level, format string) {
	var logLevel slog.Level
	switch strings.ToLower(level) {
	case "debug":
		logLevel = slog.LevelDebug
	case "info":
		logLevel = slog.LevelInfo
	case "warn":
		logLevel = slog.LevelWarn
	case "error":
		logLevel = slog.LevelError
	default:
		logLevel = slog.LevelInfo
	}

	opts := &slog.HandlerOptions{
		Level: logLevel,
	}

	var handler slog.Handler
	if strings.EqualFold(format, "json") {
		handler = slog.NewJSONHandler(os.Stderr, opts)
	} else {
		handler = slog.NewTextHandler(os.Stderr, opts)
	}

	slog.SetDefault(slog.New(observability.NewTraceContextHandler(handler)))
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")

	if err := enc.Encode(v); err != nil {
		return fmt.Errorf("encode output: %w", err)
	}

	return nil
}
