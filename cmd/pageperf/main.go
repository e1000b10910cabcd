package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"golang.org/x/term"

	"github.com/onkernel/pageperf/cmd/config"
)

func main() {
	slogger := slog.New(slog.NewTextHandler(os.Stdout, nil))

	// Load configuration from environment variables
	cfg, err := config.Load()
	if err != nil {
		slogger.Error("failed to load configuration", "err", err)
		os.Exit(1)
	}
	var level slog.Level
	if err := level.UnmarshalText([]byte(cfg.LogLevel)); err != nil {
		slogger.Error("invalid LOG_LEVEL", "err", err)
		os.Exit(1)
	}
	slogger = newLogger(level)
	slogger.Info("run configuration", "config", cfg)

	// context cancellation on SIGINT/SIGTERM
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	failed, err := run(ctx, cfg, slogger)
	if err != nil {
		slogger.Error("run failed", "err", err)
		os.Exit(1)
	}
	if failed {
		slogger.Warn("run finished with failures")
		os.Exit(1)
	}
	slogger.Info("run finished")
}

// newLogger writes text to a terminal and JSON otherwise, so collected logs
// stay machine readable.
func newLogger(level slog.Level) *slog.Logger {
	opts := &slog.HandlerOptions{Level: level}
	if term.IsTerminal(int(os.Stdout.Fd())) {
		return slog.New(slog.NewTextHandler(os.Stdout, opts))
	}
	return slog.New(slog.NewJSONHandler(os.Stdout, opts))
}
