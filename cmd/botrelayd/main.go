// Command botrelayd runs the bot event relay: the HTTP trigger and operator
// API plus the periodic delivery worker.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, "botrelayd:", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := loadSettings(os.Args[1:], os.Environ(), os.ReadFile)
	if err != nil {
		return err
	}

	base, err := newZap(cfg.LogEnv)
	if err != nil {
		return fmt.Errorf("init logger: %w", err)
	}
	logger := newZapLogger(base)
	defer func() { _ = logger.Sync() }()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	app, err := buildApp(ctx, cfg, logger)
	if err != nil {
		return err
	}
	logger.Info("botrelayd starting", "driver", cfg.Driver, "listen", cfg.Listen)
	if err := app.run(ctx); err != nil {
		return err
	}
	logger.Info("botrelayd stopped")
	return nil
}
