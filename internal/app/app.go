// Package app is the composition root. It wires the feed, book, pipeline,
// strategy, executor and sinks from configuration and runs them in the
// configured mode. Nothing here is a global; every dependency is built and
// owned by App.
package app

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/alanyoungcy/lobfeed/internal/config"
	"github.com/alanyoungcy/lobfeed/internal/crypto"
)

// App is the root application object. It owns the configuration, logger, and a
// list of cleanup functions that are called in reverse order on shutdown.
type App struct {
	cfg     *config.Config
	logger  *slog.Logger
	secret  string // resolved Alpaca API secret
	closers []func()
}

// New creates a new App from the given configuration and logger.
func New(cfg *config.Config, logger *slog.Logger) *App {
	return &App{
		cfg:    cfg,
		logger: logger,
	}
}

// Run wires all dependencies, selects the operating mode and blocks until
// the mode finishes or ctx is cancelled.
func (a *App) Run(ctx context.Context) error {
	a.logger.InfoContext(ctx, "starting application",
		slog.String("mode", a.cfg.Mode),
		slog.String("log_level", a.cfg.LogLevel),
	)

	if a.cfg.Mode != config.ModeReplay {
		secret, err := crypto.LoadSecret(crypto.SecretConfig{
			Raw:           a.cfg.Alpaca.APISecret,
			EncryptedPath: a.cfg.Alpaca.EncryptedSecretPath,
			Password:      a.cfg.Alpaca.SecretPassword,
		})
		if err != nil {
			return fmt.Errorf("app: load api secret: %w", err)
		}
		a.secret = secret
	}

	deps, cleanup, err := Wire(ctx, a.cfg, a.logger)
	if err != nil {
		return fmt.Errorf("app: wire dependencies: %w", err)
	}
	a.closers = append(a.closers, cleanup)

	switch a.cfg.Mode {
	case config.ModeLive:
		return a.LiveMode(ctx, deps)
	case config.ModeMonitor:
		return a.MonitorMode(ctx, deps)
	case config.ModeReplay:
		return a.ReplayMode(ctx, deps)
	default:
		return fmt.Errorf("app: unsupported mode %q", a.cfg.Mode)
	}
}

// Close tears down all resources in reverse registration order. It is safe to
// call multiple times; subsequent calls are no-ops.
func (a *App) Close() {
	a.logger.Info("shutting down application")
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
	a.closers = nil
}
