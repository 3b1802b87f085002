// Package app wires configuration into running components and dispatches
// the configured run mode.
package app

import (
	"context"
	"fmt"
	"log/slog"

	"golang.org/x/sync/errgroup"

	"github.com/propdesk/propdesk/internal/config"
	"github.com/propdesk/propdesk/internal/domain"
)

// Run builds the dependency graph and runs the configured mode until the
// context is cancelled.
func Run(ctx context.Context, cfg config.Config, logger *slog.Logger) error {
	deps, err := wire(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer deps.Close()

	logger.InfoContext(ctx, "starting", slog.String("mode", cfg.Mode))

	switch cfg.Mode {
	case config.ModeMonitor:
		return runMonitor(ctx, deps)
	case config.ModeArchive:
		return runArchive(ctx, deps)
	case config.ModeFull:
		return runFull(ctx, cfg, deps)
	default:
		return fmt.Errorf("app: unknown mode %q", cfg.Mode)
	}
}

// CreateChallenge provisions one evaluation account using the configured
// default rules and starting balance, for the admin entrypoint. It wires the
// full graph, creates, and tears down.
func CreateChallenge(ctx context.Context, cfg config.Config, logger *slog.Logger, userID string) (domain.Challenge, error) {
	deps, err := wire(ctx, cfg, logger)
	if err != nil {
		return domain.Challenge{}, err
	}
	defer deps.Close()

	return deps.Engine.CreateChallenge(ctx, userID, deps.DefaultStartingBalance, deps.DefaultRules)
}

// runMonitor runs only the background risk monitor.
func runMonitor(ctx context.Context, deps *Dependencies) error {
	return deps.Monitor.Run(ctx)
}

// runArchive runs only the cold-storage archiver.
func runArchive(ctx context.Context, deps *Dependencies) error {
	return deps.Archiver.Run(ctx)
}

// runFull runs the monitor and, when enabled, the archiver side by side.
// Either loop failing takes the whole process down so the orchestrator can
// restart it cleanly.
func runFull(ctx context.Context, cfg config.Config, deps *Dependencies) error {
	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		return deps.Monitor.Run(gctx)
	})

	if cfg.Archive.Enabled && deps.Archiver != nil {
		g.Go(func() error {
			return deps.Archiver.Run(gctx)
		})
	}

	return g.Wait()
}
