package app

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/bitbondlabs/bitbondd/internal/server"
	"github.com/bitbondlabs/bitbondd/internal/server/handler"
	"github.com/bitbondlabs/bitbondd/internal/server/ws"
	"github.com/bitbondlabs/bitbondd/internal/service"
)

// shutdownGrace is how long in-flight HTTP requests get to finish.
const shutdownGrace = 10 * time.Second

// ServerMode runs the HTTP + WebSocket API.
func (a *App) ServerMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting server mode")

	g, ctx := errgroup.WithContext(ctx)
	a.startServer(ctx, g, deps, false)
	return g.Wait()
}

// TrackerMode runs only the maturity tracker.
func (a *App) TrackerMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting tracker mode")

	g, ctx := errgroup.WithContext(ctx)
	a.startTracker(ctx, g, deps)
	return g.Wait()
}

// ArchiveMode runs only the periodic archiver.
func (a *App) ArchiveMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting archive mode")

	if deps.Archiver == nil {
		return errors.New("app: archive mode requires archive.enabled and S3 settings")
	}
	svc := service.NewArchiveService(deps.Archiver, deps.LockManager, a.cfg.Archive.Interval.Duration, a.logger)
	if err := svc.RunOnce(ctx); err != nil {
		a.logger.ErrorContext(ctx, "initial archive pass failed", slog.String("error", err.Error()))
	}
	return svc.Run(ctx)
}

// FullMode runs the API server, the maturity tracker, and (when enabled) the
// periodic archiver together.
func (a *App) FullMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting full mode")

	g, ctx := errgroup.WithContext(ctx)
	a.startServer(ctx, g, deps, false)
	a.startTracker(ctx, g, deps)
	if a.cfg.Archive.Enabled && deps.Archiver != nil {
		svc := service.NewArchiveService(deps.Archiver, deps.LockManager, a.cfg.Archive.Interval.Duration, a.logger)
		g.Go(func() error {
			return svc.Run(ctx)
		})
	}
	return g.Wait()
}

// DevMode runs the API server against the in-memory ledger with the operator
// endpoints (/api/dev/*) registered and unsigned X-Caller calls allowed.
func (a *App) DevMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting dev mode")

	g, ctx := errgroup.WithContext(ctx)
	a.startServer(ctx, g, deps, true)
	a.startTracker(ctx, g, deps)
	return g.Wait()
}

// startServer builds the handler set and runs the HTTP server under g.
func (a *App) startServer(ctx context.Context, g *errgroup.Group, deps *Dependencies, devMode bool) {
	startedAt := time.Now().UTC()

	handlers := server.Handlers{
		Health: handler.NewHealthHandler(a.logger),
		Status: handler.NewStatusHandler(a.cfg.Mode, startedAt, deps.Heights, a.logger),
		Bonds:  handler.NewBondHandler(deps.Vault, deps.Heights, deps.Stats, a.logger),
		NFT:    handler.NewNFTHandler(deps.Registry, deps.Heights, a.logger),
		Market: handler.NewMarketHandler(deps.Market, deps.Heights, deps.Stats, a.logger),
	}
	if devMode {
		handlers.Dev = handler.NewDevHandler(deps.Ledger, deps.Advancer, a.logger)
	}
	if deps.ArchiveReader != nil {
		handlers.Archive = handler.NewArchiveHandler(deps.ArchiveReader, a.logger)
	}

	var hub *ws.Hub
	if deps.SignalBus != nil {
		hub = ws.NewHub(deps.SignalBus, a.logger, ws.Config{
			Mode:      a.cfg.Mode,
			StartedAt: startedAt,
		})
		g.Go(func() error {
			return hub.Run(ctx)
		})
	}

	srv := server.NewServer(server.Config{
		Port:             a.cfg.Server.Port,
		CORSOrigins:      a.cfg.Server.CORSOrigins,
		APIKey:           a.cfg.Server.APIKey,
		SignatureMaxSkew: a.cfg.Server.SignatureMaxSkew.Duration,
		DevMode:          devMode,
		RateLimit:        a.cfg.Server.RateLimit,
		RateWindow:       a.cfg.Server.RateWindow.Duration,
	}, handlers, hub, deps.RateLimiter, a.logger)

	g.Go(func() error {
		return srv.Start()
	})
	g.Go(func() error {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownGrace)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})
}

// startTracker runs the maturity tracker under g.
func (a *App) startTracker(ctx context.Context, g *errgroup.Group, deps *Dependencies) {
	tracker := service.NewMaturityTracker(
		deps.Vault,
		deps.Heights,
		deps.Events,
		deps.Notifier,
		a.cfg.Tracker.PollInterval.Duration,
		a.logger,
	)
	g.Go(func() error {
		return tracker.Run(ctx)
	})
}
