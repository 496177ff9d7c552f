package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/alanyoungcy/poolsettle/internal/pipeline"
	"github.com/alanyoungcy/poolsettle/internal/server"
	"github.com/alanyoungcy/poolsettle/internal/server/handler"
	"github.com/alanyoungcy/poolsettle/internal/server/ws"
)

// ServerMode serves the HTTP API and the lifecycle event stream.
func (a *App) ServerMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting server mode")

	g, ctx := errgroup.WithContext(ctx)
	a.startHTTPServer(ctx, g, deps)
	return ignoreCanceled(g.Wait())
}

// ArchiveMode runs the receipt archiver on its cron schedule.
func (a *App) ArchiveMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting archive mode")

	g, ctx := errgroup.WithContext(ctx)
	if err := a.startArchiver(ctx, g, deps); err != nil {
		return fmt.Errorf("archive mode: %w", err)
	}
	return ignoreCanceled(g.Wait())
}

// FullMode runs the HTTP server and, when storage is configured, the
// archiver.
func (a *App) FullMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting full mode")

	g, ctx := errgroup.WithContext(ctx)
	a.startHTTPServer(ctx, g, deps)
	if a.cfg.Archive.Enabled {
		if err := a.startArchiver(ctx, g, deps); err != nil {
			return fmt.Errorf("full mode: %w", err)
		}
	}
	return ignoreCanceled(g.Wait())
}

// startArchiver adds the cron-driven archive loop to g.
func (a *App) startArchiver(ctx context.Context, g *errgroup.Group, deps *Dependencies) error {
	if deps.Archiver == nil {
		return errors.New("archiver requires postgres and s3")
	}
	archiver := pipeline.NewArchiver(deps.Archiver, a.cfg.Archive.RetentionDays, a.logger)
	a.logger.InfoContext(ctx, "archiver scheduled",
		slog.String("cron", a.cfg.Archive.Cron),
		slog.Int("retention_days", a.cfg.Archive.RetentionDays),
	)
	g.Go(func() error {
		return archiver.RunCron(ctx, a.cfg.Archive.Cron)
	})
	return nil
}

// startHTTPServer adds the WebSocket hub, the HTTP server and its graceful
// shutdown to g.
func (a *App) startHTTPServer(ctx context.Context, g *errgroup.Group, deps *Dependencies) {
	hub := ws.NewHub(deps.SignalBus, a.cfg.Server.CORSOrigins, a.logger)
	g.Go(func() error {
		return hub.Run(ctx)
	})

	srv := server.NewServer(server.Config{
		Port:        a.cfg.Server.Port,
		CORSOrigins: a.cfg.Server.CORSOrigins,
		APIKey:      a.cfg.Server.APIKey,
		RateLimit:   a.cfg.Server.RateLimit,
		LedgerLimit: a.cfg.Server.LedgerRateLimit,
		RateWindow:  a.cfg.Server.RateWindow.Duration,
	}, server.Handlers{
		Health:      handler.NewHealthHandler(a.cfg.Ledger.Driver, deps.Health, a.logger),
		Accounts:    handler.NewAccountHandler(deps.Accounts, a.logger),
		Oracles:     handler.NewOracleHandler(deps.Oracles, a.logger),
		Predictions: handler.NewPredictionHandler(deps.Predictions, a.logger),
	}, server.Options{
		Limiter:    deps.RateLimiter,
		Metrics:    deps.Metrics.Handler(),
		Instrument: deps.Metrics.Instrument,
		Hub:        hub,
	}, a.logger)

	g.Go(srv.Start)

	g.Go(func() error {
		<-ctx.Done()
		shutCtx, cancel := context.WithTimeout(context.Background(), a.shutdownTimeout())
		defer cancel()
		return srv.Shutdown(shutCtx)
	})
}

func (a *App) shutdownTimeout() time.Duration {
	if d := a.cfg.Server.ShutdownTimeout.Duration; d > 0 {
		return d
	}
	return 10 * time.Second
}

// ignoreCanceled treats a cancelled context as a clean exit.
func ignoreCanceled(err error) error {
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}
