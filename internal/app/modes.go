package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"papertrader/internal/server"
	"papertrader/internal/server/handler"
)

// shutdownTimeout bounds graceful HTTP shutdown on exit.
const shutdownTimeout = 10 * time.Second

// ServeMode runs the HTTP API and the WebSocket hub without a background
// polling schedule; position checks happen only via POST /api/poll/trigger.
func (a *App) ServeMode(ctx context.Context, deps *Dependencies) error {
	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		err := deps.Hub.Run(ctx)
		if errors.Is(err, context.Canceled) {
			return nil
		}
		return err
	})

	a.startServer(ctx, g, deps)

	return g.Wait()
}

// PollMode performs one polling invocation and exits. Intended for cron-style
// scheduling.
func (a *App) PollMode(ctx context.Context, deps *Dependencies) error {
	report, err := deps.Coordinator.Run(ctx)
	if err != nil {
		return fmt.Errorf("app: poll: %w", err)
	}
	a.logger.Info("poll complete",
		slog.Int("cycles", report.Cycles),
		slog.Int("checked", report.Checked),
		slog.Int("closed", report.Closed),
	)
	return nil
}

// FullMode runs the HTTP API, the WebSocket hub, and the background polling
// scheduler together.
func (a *App) FullMode(ctx context.Context, deps *Dependencies) error {
	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		err := deps.Hub.Run(ctx)
		if errors.Is(err, context.Canceled) {
			return nil
		}
		return err
	})

	a.startServer(ctx, g, deps)

	g.Go(func() error {
		return a.runScheduler(ctx, deps)
	})

	return g.Wait()
}

// runScheduler invokes the polling coordinator once at startup and then on
// every interval tick. Data-integrity failures abort the application; a
// transient failure only skips the tick.
func (a *App) runScheduler(ctx context.Context, deps *Dependencies) error {
	interval := a.cfg.Poll.Interval.Duration
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	a.logger.Info("polling scheduler started", slog.Duration("interval", interval))

	for {
		if _, err := deps.Coordinator.Run(ctx); err != nil {
			if errors.Is(err, context.Canceled) {
				return nil
			}
			return fmt.Errorf("app: scheduled poll: %w", err)
		}

		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}
	}
}

// startServer registers the HTTP server goroutines on the group when the
// server is enabled.
func (a *App) startServer(ctx context.Context, g *errgroup.Group, deps *Dependencies) {
	if !a.cfg.Server.Enabled {
		a.logger.Info("http server disabled")
		return
	}

	srv := server.NewServer(
		server.Config{
			Port:        a.cfg.Server.Port,
			CORSOrigins: a.cfg.Server.CORSOrigins,
			APIKey:      a.cfg.Server.APIKey,
			RateLimit:   a.cfg.Server.RateLimit,
			RateWindow:  a.cfg.Server.RateWindow.Duration,
		},
		server.Handlers{
			Health:    handler.NewHealthHandler(deps.S3, a.logger),
			Positions: handler.NewPositionHandler(deps.Intake, deps.Stats, a.logger),
			Poll:      handler.NewPollHandler(deps.Coordinator, a.logger),
			Admin:     handler.NewAdminHandler(deps.Stats, a.logger),
		},
		deps.Hub,
		a.logger,
	)

	g.Go(srv.Start)
	g.Go(func() error {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})
}
