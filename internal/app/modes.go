package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/oskarw/simtrader/internal/domain"
	"github.com/oskarw/simtrader/internal/server"
	"github.com/oskarw/simtrader/internal/server/ws"
	"github.com/oskarw/simtrader/internal/session"
	"github.com/oskarw/simtrader/internal/strategy"
)

// TradeMode runs one session with the configured trading strategy.
func (a *App) TradeMode(ctx context.Context, deps *Dependencies) error {
	strat, err := deps.Strategies.Get(a.cfg.Strategy.Name)
	if err != nil {
		return fmt.Errorf("app: %w", err)
	}
	return a.runSession(ctx, deps, strat)
}

// ObserveMode runs one session that never places orders. The ledger still
// marks to market from the feed, so the operator surface shows live state.
func (a *App) ObserveMode(ctx context.Context, deps *Dependencies) error {
	return a.runSession(ctx, deps, strategy.NewIdle())
}

// runSession wires the event sinks and the status server around one session
// runtime and blocks until the replay ends or the context is cancelled.
func (a *App) runSession(ctx context.Context, deps *Dependencies, strat strategy.Strategy) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	var sinks []domain.EventSink
	if deps.Stream != nil {
		sinks = append(sinks, deps.Stream)
	}
	if deps.Notifier != nil {
		sinks = append(sinks, deps.Notifier)
	}
	if deps.Archiver != nil {
		sinks = append(sinks, deps.Archiver)
	}

	// The hub needs the runtime's status snapshot and the runtime needs the
	// hub as a sink; the closure resolves once the runtime exists, before
	// the server accepts clients.
	var rt *session.Runtime
	var hub *ws.Hub
	if a.cfg.Server.Enabled {
		hub = ws.NewHub(func() domain.SessionStatus {
			if rt == nil {
				return domain.SessionStatus{}
			}
			return rt.Status()
		}, a.logger)
		sinks = append(sinks, hub)
	}

	rt = session.NewRuntime(session.Options{
		Config:   *a.cfg,
		Logger:   a.logger,
		Strategy: strat,
		Metrics:  deps.Metrics,
		Sinks:    sinks,
	})

	g, gctx := errgroup.WithContext(ctx)

	if a.cfg.Server.Enabled {
		srv := server.NewServer(server.Config{
			Port:        a.cfg.Server.Port,
			CORSOrigins: a.cfg.Server.CORSOrigins,
		}, rt, deps.Metrics.Handler(), hub, a.logger)

		g.Go(func() error {
			if err := hub.Run(gctx); err != nil && !errors.Is(err, context.Canceled) {
				return err
			}
			return nil
		})
		g.Go(srv.Start)
		g.Go(func() error {
			<-gctx.Done()
			shutCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			return srv.Shutdown(shutCtx)
		})
	}

	g.Go(func() error {
		// When the replay ends the rest of the app follows it down.
		defer cancel()
		return rt.Run(gctx)
	})

	err := g.Wait()

	// Archive upload is best effort; a failed upload never masks the
	// session's own result.
	if deps.Archiver != nil {
		flushCtx, cancelFlush := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancelFlush()
		if ferr := deps.Archiver.Flush(flushCtx); ferr != nil {
			a.logger.Warn("run archive upload failed", slog.String("error", ferr.Error()))
		}
	}

	return err
}
