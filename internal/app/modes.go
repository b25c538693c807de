package app

import (
	"context"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/kzhou42/volumebot/internal/server"
)

const serverShutdownTimeout = 5 * time.Second

// TradeMode runs the quoting engine, the signal feed when configured, and the
// HTTP status server. It blocks until the context is cancelled or the engine
// stops on a safety limit.
func (a *App) TradeMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting trade mode")

	g, ctx := errgroup.WithContext(ctx)

	if deps.SignalFeed != nil {
		g.Go(func() error {
			return deps.SignalFeed.Run(ctx)
		})
	}

	g.Go(func() error {
		return deps.Engine.Run(ctx)
	})

	if deps.Server != nil {
		startStatusServer(ctx, g, deps.Server)
	}

	return g.Wait()
}

// MonitorMode serves read-only engine state without placing orders: the HTTP
// server over a never-started engine, plus the signal feed when configured so
// the feed's health shows up in logs.
func (a *App) MonitorMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting monitor mode")

	g, ctx := errgroup.WithContext(ctx)

	if deps.SignalFeed != nil {
		g.Go(func() error {
			return deps.SignalFeed.Run(ctx)
		})
	}

	// Monitor mode is pointless without the API, so the server runs even when
	// disabled in config.
	srv := deps.Server
	if srv == nil {
		srv = server.NewServer(server.Config{Port: a.cfg.Server.Port}, deps.Engine, a.logger)
	}
	startStatusServer(ctx, g, srv)

	return g.Wait()
}

// startStatusServer adds the HTTP server and its graceful-shutdown watcher to
// the errgroup.
func startStatusServer(ctx context.Context, g *errgroup.Group, srv *server.Server) {
	g.Go(srv.Start)
	g.Go(func() error {
		<-ctx.Done()
		shutCtx, cancel := context.WithTimeout(context.Background(), serverShutdownTimeout)
		defer cancel()
		return srv.Shutdown(shutCtx)
	})
}
