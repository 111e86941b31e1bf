package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"golang.org/x/sync/errgroup"
)

const (
	shutdownTimeout    = 10 * time.Second
	cacheSweepInterval = time.Minute
)

// serve starts the cache listener, the task runner and the HTTP server,
// then blocks until ctx is done or one of them fails. Shutdown runs in
// reverse order: the server stops accepting requests before the runner
// interrupts in-flight jobs.
func (app *application) serve(ctx context.Context) error {
	// The listener subscribes before any worker can publish a terminal event.
	sub, err := app.listener.Subscribe(ctx, app.bus)
	if err != nil {
		return err
	}
	defer func() { _ = sub.Close() }()

	if err := app.runner.Start(ctx); err != nil {
		return fmt.Errorf("failed to start task runner: %w", err)
	}
	defer app.runner.Stop()

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		app.listener.Run(gctx, sub)
		return nil
	})

	if app.memoryCache != nil {
		g.Go(func() error {
			app.sweepCache(gctx)
			return nil
		})
	}

	// Request contexts derive from baseCtx so open event streams end on shutdown.
	baseCtx, cancelBase := context.WithCancel(context.WithoutCancel(ctx))
	defer cancelBase()
	server := &http.Server{
		Addr:              fmt.Sprintf(":%d", app.config.Server.Port),
		Handler:           app.router,
		ReadHeaderTimeout: 10 * time.Second,
		BaseContext:       func(net.Listener) context.Context { return baseCtx },
	}

	g.Go(func() error {
		app.logger.Info("starting server", "port", app.config.Server.Port)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server failed: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		<-gctx.Done()
		app.logger.Info("shutting down server")
		cancelBase()

		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("server shutdown failed: %w", err)
		}
		return nil
	})

	err = g.Wait()
	app.logger.Info("server shutdown completed")
	return err
}

// sweepCache evicts expired entries from the in-process cache.
func (app *application) sweepCache(ctx context.Context) {
	ticker := time.NewTicker(cacheSweepInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if n := app.memoryCache.Sweep(); n > 0 {
				app.logger.Debug("evicted expired cache entries", "count", n)
			}
		}
	}
}
