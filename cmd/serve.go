package cmd

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/lepinkainen/bookmeta/internal/server"
)

const shutdownTimeout = 10 * time.Second

// ServeCmd runs the HTTP API until interrupted
type ServeCmd struct {
	Addr           string        `help:"Listen address (overrides server.addr)"`
	RequestTimeout time.Duration `help:"Upper bound for one lookup request" default:"30s"`
}

func (s *ServeCmd) Run(app *App) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	return s.serve(ctx, app)
}

func (s *ServeCmd) serve(ctx context.Context, app *App) error {
	addr := s.Addr
	if addr == "" {
		addr = app.cfg.Server.Addr
	}

	srv := server.New(server.Config{
		Lookup:         app.service,
		Caches:         app.caches,
		Metrics:        app.metrics.Handler(),
		HotKeys:        app.cfg.Cache.HotKeys,
		Logger:         app.logger,
		RequestTimeout: s.RequestTimeout,
	}).HTTPServer(addr)

	if app.cfg.Cache.PreWarmOnStart && len(app.cfg.Cache.PreWarmQueries) > 0 {
		go app.service.Prewarm(ctx, app.cfg.Cache.PreWarmQueries)
	}

	errCh := make(chan error, 1)
	go func() {
		app.logger.Info("Starting HTTP server", "addr", addr, "providers", app.service.Providers())
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err, ok := <-errCh:
		if ok {
			return err
		}
		return nil
	case <-ctx.Done():
	}

	app.logger.Info("Shutting down HTTP server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return err
	}
	// Caches are flushed by App.Close once Run returns
	return nil
}
