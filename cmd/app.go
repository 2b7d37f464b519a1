package cmd

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/lepinkainen/bookmeta/internal/book"
	"github.com/lepinkainen/bookmeta/internal/cache"
	"github.com/lepinkainen/bookmeta/internal/config"
	"github.com/lepinkainen/bookmeta/internal/lookup"
	"github.com/lepinkainen/bookmeta/internal/metrics"
	"github.com/lepinkainen/bookmeta/internal/providers"
	"github.com/lepinkainen/bookmeta/internal/ratelimit"
)

// App carries the shared registries every command runs against. It is
// built once per process and passed to the command Run methods.
type App struct {
	cfg      *config.Config
	caches   *cache.Registry
	limiters *ratelimit.Registry
	metrics  *metrics.Metrics
	service  *lookup.Service
	logger   *slog.Logger
	out      io.Writer
	format   string
}

func newApp(cfg *config.Config, out io.Writer, format string, logger *slog.Logger) (*App, error) {
	app := &App{
		cfg:      cfg,
		limiters: ratelimit.NewRegistry(ratelimit.Quota{}),
		metrics:  metrics.New(),
		logger:   logger,
		out:      out,
		format:   format,
	}
	app.caches = cache.NewRegistry(app.newCache)
	app.metrics.RegisterCaches(app.caches)

	ps, err := app.buildProviders()
	if err != nil {
		return nil, errors.Join(err, app.caches.Close())
	}

	merger := book.NewMerger(cfg.Merge.Policy(), book.DefaultScorer)
	app.service = lookup.NewService(ps, merger,
		lookup.WithLogger(logger),
		lookup.WithPrewarmHook(app.metrics.ObservePrewarmFailure),
	)
	return app, nil
}

// Close flushes and closes every cache.
func (a *App) Close() error {
	return a.caches.Close()
}

// newCache is the cache.Registry factory. Persistence problems never stop
// the cache from being created; it falls back to memory only.
func (a *App) newCache(name string) *cache.Cache {
	opts := a.cfg.Cache.Options(name, a.logger)
	opts.OnError = a.metrics.CacheErrorHook(name)

	if a.cfg.Cache.PersistToFile {
		snap, err := a.newSnapshotter(name)
		if err != nil {
			a.logger.Warn("Cache persistence disabled", "cache", name, "error", err)
			opts.OnError("open", err)
		} else {
			opts.Snapshotter = snap
		}
	}

	// Route persistence failures to both the log and the metrics hook
	countError := opts.OnError
	opts.OnError = func(op string, err error) {
		a.logger.Warn("Cache persistence failed", "cache", name, "op", op, "error", err)
		countError(op, err)
	}
	return cache.New(opts)
}

func (a *App) newSnapshotter(name string) (cache.Snapshotter, error) {
	path := a.cfg.Cache.SnapshotPath(name)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("failed to create cache directory: %w", err)
	}

	switch a.cfg.Cache.Backend {
	case config.BackendSQLite:
		return cache.NewSQLiteSnapshotter(path)
	default:
		return cache.NewJSONSnapshotter(path), nil
	}
}

// buildProviders creates a client for each enabled provider, in config
// order. ISBNdb is skipped when no API key is configured.
func (a *App) buildProviders() ([]providers.Provider, error) {
	var ps []providers.Provider
	for _, name := range config.ProviderNames {
		pc := a.cfg.Provider(name)
		if !pc.Enabled {
			a.logger.Debug("Provider disabled", "provider", name)
			continue
		}

		opts := a.clientOptions(name, pc)
		switch book.Tag(name) {
		case book.TagOpenLibrary:
			ps = append(ps, providers.NewOpenLibrary(opts...))
		case book.TagGoogleBooks:
			ps = append(ps, providers.NewGoogleBooks(pc.APIKey, opts...))
		case book.TagISBNdb:
			p, err := providers.NewISBNdb(pc.APIKey, opts...)
			if errors.Is(err, providers.ErrMissingAPIKey) {
				a.logger.Debug("Skipping ISBNdb, no API key configured")
				continue
			}
			if err != nil {
				return nil, fmt.Errorf("creating %s client: %w", name, err)
			}
			ps = append(ps, p)
		}
	}

	if len(ps) == 0 {
		return nil, errors.New("no providers enabled")
	}
	return ps, nil
}

func (a *App) clientOptions(name string, pc config.ProviderConfig) []providers.Option {
	positive, negative := pc.CacheTTL()
	opts := []providers.Option{
		providers.WithCache(a.caches.For(name)),
		providers.WithCacheTTL(positive, negative),
		providers.WithLimiter(a.limiters.Register(name, pc.Quota())),
		providers.WithBackoff(pc.Backoff()),
		providers.WithTimeout(pc.Timeout()),
		providers.WithObserver(a.metrics),
		providers.WithLogger(a.logger.With("provider", name)),
	}
	if pc.RequestsPerSecond > 0 {
		opts = append(opts, providers.WithPacer(ratelimit.NewPacer(name, pc.RequestsPerSecond, 1)))
	}
	if pc.BaseURL != "" {
		opts = append(opts, providers.WithBaseURL(pc.BaseURL))
	}
	return opts
}
