package cmd

import (
	"fmt"
	"slices"

	"github.com/lepinkainen/bookmeta/internal/config"
)

// CacheCmd groups the cache maintenance commands
type CacheCmd struct {
	Stats CacheStatsCmd `cmd:"" help:"Show cache size, hit rate and hot keys"`
	Clear CacheClearCmd `cmd:"" help:"Remove cached entries"`
}

// CacheStatsCmd prints the analytics of every provider cache
type CacheStatsCmd struct {
	Top int `help:"Number of hot keys to show (defaults to cache.hot_keys)"`
}

// CacheClearCmd empties one provider cache, or all of them
type CacheClearCmd struct {
	Provider string `arg:"" optional:"" help:"Provider whose cache to clear (default: all)"`
}

func (c *CacheStatsCmd) Run(app *App) error {
	if !app.cfg.Cache.PersistToFile {
		app.logger.Warn("Cache persistence is disabled; stats only cover this process")
	}
	openAll(app)

	top := c.Top
	if top <= 0 {
		top = app.cfg.Cache.HotKeys
	}
	return writeOutput(app.out, app.format, app.caches.Analytics(top))
}

func (c *CacheClearCmd) Run(app *App) error {
	if c.Provider == "" {
		openAll(app)
		removed := app.caches.ClearAll()
		app.logger.Info("Cleared all caches", "removed", removed)
		return writeOutput(app.out, app.format, map[string]int{"removed": removed})
	}

	if !slices.Contains(config.ProviderNames, c.Provider) {
		return fmt.Errorf("unknown provider %q (expected one of %v)", c.Provider, config.ProviderNames)
	}
	removed := app.caches.For(c.Provider).Clear()
	app.logger.Info("Cleared cache", "provider", c.Provider, "removed", removed)
	return writeOutput(app.out, app.format, map[string]int{"removed": removed})
}

// openAll makes sure every provider cache is loaded, including disabled ones.
func openAll(app *App) {
	for _, name := range config.ProviderNames {
		app.caches.For(name)
	}
}
