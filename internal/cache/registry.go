package cache

import (
	"errors"
	"sort"
	"sync"
)

// Factory builds the cache for a named provider.
type Factory func(name string) *Cache

// Registry hands out one Cache per provider and aggregates their analytics.
type Registry struct {
	mu      sync.RWMutex
	caches  map[string]*Cache
	factory Factory
}

// RegistryAnalytics is the combined view over every provider cache.
type RegistryAnalytics struct {
	Total     Analytics        `json:"total" yaml:"total"`
	Providers map[string]Stats `json:"providers" yaml:"providers"`
}

// NewRegistry creates a registry. A nil factory creates in-memory caches.
func NewRegistry(factory Factory) *Registry {
	if factory == nil {
		factory = func(name string) *Cache {
			return New(Options{Name: name})
		}
	}
	return &Registry{
		caches:  make(map[string]*Cache),
		factory: factory,
	}
}

// For returns the cache for name, creating it on first use.
func (r *Registry) For(name string) *Cache {
	r.mu.RLock()
	c, ok := r.caches[name]
	r.mu.RUnlock()
	if ok {
		return c
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if c, ok := r.caches[name]; ok {
		return c
	}
	c = r.factory(name)
	r.caches[name] = c
	return c
}

// Lookup returns the cache for name without creating it.
func (r *Registry) Lookup(name string) (*Cache, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	c, ok := r.caches[name]
	return c, ok
}

// Names returns the registered cache names in sorted order.
func (r *Registry) Names() []string {
	r.mu.RLock()
	names := make([]string, 0, len(r.caches))
	for name := range r.caches {
		names = append(names, name)
	}
	r.mu.RUnlock()

	sort.Strings(names)
	return names
}

// Analytics sums the stats of every cache and merges their hot keys.
func (r *Registry) Analytics(top int) RegistryAnalytics {
	out := RegistryAnalytics{Providers: make(map[string]Stats)}

	var hot []HotKey
	for _, name := range r.Names() {
		c, _ := r.Lookup(name)
		a := c.Analytics(top)
		out.Providers[name] = a.Stats

		out.Total.Size += a.Size
		out.Total.Hits += a.Hits
		out.Total.Misses += a.Misses
		out.Total.TotalRequests += a.TotalRequests
		hot = append(hot, a.HotKeys...)
	}
	if out.Total.TotalRequests > 0 {
		out.Total.HitRate = float64(out.Total.Hits) / float64(out.Total.TotalRequests)
	}

	sortHotKeys(hot)
	if top >= 0 && len(hot) > top {
		hot = hot[:top]
	}
	out.Total.HotKeys = hot
	return out
}

// ClearAll empties every cache and returns the number of entries removed.
func (r *Registry) ClearAll() int {
	removed := 0
	for _, name := range r.Names() {
		c, _ := r.Lookup(name)
		removed += c.Clear()
	}
	return removed
}

// Flush snapshots every cache.
func (r *Registry) Flush() error {
	var errs []error
	for _, name := range r.Names() {
		c, _ := r.Lookup(name)
		if err := c.Flush(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Close closes every cache, flushing snapshots.
func (r *Registry) Close() error {
	var errs []error
	for _, name := range r.Names() {
		c, _ := r.Lookup(name)
		if err := c.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
