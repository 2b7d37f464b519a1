// Package cache provides a TTL cache for provider responses with hit/miss
// analytics, a background expiry sweep, and optional snapshot persistence.
package cache

import (
	"log/slog"
	"sort"
	"sync"
	"time"
)

const (
	// DefaultTTL is used when Set is called without a positive TTL.
	DefaultTTL = 24 * time.Hour
	// DefaultCleanupInterval is how often expired entries are swept.
	DefaultCleanupInterval = time.Minute
	// DefaultFlushEvery is the number of writes that triggers a snapshot.
	DefaultFlushEvery = 10
	// DefaultFlushInterval is how often a dirty cache is snapshotted.
	DefaultFlushInterval = 30 * time.Second
)

// Entry is one cached value.
type Entry struct {
	Key        string    `json:"key"`
	Value      []byte    `json:"value"`
	StoredAt   time.Time `json:"stored_at"`
	TTLMillis  int64     `json:"ttl_ms"`
	HitCount   int64     `json:"hit_count"`
	LastAccess time.Time `json:"last_access"`
}

// TTL returns the entry's time-to-live.
func (e *Entry) TTL() time.Duration {
	return time.Duration(e.TTLMillis) * time.Millisecond
}

// Expired reports whether the entry has outlived its TTL at now.
func (e *Entry) Expired(now time.Time) bool {
	return now.Sub(e.StoredAt) > e.TTL()
}

// Stats is a snapshot of the cache's request counters.
type Stats struct {
	Size          int     `json:"size" yaml:"size"`
	Hits          int64   `json:"hits" yaml:"hits"`
	Misses        int64   `json:"misses" yaml:"misses"`
	HitRate       float64 `json:"hit_rate" yaml:"hit_rate"`
	TotalRequests int64   `json:"total_requests" yaml:"total_requests"`
}

// HotKey is a frequently read cache key.
type HotKey struct {
	Key        string    `json:"key" yaml:"key"`
	HitCount   int64     `json:"hit_count" yaml:"hit_count"`
	LastAccess time.Time `json:"last_access" yaml:"last_access"`
}

// Analytics combines Stats with the most read keys.
type Analytics struct {
	Stats   `yaml:",inline"`
	HotKeys []HotKey `json:"hot_keys" yaml:"hot_keys"`
}

// Options configures a Cache.
type Options struct {
	// Name identifies the cache in logs, usually the provider tag.
	Name       string
	DefaultTTL time.Duration
	// CleanupInterval defaults to one minute; a negative value disables the sweeper.
	CleanupInterval time.Duration
	// Snapshotter enables persistence when non-nil.
	Snapshotter   Snapshotter
	FlushEvery    int
	FlushInterval time.Duration
	// OnError receives persistence failures. They never reach callers of Get or Set.
	OnError func(op string, err error)
	Now     func() time.Time
	Logger  *slog.Logger
}

// Cache is a concurrency-safe TTL cache. The sweeper, the flusher and
// foreground calls all go through the same mutex.
type Cache struct {
	opts Options

	mu            sync.Mutex
	entries       map[string]*Entry
	hits          int64
	misses        int64
	totalRequests int64
	pendingWrites int
	dirty         bool

	flushMu   sync.Mutex
	flushCh   chan struct{}
	stop      chan struct{}
	wg        sync.WaitGroup
	closeOnce sync.Once
}

// New creates a Cache, restores its snapshot when persistence is enabled,
// and starts the background sweeper and flusher.
func New(opts Options) *Cache {
	if opts.DefaultTTL <= 0 {
		opts.DefaultTTL = DefaultTTL
	}
	if opts.CleanupInterval == 0 {
		opts.CleanupInterval = DefaultCleanupInterval
	}
	if opts.FlushEvery <= 0 {
		opts.FlushEvery = DefaultFlushEvery
	}
	if opts.FlushInterval <= 0 {
		opts.FlushInterval = DefaultFlushInterval
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}

	c := &Cache{
		opts:    opts,
		entries: make(map[string]*Entry),
		flushCh: make(chan struct{}, 1),
		stop:    make(chan struct{}),
	}
	if opts.OnError == nil {
		c.opts.OnError = c.logError
	}

	if opts.Snapshotter != nil {
		c.restore()
	}

	if opts.CleanupInterval > 0 {
		c.wg.Add(1)
		go c.sweepLoop()
	}
	if opts.Snapshotter != nil {
		c.wg.Add(1)
		go c.flushLoop()
	}

	return c
}

// Name returns the cache name.
func (c *Cache) Name() string {
	return c.opts.Name
}

// Set stores value under key. A non-positive ttl uses the default TTL.
func (c *Cache) Set(key string, value []byte, ttl time.Duration) {
	if ttl <= 0 {
		ttl = c.opts.DefaultTTL
	}
	key = NormalizeKey(key)
	now := c.opts.Now()

	stored := make([]byte, len(value))
	copy(stored, value)

	c.mu.Lock()
	c.entries[key] = &Entry{
		Key:        key,
		Value:      stored,
		StoredAt:   now,
		TTLMillis:  ttl.Milliseconds(),
		LastAccess: now,
	}
	c.markDirtyLocked(1)
	c.mu.Unlock()
}

// Get returns a copy of the value for key. Expired entries are evicted and
// count as misses.
func (c *Cache) Get(key string) ([]byte, bool) {
	key = NormalizeKey(key)
	now := c.opts.Now()

	c.mu.Lock()
	defer c.mu.Unlock()

	c.totalRequests++
	entry, ok := c.entries[key]
	if !ok {
		c.misses++
		return nil, false
	}
	if entry.Expired(now) {
		delete(c.entries, key)
		c.misses++
		c.dirty = true
		return nil, false
	}

	c.hits++
	entry.HitCount++
	entry.LastAccess = now

	out := make([]byte, len(entry.Value))
	copy(out, entry.Value)
	return out, true
}

// Has reports whether a live entry exists for key. It does not touch the counters.
func (c *Cache) Has(key string) bool {
	key = NormalizeKey(key)
	now := c.opts.Now()

	c.mu.Lock()
	defer c.mu.Unlock()

	entry, ok := c.entries[key]
	if !ok {
		return false
	}
	if entry.Expired(now) {
		delete(c.entries, key)
		c.dirty = true
		return false
	}
	return true
}

// Delete removes key and reports whether it was present.
func (c *Cache) Delete(key string) bool {
	key = NormalizeKey(key)

	c.mu.Lock()
	defer c.mu.Unlock()

	if _, ok := c.entries[key]; !ok {
		return false
	}
	delete(c.entries, key)
	c.markDirtyLocked(1)
	return true
}

// Clear removes every entry and returns how many were removed.
func (c *Cache) Clear() int {
	c.mu.Lock()
	defer c.mu.Unlock()

	n := len(c.entries)
	c.entries = make(map[string]*Entry)
	c.markDirtyLocked(c.opts.FlushEvery)
	return n
}

// Sweep evicts every expired entry and returns the number removed.
func (c *Cache) Sweep() int {
	now := c.opts.Now()

	c.mu.Lock()
	defer c.mu.Unlock()

	removed := 0
	for key, entry := range c.entries {
		if entry.Expired(now) {
			delete(c.entries, key)
			removed++
		}
	}
	if removed > 0 {
		c.dirty = true
	}
	return removed
}

// Stats returns the current counters.
func (c *Cache) Stats() Stats {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.statsLocked()
}

// HotKeys returns up to n live keys ordered by hit count.
func (c *Cache) HotKeys(n int) []HotKey {
	if n <= 0 {
		return nil
	}
	now := c.opts.Now()

	c.mu.Lock()
	keys := make([]HotKey, 0, len(c.entries))
	for _, entry := range c.entries {
		if entry.HitCount == 0 || entry.Expired(now) {
			continue
		}
		keys = append(keys, HotKey{Key: entry.Key, HitCount: entry.HitCount, LastAccess: entry.LastAccess})
	}
	c.mu.Unlock()

	sortHotKeys(keys)
	if len(keys) > n {
		keys = keys[:n]
	}
	return keys
}

// Analytics returns the stats together with the top n hot keys.
func (c *Cache) Analytics(n int) Analytics {
	return Analytics{Stats: c.Stats(), HotKeys: c.HotKeys(n)}
}

// Close stops the background tasks and writes a final snapshot.
func (c *Cache) Close() error {
	var err error
	c.closeOnce.Do(func() {
		close(c.stop)
		c.wg.Wait()

		if c.opts.Snapshotter == nil {
			return
		}
		err = c.Flush()
		if closeErr := c.opts.Snapshotter.Close(); closeErr != nil && err == nil {
			err = closeErr
		}
	})
	return err
}

func (c *Cache) statsLocked() Stats {
	s := Stats{
		Size:          len(c.entries),
		Hits:          c.hits,
		Misses:        c.misses,
		TotalRequests: c.totalRequests,
	}
	if s.TotalRequests > 0 {
		s.HitRate = float64(s.Hits) / float64(s.TotalRequests)
	}
	return s
}

// markDirtyLocked counts writes and wakes the flusher once enough have piled up.
func (c *Cache) markDirtyLocked(writes int) {
	c.dirty = true
	if c.opts.Snapshotter == nil {
		return
	}
	c.pendingWrites += writes
	if c.pendingWrites >= c.opts.FlushEvery {
		c.pendingWrites = 0
		select {
		case c.flushCh <- struct{}{}:
		default:
		}
	}
}

func (c *Cache) sweepLoop() {
	defer c.wg.Done()
	ticker := time.NewTicker(c.opts.CleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-c.stop:
			return
		case <-ticker.C:
			if n := c.Sweep(); n > 0 {
				c.opts.Logger.Debug("Swept expired cache entries", "cache", c.opts.Name, "removed", n)
			}
		}
	}
}

func (c *Cache) logError(op string, err error) {
	c.opts.Logger.Warn("Cache persistence failed", "cache", c.opts.Name, "op", op, "error", err)
}

func sortHotKeys(keys []HotKey) {
	sort.Slice(keys, func(i, j int) bool {
		if keys[i].HitCount != keys[j].HitCount {
			return keys[i].HitCount > keys[j].HitCount
		}
		return keys[i].Key < keys[j].Key
	})
}
