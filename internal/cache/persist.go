package cache

import (
	"fmt"
	"time"
)

// restore loads the snapshot into memory. Missing or unreadable snapshots
// leave the cache empty; expired entries are dropped.
func (c *Cache) restore() {
	snap, err := c.opts.Snapshotter.Load()
	if err != nil {
		c.opts.OnError("load", err)
		return
	}
	if snap == nil {
		return
	}

	now := c.opts.Now()
	loaded, dropped := 0, 0

	c.mu.Lock()
	for i := range snap.Entries {
		e := snap.Entries[i]
		if e.Key == "" || e.Expired(now) {
			dropped++
			continue
		}
		e.Key = NormalizeKey(e.Key)
		c.entries[e.Key] = &e
		loaded++
	}
	c.hits = snap.Counters.Hits
	c.misses = snap.Counters.Misses
	c.totalRequests = snap.Counters.TotalRequests
	c.mu.Unlock()

	c.opts.Logger.Debug("Restored cache snapshot",
		"cache", c.opts.Name,
		"entries", loaded,
		"expired", dropped,
	)
}

// Flush writes the current state to the snapshotter. Concurrent flushes are
// serialized; the cache stays usable while the snapshot is written.
func (c *Cache) Flush() error {
	if c.opts.Snapshotter == nil {
		return nil
	}

	c.flushMu.Lock()
	defer c.flushMu.Unlock()

	c.mu.Lock()
	snap := &Snapshot{
		Version: SnapshotVersion,
		SavedAt: c.opts.Now(),
		Entries: make([]Entry, 0, len(c.entries)),
		Counters: Counters{
			Hits:          c.hits,
			Misses:        c.misses,
			TotalRequests: c.totalRequests,
		},
	}
	for _, e := range c.entries {
		snap.Entries = append(snap.Entries, *e)
	}
	c.dirty = false
	c.pendingWrites = 0
	c.mu.Unlock()

	if err := c.opts.Snapshotter.Save(snap); err != nil {
		c.mu.Lock()
		c.dirty = true
		c.mu.Unlock()
		err = fmt.Errorf("cache %s: %w", c.opts.Name, err)
		c.opts.OnError("flush", err)
		return err
	}
	return nil
}

func (c *Cache) flushLoop() {
	defer c.wg.Done()
	ticker := time.NewTicker(c.opts.FlushInterval)
	defer ticker.Stop()

	for {
		select {
		case <-c.stop:
			return
		case <-c.flushCh:
			_ = c.Flush()
		case <-ticker.C:
			c.mu.Lock()
			dirty := c.dirty
			c.mu.Unlock()
			if dirty {
				_ = c.Flush()
			}
		}
	}
}
