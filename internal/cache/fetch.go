package cache

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/goccy/go-json"
)

// NegativeCacheTTL is the TTL applied to "not found" results.
const NegativeCacheTTL = time.Hour

// FetchFunc produces a value on cache miss.
type FetchFunc[T any] func() (T, error)

// GetOrFetch returns the cached value for key, or calls fetch and caches the
// result with the TTL chosen by ttlSelector. A nil ttlSelector uses the
// cache default. The boolean reports whether the value came from the cache.
// A nil cache fetches directly.
func GetOrFetch[T any](c *Cache, key string, fetch FetchFunc[T], ttlSelector func(T) time.Duration) (T, bool, error) {
	var zero T

	if c == nil {
		data, err := fetch()
		return data, false, err
	}

	if cached, ok := c.Get(key); ok {
		var result T
		err := json.Unmarshal(cached, &result)
		if err == nil {
			slog.Debug("Cache hit", "cache", c.Name(), "key", key)
			return result, true, nil
		}
		slog.Warn("Failed to unmarshal cached data, will refetch", "cache", c.Name(), "key", key, "error", err)
	}

	slog.Debug("Cache miss, fetching data", "cache", c.Name(), "key", key)
	data, err := fetch()
	if err != nil {
		return zero, false, fmt.Errorf("failed to fetch data: %w", err)
	}

	var ttl time.Duration
	if ttlSelector != nil {
		ttl = ttlSelector(data)
	}

	encoded, err := json.Marshal(data)
	if err != nil {
		slog.Warn("Failed to marshal data for caching", "cache", c.Name(), "key", key, "error", err)
		return data, false, nil
	}
	c.Set(key, encoded, ttl)

	return data, false, nil
}

// SelectNegativeCacheTTL returns a TTL selector that caches "not found"
// results for negativeTTL and everything else for positiveTTL.
func SelectNegativeCacheTTL[T any](isNotFound func(T) bool, positiveTTL, negativeTTL time.Duration) func(T) time.Duration {
	return func(result T) time.Duration {
		if isNotFound(result) {
			return negativeTTL
		}
		return positiveTTL
	}
}
