package cache

// SnapshotSchema defines the tables used by the SQLite snapshot backend.
// Timestamps are unix milliseconds.
const SnapshotSchema = `
CREATE TABLE IF NOT EXISTS cache_entries (
	cache_key TEXT PRIMARY KEY NOT NULL,
	data BLOB NOT NULL,
	stored_at INTEGER NOT NULL,
	ttl_ms INTEGER NOT NULL,
	hit_count INTEGER NOT NULL DEFAULT 0,
	last_access INTEGER NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_cache_entries_stored_at ON cache_entries(stored_at);

CREATE TABLE IF NOT EXISTS cache_counters (
	id INTEGER PRIMARY KEY CHECK (id = 1),
	hits INTEGER NOT NULL DEFAULT 0,
	misses INTEGER NOT NULL DEFAULT 0,
	total_requests INTEGER NOT NULL DEFAULT 0,
	saved_at INTEGER NOT NULL
);
`
