package cache

import (
	"database/sql"
	"errors"
	"fmt"
	"sync"
	"time"

	_ "modernc.org/sqlite"
)

// SQLiteSnapshotter stores snapshots in a SQLite database. Each Save
// replaces the stored entries inside one transaction.
type SQLiteSnapshotter struct {
	mu   sync.Mutex
	db   *sql.DB
	path string
}

var _ Snapshotter = (*SQLiteSnapshotter)(nil)

// NewSQLiteSnapshotter opens (or creates) the database at dbPath.
func NewSQLiteSnapshotter(dbPath string) (*SQLiteSnapshotter, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open cache database: %w", err)
	}
	db.SetMaxOpenConns(1)

	if err := db.Ping(); err != nil {
		closeErr := db.Close()
		return nil, errors.Join(fmt.Errorf("failed to connect to cache database: %w", err), closeErr)
	}

	if _, err := db.Exec(SnapshotSchema); err != nil {
		closeErr := db.Close()
		return nil, errors.Join(fmt.Errorf("failed to create cache tables: %w", err), closeErr)
	}

	return &SQLiteSnapshotter{db: db, path: dbPath}, nil
}

// Path returns the database path.
func (s *SQLiteSnapshotter) Path() string {
	return s.path
}

func (s *SQLiteSnapshotter) Load() (*Snapshot, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	snap := &Snapshot{Version: SnapshotVersion}

	var savedAt int64
	err := s.db.QueryRow(
		"SELECT hits, misses, total_requests, saved_at FROM cache_counters WHERE id = 1",
	).Scan(&snap.Counters.Hits, &snap.Counters.Misses, &snap.Counters.TotalRequests, &savedAt)
	switch {
	case errors.Is(err, sql.ErrNoRows):
		return nil, nil
	case err != nil:
		return nil, fmt.Errorf("failed to read cache counters: %w", err)
	}
	snap.SavedAt = time.UnixMilli(savedAt)

	rows, err := s.db.Query(
		"SELECT cache_key, data, stored_at, ttl_ms, hit_count, last_access FROM cache_entries",
	)
	if err != nil {
		return nil, fmt.Errorf("failed to read cache entries: %w", err)
	}
	defer func() { _ = rows.Close() }()

	for rows.Next() {
		var (
			e                    Entry
			storedAt, lastAccess int64
		)
		if err := rows.Scan(&e.Key, &e.Value, &storedAt, &e.TTLMillis, &e.HitCount, &lastAccess); err != nil {
			return nil, fmt.Errorf("failed to scan cache entry: %w", err)
		}
		e.StoredAt = time.UnixMilli(storedAt)
		e.LastAccess = time.UnixMilli(lastAccess)
		snap.Entries = append(snap.Entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate cache entries: %w", err)
	}

	return snap, nil
}

func (s *SQLiteSnapshotter) Save(snap *Snapshot) (err error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("failed to begin snapshot transaction: %w", err)
	}
	defer func() {
		if err != nil {
			err = errors.Join(err, tx.Rollback())
		}
	}()

	if _, err = tx.Exec("DELETE FROM cache_entries"); err != nil {
		return fmt.Errorf("failed to clear cache entries: %w", err)
	}

	stmt, err := tx.Prepare(`INSERT INTO cache_entries
		(cache_key, data, stored_at, ttl_ms, hit_count, last_access)
		VALUES (?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("failed to prepare entry insert: %w", err)
	}
	defer func() { _ = stmt.Close() }()

	for i := range snap.Entries {
		e := &snap.Entries[i]
		if _, err = stmt.Exec(e.Key, e.Value, e.StoredAt.UnixMilli(), e.TTLMillis, e.HitCount, e.LastAccess.UnixMilli()); err != nil {
			return fmt.Errorf("failed to insert cache entry %q: %w", e.Key, err)
		}
	}

	if _, err = tx.Exec(`INSERT INTO cache_counters (id, hits, misses, total_requests, saved_at)
		VALUES (1, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			hits = excluded.hits,
			misses = excluded.misses,
			total_requests = excluded.total_requests,
			saved_at = excluded.saved_at`,
		snap.Counters.Hits, snap.Counters.Misses, snap.Counters.TotalRequests, snap.SavedAt.UnixMilli()); err != nil {
		return fmt.Errorf("failed to write cache counters: %w", err)
	}

	if err = tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit snapshot: %w", err)
	}
	return nil
}

// Close closes the database connection.
func (s *SQLiteSnapshotter) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.db != nil {
		return s.db.Close()
	}
	return nil
}
