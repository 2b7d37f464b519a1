package cache

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/lepinkainen/bookmeta/internal/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var testStart = time.Date(2024, 3, 10, 12, 0, 0, 0, time.UTC)

func newTestCache(t *testing.T, clock *testutil.Clock, opts Options) *Cache {
	t.Helper()
	opts.Now = clock.Now
	if opts.CleanupInterval == 0 {
		opts.CleanupInterval = -1
	}
	c := New(opts)
	t.Cleanup(func() { _ = c.Close() })
	return c
}

func TestSetGetCountsHitsAndMisses(t *testing.T) {
	clock := testutil.NewClock(testStart)
	c := newTestCache(t, clock, Options{Name: "test"})

	_, ok := c.Get("isbn:9780143127550")
	assert.False(t, ok)

	c.Set("isbn:9780143127550", []byte(`{"title":"Sapiens"}`), time.Hour)

	v, ok := c.Get("isbn:9780143127550")
	require.True(t, ok)
	assert.Equal(t, `{"title":"Sapiens"}`, string(v))

	_, _ = c.Get("isbn:9780143127550")

	stats := c.Stats()
	assert.Equal(t, 1, stats.Size)
	assert.Equal(t, int64(2), stats.Hits)
	assert.Equal(t, int64(1), stats.Misses)
	assert.Equal(t, int64(3), stats.TotalRequests)
	assert.InDelta(t, 2.0/3.0, stats.HitRate, 1e-9)
}

func TestStatsWithNoRequests(t *testing.T) {
	c := newTestCache(t, testutil.NewClock(testStart), Options{})
	assert.Equal(t, Stats{}, c.Stats())
}

func TestExpiredEntryIsMissAndEvicted(t *testing.T) {
	clock := testutil.NewClock(testStart)
	c := newTestCache(t, clock, Options{})

	c.Set("k", []byte("v"), time.Second)
	clock.Advance(2 * time.Second)

	_, ok := c.Get("k")
	assert.False(t, ok)

	stats := c.Stats()
	assert.Equal(t, 0, stats.Size)
	assert.Equal(t, int64(1), stats.Misses)
}

func TestEntryLiveUntilTTLElapses(t *testing.T) {
	clock := testutil.NewClock(testStart)
	c := newTestCache(t, clock, Options{})

	c.Set("k", []byte("v"), time.Minute)
	clock.Advance(time.Minute)

	assert.True(t, c.Has("k"))

	clock.Advance(time.Millisecond)
	assert.False(t, c.Has("k"))
}

func TestDefaultTTLApplied(t *testing.T) {
	clock := testutil.NewClock(testStart)
	c := newTestCache(t, clock, Options{DefaultTTL: 10 * time.Second})

	c.Set("k", []byte("v"), 0)
	clock.Advance(5 * time.Second)
	assert.True(t, c.Has("k"))

	clock.Advance(6 * time.Second)
	assert.False(t, c.Has("k"))
}

func TestSweepRemovesExpired(t *testing.T) {
	clock := testutil.NewClock(testStart)
	c := newTestCache(t, clock, Options{})

	c.Set("short", []byte("1"), time.Second)
	c.Set("long", []byte("2"), time.Hour)
	clock.Advance(time.Minute)

	assert.Equal(t, 1, c.Sweep())
	assert.Equal(t, 1, c.Stats().Size)
	assert.True(t, c.Has("long"))
}

func TestBackgroundSweeper(t *testing.T) {
	clock := testutil.NewClock(testStart)
	c := newTestCache(t, clock, Options{CleanupInterval: 10 * time.Millisecond})

	c.Set("k", []byte("v"), time.Second)
	clock.Advance(time.Hour)

	require.Eventually(t, func() bool {
		return c.Stats().Size == 0
	}, time.Second, 5*time.Millisecond)
}

func TestHasDoesNotCountRequests(t *testing.T) {
	c := newTestCache(t, testutil.NewClock(testStart), Options{})
	c.Set("k", []byte("v"), time.Hour)

	assert.True(t, c.Has("k"))
	assert.False(t, c.Has("missing"))
	assert.Equal(t, int64(0), c.Stats().TotalRequests)
}

func TestKeysAreNormalized(t *testing.T) {
	c := newTestCache(t, testutil.NewClock(testStart), Options{})

	c.Set("  Search:The   Hobbit ", []byte("v"), time.Hour)

	_, ok := c.Get("search:the hobbit")
	assert.True(t, ok)
	assert.True(t, c.Delete("SEARCH:THE\tHOBBIT"))
	assert.False(t, c.Delete("search:the hobbit"))
}

func TestSetCopiesValue(t *testing.T) {
	c := newTestCache(t, testutil.NewClock(testStart), Options{})

	value := []byte("abc")
	c.Set("k", value, time.Hour)
	value[0] = 'z'

	got, ok := c.Get("k")
	require.True(t, ok)
	assert.Equal(t, "abc", string(got))
}

func TestGetReturnsCopy(t *testing.T) {
	c := newTestCache(t, testutil.NewClock(testStart), Options{})
	c.Set("k", []byte("abc"), time.Hour)

	got, ok := c.Get("k")
	require.True(t, ok)
	got[0] = 'z'

	again, ok := c.Get("k")
	require.True(t, ok)
	assert.Equal(t, "abc", string(again))
}

func TestClear(t *testing.T) {
	c := newTestCache(t, testutil.NewClock(testStart), Options{})
	c.Set("a", []byte("1"), time.Hour)
	c.Set("b", []byte("2"), time.Hour)

	assert.Equal(t, 2, c.Clear())
	assert.Equal(t, 0, c.Stats().Size)
}

func TestHotKeys(t *testing.T) {
	clock := testutil.NewClock(testStart)
	c := newTestCache(t, clock, Options{})

	c.Set("a", []byte("1"), time.Hour)
	c.Set("b", []byte("2"), time.Hour)
	c.Set("c", []byte("3"), time.Hour)
	c.Set("cold", []byte("4"), time.Hour)

	for range 3 {
		c.Get("b")
	}
	c.Get("a")
	c.Get("c")

	hot := c.HotKeys(2)
	require.Len(t, hot, 2)
	assert.Equal(t, "b", hot[0].Key)
	assert.Equal(t, int64(3), hot[0].HitCount)
	assert.Equal(t, "a", hot[1].Key, "ties break on key")

	assert.Len(t, c.HotKeys(10), 3, "keys never read are not hot")
	assert.Nil(t, c.HotKeys(0))

	a := c.Analytics(1)
	assert.Equal(t, 4, a.Size)
	require.Len(t, a.HotKeys, 1)
	assert.Equal(t, "b", a.HotKeys[0].Key)
}

func TestConcurrentAccess(t *testing.T) {
	c := newTestCache(t, testutil.NewClock(testStart), Options{})

	var wg sync.WaitGroup
	for i := range 50 {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			key := fmt.Sprintf("k%d", i%5)
			c.Set(key, []byte("v"), time.Hour)
			c.Get(key)
			c.Get("missing")
		}(i)
	}
	wg.Wait()

	stats := c.Stats()
	assert.Equal(t, 5, stats.Size)
	assert.Equal(t, int64(100), stats.TotalRequests)
	assert.Equal(t, int64(50), stats.Hits)
	assert.Equal(t, int64(50), stats.Misses)
}

func TestSnapshotRoundTrip(t *testing.T) {
	env := testutil.NewTestEnv(t)
	path := env.Path("cache", "snapshot.json")
	clock := testutil.NewClock(testStart)

	first := New(Options{
		Name:            "openlibrary",
		Snapshotter:     NewJSONSnapshotter(path),
		Now:             clock.Now,
		CleanupInterval: -1,
	})
	first.Set("short", []byte("1"), time.Hour)
	first.Set("long", []byte("2"), 10*time.Hour)
	first.Get("long")
	first.Get("nope")
	require.NoError(t, first.Close())
	require.True(t, env.FileExists("cache/snapshot.json"))

	clock.Advance(2 * time.Hour)

	second := newTestCache(t, clock, Options{
		Name:        "openlibrary",
		Snapshotter: NewJSONSnapshotter(path),
	})

	assert.False(t, second.Has("short"), "expired entries are dropped on load")
	v, ok := second.Get("long")
	require.True(t, ok)
	assert.Equal(t, "2", string(v))

	stats := second.Stats()
	assert.Equal(t, 1, stats.Size)
	assert.Equal(t, int64(2), stats.Hits)
	assert.Equal(t, int64(1), stats.Misses)
	assert.Equal(t, int64(3), stats.TotalRequests)

	hot := second.HotKeys(1)
	require.Len(t, hot, 1)
	assert.Equal(t, int64(2), hot[0].HitCount)
}

func TestMissingSnapshotStartsEmpty(t *testing.T) {
	env := testutil.NewTestEnv(t)
	var reported []string

	c := newTestCache(t, testutil.NewClock(testStart), Options{
		Snapshotter: NewJSONSnapshotter(env.Path("absent.json")),
		OnError:     func(op string, err error) { reported = append(reported, op) },
	})

	assert.Equal(t, 0, c.Stats().Size)
	assert.Empty(t, reported)
}

func TestCorruptSnapshotStartsEmpty(t *testing.T) {
	env := testutil.NewTestEnv(t)
	env.WriteFile("snapshot.json", []byte("{not json"))

	var reported []string
	c := newTestCache(t, testutil.NewClock(testStart), Options{
		Snapshotter: NewJSONSnapshotter(env.Path("snapshot.json")),
		OnError:     func(op string, err error) { reported = append(reported, op) },
	})

	assert.Equal(t, 0, c.Stats().Size)
	assert.Equal(t, []string{"load"}, reported)

	c.Set("k", []byte("v"), time.Hour)
	_, ok := c.Get("k")
	assert.True(t, ok, "cache stays usable after a bad snapshot")
}

func TestFlushEveryTriggersBackgroundSave(t *testing.T) {
	env := testutil.NewTestEnv(t)
	path := env.Path("snapshot.json")

	c := newTestCache(t, testutil.NewClock(testStart), Options{
		Snapshotter:   NewJSONSnapshotter(path),
		FlushEvery:    3,
		FlushInterval: time.Hour,
	})

	c.Set("a", []byte("1"), time.Hour)
	c.Set("b", []byte("2"), time.Hour)
	assert.False(t, env.FileExists("snapshot.json"))

	c.Set("c", []byte("3"), time.Hour)

	require.Eventually(t, func() bool {
		snap, err := NewJSONSnapshotter(path).Load()
		return err == nil && snap != nil && len(snap.Entries) == 3
	}, 2*time.Second, 10*time.Millisecond)
}

type failingSnapshotter struct{}

func (failingSnapshotter) Load() (*Snapshot, error) { return nil, nil }
func (failingSnapshotter) Save(*Snapshot) error     { return os.ErrPermission }
func (failingSnapshotter) Close() error             { return nil }

func TestFlushFailureReportedNotFatal(t *testing.T) {
	var mu sync.Mutex
	var reported []error

	c := newTestCache(t, testutil.NewClock(testStart), Options{
		Name:        "isbndb",
		Snapshotter: failingSnapshotter{},
		OnError: func(op string, err error) {
			mu.Lock()
			defer mu.Unlock()
			reported = append(reported, err)
		},
	})

	c.Set("k", []byte("v"), time.Hour)
	err := c.Flush()
	require.Error(t, err)
	assert.ErrorIs(t, err, os.ErrPermission)

	_, ok := c.Get("k")
	assert.True(t, ok)

	mu.Lock()
	defer mu.Unlock()
	require.NotEmpty(t, reported)
}

func TestJSONSnapshotterLeavesNoTempFiles(t *testing.T) {
	env := testutil.NewTestEnv(t)
	s := NewJSONSnapshotter(env.Path("snap.json"))

	require.NoError(t, s.Save(&Snapshot{Version: SnapshotVersion, SavedAt: testStart}))
	require.NoError(t, s.Save(&Snapshot{Version: SnapshotVersion, SavedAt: testStart.Add(time.Minute)}))

	matches, err := filepath.Glob(filepath.Join(env.RootDir(), "*.tmp"))
	require.NoError(t, err)
	assert.Empty(t, matches)

	snap, err := s.Load()
	require.NoError(t, err)
	assert.True(t, snap.SavedAt.Equal(testStart.Add(time.Minute)))
}

func TestSQLiteSnapshotRoundTrip(t *testing.T) {
	env := testutil.NewTestEnv(t)
	dbPath := env.Path("cache.db")
	clock := testutil.NewClock(testStart)

	store, err := NewSQLiteSnapshotter(dbPath)
	require.NoError(t, err)

	empty, err := store.Load()
	require.NoError(t, err)
	assert.Nil(t, empty)

	first := New(Options{Snapshotter: store, Now: clock.Now, CleanupInterval: -1})
	first.Set("googlebooks:isbn:9780143127550", []byte(`[{"id":"x"}]`), 6*time.Hour)
	first.Get("googlebooks:isbn:9780143127550")
	require.NoError(t, first.Close())

	reopened, err := NewSQLiteSnapshotter(dbPath)
	require.NoError(t, err)

	clock.Advance(time.Hour)
	second := newTestCache(t, clock, Options{Snapshotter: reopened})

	v, ok := second.Get("googlebooks:isbn:9780143127550")
	require.True(t, ok)
	assert.Equal(t, `[{"id":"x"}]`, string(v))
	assert.Equal(t, int64(2), second.Stats().Hits)
}

func TestSQLiteSnapshotReplacesEntries(t *testing.T) {
	env := testutil.NewTestEnv(t)
	store, err := NewSQLiteSnapshotter(env.Path("cache.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })

	entry := func(key string) Entry {
		return Entry{Key: key, Value: []byte("v"), StoredAt: testStart, TTLMillis: 1000, LastAccess: testStart}
	}

	require.NoError(t, store.Save(&Snapshot{SavedAt: testStart, Entries: []Entry{entry("a"), entry("b")}}))
	require.NoError(t, store.Save(&Snapshot{SavedAt: testStart, Entries: []Entry{entry("c")}}))

	snap, err := store.Load()
	require.NoError(t, err)
	require.Len(t, snap.Entries, 1)
	assert.Equal(t, "c", snap.Entries[0].Key)
	assert.True(t, snap.Entries[0].StoredAt.Equal(testStart))
}

func TestCloseIsIdempotent(t *testing.T) {
	c := New(Options{CleanupInterval: time.Millisecond})
	require.NoError(t, c.Close())
	require.NoError(t, c.Close())
}
