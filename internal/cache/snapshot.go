package cache

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/goccy/go-json"
)

// SnapshotVersion is written into every snapshot.
const SnapshotVersion = 1

// Counters are the request counters carried across restarts.
type Counters struct {
	Hits          int64 `json:"hits"`
	Misses        int64 `json:"misses"`
	TotalRequests int64 `json:"total_requests"`
}

// Snapshot is the persisted state of a Cache.
type Snapshot struct {
	Version  int       `json:"version"`
	SavedAt  time.Time `json:"saved_at"`
	Entries  []Entry   `json:"entries"`
	Counters Counters  `json:"counters"`
}

// Snapshotter persists cache snapshots. Load returns (nil, nil) when no
// snapshot exists yet.
type Snapshotter interface {
	Load() (*Snapshot, error)
	Save(*Snapshot) error
	Close() error
}

// JSONSnapshotter stores snapshots as a JSON document. Saves go through a
// temp file in the same directory followed by a rename, so a crash never
// leaves a half-written snapshot behind.
type JSONSnapshotter struct {
	path string
}

var _ Snapshotter = (*JSONSnapshotter)(nil)

// NewJSONSnapshotter returns a snapshotter writing to path.
func NewJSONSnapshotter(path string) *JSONSnapshotter {
	return &JSONSnapshotter{path: path}
}

// Path returns the snapshot file path.
func (f *JSONSnapshotter) Path() string {
	return f.path
}

func (f *JSONSnapshotter) Load() (*Snapshot, error) {
	data, err := os.ReadFile(f.path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to read snapshot %s: %w", f.path, err)
	}

	var snap Snapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return nil, fmt.Errorf("failed to decode snapshot %s: %w", f.path, err)
	}
	return &snap, nil
}

func (f *JSONSnapshotter) Save(snap *Snapshot) error {
	data, err := json.Marshal(snap)
	if err != nil {
		return fmt.Errorf("failed to encode snapshot: %w", err)
	}

	dir := filepath.Dir(f.path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("failed to create snapshot directory: %w", err)
	}

	tmp, err := os.CreateTemp(dir, filepath.Base(f.path)+".*.tmp")
	if err != nil {
		return fmt.Errorf("failed to create temp snapshot: %w", err)
	}
	tmpName := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmpName)
		return fmt.Errorf("failed to write snapshot: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmpName)
		return fmt.Errorf("failed to sync snapshot: %w", err)
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmpName)
		return fmt.Errorf("failed to close snapshot: %w", err)
	}
	if err := os.Rename(tmpName, f.path); err != nil {
		_ = os.Remove(tmpName)
		return fmt.Errorf("failed to replace snapshot: %w", err)
	}
	return nil
}

func (f *JSONSnapshotter) Close() error {
	return nil
}
