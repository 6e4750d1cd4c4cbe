package engine

import (
	"encoding/json"
	"os"
	"path/filepath"
	"sync"

	"github.com/celerix-dev/celerix-presence/pkg/schema"
	"github.com/cockroachdb/errors"
)

const snapshotFile = "roster.json"

// Snapshot is the on-disk form of a MemStore.
type Snapshot struct {
	NextID int64               `json:"next_id"`
	People []schema.Person     `json:"people"`
	Audit  []schema.AuditEntry `json:"audit"`
}

// Persistence handles the disk I/O for the MemStore.
type Persistence struct {
	DataDir string

	mu    sync.Mutex // protects concurrent writes to the filesystem
	saved uint64     // version of the newest snapshot on disk
}

// NewPersistence initializes a persistence handler.
func NewPersistence(dir string) (*Persistence, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, errors.Wrapf(err, "create data dir %s", dir)
	}
	return &Persistence{DataDir: dir}, nil
}

func (p *Persistence) path() string {
	return filepath.Join(p.DataDir, snapshotFile)
}

// Save writes the snapshot atomically. Saves are issued from background
// goroutines and may arrive out of order, so a version older than the one
// already on disk is dropped.
func (p *Persistence) Save(version uint64, s Snapshot) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if version <= p.saved {
		return nil
	}

	bytes, err := json.MarshalIndent(s, "", "  ")
	if err != nil {
		return errors.Wrap(err, "encode snapshot")
	}

	tempPath := p.path() + ".tmp"
	if err := os.WriteFile(tempPath, bytes, 0644); err != nil {
		return errors.Wrap(err, "write snapshot")
	}
	// Either the old file or the new one survives a crash, never a torn one.
	if err := os.Rename(tempPath, p.path()); err != nil {
		return errors.Wrap(err, "replace snapshot")
	}
	p.saved = version
	return nil
}

// Load reads the snapshot from disk. A missing file yields an empty snapshot.
func (p *Persistence) Load() (Snapshot, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	content, err := os.ReadFile(p.path())
	if errors.Is(err, os.ErrNotExist) {
		return Snapshot{}, nil
	}
	if err != nil {
		return Snapshot{}, errors.Wrap(err, "read snapshot")
	}

	var s Snapshot
	if err := json.Unmarshal(content, &s); err != nil {
		return Snapshot{}, errors.Wrapf(err, "decode snapshot %s", p.path())
	}
	return s, nil
}
