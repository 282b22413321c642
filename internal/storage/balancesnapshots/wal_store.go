// Package balancesnapshots keeps an append-only log of refreshed account sets.
package balancesnapshots

import (
	"encoding/json"
	"strings"
	"sync"

	"github.com/pkg/errors"
	"github.com/vadiminshakov/gowal"

	"github.com/vadiminshakov/fxdesk/internal/domain"
)

const (
	defaultSnapshotDir   = "./wal/balance"
	snapshotSegmentLimit = 1000
	snapshotMaxSegments  = 100
	snapshotKeyPrefix    = "balance_snapshot_"
)

// entry is the on-disk envelope; it carries its own log index so readers
// never depend on segment layout.
type entry struct {
	Index    uint64                 `json:"index"`
	Snapshot domain.BalanceSnapshot `json:"snapshot"`
}

// WALStore persists balance snapshots in a WAL for recovery/streaming purposes.
type WALStore struct {
	wal *gowal.Wal
	mu  sync.RWMutex
}

// NewWALStore initializes a WAL-backed snapshot store under the provided directory.
func NewWALStore(dir string) (*WALStore, error) {
	if dir == "" {
		dir = defaultSnapshotDir
	}

	cfg := gowal.Config{
		Dir:              dir,
		Prefix:           "snapshot_",
		SegmentThreshold: snapshotSegmentLimit,
		MaxSegments:      snapshotMaxSegments,
		IsInSyncDiskMode: true,
	}

	wal, err := gowal.NewWAL(cfg)
	if err != nil {
		return nil, errors.Wrap(err, "init balance snapshot WAL")
	}

	return &WALStore{wal: wal}, nil
}

// Save appends the snapshot. Callers must ensure snapshot.UserID is set.
func (s *WALStore) Save(snapshot domain.BalanceSnapshot) error {
	if s == nil || s.wal == nil {
		return errors.New("balance snapshot store is not initialized")
	}
	if snapshot.UserID == "" {
		return errors.New("balance snapshot user id is required")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	nextIndex := s.wal.CurrentIndex() + 1
	payload, err := json.Marshal(entry{Index: nextIndex, Snapshot: snapshot})
	if err != nil {
		return errors.Wrap(err, "marshal balance snapshot")
	}

	return s.wal.Write(nextIndex, snapshotKeyPrefix+snapshot.UserID, payload)
}

// SnapshotsAfter returns all balance snapshots written after the provided WAL index.
func (s *WALStore) SnapshotsAfter(index uint64) ([]domain.BalanceSnapshotRecord, error) {
	if s == nil || s.wal == nil {
		return nil, errors.New("balance snapshot store is not initialized")
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.wal.CurrentIndex() <= index {
		return nil, nil
	}

	var records []domain.BalanceSnapshotRecord
	for msg := range s.wal.Iterator() {
		if !strings.HasPrefix(msg.Key, snapshotKeyPrefix) {
			continue
		}
		var e entry
		if err := json.Unmarshal(msg.Value, &e); err != nil {
			return nil, errors.Wrap(err, "decode balance snapshot")
		}
		if e.Index <= index {
			continue
		}
		records = append(records, domain.BalanceSnapshotRecord{
			Index:    e.Index,
			Snapshot: e.Snapshot,
		})
	}

	return records, nil
}

// CurrentIndex returns the latest WAL index stored.
func (s *WALStore) CurrentIndex() uint64 {
	if s == nil || s.wal == nil {
		return 0
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	return s.wal.CurrentIndex()
}

// Close closes the underlying WAL.
func (s *WALStore) Close() error {
	if s == nil || s.wal == nil {
		return errors.New("balance snapshot store is not initialized")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	return s.wal.Close()
}
