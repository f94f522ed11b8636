// Package datastore implements the small external key-value abstraction the
// engine calls out to for values that must survive a restart independent of
// the segment files themselves: the trim mark, the tail segment id, the
// committed tail, and the per-stream metadata blob. It is a YAML sidecar
// file, written through on every update — there is no separate flush call
// because the engine treats every one of these writes as durable-on-return.
package datastore

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/corfudb-go/logunit/pkg/types"
	"gopkg.in/yaml.v3"
)

// snapshot is the on-disk shape of the sidecar file.
type snapshot struct {
	StartingAddress uint64            `yaml:"starting_address"`
	TailSegment     uint64            `yaml:"tail_segment"`
	CommittedTail   uint64            `yaml:"committed_tail"`
	StreamMetadata  map[string]string `yaml:"stream_metadata"`
}

// DataStore is the write-through YAML sidecar backing the datastore
// abstraction. One DataStore guards one log unit's metadata file.
type DataStore struct {
	mu   sync.RWMutex
	path string
	snap snapshot
}

// Open loads path if it exists, or seeds fresh defaults (starting_address=0,
// committed_tail=NON_ADDRESS) if it does not.
func Open(path string) (*DataStore, error) {
	ds := &DataStore{
		path: path,
		snap: snapshot{
			CommittedTail:  types.NonAddress,
			StreamMetadata: make(map[string]string),
		},
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return ds, nil
		}
		return nil, types.NewIO(fmt.Errorf("read datastore %s: %w", path, err))
	}
	if len(data) == 0 {
		return ds, nil
	}
	if err := yaml.Unmarshal(data, &ds.snap); err != nil {
		return nil, types.NewLogUnit(fmt.Errorf("parse datastore %s: %w", path, err))
	}
	if ds.snap.StreamMetadata == nil {
		ds.snap.StreamMetadata = make(map[string]string)
	}
	return ds, nil
}

// persistLocked serializes the current snapshot to a temp file and renames
// it into place, so a crash mid-write never leaves a half-written sidecar.
// Callers must hold ds.mu.
func (ds *DataStore) persistLocked() error {
	data, err := yaml.Marshal(ds.snap)
	if err != nil {
		return types.NewIO(err)
	}
	if err := os.MkdirAll(filepath.Dir(ds.path), 0o755); err != nil {
		return types.NewIO(err)
	}
	tmp := ds.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return types.NewIO(err)
	}
	if err := os.Rename(tmp, ds.path); err != nil {
		return types.NewIO(err)
	}
	return nil
}

// GetStartingAddress returns the persisted trim mark.
func (ds *DataStore) GetStartingAddress() uint64 {
	ds.mu.RLock()
	defer ds.mu.RUnlock()
	return ds.snap.StartingAddress
}

// UpdateStartingAddress persists a new trim mark. Note the open question
// this engine inherits: the underlying file write here is not fsynced, so a
// crash immediately after return can lose this update and a restart may
// re-expose already-trimmed addresses until the next successful trim.
func (ds *DataStore) UpdateStartingAddress(addr uint64) error {
	ds.mu.Lock()
	defer ds.mu.Unlock()
	ds.snap.StartingAddress = addr
	return ds.persistLocked()
}

// GetTailSegment returns the highest segment id ever opened for write.
func (ds *DataStore) GetTailSegment() uint64 {
	ds.mu.RLock()
	defer ds.mu.RUnlock()
	return ds.snap.TailSegment
}

// UpdateTailSegment persists the new tail segment id.
func (ds *DataStore) UpdateTailSegment(id uint64) error {
	ds.mu.Lock()
	defer ds.mu.Unlock()
	ds.snap.TailSegment = id
	return ds.persistLocked()
}

// GetCommittedTail returns the highest address considered durably
// replicated cluster-wide, or NonAddress if never set.
func (ds *DataStore) GetCommittedTail() uint64 {
	ds.mu.RLock()
	defer ds.mu.RUnlock()
	return ds.snap.CommittedTail
}

// UpdateCommittedTail persists a new committed tail.
func (ds *DataStore) UpdateCommittedTail(addr uint64) error {
	ds.mu.Lock()
	defer ds.mu.Unlock()
	ds.snap.CommittedTail = addr
	return ds.persistLocked()
}

// GetLogUnitMetadata returns a copy of the per-stream metadata blob map
// (stream id string -> base64-encoded serialized address space).
func (ds *DataStore) GetLogUnitMetadata() map[string]string {
	ds.mu.RLock()
	defer ds.mu.RUnlock()
	out := make(map[string]string, len(ds.snap.StreamMetadata))
	for k, v := range ds.snap.StreamMetadata {
		out[k] = v
	}
	return out
}

// SetLogUnitMetadata replaces the per-stream metadata blob map wholesale,
// as the engine does on every metadata snapshot.
func (ds *DataStore) SetLogUnitMetadata(m map[string]string) error {
	ds.mu.Lock()
	defer ds.mu.Unlock()
	cp := make(map[string]string, len(m))
	for k, v := range m {
		cp[k] = v
	}
	ds.snap.StreamMetadata = cp
	return ds.persistLocked()
}
