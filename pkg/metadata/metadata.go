// Package metadata implements the log unit's in-memory metadata index: the
// global tail, per-stream tails and sparse address spaces, the committed
// tail, and the trim mark. It snapshots to and loads from the datastore
// abstraction so a restart does not have to rescan every segment from
// scratch.
package metadata

import (
	"encoding/base64"
	"fmt"
	"sync"

	"github.com/corfudb-go/logunit/pkg/addressspace"
	"github.com/corfudb-go/logunit/pkg/datastore"
	"github.com/corfudb-go/logunit/pkg/types"
	"github.com/google/uuid"
)

// LogMetadata is the engine's single metadata index. One lock covers every
// field; the index is small and updated far less often than segment I/O,
// so fine-grained per-stream locking buys nothing here.
type LogMetadata struct {
	mu sync.RWMutex

	globalTail      uint64
	streamTails     map[types.StreamID]uint64
	streamSpaces    map[types.StreamID]*addressspace.AddressSpace
	committedTail   uint64
	startingAddress uint64
	tailSegment     uint64
}

// New returns an empty metadata index with no persisted state.
func New() *LogMetadata {
	return &LogMetadata{
		globalTail:    types.NonAddress,
		streamTails:   make(map[types.StreamID]uint64),
		streamSpaces:  make(map[types.StreamID]*addressspace.AddressSpace),
		committedTail: types.NonAddress,
	}
}

// Load rebuilds a metadata index from whatever the datastore has persisted.
// It is the first half of recovery; the caller is responsible for the
// reverse segment scan that fills in anything written after the last
// snapshot.
func Load(ds *datastore.DataStore) (*LogMetadata, error) {
	m := New()
	m.startingAddress = ds.GetStartingAddress()
	m.tailSegment = ds.GetTailSegment()
	m.committedTail = ds.GetCommittedTail()

	for key, blob := range ds.GetLogUnitMetadata() {
		sid, err := uuid.Parse(key)
		if err != nil {
			return nil, types.NewLogUnit(fmt.Errorf("metadata snapshot: bad stream id %q: %w", key, err))
		}
		data, err := base64.StdEncoding.DecodeString(blob)
		if err != nil {
			return nil, types.NewLogUnit(fmt.Errorf("metadata snapshot: bad blob for stream %s: %w", key, err))
		}
		as, err := addressspace.Deserialize(data)
		if err != nil {
			return nil, types.NewLogUnit(fmt.Errorf("metadata snapshot: %w", err))
		}
		m.streamSpaces[sid] = as
		if tail, ok := as.Tail(); ok {
			m.streamTails[sid] = tail
			if m.globalTail == types.NonAddress || tail > m.globalTail {
				m.globalTail = tail
			}
		}
	}
	return m, nil
}

// Snapshot persists the full stream-address-space map to the datastore,
// replacing whatever was there before.
func (m *LogMetadata) Snapshot(ds *datastore.DataStore) error {
	m.mu.RLock()
	blob := make(map[string]string, len(m.streamSpaces))
	for sid, as := range m.streamSpaces {
		blob[sid.String()] = base64.StdEncoding.EncodeToString(as.Serialize())
	}
	m.mu.RUnlock()
	return ds.SetLogUnitMetadata(blob)
}

// RecordAppend updates global_tail, stream_tails, and stream_address_space
// for one successfully written entry. Callers invoke this once per address
// actually persisted, whether by a live append or by the recovery scan
// replaying a segment.
func (m *LogMetadata) RecordAppend(address uint64, entry *types.LogEntry) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.recordAppendLocked(address, entry)
}

func (m *LogMetadata) recordAppendLocked(address uint64, entry *types.LogEntry) {
	if m.globalTail == types.NonAddress || address > m.globalTail {
		m.globalTail = address
	}
	for _, sid := range entry.StreamIDs {
		as, ok := m.streamSpaces[sid]
		if !ok {
			as = addressspace.New()
			m.streamSpaces[sid] = as
		}
		as.Add(address)
		if cur, ok := m.streamTails[sid]; !ok || address > cur {
			m.streamTails[sid] = address
		}
	}
}

// GlobalTail returns the highest address ever successfully appended.
func (m *LogMetadata) GlobalTail() uint64 {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.globalTail
}

// StreamTails returns a copy of every stream's highest written address.
func (m *LogMetadata) StreamTails() map[types.StreamID]uint64 {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make(map[types.StreamID]uint64, len(m.streamTails))
	for k, v := range m.streamTails {
		out[k] = v
	}
	return out
}

// StreamAddressSpace returns a defensive copy of one stream's address
// space, or (nil, false) if the stream has never been written.
func (m *LogMetadata) StreamAddressSpace(stream types.StreamID) (*addressspace.AddressSpace, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	as, ok := m.streamSpaces[stream]
	if !ok {
		return nil, false
	}
	return as.Clone(), true
}

// StartingAddress returns the trim mark: addresses strictly below it are
// logically trimmed.
func (m *LogMetadata) StartingAddress() uint64 {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.startingAddress
}

// IsTrimmed reports whether address falls below the trim mark.
func (m *LogMetadata) IsTrimmed(address uint64) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return address < m.startingAddress
}

// PrefixTrim advances the trim mark past addr and trims every stream's
// address space to match. It is idempotent: calling it twice with the same
// or a lower addr after the first call is a no-op.
func (m *LogMetadata) PrefixTrim(addr uint64, ds *datastore.DataStore) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	newStart := addr + 1
	if addr == ^uint64(0) || newStart <= m.startingAddress {
		return nil
	}

	for _, as := range m.streamSpaces {
		as.TrimPrefix(addr)
	}
	m.startingAddress = newStart

	if ds != nil {
		if err := ds.UpdateStartingAddress(newStart); err != nil {
			return err
		}
	}
	return nil
}

// CommittedTail returns the highest address the cluster considers durably
// replicated.
func (m *LogMetadata) CommittedTail() uint64 {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.committedTail
}

// SetCommittedTail persists a new committed tail, set by the layer above
// this engine.
func (m *LogMetadata) SetCommittedTail(addr uint64, ds *datastore.DataStore) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.committedTail = addr
	if ds != nil {
		return ds.UpdateCommittedTail(addr)
	}
	return nil
}

// TailSegment returns the highest segment id ever opened for write.
func (m *LogMetadata) TailSegment() uint64 {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.tailSegment
}

// SyncTailSegment advances the tail segment to segmentID if it is higher
// than the current value, or unconditionally when force is true (used by
// the recovery edge case where the trim mark outruns every write).
func (m *LogMetadata) SyncTailSegment(segmentID uint64, force bool, ds *datastore.DataStore) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !force && segmentID <= m.tailSegment {
		return nil
	}
	m.tailSegment = segmentID
	if ds != nil {
		return ds.UpdateTailSegment(segmentID)
	}
	return nil
}

// Reset rewinds the metadata index to newGlobalTail, used by the engine's
// reset protocol once segments above the committed tail have been deleted.
// Every stream's address space is cut down to addresses <= newGlobalTail
// rather than wiped outright, since reset is only supposed to discard what
// the deleted segments actually held.
func (m *LogMetadata) Reset(newGlobalTail uint64) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.globalTail = newGlobalTail
	for sid, as := range m.streamSpaces {
		kept := as.AddressesInRange(0, newGlobalTail)
		if tail, ok := kept.Tail(); ok {
			m.streamSpaces[sid] = kept
			m.streamTails[sid] = tail
		} else {
			delete(m.streamSpaces, sid)
			delete(m.streamTails, sid)
		}
	}
}
