// Package segment implements the fixed-size append-only segment files that
// back the log-unit's persistent storage: a bit-exact binary record format
// on disk, write-once append semantics, mmap-backed reads, and a sequential
// recovery scan that rebuilds a segment's address index from the file alone.
package segment

import (
	"bufio"
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"sync/atomic"
	"syscall"

	"github.com/corfudb-go/logunit/pkg/types"
	"golang.org/x/exp/mmap"
)

const (
	segmentMagic   uint16 = 0xC0F1
	segmentVersion uint16 = 1
	headerSize            = 2 + 2 + 8 // magic + version + segment id
)

// recordLoc is where one record lives within the segment file.
type recordLoc struct {
	offset int64
	length int
}

// Segment is one fixed-size append-only file covering the half-open global
// address range [FirstAddress, FirstAddress+RecordsPerSegment).
type Segment struct {
	ID                uint64
	FirstAddress      uint64
	RecordsPerSegment uint64
	path              string

	mu     sync.RWMutex
	file   *os.File
	writer *bufio.Writer
	size   int64
	index  map[uint64]recordLoc
	dirty  bool

	// TornTail records whether Open found and discarded a torn write at the
	// end of this segment's file during recovery.
	TornTail bool

	refCount int32
}

// Open opens or creates the segment file for id within dir, replaying its
// records to rebuild the in-memory address index. A torn write at the tail
// (the process crashed mid-append) is detected and the file truncated back
// to the last complete record. A complete record whose checksum fails is
// kept in the index and the scan continues past it; reading that address
// later returns DATA_CORRUPTION.
func Open(dir string, id uint64, recordsPerSegment uint64) (*Segment, error) {
	path := filepath.Join(dir, fmt.Sprintf("%d.log", id))

	f, err := os.OpenFile(path, os.O_CREATE|os.O_RDWR, 0o644)
	if err != nil {
		return nil, types.NewIO(fmt.Errorf("open segment %d: %w", id, err))
	}
	adviseSequential(f)

	info, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, types.NewIO(err)
	}

	s := &Segment{
		ID:                id,
		FirstAddress:      id * recordsPerSegment,
		RecordsPerSegment: recordsPerSegment,
		path:              path,
		file:              f,
		writer:            bufio.NewWriter(f),
		index:             make(map[uint64]recordLoc),
	}

	if info.Size() == 0 {
		if err := s.writeHeader(); err != nil {
			f.Close()
			return nil, err
		}
		return s, nil
	}

	if err := s.scanAndIndex(info.Size()); err != nil {
		f.Close()
		return nil, err
	}
	return s, nil
}

func (s *Segment) writeHeader() error {
	var hdr [headerSize]byte
	binary.LittleEndian.PutUint16(hdr[0:2], segmentMagic)
	binary.LittleEndian.PutUint16(hdr[2:4], segmentVersion)
	binary.LittleEndian.PutUint64(hdr[4:12], s.ID)
	if _, err := s.writer.Write(hdr[:]); err != nil {
		return types.NewIO(err)
	}
	if err := s.writer.Flush(); err != nil {
		return types.NewIO(err)
	}
	s.size = headerSize
	return nil
}

// scanAndIndex replays every record from the file, stopping at the first
// short one and truncating the file to the end of the last complete record,
// then positions the file for the next append.
func (s *Segment) scanAndIndex(fileSize int64) error {
	reader, err := mmap.Open(s.path)
	if err != nil {
		return types.NewIO(fmt.Errorf("mmap open segment %d: %w", s.ID, err))
	}
	defer reader.Close()

	if fileSize < headerSize {
		return types.NewDataCorruption(s.FirstAddress, fmt.Errorf("segment %d: header truncated", s.ID))
	}

	hdr := make([]byte, headerSize)
	if _, err := reader.ReadAt(hdr, 0); err != nil {
		return types.NewIO(err)
	}
	if magic := binary.LittleEndian.Uint16(hdr[0:2]); magic != segmentMagic {
		return types.NewDataCorruption(s.FirstAddress, fmt.Errorf("segment %d: bad magic %#x", s.ID, magic))
	}
	if version := binary.LittleEndian.Uint16(hdr[2:4]); version != segmentVersion {
		return types.NewDataCorruption(s.FirstAddress, fmt.Errorf("segment %d: unsupported format version %d", s.ID, version))
	}
	if gotID := binary.LittleEndian.Uint64(hdr[4:12]); gotID != s.ID {
		return types.NewDataCorruption(s.FirstAddress, fmt.Errorf("segment %d: header id mismatch %d", s.ID, gotID))
	}

	pos := int64(headerSize)
	for pos < fileSize {
		remaining := fileSize - pos
		buf := make([]byte, remaining)
		if _, err := reader.ReadAt(buf, pos); err != nil {
			return types.NewIO(err)
		}
		entry, n, err := decodeRecord(buf)
		if err != nil {
			if IsShortRecord(err) {
				s.TornTail = true
				break
			}
			// A checksum mismatch on an otherwise well-formed record is not
			// a torn write: the record_length prefix told us exactly how
			// many bytes it occupies, so scanning can continue past it.
			// The index still points here; Read re-verifies the checksum
			// and returns DATA_CORRUPTION for this one address, isolating
			// the damage instead of discarding every record after it.
			s.index[entry.GlobalAddress] = recordLoc{offset: pos, length: n}
			pos += int64(n)
			continue
		}
		s.index[entry.GlobalAddress] = recordLoc{offset: pos, length: n}
		pos += int64(n)
	}

	s.size = pos
	if pos < fileSize {
		if err := s.file.Truncate(pos); err != nil {
			return types.NewIO(fmt.Errorf("truncate torn tail of segment %d: %w", s.ID, err))
		}
	}
	if _, err := s.file.Seek(pos, 0); err != nil {
		return types.NewIO(err)
	}
	return nil
}

// LastAddress is the highest global address this segment can ever hold.
func (s *Segment) LastAddress() uint64 {
	return s.FirstAddress + s.RecordsPerSegment - 1
}

// InRange reports whether addr falls within this segment's address range.
func (s *Segment) InRange(addr uint64) bool {
	return addr >= s.FirstAddress && addr <= s.LastAddress()
}

// Append writes entry at address, or resolves the collision with whatever
// is already stored there. A successful write returns nil. A collision
// returns a *types.LogUnitError of KindOverwrite describing why, except
// when both the stored and the incoming entry carry a rank: then a higher
// incoming rank is written and any other rank returns DATA_OUTRANKED.
func (s *Segment) Append(address uint64, entry *types.LogEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if loc, exists := s.index[address]; exists {
		existing, err := s.readAt(loc)
		if err != nil {
			return err
		}

		// Rank-guarded addresses (single-address consensus slots) follow
		// Paxos-style ballot rules: a strictly higher rank supersedes the
		// prior value and physically appends a new record rather than
		// rejecting the write. A rank that does not beat the incumbent is
		// DATA_OUTRANKED, which is distinct from an ordinary OVERWRITE.
		if entry.HasRank() && existing.HasRank() {
			if *entry.Rank <= *existing.Rank {
				return types.NewDataOutranked(address)
			}
			return s.writeRecordLocked(address, entry)
		}

		return types.NewOverwrite(address, classifyOverwrite(existing, entry))
	}

	return s.writeRecordLocked(address, entry)
}

// AppendBatch writes every (address, entry) pair in addrs/entries under a
// single lock acquisition: it first checks every address for a collision
// and only starts writing once the whole batch is clear, so a batch that
// fails never leaves a partial write behind in this segment. Ranks are not
// arbitrated here: an existing record at any batched address is a plain
// OVERWRITE collision even when both entries carry ranks — batches are for
// ordinary sequential range writes, not single-address consensus slots.
func (s *Segment) AppendBatch(addrs []uint64, entries []*types.LogEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for i, address := range addrs {
		if loc, exists := s.index[address]; exists {
			existing, err := s.readAt(loc)
			if err != nil {
				return err
			}
			return types.NewOverwrite(address, classifyOverwrite(existing, entries[i]))
		}
	}

	for i, address := range addrs {
		if err := s.writeRecordLocked(address, entries[i]); err != nil {
			return err
		}
	}
	return nil
}

// writeRecordLocked appends entry's encoded bytes and repoints the index to
// it. Callers must hold s.mu.
func (s *Segment) writeRecordLocked(address uint64, entry *types.LogEntry) error {
	data, err := encodeRecord(address, entry)
	if err != nil {
		return types.NewIllegalArgument(err.Error())
	}

	if _, err := s.writer.Write(data); err != nil {
		return wrapDiskWriteError("append to", s.ID, err)
	}
	if err := s.writer.Flush(); err != nil {
		return wrapDiskWriteError("flush", s.ID, err)
	}

	s.index[address] = recordLoc{offset: s.size, length: len(data)}
	s.size += int64(len(data))
	s.dirty = true
	return nil
}

// wrapDiskWriteError distinguishes a disk-full condition (OUT_OF_SPACE) from
// every other write failure (IO), so callers can tell "the disk is full"
// apart from "something else went wrong with this file".
func wrapDiskWriteError(action string, id uint64, err error) error {
	wrapped := fmt.Errorf("%s segment %d: %w", action, id, err)
	if errors.Is(err, syscall.ENOSPC) {
		return types.NewOutOfSpace(wrapped)
	}
	return types.NewIO(wrapped)
}

// classifyOverwrite decides why a second write to the same address
// collided with the first, mirroring the cause taxonomy the engine
// reports to callers.
func classifyOverwrite(existing, incoming *types.LogEntry) types.OverwriteCause {
	if existing.Type == types.HoleEntry {
		return types.CauseHole
	}
	if existing.Epoch == incoming.Epoch && bytes.Equal(existing.Payload, incoming.Payload) {
		return types.CauseSameData
	}
	return types.CauseDifferentData
}

// TruncateAfter discards every record with an address greater than
// keepBelowOrEqual, truncating the file back to the offset where the first
// such record began. It is used by reset to clear uncommitted tail data out
// of the one segment that straddles the committed tail, without destroying
// the records at or below it that the reset protocol is supposed to keep.
func (s *Segment) TruncateAfter(keepBelowOrEqual uint64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	cutOffset := s.size
	for addr, loc := range s.index {
		if addr > keepBelowOrEqual && loc.offset < cutOffset {
			cutOffset = loc.offset
		}
	}
	if cutOffset == s.size {
		return nil
	}

	if err := s.writer.Flush(); err != nil {
		return types.NewIO(err)
	}
	if err := s.file.Truncate(cutOffset); err != nil {
		return types.NewIO(fmt.Errorf("truncate segment %d: %w", s.ID, err))
	}
	if _, err := s.file.Seek(0, 2); err != nil {
		return types.NewIO(err)
	}

	for addr := range s.index {
		if addr > keepBelowOrEqual {
			delete(s.index, addr)
		}
	}
	s.size = cutOffset
	s.dirty = true
	return nil
}

// Read returns the entry stored at address, or (nil, false) if this
// segment has nothing there.
func (s *Segment) Read(address uint64) (*types.LogEntry, bool, error) {
	s.mu.RLock()
	loc, exists := s.index[address]
	s.mu.RUnlock()
	if !exists {
		return nil, false, nil
	}
	entry, err := s.readAt(loc)
	if err != nil {
		return nil, true, err
	}
	return entry, true, nil
}

func (s *Segment) readAt(loc recordLoc) (*types.LogEntry, error) {
	reader, err := mmap.Open(s.path)
	if err != nil {
		return nil, types.NewIO(err)
	}
	defer reader.Close()

	buf := make([]byte, loc.length)
	if _, err := reader.ReadAt(buf, loc.offset); err != nil {
		return nil, types.NewIO(err)
	}
	entry, _, err := decodeRecord(buf)
	if err != nil {
		if IsShortRecord(err) {
			return nil, types.NewIO(fmt.Errorf("segment %d: indexed record at %d unreadable", s.ID, loc.offset))
		}
		return nil, err
	}
	return entry, nil
}

// Contains reports whether address has a record in this segment.
func (s *Segment) Contains(address uint64) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.index[address]
	return ok
}

// Addresses returns every address stored in this segment, ascending.
func (s *Segment) Addresses() []uint64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]uint64, 0, len(s.index))
	for addr := range s.index {
		out = append(out, addr)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// Size returns the number of bytes currently on disk for this segment.
func (s *Segment) Size() int64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.size
}

// Sync flushes and fsyncs the segment file if there are unsynced writes, or
// unconditionally when force is true.
func (s *Segment) Sync(force bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.dirty && !force {
		return nil
	}
	if err := s.writer.Flush(); err != nil {
		return types.NewIO(err)
	}
	if err := s.file.Sync(); err != nil {
		return types.NewIO(err)
	}
	s.dirty = false
	return nil
}

// Retain increments the handle's reference count. Callers must pair every
// Retain with a Release.
func (s *Segment) Retain() {
	atomic.AddInt32(&s.refCount, 1)
}

// Release decrements the reference count and closes the underlying file
// once it reaches zero, reporting whether the close happened.
func (s *Segment) Release() (bool, error) {
	if atomic.AddInt32(&s.refCount, -1) > 0 {
		return false, nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.writer.Flush(); err != nil {
		return true, types.NewIO(err)
	}
	if err := s.file.Close(); err != nil {
		return true, types.NewIO(err)
	}
	return true, nil
}

// RefCount reports the current reference count, for eviction policies that
// must not close a segment still in use.
func (s *Segment) RefCount() int32 {
	return atomic.LoadInt32(&s.refCount)
}

// Delete removes the segment's backing file. The caller must ensure the
// segment is fully released first.
func Delete(dir string, id uint64) error {
	path := filepath.Join(dir, fmt.Sprintf("%d.log", id))
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return types.NewIO(err)
	}
	return nil
}
