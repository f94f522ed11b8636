// Package engine implements the log unit's public façade: the single entry
// point that coordinates the segment store, the metadata index, the quota
// and filesystem agent, and recovery, behind the reset/compact-vs-normal-I/O
// locking discipline.
package engine

import (
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/corfudb-go/logunit/pkg/config"
	"github.com/corfudb-go/logunit/pkg/datastore"
	"github.com/corfudb-go/logunit/pkg/metadata"
	"github.com/corfudb-go/logunit/pkg/metrics"
	"github.com/corfudb-go/logunit/pkg/quota"
	"github.com/corfudb-go/logunit/pkg/segment"
	"github.com/corfudb-go/logunit/pkg/types"
	"github.com/corfudb-go/logunit/util"
)

const metadataFileName = "log_metadata"

// Tails is the result of GetTails: the global tail plus the requested
// streams' individual tails.
type Tails struct {
	GlobalTail  uint64
	StreamTails map[types.StreamID]uint64
}

// Engine is the log unit storage engine. One Engine owns one log directory.
type Engine struct {
	// resetLock separates normal I/O (read side) from Reset/Compact (write
	// side), matching the single readers-writer lock the engine is
	// specified to use.
	resetLock sync.RWMutex

	dir               string
	recordsPerSegment uint64

	segments *segmentCache
	meta     *metadata.LogMetadata
	quota    *quota.ResourceQuota
	fsAgent  *quota.FilesystemAgent
	ds       *datastore.DataStore
	rec      metrics.Recorder

	closeOnce sync.Once
}

// Open brings up a log unit rooted at cfg.LogDir: ensures the directory is
// writable, loads the metadata snapshot, seeds the quota tracker from
// whatever is already on disk, and runs the recovery scan described in
// section 4.5 before returning a ready-to-use Engine.
func Open(cfg *config.Config, rec metrics.Recorder) (*Engine, error) {
	if rec == nil {
		rec = metrics.Noop
	}

	fsAgent := quota.NewFilesystemAgent(cfg.LogDir)
	if err := fsAgent.EnsureWritable(); err != nil {
		return nil, err
	}

	ds, err := datastore.Open(filepath.Join(fsAgent.LogDir(), metadataFileName))
	if err != nil {
		return nil, err
	}

	meta, err := metadata.Load(ds)
	if err != nil {
		return nil, err
	}

	q := quota.New(cfg.QuotaBytes)
	if usage, err := fsAgent.DiskUsage(); err == nil {
		q.Seed(usage)
	}

	segments, err := newSegmentCache(fsAgent.LogDir(), cfg.RecordsPerSegment, cfg.SegmentCacheSize)
	if err != nil {
		return nil, err
	}

	e := &Engine{
		dir:               fsAgent.LogDir(),
		recordsPerSegment: cfg.RecordsPerSegment,
		segments:          segments,
		meta:              meta,
		quota:             q,
		fsAgent:           fsAgent,
		ds:                ds,
		rec:               rec,
	}

	if err := e.recover(); err != nil {
		return nil, err
	}

	e.rec.RecordQuotaUsage(q.UsedBytes(), q.LimitBytes())
	if ids, err := e.listSegmentIDs(); err == nil {
		e.rec.RecordSegmentCount(len(ids))
	}
	return e, nil
}

// segmentIDFor returns the segment id covering address.
func (e *Engine) segmentIDFor(address uint64) uint64 {
	return address / e.recordsPerSegment
}

// recover implements spec section 4.5: reverse-scan every segment from the
// persisted tail segment down to the trim mark, skipping anything already
// accounted for by the loaded snapshot, then drop the temporary handles the
// scan opened.
func (e *Engine) recover() error {
	var highestLoaded uint64
	hasHighest := false
	for _, tail := range e.meta.StreamTails() {
		if !hasHighest || tail > highestLoaded {
			highestLoaded = tail
			hasHighest = true
		}
	}

	startingAddress := e.meta.StartingAddress()
	lowSegment := startingAddress / e.recordsPerSegment
	tailSegment := e.meta.TailSegment()

	if tailSegment >= lowSegment {
		for id := tailSegment; ; id-- {
			if err := e.recoverSegment(id, startingAddress, highestLoaded, hasHighest); err != nil {
				return err
			}
			if id == lowSegment {
				break
			}
		}
	}

	e.segments.purge()

	if e.meta.GlobalTail() != types.NonAddress && startingAddress > 0 && e.meta.GlobalTail() < startingAddress-1 {
		if err := e.meta.SyncTailSegment(lowSegment, true, e.ds); err != nil {
			return err
		}
	} else if e.meta.GlobalTail() == types.NonAddress && startingAddress > 0 {
		if err := e.meta.SyncTailSegment(lowSegment, true, e.ds); err != nil {
			return err
		}
	}

	return nil
}

func (e *Engine) recoverSegment(id, startingAddress, highestLoaded uint64, hasHighest bool) error {
	seg, err := e.segments.get(id)
	if err != nil {
		util.Warn("recovery: segment %d unreadable: %v", id, err)
		return nil
	}
	defer seg.Release()

	addrs := seg.Addresses()
	for i := len(addrs) - 1; i >= 0; i-- {
		addr := addrs[i]
		if addr < startingAddress {
			continue
		}
		if hasHighest && addr <= highestLoaded {
			continue
		}
		entry, ok, err := seg.Read(addr)
		if err != nil {
			util.Warn("recovery: segment %d address %d unreadable: %v", id, addr, err)
			continue
		}
		if !ok {
			continue
		}
		e.meta.RecordAppend(addr, entry)
	}
	return nil
}

// Append writes entry at address, enforcing write-once semantics and
// back-pressure. A successful append is durable to the OS page cache only;
// callers needing stronger guarantees must follow up with Sync(true).
func (e *Engine) Append(address uint64, entry *types.LogEntry) error {
	e.resetLock.RLock()
	defer e.resetLock.RUnlock()

	if address < e.meta.StartingAddress() {
		return types.NewOverwrite(address, types.CauseTrimmed)
	}

	size, err := segment.EncodedSize(entry)
	if err != nil {
		return types.NewIllegalArgument(err.Error())
	}
	if err := e.quota.Reserve(int64(size)); err != nil {
		return err
	}

	start := time.Now()
	seg, err := e.segments.get(e.segmentIDFor(address))
	if err != nil {
		e.quota.Release(int64(size))
		return err
	}
	defer seg.Release()

	if err := seg.Append(address, entry); err != nil {
		e.quota.Release(int64(size))
		if kind, ok := types.KindOf(err); ok && kind == types.KindOverwrite {
			if lue, ok := err.(*types.LogUnitError); ok {
				e.rec.RecordOverwrite(lue.Cause.String())
			}
		}
		return err
	}

	e.meta.RecordAppend(address, entry)
	if err := e.meta.SyncTailSegment(e.segmentIDFor(address), false, e.ds); err != nil {
		return err
	}

	e.rec.RecordAppend(size, time.Since(start))
	e.rec.RecordQuotaUsage(e.quota.UsedBytes(), e.quota.LimitBytes())
	return nil
}

// AppendRange writes a contiguous, strictly ascending run of addresses with
// no gaps, spanning at most two segments, as one validated batch. Entries
// landing in the same segment are checked for collisions and written
// together under that segment's single lock acquisition (Segment.AppendBatch),
// so a failure partway through a segment's share of the range never leaves
// some of that segment's entries persisted and others not; there is no
// atomicity guarantee spanning the two segments a range can straddle.
func (e *Engine) AppendRange(firstAddress uint64, entries []*types.LogEntry) error {
	e.resetLock.RLock()
	defer e.resetLock.RUnlock()

	if len(entries) == 0 {
		return types.NewIllegalArgument("append range: no entries")
	}

	if firstAddress < e.meta.StartingAddress() {
		return types.NewOverwrite(firstAddress, types.CauseTrimmed)
	}

	lastAddress := firstAddress + uint64(len(entries)) - 1
	firstSeg := e.segmentIDFor(firstAddress)
	lastSeg := e.segmentIDFor(lastAddress)
	if lastSeg-firstSeg > 1 {
		return types.NewIllegalArgument("append range: spans more than two segments")
	}

	for segID := firstSeg; segID <= lastSeg; segID++ {
		var addrs []uint64
		var segEntries []*types.LogEntry
		var size int64
		for i, entry := range entries {
			addr := firstAddress + uint64(i)
			if e.segmentIDFor(addr) != segID {
				continue
			}
			entrySize, err := segment.EncodedSize(entry)
			if err != nil {
				return types.NewIllegalArgument(err.Error())
			}
			addrs = append(addrs, addr)
			segEntries = append(segEntries, entry)
			size += int64(entrySize)
		}
		if len(addrs) == 0 {
			continue
		}

		if err := e.quota.Reserve(size); err != nil {
			return err
		}

		seg, err := e.segments.get(segID)
		if err != nil {
			e.quota.Release(size)
			return err
		}

		start := time.Now()
		err = seg.AppendBatch(addrs, segEntries)
		seg.Release()
		if err != nil {
			e.quota.Release(size)
			if kind, ok := types.KindOf(err); ok && kind == types.KindOverwrite {
				if lue, ok := err.(*types.LogUnitError); ok {
					e.rec.RecordOverwrite(lue.Cause.String())
				}
			}
			return err
		}

		for i, addr := range addrs {
			e.meta.RecordAppend(addr, segEntries[i])
		}
		if err := e.meta.SyncTailSegment(segID, false, e.ds); err != nil {
			return err
		}

		e.rec.RecordAppend(int(size), time.Since(start))
		e.rec.RecordQuotaUsage(e.quota.UsedBytes(), e.quota.LimitBytes())
	}

	return nil
}

// Read returns the entry at address: a synthetic TRIMMED entry if address is
// below the trim mark, (nil, false, nil) if nothing was ever written there,
// or the stored entry (surfacing DATA_CORRUPTION on a checksum failure).
func (e *Engine) Read(address uint64) (*types.LogEntry, bool, error) {
	e.resetLock.RLock()
	defer e.resetLock.RUnlock()

	if address < e.meta.StartingAddress() {
		return types.Trimmed(address), true, nil
	}

	seg, err := e.segments.get(e.segmentIDFor(address))
	if err != nil {
		return nil, false, err
	}
	defer seg.Release()

	return seg.Read(address)
}

// Contains reports whether address has a durable record. Per section 9's
// load-bearing shortcut, any address at or below the committed tail is
// reported present without consulting the segment index at all.
func (e *Engine) Contains(address uint64) (bool, error) {
	e.resetLock.RLock()
	defer e.resetLock.RUnlock()

	if address < e.meta.StartingAddress() {
		return false, types.NewTrimmed(address)
	}
	if ct := e.meta.CommittedTail(); ct != types.NonAddress && address <= ct {
		return true, nil
	}

	seg, err := e.segments.get(e.segmentIDFor(address))
	if err != nil {
		return false, err
	}
	defer seg.Release()
	return seg.Contains(address), nil
}

// GetTails returns the global tail and, for each requested stream, its
// individual tail. Streams never written are simply absent from the map.
func (e *Engine) GetTails(streams []types.StreamID) Tails {
	e.resetLock.RLock()
	defer e.resetLock.RUnlock()

	all := e.meta.StreamTails()
	out := Tails{GlobalTail: e.meta.GlobalTail(), StreamTails: make(map[types.StreamID]uint64, len(streams))}
	for _, sid := range streams {
		if tail, ok := all[sid]; ok {
			out.StreamTails[sid] = tail
		}
	}
	return out
}

// GetStreamsAddressSpace returns the global tail and every stream's full
// tail map in one snapshot.
func (e *Engine) GetStreamsAddressSpace() Tails {
	e.resetLock.RLock()
	defer e.resetLock.RUnlock()
	return Tails{GlobalTail: e.meta.GlobalTail(), StreamTails: e.meta.StreamTails()}
}

// PrefixTrim advances the trim mark past addr. Idempotent: a repeated or
// lower addr is a no-op.
func (e *Engine) PrefixTrim(addr uint64) error {
	e.resetLock.RLock()
	defer e.resetLock.RUnlock()

	if err := e.meta.PrefixTrim(addr, e.ds); err != nil {
		return err
	}
	e.rec.RecordTrimMark(e.meta.StartingAddress())
	return nil
}

// SetCommittedTail records the highest address the cluster considers
// durably replicated, as reported by the external replication layer above
// this engine. It is a policy input to Reset and to Contains's shortcut.
func (e *Engine) SetCommittedTail(addr uint64) error {
	e.resetLock.RLock()
	defer e.resetLock.RUnlock()
	return e.meta.SetCommittedTail(addr, e.ds)
}

// Compact deletes whole segment files entirely below the trim mark,
// returning quota to the pool for each one removed.
func (e *Engine) Compact() error {
	e.resetLock.Lock()
	defer e.resetLock.Unlock()

	lowSegment := e.meta.StartingAddress() / e.recordsPerSegment
	if lowSegment == 0 {
		return nil
	}

	ids, err := e.listSegmentIDs()
	if err != nil {
		return err
	}

	for _, id := range ids {
		if id >= lowSegment {
			continue
		}
		size, err := segmentFileSize(e.dir, id)
		if err != nil {
			return err
		}
		e.segments.remove(id)
		if err := segment.Delete(e.dir, id); err != nil {
			return err
		}
		e.quota.Release(size)
	}

	e.rec.RecordQuotaUsage(e.quota.UsedBytes(), e.quota.LimitBytes())
	if ids, err := e.listSegmentIDs(); err == nil {
		e.rec.RecordSegmentCount(len(ids))
	}
	return nil
}

// KnownAddressesInRange returns every address with a durable record in
// [lo, hi], ascending, regardless of stream membership.
func (e *Engine) KnownAddressesInRange(lo, hi uint64) ([]uint64, error) {
	e.resetLock.RLock()
	defer e.resetLock.RUnlock()

	if hi < lo {
		return nil, nil
	}

	firstSeg := lo / e.recordsPerSegment
	lastSeg := hi / e.recordsPerSegment

	var out []uint64
	for id := firstSeg; id <= lastSeg; id++ {
		seg, err := e.segments.get(id)
		if err != nil {
			return nil, err
		}
		for _, addr := range seg.Addresses() {
			if addr >= lo && addr <= hi {
				out = append(out, addr)
			}
		}
		seg.Release()
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out, nil
}

// Sync flushes dirty segments. When force is true, every open segment is
// fsynced unconditionally; otherwise only segments with unflushed writes
// since their last sync are touched.
func (e *Engine) Sync(force bool) error {
	e.resetLock.RLock()
	defer e.resetLock.RUnlock()

	ids, err := e.listSegmentIDs()
	if err != nil {
		return err
	}
	for _, id := range ids {
		seg, err := e.segments.get(id)
		if err != nil {
			return err
		}
		err = seg.Sync(force)
		seg.Release()
		if err != nil {
			return err
		}
	}
	return e.meta.Snapshot(e.ds)
}

// Reset implements the destructive reset protocol used to heal a recovering
// node that has uncommitted data ahead of the cluster's committed tail.
//
// The literal protocol of section 4.4 deletes the committed-tail segment's
// file outright along with everything above it, which section 9 flags as
// unsafe whenever committed_tail isn't the last address of its segment: it
// would destroy already-committed data living earlier in that same file.
// Per that flag ("do not replicate blindly"), this implementation instead
// truncates the committed-tail segment down to committed_tail — discarding
// only the uncommitted records inside it — and deletes every segment
// strictly above it wholesale. See DESIGN.md for the full writeup.
func (e *Engine) Reset() error {
	e.resetLock.Lock()
	defer e.resetLock.Unlock()

	committedTail := e.meta.CommittedTail()
	globalTail := e.meta.GlobalTail()

	if globalTail == types.NonAddress || committedTail == types.NonAddress {
		return nil
	}

	committedSegment := committedTail / e.recordsPerSegment
	latestSegment := globalTail / e.recordsPerSegment

	for id := latestSegment; id > committedSegment; id-- {
		e.segments.remove(id)
		if err := segment.Delete(e.dir, id); err != nil {
			return err
		}
	}

	seg, err := e.segments.get(committedSegment)
	if err != nil {
		return err
	}
	err = seg.TruncateAfter(committedTail)
	seg.Release()
	if err != nil {
		return err
	}

	e.meta.Reset(committedTail)
	if err := e.meta.SyncTailSegment(committedSegment, true, e.ds); err != nil {
		return err
	}

	e.segments.purge()
	return e.recover()
}

// Close flushes and closes every open segment handle and persists the final
// metadata snapshot.
func (e *Engine) Close() error {
	var err error
	e.closeOnce.Do(func() {
		e.resetLock.Lock()
		defer e.resetLock.Unlock()
		if snapErr := e.meta.Snapshot(e.ds); snapErr != nil {
			err = snapErr
			return
		}
		e.segments.purge()
	})
	return err
}

// listSegmentIDs enumerates the *.log files present in the log directory,
// ignoring anything whose name doesn't parse as a decimal segment id, as
// section 6 specifies.
func (e *Engine) listSegmentIDs() ([]uint64, error) {
	dirEntries, err := os.ReadDir(e.dir)
	if err != nil {
		return nil, types.NewIO(err)
	}
	var ids []uint64
	for _, de := range dirEntries {
		if de.IsDir() {
			continue
		}
		name := de.Name()
		if !strings.HasSuffix(name, ".log") {
			continue
		}
		id, err := strconv.ParseUint(strings.TrimSuffix(name, ".log"), 10, 64)
		if err != nil {
			continue
		}
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids, nil
}

func segmentFileSize(dir string, id uint64) (int64, error) {
	info, err := os.Stat(filepath.Join(dir, strconv.FormatUint(id, 10)+".log"))
	if err != nil {
		return 0, types.NewIO(err)
	}
	return info.Size(), nil
}
