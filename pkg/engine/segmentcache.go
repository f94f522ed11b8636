package engine

import (
	"sync"

	"github.com/corfudb-go/logunit/pkg/segment"
	lru "github.com/hashicorp/golang-lru"
)

// segmentCache is the "lazily opened, ref-counted, bounded resident set" of
// open segment handles described by the engine's concurrency model: a
// single mutex around a hash table (here, an LRU) gives compute-if-absent
// semantics, and eviction is vetoed for any handle still in use.
//
// hashicorp/golang-lru's eviction callback fires synchronously while the
// cache's own lock is held, so it cannot safely re-insert a busy handle
// right there (that would re-enter the same lock). Instead the callback
// only records the eviction; evictions are drained and, if still busy,
// re-admitted once the triggering Add/Remove/Purge call has returned.
type segmentCache struct {
	dir               string
	recordsPerSegment uint64

	// mu serializes the whole check-open-insert sequence in get(), giving
	// true compute-if-absent: two callers racing to open the same segment
	// id must share one handle, never open the file twice.
	mu    sync.Mutex
	cache *lru.Cache

	pending []evicted
}

type evicted struct {
	id  uint64
	seg *segment.Segment
}

func newSegmentCache(dir string, recordsPerSegment uint64, capacity int) (*segmentCache, error) {
	if capacity <= 0 {
		capacity = 16
	}
	sc := &segmentCache{dir: dir, recordsPerSegment: recordsPerSegment}
	c, err := lru.NewWithEvict(capacity, func(key, value interface{}) {
		sc.pending = append(sc.pending, evicted{id: key.(uint64), seg: value.(*segment.Segment)})
	})
	if err != nil {
		return nil, err
	}
	sc.cache = c
	return sc, nil
}

// get returns a retained handle for segment id, opening it from disk on
// first reference. The caller must call Release on the returned segment
// exactly once when done.
func (sc *segmentCache) get(id uint64) (*segment.Segment, error) {
	sc.mu.Lock()
	defer sc.mu.Unlock()

	if v, ok := sc.cache.Get(id); ok {
		seg := v.(*segment.Segment)
		seg.Retain()
		sc.drainPending()
		return seg, nil
	}

	seg, err := segment.Open(sc.dir, id, sc.recordsPerSegment)
	if err != nil {
		return nil, err
	}
	seg.Retain() // the cache's own reference, dropped on eviction
	seg.Retain() // the caller's reference
	sc.cache.Add(id, seg)
	sc.drainPending()
	return seg, nil
}

// drainPending processes handles the LRU evicted during the last Add,
// Remove, or Purge call: a handle still referenced elsewhere is re-admitted
// (the cache just grows past its soft capacity until it's safe to shrink);
// an idle handle, held only by the cache's own reference, is released and
// thereby closed.
func (sc *segmentCache) drainPending() {
	items := sc.pending
	sc.pending = nil
	for _, e := range items {
		if e.seg.RefCount() > 1 {
			sc.cache.Add(e.id, e.seg)
			continue
		}
		e.seg.Release()
	}
}

// remove forcibly drops id from the cache (used by compact/reset once the
// backing file has been deleted). The caller must guarantee no concurrent
// reader holds a handle, which the reset/compact write-lock provides.
func (sc *segmentCache) remove(id uint64) {
	sc.mu.Lock()
	defer sc.mu.Unlock()
	sc.cache.Remove(id)
	sc.drainPending()
}

// purge evicts and closes every cached handle, used by Engine.Close.
func (sc *segmentCache) purge() {
	sc.mu.Lock()
	defer sc.mu.Unlock()
	sc.cache.Purge()
	sc.drainPending()
}
