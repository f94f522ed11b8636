package metadata_test

import (
	"path/filepath"
	"testing"

	"github.com/corfudb-go/logunit/pkg/datastore"
	"github.com/corfudb-go/logunit/pkg/metadata"
	"github.com/corfudb-go/logunit/pkg/types"
	"github.com/google/uuid"
)

func entry(streams ...types.StreamID) *types.LogEntry {
	return &types.LogEntry{Type: types.DataEntry, StreamIDs: streams, Payload: []byte("x")}
}

func TestRecordAppendUpdatesTails(t *testing.T) {
	m := metadata.New()
	s := uuid.New()

	m.RecordAppend(0, entry(s))
	m.RecordAppend(2, entry(s))
	m.RecordAppend(1, entry())

	if m.GlobalTail() != 2 {
		t.Fatalf("expected global tail 2, got %d", m.GlobalTail())
	}
	tails := m.StreamTails()
	if tails[s] != 2 {
		t.Fatalf("expected stream tail 2, got %d", tails[s])
	}

	as, ok := m.StreamAddressSpace(s)
	if !ok {
		t.Fatalf("expected stream address space to exist")
	}
	if got := as.Range(0, 2); len(got) != 2 || got[0] != 0 || got[1] != 2 {
		t.Fatalf("unexpected range: %v", got)
	}
}

func TestPrefixTrimIsIdempotent(t *testing.T) {
	m := metadata.New()
	s := uuid.New()
	for _, a := range []uint64{0, 1, 2, 3, 4} {
		m.RecordAppend(a, entry(s))
	}

	if err := m.PrefixTrim(2, nil); err != nil {
		t.Fatalf("PrefixTrim: %v", err)
	}
	if !m.IsTrimmed(2) || m.IsTrimmed(3) {
		t.Fatalf("expected addresses <= 2 trimmed, 3 retained")
	}

	as, _ := m.StreamAddressSpace(s)
	if as.Contains(2) || !as.Contains(3) {
		t.Fatalf("stream address space not trimmed correctly")
	}

	if err := m.PrefixTrim(2, nil); err != nil {
		t.Fatalf("second PrefixTrim: %v", err)
	}
	if err := m.PrefixTrim(0, nil); err != nil {
		t.Fatalf("PrefixTrim with lower addr: %v", err)
	}
	if m.StartingAddress() != 3 {
		t.Fatalf("expected starting address to remain 3, got %d", m.StartingAddress())
	}
}

func TestSnapshotAndLoadRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "log_metadata")
	ds, err := datastore.Open(path)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}

	m := metadata.New()
	s1, s2 := uuid.New(), uuid.New()
	m.RecordAppend(0, entry(s1))
	m.RecordAppend(5, entry(s1, s2))
	if err := m.PrefixTrim(0, ds); err != nil {
		t.Fatalf("PrefixTrim: %v", err)
	}
	if err := m.SyncTailSegment(1, false, ds); err != nil {
		t.Fatalf("SyncTailSegment: %v", err)
	}
	if err := m.SetCommittedTail(5, ds); err != nil {
		t.Fatalf("SetCommittedTail: %v", err)
	}
	if err := m.Snapshot(ds); err != nil {
		t.Fatalf("Snapshot: %v", err)
	}

	loaded, err := metadata.Load(ds)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if loaded.GlobalTail() != 5 {
		t.Fatalf("expected loaded global tail 5, got %d", loaded.GlobalTail())
	}
	if loaded.StartingAddress() != 1 {
		t.Fatalf("expected loaded starting address 1, got %d", loaded.StartingAddress())
	}
	if loaded.TailSegment() != 1 {
		t.Fatalf("expected loaded tail segment 1, got %d", loaded.TailSegment())
	}
	if loaded.CommittedTail() != 5 {
		t.Fatalf("expected loaded committed tail 5, got %d", loaded.CommittedTail())
	}
	as, ok := loaded.StreamAddressSpace(s2)
	if !ok || !as.Contains(5) {
		t.Fatalf("expected stream s2 to retain address 5 after reload")
	}
}

func TestResetTrimsStreamsToNewTail(t *testing.T) {
	m := metadata.New()
	s := uuid.New()
	for _, a := range []uint64{0, 1, 2, 3, 4, 5} {
		m.RecordAppend(a, entry(s))
	}

	m.Reset(2)

	if m.GlobalTail() != 2 {
		t.Fatalf("expected global tail 2 after reset, got %d", m.GlobalTail())
	}
	as, ok := m.StreamAddressSpace(s)
	if !ok {
		t.Fatalf("expected stream to survive reset")
	}
	if as.Contains(3) || !as.Contains(2) {
		t.Fatalf("expected addresses above new tail discarded")
	}
	tails := m.StreamTails()
	if tails[s] != 2 {
		t.Fatalf("expected stream tail rewound to 2, got %d", tails[s])
	}
}

func TestResetDropsStreamsEntirelyAboveNewTail(t *testing.T) {
	m := metadata.New()
	s := uuid.New()
	m.RecordAppend(10, entry(s))

	m.Reset(5)

	if _, ok := m.StreamAddressSpace(s); ok {
		t.Fatalf("expected stream with no surviving addresses to be dropped")
	}
	tails := m.StreamTails()
	if _, ok := tails[s]; ok {
		t.Fatalf("expected stream tail removed for fully-discarded stream")
	}
}
