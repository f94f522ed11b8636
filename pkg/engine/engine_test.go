package engine_test

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/corfudb-go/logunit/pkg/config"
	"github.com/corfudb-go/logunit/pkg/engine"
	"github.com/corfudb-go/logunit/pkg/metrics"
	"github.com/corfudb-go/logunit/pkg/segment"
	"github.com/corfudb-go/logunit/pkg/types"
	"github.com/google/uuid"
)

func testConfig(dir string, recordsPerSegment uint64) *config.Config {
	cfg := &config.Config{LogDir: dir, RecordsPerSegment: recordsPerSegment, SegmentCacheSize: 8}
	cfg.Normalize()
	return cfg
}

func dataEntry(payload string, streams ...types.StreamID) *types.LogEntry {
	return &types.LogEntry{Type: types.DataEntry, Payload: []byte(payload), Epoch: 1, StreamIDs: streams}
}

func openEngine(t *testing.T, dir string, recordsPerSegment uint64) *engine.Engine {
	t.Helper()
	e, err := engine.Open(testConfig(dir, recordsPerSegment), metrics.Noop)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	return e
}

func TestAppendThenReadAcrossRestart(t *testing.T) {
	dir := t.TempDir()
	e := openEngine(t, dir, 10000)

	if err := e.Append(0, dataEntry("a")); err != nil {
		t.Fatalf("Append(0): %v", err)
	}
	if err := e.Append(1, dataEntry("b")); err != nil {
		t.Fatalf("Append(1): %v", err)
	}
	if err := e.Sync(true); err != nil {
		t.Fatalf("Sync: %v", err)
	}
	if err := e.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	e2 := openEngine(t, dir, 10000)
	defer e2.Close()

	entry, ok, err := e2.Read(0)
	if err != nil || !ok || string(entry.Payload) != "a" {
		t.Fatalf("Read(0) = %v, %v, %v", entry, ok, err)
	}
	entry, ok, err = e2.Read(1)
	if err != nil || !ok || string(entry.Payload) != "b" {
		t.Fatalf("Read(1) = %v, %v, %v", entry, ok, err)
	}
	if tails := e2.GetStreamsAddressSpace(); tails.GlobalTail != 1 {
		t.Fatalf("expected global tail 1 after recovery, got %d", tails.GlobalTail)
	}
}

func TestOverwriteDifferentDataPreservesOriginal(t *testing.T) {
	dir := t.TempDir()
	e := openEngine(t, dir, 10000)
	defer e.Close()

	if err := e.Append(42, dataEntry("x")); err != nil {
		t.Fatalf("Append: %v", err)
	}
	err := e.Append(42, dataEntry("y"))
	lue, ok := err.(*types.LogUnitError)
	if !ok || lue.Cause != types.CauseDifferentData {
		t.Fatalf("expected DIFFERENT_DATA overwrite, got %v", err)
	}

	entry, ok, err := e.Read(42)
	if err != nil || !ok || string(entry.Payload) != "x" {
		t.Fatalf("expected original payload to survive, got %v %v %v", entry, ok, err)
	}
}

func TestStreamAddressSpaceAndTails(t *testing.T) {
	dir := t.TempDir()
	e := openEngine(t, dir, 10000)
	defer e.Close()

	stream := uuid.New()
	for addr := uint64(0); addr < 10; addr += 2 {
		if err := e.Append(addr, dataEntry("p", stream)); err != nil {
			t.Fatalf("Append(%d): %v", addr, err)
		}
	}

	space := e.GetStreamsAddressSpace()
	if space.GlobalTail != 8 {
		t.Fatalf("expected global tail 8, got %d", space.GlobalTail)
	}
	if got := space.StreamTails[stream]; got != 8 {
		t.Fatalf("expected stream tail 8, got %d", got)
	}

	tails := e.GetTails([]types.StreamID{stream})
	if tails.StreamTails[stream] != 8 {
		t.Fatalf("GetTails: expected 8, got %d", tails.StreamTails[stream])
	}
}

func TestPrefixTrimIsIdempotentAndVisibleOnRead(t *testing.T) {
	dir := t.TempDir()
	e := openEngine(t, dir, 10000)
	defer e.Close()

	if err := e.Append(100, dataEntry("p")); err != nil {
		t.Fatalf("Append: %v", err)
	}
	if err := e.PrefixTrim(99); err != nil {
		t.Fatalf("PrefixTrim: %v", err)
	}

	entry, ok, err := e.Read(99)
	if err != nil || !ok || entry.Type != types.TrimmedEntry {
		t.Fatalf("expected TRIMMED at 99, got %v %v %v", entry, ok, err)
	}
	entry, ok, err = e.Read(100)
	if err != nil || !ok || entry.Type != types.DataEntry {
		t.Fatalf("expected data entry to survive at 100, got %v %v %v", entry, ok, err)
	}

	if err := e.PrefixTrim(99); err != nil {
		t.Fatalf("second PrefixTrim: %v", err)
	}
}

func TestResetRewindsPastUncommittedData(t *testing.T) {
	dir := t.TempDir()
	e := openEngine(t, dir, 10000)
	defer e.Close()

	stream := uuid.New()
	if err := e.Append(0, dataEntry("a", stream)); err != nil {
		t.Fatalf("Append(0): %v", err)
	}
	if err := e.Append(5000, dataEntry("b", stream)); err != nil {
		t.Fatalf("Append(5000): %v", err)
	}

	if err := e.SetCommittedTail(4999); err != nil {
		t.Fatalf("set committed tail: %v", err)
	}

	if err := e.Reset(); err != nil {
		t.Fatalf("Reset: %v", err)
	}

	space := e.GetStreamsAddressSpace()
	if space.GlobalTail != 4999 {
		t.Fatalf("expected global tail to rewind to committed tail 4999, got %d", space.GlobalTail)
	}

	entry, ok, err := e.Read(0)
	if err != nil || !ok || string(entry.Payload) != "a" {
		t.Fatalf("expected committed address 0 to survive reset, got %v %v %v", entry, ok, err)
	}
	if _, ok, _ := e.Read(5000); ok {
		t.Fatalf("expected uncommitted address 5000 to be gone after reset")
	}
	if err := e.Append(5000, dataEntry("other", stream)); err != nil {
		t.Fatalf("expected re-append at 5000 to succeed after reset: %v", err)
	}
}

func TestCorruptedRecordIsolatesSingleAddress(t *testing.T) {
	dir := t.TempDir()
	e := openEngine(t, dir, 10000)

	for addr := uint64(6); addr <= 8; addr++ {
		if err := e.Append(addr, dataEntry("payload")); err != nil {
			t.Fatalf("Append(%d): %v", addr, err)
		}
	}
	if err := e.Sync(true); err != nil {
		t.Fatalf("Sync: %v", err)
	}
	if err := e.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	recordSize, err := segment.EncodedSize(dataEntry("payload"))
	if err != nil {
		t.Fatalf("EncodedSize: %v", err)
	}
	const headerSize = 12
	// Records for 6, 7, 8 are identical size; flip the last byte (part of
	// the trailing checksum) of address 7's record so only that address's
	// checksum fails to verify.
	corruptOffset := headerSize + 2*recordSize - 1

	path := filepath.Join(dir, "log", "0.log")
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read segment file: %v", err)
	}
	data[corruptOffset] ^= 0xFF
	if err := os.WriteFile(path, data, 0o644); err != nil {
		t.Fatalf("write corrupted segment: %v", err)
	}

	e2 := openEngine(t, dir, 10000)
	defer e2.Close()

	_, _, err = e2.Read(7)
	if kind, ok := types.KindOf(err); !ok || kind != types.KindDataCorruption {
		t.Fatalf("expected DATA_CORRUPTION at address 7, got %v", err)
	}

	entry, ok, err := e2.Read(6)
	if err != nil || !ok || string(entry.Payload) != "payload" {
		t.Fatalf("expected address 6 to survive, got %v %v %v", entry, ok, err)
	}
	entry, ok, err = e2.Read(8)
	if err != nil || !ok || string(entry.Payload) != "payload" {
		t.Fatalf("expected address 8 to survive, got %v %v %v", entry, ok, err)
	}
}

func TestAppendRangeSpanningTwoSegmentsSucceedsThreeFails(t *testing.T) {
	dir := t.TempDir()
	e := openEngine(t, dir, 4)
	defer e.Close()

	entries := []*types.LogEntry{dataEntry("a"), dataEntry("b"), dataEntry("c"), dataEntry("d")}
	if err := e.AppendRange(2, entries); err != nil {
		t.Fatalf("expected range spanning two segments to succeed: %v", err)
	}

	threeSegEntries := make([]*types.LogEntry, 9)
	for i := range threeSegEntries {
		threeSegEntries[i] = dataEntry("x")
	}
	err := e.AppendRange(100, threeSegEntries)
	if kind, ok := types.KindOf(err); !ok || kind != types.KindIllegalArgument {
		t.Fatalf("expected ILLEGAL_ARGUMENT for a three-segment range, got %v", err)
	}
}

func TestAppendRangeIsAtomicPerSegment(t *testing.T) {
	dir := t.TempDir()
	e := openEngine(t, dir, 4)
	defer e.Close()

	// Pre-write address 4 so the range below collides on the second of the
	// two segments it spans (addresses 2,3 land in segment 0; 4,5 in
	// segment 1).
	if err := e.Append(4, dataEntry("existing")); err != nil {
		t.Fatalf("Append(4): %v", err)
	}

	entries := []*types.LogEntry{dataEntry("a"), dataEntry("b"), dataEntry("c"), dataEntry("d")}
	err := e.AppendRange(2, entries)
	if kind, ok := types.KindOf(err); !ok || kind != types.KindOverwrite {
		t.Fatalf("expected OVERWRITE for a range colliding in its second segment, got %v", err)
	}

	if _, ok, _ := e.Read(5); ok {
		t.Fatalf("expected address 5 to be rejected along with its colliding segment-mate at 4")
	}
	entry, ok, err := e.Read(2)
	if err != nil || !ok || string(entry.Payload) != "a" {
		t.Fatalf("expected segment 0's share of the range to still succeed, got %v %v %v", entry, ok, err)
	}
}

func TestQuotaExceededBlocksAppend(t *testing.T) {
	dir := t.TempDir()
	cfg := testConfig(dir, 10000)
	cfg.QuotaBytes = 1
	e, err := engine.Open(cfg, metrics.Noop)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer e.Close()

	err = e.Append(0, dataEntry("payload"))
	if kind, ok := types.KindOf(err); !ok || kind != types.KindQuotaExceeded {
		t.Fatalf("expected QUOTA_EXCEEDED, got %v", err)
	}
}

func TestContainsCommittedTailShortcut(t *testing.T) {
	dir := t.TempDir()
	e := openEngine(t, dir, 10000)
	defer e.Close()

	if err := e.SetCommittedTail(50); err != nil {
		t.Fatalf("set committed tail: %v", err)
	}

	ok, err := e.Contains(10)
	if err != nil || !ok {
		t.Fatalf("expected Contains(10) true via committed-tail shortcut, got %v %v", ok, err)
	}
}
