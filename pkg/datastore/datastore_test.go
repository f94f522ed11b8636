package datastore_test

import (
	"path/filepath"
	"testing"

	"github.com/corfudb-go/logunit/pkg/datastore"
	"github.com/corfudb-go/logunit/pkg/types"
)

func TestFreshDataStoreDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "log_metadata")
	ds, err := datastore.Open(path)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	if ds.GetStartingAddress() != 0 {
		t.Fatalf("expected starting_address=0, got %d", ds.GetStartingAddress())
	}
	if ds.GetCommittedTail() != types.NonAddress {
		t.Fatalf("expected committed_tail=NonAddress, got %d", ds.GetCommittedTail())
	}
	if len(ds.GetLogUnitMetadata()) != 0 {
		t.Fatalf("expected empty metadata map")
	}
}

func TestUpdatesPersistAcrossReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "log_metadata")
	ds, err := datastore.Open(path)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}

	if err := ds.UpdateStartingAddress(42); err != nil {
		t.Fatalf("UpdateStartingAddress: %v", err)
	}
	if err := ds.UpdateTailSegment(3); err != nil {
		t.Fatalf("UpdateTailSegment: %v", err)
	}
	if err := ds.UpdateCommittedTail(99); err != nil {
		t.Fatalf("UpdateCommittedTail: %v", err)
	}
	if err := ds.SetLogUnitMetadata(map[string]string{"stream-a": "YWJj"}); err != nil {
		t.Fatalf("SetLogUnitMetadata: %v", err)
	}

	reopened, err := datastore.Open(path)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	if reopened.GetStartingAddress() != 42 {
		t.Fatalf("expected starting_address=42, got %d", reopened.GetStartingAddress())
	}
	if reopened.GetTailSegment() != 3 {
		t.Fatalf("expected tail_segment=3, got %d", reopened.GetTailSegment())
	}
	if reopened.GetCommittedTail() != 99 {
		t.Fatalf("expected committed_tail=99, got %d", reopened.GetCommittedTail())
	}
	meta := reopened.GetLogUnitMetadata()
	if meta["stream-a"] != "YWJj" {
		t.Fatalf("expected persisted stream metadata, got %v", meta)
	}
}

func TestLogUnitMetadataCopyIsolatesCaller(t *testing.T) {
	path := filepath.Join(t.TempDir(), "log_metadata")
	ds, err := datastore.Open(path)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	if err := ds.SetLogUnitMetadata(map[string]string{"s": "v"}); err != nil {
		t.Fatalf("SetLogUnitMetadata: %v", err)
	}

	got := ds.GetLogUnitMetadata()
	got["s"] = "mutated"

	if ds.GetLogUnitMetadata()["s"] != "v" {
		t.Fatalf("mutating the returned map must not affect internal state")
	}
}
