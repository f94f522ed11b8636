package addressspace_test

import (
	"reflect"
	"testing"

	"github.com/corfudb-go/logunit/pkg/addressspace"
)

func TestAddAndContains(t *testing.T) {
	a := addressspace.New()
	for _, addr := range []uint64{0, 2, 4, 6, 8} {
		a.Add(addr)
	}

	for _, addr := range []uint64{0, 2, 4, 6, 8} {
		if !a.Contains(addr) {
			t.Errorf("expected Contains(%d) = true", addr)
		}
	}
	for _, addr := range []uint64{1, 3, 5, 7, 9} {
		if a.Contains(addr) {
			t.Errorf("expected Contains(%d) = false", addr)
		}
	}

	tail, ok := a.Tail()
	if !ok || tail != 8 {
		t.Fatalf("expected tail 8, got %d (ok=%v)", tail, ok)
	}
}

func TestAddRangeMergesAdjacentRuns(t *testing.T) {
	a := addressspace.New()
	a.AddRange(0, 3)
	a.AddRange(4, 6) // adjacent, should merge into one run
	a.AddRange(10, 12)

	got := a.Range(0, 20)
	want := []uint64{0, 1, 2, 3, 4, 5, 6, 10, 11, 12}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("got %v, want %v", got, want)
	}
}

func TestAddOutOfOrderStillMerges(t *testing.T) {
	a := addressspace.New()
	a.Add(10)
	a.Add(0)
	a.Add(5)
	a.AddRange(1, 4)

	got := a.Range(0, 10)
	want := []uint64{0, 1, 2, 3, 4, 5, 10}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("got %v, want %v", got, want)
	}
}

func TestRangeQuery(t *testing.T) {
	a := addressspace.New()
	a.AddRange(0, 20)

	got := a.Range(5, 10)
	want := []uint64{5, 6, 7, 8, 9, 10}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("got %v, want %v", got, want)
	}
}

func TestTrimPrefixIsIdempotent(t *testing.T) {
	a := addressspace.New()
	a.AddRange(0, 10)

	a.TrimPrefix(4)
	if a.Contains(4) || !a.Contains(5) {
		t.Fatalf("expected addresses <= 4 trimmed, 5 retained")
	}

	before := a.Range(0, 10)
	a.TrimPrefix(4)
	after := a.Range(0, 10)
	if !reflect.DeepEqual(before, after) {
		t.Fatalf("second TrimPrefix(4) should be a no-op: %v vs %v", before, after)
	}
}

func TestTrimPrefixNeverWrittenStillAdvances(t *testing.T) {
	a := addressspace.New()
	a.AddRange(100, 110)

	a.TrimPrefix(50) // nothing at or below 50
	got := a.Range(0, 200)
	want := []uint64{100, 101, 102, 103, 104, 105, 106, 107, 108, 109, 110}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("got %v, want %v", got, want)
	}
}

func TestSerializeRoundTrip(t *testing.T) {
	a := addressspace.New()
	a.AddRange(0, 5)
	a.AddRange(100, 105)

	data := a.Serialize()
	back, err := addressspace.Deserialize(data)
	if err != nil {
		t.Fatalf("Deserialize: %v", err)
	}

	got := back.Range(0, 200)
	want := a.Range(0, 200)
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("got %v, want %v", got, want)
	}
}

func TestAddressesInRange(t *testing.T) {
	a := addressspace.New()
	a.AddRange(0, 100)

	sub := a.AddressesInRange(40, 60)
	got := sub.Range(0, 200)
	if len(got) != 21 || got[0] != 40 || got[len(got)-1] != 60 {
		t.Fatalf("unexpected sub-range: %v", got)
	}
}

func TestEmptySpace(t *testing.T) {
	a := addressspace.New()
	if a.Contains(0) {
		t.Fatalf("empty space should not contain anything")
	}
	if _, ok := a.Tail(); ok {
		t.Fatalf("empty space should have no tail")
	}
	if a.Size() != 0 {
		t.Fatalf("expected size 0, got %d", a.Size())
	}
}
