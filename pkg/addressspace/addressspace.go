// Package addressspace implements the per-stream sparse address set: a
// compact, sorted run-length encoding of the global addresses that belong
// to one stream. The engine treats it as a black box supporting add,
// contains, range query, prefix trim, tail, and a compact serialized form.
package addressspace

import (
	"encoding/binary"
	"fmt"
	"sort"
)

// run is an inclusive, closed address interval [Lo, Hi].
type run struct {
	Lo, Hi uint64
}

// AddressSpace is a sorted, non-overlapping, non-adjacent list of runs. It
// is not internally synchronized; callers (the metadata index) serialize
// access the same way they serialize every other per-stream mutation.
type AddressSpace struct {
	runs []run
}

// New returns an empty address space.
func New() *AddressSpace {
	return &AddressSpace{}
}

// Add inserts a single address, merging it into an adjacent run if possible.
func (a *AddressSpace) Add(addr uint64) {
	a.AddRange(addr, addr)
}

// AddRange inserts every address in [lo, hi] (inclusive).
func (a *AddressSpace) AddRange(lo, hi uint64) {
	if hi < lo {
		return
	}
	// Find the first run that could touch [lo, hi]: run.Hi >= lo-1, guarding
	// against underflow when lo == 0.
	i := sort.Search(len(a.runs), func(i int) bool {
		return lo == 0 || a.runs[i].Hi >= lo-1
	})

	newLo, newHi := lo, hi
	j := i
	for j < len(a.runs) && (hi == ^uint64(0) || a.runs[j].Lo <= hi+1) {
		if a.runs[j].Lo < newLo {
			newLo = a.runs[j].Lo
		}
		if a.runs[j].Hi > newHi {
			newHi = a.runs[j].Hi
		}
		j++
	}

	merged := run{Lo: newLo, Hi: newHi}
	tail := append([]run{}, a.runs[j:]...)
	a.runs = append(append(a.runs[:i:i], merged), tail...)
}

// Contains reports whether addr is a member of the set.
func (a *AddressSpace) Contains(addr uint64) bool {
	i := sort.Search(len(a.runs), func(i int) bool {
		return a.runs[i].Hi >= addr
	})
	return i < len(a.runs) && a.runs[i].Lo <= addr
}

// Range returns every address in [lo, hi] that is a member of the set, in
// ascending order.
func (a *AddressSpace) Range(lo, hi uint64) []uint64 {
	if hi < lo {
		return nil
	}
	var out []uint64
	for _, r := range a.runs {
		if r.Hi < lo {
			continue
		}
		if r.Lo > hi {
			break
		}
		start := r.Lo
		if start < lo {
			start = lo
		}
		end := r.Hi
		if end > hi {
			end = hi
		}
		for addr := start; addr <= end; addr++ {
			out = append(out, addr)
			if addr == ^uint64(0) {
				break
			}
		}
	}
	return out
}

// TrimPrefix drops every address <= addr from the set. Idempotent.
func (a *AddressSpace) TrimPrefix(addr uint64) {
	var kept []run
	for _, r := range a.runs {
		if r.Hi <= addr {
			continue
		}
		if r.Lo <= addr {
			r.Lo = addr + 1
		}
		kept = append(kept, r)
	}
	a.runs = kept
}

// Clone returns an independent copy, safe for the caller to mutate.
func (a *AddressSpace) Clone() *AddressSpace {
	out := &AddressSpace{runs: make([]run, len(a.runs))}
	copy(out.runs, a.runs)
	return out
}

// Tail returns the highest address in the set.
func (a *AddressSpace) Tail() (uint64, bool) {
	if len(a.runs) == 0 {
		return 0, false
	}
	return a.runs[len(a.runs)-1].Hi, true
}

// Size returns the number of addresses represented (not the number of runs).
func (a *AddressSpace) Size() int {
	total := 0
	for _, r := range a.runs {
		total += int(r.Hi-r.Lo) + 1
	}
	return total
}

// Serialize writes a compact binary form: a run count followed by
// (lo, hi) pairs, all little-endian.
func (a *AddressSpace) Serialize() []byte {
	buf := make([]byte, 4+len(a.runs)*16)
	binary.LittleEndian.PutUint32(buf[0:4], uint32(len(a.runs)))
	off := 4
	for _, r := range a.runs {
		binary.LittleEndian.PutUint64(buf[off:off+8], r.Lo)
		binary.LittleEndian.PutUint64(buf[off+8:off+16], r.Hi)
		off += 16
	}
	return buf
}

// Deserialize parses the form written by Serialize.
func Deserialize(data []byte) (*AddressSpace, error) {
	if len(data) < 4 {
		return nil, fmt.Errorf("addressspace: truncated header")
	}
	count := binary.LittleEndian.Uint32(data[0:4])
	need := 4 + int(count)*16
	if len(data) < need {
		return nil, fmt.Errorf("addressspace: truncated body, want %d bytes have %d", need, len(data))
	}
	a := &AddressSpace{runs: make([]run, 0, count)}
	off := 4
	for i := uint32(0); i < count; i++ {
		lo := binary.LittleEndian.Uint64(data[off : off+8])
		hi := binary.LittleEndian.Uint64(data[off+8 : off+16])
		a.runs = append(a.runs, run{Lo: lo, Hi: hi})
		off += 16
	}
	return a, nil
}

// AddressesInRange returns the intersection of this set with [lo, hi] as a
// new AddressSpace, mirroring the original StreamAddressSpace#getAddressesInRange
// used when loading a persisted snapshot bounded by the current trim mark.
func (a *AddressSpace) AddressesInRange(lo, hi uint64) *AddressSpace {
	out := New()
	for _, r := range a.runs {
		if r.Hi < lo || r.Lo > hi {
			continue
		}
		start := r.Lo
		if start < lo {
			start = lo
		}
		end := r.Hi
		if end > hi {
			end = hi
		}
		out.AddRange(start, end)
	}
	return out
}
