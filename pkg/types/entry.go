// Package types defines the wire-and-memory representation of a log entry.
package types

import (
	"github.com/google/uuid"
)

// StreamID identifies a logical substream. Corfu streams are 128-bit;
// uuid.UUID gives us that for free.
type StreamID = uuid.UUID

// NonAddress is the sentinel global address meaning "no address written yet".
// It matches the original Address.NON_ADDRESS (-1) under two's complement.
const NonAddress uint64 = ^uint64(0)

// EntryType distinguishes a real payload record from a hole.
type EntryType uint8

const (
	// DataEntry carries a real payload.
	DataEntry EntryType = 1
	// HoleEntry marks an address as intentionally skipped.
	HoleEntry EntryType = 2
	// TrimmedEntry is never written to disk; it is synthesized on read
	// for addresses below the trim mark.
	TrimmedEntry EntryType = 3
)

func (t EntryType) String() string {
	switch t {
	case DataEntry:
		return "DATA"
	case HoleEntry:
		return "HOLE"
	case TrimmedEntry:
		return "TRIMMED"
	default:
		return "UNKNOWN"
	}
}

// LogEntry is the unit persisted by the segment store and returned by reads.
type LogEntry struct {
	GlobalAddress uint64
	Type          EntryType
	StreamIDs     []StreamID
	Epoch         uint64
	Rank          *uint64
	Payload       []byte
}

// HasRank reports whether this entry carries a Paxos-style rank.
func (e *LogEntry) HasRank() bool {
	return e.Rank != nil
}

// Trimmed builds the synthetic entry returned for reads below the trim mark.
func Trimmed(address uint64) *LogEntry {
	return &LogEntry{GlobalAddress: address, Type: TrimmedEntry}
}
