package segment

import "errors"

// errShortRecord marks a record that could not be fully read from the
// segment file: either a torn write at the tail (the process crashed
// mid-append) or a genuinely truncated file. Recovery treats it as the
// natural end of valid data, not as data corruption.
var errShortRecord = errors.New("segment: short or truncated record")

// IsShortRecord reports whether err indicates a torn-write tail rather than
// a checksum mismatch on a complete record.
func IsShortRecord(err error) bool {
	return errors.Is(err, errShortRecord)
}
