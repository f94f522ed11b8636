package segment

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"io"

	"github.com/corfudb-go/logunit/pkg/checksum"
	"github.com/corfudb-go/logunit/pkg/types"
)

// flagHasRank is bit 0 of the record flags byte.
const flagHasRank = 1 << 0

const (
	rawTypeData = byte(1)
	rawTypeHole = byte(2)
)

// encodeRecord serializes address+entry into the on-disk record format:
//
//	record_length   u32  (length of everything below, excluding itself)
//	global_address  u64
//	type            u8
//	flags           u8
//	epoch           u64
//	rank            u64  (present only if flags&flagHasRank)
//	stream_id_count u16
//	stream_ids      16 bytes each
//	payload_length  u32
//	payload         payload_length bytes
//	checksum        u32  (crc32 over everything from global_address..payload)
func encodeRecord(address uint64, e *types.LogEntry) ([]byte, error) {
	var rawType byte
	switch e.Type {
	case types.DataEntry:
		rawType = rawTypeData
	case types.HoleEntry:
		rawType = rawTypeHole
	default:
		return nil, fmt.Errorf("segment: cannot persist entry of type %s", e.Type)
	}

	if len(e.StreamIDs) > 0xFFFF {
		return nil, fmt.Errorf("segment: too many stream ids: %d", len(e.StreamIDs))
	}

	var flags byte
	if e.HasRank() {
		flags |= flagHasRank
	}

	var body bytes.Buffer
	write := func(v any) error {
		return binary.Write(&body, binary.LittleEndian, v)
	}

	if err := write(address); err != nil {
		return nil, err
	}
	if err := write(rawType); err != nil {
		return nil, err
	}
	if err := write(flags); err != nil {
		return nil, err
	}
	if err := write(e.Epoch); err != nil {
		return nil, err
	}
	if e.HasRank() {
		if err := write(*e.Rank); err != nil {
			return nil, err
		}
	}
	if err := write(uint16(len(e.StreamIDs))); err != nil {
		return nil, err
	}
	for _, sid := range e.StreamIDs {
		if _, err := body.Write(sid[:]); err != nil {
			return nil, err
		}
	}
	if err := write(uint32(len(e.Payload))); err != nil {
		return nil, err
	}
	if _, err := body.Write(e.Payload); err != nil {
		return nil, err
	}

	sum := checksum.Compute(body.Bytes())

	out := make([]byte, 4+body.Len()+4)
	binary.LittleEndian.PutUint32(out[0:4], uint32(body.Len()+4))
	copy(out[4:4+body.Len()], body.Bytes())
	binary.LittleEndian.PutUint32(out[4+body.Len():], sum)
	return out, nil
}

// EncodedSize returns the on-disk size of entry once encoded, independent
// of the address it will be written at, so callers can reserve quota
// before committing to the write.
func EncodedSize(entry *types.LogEntry) (int, error) {
	data, err := encodeRecord(0, entry)
	if err != nil {
		return 0, err
	}
	return len(data), nil
}

// decodeRecord parses one record starting at the beginning of buf (which
// must contain at least the record_length prefix). It returns the decoded
// entry, the total number of bytes the record occupied on disk (prefix
// included), and an error. A checksum mismatch yields a DATA_CORRUPTION
// error, returned together with the decoded entry so the caller knows which
// address the damaged record claims; a short buffer yields errShortRecord so
// the caller can treat it as torn-write residue during recovery.
func decodeRecord(buf []byte) (*types.LogEntry, int, error) {
	if len(buf) < 4 {
		return nil, 0, errShortRecord
	}
	recordLen := binary.LittleEndian.Uint32(buf[0:4])
	total := 4 + int(recordLen)
	if len(buf) < total {
		return nil, 0, errShortRecord
	}
	if recordLen < 4 {
		return nil, 0, errShortRecord
	}

	body := buf[4 : total-4]
	wantSum := binary.LittleEndian.Uint32(buf[total-4 : total])

	r := bytes.NewReader(body)
	e := &types.LogEntry{}

	if err := binary.Read(r, binary.LittleEndian, &e.GlobalAddress); err != nil {
		return nil, 0, errShortRecord
	}
	var rawType, flags byte
	if err := binary.Read(r, binary.LittleEndian, &rawType); err != nil {
		return nil, 0, errShortRecord
	}
	if err := binary.Read(r, binary.LittleEndian, &flags); err != nil {
		return nil, 0, errShortRecord
	}
	switch rawType {
	case rawTypeData:
		e.Type = types.DataEntry
	case rawTypeHole:
		e.Type = types.HoleEntry
	default:
		return nil, 0, errShortRecord
	}
	if err := binary.Read(r, binary.LittleEndian, &e.Epoch); err != nil {
		return nil, 0, errShortRecord
	}
	if flags&flagHasRank != 0 {
		var rank uint64
		if err := binary.Read(r, binary.LittleEndian, &rank); err != nil {
			return nil, 0, errShortRecord
		}
		e.Rank = &rank
	}
	var streamCount uint16
	if err := binary.Read(r, binary.LittleEndian, &streamCount); err != nil {
		return nil, 0, errShortRecord
	}
	e.StreamIDs = make([]types.StreamID, streamCount)
	for i := range e.StreamIDs {
		if _, err := r.Read(e.StreamIDs[i][:]); err != nil {
			return nil, 0, errShortRecord
		}
	}
	var payloadLen uint32
	if err := binary.Read(r, binary.LittleEndian, &payloadLen); err != nil {
		return nil, 0, errShortRecord
	}
	e.Payload = make([]byte, payloadLen)
	if _, err := io.ReadFull(r, e.Payload); err != nil {
		return nil, 0, errShortRecord
	}

	if !checksum.Verify(body, wantSum) {
		return e, total, types.NewDataCorruption(e.GlobalAddress, fmt.Errorf("checksum mismatch"))
	}

	return e, total, nil
}
