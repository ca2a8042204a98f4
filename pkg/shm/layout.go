// Package shm implements the optional shared-memory projection of a
// recorder.Registry (spec.md §4.4/§6): a file-backed mapping holding a
// self-describing directory followed by each exported Channel's
// RingBuffer storage, so a separate reader process can enumerate and
// read channels without any IPC round-trip.
package shm

import (
	"encoding/binary"
	"fmt"
	"math"

	"github.com/taodyne/recorder/pkg/recorder"
)

// magic identifies a recorder export file. It is exactly 8 bytes,
// matching the normative layout's "RECORDER\0".
var magic = [8]byte{'R', 'E', 'C', 'O', 'R', 'D', 'E', 'R'}

// version is bumped on any incompatible change to the layout below.
const version uint32 = 1

const (
	headerSize = 16 // magic(8) + version(4) + channel_count(4)

	nameFieldSize        = 64
	descriptionFieldSize = 128
	unitFieldSize        = 32

	// entrySize is the byte size of one per-channel directory entry:
	// name(64) + description(128) + unit(32) + min(8) + max(8) +
	// value_kind(4) + item_size(4) + size(4) + offset_to_ring(8).
	entrySize = nameFieldSize + descriptionFieldSize + unitFieldSize + 8 + 8 + 4 + 4 + 4 + 8

	// ringHeaderSize is the byte size of a ring's four atomic position
	// counters (reader, writer, commit, overflow), each a u64.
	ringHeaderSize = 8 * 4
)

// directoryEntry is the decoded form of one fixed-size directory record.
type directoryEntry struct {
	name          string
	description   string
	unit          string
	min, max      float64
	valueKind     recorder.ValueKind
	itemSize      uint32
	size          uint32
	offsetToRing  uint64
}

func putFixedString(dst []byte, s string) {
	n := copy(dst, s)
	for i := n; i < len(dst); i++ {
		dst[i] = 0
	}
}

func getFixedString(src []byte) string {
	n := 0
	for n < len(src) && src[n] != 0 {
		n++
	}
	return string(src[:n])
}

// encodeEntry serializes e into a buffer of exactly entrySize bytes.
func encodeEntry(e directoryEntry) []byte {
	buf := make([]byte, entrySize)
	off := 0

	putFixedString(buf[off:off+nameFieldSize], e.name)
	off += nameFieldSize
	putFixedString(buf[off:off+descriptionFieldSize], e.description)
	off += descriptionFieldSize
	putFixedString(buf[off:off+unitFieldSize], e.unit)
	off += unitFieldSize

	binary.LittleEndian.PutUint64(buf[off:off+8], math.Float64bits(e.min))
	off += 8
	binary.LittleEndian.PutUint64(buf[off:off+8], math.Float64bits(e.max))
	off += 8

	binary.LittleEndian.PutUint32(buf[off:off+4], uint32(e.valueKind))
	off += 4
	binary.LittleEndian.PutUint32(buf[off:off+4], e.itemSize)
	off += 4
	binary.LittleEndian.PutUint32(buf[off:off+4], e.size)
	off += 4
	binary.LittleEndian.PutUint64(buf[off:off+8], e.offsetToRing)

	return buf
}

func decodeEntry(buf []byte) (directoryEntry, error) {
	if len(buf) < entrySize {
		return directoryEntry{}, fmt.Errorf("shm: directory entry truncated: %d bytes, want %d", len(buf), entrySize)
	}
	var e directoryEntry
	off := 0

	e.name = getFixedString(buf[off : off+nameFieldSize])
	off += nameFieldSize
	e.description = getFixedString(buf[off : off+descriptionFieldSize])
	off += descriptionFieldSize
	e.unit = getFixedString(buf[off : off+unitFieldSize])
	off += unitFieldSize

	e.min = math.Float64frombits(binary.LittleEndian.Uint64(buf[off : off+8]))
	off += 8
	e.max = math.Float64frombits(binary.LittleEndian.Uint64(buf[off : off+8]))
	off += 8

	e.valueKind = recorder.ValueKind(binary.LittleEndian.Uint32(buf[off : off+4]))
	off += 4
	e.itemSize = binary.LittleEndian.Uint32(buf[off : off+4])
	off += 4
	e.size = binary.LittleEndian.Uint32(buf[off : off+4])
	off += 4
	e.offsetToRing = binary.LittleEndian.Uint64(buf[off : off+8])

	return e, nil
}
