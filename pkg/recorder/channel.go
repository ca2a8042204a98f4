package recorder

import (
	"encoding/binary"
	"fmt"
	"math"
	"sync/atomic"

	"github.com/taodyne/recorder/pkg/ring"
)

// ValueKind identifies how the second word of a numeric record should be
// interpreted by consumers, per spec.md §3.
type ValueKind uint32

const (
	KindNone ValueKind = iota
	KindInvalid
	KindSigned
	KindUnsigned
	KindReal
)

// String implements fmt.Stringer, mainly so zap fields and CLI output
// render a name instead of a bare integer.
func (k ValueKind) String() string {
	switch k {
	case KindNone:
		return "none"
	case KindInvalid:
		return "invalid"
	case KindSigned:
		return "signed"
	case KindUnsigned:
		return "unsigned"
	case KindReal:
		return "real"
	default:
		return fmt.Sprintf("kind(%d)", uint32(k))
	}
}

const (
	// NumericRecordSize is the byte size of a (timestamp, value) record.
	NumericRecordSize = 16
	// TraceArgs is K in spec.md §4.2's trace record shape: the number of
	// fixed argument slots a formatted trace call carries, matching
	// original_source/recorder_ring.c's build-time constant.
	TraceArgs = 4
	// TraceRecordSize is the byte size of a trace record: timestamp,
	// caller address, format-string pointer, and TraceArgs argument words.
	TraceRecordSize = 8 * (3 + TraceArgs)
)

// Channel is a RingBuffer specialized to one of the two canonical record
// shapes (numeric or trace), carrying the identity metadata of spec.md
// §3: name, description, unit, representative min/max, and value kind.
//
// A Channel is created once, through a Registry, and lives for the
// process's lifetime; the core never destroys one.
type Channel struct {
	name        string
	description string
	unit        string
	min, max    float64
	kind        ValueKind
	recordSize  uint64
	isTrace     bool

	// alwaysOn channels (spec.md §4.3) ignore traced and write
	// unconditionally; tracing channels start Inactive.
	alwaysOn bool
	traced   atomic.Bool

	index uint32
	buf   atomic.Pointer[ring.Buffer]
	clock Clock
}

// Name returns the channel's stable identifier.
func (c *Channel) Name() string { return c.name }

// Description returns the channel's human-readable description.
func (c *Channel) Description() string { return c.description }

// Unit returns the channel's unit string, e.g. "ms" or "packets/s".
func (c *Channel) Unit() string { return c.unit }

// Min and Max return the channel's representative bounds.
func (c *Channel) Min() float64 { return c.min }
func (c *Channel) Max() float64 { return c.max }

// Kind returns the channel's value-kind tag.
func (c *Channel) Kind() ValueKind { return c.kind }

// Index returns the channel's stable, monotonically-assigned registry
// index.
func (c *Channel) Index() uint32 { return c.index }

// RecordSize returns the fixed byte size of one of this channel's
// records.
func (c *Channel) RecordSize() uint64 { return c.recordSize }

// IsTrace reports whether this channel carries trace records (caller +
// format pointer + arguments) rather than plain numeric samples.
func (c *Channel) IsTrace() bool { return c.isTrace }

// Traced reports whether the channel's trace-enabled bit is set. For an
// always-on channel this is always true, per the state machine in
// spec.md §4.3.
func (c *Channel) Traced() bool {
	return c.alwaysOn || c.traced.Load()
}

// setTraced implements the Inactive/Active state machine transition.
// Always-on channels ignore the bit entirely.
func (c *Channel) setTraced(v bool) {
	if c.alwaysOn {
		return
	}
	c.traced.Store(v)
}

// Buffer exposes the channel's underlying RingBuffer, mainly so
// package shm can project it without duplicating the read/write
// protocol.
func (c *Channel) Buffer() *ring.Buffer { return c.buf.Load() }

// Rebind replaces the channel's backing RingBuffer with buf, which must
// share the channel's record size. Package shm calls this to relocate a
// channel's storage into a memory-mapped export region after the
// channel has already been created and may have in-process readers; the
// swap is a single atomic pointer store, so a writer observes either the
// old or the new buffer in full, never a mix of the two.
func (c *Channel) Rebind(buf *ring.Buffer) error {
	if buf.ItemSize() != c.recordSize {
		return fmt.Errorf("recorder: channel %q: rebind item size %d, want %d", c.name, buf.ItemSize(), c.recordSize)
	}
	c.buf.Store(buf)
	return nil
}

// Readable returns the number of committed, unread records past cursor
// (or the channel's shared reader position if cursor is nil).
func (c *Channel) Readable(cursor *uint64) uint64 { return c.buf.Load().Readable(cursor) }

// Overflow returns the cumulative count of records this channel has
// skipped because its reader fell behind.
func (c *Channel) Overflow() uint64 { return c.buf.Load().Overflow() }

// WriteNumeric appends a (timestamp, value) record using the channel's
// clock for the timestamp. It is a no-op, returning false, for a tracing
// channel whose traced bit is currently clear — this is the hot-path
// check spec.md §4.3 describes as "a single atomic load".
func (c *Channel) WriteNumeric(raw uint64, policy ring.WaitPolicy) bool {
	if c.isTrace {
		panic("recorder: WriteNumeric called on a trace channel")
	}
	if !c.Traced() {
		return false
	}

	var rec [NumericRecordSize]byte
	binary.LittleEndian.PutUint64(rec[0:8], c.clock.Ticks())
	binary.LittleEndian.PutUint64(rec[8:16], raw)

	n, _ := c.buf.Load().Write(rec[:], policy)
	return n == 1
}

// WriteSigned writes a signed-integer sample. See WriteNumeric.
func (c *Channel) WriteSigned(v int64, policy ring.WaitPolicy) bool {
	return c.WriteNumeric(uint64(v), policy)
}

// WriteUnsigned writes an unsigned-integer sample. See WriteNumeric.
func (c *Channel) WriteUnsigned(v uint64, policy ring.WaitPolicy) bool {
	return c.WriteNumeric(v, policy)
}

// WriteReal writes a floating-point sample. See WriteNumeric.
func (c *Channel) WriteReal(v float64, policy ring.WaitPolicy) bool {
	return c.WriteNumeric(math.Float64bits(v), policy)
}

// NumericSample is one decoded (timestamp, value) record.
type NumericSample struct {
	TimestampTicks uint64
	Raw            uint64
}

// Signed interprets the sample's raw bits as a signed integer.
func (s NumericSample) Signed() int64 { return int64(s.Raw) }

// Unsigned interprets the sample's raw bits as an unsigned integer.
func (s NumericSample) Unsigned() uint64 { return s.Raw }

// Real interprets the sample's raw bits as an IEEE-754 double.
func (s NumericSample) Real() float64 { return math.Float64frombits(s.Raw) }

// ReadNumeric decodes up to len(dst) samples from a numeric channel,
// advancing cursor (or the shared reader position if nil).
func (c *Channel) ReadNumeric(dst []NumericSample, cursor *uint64, policy ring.WaitPolicy) int {
	if c.isTrace {
		panic("recorder: ReadNumeric called on a trace channel")
	}

	raw := make([]byte, len(dst)*NumericRecordSize)
	n := c.buf.Load().ReadCursor(raw, cursor, policy)
	for i := uint64(0); i < n; i++ {
		rec := raw[i*NumericRecordSize:]
		dst[i] = NumericSample{
			TimestampTicks: binary.LittleEndian.Uint64(rec[0:8]),
			Raw:            binary.LittleEndian.Uint64(rec[8:16]),
		}
	}
	return int(n)
}

// TraceRecord is one decoded formatted trace entry, matching
// original_source/recorder_ring.c's on-wire layout.
type TraceRecord struct {
	TimestampTicks   uint64
	CallerAddress    uint64
	FormatStringAddr uint64
	Args             [TraceArgs]uint64
}

// WriteTrace appends a trace record. Like WriteNumeric, it is a no-op
// when the channel's traced bit is clear. The caller and format-string
// addresses are opaque to the core; package trace resolves them.
func (c *Channel) WriteTrace(caller, formatString uint64, args [TraceArgs]uint64, policy ring.WaitPolicy) bool {
	if !c.isTrace {
		panic("recorder: WriteTrace called on a numeric channel")
	}
	if !c.Traced() {
		return false
	}

	var rec [TraceRecordSize]byte
	binary.LittleEndian.PutUint64(rec[0:8], c.clock.Ticks())
	binary.LittleEndian.PutUint64(rec[8:16], caller)
	binary.LittleEndian.PutUint64(rec[16:24], formatString)
	for i, a := range args {
		off := 24 + i*8
		binary.LittleEndian.PutUint64(rec[off:off+8], a)
	}

	n, _ := c.buf.Load().Write(rec[:], policy)
	return n == 1
}

// ReadTrace decodes up to len(dst) trace records, advancing cursor (or
// the shared reader position if nil).
func (c *Channel) ReadTrace(dst []TraceRecord, cursor *uint64, policy ring.WaitPolicy) int {
	if !c.isTrace {
		panic("recorder: ReadTrace called on a numeric channel")
	}

	raw := make([]byte, len(dst)*TraceRecordSize)
	n := c.buf.Load().ReadCursor(raw, cursor, policy)
	for i := uint64(0); i < n; i++ {
		rec := raw[i*TraceRecordSize:]
		tr := TraceRecord{
			TimestampTicks:   binary.LittleEndian.Uint64(rec[0:8]),
			CallerAddress:    binary.LittleEndian.Uint64(rec[8:16]),
			FormatStringAddr: binary.LittleEndian.Uint64(rec[16:24]),
		}
		for j := range tr.Args {
			off := 24 + j*8
			tr.Args[j] = binary.LittleEndian.Uint64(rec[off : off+8])
		}
		dst[i] = tr
	}
	return int(n)
}
