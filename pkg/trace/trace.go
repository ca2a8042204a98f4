// Package trace is the record encoder collaborator spec.md §6 calls
// for: it turns a caller site, a format string, and up to
// recorder.TraceArgs arguments into the fixed-size trace record a
// Channel stores, and keeps the reverse mapping a reader needs to turn
// a dumped record back into readable text.
//
// The C original (original_source/recorder_ring.c) stores the raw
// address of the format string literal as a record's
// format_string_pointer and lets a reader resolve it against the
// writer's own binary. Go gives no equivalent stable address for a
// string literal, so this package instead interns every format string
// it sees into a small table and uses the table index as the
// "pointer" — a reader holding the same Table (shipped alongside a
// dump, or rebuilt by calling Intern with the same strings) can resolve
// it back.
package trace

import (
	"fmt"
	"math"
	"runtime"
	"sync"

	"github.com/taodyne/recorder/pkg/recorder"
)

// Table interns format strings into stable, process-lifetime integer
// ids, playing the role of the C original's format-string pointer.
type Table struct {
	mu      sync.RWMutex
	byID    []string
	byValue map[string]uint64
}

// NewTable creates an empty Table.
func NewTable() *Table {
	return &Table{byValue: make(map[string]uint64)}
}

// Intern returns s's stable id, assigning a new one on first sight.
func (t *Table) Intern(s string) uint64 {
	t.mu.RLock()
	if id, ok := t.byValue[s]; ok {
		t.mu.RUnlock()
		return id
	}
	t.mu.RUnlock()

	t.mu.Lock()
	defer t.mu.Unlock()
	if id, ok := t.byValue[s]; ok {
		return id
	}
	id := uint64(len(t.byID))
	t.byID = append(t.byID, s)
	t.byValue[s] = id
	return id
}

// Format resolves an id back to the format string that produced it.
func (t *Table) Format(id uint64) (string, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	if id >= uint64(len(t.byID)) {
		return "", false
	}
	return t.byID[id], true
}

// Strings returns every interned format string in assignment order, for
// shipping alongside a dump or shared-memory export so a reader process
// that did not call Intern itself can still resolve ids.
func (t *Table) Strings() []string {
	t.mu.RLock()
	defer t.mu.RUnlock()
	out := make([]string, len(t.byID))
	copy(out, t.byID)
	return out
}

// Pack encodes up to recorder.TraceArgs values into the fixed argument
// words a trace record carries. Supported kinds are int, int32, int64,
// uint32, uint64, bool, float64 (reinterpreted through its bits), and
// string (interned
// into table and stored as its id). It panics if given more than
// recorder.TraceArgs values, the same hard limit the C original's
// build-time K constant imposes.
func Pack(table *Table, values ...any) [recorder.TraceArgs]uint64 {
	if len(values) > recorder.TraceArgs {
		panic(fmt.Sprintf("trace: %d arguments exceeds the %d-word record limit", len(values), recorder.TraceArgs))
	}

	var words [recorder.TraceArgs]uint64
	for i, v := range values {
		words[i] = packOne(table, v)
	}
	return words
}

func packOne(table *Table, v any) uint64 {
	switch x := v.(type) {
	case uint64:
		return x
	case int64:
		return uint64(x)
	case int:
		return uint64(int64(x))
	case uint32:
		return uint64(x)
	case int32:
		return uint64(int64(x))
	case bool:
		if x {
			return 1
		}
		return 0
	case float64:
		return math.Float64bits(x)
	case string:
		return table.Intern(x)
	default:
		panic(fmt.Sprintf("trace: unsupported argument type %T", v))
	}
}

// Capturer binds a Channel to a Table so call sites can record a
// formatted trace with one call instead of threading the table and
// recorder.TraceArgs-sized array through by hand.
type Capturer struct {
	Channel *recorder.Channel
	Table   *Table
}

// NewCapturer returns a Capturer writing into channel and interning
// format strings into table.
func NewCapturer(channel *recorder.Channel, table *Table) *Capturer {
	return &Capturer{Channel: channel, Table: table}
}

// Record captures the caller's program counter (via runtime.Caller),
// interns format, packs args, and writes the resulting trace record. It
// returns false if the channel's traced bit was clear, the same
// no-op-when-inactive contract as Channel.WriteTrace.
func (c *Capturer) Record(format string, args ...any) bool {
	var caller uint64
	if pc, _, _, ok := runtime.Caller(1); ok {
		caller = uint64(pc)
	}
	formatID := c.Table.Intern(format)
	words := Pack(c.Table, args...)
	return c.Channel.WriteTrace(caller, formatID, words, nil)
}
