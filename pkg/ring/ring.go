package ring

import (
	"fmt"
	"runtime"
	"sync/atomic"
)

// Counters are the four atomic positions a Buffer tracks. In the default,
// in-process Buffer they point at fields owned by the Buffer itself. A
// shared-memory projection instead points them at words inside a mapped
// file, so that an external reader sees the same positions with no copy.
type Counters struct {
	Reader   *uint64
	Writer   *uint64
	Commit   *uint64
	Overflow *uint64
}

// WaitPolicy supplies the back-pressure hooks Write and Read call into
// instead of blocking outright. This replaces the source implementation's
// raw function-pointer callbacks (spec.md §9, "function-pointer block
// callbacks") with a small capability interface: two methods for the
// writer's two stall points, one for the reader's, and one to let a
// reader suppress an overflow skip.
//
// With a nil WaitPolicy, Read returns a short count (or skips ahead on
// overflow) on the first sign of contention, and Write claims its full
// count even when that overwrites unread records, then spins until every
// earlier claimant has committed.
// WaitPolicy methods receive attempt, the number of prior retries this
// policy has already granted for the current Write/Read call (starting
// at 0), so a stateless policy can bound how long it spins without
// sharing mutable counters across concurrent callers.
type WaitPolicy interface {
	// OnWriterFull is called when a writer's claim would outrun the reader
	// by more than the buffer's capacity. Returning true means the caller
	// paused and the claim should be retried against a fresh reader
	// position; returning false means give up waiting, and Write claims
	// the full count regardless, overwriting the records the reader has
	// not yet caught up to. The overwritten records surface as overflow
	// the next time a reader catches up past them.
	OnWriterFull(b *Buffer, attempt int) (retry bool)

	// OnCommitStall is called when a writer must wait for an earlier
	// claimant to finish committing. Returning true means retry the wait;
	// returning false triggers the degraded ordered fetch-add described
	// in spec.md §4.1, which can expose a slot before a stalled prior
	// writer has finished it. Callers that choose this path accept that
	// risk.
	OnCommitStall(b *Buffer, attempt int) (retry bool)

	// OnReaderEmpty is called when a reader wants more items than are
	// currently committed. Returning true means retry after the pause;
	// returning false returns whatever is available now, which may be
	// zero.
	OnReaderEmpty(b *Buffer, attempt int) (retry bool)

	// OnOverflow is called before the reader jumps its cursor ahead of a
	// region the writer has overwritten. Returning true suppresses the
	// jump for this call only, so the caller can choose to wait instead
	// of losing the skipped records from this read.
	OnOverflow(b *Buffer, skipped uint64) (suppress bool)
}

// Buffer is a lock-free circular buffer of fixed-size, opaque records.
//
// Positions (Reader, Writer, Commit, Overflow) are unsigned 64-bit counts
// that are never reduced modulo the capacity; only a position's low bits
// (position & mask) select a slot. Comparisons between positions use
// signed differences so that correct ordering survives the eventual
// wraparound of a 64-bit counter, per spec.md §3.
type Buffer struct {
	size     uint64 // N, a power of two
	mask     uint64 // N - 1
	itemSize uint64 // S, bytes per record

	reader   *uint64
	writer   *uint64
	commit   *uint64
	overflow *uint64

	data []byte // N * S bytes, slot p lives at data[(p&mask)*S:][:S]
}

// New creates a Buffer over data using counters as its four atomic
// positions. len(data) must equal size*itemSize and size must be a power
// of two; counters and data are typically either freshly allocated Go
// memory (the common case, see NewLocal) or views into a memory-mapped
// region (see package shm).
func New(size, itemSize uint64, counters Counters, data []byte) (*Buffer, error) {
	if size == 0 || size&(size-1) != 0 {
		return nil, fmt.Errorf("ring: capacity %d is not a power of two", size)
	}
	if itemSize == 0 {
		return nil, fmt.Errorf("ring: item size must be positive")
	}
	if uint64(len(data)) != size*itemSize {
		return nil, fmt.Errorf("ring: data region is %d bytes, want %d", len(data), size*itemSize)
	}
	if counters.Reader == nil || counters.Writer == nil || counters.Commit == nil || counters.Overflow == nil {
		return nil, fmt.Errorf("ring: all four counters are required")
	}

	return &Buffer{
		size:     size,
		mask:     size - 1,
		itemSize: itemSize,
		reader:   counters.Reader,
		writer:   counters.Writer,
		commit:   counters.Commit,
		overflow: counters.Overflow,
		data:     data,
	}, nil
}

// NewLocal allocates an in-process Buffer with its own backing storage.
// This is the common case: a Channel created by the application owns its
// Buffer outright and never shares the counters with another process.
func NewLocal(size, itemSize uint64) (*Buffer, error) {
	storage := make([]uint64, 4)
	data := make([]byte, size*itemSize)
	return New(size, itemSize, Counters{
		Reader:   &storage[0],
		Writer:   &storage[1],
		Commit:   &storage[2],
		Overflow: &storage[3],
	}, data)
}

// Size returns the buffer's capacity in items.
func (b *Buffer) Size() uint64 { return b.size }

// ItemSize returns the size in bytes of one record.
func (b *Buffer) ItemSize() uint64 { return b.itemSize }

// Overflow returns the cumulative count of records skipped because the
// reader fell behind the writer. It never decreases.
func (b *Buffer) Overflow() uint64 { return atomic.LoadUint64(b.overflow) }

// Positions returns the current reader, commit and writer positions. It is
// a diagnostic snapshot; none of the three values is guaranteed to still
// hold by the time the caller observes them.
func (b *Buffer) Positions() (reader, commit, writer uint64) {
	return atomic.LoadUint64(b.reader), atomic.LoadUint64(b.commit), atomic.LoadUint64(b.writer)
}

// Readable returns the number of committed, unread items past the shared
// reader cursor, or past cursor if non-nil. The result is in [0, size].
func (b *Buffer) Readable(cursor *uint64) uint64 {
	r := b.reader
	if cursor != nil {
		r = cursor
	}
	commit := atomic.LoadUint64(b.commit)
	reader := atomic.LoadUint64(r)
	return min(diff(commit, reader), b.size)
}

// Writable returns the number of items that could be written right now
// without the claim outrunning the reader, in [0, size-1].
func (b *Buffer) Writable() uint64 {
	writer := atomic.LoadUint64(b.writer)
	reader := atomic.LoadUint64(b.reader)
	used := diff(writer, reader)
	if used >= b.size {
		return 0
	}
	return b.size - used - 1
}

// slot returns the byte range backing logical position p.
func (b *Buffer) slot(p uint64) []byte {
	off := (p & b.mask) * b.itemSize
	return b.data[off : off+b.itemSize]
}

// copyRuns copies count items starting at logical position start between
// buf and the ring's data array, splitting at the wrap point if needed.
// toRing selects the direction: true copies buf into the ring, false
// copies the ring into buf.
func (b *Buffer) copyRuns(start, count uint64, buf []byte, toRing bool) {
	first := start & b.mask
	firstRun := min(count, b.size-first)

	copyOne := func(ringOff, bufOff, n uint64) {
		ring := b.data[ringOff*b.itemSize : (ringOff+n)*b.itemSize]
		bufSlice := buf[bufOff*b.itemSize : (bufOff+n)*b.itemSize]
		if toRing {
			copy(ring, bufSlice)
		} else {
			copy(bufSlice, ring)
		}
	}

	copyOne(first, 0, firstRun)
	if rem := count - firstRun; rem > 0 {
		copyOne(0, firstRun, rem)
	}
}

// diff interprets a-b as a signed difference so that ordering survives
// modular wraparound of the 64-bit counters (spec.md §3).
func diff(a, b uint64) uint64 {
	d := int64(a - b)
	if d < 0 {
		return 0
	}
	return uint64(d)
}

// Write claims up to len(src)/ItemSize() records from src, copies them
// in, and commits them in index order. It returns the number of records
// actually written and the logical position of the first one. Write is
// safe to call from any number of goroutines concurrently.
func (b *Buffer) Write(src []byte, policy WaitPolicy) (written uint64, start uint64) {
	want := uint64(len(src)) / b.itemSize
	if want == 0 {
		return 0, atomic.LoadUint64(b.writer)
	}

	count := want
	var w0 uint64
	for {
		w0 = atomic.LoadUint64(b.writer)
		count = want

		for attempt := 0; ; attempt++ {
			r := atomic.LoadUint64(b.reader)
			if diff(w0+count, r) <= b.size {
				break
			}
			if policy != nil && policy.OnWriterFull(b, attempt) {
				continue
			}
			// Nobody elected to wait: claim the full count anyway and
			// overwrite whatever the reader hasn't caught up to yet,
			// exactly as original_source/ring.c's NULL-callback path
			// does. The reader's own catch-up logic is what turns this
			// into a correctly-counted overflow, not a shrunk claim here.
			break
		}
		if atomic.CompareAndSwapUint64(b.writer, w0, w0+count) {
			break
		}
		runtime.Gosched()
	}

	b.copyRuns(w0, count, src[:count*b.itemSize], true)

	for attempt := 0; ; attempt++ {
		if atomic.CompareAndSwapUint64(b.commit, w0, w0+count) {
			break
		}
		if policy != nil {
			if !policy.OnCommitStall(b, attempt) {
				// Degraded mode: advance commit regardless of the stalled
				// claimant ahead of us. May expose a slot before its
				// writer finished copying into it.
				atomic.AddUint64(b.commit, count)
				break
			}
		}
		runtime.Gosched()
	}

	return count, w0
}

// Read copies up to len(dst)/ItemSize() committed records into dst,
// advancing the buffer's shared reader position. It returns the number of
// records actually copied.
//
// Read is ReadCursor with a nil cursor. Independent readers that each
// need their own position use ReadCursor instead; all of them share the
// single Overflow counter.
func (b *Buffer) Read(dst []byte, policy WaitPolicy) (n uint64) {
	return b.ReadCursor(dst, nil, policy)
}

// ReadCursor is Read with an explicit, caller-owned cursor, allowing many
// independent consumers to drain the same Buffer at their own pace.
func (b *Buffer) ReadCursor(dst []byte, cursor *uint64, policy WaitPolicy) (n uint64) {
	want := uint64(len(dst)) / b.itemSize
	if want == 0 {
		return 0
	}

	readerPos := b.reader
	if cursor != nil {
		readerPos = cursor
	}

	for attempt := 0; ; attempt++ {
		pre := atomic.LoadUint64(readerPos)
		writer := atomic.LoadUint64(b.writer)

		// Overflow catch-up: the writer has wrapped past this reader.
		// writer is the next free position, so the oldest surviving
		// record is at writer-size, not writer-size+1.
		if diff(writer, pre) >= b.size {
			firstValid := writer - b.size
			skipped := diff(firstValid, pre)
			if skipped > 0 && (policy == nil || !policy.OnOverflow(b, skipped)) {
				atomic.AddUint64(b.overflow, skipped)
				if cursor != nil {
					atomic.StoreUint64(cursor, firstValid)
				} else if !atomic.CompareAndSwapUint64(b.reader, pre, firstValid) {
					continue
				}
				pre = firstValid
			}
		}

		commit := atomic.LoadUint64(b.commit)
		toCopy := min(want, diff(commit, pre))
		if toCopy < want && policy != nil && policy.OnReaderEmpty(b, attempt) {
			continue
		}
		if toCopy == 0 {
			return 0
		}

		b.copyRuns(pre, toCopy, dst[:toCopy*b.itemSize], false)

		if cursor != nil {
			atomic.StoreUint64(cursor, pre+toCopy)
			return toCopy
		}
		if atomic.CompareAndSwapUint64(b.reader, pre, pre+toCopy) {
			return toCopy
		}
		// Another consumer advanced the shared cursor first; restart.
	}
}

// Peek returns the slot at the reader position without advancing it, or
// nil if the reader has caught up to commit. Per spec.md §4.1, Peek is
// only safe when a single consumer is draining the buffer: it may itself
// jump the reader ahead of an overwritten region, which races with any
// other consumer's cursor.
func (b *Buffer) Peek() []byte {
	for {
		r := atomic.LoadUint64(b.reader)
		w := atomic.LoadUint64(b.writer)
		if diff(w, r) >= b.size {
			firstValid := w - b.size
			skipped := diff(firstValid, r)
			atomic.AddUint64(b.overflow, skipped)
			if !atomic.CompareAndSwapUint64(b.reader, r, firstValid) {
				continue
			}
			r = firstValid
		}
		c := atomic.LoadUint64(b.commit)
		if r == c {
			return nil
		}
		return b.slot(r)
	}
}
