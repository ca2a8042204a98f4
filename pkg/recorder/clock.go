package recorder

import (
	"sync/atomic"
	"time"
)

// HZ is the number of ticks per second a Clock's Ticks method reports,
// matching spec.md §4.2's RECORDER_HZ. Nanosecond resolution keeps the
// numeric record's timestamp directly comparable to time.Duration values.
const HZ = uint64(time.Second)

// Clock is the embedded timebase collaborator from spec.md §6: a
// monotonic tick source the host supplies. The core never reads the wall
// clock directly, only through this interface, so tests can substitute a
// deterministic source.
type Clock interface {
	// Ticks returns a monotonically non-decreasing count of HZ-per-second
	// ticks. Concurrent calls from any number of goroutines are safe.
	Ticks() uint64
}

// MonotonicClock is the default Clock, backed by time.Now's monotonic
// reading relative to the instant the clock was created.
type MonotonicClock struct {
	start time.Time
}

// NewMonotonicClock returns a Clock anchored to the current instant.
func NewMonotonicClock() *MonotonicClock {
	return &MonotonicClock{start: time.Now()}
}

// Ticks implements Clock.
func (c *MonotonicClock) Ticks() uint64 {
	return uint64(time.Since(c.start).Nanoseconds())
}

// FakeClock is a Clock a test can advance explicitly.
type FakeClock struct {
	ticks atomic.Uint64
}

// Ticks implements Clock.
func (c *FakeClock) Ticks() uint64 { return c.ticks.Load() }

// Advance adds delta ticks and returns the new value.
func (c *FakeClock) Advance(delta uint64) uint64 { return c.ticks.Add(delta) }
