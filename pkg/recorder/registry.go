// Package recorder implements the Channel and Registry layers (spec.md
// §4.2-§4.3) on top of package ring's lock-free buffer: named, typed
// channels with atomic configuration ("tracing flags" and "tweakable"
// scalars).
package recorder

import (
	"fmt"
	"sync"

	"go.uber.org/zap"

	"github.com/taodyne/recorder/pkg/ring"
)

// Registry is the process-wide, discoverable collection of Channels plus
// trace-flag and tweakable configuration described in spec.md §4.3.
// Channel creation is serialized by a single lock held only for the
// duration of the append. The same lock is taken briefly by name lookups,
// Channels, MatchCursor and Configure; channel reads and writes and
// Get/Set on a Tweakable handle are lock-free.
type Registry struct {
	mu       sync.Mutex
	channels []*Channel
	byName   map[string]*Channel

	tweakables     map[string]*Tweakable
	tweakableOrder []string

	appliedClauses []string

	clock Clock
	log   *zap.SugaredLogger

	observers []func(*Channel)
}

// New creates an empty Registry. clock is the embedded timebase
// collaborator (spec.md §6); pass nil to use MonotonicClock. log may be
// nil, in which case diagnostics (spec.md §7's InvalidConfiguration) are
// silently dropped.
func New(clock Clock, log *zap.SugaredLogger) *Registry {
	if clock == nil {
		clock = NewMonotonicClock()
	}
	return &Registry{
		byName:     make(map[string]*Channel),
		tweakables: make(map[string]*Tweakable),
		clock:      clock,
		log:        log,
	}
}

// ChannelSpec describes a channel to create, used both by NewChannel and
// by the declarative YAML bootstrap manifest (Manifest.Apply).
type ChannelSpec struct {
	Name        string
	Description string
	Unit        string
	Min, Max    float64
	Kind        ValueKind
	Size        uint64 // capacity in records, power of two
	Trace       bool   // true for a TraceRecordSize channel, false for numeric
	AlwaysOn    bool   // ignores the traced bit; starts (and stays) Active
}

// NewChannel creates and registers a Channel. The name must be unique;
// registering the same name twice returns an error rather than silently
// aliasing two buffers; per spec.md §4.3, a Channel is never
// deregistered once created.
func (r *Registry) NewChannel(spec ChannelSpec) (*Channel, error) {
	if spec.Name == "" {
		return nil, fmt.Errorf("recorder: channel name must not be empty")
	}

	recordSize := uint64(NumericRecordSize)
	if spec.Trace {
		recordSize = TraceRecordSize
	}

	buf, err := ring.NewLocal(spec.Size, recordSize)
	if err != nil {
		return nil, fmt.Errorf("recorder: channel %q: %w", spec.Name, err)
	}

	r.mu.Lock()

	if _, exists := r.byName[spec.Name]; exists {
		r.mu.Unlock()
		return nil, fmt.Errorf("recorder: channel %q already registered", spec.Name)
	}

	c := &Channel{
		name:        spec.Name,
		description: spec.Description,
		unit:        spec.Unit,
		min:         spec.Min,
		max:         spec.Max,
		kind:        spec.Kind,
		recordSize:  recordSize,
		isTrace:     spec.Trace,
		alwaysOn:    spec.AlwaysOn,
		index:       uint32(len(r.channels)),
		clock:       r.clock,
	}
	c.buf.Store(buf)
	c.traced.Store(spec.AlwaysOn)

	r.channels = append(r.channels, c)
	r.byName[spec.Name] = c
	observers := append([]func(*Channel){}, r.observers...)

	if r.log != nil {
		r.log.Debugw("registered channel",
			zap.String("name", c.name),
			zap.Uint32("index", c.index),
			zap.Uint64("size", spec.Size),
			zap.Bool("trace", spec.Trace),
			zap.Bool("always_on", spec.AlwaysOn),
		)
	}
	r.mu.Unlock()

	// Observers run outside the lock: package shm's callback allocates a
	// memory-mapped region and calls back into Channel.Rebind, and must
	// not do so while NewChannel still holds r.mu.
	for _, fn := range observers {
		fn(c)
	}

	return c, nil
}

// Observe registers fn to be called with every future channel as soon as
// it is created, and, immediately, with every channel that already
// exists (in registration order), so a late subscriber — package shm's
// SharedExport, enabled well after a process's first channels are
// created — still sees the full set.
func (r *Registry) Observe(fn func(*Channel)) {
	r.mu.Lock()
	existing := append([]*Channel{}, r.channels...)
	r.observers = append(r.observers, fn)
	r.mu.Unlock()

	for _, c := range existing {
		fn(c)
	}
}

// Lookup resolves a channel by its exact, literal name.
func (r *Registry) Lookup(name string) (*Channel, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	c, ok := r.byName[name]
	return c, ok
}

// Channels returns a snapshot slice of every registered channel, ordered
// by registration (and therefore by Index).
func (r *Registry) Channels() []*Channel {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]*Channel, len(r.channels))
	copy(out, r.channels)
	return out
}

// MatchCursor walks the channel table starting at *cursor, returning the
// next Channel whose name satisfies pattern. It advances *cursor past the
// match so a subsequent call resumes from there; spec.md §4.3 calls this
// out explicitly as an O(n) walk, since the registry is not a hot path.
func (r *Registry) MatchCursor(pattern string, cursor *int) (*Channel, bool, error) {
	m, err := compilePattern(pattern)
	if err != nil {
		return nil, false, err
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	for ; *cursor < len(r.channels); *cursor++ {
		c := r.channels[*cursor]
		if m.Match(c.name) {
			*cursor++
			return c, true, nil
		}
	}
	return nil, false, nil
}

// NewTweakable registers a named integer tweakable with an initial
// value. Like channels, tweakables are never deregistered.
func (r *Registry) NewTweakable(name string, initial int64) (*Tweakable, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.tweakables[name]; exists {
		return nil, fmt.Errorf("recorder: tweakable %q already registered", name)
	}

	t := &Tweakable{name: name}
	t.v.Store(initial)
	r.tweakables[name] = t
	r.tweakableOrder = append(r.tweakableOrder, name)
	return t, nil
}

// Tweakable resolves a tweakable by its exact name.
func (r *Registry) Tweakable(name string) (*Tweakable, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	t, ok := r.tweakables[name]
	return t, ok
}
