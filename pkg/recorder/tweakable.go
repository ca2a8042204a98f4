package recorder

import "sync/atomic"

// Tweakable is a named signed integer the application reads frequently
// and that an external tool may write, per spec.md §3/§4.3. Reads and
// writes are both single atomic operations; there is no ordering
// guarantee between concurrent writes to different tweakables, or even
// to the same one.
type Tweakable struct {
	name     string
	v        atomic.Int64
	onChange atomic.Pointer[func(int64)]
}

// Name returns the tweakable's stable identifier.
func (t *Tweakable) Name() string { return t.name }

// Get loads the tweakable's current value.
func (t *Tweakable) Get() int64 { return t.v.Load() }

// Set atomically replaces the tweakable's value, then, if OnChange
// registered a callback, invokes it with the new value. Configure calls
// this on every "name=value" clause that matches a tweakable, so a
// callback sees every value pushed through a configuration string, not
// just direct Set calls.
func (t *Tweakable) Set(v int64) {
	t.v.Store(v)
	if fn := t.onChange.Load(); fn != nil {
		(*fn)(v)
	}
}

// OnChange registers fn to run, synchronously, after every future Set.
// Only one callback is kept; a later call replaces the earlier one. The
// log_level tweakable wired up by cmd/recorder-dump uses this to patch a
// zap.AtomicLevel live as operators push configuration through
// Registry.Configure, rather than requiring a process restart to change
// log verbosity.
func (t *Tweakable) OnChange(fn func(int64)) {
	t.onChange.Store(&fn)
}
