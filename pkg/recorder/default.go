package recorder

import "sync"

// process is the thin process-singleton convenience layer spec.md §9
// calls for: the Registry itself stays an explicit handle passed to
// entry points (see New), but most call sites — especially the lazy
// TraceOnce/Counter helpers below, modeled on original_source/recorder.h's
// RECORD(...) macro — just want "the recorder for this process".
var (
	processOnce sync.Once
	process     *Registry
)

// Default returns the process-wide Registry, creating it on first use
// with a MonotonicClock and no logger. Call SetDefault before any other
// package code runs Default if you need a specific clock or logger.
func Default() *Registry {
	processOnce.Do(func() {
		if process == nil {
			process = New(nil, nil)
		}
	})
	return process
}

// SetDefault installs r as the process-wide Registry. It must be called
// before the first call to Default (or TraceOnce/Counter) to take effect;
// later calls are ignored once Default has run once, matching the
// documented ordering hazard of a language-level global initializer that
// spec.md §9 says this layer should avoid hiding.
func SetDefault(r *Registry) {
	processOnce.Do(func() {
		process = r
	})
}

// lazyNumeric lazily creates (or finds) a numeric, always-on channel by
// name on the given registry. This is the Go equivalent of
// original_source/recorder.h's macro-generated per-call-site Channel:
// the first call at a given name creates it, every later call reuses it.
func lazyNumeric(r *Registry, name, description, unit string, kind ValueKind, size uint64) *Channel {
	if c, ok := r.Lookup(name); ok {
		return c
	}
	c, err := r.NewChannel(ChannelSpec{
		Name:        name,
		Description: description,
		Unit:        unit,
		Kind:        kind,
		Size:        size,
		AlwaysOn:    true,
	})
	if err != nil {
		// Lost a race with another goroutine creating the same channel;
		// the channel now exists under this name either way.
		if existing, ok := r.Lookup(name); ok {
			return existing
		}
		panic(err)
	}
	return c
}

// Counter returns (creating on first use) a process-wide, always-on
// unsigned numeric channel and records value against it. It is meant for
// call sites that just want a named counter without managing a Channel
// handle themselves.
func Counter(name string, value uint64) {
	lazyNumeric(Default(), name, "", "", KindUnsigned, 1024).WriteUnsigned(value, nil)
}

// TraceOnce lazily creates (or finds) a process-wide tracing channel
// (Inactive until a configuration clause activates it) and, if active,
// writes one trace record to it.
func TraceOnce(name string, caller, formatString uint64, args [TraceArgs]uint64) {
	r := Default()
	c, ok := r.Lookup(name)
	if !ok {
		var err error
		c, err = r.NewChannel(ChannelSpec{
			Name:  name,
			Trace: true,
			Size:  1024,
		})
		if err != nil {
			if existing, ok := r.Lookup(name); ok {
				c = existing
			} else {
				panic(err)
			}
		}
	}
	c.WriteTrace(caller, formatString, args, nil)
}
