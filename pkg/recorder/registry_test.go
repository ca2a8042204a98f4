package recorder

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestRegistry(t *testing.T) *Registry {
	t.Helper()
	return New(&FakeClock{}, nil)
}

func TestNewChannelRejectsDuplicateName(t *testing.T) {
	r := newTestRegistry(t)
	_, err := r.NewChannel(ChannelSpec{Name: "cpu", Size: 16})
	require.NoError(t, err)

	_, err = r.NewChannel(ChannelSpec{Name: "cpu", Size: 16})
	assert.Error(t, err)
}

func TestChannelIndicesAreStableAndMonotonic(t *testing.T) {
	r := newTestRegistry(t)
	a, err := r.NewChannel(ChannelSpec{Name: "a", Size: 4})
	require.NoError(t, err)
	b, err := r.NewChannel(ChannelSpec{Name: "b", Size: 4})
	require.NoError(t, err)

	assert.Equal(t, uint32(0), a.Index())
	assert.Equal(t, uint32(1), b.Index())
}

func TestTracingChannelStartsInactive(t *testing.T) {
	r := newTestRegistry(t)
	c, err := r.NewChannel(ChannelSpec{Name: "db_error", Size: 16, Trace: true})
	require.NoError(t, err)

	assert.False(t, c.Traced())
	assert.False(t, c.WriteTrace(0, 0, [TraceArgs]uint64{}, nil))
}

func TestAlwaysOnChannelIgnoresTracedBit(t *testing.T) {
	r := newTestRegistry(t)
	c, err := r.NewChannel(ChannelSpec{Name: "uptime", Size: 16, AlwaysOn: true, Kind: KindUnsigned})
	require.NoError(t, err)

	assert.True(t, c.Traced())
	assert.True(t, c.WriteUnsigned(42, nil))

	// Configuring a matching trace pattern with value 0 must not disable it.
	r.Configure("uptime=0")
	assert.True(t, c.Traced())
}

// Scenario 6 from spec.md §8: trace pattern toggle.
func TestTracePatternToggle(t *testing.T) {
	r := newTestRegistry(t)
	httpError, _ := r.NewChannel(ChannelSpec{Name: "http_error", Size: 16, Trace: true})
	httpWarning, _ := r.NewChannel(ChannelSpec{Name: "http_warning", Size: 16, Trace: true})
	dbError, _ := r.NewChannel(ChannelSpec{Name: "db_error", Size: 16, Trace: true})

	applied := r.Configure(".*_error=1")
	assert.Equal(t, 1, applied)

	assert.True(t, httpError.Traced())
	assert.True(t, dbError.Traced())
	assert.False(t, httpWarning.Traced())
}

func TestGlobTracePatternToggle(t *testing.T) {
	r := newTestRegistry(t)
	httpError, _ := r.NewChannel(ChannelSpec{Name: "http_error", Size: 16, Trace: true})
	httpWarning, _ := r.NewChannel(ChannelSpec{Name: "http_warning", Size: 16, Trace: true})

	r.Configure("glob:http_*")

	assert.True(t, httpError.Traced())
	assert.True(t, httpWarning.Traced())
}

// Scenario 5 from spec.md §8: configuration via tweakable.
func TestConfigureSetsTweakable(t *testing.T) {
	r := newTestRegistry(t)
	rate, err := r.NewTweakable("rate", 10)
	require.NoError(t, err)

	r.Configure("rate=42")
	assert.Equal(t, int64(42), rate.Get())
}

func TestConfigureDefaultsMissingValueToOne(t *testing.T) {
	r := newTestRegistry(t)
	flag, err := r.NewTweakable("flag", 0)
	require.NoError(t, err)

	r.Configure("flag")
	assert.Equal(t, int64(1), flag.Get())
}

func TestConfigureDropsInvalidClauseAndContinues(t *testing.T) {
	r := newTestRegistry(t)
	rate, err := r.NewTweakable("rate", 10)
	require.NoError(t, err)

	applied := r.Configure("rate=not-a-number,rate=7")
	assert.Equal(t, 1, applied)
	assert.Equal(t, int64(7), rate.Get())
}

func TestConfigureRejectsInvalidPattern(t *testing.T) {
	r := newTestRegistry(t)
	applied := r.Configure("(unterminated")
	assert.Zero(t, applied)
}

func TestMatchCursorResumesAcrossCalls(t *testing.T) {
	r := newTestRegistry(t)
	r.NewChannel(ChannelSpec{Name: "http_1", Size: 4, Trace: true})
	r.NewChannel(ChannelSpec{Name: "other", Size: 4, Trace: true})
	r.NewChannel(ChannelSpec{Name: "http_2", Size: 4, Trace: true})

	var cursor int
	first, ok, err := r.MatchCursor("glob:http_*", &cursor)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "http_1", first.Name())

	second, ok, err := r.MatchCursor("glob:http_*", &cursor)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "http_2", second.Name())

	_, ok, err = r.MatchCursor("glob:http_*", &cursor)
	require.NoError(t, err)
	assert.False(t, ok)
}

// Round-trip property from spec.md §8: parsing a configuration string,
// emitting it, and re-parsing the emission yields identical state.
func TestConfigurationRoundTrip(t *testing.T) {
	r := newTestRegistry(t)
	r.NewTweakable("rate", 10)
	r.NewChannel(ChannelSpec{Name: "http_error", Size: 4, Trace: true})

	r.Configure("rate=42,http_error=1")
	emitted := r.EmitConfig()

	r2 := newTestRegistry(t)
	r2.NewTweakable("rate", 10)
	c2, _ := r2.NewChannel(ChannelSpec{Name: "http_error", Size: 4, Trace: true})
	r2.Configure(emitted)

	rate2, _ := r2.Tweakable("rate")
	assert.Equal(t, int64(42), rate2.Get())
	assert.True(t, c2.Traced())
	assert.Equal(t, emitted, r2.EmitConfig())
}
