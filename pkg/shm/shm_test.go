package shm

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/taodyne/recorder/pkg/recorder"
)

func newExport(t *testing.T) (*Export, string) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "export.bin")
	exp, err := Create(path, 1<<20, nil)
	require.NoError(t, err)
	t.Cleanup(func() { exp.Close() })
	return exp, path
}

func TestPublishAndReadBack(t *testing.T) {
	exp, path := newExport(t)

	r := recorder.New(&recorder.FakeClock{}, nil)
	r.Observe(exp.Publish)

	c, err := r.NewChannel(recorder.ChannelSpec{
		Name: "latency", Size: 16, Kind: recorder.KindReal, AlwaysOn: true,
	})
	require.NoError(t, err)

	require.True(t, c.WriteReal(3.5, nil))
	require.True(t, c.WriteReal(-1.25, nil))

	rd, err := Open(path)
	require.NoError(t, err)
	t.Cleanup(func() { rd.Close() })

	channels, err := rd.Channels()
	require.NoError(t, err)
	require.Len(t, channels, 1)
	assert.Equal(t, "latency", channels[0].Name)
	assert.Equal(t, recorder.KindReal, channels[0].Kind)

	var cursor uint64
	dst := make([]byte, 2*recorder.NumericRecordSize)
	n := channels[0].Buffer().ReadCursor(dst, &cursor, nil)
	assert.Equal(t, uint64(2), n)
}

func TestObserveReplaysExistingChannels(t *testing.T) {
	exp, path := newExport(t)

	r := recorder.New(&recorder.FakeClock{}, nil)
	_, err := r.NewChannel(recorder.ChannelSpec{Name: "early", Size: 8, AlwaysOn: true})
	require.NoError(t, err)

	r.Observe(exp.Publish) // enabled after "early" already exists

	_, err = r.NewChannel(recorder.ChannelSpec{Name: "late", Size: 8, AlwaysOn: true})
	require.NoError(t, err)

	rd, err := Open(path)
	require.NoError(t, err)
	t.Cleanup(func() { rd.Close() })

	channels, err := rd.Channels()
	require.NoError(t, err)
	names := map[string]bool{}
	for _, c := range channels {
		names[c.Name] = true
	}
	assert.True(t, names["early"])
	assert.True(t, names["late"])
}

func TestPushConfigRoundTrip(t *testing.T) {
	exp, path := newExport(t)

	r := recorder.New(&recorder.FakeClock{}, nil)
	rate, err := r.NewTweakable("rate", 10)
	require.NoError(t, err)

	rd, err := Open(path)
	require.NoError(t, err)
	t.Cleanup(func() { rd.Close() })

	require.NoError(t, rd.PushConfig("rate=42"))

	var applied int
	exp.PollConfig(func(clause string) {
		applied += r.Configure(clause)
	})
	assert.Equal(t, 1, applied)
	assert.Equal(t, int64(42), rate.Get())
}

func TestMappingExhaustedDropsChannel(t *testing.T) {
	path := filepath.Join(t.TempDir(), "small.bin")
	// Just enough room for the directory, the header, and the embedded
	// configuration channel, with only a sliver left over for rings.
	exp, err := Create(path, ringBase+8192, nil)
	require.NoError(t, err)
	t.Cleanup(func() { exp.Close() })

	r := recorder.New(&recorder.FakeClock{}, nil)
	r.Observe(exp.Publish)

	// A channel this large cannot fit in the sliver of mapping left
	// after the configuration channel; Publish must log and skip it
	// rather than erroring out NewChannel.
	_, err = r.NewChannel(recorder.ChannelSpec{Name: "huge", Size: 1024, AlwaysOn: true})
	require.NoError(t, err)

	rd, err := Open(path)
	require.NoError(t, err)
	t.Cleanup(func() { rd.Close() })

	channels, err := rd.Channels()
	require.NoError(t, err)
	assert.Empty(t, channels)
}

func TestOpenRejectsBadMagic(t *testing.T) {
	path := filepath.Join(t.TempDir(), "garbage.bin")
	require.NoError(t, os.WriteFile(path, make([]byte, 64), 0o644))

	_, err := Open(path)
	assert.Error(t, err)
}
