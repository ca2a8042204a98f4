package dumpsink

import (
	"bytes"
	"encoding/binary"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/taodyne/recorder/pkg/recorder"
)

// decodeDump parses the simple channel-framed format DumpAll writes,
// returning each channel's name and record count in order.
func decodeDump(t *testing.T, buf []byte) []struct {
	name  string
	count uint32
} {
	t.Helper()
	var out []struct {
		name  string
		count uint32
	}
	for len(buf) > 0 {
		require.GreaterOrEqual(t, len(buf), 6)
		require.Equal(t, recordMagic[:], buf[0:4])
		nameLen := binary.LittleEndian.Uint16(buf[4:6])
		buf = buf[6:]
		name := string(buf[:nameLen])
		buf = buf[nameLen:]
		count := binary.LittleEndian.Uint32(buf[0:4])
		buf = buf[4:]
		out = append(out, struct {
			name  string
			count uint32
		}{name, count})
		// Skip the payload; test channels are numeric (16 bytes/record).
		buf = buf[uint32(recorder.NumericRecordSize)*count:]
	}
	return out
}

func TestDumpAllWritesEveryChannel(t *testing.T) {
	r := recorder.New(&recorder.FakeClock{}, nil)
	a, err := r.NewChannel(recorder.ChannelSpec{Name: "a", Size: 8, AlwaysOn: true})
	require.NoError(t, err)
	b, err := r.NewChannel(recorder.ChannelSpec{Name: "b", Size: 8, AlwaysOn: true})
	require.NoError(t, err)

	a.WriteUnsigned(1, nil)
	a.WriteUnsigned(2, nil)
	b.WriteUnsigned(99, nil)

	var out bytes.Buffer
	d := New(r, nil)
	require.NoError(t, d.DumpAll(&out))

	entries := decodeDump(t, out.Bytes())
	require.Len(t, entries, 2)
	assert.Equal(t, "a", entries[0].name)
	assert.Equal(t, uint32(2), entries[0].count)
	assert.Equal(t, "b", entries[1].name)
	assert.Equal(t, uint32(1), entries[1].count)
}

func TestDumpAllHandlesEmptyChannel(t *testing.T) {
	r := recorder.New(&recorder.FakeClock{}, nil)
	_, err := r.NewChannel(recorder.ChannelSpec{Name: "idle", Size: 8, AlwaysOn: true})
	require.NoError(t, err)

	var out bytes.Buffer
	d := New(r, nil)
	require.NoError(t, d.DumpAll(&out))

	entries := decodeDump(t, out.Bytes())
	require.Len(t, entries, 1)
	assert.Equal(t, uint32(0), entries[0].count)
}

type failingWriter struct{ failures int }

func (w *failingWriter) Write(p []byte) (int, error) {
	if w.failures > 0 {
		w.failures--
		return 0, assert.AnError
	}
	return len(p), nil
}

func TestWriteWithBackoffRetriesTransientFailures(t *testing.T) {
	w := &failingWriter{failures: 2}
	require.NoError(t, writeWithBackoff(w, []byte("hello")))
}

func TestWriteWithBackoffGivesUpEventually(t *testing.T) {
	w := &failingWriter{failures: 100}
	assert.Error(t, writeWithBackoff(w, []byte("hello")))
}
