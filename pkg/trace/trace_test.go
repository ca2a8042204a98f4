package trace

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/taodyne/recorder/pkg/recorder"
)

func TestInternIsStableAndDeduplicates(t *testing.T) {
	table := NewTable()
	a := table.Intern("request failed: %d")
	b := table.Intern("request failed: %d")
	c := table.Intern("other message")

	assert.Equal(t, a, b)
	assert.NotEqual(t, a, c)

	s, ok := table.Format(a)
	require.True(t, ok)
	assert.Equal(t, "request failed: %d", s)
}

func TestFormatUnknownIDFails(t *testing.T) {
	table := NewTable()
	_, ok := table.Format(99)
	assert.False(t, ok)
}

func TestPackRoundTripsSupportedKinds(t *testing.T) {
	table := NewTable()
	words := Pack(table, uint64(7), int64(-3), true, "tag")

	assert.Equal(t, uint64(7), words[0])
	assert.Equal(t, uint64(0xfffffffffffffffd), words[1]) // -3 as uint64
	assert.Equal(t, uint64(1), words[2])
	assert.Equal(t, table.Intern("tag"), words[3])
}

func TestPackPanicsOnTooManyArgs(t *testing.T) {
	table := NewTable()
	assert.Panics(t, func() {
		Pack(table, 1, 2, 3, 4, 5)
	})
}

func TestCapturerRecordsTraceAndInternsFormat(t *testing.T) {
	r := recorder.New(&recorder.FakeClock{}, nil)
	channel, err := r.NewChannel(recorder.ChannelSpec{Name: "slow_query", Size: 16, Trace: true, AlwaysOn: true})
	require.NoError(t, err)

	table := NewTable()
	cap := NewCapturer(channel, table)
	require.True(t, cap.Record("query took %d ms", int64(42)))

	records := make([]recorder.TraceRecord, 1)
	n := channel.ReadTrace(records, nil, nil)
	require.Equal(t, 1, n)

	format, ok := table.Format(records[0].FormatStringAddr)
	require.True(t, ok)
	assert.Equal(t, "query took %d ms", format)
	assert.Equal(t, uint64(42), records[0].Args[0])
}
