package recorder

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTweakableOnChangeFiresOnSet(t *testing.T) {
	r := newTestRegistry(t)
	logLevel, err := r.NewTweakable("log_level", 0)
	require.NoError(t, err)

	var seen int64 = -999
	logLevel.OnChange(func(v int64) { seen = v })

	logLevel.Set(3)
	assert.Equal(t, int64(3), seen)
}

func TestTweakableOnChangeFiresThroughConfigure(t *testing.T) {
	r := newTestRegistry(t)
	logLevel, err := r.NewTweakable("log_level", 0)
	require.NoError(t, err)

	var seen int64
	logLevel.OnChange(func(v int64) { seen = v })

	applied := r.Configure("log_level=-1")
	assert.Equal(t, 1, applied)
	assert.Equal(t, int64(-1), seen)
	assert.Equal(t, int64(-1), logLevel.Get())
}
