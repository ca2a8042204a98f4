package ring

import (
	"encoding/binary"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const itemSize = 8

func putU64(dst []byte, v uint64) {
	binary.LittleEndian.PutUint64(dst, v)
}

func getU64(src []byte) uint64 {
	return binary.LittleEndian.Uint64(src)
}

func payload(values ...uint64) []byte {
	buf := make([]byte, len(values)*itemSize)
	for i, v := range values {
		putU64(buf[i*itemSize:], v)
	}
	return buf
}

func unpack(buf []byte) []uint64 {
	out := make([]uint64, len(buf)/itemSize)
	for i := range out {
		out[i] = getU64(buf[i*itemSize:])
	}
	return out
}

func TestNewRejectsNonPowerOfTwo(t *testing.T) {
	_, err := NewLocal(3, itemSize)
	require.Error(t, err)
}

// Scenario 1 from spec.md §8: single producer, single consumer, exact fit.
func TestSingleProducerSingleConsumerExactFit(t *testing.T) {
	b, err := NewLocal(8, itemSize)
	require.NoError(t, err)

	data := payload(0, 1, 2, 3, 4, 5, 6, 7)
	written, start := b.Write(data, nil)
	require.Equal(t, uint64(8), written)
	require.Equal(t, uint64(0), start)

	dst := make([]byte, 8*itemSize)
	n := b.Read(dst, nil)
	require.Equal(t, uint64(8), n)
	assert.Equal(t, []uint64{0, 1, 2, 3, 4, 5, 6, 7}, unpack(dst))

	assert.Zero(t, b.Overflow())
	reader, commit, writer := b.Positions()
	assert.Equal(t, uint64(8), reader)
	assert.Equal(t, uint64(8), commit)
	assert.Equal(t, uint64(8), writer)
}

// Scenario 2 from spec.md §8: overflow catch-up.
func TestOverflowCatchUp(t *testing.T) {
	b, err := NewLocal(4, itemSize)
	require.NoError(t, err)

	for i := uint64(0); i < 10; i++ {
		written, _ := b.Write(payload(i), nil)
		require.Equal(t, uint64(1), written)
	}

	dst := make([]byte, 4*itemSize)
	n := b.Read(dst, nil)
	require.Equal(t, uint64(4), n)
	assert.Equal(t, []uint64{6, 7, 8, 9}, unpack(dst[:n*itemSize]))
	assert.Equal(t, uint64(6), b.Overflow())
}

func TestZeroCountIsNoop(t *testing.T) {
	b, err := NewLocal(4, itemSize)
	require.NoError(t, err)

	written, _ := b.Write(nil, nil)
	assert.Zero(t, written)

	n := b.Read(nil, nil)
	assert.Zero(t, n)
	assert.Zero(t, b.Overflow())
}

func TestWrapAroundNearUint64Max(t *testing.T) {
	b, err := NewLocal(8, itemSize)
	require.NoError(t, err)

	// Pre-seed the counters near the 64-bit wrap point, per spec.md §8's
	// boundary behavior: "Writer position wraps around 2^64 without
	// altering observable behavior."
	near := ^uint64(0) - 2
	*b.writer = near
	*b.reader = near
	*b.commit = near

	written, start := b.Write(payload(42, 43, 44, 45), nil)
	require.Equal(t, uint64(4), written)
	require.Equal(t, near, start)

	dst := make([]byte, 4*itemSize)
	n := b.Read(dst, nil)
	require.Equal(t, uint64(4), n)
	assert.Equal(t, []uint64{42, 43, 44, 45}, unpack(dst))
}

func TestIndependentCursorsShareOverflow(t *testing.T) {
	b, err := NewLocal(4, itemSize)
	require.NoError(t, err)

	for i := uint64(0); i < 6; i++ {
		b.Write(payload(i), nil)
	}

	var cursorA, cursorB uint64
	dstA := make([]byte, 4*itemSize)
	dstB := make([]byte, 4*itemSize)

	nA := b.ReadCursor(dstA, &cursorA, nil)
	nB := b.ReadCursor(dstB, &cursorB, nil)

	require.Equal(t, uint64(4), nA)
	require.Equal(t, uint64(4), nB)
	assert.Equal(t, unpack(dstA), unpack(dstB))
	assert.Equal(t, uint64(4), b.Overflow())
}

// Scenario 3 from spec.md §8 (scaled down): multiple producers, one
// consumer; every producer's observed subsequence is strictly increasing.
func TestMultiProducerInterleavingPreservesPerProducerOrder(t *testing.T) {
	const (
		producers  = 8
		perProducer = 5000
		ringSize    = 1024
	)

	b, err := NewLocal(ringSize, itemSize)
	require.NoError(t, err)

	var wg sync.WaitGroup
	policy := SpinPolicy{MaxAttempts: 1 << 20}
	for p := uint64(0); p < producers; p++ {
		wg.Add(1)
		go func(producer uint64) {
			defer wg.Done()
			for seq := uint64(0); seq < perProducer; seq++ {
				tag := (producer << 32) | seq
				for {
					written, _ := b.Write(payload(tag), policy)
					if written == 1 {
						break
					}
				}
			}
		}(p)
	}

	lastSeq := make(map[uint64]uint64)
	var observed uint64
	dst := make([]byte, itemSize)
	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()

	for {
		n := b.Read(dst, nil)
		if n == 1 {
			tag := getU64(dst)
			producer := tag >> 32
			seq := tag & 0xffffffff
			if last, ok := lastSeq[producer]; ok {
				assert.Greater(t, seq, last)
			}
			lastSeq[producer] = seq
			observed++
			continue
		}
		select {
		case <-done:
			// Drain whatever committed between the last read and the
			// producers finishing.
			for {
				n := b.Read(dst, nil)
				if n == 0 {
					break
				}
				tag := getU64(dst)
				producer := tag >> 32
				seq := tag & 0xffffffff
				if last, ok := lastSeq[producer]; ok {
					assert.Greater(t, seq, last)
				}
				lastSeq[producer] = seq
				observed++
			}
			assert.Equal(t, uint64(producers*perProducer), observed+b.Overflow())
			return
		default:
		}
	}
}
