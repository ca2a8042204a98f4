package shm

import (
	"encoding/binary"
	"fmt"
	"os"
	"sync"
	"sync/atomic"
	"unsafe"

	"go.uber.org/zap"
	"golang.org/x/sys/unix"

	"github.com/taodyne/recorder/pkg/recorder"
	"github.com/taodyne/recorder/pkg/ring"
)

// configChannelName is the reserved name of the embedded configuration
// channel (spec.md §4.4): a RingBuffer a reader process writes
// configuration strings into, which the application drains with
// Export.PollConfig.
const configChannelName = "__recorder_config__"

// configRecordSize bounds one pushed configuration string, including
// its null terminator. A longer string is rejected by PushConfig rather
// than silently truncated.
const configRecordSize = 256

// configRingCapacity is the number of pending configuration strings the
// embedded channel can hold before PushConfig starts overwriting the
// oldest unread one (the same overflow behavior as any other channel).
const configRingCapacity = 16

// Export is a file-backed, memory-mapped projection of a
// recorder.Registry. It mirrors every Channel it is told to publish
// into the mapping's directory and relocates that Channel's storage
// into the mapping itself, so that a separate process mapping the same
// file can enumerate and read the channel with no further
// synchronization beyond the atomics already inside its RingBuffer.
//
// Export is append-only for the life of the mapping: once a Channel's
// directory entry is published, its slot in the file never moves and
// is never reused.
type Export struct {
	log *zap.SugaredLogger

	file *os.File
	data []byte // the whole mapping

	mu   sync.Mutex // serializes Publish and Create's setup against each other
	tail uint64     // next free byte offset for a ring allocation

	capacity uint64

	configRing *ring.Buffer
}

// directoryBase is the fixed offset of the first directory entry.
const directoryBase = headerSize

// maxDirectoryEntries bounds how many channels (including the embedded
// configuration channel) a single mapping can hold. The directory is a
// fixed-stride array starting at directoryBase so a reader can compute
// entryOffset(i) without walking ring storage of unknown size first;
// ring storage for every channel instead starts at ringBase, right
// after the last possible directory slot. Spec.md §4.3 expects the
// registry to hold "tens to low hundreds" of channels, so 256 leaves
// comfortable headroom without wasting much of a typical mapping.
const maxDirectoryEntries = 256

// ringBase is the fixed offset where ring storage begins, after every
// possible directory slot.
const ringBase = directoryBase + maxDirectoryEntries*entrySize

// Create allocates (or truncates and reinitializes) a file at path of
// the given size and maps it PROT_READ|PROT_WRITE, MAP_SHARED. size
// must be large enough for the header, the embedded configuration
// channel, and every Channel Publish is later called with; Publish logs
// and skips a channel that would overrun the mapping rather than
// growing it, since spec.md §4.4 treats the region as fixed-size for a
// process's lifetime.
func Create(path string, size uint64, log *zap.SugaredLogger) (*Export, error) {
	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE|os.O_TRUNC, 0o644)
	if err != nil {
		return nil, fmt.Errorf("shm: open %s: %w", path, err)
	}

	if err := f.Truncate(int64(size)); err != nil {
		f.Close()
		return nil, fmt.Errorf("shm: truncate %s to %d: %w", path, size, err)
	}

	data, err := unix.Mmap(int(f.Fd()), 0, int(size), unix.PROT_READ|unix.PROT_WRITE, unix.MAP_SHARED)
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("shm: mmap %s: %w", path, err)
	}

	e := &Export{
		log:      log,
		file:     f,
		data:     data,
		tail:     ringBase,
		capacity: size,
	}

	copy(data[0:8], magic[:])
	binary.LittleEndian.PutUint32(data[8:12], version)
	atomic.StoreUint32(e.channelCountPtr(), 0)

	configBuf, offset, err := e.allocateRing(configRecordSize, configRingCapacity)
	if err != nil {
		unix.Munmap(data)
		f.Close()
		return nil, fmt.Errorf("shm: allocate configuration channel: %w", err)
	}
	e.configRing = configBuf
	if err := e.appendEntry(directoryEntry{
		name:         configChannelName,
		description:  "reader-to-application configuration pushes",
		valueKind:    recorder.KindNone,
		itemSize:     configRecordSize,
		size:         configRingCapacity,
		offsetToRing: offset,
	}); err != nil {
		unix.Munmap(data)
		f.Close()
		return nil, err
	}

	return e, nil
}

// channelCountPtr returns a pointer at offset 12 into the mapping, the
// acquire/release-guarded channel_count field of the normative layout.
func (e *Export) channelCountPtr() *uint32 {
	return (*uint32)(unsafe.Pointer(&e.data[12]))
}

// allocateRing carves a ring header plus size*itemSize bytes out of the
// tail of the mapping and returns a ring.Buffer backed by that region
// along with the absolute offset its header starts at. Callers must
// hold e.mu.
//
// ringBase is 8-byte aligned and every caller in this package sizes
// itemSize as a multiple of 8 (NumericRecordSize, TraceRecordSize,
// configRecordSize all are), so successive rings stay 8-byte aligned
// without any explicit padding — required for the atomic.LoadUint64 /
// CompareAndSwapUint64 calls package ring makes against the counters
// below.
func (e *Export) allocateRing(itemSize, size uint32) (*ring.Buffer, uint64, error) {
	need := uint64(ringHeaderSize) + uint64(itemSize)*uint64(size)
	if e.tail+need > e.capacity {
		return nil, 0, fmt.Errorf("shm: mapping exhausted: need %d more bytes, %d available", need, e.capacity-e.tail)
	}

	offset := e.tail
	region := e.data[offset : offset+need]
	counters := ring.Counters{
		Reader:   (*uint64)(unsafe.Pointer(&region[0])),
		Writer:   (*uint64)(unsafe.Pointer(&region[8])),
		Commit:   (*uint64)(unsafe.Pointer(&region[16])),
		Overflow: (*uint64)(unsafe.Pointer(&region[24])),
	}
	buf, err := ring.New(uint64(size), uint64(itemSize), counters, region[ringHeaderSize:need])
	if err != nil {
		return nil, 0, err
	}

	e.tail += need
	return buf, offset, nil
}

// appendEntry writes ent's encoded form at the next free directory slot
// and publishes it. Callers must hold e.mu and must have already called
// allocateRing to set ent.offsetToRing, since entries are only ever
// published once their ring storage exists.
func (e *Export) appendEntry(ent directoryEntry) error {
	count := atomic.LoadUint32(e.channelCountPtr())
	if count >= maxDirectoryEntries {
		return fmt.Errorf("shm: directory exhausted: no room for entry %q", ent.name)
	}
	off := e.entryOffset(count)
	copy(e.data[off:off+entrySize], encodeEntry(ent))

	// Publish barrier: every byte of the entry above must be visible
	// before a concurrent reader's acquire-load of channel_count can
	// observe the incremented count (spec.md §4.4).
	atomic.StoreUint32(e.channelCountPtr(), count+1)
	return nil
}

// entryOffset returns the absolute offset of the i'th directory entry.
func (e *Export) entryOffset(i uint32) uint64 {
	return directoryBase + uint64(i)*entrySize
}

// Publish mirrors c into the mapping: it carves out ring storage sized
// to match c's current buffer, appends c's directory entry, and rebinds
// c onto the freshly carved storage so every subsequent write goes
// straight into the mapping. It is meant to be passed to
// recorder.Registry.Observe, which also replays every channel created
// before Publish was first registered.
func (e *Export) Publish(c *recorder.Channel) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if c.Name() == configChannelName {
		return
	}

	buf, offset, err := e.allocateRing(uint32(c.RecordSize()), uint32(c.Buffer().Size()))
	if err != nil {
		if e.log != nil {
			e.log.Warnw("dropping channel from shared export: mapping exhausted",
				zap.String("channel", c.Name()), zap.Error(err))
		}
		return
	}

	if err := e.appendEntry(directoryEntry{
		name:         c.Name(),
		description:  c.Description(),
		unit:         c.Unit(),
		min:          c.Min(),
		max:          c.Max(),
		valueKind:    c.Kind(),
		itemSize:     uint32(c.RecordSize()),
		size:         uint32(buf.Size()),
		offsetToRing: offset,
	}); err != nil {
		if e.log != nil {
			e.log.Warnw("dropping channel from shared export", zap.String("channel", c.Name()), zap.Error(err))
		}
		return
	}

	if err := c.Rebind(buf); err != nil {
		// Unreachable in practice: allocateRing was sized from
		// c.RecordSize() above, so the item sizes always match.
		if e.log != nil {
			e.log.Errorw("rebind onto shared export storage failed", zap.String("channel", c.Name()), zap.Error(err))
		}
	}
}

// PollConfig drains every configuration string currently queued on the
// embedded configuration channel and feeds each through apply (normally
// recorder.Registry.Configure). It is meant to be called periodically
// from the application's own loop, per spec.md §4.4.
func (e *Export) PollConfig(apply func(string)) {
	rec := make([]byte, configRecordSize)
	for e.configRing.Read(rec, nil) == 1 {
		n := 0
		for n < len(rec) && rec[n] != 0 {
			n++
		}
		apply(string(rec[:n]))
	}
}

// Close unmaps and closes the backing file. A Channel written into this
// mapping (after Publish) must not be used again after Close.
func (e *Export) Close() error {
	if err := unix.Munmap(e.data); err != nil {
		return fmt.Errorf("shm: munmap: %w", err)
	}
	return e.file.Close()
}
