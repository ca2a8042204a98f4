package shm

import (
	"encoding/binary"
	"fmt"
	"os"
	"sync/atomic"
	"unsafe"

	"golang.org/x/sys/unix"

	"github.com/taodyne/recorder/pkg/recorder"
	"github.com/taodyne/recorder/pkg/ring"
)

// ChannelInfo is one channel's metadata and RingBuffer as seen by a
// reader process, decoded from a directory entry.
type ChannelInfo struct {
	Name        string
	Description string
	Unit        string
	Min, Max    float64
	Kind        recorder.ValueKind
	buf         *ring.Buffer
}

// Buffer returns the channel's RingBuffer, mapped directly into the
// export file; reads against it touch no other process's memory.
func (ci ChannelInfo) Buffer() *ring.Buffer { return ci.buf }

// Reader is the headless reader-client collaborator of spec.md §1/§6: it
// maps an existing export file and performs RingBuffer reads against it
// without any IPC round-trip to the writing process.
type Reader struct {
	file *os.File
	data []byte
}

// Open maps the export file at path. The mapping is PROT_READ|PROT_WRITE
// so PushConfig can write into the embedded configuration channel;
// everything else the Reader exposes only reads.
func Open(path string) (*Reader, error) {
	f, err := os.OpenFile(path, os.O_RDWR, 0)
	if err != nil {
		return nil, fmt.Errorf("shm: open %s: %w", path, err)
	}

	info, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("shm: stat %s: %w", path, err)
	}

	data, err := unix.Mmap(int(f.Fd()), 0, int(info.Size()), unix.PROT_READ|unix.PROT_WRITE, unix.MAP_SHARED)
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("shm: mmap %s: %w", path, err)
	}

	r := &Reader{file: f, data: data}
	if err := r.checkHeader(); err != nil {
		unix.Munmap(data)
		f.Close()
		return nil, err
	}
	return r, nil
}

func (r *Reader) checkHeader() error {
	if len(r.data) < headerSize {
		return fmt.Errorf("shm: file too small to be a recorder export")
	}
	if string(r.data[0:8]) != string(magic[:]) {
		return fmt.Errorf("shm: bad magic %q", r.data[0:8])
	}
	if v := binary.LittleEndian.Uint32(r.data[8:12]); v != version {
		return fmt.Errorf("shm: unsupported export version %d, want %d", v, version)
	}
	return nil
}

// channelCount reads the directory's published length with an acquire
// load, per spec.md §4.4's publish barrier.
func (r *Reader) channelCount() uint32 {
	return atomic.LoadUint32((*uint32)(unsafe.Pointer(&r.data[12])))
}

// Channels decodes and returns every published channel except the
// embedded configuration channel.
func (r *Reader) Channels() ([]ChannelInfo, error) {
	count := r.channelCount()
	out := make([]ChannelInfo, 0, count)
	for i := uint32(0); i < count; i++ {
		off := directoryBase + uint64(i)*entrySize
		ent, err := decodeEntry(r.data[off : off+entrySize])
		if err != nil {
			return nil, fmt.Errorf("shm: decode directory entry %d: %w", i, err)
		}
		if ent.name == configChannelName {
			continue
		}

		buf, err := r.mapRing(ent)
		if err != nil {
			return nil, fmt.Errorf("shm: map channel %q: %w", ent.name, err)
		}
		out = append(out, ChannelInfo{
			Name:        ent.name,
			Description: ent.description,
			Unit:        ent.unit,
			Min:         ent.min,
			Max:         ent.max,
			Kind:        ent.valueKind,
			buf:         buf,
		})
	}
	return out, nil
}

func (r *Reader) mapRing(ent directoryEntry) (*ring.Buffer, error) {
	need := uint64(ringHeaderSize) + uint64(ent.itemSize)*uint64(ent.size)
	if ent.offsetToRing+need > uint64(len(r.data)) {
		return nil, fmt.Errorf("ring region out of bounds")
	}
	region := r.data[ent.offsetToRing : ent.offsetToRing+need]
	counters := ring.Counters{
		Reader:   (*uint64)(unsafe.Pointer(&region[0])),
		Writer:   (*uint64)(unsafe.Pointer(&region[8])),
		Commit:   (*uint64)(unsafe.Pointer(&region[16])),
		Overflow: (*uint64)(unsafe.Pointer(&region[24])),
	}
	return ring.New(uint64(ent.size), uint64(ent.itemSize), counters, region[ringHeaderSize:need])
}

// PushConfig writes a configuration string into the embedded
// configuration channel for the exporting application to pick up on its
// next Export.PollConfig call. It fails if s does not fit within
// configRecordSize including its null terminator.
func (r *Reader) PushConfig(s string) error {
	if len(s)+1 > configRecordSize {
		return fmt.Errorf("shm: configuration string too long: %d bytes, max %d", len(s), configRecordSize-1)
	}

	count := r.channelCount()
	var ent directoryEntry
	found := false
	for i := uint32(0); i < count; i++ {
		off := directoryBase + uint64(i)*entrySize
		decoded, err := decodeEntry(r.data[off : off+entrySize])
		if err != nil {
			return err
		}
		if decoded.name == configChannelName {
			ent, found = decoded, true
			break
		}
	}
	if !found {
		return fmt.Errorf("shm: export has no configuration channel")
	}

	buf, err := r.mapRing(ent)
	if err != nil {
		return err
	}

	rec := make([]byte, configRecordSize)
	copy(rec, s)
	if n, _ := buf.Write(rec, nil); n != 1 {
		return fmt.Errorf("shm: configuration channel is full")
	}
	return nil
}

// Close unmaps the export file.
func (r *Reader) Close() error {
	if err := unix.Munmap(r.data); err != nil {
		return err
	}
	return r.file.Close()
}
