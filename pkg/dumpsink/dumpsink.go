// Package dumpsink implements the crash-time dump collaborator spec.md
// §1/§6 calls out: installing a signal handler that drains every
// channel of a recorder.Registry to a byte sink before the process
// dies, grounded on original_source/crash_test.c's SIGSEGV-handler-
// then-reraise pattern.
package dumpsink

import (
	"encoding/binary"
	"fmt"
	"io"
	"os"
	"os/signal"
	"time"

	"github.com/cenkalti/backoff/v5"
	"go.uber.org/zap"

	"github.com/taodyne/recorder/pkg/recorder"
)

// recordMagic prefixes a dump so recorder-dump's own reader (or any
// offline tool) can tell a channel boundary from record payload.
var recordMagic = [4]byte{'D', 'U', 'M', 'P'}

// Dumper drains a Registry's channels to a sink, retrying a momentarily
// unwritable sink (e.g. a disk nearly full, or a pipe whose reader has
// stalled) with a bounded exponential backoff rather than blocking the
// crash path indefinitely.
type Dumper struct {
	registry *recorder.Registry
	log      *zap.SugaredLogger
}

// New creates a Dumper over r. log may be nil.
func New(r *recorder.Registry, log *zap.SugaredLogger) *Dumper {
	return &Dumper{registry: r, log: log}
}

// DumpAll writes every channel's currently readable records to w, each
// channel framed as: magic(4), name length (u16) + name, record count
// (u32), then that many raw records back to back. It uses its own
// cursor per channel (via Channel.ReadNumeric/ReadTrace's cursor
// parameter) so dumping never disturbs the registry's shared reader
// position that a live, in-process consumer might depend on.
//
// Channels are dumped in registry order; a write failure on one channel
// is retried with bounded backoff and, if still failing, logged and
// skipped so one stuck channel cannot prevent the rest from being saved.
func (d *Dumper) DumpAll(w io.Writer) error {
	for _, c := range d.registry.Channels() {
		if err := d.dumpChannel(w, c); err != nil {
			if d.log != nil {
				d.log.Errorw("dropping channel from crash dump", zap.String("channel", c.Name()), zap.Error(err))
			}
		}
	}
	return nil
}

func (d *Dumper) dumpChannel(w io.Writer, c *recorder.Channel) error {
	var cursor uint64
	// cursor starts at 0, almost certainly long past what the ring can
	// actually still hold; size the destination to the ring's capacity,
	// the most records it can still hold, and let the
	// overflow catch-up inside Read jump cursor to the oldest record
	// the ring still has.
	readable := c.Buffer().Size()
	buf := make([]byte, readable*c.RecordSize())

	var n uint64
	if c.IsTrace() {
		records := make([]recorder.TraceRecord, readable)
		got := c.ReadTrace(records, &cursor, nil)
		n = uint64(got)
		for i := 0; i < got; i++ {
			off := uint64(i) * c.RecordSize()
			encodeTraceRecord(buf[off:off+c.RecordSize()], records[i])
		}
	} else {
		samples := make([]recorder.NumericSample, readable)
		got := c.ReadNumeric(samples, &cursor, nil)
		n = uint64(got)
		for i := 0; i < got; i++ {
			off := uint64(i) * c.RecordSize()
			binary.LittleEndian.PutUint64(buf[off:off+8], samples[i].TimestampTicks)
			binary.LittleEndian.PutUint64(buf[off+8:off+16], samples[i].Raw)
		}
	}

	header := make([]byte, 4+2+len(c.Name())+4)
	copy(header[0:4], recordMagic[:])
	binary.LittleEndian.PutUint16(header[4:6], uint16(len(c.Name())))
	copy(header[6:6+len(c.Name())], c.Name())
	binary.LittleEndian.PutUint32(header[6+len(c.Name()):], uint32(n))

	if err := writeWithBackoff(w, header); err != nil {
		return err
	}
	return writeWithBackoff(w, buf[:n*c.RecordSize()])
}

func encodeTraceRecord(dst []byte, r recorder.TraceRecord) {
	binary.LittleEndian.PutUint64(dst[0:8], r.TimestampTicks)
	binary.LittleEndian.PutUint64(dst[8:16], r.CallerAddress)
	binary.LittleEndian.PutUint64(dst[16:24], r.FormatStringAddr)
	for i, a := range r.Args {
		off := 24 + i*8
		binary.LittleEndian.PutUint64(dst[off:off+8], a)
	}
}

// writeWithBackoff retries a short write against w with bounded
// exponential backoff, in the same style as the teacher's
// ExponentialBackOff literal + NextBackOff loop, so a transient EAGAIN
// or a momentarily full disk does not abandon the whole dump on its
// first failure.
func writeWithBackoff(w io.Writer, p []byte) error {
	b := backoff.ExponentialBackOff{
		InitialInterval:     10 * time.Millisecond,
		RandomizationFactor: backoff.DefaultRandomizationFactor,
		Multiplier:          backoff.DefaultMultiplier,
		MaxInterval:         200 * time.Millisecond,
	}
	b.Reset()

	var lastErr error
	for attempt := 0; attempt < 5; attempt++ {
		if _, err := w.Write(p); err != nil {
			lastErr = err
			time.Sleep(b.NextBackOff())
			continue
		}
		return nil
	}
	return fmt.Errorf("dumpsink: write failed after retries: %w", lastErr)
}

// InstallSignalHandler arranges for d.DumpAll(sink) to run the first
// time the process receives one of sigs, then restores the default
// disposition and re-raises the signal so the process still crashes
// the way it would have without this package installed — mirroring
// original_source/crash_test.c's handler-then-reraise shape. The
// returned function cancels the handler installation.
func InstallSignalHandler(d *Dumper, sink io.Writer, sigs ...os.Signal) func() {
	ch := make(chan os.Signal, 1)
	signal.Notify(ch, sigs...)

	done := make(chan struct{})
	go func() {
		select {
		case sig := <-ch:
			if err := d.DumpAll(sink); err != nil && d.log != nil {
				d.log.Errorw("crash dump failed", zap.Error(err))
			}
			signal.Stop(ch)
			signal.Reset(sig)
			if p, err := os.FindProcess(os.Getpid()); err == nil {
				p.Signal(sig)
			}
		case <-done:
		}
	}()

	return func() {
		close(done)
		signal.Stop(ch)
	}
}
