package main

import (
	"encoding/binary"
	"fmt"
	"math"
	"time"

	"github.com/spf13/cobra"

	"github.com/taodyne/recorder/pkg/recorder"
	"github.com/taodyne/recorder/pkg/ring"
	"github.com/taodyne/recorder/pkg/shm"
)

var tailCmdArgs struct {
	ExportPath string
	Follow     bool
	Poll       time.Duration
}

var tailCmd = &cobra.Command{
	Use:   "tail <channel>",
	Short: "Print a channel's records as they are written",
	Args:  cobra.ExactArgs(1),
	RunE: func(_ *cobra.Command, args []string) error {
		return runTail(tailCmdArgs.ExportPath, args[0])
	},
}

func init() {
	tailCmd.Flags().StringVarP(&tailCmdArgs.ExportPath, "export", "e", "", "Path to the export file (required)")
	tailCmd.Flags().BoolVarP(&tailCmdArgs.Follow, "follow", "f", false, "Keep polling for new records instead of exiting once drained")
	tailCmd.Flags().DurationVar(&tailCmdArgs.Poll, "poll", 200*time.Millisecond, "Poll interval used with --follow")
	tailCmd.MarkFlagRequired("export")
}

func runTail(path, name string) error {
	r, err := shm.Open(path)
	if err != nil {
		return fmt.Errorf("open export: %w", err)
	}
	defer r.Close()

	channels, err := r.Channels()
	if err != nil {
		return fmt.Errorf("decode channels: %w", err)
	}

	var buf *ring.Buffer
	var kind recorder.ValueKind
	for _, c := range channels {
		if c.Name == name {
			buf, kind = c.Buffer(), c.Kind
			break
		}
	}
	if buf == nil {
		return fmt.Errorf("no such channel %q", name)
	}

	// A tail cursor starts at the buffer's current reader position
	// (0 on an export nobody has drained yet), not at 0 unconditionally,
	// so a later tail invocation does not always replay history from the
	// export's very beginning.
	cursor, _, _ := buf.Positions()

	isTrace := buf.ItemSize() == recorder.TraceRecordSize
	for {
		printed := drain(buf, &cursor, kind, isTrace)
		if !tailCmdArgs.Follow {
			return nil
		}
		if printed == 0 {
			time.Sleep(tailCmdArgs.Poll)
		}
	}
}

func drain(buf *ring.Buffer, cursor *uint64, kind recorder.ValueKind, isTrace bool) int {
	const batch = 64
	itemSize := buf.ItemSize()
	raw := make([]byte, batch*itemSize)

	n := int(buf.ReadCursor(raw, cursor, nil))
	for i := 0; i < n; i++ {
		rec := raw[uint64(i)*itemSize:]
		if isTrace {
			printTraceRecord(rec)
		} else {
			printNumericRecord(rec, kind)
		}
	}
	return n
}

func printNumericRecord(rec []byte, kind recorder.ValueKind) {
	ts := binary.LittleEndian.Uint64(rec[0:8])
	raw := binary.LittleEndian.Uint64(rec[8:16])

	switch kind {
	case recorder.KindSigned:
		fmt.Printf("%d\t%d\n", ts, int64(raw))
	case recorder.KindReal:
		fmt.Printf("%d\t%g\n", ts, math.Float64frombits(raw))
	default:
		fmt.Printf("%d\t%d\n", ts, raw)
	}
}

func printTraceRecord(rec []byte) {
	ts := binary.LittleEndian.Uint64(rec[0:8])
	caller := binary.LittleEndian.Uint64(rec[8:16])
	format := binary.LittleEndian.Uint64(rec[16:24])
	fmt.Printf("%d\tcaller=0x%x\tformat=#%d", ts, caller, format)
	for i := 0; i < recorder.TraceArgs; i++ {
		off := 24 + i*8
		fmt.Printf("\t%d", binary.LittleEndian.Uint64(rec[off:off+8]))
	}
	fmt.Println()
}
