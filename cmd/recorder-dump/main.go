// Command recorder-dump is a runnable host around the recorder library:
// it loads a declarative channel manifest, optionally enables the
// memory-mapped shared export, installs the crash-time dump signal
// handler, and on exit (or crash) writes every channel's contents to a
// file.
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/taodyne/recorder/internal/logging"
	"github.com/taodyne/recorder/internal/xcmd"
	"github.com/taodyne/recorder/pkg/dumpsink"
	"github.com/taodyne/recorder/pkg/recorder"
	"github.com/taodyne/recorder/pkg/shm"
)

// Cmd is the command line arguments for the root command.
type Cmd struct {
	ManifestPath string
	DumpPath     string
	CrashSignals []string
}

var cmd Cmd

var rootCmd = &cobra.Command{
	Use:   "recorder-dump",
	Short: "Run a recorder-backed process and dump its channels on exit or crash",
	RunE: func(_ *cobra.Command, _ []string) error {
		return run(cmd)
	},
}

func init() {
	rootCmd.Flags().StringVarP(&cmd.ManifestPath, "manifest", "m", "", "Path to the channel manifest YAML (required)")
	rootCmd.Flags().StringVarP(&cmd.DumpPath, "dump", "o", "recorder.dump", "Path to write the final channel dump to")
	rootCmd.Flags().StringSliceVar(&cmd.CrashSignals, "crash-signal", []string{"SIGSEGV", "SIGABRT"}, "Signals that trigger a crash dump before re-raising")
	rootCmd.MarkFlagRequired("manifest")
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "ERROR: %v\n", err)
		os.Exit(1)
	}
}

func run(cmd Cmd) error {
	manifest, err := recorder.LoadManifest(cmd.ManifestPath)
	if err != nil {
		return fmt.Errorf("load manifest: %w", err)
	}

	log, atomicLevel, err := logging.Init(logging.Config{Level: manifest.LogLevel})
	if err != nil {
		return fmt.Errorf("initialize logging: %w", err)
	}
	defer log.Sync()

	registry := recorder.New(nil, log)
	if err := manifest.Apply(registry); err != nil {
		return fmt.Errorf("apply manifest: %w", err)
	}

	// log_level is an ordinary tweakable (spec.md §4.3), so it can be
	// changed at runtime through the same "push-config" path as any
	// other clause, instead of requiring a restart to change verbosity.
	if logLevel, err := registry.NewTweakable("log_level", int64(manifest.LogLevel)); err != nil {
		log.Warnw("log_level tweakable unavailable", zap.Error(err))
	} else {
		logLevel.OnChange(func(v int64) { atomicLevel.SetLevel(zapcore.Level(v)) })
	}

	// ExportUnavailable (spec.md §7): a mapping failure is logged and
	// the process continues without shared export; in-process dumping
	// still works.
	if manifest.Export != nil {
		export, err := shm.Create(manifest.Export.Path, uint64(manifest.Export.Size), log)
		if err != nil {
			log.Warnw("shared export unavailable, continuing without it", zap.Error(err))
		} else {
			registry.Observe(export.Publish)
			defer export.Close()

			stopPoll, pollDone := make(chan struct{}), make(chan struct{})
			go func() {
				defer close(pollDone)
				for {
					select {
					case <-stopPoll:
						return
					case <-time.After(200 * time.Millisecond):
						export.PollConfig(func(s string) { registry.Configure(s) })
					}
				}
			}()
			defer func() { close(stopPoll); <-pollDone }()
		}
	}

	dumper := dumpsink.New(registry, log)

	sigs, err := parseSignals(cmd.CrashSignals)
	if err != nil {
		return err
	}

	dumpFile, err := os.Create(cmd.DumpPath)
	if err != nil {
		return fmt.Errorf("create dump file: %w", err)
	}
	defer dumpFile.Close()

	uninstall := dumpsink.InstallSignalHandler(dumper, dumpFile, sigs...)
	defer uninstall()

	err = xcmd.WaitInterrupted(context.Background())
	var interrupted xcmd.Interrupted
	if errors.As(err, &interrupted) {
		log.Infow("caught signal, writing final dump", zap.Stringer("signal", interrupted.Signal))
	}

	if dumpErr := dumper.DumpAll(dumpFile); dumpErr != nil {
		return fmt.Errorf("final dump: %w", dumpErr)
	}
	return nil
}

func parseSignals(names []string) ([]os.Signal, error) {
	out := make([]os.Signal, 0, len(names))
	for _, name := range names {
		switch name {
		case "SIGSEGV":
			out = append(out, syscall.SIGSEGV)
		case "SIGABRT":
			out = append(out, syscall.SIGABRT)
		case "SIGBUS":
			out = append(out, syscall.SIGBUS)
		default:
			return nil, fmt.Errorf("unknown crash signal %q", name)
		}
	}
	return out, nil
}
