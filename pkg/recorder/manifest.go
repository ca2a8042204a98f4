package recorder

import (
	"fmt"
	"os"

	"github.com/c2h5oh/datasize"
	"go.uber.org/zap/zapcore"
	"gopkg.in/yaml.v3"
)

// Manifest is the declarative channel/registry bootstrap file this repo
// supplements over spec.md's distillation (see SPEC_FULL.md,
// "original_source/recorder.h"): instead of every channel being created
// imperatively at its first call site, an application can list its fixed
// channel set once and load it at startup, in the style of the teacher's
// controlplane/yncp.DefaultConfig()/LoadConfig(path).
type Manifest struct {
	// LogLevel is the minimum level the recorder's own diagnostics log at.
	LogLevel zapcore.Level `yaml:"log_level"`
	// Traces is an initial RECORDER_TRACES-style configuration string,
	// applied once after every listed channel and tweakable is created.
	Traces string `yaml:"traces"`
	// Channels lists the channels to create at startup.
	Channels []ChannelManifest `yaml:"channels"`
	// Tweakables lists the tweakables to create at startup, name to
	// initial value.
	Tweakables map[string]int64 `yaml:"tweakables"`
	// Export configures the optional shared-memory projection (package
	// shm); nil disables it.
	Export *ExportManifest `yaml:"export"`
}

// ChannelManifest is one entry of Manifest.Channels. SizeBytes is
// human-readable ("4MB") the way modules/pdump sizes its capture rings;
// it is converted to a record count by ResolveSize.
type ChannelManifest struct {
	Name        string              `yaml:"name"`
	Description string              `yaml:"description"`
	Unit        string              `yaml:"unit"`
	Min         float64             `yaml:"min"`
	Max         float64             `yaml:"max"`
	Kind        string              `yaml:"kind"` // "signed", "unsigned", "real", "none"
	SizeBytes   datasize.ByteSize   `yaml:"size"`
	Trace       bool                `yaml:"trace"`
	AlwaysOn    bool                `yaml:"always_on"`
}

// ExportManifest configures package shm's SharedExport.
type ExportManifest struct {
	Path string            `yaml:"path"`
	Size datasize.ByteSize `yaml:"size"`
}

// ParseKind maps a manifest's textual kind to a ValueKind.
func ParseKind(s string) (ValueKind, error) {
	switch s {
	case "", "none":
		return KindNone, nil
	case "invalid":
		return KindInvalid, nil
	case "signed":
		return KindSigned, nil
	case "unsigned":
		return KindUnsigned, nil
	case "real":
		return KindReal, nil
	default:
		return KindNone, fmt.Errorf("recorder: unknown value kind %q", s)
	}
}

// ResolveSize converts SizeBytes into a power-of-two record count for the
// given record size, rounding up.
func (m ChannelManifest) ResolveSize(recordSize uint64) uint64 {
	items := (uint64(m.SizeBytes) + recordSize - 1) / recordSize
	if items == 0 {
		items = 1
	}
	size := uint64(1)
	for size < items {
		size <<= 1
	}
	return size
}

// LoadManifest reads and parses a YAML manifest from path, following the
// teacher's LoadConfig(path) pattern.
func LoadManifest(path string) (*Manifest, error) {
	buf, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("recorder: read manifest: %w", err)
	}

	m := &Manifest{LogLevel: zapcore.InfoLevel}
	if err := yaml.Unmarshal(buf, m); err != nil {
		return nil, fmt.Errorf("recorder: parse manifest: %w", err)
	}
	return m, nil
}

// Apply creates every channel and tweakable listed in the manifest on r,
// then applies Traces. It stops at the first structural error (a bad
// kind name or a channel that fails to register); a malformed Traces
// clause does not stop Apply, per spec.md §7's InvalidConfiguration.
func (m *Manifest) Apply(r *Registry) error {
	for _, ch := range m.Channels {
		kind, err := ParseKind(ch.Kind)
		if err != nil {
			return fmt.Errorf("recorder: channel %q: %w", ch.Name, err)
		}
		recordSize := uint64(NumericRecordSize)
		if ch.Trace {
			recordSize = TraceRecordSize
		}
		if _, err := r.NewChannel(ChannelSpec{
			Name:        ch.Name,
			Description: ch.Description,
			Unit:        ch.Unit,
			Min:         ch.Min,
			Max:         ch.Max,
			Kind:        kind,
			Size:        ch.ResolveSize(recordSize),
			Trace:       ch.Trace,
			AlwaysOn:    ch.AlwaysOn,
		}); err != nil {
			return err
		}
	}

	for name, initial := range m.Tweakables {
		if _, err := r.NewTweakable(name, initial); err != nil {
			return err
		}
	}

	if m.Traces != "" {
		r.Configure(m.Traces)
	}

	return nil
}
