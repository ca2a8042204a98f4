package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/taodyne/recorder/pkg/shm"
)

var configCmdArgs struct {
	ExportPath string
}

var configCmd = &cobra.Command{
	Use:   "push-config <traces-string>",
	Short: "Write a RECORDER_TRACES-style configuration string into the export's configuration channel",
	Args:  cobra.ExactArgs(1),
	RunE: func(_ *cobra.Command, args []string) error {
		return runPushConfig(configCmdArgs.ExportPath, args[0])
	},
}

func init() {
	configCmd.Flags().StringVarP(&configCmdArgs.ExportPath, "export", "e", "", "Path to the export file (required)")
	configCmd.MarkFlagRequired("export")
}

func runPushConfig(path, traces string) error {
	r, err := shm.Open(path)
	if err != nil {
		return fmt.Errorf("open export: %w", err)
	}
	defer r.Close()

	return r.PushConfig(traces)
}
