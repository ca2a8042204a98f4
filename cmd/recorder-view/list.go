package main

import (
	"fmt"
	"text/tabwriter"

	"os"

	"github.com/spf13/cobra"

	"github.com/taodyne/recorder/pkg/shm"
)

var listCmdArgs struct {
	ExportPath string
}

var listCmd = &cobra.Command{
	Use:   "list",
	Short: "List the channels published in a shared-memory export",
	RunE: func(_ *cobra.Command, _ []string) error {
		return runList(listCmdArgs.ExportPath)
	},
}

func init() {
	listCmd.Flags().StringVarP(&listCmdArgs.ExportPath, "export", "e", "", "Path to the export file (required)")
	listCmd.MarkFlagRequired("export")
}

func runList(path string) error {
	r, err := shm.Open(path)
	if err != nil {
		return fmt.Errorf("open export: %w", err)
	}
	defer r.Close()

	channels, err := r.Channels()
	if err != nil {
		return fmt.Errorf("decode channels: %w", err)
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "NAME\tKIND\tUNIT\tSIZE\tOVERFLOW\tDESCRIPTION")
	for _, c := range channels {
		fmt.Fprintf(w, "%s\t%s\t%s\t%d\t%d\t%s\n", c.Name, c.Kind, c.Unit, c.Buffer().Size(), c.Buffer().Overflow(), c.Description)
	}
	return w.Flush()
}
