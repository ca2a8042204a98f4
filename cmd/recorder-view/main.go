// Command recorder-view is the headless reader-client of spec.md §1/§6:
// it opens an already-exported shared-memory region from outside the
// writing process and lists, tails, or configures it, exercising
// pkg/shm.Reader with no IPC round-trip to the writer.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "recorder-view",
	Short: "Inspect a recorder shared-memory export from outside the writing process",
}

func init() {
	rootCmd.AddCommand(listCmd)
	rootCmd.AddCommand(tailCmd)
	rootCmd.AddCommand(configCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "ERROR: %v\n", err)
		os.Exit(1)
	}
}
