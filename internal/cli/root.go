package cli

import (
	"os"

	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "flowtrace",
	Short: "Record dataflow provenance graphs from script runs",
	Long: "Runs a script under instrumentation and records every value it creates,\n" +
		"reads, and mutates as an attributed dataflow graph: operations, immutable\n" +
		"value versions, and the edges connecting them.",
	SilenceUsage: true,
}

// Execute runs the root command. Command errors mean bad input or a
// failed recording environment, never a traced-program failure, so
// they map to exit code 2.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(2)
	}
}
