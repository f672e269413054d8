package cli

import (
	"io"
	"os"

	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "sniffer",
	Short: "Lightweight call profiler with an asynchronous CSV trace log",
	Long: `Records one CSV row per instrumented call: caller, class, method,
begin and end timestamps, and duration. Instrumented code never blocks on
disk; when the writer falls behind, new calls are dropped and counted.`,
	SilenceUsage: true,
}

// Execute runs the root command.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func stdout(cmd *cobra.Command) io.Writer {
	if cmd == nil {
		return os.Stdout
	}
	return cmd.OutOrStdout()
}
