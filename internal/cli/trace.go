package cli

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/ppiankov/sniffer/internal/csvlog"
)

var tailLines int

func init() {
	rootCmd.AddCommand(verifyCmd)
	rootCmd.AddCommand(tailCmd)
	tailCmd.Flags().IntVarP(&tailLines, "lines", "n", 10, "Number of recent rows to show")
}

var verifyCmd = &cobra.Command{
	Use:   "verify <path>",
	Short: "Check that a trace file is well formed",
	Long: `Checks the header line, the column count of every row, the timestamp
format, and that time_taken agrees with end_time - begin_time.
Exits 0 if valid, 1 otherwise.`,
	Args: cobra.ExactArgs(1),
	RunE: runVerify,
}

var tailCmd = &cobra.Command{
	Use:   "tail <path>",
	Short: "Show the most recent rows of a trace file",
	Args:  cobra.ExactArgs(1),
	RunE:  runTail,
}

func runVerify(cmd *cobra.Command, args []string) error {
	result := csvlog.Verify(args[0])
	if result.Valid {
		fmt.Fprintf(stdout(cmd), "OK: %d rows verified\n", result.Rows)
		return nil
	}
	fmt.Fprintf(os.Stderr, "FAILED at line %d: %s\n", result.ErrorLine, result.Error)
	os.Exit(1)
	return nil
}

func runTail(cmd *cobra.Command, args []string) error {
	rows, err := csvlog.Tail(args[0], tailLines)
	if err != nil {
		return fmt.Errorf("read trace file: %w", err)
	}
	w := stdout(cmd)
	for _, row := range rows {
		fmt.Fprintln(w, row)
	}
	return nil
}
