package cli

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/ppiankov/sniffer/internal/config"
)

var (
	initPath  string
	initForce bool
)

func init() {
	initCmd.Flags().StringVar(&initPath, "path", config.DefaultPath, "Where to write the config file")
	initCmd.Flags().BoolVar(&initForce, "force", false, "Overwrite an existing config file")
	rootCmd.AddCommand(initCmd)
}

var initCmd = &cobra.Command{
	Use:   "init",
	Short: "Generate a default sniffer.yaml with comments",
	Long: `Writes a config file with every key at its built-in value.
Point the agent at it with config=<path>; packages and filter are
re-read whenever the file changes.`,
	RunE: runInit,
}

func runInit(cmd *cobra.Command, args []string) error {
	if _, err := os.Stat(initPath); err == nil && !initForce {
		return fmt.Errorf("%s already exists (use --force to overwrite)", initPath)
	}
	if dir := filepath.Dir(initPath); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create config directory: %w", err)
		}
	}
	if err := os.WriteFile(initPath, []byte(config.DefaultConfigYAML()), 0o644); err != nil {
		return fmt.Errorf("write config: %w", err)
	}
	fmt.Fprintf(stdout(cmd), "Created %s\n", initPath)
	return nil
}
