// Package cmd implements the taskloom CLI, a thin client of pkg/app and
// pkg/engine. Grounded on the teacher's cmd/root.go cobra wiring,
// trimmed to the three subcommands this spec names (serve/run/version)
// instead of the teacher's large command surface.
package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var cfgPath string

var rootCmd = &cobra.Command{
	Use:   "taskloom",
	Short: "Local agentic task runner for Markdown todo files",
	Long: `taskloom watches Markdown todo files, drives an LLM to produce
source edits for each pending task, applies them with backup and diff
discipline, and rewrites the todo file in place with run metrics.`,
}

// Execute runs the root command; called by main.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&cfgPath, "config", "c", "taskloom.yaml", "path to the YAML configuration file")
	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(versionCmd)
}
