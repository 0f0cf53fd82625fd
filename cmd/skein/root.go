package main

import (
	"github.com/spf13/cobra"

	"github.com/skeinlabs/skein/internal/api"
	"github.com/skeinlabs/skein/version"
)

var (
	cfgFile      string
	homeDir      string
	outputFormat string
)

var rootCmd = &cobra.Command{
	Use:   "skein",
	Short: "Narrative context pipeline with LLM-powered chapter extraction",
	Long: `Skein processes story chapters into structured narrative context
using LLM-powered extraction and synthesis.

The pipeline includes:
  - Concurrent extraction of characters, plot, world, and structure
  - Synthesis of accumulated story context across chapters
  - Dual-store checkpointing (document store + relational index)
  - Schema-validated LLM output with retry and backoff`,
	Version: version.GitRelease,
}

func init() {
	rootCmd.PersistentFlags().StringVar(
		&cfgFile, "config", "", "config file (default: ./config.yaml or ~/.skein/config.yaml)",
	)
	rootCmd.PersistentFlags().StringVar(
		&homeDir, "home", "", "skein home directory (default: ~/.skein)",
	)
	rootCmd.PersistentFlags().StringVarP(
		&outputFormat, "output", "o", "yaml", "output format: yaml or json",
	)

	// Set output format before any command runs
	rootCmd.PersistentPreRun = func(cmd *cobra.Command, args []string) {
		api.SetOutputFormat(outputFormat)
	}

	rootCmd.AddCommand(versionCmd)
}
