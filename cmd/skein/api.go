package main

import (
	"github.com/spf13/cobra"

	"github.com/skeinlabs/skein/internal/server/endpoints"
)

var serverURL string

var apiCmd = &cobra.Command{
	Use:   "api",
	Short: "Commands that call the running server",
	Long: `API commands call the running Skein server via HTTP.

These commands require a running server (skein serve).
Use --server to specify a custom server URL.

Examples:
  skein api health                   # Check server health
  skein api chapters ingest ch1.txt  # Ingest a chapter body
  skein api chapters process <id>    # Run the pipeline on a chapter
  skein api jobs list                # List pipeline jobs`,
}

var chaptersCmd = &cobra.Command{
	Use:   "chapters",
	Short: "Chapter management commands",
}

var storiesCmd = &cobra.Command{
	Use:   "stories",
	Short: "Story management commands",
}

var jobsCmd = &cobra.Command{
	Use:   "jobs",
	Short: "Job history commands",
}

// getServerURL returns the server URL at runtime (after flag parsing).
func getServerURL() string {
	return serverURL
}

func init() {
	// Add --server flag to api command (persistent so all subcommands inherit it)
	apiCmd.PersistentFlags().StringVar(
		&serverURL, "server", "http://localhost:8585", "Server URL",
	)

	// Health endpoints at top level of api
	apiCmd.AddCommand((&endpoints.HealthEndpoint{}).Command(getServerURL))
	apiCmd.AddCommand((&endpoints.ReadyEndpoint{}).Command(getServerURL))
	apiCmd.AddCommand((&endpoints.StatusEndpoint{}).Command(getServerURL))

	// Chapters as subcommand group
	chaptersCmd.AddCommand((&endpoints.ChaptersIngestEndpoint{}).Command(getServerURL))
	chaptersCmd.AddCommand((&endpoints.ChaptersProcessEndpoint{}).Command(getServerURL))
	chaptersCmd.AddCommand((&endpoints.ChaptersStatusEndpoint{}).Command(getServerURL))
	chaptersCmd.AddCommand((&endpoints.ChaptersContextEndpoint{}).Command(getServerURL))
	chaptersCmd.AddCommand((&endpoints.ChaptersExtractionsEndpoint{}).Command(getServerURL))

	// Stories as subcommand group
	storiesCmd.AddCommand((&endpoints.StoriesChaptersEndpoint{}).Command(getServerURL))
	storiesCmd.AddCommand((&endpoints.StoriesReprocessEndpoint{}).Command(getServerURL))

	// Jobs as subcommand group
	jobsCmd.AddCommand((&endpoints.JobsGetEndpoint{}).Command(getServerURL))
	jobsCmd.AddCommand((&endpoints.JobsListEndpoint{}).Command(getServerURL))

	apiCmd.AddCommand(chaptersCmd)
	apiCmd.AddCommand(storiesCmd)
	apiCmd.AddCommand(jobsCmd)
	rootCmd.AddCommand(apiCmd)
}
