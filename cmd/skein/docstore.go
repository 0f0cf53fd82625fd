package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/skeinlabs/skein/internal/docstore"
	"github.com/skeinlabs/skein/internal/home"
)

var docstoreCmd = &cobra.Command{
	Use:   "docstore",
	Short: "Manage the document store container",
	Long: `Manage the DefraDB document store container lifecycle.

The document store holds extraction payloads and synthesized chapter
context. The database runs in a Docker container with data persisted
to ~/.skein/data/docstore/.

Examples:
  skein docstore start   # Start the container
  skein docstore stop    # Stop the container (data preserved)
  skein docstore status  # Check container status
  skein docstore logs    # View container logs`,
}

var docstoreStartCmd = &cobra.Command{
	Use:   "start",
	Short: "Start the document store container",
	Long: `Start the document store container.

If the container doesn't exist, it will be created and started.
If it exists but is stopped, it will be started.
If it's already running, this is a no-op.

Data is persisted to ~/.skein/data/docstore/.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		mgr, err := getDockerManager()
		if err != nil {
			return err
		}
		defer mgr.Close()

		fmt.Println("Starting document store...")
		if err := mgr.Start(ctx); err != nil {
			return fmt.Errorf("failed to start document store: %w", err)
		}

		fmt.Printf("Document store is running at %s\n", mgr.URL())
		return nil
	},
}

var docstoreStopCmd = &cobra.Command{
	Use:   "stop",
	Short: "Stop the document store container",
	Long: `Stop the document store container.

This stops the container but preserves data. Use 'skein docstore start'
to restart it later.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		mgr, err := getDockerManager()
		if err != nil {
			return err
		}
		defer mgr.Close()

		fmt.Println("Stopping document store...")
		if err := mgr.Stop(ctx); err != nil {
			return fmt.Errorf("failed to stop document store: %w", err)
		}

		fmt.Println("Document store stopped")
		return nil
	},
}

var docstoreStatusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show document store container status",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		mgr, err := getDockerManager()
		if err != nil {
			return err
		}
		defer mgr.Close()

		status, err := mgr.Status(ctx)
		if err != nil {
			return fmt.Errorf("failed to get status: %w", err)
		}

		switch status {
		case docstore.StatusRunning:
			fmt.Printf("Status: %s\n", status)
			fmt.Printf("URL: %s\n", mgr.URL())

			// Try health check
			client := docstore.NewClient(mgr.URL())
			if err := client.HealthCheck(ctx); err != nil {
				fmt.Printf("Health: unhealthy (%v)\n", err)
			} else {
				fmt.Println("Health: healthy")
			}
		case docstore.StatusStopped:
			fmt.Printf("Status: %s (use 'skein docstore start' to start)\n", status)
		case docstore.StatusNotFound:
			fmt.Printf("Status: %s (use 'skein docstore start' to create)\n", status)
		default:
			fmt.Printf("Status: %s\n", status)
		}

		return nil
	},
}

var logsTail string

var docstoreLogsCmd = &cobra.Command{
	Use:   "logs",
	Short: "Show document store container logs",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		mgr, err := getDockerManager()
		if err != nil {
			return err
		}
		defer mgr.Close()

		logs, err := mgr.Logs(ctx, logsTail)
		if err != nil {
			return fmt.Errorf("failed to get logs: %w", err)
		}

		fmt.Print(logs)
		return nil
	},
}

var docstoreRemoveCmd = &cobra.Command{
	Use:   "remove",
	Short: "Remove the document store container",
	Long: `Remove the document store container.

This stops and removes the container. Data in ~/.skein/data/docstore/
is NOT deleted - only the container is removed.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		mgr, err := getDockerManager()
		if err != nil {
			return err
		}
		defer mgr.Close()

		fmt.Println("Removing document store container...")
		if err := mgr.Remove(ctx); err != nil {
			return fmt.Errorf("failed to remove container: %w", err)
		}

		fmt.Println("Document store container removed (data preserved)")
		return nil
	},
}

var docstoreWaitCmd = &cobra.Command{
	Use:   "wait",
	Short: "Wait for the document store to be ready",
	Long: `Wait for the document store to be ready to accept connections.

This is useful in scripts to ensure the store is fully started
before running other commands.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		mgr, err := getDockerManager()
		if err != nil {
			return err
		}
		defer mgr.Close()

		timeout, _ := cmd.Flags().GetDuration("timeout")
		fmt.Printf("Waiting for document store (timeout: %s)...\n", timeout)

		if err := mgr.WaitReady(ctx, timeout); err != nil {
			return fmt.Errorf("document store not ready: %w", err)
		}

		fmt.Println("Document store is ready")
		return nil
	},
}

func init() {
	docstoreCmd.AddCommand(docstoreStartCmd)
	docstoreCmd.AddCommand(docstoreStopCmd)
	docstoreCmd.AddCommand(docstoreStatusCmd)
	docstoreCmd.AddCommand(docstoreLogsCmd)
	docstoreCmd.AddCommand(docstoreRemoveCmd)
	docstoreCmd.AddCommand(docstoreWaitCmd)

	docstoreLogsCmd.Flags().StringVar(&logsTail, "tail", "100", "Number of lines to show from the end")
	docstoreWaitCmd.Flags().Duration("timeout", 30*time.Second, "Timeout waiting for the document store")

	rootCmd.AddCommand(docstoreCmd)
}

// getHome returns the home directory manager.
func getHome() (*home.Dir, error) {
	h, err := home.New(homeDir)
	if err != nil {
		return nil, err
	}
	if err := h.EnsureExists(); err != nil {
		return nil, fmt.Errorf("failed to create home directory: %w", err)
	}
	return h, nil
}

// getDockerManager creates a DockerManager with the standard config.
func getDockerManager() (*docstore.DockerManager, error) {
	h, err := getHome()
	if err != nil {
		return nil, err
	}
	return docstore.NewDockerManager(docstore.DockerConfig{
		DataPath: h.DocStorePath(),
	})
}
