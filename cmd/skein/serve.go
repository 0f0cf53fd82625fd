package main

import (
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/skeinlabs/skein/internal/config"
	"github.com/skeinlabs/skein/internal/home"
	"github.com/skeinlabs/skein/internal/server"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the Skein server",
	Long: `Start the Skein HTTP server.

This starts the HTTP API server and, when docstore.manage is enabled,
the document store container. When the server shuts down (via Ctrl+C
or SIGTERM), the container is also stopped.

The server provides:
  - /health - Basic server health check
  - /ready  - Readiness check (includes document store status)
  - /v1/... - Chapter, story, and job endpoints

Host and port come from the config file (server.host / server.port)
and can be overridden with SKEIN_SERVER_HOST / SKEIN_SERVER_PORT.

Examples:
  skein serve                       # Start with defaults (port 8585)
  skein serve --config ./dev.yaml   # Start with a custom config file`,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		// Set up logger
		logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{
			Level: slog.LevelInfo,
		}))

		// Get home directory
		h, err := home.New(homeDir)
		if err != nil {
			return err
		}
		if err := h.EnsureExists(); err != nil {
			return err
		}

		// Load config with hot-reload support
		mgr, err := config.NewManager(cfgFile, h.Path())
		if err != nil {
			return err
		}
		mgr.WatchConfig()

		// Create server
		srv, err := server.New(server.Config{
			ConfigManager: mgr,
			Home:          h,
			Logger:        logger,
		})
		if err != nil {
			return err
		}

		// Start server (blocks until shutdown)
		return srv.Start(ctx)
	},
}

func init() {
	rootCmd.AddCommand(serveCmd)
}
