package api

import (
	"net/http"

	"github.com/spf13/cobra"
)

// Endpoint is one API operation, described once and surfaced twice:
// as an HTTP route on the server and as a CLI command that calls it.
type Endpoint interface {
	// Route returns the HTTP method, path pattern, and handler.
	Route() (method, path string, handler http.HandlerFunc)

	// RequiresInit reports whether the handler needs the stores and
	// pipeline to be ready. Handlers that do are gated behind the
	// server's init middleware.
	RequiresInit() bool

	// Command returns the cobra command that calls this endpoint over
	// HTTP. getServerURL is deferred so the --server flag is read after
	// parsing.
	Command(getServerURL func() string) *cobra.Command
}
