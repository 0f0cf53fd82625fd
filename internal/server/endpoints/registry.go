package endpoints

import (
	"github.com/skeinlabs/skein/internal/api"
	"github.com/skeinlabs/skein/internal/docstore"
)

// Config holds dependencies needed by some endpoints.
type Config struct {
	DockerManager *docstore.DockerManager
}

// All returns all endpoint instances.
func All(cfg Config) []api.Endpoint {
	return []api.Endpoint{
		// Health endpoints
		&HealthEndpoint{},
		&ReadyEndpoint{},
		&StatusEndpoint{DockerManager: cfg.DockerManager},

		// Chapter endpoints
		&ChaptersIngestEndpoint{},
		&ChaptersProcessEndpoint{},
		&ChaptersStatusEndpoint{},
		&ChaptersContextEndpoint{},
		&ChaptersExtractionsEndpoint{},

		// Story endpoints
		&StoriesChaptersEndpoint{},
		&StoriesReprocessEndpoint{},

		// Job endpoints
		&JobsListEndpoint{},
		&JobsGetEndpoint{},
	}
}
