// Package svcctx provides service context for dependency injection via context.
// This package is separate from server to avoid import cycles with endpoints.
package svcctx

import (
	"context"
	"log/slog"

	"github.com/skeinlabs/skein/internal/config"
	"github.com/skeinlabs/skein/internal/docstore"
	"github.com/skeinlabs/skein/internal/home"
	"github.com/skeinlabs/skein/internal/jobs"
	"github.com/skeinlabs/skein/internal/pipeline"
	"github.com/skeinlabs/skein/internal/providers"
	"github.com/skeinlabs/skein/internal/relstore"
)

// Services holds all core services that flow through context.
// Components extract what they need via the individual extractors.
type Services struct {
	DocStore   *docstore.Client
	Sink       *docstore.Sink
	RelStore   *relstore.Store
	Runner     *pipeline.Runner
	Tracker    *pipeline.Tracker
	JobManager *jobs.Manager
	Registry   *providers.Registry
	Config     *config.Manager
	Logger     *slog.Logger
	Home       *home.Dir
}

type servicesKey struct{}

// WithServices returns a new context with services attached.
func WithServices(ctx context.Context, s *Services) context.Context {
	return context.WithValue(ctx, servicesKey{}, s)
}

// ServicesFrom extracts the full Services struct from context.
// Returns nil if not present.
func ServicesFrom(ctx context.Context) *Services {
	s, _ := ctx.Value(servicesKey{}).(*Services)
	return s
}

// DocStoreFrom extracts the document store client from context.
func DocStoreFrom(ctx context.Context) *docstore.Client {
	if s := ServicesFrom(ctx); s != nil {
		return s.DocStore
	}
	return nil
}

// SinkFrom extracts the document store write sink from context.
func SinkFrom(ctx context.Context) *docstore.Sink {
	if s := ServicesFrom(ctx); s != nil {
		return s.Sink
	}
	return nil
}

// RelStoreFrom extracts the relational store from context.
func RelStoreFrom(ctx context.Context) *relstore.Store {
	if s := ServicesFrom(ctx); s != nil {
		return s.RelStore
	}
	return nil
}

// RunnerFrom extracts the pipeline runner from context.
func RunnerFrom(ctx context.Context) *pipeline.Runner {
	if s := ServicesFrom(ctx); s != nil {
		return s.Runner
	}
	return nil
}

// TrackerFrom extracts the pipeline tracker from context.
func TrackerFrom(ctx context.Context) *pipeline.Tracker {
	if s := ServicesFrom(ctx); s != nil {
		return s.Tracker
	}
	return nil
}

// JobManagerFrom extracts the job manager from context.
func JobManagerFrom(ctx context.Context) *jobs.Manager {
	if s := ServicesFrom(ctx); s != nil {
		return s.JobManager
	}
	return nil
}

// RegistryFrom extracts the provider registry from context.
func RegistryFrom(ctx context.Context) *providers.Registry {
	if s := ServicesFrom(ctx); s != nil {
		return s.Registry
	}
	return nil
}

// ConfigFrom extracts the config manager from context.
func ConfigFrom(ctx context.Context) *config.Manager {
	if s := ServicesFrom(ctx); s != nil {
		return s.Config
	}
	return nil
}

// LoggerFrom extracts the logger from context.
func LoggerFrom(ctx context.Context) *slog.Logger {
	if s := ServicesFrom(ctx); s != nil {
		return s.Logger
	}
	return nil
}

// HomeFrom extracts the home directory from context.
func HomeFrom(ctx context.Context) *home.Dir {
	if s := ServicesFrom(ctx); s != nil {
		return s.Home
	}
	return nil
}
