package api

import "net/http"

// Registry collects the endpoints exposed by the server. Handlers for
// endpoints that need the stores and pipeline are wrapped in the init
// middleware at registration time.
type Registry struct {
	endpoints []Endpoint
}

func NewRegistry() *Registry {
	return &Registry{}
}

// Register adds an endpoint to the registry.
func (r *Registry) Register(ep Endpoint) {
	r.endpoints = append(r.endpoints, ep)
}

// RegisterRoutes installs every endpoint on the mux using Go 1.22
// method-qualified patterns ("POST /v1/chapters/{id}/process").
func (r *Registry) RegisterRoutes(mux *http.ServeMux, initMiddleware func(http.HandlerFunc) http.HandlerFunc) {
	for _, ep := range r.endpoints {
		method, path, handler := ep.Route()
		if ep.RequiresInit() {
			handler = initMiddleware(handler)
		}
		mux.HandleFunc(method+" "+path, handler)
	}
}

// Endpoints returns all registered endpoints.
func (r *Registry) Endpoints() []Endpoint {
	return r.endpoints
}
