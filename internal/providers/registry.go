package providers

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"

	"github.com/skeinlabs/skein/internal/policy"
)

// Registry holds references to LLM clients. It supports config-driven
// instantiation and hot-reload, and provides thread-safe access.
type Registry struct {
	mu      sync.RWMutex
	clients map[string]LLMClient
	logger  *slog.Logger
}

// NewRegistry creates a new empty provider registry.
func NewRegistry() *Registry {
	return &Registry{
		clients: make(map[string]LLMClient),
		logger:  slog.Default(),
	}
}

// SetLogger sets the logger for the registry.
func (r *Registry) SetLogger(logger *slog.Logger) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.logger = logger
}

// Register registers an LLM client by name, replacing any previous client
// with the same name.
func (r *Registry) Register(name string, client LLMClient) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.clients[name] = client
	if r.logger != nil {
		r.logger.Info("registered LLM client", "name", name)
	}
}

// Unregister removes an LLM client by name.
func (r *Registry) Unregister(name string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.clients, name)
	if r.logger != nil {
		r.logger.Info("unregistered LLM client", "name", name)
	}
}

// Get returns an LLM client by name.
func (r *Registry) Get(name string) (LLMClient, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	client, ok := r.clients[name]
	if !ok {
		return nil, fmt.Errorf("LLM client not found: %s", name)
	}
	return client, nil
}

// Names returns the registered client names, sorted.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.clients))
	for name := range r.clients {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Client returns an LLMClient that resolves the named client from the
// registry on every call, so config hot-reloads take effect without
// rewiring the callers that hold it.
func (r *Registry) Client(name string) LLMClient {
	return &registryClient{registry: r, name: name}
}

type registryClient struct {
	registry *Registry
	name     string
}

func (c *registryClient) Name() string { return c.name }

func (c *registryClient) Complete(ctx context.Context, req *Request) (*Result, error) {
	client, err := c.registry.Get(c.name)
	if err != nil {
		return nil, policy.Fatal(err)
	}
	return client.Complete(ctx, req)
}

// RegistryConfig describes the clients to instantiate.
type RegistryConfig struct {
	OpenRouter *OpenRouterConfig
	OpenAI     *OpenAIConfig
	// RequestsPerMinute applies a token bucket to every instantiated
	// client. Zero disables rate limiting.
	RequestsPerMinute int
}

// BuildRegistry instantiates clients from config. Called at startup and
// again on config hot-reload, replacing the registry contents.
func (r *Registry) BuildRegistry(cfg RegistryConfig) {
	wrap := func(c LLMClient) LLMClient {
		if cfg.RequestsPerMinute > 0 {
			return WithRateLimit(c, cfg.RequestsPerMinute)
		}
		return c
	}

	if cfg.OpenRouter != nil && cfg.OpenRouter.APIKey != "" {
		r.Register(OpenRouterName, wrap(NewOpenRouterClient(*cfg.OpenRouter)))
	} else {
		r.Unregister(OpenRouterName)
	}

	if cfg.OpenAI != nil && cfg.OpenAI.APIKey != "" {
		r.Register(OpenAIName, wrap(NewOpenAIClient(*cfg.OpenAI)))
	} else {
		r.Unregister(OpenAIName)
	}
}
