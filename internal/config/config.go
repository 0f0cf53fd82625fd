// Package config handles loading and hot-reloading configuration from a
// YAML file plus SKEIN_-prefixed environment variables.
package config

import (
	"errors"
	"fmt"
	"os"
	"regexp"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v2"

	"github.com/skeinlabs/skein/internal/policy"
	"github.com/skeinlabs/skein/internal/providers"
)

// Config is the full runtime configuration.
type Config struct {
	Server    ServerConfig    `mapstructure:"server" yaml:"server"`
	Providers ProvidersConfig `mapstructure:"providers" yaml:"providers"`
	Pipeline  PipelineConfig  `mapstructure:"pipeline" yaml:"pipeline"`
	Docstore  DocstoreConfig  `mapstructure:"docstore" yaml:"docstore"`
}

// ServerConfig configures the HTTP API.
type ServerConfig struct {
	Host string `mapstructure:"host" yaml:"host"`
	Port int    `mapstructure:"port" yaml:"port"`
}

// ProvidersConfig configures the language-service clients.
type ProvidersConfig struct {
	Default           string         `mapstructure:"default" yaml:"default"`
	RequestsPerMinute int            `mapstructure:"requests_per_minute" yaml:"requests_per_minute"`
	OpenRouter        ProviderConfig `mapstructure:"openrouter" yaml:"openrouter"`
	OpenAI            ProviderConfig `mapstructure:"openai" yaml:"openai"`
}

// ProviderConfig configures one language-service client. API keys use
// ${ENV_VAR} syntax and are resolved at registry build time.
type ProviderConfig struct {
	APIKey string `mapstructure:"api_key" yaml:"api_key"`
	Model  string `mapstructure:"model" yaml:"model"`
}

// PipelineConfig bounds chapter processing.
type PipelineConfig struct {
	Extraction policy.Policy `mapstructure:"extraction" yaml:"extraction"`
	Synthesis  policy.Policy `mapstructure:"synthesis" yaml:"synthesis"`

	// FlowTimeout is the wall-clock ceiling for one chapter run.
	FlowTimeout time.Duration `mapstructure:"flow_timeout" yaml:"flow_timeout"`

	// MaxSynthesisChars bounds the condensed context carried forward.
	MaxSynthesisChars int `mapstructure:"max_synthesis_chars" yaml:"max_synthesis_chars"`
}

// DocstoreConfig locates the document store.
type DocstoreConfig struct {
	URL string `mapstructure:"url" yaml:"url"`

	// Manage starts and supervises the store container locally.
	Manage bool `mapstructure:"manage" yaml:"manage"`
}

// DefaultConfig returns the built-in defaults.
func DefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Host: "127.0.0.1",
			Port: 8585,
		},
		Providers: ProvidersConfig{
			Default:           providers.OpenRouterName,
			RequestsPerMinute: 60,
			OpenRouter: ProviderConfig{
				APIKey: "${OPENROUTER_API_KEY}",
				Model:  "anthropic/claude-3.5-sonnet",
			},
			OpenAI: ProviderConfig{
				APIKey: "${OPENAI_API_KEY}",
				Model:  "gpt-4o",
			},
		},
		Pipeline: PipelineConfig{
			Extraction: policy.Policy{
				MaxAttempts:    3,
				Backoff:        []time.Duration{10 * time.Second, 30 * time.Second},
				AttemptTimeout: 180 * time.Second,
			},
			Synthesis: policy.Policy{
				MaxAttempts:    3,
				Backoff:        []time.Duration{10 * time.Second, 30 * time.Second},
				AttemptTimeout: 120 * time.Second,
			},
			FlowTimeout:       30 * time.Minute,
			MaxSynthesisChars: 10000,
		},
		Docstore: DocstoreConfig{
			URL:    "http://localhost:9181",
			Manage: true,
		},
	}
}

// Manager handles loading and hot-reloading configuration.
type Manager struct {
	mu        sync.RWMutex
	v         *viper.Viper
	config    *Config
	callbacks []func(*Config)
}

// NewManager creates a config manager and loads the initial config.
// cfgFile may be empty, in which case config.yaml is searched in the
// working directory and the skein home.
func NewManager(cfgFile, homeDir string) (*Manager, error) {
	cm := &Manager{v: viper.New()}

	if err := cm.initViper(cfgFile, homeDir); err != nil {
		return nil, err
	}

	cfg, err := cm.load()
	if err != nil {
		return nil, err
	}
	cm.config = cfg

	return cm, nil
}

func (cm *Manager) initViper(cfgFile, homeDir string) error {
	// Defaults are set per leaf key so a partial config file merges with
	// them instead of shadowing whole sections.
	d := DefaultConfig()
	cm.v.SetDefault("server.host", d.Server.Host)
	cm.v.SetDefault("server.port", d.Server.Port)
	cm.v.SetDefault("providers.default", d.Providers.Default)
	cm.v.SetDefault("providers.requests_per_minute", d.Providers.RequestsPerMinute)
	cm.v.SetDefault("providers.openrouter.api_key", d.Providers.OpenRouter.APIKey)
	cm.v.SetDefault("providers.openrouter.model", d.Providers.OpenRouter.Model)
	cm.v.SetDefault("providers.openai.api_key", d.Providers.OpenAI.APIKey)
	cm.v.SetDefault("providers.openai.model", d.Providers.OpenAI.Model)
	cm.v.SetDefault("pipeline.extraction.max_attempts", d.Pipeline.Extraction.MaxAttempts)
	cm.v.SetDefault("pipeline.extraction.backoff", d.Pipeline.Extraction.Backoff)
	cm.v.SetDefault("pipeline.extraction.attempt_timeout", d.Pipeline.Extraction.AttemptTimeout)
	cm.v.SetDefault("pipeline.synthesis.max_attempts", d.Pipeline.Synthesis.MaxAttempts)
	cm.v.SetDefault("pipeline.synthesis.backoff", d.Pipeline.Synthesis.Backoff)
	cm.v.SetDefault("pipeline.synthesis.attempt_timeout", d.Pipeline.Synthesis.AttemptTimeout)
	cm.v.SetDefault("pipeline.flow_timeout", d.Pipeline.FlowTimeout)
	cm.v.SetDefault("pipeline.max_synthesis_chars", d.Pipeline.MaxSynthesisChars)
	cm.v.SetDefault("docstore.url", d.Docstore.URL)
	cm.v.SetDefault("docstore.manage", d.Docstore.Manage)

	cm.v.SetEnvPrefix("SKEIN")
	cm.v.AutomaticEnv()

	if cfgFile != "" {
		cm.v.SetConfigFile(cfgFile)
	} else {
		cm.v.SetConfigName("config")
		cm.v.SetConfigType("yaml")
		cm.v.AddConfigPath(".")
		if homeDir != "" {
			cm.v.AddConfigPath(homeDir)
		}
	}

	// The config file is optional; defaults plus env cover everything.
	if err := cm.v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) && !os.IsNotExist(err) {
			return fmt.Errorf("error reading config file: %w", err)
		}
	}

	return nil
}

func (cm *Manager) load() (*Config, error) {
	var cfg Config
	if err := cm.v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	if err := cfg.Pipeline.Extraction.Validate(); err != nil {
		return nil, fmt.Errorf("pipeline.extraction: %w", err)
	}
	if err := cfg.Pipeline.Synthesis.Validate(); err != nil {
		return nil, fmt.Errorf("pipeline.synthesis: %w", err)
	}
	return &cfg, nil
}

// Get returns the current configuration (thread-safe).
func (cm *Manager) Get() *Config {
	cm.mu.RLock()
	defer cm.mu.RUnlock()
	return cm.config
}

// OnChange registers a callback for config changes.
func (cm *Manager) OnChange(fn func(*Config)) {
	cm.mu.Lock()
	defer cm.mu.Unlock()
	cm.callbacks = append(cm.callbacks, fn)
}

// WatchConfig enables hot-reloading of configuration. A reload that
// fails validation keeps the previous config.
func (cm *Manager) WatchConfig() {
	cm.v.OnConfigChange(func(e fsnotify.Event) {
		cfg, err := cm.load()
		if err != nil {
			return
		}

		cm.mu.Lock()
		cm.config = cfg
		callbacks := make([]func(*Config), len(cm.callbacks))
		copy(callbacks, cm.callbacks)
		cm.mu.Unlock()

		for _, fn := range callbacks {
			fn(cfg)
		}
	})
	cm.v.WatchConfig()
}

// ResolveEnvVars expands ${ENV_VAR} references in a string.
func ResolveEnvVars(value string) string {
	if value == "" {
		return value
	}
	pattern := regexp.MustCompile(`\$\{([^}]+)\}`)
	return pattern.ReplaceAllStringFunc(value, func(match string) string {
		return os.Getenv(match[2 : len(match)-1])
	})
}

// ToRegistryConfig converts the provider section into registry input,
// resolving all ${ENV_VAR} references in API keys.
func (c *Config) ToRegistryConfig() providers.RegistryConfig {
	return providers.RegistryConfig{
		RequestsPerMinute: c.Providers.RequestsPerMinute,
		OpenRouter: &providers.OpenRouterConfig{
			APIKey:       ResolveEnvVars(c.Providers.OpenRouter.APIKey),
			DefaultModel: c.Providers.OpenRouter.Model,
		},
		OpenAI: &providers.OpenAIConfig{
			APIKey:       ResolveEnvVars(c.Providers.OpenAI.APIKey),
			DefaultModel: c.Providers.OpenAI.Model,
		},
	}
}

// DefaultModel returns the model configured for the default provider.
func (c *Config) DefaultModel() string {
	switch c.Providers.Default {
	case providers.OpenAIName:
		return c.Providers.OpenAI.Model
	default:
		return c.Providers.OpenRouter.Model
	}
}

// WriteDefault writes the default configuration to the specified path.
func WriteDefault(path string) error {
	cfg := DefaultConfig()
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	header := []byte(`# Skein configuration
# API keys use ${ENV_VAR} syntax to reference environment variables
# Set these in your shell: export OPENROUTER_API_KEY=xxx OPENAI_API_KEY=xxx

`)
	return os.WriteFile(path, append(header, data...), 0o644)
}
