package providers

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"
)

// Registry holds the preview LLM clients by name.
// It is built from config and reloaded when the config file changes.
type Registry struct {
	mu      sync.RWMutex
	clients map[string]LLMClient
	configs map[string]ClientConfig
	logger  *slog.Logger
}

// NewRegistry creates a new empty provider registry.
func NewRegistry() *Registry {
	return &Registry{
		clients: make(map[string]LLMClient),
		configs: make(map[string]ClientConfig),
		logger:  slog.Default(),
	}
}

// SetLogger sets the logger for the registry.
func (r *Registry) SetLogger(logger *slog.Logger) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.logger = logger
}

// Register registers a client by name.
func (r *Registry) Register(name string, client LLMClient) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.clients[name] = client
	r.logger.Info("registered LLM client", "name", name)
}

// Get returns a client by name.
func (r *Registry) Get(name string) (LLMClient, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	client, ok := r.clients[name]
	if !ok {
		return nil, fmt.Errorf("LLM client not found: %s", name)
	}
	return client, nil
}

// List returns all registered client names, sorted.
func (r *Registry) List() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.clients))
	for name := range r.clients {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Has checks if a client is registered.
func (r *Registry) Has(name string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.clients[name]
	return ok
}

// RegistryConfig defines the clients to instantiate from config.
type RegistryConfig struct {
	// Project and Location are used by vertex clients without an API key.
	Project  string
	Location string
	Clients  map[string]ClientConfig
}

// ClientConfig matches config.PreviewProviderCfg with a resolved API key.
type ClientConfig struct {
	Type      string // "vertex", "openai"
	Model     string
	APIKey    string
	BaseURL   string
	RateLimit int // requests per minute
	Enabled   bool
}

// NewRegistryFromConfig creates a registry with the enabled clients.
func NewRegistryFromConfig(ctx context.Context, cfg RegistryConfig) *Registry {
	r := NewRegistry()
	r.Reload(ctx, cfg)
	return r
}

// Reload updates the registry based on new configuration.
// Clients no longer configured are dropped; changed clients are recreated.
func (r *Registry) Reload(ctx context.Context, cfg RegistryConfig) {
	r.mu.Lock()
	defer r.mu.Unlock()

	want := make(map[string]bool)
	for name, cc := range cfg.Clients {
		if !cc.Enabled {
			continue
		}
		want[name] = true

		old, hasExisting := r.configs[name]
		if hasExisting && old == cc {
			continue
		}
		client, err := createClient(ctx, cfg, cc)
		if err != nil {
			r.logger.Warn("failed to create LLM client", "name", name, "type", cc.Type, "error", err)
			continue
		}
		r.clients[name] = client
		r.configs[name] = cc
		if hasExisting {
			r.logger.Info("updated LLM client", "name", name, "type", cc.Type)
		} else {
			r.logger.Info("registered LLM client", "name", name, "type", cc.Type)
		}
	}

	for name := range r.clients {
		if !want[name] {
			delete(r.clients, name)
			delete(r.configs, name)
			r.logger.Info("unregistered LLM client", "name", name)
		}
	}
}

// createClient creates an LLM client based on provider type.
func createClient(ctx context.Context, rc RegistryConfig, cc ClientConfig) (LLMClient, error) {
	switch cc.Type {
	case "vertex", "genai":
		return NewGenAIClient(ctx, GenAIConfig{
			Project:      rc.Project,
			Location:     rc.Location,
			APIKey:       cc.APIKey,
			DefaultModel: cc.Model,
			RPM:          cc.RateLimit,
		})
	case "openai":
		if cc.APIKey == "" {
			return nil, fmt.Errorf("openai client requires an api key")
		}
		return NewOpenAIClient(OpenAIConfig{
			APIKey:       cc.APIKey,
			BaseURL:      cc.BaseURL,
			DefaultModel: cc.Model,
			RPM:          cc.RateLimit,
		}), nil
	case MockClientName:
		m := NewMockClient()
		if cc.RateLimit > 0 {
			m.RPM = cc.RateLimit
		}
		return m, nil
	default:
		return nil, fmt.Errorf("unknown provider type %q", cc.Type)
	}
}
