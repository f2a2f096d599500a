package config

import (
	"errors"
	"fmt"
	"os"
	"regexp"
	"strings"
	"sync"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v2"

	"github.com/jackzampolin/shrinkify/internal/providers"
)

// Manager handles loading and hot-reloading configuration.
type Manager struct {
	mu        sync.RWMutex
	v         *viper.Viper
	config    *Config
	callbacks []func(*Config)
}

// NewManager creates a new config manager and loads initial config.
func NewManager(cfgFile string) (*Manager, error) {
	cm := &Manager{
		v:         viper.New(),
		callbacks: make([]func(*Config), 0),
	}

	if err := cm.initViper(cfgFile); err != nil {
		return nil, err
	}

	cfg, err := cm.load()
	if err != nil {
		return nil, err
	}
	cm.config = cfg

	return cm, nil
}

// initViper sets up viper with defaults and config file.
func (cm *Manager) initViper(cfgFile string) error {
	v := cm.v
	d := DefaultConfig()

	// Leaf defaults so a partial section in the file does not wipe its siblings.
	v.SetDefault("warehouse.project", d.Warehouse.Project)
	v.SetDefault("warehouse.location", d.Warehouse.Location)
	v.SetDefault("model.name", d.Model.Name)
	v.SetDefault("model.location", d.Model.Location)
	v.SetDefault("model.output_format", d.Model.OutputFormat)
	v.SetDefault("pipeline.chunk_size", d.Pipeline.ChunkSize)
	v.SetDefault("pipeline.output_dataset", d.Pipeline.OutputDataset)
	v.SetDefault("pipeline.output_table", d.Pipeline.OutputTable)
	v.SetDefault("pipeline.sample_size", d.Pipeline.SampleSize)
	v.SetDefault("store.driver", d.Store.Driver)
	v.SetDefault("store.dsn", d.Store.DSN)
	v.SetDefault("store.debug", d.Store.Debug)
	v.SetDefault("store.container.container_name", d.Store.Container.ContainerName)
	v.SetDefault("store.container.image", d.Store.Container.Image)
	v.SetDefault("store.container.port", d.Store.Container.Port)
	v.SetDefault("store.container.password", d.Store.Container.Password)
	v.SetDefault("preview.default_provider", d.Preview.DefaultProvider)
	v.SetDefault("preview.providers", providerDefaults(d.Preview.Providers))

	// Environment variables with SHRINKIFY_ prefix, e.g. SHRINKIFY_PIPELINE_CHUNK_SIZE
	v.SetEnvPrefix("SHRINKIFY")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Config file
	if cfgFile != "" {
		v.SetConfigFile(cfgFile)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("$HOME/.shrinkify")
	}

	// Try to read config file (not required)
	if err := v.ReadInConfig(); err != nil {
		var configFileNotFoundError viper.ConfigFileNotFoundError
		if !errors.As(err, &configFileNotFoundError) {
			return fmt.Errorf("error reading config file: %w", err)
		}
	}

	return nil
}

// providerDefaults flattens provider structs so viper can merge them with file values.
func providerDefaults(in map[string]PreviewProviderCfg) map[string]any {
	out := make(map[string]any, len(in))
	for name, p := range in {
		out[name] = map[string]any{
			"type":       p.Type,
			"model":      p.Model,
			"api_key":    p.APIKey,
			"base_url":   p.BaseURL,
			"rate_limit": p.RateLimit,
			"enabled":    p.Enabled,
		}
	}
	return out
}

// load parses the current viper state into a Config struct.
func (cm *Manager) load() (*Config, error) {
	var cfg Config
	if err := cm.v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
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

// WatchConfig enables hot-reloading of configuration.
// An edit that fails validation keeps the previous config. Without a
// config file there is nothing to watch.
func (cm *Manager) WatchConfig() {
	if cm.v.ConfigFileUsed() == "" {
		return
	}
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

var envVarPattern = regexp.MustCompile(`\$\{([^}]+)\}`)

// ResolveEnvVars expands ${ENV_VAR} references in a string.
func ResolveEnvVars(value string) string {
	if value == "" {
		return value
	}
	return envVarPattern.ReplaceAllStringFunc(value, func(match string) string {
		varName := match[2 : len(match)-1]
		return os.Getenv(varName)
	})
}

// StoreDSN returns the configured state store DSN with env references resolved.
func (c *Config) StoreDSN() string {
	return ResolveEnvVars(c.Store.DSN)
}

// ToProviderRegistryConfig converts the config to a format suitable for providers.Registry.
// It resolves all ${ENV_VAR} references in API keys.
func (c *Config) ToProviderRegistryConfig() providers.RegistryConfig {
	cfg := providers.RegistryConfig{
		Project:  c.Warehouse.Project,
		Location: c.Model.Location,
		Clients:  make(map[string]providers.ClientConfig),
	}

	for name, p := range c.Preview.Providers {
		cfg.Clients[name] = providers.ClientConfig{
			Type:      p.Type,
			Model:     p.Model,
			APIKey:    ResolveEnvVars(p.APIKey),
			BaseURL:   p.BaseURL,
			RateLimit: p.RateLimit,
			Enabled:   p.Enabled,
		}
	}

	return cfg
}

// WriteDefault writes the default configuration to the specified path.
func WriteDefault(path string) error {
	cfg := DefaultConfig()
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	header := []byte(`# Shrinkify configuration
# API keys and DSNs use ${ENV_VAR} syntax to reference environment variables.
# Every key can be overridden with SHRINKIFY_<SECTION>_<KEY>, e.g. SHRINKIFY_PIPELINE_CHUNK_SIZE.

`)
	return os.WriteFile(path, append(header, data...), 0o644)
}
