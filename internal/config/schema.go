package config

import (
	"errors"
	"fmt"

	"github.com/jackzampolin/shrinkify/internal/predict"
)

// ErrInvalid is returned by Validate for unusable configuration.
var ErrInvalid = errors.New("invalid config")

// Config holds shrinkify server configuration.
// Stored at: {home}/config.yaml
type Config struct {
	Warehouse WarehouseCfg `mapstructure:"warehouse" yaml:"warehouse"`
	Model     ModelCfg     `mapstructure:"model" yaml:"model"`
	Pipeline  PipelineCfg  `mapstructure:"pipeline" yaml:"pipeline"`
	Store     StoreCfg     `mapstructure:"store" yaml:"store"`
	Preview   PreviewCfg   `mapstructure:"preview" yaml:"preview"`
}

// WarehouseCfg selects the BigQuery project holding source and output tables.
type WarehouseCfg struct {
	Project  string `mapstructure:"project" yaml:"project"`   // empty = detect from credentials
	Location string `mapstructure:"location" yaml:"location"` // location for the output dataset
}

// ModelCfg configures the batch prediction model.
type ModelCfg struct {
	Name         string `mapstructure:"name" yaml:"name"`
	Location     string `mapstructure:"location" yaml:"location"`
	OutputFormat string `mapstructure:"output_format" yaml:"output_format"` // "gemini"
}

// PipelineCfg holds the chunking constants and output naming.
type PipelineCfg struct {
	ChunkSize     int    `mapstructure:"chunk_size" yaml:"chunk_size"`
	OutputDataset string `mapstructure:"output_dataset" yaml:"output_dataset"`
	OutputTable   string `mapstructure:"output_table" yaml:"output_table"`
	SampleSize    int    `mapstructure:"sample_size" yaml:"sample_size"`
}

// StoreCfg selects the cascade state store.
type StoreCfg struct {
	Driver    string     `mapstructure:"driver" yaml:"driver"` // "postgres" or "memory"
	DSN       string     `mapstructure:"dsn" yaml:"dsn"`       // supports ${ENV_VAR}; empty = local container
	Debug     bool       `mapstructure:"debug" yaml:"debug"`
	Container StateDBCfg `mapstructure:"container" yaml:"container"`
}

// StateDBCfg holds the local Postgres container settings used when no DSN is set.
type StateDBCfg struct {
	ContainerName string `mapstructure:"container_name" yaml:"container_name"`
	Image         string `mapstructure:"image" yaml:"image"`
	Port          string `mapstructure:"port" yaml:"port"`
	Password      string `mapstructure:"password" yaml:"password"`
}

// PreviewCfg configures the synchronous models used to preview example titles.
type PreviewCfg struct {
	DefaultProvider string                        `mapstructure:"default_provider" yaml:"default_provider"`
	Providers       map[string]PreviewProviderCfg `mapstructure:"providers" yaml:"providers"`
}

// PreviewProviderCfg configures one preview provider.
type PreviewProviderCfg struct {
	Type      string `mapstructure:"type" yaml:"type"`         // "vertex" or "openai"
	Model     string `mapstructure:"model" yaml:"model"`
	APIKey    string `mapstructure:"api_key" yaml:"api_key"`   // supports ${ENV_VAR} syntax
	BaseURL   string `mapstructure:"base_url" yaml:"base_url"` // openai-compatible endpoints
	RateLimit int    `mapstructure:"rate_limit" yaml:"rate_limit"` // requests per minute
	Enabled   bool   `mapstructure:"enabled" yaml:"enabled"`
}

// DefaultConfig returns configuration with sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		Warehouse: WarehouseCfg{
			Location: "us-central1",
		},
		Model: ModelCfg{
			Name:         "gemini-2.0-flash-001",
			Location:     "us-central1",
			OutputFormat: "gemini",
		},
		Pipeline: PipelineCfg{
			ChunkSize:     25000,
			OutputDataset: "shrinkify_output",
			OutputTable:   "shrinkify_final",
			SampleSize:    5,
		},
		Store: StoreCfg{
			Driver: "postgres",
			Container: StateDBCfg{
				ContainerName: "shrinkify-statedb",
				Image:         "postgres:16-alpine",
				Port:          "5433",
				Password:      "shrinkify",
			},
		},
		Preview: PreviewCfg{
			DefaultProvider: "vertex",
			Providers: map[string]PreviewProviderCfg{
				"vertex": {
					Type:      "vertex",
					Model:     "gemini-2.0-flash-001",
					RateLimit: 60,
					Enabled:   true,
				},
				"openai": {
					Type:      "openai",
					Model:     "gpt-4o-mini",
					APIKey:    "${OPENAI_API_KEY}",
					RateLimit: 60,
					Enabled:   false,
				},
			},
		},
	}
}

// Validate reports the first unusable setting.
func (c *Config) Validate() error {
	if c.Pipeline.ChunkSize <= 0 {
		return fmt.Errorf("%w: pipeline.chunk_size must be positive, got %d", ErrInvalid, c.Pipeline.ChunkSize)
	}
	if c.Pipeline.OutputDataset == "" || c.Pipeline.OutputTable == "" {
		return fmt.Errorf("%w: pipeline.output_dataset and pipeline.output_table are required", ErrInvalid)
	}
	if c.Pipeline.SampleSize <= 0 {
		return fmt.Errorf("%w: pipeline.sample_size must be positive, got %d", ErrInvalid, c.Pipeline.SampleSize)
	}
	if _, err := predict.ParseOutputFormat(c.Model.OutputFormat); err != nil {
		return fmt.Errorf("%w: model.output_format: %w", ErrInvalid, err)
	}
	if c.Model.Name == "" {
		return fmt.Errorf("%w: model.name is required", ErrInvalid)
	}
	switch c.Store.Driver {
	case "postgres", "memory":
	default:
		return fmt.Errorf("%w: store.driver must be postgres or memory, got %q", ErrInvalid, c.Store.Driver)
	}
	return nil
}

// GetPreviewProvider returns a preview provider config by name.
func (c *Config) GetPreviewProvider(name string) (PreviewProviderCfg, bool) {
	cfg, ok := c.Preview.Providers[name]
	return cfg, ok
}

// EnabledPreviewProviders returns all enabled preview providers.
func (c *Config) EnabledPreviewProviders() map[string]PreviewProviderCfg {
	result := make(map[string]PreviewProviderCfg)
	for name, cfg := range c.Preview.Providers {
		if cfg.Enabled {
			result[name] = cfg
		}
	}
	return result
}
