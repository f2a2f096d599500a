// Package pipeline is the entry point of a shortening run: it validates the
// run configuration, partitions the source feed, registers the run, and
// submits the first chunk.
package pipeline

import (
	"errors"
	"fmt"
	"regexp"

	"github.com/jackzampolin/shrinkify/internal/prompt"
	"github.com/jackzampolin/shrinkify/internal/warehouse"
)

// ErrInvalidConfig is returned by Config.Validate.
var ErrInvalidConfig = errors.New("invalid run config")

// Dataset and table names may include dashes; backticks and dots would
// break out of the quoted table path.
var tableNamePattern = regexp.MustCompile(`^[A-Za-z0-9_-]+$`)

// Config is the immutable description of one run, as submitted by the form.
type Config struct {
	Industry      string           `json:"industry"`
	ProductType   string           `json:"product_type"`
	CharLimit     int              `json:"char_limit"`
	SourceDataset string           `json:"source_dataset"`
	SourceTable   string           `json:"source_table"`
	Columns       []string         `json:"columns"`
	Examples      []prompt.Example `json:"examples"`
}

// Validate checks the config before any side effect.
func (c Config) Validate() error {
	if c.Industry == "" {
		return fmt.Errorf("%w: industry is required", ErrInvalidConfig)
	}
	if c.ProductType == "" {
		return fmt.Errorf("%w: product_type is required", ErrInvalidConfig)
	}
	if c.CharLimit < 0 || c.CharLimit > prompt.MaxCharLimit {
		return fmt.Errorf("%w: char_limit must be between 0 (default %d) and %d, got %d",
			ErrInvalidConfig, prompt.DefaultCharLimit, prompt.MaxCharLimit, c.CharLimit)
	}
	if !tableNamePattern.MatchString(c.SourceDataset) {
		return fmt.Errorf("%w: source_dataset %q", ErrInvalidConfig, c.SourceDataset)
	}
	if !tableNamePattern.MatchString(c.SourceTable) {
		return fmt.Errorf("%w: source_table %q", ErrInvalidConfig, c.SourceTable)
	}
	if len(c.Columns) == 0 {
		return fmt.Errorf("%w: at least one column is required", ErrInvalidConfig)
	}
	seen := make(map[string]bool, len(c.Columns))
	for _, col := range c.Columns {
		if !warehouse.ValidIdentifier(col) {
			return fmt.Errorf("%w: column %q is not a valid identifier", ErrInvalidConfig, col)
		}
		if seen[col] {
			return fmt.Errorf("%w: column %q selected twice", ErrInvalidConfig, col)
		}
		seen[col] = true
	}
	return nil
}

// EffectiveCharLimit returns the limit used in the prompt.
func (c Config) EffectiveCharLimit() int {
	if c.CharLimit == 0 {
		return prompt.DefaultCharLimit
	}
	return c.CharLimit
}

// PromptInput returns the prompt builder input for this config.
func (c Config) PromptInput() prompt.Input {
	return prompt.Input{
		Industry:    c.Industry,
		ProductType: c.ProductType,
		CharLimit:   c.EffectiveCharLimit(),
		Columns:     c.Columns,
		Examples:    c.Examples,
	}
}

// PromptBase renders the shared prompt prefix.
func (c Config) PromptBase() string {
	return prompt.BuildBase(c.PromptInput())
}

// Source returns the source table in project.
func (c Config) Source(project string) warehouse.TableRef {
	return warehouse.TableRef{Project: project, Dataset: c.SourceDataset, Table: c.SourceTable}
}
