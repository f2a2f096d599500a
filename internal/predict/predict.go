// Package predict submits asynchronous batch prediction jobs that turn one
// sub-table of prompts into one results table.
package predict

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackzampolin/shrinkify/internal/warehouse"
)

// Params are the fixed generation parameters for every title. They are not
// user configurable.
type Params struct {
	MaxOutputTokens int32   `json:"maxOutputTokens"`
	Temperature     float32 `json:"temperature"`
	TopP            float32 `json:"topP"`
	TopK            float32 `json:"topK"`
}

// TitleParams is the parameter set used for all batch jobs and previews.
var TitleParams = Params{
	MaxOutputTokens: 8,
	Temperature:     0.2,
	TopP:            0.95,
	TopK:            40,
}

// OutputFormat identifies the row layout a model family reads from its
// sub-table and writes to its results table.
type OutputFormat string

// FormatGemini reads a `request` column and writes a `response` JSON column.
// The generation config travels inside each request, so every row carries
// TitleParams.
const FormatGemini OutputFormat = "gemini"

// ErrNoModelParams rejects formats whose rows cannot carry TitleParams. The
// batch API takes no job-level model parameters, so a bare prompt column
// would run with the model's defaults.
var ErrNoModelParams = errors.New("output format cannot carry generation parameters")

// ParseOutputFormat validates a configured output format.
func ParseOutputFormat(s string) (OutputFormat, error) {
	switch s {
	case string(FormatGemini):
		return FormatGemini, nil
	case "palm":
		return "", fmt.Errorf("%w: %q", ErrNoModelParams, s)
	default:
		return "", fmt.Errorf("unknown output format %q", s)
	}
}

// ShortTitleExpr returns the SQL expression that extracts generated text
// from a results row.
func (f OutputFormat) ShortTitleExpr() string {
	return "JSON_VALUE(response, '$.candidates[0].content.parts[0].text')"
}

// RequestConfig returns the generation config embedded in each sub-table row.
func (f OutputFormat) RequestConfig() string {
	b, err := json.Marshal(TitleParams)
	if err != nil {
		panic(err)
	}
	return string(b)
}

// Submitter starts a batch prediction job reading src and writing dst.
// It returns once the job is accepted; completion is observed through the
// results table appearing.
type Submitter interface {
	Submit(ctx context.Context, src, dst warehouse.TableRef) (jobName string, err error)
}
