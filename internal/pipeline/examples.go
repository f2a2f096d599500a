package pipeline

import (
	"context"
	"fmt"
	"time"

	"github.com/jackzampolin/shrinkify/internal/metrics"
	"github.com/jackzampolin/shrinkify/internal/predict"
	"github.com/jackzampolin/shrinkify/internal/prompt"
	"github.com/jackzampolin/shrinkify/internal/providers"
	"github.com/jackzampolin/shrinkify/internal/warehouse"
)

// TitleColumn seeds an example's short title when it is selected.
const TitleColumn = "name"

// DefaultSampleSize is the number of example rows offered for editing.
const DefaultSampleSize = 5

// SampleExamples draws n random rows of the selected columns and turns them
// into editable examples.
func SampleExamples(ctx context.Context, wh warehouse.Warehouse, source warehouse.TableRef, columns []string, n int) ([]prompt.Example, error) {
	if len(columns) == 0 {
		return nil, fmt.Errorf("%w: at least one column is required", ErrInvalidConfig)
	}
	if n <= 0 {
		n = DefaultSampleSize
	}
	rows, err := wh.SampleRows(ctx, source, columns, n)
	if err != nil {
		return nil, err
	}
	examples := make([]prompt.Example, 0, len(rows))
	for _, row := range rows {
		values := make(map[string]string, len(columns))
		for _, c := range columns {
			values[c] = row[c]
		}
		examples = append(examples, prompt.Example{Values: values, ShortTitle: values[TitleColumn]})
	}
	return examples, nil
}

// Suggestion is a previewed title for one example context.
type Suggestion struct {
	Values    map[string]string `json:"values"`
	Title     string            `json:"title"`
	CharCount int               `json:"char_count"`
	OverLimit bool              `json:"over_limit"`
	Error     string            `json:"error,omitempty"`
}

// PreviewTitles asks client for a short title for each example context
// using the same prompt the batch job would see. Per-row failures are
// reported on the suggestion; only a cancelled context aborts the preview.
func PreviewTitles(ctx context.Context, client providers.LLMClient, cfg Config, rec *metrics.Recorder) ([]Suggestion, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	base := cfg.PromptBase()
	limit := cfg.EffectiveCharLimit()

	out := make([]Suggestion, 0, len(cfg.Examples))
	for _, ex := range cfg.Examples {
		if err := ctx.Err(); err != nil {
			return out, err
		}
		start := time.Now()
		res, err := client.Complete(ctx, &providers.CompletionRequest{
			Prompt:          prompt.RenderRow(base, cfg.Columns, ex.Values),
			MaxOutputTokens: predict.TitleParams.MaxOutputTokens,
			Temperature:     predict.TitleParams.Temperature,
			TopP:            predict.TitleParams.TopP,
			TopK:            predict.TitleParams.TopK,
		})
		rec.RecordLLMCall(client.Name(), res, time.Since(start), err)

		s := Suggestion{Values: ex.Values}
		if err != nil {
			s.Error = err.Error()
			out = append(out, s)
			continue
		}
		s.Title = prompt.CleanTitle(res.Text)
		s.CharCount = len([]rune(s.Title))
		s.OverLimit = s.CharCount > limit
		out = append(out, s)
	}
	return out, nil
}
