// Package providers holds the synchronous text models used to preview
// short titles before a batch run is committed.
package providers

import (
	"context"
	"time"
)

// LLMClient completes a single prompt.
type LLMClient interface {
	// Complete sends one prompt and returns the generated text.
	Complete(ctx context.Context, req *CompletionRequest) (*CompletionResult, error)

	// Name returns the client identifier (e.g., "vertex").
	Name() string

	// RequestsPerMinute returns the RPM limit for rate limiting.
	RequestsPerMinute() int
}

// CompletionRequest is a request to an LLM.
type CompletionRequest struct {
	Prompt string `json:"prompt"`

	// Model selection (uses client default if empty)
	Model string `json:"model,omitempty"`

	// Generation parameters
	MaxOutputTokens int32   `json:"max_output_tokens,omitempty"`
	Temperature     float32 `json:"temperature,omitempty"`
	TopP            float32 `json:"top_p,omitempty"`
	TopK            float32 `json:"top_k,omitempty"`
}

// CompletionResult is the response from an LLM call.
type CompletionResult struct {
	Text string `json:"text"`

	// Token counts
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`

	ExecutionTime time.Duration `json:"execution_time"`

	// Provider info
	Provider  string `json:"provider"`
	ModelUsed string `json:"model_used"`
}
