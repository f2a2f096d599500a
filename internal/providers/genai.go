package providers

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"google.golang.org/genai"
)

const GenAIClientName = "vertex"

// GenAIConfig configures a GenAIClient. With an API key the Gemini API
// backend is used; otherwise Vertex AI with application default credentials.
type GenAIConfig struct {
	Project      string
	Location     string
	APIKey       string
	DefaultModel string
	RPM          int
}

// GenAIClient implements LLMClient with google.golang.org/genai.
type GenAIClient struct {
	client       *genai.Client
	defaultModel string
	rpm          int
	limiter      *RateLimiter
}

// NewGenAIClient creates a new genai-backed client.
func NewGenAIClient(ctx context.Context, cfg GenAIConfig) (*GenAIClient, error) {
	cc := &genai.ClientConfig{
		Project:  cfg.Project,
		Location: cfg.Location,
		Backend:  genai.BackendVertexAI,
	}
	if cfg.APIKey != "" {
		cc = &genai.ClientConfig{APIKey: cfg.APIKey, Backend: genai.BackendGeminiAPI}
	}
	client, err := genai.NewClient(ctx, cc)
	if err != nil {
		return nil, fmt.Errorf("failed to create genai client: %w", err)
	}
	if cfg.DefaultModel == "" {
		cfg.DefaultModel = "gemini-2.0-flash-001"
	}
	return &GenAIClient{
		client:       client,
		defaultModel: cfg.DefaultModel,
		rpm:          cfg.RPM,
		limiter:      NewRateLimiter(cfg.RPM),
	}, nil
}

func (c *GenAIClient) Name() string { return GenAIClientName }

func (c *GenAIClient) RequestsPerMinute() int { return c.rpm }

// Complete sends one GenerateContent request.
func (c *GenAIClient) Complete(ctx context.Context, req *CompletionRequest) (*CompletionResult, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, err
	}
	model := req.Model
	if model == "" {
		model = c.defaultModel
	}

	cfg := &genai.GenerateContentConfig{MaxOutputTokens: req.MaxOutputTokens}
	if req.Temperature > 0 {
		cfg.Temperature = genai.Ptr(req.Temperature)
	}
	if req.TopP > 0 {
		cfg.TopP = genai.Ptr(req.TopP)
	}
	if req.TopK > 0 {
		cfg.TopK = genai.Ptr(req.TopK)
	}

	start := time.Now()
	resp, err := c.client.Models.GenerateContent(ctx, model, genai.Text(req.Prompt), cfg)
	if err != nil {
		var apiErr genai.APIError
		if errors.As(err, &apiErr) && apiErr.Code == http.StatusTooManyRequests {
			c.limiter.Pause(time.Second)
		}
		return nil, fmt.Errorf("genai generate failed: %w", err)
	}

	result := &CompletionResult{
		Text:          resp.Text(),
		ExecutionTime: time.Since(start),
		Provider:      GenAIClientName,
		ModelUsed:     model,
	}
	if u := resp.UsageMetadata; u != nil {
		result.PromptTokens = int(u.PromptTokenCount)
		result.CompletionTokens = int(u.CandidatesTokenCount)
	}
	return result, nil
}

var _ LLMClient = (*GenAIClient)(nil)
