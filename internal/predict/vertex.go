package predict

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"google.golang.org/genai"

	"github.com/jackzampolin/shrinkify/internal/warehouse"
)

// VertexBatch submits Vertex AI batch prediction jobs through genai.
type VertexBatch struct {
	client *genai.Client
	model  string
	logger *slog.Logger
}

// VertexConfig holds the settings for NewVertexBatch.
type VertexConfig struct {
	Project  string
	Location string
	Model    string
	Logger   *slog.Logger
}

// NewVertexBatch creates a batch submitter on the Vertex AI backend.
func NewVertexBatch(ctx context.Context, cfg VertexConfig) (*VertexBatch, error) {
	if cfg.Model == "" {
		return nil, errors.New("model is required")
	}
	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		Project:  cfg.Project,
		Location: cfg.Location,
		Backend:  genai.BackendVertexAI,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create genai client: %w", err)
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &VertexBatch{client: client, model: cfg.Model, logger: logger}, nil
}

// Submit creates the batch job and returns its resource name.
func (v *VertexBatch) Submit(ctx context.Context, src, dst warehouse.TableRef) (string, error) {
	job, err := v.client.Batches.Create(ctx, v.model,
		&genai.BatchJobSource{
			Format:      "bigquery",
			BigqueryURI: src.URI(),
		},
		&genai.CreateBatchJobConfig{
			DisplayName: "shrinkify-" + src.Table,
			Dest: &genai.BatchJobDestination{
				Format:      "bigquery",
				BigqueryURI: dst.URI(),
			},
		},
	)
	if err != nil {
		return "", fmt.Errorf("batch prediction for %s failed: %w", src.Table, err)
	}
	v.logger.Info("submitted batch prediction",
		"job", job.Name,
		"state", job.State,
		"source", src.URI(),
		"destination", dst.URI(),
	)
	return job.Name, nil
}

var _ Submitter = (*VertexBatch)(nil)
