package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/google/uuid"

	"github.com/jackzampolin/shrinkify/internal/cascade"
	"github.com/jackzampolin/shrinkify/internal/partition"
	"github.com/jackzampolin/shrinkify/internal/predict"
	"github.com/jackzampolin/shrinkify/internal/warehouse"
)

// Settings are the server-side constants a run is executed with.
type Settings struct {
	ChunkSize       int
	OutputDataset   string
	OutputTable     string
	DatasetLocation string
	Format          predict.OutputFormat
}

// Pipeline starts runs.
type Pipeline struct {
	Warehouse warehouse.Warehouse
	Store     cascade.Store
	Handler   *cascade.Handler
	Settings  Settings
	Logger    *slog.Logger
}

// Started is returned by Start.
type Started struct {
	Run   cascade.Run         `json:"run"`
	Plan  partition.Plan      `json:"plan"`
	Chunk *cascade.ChunkState `json:"first_chunk,omitempty"`
}

func (p *Pipeline) logger() *slog.Logger {
	if p.Logger == nil {
		return slog.Default()
	}
	return p.Logger
}

// Start runs the synchronous part of a run: it creates the output dataset,
// claims the dataset for a new run, writes every sub-table, and submits
// chunk 0. Later chunks are submitted by the completion handler.
//
// A failure to submit chunk 0 leaves the run running with chunk 0 failed so
// it can be retried; the error is still returned.
func (p *Pipeline) Start(ctx context.Context, cfg Config) (Started, error) {
	if err := cfg.Validate(); err != nil {
		return Started{}, err
	}
	s := p.Settings
	project := p.Warehouse.Project()
	source := cfg.Source(project)
	log := p.logger().With("source", source.String(), "output_dataset", s.OutputDataset)

	if err := p.Warehouse.EnsureDataset(ctx, s.OutputDataset, s.DatasetLocation); err != nil {
		return Started{}, err
	}

	rowCount, err := p.Warehouse.RowCount(ctx, source)
	if err != nil {
		return Started{}, err
	}
	plan, err := partition.NewPlan(rowCount, s.ChunkSize)
	if err != nil {
		return Started{}, fmt.Errorf("%w: %w", ErrInvalidConfig, err)
	}
	log.Info("planned run", "rows", rowCount, "chunks", plan.TotalChunks(), "chunk_size", s.ChunkSize)

	run, err := p.Store.CreateRun(ctx, cascade.Run{
		ID:          uuid.NewString(),
		Project:     project,
		Dataset:     s.OutputDataset,
		OutputTable: s.OutputTable,
		TotalChunks: plan.TotalChunks(),
	})
	if err != nil {
		return Started{}, err
	}
	log = log.With("run_id", run.ID)
	started := Started{Run: run, Plan: plan}

	if plan.TotalChunks() == 0 {
		if err := p.Store.FinishRun(ctx, run.ID, cascade.RunCompleted); err != nil {
			return started, err
		}
		started.Run.Status = cascade.RunCompleted
		p.Handler.Metrics.RecordRun(string(cascade.RunCompleted))
		log.Info("source table is empty, nothing to shorten")
		return started, nil
	}

	err = partition.Partition(ctx, p.Warehouse, plan, partition.Request{
		Source:        source,
		Dataset:       s.OutputDataset,
		Columns:       cfg.Columns,
		PromptBase:    cfg.PromptBase(),
		RequestConfig: s.Format.RequestConfig(),
	}, log)
	if err != nil {
		if ferr := p.Store.FinishRun(ctx, run.ID, cascade.RunFailed); ferr != nil {
			log.Error("failed to mark run failed", "error", ferr)
		} else {
			p.Handler.Metrics.RecordRun(string(cascade.RunFailed))
		}
		started.Run.Status = cascade.RunFailed
		return started, fmt.Errorf("partition failed: %w", err)
	}

	chunk, err := p.Handler.SubmitChunk(ctx, run, 0)
	started.Chunk = &chunk
	if err != nil {
		return started, fmt.Errorf("failed to submit chunk 0: %w", err)
	}
	log.Info("run started", "job", chunk.JobName)
	return started, nil
}

// Status returns a run with its chunk states.
func (p *Pipeline) Status(ctx context.Context, runID string) (cascade.Run, []cascade.ChunkState, error) {
	run, err := p.Store.GetRun(ctx, runID)
	if err != nil {
		return cascade.Run{}, nil, err
	}
	chunks, err := p.Store.ListChunks(ctx, runID)
	if err != nil && !errors.Is(err, cascade.ErrNotFound) {
		return cascade.Run{}, nil, err
	}
	return run, chunks, nil
}
