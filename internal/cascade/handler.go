package cascade

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/jackzampolin/shrinkify/internal/metrics"
	"github.com/jackzampolin/shrinkify/internal/partition"
	"github.com/jackzampolin/shrinkify/internal/predict"
	"github.com/jackzampolin/shrinkify/internal/warehouse"
)

// Outcome describes what handling an event did.
type Outcome string

const (
	OutcomeIdle      Outcome = "idle"
	OutcomeIgnored   Outcome = "ignored"
	OutcomeMalformed Outcome = "malformed"
	OutcomeNoRun     Outcome = "no_run"
	OutcomeDuplicate Outcome = "duplicate"
	OutcomeAdvanced  Outcome = "advanced"
	OutcomeCompleted Outcome = "completed"
	OutcomeFailed    Outcome = "failed"
)

// Handler reacts to results-table completion events.
type Handler struct {
	Warehouse warehouse.Warehouse
	Submitter predict.Submitter
	Store     Store
	Format    predict.OutputFormat
	Metrics   *metrics.Recorder
	Logger    *slog.Logger
}

// EventMeta carries CloudEvent attributes that are only logged.
type EventMeta struct {
	ID      string
	Type    string
	Subject string
}

// Result is returned to callers of HandleEvent.
type Result struct {
	Outcome Outcome     `json:"outcome"`
	Event   TableEvent  `json:"event"`
	Chunk   *ChunkState `json:"chunk,omitempty"`
	Reason  string      `json:"reason,omitempty"`
}

func (h *Handler) logger() *slog.Logger {
	if h.Logger == nil {
		return slog.Default()
	}
	return h.Logger
}

// HandleEvent validates raw event data and drives the cascade one step.
// Irrelevant events return a no-op Result and a nil error. ErrInvalidEvent
// is returned for payloads that fail schema validation.
func (h *Handler) HandleEvent(ctx context.Context, meta EventMeta, data []byte) (Result, error) {
	log := h.logger().With("event_id", meta.ID, "event_type", meta.Type)
	if meta.Subject != "" {
		log = log.With("subject", meta.Subject)
	}

	ev, err := ParseEvent(data)
	if errors.Is(err, ErrInvalidEvent) {
		h.Metrics.RecordEvent(string(OutcomeMalformed))
		return Result{Outcome: OutcomeMalformed, Reason: err.Error()}, err
	}
	log = log.With(
		"resource", ev.Resource,
		"method", ev.Method,
		"principal", ev.Principal,
		"inserted_rows", ev.InsertedRows,
	)
	switch {
	case errors.Is(err, ErrIdleTrigger):
		log.Debug("idle trigger, nothing to do")
		return h.noop(OutcomeIdle, ev, err), nil
	case errors.Is(err, ErrNotResultsTable):
		log.Debug("ignoring event for non-results table")
		return h.noop(OutcomeIgnored, ev, err), nil
	case errors.Is(err, ErrMalformedResource):
		log.Warn("ignoring event with malformed resource", "error", err)
		return h.noop(OutcomeMalformed, ev, err), nil
	case err != nil:
		return Result{}, err
	}

	return h.Handle(ctx, ev)
}

// Handle processes one parsed results-table event.
func (h *Handler) Handle(ctx context.Context, ev TableEvent) (Result, error) {
	log := h.logger().With("dataset", ev.Dataset, "chunk", ev.ChunkIndex)

	run, err := h.Store.ActiveRun(ctx, ev.Project, ev.Dataset)
	if errors.Is(err, ErrNotFound) {
		log.Info("no running run for dataset")
		return h.noop(OutcomeNoRun, ev, err), nil
	}
	if err != nil {
		return Result{}, fmt.Errorf("failed to look up run: %w", err)
	}

	res, err := h.process(ctx, run, ev.ChunkIndex)
	res.Event = ev
	return res, err
}

func (h *Handler) noop(o Outcome, ev TableEvent, reason error) Result {
	h.Metrics.RecordEvent(string(o))
	return Result{Outcome: o, Event: ev, Reason: reason.Error()}
}

// transition wraps Store.Transition with metrics.
func (h *Handler) transition(ctx context.Context, runID string, k int, from, to ChunkStatus, upd ChunkUpdate) (ChunkState, error) {
	c, err := h.Store.Transition(ctx, runID, k, from, to, upd)
	if err == nil {
		h.Metrics.RecordTransition(string(to))
	}
	return c, err
}

// process claims chunk k, appends its results, cleans up, and advances.
func (h *Handler) process(ctx context.Context, run Run, k int) (Result, error) {
	log := h.logger().With("run_id", run.ID, "chunk", k)

	if k >= run.TotalChunks {
		log.Warn("event for chunk outside the run", "total_chunks", run.TotalChunks)
		h.Metrics.RecordEvent(string(OutcomeIgnored))
		return Result{Outcome: OutcomeIgnored, Reason: "chunk index out of range"}, nil
	}

	// Claim.
	if _, err := h.transition(ctx, run.ID, k, ChunkSubmitted, ChunkAppending, ChunkUpdate{}); err != nil {
		if errors.Is(err, ErrConflict) || errors.Is(err, ErrNotFound) {
			log.Info("chunk already claimed or not yet submitted", "error", err)
			h.Metrics.RecordEvent(string(OutcomeDuplicate))
			return Result{Outcome: OutcomeDuplicate, Reason: err.Error()}, nil
		}
		return Result{}, fmt.Errorf("failed to claim chunk %d: %w", k, err)
	}

	results := warehouse.TableRef{Project: run.Project, Dataset: run.Dataset, Table: partition.ResultsTableName(k)}
	subTable := results.Sibling(partition.ChunkTableName(k))
	output := results.Sibling(run.OutputTable)

	// Append, unless a previous attempt already did.
	rows, err := h.appendOnce(ctx, run.ID, results, output, k)
	if err != nil {
		log.Error("append failed", "error", err)
		c, terr := h.transition(ctx, run.ID, k, ChunkAppending, ChunkFailed, failure(StageAppend, err))
		if terr != nil {
			log.Error("failed to record append failure", "error", terr)
		}
		h.Metrics.RecordEvent(string(OutcomeFailed))
		return Result{Outcome: OutcomeFailed, Chunk: &c, Reason: err.Error()}, err
	}
	h.Metrics.RecordAppend(rows)
	if _, err := h.transition(ctx, run.ID, k, ChunkAppending, ChunkAppended, ChunkUpdate{RowsAppended: &rows}); err != nil {
		return Result{}, fmt.Errorf("failed to mark chunk %d appended: %w", k, err)
	}
	log.Info("appended results", "rows", rows, "output", output.Table)

	cleanupErr := h.cleanup(ctx, log, results, subTable)

	outcome := OutcomeAdvanced
	if next := k + 1; next < run.TotalChunks {
		if _, err := h.SubmitChunk(ctx, run, next); err != nil {
			// Recorded on chunk next; the operator retries it.
			log.Error("failed to submit next chunk", "next", next, "error", err)
		}
	} else {
		if err := h.Store.FinishRun(ctx, run.ID, RunCompleted); err != nil {
			log.Error("failed to complete run", "error", err)
		} else {
			h.Metrics.RecordRun(string(RunCompleted))
			log.Info("cascade complete", "total_chunks", run.TotalChunks)
		}
		outcome = OutcomeCompleted
	}

	upd := ChunkUpdate{}
	if cleanupErr != "" {
		upd.CleanupError = &cleanupErr
	}
	c, err := h.transition(ctx, run.ID, k, ChunkAppended, ChunkCompleted, upd)
	if err != nil {
		return Result{}, fmt.Errorf("failed to complete chunk %d: %w", k, err)
	}
	h.Metrics.RecordEvent(string(outcome))
	return Result{Outcome: outcome, Chunk: &c}, nil
}

// appendOnce appends results into output tagged with (runID, k) and
// returns the number of output rows for that tag. Rows already tagged mean
// an earlier attempt of this run appended before crashing, so the write is
// skipped. Rows from other runs never match.
func (h *Handler) appendOnce(ctx context.Context, runID string, results, output warehouse.TableRef, k int) (int64, error) {
	existing, err := h.Warehouse.CountChunkRows(ctx, output, runID, k)
	if err != nil {
		return 0, err
	}
	if existing > 0 {
		h.logger().Warn("chunk already present in output, skipping append", "run_id", runID, "chunk", k, "rows", existing)
		return existing, nil
	}
	if err := h.Warehouse.AppendResults(ctx, warehouse.AppendSpec{
		Results:        results,
		Output:         output,
		RunID:          runID,
		ChunkIndex:     k,
		ShortTitleExpr: h.Format.ShortTitleExpr(),
	}); err != nil {
		return 0, err
	}
	return h.Warehouse.CountChunkRows(ctx, output, runID, k)
}

// cleanup deletes the consumed tables. Failures are logged and returned as
// a message for the chunk record; they never stop the cascade.
func (h *Handler) cleanup(ctx context.Context, log *slog.Logger, results, subTable warehouse.TableRef) string {
	var errs []error
	if err := h.Warehouse.DeleteTable(ctx, results); err != nil {
		log.Warn("failed to delete results table", "table", results.Table, "error", err)
		h.Metrics.RecordCleanupError("results")
		errs = append(errs, err)
	}
	if err := h.Warehouse.DeleteTable(ctx, subTable); err != nil {
		log.Warn("failed to delete sub-table", "table", subTable.Table, "error", err)
		h.Metrics.RecordCleanupError("sub_table")
		errs = append(errs, err)
	}
	if len(errs) == 0 {
		return ""
	}
	return errors.Join(errs...).Error()
}

// SubmitChunk moves chunk k from partitioned through submitting to
// submitted, starting its batch job. A submission error marks the chunk
// failed at stage submit and is returned.
func (h *Handler) SubmitChunk(ctx context.Context, run Run, k int) (ChunkState, error) {
	return h.submitFrom(ctx, run, k, ChunkPartitioned)
}

func (h *Handler) submitFrom(ctx context.Context, run Run, k int, from ChunkStatus) (ChunkState, error) {
	log := h.logger().With("run_id", run.ID, "chunk", k)

	c, err := h.transition(ctx, run.ID, k, from, ChunkSubmitting, clearFailure())
	if err != nil {
		return c, fmt.Errorf("failed to claim chunk %d for submission: %w", k, err)
	}

	src := warehouse.TableRef{Project: run.Project, Dataset: run.Dataset, Table: partition.ChunkTableName(k)}
	dst := src.Sibling(partition.ResultsTableName(k))
	job, err := h.Submitter.Submit(ctx, src, dst)
	h.Metrics.RecordSubmission(err)
	if err != nil {
		c, terr := h.transition(ctx, run.ID, k, ChunkSubmitting, ChunkFailed, failure(StageSubmit, err))
		if terr != nil {
			log.Error("failed to record submit failure", "error", terr)
		}
		return c, err
	}

	c, err = h.transition(ctx, run.ID, k, ChunkSubmitting, ChunkSubmitted, ChunkUpdate{JobName: &job})
	if err != nil {
		return c, fmt.Errorf("failed to mark chunk %d submitted: %w", k, err)
	}
	log.Info("submitted chunk", "job", job, "source", src.Table)
	return c, nil
}

// Retry re-drives a chunk stuck after a failure or crash. Chunks that
// failed to submit are resubmitted. Chunks that failed or stopped while
// appending are reset to submitted and processed as if their results event
// had arrived again; the output presence check keeps rows from doubling.
func (h *Handler) Retry(ctx context.Context, runID string, k int) (Result, error) {
	run, err := h.Store.GetRun(ctx, runID)
	if err != nil {
		return Result{}, err
	}
	if run.Status != RunRunning {
		return Result{}, fmt.Errorf("%w: run %s is %s", ErrConflict, run.ID, run.Status)
	}
	c, err := h.Store.GetChunk(ctx, runID, k)
	if err != nil {
		return Result{}, err
	}

	switch {
	case c.Status == ChunkFailed && c.FailedStage == StageSubmit:
		c, err := h.submitFrom(ctx, run, k, ChunkFailed)
		if err != nil {
			return Result{Outcome: OutcomeFailed, Chunk: &c, Reason: err.Error()}, err
		}
		return Result{Outcome: OutcomeAdvanced, Chunk: &c}, nil

	case c.Status == ChunkFailed && c.FailedStage == StageAppend,
		c.Status == ChunkAppending,
		c.Status == ChunkAppended:
		if _, err := h.transition(ctx, run.ID, k, c.Status, ChunkSubmitted, clearFailure()); err != nil {
			return Result{}, err
		}
		h.logger().Info("re-driving chunk", "run_id", run.ID, "chunk", k, "from", c.Status)
		return h.process(ctx, run, k)

	default:
		return Result{}, fmt.Errorf("%w: chunk %d is %s and cannot be retried", ErrConflict, k, c.Status)
	}
}
