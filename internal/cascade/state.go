// Package cascade drives the chunk-by-chunk chain of batch jobs. Every
// step is guarded by a compare-and-set transition on a durable chunk
// record so duplicate or out-of-order events cannot append, delete, or
// submit twice.
package cascade

import (
	"context"
	"errors"
	"time"
)

var (
	// ErrConflict is returned when a transition's expected status does not match.
	ErrConflict = errors.New("state conflict")
	// ErrNotFound is returned for unknown runs or chunks.
	ErrNotFound = errors.New("not found")
	// ErrRunActive is returned when a dataset already has a running run.
	ErrRunActive = errors.New("a run is already active for this dataset")
)

// RunStatus is the lifecycle state of a run.
type RunStatus string

const (
	RunRunning   RunStatus = "running"
	RunCompleted RunStatus = "completed"
	RunFailed    RunStatus = "failed"
)

// ChunkStatus is the lifecycle state of one chunk.
//
//	partitioned -> submitting -> submitted -> appending -> appended -> completed
//
// Any step may move to failed; operators re-drive failed chunks with Retry.
type ChunkStatus string

const (
	ChunkPartitioned ChunkStatus = "partitioned"
	ChunkSubmitting  ChunkStatus = "submitting"
	ChunkSubmitted   ChunkStatus = "submitted"
	ChunkAppending   ChunkStatus = "appending"
	ChunkAppended    ChunkStatus = "appended"
	ChunkCompleted   ChunkStatus = "completed"
	ChunkFailed      ChunkStatus = "failed"
)

// Failure stages recorded on failed chunks.
const (
	StageSubmit = "submit"
	StageAppend = "append"
)

// Run is the durable record of one pipeline invocation.
type Run struct {
	ID          string    `json:"id"`
	Project     string    `json:"project"`
	Dataset     string    `json:"dataset"`
	OutputTable string    `json:"output_table"`
	TotalChunks int       `json:"total_chunks"`
	Status      RunStatus `json:"status"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// ChunkState is the durable record of one chunk.
type ChunkState struct {
	RunID        string      `json:"run_id"`
	Index        int         `json:"index"`
	Status       ChunkStatus `json:"status"`
	JobName      string      `json:"job_name,omitempty"`
	RowsAppended int64       `json:"rows_appended"`
	FailedStage  string      `json:"failed_stage,omitempty"`
	Error        string      `json:"error,omitempty"`
	CleanupError string      `json:"cleanup_error,omitempty"`
	UpdatedAt    time.Time   `json:"updated_at"`
}

// ChunkUpdate carries optional field changes applied with a transition.
// Nil fields are left unchanged.
type ChunkUpdate struct {
	JobName      *string
	RowsAppended *int64
	FailedStage  *string
	Error        *string
	CleanupError *string
}

func (u ChunkUpdate) apply(c *ChunkState) {
	if u.JobName != nil {
		c.JobName = *u.JobName
	}
	if u.RowsAppended != nil {
		c.RowsAppended = *u.RowsAppended
	}
	if u.FailedStage != nil {
		c.FailedStage = *u.FailedStage
	}
	if u.Error != nil {
		c.Error = *u.Error
	}
	if u.CleanupError != nil {
		c.CleanupError = *u.CleanupError
	}
}

// failure builds the update recorded when a chunk fails at stage.
func failure(stage string, err error) ChunkUpdate {
	msg := err.Error()
	return ChunkUpdate{FailedStage: &stage, Error: &msg}
}

// clearFailure resets failure fields when a chunk is re-driven.
func clearFailure() ChunkUpdate {
	empty := ""
	return ChunkUpdate{FailedStage: &empty, Error: &empty}
}

// Store persists runs and chunk states.
type Store interface {
	// CreateRun stores run as running with totalChunks chunks in
	// partitioned. It fails with ErrRunActive if the run's project and
	// dataset already have a running run.
	CreateRun(ctx context.Context, run Run) (Run, error)
	// ActiveRun returns the running run for a dataset, or ErrNotFound.
	ActiveRun(ctx context.Context, project, dataset string) (Run, error)
	GetRun(ctx context.Context, id string) (Run, error)
	ListRuns(ctx context.Context, limit int) ([]Run, error)
	ListChunks(ctx context.Context, runID string) ([]ChunkState, error)
	GetChunk(ctx context.Context, runID string, index int) (ChunkState, error)
	// Transition moves a chunk from one status to another only if its
	// current status is from. It returns ErrConflict otherwise.
	Transition(ctx context.Context, runID string, index int, from, to ChunkStatus, upd ChunkUpdate) (ChunkState, error)
	// FinishRun moves a running run to status, or returns ErrConflict.
	FinishRun(ctx context.Context, runID string, status RunStatus) error
	Close() error
}
