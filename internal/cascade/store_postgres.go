package cascade

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/avast/retry-go/v4"
	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect/pgdialect"
	"github.com/uptrace/bun/driver/pgdriver"
	"github.com/uptrace/bun/extra/bundebug"
)

type runRow struct {
	bun.BaseModel `bun:"table:shrinkify_runs,alias:r"`

	ID          string    `bun:"id,pk"`
	Project     string    `bun:"project,notnull"`
	Dataset     string    `bun:"dataset,notnull"`
	OutputTable string    `bun:"output_table,notnull"`
	TotalChunks int       `bun:"total_chunks,notnull"`
	Status      string    `bun:"status,notnull"`
	CreatedAt   time.Time `bun:"created_at,notnull"`
	UpdatedAt   time.Time `bun:"updated_at,notnull"`
}

func (r runRow) toRun() Run {
	return Run{
		ID:          r.ID,
		Project:     r.Project,
		Dataset:     r.Dataset,
		OutputTable: r.OutputTable,
		TotalChunks: r.TotalChunks,
		Status:      RunStatus(r.Status),
		CreatedAt:   r.CreatedAt,
		UpdatedAt:   r.UpdatedAt,
	}
}

type chunkRow struct {
	bun.BaseModel `bun:"table:shrinkify_chunks,alias:c"`

	RunID        string    `bun:"run_id,pk"`
	Index        int       `bun:"chunk_index,pk"`
	Status       string    `bun:"status,notnull"`
	JobName      string    `bun:"job_name,nullzero"`
	RowsAppended int64     `bun:"rows_appended,notnull,default:0"`
	FailedStage  string    `bun:"failed_stage,nullzero"`
	Error        string    `bun:"error,nullzero"`
	CleanupError string    `bun:"cleanup_error,nullzero"`
	UpdatedAt    time.Time `bun:"updated_at,notnull"`
}

func (c chunkRow) toState() ChunkState {
	return ChunkState{
		RunID:        c.RunID,
		Index:        c.Index,
		Status:       ChunkStatus(c.Status),
		JobName:      c.JobName,
		RowsAppended: c.RowsAppended,
		FailedStage:  c.FailedStage,
		Error:        c.Error,
		CleanupError: c.CleanupError,
		UpdatedAt:    c.UpdatedAt,
	}
}

// PostgresStore implements Store on Postgres through bun.
type PostgresStore struct {
	db     *bun.DB
	logger *slog.Logger
}

// PostgresConfig holds the settings for OpenPostgres.
type PostgresConfig struct {
	DSN    string
	Debug  bool // log every query through bundebug
	Logger *slog.Logger
}

// OpenPostgres connects to Postgres. Call WaitReady and Migrate before use.
func OpenPostgres(cfg PostgresConfig) *PostgresStore {
	sqldb := sql.OpenDB(pgdriver.NewConnector(pgdriver.WithDSN(cfg.DSN)))
	db := bun.NewDB(sqldb, pgdialect.New())
	if cfg.Debug {
		db.AddQueryHook(bundebug.NewQueryHook(bundebug.WithVerbose(true)))
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &PostgresStore{db: db, logger: logger}
}

// WaitReady pings the database until it answers or attempts run out.
func (s *PostgresStore) WaitReady(ctx context.Context, attempts uint) error {
	return retry.Do(
		func() error { return s.db.PingContext(ctx) },
		retry.Context(ctx),
		retry.Attempts(attempts),
		retry.Delay(500*time.Millisecond),
		retry.MaxDelay(5*time.Second),
		retry.OnRetry(func(n uint, err error) {
			s.logger.Debug("waiting for state database", "attempt", n+1, "error", err)
		}),
	)
}

// Migrate creates the tables and the one-running-run-per-dataset index.
func (s *PostgresStore) Migrate(ctx context.Context) error {
	if _, err := s.db.NewCreateTable().Model((*runRow)(nil)).IfNotExists().Exec(ctx); err != nil {
		return fmt.Errorf("failed to create runs table: %w", err)
	}
	if _, err := s.db.NewCreateTable().Model((*chunkRow)(nil)).IfNotExists().
		ForeignKey(`("run_id") REFERENCES "shrinkify_runs" ("id") ON DELETE CASCADE`).
		Exec(ctx); err != nil {
		return fmt.Errorf("failed to create chunks table: %w", err)
	}
	if _, err := s.db.ExecContext(ctx,
		`CREATE UNIQUE INDEX IF NOT EXISTS shrinkify_runs_one_running
		 ON shrinkify_runs (project, dataset) WHERE status = 'running'`); err != nil {
		return fmt.Errorf("failed to create running-run index: %w", err)
	}
	return nil
}

func (s *PostgresStore) CreateRun(ctx context.Context, run Run) (Run, error) {
	now := time.Now().UTC()
	run.Status = RunRunning
	run.CreatedAt = now
	run.UpdatedAt = now

	err := s.db.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		row := &runRow{
			ID:          run.ID,
			Project:     run.Project,
			Dataset:     run.Dataset,
			OutputTable: run.OutputTable,
			TotalChunks: run.TotalChunks,
			Status:      string(run.Status),
			CreatedAt:   now,
			UpdatedAt:   now,
		}
		if _, err := tx.NewInsert().Model(row).Exec(ctx); err != nil {
			if isUniqueViolation(err) {
				return fmt.Errorf("%w: %s.%s", ErrRunActive, run.Project, run.Dataset)
			}
			return err
		}
		if run.TotalChunks == 0 {
			return nil
		}
		chunks := make([]chunkRow, run.TotalChunks)
		for i := range chunks {
			chunks[i] = chunkRow{RunID: run.ID, Index: i, Status: string(ChunkPartitioned), UpdatedAt: now}
		}
		_, err := tx.NewInsert().Model(&chunks).Exec(ctx)
		return err
	})
	if err != nil {
		if errors.Is(err, ErrRunActive) {
			return Run{}, err
		}
		return Run{}, fmt.Errorf("failed to create run: %w", err)
	}
	return run, nil
}

func (s *PostgresStore) ActiveRun(ctx context.Context, project, dataset string) (Run, error) {
	var row runRow
	err := s.db.NewSelect().Model(&row).
		Where("project = ?", project).
		Where("dataset = ?", dataset).
		Where("status = ?", string(RunRunning)).
		Limit(1).
		Scan(ctx)
	if errors.Is(err, sql.ErrNoRows) {
		return Run{}, fmt.Errorf("active run for %s.%s: %w", project, dataset, ErrNotFound)
	}
	if err != nil {
		return Run{}, fmt.Errorf("failed to find active run: %w", err)
	}
	return row.toRun(), nil
}

func (s *PostgresStore) GetRun(ctx context.Context, id string) (Run, error) {
	var row runRow
	err := s.db.NewSelect().Model(&row).Where("id = ?", id).Scan(ctx)
	if errors.Is(err, sql.ErrNoRows) {
		return Run{}, fmt.Errorf("run %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return Run{}, fmt.Errorf("failed to get run: %w", err)
	}
	return row.toRun(), nil
}

func (s *PostgresStore) ListRuns(ctx context.Context, limit int) ([]Run, error) {
	var rows []runRow
	q := s.db.NewSelect().Model(&rows).Order("created_at DESC")
	if limit > 0 {
		q = q.Limit(limit)
	}
	if err := q.Scan(ctx); err != nil {
		return nil, fmt.Errorf("failed to list runs: %w", err)
	}
	runs := make([]Run, len(rows))
	for i, r := range rows {
		runs[i] = r.toRun()
	}
	return runs, nil
}

func (s *PostgresStore) ListChunks(ctx context.Context, runID string) ([]ChunkState, error) {
	if _, err := s.GetRun(ctx, runID); err != nil {
		return nil, err
	}
	var rows []chunkRow
	if err := s.db.NewSelect().Model(&rows).
		Where("run_id = ?", runID).
		Order("chunk_index ASC").
		Scan(ctx); err != nil {
		return nil, fmt.Errorf("failed to list chunks: %w", err)
	}
	states := make([]ChunkState, len(rows))
	for i, r := range rows {
		states[i] = r.toState()
	}
	return states, nil
}

func (s *PostgresStore) GetChunk(ctx context.Context, runID string, index int) (ChunkState, error) {
	var row chunkRow
	err := s.db.NewSelect().Model(&row).
		Where("run_id = ?", runID).
		Where("chunk_index = ?", index).
		Scan(ctx)
	if errors.Is(err, sql.ErrNoRows) {
		return ChunkState{}, fmt.Errorf("chunk %s/%d: %w", runID, index, ErrNotFound)
	}
	if err != nil {
		return ChunkState{}, fmt.Errorf("failed to get chunk: %w", err)
	}
	return row.toState(), nil
}

// Transition is a single conditional UPDATE; zero affected rows means the
// chunk is missing or was moved by someone else.
func (s *PostgresStore) Transition(ctx context.Context, runID string, index int, from, to ChunkStatus, upd ChunkUpdate) (ChunkState, error) {
	q := s.db.NewUpdate().Model((*chunkRow)(nil)).
		Set("status = ?", string(to)).
		Set("updated_at = ?", time.Now().UTC())
	if upd.JobName != nil {
		q = q.Set("job_name = ?", *upd.JobName)
	}
	if upd.RowsAppended != nil {
		q = q.Set("rows_appended = ?", *upd.RowsAppended)
	}
	if upd.FailedStage != nil {
		q = q.Set("failed_stage = ?", *upd.FailedStage)
	}
	if upd.Error != nil {
		q = q.Set("error = ?", *upd.Error)
	}
	if upd.CleanupError != nil {
		q = q.Set("cleanup_error = ?", *upd.CleanupError)
	}
	res, err := q.
		Where("run_id = ?", runID).
		Where("chunk_index = ?", index).
		Where("status = ?", string(from)).
		Exec(ctx)
	if err != nil {
		return ChunkState{}, fmt.Errorf("failed to transition chunk %d: %w", index, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return ChunkState{}, fmt.Errorf("failed to transition chunk %d: %w", index, err)
	}

	current, err := s.GetChunk(ctx, runID, index)
	if err != nil {
		return ChunkState{}, err
	}
	if n == 0 {
		return current, fmt.Errorf("%w: chunk %d is %s, expected %s", ErrConflict, index, current.Status, from)
	}
	return current, nil
}

func (s *PostgresStore) FinishRun(ctx context.Context, runID string, status RunStatus) error {
	res, err := s.db.NewUpdate().Model((*runRow)(nil)).
		Set("status = ?", string(status)).
		Set("updated_at = ?", time.Now().UTC()).
		Where("id = ?", runID).
		Where("status = ?", string(RunRunning)).
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("failed to finish run: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to finish run: %w", err)
	}
	if n == 0 {
		run, err := s.GetRun(ctx, runID)
		if err != nil {
			return err
		}
		return fmt.Errorf("%w: run %s is %s", ErrConflict, runID, run.Status)
	}
	return nil
}

func (s *PostgresStore) Close() error {
	return s.db.Close()
}

func isUniqueViolation(err error) bool {
	var pgErr pgdriver.Error
	return errors.As(err, &pgErr) && pgErr.Field('C') == "23505"
}

var _ Store = (*PostgresStore)(nil)
