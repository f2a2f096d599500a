package cascade

import (
	"context"
	"errors"
	"os"
	"testing"

	"github.com/google/uuid"
)

// storeContract exercises the Store semantics every implementation shares.
func storeContract(t *testing.T, s Store) {
	ctx := context.Background()
	project := "acme"
	dataset := "ds_" + uuid.NewString()[:8]

	run, err := s.CreateRun(ctx, Run{ID: uuid.NewString(), Project: project, Dataset: dataset, OutputTable: "shrinkify_final", TotalChunks: 2})
	if err != nil {
		t.Fatalf("CreateRun() error = %v", err)
	}
	if run.Status != RunRunning {
		t.Errorf("status = %s, want running", run.Status)
	}

	t.Run("one running run per dataset", func(t *testing.T) {
		_, err := s.CreateRun(ctx, Run{ID: uuid.NewString(), Project: project, Dataset: dataset, OutputTable: "x", TotalChunks: 1})
		if !errors.Is(err, ErrRunActive) {
			t.Errorf("got %v, want ErrRunActive", err)
		}
	})

	t.Run("active run", func(t *testing.T) {
		got, err := s.ActiveRun(ctx, project, dataset)
		if err != nil || got.ID != run.ID {
			t.Errorf("ActiveRun() = %v, %v", got.ID, err)
		}
		if _, err := s.ActiveRun(ctx, project, "nope"); !errors.Is(err, ErrNotFound) {
			t.Errorf("got %v, want ErrNotFound", err)
		}
	})

	t.Run("chunks start partitioned", func(t *testing.T) {
		chunks, err := s.ListChunks(ctx, run.ID)
		if err != nil {
			t.Fatal(err)
		}
		if len(chunks) != 2 {
			t.Fatalf("got %d chunks, want 2", len(chunks))
		}
		for i, c := range chunks {
			if c.Index != i || c.Status != ChunkPartitioned {
				t.Errorf("chunk %d = %+v", i, c)
			}
		}
	})

	t.Run("compare and set", func(t *testing.T) {
		job := "jobs/1"
		c, err := s.Transition(ctx, run.ID, 0, ChunkPartitioned, ChunkSubmitted, ChunkUpdate{JobName: &job})
		if err != nil {
			t.Fatalf("Transition() error = %v", err)
		}
		if c.Status != ChunkSubmitted || c.JobName != job {
			t.Errorf("chunk = %+v", c)
		}

		_, err = s.Transition(ctx, run.ID, 0, ChunkPartitioned, ChunkSubmitted, ChunkUpdate{})
		if !errors.Is(err, ErrConflict) {
			t.Errorf("got %v, want ErrConflict", err)
		}

		_, err = s.Transition(ctx, run.ID, 7, ChunkPartitioned, ChunkSubmitted, ChunkUpdate{})
		if !errors.Is(err, ErrNotFound) {
			t.Errorf("got %v, want ErrNotFound", err)
		}
	})

	t.Run("finish run", func(t *testing.T) {
		if err := s.FinishRun(ctx, run.ID, RunCompleted); err != nil {
			t.Fatalf("FinishRun() error = %v", err)
		}
		if err := s.FinishRun(ctx, run.ID, RunFailed); !errors.Is(err, ErrConflict) {
			t.Errorf("got %v, want ErrConflict", err)
		}
		// The dataset is free again.
		if _, err := s.CreateRun(ctx, Run{ID: uuid.NewString(), Project: project, Dataset: dataset, OutputTable: "x", TotalChunks: 0}); err != nil {
			t.Errorf("CreateRun() after completion error = %v", err)
		}
	})

	t.Run("unknown run", func(t *testing.T) {
		if _, err := s.GetRun(ctx, uuid.NewString()); !errors.Is(err, ErrNotFound) {
			t.Errorf("got %v, want ErrNotFound", err)
		}
	})
}

func TestMemoryStore(t *testing.T) {
	storeContract(t, NewMemoryStore())
}

func TestPostgresStore(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping database test in short mode")
	}
	dsn := os.Getenv("SHRINKIFY_TEST_DATABASE_URL")
	if dsn == "" {
		t.Skip("SHRINKIFY_TEST_DATABASE_URL not set")
	}

	ctx := context.Background()
	s := OpenPostgres(PostgresConfig{DSN: dsn})
	defer s.Close()
	if err := s.WaitReady(ctx, 10); err != nil {
		t.Fatalf("WaitReady() error = %v", err)
	}
	if err := s.Migrate(ctx); err != nil {
		t.Fatalf("Migrate() error = %v", err)
	}
	storeContract(t, s)
}
