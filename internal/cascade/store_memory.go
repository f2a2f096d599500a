package cascade

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"
)

// MemoryStore implements Store in memory for unit tests and the
// "memory" store driver. Error injection is supported for testing.
type MemoryStore struct {
	mu     sync.Mutex
	runs   map[string]Run
	chunks map[string][]ChunkState

	// TransitionErr is returned by Transition when non-nil
	TransitionErr error

	// ErrOnTransitionTo fails transitions into a specific status.
	ErrOnTransitionTo map[ChunkStatus]error
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		runs:              make(map[string]Run),
		chunks:            make(map[string][]ChunkState),
		ErrOnTransitionTo: make(map[ChunkStatus]error),
	}
}

func (m *MemoryStore) CreateRun(_ context.Context, run Run) (Run, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.runs[run.ID]; ok {
		return Run{}, fmt.Errorf("run %s already exists", run.ID)
	}
	for _, r := range m.runs {
		if r.Status == RunRunning && r.Project == run.Project && r.Dataset == run.Dataset {
			return Run{}, fmt.Errorf("%w: run %s", ErrRunActive, r.ID)
		}
	}

	now := time.Now().UTC()
	run.Status = RunRunning
	run.CreatedAt = now
	run.UpdatedAt = now
	m.runs[run.ID] = run

	chunks := make([]ChunkState, run.TotalChunks)
	for i := range chunks {
		chunks[i] = ChunkState{RunID: run.ID, Index: i, Status: ChunkPartitioned, UpdatedAt: now}
	}
	m.chunks[run.ID] = chunks
	return run, nil
}

func (m *MemoryStore) ActiveRun(_ context.Context, project, dataset string) (Run, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, r := range m.runs {
		if r.Status == RunRunning && r.Project == project && r.Dataset == dataset {
			return r, nil
		}
	}
	return Run{}, fmt.Errorf("active run for %s.%s: %w", project, dataset, ErrNotFound)
}

func (m *MemoryStore) GetRun(_ context.Context, id string) (Run, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.runs[id]
	if !ok {
		return Run{}, fmt.Errorf("run %s: %w", id, ErrNotFound)
	}
	return r, nil
}

func (m *MemoryStore) ListRuns(_ context.Context, limit int) ([]Run, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	runs := make([]Run, 0, len(m.runs))
	for _, r := range m.runs {
		runs = append(runs, r)
	}
	sort.Slice(runs, func(i, j int) bool { return runs[i].CreatedAt.After(runs[j].CreatedAt) })
	if limit > 0 && len(runs) > limit {
		runs = runs[:limit]
	}
	return runs, nil
}

func (m *MemoryStore) ListChunks(_ context.Context, runID string) ([]ChunkState, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	chunks, ok := m.chunks[runID]
	if !ok {
		return nil, fmt.Errorf("run %s: %w", runID, ErrNotFound)
	}
	return append([]ChunkState(nil), chunks...), nil
}

func (m *MemoryStore) GetChunk(_ context.Context, runID string, index int) (ChunkState, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	chunks, ok := m.chunks[runID]
	if !ok || index < 0 || index >= len(chunks) {
		return ChunkState{}, fmt.Errorf("chunk %s/%d: %w", runID, index, ErrNotFound)
	}
	return chunks[index], nil
}

func (m *MemoryStore) Transition(_ context.Context, runID string, index int, from, to ChunkStatus, upd ChunkUpdate) (ChunkState, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.TransitionErr != nil {
		return ChunkState{}, m.TransitionErr
	}
	if err := m.ErrOnTransitionTo[to]; err != nil {
		return ChunkState{}, err
	}
	chunks, ok := m.chunks[runID]
	if !ok || index < 0 || index >= len(chunks) {
		return ChunkState{}, fmt.Errorf("chunk %s/%d: %w", runID, index, ErrNotFound)
	}
	c := chunks[index]
	if c.Status != from {
		return c, fmt.Errorf("%w: chunk %d is %s, expected %s", ErrConflict, index, c.Status, from)
	}
	c.Status = to
	upd.apply(&c)
	c.UpdatedAt = time.Now().UTC()
	chunks[index] = c
	return c, nil
}

func (m *MemoryStore) FinishRun(_ context.Context, runID string, status RunStatus) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.runs[runID]
	if !ok {
		return fmt.Errorf("run %s: %w", runID, ErrNotFound)
	}
	if r.Status != RunRunning {
		return fmt.Errorf("%w: run %s is %s", ErrConflict, runID, r.Status)
	}
	r.Status = status
	r.UpdatedAt = time.Now().UTC()
	m.runs[runID] = r
	return nil
}

func (m *MemoryStore) Close() error { return nil }

var _ Store = (*MemoryStore)(nil)
