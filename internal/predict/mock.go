package predict

import (
	"context"
	"fmt"
	"sync"

	"github.com/jackzampolin/shrinkify/internal/warehouse"
)

// Submission records one call to MockSubmitter.Submit.
type Submission struct {
	Source  warehouse.TableRef
	Dest    warehouse.TableRef
	JobName string
}

// MockSubmitter is a Submitter for testing.
type MockSubmitter struct {
	mu          sync.Mutex
	submissions []Submission

	// Err is returned by every Submit when non-nil.
	Err error
	// ErrOnTable fails submissions whose source table matches the key.
	ErrOnTable map[string]error
}

// NewMockSubmitter creates a submitter that accepts every job.
func NewMockSubmitter() *MockSubmitter {
	return &MockSubmitter{ErrOnTable: make(map[string]error)}
}

func (m *MockSubmitter) Submit(_ context.Context, src, dst warehouse.TableRef) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.Err != nil {
		return "", m.Err
	}
	if err := m.ErrOnTable[src.Table]; err != nil {
		return "", err
	}
	name := fmt.Sprintf("batchPredictionJobs/mock-%d", len(m.submissions)+1)
	m.submissions = append(m.submissions, Submission{Source: src, Dest: dst, JobName: name})
	return name, nil
}

// Submissions returns accepted submissions in order.
func (m *MockSubmitter) Submissions() []Submission {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]Submission(nil), m.submissions...)
}

// SourceTables returns the source table names of accepted submissions.
func (m *MockSubmitter) SourceTables() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	names := make([]string, len(m.submissions))
	for i, s := range m.submissions {
		names[i] = s.Source.Table
	}
	return names
}

var _ Submitter = (*MockSubmitter)(nil)
