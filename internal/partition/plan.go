// Package partition splits a source table into bounded sub-tables, one per
// chunk, each carrying a rendered prompt per row.
package partition

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
)

// DefaultChunkSize is the maximum number of rows per sub-table.
const DefaultChunkSize = 25000

const (
	// ChunkTablePrefix names the per-chunk input tables.
	ChunkTablePrefix = "sub_table_"
	// ResultsTablePrefix names the per-chunk prediction output tables.
	ResultsTablePrefix = "results_"
)

// ErrInvalidPlan is returned for negative row counts or non-positive chunk sizes.
var ErrInvalidPlan = errors.New("invalid partition plan")

// Chunk is one contiguous row range. Start and End are 0-based and inclusive.
type Chunk struct {
	Index int   `json:"index"`
	Start int64 `json:"start"`
	End   int64 `json:"end"`
}

// Rows returns the number of rows the chunk covers.
func (c Chunk) Rows() int64 { return c.End - c.Start + 1 }

// Plan is the output of the partition step. It is passed forward and never
// stored back into the run configuration.
type Plan struct {
	RowCount  int64   `json:"row_count"`
	ChunkSize int     `json:"chunk_size"`
	Chunks    []Chunk `json:"chunks"`
}

// NewPlan computes ceil(rowCount/chunkSize) chunks covering [0, rowCount).
func NewPlan(rowCount int64, chunkSize int) (Plan, error) {
	if rowCount < 0 {
		return Plan{}, fmt.Errorf("%w: row count %d is negative", ErrInvalidPlan, rowCount)
	}
	if chunkSize <= 0 {
		return Plan{}, fmt.Errorf("%w: chunk size %d must be positive", ErrInvalidPlan, chunkSize)
	}

	size := int64(chunkSize)
	n := (rowCount + size - 1) / size
	chunks := make([]Chunk, 0, n)
	for i := int64(0); i < n; i++ {
		start := i * size
		end := min((i+1)*size, rowCount) - 1
		chunks = append(chunks, Chunk{Index: int(i), Start: start, End: end})
	}
	return Plan{RowCount: rowCount, ChunkSize: chunkSize, Chunks: chunks}, nil
}

// TotalChunks returns the number of chunks in the plan.
func (p Plan) TotalChunks() int { return len(p.Chunks) }

// ChunkTableName returns sub_table_<i>.
func ChunkTableName(i int) string { return ChunkTablePrefix + strconv.Itoa(i) }

// ResultsTableName returns results_<i>.
func ResultsTableName(i int) string { return ResultsTablePrefix + strconv.Itoa(i) }

// ErrNotResultsTable is returned by ParseResultsTable for any other table.
var ErrNotResultsTable = errors.New("not a results table")

// ErrBadSuffix is returned when a results table name has a non-numeric index.
var ErrBadSuffix = errors.New("malformed chunk suffix")

// ParseResultsTable extracts k from results_<k>.
func ParseResultsTable(name string) (int, error) {
	suffix, ok := strings.CutPrefix(name, ResultsTablePrefix)
	if !ok {
		return 0, fmt.Errorf("%w: %s", ErrNotResultsTable, name)
	}
	k, err := strconv.Atoi(suffix)
	if err != nil || k < 0 || strconv.Itoa(k) != suffix {
		return 0, fmt.Errorf("%w: %s", ErrBadSuffix, name)
	}
	return k, nil
}
