// Package warehouse wraps the data warehouse that holds the source feed,
// the per-chunk sub-tables and results tables, and the unified output table.
package warehouse

import (
	"context"
	"errors"
	"fmt"
	"regexp"
)

// ErrTableNotFound is returned when a referenced table does not exist.
var ErrTableNotFound = errors.New("table not found")

// ErrInvalidIdentifier is returned for dataset, table or column names that
// cannot be safely quoted into a query.
var ErrInvalidIdentifier = errors.New("invalid identifier")

var identPattern = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

// ValidIdentifier reports whether name is a plain warehouse identifier.
func ValidIdentifier(name string) bool {
	return identPattern.MatchString(name)
}

// TableRef addresses a table as project.dataset.table.
type TableRef struct {
	Project string `json:"project"`
	Dataset string `json:"dataset"`
	Table   string `json:"table"`
}

func (r TableRef) String() string {
	return r.Project + "." + r.Dataset + "." + r.Table
}

// Quoted returns the backtick-quoted form used inside SQL.
func (r TableRef) Quoted() string {
	return "`" + r.String() + "`"
}

// URI returns the bq:// locator accepted by batch prediction jobs.
func (r TableRef) URI() string {
	return "bq://" + r.String()
}

// Sibling returns a reference to another table in the same dataset.
func (r TableRef) Sibling(table string) TableRef {
	return TableRef{Project: r.Project, Dataset: r.Dataset, Table: table}
}

// Column describes one column of a table schema.
type Column struct {
	Name string `json:"name"`
	Type string `json:"type"`
}

// Row is a sampled row with values rendered as strings. NULL renders as "".
type Row map[string]string

// ChunkTableSpec describes one sub-table materialization.
type ChunkTableSpec struct {
	Source     TableRef
	Dest       TableRef
	Columns    []string
	PromptBase string
	// Start and End are 0-based inclusive row positions.
	Start int64
	End   int64
	// RequestConfig, when non-empty, is a JSON generation config embedded in a
	// per-row `request` column for models that read GenerateContent requests.
	RequestConfig string
}

// AppendSpec describes appending one results table into the output table.
type AppendSpec struct {
	Results TableRef
	Output  TableRef
	// RunID and ChunkIndex tag every appended row. The output table is
	// shared by successive runs, so both are needed to find a chunk's rows.
	RunID      string
	ChunkIndex int
	// ShortTitleExpr extracts the generated text from a results row.
	ShortTitleExpr string
}

// Warehouse is the set of warehouse operations the pipeline and the
// completion handler depend on.
type Warehouse interface {
	Project() string

	ListDatasets(ctx context.Context) ([]string, error)
	ListTables(ctx context.Context, dataset string) ([]string, error)
	Columns(ctx context.Context, ref TableRef) ([]Column, error)
	RowCount(ctx context.Context, ref TableRef) (int64, error)
	SampleRows(ctx context.Context, ref TableRef, columns []string, n int) ([]Row, error)

	// EnsureDataset creates the dataset; an existing dataset is not an error.
	EnsureDataset(ctx context.Context, dataset, location string) error
	CreateChunkTable(ctx context.Context, spec ChunkTableSpec) error
	// AppendResults blocks until the append job finishes.
	AppendResults(ctx context.Context, spec AppendSpec) error
	// CountChunkRows returns rows in the output table tagged with runID and
	// chunkIndex. A missing output table counts as zero.
	CountChunkRows(ctx context.Context, output TableRef, runID string, chunkIndex int) (int64, error)
	DeleteTable(ctx context.Context, ref TableRef) error
	TableExists(ctx context.Context, ref TableRef) (bool, error)
}

func validateColumns(columns []string) error {
	if len(columns) == 0 {
		return fmt.Errorf("%w: no columns selected", ErrInvalidIdentifier)
	}
	for _, c := range columns {
		if !ValidIdentifier(c) {
			return fmt.Errorf("%w: column %q", ErrInvalidIdentifier, c)
		}
	}
	return nil
}
