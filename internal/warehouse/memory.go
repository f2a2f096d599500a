package warehouse

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/jackzampolin/shrinkify/internal/prompt"
)

// MemoryWarehouse implements Warehouse in memory for unit tests.
// Tables keep rows in insertion order, which stands in for the
// deterministic row numbering of the real chunk query.
// Error injection is supported for testing failure paths.
type MemoryWarehouse struct {
	mu sync.RWMutex

	project  string
	datasets map[string]string // dataset -> location
	tables   map[string][]map[string]any

	// ExtractShortTitle pulls generated text out of a results row.
	// Defaults to the "prediction" field.
	ExtractShortTitle func(row map[string]any) string

	// --- Error injection fields for testing ---

	// AppendErr is returned by AppendResults when non-nil
	AppendErr error

	// CreateChunkErr is returned by CreateChunkTable when non-nil
	CreateChunkErr error

	// DeleteErr causes DeleteTable to fail for specific tables.
	// Key is the table name, value is the error to return.
	DeleteErr map[string]error

	appends int
	deletes []string
}

// NewMemoryWarehouse creates an empty in-memory warehouse for project.
func NewMemoryWarehouse(project string) *MemoryWarehouse {
	return &MemoryWarehouse{
		project:   project,
		datasets:  make(map[string]string),
		tables:    make(map[string][]map[string]any),
		DeleteErr: make(map[string]error),
	}
}

func key(ref TableRef) string { return ref.Dataset + "." + ref.Table }

// PutTable replaces a table's rows. The dataset is created if needed.
func (m *MemoryWarehouse) PutTable(ref TableRef, rows []map[string]any) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.datasets[ref.Dataset]; !ok {
		m.datasets[ref.Dataset] = ""
	}
	cp := make([]map[string]any, len(rows))
	for i, r := range rows {
		cp[i] = copyRow(r)
	}
	m.tables[key(ref)] = cp
}

// Rows returns a copy of a table's rows, or nil if it does not exist.
func (m *MemoryWarehouse) Rows(ref TableRef) []map[string]any {
	m.mu.RLock()
	defer m.mu.RUnlock()
	rows, ok := m.tables[key(ref)]
	if !ok {
		return nil
	}
	cp := make([]map[string]any, len(rows))
	for i, r := range rows {
		cp[i] = copyRow(r)
	}
	return cp
}

// AppendCount returns how many appends have succeeded.
func (m *MemoryWarehouse) AppendCount() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.appends
}

// Deleted returns the names of tables DeleteTable was called for, in order.
func (m *MemoryWarehouse) Deleted() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]string(nil), m.deletes...)
}

func (m *MemoryWarehouse) Project() string { return m.project }

func (m *MemoryWarehouse) ListDatasets(_ context.Context) ([]string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	names := make([]string, 0, len(m.datasets))
	for ds := range m.datasets {
		names = append(names, ds)
	}
	sort.Strings(names)
	return names, nil
}

func (m *MemoryWarehouse) ListTables(_ context.Context, dataset string) ([]string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if _, ok := m.datasets[dataset]; !ok {
		return nil, fmt.Errorf("dataset %s: %w", dataset, ErrTableNotFound)
	}
	var names []string
	prefix := dataset + "."
	for k := range m.tables {
		if strings.HasPrefix(k, prefix) {
			names = append(names, strings.TrimPrefix(k, prefix))
		}
	}
	sort.Strings(names)
	return names, nil
}

func (m *MemoryWarehouse) Columns(_ context.Context, ref TableRef) ([]Column, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	rows, ok := m.tables[key(ref)]
	if !ok {
		return nil, fmt.Errorf("%s: %w", ref, ErrTableNotFound)
	}
	seen := make(map[string]bool)
	var cols []Column
	for _, r := range rows {
		for name := range r {
			if !seen[name] {
				seen[name] = true
				cols = append(cols, Column{Name: name, Type: "STRING"})
			}
		}
	}
	sort.Slice(cols, func(i, j int) bool { return cols[i].Name < cols[j].Name })
	return cols, nil
}

func (m *MemoryWarehouse) RowCount(_ context.Context, ref TableRef) (int64, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	rows, ok := m.tables[key(ref)]
	if !ok {
		return 0, fmt.Errorf("%s: %w", ref, ErrTableNotFound)
	}
	return int64(len(rows)), nil
}

// SampleRows returns the first n rows; tests need a stable sample.
func (m *MemoryWarehouse) SampleRows(_ context.Context, ref TableRef, columns []string, n int) ([]Row, error) {
	if err := validateColumns(columns); err != nil {
		return nil, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	rows, ok := m.tables[key(ref)]
	if !ok {
		return nil, fmt.Errorf("%s: %w", ref, ErrTableNotFound)
	}
	if n > len(rows) {
		n = len(rows)
	}
	out := make([]Row, 0, n)
	for _, r := range rows[:n] {
		out = append(out, stringify(r, columns))
	}
	return out, nil
}

func (m *MemoryWarehouse) EnsureDataset(_ context.Context, dataset, location string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.datasets[dataset]; !ok {
		m.datasets[dataset] = location
	}
	return nil
}

func (m *MemoryWarehouse) CreateChunkTable(_ context.Context, spec ChunkTableSpec) error {
	if err := validateColumns(spec.Columns); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.CreateChunkErr != nil {
		return m.CreateChunkErr
	}
	src, ok := m.tables[key(spec.Source)]
	if !ok {
		return fmt.Errorf("%s: %w", spec.Source, ErrTableNotFound)
	}

	var out []map[string]any
	for i := spec.Start; i <= spec.End && i < int64(len(src)); i++ {
		values := stringify(src[i], spec.Columns)
		row := make(map[string]any, len(spec.Columns)+3)
		for _, c := range spec.Columns {
			row[c] = src[i][c]
		}
		row["column_values_dict"] = prompt.ColumnValuesDict(spec.Columns, values)
		row["prompt"] = prompt.RenderRow(spec.PromptBase, spec.Columns, values)
		if spec.RequestConfig != "" {
			row["request"] = spec.RequestConfig
		}
		out = append(out, row)
	}
	m.tables[key(spec.Dest)] = out
	return nil
}

func (m *MemoryWarehouse) AppendResults(_ context.Context, spec AppendSpec) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.AppendErr != nil {
		return m.AppendErr
	}
	results, ok := m.tables[key(spec.Results)]
	if !ok {
		return fmt.Errorf("%s: %w", spec.Results, ErrTableNotFound)
	}
	extract := m.ExtractShortTitle
	if extract == nil {
		extract = func(row map[string]any) string { return fmt.Sprint(row["prediction"]) }
	}
	out := m.tables[key(spec.Output)]
	for _, r := range results {
		row := copyRow(r)
		row["short_title"] = strings.TrimSpace(extract(r))
		row["run_id"] = spec.RunID
		row["chunk_index"] = int64(spec.ChunkIndex)
		out = append(out, row)
	}
	m.tables[key(spec.Output)] = out
	m.appends++
	return nil
}

func (m *MemoryWarehouse) CountChunkRows(_ context.Context, output TableRef, runID string, chunkIndex int) (int64, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var n int64
	for _, r := range m.tables[key(output)] {
		id, _ := r["run_id"].(string)
		idx, ok := r["chunk_index"].(int64)
		if ok && id == runID && idx == int64(chunkIndex) {
			n++
		}
	}
	return n, nil
}

func (m *MemoryWarehouse) DeleteTable(_ context.Context, ref TableRef) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.deletes = append(m.deletes, ref.Table)
	if err, ok := m.DeleteErr[ref.Table]; ok && err != nil {
		return err
	}
	if _, ok := m.tables[key(ref)]; !ok {
		return fmt.Errorf("%s: %w", ref, ErrTableNotFound)
	}
	delete(m.tables, key(ref))
	return nil
}

func (m *MemoryWarehouse) TableExists(_ context.Context, ref TableRef) (bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	_, ok := m.tables[key(ref)]
	return ok, nil
}

func stringify(r map[string]any, columns []string) Row {
	row := make(Row, len(columns))
	for _, c := range columns {
		if v, ok := r[c]; ok && v != nil {
			row[c] = fmt.Sprint(v)
		} else {
			row[c] = ""
		}
	}
	return row
}

func copyRow(r map[string]any) map[string]any {
	cp := make(map[string]any, len(r))
	for k, v := range r {
		cp[k] = v
	}
	return cp
}

var _ Warehouse = (*MemoryWarehouse)(nil)
