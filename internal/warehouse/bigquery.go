package warehouse

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	"cloud.google.com/go/bigquery"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/iterator"
)

// BigQuery implements Warehouse on cloud.google.com/go/bigquery.
type BigQuery struct {
	client   *bigquery.Client
	location string
	logger   *slog.Logger
}

// BigQueryConfig holds the settings for NewBigQuery.
type BigQueryConfig struct {
	// Project is the billing and default project. Empty detects it from
	// application default credentials.
	Project string
	// Location is where query jobs run and where datasets are created.
	Location string
	Logger   *slog.Logger
}

// NewBigQuery opens a BigQuery client.
func NewBigQuery(ctx context.Context, cfg BigQueryConfig) (*BigQuery, error) {
	project := cfg.Project
	if project == "" {
		project = bigquery.DetectProjectID
	}
	client, err := bigquery.NewClient(ctx, project)
	if err != nil {
		return nil, fmt.Errorf("failed to create bigquery client: %w", err)
	}
	if cfg.Location != "" {
		client.Location = cfg.Location
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &BigQuery{client: client, location: cfg.Location, logger: logger}, nil
}

// Close releases the underlying client.
func (b *BigQuery) Close() error {
	return b.client.Close()
}

func (b *BigQuery) Project() string {
	return b.client.Project()
}

func (b *BigQuery) table(ref TableRef) *bigquery.Table {
	return b.client.DatasetInProject(ref.Project, ref.Dataset).Table(ref.Table)
}

func (b *BigQuery) ListDatasets(ctx context.Context) ([]string, error) {
	var names []string
	it := b.client.Datasets(ctx)
	for {
		ds, err := it.Next()
		if errors.Is(err, iterator.Done) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("failed to list datasets: %w", err)
		}
		names = append(names, ds.DatasetID)
	}
	return names, nil
}

func (b *BigQuery) ListTables(ctx context.Context, dataset string) ([]string, error) {
	var names []string
	it := b.client.Dataset(dataset).Tables(ctx)
	for {
		t, err := it.Next()
		if errors.Is(err, iterator.Done) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("failed to list tables in %s: %w", dataset, mapErr(err))
		}
		names = append(names, t.TableID)
	}
	return names, nil
}

func (b *BigQuery) Columns(ctx context.Context, ref TableRef) ([]Column, error) {
	md, err := b.table(ref).Metadata(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to read schema of %s: %w", ref, mapErr(err))
	}
	cols := make([]Column, 0, len(md.Schema))
	for _, f := range md.Schema {
		cols = append(cols, Column{Name: f.Name, Type: string(f.Type)})
	}
	return cols, nil
}

func (b *BigQuery) RowCount(ctx context.Context, ref TableRef) (int64, error) {
	md, err := b.table(ref).Metadata(ctx)
	if err != nil {
		return 0, fmt.Errorf("failed to read metadata of %s: %w", ref, mapErr(err))
	}
	return int64(md.NumRows), nil
}

func (b *BigQuery) SampleRows(ctx context.Context, ref TableRef, columns []string, n int) ([]Row, error) {
	sql, err := SampleSQL(ref, columns)
	if err != nil {
		return nil, err
	}
	q := b.client.Query(sql)
	q.Parameters = []bigquery.QueryParameter{{Name: "n", Value: n}}

	it, err := q.Read(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to sample %s: %w", ref, mapErr(err))
	}
	var rows []Row
	for {
		var values map[string]bigquery.Value
		err := it.Next(&values)
		if errors.Is(err, iterator.Done) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("failed to read sample row: %w", err)
		}
		row := make(Row, len(columns))
		for _, c := range columns {
			row[c] = renderValue(values[c])
		}
		rows = append(rows, row)
	}
	return rows, nil
}

func renderValue(v bigquery.Value) string {
	if v == nil {
		return ""
	}
	return fmt.Sprint(v)
}

func (b *BigQuery) EnsureDataset(ctx context.Context, dataset, location string) error {
	if location == "" {
		location = b.location
	}
	err := b.client.Dataset(dataset).Create(ctx, &bigquery.DatasetMetadata{Location: location})
	if err != nil {
		var apiErr *googleapi.Error
		if errors.As(err, &apiErr) && apiErr.Code == http.StatusConflict {
			b.logger.Debug("dataset already exists", "dataset", dataset)
			return nil
		}
		return fmt.Errorf("failed to create dataset %s: %w", dataset, err)
	}
	b.logger.Info("created dataset", "dataset", dataset, "location", location)
	return nil
}

func (b *BigQuery) CreateChunkTable(ctx context.Context, spec ChunkTableSpec) error {
	sql, err := ChunkTableSQL(spec)
	if err != nil {
		return err
	}
	q := b.client.Query(sql)
	q.Parameters = []bigquery.QueryParameter{
		{Name: "prompt_base", Value: spec.PromptBase},
		{Name: "start", Value: spec.Start},
		{Name: "end", Value: spec.End},
	}
	if spec.RequestConfig != "" {
		q.Parameters = append(q.Parameters, bigquery.QueryParameter{Name: "request_config", Value: spec.RequestConfig})
	}
	q.Dst = b.table(spec.Dest)
	q.WriteDisposition = bigquery.WriteTruncate
	q.CreateDisposition = bigquery.CreateIfNeeded

	if err := b.runAndWait(ctx, q); err != nil {
		return fmt.Errorf("failed to create %s: %w", spec.Dest, err)
	}
	return nil
}

func (b *BigQuery) AppendResults(ctx context.Context, spec AppendSpec) error {
	q := b.client.Query(AppendSQL(spec))
	q.Parameters = []bigquery.QueryParameter{
		{Name: "run_id", Value: spec.RunID},
		{Name: "chunk_index", Value: spec.ChunkIndex},
	}
	q.Dst = b.table(spec.Output)
	q.WriteDisposition = bigquery.WriteAppend
	q.CreateDisposition = bigquery.CreateIfNeeded
	q.SchemaUpdateOptions = []string{"ALLOW_FIELD_ADDITION"}

	if err := b.runAndWait(ctx, q); err != nil {
		return fmt.Errorf("failed to append %s into %s: %w", spec.Results, spec.Output, err)
	}
	return nil
}

func (b *BigQuery) CountChunkRows(ctx context.Context, output TableRef, runID string, chunkIndex int) (int64, error) {
	md, err := b.table(output).Metadata(ctx)
	if errors.Is(mapErr(err), ErrTableNotFound) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("failed to stat %s: %w", output, err)
	}
	// Tables written before rows carried a run_id hold nothing from this run.
	if !hasField(md.Schema, "run_id") {
		return 0, nil
	}

	q := b.client.Query(CountChunkRowsSQL(output))
	q.Parameters = []bigquery.QueryParameter{
		{Name: "run_id", Value: runID},
		{Name: "chunk_index", Value: chunkIndex},
	}
	it, err := q.Read(ctx)
	if err != nil {
		return 0, fmt.Errorf("failed to count chunk %d rows: %w", chunkIndex, mapErr(err))
	}
	var row struct {
		N int64 `bigquery:"n"`
	}
	if err := it.Next(&row); err != nil {
		return 0, fmt.Errorf("failed to read chunk %d count: %w", chunkIndex, err)
	}
	return row.N, nil
}

func (b *BigQuery) DeleteTable(ctx context.Context, ref TableRef) error {
	if err := b.table(ref).Delete(ctx); err != nil {
		return fmt.Errorf("failed to delete %s: %w", ref, mapErr(err))
	}
	return nil
}

func (b *BigQuery) TableExists(ctx context.Context, ref TableRef) (bool, error) {
	_, err := b.table(ref).Metadata(ctx)
	if err == nil {
		return true, nil
	}
	if errors.Is(mapErr(err), ErrTableNotFound) {
		return false, nil
	}
	return false, fmt.Errorf("failed to stat %s: %w", ref, err)
}

func hasField(schema bigquery.Schema, name string) bool {
	for _, f := range schema {
		if f.Name == name {
			return true
		}
	}
	return false
}

// runAndWait runs a query job and blocks until it finishes.
func (b *BigQuery) runAndWait(ctx context.Context, q *bigquery.Query) error {
	job, err := q.Run(ctx)
	if err != nil {
		return mapErr(err)
	}
	b.logger.Debug("bigquery job started", "job_id", job.ID())
	status, err := job.Wait(ctx)
	if err != nil {
		return mapErr(err)
	}
	if err := status.Err(); err != nil {
		return mapErr(err)
	}
	return nil
}

// mapErr translates 404 API errors into ErrTableNotFound while keeping the
// original error in the chain.
func mapErr(err error) error {
	var apiErr *googleapi.Error
	if errors.As(err, &apiErr) && apiErr.Code == http.StatusNotFound {
		return fmt.Errorf("%w: %w", ErrTableNotFound, err)
	}
	return err
}

var _ Warehouse = (*BigQuery)(nil)
