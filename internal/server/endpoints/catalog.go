package endpoints

import (
	"net/http"

	"github.com/spf13/cobra"

	"github.com/jackzampolin/shrinkify/internal/api"
	"github.com/jackzampolin/shrinkify/internal/svcctx"
	"github.com/jackzampolin/shrinkify/internal/warehouse"
)

// DatasetsResponse lists the datasets in the project.
type DatasetsResponse struct {
	Project  string   `json:"project"`
	Datasets []string `json:"datasets"`
}

// ListDatasetsEndpoint handles GET /api/catalog/datasets.
type ListDatasetsEndpoint struct{}

func (e *ListDatasetsEndpoint) Route() (string, string, http.HandlerFunc) {
	return "GET", "/api/catalog/datasets", e.handler
}

func (e *ListDatasetsEndpoint) RequiresInit() bool { return true }

// handler godoc
//
//	@Summary	List datasets
//	@Tags		catalog
//	@Produce	json
//	@Success	200	{object}	DatasetsResponse
//	@Failure	500	{object}	ErrorResponse
//	@Router		/api/catalog/datasets [get]
func (e *ListDatasetsEndpoint) handler(w http.ResponseWriter, r *http.Request) {
	wh := svcctx.WarehouseFrom(r.Context())
	datasets, err := wh.ListDatasets(r.Context())
	if err != nil {
		writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, DatasetsResponse{Project: wh.Project(), Datasets: nonNil(datasets)})
}

func (e *ListDatasetsEndpoint) Command(getServerURL func() string) *cobra.Command {
	return &cobra.Command{
		Use:   "datasets",
		Short: "List datasets in the warehouse project",
		RunE: func(cmd *cobra.Command, args []string) error {
			client := api.NewClient(getServerURL())
			var resp DatasetsResponse
			if err := client.Get(cmd.Context(), "/api/catalog/datasets", &resp); err != nil {
				return err
			}
			return api.Output(resp)
		},
	}
}

// TablesResponse lists the tables in one dataset.
type TablesResponse struct {
	Dataset string   `json:"dataset"`
	Tables  []string `json:"tables"`
}

// ListTablesEndpoint handles GET /api/catalog/datasets/{dataset}/tables.
type ListTablesEndpoint struct{}

func (e *ListTablesEndpoint) Route() (string, string, http.HandlerFunc) {
	return "GET", "/api/catalog/datasets/{dataset}/tables", e.handler
}

func (e *ListTablesEndpoint) RequiresInit() bool { return true }

// handler godoc
//
//	@Summary	List tables in a dataset
//	@Tags		catalog
//	@Produce	json
//	@Param		dataset	path		string	true	"Dataset"
//	@Success	200		{object}	TablesResponse
//	@Failure	404		{object}	ErrorResponse
//	@Router		/api/catalog/datasets/{dataset}/tables [get]
func (e *ListTablesEndpoint) handler(w http.ResponseWriter, r *http.Request) {
	dataset := r.PathValue("dataset")
	tables, err := svcctx.WarehouseFrom(r.Context()).ListTables(r.Context(), dataset)
	if err != nil {
		writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, TablesResponse{Dataset: dataset, Tables: nonNil(tables)})
}

func (e *ListTablesEndpoint) Command(getServerURL func() string) *cobra.Command {
	return &cobra.Command{
		Use:   "tables <dataset>",
		Short: "List tables in a dataset",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client := api.NewClient(getServerURL())
			var resp TablesResponse
			if err := client.Get(cmd.Context(), "/api/catalog/datasets/"+args[0]+"/tables", &resp); err != nil {
				return err
			}
			return api.Output(resp)
		},
	}
}

// ColumnsResponse lists a table's columns with their types and row count.
type ColumnsResponse struct {
	Dataset  string             `json:"dataset"`
	Table    string             `json:"table"`
	RowCount int64              `json:"row_count"`
	Columns  []warehouse.Column `json:"columns"`
}

// ListColumnsEndpoint handles GET /api/catalog/datasets/{dataset}/tables/{table}/columns.
type ListColumnsEndpoint struct{}

func (e *ListColumnsEndpoint) Route() (string, string, http.HandlerFunc) {
	return "GET", "/api/catalog/datasets/{dataset}/tables/{table}/columns", e.handler
}

func (e *ListColumnsEndpoint) RequiresInit() bool { return true }

// handler godoc
//
//	@Summary	List columns of a table
//	@Tags		catalog
//	@Produce	json
//	@Param		dataset	path		string	true	"Dataset"
//	@Param		table	path		string	true	"Table"
//	@Success	200		{object}	ColumnsResponse
//	@Failure	404		{object}	ErrorResponse
//	@Router		/api/catalog/datasets/{dataset}/tables/{table}/columns [get]
func (e *ListColumnsEndpoint) handler(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	wh := svcctx.WarehouseFrom(ctx)
	ref := warehouse.TableRef{Project: wh.Project(), Dataset: r.PathValue("dataset"), Table: r.PathValue("table")}

	cols, err := wh.Columns(ctx, ref)
	if err != nil {
		writeErr(w, err)
		return
	}
	count, err := wh.RowCount(ctx, ref)
	if err != nil {
		writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, ColumnsResponse{Dataset: ref.Dataset, Table: ref.Table, RowCount: count, Columns: cols})
}

func (e *ListColumnsEndpoint) Command(getServerURL func() string) *cobra.Command {
	return &cobra.Command{
		Use:   "columns <dataset> <table>",
		Short: "List the columns of a table",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			client := api.NewClient(getServerURL())
			var resp ColumnsResponse
			path := "/api/catalog/datasets/" + args[0] + "/tables/" + args[1] + "/columns"
			if err := client.Get(cmd.Context(), path, &resp); err != nil {
				return err
			}
			return api.Output(resp)
		},
	}
}

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}
