package endpoints

import (
	"net/http"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/jackzampolin/shrinkify/internal/api"
	"github.com/jackzampolin/shrinkify/internal/cascade"
	"github.com/jackzampolin/shrinkify/internal/pipeline"
	"github.com/jackzampolin/shrinkify/internal/svcctx"
)

// CreateRunResponse is the started run. Error is set when the run was
// created but chunk 0 could not be submitted.
type CreateRunResponse struct {
	pipeline.Started
	Error string `json:"error,omitempty"`
}

// CreateRunEndpoint handles POST /api/runs.
type CreateRunEndpoint struct{}

func (e *CreateRunEndpoint) Route() (string, string, http.HandlerFunc) {
	return "POST", "/api/runs", e.handler
}

func (e *CreateRunEndpoint) RequiresInit() bool { return true }

// handler godoc
//
//	@Summary		Start a shortening run
//	@Description	Partitions the source table into sub-tables and submits the first batch job
//	@Tags			runs
//	@Accept			json
//	@Produce		json
//	@Param			request	body		pipeline.Config	true	"Run config"
//	@Success		201		{object}	CreateRunResponse
//	@Failure		400		{object}	ErrorResponse
//	@Failure		409		{object}	ErrorResponse
//	@Failure		500		{object}	CreateRunResponse
//	@Router			/api/runs [post]
func (e *CreateRunEndpoint) handler(w http.ResponseWriter, r *http.Request) {
	var cfg pipeline.Config
	if !decodeBody(w, r, &cfg) {
		return
	}

	started, err := svcctx.PipelineFrom(r.Context()).Start(r.Context(), cfg)
	if err != nil {
		if started.Run.ID == "" {
			writeErr(w, err)
			return
		}
		writeJSON(w, statusFor(err), CreateRunResponse{Started: started, Error: err.Error()})
		return
	}
	writeJSON(w, http.StatusCreated, CreateRunResponse{Started: started})
}

func (e *CreateRunEndpoint) Command(getServerURL func() string) *cobra.Command {
	var flags runFlags
	cmd := &cobra.Command{
		Use:   "create <dataset> <table>",
		Short: "Start shortening the titles of a table",
		Long: `Start a run over dataset.table.

The server partitions the table into sub-tables, submits the first batch
prediction job and returns. Each finished job triggers the next one; results
are appended to the output table.`,
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := flags.config(args[0], args[1])
			if err != nil {
				return err
			}
			client := api.NewClient(getServerURL())
			var resp CreateRunResponse
			if err := client.Post(cmd.Context(), "/api/runs", cfg, &resp); err != nil {
				return err
			}
			return api.Output(resp)
		},
	}
	flags.register(cmd)
	return cmd
}

// ListRunsResponse lists recent runs, newest first.
type ListRunsResponse struct {
	Runs []cascade.Run `json:"runs"`
}

// ListRunsEndpoint handles GET /api/runs.
type ListRunsEndpoint struct{}

func (e *ListRunsEndpoint) Route() (string, string, http.HandlerFunc) {
	return "GET", "/api/runs", e.handler
}

func (e *ListRunsEndpoint) RequiresInit() bool { return true }

// handler godoc
//
//	@Summary	List runs
//	@Tags		runs
//	@Produce	json
//	@Param		limit	query		int	false	"Maximum runs to return"	default(20)
//	@Success	200		{object}	ListRunsResponse
//	@Router		/api/runs [get]
func (e *ListRunsEndpoint) handler(w http.ResponseWriter, r *http.Request) {
	limit := 20
	if s := r.URL.Query().Get("limit"); s != "" {
		n, err := strconv.Atoi(s)
		if err != nil || n <= 0 {
			writeError(w, http.StatusBadRequest, "limit must be a positive integer")
			return
		}
		limit = n
	}
	runs, err := svcctx.StoreFrom(r.Context()).ListRuns(r.Context(), limit)
	if err != nil {
		writeErr(w, err)
		return
	}
	if runs == nil {
		runs = []cascade.Run{}
	}
	writeJSON(w, http.StatusOK, ListRunsResponse{Runs: runs})
}

func (e *ListRunsEndpoint) Command(getServerURL func() string) *cobra.Command {
	var limit int
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List recent runs",
		RunE: func(cmd *cobra.Command, args []string) error {
			client := api.NewClient(getServerURL())
			var resp ListRunsResponse
			if err := client.Get(cmd.Context(), "/api/runs?limit="+strconv.Itoa(limit), &resp); err != nil {
				return err
			}
			return api.Output(resp)
		},
	}
	cmd.Flags().IntVar(&limit, "limit", 20, "maximum runs to list")
	return cmd
}

// GetRunResponse is a run with the state of each chunk.
type GetRunResponse struct {
	Run    cascade.Run          `json:"run"`
	Chunks []cascade.ChunkState `json:"chunks"`
}

// GetRunEndpoint handles GET /api/runs/{id}.
type GetRunEndpoint struct{}

func (e *GetRunEndpoint) Route() (string, string, http.HandlerFunc) {
	return "GET", "/api/runs/{id}", e.handler
}

func (e *GetRunEndpoint) RequiresInit() bool { return true }

// handler godoc
//
//	@Summary	Get a run with its chunk states
//	@Tags		runs
//	@Produce	json
//	@Param		id	path		string	true	"Run ID"
//	@Success	200	{object}	GetRunResponse
//	@Failure	404	{object}	ErrorResponse
//	@Router		/api/runs/{id} [get]
func (e *GetRunEndpoint) handler(w http.ResponseWriter, r *http.Request) {
	run, chunks, err := svcctx.PipelineFrom(r.Context()).Status(r.Context(), r.PathValue("id"))
	if err != nil {
		writeErr(w, err)
		return
	}
	if chunks == nil {
		chunks = []cascade.ChunkState{}
	}
	writeJSON(w, http.StatusOK, GetRunResponse{Run: run, Chunks: chunks})
}

func (e *GetRunEndpoint) Command(getServerURL func() string) *cobra.Command {
	return &cobra.Command{
		Use:   "get <id>",
		Short: "Get a run and the state of each chunk",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client := api.NewClient(getServerURL())
			var resp GetRunResponse
			if err := client.Get(cmd.Context(), "/api/runs/"+args[0], &resp); err != nil {
				return err
			}
			return api.Output(resp)
		},
	}
}

// RetryChunkEndpoint handles POST /api/runs/{id}/chunks/{index}/retry.
type RetryChunkEndpoint struct{}

func (e *RetryChunkEndpoint) Route() (string, string, http.HandlerFunc) {
	return "POST", "/api/runs/{id}/chunks/{index}/retry", e.handler
}

func (e *RetryChunkEndpoint) RequiresInit() bool { return true }

// handler godoc
//
//	@Summary		Retry a failed or stuck chunk
//	@Description	Resubmits a chunk that failed to submit, or re-runs append and cleanup for a chunk that failed or stopped while appending
//	@Tags			runs
//	@Produce		json
//	@Param			id		path		string	true	"Run ID"
//	@Param			index	path		int		true	"Chunk index"
//	@Success		200		{object}	cascade.Result
//	@Failure		404		{object}	ErrorResponse
//	@Failure		409		{object}	ErrorResponse
//	@Router			/api/runs/{id}/chunks/{index}/retry [post]
func (e *RetryChunkEndpoint) handler(w http.ResponseWriter, r *http.Request) {
	k, err := strconv.Atoi(r.PathValue("index"))
	if err != nil || k < 0 {
		writeError(w, http.StatusBadRequest, "chunk index must be a non-negative integer")
		return
	}
	res, err := svcctx.HandlerFrom(r.Context()).Retry(r.Context(), r.PathValue("id"), k)
	if err != nil {
		writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (e *RetryChunkEndpoint) Command(getServerURL func() string) *cobra.Command {
	return &cobra.Command{
		Use:   "retry <id> <chunk>",
		Short: "Retry a failed or stuck chunk",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			if _, err := strconv.Atoi(args[1]); err != nil {
				return err
			}
			client := api.NewClient(getServerURL())
			var resp cascade.Result
			if err := client.Post(cmd.Context(), "/api/runs/"+args[0]+"/chunks/"+args[1]+"/retry", nil, &resp); err != nil {
				return err
			}
			return api.Output(resp)
		},
	}
}
