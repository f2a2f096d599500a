package endpoints

import (
	"fmt"
	"net/http"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/jackzampolin/shrinkify/internal/api"
	"github.com/jackzampolin/shrinkify/internal/pipeline"
	"github.com/jackzampolin/shrinkify/internal/prompt"
	"github.com/jackzampolin/shrinkify/internal/sheet"
	"github.com/jackzampolin/shrinkify/internal/svcctx"
	"github.com/jackzampolin/shrinkify/internal/warehouse"
)

// autoSheetPath asks the sample command to pick a sheet path under the home directory.
const autoSheetPath = "auto"

// ExampleView is an example with its live character count.
type ExampleView struct {
	Values     map[string]string `json:"values"`
	ShortTitle string            `json:"short_title"`
	CharCount  int               `json:"char_count"`
}

func exampleViews(examples []prompt.Example) []ExampleView {
	out := make([]ExampleView, len(examples))
	for i, ex := range examples {
		out[i] = ExampleView{Values: ex.Values, ShortTitle: ex.ShortTitle, CharCount: ex.CharCount()}
	}
	return out
}

func (v ExampleView) example() prompt.Example {
	return prompt.Example{Values: v.Values, ShortTitle: v.ShortTitle}
}

// SampleRequest selects the rows offered as examples.
type SampleRequest struct {
	SourceDataset string   `json:"source_dataset"`
	SourceTable   string   `json:"source_table"`
	Columns       []string `json:"columns"`
	N             int      `json:"n,omitempty"`
}

// SampleResponse holds sampled examples ready for editing.
type SampleResponse struct {
	Columns  []string      `json:"columns"`
	Examples []ExampleView `json:"examples"`
}

// SampleExamplesEndpoint handles POST /api/examples/sample.
type SampleExamplesEndpoint struct{}

func (e *SampleExamplesEndpoint) Route() (string, string, http.HandlerFunc) {
	return "POST", "/api/examples/sample", e.handler
}

func (e *SampleExamplesEndpoint) RequiresInit() bool { return true }

// handler godoc
//
//	@Summary		Sample example rows
//	@Description	Draws random rows of the selected columns; each short title starts as the name column
//	@Tags			examples
//	@Accept			json
//	@Produce		json
//	@Param			request	body		SampleRequest	true	"Sample request"
//	@Success		200		{object}	SampleResponse
//	@Failure		400		{object}	ErrorResponse
//	@Failure		404		{object}	ErrorResponse
//	@Router			/api/examples/sample [post]
func (e *SampleExamplesEndpoint) handler(w http.ResponseWriter, r *http.Request) {
	var req SampleRequest
	if !decodeBody(w, r, &req) {
		return
	}
	ctx := r.Context()
	if req.N <= 0 {
		if cm := svcctx.ConfigManagerFrom(ctx); cm != nil {
			req.N = cm.Get().Pipeline.SampleSize
		}
	}

	wh := svcctx.WarehouseFrom(ctx)
	source := warehouse.TableRef{Project: wh.Project(), Dataset: req.SourceDataset, Table: req.SourceTable}
	examples, err := pipeline.SampleExamples(ctx, wh, source, req.Columns, req.N)
	if err != nil {
		writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, SampleResponse{Columns: req.Columns, Examples: exampleViews(examples)})
}

func (e *SampleExamplesEndpoint) Command(getServerURL func() string) *cobra.Command {
	var (
		columns  []string
		n        int
		xlsxPath string
	)
	cmd := &cobra.Command{
		Use:   "sample <dataset> <table>",
		Short: "Sample rows to hand-edit as examples",
		Long: `Sample rows of the selected columns to use as few-shot examples.

With --xlsx the examples are written to a sheet with a live character count
column. Edit the "Short Title" column and pass the sheet to
"shrinkify api runs create --examples". A bare --xlsx writes the sheet under
the home directory.`,
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			if len(columns) == 0 {
				return fmt.Errorf("--columns is required")
			}
			client := api.NewClient(getServerURL())
			var resp SampleResponse
			req := SampleRequest{SourceDataset: args[0], SourceTable: args[1], Columns: columns, N: n}
			if err := client.Post(cmd.Context(), "/api/examples/sample", req, &resp); err != nil {
				return err
			}
			if xlsxPath == "" {
				return api.Output(resp)
			}

			if xlsxPath == autoSheetPath {
				dir, err := homeDir(cmd)
				if err != nil {
					return err
				}
				xlsxPath = dir.ExamplesSheetPath(args[0], args[1])
			}
			if err := writeSheet(xlsxPath, resp); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Wrote %d examples to %s\n", len(resp.Examples), xlsxPath)
			return nil
		},
	}
	cmd.Flags().StringSliceVar(&columns, "columns", nil, "context columns to sample (required)")
	cmd.Flags().IntVarP(&n, "n", "n", 0, "number of rows (default: pipeline.sample_size)")
	cmd.Flags().StringVar(&xlsxPath, "xlsx", "", "write the examples to an .xlsx sheet")
	cmd.Flags().Lookup("xlsx").NoOptDefVal = autoSheetPath
	return cmd
}

func writeSheet(path string, resp SampleResponse) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	examples := make([]prompt.Example, len(resp.Examples))
	for i, v := range resp.Examples {
		examples[i] = v.example()
	}
	if err := sheet.Write(f, resp.Columns, examples); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}

// PreviewRequest asks a synchronous model for titles of the examples' contexts.
type PreviewRequest struct {
	Config   pipeline.Config `json:"config"`
	Provider string          `json:"provider,omitempty"`
}

// PreviewResponse holds the suggested titles.
type PreviewResponse struct {
	Provider    string                `json:"provider"`
	CharLimit   int                   `json:"char_limit"`
	Suggestions []pipeline.Suggestion `json:"suggestions"`
}

// PreviewExamplesEndpoint handles POST /api/examples/preview.
type PreviewExamplesEndpoint struct{}

func (e *PreviewExamplesEndpoint) Route() (string, string, http.HandlerFunc) {
	return "POST", "/api/examples/preview", e.handler
}

func (e *PreviewExamplesEndpoint) RequiresInit() bool { return true }

// handler godoc
//
//	@Summary		Preview short titles
//	@Description	Runs the preview model on each example context with the batch prompt
//	@Tags			examples
//	@Accept			json
//	@Produce		json
//	@Param			request	body		PreviewRequest	true	"Preview request"
//	@Success		200		{object}	PreviewResponse
//	@Failure		400		{object}	ErrorResponse
//	@Router			/api/examples/preview [post]
func (e *PreviewExamplesEndpoint) handler(w http.ResponseWriter, r *http.Request) {
	var req PreviewRequest
	if !decodeBody(w, r, &req) {
		return
	}
	ctx := r.Context()

	name := req.Provider
	if name == "" {
		if cm := svcctx.ConfigManagerFrom(ctx); cm != nil {
			name = cm.Get().Preview.DefaultProvider
		}
	}
	registry := svcctx.RegistryFrom(ctx)
	if registry == nil {
		writeError(w, http.StatusServiceUnavailable, "preview providers not initialized")
		return
	}
	client, err := registry.Get(name)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	suggestions, err := pipeline.PreviewTitles(ctx, client, req.Config, svcctx.MetricsFrom(ctx))
	if err != nil {
		writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, PreviewResponse{
		Provider:    client.Name(),
		CharLimit:   req.Config.EffectiveCharLimit(),
		Suggestions: suggestions,
	})
}

func (e *PreviewExamplesEndpoint) Command(getServerURL func() string) *cobra.Command {
	var (
		flags    runFlags
		provider string
	)
	cmd := &cobra.Command{
		Use:   "preview <dataset> <table>",
		Short: "Preview short titles for the examples in a sheet",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := flags.config(args[0], args[1])
			if err != nil {
				return err
			}
			client := api.NewClient(getServerURL())
			var resp PreviewResponse
			if err := client.Post(cmd.Context(), "/api/examples/preview", PreviewRequest{Config: cfg, Provider: provider}, &resp); err != nil {
				return err
			}
			return api.Output(resp)
		},
	}
	flags.register(cmd)
	cmd.Flags().StringVar(&provider, "provider", "", "preview provider (default: preview.default_provider)")
	return cmd
}
