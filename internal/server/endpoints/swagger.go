package endpoints

import (
	"encoding/json"
	"net/http"
	"os"

	"github.com/spf13/cobra"

	"github.com/jackzampolin/shrinkify/internal/api"
)

// DefaultSwaggerPath is where `go generate ./docs` writes the OpenAPI document.
const DefaultSwaggerPath = "docs/swagger/swagger.json"

// SwaggerEndpoint serves the generated OpenAPI document from disk.
type SwaggerEndpoint struct {
	SpecPath string
}

func (e *SwaggerEndpoint) Route() (string, string, http.HandlerFunc) {
	return http.MethodGet, "/swagger.json", e.serve
}

func (e *SwaggerEndpoint) RequiresInit() bool { return false }

func (e *SwaggerEndpoint) path() string {
	if e.SpecPath != "" {
		return e.SpecPath
	}
	return DefaultSwaggerPath
}

func (e *SwaggerEndpoint) serve(w http.ResponseWriter, r *http.Request) {
	doc, err := os.ReadFile(e.path())
	if err != nil {
		writeError(w, http.StatusNotFound, "openapi document not generated; run go generate ./docs")
		return
	}
	if !json.Valid(doc) {
		writeError(w, http.StatusInternalServerError, "openapi document is not valid JSON")
		return
	}
	w.Header().Set("Content-Type", "application/json")
	_, _ = w.Write(doc)
}

func (e *SwaggerEndpoint) Command(getServerURL func() string) *cobra.Command {
	var outFile string
	cmd := &cobra.Command{
		Use:   "swagger",
		Short: "Fetch the server's OpenAPI document",
		RunE: func(cmd *cobra.Command, args []string) error {
			var doc map[string]any
			if err := api.NewClient(getServerURL()).Get(cmd.Context(), "/swagger.json", &doc); err != nil {
				return err
			}
			if outFile == "" {
				return api.Output(doc)
			}
			f, err := os.Create(outFile)
			if err != nil {
				return err
			}
			if err := api.OutputTo(f, api.OutputFormatJSON, doc); err != nil {
				f.Close()
				return err
			}
			return f.Close()
		},
	}
	cmd.Flags().StringVarP(&outFile, "file", "f", "", "write the document to a file instead of stdout")
	return cmd
}
