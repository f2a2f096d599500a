package endpoints

import (
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/spf13/cobra"

	"github.com/jackzampolin/shrinkify/internal/api"
)

func TestSwaggerEndpoint(t *testing.T) {
	dir := t.TempDir()
	good := filepath.Join(dir, "swagger.json")
	bad := filepath.Join(dir, "broken.json")
	if err := os.WriteFile(good, []byte(`{"swagger":"2.0","info":{"title":"Shrinkify API"}}`), 0o644); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(bad, []byte(`{"swagger":`), 0o644); err != nil {
		t.Fatal(err)
	}

	tests := []struct {
		name string
		path string
		want int
	}{
		{"served", good, http.StatusOK},
		{"missing", filepath.Join(dir, "nope.json"), http.StatusNotFound},
		{"invalid", bad, http.StatusInternalServerError},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, _, h := (&SwaggerEndpoint{SpecPath: tt.path}).Route()
			rec := httptest.NewRecorder()
			h(rec, httptest.NewRequest(http.MethodGet, "/swagger.json", nil))
			if rec.Code != tt.want {
				t.Errorf("status = %d, want %d (%s)", rec.Code, tt.want, rec.Body.String())
			}
		})
	}

	t.Run("command writes file", func(t *testing.T) {
		reg := api.NewRegistry()
		reg.Register(&SwaggerEndpoint{SpecPath: good})
		mux := http.NewServeMux()
		reg.RegisterRoutes(mux, func(h http.HandlerFunc) http.HandlerFunc { return h })
		srv := httptest.NewServer(mux)
		defer srv.Close()

		root := &cobra.Command{Use: "api"}
		reg.AddCommands(root, func() string { return srv.URL })
		out := filepath.Join(dir, "fetched.json")
		root.SetArgs([]string{"swagger", "-f", out})
		if err := root.Execute(); err != nil {
			t.Fatalf("swagger command: %v", err)
		}
		data, err := os.ReadFile(out)
		if err != nil {
			t.Fatal(err)
		}
		if len(data) == 0 {
			t.Error("fetched document is empty")
		}
	})
}
