package server

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/jackzampolin/shrinkify/internal/cascade"
	"github.com/jackzampolin/shrinkify/internal/config"
	"github.com/jackzampolin/shrinkify/internal/pipeline"
	"github.com/jackzampolin/shrinkify/internal/predict"
	"github.com/jackzampolin/shrinkify/internal/prompt"
	"github.com/jackzampolin/shrinkify/internal/providers"
	"github.com/jackzampolin/shrinkify/internal/server/endpoints"
	"github.com/jackzampolin/shrinkify/internal/svcctx"
	"github.com/jackzampolin/shrinkify/internal/testutil"
	"github.com/jackzampolin/shrinkify/internal/warehouse"
)

const testProject = "acme"

type testServer struct {
	ts    *httptest.Server
	srv   *Server
	wh    *warehouse.MemoryWarehouse
	sub   *predict.MockSubmitter
	store *cascade.MemoryStore
}

func writeConfig(t *testing.T, yaml string) *config.Manager {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(yaml), 0o644); err != nil {
		t.Fatalf("WriteFile() error = %v", err)
	}
	cm, err := config.NewManager(path)
	if err != nil {
		t.Fatalf("NewManager() error = %v", err)
	}
	return cm
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	cm := writeConfig(t, "store:\n  driver: memory\npipeline:\n  chunk_size: 4\n")

	env := &testServer{
		wh:    warehouse.NewMemoryWarehouse(testProject),
		sub:   predict.NewMockSubmitter(),
		store: cascade.NewMemoryStore(),
	}
	rows := make([]map[string]any, 10)
	for i := range rows {
		rows[i] = map[string]any{"name": fmt.Sprintf("Acme Trail Runner %d Waterproof", i), "brand": "Acme"}
	}
	env.wh.PutTable(warehouse.TableRef{Project: testProject, Dataset: "feeds", Table: "products"}, rows)

	registry := providers.NewRegistry()
	mock := providers.NewMockClient()
	mock.ResponseText = " Acme Runner-="
	registry.Register(providers.MockClientName, mock)

	c := cm.Get()
	handler := &cascade.Handler{
		Warehouse: env.wh,
		Submitter: env.sub,
		Store:     env.store,
		Format:    predict.FormatGemini,
	}
	services := &svcctx.Services{
		Warehouse: env.wh,
		Store:     env.store,
		Handler:   handler,
		Pipeline: &pipeline.Pipeline{
			Warehouse: env.wh,
			Store:     env.store,
			Handler:   handler,
			Settings:  settingsFrom(c, predict.FormatGemini),
		},
		Registry:      registry,
		ConfigManager: cm,
		Logger:        testutil.Logger(),
	}

	srv, err := New(Config{ConfigManager: cm, Services: services, Logger: services.Logger})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	handler.Metrics = services.Metrics
	env.srv = srv
	env.ts = httptest.NewServer(srv.Handler())
	t.Cleanup(env.ts.Close)
	return env
}

func (e *testServer) do(t *testing.T, method, path string, body any, out any) int {
	t.Helper()
	var r io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("Marshal() error = %v", err)
		}
		r = bytes.NewReader(b)
	}
	req, err := http.NewRequest(method, e.ts.URL+path, r)
	if err != nil {
		t.Fatalf("NewRequest() error = %v", err)
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("%s %s error = %v", method, path, err)
	}
	defer resp.Body.Close()
	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			t.Fatalf("decode %s %s: %v", method, path, err)
		}
	}
	return resp.StatusCode
}

// sendEvent posts a binary-mode CloudEvent carrying an audit log entry.
func (e *testServer) sendEvent(t *testing.T, data string, out any) int {
	t.Helper()
	req, err := http.NewRequest(http.MethodPost, e.ts.URL+"/events", strings.NewReader(data))
	if err != nil {
		t.Fatalf("NewRequest() error = %v", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("ce-specversion", "1.0")
	req.Header.Set("ce-id", fmt.Sprintf("evt-%d", time.Now().UnixNano()))
	req.Header.Set("ce-source", "//cloudaudit.googleapis.com/projects/acme/logs/activity")
	req.Header.Set("ce-type", endpoints.AuditLogEventType)
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("POST /events error = %v", err)
	}
	defer resp.Body.Close()
	if out != nil {
		_ = json.NewDecoder(resp.Body).Decode(out)
	}
	return resp.StatusCode
}

func auditLog(table string, rows int) string {
	return fmt.Sprintf(`{"protoPayload": {
		"methodName": "google.cloud.bigquery.v2.JobService.InsertJob",
		"resourceName": "projects/%s/datasets/shrinkify_output/tables/%s",
		"authenticationInfo": {"principalEmail": "vertex@acme.iam.gserviceaccount.com"},
		"metadata": {"tableDataChange": {"insertedRowsCount": "%d"}}
	}}`, testProject, table, rows)
}

func runConfig() pipeline.Config {
	return pipeline.Config{
		Industry:      "retail",
		ProductType:   "shoes",
		CharLimit:     20,
		SourceDataset: "feeds",
		SourceTable:   "products",
		Columns:       []string{"name", "brand"},
		Examples: []prompt.Example{
			{Values: map[string]string{"name": "Acme Trail Runner 1 Waterproof", "brand": "Acme"}, ShortTitle: "Acme Trail Runner"},
		},
	}
}

func TestHealthEndpoints(t *testing.T) {
	env := newTestServer(t)

	var health endpoints.HealthResponse
	if code := env.do(t, "GET", "/health", nil, &health); code != http.StatusOK || health.Status != "ok" {
		t.Errorf("GET /health = %d %+v", code, health)
	}
	var ready endpoints.HealthResponse
	if code := env.do(t, "GET", "/ready", nil, &ready); code != http.StatusOK || ready.Store != "ok" {
		t.Errorf("GET /ready = %d %+v", code, ready)
	}
	var status endpoints.StatusResponse
	if code := env.do(t, "GET", "/status", nil, &status); code != http.StatusOK {
		t.Fatalf("GET /status = %d", code)
	}
	if status.Project != testProject || len(status.Providers) != 1 || status.StateDB.Container != "unmanaged" {
		t.Errorf("status = %+v", status)
	}
}

func TestCatalogEndpoints(t *testing.T) {
	env := newTestServer(t)

	var ds endpoints.DatasetsResponse
	if code := env.do(t, "GET", "/api/catalog/datasets", nil, &ds); code != http.StatusOK {
		t.Fatalf("datasets = %d", code)
	}
	if len(ds.Datasets) != 1 || ds.Datasets[0] != "feeds" {
		t.Errorf("datasets = %v", ds.Datasets)
	}

	var tables endpoints.TablesResponse
	env.do(t, "GET", "/api/catalog/datasets/feeds/tables", nil, &tables)
	if len(tables.Tables) != 1 || tables.Tables[0] != "products" {
		t.Errorf("tables = %v", tables.Tables)
	}

	var cols endpoints.ColumnsResponse
	env.do(t, "GET", "/api/catalog/datasets/feeds/tables/products/columns", nil, &cols)
	if cols.RowCount != 10 || len(cols.Columns) != 2 {
		t.Errorf("columns = %+v", cols)
	}

	if code := env.do(t, "GET", "/api/catalog/datasets/feeds/tables/missing/columns", nil, nil); code != http.StatusNotFound {
		t.Errorf("missing table = %d, want 404", code)
	}
}

func TestExamplesAndPrompt(t *testing.T) {
	env := newTestServer(t)

	var sample endpoints.SampleResponse
	code := env.do(t, "POST", "/api/examples/sample", endpoints.SampleRequest{
		SourceDataset: "feeds", SourceTable: "products", Columns: []string{"name", "brand"},
	}, &sample)
	if code != http.StatusOK {
		t.Fatalf("sample = %d", code)
	}
	if len(sample.Examples) != 5 {
		t.Fatalf("sampled %d examples, want the configured 5", len(sample.Examples))
	}
	ex := sample.Examples[0]
	if ex.ShortTitle != ex.Values["name"] || ex.CharCount != len(ex.Values["name"]) {
		t.Errorf("example = %+v", ex)
	}

	var p endpoints.PromptResponse
	if code := env.do(t, "POST", "/api/prompt", runConfig(), &p); code != http.StatusOK {
		t.Fatalf("prompt = %d", code)
	}
	if !strings.Contains(p.PromptBase, "less than 20 characters") || !strings.Contains(p.PromptBase, "Acme Trail Runner-=") {
		t.Errorf("prompt base = %q", p.PromptBase)
	}

	var preview endpoints.PreviewResponse
	code = env.do(t, "POST", "/api/examples/preview", endpoints.PreviewRequest{Config: runConfig(), Provider: "mock"}, &preview)
	if code != http.StatusOK {
		t.Fatalf("preview = %d", code)
	}
	if len(preview.Suggestions) != 1 || preview.Suggestions[0].Title != "Acme Runner" {
		t.Errorf("suggestions = %+v", preview.Suggestions)
	}

	if code := env.do(t, "POST", "/api/examples/preview", endpoints.PreviewRequest{Config: runConfig(), Provider: "nope"}, nil); code != http.StatusBadRequest {
		t.Errorf("unknown provider = %d, want 400", code)
	}
}

func TestRunLifecycle(t *testing.T) {
	env := newTestServer(t)

	bad := runConfig()
	bad.CharLimit = 61
	if code := env.do(t, "POST", "/api/runs", bad, nil); code != http.StatusBadRequest {
		t.Errorf("invalid config = %d, want 400", code)
	}

	var created endpoints.CreateRunResponse
	if code := env.do(t, "POST", "/api/runs", runConfig(), &created); code != http.StatusCreated {
		t.Fatalf("create = %d (%s)", code, created.Error)
	}
	if created.Plan.TotalChunks() != 3 {
		t.Fatalf("chunks = %d, want 3", created.Plan.TotalChunks())
	}
	if got := env.sub.SourceTables(); len(got) != 1 || got[0] != "sub_table_0" {
		t.Errorf("submitted = %v, want only sub_table_0", got)
	}

	if code := env.do(t, "POST", "/api/runs", runConfig(), nil); code != http.StatusConflict {
		t.Errorf("concurrent run = %d, want 409", code)
	}

	// Each finished job triggers the next chunk.
	for k, rows := range []int{4, 4, 2} {
		results := make([]map[string]any, rows)
		for i := range results {
			results[i] = map[string]any{"prediction": fmt.Sprintf("title %d", i)}
		}
		env.wh.PutTable(warehouse.TableRef{Project: testProject, Dataset: "shrinkify_output", Table: fmt.Sprintf("results_%d", k)}, results)

		var res cascade.Result
		if code := env.sendEvent(t, auditLog(fmt.Sprintf("results_%d", k), rows), &res); code != http.StatusOK {
			t.Fatalf("event %d = %d", k, code)
		}
		want := cascade.OutcomeAdvanced
		if k == 2 {
			want = cascade.OutcomeCompleted
		}
		if res.Outcome != want {
			t.Errorf("event %d outcome = %s, want %s", k, res.Outcome, want)
		}
	}

	var got endpoints.GetRunResponse
	if code := env.do(t, "GET", "/api/runs/"+created.Run.ID, nil, &got); code != http.StatusOK {
		t.Fatalf("get run = %d", code)
	}
	if got.Run.Status != cascade.RunCompleted || len(got.Chunks) != 3 {
		t.Errorf("run = %+v", got)
	}
	output := env.wh.Rows(warehouse.TableRef{Project: testProject, Dataset: "shrinkify_output", Table: "shrinkify_final"})
	if len(output) != 10 {
		t.Errorf("output rows = %d, want 10", len(output))
	}

	var list endpoints.ListRunsResponse
	env.do(t, "GET", "/api/runs?limit=5", nil, &list)
	if len(list.Runs) != 1 {
		t.Errorf("runs = %d, want 1", len(list.Runs))
	}

	if code := env.do(t, "POST", "/api/runs/"+created.Run.ID+"/chunks/0/retry", nil, nil); code != http.StatusConflict {
		t.Errorf("retry on completed run = %d, want 409", code)
	}
	if code := env.do(t, "GET", "/api/runs/unknown", nil, nil); code != http.StatusNotFound {
		t.Errorf("unknown run = %d, want 404", code)
	}
}

func TestEventsEndpoint_Rejections(t *testing.T) {
	env := newTestServer(t)

	if code := env.sendEvent(t, `{"protoPayload": 7}`, nil); code != http.StatusBadRequest {
		t.Errorf("invalid payload = %d, want 400", code)
	}

	var res cascade.Result
	if code := env.sendEvent(t, auditLog("sub_table_0", 3), &res); code != http.StatusOK || res.Outcome != cascade.OutcomeIgnored {
		t.Errorf("non-results table = %d %s", code, res.Outcome)
	}

	req, _ := http.NewRequest(http.MethodPost, env.ts.URL+"/events", strings.NewReader("{}"))
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("POST /events error = %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("plain POST = %d, want 400", resp.StatusCode)
	}
}

func TestMetricsEndpoint(t *testing.T) {
	env := newTestServer(t)
	env.sendEvent(t, auditLog("sub_table_0", 3), nil)

	resp, err := http.Get(env.ts.URL + "/metrics")
	if err != nil {
		t.Fatalf("GET /metrics error = %v", err)
	}
	defer resp.Body.Close()
	body, _ := io.ReadAll(resp.Body)
	if !strings.Contains(string(body), "shrinkify_events_total") {
		t.Error("metrics should include shrinkify_events_total")
	}
}

func TestRequireInit(t *testing.T) {
	cm := writeConfig(t, "store:\n  driver: memory\n")
	srv, err := New(Config{ConfigManager: cm, Logger: testutil.Logger()})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	ts := httptest.NewServer(srv.Handler())
	defer ts.Close()

	resp, err := http.Get(ts.URL + "/api/catalog/datasets")
	if err != nil {
		t.Fatalf("GET error = %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusServiceUnavailable {
		t.Errorf("status = %d, want 503 before Start", resp.StatusCode)
	}

	resp, err = http.Get(ts.URL + "/health")
	if err != nil {
		t.Fatalf("GET error = %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Errorf("health = %d, want 200", resp.StatusCode)
	}
}

func TestStart_ShutsDownOnCancel(t *testing.T) {
	env := newTestServer(t)
	port, err := testutil.FindFreePort()
	if err != nil {
		t.Fatalf("FindFreePort() error = %v", err)
	}
	env.srv.httpServer.Addr = "127.0.0.1:" + port

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- env.srv.Start(ctx) }()

	deadline := time.Now().Add(5 * time.Second)
	for !env.srv.IsRunning() && time.Now().Before(deadline) {
		time.Sleep(10 * time.Millisecond)
	}
	cancel()
	if err := testutil.WaitForShutdown(done, 10*time.Second); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	if env.srv.IsRunning() {
		t.Error("server should not be running after shutdown")
	}
}
