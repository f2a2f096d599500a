package endpoints

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/jackzampolin/shrinkify/internal/api"
	"github.com/jackzampolin/shrinkify/internal/statedb"
)

// Config holds dependencies needed by some endpoints. The CLI builds the
// registry with a zero Config; only the server-side handlers read it.
type Config struct {
	StateDB         *statedb.DockerManager
	Gatherer        prometheus.Gatherer
	SwaggerSpecPath string
}

// NewRegistry returns the registry of every Shrinkify endpoint.
func NewRegistry(cfg Config) *api.Registry {
	r := api.NewRegistry()

	r.Register(
		&HealthEndpoint{},
		&ReadyEndpoint{},
		&StatusEndpoint{StateDB: cfg.StateDB},
		&MetricsEndpoint{Gatherer: cfg.Gatherer},
		&PromptEndpoint{},
		&SwaggerEndpoint{SpecPath: cfg.SwaggerSpecPath},
	)

	r.RegisterGroup("catalog", "Browse datasets, tables and columns in the warehouse",
		&ListDatasetsEndpoint{},
		&ListTablesEndpoint{},
		&ListColumnsEndpoint{},
	)
	r.RegisterGroup("examples", "Sample and preview few-shot examples",
		&SampleExamplesEndpoint{},
		&PreviewExamplesEndpoint{},
	)
	r.RegisterGroup("runs", "Start and inspect shortening runs",
		&CreateRunEndpoint{},
		&ListRunsEndpoint{},
		&GetRunEndpoint{},
		&RetryChunkEndpoint{},
	)
	r.RegisterGroup("events", "Deliver completion events to the server",
		&EventsEndpoint{},
	)

	return r
}
