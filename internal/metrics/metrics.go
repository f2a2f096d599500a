// Package metrics exposes Prometheus collectors for the cascade and the
// preview models.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/jackzampolin/shrinkify/internal/providers"
)

// Recorder owns the shrinkify collectors.
type Recorder struct {
	EventsTotal        *prometheus.CounterVec
	ChunkTransitions   *prometheus.CounterVec
	RowsAppendedTotal  prometheus.Counter
	CleanupErrorsTotal *prometheus.CounterVec
	SubmissionsTotal   *prometheus.CounterVec
	RunsTotal          *prometheus.CounterVec
	PreviewCallsTotal  *prometheus.CounterVec
	PreviewTokensTotal *prometheus.CounterVec
	PreviewLatency     *prometheus.HistogramVec
}

// NewRecorder creates the collectors and registers them with reg.
// Pass prometheus.NewRegistry() in tests to avoid duplicate registration.
func NewRecorder(reg prometheus.Registerer) *Recorder {
	r := &Recorder{
		EventsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "shrinkify_events_total",
				Help: "Table change events received, by outcome",
			},
			[]string{"outcome"},
		),
		ChunkTransitions: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "shrinkify_chunk_transitions_total",
				Help: "Chunk state transitions, by target status",
			},
			[]string{"status"},
		),
		RowsAppendedTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "shrinkify_rows_appended_total",
				Help: "Result rows appended to the output table",
			},
		),
		CleanupErrorsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "shrinkify_cleanup_errors_total",
				Help: "Intermediate table deletions that failed",
			},
			[]string{"table_kind"},
		),
		SubmissionsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "shrinkify_batch_submissions_total",
				Help: "Batch prediction submissions, by status",
			},
			[]string{"status"},
		),
		RunsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "shrinkify_runs_total",
				Help: "Pipeline runs, by terminal status",
			},
			[]string{"status"},
		),
		PreviewCallsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "shrinkify_preview_calls_total",
				Help: "Preview model calls, by provider and status",
			},
			[]string{"provider", "status"},
		),
		PreviewTokensTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "shrinkify_preview_tokens_total",
				Help: "Tokens consumed by preview calls",
			},
			[]string{"provider", "kind"},
		),
		PreviewLatency: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "shrinkify_preview_latency_seconds",
				Help:    "Preview call latency",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"provider"},
		),
	}
	if reg != nil {
		reg.MustRegister(
			r.EventsTotal,
			r.ChunkTransitions,
			r.RowsAppendedTotal,
			r.CleanupErrorsTotal,
			r.SubmissionsTotal,
			r.RunsTotal,
			r.PreviewCallsTotal,
			r.PreviewTokensTotal,
			r.PreviewLatency,
		)
	}
	return r
}

// RecordEvent counts one handled event.
func (r *Recorder) RecordEvent(outcome string) {
	if r == nil {
		return
	}
	r.EventsTotal.WithLabelValues(outcome).Inc()
}

// RecordTransition counts a chunk entering status.
func (r *Recorder) RecordTransition(status string) {
	if r == nil {
		return
	}
	r.ChunkTransitions.WithLabelValues(status).Inc()
}

// RecordAppend counts appended rows.
func (r *Recorder) RecordAppend(rows int64) {
	if r == nil {
		return
	}
	r.RowsAppendedTotal.Add(float64(rows))
}

// RecordCleanupError counts a failed deletion of a "results" or "sub_table" table.
func (r *Recorder) RecordCleanupError(kind string) {
	if r == nil {
		return
	}
	r.CleanupErrorsTotal.WithLabelValues(kind).Inc()
}

// RecordSubmission counts a batch submission attempt.
func (r *Recorder) RecordSubmission(err error) {
	if r == nil {
		return
	}
	r.SubmissionsTotal.WithLabelValues(status(err)).Inc()
}

// RecordRun counts a run reaching a terminal status.
func (r *Recorder) RecordRun(status string) {
	if r == nil {
		return
	}
	r.RunsTotal.WithLabelValues(status).Inc()
}

// RecordLLMCall records a preview completion.
func (r *Recorder) RecordLLMCall(provider string, result *providers.CompletionResult, elapsed time.Duration, err error) {
	if r == nil {
		return
	}
	r.PreviewCallsTotal.WithLabelValues(provider, status(err)).Inc()
	r.PreviewLatency.WithLabelValues(provider).Observe(elapsed.Seconds())
	if result != nil {
		r.PreviewTokensTotal.WithLabelValues(provider, "prompt").Add(float64(result.PromptTokens))
		r.PreviewTokensTotal.WithLabelValues(provider, "completion").Add(float64(result.CompletionTokens))
	}
}

func status(err error) string {
	if err != nil {
		return "error"
	}
	return "ok"
}
