// Package metrics implements a Prometheus-backed Observer: a peripheral
// collaborator that turns schedule-lifecycle and execution events into
// counters, histograms, and gauges without participating in scheduling
// itself.
package metrics

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"chronoflow/internal/eventlog"
	"chronoflow/internal/execution"
)

// Observer is a push-model Prometheus Observer: unlike a pull-based
// collector that queries a store on scrape, it updates counters/gauges as
// lifecycle events arrive, since the Scheduler Core has no queryable store
// of its own to poll.
type Observer struct {
	registry *prometheus.Registry

	executionsTotal   *prometheus.CounterVec
	executionDuration *prometheus.HistogramVec
	schedulerEvents   *prometheus.CounterVec
	activeJobs        prometheus.Gauge
	inflight          prometheus.Gauge
}

func NewObserver() *Observer {
	registry := prometheus.NewRegistry()
	factory := promauto.With(registry)

	o := &Observer{
		registry: registry,
		executionsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "chronoflow_job_executions_total",
			Help: "Total number of job executions, by job_id and terminal status.",
		}, []string{"job_id", "status"}),
		executionDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "chronoflow_job_execution_duration_seconds",
			Help:    "Execution duration in seconds, by job_id.",
			Buckets: prometheus.DefBuckets,
		}, []string{"job_id"}),
		schedulerEvents: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "chronoflow_scheduler_events_total",
			Help: "Total number of schedule-lifecycle events, by event type.",
		}, []string{"event_type"}),
		activeJobs: factory.NewGauge(prometheus.GaugeOpts{
			Name: "chronoflow_active_jobs",
			Help: "Number of jobs currently present in the schedule table.",
		}),
		inflight: factory.NewGauge(prometheus.GaugeOpts{
			Name: "chronoflow_inflight_executions",
			Help: "Number of executions currently running.",
		}),
	}
	registry.MustRegister(collectors.NewGoCollector())
	registry.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	return o
}

func (o *Observer) OnEvent(e eventlog.Event) {
	o.schedulerEvents.WithLabelValues(string(e.Type)).Inc()
	switch e.Type {
	case eventlog.Add:
		o.activeJobs.Inc()
	case eventlog.Delete, eventlog.SkippedPastDue, eventlog.Complete:
		o.activeJobs.Dec()
	}
}

func (o *Observer) OnExecutionStarted(executionID, jobID string, startTime time.Time) {
	o.inflight.Inc()
}

func (o *Observer) OnExecutionFinished(rec execution.Record) {
	o.inflight.Dec()
	o.executionsTotal.WithLabelValues(rec.JobID, string(rec.Status)).Inc()
	o.executionDuration.WithLabelValues(rec.JobID).Observe(rec.DurationSeconds)
}

// Handler returns the HTTP handler to mount at the metrics endpoint.
func (o *Observer) Handler() http.Handler {
	return promhttp.HandlerFor(o.registry, promhttp.HandlerOpts{})
}

// Serve runs a dedicated metrics HTTP server on addr until ctx is
// cancelled.
func (o *Observer) Serve(ctx context.Context, addr string) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", o.Handler())
	srv := &http.Server{Addr: addr, Handler: mux}

	errCh := make(chan error, 1)
	go func() { errCh <- srv.ListenAndServe() }()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
}
