// Package metrics exposes import and job metrics for Prometheus.
package metrics

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/teranos/dailyix/errors"
	"github.com/teranos/dailyix/ixgest/tabular"
	"github.com/teranos/dailyix/logger"
	"github.com/teranos/dailyix/pulse/async"
)

const namespace = "dailyix"

// Collector records job lifecycle and import outcomes. It implements
// async.JobObserver and owns its registry.
type Collector struct {
	registry *prometheus.Registry

	JobsStarted   *prometheus.CounterVec
	JobsFinished  *prometheus.CounterVec
	JobFailures   *prometheus.CounterVec
	JobDuration   *prometheus.HistogramVec
	JobsInFlight  *prometheus.GaugeVec
	QueueDepth    *prometheus.GaugeVec
	QueueLatency  prometheus.Gauge
	WorkersBusy   prometheus.Gauge
	WorkersTotal  prometheus.Gauge
	MemoryPercent prometheus.Gauge
	RowsProcessed *prometheus.CounterVec
	RowErrors     *prometheus.CounterVec
	Entities      *prometheus.CounterVec
	Relationships prometheus.Counter
	MissingRefs   prometheus.Counter
}

// NewCollector registers every metric on a fresh registry, plus the Go
// runtime and process collectors.
func NewCollector() *Collector {
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	f := promauto.With(reg)

	return &Collector{
		registry: reg,

		JobsStarted: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "jobs_started_total",
			Help:      "Job executions started, by handler",
		}, []string{"handler"}),

		JobsFinished: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "jobs_finished_total",
			Help:      "Job executions finished, by handler and resulting status",
		}, []string{"handler", "status"}),

		JobFailures: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "job_failures_total",
			Help:      "Failed job executions, by handler and error code",
		}, []string{"handler", "code"}),

		JobDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "job_duration_seconds",
			Help:      "Duration of job executions in seconds",
			Buckets:   prometheus.ExponentialBuckets(0.05, 2, 14), // 50ms to ~7 minutes
		}, []string{"handler"}),

		JobsInFlight: f.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "jobs_in_flight",
			Help:      "Jobs currently executing, by handler",
		}, []string{"handler"}),

		QueueDepth: f.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "queue_jobs",
			Help:      "Jobs in the queue, by status",
		}, []string{"status"}),

		QueueLatency: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "queue_latency_seconds",
			Help:      "How long the oldest due job has been waiting",
		}),

		WorkersBusy: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "workers_busy",
			Help:      "Workers currently executing a job",
		}),

		WorkersTotal: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "workers",
			Help:      "Configured worker count",
		}),

		MemoryPercent: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "host_memory_used_percent",
			Help:      "Host memory in use, as seen by the worker pool",
		}),

		RowsProcessed: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "import_rows_processed_total",
			Help:      "Rows committed by imports, by file type",
		}, []string{"file_type"}),

		RowErrors: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "import_row_errors_total",
			Help:      "Rows rejected by imports, by file type",
		}, []string{"file_type"}),

		Entities: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "import_entities_total",
			Help:      "Dailies written by imports, by outcome",
		}, []string{"outcome"}),

		Relationships: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "import_relationships_created_total",
			Help:      "Daily to health pillar links created",
		}),

		MissingRefs: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "import_missing_references_total",
			Help:      "Unique unknown parent names reported by relationship imports",
		}),
	}
}

// Registry returns the collector's registry.
func (c *Collector) Registry() *prometheus.Registry {
	return c.registry
}

// Handler serves the registry in the Prometheus text format.
func (c *Collector) Handler() http.Handler {
	return promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{})
}

// JobStarted implements async.JobObserver.
func (c *Collector) JobStarted(job *async.Job) {
	c.JobsStarted.WithLabelValues(job.HandlerName).Inc()
	c.JobsInFlight.WithLabelValues(job.HandlerName).Inc()
}

// JobFinished implements async.JobObserver.
func (c *Collector) JobFinished(job *async.Job, status async.JobStatus, elapsed time.Duration, failure *async.ErrorContext) {
	c.JobsInFlight.WithLabelValues(job.HandlerName).Dec()
	c.JobsFinished.WithLabelValues(job.HandlerName, string(status)).Inc()
	c.JobDuration.WithLabelValues(job.HandlerName).Observe(elapsed.Seconds())
	if failure != nil {
		c.JobFailures.WithLabelValues(job.HandlerName, string(failure.Code)).Inc()
	}
	c.observeResult(job.Result)
}

// observeResult counts the import summary stored on a job, if any.
func (c *Collector) observeResult(raw json.RawMessage) {
	if len(raw) == 0 {
		return
	}
	var res tabular.Result
	if err := json.Unmarshal(raw, &res); err != nil || res.FileType == "" {
		return
	}

	kind := string(res.FileType)
	c.RowsProcessed.WithLabelValues(kind).Add(float64(res.ProcessedRows))
	c.RowErrors.WithLabelValues(kind).Add(float64(len(res.Errors)))
	if res.TestMode {
		return
	}
	if d := res.DailiesSummary; d != nil {
		c.Entities.WithLabelValues("created").Add(float64(d.EntitiesCreated))
		c.Entities.WithLabelValues("updated").Add(float64(d.EntitiesUpdated))
		c.Entities.WithLabelValues("unchanged").Add(float64(d.EntitiesUnchanged))
	}
	if r := res.RelationshipSummary; r != nil {
		c.Relationships.Add(float64(r.RelationshipsCreated))
		c.MissingRefs.Add(float64(len(r.MissingReferences)))
	}
}

// ObserveQueue copies queue counts and latency into the gauges.
func (c *Collector) ObserveQueue(stats *async.QueueStats, latency time.Duration) {
	c.QueueDepth.WithLabelValues(string(async.JobStatusQueued)).Set(float64(stats.Queued))
	c.QueueDepth.WithLabelValues(string(async.JobStatusProcessing)).Set(float64(stats.Processing))
	c.QueueDepth.WithLabelValues(string(async.JobStatusRetrying)).Set(float64(stats.Retrying))
	c.QueueDepth.WithLabelValues(string(async.JobStatusCompleted)).Set(float64(stats.Completed))
	c.QueueDepth.WithLabelValues(string(async.JobStatusFailed)).Set(float64(stats.Failed))
	c.QueueLatency.Set(latency.Seconds())
}

// ObserveSystem copies worker and host memory figures into the gauges.
func (c *Collector) ObserveSystem(m async.SystemMetrics) {
	c.WorkersBusy.Set(float64(m.WorkersActive))
	c.WorkersTotal.Set(float64(m.WorkersTotal))
	c.MemoryPercent.Set(m.MemoryPercent)
}

// SystemSource reports worker pool resource usage. *async.WorkerPool
// satisfies it.
type SystemSource interface {
	GetSystemMetrics() async.SystemMetrics
}

// SampleQueue refreshes the queue gauges every interval until ctx ends.
// sys may be nil, leaving the worker and memory gauges untouched.
func (c *Collector) SampleQueue(ctx context.Context, queue *async.Queue, sys SystemSource, interval time.Duration, log *zap.SugaredLogger) error {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		if sys != nil {
			c.ObserveSystem(sys.GetSystemMetrics())
		}
		stats, err := queue.GetStats()
		if err == nil {
			var latency time.Duration
			latency, err = queue.OldestDueAge(nil)
			if err == nil {
				c.ObserveQueue(stats, latency)
			}
		}
		if err != nil {
			log.Debugw("Queue sample failed", logger.FieldError, err)
		}

		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}
	}
}

// Serve runs an HTTP server for /metrics on addr until ctx ends.
func Serve(ctx context.Context, addr string, c *Collector, log *zap.SugaredLogger) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", c.Handler())
	srv := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Infow("Metrics server listening", "addr", addr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return errors.Wrapf(err, "metrics server on %s failed", addr)
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return errors.Wrap(err, "metrics server shutdown failed")
		}
		return nil
	}
}
