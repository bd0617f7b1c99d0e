// Package metrics holds the prometheus collectors of the fdbk service and
// a periodic logger of go runtime and process statistics.
package metrics

import (
	"context"
	"net/http"
	"os"
	"strconv"
	"time"

	"github.com/mongodb/grip"
	"github.com/mongodb/grip/message"
	"github.com/mongodb/grip/recovery"
	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "fdbk"

// Metrics are the service level collectors. Every instance has its own
// registry so that tests and multiple servers do not collide.
type Metrics struct {
	registry *prometheus.Registry

	RequestsTotal   *prometheus.CounterVec
	RequestDuration *prometheus.HistogramVec
	TopicsAdded     prometheus.Counter
	DataPointsAdded prometheus.Counter
	Warnings        *prometheus.CounterVec
	PipelineRuns    *prometheus.HistogramVec
}

// New creates and registers the collectors, including the go runtime and
// process collectors.
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),

		RequestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "http",
				Name:      "requests_total",
				Help:      "Total number of handled HTTP requests",
			},
			[]string{"method", "route", "status"},
		),

		RequestDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Subsystem: "http",
				Name:      "request_duration_seconds",
				Help:      "HTTP request duration in seconds",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"method", "route"},
		),

		TopicsAdded: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "storage",
				Name:      "topics_added_total",
				Help:      "Total number of added topics",
			},
		),

		DataPointsAdded: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "storage",
				Name:      "data_points_added_total",
				Help:      "Total number of added data points",
			},
		),

		Warnings: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "datatools",
				Name:      "warnings_total",
				Help:      "Total number of warnings produced by data tool runs",
			},
			[]string{"operation"},
		),

		PipelineRuns: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Subsystem: "datatools",
				Name:      "run_duration_seconds",
				Help:      "Duration of summary, comparison and overview runs in seconds",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"operation"},
		),
	}

	m.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.RequestsTotal,
		m.RequestDuration,
		m.TopicsAdded,
		m.DataPointsAdded,
		m.Warnings,
		m.PipelineRuns,
	)

	return m
}

// Registry returns the registry of the collectors.
func (m *Metrics) Registry() *prometheus.Registry { return m.registry }

// Handler serves the registry in the prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{EnableOpenMetrics: true})
}

// ObserveRequest records a handled request.
func (m *Metrics) ObserveRequest(method, route string, status int, duration time.Duration) {
	m.RequestsTotal.WithLabelValues(method, route, strconv.Itoa(status)).Inc()
	m.RequestDuration.WithLabelValues(method, route).Observe(duration.Seconds())
}

// ObservePipeline records a data tools run and its warnings.
func (m *Metrics) ObservePipeline(operation string, warnings int, duration time.Duration) {
	m.PipelineRuns.WithLabelValues(operation).Observe(duration.Seconds())
	if warnings > 0 {
		m.Warnings.WithLabelValues(operation).Add(float64(warnings))
	}
}

// CollectOptions are the settings of the runtime statistics logger.
type CollectOptions struct {
	CollectionInterval time.Duration
	IncludeProcess     bool
}

// NewCollectOptions logs go runtime statistics every minute.
func NewCollectOptions() CollectOptions {
	return CollectOptions{CollectionInterval: time.Minute}
}

// Validate checks the collection settings.
func (opts CollectOptions) Validate() error {
	catcher := grip.NewBasicCatcher()
	catcher.NewWhen(opts.CollectionInterval < time.Second,
		"collection interval must be at least a second")
	return catcher.Resolve()
}

// CollectRuntime blocks and logs statistics about the go runtime, and
// optionally the current process, until the context is canceled.
func CollectRuntime(ctx context.Context, opts CollectOptions) error {
	if err := opts.Validate(); err != nil {
		return errors.WithStack(err)
	}
	defer recovery.LogStackTraceAndContinue("runtime statistics collector")

	pid := int32(os.Getpid())
	ticker := time.NewTicker(opts.CollectionInterval)
	defer ticker.Stop()

	count := 0
	for {
		select {
		case <-ctx.Done():
			grip.Debug(message.Fields{
				"message": "runtime statistics collection stopped",
				"samples": count,
			})
			return nil
		case <-ticker.C:
			grip.Info(message.CollectGoStatsTotals())
			if opts.IncludeProcess {
				grip.Info(message.CollectProcessInfo(pid))
			}
			count++
		}
	}
}
