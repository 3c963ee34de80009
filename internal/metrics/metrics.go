// Package metrics owns the Prometheus registry served on the admin listener.
// Label sets are fixed and low-cardinality: request paths never become label
// values, only chi route patterns.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/keithlinneman/assetd/internal/version"
)

type ServerMetrics struct {
	reg     *prometheus.Registry
	handler http.Handler

	// http
	inflight    prometheus.Gauge
	reqTotal    *prometheus.CounterVec
	errorsTotal *prometheus.CounterVec
	reqDur      *prometheus.HistogramVec
	respBytes   *prometheus.HistogramVec
	panics      prometheus.Counter
	rlDenied    prometheus.Counter
	rlCapacity  prometheus.Counter

	// process
	buildInfo *prometheus.GaugeVec
	profiling prometheus.Gauge

	// static
	staticReads    *prometheus.CounterVec
	staticSize     prometheus.Histogram
	staticInflight prometheus.Gauge
	staticDotted   *prometheus.CounterVec

	// startup sync
	syncObjects     *prometheus.CounterVec
	syncDuration    prometheus.Histogram
	syncLastSuccess prometheus.Gauge
	syncRelease     *prometheus.GaugeVec
}

func register[C prometheus.Collector](reg *prometheus.Registry, c C) C {
	reg.MustRegister(c)
	return c
}

// New builds a private registry with the Go and process collectors plus
// every assetd series.
func New() *ServerMetrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	counter := func(name, help string) prometheus.Counter {
		return register(reg, prometheus.NewCounter(prometheus.CounterOpts{Name: name, Help: help}))
	}
	counterVec := func(name, help string, labels ...string) *prometheus.CounterVec {
		return register(reg, prometheus.NewCounterVec(prometheus.CounterOpts{Name: name, Help: help}, labels))
	}
	gauge := func(name, help string) prometheus.Gauge {
		return register(reg, prometheus.NewGauge(prometheus.GaugeOpts{Name: name, Help: help}))
	}
	histogramVec := func(name, help string, buckets []float64, labels ...string) *prometheus.HistogramVec {
		return register(reg, prometheus.NewHistogramVec(prometheus.HistogramOpts{Name: name, Help: help, Buckets: buckets}, labels))
	}
	histogram := func(name, help string, buckets []float64) prometheus.Histogram {
		return register(reg, prometheus.NewHistogram(prometheus.HistogramOpts{Name: name, Help: help, Buckets: buckets}))
	}

	m := &ServerMetrics{
		reg: reg,

		inflight: gauge("http_inflight_requests",
			"Current number of in-flight HTTP requests"),
		reqTotal: counterVec("http_requests_total",
			"Total HTTP requests by method, route, and status", "method", "route", "status"),
		errorsTotal: counterVec("http_errors_total",
			"Total 5xx HTTP server errors by method and route (SLI)", "method", "route"),
		reqDur: histogramVec("http_request_duration_seconds",
			"Request latency by method and route",
			[]float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10}, "method", "route"),
		respBytes: histogramVec("http_response_size_bytes",
			"Response size by method and route",
			prometheus.ExponentialBuckets(256, 4, 10), "method", "route"),
		panics: counter("http_panic_total",
			"Total number of recovered httpserver panics"),
		rlDenied: counter("http_requests_rate_limited_total",
			"Total requests rejected by rate limiter"),
		rlCapacity: counter("http_requests_rate_limited_capacity_total",
			"Total number of times rate limiter capacity reached"),

		buildInfo: register(reg, prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "build_info",
			Help: "Build metadata (value is always 1)",
		}, []string{"app", "component", "version", "commit", "commit_date", "build_id", "build_date", "vcs_dirty", "go_version"})),
		profiling: gauge("profiling_active",
			"Whether continuous profiling is active (1) or disabled/failed (0)"),

		staticReads: counterVec("static_file_reads_total",
			"Static file requests by outcome (ok, not_found, error, unconfigured)", "result"),
		staticSize: histogram("static_file_size_bytes",
			"Size of static files served", prometheus.ExponentialBuckets(256, 4, 10)),
		staticInflight: gauge("static_reads_inflight",
			"Static file reads currently in progress"),
		staticDotted: counterVec("static_dot_segment_requests_total",
			"Static requests whose path held a . or .. segment, by outcome", "result"),

		syncObjects: counterVec("asset_sync_objects_total",
			"Objects handled by the startup S3 sync by result (ok, skipped, rejected, error)", "result"),
		syncDuration: histogram("asset_sync_duration_seconds",
			"Time to mirror the asset prefix from S3", []float64{0.5, 1, 2.5, 5, 10, 30, 60, 120}),
		syncLastSuccess: gauge("asset_sync_last_success_timestamp_seconds",
			"Unix timestamp of the last successful asset sync"),
		syncRelease: register(reg, prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "asset_sync_release_info",
			Help: "Release currently mirrored into the static folder (label carries identity, value is always 1)",
		}, []string{"release"})),
	}
	m.handler = promhttp.HandlerFor(reg, promhttp.HandlerOpts{EnableOpenMetrics: true})
	return m
}

// Handler serves the registry in Prometheus or OpenMetrics format.
func (m *ServerMetrics) Handler() http.Handler { return m.handler }

// SetBuildInfoFromVersion publishes the single build_info series.
func (m *ServerMetrics) SetBuildInfoFromVersion(app, component string, vi version.Info) {
	dirty := "unknown"
	if vi.VCSDirty != nil {
		dirty = strconv.FormatBool(*vi.VCSDirty)
	}
	m.buildInfo.Reset()
	m.buildInfo.With(prometheus.Labels{
		"app":         app,
		"component":   component,
		"version":     vi.Version,
		"commit":      vi.Commit,
		"commit_date": vi.CommitDate,
		"build_id":    vi.BuildId,
		"build_date":  vi.BuildDate,
		"go_version":  vi.GoVersion,
		"vcs_dirty":   dirty,
	}).Set(1)
}

func (m *ServerMetrics) IncHttpPanic()         { m.panics.Inc() }
func (m *ServerMetrics) IncRateLimitDenied()   { m.rlDenied.Inc() }
func (m *ServerMetrics) IncRateLimitCapacity() { m.rlCapacity.Inc() }

func (m *ServerMetrics) SetProfilingActive(active bool) {
	m.profiling.Set(boolGauge(active))
}

func (m *ServerMetrics) IncStaticInflight() { m.staticInflight.Inc() }
func (m *ServerMetrics) DecStaticInflight() { m.staticInflight.Dec() }

// ObserveStaticRead counts one static request; size is only recorded for
// successful reads.
func (m *ServerMetrics) ObserveStaticRead(result string, size int) {
	m.staticReads.WithLabelValues(result).Inc()
	if result == "ok" {
		m.staticSize.Observe(float64(size))
	}
}

// IncDotSegmentRequest counts a static request whose path tried to step
// around with . or .. segments.
func (m *ServerMetrics) IncDotSegmentRequest(result string) {
	m.staticDotted.WithLabelValues(result).Inc()
}

func (m *ServerMetrics) IncSyncObject(result string) { m.syncObjects.WithLabelValues(result).Inc() }

func (m *ServerMetrics) ObserveSyncDuration(seconds float64) { m.syncDuration.Observe(seconds) }

func (m *ServerMetrics) SetSyncLastSuccess(t time.Time) { m.syncLastSuccess.Set(float64(t.Unix())) }

// SetSyncRelease replaces the previously reported release.
func (m *ServerMetrics) SetSyncRelease(release string) {
	m.syncRelease.Reset()
	m.syncRelease.WithLabelValues(release).Set(1)
}

func boolGauge(b bool) float64 {
	if b {
		return 1
	}
	return 0
}
