// -----------------------------------------------------------------------
// Metrics - non-global Prometheus registry for the engine. Everything
// observable lands here; /system/metrics exposes the registry.
// -----------------------------------------------------------------------

package engine

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics owns the registry and every instrument the engine exports.
// Wired once at process start and passed explicitly; no package globals.
type Metrics struct {
	registry *prometheus.Registry

	httpRequests *prometheus.CounterVec
	httpDuration *prometheus.HistogramVec

	scrapeJobs  *prometheus.CounterVec
	jobDuration prometheus.Histogram

	activeJobs prometheus.Gauge
	queuedJobs prometheus.Gauge

	cpuPercent    prometheus.Gauge
	memoryPercent prometheus.Gauge
	memoryUsedMB  prometheus.Gauge

	rateLimitDelay *prometheus.GaugeVec
}

// NewMetrics builds the registry with process and Go runtime collectors
// plus the engine's own instruments.
func NewMetrics() *Metrics {
	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	m := &Metrics{
		registry: registry,
		httpRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "laboro",
			Name:      "http_requests_total",
			Help:      "HTTP requests handled by the control API.",
		}, []string{"method", "path", "status"}),
		httpDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "laboro",
			Name:      "http_request_duration_seconds",
			Help:      "Control API request latency.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"method", "path"}),
		scrapeJobs: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "laboro",
			Name:      "scrape_jobs_total",
			Help:      "Scrape jobs reaching a terminal status, by board.",
		}, []string{"board", "status"}),
		jobDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "laboro",
			Name:      "scrape_job_duration_seconds",
			Help:      "Wall-clock duration of terminal scrape jobs.",
			Buckets:   []float64{1, 5, 15, 30, 60, 120, 300, 600, 1800, 3600},
		}),
		activeJobs: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "laboro",
			Name:      "active_jobs",
			Help:      "Jobs currently RUNNING.",
		}),
		queuedJobs: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "laboro",
			Name:      "queued_jobs",
			Help:      "Jobs waiting in the PENDING backlog.",
		}),
		cpuPercent: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "laboro",
			Name:      "cpu_percent",
			Help:      "Host CPU utilization sampled at heartbeat.",
		}),
		memoryPercent: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "laboro",
			Name:      "memory_percent",
			Help:      "Host memory utilization sampled at heartbeat.",
		}),
		memoryUsedMB: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "laboro",
			Name:      "memory_used_mb",
			Help:      "Process resident memory in megabytes.",
		}),
		rateLimitDelay: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "laboro",
			Name:      "rate_limit_delay_seconds",
			Help:      "Effective adaptive delay per scraped domain.",
		}, []string{"domain"}),
	}

	registry.MustRegister(
		m.httpRequests,
		m.httpDuration,
		m.scrapeJobs,
		m.jobDuration,
		m.activeJobs,
		m.queuedJobs,
		m.cpuPercent,
		m.memoryPercent,
		m.memoryUsedMB,
		m.rateLimitDelay,
	)
	return m
}

// Handler returns the exposition handler for /system/metrics.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// ObserveHTTP records one handled API request.
func (m *Metrics) ObserveHTTP(method, path string, status int, elapsed time.Duration) {
	m.httpRequests.WithLabelValues(method, path, strconv.Itoa(status)).Inc()
	m.httpDuration.WithLabelValues(method, path).Observe(elapsed.Seconds())
}

// ObserveJobTerminal records a job reaching a terminal status.
func (m *Metrics) ObserveJobTerminal(boardName, status string, durationS float64) {
	m.scrapeJobs.WithLabelValues(boardName, status).Inc()
	if durationS > 0 {
		m.jobDuration.Observe(durationS)
	}
}

// SetJobGauges updates the pool occupancy gauges.
func (m *Metrics) SetJobGauges(active, queued int) {
	m.activeJobs.Set(float64(active))
	m.queuedJobs.Set(float64(queued))
}

// SetResourceGauges updates the host resource gauges.
func (m *Metrics) SetResourceGauges(cpuPercent, memoryPercent, memoryUsedMB float64) {
	m.cpuPercent.Set(cpuPercent)
	m.memoryPercent.Set(memoryPercent)
	m.memoryUsedMB.Set(memoryUsedMB)
}

// SetRateLimitDelays replaces the per-domain backoff gauges.
func (m *Metrics) SetRateLimitDelays(delays map[string]time.Duration) {
	m.rateLimitDelay.Reset()
	for domain, delay := range delays {
		m.rateLimitDelay.WithLabelValues(domain).Set(delay.Seconds())
	}
}
