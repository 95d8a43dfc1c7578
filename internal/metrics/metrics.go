// Package metrics exposes Prometheus collectors for the ingestion
// pipeline, grounded on the crawler's promauto-based, sync.Once-guarded
// metrics package, generalized from page/site labels to pipeline
// stage/queue/dependency labels.
package metrics

import (
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	jobsTotal                *prometheus.CounterVec
	jobDurationSeconds       *prometheus.HistogramVec
	activeWorkers            *prometheus.GaugeVec
	rateLimitDeniedTotal     *prometheus.CounterVec
	rateLimitDelaysSeconds   *prometheus.HistogramVec
	breakerStateGauge        *prometheus.GaugeVec
	breakerTripsTotal        *prometheus.CounterVec
	dedupDuplicatesTotal     *prometheus.CounterVec
	normalizeCountersTotal   *prometheus.CounterVec
	httpRequestsTotal        *prometheus.CounterVec
	httpRequestDuration      *prometheus.HistogramVec
	dlqTotal                 *prometheus.CounterVec

	once sync.Once
)

// Init initializes the Prometheus metrics collectors. Safe to call more
// than once.
func Init() {
	once.Do(func() {
		jobsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "pipeline_jobs_total",
				Help: "Total number of jobs processed, labeled by queue and outcome.",
			},
			[]string{"queue", "outcome"},
		)

		jobDurationSeconds = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "pipeline_job_duration_seconds",
				Help:    "Histogram of job processing latencies, labeled by queue.",
				Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10, 30, 60},
			},
			[]string{"queue"},
		)

		activeWorkers = promauto.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "pipeline_active_workers",
				Help: "Number of workers currently processing a job, labeled by queue.",
			},
			[]string{"queue"},
		)

		rateLimitDeniedTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "pipeline_rate_limit_denied_total",
				Help: "Total number of rate limit denials, labeled by source kind and id.",
			},
			[]string{"kind", "source_id"},
		)

		rateLimitDelaysSeconds = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "pipeline_rate_limit_delay_seconds",
				Help:    "Histogram of courtesy rate-limit wait durations inside fetch adapters.",
				Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30},
			},
			[]string{"domain"},
		)

		breakerStateGauge = promauto.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "pipeline_breaker_state",
				Help: "Circuit breaker state per dependency (0=CLOSED, 1=OPEN, 2=HALF_OPEN).",
			},
			[]string{"dependency"},
		)

		breakerTripsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "pipeline_breaker_trips_total",
				Help: "Total number of CLOSED/HALF_OPEN -> OPEN transitions, labeled by dependency.",
			},
			[]string{"dependency"},
		)

		dedupDuplicatesTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "pipeline_dedup_duplicates_total",
				Help: "Total number of items short-circuited by dedup, labeled by source kind.",
			},
			[]string{"kind"},
		)

		normalizeCountersTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "pipeline_normalize_counters_total",
				Help: "Per-batch normalize outcome counters, labeled by counter name.",
			},
			[]string{"counter"},
		)

		httpRequestsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "pipeline_admin_http_requests_total",
				Help: "Total number of admin API HTTP requests, labeled by method and code.",
			},
			[]string{"method", "code"},
		)

		httpRequestDuration = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "pipeline_admin_http_request_duration_seconds",
				Help:    "Histogram of admin API HTTP request latencies, labeled by method and route.",
				Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5},
			},
			[]string{"method", "route"},
		)

		dlqTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "pipeline_dlq_total",
				Help: "Total number of dead-lettered jobs, labeled by queue.",
			},
			[]string{"queue"},
		)
	})
}

// Handler returns an http.Handler for exposing Prometheus metrics.
func Handler() http.Handler {
	return promhttp.Handler()
}

// ObserveJob records a job's terminal outcome and processing duration.
func ObserveJob(queue, outcome string, duration time.Duration) {
	jobsTotal.WithLabelValues(queue, outcome).Inc()
	jobDurationSeconds.WithLabelValues(queue).Observe(duration.Seconds())
}

// IncActiveWorkers increments the active-worker gauge for a queue.
func IncActiveWorkers(queue string) { activeWorkers.WithLabelValues(queue).Inc() }

// DecActiveWorkers decrements the active-worker gauge for a queue.
func DecActiveWorkers(queue string) { activeWorkers.WithLabelValues(queue).Dec() }

// IncRateLimitDenied records a rate-limit admission denial.
func IncRateLimitDenied(kind, sourceID string) {
	rateLimitDeniedTotal.WithLabelValues(kind, sourceID).Inc()
}

// ObserveRateLimitDelay records a courtesy rate-limit wait inside a fetch
// adapter.
func ObserveRateLimitDelay(domain string, duration time.Duration) {
	rateLimitDelaysSeconds.WithLabelValues(domain).Observe(duration.Seconds())
}

// SetBreakerState records a dependency's current breaker state.
func SetBreakerState(dependency string, state int) {
	breakerStateGauge.WithLabelValues(dependency).Set(float64(state))
}

// IncBreakerTrip records a CLOSED/HALF_OPEN -> OPEN transition.
func IncBreakerTrip(dependency string) {
	breakerTripsTotal.WithLabelValues(dependency).Inc()
}

// IncDedupDuplicate records an item short-circuited by dedup.
func IncDedupDuplicate(kind string) {
	dedupDuplicatesTotal.WithLabelValues(kind).Inc()
}

// AddNormalizeCounter adds delta to a named normalize batch counter (e.g.
// "filtered", "duplicates", "moderation_review").
func AddNormalizeCounter(counter string, delta int) {
	normalizeCountersTotal.WithLabelValues(counter).Add(float64(delta))
}

// ObserveHTTPRequest records an admin API request.
func ObserveHTTPRequest(method, route string, code int, duration time.Duration) {
	httpRequestsTotal.WithLabelValues(method, strconv.Itoa(code)).Inc()
	httpRequestDuration.WithLabelValues(method, route).Observe(duration.Seconds())
}

// IncDLQ records a job being written to a queue's dead-letter sink.
func IncDLQ(queue string) {
	dlqTotal.WithLabelValues(queue).Inc()
}
