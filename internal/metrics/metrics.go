// Package metrics exposes Prometheus collectors for the crawl and index pipeline.
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
	brokerPullsTotal             *prometheus.CounterVec
	brokerPublishesTotal         *prometheus.CounterVec
	brokerChannelsOpen           prometheus.Gauge
	crawlerTasksTotal            *prometheus.CounterVec
	crawlerInflightTasks         prometheus.Gauge
	crawlerLoopBackoffsTotal     *prometheus.CounterVec
	crawlerRobotsTLSRetriesTotal prometheus.Counter
	crawlerRateLimitDelaySeconds prometheus.Histogram
	indexerRecordsTotal          *prometheus.CounterVec
	httpRequestsTotal            *prometheus.CounterVec
	httpRequestDurationSeconds   *prometheus.HistogramVec

	once sync.Once
)

// Init registers the collectors with the default registry.
// It is safe to call this function multiple times.
func Init() {
	once.Do(func() {
		brokerPullsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "gfd_broker_pulls_total",
				Help: "Pull attempts against the broker, labeled by priority tier and result.",
			},
			[]string{"priority", "result"},
		)

		brokerPublishesTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "gfd_broker_publishes_total",
				Help: "Publish attempts against the broker, labeled by result.",
			},
			[]string{"result"},
		)

		brokerChannelsOpen = promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "gfd_broker_channels_open",
				Help: "Broker channels currently open and owned by the pool.",
			},
		)

		crawlerTasksTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "gfd_crawler_tasks_total",
				Help: "Crawl tasks processed, labeled by kind (page, policy) and outcome.",
			},
			[]string{"kind", "outcome"},
		)

		crawlerInflightTasks = promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "gfd_crawler_inflight_tasks",
				Help: "Crawl tasks currently holding a concurrency permit.",
			},
		)

		crawlerLoopBackoffsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "gfd_crawler_loop_backoffs_total",
				Help: "Dispatch loop backoffs, labeled by reason.",
			},
			[]string{"reason"},
		)

		crawlerRobotsTLSRetriesTotal = promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "gfd_crawler_robots_tls_retries_total",
				Help: "TLS handshake timeouts retried while fetching robots.txt.",
			},
		)

		crawlerRateLimitDelaySeconds = promauto.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "gfd_crawler_rate_limit_delay_seconds",
				Help:    "Histogram of per-host rate limit wait durations.",
				Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30},
			},
		)

		indexerRecordsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "gfd_indexer_records_total",
				Help: "Indexing records handled, labeled by outcome.",
			},
			[]string{"outcome"},
		)

		httpRequestsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "http_requests_total",
				Help: "Total number of HTTP requests, labeled by method and code.",
			},
			[]string{"method", "code"},
		)

		httpRequestDurationSeconds = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "http_request_duration_seconds",
				Help:    "Histogram of HTTP request latencies, labeled by method and route.",
				Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5},
			},
			[]string{"method", "route"},
		)
	})
}

// Handler returns an http.Handler for exposing Prometheus metrics.
func Handler() http.Handler {
	Init()
	return promhttp.Handler()
}

// ObservePull records one pull attempt for a tier. result is one of
// "message", "empty", "not_found" or "error".
func ObservePull(priority, result string) {
	Init()
	brokerPullsTotal.WithLabelValues(priority, result).Inc()
}

// ObservePublish records one publish attempt.
func ObservePublish(err error) {
	Init()
	result := "ok"
	if err != nil {
		result = "error"
	}
	brokerPublishesTotal.WithLabelValues(result).Inc()
}

// IncChannelsOpen increments the open channel gauge.
func IncChannelsOpen() {
	Init()
	brokerChannelsOpen.Inc()
}

// DecChannelsOpen decrements the open channel gauge.
func DecChannelsOpen() {
	Init()
	brokerChannelsOpen.Dec()
}

// ObserveTask increments the crawl task counter.
func ObserveTask(kind, outcome string) {
	Init()
	crawlerTasksTotal.WithLabelValues(kind, outcome).Inc()
}

// IncInflight increments the in-flight crawl gauge.
func IncInflight() {
	Init()
	crawlerInflightTasks.Inc()
}

// DecInflight decrements the in-flight crawl gauge.
func DecInflight() {
	Init()
	crawlerInflightTasks.Dec()
}

// ObserveBackoff records a dispatch loop backoff.
func ObserveBackoff(reason string) {
	Init()
	crawlerLoopBackoffsTotal.WithLabelValues(reason).Inc()
}

// ObserveRobotsTLSRetry increments the robots TLS retry counter.
func ObserveRobotsTLSRetry() {
	Init()
	crawlerRobotsTLSRetriesTotal.Inc()
}

// ObserveRateLimitDelay records the duration of a rate limit wait.
// Hosts are not a label; the host set is unbounded.
func ObserveRateLimitDelay(duration time.Duration) {
	Init()
	crawlerRateLimitDelaySeconds.Observe(duration.Seconds())
}

// ObserveIndexed increments the indexer counter for an outcome.
func ObserveIndexed(outcome string) {
	Init()
	indexerRecordsTotal.WithLabelValues(outcome).Inc()
}

// ObserveHTTPRequest increments the HTTP request metrics.
func ObserveHTTPRequest(method, route string, code int, duration time.Duration) {
	Init()
	httpRequestsTotal.WithLabelValues(method, strconv.Itoa(code)).Inc()
	httpRequestDurationSeconds.WithLabelValues(method, route).Observe(duration.Seconds())
}
