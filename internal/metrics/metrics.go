// Package metrics exposes Prometheus collectors for the crawler service.
package metrics

import (
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	crawlerPagesTotal             *prometheus.CounterVec
	crawlerBytesTotal             *prometheus.CounterVec
	httpRequestsTotal             *prometheus.CounterVec
	httpRequestDurationSeconds    *prometheus.HistogramVec
	rpcRequestsTotal              *prometheus.CounterVec
	crawlerQueueTransitionsTotal  *prometheus.CounterVec
	crawlerPolicyDecisionsTotal   *prometheus.CounterVec
	crawlerRobotsFetchTotal       *prometheus.CounterVec
	indexOperationsTotal          *prometheus.CounterVec
	indexSearchDurationSeconds    prometheus.Histogram
	crawlerActiveWorkers          prometheus.Gauge
	crawlerRateLimitDelaysSeconds *prometheus.HistogramVec
	pluginCommandsTotal           *prometheus.CounterVec

	once sync.Once
)

// Init initializes the Prometheus metrics collectors.
// It is safe to call this function multiple times.
func Init() {
	once.Do(func() {
		crawlerPagesTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "crawler_pages_total",
				Help: "Total number of pages fetched, labeled by site and outcome.",
			},
			[]string{"site", "status"},
		)

		crawlerBytesTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "crawler_bytes_total",
				Help: "Total number of bytes fetched, labeled by site.",
			},
			[]string{"site"},
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

		rpcRequestsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "rpc_requests_total",
				Help: "Total number of JSON-RPC calls, labeled by method and result.",
			},
			[]string{"method", "result"},
		)

		crawlerQueueTransitionsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "crawler_queue_transitions_total",
				Help: "Total number of crawl queue state changes, labeled by target status.",
			},
			[]string{"status"},
		)

		crawlerPolicyDecisionsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "crawler_policy_decisions_total",
				Help: "Total number of policy decisions, labeled by decision.",
			},
			[]string{"decision"},
		)

		crawlerRobotsFetchTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "crawler_robots_fetch_total",
				Help: "Total robots.txt fetches, labeled by result.",
			},
			[]string{"result"},
		)

		indexOperationsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "index_operations_total",
				Help: "Total number of index operations, labeled by operation.",
			},
			[]string{"op"},
		)

		indexSearchDurationSeconds = promauto.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "index_search_duration_seconds",
				Help:    "Histogram of search latencies.",
				Buckets: []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1},
			},
		)

		crawlerActiveWorkers = promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "crawler_active_workers",
				Help: "Number of workers currently processing a task.",
			},
		)

		crawlerRateLimitDelaysSeconds = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "crawler_rate_limit_delays_seconds",
				Help:    "Histogram of rate limit wait durations.",
				Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30},
			},
			[]string{"domain"},
		)

		pluginCommandsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "plugin_commands_total",
				Help: "Total plugin host calls, labeled by plugin and command.",
			},
			[]string{"plugin", "command"},
		)
	})
}

// SanitizeSite sanitizes a URL to extract a lowercase hostname.
// It returns "unknown" if the URL is invalid.
func SanitizeSite(rawURL string) string {
	if strings.HasPrefix(rawURL, "file:") {
		return "localhost"
	}
	if !strings.HasPrefix(rawURL, "http") {
		rawURL = "http://" + rawURL
	}
	u, err := url.Parse(rawURL)
	if err != nil || u.Hostname() == "" {
		return "unknown"
	}
	return strings.ToLower(u.Hostname())
}

// Handler returns an http.Handler for exposing Prometheus metrics.
func Handler() http.Handler {
	return promhttp.Handler()
}

// ObserveCrawl records a finished fetch.
func ObserveCrawl(site string, status string, bytesFetched int) {
	Init()
	sanitizedSite := SanitizeSite(site)
	crawlerPagesTotal.WithLabelValues(sanitizedSite, status).Inc()
	if bytesFetched > 0 {
		crawlerBytesTotal.WithLabelValues(sanitizedSite).Add(float64(bytesFetched))
	}
}

// ObserveHTTPRequest increments the HTTP request metrics.
func ObserveHTTPRequest(method, route string, code int, duration time.Duration) {
	Init()
	httpRequestsTotal.WithLabelValues(method, strconv.Itoa(code)).Inc()
	httpRequestDurationSeconds.WithLabelValues(method, route).Observe(duration.Seconds())
}

// ObserveRPC counts a JSON-RPC call.
func ObserveRPC(method, result string) {
	Init()
	rpcRequestsTotal.WithLabelValues(method, result).Inc()
}

// ObserveTransition counts a crawl queue state change.
func ObserveTransition(status string) {
	Init()
	crawlerQueueTransitionsTotal.WithLabelValues(status).Inc()
}

// ObservePolicyDecision counts an allow/deny decision.
func ObservePolicyDecision(decision string) {
	Init()
	crawlerPolicyDecisionsTotal.WithLabelValues(decision).Inc()
}

// ObserveRobotsFetch counts a robots.txt fetch by result.
func ObserveRobotsFetch(result string) {
	Init()
	crawlerRobotsFetchTotal.WithLabelValues(result).Inc()
}

// ObserveIndexOp counts index operations such as upsert, delete, commit.
func ObserveIndexOp(op string, n int) {
	Init()
	if n > 0 {
		indexOperationsTotal.WithLabelValues(op).Add(float64(n))
	}
}

// ObserveSearch records the latency of one search.
func ObserveSearch(duration time.Duration) {
	Init()
	indexSearchDurationSeconds.Observe(duration.Seconds())
}

// IncActiveWorkers increments the active workers gauge.
func IncActiveWorkers() {
	Init()
	crawlerActiveWorkers.Inc()
}

// DecActiveWorkers decrements the active workers gauge.
func DecActiveWorkers() {
	Init()
	crawlerActiveWorkers.Dec()
}

// ObserveRateLimitDelay records the duration of a rate limit wait.
func ObserveRateLimitDelay(domain string, duration time.Duration) {
	Init()
	crawlerRateLimitDelaysSeconds.WithLabelValues(domain).Observe(duration.Seconds())
}

// ObservePluginCommand counts a host call made by a plugin.
func ObservePluginCommand(plugin, command string) {
	Init()
	pluginCommandsTotal.WithLabelValues(plugin, command).Inc()
}
