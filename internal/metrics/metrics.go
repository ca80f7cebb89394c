// Package metrics exposes Prometheus collectors for the favicon service.
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

// Lookup outcomes recorded by the gateway.
const (
	OutcomeHit           = "hit"
	OutcomeMiss          = "miss"
	OutcomeNotFound      = "not_found"
	OutcomeUpstreamError = "upstream_error"
	OutcomeInvalid       = "invalid"
)

var (
	faviconLookupsTotal          *prometheus.CounterVec
	faviconStrategyTotal         *prometheus.CounterVec
	faviconDiscoveryDuration     *prometheus.HistogramVec
	faviconCacheWritesTotal      *prometheus.CounterVec
	faviconFetchTLSRetriesTotal  prometheus.Counter
	faviconRateLimitDelaySeconds *prometheus.HistogramVec
	httpRequestsTotal            *prometheus.CounterVec
	httpRequestDurationSeconds   *prometheus.HistogramVec

	once sync.Once
)

// Init registers the collectors with the default registry.
// It is safe to call this function multiple times.
func Init() {
	once.Do(func() {
		faviconLookupsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "favicon_lookups_total",
				Help: "Total favicon gateway lookups, labeled by outcome.",
			},
			[]string{"outcome"},
		)

		faviconStrategyTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "favicon_strategy_total",
				Help: "Discovery strategy results, labeled by strategy and result.",
			},
			[]string{"strategy", "result"},
		)

		faviconDiscoveryDuration = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "favicon_discovery_duration_seconds",
				Help:    "Histogram of discovery latency, labeled by winning strategy.",
				Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10},
			},
			[]string{"strategy"},
		)

		faviconCacheWritesTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "favicon_cache_writes_total",
				Help: "Background cache writes, labeled by result.",
			},
			[]string{"result"},
		)

		faviconFetchTLSRetriesTotal = promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "favicon_fetch_tls_retries_total",
				Help: "Outbound requests retried after a transient TLS handshake failure.",
			},
		)

		faviconRateLimitDelaySeconds = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "favicon_rate_limit_delay_seconds",
				Help:    "Histogram of per-host rate limit wait durations.",
				Buckets: []float64{0.01, 0.05, 0.1, 0.5, 1, 2, 5},
			},
			[]string{"host"},
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

// SanitizeSite extracts a lowercase hostname from a URL.
// It returns "unknown" if the URL is invalid.
func SanitizeSite(rawURL string) string {
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
	Init()
	return promhttp.Handler()
}

// ObserveLookup counts a gateway lookup outcome.
func ObserveLookup(outcome string) {
	Init()
	faviconLookupsTotal.WithLabelValues(outcome).Inc()
}

// ObserveStrategy counts the result of one discovery strategy.
func ObserveStrategy(strategy string, success bool) {
	Init()
	result := "failure"
	if success {
		result = "success"
	}
	faviconStrategyTotal.WithLabelValues(strategy, result).Inc()
}

// ObserveDiscovery records how long a discovery took and which strategy won.
func ObserveDiscovery(strategy string, duration time.Duration) {
	Init()
	faviconDiscoveryDuration.WithLabelValues(strategy).Observe(duration.Seconds())
}

// ObserveCacheWrite counts a background cache write.
func ObserveCacheWrite(err error) {
	Init()
	result := "success"
	if err != nil {
		result = "failure"
	}
	faviconCacheWritesTotal.WithLabelValues(result).Inc()
}

// ObserveFetchTLSRetry counts a retried TLS handshake.
func ObserveFetchTLSRetry() {
	Init()
	faviconFetchTLSRetriesTotal.Inc()
}

// ObserveRateLimitDelay records the duration of a rate limit wait.
func ObserveRateLimitDelay(host string, duration time.Duration) {
	Init()
	faviconRateLimitDelaySeconds.WithLabelValues(host).Observe(duration.Seconds())
}

// ObserveHTTPRequest increments the HTTP request metrics.
func ObserveHTTPRequest(method, route string, code int, duration time.Duration) {
	Init()
	httpRequestsTotal.WithLabelValues(method, strconv.Itoa(code)).Inc()
	httpRequestDurationSeconds.WithLabelValues(method, route).Observe(duration.Seconds())
}
