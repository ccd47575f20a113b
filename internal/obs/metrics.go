package obs

import (
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// HTTP-level metrics shared by every handler.
var (
	httpInFlight = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "http_in_flight_requests",
		Help: "In-flight HTTP requests.",
	})

	httpRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total number of HTTP requests.",
		},
		[]string{"method", "path", "status"},
	)

	httpRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "HTTP request latencies in seconds.",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "path", "status"},
	)
)

// Authorization subsystem metrics.
var (
	authzDecisions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "authz_decisions_total",
			Help: "Authorization gate decisions by outcome.",
		},
		[]string{"outcome"},
	)

	permCacheEvents = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "authz_permission_cache_events_total",
			Help: "Permission cache reads and writes by result.",
		},
		[]string{"event"},
	)

	tokenRevocations = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "authz_token_revocations_total",
		Help: "Tokens explicitly revoked before natural expiry.",
	})
)

// Outcome labels for authz_decisions_total.
const (
	DecisionGranted         = "granted"
	DecisionUnauthenticated = "unauthenticated"
	DecisionForbidden       = "forbidden"
	DecisionError           = "error"
)

// Event labels for authz_permission_cache_events_total.
const (
	CacheHit        = "hit"
	CacheMiss       = "miss"
	CacheCorrupt    = "corrupt"
	CacheReadError  = "read_error"
	CacheWriteError = "write_error"
)

var initOnce sync.Once

// Init registers all metrics with the default registry. Safe to call once
// from main; tests use the unregistered collectors directly.
func Init() {
	initOnce.Do(func() {
		prometheus.MustRegister(
			httpInFlight, httpRequestsTotal, httpRequestDuration,
			authzDecisions, permCacheEvents, tokenRevocations,
		)
	})
}

// Handler exposes the Prometheus scrape endpoint.
func Handler() http.Handler {
	return promhttp.Handler()
}

// AuthzDecision records a gate decision outcome.
func AuthzDecision(outcome string) {
	authzDecisions.WithLabelValues(outcome).Inc()
}

// PermCacheEvent records a permission cache read/write result.
func PermCacheEvent(event string) {
	permCacheEvents.WithLabelValues(event).Inc()
}

// TokenRevoked records an explicit token revocation.
func TokenRevoked() {
	tokenRevocations.Inc()
}

// Instrument wraps a handler with RPS, latency, and in-flight measurements.
func Instrument(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		path := CanonicalPath(r.URL.Path)
		method := r.Method

		httpInFlight.Inc()
		start := time.Now()

		sw := &statusWriter{ResponseWriter: w, code: 200}
		next.ServeHTTP(sw, r)

		duration := time.Since(start).Seconds()
		status := strconv.Itoa(sw.code)

		httpRequestDuration.WithLabelValues(method, path, status).Observe(duration)
		httpRequestsTotal.WithLabelValues(method, path, status).Inc()
		httpInFlight.Dec()
	})
}

// CanonicalPath collapses resource identifiers so metric cardinality stays
// bounded: /v1/roles/<id>/grants becomes /v1/roles/:id/grants.
func CanonicalPath(path string) string {
	if i := strings.IndexByte(path, '?'); i >= 0 {
		path = path[:i]
	}
	if path == "" {
		return "/"
	}
	parts := strings.Split(strings.Trim(path, "/"), "/")
	if len(parts) >= 3 && parts[0] == "v1" {
		switch parts[1] {
		case "roles":
			if len(parts) == 4 && parts[3] == "grants" {
				return "/v1/roles/:id/grants"
			}
		case "users":
			if len(parts) == 4 && parts[3] == "roles" {
				return "/v1/users/:id/roles"
			}
			if len(parts) == 5 && parts[3] == "roles" {
				return "/v1/users/:id/roles/:role_id"
			}
		}
	}
	return "/" + strings.Join(parts, "/")
}

// statusWriter captures the response code for metrics.
type statusWriter struct {
	http.ResponseWriter
	code int
}

func (w *statusWriter) WriteHeader(code int) {
	w.code = code
	w.ResponseWriter.WriteHeader(code)
}
