// Package obs holds the gateway's Prometheus metrics.
package obs

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics is the set of collectors exported on /metrics. Collectors are
// registered on the registry passed to NewMetrics, never the global one.
type Metrics struct {
	gatherer prometheus.Gatherer

	httpInFlight        prometheus.Gauge
	httpRequestsTotal   *prometheus.CounterVec
	httpRequestDuration *prometheus.HistogramVec

	verifications *prometheus.CounterVec
	lookups       *prometheus.CounterVec
	keyRefreshes  *prometheus.CounterVec
}

// NewMetrics creates and registers the collectors on reg.
func NewMetrics(reg *prometheus.Registry) *Metrics {
	m := &Metrics{
		gatherer: reg,
		httpInFlight: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "http_in_flight_requests",
			Help: "In-flight HTTP requests.",
		}),
		httpRequestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "http_requests_total",
				Help: "Total number of HTTP requests.",
			},
			[]string{"method", "path", "status"},
		),
		httpRequestDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "http_request_duration_seconds",
				Help:    "HTTP request latencies in seconds.",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"method", "path", "status"},
		),
		verifications: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "contentgate_token_verifications_total",
				Help: "ID-token verifications by result.",
			},
			[]string{"result"},
		),
		lookups: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "contentgate_authz_lookups_total",
				Help: "Authorization record resolutions by source.",
			},
			[]string{"source"},
		),
		keyRefreshes: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "contentgate_jwks_refreshes_total",
				Help: "Signing key-set fetches by result.",
			},
			[]string{"result"},
		),
	}
	reg.MustRegister(
		m.httpInFlight, m.httpRequestsTotal, m.httpRequestDuration,
		m.verifications, m.lookups, m.keyRefreshes,
	)
	return m
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.gatherer, promhttp.HandlerOpts{})
}

// Verification counts one token verification. result is "ok" or the failure
// reason.
func (m *Metrics) Verification(result string) {
	m.verifications.WithLabelValues(result).Inc()
}

// Lookup counts one authorization resolution by source.
func (m *Metrics) Lookup(source string) {
	m.lookups.WithLabelValues(source).Inc()
}

// KeyRefresh counts one key-set fetch.
func (m *Metrics) KeyRefresh(err error) {
	result := "ok"
	if err != nil {
		result = "error"
	}
	m.keyRefreshes.WithLabelValues(result).Inc()
}

// Instrument measures request rate, latency and in-flight requests.
func (m *Metrics) Instrument(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		path := CanonicalPath(r.URL.Path)
		method := r.Method

		m.httpInFlight.Inc()
		defer m.httpInFlight.Dec()
		start := time.Now()

		sw := &statusWriter{ResponseWriter: w, code: http.StatusOK}
		next.ServeHTTP(sw, r)

		status := strconv.Itoa(sw.code)
		m.httpRequestDuration.WithLabelValues(method, path, status).Observe(time.Since(start).Seconds())
		m.httpRequestsTotal.WithLabelValues(method, path, status).Inc()
	})
}

// CanonicalPath maps a request path onto the fixed set of routes so that
// arbitrary paths cannot grow label cardinality.
func CanonicalPath(p string) string {
	switch p {
	case "/", "/files/proxy", "/health", "/metrics":
		return p
	case "":
		return "/"
	}
	return "other"
}

// statusWriter records the response code.
type statusWriter struct {
	http.ResponseWriter
	code        int
	wroteHeader bool
}

func (w *statusWriter) WriteHeader(code int) {
	if !w.wroteHeader {
		w.code = code
		w.wroteHeader = true
	}
	w.ResponseWriter.WriteHeader(code)
}

func (w *statusWriter) Write(b []byte) (int, error) {
	w.wroteHeader = true
	return w.ResponseWriter.Write(b)
}

// Flush lets proxied bodies stream through the wrapper.
func (w *statusWriter) Flush() {
	if f, ok := w.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}
