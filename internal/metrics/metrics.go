// Package metrics holds the Prometheus collectors for signing operations and
// the HTTP service.
package metrics

import (
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Result labels for SignaturesTotal.
const (
	ResultOK    = "ok"
	ResultError = "error"
)

// Metrics is a set of collectors registered on its own registry.
type Metrics struct {
	registry *prometheus.Registry

	signaturesTotal *prometheus.CounterVec
	signDuration    prometheus.Histogram
	signatureBytes  prometheus.Histogram

	httpRequestsTotal   *prometheus.CounterVec
	httpRequestDuration *prometheus.HistogramVec
	httpInflight        prometheus.Gauge
}

// New creates and registers the collectors.
func New() (*Metrics, error) {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		signaturesTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "htmlpdfsign_signatures_total",
			Help: "Signing operations by result and error kind.",
		}, []string{"result", "kind"}),
		signDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "htmlpdfsign_sign_duration_seconds",
			Help:    "Duration of a complete signing operation.",
			Buckets: []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30},
		}),
		signatureBytes: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "htmlpdfsign_signature_bytes",
			Help:    "Size of the DER encoded CMS signatures.",
			Buckets: prometheus.ExponentialBuckets(1024, 2, 6),
		}),
		httpRequestsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "htmlpdfsign_http_requests_total",
			Help: "HTTP requests by method, route and status.",
		}, []string{"method", "path", "status"}),
		httpRequestDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "htmlpdfsign_http_request_duration_seconds",
			Help:    "HTTP request latency.",
			Buckets: prometheus.DefBuckets,
		}, []string{"method", "path"}),
		httpInflight: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "htmlpdfsign_http_inflight_requests",
			Help: "HTTP requests being served.",
		}),
	}

	for _, c := range []prometheus.Collector{
		m.signaturesTotal,
		m.signDuration,
		m.signatureBytes,
		m.httpRequestsTotal,
		m.httpRequestDuration,
		m.httpInflight,
	} {
		if err := m.registry.Register(c); err != nil {
			return nil, err
		}
	}
	return m, nil
}

// ObserveSign records one signing operation. kind is empty on success and
// sigBytes is ignored on failure.
func (m *Metrics) ObserveSign(d time.Duration, sigBytes int, kind string) {
	if m == nil {
		return
	}
	m.signDuration.Observe(d.Seconds())
	if kind == "" {
		m.signaturesTotal.WithLabelValues(ResultOK, "").Inc()
		m.signatureBytes.Observe(float64(sigBytes))
		return
	}
	m.signaturesTotal.WithLabelValues(ResultError, kind).Inc()
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

// Gatherer exposes the registry, mostly for tests.
func (m *Metrics) Gatherer() prometheus.Gatherer {
	return m.registry
}

// WriteTextfile writes the current values to path for the node exporter
// textfile collector. The file is replaced atomically.
func (m *Metrics) WriteTextfile(path string) error {
	if m == nil {
		return errors.New("metrics not initialised")
	}
	return prometheus.WriteToTextfile(path, m.registry)
}

// Middleware instruments requests with counters, latency and in-flight
// requests. route maps a request to its label, so path parameters do not
// explode the label set.
func (m *Metrics) Middleware(route func(*http.Request) string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		if m == nil {
			return next
		}
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			method := strings.ToUpper(r.Method)

			m.httpInflight.Inc()
			start := time.Now()

			rec := &statusRecorder{ResponseWriter: w}
			defer func() {
				m.httpInflight.Dec()

				path := route(r)
				m.httpRequestDuration.WithLabelValues(method, path).Observe(time.Since(start).Seconds())

				status := rec.status
				if status == 0 {
					status = http.StatusOK
				}
				m.httpRequestsTotal.WithLabelValues(method, path, strconv.Itoa(status)).Inc()
			}()

			next.ServeHTTP(rec, r)
		})
	}
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	if r.status == 0 {
		r.status = code
	}
	r.ResponseWriter.WriteHeader(code)
}

func (r *statusRecorder) Write(b []byte) (int, error) {
	if r.status == 0 {
		r.status = http.StatusOK
	}
	return r.ResponseWriter.Write(b)
}

func (r *statusRecorder) Unwrap() http.ResponseWriter {
	return r.ResponseWriter
}
