package server

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/otel/attribute"
)

type httpMetrics struct {
	requests    *prometheus.CounterVec
	duration    *prometheus.HistogramVec
	validations *prometheus.CounterVec
}

func newHTTPMetrics(registerer prometheus.Registerer) *httpMetrics {
	requests := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "cdv_http_requests_total",
			Help: "HTTP requests by route, method and status code.",
		},
		[]string{"route", "method", "status"},
	)
	duration := prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "cdv_http_request_duration_seconds",
			Help:    "HTTP request latency by route and method.",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"route", "method"},
	)
	validations := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "cdv_certificate_validations_total",
			Help: "Public certificate validations by reason.",
		},
		[]string{"reason"}, // OK | NOT_FOUND | REVOKED | HASH_MISMATCH | UNAVAILABLE
	)
	registerer.MustRegister(requests, duration, validations)
	return &httpMetrics{requests: requests, duration: duration, validations: validations}
}

// newRegistry returns a registry with the process and Go runtime collectors.
func newRegistry() *prometheus.Registry {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		collectors.NewGoCollector(),
	)
	return reg
}

func (s *Server) metricsHandler() http.Handler {
	return promhttp.HandlerFor(s.registry, promhttp.HandlerOpts{})
}

// instrument records request counts and latency by route pattern, and
// wraps the request in an observability operation when one is configured.
func (s *Server) instrument(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)

		var done func(error)
		if s.obs != nil {
			ctx, finish := s.obs.TrackOperation(r.Context(), "http.request",
				attribute.String("http.method", r.Method))
			r = r.WithContext(ctx)
			done = finish
		}

		next.ServeHTTP(ww, r)

		route := "unmatched"
		if rctx := chi.RouteContext(r.Context()); rctx != nil && rctx.RoutePattern() != "" {
			route = rctx.RoutePattern()
		}
		status := ww.Status()
		if status == 0 {
			status = http.StatusOK
		}
		s.metrics.requests.WithLabelValues(route, r.Method, strconv.Itoa(status)).Inc()
		s.metrics.duration.WithLabelValues(route, r.Method).Observe(time.Since(start).Seconds())

		if done != nil {
			var err error
			if status >= 500 {
				err = &Problem{Title: http.StatusText(status), Detail: route}
			}
			done(err)
		}
	})
}
