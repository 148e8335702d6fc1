// Package server exposes the CDV engine over HTTP.
//
// Public routes (rate limited per client IP):
//
//	GET  /certificates/{id}          validation summary
//	GET  /certificates/{id}/qr.png   QR code of the public link
//	GET  /cdv/validate/{id}          same as /certificates/{id}; target of the QR link
//
// Authenticated routes (HS256 bearer token):
//
//	POST /impact-events                    collaborator, admin
//	POST /quotas/{id}/issue-certificate    investor owning the quota, admin
//	POST /certificates/{id}/revoke         admin
//	POST /jobs/{name}/run                  admin
//
// Errors are RFC 7807 problem documents with a code extension.
package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/santhosh-tekuri/jsonschema/v5"

	"github.com/roach88/cdv/internal/engine"
	"github.com/roach88/cdv/internal/observability"
	"github.com/roach88/cdv/internal/scheduler"
)

// Server routes HTTP requests to the engine.
type Server struct {
	engine      *engine.Engine
	jobs        *scheduler.Scheduler
	auth        *Authenticator
	limiter     *RateLimiter
	obs         *observability.Provider
	logger      *slog.Logger
	registry    *prometheus.Registry
	metrics     *httpMetrics
	eventSchema *jsonschema.Schema
}

// Option configures a Server.
type Option func(*Server)

// WithAuthenticator enables the authenticated routes. Without it they
// answer 401.
func WithAuthenticator(a *Authenticator) Option {
	return func(s *Server) {
		s.auth = a
	}
}

// WithRateLimit sets the per-client limit of the public routes.
func WithRateLimit(rps float64, burst int) Option {
	return func(s *Server) {
		s.limiter = NewRateLimiter(rps, burst)
	}
}

// WithObservability traces every request as an operation.
func WithObservability(p *observability.Provider) Option {
	return func(s *Server) {
		s.obs = p
	}
}

// WithLogger sets the server logger.
func WithLogger(l *slog.Logger) Option {
	return func(s *Server) {
		s.logger = l
	}
}

// WithRegistry sets the Prometheus registry served on /metrics.
func WithRegistry(reg *prometheus.Registry) Option {
	return func(s *Server) {
		s.registry = reg
	}
}

// New builds a server. jobs may be nil, in which case /jobs answers 404.
func New(e *engine.Engine, jobs *scheduler.Scheduler, opts ...Option) (*Server, error) {
	s := &Server{
		engine: e,
		jobs:   jobs,
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.logger = s.logger.With("component", "server")
	if s.limiter == nil {
		s.limiter = NewRateLimiter(5, 20)
	}
	if s.registry == nil {
		s.registry = newRegistry()
	}
	s.metrics = newHTTPMetrics(s.registry)

	schema, err := compileImpactEventSchema()
	if err != nil {
		return nil, err
	}
	s.eventSchema = schema
	return s, nil
}

// Handler returns the router.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(s.instrument)

	r.Get("/healthz", s.healthz)
	r.Method(http.MethodGet, "/metrics", s.metricsHandler())

	r.Group(func(r chi.Router) {
		r.Use(s.limiter.Middleware)
		r.Get("/certificates/{id}", s.getCertificate)
		r.Get("/certificates/{id}/qr.png", s.getCertificateQR)
		r.Get("/cdv/validate/{id}", s.getCertificate)
	})

	r.Group(func(r chi.Router) {
		r.Use(s.authenticate)
		r.Post("/impact-events", s.withRoles(s.postImpactEvent, RoleCollaborator, RoleAdmin))
		r.Post("/quotas/{id}/issue-certificate", s.withRoles(s.issueCertificate, RoleInvestor, RoleAdmin))
		r.Post("/certificates/{id}/revoke", s.withRoles(s.revokeCertificate, RoleAdmin))
		r.Post("/jobs/{name}/run", s.withRoles(s.runJob, RoleAdmin))
	})

	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		writeProblem(w, r, http.StatusNotFound, string(engine.ErrCodeNotFound), "no such route")
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, r *http.Request) {
		writeProblem(w, r, http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED", "The HTTP method is not supported for this endpoint")
	})
	return r
}

// ListenAndServe serves until ctx is cancelled, then drains in-flight
// requests for up to shutdownTimeout.
func (s *Server) ListenAndServe(ctx context.Context, addr string, shutdownTimeout time.Duration) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("http server listening", "addr", addr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("http server: %w", err)
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
	defer cancel()
	s.logger.Info("http server shutting down")
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("http server shutdown: %w", err)
	}
	return nil
}
