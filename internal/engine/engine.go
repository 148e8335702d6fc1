package engine

import (
	"context"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/metric/noop"
	"go.opentelemetry.io/otel/trace"

	"github.com/roach88/cdv/internal/model"
	"github.com/roach88/cdv/internal/store"
)

const instrumentationName = "github.com/roach88/cdv/internal/engine"

// Archiver receives every certificate after its issuing transaction commits.
// Implemented by internal/archive.
type Archiver interface {
	Archive(ctx context.Context, cert model.Certificate) error
}

// Engine runs the CDV pipeline against a store.
//
// Thread-safety model:
//   - All methods are safe from any goroutine.
//   - Correctness under concurrency comes from guarded updates and unique
//     constraints in the store, not from locks held by the Engine.
//   - Schedulers serialize each job type with internal/lock to avoid
//     wasted work, never for correctness.
type Engine struct {
	store    *store.Store
	ids      IDGenerator
	clock    Clock
	policy   Policy
	archiver Archiver
	logger   *slog.Logger

	tracer  trace.Tracer
	metrics engineMetrics
}

type engineMetrics struct {
	promoted       metric.Int64Counter
	rejected       metric.Int64Counter
	reconciled     metric.Int64Counter
	matured        metric.Int64Counter
	issued         metric.Int64Counter
	uibsMinted     metric.Int64Counter
	archiveFailure metric.Int64Counter
}

// EngineOption allows configuration of engine parameters.
type EngineOption func(*Engine)

// WithPolicy sets the business rules. Default: DefaultPolicy().
func WithPolicy(p Policy) EngineOption {
	return func(e *Engine) {
		e.policy = p
	}
}

// WithClock sets the time source. Default: SystemClock.
func WithClock(c Clock) EngineOption {
	return func(e *Engine) {
		e.clock = c
	}
}

// WithIDGenerator sets the id source. Default: UUIDv7Generator.
func WithIDGenerator(g IDGenerator) EngineOption {
	return func(e *Engine) {
		e.ids = g
	}
}

// WithArchiver uploads issued certificates after commit.
func WithArchiver(a Archiver) EngineOption {
	return func(e *Engine) {
		e.archiver = a
	}
}

// WithLogger sets the structured logger. Default: slog.Default().
func WithLogger(l *slog.Logger) EngineOption {
	return func(e *Engine) {
		e.logger = l
	}
}

// New creates an Engine over the given store.
//
// Instruments are taken from the global OpenTelemetry providers, which are
// no-ops unless internal/observability installed real ones.
func New(s *store.Store, opts ...EngineOption) *Engine {
	e := &Engine{
		store:  s,
		ids:    UUIDv7Generator{},
		clock:  SystemClock{},
		policy: DefaultPolicy(),
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(e)
	}
	e.logger = e.logger.With("component", "engine")
	e.tracer = otel.Tracer(instrumentationName)
	e.metrics = newEngineMetrics(otel.Meter(instrumentationName))
	return e
}

func newEngineMetrics(m metric.Meter) engineMetrics {
	counter := func(name, desc string) metric.Int64Counter {
		c, err := m.Int64Counter(name, metric.WithDescription(desc))
		if err != nil {
			otel.Handle(err)
			return noop.Int64Counter{}
		}
		return c
	}
	return engineMetrics{
		promoted:       counter("cdv.events.promoted", "Impact events promoted into inventory"),
		rejected:       counter("cdv.events.rejected", "Impact events quarantined as invalid"),
		reconciled:     counter("cdv.reconciliations", "Reconciliation records written"),
		matured:        counter("cdv.quotas.matured", "Quotas transitioned to ready"),
		issued:         counter("cdv.certificates.issued", "Certificates issued"),
		uibsMinted:     counter("cdv.uibs.minted", "UIBs minted"),
		archiveFailure: counter("cdv.archive.failures", "Certificate archive uploads that failed"),
	}
}

// Policy returns the engine's business rules.
func (e *Engine) Policy() Policy {
	return e.policy
}

// Now reads the engine clock.
func (e *Engine) Now() time.Time {
	return e.clock.Now()
}

// Store returns the underlying store.
func (e *Engine) Store() *store.Store {
	return e.store
}
