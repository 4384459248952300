package access

import (
	"context"
	"errors"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/ai-teammate/contentgate/internal/auth"
	"github.com/ai-teammate/contentgate/internal/firestore"
)

// ErrRecordNotFound is returned when no strategy yields a record. Callers
// treat it as "not allowed", not as a server failure.
var ErrRecordNotFound = errors.New("authorization record not found")

// SourceNotFound is reported to the lookup hook when every strategy missed.
const SourceNotFound = "not_found"

const tracerName = "github.com/ai-teammate/contentgate/internal/access"

// Resolver is the interface that wraps identity-to-record resolution.
// The interface makes the gateway unit-testable by allowing tests to inject a
// stub that does not hit Firestore.
type Resolver interface {
	Resolve(ctx context.Context, id *auth.VerifiedIdentity) (*Record, error)
}

type options struct {
	strategies []Strategy
	onLookup   func(source string)
}

// Option configures a StrategyResolver or CachedResolver.
type Option func(*options)

// WithStrategies replaces DefaultStrategies.
func WithStrategies(strategies ...Strategy) Option {
	return func(o *options) { o.strategies = strategies }
}

// WithLookupHook registers fn to be called with the source of every
// resolution: a strategy name, "cache", or SourceNotFound.
func WithLookupHook(fn func(source string)) Option {
	return func(o *options) { o.onLookup = fn }
}

func newOptions(opts []Option) options {
	o := options{strategies: DefaultStrategies(), onLookup: func(string) {}}
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

// StrategyResolver tries each strategy in order and returns the first record
// found.
type StrategyResolver struct {
	store  DocumentStore
	logger *zap.Logger
	opts   options
	tracer trace.Tracer
}

// NewStrategyResolver creates a StrategyResolver reading from store.
func NewStrategyResolver(store DocumentStore, logger *zap.Logger, opts ...Option) *StrategyResolver {
	return &StrategyResolver{
		store:  store,
		logger: logger,
		opts:   newOptions(opts),
		tracer: otel.Tracer(tracerName),
	}
}

// Resolve runs the strategies in order. Store failures are logged and the
// next strategy is tried; only exhaustion is reported, as ErrRecordNotFound.
func (r *StrategyResolver) Resolve(ctx context.Context, id *auth.VerifiedIdentity) (*Record, error) {
	ctx, span := r.tracer.Start(ctx, "access.Resolve")
	defer span.End()

	for _, s := range r.opts.strategies {
		doc, err := s.Lookup(ctx, r.store, id)
		switch {
		case err == nil:
			span.SetAttributes(attribute.String("access.strategy", s.Name))
			r.opts.onLookup(s.Name)
			return ParseRecord(doc), nil
		case errors.Is(err, ErrNotApplicable), errors.Is(err, firestore.ErrDocumentNotFound):
			continue
		default:
			r.logger.Warn("authorization lookup failed",
				zap.String("strategy", s.Name),
				zap.String("subject", id.Subject),
				zap.Error(err),
			)
		}
	}

	span.SetAttributes(attribute.String("access.strategy", SourceNotFound))
	r.opts.onLookup(SourceNotFound)
	return nil, ErrRecordNotFound
}
