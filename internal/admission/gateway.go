package admission

import (
	"context"
	"fmt"
	"time"

	"github.com/serroba/admission-go/internal/decision"
	"github.com/serroba/admission-go/internal/idempotency"
	"github.com/serroba/admission-go/internal/ratelimit"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

const tracerName = "github.com/serroba/admission-go/internal/admission"

// Gateway composes key building with the idempotency guard and the rate
// limiters behind one contract. It adds no admission logic of its own.
type Gateway struct {
	guard    *idempotency.Guard
	limiters map[ratelimit.Algorithm]ratelimit.Limiter
	observer decision.Observer
	tracer   trace.Tracer
	logger   *zap.Logger
	now      func() time.Time
}

// Option configures a Gateway.
type Option func(*Gateway)

// WithObserver sets the observer notified of every decision.
func WithObserver(observer decision.Observer) Option {
	return func(g *Gateway) { g.observer = observer }
}

// WithTracerProvider sets the provider used for admission spans.
func WithTracerProvider(provider trace.TracerProvider) Option {
	return func(g *Gateway) { g.tracer = provider.Tracer(tracerName) }
}

// WithLogger sets the logger.
func WithLogger(logger *zap.Logger) Option {
	return func(g *Gateway) { g.logger = logger }
}

// WithLimiter registers the limiter used for algorithm.
func WithLimiter(algorithm ratelimit.Algorithm, limiter ratelimit.Limiter) Option {
	return func(g *Gateway) { g.limiters[algorithm] = limiter }
}

// WithClock sets the clock used to timestamp decision events.
func WithClock(now func() time.Time) Option {
	return func(g *Gateway) { g.now = now }
}

// NewGateway creates a new admission gateway.
func NewGateway(guard *idempotency.Guard, opts ...Option) *Gateway {
	g := &Gateway{
		guard:    guard,
		limiters: make(map[ratelimit.Algorithm]ratelimit.Limiter),
		observer: decision.Nop{},
		tracer:   otel.Tracer(tracerName),
		logger:   zap.NewNop(),
		now:      time.Now,
	}

	for _, opt := range opts {
		opt(g)
	}

	return g
}

// Admit decides whether the call described by req may proceed. Rejections
// are decisions, not errors. The error reports an invalid request or the
// caller's own context ending.
func (g *Gateway) Admit(ctx context.Context, req Request) (decision.Decision, error) {
	key, err := g.prepare(req)
	if err != nil {
		return decision.Decision{}, err
	}

	ctx, span := g.startSpan(ctx, "admission.Admit", req, key)
	defer span.End()

	start := time.Now()

	var d decision.Decision

	switch req.Mode {
	case decision.ModeIdempotency:
		d, err = g.guard.CheckAndLease(ctx, key, req.TTL)
	case decision.ModeRateLimit:
		d, err = g.tryAcquire(ctx, key, req)
	}

	admitDuration.WithLabelValues(string(req.Mode)).Observe(time.Since(start).Seconds())

	return g.finish(ctx, span, req, key, d, err)
}

// Execute admits req and, when allowed, runs op. For idempotency requests
// the lease is released afterwards when req.DeleteAfterExecution is set. The
// error from op is returned unchanged.
func (g *Gateway) Execute(ctx context.Context, req Request, op idempotency.Operation) (decision.Decision, error) {
	key, err := g.prepare(req)
	if err != nil {
		return decision.Decision{}, err
	}

	ctx, span := g.startSpan(ctx, "admission.Execute", req, key)
	defer span.End()

	if req.Mode == decision.ModeIdempotency {
		res, err := g.guard.Execute(ctx, key, req.TTL, req.DeleteAfterExecution, op)
		if !res.Allowed {
			return g.finish(ctx, span, req, key, res.Decision, err)
		}

		setDecision(span, res.Decision)
		span.SetAttributes(attribute.String("admission.lease_state", string(res.State)))
		g.notify(ctx, req, key, res.Decision)
		recordErr(span, err)

		return res.Decision, err
	}

	d, err := g.tryAcquire(ctx, key, req)

	d, err = g.finish(ctx, span, req, key, d, err)
	if err != nil || !d.Allowed {
		return d, err
	}

	err = op(ctx)
	recordErr(span, err)

	return d, err
}

// Release deletes the lease held for an idempotency request.
func (g *Gateway) Release(ctx context.Context, req Request) (bool, error) {
	key, err := g.leaseKey(req)
	if err != nil {
		return false, err
	}

	return g.guard.Release(ctx, key)
}

// Probe reports whether a lease exists for an idempotency request without
// taking it.
func (g *Gateway) Probe(ctx context.Context, req Request) (bool, error) {
	key, err := g.leaseKey(req)
	if err != nil {
		return false, err
	}

	return g.guard.Probe(ctx, key)
}

func (g *Gateway) leaseKey(req Request) (string, error) {
	if req.Mode != decision.ModeIdempotency {
		return "", fmt.Errorf("%w: %s", ErrUnsupported, req.Mode)
	}

	return g.prepare(req)
}

func (g *Gateway) prepare(req Request) (string, error) {
	if err := req.Validate(); err != nil {
		return "", err
	}

	key, err := req.Key()
	if err != nil {
		return "", fmt.Errorf("%w: %w", ErrInvalidRequest, err)
	}

	return key, nil
}

func (g *Gateway) tryAcquire(ctx context.Context, key string, req Request) (decision.Decision, error) {
	algorithm, _ := ratelimit.ParseAlgorithm(string(req.Algorithm))

	limiter, ok := g.limiters[algorithm]
	if !ok {
		return decision.Decision{}, fmt.Errorf("%w: no limiter for %s", ErrUnsupported, algorithm)
	}

	return limiter.TryAcquire(ctx, key, req.Limit, req.Window)
}

func (g *Gateway) startSpan(ctx context.Context, name string, req Request, key string) (context.Context, trace.Span) {
	return g.tracer.Start(ctx, name,
		trace.WithAttributes(
			attribute.String("admission.mode", string(req.Mode)),
			attribute.String("admission.policy", req.Policy),
			attribute.String("admission.key", key),
		),
	)
}

func (g *Gateway) finish(
	ctx context.Context, span trace.Span, req Request, key string, d decision.Decision, err error,
) (decision.Decision, error) {
	if err != nil {
		recordErr(span, err)

		return d, err
	}

	setDecision(span, d)
	g.notify(ctx, req, key, d)

	return d, nil
}

func setDecision(span trace.Span, d decision.Decision) {
	span.SetAttributes(
		attribute.Bool("admission.allowed", d.Allowed),
		attribute.Bool("admission.degraded", d.Degraded),
		attribute.String("admission.reason", string(d.Reason)),
	)
}

func (g *Gateway) notify(ctx context.Context, req Request, key string, d decision.Decision) {
	g.observer.OnDecision(ctx, decision.Event{
		Mode:     req.Mode,
		Policy:   req.Policy,
		Key:      key,
		Decision: d,
		At:       g.now(),
	})
}

func recordErr(span trace.Span, err error) {
	if err == nil {
		return
	}

	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
}
