package refresh

import (
	"context"
	"log/slog"
	"sync/atomic"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/singleflight"

	"github.com/renovo-works/sessioncore/internal/port/outbound"
	"github.com/renovo-works/sessioncore/internal/telemetry"
)

// DefaultTimeout bounds one refresh ticket, biometric challenge included.
const DefaultTimeout = 30 * time.Second

const flightKey = "refresh"

// Coordinator runs at most one refresh exchange at a time. Callers that
// arrive while a ticket is in flight join it and receive the same Result.
type Coordinator struct {
	creds     Credentials
	api       Exchanger
	committer Committer

	group   singleflight.Group
	timeout time.Duration
	metrics *telemetry.Metrics
	tracer  trace.Tracer
	logger  *slog.Logger
}

// Option configures a Coordinator.
type Option func(*Coordinator)

// WithTimeout bounds a single ticket. Non-positive values are ignored.
func WithTimeout(d time.Duration) Option {
	return func(c *Coordinator) {
		if d > 0 {
			c.timeout = d
		}
	}
}

// WithMetrics records ticket outcomes and joins.
func WithMetrics(m *telemetry.Metrics) Option {
	return func(c *Coordinator) {
		c.metrics = m
	}
}

// WithTracer sets the tracer. Defaults to telemetry.Tracer().
func WithTracer(t trace.Tracer) Option {
	return func(c *Coordinator) {
		c.tracer = t
	}
}

// WithLogger sets the logger. Defaults to slog.Default().
func WithLogger(logger *slog.Logger) Option {
	return func(c *Coordinator) {
		c.logger = logger
	}
}

// NewCoordinator creates a Coordinator that commits grants through committer.
func NewCoordinator(creds Credentials, api Exchanger, committer Committer, opts ...Option) *Coordinator {
	c := &Coordinator{
		creds:     creds,
		api:       api,
		committer: committer,
		timeout:   DefaultTimeout,
		tracer:    telemetry.Tracer(),
		logger:    slog.Default(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Trigger starts a refresh ticket or joins the one in flight, and blocks
// until it settles or ctx is done.
//
// The ticket runs detached from ctx: a caller that gives up receives
// NetworkError with ctx.Err(), while the ticket keeps going for the others.
// Once a ticket settles the next Trigger starts a fresh one.
func (c *Coordinator) Trigger(ctx context.Context) Result {
	var leader atomic.Bool
	detached := context.WithoutCancel(ctx)

	ch := c.group.DoChan(flightKey, func() (any, error) {
		leader.Store(true)
		tctx, cancel := context.WithTimeout(detached, c.timeout)
		defer cancel()
		return c.run(tctx), nil
	})

	select {
	case res := <-ch:
		r := res.Val.(Result)
		if !leader.Load() {
			r.Shared = true
			c.metrics.ObserveJoin()
		}
		return r
	case <-ctx.Done():
		return Result{
			Outcome:    NetworkError,
			Generation: c.committer.Generation(),
			Err:        ctx.Err(),
		}
	}
}

func (c *Coordinator) run(ctx context.Context) Result {
	start := time.Now()
	gen := c.committer.Generation()

	ctx, span := c.tracer.Start(ctx, "refresh.ticket",
		trace.WithAttributes(attribute.Int64("session.generation", int64(gen))))
	defer span.End()

	res := c.exchange(ctx, gen)
	res.Generation = gen

	span.SetAttributes(attribute.String("refresh.outcome", res.Outcome.String()))
	if res.Err != nil {
		span.RecordError(res.Err)
		span.SetStatus(codes.Error, res.Outcome.String())
	}
	c.metrics.ObserveRefresh(res.Outcome.String(), time.Since(start))

	attrs := []any{"outcome", res.Outcome.String(), "generation", gen, "duration", time.Since(start)}
	if res.Err != nil {
		attrs = append(attrs, "error", res.Err)
	}
	if res.Outcome == Success {
		c.logger.Debug("refresh ticket settled", attrs...)
	} else {
		c.logger.Info("refresh ticket settled", attrs...)
	}
	return res
}

func (c *Coordinator) exchange(ctx context.Context, gen uint64) Result {
	token, ok, err := c.creds.Retrieve(ctx, c.creds.IsEnabled(ctx))
	if err != nil {
		return Result{Outcome: NetworkError, Err: err}
	}
	if !ok {
		return Result{Outcome: Declined}
	}

	resp, err := c.api.Refresh(ctx, token)
	if err != nil {
		return Result{Outcome: NetworkError, Err: err}
	}
	if resp.Status == outbound.RefreshRejected {
		return Result{Outcome: Expired}
	}

	committed, err := c.committer.Commit(ctx, gen, Grant{
		AccessToken:  resp.Token,
		User:         resp.User,
		RefreshToken: resp.RefreshToken,
	})
	if !committed {
		return Result{Outcome: Superseded}
	}
	if err != nil {
		// The grant is live in memory; only persisting it failed.
		c.logger.Warn("refreshed session not persisted", "error", err)
	}
	return Result{Outcome: Success}
}
