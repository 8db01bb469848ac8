// Package dispatch runs planned handlers concurrently under deadlines and
// merges what they return into a single reply.
package dispatch

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"golang.org/x/sync/errgroup"

	"github.com/wolfman30/ciro-tutor/internal/agents"
	"github.com/wolfman30/ciro-tutor/internal/observability/metrics"
	"github.com/wolfman30/ciro-tutor/internal/routing"
	"github.com/wolfman30/ciro-tutor/internal/session"
	"github.com/wolfman30/ciro-tutor/pkg/logging"
)

var dispatchTracer = otel.Tracer("ciro.internal.dispatch")

const (
	StatusOK      = "ok"
	StatusTimeout = "timeout"
	StatusError   = "error"
)

var (
	// ErrHandlerTimeout marks a handler that missed its deadline.
	ErrHandlerTimeout = errors.New("dispatch: handler timed out")
	// ErrUnknownHandler marks a plan entry with no registered handler.
	ErrUnknownHandler = errors.New("dispatch: unknown handler")
	errHandlerPanic   = errors.New("dispatch: handler panicked")
)

// Outcome is what became of one planned handler.
type Outcome struct {
	Handler   string
	Status    string
	Text      string
	Citations []session.Citation
	Latency   time.Duration
	Err       error
	// Check is the knowledge-check state a successful handler handed back.
	Check *session.KnowledgeCheck
}

func (o Outcome) OK() bool { return o.Status == StatusOK }

// Dispatcher fans a plan out to its handlers.
type Dispatcher struct {
	registry        *agents.Registry
	handlerDeadline time.Duration
	turnDeadline    time.Duration
	maxConcurrent   int
	metrics         *metrics.RoutingMetrics
	logger          *logging.Logger
}

// DispatcherOption customizes a Dispatcher.
type DispatcherOption func(*Dispatcher)

func WithDeadlines(handler, turn time.Duration) DispatcherOption {
	return func(d *Dispatcher) {
		if handler > 0 {
			d.handlerDeadline = handler
		}
		if turn > 0 {
			d.turnDeadline = turn
		}
	}
}

// WithMaxConcurrent caps how many handlers of one plan run at once. Zero or
// less runs every entry at once.
func WithMaxConcurrent(n int) DispatcherOption {
	return func(d *Dispatcher) { d.maxConcurrent = n }
}

func WithMetrics(m *metrics.RoutingMetrics) DispatcherOption {
	return func(d *Dispatcher) { d.metrics = m }
}

func WithLogger(logger *logging.Logger) DispatcherOption {
	return func(d *Dispatcher) {
		if logger != nil {
			d.logger = logger
		}
	}
}

func NewDispatcher(reg *agents.Registry, opts ...DispatcherOption) *Dispatcher {
	if reg == nil {
		panic("dispatch: registry cannot be nil")
	}
	d := &Dispatcher{
		registry:        reg,
		handlerDeadline: 8 * time.Second,
		turnDeadline:    12 * time.Second,
		logger:          logging.Default(),
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Dispatch runs every entry concurrently and returns one outcome per entry,
// in plan order. It never fails: timeouts, errors, panics and empty answers
// all become outcomes.
func (d *Dispatcher) Dispatch(ctx context.Context, plan routing.Plan) []Outcome {
	ctx, span := dispatchTracer.Start(ctx, "dispatch.plan")
	defer span.End()
	span.SetAttributes(attribute.Int("ciro.dispatch.entries", len(plan.Entries)))

	ctx, cancel := context.WithTimeout(ctx, d.turnDeadline)
	defer cancel()

	outcomes := make([]Outcome, len(plan.Entries))
	// run folds every failure into its outcome, so the group never cancels
	// siblings; it bounds concurrency and ties workers to the turn context.
	g, gctx := errgroup.WithContext(ctx)
	if d.maxConcurrent > 0 {
		g.SetLimit(d.maxConcurrent)
	}
	for i, entry := range plan.Entries {
		i, entry := i, entry
		g.Go(func() error {
			outcomes[i] = d.run(gctx, entry)
			return nil
		})
	}
	_ = g.Wait()

	for _, o := range outcomes {
		d.metrics.ObserveHandler(o.Handler, o.Status, o.Latency)
		if !o.OK() {
			d.logger.Warn("handler did not answer",
				"handler", o.Handler,
				"status", o.Status,
				"duration_ms", o.Latency.Milliseconds(),
				"error", o.Err,
			)
		}
	}
	return outcomes
}

type invocation struct {
	answer agents.Answer
	err    error
}

func (d *Dispatcher) run(ctx context.Context, entry routing.PlanEntry) Outcome {
	start := time.Now()
	out := Outcome{Handler: entry.Handler}

	handler, ok := d.registry.Handler(entry.Handler)
	if !ok {
		out.Status = StatusError
		out.Err = agents.WrapError(entry.Handler, ErrUnknownHandler)
		return out
	}

	deadline := d.handlerDeadline
	if p, ok := d.registry.Profile(entry.Handler); ok && p.Deadline > 0 {
		deadline = p.Deadline
	}
	hctx, cancel := context.WithTimeout(ctx, deadline)
	defer cancel()

	// buffered so a late handler never blocks after we stop listening
	done := make(chan invocation, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				done <- invocation{err: fmt.Errorf("%w: %v", errHandlerPanic, r)}
			}
		}()
		ans, err := handler.Invoke(hctx, agents.Request{
			Subquery: entry.Subquery,
			Snapshot: entry.Snapshot,
			Check:    entry.Check.Clone(),
		})
		done <- invocation{answer: ans, err: err}
	}()

	select {
	case res := <-done:
		out.Latency = time.Since(start)
		switch {
		case res.err != nil && hctx.Err() != nil && errors.Is(res.err, context.DeadlineExceeded):
			out.Status = StatusTimeout
			out.Err = agents.WrapError(entry.Handler, fmt.Errorf("%w: %w", ErrHandlerTimeout, res.err))
		case res.err != nil:
			out.Status = StatusError
			out.Err = agents.WrapError(entry.Handler, res.err)
		case strings.TrimSpace(res.answer.Text) == "":
			out.Status = StatusError
			out.Err = agents.WrapError(entry.Handler, agents.ErrEmptyAnswer)
		default:
			out.Status = StatusOK
			out.Text = strings.TrimSpace(res.answer.Text)
			out.Citations = res.answer.Citations
			out.Check = res.answer.Check
		}
	case <-hctx.Done():
		out.Latency = time.Since(start)
		if errors.Is(ctx.Err(), context.Canceled) {
			out.Status = StatusError
			out.Err = agents.WrapError(entry.Handler, ctx.Err())
			break
		}
		out.Status = StatusTimeout
		out.Err = agents.WrapError(entry.Handler, fmt.Errorf("%w after %s", ErrHandlerTimeout, deadline))
	}
	return out
}
