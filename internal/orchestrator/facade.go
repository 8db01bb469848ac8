// Package orchestrator runs one chat turn end to end: it serializes access
// to the session, routes the message, dispatches handlers and records the
// exchange.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/wolfman30/ciro-tutor/internal/agents"
	"github.com/wolfman30/ciro-tutor/internal/config"
	"github.com/wolfman30/ciro-tutor/internal/dispatch"
	"github.com/wolfman30/ciro-tutor/internal/events"
	"github.com/wolfman30/ciro-tutor/internal/observability/metrics"
	"github.com/wolfman30/ciro-tutor/internal/routing"
	"github.com/wolfman30/ciro-tutor/internal/session"
	"github.com/wolfman30/ciro-tutor/pkg/logging"
)

var tracer = otel.Tracer("ciro.internal.orchestrator")

const (
	// FallbackText is returned when every planned handler failed.
	FallbackText = "I'm sorry, but I'm having trouble processing your request right now. Could you please try again or rephrase your question?"
	// StoreUnavailableText is returned when the session could not be read or written.
	StoreUnavailableText = "I'm having trouble reaching our conversation history right now. Please try again in a moment."

	ruleDirect = "direct"
)

var (
	// ErrAllHandlersFailed is logged when no planned handler produced text.
	ErrAllHandlersFailed = errors.New("orchestrator: all handlers failed")
	// ErrEmptyMessage rejects blank input.
	ErrEmptyMessage = errors.New("orchestrator: message required")
	// ErrUnknownAgent rejects a direct request for a handler not in the registry.
	ErrUnknownAgent = errors.New("orchestrator: unknown agent")
	// ErrListUnsupported is returned when the session store cannot enumerate.
	ErrListUnsupported = errors.New("orchestrator: session store cannot list sessions")
)

// Reply is what the student sees for one turn.
type Reply struct {
	Text          string             `json:"response"`
	SessionID     string             `json:"session_id"`
	HandlersUsed  []string           `json:"used_agents"`
	Citations     []session.Citation `json:"citations,omitempty"`
	Clarification bool               `json:"clarification,omitempty"`
	Urgent        bool               `json:"urgent,omitempty"`
}

// Facade is the single entry point the transport layer talks to.
type Facade struct {
	store      session.Store
	locker     session.Locker
	registry   *agents.Registry
	classifier routing.Classifier
	resolver   *routing.Resolver
	composer   *routing.Composer
	clarifier  *routing.Clarifier
	dispatcher *dispatch.Dispatcher
	aggregator *dispatch.Aggregator
	sinks      []events.TurnSink
	metrics    *metrics.RoutingMetrics
	logger     *logging.Logger
	routing    *config.Routing
	now        func() time.Time
	sinkWait   time.Duration
}

// Option customizes a Facade.
type Option func(*Facade)

func WithLocker(l session.Locker) Option {
	return func(f *Facade) {
		if l != nil {
			f.locker = l
		}
	}
}

func WithClassifier(c routing.Classifier) Option {
	return func(f *Facade) {
		if c != nil {
			f.classifier = c
		}
	}
}

func WithResolver(r *routing.Resolver) Option {
	return func(f *Facade) {
		if r != nil {
			f.resolver = r
		}
	}
}

func WithDispatcher(d *dispatch.Dispatcher) Option {
	return func(f *Facade) {
		if d != nil {
			f.dispatcher = d
		}
	}
}

// WithTurnSinks registers sinks that observe every completed turn.
func WithTurnSinks(sinks ...events.TurnSink) Option {
	return func(f *Facade) {
		for _, s := range sinks {
			if s != nil {
				f.sinks = append(f.sinks, s)
			}
		}
	}
}

func WithMetrics(m *metrics.RoutingMetrics) Option {
	return func(f *Facade) { f.metrics = m }
}

func WithLogger(logger *logging.Logger) Option {
	return func(f *Facade) {
		if logger != nil {
			f.logger = logger
		}
	}
}

func withClock(now func() time.Time) Option {
	return func(f *Facade) { f.now = now }
}

// New wires the routing pipeline around a store and a registry. Components
// not supplied through options are built from cfg.
func New(store session.Store, reg *agents.Registry, cfg *config.Routing, opts ...Option) *Facade {
	if store == nil {
		panic("orchestrator: session store cannot be nil")
	}
	if reg == nil {
		panic("orchestrator: registry cannot be nil")
	}
	if cfg == nil {
		cfg = config.DefaultRouting()
	}
	f := &Facade{
		store:    store,
		locker:   session.NewKeyedLocker(),
		registry: reg,
		routing:  cfg,
		logger:   logging.Default(),
		now:      func() time.Time { return time.Now().UTC() },
		sinkWait: 5 * time.Second,
	}
	for _, opt := range opts {
		opt(f)
	}
	if f.classifier == nil {
		f.classifier = routing.NewKeywordClassifier(reg, cfg)
	}
	if f.resolver == nil {
		f.resolver = routing.NewResolver(reg, cfg, routing.WithResolverLogger(f.logger))
	}
	if f.dispatcher == nil {
		f.dispatcher = dispatch.NewDispatcher(reg,
			dispatch.WithDeadlines(cfg.HandlerDeadline, cfg.TurnDeadline),
			dispatch.WithMaxConcurrent(cfg.MaxConcurrent),
			dispatch.WithMetrics(f.metrics),
			dispatch.WithLogger(f.logger),
		)
	}
	f.composer = routing.NewComposer(reg, cfg)
	f.clarifier = routing.NewClarifier(reg)
	f.aggregator = dispatch.NewAggregator(reg)
	return f
}

// Registry exposes the handler table the facade routes over.
func (f *Facade) Registry() *agents.Registry { return f.registry }

// turn carries one request through the pipeline.
type turn struct {
	sessionID string
	message   string
	direct    string
	started   time.Time
}

// Handle routes a message through classification, resolution and dispatch.
// A missing session id starts a new session. When the session store fails
// the reply is still well formed and the error wraps
// session.ErrStoreUnavailable.
func (f *Facade) Handle(ctx context.Context, sessionID, message string) (Reply, error) {
	return f.run(ctx, turn{sessionID: sessionID, message: message})
}

// Direct sends the message to one named handler, bypassing classification.
func (f *Facade) Direct(ctx context.Context, sessionID, agentID, message string) (Reply, error) {
	if _, ok := f.registry.Profile(agentID); !ok {
		return Reply{SessionID: sessionID, HandlersUsed: []string{}}, fmt.Errorf("%w: %q", ErrUnknownAgent, agentID)
	}
	return f.run(ctx, turn{sessionID: sessionID, message: message, direct: agentID})
}

// History returns the recorded turns of a session.
func (f *Facade) History(ctx context.Context, sessionID string) ([]session.Turn, error) {
	sess, err := f.store.Load(ctx, sessionID)
	if err != nil {
		return nil, fmt.Errorf("orchestrator: load history: %w", err)
	}
	return sess.Recent(0), nil
}

// Sessions lists the stored session ids when the store supports it.
func (f *Facade) Sessions(ctx context.Context) ([]string, error) {
	lister, ok := f.store.(session.Lister)
	if !ok {
		return nil, ErrListUnsupported
	}
	ids, err := lister.List(ctx)
	if err != nil {
		return nil, fmt.Errorf("orchestrator: list sessions: %w", err)
	}
	return ids, nil
}

func (f *Facade) run(ctx context.Context, t turn) (Reply, error) {
	t.started = time.Now()
	t.message = strings.TrimSpace(t.message)
	t.sessionID = strings.TrimSpace(t.sessionID)
	if t.sessionID == "" {
		t.sessionID = uuid.NewString()
	}
	if t.message == "" {
		return Reply{SessionID: t.sessionID, HandlersUsed: []string{}}, ErrEmptyMessage
	}

	ctx, span := tracer.Start(ctx, "orchestrator.turn")
	defer span.End()
	span.SetAttributes(attribute.String("ciro.session_id", t.sessionID))

	logger := f.logger.With("session_id", t.sessionID)

	unlock, err := f.locker.Lock(ctx, t.sessionID)
	if err != nil {
		if ctx.Err() != nil {
			return Reply{SessionID: t.sessionID, HandlersUsed: []string{}}, fmt.Errorf("orchestrator: lock session: %w", err)
		}
		logger.Error("session lock failed", "error", err)
		return f.storeUnavailable(t.sessionID), fmt.Errorf("orchestrator: lock session: %w: %w", session.ErrStoreUnavailable, err)
	}

	reply, evt, err := f.turnLocked(ctx, t, logger)
	unlock()
	if err != nil {
		return reply, err
	}

	span.SetAttributes(
		attribute.String("ciro.decision", evt.Decision),
		attribute.StringSlice("ciro.handlers", reply.HandlersUsed),
	)
	f.metrics.ObserveTurn(evt.Decision, time.Since(t.started))
	f.emit(ctx, evt, logger)
	return reply, nil
}

func (f *Facade) turnLocked(ctx context.Context, t turn, logger *logging.Logger) (Reply, events.TurnRecordedV1, error) {
	sess, err := f.store.Load(ctx, t.sessionID)
	if err != nil {
		logger.Error("session load failed", "error", err)
		return f.storeUnavailable(t.sessionID), events.TurnRecordedV1{}, fmt.Errorf("orchestrator: load session: %w", err)
	}

	turnIndex := sess.UserTurns() + 1
	recent := sess.Recent(f.routing.HistoryLength)

	var (
		cands    []routing.Candidate
		decision routing.Decision
	)
	if t.direct != "" {
		decision = routing.Decision{Rule: ruleDirect, Handlers: []string{t.direct}}
	} else {
		cands = f.classifier.Classify(ctx, t.message, recent)
		if len(cands) == 0 {
			logger.Warn("classification returned nothing", "error", routing.ErrClassification)
			cands = []routing.Candidate{{Handler: f.registry.CatchAll(), Confidence: f.routing.CatchAllConfidence}}
		}
		decision = f.resolver.Resolve(routing.Input{
			Message:    t.message,
			Candidates: cands,
			State: routing.State{
				AwaitingClarification: sess.AwaitingClarification(),
				Offered:               sess.ClarificationCandidates,
				ClarificationRounds:   sess.ClarificationRounds,
				LastHandlers:          sess.LastHandlers,
				LastDispatchTurn:      sess.LastDispatchTurn,
				TurnIndex:             turnIndex,
			},
		})
	}

	reply := Reply{SessionID: t.sessionID, HandlersUsed: []string{}, Urgent: decision.Urgent}
	evt := events.TurnRecordedV1{
		SessionID: t.sessionID,
		TurnIndex: turnIndex,
		Message:   t.message,
		Decision:  decision.Rule,
		Urgent:    decision.Urgent,
	}

	// the pending clarification is consumed by whatever this turn decides
	sess.PendingClarification = false
	sess.ClarificationCandidates = nil

	if decision.Clarify {
		c := f.clarifier.Ask(t.message, pick(cands, decision.Offered))
		reply.Text = c.Question
		reply.Clarification = true
		sess.PendingClarification = true
		sess.ClarificationCandidates = c.Offered
		sess.ClarificationRounds++
		logger.Info("asked for clarification", "offered", c.Offered, "round", sess.ClarificationRounds)
	} else {
		plan := f.composer.Plan(decision, t.message, cands, sess)
		outcomes := f.dispatcher.Dispatch(ctx, plan)
		result := f.aggregator.Aggregate(outcomes)

		for _, o := range outcomes {
			evt.Results = append(evt.Results, events.HandlerResult{
				Handler:   o.Handler,
				Status:    o.Status,
				LatencyMS: o.Latency.Milliseconds(),
			})
		}

		if len(result.HandlersUsed) == 0 {
			logger.Error("no handler answered", "error", ErrAllHandlersFailed, "planned", plan.Handlers())
			reply.Text = FallbackText
		} else {
			reply.Text = result.Text
			reply.HandlersUsed = result.HandlersUsed
			reply.Citations = result.Citations
		}

		for _, o := range outcomes {
			if o.OK() && o.Check != nil {
				sess.KnowledgeCheck = o.Check
			}
		}

		sess.ClarificationRounds = 0
		// direct-only handlers never become the continuity target
		if routable := f.routable(plan.Handlers()); len(routable) > 0 {
			sess.LastHandlers = routable
			sess.LastDispatchTurn = turnIndex
		}
		if topic := topicOf(cands, plan.Handlers()); topic != "" {
			sess.LastTopic = topic
		}
		logger.Info("turn routed",
			"decision", decision.Rule,
			"planned", plan.Handlers(),
			"used", reply.HandlersUsed,
			"urgent", decision.Urgent,
		)
	}

	now := f.now()
	sess.Append(session.Turn{Role: session.RoleUser, Text: t.message, Timestamp: now})
	sess.Append(session.Turn{
		Role:         session.RoleSystem,
		Text:         reply.Text,
		Timestamp:    now,
		HandlersUsed: append([]string(nil), reply.HandlersUsed...),
		Citations:    reply.Citations,
	})

	if err := f.store.Save(ctx, sess); err != nil {
		logger.Error("session save failed", "error", err)
		return f.storeUnavailable(t.sessionID), events.TurnRecordedV1{}, fmt.Errorf("orchestrator: save session: %w", err)
	}

	evt.Reply = reply.Text
	evt.HandlersUsed = reply.HandlersUsed
	evt.Clarification = reply.Clarification
	evt.LatencyMS = time.Since(t.started).Milliseconds()
	evt.OccurredAt = now
	return reply, evt, nil
}

// emit hands the turn to every sink. Sink failures are logged only.
func (f *Facade) emit(ctx context.Context, evt events.TurnRecordedV1, logger *logging.Logger) {
	if len(f.sinks) == 0 {
		return
	}
	evt.EventID = uuid.NewString()
	sctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), f.sinkWait)
	defer cancel()
	for _, sink := range f.sinks {
		if err := sink.RecordTurn(sctx, evt); err != nil {
			logger.Warn("turn sink failed", "sink", fmt.Sprintf("%T", sink), "error", err)
		}
	}
}

func (f *Facade) storeUnavailable(sessionID string) Reply {
	return Reply{Text: StoreUnavailableText, SessionID: sessionID, HandlersUsed: []string{}}
}

func (f *Facade) routable(handlers []string) []string {
	out := make([]string, 0, len(handlers))
	for _, h := range handlers {
		if p, ok := f.registry.Profile(h); ok && !p.DirectOnly {
			out = append(out, h)
		}
	}
	return out
}

// pick returns the candidates for the named handlers, falling back to the
// full list when none match.
func pick(cands []routing.Candidate, names []string) []routing.Candidate {
	var out []routing.Candidate
	for _, c := range cands {
		for _, n := range names {
			if c.Handler == n {
				out = append(out, c)
				break
			}
		}
	}
	if len(out) == 0 {
		return cands
	}
	return out
}

func topicOf(cands []routing.Candidate, handlers []string) string {
	for _, h := range handlers {
		for _, c := range cands {
			if c.Handler == h && c.Slots.Topic != "" {
				return c.Slots.Topic
			}
		}
	}
	return ""
}
