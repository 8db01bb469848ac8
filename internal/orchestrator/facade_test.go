package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wolfman30/ciro-tutor/internal/agents"
	"github.com/wolfman30/ciro-tutor/internal/config"
	"github.com/wolfman30/ciro-tutor/internal/events"
	"github.com/wolfman30/ciro-tutor/internal/llm"
	"github.com/wolfman30/ciro-tutor/internal/observability/metrics"
	"github.com/wolfman30/ciro-tutor/internal/session"
)

// recorder answers as its handler name and remembers every request.
type recorder struct {
	mu    sync.Mutex
	calls map[string][]agents.Request
}

func (r *recorder) handler(name string) agents.Handler {
	return agents.HandlerFunc(func(ctx context.Context, req agents.Request) (agents.Answer, error) {
		r.mu.Lock()
		r.calls[name] = append(r.calls[name], req)
		r.mu.Unlock()
		return agents.Answer{Text: fmt.Sprintf("%s answer to: %s", name, req.Subquery)}, nil
	})
}

func (r *recorder) requests(name string) []agents.Request {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]agents.Request(nil), r.calls[name]...)
}

func blocking() agents.Handler {
	return agents.HandlerFunc(func(ctx context.Context, req agents.Request) (agents.Answer, error) {
		<-ctx.Done()
		return agents.Answer{}, ctx.Err()
	})
}

type sinkRecorder struct {
	mu     sync.Mutex
	events []events.TurnRecordedV1
	err    error
}

func (s *sinkRecorder) RecordTurn(ctx context.Context, evt events.TurnRecordedV1) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, evt)
	return s.err
}

type harness struct {
	facade *Facade
	store  *session.MemoryStore
	rec    *recorder
	sink   *sinkRecorder
}

func newHarness(t *testing.T, override map[string]agents.Handler, tune func(*config.Routing), opts ...Option) *harness {
	t.Helper()
	cfg := config.DefaultRouting()
	if tune != nil {
		tune(cfg)
	}
	rec := &recorder{calls: make(map[string][]agents.Request)}
	profiles := agents.ProfilesFromConfig(cfg)
	handlers := make(map[string]agents.Handler, len(profiles))
	for _, p := range profiles {
		handlers[p.Name] = rec.handler(p.Name)
		if h, ok := override[p.Name]; ok {
			handlers[p.Name] = h
		}
	}
	reg, err := agents.NewRegistry(profiles, handlers)
	require.NoError(t, err)

	store := session.NewMemoryStore()
	sink := &sinkRecorder{}
	opts = append([]Option{WithTurnSinks(sink)}, opts...)
	return &harness{facade: New(store, reg, cfg, opts...), store: store, rec: rec, sink: sink}
}

func TestHandlePanicAttackGoesToMotivatorAlone(t *testing.T) {
	h := newHarness(t, nil, nil)

	reply, err := h.facade.Handle(context.Background(), "s-urgent", "I'm having a panic attack before my exam")
	require.NoError(t, err)

	assert.Equal(t, []string{"motivator"}, reply.HandlersUsed)
	assert.True(t, reply.Urgent)
	assert.Empty(t, h.rec.requests("teacher"))

	require.Len(t, h.sink.events, 1)
	assert.True(t, h.sink.events[0].Urgent)
	assert.Equal(t, "urgent", h.sink.events[0].Decision)
}

func TestHandleCareerFollowUpStaysWithUniversity(t *testing.T) {
	h := newHarness(t, nil, nil)
	ctx := context.Background()

	first, err := h.facade.Handle(ctx, "s-career", "How do I find internships?")
	require.NoError(t, err)
	assert.Equal(t, []string{"university"}, first.HandlersUsed)

	second, err := h.facade.Handle(ctx, "s-career", "and what about the Career Closet?")
	require.NoError(t, err)
	assert.False(t, second.Clarification)
	assert.Equal(t, []string{"university"}, second.HandlersUsed)

	calls := h.rec.requests("university")
	require.Len(t, calls, 2)
	require.Len(t, calls[1].Snapshot, 2)
	assert.Equal(t, "How do I find internships?", calls[1].Snapshot[0].Text)
}

func TestHandleContinuityRoutesVagueFollowUp(t *testing.T) {
	h := newHarness(t, nil, nil)
	ctx := context.Background()

	_, err := h.facade.Handle(ctx, "s-cont", "Can you explain recursion?")
	require.NoError(t, err)

	reply, err := h.facade.Handle(ctx, "s-cont", "tell me more")
	require.NoError(t, err)
	assert.Equal(t, []string{"teacher"}, reply.HandlersUsed)
	assert.Equal(t, "continuity", h.sink.events[1].Decision)

	// the thread follows whoever answered last
	_, err = h.facade.Handle(ctx, "s-cont", "hello there")
	require.NoError(t, err)
	reply, err = h.facade.Handle(ctx, "s-cont", "tell me more")
	require.NoError(t, err)
	assert.Equal(t, []string{"ciro"}, reply.HandlersUsed)
}

func TestHandleMultiIntentSplitsSubqueries(t *testing.T) {
	h := newHarness(t, nil, nil)

	reply, err := h.facade.Handle(context.Background(), "s-multi", "Explain recursion and also how do I register for classes")
	require.NoError(t, err)
	assert.Equal(t, []string{"teacher", "university"}, reply.HandlersUsed)
	assert.Contains(t, reply.Text, "\n\n")

	teacher := h.rec.requests("teacher")
	university := h.rec.requests("university")
	require.Len(t, teacher, 1)
	require.Len(t, university, 1)
	assert.Contains(t, teacher[0].Subquery, "recursion")
	assert.NotContains(t, teacher[0].Subquery, "register")
	assert.Contains(t, university[0].Subquery, "register")
	assert.NotContains(t, university[0].Subquery, "recursion")
}

func TestHandleClarificationTerminatesWithinOneRound(t *testing.T) {
	h := newHarness(t, nil, nil)
	ctx := context.Background()

	ask, err := h.facade.Handle(ctx, "s-clarify", "help me with my schedule")
	require.NoError(t, err)
	assert.True(t, ask.Clarification)
	assert.Empty(t, ask.HandlersUsed)
	assert.Contains(t, ask.Text, "study strategies and planning")
	assert.Contains(t, ask.Text, "university services")

	sess, err := h.store.Load(ctx, "s-clarify")
	require.NoError(t, err)
	assert.True(t, sess.PendingClarification)
	assert.Equal(t, []string{"academic_coach", "university"}, sess.ClarificationCandidates)
	assert.Equal(t, 1, sess.ClarificationRounds)

	reply, err := h.facade.Handle(ctx, "s-clarify", "whatever")
	require.NoError(t, err)
	assert.False(t, reply.Clarification)
	assert.Equal(t, []string{"academic_coach"}, reply.HandlersUsed)

	sess, err = h.store.Load(ctx, "s-clarify")
	require.NoError(t, err)
	assert.False(t, sess.PendingClarification)
	assert.Zero(t, sess.ClarificationRounds)
	assert.Len(t, sess.Turns, 4)
}

func TestHandleClarificationSelection(t *testing.T) {
	h := newHarness(t, nil, nil)
	ctx := context.Background()

	_, err := h.facade.Handle(ctx, "s-pick", "help me with my schedule")
	require.NoError(t, err)

	reply, err := h.facade.Handle(ctx, "s-pick", "the second one")
	require.NoError(t, err)
	assert.Equal(t, []string{"university"}, reply.HandlersUsed)

	calls := h.rec.requests("university")
	require.Len(t, calls, 1)
	assert.Equal(t, "the second one", calls[0].Subquery)
}

func TestHandleAllHandlersTimeOut(t *testing.T) {
	override := map[string]agents.Handler{}
	for _, name := range []string{"motivator", "teacher", "academic_coach", "university", "ciro"} {
		override[name] = blocking()
	}
	h := newHarness(t, override, func(cfg *config.Routing) {
		for i := range cfg.Handlers {
			cfg.Handlers[i].Deadline = 20 * time.Millisecond
		}
		cfg.TurnDeadline = 100 * time.Millisecond
	})

	start := time.Now()
	reply, err := h.facade.Handle(context.Background(), "s-timeout", "Explain recursion and also how do I register for classes")
	require.NoError(t, err)
	assert.Less(t, time.Since(start), time.Second)

	assert.Equal(t, FallbackText, reply.Text)
	assert.Empty(t, reply.HandlersUsed)
	assert.NotNil(t, reply.HandlersUsed)

	sess, err := h.store.Load(context.Background(), "s-timeout")
	require.NoError(t, err)
	require.Len(t, sess.Turns, 2)
	assert.Equal(t, FallbackText, sess.Turns[1].Text)

	require.Len(t, h.sink.events, 1)
	for _, r := range h.sink.events[0].Results {
		assert.Equal(t, "timeout", r.Status, r.Handler)
	}
}

func TestHandlePartialFailureKeepsSurvivors(t *testing.T) {
	h := newHarness(t, map[string]agents.Handler{
		"university": agents.HandlerFunc(func(ctx context.Context, req agents.Request) (agents.Answer, error) {
			return agents.Answer{}, errors.New("retrieval backend down")
		}),
	}, nil)

	reply, err := h.facade.Handle(context.Background(), "s-partial", "Explain recursion and also how do I register for classes")
	require.NoError(t, err)
	assert.Equal(t, []string{"teacher"}, reply.HandlersUsed)
	assert.NotContains(t, reply.Text, "university")
}

type brokenStore struct {
	session.Store
	loadErr error
	saveErr error
}

func (b brokenStore) Load(ctx context.Context, id string) (*session.Session, error) {
	if b.loadErr != nil {
		return nil, b.loadErr
	}
	return b.Store.Load(ctx, id)
}

func (b brokenStore) Save(ctx context.Context, s *session.Session) error {
	if b.saveErr != nil {
		return b.saveErr
	}
	return b.Store.Save(ctx, s)
}

func TestHandleStoreUnavailable(t *testing.T) {
	cfg := config.DefaultRouting()
	rec := &recorder{calls: make(map[string][]agents.Request)}
	handlers := map[string]agents.Handler{}
	for _, p := range agents.ProfilesFromConfig(cfg) {
		handlers[p.Name] = rec.handler(p.Name)
	}
	reg, err := agents.NewRegistry(agents.ProfilesFromConfig(cfg), handlers)
	require.NoError(t, err)

	outage := fmt.Errorf("session: load: %w: %w", session.ErrStoreUnavailable, errors.New("dial tcp: refused"))
	f := New(brokenStore{Store: session.NewMemoryStore(), loadErr: outage}, reg, cfg)

	reply, err := f.Handle(context.Background(), "s-down", "How do I find internships?")
	require.Error(t, err)
	assert.ErrorIs(t, err, session.ErrStoreUnavailable)
	assert.Equal(t, StoreUnavailableText, reply.Text)
	assert.Equal(t, "s-down", reply.SessionID)
	assert.Empty(t, reply.HandlersUsed)
	assert.Empty(t, rec.requests("university"))

	mem := session.NewMemoryStore()
	saveOutage := fmt.Errorf("session: save: %w", session.ErrStoreUnavailable)
	f = New(brokenStore{Store: mem, saveErr: saveOutage}, reg, cfg)
	reply, err = f.Handle(context.Background(), "s-down", "How do I find internships?")
	assert.ErrorIs(t, err, session.ErrStoreUnavailable)
	assert.Equal(t, StoreUnavailableText, reply.Text)
	assert.Zero(t, mem.Len())
}

func TestHandleGeneratesSessionID(t *testing.T) {
	h := newHarness(t, nil, nil)
	reply, err := h.facade.Handle(context.Background(), "  ", "hello")
	require.NoError(t, err)
	assert.Len(t, reply.SessionID, 36)
	assert.Equal(t, []string{"ciro"}, reply.HandlersUsed)

	history, err := h.facade.History(context.Background(), reply.SessionID)
	require.NoError(t, err)
	require.Len(t, history, 2)
	assert.Equal(t, session.RoleUser, history[0].Role)
	assert.Equal(t, []string{"ciro"}, history[1].HandlersUsed)
}

func TestHandleRejectsEmptyMessage(t *testing.T) {
	h := newHarness(t, nil, nil)
	_, err := h.facade.Handle(context.Background(), "s", "   ")
	assert.ErrorIs(t, err, ErrEmptyMessage)
	assert.Zero(t, h.store.Len())
}

func TestDirectBypassesClassification(t *testing.T) {
	h := newHarness(t, nil, nil)
	ctx := context.Background()

	reply, err := h.facade.Direct(ctx, "s-direct", "teacher", "hi")
	require.NoError(t, err)
	assert.Equal(t, []string{"teacher"}, reply.HandlersUsed)
	assert.Empty(t, h.rec.requests("ciro"))
	assert.Equal(t, "direct", h.sink.events[0].Decision)

	_, err = h.facade.Direct(ctx, "s-direct", "astrologer", "hi")
	assert.ErrorIs(t, err, ErrUnknownAgent)
}

func TestDirectKnowledgeCheckAsksThenGrades(t *testing.T) {
	replies := []string{
		`{"question": "What stops a recursive function from calling itself forever?", "hint": "Think about the simplest input."}`,
		`{"grade": "A-", "feedback": "Yes, the base case ends the recursion."}`,
	}
	calls := 0
	client := llm.ClientFunc(func(ctx context.Context, req llm.Request) (llm.Response, error) {
		calls++
		return llm.Response{Text: replies[calls-1]}, nil
	})
	var profile agents.Profile
	for _, p := range agents.ProfilesFromConfig(config.DefaultRouting()) {
		if p.Kind == agents.KindKnowledgeCheck {
			profile = p
		}
	}
	require.Equal(t, "knowledge_check", profile.Name)
	h := newHarness(t, map[string]agents.Handler{
		"knowledge_check": agents.NewKnowledgeChecker(profile, client, nil),
	}, nil)
	ctx := context.Background()

	_, err := h.facade.Direct(ctx, "s-kc", "teacher", "explain recursion")
	require.NoError(t, err)

	asked, err := h.facade.Direct(ctx, "s-kc", "knowledge_check", "recursion")
	require.NoError(t, err)
	assert.Equal(t, []string{"knowledge_check"}, asked.HandlersUsed)
	assert.True(t, strings.HasPrefix(asked.Text, "What stops a recursive function"))

	sess, err := h.store.Load(ctx, "s-kc")
	require.NoError(t, err)
	require.NotNil(t, sess.KnowledgeCheck)
	assert.True(t, sess.KnowledgeCheck.Pending)
	assert.Equal(t, "recursion", sess.KnowledgeCheck.Topic)
	assert.Equal(t, []string{"teacher"}, sess.LastHandlers)

	graded, err := h.facade.Direct(ctx, "s-kc", "knowledge_check", "a base case")
	require.NoError(t, err)
	assert.Equal(t, "Grade: A-\n\nYes, the base case ends the recursion.", graded.Text)

	sess, err = h.store.Load(ctx, "s-kc")
	require.NoError(t, err)
	assert.False(t, sess.KnowledgeCheck.Pending)
	require.Len(t, sess.KnowledgeCheck.History, 1)
	assert.Equal(t, "a base case", sess.KnowledgeCheck.History[0].Answer)
	assert.True(t, sess.KnowledgeCheck.History[0].Understood)
	assert.Equal(t, []string{"teacher"}, sess.LastHandlers)
	assert.Equal(t, 1, sess.LastDispatchTurn)

	// classification never picks the knowledge check
	reply, err := h.facade.Handle(ctx, "s-kc", "quiz me with a knowledge check")
	require.NoError(t, err)
	assert.NotContains(t, reply.HandlersUsed, "knowledge_check")
	assert.Equal(t, 2, calls)
}

func TestSinkFailuresDoNotChangeReply(t *testing.T) {
	h := newHarness(t, nil, nil)
	h.sink.err = errors.New("queue unavailable")

	reply, err := h.facade.Handle(context.Background(), "s-sink", "How do I find internships?")
	require.NoError(t, err)
	assert.Equal(t, []string{"university"}, reply.HandlersUsed)
}

func TestHandleSerializesTurnsPerSession(t *testing.T) {
	h := newHarness(t, nil, nil)
	ctx := context.Background()

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		i := i
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := h.facade.Handle(ctx, "s-busy", fmt.Sprintf("hello number %d", i))
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	sess, err := h.store.Load(ctx, "s-busy")
	require.NoError(t, err)
	require.Len(t, sess.Turns, 16)
	for i := 0; i < len(sess.Turns); i += 2 {
		assert.Equal(t, session.RoleUser, sess.Turns[i].Role)
		assert.True(t, strings.HasPrefix(sess.Turns[i+1].Text, "ciro answer to: hello number"))
	}
}

func TestHandleObservesMetrics(t *testing.T) {
	reg := prometheus.NewRegistry()
	h := newHarness(t, nil, nil, WithMetrics(metrics.NewRoutingMetrics(reg)))

	_, err := h.facade.Handle(context.Background(), "s-metrics", "How do I find internships?")
	require.NoError(t, err)

	families, err := reg.Gather()
	require.NoError(t, err)
	names := map[string]bool{}
	for _, mf := range families {
		names[mf.GetName()] = true
	}
	assert.True(t, names["ciro_turns_total"])
	assert.True(t, names["ciro_turn_latency_seconds"])
}
