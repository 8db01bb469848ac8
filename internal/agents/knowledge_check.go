package agents

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.opentelemetry.io/otel/attribute"

	"github.com/wolfman30/ciro-tutor/internal/llm"
	"github.com/wolfman30/ciro-tutor/internal/session"
	"github.com/wolfman30/ciro-tutor/pkg/logging"
)

// KindKnowledgeCheck selects KnowledgeChecker in BuildHandlers.
const KindKnowledgeCheck = "knowledge_check"

const maxCheckHistory = 20

// ErrUngraded is returned when the model's grading carries no grade.
var ErrUngraded = errors.New("agents: knowledge check returned no grade")

// grades in descending order; anything else is clamped to the lowest.
var grades = []string{"A", "A-", "B+", "B", "B-", "C+", "C", "C-"}

// understoodFloor is the lowest grade that counts as understood.
const understoodFloor = "B-"

type checkQuestion struct {
	Question string `json:"question"`
	Hint     string `json:"hint"`
}

type checkGrade struct {
	Grade    string `json:"grade"`
	Feedback string `json:"feedback"`
}

// KnowledgeChecker runs a two-step exchange: the first call asks one
// question about the subquery's topic, the next call grades the student's
// answer. The step state travels in Request.Check and comes back in
// Answer.Check.
type KnowledgeChecker struct {
	profile Profile
	client  llm.Client
	logger  *logging.Logger
	now     func() time.Time
}

var _ Handler = (*KnowledgeChecker)(nil)

func NewKnowledgeChecker(profile Profile, client llm.Client, logger *logging.Logger) *KnowledgeChecker {
	if client == nil {
		panic("agents: llm client cannot be nil")
	}
	if logger == nil {
		logger = logging.Default()
	}
	return &KnowledgeChecker{
		profile: profile,
		client:  client,
		logger:  logger.With("handler", profile.Name),
		now:     func() time.Time { return time.Now().UTC() },
	}
}

func (k *KnowledgeChecker) Invoke(ctx context.Context, req Request) (Answer, error) {
	ctx, span := agentTracer.Start(ctx, "agents.knowledge_check")
	defer span.End()
	span.SetAttributes(attribute.String("ciro.handler", k.profile.Name))

	state := req.Check.Clone()
	if state == nil {
		state = &session.KnowledgeCheck{}
	}
	if state.Pending && strings.TrimSpace(state.Question) != "" {
		span.SetAttributes(attribute.String("ciro.check.step", "grade"))
		return k.grade(ctx, req, state)
	}
	span.SetAttributes(attribute.String("ciro.check.step", "ask"))
	return k.ask(ctx, req, state)
}

func (k *KnowledgeChecker) ask(ctx context.Context, req Request, state *session.KnowledgeCheck) (Answer, error) {
	topic := strings.TrimSpace(req.Subquery)
	if topic == "" {
		return Answer{}, WrapError(k.profile.Name, ErrEmptyAnswer)
	}
	text, err := k.complete(ctx, "Write one question that checks whether the student understands this topic: "+topic+
		"\nRespond with JSON only: {\"question\": \"...\", \"hint\": \"...\"}")
	if err != nil {
		return Answer{}, err
	}

	var q checkQuestion
	if err := llm.DecodeJSON(text, &q); err != nil || strings.TrimSpace(q.Question) == "" {
		k.logger.Debug("question was not JSON; using raw text", "error", err)
		q = checkQuestion{Question: text}
	}

	state.Topic = topic
	state.Question = strings.TrimSpace(q.Question)
	state.Hint = strings.TrimSpace(q.Hint)
	state.Pending = true

	reply := state.Question
	if state.Hint != "" {
		reply += "\n\nHint: " + state.Hint
	}
	return Answer{Text: reply, Check: state}, nil
}

func (k *KnowledgeChecker) grade(ctx context.Context, req Request, state *session.KnowledgeCheck) (Answer, error) {
	answer := strings.TrimSpace(req.Subquery)
	if answer == "" {
		return Answer{}, WrapError(k.profile.Name, ErrEmptyAnswer)
	}
	text, err := k.complete(ctx, fmt.Sprintf(
		"Topic: %s\nQuestion: %s\nStudent answer: %s\n"+
			"Grade the answer from A to C- and give short, kind feedback that explains what was right and what to review.\n"+
			"Respond with JSON only: {\"grade\": \"B+\", \"feedback\": \"...\"}",
		state.Topic, state.Question, answer))
	if err != nil {
		return Answer{}, err
	}

	var g checkGrade
	if err := llm.DecodeJSON(text, &g); err != nil {
		return Answer{}, WrapError(k.profile.Name, fmt.Errorf("decode grade: %w", err))
	}
	grade, ok := NormalizeGrade(g.Grade)
	if !ok {
		return Answer{}, WrapError(k.profile.Name, ErrUngraded)
	}
	feedback := strings.TrimSpace(g.Feedback)

	state.History = append(state.History, session.KnowledgeCheckRecord{
		Topic:      state.Topic,
		Question:   state.Question,
		Answer:     answer,
		Grade:      grade,
		Feedback:   feedback,
		Understood: Understood(grade),
		GradedAt:   k.now(),
	})
	if len(state.History) > maxCheckHistory {
		state.History = state.History[len(state.History)-maxCheckHistory:]
	}
	state.Question = ""
	state.Hint = ""
	state.Pending = false

	reply := "Grade: " + grade
	if feedback != "" {
		reply += "\n\n" + feedback
	}
	return Answer{Text: reply, Check: state}, nil
}

func (k *KnowledgeChecker) complete(ctx context.Context, instruction string) (string, error) {
	resp, err := k.client.Complete(ctx, llm.Request{
		System:      []string{PromptFor(k.profile)},
		Messages:    []llm.ChatMessage{{Role: llm.RoleUser, Content: instruction}},
		MaxTokens:   defaultMaxTokens,
		Temperature: 0.2,
	})
	if err != nil {
		return "", WrapError(k.profile.Name, err)
	}
	text := strings.TrimSpace(resp.Text)
	if text == "" {
		return "", WrapError(k.profile.Name, ErrEmptyAnswer)
	}
	return text, nil
}

// NormalizeGrade maps a model grade onto the A to C- scale. Grades below
// the scale clamp to C-; a blank grade is rejected.
func NormalizeGrade(raw string) (string, bool) {
	g := strings.ToUpper(strings.TrimSpace(raw))
	if g == "" {
		return "", false
	}
	for _, known := range grades {
		if g == known {
			return g, true
		}
	}
	return grades[len(grades)-1], true
}

// Understood reports whether grade is at or above B-.
func Understood(grade string) bool {
	for _, g := range grades {
		if g == grade {
			return true
		}
		if g == understoodFloor {
			return false
		}
	}
	return false
}
