// Package session holds per-conversation context: the turn history and the
// routing state the resolver needs across turns.
package session

import (
	"time"
)

const (
	RoleUser   = "user"
	RoleSystem = "system"
)

// Citation points at a source a handler drew on.
type Citation struct {
	Title   string `json:"title" dynamodbav:"title"`
	Source  string `json:"source" dynamodbav:"source"`
	Excerpt string `json:"excerpt,omitempty" dynamodbav:"excerpt,omitempty"`
}

// Turn is one message in the conversation. Turns are append-only.
type Turn struct {
	Role         string     `json:"role" dynamodbav:"role"`
	Text         string     `json:"text" dynamodbav:"text"`
	Timestamp    time.Time  `json:"timestamp" dynamodbav:"timestamp"`
	HandlersUsed []string   `json:"handlers_used,omitempty" dynamodbav:"handlersUsed,omitempty"`
	Citations    []Citation `json:"citations,omitempty" dynamodbav:"citations,omitempty"`
}

// Session is the persisted conversation context. Only the orchestrator
// mutates it; stores treat it as an opaque value.
type Session struct {
	ID    string `json:"id" dynamodbav:"sessionId"`
	Turns []Turn `json:"turns" dynamodbav:"turns"`

	PendingClarification    bool     `json:"pending_clarification" dynamodbav:"pendingClarification"`
	ClarificationCandidates []string `json:"clarification_candidates,omitempty" dynamodbav:"clarificationCandidates,omitempty"`
	ClarificationRounds     int      `json:"clarification_rounds" dynamodbav:"clarificationRounds"`

	LastHandlers     []string `json:"last_handlers,omitempty" dynamodbav:"lastHandlers,omitempty"`
	LastDispatchTurn int      `json:"last_dispatch_turn" dynamodbav:"lastDispatchTurn"`
	LastTopic        string   `json:"last_topic,omitempty" dynamodbav:"lastTopic,omitempty"`

	KnowledgeCheck *KnowledgeCheck `json:"knowledge_check,omitempty" dynamodbav:"knowledgeCheck,omitempty"`

	CreatedAt time.Time `json:"created_at" dynamodbav:"createdAt"`
	UpdatedAt time.Time `json:"updated_at" dynamodbav:"updatedAt"`
}

// KnowledgeCheck is the step state of the knowledge-check handler. The
// handler reads a copy and returns the next state; the orchestrator stores it.
type KnowledgeCheck struct {
	Topic    string                 `json:"topic,omitempty" dynamodbav:"topic,omitempty"`
	Question string                 `json:"question,omitempty" dynamodbav:"question,omitempty"`
	Hint     string                 `json:"hint,omitempty" dynamodbav:"hint,omitempty"`
	Pending  bool                   `json:"pending" dynamodbav:"pending"`
	History  []KnowledgeCheckRecord `json:"history,omitempty" dynamodbav:"history,omitempty"`
}

// KnowledgeCheckRecord is one graded question.
type KnowledgeCheckRecord struct {
	Topic      string    `json:"topic" dynamodbav:"topic"`
	Question   string    `json:"question" dynamodbav:"question"`
	Answer     string    `json:"answer" dynamodbav:"answer"`
	Grade      string    `json:"grade" dynamodbav:"grade"`
	Feedback   string    `json:"feedback,omitempty" dynamodbav:"feedback,omitempty"`
	Understood bool      `json:"understood" dynamodbav:"understood"`
	GradedAt   time.Time `json:"graded_at" dynamodbav:"gradedAt"`
}

// Clone deep-copies the check state.
func (k *KnowledgeCheck) Clone() *KnowledgeCheck {
	if k == nil {
		return nil
	}
	out := *k
	if k.History != nil {
		out.History = append([]KnowledgeCheckRecord(nil), k.History...)
	}
	return &out
}

// New returns an empty session.
func New(id string) *Session {
	now := time.Now().UTC()
	return &Session{ID: id, CreatedAt: now, UpdatedAt: now}
}

// Append records a turn.
func (s *Session) Append(turn Turn) {
	if turn.Timestamp.IsZero() {
		turn.Timestamp = time.Now().UTC()
	}
	s.Turns = append(s.Turns, turn)
	s.UpdatedAt = turn.Timestamp
}

// Recent returns a copy of the last n turns. n <= 0 returns every turn.
func (s *Session) Recent(n int) []Turn {
	turns := s.Turns
	if n > 0 && len(turns) > n {
		turns = turns[len(turns)-n:]
	}
	out := make([]Turn, len(turns))
	copy(out, turns)
	return out
}

// UserTurns counts the user messages recorded so far.
func (s *Session) UserTurns() int {
	n := 0
	for _, t := range s.Turns {
		if t.Role == RoleUser {
			n++
		}
	}
	return n
}

// AwaitingClarification reports whether the last reply asked the student to
// pick a topic.
func (s *Session) AwaitingClarification() bool {
	return s.PendingClarification
}

// Clone deep-copies the session so callers never share slices with a store.
func (s *Session) Clone() *Session {
	if s == nil {
		return nil
	}
	out := *s
	out.Turns = make([]Turn, len(s.Turns))
	for i, t := range s.Turns {
		t.HandlersUsed = cloneStrings(t.HandlersUsed)
		if t.Citations != nil {
			t.Citations = append([]Citation(nil), t.Citations...)
		}
		out.Turns[i] = t
	}
	out.ClarificationCandidates = cloneStrings(s.ClarificationCandidates)
	out.LastHandlers = cloneStrings(s.LastHandlers)
	out.KnowledgeCheck = s.KnowledgeCheck.Clone()
	return &out
}

func cloneStrings(in []string) []string {
	if in == nil {
		return nil
	}
	return append([]string(nil), in...)
}
