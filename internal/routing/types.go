// Package routing decides which handlers answer a student message: it
// classifies intents, resolves them against the session state, shapes
// per-handler subqueries and phrases clarification questions.
package routing

import (
	"errors"
	"sort"

	"github.com/wolfman30/ciro-tutor/internal/agents"
	"github.com/wolfman30/ciro-tutor/internal/session"
)

// ErrClassification is reported when a classifier cannot produce candidates.
var ErrClassification = errors.New("routing: classification failed")

// Slots carries what the classifier extracted for one handler.
type Slots struct {
	Keywords []string `json:"keywords,omitempty"`
	Topic    string   `json:"topic,omitempty"`
	Urgent   bool     `json:"urgent,omitempty"`
	FollowUp bool     `json:"follow_up,omitempty"`
}

// Candidate is one handler the message could be meant for. Candidates live
// for a single turn and are never persisted.
type Candidate struct {
	Handler    string  `json:"handler"`
	Confidence float64 `json:"confidence"`
	Rationale  string  `json:"rationale,omitempty"`
	Slots      Slots   `json:"slots"`
}

// PlanEntry is one handler invocation.
type PlanEntry struct {
	Handler  string
	Subquery string
	Snapshot []session.Turn
	Check    *session.KnowledgeCheck
}

// Plan lists the handlers to run for a turn, in rank order. A clarification
// plan has no entries.
type Plan struct {
	Entries       []PlanEntry
	Clarification bool
}

// Handlers returns the planned handler names.
func (p Plan) Handlers() []string {
	out := make([]string, len(p.Entries))
	for i, e := range p.Entries {
		out[i] = e.Handler
	}
	return out
}

// SortCandidates orders by confidence, then registry rank.
func SortCandidates(cands []Candidate, reg *agents.Registry) {
	sort.SliceStable(cands, func(i, j int) bool {
		if cands[i].Confidence != cands[j].Confidence {
			return cands[i].Confidence > cands[j].Confidence
		}
		return reg.Rank(cands[i].Handler) < reg.Rank(cands[j].Handler)
	})
}

func findCandidate(cands []Candidate, handler string) (Candidate, bool) {
	for _, c := range cands {
		if c.Handler == handler {
			return c, true
		}
	}
	return Candidate{}, false
}

func clamp01(v float64) float64 {
	switch {
	case v < 0:
		return 0
	case v > 1:
		return 1
	default:
		return v
	}
}
