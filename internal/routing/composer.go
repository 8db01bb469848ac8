package routing

import (
	"strings"

	"github.com/wolfman30/ciro-tutor/internal/agents"
	"github.com/wolfman30/ciro-tutor/internal/config"
	"github.com/wolfman30/ciro-tutor/internal/session"
)

// Composer turns a resolved decision into per-handler subqueries and
// history snapshots.
type Composer struct {
	registry *agents.Registry
	scopes   map[string][]phrase
	history  int
}

func NewComposer(reg *agents.Registry, cfg *config.Routing) *Composer {
	if reg == nil {
		panic("routing: registry cannot be nil")
	}
	if cfg == nil {
		cfg = config.DefaultRouting()
	}
	c := &Composer{registry: reg, scopes: make(map[string][]phrase), history: cfg.HistoryLength}
	for _, p := range reg.Routable() {
		c.scopes[p.Name] = compilePhrases(p.Scope)
	}
	return c
}

// Plan composes one entry per decided handler, in decision order.
func (c *Composer) Plan(d Decision, message string, cands []Candidate, sess *session.Session) Plan {
	if d.Clarify {
		return Plan{Clarification: true}
	}
	multi := len(d.Handlers) > 1
	plan := Plan{Entries: make([]PlanEntry, 0, len(d.Handlers))}
	seen := make(map[string]struct{}, len(d.Handlers))
	for _, h := range d.Handlers {
		if _, dup := seen[h]; dup {
			continue
		}
		seen[h] = struct{}{}
		var cand *Candidate
		if found, ok := findCandidate(cands, h); ok {
			cand = &found
		}
		plan.Entries = append(plan.Entries, c.Compose(message, h, cand, sess, multi))
	}
	return plan
}

// Compose builds the entry for one handler. A single-handler plan passes the
// message through with recent history; a multi-handler plan keeps only the
// clauses and the past exchanges that belong to this handler.
func (c *Composer) Compose(message, handler string, cand *Candidate, sess *session.Session, multi bool) PlanEntry {
	entry := PlanEntry{Handler: handler, Subquery: message}
	if p, ok := c.registry.Profile(handler); ok && p.Kind == agents.KindKnowledgeCheck && sess != nil {
		entry.Check = sess.KnowledgeCheck.Clone()
	}
	if !multi {
		if sess != nil {
			entry.Snapshot = sess.Recent(c.history)
		}
		return entry
	}

	entry.Subquery = c.subquery(message, handler, cand)
	if sess != nil {
		entry.Snapshot = c.handlerHistory(sess, handler)
	}
	return entry
}

func (c *Composer) subquery(message, handler string, cand *Candidate) string {
	phrases := c.scopes[handler]
	if cand != nil && len(cand.Slots.Keywords) > 0 {
		phrases = append(compilePhrases(cand.Slots.Keywords), phrases...)
	}
	var kept []string
	for _, clause := range Clauses(message) {
		if containsAny(Tokenize(clause), phrases) {
			kept = append(kept, clause)
		}
	}
	if len(kept) == 0 {
		return message
	}
	return strings.Join(kept, " ")
}

// handlerHistory keeps the exchanges this handler took part in: its replies
// and the user turns that prompted them.
func (c *Composer) handlerHistory(sess *session.Session, handler string) []session.Turn {
	var out []session.Turn
	for i, t := range sess.Turns {
		if t.Role != session.RoleSystem || !contains(t.HandlersUsed, handler) {
			continue
		}
		if i > 0 && sess.Turns[i-1].Role == session.RoleUser {
			out = append(out, sess.Turns[i-1])
		}
		out = append(out, t)
	}
	if c.history > 0 && len(out) > c.history {
		out = out[len(out)-c.history:]
	}
	return out
}

func contains(list []string, v string) bool {
	for _, s := range list {
		if s == v {
			return true
		}
	}
	return false
}
