package dispatch

import (
	"sort"
	"strings"

	"github.com/wolfman30/ciro-tutor/internal/agents"
	"github.com/wolfman30/ciro-tutor/internal/routing"
	"github.com/wolfman30/ciro-tutor/internal/session"
)

// Result is the merged reply.
type Result struct {
	Text         string
	HandlersUsed []string
	Citations    []session.Citation
}

// Aggregator merges successful outcomes in registry rank order. The output
// does not depend on the order outcomes arrive in.
type Aggregator struct {
	registry *agents.Registry
}

func NewAggregator(reg *agents.Registry) *Aggregator {
	if reg == nil {
		panic("dispatch: registry cannot be nil")
	}
	return &Aggregator{registry: reg}
}

// Aggregate returns an empty Result when no outcome succeeded.
func (a *Aggregator) Aggregate(outcomes []Outcome) Result {
	var ok []Outcome
	for _, o := range outcomes {
		if o.OK() && strings.TrimSpace(o.Text) != "" {
			ok = append(ok, o)
		}
	}
	if len(ok) == 0 {
		return Result{}
	}
	if len(ok) == 1 {
		return Result{
			Text:         ok[0].Text,
			HandlersUsed: []string{ok[0].Handler},
			Citations:    dedupeCitations(nil, ok[0].Citations),
		}
	}

	sort.SliceStable(ok, func(i, j int) bool {
		ri, rj := a.registry.Rank(ok[i].Handler), a.registry.Rank(ok[j].Handler)
		if ri != rj {
			return ri < rj
		}
		return ok[i].Handler < ok[j].Handler
	})

	var (
		parts     []string
		used      []string
		citations []session.Citation
		survivors []string
		seen      = make(map[string]struct{})
	)
	for _, o := range ok {
		whole := routing.Normalize(o.Text)
		if containedIn(whole, survivors) {
			continue
		}

		text := strings.TrimSpace(o.Text)
		spans := sentenceSpans(text)
		kept := make([]span, 0, len(spans))
		for _, sp := range spans {
			key := routing.Normalize(text[sp.start:sp.end])
			if key == "" {
				kept = append(kept, sp)
				continue
			}
			if _, dup := seen[key]; dup {
				continue
			}
			seen[key] = struct{}{}
			kept = append(kept, sp)
		}
		if !hasWords(text, kept) {
			continue
		}
		if len(kept) < len(spans) {
			text = rebuild(text, spans, kept)
		}
		parts = append(parts, text)
		used = append(used, o.Handler)
		survivors = append(survivors, whole)
		citations = dedupeCitations(citations, o.Citations)
	}

	return Result{
		Text:         strings.Join(parts, "\n\n"),
		HandlersUsed: used,
		Citations:    citations,
	}
}

func hasWords(text string, spans []span) bool {
	for _, sp := range spans {
		if routing.Normalize(text[sp.start:sp.end]) != "" {
			return true
		}
	}
	return false
}

func containedIn(text string, others []string) bool {
	if text == "" {
		return true
	}
	for _, o := range others {
		if strings.Contains(" "+o+" ", " "+text+" ") {
			return true
		}
	}
	return false
}

func dedupeCitations(dst, src []session.Citation) []session.Citation {
	for _, c := range src {
		dup := false
		for _, d := range dst {
			if strings.EqualFold(d.Title, c.Title) && d.Source == c.Source {
				dup = true
				break
			}
		}
		if !dup {
			dst = append(dst, c)
		}
	}
	return dst
}

