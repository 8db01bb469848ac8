package routing

import (
	"fmt"
	"strings"

	"github.com/wolfman30/ciro-tutor/internal/agents"
)

// Clarification is the question put to the student and the handlers it
// offered, most plausible first.
type Clarification struct {
	Question string
	Offered  []string
}

// Clarifier phrases disambiguation questions from registry labels.
type Clarifier struct {
	registry *agents.Registry
}

func NewClarifier(reg *agents.Registry) *Clarifier {
	if reg == nil {
		panic("routing: registry cannot be nil")
	}
	return &Clarifier{registry: reg}
}

// Ask names at most the two most plausible candidates. With nothing
// plausible it lists what the assistant can help with.
func (c *Clarifier) Ask(message string, cands []Candidate) Clarification {
	top := append([]Candidate(nil), cands...)
	SortCandidates(top, c.registry)
	if len(top) > 2 {
		top = top[:2]
	}

	offered := make([]string, 0, len(top))
	for _, cand := range top {
		offered = append(offered, cand.Handler)
	}

	switch len(offered) {
	case 0:
		var labels []string
		for _, p := range c.registry.Routable() {
			if !p.CatchAll {
				labels = append(labels, c.registry.Label(p.Name))
			}
		}
		return Clarification{
			Question: fmt.Sprintf("Could you tell me a little more about what you need? I can help with %s.", joinOr(labels)),
		}
	case 1:
		return Clarification{
			Question: fmt.Sprintf("Just so I point you the right way: is this about %s?", c.registry.Label(offered[0])),
			Offered:  offered,
		}
	default:
		return Clarification{
			Question: fmt.Sprintf("Just so I point you the right way: is this about %s, or %s?",
				c.registry.Label(offered[0]), c.registry.Label(offered[1])),
			Offered: offered,
		}
	}
}

func joinOr(items []string) string {
	switch len(items) {
	case 0:
		return "anything about your studies"
	case 1:
		return items[0]
	default:
		return strings.Join(items[:len(items)-1], ", ") + " or " + items[len(items)-1]
	}
}
