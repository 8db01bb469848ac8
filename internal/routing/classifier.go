package routing

import (
	"context"
	"fmt"
	"math"

	"github.com/wolfman30/ciro-tutor/internal/agents"
	"github.com/wolfman30/ciro-tutor/internal/config"
	"github.com/wolfman30/ciro-tutor/internal/session"
)

// Classifier maps a message to candidate handlers. It always returns at
// least one candidate, sorted by confidence then rank.
type Classifier interface {
	Classify(ctx context.Context, message string, recent []session.Turn) []Candidate
}

const (
	keywordBase      = 0.35
	keywordPerHit    = 0.25
	urgentConfidence = 0.9
)

// KeywordClassifier scores handlers by phrase matches against their scope
// keywords and applies the urgent and follow-up rulesets.
type KeywordClassifier struct {
	registry  *agents.Registry
	scopes    map[string][]phrase
	urgent    []phrase
	followUps []phrase
	floor     float64
}

var _ Classifier = (*KeywordClassifier)(nil)

func NewKeywordClassifier(reg *agents.Registry, cfg *config.Routing) *KeywordClassifier {
	if reg == nil {
		panic("routing: registry cannot be nil")
	}
	if cfg == nil {
		cfg = config.DefaultRouting()
	}
	k := &KeywordClassifier{
		registry:  reg,
		scopes:    make(map[string][]phrase),
		urgent:    compilePhrases(cfg.UrgentKeywords),
		followUps: compilePhrases(cfg.FollowUpCues),
		floor:     cfg.CatchAllConfidence,
	}
	for _, p := range reg.Routable() {
		k.scopes[p.Name] = compilePhrases(p.Scope)
	}
	return k
}

func (k *KeywordClassifier) Classify(ctx context.Context, message string, recent []session.Turn) []Candidate {
	tokens := Tokenize(message)
	var out []Candidate

	for _, p := range k.registry.Routable() {
		matched, hits := matchPhrases(tokens, k.scopes[p.Name])
		if hits == 0 {
			continue
		}
		out = append(out, Candidate{
			Handler:    p.Name,
			Confidence: math.Min(1, keywordBase+keywordPerHit*float64(hits)),
			Rationale:  fmt.Sprintf("matched %d scope keyword(s)", hits),
			Slots:      Slots{Keywords: matched, Topic: matched[0]},
		})
	}

	if urgentHits, _ := matchPhrases(tokens, k.urgent); len(urgentHits) > 0 {
		out = markUrgent(out, k.registry.Urgent(), urgentHits)
	}
	out = ensureCatchAll(out, k.registry.CatchAll(), k.floor)
	if containsAny(tokens, k.followUps) {
		out = markFollowUp(out)
	}
	SortCandidates(out, k.registry)
	return out
}

// detect runs only the safety and follow-up rulesets.
func (k *KeywordClassifier) detect(message string) (urgentHits []string, followUp bool) {
	tokens := Tokenize(message)
	urgentHits, _ = matchPhrases(tokens, k.urgent)
	return urgentHits, containsAny(tokens, k.followUps)
}

func markUrgent(cands []Candidate, urgentHandler string, hits []string) []Candidate {
	if urgentHandler == "" {
		return cands
	}
	for i := range cands {
		if cands[i].Handler == urgentHandler {
			cands[i].Confidence = math.Max(cands[i].Confidence, urgentConfidence)
			cands[i].Slots.Urgent = true
			cands[i].Slots.Keywords = appendUnique(cands[i].Slots.Keywords, hits...)
			cands[i].Rationale = "urgent distress signal"
			return cands
		}
	}
	cand := Candidate{
		Handler:    urgentHandler,
		Confidence: urgentConfidence,
		Rationale:  "urgent distress signal",
		Slots:      Slots{Keywords: append([]string(nil), hits...), Urgent: true},
	}
	if len(hits) > 0 {
		cand.Slots.Topic = hits[0]
	}
	return append(cands, cand)
}

func markFollowUp(cands []Candidate) []Candidate {
	for i := range cands {
		cands[i].Slots.FollowUp = true
	}
	return cands
}

func ensureCatchAll(cands []Candidate, catchAll string, floor float64) []Candidate {
	if catchAll == "" {
		return cands
	}
	if _, ok := findCandidate(cands, catchAll); ok {
		return cands
	}
	return append(cands, Candidate{
		Handler:    catchAll,
		Confidence: floor,
		Rationale:  "catch-all",
	})
}

func appendUnique(dst []string, values ...string) []string {
	for _, v := range values {
		found := false
		for _, d := range dst {
			if d == v {
				found = true
				break
			}
		}
		if !found {
			dst = append(dst, v)
		}
	}
	return dst
}
