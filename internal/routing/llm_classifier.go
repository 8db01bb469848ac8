package routing

import (
	"context"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/wolfman30/ciro-tutor/internal/agents"
	"github.com/wolfman30/ciro-tutor/internal/config"
	"github.com/wolfman30/ciro-tutor/internal/llm"
	"github.com/wolfman30/ciro-tutor/internal/session"
	"github.com/wolfman30/ciro-tutor/pkg/logging"
)

const llmClassifierPrompt = `You route student messages to specialist assistants. Respond with JSON only.

Specialists:
%s
Rules:
- List every specialist the message is meant for, with a confidence between 0 and 1.
- A message can need several specialists when it asks about unrelated things.
- Set "urgent": true only for self-harm, hopelessness, panic or severe distress.
- "keywords" are the words from the message that point to that specialist.

Recent conversation:
%s
Message: %s

Respond with: {"candidates":[{"handler":"<name>","confidence":0.0,"rationale":"...","keywords":["..."],"urgent":false}]}`

type llmCandidates struct {
	Candidates []struct {
		Handler    string   `json:"handler"`
		Confidence float64  `json:"confidence"`
		Rationale  string   `json:"rationale"`
		Keywords   []string `json:"keywords"`
		Urgent     bool     `json:"urgent"`
	} `json:"candidates"`
}

// LLMClassifier asks a completion model for candidates. Keyword safety and
// follow-up detection always run on top, and any model failure falls back to
// the keyword classifier.
type LLMClassifier struct {
	client   llm.Client
	registry *agents.Registry
	keywords *KeywordClassifier
	floor    float64
	history  int
	timeout  time.Duration
	logger   *logging.Logger
}

var _ Classifier = (*LLMClassifier)(nil)

func NewLLMClassifier(client llm.Client, reg *agents.Registry, cfg *config.Routing, logger *logging.Logger) *LLMClassifier {
	if client == nil {
		panic("routing: llm client cannot be nil")
	}
	if cfg == nil {
		cfg = config.DefaultRouting()
	}
	if logger == nil {
		logger = logging.Default()
	}
	return &LLMClassifier{
		client:   client,
		registry: reg,
		keywords: NewKeywordClassifier(reg, cfg),
		floor:    cfg.CatchAllConfidence,
		history:  cfg.HistoryLength,
		timeout:  cfg.HandlerDeadline,
		logger:   logger,
	}
}

func (c *LLMClassifier) Classify(ctx context.Context, message string, recent []session.Turn) []Candidate {
	cands, err := c.classify(ctx, message, recent)
	if err != nil {
		c.logger.Warn("llm classification failed; using keyword classifier", "error", err)
		return c.keywords.Classify(ctx, message, recent)
	}
	return cands
}

func (c *LLMClassifier) classify(ctx context.Context, message string, recent []session.Turn) ([]Candidate, error) {
	callCtx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	resp, err := c.client.Complete(callCtx, llm.Request{
		Messages:    []llm.ChatMessage{{Role: llm.RoleUser, Content: c.prompt(message, recent)}},
		MaxTokens:   300,
		Temperature: 0,
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrClassification, err)
	}

	var parsed llmCandidates
	if err := llm.DecodeJSON(resp.Text, &parsed); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrClassification, err)
	}

	// keyword pass supplies the safety net and missing keywords
	keywordCands := c.keywords.Classify(ctx, message, recent)

	var (
		out         []Candidate
		modelUrgent bool
		urgentWords []string
	)
	for _, pc := range parsed.Candidates {
		name := strings.TrimSpace(pc.Handler)
		if p, ok := c.registry.Profile(name); !ok || p.DirectOnly {
			continue
		}
		// a distress flag on any handler belongs to the urgent handler
		if pc.Urgent {
			modelUrgent = true
			urgentWords = appendUnique(urgentWords, normalizeKeywords(pc.Keywords)...)
		}
		conf := clamp01(pc.Confidence)
		if i := indexOf(out, name); i >= 0 {
			out[i].Confidence = math.Max(out[i].Confidence, conf)
			continue
		}
		cand := Candidate{
			Handler:    name,
			Confidence: conf,
			Rationale:  pc.Rationale,
			Slots:      Slots{Keywords: normalizeKeywords(pc.Keywords)},
		}
		if kc, ok := findCandidate(keywordCands, name); ok {
			cand.Slots.Keywords = appendUnique(cand.Slots.Keywords, kc.Slots.Keywords...)
		}
		if len(cand.Slots.Keywords) > 0 {
			cand.Slots.Topic = cand.Slots.Keywords[0]
		}
		out = append(out, cand)
	}
	if len(out) == 0 {
		return nil, fmt.Errorf("%w: model named no known handler", ErrClassification)
	}

	urgentHits, followUp := c.keywords.detect(message)
	if len(urgentHits) > 0 || modelUrgent {
		out = markUrgent(out, c.registry.Urgent(), appendUnique(urgentHits, urgentWords...))
	}
	out = ensureCatchAll(out, c.registry.CatchAll(), c.floor)
	if followUp {
		out = markFollowUp(out)
	}
	SortCandidates(out, c.registry)
	return out, nil
}

func (c *LLMClassifier) prompt(message string, recent []session.Turn) string {
	var specialists strings.Builder
	for _, p := range c.registry.Routable() {
		fmt.Fprintf(&specialists, "- %s: %s\n", p.Name, p.Description)
	}

	if c.history > 0 && len(recent) > c.history {
		recent = recent[len(recent)-c.history:]
	}
	var history strings.Builder
	if len(recent) == 0 {
		history.WriteString("(none)\n")
	}
	for _, t := range recent {
		fmt.Fprintf(&history, "%s: %s\n", t.Role, t.Text)
	}
	return fmt.Sprintf(llmClassifierPrompt, specialists.String(), history.String(), message)
}

func indexOf(cands []Candidate, handler string) int {
	for i, c := range cands {
		if c.Handler == handler {
			return i
		}
	}
	return -1
}

func normalizeKeywords(in []string) []string {
	var out []string
	for _, kw := range in {
		if n := Normalize(kw); n != "" {
			out = appendUnique(out, n)
		}
	}
	return out
}
