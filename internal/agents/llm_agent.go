package agents

import (
	"context"
	"fmt"
	"strings"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/wolfman30/ciro-tutor/internal/llm"
	"github.com/wolfman30/ciro-tutor/internal/session"
	"github.com/wolfman30/ciro-tutor/pkg/logging"
)

var agentTracer = otel.Tracer("ciro.internal.agents")

const (
	defaultMaxTokens    int32 = 600
	defaultTemperature        = 0.4
	defaultRetrievalTop       = 4
)

// LLMAgent answers with a completion under the profile's system prompt,
// optionally grounded on retrieved sources.
type LLMAgent struct {
	profile   Profile
	client    llm.Client
	retriever Retriever
	logger    *logging.Logger
}

var _ Handler = (*LLMAgent)(nil)

// NewLLMAgent builds a handler for profile. retriever may be nil.
func NewLLMAgent(profile Profile, client llm.Client, retriever Retriever, logger *logging.Logger) *LLMAgent {
	if client == nil {
		panic("agents: llm client cannot be nil")
	}
	if logger == nil {
		logger = logging.Default()
	}
	return &LLMAgent{
		profile:   profile,
		client:    client,
		retriever: retriever,
		logger:    logger.With("handler", profile.Name),
	}
}

func (a *LLMAgent) Invoke(ctx context.Context, req Request) (Answer, error) {
	ctx, span := agentTracer.Start(ctx, "agents.invoke")
	defer span.End()
	span.SetAttributes(attribute.String("ciro.handler", a.profile.Name))

	var citations []session.Citation
	if a.retriever != nil && a.profile.Retrieval {
		docs, err := a.retriever.Search(ctx, req.Subquery, a.profile.Name, defaultRetrievalTop)
		if err != nil {
			a.logger.Warn("retrieval failed; answering without sources", "error", err)
		} else {
			citations = docs
		}
	}

	system := []string{PromptFor(a.profile)}
	if block := sourcesBlock(citations); block != "" {
		system = append(system, block)
	}

	messages := make([]llm.ChatMessage, 0, len(req.Snapshot)+1)
	for _, turn := range req.Snapshot {
		role := llm.RoleUser
		if turn.Role == session.RoleSystem {
			role = llm.RoleAssistant
		}
		messages = append(messages, llm.ChatMessage{Role: role, Content: turn.Text})
	}
	messages = append(messages, llm.ChatMessage{Role: llm.RoleUser, Content: req.Subquery})

	resp, err := a.client.Complete(ctx, llm.Request{
		System:      system,
		Messages:    messages,
		MaxTokens:   defaultMaxTokens,
		Temperature: defaultTemperature,
	})
	if err != nil {
		span.RecordError(err)
		return Answer{}, WrapError(a.profile.Name, err)
	}
	text := strings.TrimSpace(resp.Text)
	if text == "" {
		return Answer{}, WrapError(a.profile.Name, ErrEmptyAnswer)
	}
	return Answer{Text: text, Citations: citations}, nil
}

func sourcesBlock(citations []session.Citation) string {
	if len(citations) == 0 {
		return ""
	}
	var b strings.Builder
	b.WriteString("SOURCES:\n")
	for i, c := range citations {
		fmt.Fprintf(&b, "[%d] %s (%s)", i+1, c.Title, c.Source)
		if excerpt := strings.TrimSpace(c.Excerpt); excerpt != "" {
			fmt.Fprintf(&b, ": %s", excerpt)
		}
		b.WriteString("\n")
	}
	return b.String()
}

// BuildHandlers creates one handler per profile, chosen by its kind.
// Profiles without a kind get an LLMAgent.
func BuildHandlers(profiles []Profile, client llm.Client, retriever Retriever, logger *logging.Logger) map[string]Handler {
	out := make(map[string]Handler, len(profiles))
	for _, p := range profiles {
		switch p.Kind {
		case KindKnowledgeCheck:
			out[p.Name] = NewKnowledgeChecker(p, client, logger)
		default:
			out[p.Name] = NewLLMAgent(p, client, retriever, logger)
		}
	}
	return out
}
