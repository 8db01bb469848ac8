package routing

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wolfman30/ciro-tutor/internal/llm"
	"github.com/wolfman30/ciro-tutor/internal/session"
)

func replyWith(text string, err error) llm.Client {
	return llm.ClientFunc(func(ctx context.Context, req llm.Request) (llm.Response, error) {
		return llm.Response{Text: text}, err
	})
}

func TestLLMClassifierParsesCandidates(t *testing.T) {
	reg, cfg := testRegistry(t)
	var prompt string
	client := llm.ClientFunc(func(ctx context.Context, req llm.Request) (llm.Response, error) {
		prompt = req.Messages[0].Content
		return llm.Response{Text: "```json\n" + `{"candidates":[
			{"handler":"teacher","confidence":0.8,"rationale":"asks about a concept","keywords":["Recursion"]},
			{"handler":"astrology","confidence":0.9},
			{"handler":"university","confidence":1.7,"keywords":["internships"]}
		]}` + "\n```"}, nil
	})
	c := NewLLMClassifier(client, reg, cfg, nil)

	recent := []session.Turn{{Role: session.RoleUser, Text: "hi"}}
	cands := c.Classify(context.Background(), "explain recursion and list internships", recent)

	assert.Equal(t, []string{"university", "teacher", "ciro"}, handlersOf(cands))
	assert.Equal(t, 1.0, cands[0].Confidence, "confidence is clamped")
	assert.Equal(t, "recursion", cands[1].Slots.Topic)
	assert.Contains(t, cands[1].Slots.Keywords, "explain", "keyword matches are merged in")
	assert.True(t, strings.Contains(prompt, "- teacher: "))
	assert.True(t, strings.Contains(prompt, "user: hi"))
}

func TestLLMClassifierAlwaysAppliesUrgentRuleset(t *testing.T) {
	reg, cfg := testRegistry(t)
	client := replyWith(`{"candidates":[{"handler":"teacher","confidence":0.9,"urgent":false}]}`, nil)
	c := NewLLMClassifier(client, reg, cfg, nil)

	cands := c.Classify(context.Background(), "my exam went badly and I want to die", nil)
	motivator, ok := findCandidate(cands, "motivator")
	require.True(t, ok)
	assert.True(t, motivator.Slots.Urgent)
	assert.GreaterOrEqual(t, motivator.Confidence, 0.9)
}

func TestLLMClassifierFallsBackToKeywords(t *testing.T) {
	reg, cfg := testRegistry(t)
	keyword := NewKeywordClassifier(reg, cfg)
	msg := "What internships exist for business majors?"
	want := keyword.Classify(context.Background(), msg, nil)

	for name, client := range map[string]llm.Client{
		"provider error": replyWith("", errors.New("rate limited")),
		"not json":       replyWith("I think it's the university agent", nil),
		"unknown only":   replyWith(`{"candidates":[{"handler":"astrology","confidence":1}]}`, nil),
	} {
		t.Run(name, func(t *testing.T) {
			got := NewLLMClassifier(client, reg, cfg, nil).Classify(context.Background(), msg, nil)
			assert.Equal(t, want, got)
		})
	}
}

func TestLLMClassifierMarksFollowUps(t *testing.T) {
	reg, cfg := testRegistry(t)
	client := replyWith(`{"candidates":[{"handler":"university","confidence":0.4}]}`, nil)
	cands := NewLLMClassifier(client, reg, cfg, nil).Classify(context.Background(), "what about the other one?", nil)
	for _, c := range cands {
		assert.True(t, c.Slots.FollowUp, c.Handler)
	}
}

func TestLLMClassifierModelUrgencyOnAnyHandler(t *testing.T) {
	reg, cfg := testRegistry(t)
	client := replyWith(`{"candidates":[
		{"handler":"teacher","confidence":0.8,"urgent":true,"keywords":["overwhelmed"]},
		{"handler":"academic_coach","confidence":0.5}
	]}`, nil)
	c := NewLLMClassifier(client, reg, cfg, nil)

	msg := "I can't keep up with calculus anymore and nothing feels worth it"
	hits, _ := c.keywords.detect(msg)
	require.Empty(t, hits, "message must not trip the keyword ruleset")

	cands := c.Classify(context.Background(), msg, nil)
	motivator, ok := findCandidate(cands, "motivator")
	require.True(t, ok)
	assert.True(t, motivator.Slots.Urgent)
	assert.Contains(t, motivator.Slots.Keywords, "overwhelmed")
	assert.Equal(t, "motivator", cands[0].Handler)

	d := NewResolver(reg, cfg).Resolve(Input{Message: msg, Candidates: cands, State: State{TurnIndex: 1}})
	assert.True(t, d.Urgent)
	assert.Equal(t, []string{"motivator"}, d.Handlers)
}
