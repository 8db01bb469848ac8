package llm

import (
	"context"
	"fmt"
	"strings"
)

// StubClient answers without a provider. It echoes the last user message
// under the first system line so local runs and demos work offline.
type StubClient struct{}

func NewStubClient() *StubClient { return &StubClient{} }

func (StubClient) Complete(ctx context.Context, req Request) (Response, error) {
	if err := ctx.Err(); err != nil {
		return Response{}, err
	}
	var last string
	for i := len(req.Messages) - 1; i >= 0; i-- {
		if req.Messages[i].Role == RoleUser {
			last = strings.TrimSpace(req.Messages[i].Content)
			break
		}
	}
	if last == "" {
		return Response{}, ErrEmptyCompletion
	}
	persona := "Ciro"
	if len(req.System) > 0 {
		if line, _, _ := strings.Cut(strings.TrimSpace(req.System[0]), "\n"); line != "" {
			persona = line
		}
	}
	return Response{
		Text:       fmt.Sprintf("[%s] You asked: %s", persona, last),
		StopReason: "stub",
	}, nil
}
