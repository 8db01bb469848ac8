package llm

import (
	"context"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime"
	brtypes "github.com/aws/aws-sdk-go-v2/service/bedrockruntime/types"
)

type fakeConverse struct {
	input *bedrockruntime.ConverseInput
	out   *bedrockruntime.ConverseOutput
}

func (f *fakeConverse) Converse(ctx context.Context, params *bedrockruntime.ConverseInput, optFns ...func(*bedrockruntime.Options)) (*bedrockruntime.ConverseOutput, error) {
	f.input = params
	return f.out, nil
}

func TestBedrockClientComplete(t *testing.T) {
	api := &fakeConverse{out: &bedrockruntime.ConverseOutput{
		Output: &brtypes.ConverseOutputMemberMessage{Value: brtypes.Message{
			Role:    brtypes.ConversationRoleAssistant,
			Content: []brtypes.ContentBlock{&brtypes.ContentBlockMemberText{Value: " answer "}},
		}},
		StopReason: brtypes.StopReasonEndTurn,
		Usage:      &brtypes.TokenUsage{InputTokens: aws.Int32(4), OutputTokens: aws.Int32(1), TotalTokens: aws.Int32(5)},
	}}
	client := NewBedrockClient(api, "anthropic.test")

	resp, err := client.Complete(context.Background(), Request{
		System:      []string{"sys"},
		Messages:    []ChatMessage{{Role: RoleSystem, Content: "extra"}, {Role: RoleUser, Content: "q"}},
		Temperature: -1,
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if resp.Text != "answer" || resp.Usage.TotalTokens != 5 {
		t.Fatalf("unexpected response %+v", resp)
	}
	if len(api.input.System) != 2 || len(api.input.Messages) != 1 {
		t.Fatalf("expected system blocks folded, got %d system %d messages", len(api.input.System), len(api.input.Messages))
	}
	if api.input.InferenceConfig != nil {
		t.Fatalf("expected no inference config when nothing is set")
	}
	if aws.ToString(api.input.ModelId) != "anthropic.test" {
		t.Fatalf("unexpected model id %s", aws.ToString(api.input.ModelId))
	}
}

func TestBedrockClientRequiresModel(t *testing.T) {
	client := NewBedrockClient(&fakeConverse{}, "")
	if _, err := client.Complete(context.Background(), Request{}); err == nil {
		t.Fatalf("expected missing model error")
	}
}

func TestBedrockClientEmptyOutput(t *testing.T) {
	api := &fakeConverse{out: &bedrockruntime.ConverseOutput{
		Output: &brtypes.ConverseOutputMemberMessage{Value: brtypes.Message{}},
	}}
	client := NewBedrockClient(api, "m")
	if _, err := client.Complete(context.Background(), Request{Messages: []ChatMessage{{Role: RoleUser, Content: "q"}}}); err != ErrEmptyCompletion {
		t.Fatalf("expected ErrEmptyCompletion, got %v", err)
	}
}
