package llm

import (
	"context"
	"errors"
	"testing"

	einomodel "github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/schema"
	contractx "github.com/tanpawarit/chative-tutor/agent/contract"
)

type fakeToolCallingModel struct {
	responses []*schema.Message
	err       error
	idx       int

	inputs    [][]*schema.Message
	boundWith [][]*schema.ToolInfo
}

func (f *fakeToolCallingModel) Generate(ctx context.Context, input []*schema.Message, opts ...einomodel.Option) (*schema.Message, error) {
	f.inputs = append(f.inputs, input)
	if f.err != nil {
		return nil, f.err
	}
	if f.idx >= len(f.responses) {
		return nil, errors.New("no fake response left")
	}
	msg := f.responses[f.idx]
	f.idx++
	return msg, nil
}

func (f *fakeToolCallingModel) Stream(ctx context.Context, input []*schema.Message, opts ...einomodel.Option) (*schema.StreamReader[*schema.Message], error) {
	return nil, errors.New("stream not implemented in fake model")
}

func (f *fakeToolCallingModel) WithTools(tools []*schema.ToolInfo) (einomodel.ToolCallingChatModel, error) {
	f.boundWith = append(f.boundWith, tools)
	return f, nil
}

func TestChatModelGenerateMapsToolCalls(t *testing.T) {
	t.Parallel()

	fake := &fakeToolCallingModel{
		responses: []*schema.Message{
			{
				Role: schema.Assistant,
				ToolCalls: []schema.ToolCall{
					{ID: "call_1", Function: schema.FunctionCall{Name: "lookup_grade", Arguments: `{"student_id":"42"}`}},
				},
			},
			{Role: schema.Assistant, Content: "Your average is 85."},
		},
	}
	m, err := NewChatModel(fake)
	if err != nil {
		t.Fatalf("NewChatModel() error = %v", err)
	}

	tools := []contractx.ToolSpec{{
		Name:        "lookup_grade",
		Description: "Look up grades",
		Params:      map[string]contractx.ParamSpec{"student_id": {Type: contractx.ParamString, Required: true}},
	}}

	resp, err := m.Generate(context.Background(), contractx.ModelRequest{
		System:   "You are a tutor.",
		Tools:    tools,
		Messages: []contractx.Message{{Role: contractx.RoleUser, Content: "What are my grades?"}},
	})
	if err != nil {
		t.Fatalf("Generate() error = %v", err)
	}
	if len(resp.Calls) != 1 || resp.Calls[0].ID != "call_1" || resp.Calls[0].Name != "lookup_grade" {
		t.Fatalf("unexpected calls: %#v", resp.Calls)
	}

	resp, err = m.Generate(context.Background(), contractx.ModelRequest{
		System: "You are a tutor.",
		Tools:  tools,
		Messages: []contractx.Message{
			{Role: contractx.RoleUser, Content: "What are my grades?"},
			{Role: contractx.RoleAssistant, ToolCalls: resp.Calls},
			{Role: contractx.RoleTool, Content: `{"average":85}`, ToolCallID: "call_1"},
		},
	})
	if err != nil {
		t.Fatalf("Generate() error = %v", err)
	}
	if resp.Text != "Your average is 85." {
		t.Fatalf("unexpected text: %q", resp.Text)
	}
	if len(fake.boundWith) != 1 {
		t.Fatalf("expected tools bound once, got %d", len(fake.boundWith))
	}

	second := fake.inputs[1]
	if len(second) != 4 {
		t.Fatalf("expected 4 messages, got %d", len(second))
	}
	if second[0].Role != schema.System || second[2].Role != schema.Assistant || second[3].Role != schema.Tool {
		t.Fatalf("unexpected roles: %s %s %s", second[0].Role, second[2].Role, second[3].Role)
	}
	if second[3].ToolCallID != "call_1" || len(second[2].ToolCalls) != 1 {
		t.Fatalf("tool linkage lost: %#v %#v", second[2], second[3])
	}
}

func TestChatModelWithoutToolsSkipsBinding(t *testing.T) {
	t.Parallel()

	fake := &fakeToolCallingModel{responses: []*schema.Message{{Content: "hi"}}}
	m, err := NewChatModel(fake)
	if err != nil {
		t.Fatalf("NewChatModel() error = %v", err)
	}
	if _, err := m.Generate(context.Background(), contractx.ModelRequest{Messages: []contractx.Message{{Role: contractx.RoleUser, Content: "hello"}}}); err != nil {
		t.Fatalf("Generate() error = %v", err)
	}
	if len(fake.boundWith) != 0 {
		t.Fatal("expected no tool binding")
	}
	if len(fake.inputs[0]) != 1 || fake.inputs[0][0].Role != schema.User {
		t.Fatalf("unexpected input: %#v", fake.inputs[0])
	}
}

func TestChatModelPropagatesError(t *testing.T) {
	t.Parallel()

	boom := errors.New("rate limited")
	m, _ := NewChatModel(&fakeToolCallingModel{err: boom})
	_, err := m.Generate(context.Background(), contractx.ModelRequest{})
	if !errors.Is(err, boom) {
		t.Fatalf("expected boom, got %v", err)
	}

	if _, err := NewChatModel(nil); !errors.Is(err, contractx.ErrValidation) {
		t.Fatalf("expected ErrValidation, got %v", err)
	}
}
