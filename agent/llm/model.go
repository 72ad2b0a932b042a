package llm

import (
	"context"
	"fmt"
	"strings"
	"sync"

	einomodel "github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/schema"
	contractx "github.com/tanpawarit/chative-tutor/agent/contract"
	toolx "github.com/tanpawarit/chative-tutor/agent/tool"
)

// ChatModel adapts an eino tool calling model to contract.ChatModel.
type ChatModel struct {
	base einomodel.ToolCallingChatModel

	mu       sync.Mutex
	boundKey string
	bound    einomodel.ToolCallingChatModel
}

var _ contractx.ChatModel = (*ChatModel)(nil)

func NewChatModel(base einomodel.ToolCallingChatModel) (*ChatModel, error) {
	if base == nil {
		return nil, fmt.Errorf("%w: chat model is nil", contractx.ErrValidation)
	}
	return &ChatModel{base: base}, nil
}

func (m *ChatModel) Generate(ctx context.Context, req contractx.ModelRequest) (contractx.ModelResponse, error) {
	cm, err := m.withTools(req.Tools)
	if err != nil {
		return contractx.ModelResponse{}, err
	}

	msg, err := cm.Generate(ctx, ToSchemaMessages(req))
	if err != nil {
		return contractx.ModelResponse{}, err
	}
	if msg == nil {
		return contractx.ModelResponse{}, fmt.Errorf("empty model response")
	}

	resp := contractx.ModelResponse{Text: msg.Content}
	for _, tc := range msg.ToolCalls {
		resp.Calls = append(resp.Calls, contractx.NativeCall{
			ID:        tc.ID,
			Name:      tc.Function.Name,
			Arguments: tc.Function.Arguments,
		})
	}
	return resp, nil
}

// withTools binds the tool set once and reuses it while it stays the same.
func (m *ChatModel) withTools(specs []contractx.ToolSpec) (einomodel.ToolCallingChatModel, error) {
	if len(specs) == 0 {
		return m.base, nil
	}
	names := make([]string, len(specs))
	for i, s := range specs {
		names[i] = s.Name
	}
	key := strings.Join(names, ",")

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.bound != nil && m.boundKey == key {
		return m.bound, nil
	}
	bound, err := m.base.WithTools(toolx.ToolInfos(specs))
	if err != nil {
		return nil, fmt.Errorf("bind tools: %w", err)
	}
	m.bound, m.boundKey = bound, key
	return bound, nil
}

// ToSchemaMessages converts a request into the eino message list, system
// prompt first.
func ToSchemaMessages(req contractx.ModelRequest) []*schema.Message {
	out := make([]*schema.Message, 0, len(req.Messages)+1)
	if s := strings.TrimSpace(req.System); s != "" {
		out = append(out, schema.SystemMessage(s))
	}
	for _, msg := range req.Messages {
		switch msg.Role {
		case contractx.RoleSystem:
			out = append(out, schema.SystemMessage(msg.Content))
		case contractx.RoleAssistant:
			am := &schema.Message{Role: schema.Assistant, Content: msg.Content}
			for _, c := range msg.ToolCalls {
				am.ToolCalls = append(am.ToolCalls, schema.ToolCall{
					ID:       c.ID,
					Type:     "function",
					Function: schema.FunctionCall{Name: c.Name, Arguments: c.Arguments},
				})
			}
			out = append(out, am)
		case contractx.RoleTool:
			out = append(out, schema.ToolMessage(msg.Content, msg.ToolCallID))
		default:
			out = append(out, schema.UserMessage(msg.Content))
		}
	}
	return out
}
