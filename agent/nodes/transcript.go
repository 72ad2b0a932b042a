package orchestratornode

import (
	"encoding/json"
	"fmt"
	"strings"

	contractx "github.com/tanpawarit/chative-tutor/agent/contract"
)

// ResultPrefix opens the message that carries prompted-mode tool results.
const ResultPrefix = "TOOL RESULT"

type resultView struct {
	Tool      string              `json:"tool"`
	Success   bool                `json:"success"`
	Output    any                 `json:"output,omitempty"`
	Error     string              `json:"error,omitempty"`
	ErrorKind contractx.ErrorKind `json:"error_kind,omitempty"`
	Truncated bool                `json:"truncated,omitempty"`
}

// ResultContent renders a tool result the way the model reads it.
func ResultContent(res contractx.ToolResult) string {
	raw, err := json.Marshal(resultView{
		Tool:      res.Tool,
		Success:   res.Success,
		Output:    res.Output,
		Error:     res.Error,
		ErrorKind: res.ErrorKind,
		Truncated: res.Truncated,
	})
	if err != nil {
		return fmt.Sprintf(`{"tool":%q,"success":false,"error":%q}`, res.Tool, "unencodable output: "+err.Error())
	}
	return string(raw)
}

func nativeTranscript(resp contractx.ModelResponse, intents []contractx.ToolCallIntent, results []contractx.ToolResult) []contractx.Message {
	calls := make([]contractx.NativeCall, len(intents))
	for i, it := range intents {
		call := contractx.NativeCall{ID: it.ID, Name: it.Tool}
		if i < len(resp.Calls) {
			call.Name = resp.Calls[i].Name
			call.Arguments = resp.Calls[i].Arguments
		}
		if strings.TrimSpace(call.Arguments) == "" {
			call.Arguments = "{}"
		}
		calls[i] = call
	}

	msgs := make([]contractx.Message, 0, len(results)+1)
	msgs = append(msgs, contractx.Message{
		Role:      contractx.RoleAssistant,
		Content:   resp.Text,
		ToolCalls: calls,
	})
	for _, res := range results {
		msgs = append(msgs, contractx.Message{
			Role:       contractx.RoleTool,
			Content:    ResultContent(res),
			ToolCallID: res.CallID,
		})
	}
	return msgs
}

func promptedTranscript(output string, results []contractx.ToolResult) []contractx.Message {
	var b strings.Builder
	b.WriteString(ResultPrefix)
	for _, res := range results {
		b.WriteString("\n")
		b.WriteString(res.Tool)
		b.WriteString(" (")
		b.WriteString(res.CallID)
		b.WriteString("): ")
		b.WriteString(ResultContent(res))
	}
	return []contractx.Message{
		{Role: contractx.RoleAssistant, Content: output},
		{Role: contractx.RoleUser, Content: b.String()},
	}
}
