package contract

import (
	"time"

	"github.com/mohae/deepcopy"
)

type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleTool      Role = "tool"
	RoleSystem    Role = "system"
)

// CallSource records which extraction path produced an intent.
type CallSource string

const (
	SourceNative     CallSource = "native"
	SourceStructured CallSource = "structured"
	SourcePrompted   CallSource = "prompted"
)

type ToolCallIntent struct {
	ID     string         `json:"id"`
	Tool   string         `json:"tool"`
	Args   map[string]any `json:"args,omitempty"`
	TurnID uint64         `json:"turn_id"`
	Source CallSource     `json:"source"`
}

type ToolResult struct {
	CallID    string        `json:"call_id"`
	Tool      string        `json:"tool"`
	Success   bool          `json:"success"`
	Output    any           `json:"output,omitempty"`
	Error     string        `json:"error,omitempty"`
	ErrorKind ErrorKind     `json:"error_kind,omitempty"`
	Truncated bool          `json:"truncated,omitempty"`
	Duration  time.Duration `json:"duration"`
}

// Turn is one complete exchange: the originating message, any tool
// activity, and the final answer.
type Turn struct {
	ID        uint64           `json:"id"`
	Role      Role             `json:"role"`
	Content   string           `json:"content"`
	Answer    string           `json:"answer,omitempty"`
	Calls     []ToolCallIntent `json:"calls,omitempty"`
	Results   []ToolResult     `json:"results,omitempty"`
	Timestamp time.Time        `json:"timestamp"`
}

// Clone returns a deep copy so callers can never alias stored turns.
// Nested argument values and tool outputs are copied as well.
func (t Turn) Clone() Turn {
	out := t
	if t.Calls != nil {
		out.Calls = make([]ToolCallIntent, len(t.Calls))
		for i, c := range t.Calls {
			c.Args = cloneArgs(c.Args)
			out.Calls[i] = c
		}
	}
	if t.Results != nil {
		out.Results = make([]ToolResult, len(t.Results))
		for i, r := range t.Results {
			r.Output = deepcopy.Copy(r.Output)
			out.Results[i] = r
		}
	}
	return out
}

func cloneArgs(args map[string]any) map[string]any {
	if args == nil {
		return nil
	}
	return deepcopy.Copy(args).(map[string]any)
}

type ScoredTurn struct {
	Turn  Turn    `json:"turn"`
	Score float64 `json:"score"`
}

type MemorySnapshot struct {
	Recent    []Turn       `json:"recent"`
	Retrieved []ScoredTurn `json:"retrieved,omitempty"`
}

// ToolSpec is the model-facing description of a registered tool.
type ToolSpec struct {
	Name        string               `json:"name"`
	Description string               `json:"description"`
	Params      map[string]ParamSpec `json:"params,omitempty"`
}

type ParamType string

const (
	ParamString  ParamType = "string"
	ParamNumber  ParamType = "number"
	ParamInteger ParamType = "integer"
	ParamBoolean ParamType = "boolean"
	ParamObject  ParamType = "object"
	ParamArray   ParamType = "array"
)

type ParamSpec struct {
	Type        ParamType `json:"type"`
	Description string    `json:"description,omitempty"`
	Required    bool      `json:"required,omitempty"`
}

type Message struct {
	Role       Role           `json:"role"`
	Content    string         `json:"content"`
	ToolCalls  []NativeCall   `json:"tool_calls,omitempty"`
	ToolCallID string         `json:"tool_call_id,omitempty"`
	Meta       map[string]any `json:"-"`
}

// NativeCall is structured call data returned by tool-calling models.
type NativeCall struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	Arguments string `json:"arguments"`
}

type ModelRequest struct {
	System   string     `json:"system"`
	Tools    []ToolSpec `json:"tools,omitempty"`
	Messages []Message  `json:"messages"`
}

type ModelResponse struct {
	Text  string       `json:"text"`
	Calls []NativeCall `json:"calls,omitempty"`
}

type TurnStatus string

const (
	TurnComplete     TurnStatus = "complete"
	TurnDegraded     TurnStatus = "degraded"
	TurnServiceError TurnStatus = "service_error"
)

// Reply is what the session boundary shows the user.
type Reply struct {
	Text       string     `json:"text"`
	TurnID     uint64     `json:"turn_id"`
	Status     TurnStatus `json:"status"`
	Iterations int        `json:"iterations"`
}
