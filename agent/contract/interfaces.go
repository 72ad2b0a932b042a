package contract

import "context"

// ChatModel is the external model boundary.
type ChatModel interface {
	Generate(ctx context.Context, req ModelRequest) (ModelResponse, error)
}

// ToolRunner executes parsed intents. Implementations never return errors;
// every failure is reported through the ToolResult.
type ToolRunner interface {
	Execute(ctx context.Context, intent ToolCallIntent) ToolResult
	ExecuteAll(ctx context.Context, intents []ToolCallIntent) []ToolResult
}

type ToolCatalog interface {
	Specs() []ToolSpec
}

type CallParser interface {
	Parse(turnID uint64, output string) ([]ToolCallIntent, string)
	FromNative(turnID uint64, calls []NativeCall) []ToolCallIntent
}

type Memory interface {
	NextID() uint64
	Append(turn Turn) Turn
	RecentWindow() []Turn
	Retrieve(query string, k int) []ScoredTurn
	Snapshot(query string, k int) MemorySnapshot
	Reset()
}

// TurnSink receives completed turns after they are committed to memory.
type TurnSink interface {
	TurnCompleted(ctx context.Context, sessionID string, turn Turn) error
}
