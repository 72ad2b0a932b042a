package parser

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	contractx "github.com/tanpawarit/chative-tutor/agent/contract"
)

func sequentialIDs() func() string {
	n := 0
	return func() string {
		n++
		return fmt.Sprintf("id-%d", n)
	}
}

func knownTools(names ...string) func() []string {
	return func() []string { return names }
}

func TestParsePlainText(t *testing.T) {
	t.Parallel()

	p := New()
	out := "The derivative of x^2 is 2x."
	intents, residual := p.Parse(1, out)
	assert.Empty(t, intents)
	assert.Equal(t, out, residual)
}

func TestParseStructuredTag(t *testing.T) {
	t.Parallel()

	p := New(WithIDGenerator(sequentialIDs()))
	out := "Let me check.\n<tool_call>{\"name\": \"lookup_grade\", \"arguments\": {\"student_id\": \"42\"}}</tool_call>"
	intents, residual := p.Parse(7, out)

	require.Len(t, intents, 1)
	assert.Equal(t, contractx.ToolCallIntent{
		ID:     "id-1",
		Tool:   "lookup_grade",
		Args:   map[string]any{"student_id": "42"},
		TurnID: 7,
		Source: contractx.SourceStructured,
	}, intents[0])
	assert.Equal(t, "Let me check.", residual)
}

func TestParseStructuredVariants(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name   string
		output string
		tools  []string
		args   []map[string]any
	}{
		{
			name:   "tool_call fence",
			output: "```tool_call\n{\"tool\": \"math.evaluate\", \"args\": {\"expression\": \"2+2\"}}\n```",
			tools:  []string{"math.evaluate"},
			args:   []map[string]any{{"expression": "2+2"}},
		},
		{
			name:   "json fence with string arguments",
			output: "```json\n{\"name\": \"lookup_grade\", \"arguments\": \"{\\\"student_id\\\": \\\"7\\\"}\"}\n```",
			tools:  []string{"lookup_grade"},
			args:   []map[string]any{{"student_id": "7"}},
		},
		{
			name:   "whole output object",
			output: `  {"name": "lookup_grade", "parameters": {"student_id": "1"}}  `,
			tools:  []string{"lookup_grade"},
			args:   []map[string]any{{"student_id": "1"}},
		},
		{
			name:   "function wrapper",
			output: `<tool_call>{"function": {"name": "math.evaluate", "arguments": "{\"expression\":\"1+1\"}"}}</tool_call>`,
			tools:  []string{"math.evaluate"},
			args:   []map[string]any{{"expression": "1+1"}},
		},
		{
			name:   "list of calls",
			output: `<tool_call>[{"name": "a"}, {"name": "b", "arguments": {"x": 1}}]</tool_call>`,
			tools:  []string{"a", "b"},
			args:   []map[string]any{{}, {"x": float64(1)}},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			intents, residual := New().Parse(1, tt.output)
			require.Len(t, intents, len(tt.tools))
			for i, intent := range intents {
				assert.Equal(t, tt.tools[i], intent.Tool)
				assert.Equal(t, tt.args[i], intent.Args)
				assert.Equal(t, contractx.SourceStructured, intent.Source)
				assert.NotEmpty(t, intent.ID)
			}
			assert.Empty(t, residual)
		})
	}
}

func TestParseJSONFenceThatIsNotACall(t *testing.T) {
	t.Parallel()

	p := New(WithKnownTools(knownTools("lookup_grade", "math.evaluate")))
	outputs := []string{
		"Here is an example record:\n```json\n{\"score\": 91}\n```",
		"A JSON object looks like this:\n```json\n{\"name\": \"Alice\", \"age\": 14}\n```\nKeys are always strings.",
		`{"name": "Bob", "grade": "A"}`,
		"```json\n[{\"name\": \"Ann\"}, {\"name\": \"Ben\"}]\n```",
	}
	for _, out := range outputs {
		intents, residual := p.Parse(1, out)
		assert.Empty(t, intents, out)
		assert.Equal(t, out, residual)
	}
}

func TestParseJSONFenceNamingKnownTool(t *testing.T) {
	t.Parallel()

	p := New(WithKnownTools(knownTools("lookup_grade")), WithIDGenerator(sequentialIDs()))
	intents, residual := p.Parse(2, "Checking.\n```json\n{\"name\": \"lookup_grade\"}\n```")
	require.Len(t, intents, 1)
	assert.Equal(t, "lookup_grade", intents[0].Tool)
	assert.Equal(t, map[string]any{}, intents[0].Args)
	assert.Equal(t, "Checking.", residual)

	intents, _ = New().Parse(3, `{"name": "lookup_grade"}`)
	assert.Empty(t, intents)
}

type fixedExtractor struct{ tool string }

func (fixedExtractor) Name() string { return "fixed" }

func (f fixedExtractor) Extract(text string) (Extraction, error) {
	return Extraction{Calls: []RawCall{{Tool: f.tool, Source: contractx.SourcePrompted}}}, nil
}

func TestKnownToolsKeepsCustomExtractors(t *testing.T) {
	t.Parallel()

	for _, p := range []*Parser{
		New(WithExtractors(fixedExtractor{tool: "custom"}), WithKnownTools(knownTools("lookup_grade"))),
		New(WithKnownTools(knownTools("lookup_grade")), WithExtractors(fixedExtractor{tool: "custom"})),
	} {
		intents, _ := p.Parse(1, "anything")
		require.Len(t, intents, 1)
		assert.Equal(t, "custom", intents[0].Tool)
	}
}

func TestParseMalformedStructuredDegrades(t *testing.T) {
	t.Parallel()

	outputs := []string{
		`<tool_call>{"name": "lookup_grade", "arguments": {"student_id": </tool_call>`,
		`<tool_call>{"arguments": {}}</tool_call>`,
		"```tool_call\nnot json\n```",
		`{"name": "lookup_grade", "arguments": "{broken"}`,
		`{"name": "lookup_grade", "arguments": 12}`,
	}
	for _, out := range outputs {
		intents, residual := New().Parse(3, out)
		assert.Empty(t, intents, out)
		assert.Equal(t, out, residual)
	}
}

func TestParsePromptedJSONArguments(t *testing.T) {
	t.Parallel()

	p := New(WithIDGenerator(sequentialIDs()))
	out := "I will look that up.\nCALL: lookup_grade {\"student_id\": \"42\",\n  \"course\": \"algebra\"}\nOne moment."
	intents, residual := p.Parse(2, out)

	require.Len(t, intents, 1)
	assert.Equal(t, "lookup_grade", intents[0].Tool)
	assert.Equal(t, map[string]any{"student_id": "42", "course": "algebra"}, intents[0].Args)
	assert.Equal(t, contractx.SourcePrompted, intents[0].Source)
	assert.Equal(t, uint64(2), intents[0].TurnID)
	assert.Equal(t, "I will look that up.\n\nOne moment.", residual)
}

func TestParsePromptedPairs(t *testing.T) {
	t.Parallel()

	tests := []struct {
		output string
		tool   string
		args   map[string]any
	}{
		{`CALL: lookup_grade student_id=42 course="linear algebra"`, "lookup_grade", map[string]any{"student_id": "42", "course": "linear algebra"}},
		{`Action: math.evaluate expression: 2 * (3 + 4)`, "math.evaluate", map[string]any{"expression": "2 * (3 + 4)"}},
		{`use tool: lookup_grade student_id: 7, course: biology`, "lookup_grade", map[string]any{"student_id": "7", "course": "biology"}},
		{`TOOL: lookup_grade`, "lookup_grade", map[string]any{}},
		{`- CALL: lookup_grade student_id='a b'`, "lookup_grade", map[string]any{"student_id": "a b"}},
	}
	for _, tt := range tests {
		intents, residual := New().Parse(1, tt.output)
		require.Len(t, intents, 1, tt.output)
		assert.Equal(t, tt.tool, intents[0].Tool, tt.output)
		assert.Equal(t, tt.args, intents[0].Args, tt.output)
		assert.Empty(t, residual, tt.output)
	}
}

func TestParsePromptedMultipleCalls(t *testing.T) {
	t.Parallel()

	out := "CALL: math.evaluate expression=1+1\nCALL: math.evaluate expression=2+2"
	intents, _ := New().Parse(1, out)
	require.Len(t, intents, 2)
	assert.Equal(t, "1+1", intents[0].Args["expression"])
	assert.Equal(t, "2+2", intents[1].Args["expression"])
	assert.NotEqual(t, intents[0].ID, intents[1].ID)
}

func TestParsePromptedAmbiguityDegrades(t *testing.T) {
	t.Parallel()

	outputs := []string{
		`CALL: lookup_grade student_id=1 student_id=2`,
		`CALL: lookup_grade 42`,
		`CALL: lookupgrade student_id=1`,
		`CALL: lookup_grade {"student_id": "42"`,
		`CALL: lookup_grade student_id="42`,
	}
	p := New(WithKnownTools(knownTools("lookup_grade", "lookup-grade", "math.evaluate")))
	for _, out := range outputs {
		intents, residual := p.Parse(1, out)
		assert.Empty(t, intents, out)
		assert.Equal(t, out, residual)
	}
}

func TestPromptedResolvesLooseNames(t *testing.T) {
	t.Parallel()

	p := New(WithKnownTools(knownTools("lookup_grade", "math.evaluate")))
	intents, _ := p.Parse(1, "CALL: Lookup-Grade student_id=9")
	require.Len(t, intents, 1)
	assert.Equal(t, "lookup_grade", intents[0].Tool)

	intents, _ = p.Parse(1, "CALL: weather city=Paris")
	require.Len(t, intents, 1)
	assert.Equal(t, "weather", intents[0].Tool)
}

func TestExtractorErrorsAreTyped(t *testing.T) {
	t.Parallel()

	_, err := NewStructuredExtractor(nil).Extract(`<tool_call>nope</tool_call>`)
	assert.True(t, errors.Is(err, contractx.ErrMalformedCall))
	assert.True(t, errors.Is(err, contractx.ErrParse))

	_, err = NewPromptedExtractor(nil).Extract(`CALL: x a=1 a=2`)
	assert.True(t, errors.Is(err, contractx.ErrAmbiguousCall))
}

func TestFromNative(t *testing.T) {
	t.Parallel()

	p := New(WithIDGenerator(sequentialIDs()))
	intents := p.FromNative(4, []contractx.NativeCall{
		{ID: "call_abc", Name: "lookup_grade", Arguments: `{"student_id":"42"}`},
		{Name: "math.evaluate", Arguments: ""},
	})
	require.Len(t, intents, 2)
	assert.Equal(t, "call_abc", intents[0].ID)
	assert.Equal(t, "id-2", intents[1].ID)
	assert.Equal(t, map[string]any{"student_id": "42"}, intents[0].Args)
	assert.Equal(t, map[string]any{}, intents[1].Args)
	assert.Equal(t, contractx.SourceNative, intents[1].Source)
	assert.Equal(t, uint64(4), intents[1].TurnID)

	assert.Nil(t, p.FromNative(4, []contractx.NativeCall{{Name: "x", Arguments: "{"}}))
}
