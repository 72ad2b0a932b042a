package parser

import (
	"encoding/json"
	"fmt"
	"regexp"
	"sort"
	"strings"

	contractx "github.com/tanpawarit/chative-tutor/agent/contract"
)

var (
	toolCallTag = regexp.MustCompile(`(?s)<tool_call>(.*?)</tool_call>`)
	fencedBlock = regexp.MustCompile("(?s)```[ \\t]*([A-Za-z_]*)[ \\t]*\\n(.*?)```")
)

// StructuredExtractor reads JSON call blocks embedded in model output:
// <tool_call>{...}</tool_call>, ```tool_call or ```json fences, or an output
// that is a single JSON object. A block is
// {"name": "...", "arguments": {...}}; "tool", "args", "parameters" and the
// OpenAI style {"function": {"name", "arguments"}} are accepted as well.
//
// ```json fences and whole-output objects are ordinary text unless they carry
// an arguments key or name a known tool.
type StructuredExtractor struct {
	known func() []string
}

// NewStructuredExtractor builds the extractor. known lists the registered
// tool names; nil means only objects with an arguments key count as calls.
func NewStructuredExtractor(known func() []string) *StructuredExtractor {
	return &StructuredExtractor{known: known}
}

func (*StructuredExtractor) Name() string { return "structured" }

func (e *StructuredExtractor) Extract(text string) (Extraction, error) {
	var (
		calls []RawCall
		spans [][2]int
	)

	for _, m := range toolCallTag.FindAllStringSubmatchIndex(text, -1) {
		found, err := e.decodeBlock(text[m[2]:m[3]], true)
		if err != nil {
			return Extraction{}, err
		}
		calls = append(calls, found...)
		spans = append(spans, [2]int{m[0], m[1]})
	}

	for _, m := range fencedBlock.FindAllStringSubmatchIndex(text, -1) {
		if overlaps(spans, m[0], m[1]) {
			continue
		}
		lang := strings.ToLower(text[m[2]:m[3]])
		if lang != "tool_call" && lang != "json" {
			continue
		}
		found, err := e.decodeBlock(text[m[4]:m[5]], lang == "tool_call")
		if err != nil {
			return Extraction{}, err
		}
		if len(found) == 0 {
			continue
		}
		calls = append(calls, found...)
		spans = append(spans, [2]int{m[0], m[1]})
	}

	if len(calls) == 0 {
		trimmed := strings.TrimSpace(text)
		if strings.HasPrefix(trimmed, "{") && strings.HasSuffix(trimmed, "}") {
			found, err := e.decodeBlock(trimmed, false)
			if err != nil {
				return Extraction{}, err
			}
			if len(found) > 0 {
				return Extraction{Calls: found}, nil
			}
		}
		return Extraction{Residual: text}, nil
	}

	sort.Slice(spans, func(i, j int) bool { return spans[i][0] < spans[j][0] })
	return Extraction{Calls: calls, Residual: cut(text, spans)}, nil
}

// decodeBlock decodes one block. definitive blocks must hold calls; other
// blocks that are not call-shaped are left alone (nil, nil).
func (e *StructuredExtractor) decodeBlock(body string, definitive bool) ([]RawCall, error) {
	body = strings.TrimSpace(body)

	var raw any
	if err := json.Unmarshal([]byte(body), &raw); err != nil {
		if definitive {
			return nil, fmt.Errorf("%w: %v", contractx.ErrMalformedCall, err)
		}
		return nil, nil
	}

	var objects []map[string]any
	switch v := raw.(type) {
	case map[string]any:
		objects = []map[string]any{v}
	case []any:
		for _, item := range v {
			obj, ok := item.(map[string]any)
			if !ok {
				if definitive {
					return nil, fmt.Errorf("%w: call list item is %T", contractx.ErrMalformedCall, item)
				}
				return nil, nil
			}
			objects = append(objects, obj)
		}
	default:
		if definitive {
			return nil, fmt.Errorf("%w: block is %T", contractx.ErrMalformedCall, raw)
		}
		return nil, nil
	}

	calls := make([]RawCall, 0, len(objects))
	for _, obj := range objects {
		call, ok, err := e.decodeCallObject(obj, definitive)
		if err != nil {
			return nil, err
		}
		if !ok {
			if definitive {
				return nil, fmt.Errorf("%w: call has no tool name", contractx.ErrMalformedCall)
			}
			return nil, nil
		}
		calls = append(calls, call)
	}
	return calls, nil
}

func (e *StructuredExtractor) decodeCallObject(obj map[string]any, definitive bool) (RawCall, bool, error) {
	fn, wrapped := obj["function"].(map[string]any)
	if wrapped {
		obj = fn
	}

	nameValue, hasName := firstKey(obj, "name", "tool")
	if !hasName {
		return RawCall{}, false, nil
	}
	argsValue, hasArgs := firstKey(obj, "arguments", "args", "parameters")
	if !definitive && !wrapped && !hasArgs {
		if written, _ := nameValue.(string); !e.isKnown(written) {
			return RawCall{}, false, nil
		}
	}

	name, ok := nameValue.(string)
	name = strings.TrimSpace(name)
	if !ok || name == "" {
		return RawCall{}, true, fmt.Errorf("%w: tool name must be a non-empty string", contractx.ErrMalformedCall)
	}

	var args map[string]any
	switch v := argsValue.(type) {
	case nil:
		args = map[string]any{}
	case map[string]any:
		args = v
	case string:
		decoded, err := decodeArgs(v)
		if err != nil {
			return RawCall{}, true, err
		}
		args = decoded
	default:
		return RawCall{}, true, fmt.Errorf("%w: arguments for %s must be an object, got %T", contractx.ErrMalformedCall, name, v)
	}

	return RawCall{Tool: name, Args: args, Source: contractx.SourceStructured}, true, nil
}

// isKnown matches name against the registered tools, ignoring case and
// separators.
func (e *StructuredExtractor) isKnown(name string) bool {
	key := normalizeName(strings.TrimSpace(name))
	if e.known == nil || key == "" {
		return false
	}
	for _, n := range e.known() {
		if normalizeName(n) == key {
			return true
		}
	}
	return false
}

func firstKey(obj map[string]any, keys ...string) (any, bool) {
	for _, k := range keys {
		if v, ok := obj[k]; ok {
			return v, true
		}
	}
	return nil, false
}

func overlaps(spans [][2]int, start, end int) bool {
	for _, sp := range spans {
		if start < sp[1] && sp[0] < end {
			return true
		}
	}
	return false
}
