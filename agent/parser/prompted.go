package parser

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strings"
	"unicode"

	contractx "github.com/tanpawarit/chative-tutor/agent/contract"
)

// directive matches one call line, e.g. `CALL: lookup_grade {"student_id": "42"}`
// or `Action: math.evaluate expression="2+2"`.
var directive = regexp.MustCompile(`(?im)^[ \t]*(?:[-*>][ \t]*)?(?:CALL|USE TOOL|TOOL|ACTION)[ \t]*:[ \t]*([A-Za-z_][\w.\-]*)[ \t]*(.*)$`)

// PromptedExtractor reads the textual call convention taught to models
// without native tool calling. Arguments follow the tool name either as a
// JSON object (which may span lines) or as key=value / key: value pairs.
type PromptedExtractor struct {
	known func() []string
}

// NewPromptedExtractor builds the extractor. known, when set, lists the
// registered tool names used to resolve names written with different case
// or separators.
func NewPromptedExtractor(known func() []string) *PromptedExtractor {
	return &PromptedExtractor{known: known}
}

func (*PromptedExtractor) Name() string { return "prompted" }

func (e *PromptedExtractor) Extract(text string) (Extraction, error) {
	matches := directive.FindAllStringSubmatchIndex(text, -1)
	if len(matches) == 0 {
		return Extraction{Residual: text}, nil
	}

	var (
		calls []RawCall
		spans [][2]int
		last  int
	)
	for _, m := range matches {
		if m[0] < last {
			continue
		}
		name, err := e.resolve(strings.TrimRight(text[m[2]:m[3]], ".-"))
		if err != nil {
			return Extraction{}, err
		}

		end := m[1]
		argText := strings.TrimSpace(text[m[4]:m[5]])
		var args map[string]any
		if strings.HasPrefix(argText, "{") {
			argStart := m[4] + strings.Index(text[m[4]:m[5]], "{")
			argEnd, ok := balancedEnd(text, argStart)
			if !ok {
				return Extraction{}, fmt.Errorf("%w: unbalanced arguments for %s", contractx.ErrMalformedCall, name)
			}
			if err := json.Unmarshal([]byte(text[argStart:argEnd]), &args); err != nil {
				return Extraction{}, fmt.Errorf("%w: arguments for %s: %v", contractx.ErrMalformedCall, name, err)
			}
			if argEnd > end {
				end = argEnd
			}
		} else {
			args, err = parsePairs(argText)
			if err != nil {
				return Extraction{}, fmt.Errorf("%s: %w", name, err)
			}
		}
		if args == nil {
			args = map[string]any{}
		}

		calls = append(calls, RawCall{Tool: name, Args: args, Source: contractx.SourcePrompted})
		spans = append(spans, [2]int{m[0], end})
		last = end
	}

	return Extraction{Calls: calls, Residual: cut(text, spans)}, nil
}

// resolve maps a written tool name onto a known one. Exact names win;
// otherwise names are compared ignoring case and separators. A written name
// matching several known tools is ambiguous. Unmatched names pass through so
// the executor can report them as unknown.
func (e *PromptedExtractor) resolve(written string) (string, error) {
	if e.known == nil {
		return written, nil
	}
	names := e.known()
	for _, n := range names {
		if n == written {
			return n, nil
		}
	}
	key := normalizeName(written)
	var found []string
	for _, n := range names {
		if normalizeName(n) == key {
			found = append(found, n)
		}
	}
	switch len(found) {
	case 0:
		return written, nil
	case 1:
		return found[0], nil
	default:
		return "", fmt.Errorf("%w: %q matches tools %s", contractx.ErrAmbiguousCall, written, strings.Join(found, ", "))
	}
}

func normalizeName(s string) string {
	var b strings.Builder
	for _, r := range s {
		switch r {
		case '_', '-', '.', ' ':
			continue
		}
		b.WriteRune(unicode.ToLower(r))
	}
	return b.String()
}

// balancedEnd returns the index just past the brace that closes the object
// opened at s[start].
func balancedEnd(s string, start int) (int, bool) {
	depth := 0
	inString, escaped := false, false
	for i := start; i < len(s); i++ {
		c := s[i]
		if inString {
			switch {
			case escaped:
				escaped = false
			case c == '\\':
				escaped = true
			case c == '"':
				inString = false
			}
			continue
		}
		switch c {
		case '"':
			inString = true
		case '{':
			depth++
		case '}':
			depth--
			if depth == 0 {
				return i + 1, true
			}
		}
	}
	return 0, false
}

// parsePairs reads `key=value` or `key: value` pairs separated by commas or
// spaces. Values may be quoted. Values stay strings; the executor coerces
// them against the tool schema.
func parsePairs(s string) (map[string]any, error) {
	args := map[string]any{}
	i := 0
	for {
		for i < len(s) && (s[i] == ',' || s[i] == ' ' || s[i] == '\t') {
			i++
		}
		if i >= len(s) {
			return args, nil
		}

		keyStart := i
		for i < len(s) && (isKeyByte(s[i])) {
			i++
		}
		key := s[keyStart:i]
		for i < len(s) && (s[i] == ' ' || s[i] == '\t') {
			i++
		}
		if key == "" || i >= len(s) || (s[i] != '=' && s[i] != ':') {
			return nil, fmt.Errorf("%w: positional arguments %q cannot be mapped to parameters", contractx.ErrAmbiguousCall, strings.TrimSpace(s[keyStart:]))
		}
		i++
		for i < len(s) && (s[i] == ' ' || s[i] == '\t') {
			i++
		}

		var value string
		if i < len(s) && (s[i] == '"' || s[i] == '\'') {
			quote := s[i]
			i++
			var b strings.Builder
			closed := false
			for i < len(s) {
				c := s[i]
				if c == '\\' && i+1 < len(s) {
					b.WriteByte(s[i+1])
					i += 2
					continue
				}
				i++
				if c == quote {
					closed = true
					break
				}
				b.WriteByte(c)
			}
			if !closed {
				return nil, fmt.Errorf("%w: unterminated quote in value of %s", contractx.ErrMalformedCall, key)
			}
			value = b.String()
		} else {
			valueStart := i
			for {
				for i < len(s) && s[i] != ',' && s[i] != ' ' && s[i] != '\t' {
					i++
				}
				next := i
				for next < len(s) && (s[next] == ' ' || s[next] == '\t') {
					next++
				}
				if next >= len(s) || s[next] == ',' || startsPair(s, next) {
					break
				}
				i = next
			}
			value = s[valueStart:i]
		}

		if prev, ok := args[key]; ok && prev != value {
			return nil, fmt.Errorf("%w: argument %s given twice with different values", contractx.ErrAmbiguousCall, key)
		}
		args[key] = value
	}
}

func isKeyByte(c byte) bool {
	return c == '_' || c == '-' || (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z') || (c >= '0' && c <= '9')
}

// startsPair reports whether s[i:] begins with `key=` or `key:`.
func startsPair(s string, i int) bool {
	j := i
	for j < len(s) && isKeyByte(s[j]) {
		j++
	}
	if j == i {
		return false
	}
	for j < len(s) && (s[j] == ' ' || s[j] == '\t') {
		j++
	}
	return j < len(s) && (s[j] == '=' || s[j] == ':')
}
