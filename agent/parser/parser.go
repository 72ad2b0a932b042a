// Package parser turns raw model output into tool call intents.
//
// Detection is split into Extractor strategies so each mode can be swapped
// or tested on its own. Parse never fails: any extractor error degrades to
// "no call found" and the full output is returned as plain text.
package parser

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strings"
	"sync/atomic"

	gonanoid "github.com/matoous/go-nanoid/v2"
	"github.com/rs/zerolog/log"
	contractx "github.com/tanpawarit/chative-tutor/agent/contract"
)

// RawCall is a detected call before it is bound to a turn.
type RawCall struct {
	Tool   string
	Args   map[string]any
	Source contractx.CallSource
}

type Extraction struct {
	Calls    []RawCall
	Residual string
}

// Extractor finds calls in text and returns the text left once they are removed.
type Extractor interface {
	Name() string
	Extract(text string) (Extraction, error)
}

type Parser struct {
	extractors []Extractor
	known      func() []string
	newID      func() string
}

var _ contractx.CallParser = (*Parser)(nil)

type Option func(*Parser)

// WithExtractors replaces the default extractor chain.
func WithExtractors(extractors ...Extractor) Option {
	return func(p *Parser) {
		p.extractors = extractors
	}
}

// WithKnownTools gives the default extractors the registered tool names.
// It has no effect on a chain set with WithExtractors.
func WithKnownTools(known func() []string) Option {
	return func(p *Parser) {
		p.known = known
	}
}

func WithIDGenerator(fn func() string) Option {
	return func(p *Parser) {
		if fn != nil {
			p.newID = fn
		}
	}
}

func New(opts ...Option) *Parser {
	p := &Parser{newID: newCallID()}
	for _, opt := range opts {
		if opt != nil {
			opt(p)
		}
	}
	if len(p.extractors) == 0 {
		p.extractors = []Extractor{NewStructuredExtractor(p.known), NewPromptedExtractor(p.known)}
	}
	return p
}

func (p *Parser) Parse(turnID uint64, output string) ([]contractx.ToolCallIntent, string) {
	text := output
	var calls []RawCall
	for _, ex := range p.extractors {
		ext, err := ex.Extract(text)
		if err != nil {
			log.Debug().
				Str("extractor", ex.Name()).
				Uint64("turn_id", turnID).
				Err(err).
				Msg("tool call extraction failed, treating output as plain text")
			return nil, output
		}
		calls = append(calls, ext.Calls...)
		text = ext.Residual
	}
	if len(calls) == 0 {
		return nil, output
	}
	return p.bind(turnID, calls), cleanResidual(text)
}

// FromNative converts structured call data from tool-calling models.
func (p *Parser) FromNative(turnID uint64, calls []contractx.NativeCall) []contractx.ToolCallIntent {
	raw := make([]RawCall, 0, len(calls))
	for _, c := range calls {
		name := strings.TrimSpace(c.Name)
		if name == "" {
			log.Debug().Uint64("turn_id", turnID).Msg("native tool call without a name")
			return nil
		}
		args, err := decodeArgs(c.Arguments)
		if err != nil {
			log.Debug().Uint64("turn_id", turnID).Str("tool", name).Err(err).Msg("native tool call arguments malformed")
			return nil
		}
		raw = append(raw, RawCall{Tool: name, Args: args, Source: contractx.SourceNative})
	}
	intents := p.bind(turnID, raw)
	for i, c := range calls {
		if id := strings.TrimSpace(c.ID); id != "" {
			intents[i].ID = id
		}
	}
	return intents
}

func (p *Parser) bind(turnID uint64, calls []RawCall) []contractx.ToolCallIntent {
	intents := make([]contractx.ToolCallIntent, len(calls))
	for i, c := range calls {
		args := c.Args
		if args == nil {
			args = map[string]any{}
		}
		intents[i] = contractx.ToolCallIntent{
			ID:     p.newID(),
			Tool:   c.Tool,
			Args:   args,
			TurnID: turnID,
			Source: c.Source,
		}
	}
	return intents
}

func decodeArgs(raw string) (map[string]any, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return map[string]any{}, nil
	}
	var args map[string]any
	if err := json.Unmarshal([]byte(raw), &args); err != nil {
		return nil, fmt.Errorf("%w: arguments: %v", contractx.ErrMalformedCall, err)
	}
	if args == nil {
		args = map[string]any{}
	}
	return args, nil
}

func newCallID() func() string {
	var fallback atomic.Uint64
	return func() string {
		id, err := gonanoid.New()
		if err != nil {
			return fmt.Sprintf("call_%d", fallback.Add(1))
		}
		return "call_" + id
	}
}

var blankLines = regexp.MustCompile(`\n{3,}`)

func cleanResidual(s string) string {
	lines := strings.Split(s, "\n")
	for i, l := range lines {
		lines[i] = strings.TrimRight(l, " \t")
	}
	return strings.TrimSpace(blankLines.ReplaceAllString(strings.Join(lines, "\n"), "\n\n"))
}

// cut removes the given [start,end) spans from s. Spans must be sorted and disjoint.
func cut(s string, spans [][2]int) string {
	if len(spans) == 0 {
		return s
	}
	var b strings.Builder
	last := 0
	for _, sp := range spans {
		b.WriteString(s[last:sp[0]])
		last = sp[1]
	}
	b.WriteString(s[last:])
	return b.String()
}
