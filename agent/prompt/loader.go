package prompt

import (
	"context"
	_ "embed"
	"fmt"
	"sort"
	"strings"

	einoprompt "github.com/cloudwego/eino/components/prompt"
	"github.com/cloudwego/eino/schema"
	contractx "github.com/tanpawarit/chative-tutor/agent/contract"
)

var (
	//go:embed template/persona.txt
	personaRaw string

	//go:embed template/system.txt
	systemRaw string
)

// PromptSet holds loaded prompt content.
type PromptSet struct {
	Persona string
	System  string
}

// LoadPromptSet returns a PromptSet with trimmed prompt strings.
func LoadPromptSet() PromptSet {
	return PromptSet{
		Persona: strings.TrimSpace(personaRaw),
		System:  strings.TrimSpace(systemRaw),
	}
}

type SystemInput struct {
	// Persona overrides the embedded persona when set.
	Persona string
	// Prompted lists Tools in the text call convention for models without
	// native tool calling.
	Prompted  bool
	Tools     []contractx.ToolSpec
	Retrieved []contractx.ScoredTurn
}

type toolView struct {
	Name        string
	Description string
	Params      string
}

type memoryView struct {
	Content string
	Answer  string
}

// Renderer formats the system prompt through an eino chat template.
type Renderer struct {
	persona  string
	template einoprompt.ChatTemplate
}

func NewRenderer(set PromptSet) *Renderer {
	return &Renderer{
		persona:  set.Persona,
		template: einoprompt.FromMessages(schema.GoTemplate, schema.SystemMessage(set.System)),
	}
}

func (r *Renderer) Render(ctx context.Context, in SystemInput) (string, error) {
	persona := strings.TrimSpace(in.Persona)
	if persona == "" {
		persona = r.persona
	}

	tools := make([]toolView, 0, len(in.Tools))
	for _, t := range in.Tools {
		tools = append(tools, toolView{Name: t.Name, Description: t.Description, Params: describeParams(t.Params)})
	}
	memories := make([]memoryView, 0, len(in.Retrieved))
	for _, st := range in.Retrieved {
		memories = append(memories, memoryView{Content: oneLine(st.Turn.Content), Answer: oneLine(st.Turn.Answer)})
	}

	msgs, err := r.template.Format(ctx, map[string]any{
		"persona":  persona,
		"prompted": in.Prompted && len(tools) > 0,
		"tools":    tools,
		"memories": memories,
	})
	if err != nil {
		return "", fmt.Errorf("render system prompt: %w", err)
	}
	if len(msgs) == 0 || msgs[0] == nil {
		return "", fmt.Errorf("render system prompt: no message produced")
	}
	return strings.TrimSpace(msgs[0].Content), nil
}

func describeParams(params map[string]contractx.ParamSpec) string {
	if len(params) == 0 {
		return ""
	}
	names := make([]string, 0, len(params))
	for n := range params {
		names = append(names, n)
	}
	sort.Strings(names)

	parts := make([]string, 0, len(names))
	for _, n := range names {
		p := params[n]
		s := n + " (" + string(p.Type)
		if p.Required {
			s += ", required"
		}
		s += ")"
		if p.Description != "" {
			s += " " + p.Description
		}
		parts = append(parts, s)
	}
	return strings.Join(parts, "; ")
}

func oneLine(s string) string {
	return strings.Join(strings.Fields(s), " ")
}
