package orchestratornode

import (
	"context"
	"fmt"
	"strings"

	"github.com/rs/zerolog/log"
	contractx "github.com/tanpawarit/chative-tutor/agent/contract"
	promptx "github.com/tanpawarit/chative-tutor/agent/prompt"
)

type PromptDeps struct {
	Renderer *promptx.Renderer
	Catalog  contractx.ToolCatalog
	Persona  string
	// Native sends tool specs with the request instead of the prompt.
	Native bool
}

// BuildPrompt assembles the context for the first model call: the system
// prompt with retrieved turns, the recent window and the user message.
func BuildPrompt(ctx context.Context, in *GraphState, deps PromptDeps) (*GraphState, error) {
	if in == nil {
		return nil, fmt.Errorf("%w: graph state is nil", contractx.ErrValidation)
	}

	var specs []contractx.ToolSpec
	if deps.Catalog != nil {
		specs = deps.Catalog.Specs()
	}

	system, err := deps.Renderer.Render(ctx, promptx.SystemInput{
		Persona:   deps.Persona,
		Prompted:  !deps.Native,
		Tools:     specs,
		Retrieved: in.Snapshot.Retrieved,
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", contractx.ErrValidation, err)
	}
	in.System = system
	if deps.Native {
		in.Tools = specs
	}

	msgs := make([]contractx.Message, 0, 2*len(in.Snapshot.Recent)+1)
	for _, t := range in.Snapshot.Recent {
		if content := strings.TrimSpace(t.Content); content != "" {
			msgs = append(msgs, contractx.Message{Role: contractx.RoleUser, Content: content})
		}
		if answer := strings.TrimSpace(t.Answer); answer != "" {
			msgs = append(msgs, contractx.Message{Role: contractx.RoleAssistant, Content: answer})
		}
	}
	msgs = append(msgs, contractx.Message{Role: contractx.RoleUser, Content: in.Text})
	in.Messages = msgs

	log.Debug().
		Str("session_id", in.SessionID).
		Uint64("turn_id", in.TurnID).
		Str("state", "context_assembled").
		Int("messages", len(msgs)).
		Int("tools", len(specs)).
		Msg("orchestrator transition")
	return in, nil
}
