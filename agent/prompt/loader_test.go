package prompt

import (
	"context"
	"strings"
	"testing"

	contractx "github.com/tanpawarit/chative-tutor/agent/contract"
)

func TestLoadPromptSet(t *testing.T) {
	t.Parallel()

	set := LoadPromptSet()
	if set.Persona == "" || set.System == "" {
		t.Fatalf("expected embedded prompts, got %#v", set)
	}
}

func TestRenderNativeModeOmitsToolProtocol(t *testing.T) {
	t.Parallel()

	r := NewRenderer(LoadPromptSet())
	out, err := r.Render(context.Background(), SystemInput{
		Tools: []contractx.ToolSpec{{Name: "lookup_grade", Description: "grades"}},
	})
	if err != nil {
		t.Fatalf("Render() error = %v", err)
	}
	if !strings.HasPrefix(out, "You are a patient tutor") {
		t.Fatalf("unexpected prompt: %q", out)
	}
	if strings.Contains(out, "CALL:") {
		t.Fatalf("native mode should not describe the text protocol: %q", out)
	}
}

func TestRenderPromptedModeWithMemories(t *testing.T) {
	t.Parallel()

	r := NewRenderer(LoadPromptSet())
	out, err := r.Render(context.Background(), SystemInput{
		Persona:  "You teach chemistry.",
		Prompted: true,
		Tools: []contractx.ToolSpec{{
			Name:        "lookup_grade",
			Description: "Look up a student's grades.",
			Params: map[string]contractx.ParamSpec{
				"student_id": {Type: contractx.ParamString, Required: true},
				"course":     {Type: contractx.ParamString, Description: "optional course filter"},
			},
		}},
		Retrieved: []contractx.ScoredTurn{{Turn: contractx.Turn{Content: "What is a mole?", Answer: "A unit of\namount."}, Score: 0.4}},
	})
	if err != nil {
		t.Fatalf("Render() error = %v", err)
	}

	for _, want := range []string{
		"You teach chemistry.",
		"- lookup_grade: Look up a student's grades. Parameters: course (string) optional course filter; student_id (string, required)",
		"CALL: <tool_name>",
		"- Student: What is a mole? | Tutor: A unit of amount.",
	} {
		if !strings.Contains(out, want) {
			t.Fatalf("prompt missing %q:\n%s", want, out)
		}
	}
	if strings.Contains(out, "You are a patient tutor") {
		t.Fatal("persona override ignored")
	}
}
