package orchestratornode

import (
	"fmt"
	"strings"
	"time"

	contractx "github.com/tanpawarit/chative-tutor/agent/contract"
	sessionx "github.com/tanpawarit/chative-tutor/agent/session"
)

type GraphInput struct {
	SessionID string
	Text      string
	// Session is held by the caller for the whole turn.
	Session *sessionx.Session
}

type GraphOutput struct {
	Reply contractx.Reply
	Turn  contractx.Turn
}

type GraphState struct {
	SessionID string
	Text      string
	Now       time.Time

	Session *sessionx.Session
	TurnID  uint64

	Snapshot contractx.MemorySnapshot
	System   string
	Tools    []contractx.ToolSpec
	// Messages is the transcript sent to the model: recent turns, the user
	// message, then this turn's model outputs and tool results.
	Messages []contractx.Message

	Calls      []contractx.ToolCallIntent
	Results    []contractx.ToolResult
	Answer     string
	Iterations int

	Turn contractx.Turn
}

// NormalizeInput trims and checks a raw message before a session is taken.
func NormalizeInput(sessionID, text string) (string, string, error) {
	sessionID = strings.TrimSpace(sessionID)
	if sessionID == "" {
		return "", "", contractx.ErrInvalidSession
	}
	text = strings.TrimSpace(text)
	if text == "" {
		return "", "", contractx.ErrInvalidMessage
	}
	return sessionID, text, nil
}

func ValidateRequest(in GraphInput, nowFn func() time.Time) (*GraphState, error) {
	sessionID, text, err := NormalizeInput(in.SessionID, in.Text)
	if err != nil {
		return nil, err
	}
	if in.Session == nil || in.Session.Memory == nil {
		return nil, fmt.Errorf("%w: session %s is not acquired", contractx.ErrValidation, sessionID)
	}
	if in.Session.ID != sessionID {
		return nil, fmt.Errorf("%w: session mismatch %s != %s", contractx.ErrValidation, in.Session.ID, sessionID)
	}

	return &GraphState{
		SessionID: sessionID,
		Text:      text,
		Now:       nowFn().UTC(),
		Session:   in.Session,
	}, nil
}
