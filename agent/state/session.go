package state

import (
	"errors"
	"fmt"
	"strings"
	"time"

	memoryx "github.com/tanpawarit/chative-tutor/agent/memory"
)

// SessionState is the persisted form of one tutoring session.
type SessionState struct {
	SessionID string        `json:"session_id"`
	Version   int           `json:"version"`
	Memory    memoryx.State `json:"memory"`
	CreatedAt time.Time     `json:"created_at"`
	UpdatedAt time.Time     `json:"updated_at"`
}

var ErrTurnOrder = errors.New("session turns out of order")

func NewSessionState(sessionID string, now time.Time) *SessionState {
	return &SessionState{
		SessionID: sessionID,
		Version:   1,
		Memory:    memoryx.State{NextTurnID: 1},
		CreatedAt: now.UTC(),
		UpdatedAt: now.UTC(),
	}
}

func (s *SessionState) Touch(now time.Time) {
	s.UpdatedAt = now.UTC()
}

// TurnCount is the number of turns held in the window and archive.
func (s *SessionState) TurnCount() int {
	if s == nil {
		return 0
	}
	return len(s.Memory.Window) + len(s.Memory.Archive)
}

func (s *SessionState) Validate() error {
	if s == nil {
		return ErrNilSessionState
	}
	if strings.TrimSpace(s.SessionID) == "" {
		return ErrInvalidSession
	}
	var last uint64
	for _, t := range append(append(s.Memory.Archive[:0:0], s.Memory.Archive...), s.Memory.Window...) {
		if t.ID <= last {
			return fmt.Errorf("%w: turn %d after %d", ErrTurnOrder, t.ID, last)
		}
		last = t.ID
	}
	if s.Memory.NextTurnID != 0 && s.Memory.NextTurnID <= last {
		return fmt.Errorf("%w: next turn id %d not above %d", ErrTurnOrder, s.Memory.NextTurnID, last)
	}
	return nil
}
