package orchestratornode

import (
	"context"
	"fmt"

	"github.com/rs/zerolog/log"
	contractx "github.com/tanpawarit/chative-tutor/agent/contract"
	sessionx "github.com/tanpawarit/chative-tutor/agent/session"
)

// SaveSession persists the session after the turn is committed. The turn is
// already in memory, so a store failure is logged and the reply still goes
// out.
func SaveSession(ctx context.Context, in *GraphState, sessions *sessionx.Manager) (*GraphState, error) {
	if in == nil || in.Session == nil {
		return nil, fmt.Errorf("%w: graph session is nil", contractx.ErrValidation)
	}

	if err := sessions.Save(ctx, in.Session); err != nil {
		log.Error().
			Err(err).
			Str("session_id", in.SessionID).
			Uint64("turn_id", in.TurnID).
			Msg("session save failed")
	}
	return in, nil
}
