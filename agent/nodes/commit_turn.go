package orchestratornode

import (
	"context"
	"fmt"

	"github.com/rs/zerolog/log"
	contractx "github.com/tanpawarit/chative-tutor/agent/contract"
)

// CommitTurn appends the completed turn to session memory in one call.
// A cancelled turn is never committed.
func CommitTurn(ctx context.Context, in *GraphState) (*GraphState, error) {
	if in == nil || in.Session == nil {
		return nil, fmt.Errorf("%w: graph session is nil", contractx.ErrValidation)
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	in.Turn = in.Session.Memory.Append(contractx.Turn{
		ID:        in.TurnID,
		Role:      contractx.RoleUser,
		Content:   in.Text,
		Answer:    in.Answer,
		Calls:     in.Calls,
		Results:   in.Results,
		Timestamp: in.Now,
	})
	in.TurnID = in.Turn.ID

	log.Debug().
		Str("session_id", in.SessionID).
		Uint64("turn_id", in.TurnID).
		Str("state", "turn_complete").
		Int("calls", len(in.Calls)).
		Msg("orchestrator transition")
	return in, nil
}
