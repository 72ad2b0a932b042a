package orchestratornode

import (
	"context"
	"fmt"

	"github.com/rs/zerolog/log"
	contractx "github.com/tanpawarit/chative-tutor/agent/contract"
)

// PublishTurn hands the committed turn to every sink. Sink errors never fail
// the turn.
func PublishTurn(ctx context.Context, in *GraphState, sinks []contractx.TurnSink) (*GraphState, error) {
	if in == nil {
		return nil, fmt.Errorf("%w: graph state is nil", contractx.ErrValidation)
	}

	for _, sink := range sinks {
		if sink == nil {
			continue
		}
		if err := sink.TurnCompleted(ctx, in.SessionID, in.Turn.Clone()); err != nil {
			log.Warn().
				Err(err).
				Str("session_id", in.SessionID).
				Uint64("turn_id", in.TurnID).
				Str("sink", fmt.Sprintf("%T", sink)).
				Msg("turn sink failed")
		}
	}
	return in, nil
}
