package orchestratornode

import (
	"fmt"

	"github.com/rs/zerolog/log"
	contractx "github.com/tanpawarit/chative-tutor/agent/contract"
)

// ReadMemory reserves the turn id and snapshots the session memory for the
// current message.
func ReadMemory(in *GraphState, retrieveK int) (*GraphState, error) {
	if in == nil || in.Session == nil {
		return nil, fmt.Errorf("%w: graph session is nil", contractx.ErrValidation)
	}

	mem := in.Session.Memory
	in.TurnID = mem.NextID()
	in.Snapshot = mem.Snapshot(in.Text, retrieveK)

	log.Debug().
		Str("session_id", in.SessionID).
		Uint64("turn_id", in.TurnID).
		Int("recent", len(in.Snapshot.Recent)).
		Int("retrieved", len(in.Snapshot.Retrieved)).
		Msg("memory read")
	return in, nil
}
