package orchestratornode

import (
	"fmt"

	contractx "github.com/tanpawarit/chative-tutor/agent/contract"
)

func FinalizeReply(in *GraphState) (GraphOutput, error) {
	if in == nil {
		return GraphOutput{}, fmt.Errorf("%w: graph state is nil", contractx.ErrValidation)
	}

	return GraphOutput{
		Reply: contractx.Reply{
			Text:       in.Answer,
			TurnID:     in.TurnID,
			Status:     contractx.TurnComplete,
			Iterations: in.Iterations,
		},
		Turn: in.Turn,
	}, nil
}
