package orchestratornode

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
	contractx "github.com/tanpawarit/chative-tutor/agent/contract"
	llmx "github.com/tanpawarit/chative-tutor/agent/llm"
)

type LoopDeps struct {
	Model  contractx.ChatModel
	Parser contractx.CallParser
	Tools  contractx.ToolRunner
	Retry  llmx.RetryPolicy
	// MaxIterations bounds the model calls of one turn. A call that still
	// asks for tools at the limit ends the turn with ErrLoopExceeded.
	MaxIterations int
	// OnModelCall sees every model attempt.
	OnModelCall func(d time.Duration, err error)
}

// RunToolLoop calls the model until it answers without tool calls. Each
// round's intents run concurrently and their results are appended to the
// transcript for the next call.
func RunToolLoop(ctx context.Context, in *GraphState, deps LoopDeps) (*GraphState, error) {
	if in == nil {
		return nil, fmt.Errorf("%w: graph state is nil", contractx.ErrValidation)
	}
	maxIterations := deps.MaxIterations
	if maxIterations <= 0 {
		maxIterations = 5
	}

	for {
		resp, err := invokeModel(ctx, in, deps)
		if err != nil {
			return nil, err
		}
		in.Iterations++
		transition(in, "model_invoked")

		intents := deps.Parser.FromNative(in.TurnID, resp.Calls)
		native := len(intents) > 0
		residual := resp.Text
		if !native {
			intents, residual = deps.Parser.Parse(in.TurnID, resp.Text)
		}

		if len(intents) == 0 {
			in.Answer = strings.TrimSpace(residual)
			transition(in, "final_answer_detected")
			return in, nil
		}
		if in.Iterations >= maxIterations {
			log.Warn().
				Str("session_id", in.SessionID).
				Uint64("turn_id", in.TurnID).
				Int("iterations", in.Iterations).
				Msg("tool loop limit reached")
			return nil, fmt.Errorf("%w: %d", contractx.ErrLoopExceeded, maxIterations)
		}
		transition(in, "tool_call_detected", intents...)

		// In-flight tools finish even when the turn is cancelled. Each call is
		// still bounded by its own timeout.
		results := deps.Tools.ExecuteAll(context.WithoutCancel(ctx), intents)
		if err := ctx.Err(); err != nil {
			log.Debug().
				Str("session_id", in.SessionID).
				Uint64("turn_id", in.TurnID).
				Int("discarded", len(results)).
				Msg("turn cancelled, tool results discarded")
			return nil, err
		}
		transition(in, "tools_executed")

		in.Calls = append(in.Calls, intents...)
		in.Results = append(in.Results, results...)
		if native {
			in.Messages = append(in.Messages, nativeTranscript(resp, intents, results)...)
		} else {
			in.Messages = append(in.Messages, promptedTranscript(resp.Text, results)...)
		}
	}
}

func invokeModel(ctx context.Context, in *GraphState, deps LoopDeps) (contractx.ModelResponse, error) {
	req := contractx.ModelRequest{
		System:   in.System,
		Tools:    in.Tools,
		Messages: append([]contractx.Message(nil), in.Messages...),
	}

	var resp contractx.ModelResponse
	err := deps.Retry.Do(ctx, func(ctx context.Context) error {
		start := time.Now()
		r, err := deps.Model.Generate(ctx, req)
		if err == nil && strings.TrimSpace(r.Text) == "" && len(r.Calls) == 0 {
			err = fmt.Errorf("model returned an empty response")
		}
		if deps.OnModelCall != nil {
			deps.OnModelCall(time.Since(start), err)
		}
		if err != nil {
			return err
		}
		resp = r
		return nil
	})
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return contractx.ModelResponse{}, ctxErr
		}
		return contractx.ModelResponse{}, fmt.Errorf("%w: %v", contractx.ErrModelInvoke, err)
	}
	return resp, nil
}

func transition(in *GraphState, state string, intents ...contractx.ToolCallIntent) {
	ev := log.Debug().
		Str("session_id", in.SessionID).
		Uint64("turn_id", in.TurnID).
		Str("state", state).
		Int("iteration", in.Iterations)
	if len(intents) > 0 {
		names := make([]string, len(intents))
		for i, it := range intents {
			names[i] = it.Tool
		}
		ev = ev.Strs("tools", names)
	}
	ev.Msg("orchestrator transition")
}
