package orchestrator

import (
	"context"
	"fmt"

	"github.com/cloudwego/eino/compose"
	nodex "github.com/tanpawarit/chative-tutor/agent/nodes"
)

func (o *Orchestrator) compileHandleMessageGraph(
	ctx context.Context,
) (compose.Runnable[nodex.GraphInput, nodex.GraphOutput], error) {
	graph := compose.NewGraph[nodex.GraphInput, nodex.GraphOutput]()

	if err := graph.AddLambdaNode("validate_request",
		compose.InvokableLambda(func(ctx context.Context, in nodex.GraphInput) (*nodex.GraphState, error) {
			return nodex.ValidateRequest(in, o.now)
		}),
	); err != nil {
		return nil, fmt.Errorf("add node validate_request: %w", err)
	}

	if err := graph.AddLambdaNode("read_memory",
		compose.InvokableLambda(func(ctx context.Context, in *nodex.GraphState) (*nodex.GraphState, error) {
			return nodex.ReadMemory(in, o.cfg.RetrieveK)
		}),
	); err != nil {
		return nil, fmt.Errorf("add node read_memory: %w", err)
	}

	if err := graph.AddLambdaNode("build_prompt",
		compose.InvokableLambda(func(ctx context.Context, in *nodex.GraphState) (*nodex.GraphState, error) {
			return nodex.BuildPrompt(ctx, in, nodex.PromptDeps{
				Renderer: o.renderer,
				Catalog:  o.catalog,
				Persona:  o.cfg.Persona,
				Native:   o.cfg.NativeTools,
			})
		}),
	); err != nil {
		return nil, fmt.Errorf("add node build_prompt: %w", err)
	}

	if err := graph.AddLambdaNode("run_tool_loop",
		compose.InvokableLambda(func(ctx context.Context, in *nodex.GraphState) (*nodex.GraphState, error) {
			return nodex.RunToolLoop(ctx, in, nodex.LoopDeps{
				Model:         o.model,
				Parser:        o.parser,
				Tools:         o.tools,
				Retry:         o.retry,
				MaxIterations: o.cfg.MaxIterations,
				OnModelCall:   o.observeModelCall,
			})
		}),
	); err != nil {
		return nil, fmt.Errorf("add node run_tool_loop: %w", err)
	}

	if err := graph.AddLambdaNode("commit_turn",
		compose.InvokableLambda(func(ctx context.Context, in *nodex.GraphState) (*nodex.GraphState, error) {
			return nodex.CommitTurn(ctx, in)
		}),
	); err != nil {
		return nil, fmt.Errorf("add node commit_turn: %w", err)
	}

	if err := graph.AddLambdaNode("save_session",
		compose.InvokableLambda(func(ctx context.Context, in *nodex.GraphState) (*nodex.GraphState, error) {
			return nodex.SaveSession(ctx, in, o.sessions)
		}),
	); err != nil {
		return nil, fmt.Errorf("add node save_session: %w", err)
	}

	if err := graph.AddLambdaNode("publish_turn",
		compose.InvokableLambda(func(ctx context.Context, in *nodex.GraphState) (*nodex.GraphState, error) {
			return nodex.PublishTurn(ctx, in, o.sinks)
		}),
	); err != nil {
		return nil, fmt.Errorf("add node publish_turn: %w", err)
	}

	if err := graph.AddLambdaNode("finalize_reply",
		compose.InvokableLambda(func(ctx context.Context, in *nodex.GraphState) (nodex.GraphOutput, error) {
			return nodex.FinalizeReply(in)
		}),
	); err != nil {
		return nil, fmt.Errorf("add node finalize_reply: %w", err)
	}

	edges := [][2]string{
		{compose.START, "validate_request"},
		{"validate_request", "read_memory"},
		{"read_memory", "build_prompt"},
		{"build_prompt", "run_tool_loop"},
		{"run_tool_loop", "commit_turn"},
		{"commit_turn", "save_session"},
		{"save_session", "publish_turn"},
		{"publish_turn", "finalize_reply"},
		{"finalize_reply", compose.END},
	}

	for _, edge := range edges {
		if err := graph.AddEdge(edge[0], edge[1]); err != nil {
			return nil, fmt.Errorf("add edge %s->%s: %w", edge[0], edge[1], err)
		}
	}

	runner, err := graph.Compile(ctx, compose.WithGraphName("orchestrator.handle_message"))
	if err != nil {
		return nil, fmt.Errorf("compile orchestrator graph: %w", err)
	}
	return runner, nil
}
