package orchestrator

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/cloudwego/eino/compose"
	"github.com/rs/zerolog/log"
	contractx "github.com/tanpawarit/chative-tutor/agent/contract"
	llmx "github.com/tanpawarit/chative-tutor/agent/llm"
	nodex "github.com/tanpawarit/chative-tutor/agent/nodes"
	promptx "github.com/tanpawarit/chative-tutor/agent/prompt"
	sessionx "github.com/tanpawarit/chative-tutor/agent/session"
	metricsx "github.com/tanpawarit/chative-tutor/pkg/metrics"
)

var (
	ErrInvalidMessage = contractx.ErrInvalidMessage
	ErrInvalidSession = contractx.ErrInvalidSession
	ErrLoopExceeded   = contractx.ErrLoopExceeded
	ErrModelInvoke    = contractx.ErrModelInvoke
)

// Config is read with the TUTOR prefix.
type Config struct {
	Persona       string `split_words:"true"`
	MaxIterations int    `split_words:"true" default:"5"`
	RetrieveK     int    `split_words:"true" default:"3"`

	DegradedMessage     string `split_words:"true" default:"I was unable to complete that request, please try rephrasing."`
	ServiceErrorMessage string `split_words:"true" default:"The tutor is unavailable right now, please try again in a moment."`

	// NativeTools follows the model backend and is set by the caller.
	NativeTools bool `ignored:"true"`
}

type Deps struct {
	Sessions *sessionx.Manager
	Model    contractx.ChatModel
	Parser   contractx.CallParser
	Tools    contractx.ToolRunner
	Catalog  contractx.ToolCatalog
	Renderer *promptx.Renderer
	Retry    llmx.RetryPolicy
	Sinks    []contractx.TurnSink
	Metrics  *metricsx.Metrics
}

type Orchestrator struct {
	sessions *sessionx.Manager
	model    contractx.ChatModel
	parser   contractx.CallParser
	tools    contractx.ToolRunner
	catalog  contractx.ToolCatalog
	renderer *promptx.Renderer
	retry    llmx.RetryPolicy
	sinks    []contractx.TurnSink
	metrics  *metricsx.Metrics

	graphRunner compose.Runnable[nodex.GraphInput, nodex.GraphOutput]

	cfg Config
	now func() time.Time
}

func New(deps Deps, cfg Config) (*Orchestrator, error) {
	if deps.Sessions == nil {
		return nil, errors.New("session manager is required")
	}
	if deps.Model == nil {
		return nil, errors.New("chat model is required")
	}
	if deps.Parser == nil {
		return nil, errors.New("call parser is required")
	}
	if deps.Tools == nil {
		return nil, errors.New("tool runner is required")
	}
	if deps.Renderer == nil {
		deps.Renderer = promptx.NewRenderer(promptx.LoadPromptSet())
	}

	if cfg.MaxIterations <= 0 {
		cfg.MaxIterations = 5
	}
	if cfg.RetrieveK < 0 {
		cfg.RetrieveK = 0
	}
	if strings.TrimSpace(cfg.DegradedMessage) == "" {
		cfg.DegradedMessage = "I was unable to complete that request, please try rephrasing."
	}
	if strings.TrimSpace(cfg.ServiceErrorMessage) == "" {
		cfg.ServiceErrorMessage = "The tutor is unavailable right now, please try again in a moment."
	}

	o := &Orchestrator{
		sessions: deps.Sessions,
		model:    deps.Model,
		parser:   deps.Parser,
		tools:    deps.Tools,
		catalog:  deps.Catalog,
		renderer: deps.Renderer,
		retry:    deps.Retry,
		sinks:    deps.Sinks,
		metrics:  deps.Metrics,
		cfg:      cfg,
		now:      time.Now,
	}

	graphRunner, err := o.compileHandleMessageGraph(context.Background())
	if err != nil {
		return nil, err
	}
	o.graphRunner = graphRunner

	return o, nil
}

// HandleMessage runs one turn for the session. Loop exhaustion and model
// failure return a user-facing Reply together with the error.
func (o *Orchestrator) HandleMessage(ctx context.Context, sessionID string, text string) (contractx.Reply, error) {
	sessionID, text, err := nodex.NormalizeInput(sessionID, text)
	if err != nil {
		return contractx.Reply{}, err
	}

	sess, err := o.sessions.Acquire(ctx, sessionID)
	if err != nil {
		return contractx.Reply{}, err
	}
	defer o.sessions.Release(sess)

	out, err := o.graphRunner.Invoke(ctx, nodex.GraphInput{
		SessionID: sessionID,
		Text:      text,
		Session:   sess,
	})
	if err != nil {
		reply := o.failureReply(ctx, err)
		if reply.Status != "" {
			o.observeTurn(reply)
		}
		log.Warn().
			Err(err).
			Str("session_id", sessionID).
			Str("status", string(reply.Status)).
			Msg("turn failed")
		return reply, err
	}

	o.observeTurn(out.Reply)
	return out.Reply, nil
}

// ResetSession clears the session history. Turn ids keep increasing.
func (o *Orchestrator) ResetSession(ctx context.Context, sessionID string) error {
	return o.sessions.Reset(ctx, sessionID)
}

func (o *Orchestrator) failureReply(ctx context.Context, err error) contractx.Reply {
	switch {
	case ctx.Err() != nil, errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return contractx.Reply{}
	case errors.Is(err, contractx.ErrLoopExceeded):
		return contractx.Reply{
			Text:       o.cfg.DegradedMessage,
			Status:     contractx.TurnDegraded,
			Iterations: o.cfg.MaxIterations,
		}
	case errors.Is(err, contractx.ErrModelInvoke):
		return contractx.Reply{
			Text:   o.cfg.ServiceErrorMessage,
			Status: contractx.TurnServiceError,
		}
	default:
		return contractx.Reply{}
	}
}

func (o *Orchestrator) observeTurn(reply contractx.Reply) {
	if o.metrics != nil {
		o.metrics.ObserveTurn(reply.Status, reply.Iterations)
	}
}

func (o *Orchestrator) observeModelCall(d time.Duration, err error) {
	if o.metrics != nil {
		o.metrics.ObserveModelCall(d, err)
	}
}
