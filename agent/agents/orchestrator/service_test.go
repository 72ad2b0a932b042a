package orchestrator

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"

	contractx "github.com/tanpawarit/chative-tutor/agent/contract"
	llmx "github.com/tanpawarit/chative-tutor/agent/llm"
	memoryx "github.com/tanpawarit/chative-tutor/agent/memory"
	nodex "github.com/tanpawarit/chative-tutor/agent/nodes"
	parserx "github.com/tanpawarit/chative-tutor/agent/parser"
	sessionx "github.com/tanpawarit/chative-tutor/agent/session"
	statex "github.com/tanpawarit/chative-tutor/agent/state"
	toolx "github.com/tanpawarit/chative-tutor/agent/tool"
	metricsx "github.com/tanpawarit/chative-tutor/pkg/metrics"
)

type fakeModel struct {
	mu        sync.Mutex
	responses []contractx.ModelResponse
	// repeat keeps returning the last response once the script runs out.
	repeat bool
	err    error
	calls  int
	reqs   []contractx.ModelRequest
}

func (f *fakeModel) Generate(ctx context.Context, req contractx.ModelRequest) (contractx.ModelResponse, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	f.reqs = append(f.reqs, req)
	if f.err != nil {
		return contractx.ModelResponse{}, f.err
	}
	idx := f.calls - 1
	if idx >= len(f.responses) {
		if !f.repeat || len(f.responses) == 0 {
			return contractx.ModelResponse{}, errors.New("no fake response left")
		}
		idx = len(f.responses) - 1
	}
	return f.responses[idx], nil
}

func (f *fakeModel) lastRequest() contractx.ModelRequest {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.reqs[len(f.reqs)-1]
}

type fakeSink struct {
	mu    sync.Mutex
	err   error
	turns []contractx.Turn
}

func (f *fakeSink) TurnCompleted(ctx context.Context, sessionID string, turn contractx.Turn) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.turns = append(f.turns, turn)
	return f.err
}

type testEnv struct {
	o        *Orchestrator
	model    *fakeModel
	store    *statex.MemoryStore
	sessions *sessionx.Manager
	metrics  *metricsx.Metrics
}

func newTestEnv(t *testing.T, model *fakeModel, cfg Config, extra ...toolx.Definition) *testEnv {
	t.Helper()

	reg := toolx.NewRegistry()
	book := toolx.NewMemoryGradeBook(
		toolx.Grade{StudentID: "42", Course: "algebra", Score: 93},
	)
	if err := toolx.RegisterBuiltins(reg, book); err != nil {
		t.Fatalf("RegisterBuiltins() error = %v", err)
	}
	for _, def := range extra {
		if err := reg.Register(def); err != nil {
			t.Fatalf("Register(%s) error = %v", def.Name, err)
		}
	}

	m := metricsx.NewMetrics()
	store := statex.NewMemoryStore()
	sessions := sessionx.NewManager(store, memoryx.Config{WindowSize: 4, TokenBudget: 2000}, sessionx.Config{})

	o, err := New(Deps{
		Sessions: sessions,
		Model:    model,
		Parser:   parserx.New(parserx.WithKnownTools(reg.Names)),
		Tools:    toolx.NewExecutor(reg, toolx.ExecutorConfig{}, toolx.WithResultObserver(m.ObserveToolResult)),
		Catalog:  reg,
		Retry:    llmx.RetryPolicy{MaxAttempts: 2},
		Metrics:  m,
	}, cfg)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	return &testEnv{o: o, model: model, store: store, sessions: sessions, metrics: m}
}

func (e *testEnv) memoryLen(t *testing.T, sessionID string) int {
	t.Helper()
	s, err := e.sessions.Acquire(context.Background(), sessionID)
	if err != nil {
		t.Fatalf("Acquire() error = %v", err)
	}
	defer e.sessions.Release(s)
	return s.Memory.Len()
}

func (e *testEnv) turnCount(status contractx.TurnStatus) float64 {
	families, err := e.metrics.Registry().Gather()
	if err != nil {
		return -1
	}
	for _, mf := range families {
		if mf.GetName() != "tutor_turns_total" {
			continue
		}
		for _, m := range mf.GetMetric() {
			for _, l := range m.GetLabel() {
				if l.GetName() == "status" && l.GetValue() == string(status) {
					return m.GetCounter().GetValue()
				}
			}
		}
	}
	return 0
}

func TestHandleMessageInvalidInput(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t, &fakeModel{}, Config{})

	_, err := env.o.HandleMessage(context.Background(), "   ", "hello")
	if !errors.Is(err, ErrInvalidSession) {
		t.Fatalf("expected ErrInvalidSession, got %v", err)
	}

	_, err = env.o.HandleMessage(context.Background(), "s1", "    ")
	if !errors.Is(err, ErrInvalidMessage) {
		t.Fatalf("expected ErrInvalidMessage, got %v", err)
	}
	if env.model.calls != 0 {
		t.Fatalf("expected no model call, got %d", env.model.calls)
	}
}

func TestHandleMessageNoToolPath(t *testing.T) {
	t.Parallel()

	model := &fakeModel{responses: []contractx.ModelResponse{
		{Text: "A prime has exactly two divisors."},
	}}
	env := newTestEnv(t, model, Config{})

	reply, err := env.o.HandleMessage(context.Background(), "session-1", "what is a prime number?")
	if err != nil {
		t.Fatalf("HandleMessage() error = %v", err)
	}
	if reply.Text != "A prime has exactly two divisors." {
		t.Fatalf("unexpected reply: %q", reply.Text)
	}
	if reply.Status != contractx.TurnComplete || reply.Iterations != 1 {
		t.Fatalf("unexpected reply meta: %#v", reply)
	}

	st, err := env.store.Load(context.Background(), "session-1")
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if st.TurnCount() != 1 {
		t.Fatalf("expected one saved turn, got %d", st.TurnCount())
	}
	saved := st.Memory.Window[0]
	if saved.Content != "what is a prime number?" || saved.Answer != reply.Text || saved.ID != reply.TurnID {
		t.Fatalf("unexpected saved turn: %#v", saved)
	}
	if got := env.turnCount(contractx.TurnComplete); got != 1 {
		t.Fatalf("expected one complete turn metric, got %v", got)
	}
}

func TestHandleMessagePromptedToolPath(t *testing.T) {
	t.Parallel()

	model := &fakeModel{responses: []contractx.ModelResponse{
		{Text: `Let me check.
CALL: lookup_grade {"student_id": "42"}`},
		{Text: "You scored 93 in algebra, an A."},
	}}
	sink := &fakeSink{}
	env := newTestEnv(t, model, Config{NativeTools: false})
	env.o.sinks = []contractx.TurnSink{sink}

	reply, err := env.o.HandleMessage(context.Background(), "session-1", "what's my algebra grade?")
	if err != nil {
		t.Fatalf("HandleMessage() error = %v", err)
	}
	if reply.Text != "You scored 93 in algebra, an A." || reply.Iterations != 2 {
		t.Fatalf("unexpected reply: %#v", reply)
	}

	first := model.reqs[0]
	if len(first.Tools) != 0 {
		t.Fatalf("prompted mode must not send native tools, got %d", len(first.Tools))
	}
	if !strings.Contains(first.System, "lookup_grade") || !strings.Contains(first.System, "CALL:") {
		t.Fatalf("system prompt does not describe tools: %q", first.System)
	}

	second := model.lastRequest()
	last := second.Messages[len(second.Messages)-1]
	if last.Role != contractx.RoleUser || !strings.HasPrefix(last.Content, nodex.ResultPrefix) {
		t.Fatalf("expected tool results message, got %#v", last)
	}
	if !strings.Contains(last.Content, `"success":true`) {
		t.Fatalf("expected successful result in transcript: %q", last.Content)
	}

	if len(sink.turns) != 1 {
		t.Fatalf("expected one published turn, got %d", len(sink.turns))
	}
	turn := sink.turns[0]
	if len(turn.Calls) != 1 || len(turn.Results) != 1 {
		t.Fatalf("expected one call and one result, got %#v", turn)
	}
	if turn.Calls[0].Tool != toolx.ToolLookupGrade || turn.Calls[0].Source != contractx.SourcePrompted {
		t.Fatalf("unexpected call: %#v", turn.Calls[0])
	}
	if !turn.Results[0].Success || turn.Results[0].CallID != turn.Calls[0].ID {
		t.Fatalf("unexpected result: %#v", turn.Results[0])
	}
}

func TestHandleMessageNativeToolPath(t *testing.T) {
	t.Parallel()

	model := &fakeModel{responses: []contractx.ModelResponse{
		{Calls: []contractx.NativeCall{
			{ID: "call_a", Name: toolx.ToolMathEvaluate, Arguments: `{"expression":"6*7"}`},
			{ID: "call_b", Name: "no_such_tool", Arguments: `{}`},
		}},
		{Text: "6 times 7 is 42."},
	}}
	env := newTestEnv(t, model, Config{NativeTools: true})

	reply, err := env.o.HandleMessage(context.Background(), "session-1", "what is 6*7?")
	if err != nil {
		t.Fatalf("HandleMessage() error = %v", err)
	}
	if reply.Text != "6 times 7 is 42." {
		t.Fatalf("unexpected reply: %q", reply.Text)
	}
	if len(model.reqs[0].Tools) == 0 {
		t.Fatal("native mode must send tool specs")
	}

	msgs := model.lastRequest().Messages
	if len(msgs) < 3 {
		t.Fatalf("unexpected transcript: %#v", msgs)
	}
	assistant := msgs[len(msgs)-3]
	if assistant.Role != contractx.RoleAssistant || len(assistant.ToolCalls) != 2 {
		t.Fatalf("expected assistant tool call message, got %#v", assistant)
	}
	okMsg, failMsg := msgs[len(msgs)-2], msgs[len(msgs)-1]
	if okMsg.Role != contractx.RoleTool || okMsg.ToolCallID != "call_a" || !strings.Contains(okMsg.Content, `"success":true`) {
		t.Fatalf("unexpected first tool message: %#v", okMsg)
	}
	if failMsg.ToolCallID != "call_b" || !strings.Contains(failMsg.Content, string(contractx.ErrorKindUnknownTool)) {
		t.Fatalf("unknown tool must come back as a result: %#v", failMsg)
	}
}

func TestHandleMessageLoopExceeded(t *testing.T) {
	t.Parallel()

	model := &fakeModel{
		responses: []contractx.ModelResponse{{Text: `CALL: math.evaluate {"expression": "1+1"}`}},
		repeat:    true,
	}
	env := newTestEnv(t, model, Config{MaxIterations: 3})

	reply, err := env.o.HandleMessage(context.Background(), "session-1", "keep going")
	if !errors.Is(err, ErrLoopExceeded) {
		t.Fatalf("expected ErrLoopExceeded, got %v", err)
	}
	if reply.Text != "I was unable to complete that request, please try rephrasing." {
		t.Fatalf("unexpected degraded text: %q", reply.Text)
	}
	if reply.Status != contractx.TurnDegraded {
		t.Fatalf("unexpected status: %s", reply.Status)
	}
	if model.calls != 3 {
		t.Fatalf("expected 3 model calls, got %d", model.calls)
	}
	if n := env.memoryLen(t, "session-1"); n != 0 {
		t.Fatalf("expected nothing persisted, got %d turns", n)
	}
	if _, err := env.store.Load(context.Background(), "session-1"); !errors.Is(err, statex.ErrStateNotFound) {
		t.Fatalf("expected no saved state, got %v", err)
	}
	if got := env.turnCount(contractx.TurnDegraded); got != 1 {
		t.Fatalf("expected one degraded turn metric, got %v", got)
	}
}

func TestHandleMessageModelExhaustion(t *testing.T) {
	t.Parallel()

	model := &fakeModel{err: errors.New("503 service unavailable")}
	env := newTestEnv(t, model, Config{})

	reply, err := env.o.HandleMessage(context.Background(), "session-1", "hello")
	if !errors.Is(err, ErrModelInvoke) {
		t.Fatalf("expected ErrModelInvoke, got %v", err)
	}
	if reply.Status != contractx.TurnServiceError || reply.Text == "" {
		t.Fatalf("expected service error reply, got %#v", reply)
	}
	if model.calls != 2 {
		t.Fatalf("expected 2 attempts, got %d", model.calls)
	}
	if n := env.memoryLen(t, "session-1"); n != 0 {
		t.Fatalf("expected nothing persisted, got %d turns", n)
	}
}

func TestHandleMessageCancelledDuringTools(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	finished := make(chan struct{}, 1)
	slow := toolx.Definition{
		Name:        "cancel_turn",
		Description: "cancels the caller and still completes",
		Handler: func(toolCtx context.Context, args map[string]any) (any, error) {
			cancel()
			if toolCtx.Err() != nil {
				return nil, toolCtx.Err()
			}
			finished <- struct{}{}
			return "done", nil
		},
	}
	model := &fakeModel{responses: []contractx.ModelResponse{
		{Text: "CALL: cancel_turn"},
		{Text: "never used"},
	}}
	env := newTestEnv(t, model, Config{}, slow)

	_, err := env.o.HandleMessage(ctx, "session-1", "go")
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
	select {
	case <-finished:
	default:
		t.Fatal("in-flight tool should finish with a live context")
	}
	if model.calls != 1 {
		t.Fatalf("expected one model call, got %d", model.calls)
	}
	if n := env.memoryLen(t, "session-1"); n != 0 {
		t.Fatalf("expected nothing persisted, got %d turns", n)
	}
}

func TestHandleMessageSinkFailureIsNotFatal(t *testing.T) {
	t.Parallel()

	model := &fakeModel{responses: []contractx.ModelResponse{
		{Text: "first answer"},
		{Text: "second answer"},
	}}
	env := newTestEnv(t, model, Config{})
	env.o.sinks = []contractx.TurnSink{&fakeSink{err: errors.New("publish failed")}}

	first, err := env.o.HandleMessage(context.Background(), "session-1", "first question")
	if err != nil {
		t.Fatalf("HandleMessage() error = %v", err)
	}
	second, err := env.o.HandleMessage(context.Background(), "session-1", "second question")
	if err != nil {
		t.Fatalf("HandleMessage() error = %v", err)
	}
	if second.TurnID <= first.TurnID {
		t.Fatalf("turn ids must increase: %d then %d", first.TurnID, second.TurnID)
	}

	msgs := model.lastRequest().Messages
	if len(msgs) != 3 {
		t.Fatalf("expected previous turn plus new message, got %#v", msgs)
	}
	if msgs[0].Content != "first question" || msgs[1].Content != "first answer" || msgs[2].Content != "second question" {
		t.Fatalf("unexpected context order: %#v", msgs)
	}
}

func TestResetSessionKeepsTurnIDs(t *testing.T) {
	t.Parallel()

	model := &fakeModel{responses: []contractx.ModelResponse{
		{Text: "one"},
		{Text: "two"},
	}}
	env := newTestEnv(t, model, Config{})
	ctx := context.Background()

	first, err := env.o.HandleMessage(ctx, "session-1", "q1")
	if err != nil {
		t.Fatalf("HandleMessage() error = %v", err)
	}
	if err := env.o.ResetSession(ctx, "session-1"); err != nil {
		t.Fatalf("ResetSession() error = %v", err)
	}
	if n := env.memoryLen(t, "session-1"); n != 0 {
		t.Fatalf("expected empty memory after reset, got %d", n)
	}

	second, err := env.o.HandleMessage(ctx, "session-1", "q2")
	if err != nil {
		t.Fatalf("HandleMessage() error = %v", err)
	}
	if second.TurnID <= first.TurnID {
		t.Fatalf("turn ids must not be reused after reset: %d then %d", first.TurnID, second.TurnID)
	}
	if msgs := model.lastRequest().Messages; len(msgs) != 1 {
		t.Fatalf("reset session must not carry history, got %#v", msgs)
	}
}
