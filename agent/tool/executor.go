package tool

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"maps"
	"strconv"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/rs/zerolog/log"
	"github.com/sourcegraph/conc/iter"
	contractx "github.com/tanpawarit/chative-tutor/agent/contract"
	"github.com/xeipuuv/gojsonschema"
)

type ExecutorConfig struct {
	Timeout        time.Duration `split_words:"true" default:"10s"`
	MaxOutputBytes int           `split_words:"true" default:"10240"`
}

// Executor validates intents against the registry and runs their handlers.
// It never returns an error: every failure becomes a failed ToolResult.
type Executor struct {
	registry  *Registry
	timeout   time.Duration
	maxOutput int
	observe   func(contractx.ToolResult)
}

type ExecutorOption func(*Executor)

// WithResultObserver registers fn to see every finished call.
func WithResultObserver(fn func(contractx.ToolResult)) ExecutorOption {
	return func(e *Executor) {
		e.observe = fn
	}
}

var _ contractx.ToolRunner = (*Executor)(nil)

func NewExecutor(registry *Registry, cfg ExecutorConfig, opts ...ExecutorOption) *Executor {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	maxOutput := cfg.MaxOutputBytes
	if maxOutput <= 0 {
		maxOutput = 10 * 1024
	}
	e := &Executor{
		registry:  registry,
		timeout:   timeout,
		maxOutput: maxOutput,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(e)
		}
	}
	return e
}

type outcome struct {
	out any
	err error
}

func (e *Executor) Execute(ctx context.Context, intent contractx.ToolCallIntent) contractx.ToolResult {
	res := e.execute(ctx, intent)
	if e.observe != nil {
		e.observe(res)
	}
	return res
}

func (e *Executor) execute(ctx context.Context, intent contractx.ToolCallIntent) contractx.ToolResult {
	start := time.Now()
	res := contractx.ToolResult{CallID: intent.ID, Tool: intent.Tool}

	ent, err := e.registry.lookup(intent.Tool)
	if err != nil {
		return e.fail(res, start, err)
	}

	args := maps.Clone(intent.Args)
	if args == nil {
		args = map[string]any{}
	}
	if intent.Source == contractx.SourcePrompted {
		coerceArgs(args, ent.def.Params)
	}
	if err := validateArgs(ent.schema, args); err != nil {
		return e.fail(res, start, err)
	}

	timeout := ent.def.Timeout
	if timeout <= 0 {
		timeout = e.timeout
	}
	runCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	done := make(chan outcome, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				done <- outcome{err: fmt.Errorf("%w: handler panic: %v", contractx.ErrToolExecution, r)}
			}
		}()
		out, err := ent.def.Handler(runCtx, args)
		done <- outcome{out: out, err: err}
	}()

	select {
	case o := <-done:
		if o.err != nil {
			if errors.Is(o.err, context.DeadlineExceeded) && errors.Is(runCtx.Err(), context.DeadlineExceeded) && ctx.Err() == nil {
				return e.fail(res, start, fmt.Errorf("%w: after %s", contractx.ErrToolTimeout, timeout))
			}
			if !errors.Is(o.err, contractx.ErrTool) {
				o.err = fmt.Errorf("%w: %v", contractx.ErrToolExecution, o.err)
			}
			return e.fail(res, start, o.err)
		}
		res.Success = true
		res.Output, res.Truncated = e.truncate(o.out)
		res.Duration = time.Since(start)
		log.Debug().
			Str("tool", intent.Tool).
			Str("call_id", intent.ID).
			Dur("duration", res.Duration).
			Bool("truncated", res.Truncated).
			Msg("tool execution completed")
		return res
	case <-runCtx.Done():
		if ctx.Err() != nil {
			return e.fail(res, start, fmt.Errorf("%w: %v", contractx.ErrToolExecution, ctx.Err()))
		}
		return e.fail(res, start, fmt.Errorf("%w: after %s", contractx.ErrToolTimeout, timeout))
	}
}

// ExecuteAll runs independent intents concurrently. Results keep intent order.
func (e *Executor) ExecuteAll(ctx context.Context, intents []contractx.ToolCallIntent) []contractx.ToolResult {
	mapper := iter.Mapper[contractx.ToolCallIntent, contractx.ToolResult]{MaxGoroutines: len(intents)}
	return mapper.Map(intents, func(intent *contractx.ToolCallIntent) contractx.ToolResult {
		return e.Execute(ctx, *intent)
	})
}

func (e *Executor) fail(res contractx.ToolResult, start time.Time, err error) contractx.ToolResult {
	res.Success = false
	res.Error = err.Error()
	res.ErrorKind = contractx.KindOf(err)
	res.Duration = time.Since(start)

	log.Warn().
		Str("tool", res.Tool).
		Str("call_id", res.CallID).
		Str("kind", string(res.ErrorKind)).
		Dur("duration", res.Duration).
		Err(err).
		Msg("tool execution failed")
	return res
}

func (e *Executor) truncate(output any) (any, bool) {
	var str string
	switch v := output.(type) {
	case nil:
		return nil, false
	case string:
		str = v
	default:
		raw, err := json.Marshal(v)
		if err != nil {
			str = fmt.Sprintf("%v", v)
		} else {
			str = string(raw)
		}
	}
	if len(str) <= e.maxOutput {
		return output, false
	}
	cut := e.maxOutput
	for cut > 0 && !utf8.RuneStart(str[cut]) {
		cut--
	}
	return str[:cut] + "\n... [output truncated]", true
}

func validateArgs(s *gojsonschema.Schema, args map[string]any) error {
	if s == nil {
		return nil
	}
	result, err := s.Validate(gojsonschema.NewGoLoader(args))
	if err != nil {
		return fmt.Errorf("%w: %v", contractx.ErrArgumentValidation, err)
	}
	if result.Valid() {
		return nil
	}
	msgs := make([]string, 0, len(result.Errors()))
	for _, re := range result.Errors() {
		msgs = append(msgs, re.String())
	}
	return fmt.Errorf("%w: %s", contractx.ErrArgumentValidation, strings.Join(msgs, "; "))
}

// coerceArgs converts loosely typed string values from prompted calls into
// the declared parameter types. Values that do not convert are left as is so
// validation reports them.
func coerceArgs(args map[string]any, params map[string]contractx.ParamSpec) {
	for name, raw := range args {
		s, ok := raw.(string)
		if !ok {
			continue
		}
		spec, ok := params[name]
		if !ok {
			continue
		}
		s = strings.TrimSpace(s)
		switch spec.Type {
		case contractx.ParamInteger:
			if v, err := strconv.ParseInt(s, 10, 64); err == nil {
				args[name] = v
			}
		case contractx.ParamNumber:
			if v, err := strconv.ParseFloat(s, 64); err == nil {
				args[name] = v
			}
		case contractx.ParamBoolean:
			if v, err := strconv.ParseBool(s); err == nil {
				args[name] = v
			}
		case contractx.ParamObject, contractx.ParamArray:
			var v any
			if err := json.Unmarshal([]byte(s), &v); err == nil {
				args[name] = v
			}
		}
	}
}
