package contract

import (
	"errors"
	"fmt"
)

var (
	ErrModelInvoke    = errors.New("model invoke failed")
	ErrValidation     = errors.New("validation failed")
	ErrInvalidMessage = errors.New("message is empty")
	ErrInvalidSession = errors.New("session id is empty")
	ErrLoopExceeded   = errors.New("tool loop exceeded max iterations")
)

// Parse failures. Both are recovered by the parser and never reach callers.
var (
	ErrParse         = errors.New("tool call parse failed")
	ErrMalformedCall = fmt.Errorf("%w: malformed call", ErrParse)
	ErrAmbiguousCall = fmt.Errorf("%w: ambiguous call", ErrParse)
)

// Tool failures. Apart from ErrDuplicateTool they surface as failed ToolResults.
var (
	ErrTool               = errors.New("tool error")
	ErrDuplicateTool      = fmt.Errorf("%w: duplicate tool", ErrTool)
	ErrUnknownTool        = fmt.Errorf("%w: unknown tool", ErrTool)
	ErrArgumentValidation = fmt.Errorf("%w: argument validation failed", ErrTool)
	ErrToolTimeout        = fmt.Errorf("%w: execution timed out", ErrTool)
	ErrToolExecution      = fmt.Errorf("%w: execution failed", ErrTool)
)

// ErrorKind names a ToolResult failure class so the model can react to it.
type ErrorKind string

const (
	ErrorKindNone               ErrorKind = ""
	ErrorKindUnknownTool        ErrorKind = "unknown_tool"
	ErrorKindArgumentValidation ErrorKind = "argument_validation"
	ErrorKindTimeout            ErrorKind = "timeout"
	ErrorKindExecution          ErrorKind = "execution"
)

// KindOf maps a tool error to its ErrorKind.
func KindOf(err error) ErrorKind {
	switch {
	case err == nil:
		return ErrorKindNone
	case errors.Is(err, ErrUnknownTool):
		return ErrorKindUnknownTool
	case errors.Is(err, ErrArgumentValidation):
		return ErrorKindArgumentValidation
	case errors.Is(err, ErrToolTimeout):
		return ErrorKindTimeout
	default:
		return ErrorKindExecution
	}
}
