package tool

import (
	"context"
	"fmt"
	"math"
	"strconv"
	"strings"
	"unicode"

	contractx "github.com/tanpawarit/chative-tutor/agent/contract"
)

const (
	ToolMathEvaluate = "math.evaluate"

	maxExpressionLength = 512
)

type MathEvaluateOutput struct {
	Expression string  `json:"expression"`
	Result     float64 `json:"result"`
}

var mathFunctions = map[string]func(float64) (float64, error){
	"sqrt": func(v float64) (float64, error) {
		if v < 0 {
			return 0, fmt.Errorf("sqrt of negative number")
		}
		return math.Sqrt(v), nil
	},
	"abs":   func(v float64) (float64, error) { return math.Abs(v), nil },
	"round": func(v float64) (float64, error) { return math.Round(v), nil },
	"floor": func(v float64) (float64, error) { return math.Floor(v), nil },
	"ceil":  func(v float64) (float64, error) { return math.Ceil(v), nil },
	"ln": func(v float64) (float64, error) {
		if v <= 0 {
			return 0, fmt.Errorf("ln of non-positive number")
		}
		return math.Log(v), nil
	},
	"log": func(v float64) (float64, error) {
		if v <= 0 {
			return 0, fmt.Errorf("log of non-positive number")
		}
		return math.Log10(v), nil
	},
}

var mathConstants = map[string]float64{
	"pi": math.Pi,
	"e":  math.E,
}

func MathEvaluateDefinition() Definition {
	return Definition{
		Name:        ToolMathEvaluate,
		Description: "Evaluate an arithmetic expression. Supports + - * / % ^, parentheses, sqrt, abs, round, floor, ceil, ln, log, pi and e.",
		Params: map[string]contractx.ParamSpec{
			"expression": {Type: contractx.ParamString, Description: "Expression to evaluate", Required: true},
		},
		Handler: evaluateMathHandler,
	}
}

func evaluateMathHandler(_ context.Context, args map[string]any) (any, error) {
	expression, _ := args["expression"].(string)
	expression = strings.TrimSpace(expression)

	value, err := EvaluateExpression(expression)
	if err != nil {
		return nil, err
	}
	return MathEvaluateOutput{Expression: expression, Result: value}, nil
}

// EvaluateExpression evaluates expression with the usual precedence;
// ^ is right associative.
func EvaluateExpression(expression string) (float64, error) {
	if expression == "" {
		return 0, fmt.Errorf("expression is empty")
	}
	if len(expression) > maxExpressionLength {
		return 0, fmt.Errorf("expression exceeds %d characters", maxExpressionLength)
	}

	p := &exprParser{input: expression}
	value, err := p.expr()
	if err != nil {
		return 0, err
	}
	p.skipSpaces()
	if p.more() {
		return 0, fmt.Errorf("unexpected %q at position %d", p.input[p.pos], p.pos)
	}
	if math.IsInf(value, 0) || math.IsNaN(value) {
		return 0, fmt.Errorf("result is not a finite number")
	}
	return value, nil
}

type exprParser struct {
	input string
	pos   int
}

func (p *exprParser) expr() (float64, error) {
	left, err := p.term()
	if err != nil {
		return 0, err
	}
	for {
		p.skipSpaces()
		switch {
		case p.accept('+'):
			right, err := p.term()
			if err != nil {
				return 0, err
			}
			left += right
		case p.accept('-'):
			right, err := p.term()
			if err != nil {
				return 0, err
			}
			left -= right
		default:
			return left, nil
		}
	}
}

func (p *exprParser) term() (float64, error) {
	left, err := p.power()
	if err != nil {
		return 0, err
	}
	for {
		p.skipSpaces()
		op := byte(0)
		for _, c := range []byte{'*', '/', '%'} {
			if p.accept(c) {
				op = c
				break
			}
		}
		if op == 0 {
			return left, nil
		}
		right, err := p.power()
		if err != nil {
			return 0, err
		}
		switch op {
		case '*':
			left *= right
		case '/':
			if right == 0 {
				return 0, fmt.Errorf("division by zero")
			}
			left /= right
		case '%':
			if right == 0 {
				return 0, fmt.Errorf("modulo by zero")
			}
			left = math.Mod(left, right)
		}
	}
}

func (p *exprParser) power() (float64, error) {
	base, err := p.unary()
	if err != nil {
		return 0, err
	}
	p.skipSpaces()
	if !p.accept('^') {
		return base, nil
	}
	exp, err := p.power()
	if err != nil {
		return 0, err
	}
	return math.Pow(base, exp), nil
}

func (p *exprParser) unary() (float64, error) {
	p.skipSpaces()
	switch {
	case p.accept('+'):
		return p.unary()
	case p.accept('-'):
		v, err := p.unary()
		return -v, err
	}
	return p.primary()
}

func (p *exprParser) primary() (float64, error) {
	p.skipSpaces()
	if p.accept('(') {
		v, err := p.expr()
		if err != nil {
			return 0, err
		}
		p.skipSpaces()
		if !p.accept(')') {
			return 0, fmt.Errorf("missing closing parenthesis at position %d", p.pos)
		}
		return v, nil
	}
	if p.more() && unicode.IsLetter(rune(p.input[p.pos])) {
		return p.identifier()
	}
	return p.number()
}

func (p *exprParser) identifier() (float64, error) {
	start := p.pos
	for p.more() && (unicode.IsLetter(rune(p.input[p.pos])) || unicode.IsDigit(rune(p.input[p.pos]))) {
		p.pos++
	}
	name := strings.ToLower(p.input[start:p.pos])

	if c, ok := mathConstants[name]; ok {
		return c, nil
	}
	fn, ok := mathFunctions[name]
	if !ok {
		return 0, fmt.Errorf("unknown identifier %q at position %d", name, start)
	}
	p.skipSpaces()
	if !p.accept('(') {
		return 0, fmt.Errorf("function %s requires parentheses", name)
	}
	arg, err := p.expr()
	if err != nil {
		return 0, err
	}
	p.skipSpaces()
	if !p.accept(')') {
		return 0, fmt.Errorf("missing closing parenthesis for %s", name)
	}
	return fn(arg)
}

func (p *exprParser) number() (float64, error) {
	start := p.pos
	seenDot := false
	for p.more() {
		c := p.input[p.pos]
		if c == '.' {
			if seenDot {
				return 0, fmt.Errorf("invalid number format at position %d", p.pos)
			}
			seenDot = true
		} else if c < '0' || c > '9' {
			break
		}
		p.pos++
	}
	raw := p.input[start:p.pos]
	if raw == "" || raw == "." {
		return 0, fmt.Errorf("expected number at position %d", start)
	}
	v, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid number %q: %w", raw, err)
	}
	return v, nil
}

func (p *exprParser) skipSpaces() {
	for p.more() && unicode.IsSpace(rune(p.input[p.pos])) {
		p.pos++
	}
}

func (p *exprParser) more() bool {
	return p.pos < len(p.input)
}

func (p *exprParser) accept(c byte) bool {
	if p.more() && p.input[p.pos] == c {
		p.pos++
		return true
	}
	return false
}
