package builtin

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/dop251/goja"
	"github.com/nidhogg/skillchat/internal/skill"
)

// CalculatorTimeout bounds a single evaluation.
const CalculatorTimeout = 250 * time.Millisecond

type calculatorInput struct {
	Expression string `json:"expression" jsonschema:"minLength=1,description=Arithmetic expression, e.g. (2 + 3) * sqrt(16) or 2^10"`
}

type calculatorOutput struct {
	Expression string  `json:"expression"`
	Result     float64 `json:"result"`
	Formatted  string  `json:"formatted"`
}

// mathPrelude exposes Math members as bare identifiers.
const mathPrelude = `var sqrt=Math.sqrt, cbrt=Math.cbrt, pow=Math.pow, abs=Math.abs,
sin=Math.sin, cos=Math.cos, tan=Math.tan, asin=Math.asin, acos=Math.acos, atan=Math.atan,
log=Math.log, log10=Math.log10, log2=Math.log2, exp=Math.exp,
floor=Math.floor, ceil=Math.ceil, round=Math.round, trunc=Math.trunc,
min=Math.min, max=Math.max, PI=Math.PI, pi=Math.PI, E=Math.E;`

func calculatorSkill() skill.Config {
	return skill.Config{
		ID:          "calculator",
		Name:        "Calculator",
		Description: "Evaluate arithmetic expressions with + - * / % ^, parentheses and functions like sqrt, pow, sin, log, round, min, max.",
		Keywords:    []string{"math", "calculate", "arithmetic", "expression", "compute", "sum"},
		Tier:        skill.TierCore,
		Category:    skill.CategoryProductivity,
		InputSchema: skill.GenerateSchema[calculatorInput](),
		Executor: skill.ExecutorFunc(func(ctx context.Context, input json.RawMessage) (string, error) {
			var in calculatorInput
			if err := skill.DecodeInput(input, &in); err != nil {
				return "", err
			}
			v, err := Evaluate(ctx, in.Expression)
			if err != nil {
				return "", err
			}
			return result(calculatorOutput{
				Expression: in.Expression,
				Result:     v,
				Formatted:  strconv.FormatFloat(v, 'g', 15, 64),
			})
		}),
	}
}

// Evaluate computes an arithmetic expression in a fresh sandboxed runtime.
// Only digits, identifiers, operators and parentheses are accepted; ^ means
// exponentiation.
func Evaluate(ctx context.Context, expr string) (float64, error) {
	expr = strings.TrimSpace(expr)
	if expr == "" {
		return 0, fmt.Errorf("expression is required")
	}
	for _, r := range expr {
		if !allowedExprRune(r) {
			return 0, fmt.Errorf("unsupported character %q in expression", r)
		}
	}
	expr = strings.ReplaceAll(expr, "^", "**")

	vm := goja.New()
	if _, err := vm.RunString(mathPrelude); err != nil {
		return 0, fmt.Errorf("init calculator: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, CalculatorTimeout)
	defer cancel()
	stop := context.AfterFunc(ctx, func() { vm.Interrupt("evaluation timed out") })
	defer stop()

	val, err := vm.RunString("(" + expr + ")")
	if err != nil {
		return 0, fmt.Errorf("evaluate %q: %w", expr, err)
	}
	f, ok := toFloat(val.Export())
	if !ok {
		return 0, fmt.Errorf("expression %q did not produce a number", expr)
	}
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return 0, fmt.Errorf("expression %q is not a finite number", expr)
	}
	return f, nil
}

func allowedExprRune(r rune) bool {
	switch {
	case r >= '0' && r <= '9', r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z':
		return true
	}
	return strings.ContainsRune(" \t._+-*/%^(),", r)
}

func toFloat(v interface{}) (float64, bool) {
	switch n := v.(type) {
	case int64:
		return float64(n), true
	case float64:
		return n, true
	case int:
		return float64(n), true
	}
	return 0, false
}
