package expr

import (
	"math"

	"github.com/seenimoa/backtrail/pkg/models"
)

// ════════════════════════════════════════════════════════════════════
// Evaluator
// ════════════════════════════════════════════════════════════════════
//
// Every expression evaluates to a bar-aligned []float64. Boolean
// results encode as 0/1; NaN propagates through arithmetic, compares
// as false, and counts as false inside and/or/not.

// Env supplies the data an expression references. Implementations live
// with the signal evaluator, which owns bars, parameters and the
// indicator registry.
type Env interface {
	// Len returns the number of bars.
	Len() int
	// Column returns a price series by name, false if unknown.
	Column(name string) ([]float64, bool)
	// Param returns a strategy parameter value, false if unknown.
	Param(name string) (float64, bool)
	// Indicator computes an indicator component with positional args.
	Indicator(name string, args []float64, component string) ([]float64, error)
}

// Eval evaluates a parsed expression against env.
func Eval(node Node, env Env) ([]float64, error) {
	e := &evaluator{env: env}
	return e.eval(node)
}

// EvalFormula parses and evaluates a formula in one step.
func EvalFormula(formula string, env Env) ([]float64, error) {
	node, err := Parse(formula)
	if err != nil {
		return nil, err
	}
	return Eval(node, env)
}

type evaluator struct {
	env Env
}

func (e *evaluator) eval(node Node) ([]float64, error) {
	switch n := node.(type) {
	case *NumberLiteral:
		return e.broadcast(n.Value), nil

	case *Identifier:
		if series, ok := e.env.Column(n.Name); ok {
			return series, nil
		}
		if v, ok := e.env.Param(n.Name); ok {
			return e.broadcast(v), nil
		}
		return nil, e.errorf(n.Position, "unknown identifier %q", n.Name)

	case *Call:
		args := make([]float64, len(n.Args))
		for i, argNode := range n.Args {
			v, err := e.evalScalar(argNode)
			if err != nil {
				return nil, err
			}
			args[i] = v
		}
		series, err := e.env.Indicator(n.Name, args, n.Component)
		if err != nil {
			if _, ok := err.(*models.ExpressionError); ok {
				return nil, err
			}
			return nil, e.errorf(n.Position, "%v", err)
		}
		return series, nil

	case *OffsetExpr:
		inner, err := e.eval(n.Expr)
		if err != nil {
			return nil, err
		}
		return shift(inner, n.Bars), nil

	case *UnaryExpr:
		inner, err := e.eval(n.Operand)
		if err != nil {
			return nil, err
		}
		out := make([]float64, len(inner))
		if n.Op == "not" {
			for i, v := range inner {
				out[i] = boolToFloat(!truthy(v))
			}
			return out, nil
		}
		for i, v := range inner {
			out[i] = -v
		}
		return out, nil

	case *BinaryExpr:
		left, err := e.eval(n.Left)
		if err != nil {
			return nil, err
		}
		right, err := e.eval(n.Right)
		if err != nil {
			return nil, err
		}
		return e.combine(n, left, right)

	default:
		return nil, e.errorf(node.Pos(), "unsupported node %T", node)
	}
}

// evalScalar evaluates indicator-call arguments, which must be
// bar-independent: literals, parameters, and arithmetic over them.
func (e *evaluator) evalScalar(node Node) (float64, error) {
	switch n := node.(type) {
	case *NumberLiteral:
		return n.Value, nil
	case *Identifier:
		if v, ok := e.env.Param(n.Name); ok {
			return v, nil
		}
		return 0, e.errorf(n.Position, "indicator argument %q is not a parameter", n.Name)
	case *UnaryExpr:
		if n.Op != "-" {
			return 0, e.errorf(n.Position, "indicator arguments must be constant")
		}
		v, err := e.evalScalar(n.Operand)
		return -v, err
	case *BinaryExpr:
		l, err := e.evalScalar(n.Left)
		if err != nil {
			return 0, err
		}
		r, err := e.evalScalar(n.Right)
		if err != nil {
			return 0, err
		}
		switch n.Op {
		case "+":
			return l + r, nil
		case "-":
			return l - r, nil
		case "*":
			return l * r, nil
		case "/":
			if r == 0 {
				return math.NaN(), nil
			}
			return l / r, nil
		}
		return 0, e.errorf(n.Position, "indicator arguments must be constant")
	default:
		return 0, e.errorf(node.Pos(), "indicator arguments must be constant")
	}
}

func (e *evaluator) combine(n *BinaryExpr, left, right []float64) ([]float64, error) {
	out := make([]float64, len(left))
	switch n.Op {
	case "+":
		for i := range out {
			out[i] = left[i] + right[i]
		}
	case "-":
		for i := range out {
			out[i] = left[i] - right[i]
		}
	case "*":
		for i := range out {
			out[i] = left[i] * right[i]
		}
	case "/":
		for i := range out {
			if right[i] == 0 {
				out[i] = math.NaN()
			} else {
				out[i] = left[i] / right[i]
			}
		}
	case ">", ">=", "<", "<=", "==", "!=":
		for i := range out {
			out[i] = boolToFloat(compare(n.Op, left[i], right[i]))
		}
	case "and":
		for i := range out {
			out[i] = boolToFloat(truthy(left[i]) && truthy(right[i]))
		}
	case "or":
		for i := range out {
			out[i] = boolToFloat(truthy(left[i]) || truthy(right[i]))
		}
	default:
		return nil, e.errorf(n.Position, "unknown operator %q", n.Op)
	}
	return out, nil
}

// compare returns false whenever either operand is NaN; "!=" included,
// matching IEEE semantics where NaN compares unordered.
func compare(op string, a, b float64) bool {
	if math.IsNaN(a) || math.IsNaN(b) {
		return false
	}
	switch op {
	case ">":
		return a > b
	case ">=":
		return a >= b
	case "<":
		return a < b
	case "<=":
		return a <= b
	case "==":
		return a == b
	case "!=":
		return a != b
	}
	return false
}

func truthy(v float64) bool {
	return !math.IsNaN(v) && v != 0
}

func boolToFloat(b bool) float64 {
	if b {
		return 1
	}
	return 0
}

func shift(series []float64, bars int) []float64 {
	if bars == 0 {
		return series
	}
	out := models.NaNSeries(len(series))
	for i := bars; i < len(series); i++ {
		out[i] = series[i-bars]
	}
	return out
}

func (e *evaluator) broadcast(v float64) []float64 {
	out := make([]float64, e.env.Len())
	for i := range out {
		out[i] = v
	}
	return out
}

func (e *evaluator) errorf(pos Pos, format string, args ...any) error {
	return models.NewExpressionError(pos.Line, pos.Column, format, args...)
}
