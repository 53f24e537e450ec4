package signal

import (
	"math"
	"strings"

	"github.com/seenimoa/backtrail/pkg/models"
)

// ════════════════════════════════════════════════════════════════════
// Condition evaluation
// ════════════════════════════════════════════════════════════════════

// EvalCondition evaluates a condition node to a bar-aligned bool
// series. Comparisons involving NaN are false; warmup bars therefore
// never fire a rule.
func (c *Context) EvalCondition(cond *models.Condition) ([]bool, error) {
	if cond == nil {
		return nil, models.NewValidationError("nil condition node")
	}

	switch cond.Type {
	case models.ConditionComparison:
		return c.evalComparison(cond)

	case models.ConditionAnd:
		return c.evalJunction(cond, true)

	case models.ConditionOr:
		return c.evalJunction(cond, false)

	case models.ConditionNot:
		inner, err := c.EvalCondition(cond.Condition)
		if err != nil {
			return nil, err
		}
		out := make([]bool, len(inner))
		for i, v := range inner {
			out[i] = !v
		}
		return out, nil

	case models.ConditionExpr:
		series, err := c.EvalSignal(&models.Signal{Type: models.SignalExpr, Formula: cond.Formula})
		if err != nil {
			return nil, err
		}
		out := make([]bool, len(series))
		for i, v := range series {
			out[i] = !math.IsNaN(v) && v != 0
		}
		return out, nil

	case models.ConditionAlways:
		out := make([]bool, c.n())
		for i := range out {
			out[i] = true
		}
		return out, nil

	case models.ConditionRef:
		return c.evalConditionRef(cond.Ref)

	default:
		return nil, models.NewValidationError("unknown condition type %q", cond.Type)
	}
}

// EvalConditionAt evaluates a condition at a single bar index. Used by
// the runner for portfolio-referencing rules, where each bar sees a
// fresh portfolio scalar; non-portfolio sub-signals still hit the cache.
func (c *Context) EvalConditionAt(cond *models.Condition, i int) (bool, error) {
	series, err := c.EvalCondition(cond)
	if err != nil {
		return false, err
	}
	if i < 0 || i >= len(series) {
		return false, models.NewDataError("condition index out of range")
	}
	return series[i], nil
}

func (c *Context) evalComparison(cond *models.Condition) ([]bool, error) {
	left, err := c.EvalSignal(cond.Left)
	if err != nil {
		return nil, err
	}
	right, err := c.EvalSignal(cond.Right)
	if err != nil {
		return nil, err
	}

	op := cond.Op
	if op == "=" {
		op = models.OpEQ
	}
	cmp, err := comparator(op)
	if err != nil {
		return nil, err
	}

	out := make([]bool, len(left))
	for i := range out {
		a, b := left[i], right[i]
		if math.IsNaN(a) || math.IsNaN(b) {
			continue
		}
		out[i] = cmp(a, b)
	}
	return out, nil
}

func comparator(op string) (func(a, b float64) bool, error) {
	switch op {
	case models.OpLT:
		return func(a, b float64) bool { return a < b }, nil
	case models.OpLE:
		return func(a, b float64) bool { return a <= b }, nil
	case models.OpEQ:
		return func(a, b float64) bool { return a == b }, nil
	case models.OpGE:
		return func(a, b float64) bool { return a >= b }, nil
	case models.OpGT:
		return func(a, b float64) bool { return a > b }, nil
	case models.OpNE:
		return func(a, b float64) bool { return a != b }, nil
	default:
		return nil, models.NewValidationError("unknown comparison operator %q", op)
	}
}

func (c *Context) evalJunction(cond *models.Condition, isAnd bool) ([]bool, error) {
	if len(cond.Conditions) == 0 {
		return nil, models.NewValidationError("%s condition needs at least one operand", cond.Type)
	}
	var acc []bool
	for _, sub := range cond.Conditions {
		series, err := c.EvalCondition(sub)
		if err != nil {
			return nil, err
		}
		if acc == nil {
			acc = make([]bool, len(series))
			copy(acc, series)
			continue
		}
		for i := range acc {
			if isAnd {
				acc[i] = acc[i] && series[i]
			} else {
				acc[i] = acc[i] || series[i]
			}
		}
	}
	return acc, nil
}

func (c *Context) evalConditionRef(ref string) ([]bool, error) {
	name, ok := strings.CutPrefix(ref, "#/conditions/")
	if !ok {
		return nil, models.NewValidationError("malformed condition $ref %q", ref)
	}
	if c.Library == nil || c.Library.Conditions[name] == nil {
		return nil, models.NewValidationError("condition $ref %q: no such condition", ref)
	}
	guard := "conditions/" + name
	if c.resolving[guard] {
		return nil, models.NewValidationError("condition $ref cycle through %q", name)
	}
	c.resolving[guard] = true
	defer delete(c.resolving, guard)
	return c.EvalCondition(c.Library.Conditions[name])
}

// ════════════════════════════════════════════════════════════════════
// Portfolio dependence
// ════════════════════════════════════════════════════════════════════

// DependsOnPortfolio reports whether evaluating cond reads portfolio
// state. The runner pre-evaluates independent rules once and defers
// dependent ones to per-bar evaluation. Unresolvable refs count as
// independent; validation reports them properly elsewhere.
func DependsOnPortfolio(cond *models.Condition, strat *models.Strategy) bool {
	return condUsesPortfolio(cond, strat, make(map[string]bool))
}

func condUsesPortfolio(cond *models.Condition, strat *models.Strategy, seen map[string]bool) bool {
	if cond == nil {
		return false
	}
	switch cond.Type {
	case models.ConditionComparison:
		return sigUsesPortfolio(cond.Left, strat, seen) || sigUsesPortfolio(cond.Right, strat, seen)
	case models.ConditionAnd, models.ConditionOr:
		for _, sub := range cond.Conditions {
			if condUsesPortfolio(sub, strat, seen) {
				return true
			}
		}
	case models.ConditionNot:
		return condUsesPortfolio(cond.Condition, strat, seen)
	case models.ConditionRef:
		name, ok := strings.CutPrefix(cond.Ref, "#/conditions/")
		if !ok || strat == nil || seen["c:"+name] {
			return false
		}
		seen["c:"+name] = true
		return condUsesPortfolio(strat.Conditions[name], strat, seen)
	}
	return false
}

func sigUsesPortfolio(s *models.Signal, strat *models.Strategy, seen map[string]bool) bool {
	if s == nil {
		return false
	}
	switch s.Type {
	case models.SignalPortfolio:
		return true
	case models.SignalRef:
		name, ok := strings.CutPrefix(s.Ref, "#/signals/")
		if !ok || strat == nil || seen["s:"+name] {
			return false
		}
		seen["s:"+name] = true
		return sigUsesPortfolio(strat.Signals[name], strat, seen)
	}
	return false
}
