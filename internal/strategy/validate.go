// Package strategy loads, validates, and catalogs declarative strategy
// definitions. Validation runs before any bar loop so malformed trees
// fail fast instead of mid-run.
package strategy

import (
	"strings"

	"github.com/seenimoa/backtrail/pkg/models"
)

// Validate checks the structural integrity of a strategy tree: required
// identity fields, a well-formed universe, at least one complete rule,
// known node types, resolvable references, and reference acyclicity.
func Validate(s *models.Strategy) error {
	if s == nil {
		return models.NewValidationError("nil strategy")
	}
	if s.Info.ID == "" || s.Info.Name == "" || s.Info.Version == "" {
		return models.NewValidationError("strategy info needs id, name, and version")
	}
	if err := validateUniverse(s.Universe, s); err != nil {
		return err
	}
	if len(s.Rules) == 0 {
		return models.NewValidationError("strategy has no rules")
	}
	for _, rule := range s.Rules {
		if rule == nil || rule.Name == "" {
			return models.NewValidationError("rule without a name")
		}
		if rule.When == nil || rule.Then == nil {
			return models.NewValidationError("rule %q needs both when and then", rule.Name)
		}
		if err := validateCondition(rule.When, s); err != nil {
			return err
		}
		if err := validateAction(rule.Name, rule.Then); err != nil {
			return err
		}
	}
	for name, sig := range s.Signals {
		if sig == nil {
			return models.NewValidationError("named signal %q is empty", name)
		}
		if err := validateSignal(sig, s); err != nil {
			return err
		}
	}
	for name, cond := range s.Conditions {
		if cond == nil {
			return models.NewValidationError("named condition %q is empty", name)
		}
		if err := validateCondition(cond, s); err != nil {
			return err
		}
	}
	if err := checkRefCycles(s); err != nil {
		return err
	}
	return validateConstraints(s.Constraints)
}

func validateUniverse(u *models.Universe, s *models.Strategy) error {
	if u == nil {
		return models.NewValidationError("strategy has no universe")
	}
	switch u.Type {
	case models.UniverseStatic:
		if len(u.Symbols) == 0 {
			return models.NewValidationError("static universe has no symbols")
		}
	case models.UniverseIndex:
		if u.Index == "" {
			return models.NewValidationError("index universe needs an index name")
		}
	case models.UniverseScreener:
		if u.Base == nil {
			return models.NewValidationError("screener universe needs a base")
		}
		if err := validateUniverse(u.Base, s); err != nil {
			return err
		}
		for _, f := range u.Filters {
			if err := validateCondition(f, s); err != nil {
				return err
			}
		}
		if u.RankBy != nil {
			if err := validateSignal(u.RankBy, s); err != nil {
				return err
			}
			if u.Order != "" && u.Order != "asc" && u.Order != "desc" {
				return models.NewValidationError("screener order %q, want asc or desc", u.Order)
			}
		}
	case models.UniverseDual:
		if u.Long == nil || u.Short == nil {
			return models.NewValidationError("dual universe needs both long and short sides")
		}
		if err := validateUniverse(u.Long, s); err != nil {
			return err
		}
		return validateUniverse(u.Short, s)
	default:
		return models.NewValidationError("unknown universe type %q", u.Type)
	}
	return nil
}

func validateSignal(sig *models.Signal, s *models.Strategy) error {
	switch sig.Type {
	case models.SignalPrice:
		if sig.Offset < 0 {
			return models.NewValidationError("price offset must be >= 0, got %d", sig.Offset)
		}
	case models.SignalIndicator:
		if sig.Name == "" {
			return models.NewValidationError("indicator signal needs a name")
		}
	case models.SignalConstant:
		if sig.Value == nil && sig.Param == "" {
			return models.NewValidationError("constant signal needs a value or a param")
		}
	case models.SignalCalendar:
		if sig.Field == "" {
			return models.NewValidationError("calendar signal needs a field")
		}
	case models.SignalEvent:
		if sig.Event == "" {
			return models.NewValidationError("event signal needs an event type")
		}
	case models.SignalPortfolio:
		if sig.Metric == "" {
			return models.NewValidationError("portfolio signal needs a metric")
		}
	case models.SignalFundamental:
		if sig.Metric == "" {
			return models.NewValidationError("fundamental signal needs a metric")
		}
	case models.SignalExternal:
		if sig.Source == "" || sig.Key == "" {
			return models.NewValidationError("external signal needs source and key")
		}
	case models.SignalExpr:
		if sig.Formula == "" {
			return models.NewValidationError("expr signal needs a formula")
		}
	case models.SignalRef:
		name, ok := strings.CutPrefix(sig.Ref, "#/signals/")
		if !ok {
			return models.NewValidationError("malformed signal $ref %q", sig.Ref)
		}
		if s.Signals[name] == nil {
			return models.NewValidationError("signal $ref %q: no such signal", sig.Ref)
		}
	default:
		return models.NewValidationError("unknown signal type %q", sig.Type)
	}
	return nil
}

func validateCondition(cond *models.Condition, s *models.Strategy) error {
	switch cond.Type {
	case models.ConditionComparison:
		if cond.Left == nil || cond.Right == nil {
			return models.NewValidationError("comparison needs both sides")
		}
		switch cond.Op {
		case models.OpLT, models.OpLE, models.OpEQ, "=", models.OpGE, models.OpGT, models.OpNE:
		default:
			return models.NewValidationError("unknown comparison op %q", cond.Op)
		}
		if err := validateSignal(cond.Left, s); err != nil {
			return err
		}
		return validateSignal(cond.Right, s)
	case models.ConditionAnd, models.ConditionOr:
		if len(cond.Conditions) < 2 {
			return models.NewValidationError("%s needs at least two operands", cond.Type)
		}
		for _, sub := range cond.Conditions {
			if err := validateCondition(sub, s); err != nil {
				return err
			}
		}
	case models.ConditionNot:
		if cond.Condition == nil {
			return models.NewValidationError("not needs an operand")
		}
		return validateCondition(cond.Condition, s)
	case models.ConditionExpr:
		if cond.Formula == "" {
			return models.NewValidationError("expr condition needs a formula")
		}
	case models.ConditionAlways:
	case models.ConditionRef:
		name, ok := strings.CutPrefix(cond.Ref, "#/conditions/")
		if !ok {
			return models.NewValidationError("malformed condition $ref %q", cond.Ref)
		}
		if s.Conditions[name] == nil {
			return models.NewValidationError("condition $ref %q: no such condition", cond.Ref)
		}
	default:
		return models.NewValidationError("unknown condition type %q", cond.Type)
	}
	return nil
}

func validateAction(ruleName string, act *models.Action) error {
	switch act.Type {
	case models.ActionTrade:
		switch act.Direction {
		case models.DirectionBuy, models.DirectionSell, models.DirectionShort,
			models.DirectionCover, models.DirectionClose:
		default:
			return models.NewValidationError("rule %q: unknown trade direction %q", ruleName, act.Direction)
		}
	case models.ActionAlert:
		if act.Message == "" {
			return models.NewValidationError("rule %q: alert needs a message", ruleName)
		}
	case models.ActionHold:
	default:
		return models.NewValidationError("rule %q: unknown action type %q", ruleName, act.Type)
	}
	return nil
}

func validateConstraints(c *models.Constraints) error {
	if c == nil {
		return nil
	}
	if c.MaxPositions < 0 {
		return models.NewValidationError("max_positions must be >= 0")
	}
	for name, pct := range map[string]*float64{
		"stop_loss_pct":     c.StopLossPct,
		"take_profit_pct":   c.TakeProfitPct,
		"trailing_stop_pct": c.TrailingStopPct,
	} {
		if pct != nil && *pct <= 0 {
			return models.NewValidationError("%s must be > 0", name)
		}
	}
	return nil
}

// ────────────────────────────────────────────────────────────────────
// Reference cycle detection
// ────────────────────────────────────────────────────────────────────
//
// Named signals and conditions form a reference graph. Evaluation also
// guards against cycles at runtime, but catching them here turns an
// obscure mid-run failure into a load-time one.

func checkRefCycles(s *models.Strategy) error {
	state := make(map[string]int) // 0 unseen, 1 visiting, 2 done
	for name := range s.Signals {
		if err := visitSignal("signals/"+name, s.Signals[name], s, state); err != nil {
			return err
		}
	}
	for name := range s.Conditions {
		if err := visitCondition("conditions/"+name, s.Conditions[name], s, state); err != nil {
			return err
		}
	}
	return nil
}

func visitSignal(key string, sig *models.Signal, s *models.Strategy, state map[string]int) error {
	switch state[key] {
	case 1:
		return models.NewValidationError("$ref cycle through %q", key)
	case 2:
		return nil
	}
	state[key] = 1
	defer func() { state[key] = 2 }()

	if sig.Type == models.SignalRef {
		name := strings.TrimPrefix(sig.Ref, "#/signals/")
		if target := s.Signals[name]; target != nil {
			return visitSignal("signals/"+name, target, s, state)
		}
	}
	return nil
}

// visitCondition tracks state only for named nodes; anonymous subtrees
// are walked structurally until they reach a ref.
func visitCondition(key string, cond *models.Condition, s *models.Strategy, state map[string]int) error {
	switch state[key] {
	case 1:
		return models.NewValidationError("$ref cycle through %q", key)
	case 2:
		return nil
	}
	state[key] = 1
	defer func() { state[key] = 2 }()
	return walkCondition(cond, s, state)
}

func walkCondition(cond *models.Condition, s *models.Strategy, state map[string]int) error {
	switch cond.Type {
	case models.ConditionRef:
		name := strings.TrimPrefix(cond.Ref, "#/conditions/")
		if target := s.Conditions[name]; target != nil {
			return visitCondition("conditions/"+name, target, s, state)
		}
	case models.ConditionAnd, models.ConditionOr:
		for _, sub := range cond.Conditions {
			if err := walkCondition(sub, s, state); err != nil {
				return err
			}
		}
	case models.ConditionNot:
		return walkCondition(cond.Condition, s, state)
	case models.ConditionComparison:
		for _, side := range []*models.Signal{cond.Left, cond.Right} {
			if side == nil || side.Type != models.SignalRef {
				continue
			}
			name := strings.TrimPrefix(side.Ref, "#/signals/")
			if target := s.Signals[name]; target != nil {
				if err := visitSignal("signals/"+name, target, s, state); err != nil {
					return err
				}
			}
		}
	}
	return nil
}
