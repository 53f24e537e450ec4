package strategy

import (
	"errors"
	"strings"
	"testing"

	"github.com/seenimoa/backtrail/pkg/models"
)

func validStrategy() *models.Strategy {
	return &models.Strategy{
		Info:     models.Info{ID: "t", Name: "Test", Version: "1.0.0"},
		Universe: &models.Universe{Type: models.UniverseStatic, Symbols: []string{"AAA"}},
		Rules: []*models.Rule{
			{
				Name: "enter",
				When: &models.Condition{Type: models.ConditionAlways},
				Then: &models.Action{Type: models.ActionTrade, Direction: models.DirectionBuy},
			},
		},
	}
}

func wantInvalid(t *testing.T, s *models.Strategy, fragment string) {
	t.Helper()
	err := Validate(s)
	var verr *models.ValidationError
	if !errors.As(err, &verr) {
		t.Fatalf("Validate() = %v, want ValidationError", err)
	}
	if !strings.Contains(err.Error(), fragment) {
		t.Errorf("error %q does not mention %q", err, fragment)
	}
}

func TestValidateAcceptsMinimalStrategy(t *testing.T) {
	if err := Validate(validStrategy()); err != nil {
		t.Fatal(err)
	}
}

func TestValidateRejectsMissingPieces(t *testing.T) {
	s := validStrategy()
	s.Info.Version = ""
	wantInvalid(t, s, "version")

	s = validStrategy()
	s.Universe = nil
	wantInvalid(t, s, "universe")

	s = validStrategy()
	s.Rules = nil
	wantInvalid(t, s, "rules")

	s = validStrategy()
	s.Rules[0].Then = nil
	wantInvalid(t, s, "when and then")

	s = validStrategy()
	s.Rules[0].Then.Direction = "yolo"
	wantInvalid(t, s, "direction")

	s = validStrategy()
	s.Rules[0].When = &models.Condition{Type: models.ConditionComparison, Op: "<"}
	wantInvalid(t, s, "both sides")

	s = validStrategy()
	s.Rules[0].When = &models.Condition{
		Type: models.ConditionAnd,
		Conditions: []*models.Condition{
			{Type: models.ConditionAlways},
		},
	}
	wantInvalid(t, s, "two operands")
}

func TestValidateRejectsDanglingRef(t *testing.T) {
	s := validStrategy()
	s.Rules[0].When = &models.Condition{Type: models.ConditionRef, Ref: "#/conditions/missing"}
	wantInvalid(t, s, "no such condition")
}

func TestValidateRejectsRefCycle(t *testing.T) {
	s := validStrategy()
	s.Conditions = map[string]*models.Condition{
		"a": {Type: models.ConditionRef, Ref: "#/conditions/b"},
		"b": {Type: models.ConditionRef, Ref: "#/conditions/a"},
	}
	wantInvalid(t, s, "cycle")
}

func TestValidateRejectsSignalCycleThroughComparison(t *testing.T) {
	s := validStrategy()
	s.Signals = map[string]*models.Signal{
		"x": {Type: models.SignalRef, Ref: "#/signals/x"},
	}
	wantInvalid(t, s, "cycle")
}

func TestValidateConstraints(t *testing.T) {
	zero := 0.0
	s := validStrategy()
	s.Constraints = &models.Constraints{StopLossPct: &zero}
	wantInvalid(t, s, "stop_loss_pct")
}

func TestParseRoundTrip(t *testing.T) {
	src := `{
		"info": {"id": "demo", "name": "Demo", "version": "1.0.0"},
		"universe": {"type": "static", "symbols": ["AAA"]},
		"parameters": {"period": 14},
		"rules": [
			{
				"name": "enter",
				"when": {
					"type": "comparison",
					"left": {"type": "indicator", "name": "rsi", "params": {"period": "$period"}},
					"op": "<",
					"right": {"type": "constant", "value": 30}
				},
				"then": {
					"type": "trade",
					"direction": "buy",
					"sizing": {"type": "percent_of_equity", "percent": 50}
				}
			}
		],
		"constraints": {"stop_loss_pct": 3}
	}`

	s, err := Parse([]byte(src))
	if err != nil {
		t.Fatal(err)
	}
	if s.Info.ID != "demo" || s.Parameters["period"] != 14 {
		t.Errorf("parsed = %+v", s.Info)
	}
	if got := s.Rules[0].When.Left.Params["period"]; got != "$period" {
		t.Errorf("param ref = %v, want $period", got)
	}
	if s.Constraints.StopLossPct == nil || *s.Constraints.StopLossPct != 3 {
		t.Errorf("stop loss = %v", s.Constraints.StopLossPct)
	}

	out, err := Marshal(s)
	if err != nil {
		t.Fatal(err)
	}
	again, err := Parse(out)
	if err != nil {
		t.Fatal(err)
	}
	if again.Info.ID != s.Info.ID || len(again.Rules) != len(s.Rules) {
		t.Error("round trip changed the strategy")
	}
}

func TestParseRejectsMalformedJSON(t *testing.T) {
	if _, err := Parse([]byte(`{"info":`)); err == nil {
		t.Error("expected error for truncated JSON")
	}
}

func TestBuiltinsValidate(t *testing.T) {
	for _, name := range BuiltinNames() {
		s, ok := Builtin(name, "AAA")
		if !ok {
			t.Fatalf("builtin %q missing", name)
		}
		if err := Validate(s); err != nil {
			t.Errorf("builtin %q invalid: %v", name, err)
		}
	}
	if _, ok := Builtin("nope"); ok {
		t.Error("unknown builtin should not resolve")
	}
}
