package expr

import (
	"errors"
	"fmt"
	"math"
	"testing"

	"github.com/seenimoa/backtrail/pkg/models"
)

// testEnv is a canned Env: a handful of columns and params, and a fake
// indicator that records how it was called.
type testEnv struct {
	n       int
	columns map[string][]float64
	params  map[string]float64

	lastCall  string
	lastArgs  []float64
	lastComp  string
	indicator func(name string, args []float64, component string) ([]float64, error)
}

func (e *testEnv) Len() int { return e.n }

func (e *testEnv) Column(name string) ([]float64, bool) {
	s, ok := e.columns[name]
	return s, ok
}

func (e *testEnv) Param(name string) (float64, bool) {
	v, ok := e.params[name]
	return v, ok
}

func (e *testEnv) Indicator(name string, args []float64, component string) ([]float64, error) {
	e.lastCall, e.lastArgs, e.lastComp = name, args, component
	if e.indicator != nil {
		return e.indicator(name, args, component)
	}
	out := make([]float64, e.n)
	return out, nil
}

func newTestEnv() *testEnv {
	return &testEnv{
		n: 5,
		columns: map[string][]float64{
			"close": {10, 20, 30, 40, 50},
			"open":  {9, 19, 29, 39, 49},
		},
		params: map[string]float64{"threshold": 30, "period": 14},
	}
}

func evalStr(t *testing.T, formula string, env Env) []float64 {
	t.Helper()
	out, err := EvalFormula(formula, env)
	if err != nil {
		t.Fatalf("EvalFormula(%q): %v", formula, err)
	}
	return out
}

// ────────────────────────────────────────────────────────────────────
// Arithmetic and precedence
// ────────────────────────────────────────────────────────────────────

func TestArithmeticPrecedence(t *testing.T) {
	env := newTestEnv()
	tests := []struct {
		formula string
		want    float64 // value at index 0
	}{
		{"1 + 2 * 3", 7},
		{"(1 + 2) * 3", 9},
		{"close + 5", 15},
		{"-close", -10},
		{"close - open", 1},
		{"close / 2", 5},
		{"2 * close + 1", 21},
		{"10 - 2 - 3", 5}, // left associative
	}
	for _, tt := range tests {
		out := evalStr(t, tt.formula, env)
		if !almost(out[0], tt.want) {
			t.Errorf("%q[0] = %v, want %v", tt.formula, out[0], tt.want)
		}
	}
}

func TestComparisonAndLogic(t *testing.T) {
	env := newTestEnv()
	tests := []struct {
		formula string
		want    []float64
	}{
		{"close > 25", []float64{0, 0, 1, 1, 1}},
		{"close >= 20 and close <= 40", []float64{0, 1, 1, 1, 0}},
		{"close < 20 or close > 40", []float64{1, 0, 0, 0, 1}},
		{"not close > 25", []float64{1, 1, 0, 0, 0}},
		{"close == 30", []float64{0, 0, 1, 0, 0}},
		{"close != 30", []float64{1, 1, 0, 1, 1}},
		{"close > threshold", []float64{0, 0, 0, 1, 1}},
	}
	for _, tt := range tests {
		out := evalStr(t, tt.formula, env)
		for i, w := range tt.want {
			if out[i] != w {
				t.Errorf("%q[%d] = %v, want %v", tt.formula, i, out[i], w)
			}
		}
	}
}

// "not" binds looser than comparisons but tighter than "and".
func TestNotPrecedence(t *testing.T) {
	env := newTestEnv()
	out := evalStr(t, "not close > 25 and close < 100", env)
	want := []float64{1, 1, 0, 0, 0}
	for i, w := range want {
		if out[i] != w {
			t.Errorf("index %d = %v, want %v", i, out[i], w)
		}
	}
}

// ────────────────────────────────────────────────────────────────────
// Offsets and components
// ────────────────────────────────────────────────────────────────────

func TestOffset(t *testing.T) {
	env := newTestEnv()
	out := evalStr(t, "close[-1]", env)
	if !math.IsNaN(out[0]) {
		t.Errorf("close[-1][0] = %v, want NaN", out[0])
	}
	for i := 1; i < 5; i++ {
		if !almost(out[i], env.columns["close"][i-1]) {
			t.Errorf("close[-1][%d] = %v, want %v", i, out[i], env.columns["close"][i-1])
		}
	}
}

func TestOffsetOnExpression(t *testing.T) {
	env := newTestEnv()
	out := evalStr(t, "(close - open)[-2]", env)
	if !math.IsNaN(out[0]) || !math.IsNaN(out[1]) {
		t.Error("first two values should be NaN")
	}
	if !almost(out[2], 1) {
		t.Errorf("shifted diff = %v, want 1", out[2])
	}
}

func TestPositiveOffsetRejected(t *testing.T) {
	if _, err := Parse("close[2]"); err == nil {
		t.Fatal("expected error for forward-looking offset")
	}
}

func TestIndicatorCall(t *testing.T) {
	env := newTestEnv()
	evalStr(t, "sma(20)", env)
	if env.lastCall != "sma" || len(env.lastArgs) != 1 || env.lastArgs[0] != 20 {
		t.Errorf("call = %s(%v), want sma([20])", env.lastCall, env.lastArgs)
	}

	evalStr(t, "bb(20, 2).upper", env)
	if env.lastCall != "bb" || env.lastComp != "upper" {
		t.Errorf("call = %s.%s, want bb.upper", env.lastCall, env.lastComp)
	}

	// Parameters are legal positional arguments.
	evalStr(t, "rsi(period)", env)
	if env.lastArgs[0] != 14 {
		t.Errorf("rsi arg = %v, want 14 (param)", env.lastArgs[0])
	}
}

func TestComponentOnNonCallRejected(t *testing.T) {
	if _, err := Parse("close.upper"); err == nil {
		t.Fatal("expected error for component access on a column")
	}
}

func TestIndicatorErrorSurfaces(t *testing.T) {
	env := newTestEnv()
	env.indicator = func(string, []float64, string) ([]float64, error) {
		return nil, fmt.Errorf("boom")
	}
	_, err := EvalFormula("sma(20)", env)
	if err == nil {
		t.Fatal("expected error")
	}
	var ee *models.ExpressionError
	if !errors.As(err, &ee) {
		t.Fatalf("expected ExpressionError, got %T", err)
	}
}

// ────────────────────────────────────────────────────────────────────
// NaN semantics
// ────────────────────────────────────────────────────────────────────

func TestNaNSemantics(t *testing.T) {
	env := newTestEnv()
	env.columns["gappy"] = []float64{math.NaN(), 20, math.NaN(), 40, 50}

	// Comparisons against NaN are false, both directions, != included.
	for _, formula := range []string{"gappy > 10", "gappy < 100", "gappy == 20", "gappy != 99"} {
		out := evalStr(t, formula, env)
		if out[0] != 0 || out[2] != 0 {
			t.Errorf("%q: NaN positions = %v/%v, want 0/0", formula, out[0], out[2])
		}
	}

	// Arithmetic propagates NaN.
	out := evalStr(t, "gappy + 1", env)
	if !math.IsNaN(out[0]) {
		t.Errorf("NaN + 1 = %v, want NaN", out[0])
	}

	// NaN is false inside logic.
	out = evalStr(t, "gappy > 10 or close > 0", env)
	if out[0] != 1 {
		t.Errorf("false-or-true = %v, want 1", out[0])
	}
	out = evalStr(t, "not gappy > 10", env)
	if out[0] != 1 {
		t.Errorf("not(NaN-compare) = %v, want 1", out[0])
	}
}

func TestDivisionByZero(t *testing.T) {
	env := newTestEnv()
	env.columns["zero"] = []float64{0, 0, 0, 0, 0}
	out := evalStr(t, "close / zero", env)
	if !math.IsNaN(out[0]) {
		t.Errorf("x/0 = %v, want NaN", out[0])
	}
}

// ────────────────────────────────────────────────────────────────────
// Errors
// ────────────────────────────────────────────────────────────────────

func TestParseErrors(t *testing.T) {
	cases := []string{
		"close >",
		"1 +",
		"(close > 10",
		"sma(20",
		"close[abc]",
		"> 10",
		"close !",
		"close @ 10",
	}
	for _, formula := range cases {
		_, err := Parse(formula)
		if err == nil {
			t.Errorf("Parse(%q): expected error", formula)
			continue
		}
		var ee *models.ExpressionError
		if !errors.As(err, &ee) {
			t.Errorf("Parse(%q): expected ExpressionError, got %T", formula, err)
		} else if ee.Line < 1 || ee.Column < 1 {
			t.Errorf("Parse(%q): position %d:%d not 1-based", formula, ee.Line, ee.Column)
		}
	}
}

func TestUnknownIdentifier(t *testing.T) {
	_, err := EvalFormula("volume_weighted", newTestEnv())
	if err == nil {
		t.Fatal("expected error for unknown identifier")
	}
}

func almost(a, b float64) bool { return math.Abs(a-b) < 1e-9 }
