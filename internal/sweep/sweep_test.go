package sweep

import (
	"reflect"
	"testing"
	"time"

	"github.com/seenimoa/backtrail/internal/engine"
	"github.com/seenimoa/backtrail/pkg/models"
)

func TestCombinationsAreDeterministic(t *testing.T) {
	g := Grid{
		"b": {10, 20},
		"a": {1, 2},
	}
	want := []map[string]float64{
		{"a": 1, "b": 10},
		{"a": 1, "b": 20},
		{"a": 2, "b": 10},
		{"a": 2, "b": 20},
	}
	got := g.Combinations()
	if !reflect.DeepEqual(got, want) {
		t.Errorf("Combinations() = %v, want %v", got, want)
	}
	if g.Size() != 4 {
		t.Errorf("Size() = %d, want 4", g.Size())
	}
}

func TestEmptyGridRunsOnce(t *testing.T) {
	combos := Grid{}.Combinations()
	if len(combos) != 1 || len(combos[0]) != 0 {
		t.Errorf("empty grid should expand to one empty combination, got %v", combos)
	}
}

func sweepBars(n int) []models.Bar {
	start := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	bars := make([]models.Bar, n)
	for i := range bars {
		price := 100.0 + float64(i)
		bars[i] = models.Bar{
			Timestamp: start.AddDate(0, 0, i),
			Open:      price, High: price + 1, Low: price - 1, Close: price,
			Volume: 1000,
		}
	}
	return bars
}

func thresholdStrategy() *models.Strategy {
	return &models.Strategy{
		Info:       models.Info{ID: "threshold", Name: "Threshold", Version: "1.0.0"},
		Universe:   &models.Universe{Type: models.UniverseStatic, Symbols: []string{"AAA"}},
		Parameters: map[string]float64{"entry": 1000},
		Rules: []*models.Rule{
			{
				Name: "enter",
				When: &models.Condition{Type: models.ConditionExpr, Formula: "close >= entry"},
				Then: &models.Action{
					Type:      models.ActionTrade,
					Direction: models.DirectionBuy,
					Sizing:    &models.Sizing{Type: models.SizePercentOfEquity, Percent: 100},
				},
			},
		},
	}
}

func TestRunSweep(t *testing.T) {
	cfg := engine.DefaultConfig()
	cfg.InitialCapital = 10000

	grid := Grid{"entry": {50, 1000}}
	outcomes, err := Run(cfg, thresholdStrategy(), "AAA", sweepBars(10), grid, 2)
	if err != nil {
		t.Fatal(err)
	}
	if len(outcomes) != 2 {
		t.Fatalf("got %d outcomes, want 2", len(outcomes))
	}

	// entry=50 triggers on the first bar; entry=1000 never does.
	if outcomes[0].Params["entry"] != 50 || outcomes[1].Params["entry"] != 1000 {
		t.Fatalf("outcome order not grid order: %v, %v", outcomes[0].Params, outcomes[1].Params)
	}
	if outcomes[0].Err != nil || outcomes[1].Err != nil {
		t.Fatalf("unexpected run errors: %v, %v", outcomes[0].Err, outcomes[1].Err)
	}
	if len(outcomes[0].Result.Trades) != 1 {
		t.Errorf("entry=50: got %d trades, want 1", len(outcomes[0].Result.Trades))
	}
	if len(outcomes[1].Result.Trades) != 0 {
		t.Errorf("entry=1000: got %d trades, want 0", len(outcomes[1].Result.Trades))
	}

	best := Best(outcomes)
	if best == nil || best.Params["entry"] != 50 {
		t.Errorf("Best() = %v, want entry=50", best)
	}
}

func TestRunSweepIsolatesFailures(t *testing.T) {
	cfg := engine.DefaultConfig()

	// Empty bar data fails every run, but the sweep itself still
	// completes and reports the per-run errors.
	outcomes, err := Run(cfg, thresholdStrategy(), "AAA", nil, Grid{"entry": {1, 2}}, 1)
	if err != nil {
		t.Fatal(err)
	}
	if len(outcomes) != 2 {
		t.Fatalf("got %d outcomes, want 2", len(outcomes))
	}
	for i, o := range outcomes {
		if o.Err == nil {
			t.Errorf("outcome %d: expected data error", i)
		}
	}
	if Best(outcomes) != nil {
		t.Error("Best() should be nil when every run failed")
	}
}
