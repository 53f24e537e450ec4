package engine

import (
	"errors"
	"math"
	"testing"
	"time"

	"github.com/seenimoa/backtrail/internal/indicator"
	"github.com/seenimoa/backtrail/pkg/models"
)

func dailyBars(start time.Time, closes []float64) []models.Bar {
	out := make([]models.Bar, len(closes))
	for i, c := range closes {
		out[i] = models.Bar{
			Timestamp: start.AddDate(0, 0, i),
			Open:      c, High: c + 1, Low: c - 1, Close: c,
			Volume: 1000,
		}
	}
	return out
}

func jan1() time.Time { return time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC) }

func f64(v float64) *float64 { return &v }

func approx(t *testing.T, name string, got, want float64) {
	t.Helper()
	if math.Abs(got-want) > 1e-9 {
		t.Errorf("%s = %v, want %v", name, got, want)
	}
}

func alwaysBuyAll(symbols ...string) *models.Strategy {
	return &models.Strategy{
		Info:     models.Info{ID: "bh", Name: "Buy and Hold", Version: "1.0.0"},
		Universe: &models.Universe{Type: models.UniverseStatic, Symbols: symbols},
		Rules: []*models.Rule{
			{
				Name: "enter",
				When: &models.Condition{Type: models.ConditionAlways},
				Then: &models.Action{
					Type:      models.ActionTrade,
					Direction: models.DirectionBuy,
					Sizing:    &models.Sizing{Type: models.SizePercentOfEquity, Percent: 100},
				},
			},
		},
	}
}

func TestBuyAndHoldScenario(t *testing.T) {
	closes := make([]float64, 10)
	for i := range closes {
		closes[i] = 100 + float64(i)
	}
	bars := dailyBars(jan1(), closes)

	e, err := NewEngine(Config{InitialCapital: 1000})
	if err != nil {
		t.Fatal(err)
	}
	r, err := e.Run(alwaysBuyAll("AAA"), "AAA", bars, nil)
	if err != nil {
		t.Fatal(err)
	}

	if len(r.Trades) != 1 {
		t.Fatalf("trades = %d, want 1", len(r.Trades))
	}
	tr := r.Trades[0]
	approx(t, "entry price", tr.EntryPrice, 100)
	approx(t, "quantity", tr.Quantity, 10)
	approx(t, "exit price", tr.ExitPrice, 109)
	approx(t, "pnl", tr.PnL, 90)
	if tr.ExitReason != models.ExitEndOfBacktest {
		t.Errorf("exit reason = %q", tr.ExitReason)
	}
	approx(t, "final equity", r.FinalEquity, 1090)
	if len(r.Snapshots) != 10 {
		t.Errorf("snapshots = %d, want 10", len(r.Snapshots))
	}
	approx(t, "total return pct", r.Metrics.TotalReturnPct, 9)
}

func TestRSIMeanReversionScenario(t *testing.T) {
	// 14 gaining bars pin RSI high, a sharp decline pulls it under 30,
	// a strong recovery pushes it over 70.
	closes := make([]float64, 30)
	closes[0] = 100
	for i := 1; i < 14; i++ {
		closes[i] = closes[i-1] + 1
	}
	for i := 14; i < 22; i++ {
		closes[i] = closes[i-1] - 5
	}
	for i := 22; i < 30; i++ {
		closes[i] = closes[i-1] + 8
	}
	bars := dailyBars(jan1(), closes)

	// Locate the crossings the engine should trade on.
	rsi, err := indicator.Default().ComputeComponent("rsi", "", bars, nil, map[string]float64{"period": 14})
	if err != nil {
		t.Fatal(err)
	}
	entryBar, exitBar := -1, -1
	for i, v := range rsi {
		if entryBar < 0 && v < 30 {
			entryBar = i
		}
		if entryBar >= 0 && exitBar < 0 && v > 70 {
			exitBar = i
		}
	}
	if entryBar < 0 || exitBar < 0 {
		t.Fatalf("test data never crosses: entry=%d exit=%d", entryBar, exitBar)
	}

	strat := &models.Strategy{
		Info:     models.Info{ID: "rsi", Name: "RSI", Version: "1.0.0"},
		Universe: &models.Universe{Type: models.UniverseStatic, Symbols: []string{"AAA"}},
		Rules: []*models.Rule{
			{
				Name: "buy_oversold",
				When: &models.Condition{
					Type:  models.ConditionComparison,
					Left:  &models.Signal{Type: models.SignalIndicator, Name: "rsi", Params: map[string]any{"period": 14}},
					Op:    models.OpLT,
					Right: &models.Signal{Type: models.SignalConstant, Value: f64(30)},
				},
				Then: &models.Action{
					Type: models.ActionTrade, Direction: models.DirectionBuy,
					Sizing: &models.Sizing{Type: models.SizePercentOfEquity, Percent: 100},
				},
			},
			{
				Name: "sell_overbought",
				When: &models.Condition{
					Type:  models.ConditionComparison,
					Left:  &models.Signal{Type: models.SignalIndicator, Name: "rsi", Params: map[string]any{"period": 14}},
					Op:    models.OpGT,
					Right: &models.Signal{Type: models.SignalConstant, Value: f64(70)},
				},
				Then: &models.Action{Type: models.ActionTrade, Direction: models.DirectionSell},
			},
		},
	}

	e, _ := NewEngine(Config{InitialCapital: 10000})
	r, err := e.Run(strat, "AAA", bars, nil)
	if err != nil {
		t.Fatal(err)
	}

	if len(r.Trades) != 1 {
		t.Fatalf("trades = %d, want exactly 1", len(r.Trades))
	}
	tr := r.Trades[0]
	approx(t, "entry price", tr.EntryPrice, closes[entryBar])
	approx(t, "exit price", tr.ExitPrice, closes[exitBar])
	if !tr.EntryDate.Equal(bars[entryBar].Timestamp) || !tr.ExitDate.Equal(bars[exitBar].Timestamp) {
		t.Errorf("trade dates = %v..%v, want bars %d..%d", tr.EntryDate, tr.ExitDate, entryBar, exitBar)
	}
	if tr.ExitReason != "sell_overbought" {
		t.Errorf("exit reason = %q", tr.ExitReason)
	}
}

func TestStopLossScenario(t *testing.T) {
	bars := dailyBars(jan1(), []float64{100, 98, 95, 94})

	strat := &models.Strategy{
		Info:     models.Info{ID: "sl", Name: "Stop", Version: "1.0.0"},
		Universe: &models.Universe{Type: models.UniverseStatic, Symbols: []string{"AAA"}},
		Rules: []*models.Rule{
			{
				Name: "enter_once",
				When: &models.Condition{Type: models.ConditionExpr, Formula: "close > 99"},
				Then: &models.Action{
					Type: models.ActionTrade, Direction: models.DirectionBuy,
					Sizing: &models.Sizing{Type: models.SizePercentOfEquity, Percent: 100},
				},
			},
		},
		Constraints: &models.Constraints{StopLossPct: f64(3)},
	}

	e, _ := NewEngine(Config{InitialCapital: 1000})
	r, err := e.Run(strat, "AAA", bars, nil)
	if err != nil {
		t.Fatal(err)
	}

	if len(r.Trades) != 1 {
		t.Fatalf("trades = %d, want 1", len(r.Trades))
	}
	tr := r.Trades[0]
	if tr.ExitReason != models.ExitStopLoss {
		t.Errorf("exit reason = %q, want stop_loss", tr.ExitReason)
	}
	// Stop level is 97.0; bar 1 at 98 holds, bar 2 at 95 exits.
	if !tr.ExitDate.Equal(bars[2].Timestamp) {
		t.Errorf("exit date = %v, want bar 2", tr.ExitDate)
	}
	approx(t, "exit price", tr.ExitPrice, 95)
	approx(t, "pnl", tr.PnL, (95-100)*10.0)
	approx(t, "final equity", r.FinalEquity, 950)
}

func TestLotSizeRounding(t *testing.T) {
	closes := make([]float64, 10)
	for i := range closes {
		closes[i] = 2500
	}
	bars := dailyBars(jan1(), closes)

	// 1,000,000 at 2500 is 400 shares, already a lot multiple.
	e, _ := NewEngine(Config{InitialCapital: 1000000, LotSize: 100})
	r, err := e.Run(alwaysBuyAll("JPX"), "JPX", bars, nil)
	if err != nil {
		t.Fatal(err)
	}
	if len(r.Trades) != 1 {
		t.Fatalf("trades = %d, want 1", len(r.Trades))
	}
	approx(t, "quantity", r.Trades[0].Quantity, 400)
	approx(t, "cash after entry", r.Snapshots[0].Cash, 0)

	// 700,000 at 2500 is 280 raw shares, rounded down to 200.
	e2, _ := NewEngine(Config{InitialCapital: 700000, LotSize: 100})
	r2, err := e2.Run(alwaysBuyAll("JPX"), "JPX", bars, nil)
	if err != nil {
		t.Fatal(err)
	}
	approx(t, "rounded quantity", r2.Trades[0].Quantity, 200)
}

func TestHoldOnlyStrategyTradesNothing(t *testing.T) {
	bars := dailyBars(jan1(), []float64{100, 101, 102})
	strat := &models.Strategy{
		Info:     models.Info{ID: "idle", Name: "Idle", Version: "1.0.0"},
		Universe: &models.Universe{Type: models.UniverseStatic, Symbols: []string{"AAA"}},
		Rules: []*models.Rule{
			{
				Name: "wait",
				When: &models.Condition{Type: models.ConditionAlways},
				Then: &models.Action{Type: models.ActionHold},
			},
		},
	}

	e, _ := NewEngine(Config{InitialCapital: 5000})
	r, err := e.Run(strat, "AAA", bars, nil)
	if err != nil {
		t.Fatal(err)
	}
	if len(r.Trades) != 0 {
		t.Errorf("trades = %d, want 0", len(r.Trades))
	}
	approx(t, "final equity", r.FinalEquity, 5000)
	for _, s := range r.Snapshots {
		approx(t, "idle equity", s.Equity, 5000)
	}
}

func TestEmptyBarsIsDataError(t *testing.T) {
	e, _ := NewEngine(Config{})
	_, err := e.Run(alwaysBuyAll("AAA"), "AAA", nil, nil)
	var derr *models.DataError
	if !errors.As(err, &derr) {
		t.Errorf("err = %v, want DataError", err)
	}
}

func TestCancelCheckAborts(t *testing.T) {
	bars := dailyBars(jan1(), []float64{100, 101, 102})
	e, _ := NewEngine(Config{CancelCheck: func() bool { return true }})
	if _, err := e.Run(alwaysBuyAll("AAA"), "AAA", bars, nil); !errors.Is(err, ErrCanceled) {
		t.Errorf("err = %v, want ErrCanceled", err)
	}
}

func TestDeterministicReruns(t *testing.T) {
	closes := make([]float64, 60)
	for i := range closes {
		closes[i] = 100 + 10*math.Sin(float64(i)/5)
	}
	bars := dailyBars(jan1(), closes)

	strat := alwaysBuyAll("AAA")
	strat.Constraints = &models.Constraints{TakeProfitPct: f64(4), StopLossPct: f64(4)}

	e, _ := NewEngine(Config{InitialCapital: 10000, CommissionRate: 0.001, SlippageRate: 0.0005})
	first, err := e.Run(strat, "AAA", bars, nil)
	if err != nil {
		t.Fatal(err)
	}
	second, err := e.Run(strat, "AAA", bars, nil)
	if err != nil {
		t.Fatal(err)
	}

	if len(first.Trades) != len(second.Trades) {
		t.Fatalf("trade counts differ: %d vs %d", len(first.Trades), len(second.Trades))
	}
	approx(t, "final equity", second.FinalEquity, first.FinalEquity)
	for i := range first.Snapshots {
		approx(t, "snapshot equity", second.Snapshots[i].Equity, first.Snapshots[i].Equity)
	}
}

func TestParameterOverride(t *testing.T) {
	bars := dailyBars(jan1(), []float64{100, 101, 102, 103, 104})
	strat := alwaysBuyAll("AAA")
	strat.Parameters = map[string]float64{"threshold": 1000}
	strat.Rules[0].When = &models.Condition{
		Type:  models.ConditionComparison,
		Left:  &models.Signal{Type: models.SignalPrice, Field: models.FieldClose},
		Op:    models.OpGT,
		Right: &models.Signal{Type: models.SignalConstant, Param: "$threshold"},
	}

	e, _ := NewEngine(Config{InitialCapital: 1000})

	// Default threshold never fires.
	r, err := e.Run(strat, "AAA", bars, nil)
	if err != nil {
		t.Fatal(err)
	}
	if len(r.Trades) != 0 {
		t.Errorf("default run trades = %d, want 0", len(r.Trades))
	}

	// Overridden threshold fires on every bar.
	r, err = e.Run(strat, "AAA", bars, map[string]float64{"threshold": 50})
	if err != nil {
		t.Fatal(err)
	}
	if len(r.Trades) != 1 {
		t.Errorf("override run trades = %d, want 1", len(r.Trades))
	}
	if r.Parameters["threshold"] != 50 {
		t.Errorf("recorded parameters = %v", r.Parameters)
	}
}

// ════════════════════════════════════════════════════════════════════
// Multi-symbol
// ════════════════════════════════════════════════════════════════════

func holdStrategy(symbols ...string) *models.Strategy {
	return &models.Strategy{
		Info:     models.Info{ID: "pf", Name: "Portfolio", Version: "1.0.0"},
		Universe: &models.Universe{Type: models.UniverseStatic, Symbols: symbols},
		Rules: []*models.Rule{
			{
				Name: "wait",
				When: &models.Condition{Type: models.ConditionAlways},
				Then: &models.Action{Type: models.ActionHold},
			},
		},
	}
}

func TestMonthlyRebalanceScenario(t *testing.T) {
	// 90 daily bars from Jan 1: rebalances on Jan 1 (initial), Feb 1,
	// and Mar 1.
	flat := func(price float64) []float64 {
		out := make([]float64, 90)
		for i := range out {
			out[i] = price
		}
		return out
	}
	data := map[string][]models.Bar{
		"AAA": dailyBars(jan1(), flat(100)),
		"BBB": dailyBars(jan1(), flat(50)),
	}

	e, _ := NewEngine(Config{
		InitialCapital: 100000,
		WeightScheme:   WeightEqual,
		RebalanceFreq:  RebalanceMonthly,
	})
	r, err := e.RunPortfolio(holdStrategy("AAA", "BBB"), data, nil)
	if err != nil {
		t.Fatal(err)
	}

	if r.RebalanceCount != 3 {
		t.Errorf("rebalance count = %d, want 3 (initial + Feb + Mar)", r.RebalanceCount)
	}
	if len(r.WeightHistory) != 3 {
		t.Fatalf("weight history = %d entries", len(r.WeightHistory))
	}
	for _, wp := range r.WeightHistory {
		approx(t, "weight AAA", wp.Weights["AAA"], 0.5)
		approx(t, "weight BBB", wp.Weights["BBB"], 0.5)
	}
	feb := r.WeightHistory[1].Date
	if feb.Month() != time.February || feb.Day() != 1 {
		t.Errorf("second rebalance on %v, want Feb 1", feb)
	}

	// Initial allocation: 500 AAA at 100, 1000 BBB at 50.
	if pos := len(r.Trades); pos != 2 {
		t.Fatalf("trades = %d, want 2", pos)
	}
	// Flat prices, zero fees: equity stays whole.
	approx(t, "final equity", r.FinalEquity, 100000)
	// Initial event turned over the full equity; later events nothing.
	approx(t, "avg turnover", r.AverageTurnover, 1.0/3)
	if len(r.Snapshots) != 90 {
		t.Errorf("snapshots = %d, want 90", len(r.Snapshots))
	}

	sub := r.PerSymbol["AAA"]
	if sub == nil || len(sub.Trades) != 1 {
		t.Fatalf("per-symbol AAA = %+v", sub)
	}
	if sub.Trades[0].ExitReason != models.ExitEndOfBacktest {
		t.Errorf("AAA exit reason = %q", sub.Trades[0].ExitReason)
	}
}

func TestRebalanceAdjustsDriftedWeights(t *testing.T) {
	// AAA doubles over January while BBB stays flat; the Feb rebalance
	// must sell AAA into BBB to restore 50/50.
	aaa := make([]float64, 40)
	bbb := make([]float64, 40)
	for i := range aaa {
		aaa[i] = 100 + float64(i)*100/31.0
		bbb[i] = 100
	}
	data := map[string][]models.Bar{
		"AAA": dailyBars(jan1(), aaa),
		"BBB": dailyBars(jan1(), bbb),
	}

	e, _ := NewEngine(Config{
		InitialCapital: 100000,
		WeightScheme:   WeightEqual,
		RebalanceFreq:  RebalanceMonthly,
	})
	r, err := e.RunPortfolio(holdStrategy("AAA", "BBB"), data, nil)
	if err != nil {
		t.Fatal(err)
	}
	if r.RebalanceCount != 2 {
		t.Fatalf("rebalance count = %d, want 2", r.RebalanceCount)
	}

	// After Feb 1 the partial AAA sale books a closed rebalance trade.
	var rebalanceSale *models.Trade
	for _, tr := range r.Trades {
		if tr.Symbol == "AAA" && tr.ExitReason == models.ExitRebalance {
			rebalanceSale = tr
		}
	}
	if rebalanceSale == nil {
		t.Fatal("no rebalance sale of AAA booked")
	}
	if rebalanceSale.PnL <= 0 {
		t.Errorf("trimming the winner should realize a gain, pnl = %v", rebalanceSale.PnL)
	}
	if r.AverageTurnover <= 0 {
		t.Error("turnover should be recorded")
	}
}

func TestMultiSymbolUnevenTimelines(t *testing.T) {
	// BBB starts trading 5 days late; union timeline still runs and
	// BBB only gets weight once it has bars.
	data := map[string][]models.Bar{
		"AAA": dailyBars(jan1(), []float64{100, 100, 100, 100, 100, 100, 100, 100, 100, 100}),
		"BBB": dailyBars(jan1().AddDate(0, 0, 5), []float64{50, 50, 50, 50, 50}),
	}

	e, _ := NewEngine(Config{InitialCapital: 10000})
	r, err := e.RunPortfolio(holdStrategy("AAA", "BBB"), data, nil)
	if err != nil {
		t.Fatal(err)
	}
	if len(r.Snapshots) != 10 {
		t.Errorf("snapshots = %d, want 10 unified dates", len(r.Snapshots))
	}
	// Initial allocation sees only AAA.
	approx(t, "initial AAA weight", r.WeightHistory[0].Weights["AAA"], 1)
	if _, ok := r.WeightHistory[0].Weights["BBB"]; ok {
		t.Error("BBB weighted before it has bars")
	}
}
