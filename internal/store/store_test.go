package store

import (
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/seenimoa/backtrail/pkg/models"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "runs.db"))
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func sampleResult() *models.BacktestResult {
	return &models.BacktestResult{
		StrategyID:     "sma_crossover",
		StrategyName:   "SMA Crossover",
		Symbol:         "RELIANCE",
		StartDate:      time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC),
		EndDate:        time.Date(2024, 6, 30, 0, 0, 0, 0, time.UTC),
		InitialCapital: 100000,
		FinalEquity:    112500,
		Parameters:     map[string]float64{"fast": 50, "slow": 200},
		Trades: []*models.Trade{
			{Symbol: "RELIANCE", Quantity: 10, EntryPrice: 2500, ExitPrice: 2750, PnL: 2500},
		},
		Metrics: &models.PerformanceMetrics{TotalReturnPct: 12.5},
	}
}

func TestSaveAndGetResult(t *testing.T) {
	s := openTestStore(t)

	id, err := s.SaveResult(sampleResult())
	if err != nil {
		t.Fatal(err)
	}
	if id == 0 {
		t.Fatal("expected non-zero run id")
	}

	got, err := s.GetResult(id)
	if err != nil {
		t.Fatal(err)
	}
	if got.StrategyID != "sma_crossover" || got.Symbol != "RELIANCE" {
		t.Errorf("round trip lost identity: %+v", got)
	}
	if got.FinalEquity != 112500 || got.Parameters["fast"] != 50 {
		t.Errorf("round trip lost values: %+v", got)
	}
	if len(got.Trades) != 1 || got.Trades[0].PnL != 2500 {
		t.Errorf("round trip lost trades: %+v", got.Trades)
	}
	if got.Metrics == nil || got.Metrics.TotalReturnPct != 12.5 {
		t.Errorf("round trip lost metrics: %+v", got.Metrics)
	}
}

func TestGetResultNotFound(t *testing.T) {
	s := openTestStore(t)
	if _, err := s.GetResult(999); !errors.Is(err, ErrNotFound) {
		t.Errorf("got %v, want ErrNotFound", err)
	}
}

func TestPortfolioRoundTrip(t *testing.T) {
	s := openTestStore(t)

	pr := &models.PortfolioResult{
		BacktestResult: models.BacktestResult{
			StrategyID:  "equal_weight",
			StartDate:   time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC),
			EndDate:     time.Date(2024, 3, 31, 0, 0, 0, 0, time.UTC),
			FinalEquity: 105000,
		},
		Symbols:        []string{"AAA", "BBB"},
		WeightScheme:   "equal",
		RebalanceFreq:  "monthly",
		RebalanceCount: 3,
	}
	id, err := s.SavePortfolioResult(pr)
	if err != nil {
		t.Fatal(err)
	}

	got, err := s.GetPortfolioResult(id)
	if err != nil {
		t.Fatal(err)
	}
	if len(got.Symbols) != 2 || got.RebalanceCount != 3 || got.WeightScheme != "equal" {
		t.Errorf("round trip = %+v", got)
	}

	// Kind mismatch is an error, not a silent misdecode.
	if _, err := s.GetResult(id); err == nil {
		t.Error("GetResult on a portfolio run should fail")
	}
	if kind, err := s.Kind(id); err != nil || kind != KindPortfolio {
		t.Errorf("Kind = %q, %v", kind, err)
	}
}

func TestListRunsNewestFirst(t *testing.T) {
	s := openTestStore(t)

	first := sampleResult()
	second := sampleResult()
	second.Symbol = "TCS"

	if _, err := s.SaveResult(first); err != nil {
		t.Fatal(err)
	}
	id2, err := s.SaveResult(second)
	if err != nil {
		t.Fatal(err)
	}

	runs, err := s.ListRuns(0)
	if err != nil {
		t.Fatal(err)
	}
	if len(runs) != 2 {
		t.Fatalf("got %d runs, want 2", len(runs))
	}
	if runs[0].ID != id2 || runs[0].Symbol != "TCS" {
		t.Errorf("newest run should list first: %+v", runs[0])
	}

	limited, err := s.ListRuns(1)
	if err != nil {
		t.Fatal(err)
	}
	if len(limited) != 1 {
		t.Errorf("limit ignored: got %d runs", len(limited))
	}
}

func TestDelete(t *testing.T) {
	s := openTestStore(t)
	id, err := s.SaveResult(sampleResult())
	if err != nil {
		t.Fatal(err)
	}
	if err := s.Delete(id); err != nil {
		t.Fatal(err)
	}
	if _, err := s.GetResult(id); !errors.Is(err, ErrNotFound) {
		t.Errorf("got %v after delete, want ErrNotFound", err)
	}
	if err := s.Delete(id); !errors.Is(err, ErrNotFound) {
		t.Errorf("double delete: got %v, want ErrNotFound", err)
	}
}
