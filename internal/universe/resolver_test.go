package universe

import (
	"errors"
	"reflect"
	"testing"
	"time"

	"github.com/seenimoa/backtrail/pkg/models"
)

func barsFrom(closes ...float64) []models.Bar {
	start := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	out := make([]models.Bar, len(closes))
	for i, c := range closes {
		out[i] = models.Bar{Timestamp: start.AddDate(0, 0, i), Open: c, High: c + 1, Low: c - 1, Close: c, Volume: 1000}
	}
	return out
}

func strategyShell() *models.Strategy {
	return &models.Strategy{Info: models.Info{ID: "t", Name: "t", Version: "1"}}
}

func TestStaticUniverse(t *testing.T) {
	r := &Resolver{}
	sel, err := r.Resolve(&models.Universe{Type: models.UniverseStatic, Symbols: []string{"BBB", "AAA"}}, strategyShell(), nil, nil)
	if err != nil {
		t.Fatal(err)
	}
	// Author order is preserved.
	if !reflect.DeepEqual(sel.Long, []string{"BBB", "AAA"}) {
		t.Errorf("long = %v", sel.Long)
	}

	if _, err := r.Resolve(&models.Universe{Type: models.UniverseStatic}, strategyShell(), nil, nil); err == nil {
		t.Error("expected error for empty static universe")
	}
	var verr *models.ValidationError
	_, err = r.Resolve(&models.Universe{Type: "galaxy"}, strategyShell(), nil, nil)
	if !errors.As(err, &verr) {
		t.Errorf("unknown type: got %v, want ValidationError", err)
	}
}

func TestIndexUniverse(t *testing.T) {
	r := &Resolver{Indexes: map[string][]string{"NIFTY50": {"RELIANCE", "TCS"}}}

	sel, err := r.Resolve(&models.Universe{Type: models.UniverseIndex, Index: "NIFTY50"}, strategyShell(), nil, nil)
	if err != nil {
		t.Fatal(err)
	}
	if !reflect.DeepEqual(sel.Long, []string{"RELIANCE", "TCS"}) {
		t.Errorf("long = %v", sel.Long)
	}

	if _, err := r.Resolve(&models.Universe{Type: models.UniverseIndex, Index: "NOPE"}, strategyShell(), nil, nil); err == nil {
		t.Error("expected error for unknown index")
	}
}

func TestScreenerFiltersAtLastBar(t *testing.T) {
	r := &Resolver{}
	data := map[string][]models.Bar{
		"UP":   barsFrom(100, 101, 102),
		"DOWN": barsFrom(102, 101, 100),
		"GONE": nil, // no data: silently dropped
	}
	u := &models.Universe{
		Type: models.UniverseScreener,
		Base: &models.Universe{Type: models.UniverseStatic, Symbols: []string{"UP", "DOWN", "GONE"}},
		Filters: []*models.Condition{
			{Type: models.ConditionExpr, Formula: "close > close[-1]"},
		},
	}

	sel, err := r.Resolve(u, strategyShell(), nil, data)
	if err != nil {
		t.Fatal(err)
	}
	if !reflect.DeepEqual(sel.Long, []string{"UP"}) {
		t.Errorf("survivors = %v, want [UP]", sel.Long)
	}
}

func TestScreenerRankAndLimit(t *testing.T) {
	r := &Resolver{}
	data := map[string][]models.Bar{
		"A": barsFrom(10, 10, 30),
		"B": barsFrom(10, 10, 20),
		"C": barsFrom(10, 10, 10),
	}
	u := &models.Universe{
		Type:   models.UniverseScreener,
		Base:   &models.Universe{Type: models.UniverseStatic, Symbols: []string{"A", "B", "C"}},
		RankBy: &models.Signal{Type: models.SignalPrice, Field: "close"},
		Order:  "desc",
		Limit:  2,
	}

	sel, err := r.Resolve(u, strategyShell(), nil, data)
	if err != nil {
		t.Fatal(err)
	}
	if !reflect.DeepEqual(sel.Long, []string{"A", "B"}) {
		t.Errorf("top 2 desc = %v, want [A B]", sel.Long)
	}

	u.Order = "asc"
	sel, err = r.Resolve(u, strategyShell(), nil, data)
	if err != nil {
		t.Fatal(err)
	}
	if !reflect.DeepEqual(sel.Long, []string{"C", "B"}) {
		t.Errorf("top 2 asc = %v, want [C B]", sel.Long)
	}
}

func TestDualUniverseKeepsSides(t *testing.T) {
	r := &Resolver{}
	u := &models.Universe{
		Type:  models.UniverseDual,
		Long:  &models.Universe{Type: models.UniverseStatic, Symbols: []string{"AAA", "BBB"}},
		Short: &models.Universe{Type: models.UniverseStatic, Symbols: []string{"BBB", "CCC"}},
	}

	sel, err := r.Resolve(u, strategyShell(), nil, nil)
	if err != nil {
		t.Fatal(err)
	}
	if !reflect.DeepEqual(sel.Long, []string{"AAA", "BBB"}) || !reflect.DeepEqual(sel.Short, []string{"BBB", "CCC"}) {
		t.Errorf("sides = %v / %v", sel.Long, sel.Short)
	}
	if !reflect.DeepEqual(sel.All(), []string{"AAA", "BBB", "CCC"}) {
		t.Errorf("union = %v", sel.All())
	}
}
