package strategy

import (
	"sort"

	"github.com/seenimoa/backtrail/pkg/models"
)

// ════════════════════════════════════════════════════════════════════
// Built-in Strategies
// ════════════════════════════════════════════════════════════════════
//
// A small catalog of ready-made declarative strategies, usable as-is
// from the CLI or as templates for custom definitions. Parameters are
// exposed through the strategy's parameter map so sweeps can vary them
// without touching the tree.

// Builtin returns a fresh copy of a cataloged strategy bound to the
// given symbols.
func Builtin(name string, symbols ...string) (*models.Strategy, bool) {
	ctor, ok := builtins[name]
	if !ok {
		return nil, false
	}
	return ctor(symbols), true
}

// BuiltinNames lists the catalog, sorted.
func BuiltinNames() []string {
	names := make([]string, 0, len(builtins))
	for name := range builtins {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

var builtins = map[string]func(symbols []string) *models.Strategy{
	"buy_and_hold":       BuyAndHold,
	"sma_crossover":      SMACrossover,
	"rsi_mean_reversion": RSIMeanReversion,
}

// BuyAndHold enters with all equity on the first bar and holds.
func BuyAndHold(symbols []string) *models.Strategy {
	return &models.Strategy{
		Info:     models.Info{ID: "buy_and_hold", Name: "Buy and Hold", Version: "1.0.0"},
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

// SMACrossover goes long on a golden cross and exits on the death
// cross. fast and slow periods are parameters.
func SMACrossover(symbols []string) *models.Strategy {
	return &models.Strategy{
		Info:     models.Info{ID: "sma_crossover", Name: "SMA Crossover", Version: "1.0.0"},
		Universe: &models.Universe{Type: models.UniverseStatic, Symbols: symbols},
		Parameters: map[string]float64{
			"fast": 50,
			"slow": 200,
		},
		Rules: []*models.Rule{
			{
				Name: "golden_cross",
				When: &models.Condition{
					Type:    models.ConditionExpr,
					Formula: "sma(fast)[-1] <= sma(slow)[-1] and sma(fast) > sma(slow)",
				},
				Then: &models.Action{
					Type:      models.ActionTrade,
					Direction: models.DirectionBuy,
					Sizing:    &models.Sizing{Type: models.SizePercentOfEquity, Percent: 95},
				},
			},
			{
				Name: "death_cross",
				When: &models.Condition{
					Type:    models.ConditionExpr,
					Formula: "sma(fast)[-1] >= sma(slow)[-1] and sma(fast) < sma(slow)",
				},
				Then: &models.Action{Type: models.ActionTrade, Direction: models.DirectionClose},
			},
		},
	}
}

// RSIMeanReversion buys oversold and sells overbought, with a
// protective stop.
func RSIMeanReversion(symbols []string) *models.Strategy {
	stop := 5.0
	return &models.Strategy{
		Info:     models.Info{ID: "rsi_mean_reversion", Name: "RSI Mean Reversion", Version: "1.0.0"},
		Universe: &models.Universe{Type: models.UniverseStatic, Symbols: symbols},
		Parameters: map[string]float64{
			"period":     14,
			"oversold":   30,
			"overbought": 70,
		},
		Signals: map[string]*models.Signal{
			"rsi": {Type: models.SignalIndicator, Name: "rsi", Params: map[string]any{"period": "$period"}},
		},
		Rules: []*models.Rule{
			{
				Name: "buy_oversold",
				When: &models.Condition{
					Type: models.ConditionComparison,
					Left: &models.Signal{Type: models.SignalRef, Ref: "#/signals/rsi"},
					Op:   models.OpLT,
					Right: &models.Signal{
						Type: models.SignalConstant, Param: "$oversold",
					},
				},
				Then: &models.Action{
					Type:      models.ActionTrade,
					Direction: models.DirectionBuy,
					Sizing:    &models.Sizing{Type: models.SizePercentOfEquity, Percent: 50},
				},
			},
			{
				Name: "sell_overbought",
				When: &models.Condition{
					Type: models.ConditionComparison,
					Left: &models.Signal{Type: models.SignalRef, Ref: "#/signals/rsi"},
					Op:   models.OpGT,
					Right: &models.Signal{
						Type: models.SignalConstant, Param: "$overbought",
					},
				},
				Then: &models.Action{Type: models.ActionTrade, Direction: models.DirectionSell},
			},
		},
		Constraints: &models.Constraints{StopLossPct: &stop},
	}
}
