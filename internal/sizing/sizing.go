// Package sizing converts a sizing specification plus portfolio state
// into an order quantity. Quantities are fractional here; lot rounding
// belongs to the executor.
package sizing

import (
	"math"

	"github.com/seenimoa/backtrail/internal/indicator"
	"github.com/seenimoa/backtrail/pkg/models"
)

// Defaults applied when a sizing spec is missing or leaves a knob unset.
const (
	DefaultEquityPct   = 10.0 // unknown sizing type falls back to 10% of equity
	KellyFallbackPct   = 2.0  // kelly with < MinKellyTrades history
	MinKellyTrades     = 10
	KellyClipMax       = 0.25
	DefaultATRLookback = 14
	FallbackATRPct     = 0.02 // ATR proxy when the series is too short
)

// Inputs is the portfolio state a sizing decision sees.
type Inputs struct {
	Price    float64
	Equity   float64
	Cash     float64
	Position *models.Position // open position in the symbol, nil if flat
	Closed   []*models.Trade  // closed trades so far, for kelly
	Bars     []models.Bar     // bars up to and including the current one
	Registry *indicator.Registry
}

// Resolve computes the order quantity for spec. A non-positive price
// yields zero; callers treat zero as "no order".
func Resolve(spec *models.Sizing, in Inputs) float64 {
	if in.Price <= 0 {
		return 0
	}
	if spec == nil {
		return pctOfEquity(DefaultEquityPct, in)
	}

	switch spec.Type {
	case models.SizeFixedAmount:
		return clampQty(spec.Amount / in.Price)

	case models.SizeFixedQuantity:
		return clampQty(spec.Quantity)

	case models.SizePercentOfEquity:
		return pctOfEquity(spec.Percent, in)

	case models.SizePercentOfCash:
		return clampQty(in.Cash * spec.Percent / 100 / in.Price)

	case models.SizePercentOfPosition:
		if in.Position == nil {
			return 0
		}
		return clampQty(in.Position.Quantity * spec.Percent / 100)

	case models.SizeRiskBased:
		return riskBased(spec, in)

	case models.SizeKelly:
		return kelly(spec, in)

	case models.SizeVolatilityAdjusted:
		return volatilityAdjusted(spec, in)

	default:
		return pctOfEquity(DefaultEquityPct, in)
	}
}

func pctOfEquity(pct float64, in Inputs) float64 {
	return clampQty(in.Equity * pct / 100 / in.Price)
}

// riskBased risks risk_pct of equity against a stop placed
// stop_distance_pct below (above, for shorts) the entry price:
// qty = equity * risk% / (price * stopDistance%).
func riskBased(spec *models.Sizing, in Inputs) float64 {
	if spec.RiskPct <= 0 || spec.StopDistancePct <= 0 {
		return 0
	}
	riskAmount := in.Equity * spec.RiskPct / 100
	perShareRisk := in.Price * spec.StopDistancePct / 100
	return clampQty(riskAmount / perShareRisk)
}

// kelly sizes by the Kelly criterion over closed-trade history,
// clipped to [0, 0.25] of equity. With fewer than MinKellyTrades
// trades it falls back to a flat 2% of equity.
func kelly(spec *models.Sizing, in Inputs) float64 {
	mult := spec.Multiplier
	if mult <= 0 {
		mult = 1
	}

	wins, losses := 0, 0
	var winSum, lossSum float64
	for _, tr := range in.Closed {
		if tr.IsOpen {
			continue
		}
		if tr.PnL > 0 {
			wins++
			winSum += tr.PnL
		} else if tr.PnL < 0 {
			losses++
			lossSum += -tr.PnL
		}
	}

	total := wins + losses
	if total < MinKellyTrades || wins == 0 || losses == 0 {
		return pctOfEquity(KellyFallbackPct, in)
	}

	p := float64(wins) / float64(total)
	b := (winSum / float64(wins)) / (lossSum / float64(losses))
	f := mult * (b*p - (1 - p)) / b
	f = clip(f, 0, KellyClipMax)
	return clampQty(in.Equity * f / in.Price)
}

// volatilityAdjusted targets a fixed currency risk per ATR unit:
// qty = target_risk / ATR(lookback). A short series falls back to an
// ATR proxy of 2% of price.
func volatilityAdjusted(spec *models.Sizing, in Inputs) float64 {
	if spec.TargetRisk <= 0 {
		return 0
	}
	lookback := spec.Lookback
	if lookback <= 0 {
		lookback = DefaultATRLookback
	}

	atr := fallbackATR(in.Price)
	if in.Registry != nil && len(in.Bars) >= lookback {
		series, err := in.Registry.ComputeComponent("atr", "", in.Bars, nil, map[string]float64{"period": float64(lookback)})
		if err == nil {
			if last := series[len(series)-1]; !math.IsNaN(last) && last > 0 {
				atr = last
			}
		}
	}
	return clampQty(spec.TargetRisk / atr)
}

func fallbackATR(price float64) float64 {
	return price * FallbackATRPct
}

func clip(v, lo, hi float64) float64 {
	return math.Max(lo, math.Min(hi, v))
}

func clampQty(q float64) float64 {
	if q <= 0 || math.IsNaN(q) || math.IsInf(q, 0) {
		return 0
	}
	return q
}
