// Package exec fills orders. The backtest executor is a pure function
// of its configuration; the paper executor adds in-memory account
// tracking for dry runs against live-ish feeds.
package exec

import (
	"math"

	"github.com/seenimoa/backtrail/pkg/models"
)

// Executor fills market orders. Implementations return (nil, nil) when
// an order legitimately produces no fill, e.g. when lot rounding
// eliminates the whole quantity.
type Executor interface {
	Execute(req models.OrderRequest) (*models.Fill, error)
}

// CommissionTier is one band of a tiered commission schedule. Exactly
// one of UpTo / Above is set: "value <= UpTo" or "value > Above".
type CommissionTier struct {
	UpTo  float64 `json:"up_to,omitempty" mapstructure:"up_to" yaml:"up_to,omitempty"`
	Above float64 `json:"above,omitempty" mapstructure:"above" yaml:"above,omitempty"`
	Fee   float64 `json:"fee" mapstructure:"fee" yaml:"fee"`
}

// BacktestExecutor simulates fills deterministically: quantities round
// down to lot multiples, slippage moves the price against the order,
// and commission is flat-rate or tiered.
type BacktestExecutor struct {
	LotSize        float64          // 0 or 1 disables lot rounding
	SlippageRate   float64          // fraction, 0.001 = 10 bps
	CommissionRate float64          // fraction of trade value
	Tiers          []CommissionTier // when set, overrides CommissionRate
}

// NewBacktestExecutor builds an executor, normalizing the tier order so
// matching is first-tier-wins from the lowest band up.
func NewBacktestExecutor(lotSize, slippageRate, commissionRate float64, tiers []CommissionTier) (*BacktestExecutor, error) {
	for _, t := range tiers {
		if t.UpTo == 0 && t.Above == 0 {
			return nil, models.NewExecutionError("", "commission tier needs up_to or above")
		}
		if t.UpTo != 0 && t.Above != 0 {
			return nil, models.NewExecutionError("", "commission tier cannot set both up_to and above")
		}
		if t.Fee < 0 {
			return nil, models.NewExecutionError("", "negative commission fee")
		}
	}
	sorted := sortTiers(tiers)
	return &BacktestExecutor{
		LotSize:        lotSize,
		SlippageRate:   slippageRate,
		CommissionRate: commissionRate,
		Tiers:          sorted,
	}, nil
}

// Execute fills the order at the reference price moved by slippage.
// Buys and covers pay up, sells and shorts receive less.
func (e *BacktestExecutor) Execute(req models.OrderRequest) (*models.Fill, error) {
	if req.Price <= 0 {
		return nil, models.NewExecutionError(req.Symbol, "non-positive price %v", req.Price)
	}
	if req.Quantity < 0 {
		return nil, models.NewExecutionError(req.Symbol, "negative quantity %v", req.Quantity)
	}
	if !validDirection(req.Direction) {
		return nil, models.NewExecutionError(req.Symbol, "unknown direction %q", req.Direction)
	}

	qty := e.roundLot(req.Quantity)
	if qty <= 0 {
		return nil, nil
	}

	fillPrice := req.Price
	switch req.Direction {
	case models.DirectionBuy, models.DirectionCover:
		fillPrice = req.Price * (1 + e.SlippageRate)
	case models.DirectionSell, models.DirectionShort:
		fillPrice = req.Price * (1 - e.SlippageRate)
	}

	slippage := math.Abs(fillPrice-req.Price) * qty
	commission := e.Commission(fillPrice, qty)

	return &models.Fill{
		Symbol:     req.Symbol,
		Direction:  req.Direction,
		Quantity:   qty,
		FillPrice:  fillPrice,
		Commission: commission,
		Slippage:   slippage,
	}, nil
}

// Commission computes the fee for a trade of the given price and
// quantity under the executor's schedule. Exposed so the runner can
// cost protective exits through the same schedule.
func (e *BacktestExecutor) Commission(price, qty float64) float64 {
	value := price * qty
	if len(e.Tiers) == 0 {
		return value * e.CommissionRate
	}
	for _, t := range e.Tiers {
		if t.UpTo != 0 && value <= t.UpTo {
			return t.Fee
		}
		if t.Above != 0 && value > t.Above {
			return t.Fee
		}
	}
	// No tier matched: an incomplete schedule charges nothing.
	return 0
}

func (e *BacktestExecutor) roundLot(qty float64) float64 {
	if e.LotSize <= 1 {
		return qty
	}
	return math.Floor(qty/e.LotSize) * e.LotSize
}

func validDirection(d string) bool {
	switch d {
	case models.DirectionBuy, models.DirectionSell, models.DirectionShort, models.DirectionCover:
		return true
	}
	return false
}

// sortTiers orders bounded tiers low to high, with open-ended "above"
// tiers last. Matching then walks tiers in order and takes the first hit.
func sortTiers(tiers []CommissionTier) []CommissionTier {
	out := make([]CommissionTier, len(tiers))
	copy(out, tiers)
	// Insertion sort; schedules are tiny.
	for i := 1; i < len(out); i++ {
		for j := i; j > 0 && tierLess(out[j], out[j-1]); j-- {
			out[j], out[j-1] = out[j-1], out[j]
		}
	}
	return out
}

func tierLess(a, b CommissionTier) bool {
	if a.UpTo != 0 && b.UpTo != 0 {
		return a.UpTo < b.UpTo
	}
	if a.UpTo != 0 {
		return true // bounded tiers before open-ended ones
	}
	if b.UpTo != 0 {
		return false
	}
	return a.Above < b.Above
}
