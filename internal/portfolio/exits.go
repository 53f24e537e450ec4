package portfolio

import (
	"time"

	"github.com/seenimoa/backtrail/pkg/models"
)

// Closer executes one protective exit: the runner routes it through its
// executor so the fill carries commission and slippage like any other
// order, then books the close.
type Closer func(symbol string, pos *models.Position, price float64, date time.Time, reason string) error

// CheckExits scans open positions against the strategy's protective
// stops and fires the closer for each hit. Checks run in a fixed order
// per position: stop-loss, then take-profit, then trailing stop; the
// first hit wins. Boundaries are inclusive, and exits fill at the
// current bar's close. Symbols without a quote are skipped.
func (b *Book) CheckExits(prices map[string]float64, date time.Time, c *models.Constraints, closeFn Closer) error {
	if c == nil || (c.StopLossPct == nil && c.TakeProfitPct == nil && c.TrailingStopPct == nil) {
		return nil
	}
	for _, sym := range b.Symbols() {
		pos, ok := b.positions[sym]
		if !ok {
			continue // closed by an earlier exit this bar
		}
		price, ok := prices[sym]
		if !ok {
			continue
		}
		reason := exitReason(pos, price, c)
		if reason == "" {
			continue
		}
		if err := closeFn(sym, pos, price, date, reason); err != nil {
			return err
		}
	}
	return nil
}

func exitReason(pos *models.Position, price float64, c *models.Constraints) string {
	long := pos.Side == models.Long

	if r := c.StopLossPct; r != nil {
		if long && price <= pos.AvgPrice*(1-*r/100) {
			return models.ExitStopLoss
		}
		if !long && price >= pos.AvgPrice*(1+*r/100) {
			return models.ExitStopLoss
		}
	}
	if r := c.TakeProfitPct; r != nil {
		if long && price >= pos.AvgPrice*(1+*r/100) {
			return models.ExitTakeProfit
		}
		if !long && price <= pos.AvgPrice*(1-*r/100) {
			return models.ExitTakeProfit
		}
	}
	// The trailing stop arms only once the position has been in profit;
	// until then the fixed stop-loss governs.
	if r := c.TrailingStopPct; r != nil && pos.UnrealizedPnL > 0 {
		if long && price <= pos.PeakPrice*(1-*r/100) {
			return models.ExitTrailingStop
		}
		if !long && price >= pos.PeakPrice*(1+*r/100) {
			return models.ExitTrailingStop
		}
	}
	return ""
}
