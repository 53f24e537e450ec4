// Package portfolio is the bookkeeper: cash, positions, trades and
// snapshots. It is the sole writer of portfolio state; runners mutate
// it only through the operations here, which keep the invariants (cash
// never negative, one open trade per position, monotone peak equity).
package portfolio

import (
	"math"
	"sort"
	"time"

	"github.com/seenimoa/backtrail/pkg/models"
)

// Short positions reserve half their notional as margin.
const shortMarginRate = 0.5

// Book tracks one run's portfolio state.
type Book struct {
	initialCash float64
	cash        float64
	positions   map[string]*models.Position
	trades      []*models.Trade
	openTrades  map[string]*models.Trade
	snapshots   []models.Snapshot
	peakEquity  float64
}

// NewBook creates a bookkeeper with the given starting cash.
func NewBook(initialCapital float64) *Book {
	return &Book{
		initialCash: initialCapital,
		cash:        initialCapital,
		positions:   make(map[string]*models.Position),
		openTrades:  make(map[string]*models.Trade),
		peakEquity:  initialCapital,
	}
}

// Cash returns the free cash balance.
func (b *Book) Cash() float64 { return b.cash }

// InitialCapital returns the starting cash.
func (b *Book) InitialCapital() float64 { return b.initialCash }

// Position returns the open position in symbol, nil if flat.
func (b *Book) Position(symbol string) *models.Position { return b.positions[symbol] }

// OpenPositions returns the number of open positions.
func (b *Book) OpenPositions() int { return len(b.positions) }

// Symbols returns the symbols with open positions, sorted for
// deterministic iteration.
func (b *Book) Symbols() []string {
	out := make([]string, 0, len(b.positions))
	for sym := range b.positions {
		out = append(out, sym)
	}
	sort.Strings(out)
	return out
}

// Trades returns all trades, open and closed, in booking order.
func (b *Book) Trades() []*models.Trade { return b.trades }

// ClosedTrades returns only completed round trips.
func (b *Book) ClosedTrades() []*models.Trade {
	out := make([]*models.Trade, 0, len(b.trades))
	for _, tr := range b.trades {
		if !tr.IsOpen {
			out = append(out, tr)
		}
	}
	return out
}

// Snapshots returns the per-bar records accumulated so far.
func (b *Book) Snapshots() []models.Snapshot { return b.snapshots }

// PeakEquity returns the highest equity recorded.
func (b *Book) PeakEquity() float64 { return b.peakEquity }

// Equity values the portfolio at the given prices; positions without a
// quote fall back to their average price.
func (b *Book) Equity(prices map[string]float64) float64 {
	return b.cash + b.positionsValue(prices)
}

func (b *Book) positionsValue(prices map[string]float64) float64 {
	total := 0.0
	for sym, pos := range b.positions {
		price, ok := prices[sym]
		if !ok {
			price = pos.AvgPrice
		}
		if pos.Side == models.Short {
			// A short carries its margin plus accrued P&L.
			total += pos.Margin + (pos.AvgPrice-price)*pos.Quantity
		} else {
			total += price * pos.Quantity
		}
	}
	return total
}

// ════════════════════════════════════════════════════════════════════
// Operations
// ════════════════════════════════════════════════════════════════════

// Open books a new position. qty may shrink to what cash affords after
// fees; the fill quantity actually booked is returned. A qty that
// shrinks to zero or an already-open symbol is rejected.
func (b *Book) Open(symbol string, qty, price float64, side models.PositionSide, date time.Time, commission, slippage float64, reason string) (*models.Trade, error) {
	if qty <= 0 {
		return nil, models.NewExecutionError(symbol, "open with non-positive qty %v", qty)
	}
	if _, exists := b.positions[symbol]; exists {
		return nil, models.NewExecutionError(symbol, "position already open")
	}

	perShare := price
	if side == models.Short {
		perShare = price * shortMarginRate
	}
	required := perShare*qty + commission + slippage
	if required > b.cash {
		// Shrink to fit: keep fees whole, scale the share count.
		qty = (b.cash - commission - slippage) / perShare
		if qty <= 0 {
			return nil, models.NewExecutionError(symbol, "insufficient cash for any quantity")
		}
		required = perShare*qty + commission + slippage
	}

	b.cash -= required
	margin := 0.0
	if side == models.Short {
		margin = perShare * qty
	}
	b.positions[symbol] = &models.Position{
		Symbol:    symbol,
		Side:      side,
		Quantity:  qty,
		AvgPrice:  price,
		EntryDate: date,
		LastPrice: price,
		PeakPrice: price,
		Margin:    margin,
	}

	trade := &models.Trade{
		Symbol:      symbol,
		Side:        side,
		Quantity:    qty,
		EntryDate:   date,
		EntryPrice:  price,
		Commission:  commission,
		Slippage:    slippage,
		IsOpen:      true,
		EntryReason: reason,
	}
	b.trades = append(b.trades, trade)
	b.openTrades[symbol] = trade
	return trade, nil
}

// Close exits the whole position at price. Returns (nil, nil) when no
// position is open in symbol.
func (b *Book) Close(symbol string, price float64, date time.Time, reason string, commission, slippage float64) (*models.Trade, error) {
	pos, ok := b.positions[symbol]
	if !ok {
		return nil, nil
	}

	if pos.Side == models.Short {
		b.cash += pos.Margin + (pos.AvgPrice-price)*pos.Quantity - commission - slippage
	} else {
		b.cash += price*pos.Quantity - commission - slippage
	}

	trade := b.openTrades[symbol]
	exitDate := date
	trade.ExitDate = &exitDate
	trade.ExitPrice = price
	trade.Commission += commission
	trade.Slippage += slippage
	trade.IsOpen = false
	trade.ExitReason = reason
	if pos.Side == models.Short {
		trade.PnL = (trade.EntryPrice-price)*pos.Quantity - trade.Commission - trade.Slippage
	} else {
		trade.PnL = (price-trade.EntryPrice)*pos.Quantity - trade.Commission - trade.Slippage
	}

	delete(b.positions, symbol)
	delete(b.openTrades, symbol)
	return trade, nil
}

// Update revalues open positions against prices, advances their peak
// tracking, and counts the bar into DaysHeld. Positions without a quote
// keep their last price but still age.
func (b *Book) Update(prices map[string]float64, date time.Time) {
	for sym, pos := range b.positions {
		pos.DaysHeld++
		price, ok := prices[sym]
		if !ok {
			continue
		}
		pos.LastPrice = price
		if pos.Side == models.Short {
			pos.UnrealizedPnL = (pos.AvgPrice - price) * pos.Quantity
			pos.PeakPrice = math.Min(pos.PeakPrice, price)
		} else {
			pos.UnrealizedPnL = (price - pos.AvgPrice) * pos.Quantity
			pos.PeakPrice = math.Max(pos.PeakPrice, price)
		}
	}
}

// Record pushes the end-of-bar snapshot and returns it.
func (b *Book) Record(date time.Time, prices map[string]float64) models.Snapshot {
	equity := b.Equity(prices)
	if equity > b.peakEquity {
		b.peakEquity = equity
	}
	dd := b.peakEquity - equity
	ddPct := 0.0
	if b.peakEquity > 0 {
		ddPct = dd / b.peakEquity * 100
	}
	snap := models.Snapshot{
		Date:           date,
		Cash:           b.cash,
		PositionsValue: b.positionsValue(prices),
		Equity:         equity,
		Drawdown:       dd,
		DrawdownPct:    ddPct,
		OpenPositions:  len(b.positions),
	}
	b.snapshots = append(b.snapshots, snap)
	return snap
}

// ════════════════════════════════════════════════════════════════════
// Rebalance adjustments
// ════════════════════════════════════════════════════════════════════

// ScaleIn adds qty at price to an existing position of the same side,
// blending the average price. Fees and the shrink rule apply as in Open.
func (b *Book) ScaleIn(symbol string, qty, price float64, date time.Time, commission, slippage float64) error {
	pos, ok := b.positions[symbol]
	if !ok {
		return models.NewExecutionError(symbol, "scale-in without open position")
	}
	if qty <= 0 {
		return models.NewExecutionError(symbol, "scale-in with non-positive qty %v", qty)
	}

	perShare := price
	if pos.Side == models.Short {
		perShare = price * shortMarginRate
	}
	required := perShare*qty + commission + slippage
	if required > b.cash {
		qty = (b.cash - commission - slippage) / perShare
		if qty <= 0 {
			return models.NewExecutionError(symbol, "insufficient cash to scale in")
		}
		required = perShare*qty + commission + slippage
	}

	b.cash -= required
	newQty := pos.Quantity + qty
	pos.AvgPrice = (pos.AvgPrice*pos.Quantity + price*qty) / newQty
	pos.Quantity = newQty
	if pos.Side == models.Short {
		pos.Margin += perShare * qty
	}

	trade := b.openTrades[symbol]
	trade.Quantity = newQty
	trade.EntryPrice = pos.AvgPrice
	trade.Commission += commission
	trade.Slippage += slippage
	return nil
}

// ScaleOut sells qty of an open position at price, booking the realized
// slice as its own closed trade. Scaling out the full quantity
// delegates to Close.
func (b *Book) ScaleOut(symbol string, qty, price float64, date time.Time, reason string, commission, slippage float64) (*models.Trade, error) {
	pos, ok := b.positions[symbol]
	if !ok {
		return nil, nil
	}
	if qty <= 0 {
		return nil, models.NewExecutionError(symbol, "scale-out with non-positive qty %v", qty)
	}
	if qty >= pos.Quantity {
		return b.Close(symbol, price, date, reason, commission, slippage)
	}

	frac := qty / pos.Quantity
	if pos.Side == models.Short {
		releasedMargin := pos.Margin * frac
		b.cash += releasedMargin + (pos.AvgPrice-price)*qty - commission - slippage
		pos.Margin -= releasedMargin
	} else {
		b.cash += price*qty - commission - slippage
	}

	exitDate := date
	var pnl float64
	if pos.Side == models.Short {
		pnl = (pos.AvgPrice-price)*qty - commission - slippage
	} else {
		pnl = (price-pos.AvgPrice)*qty - commission - slippage
	}
	slice := &models.Trade{
		Symbol:      symbol,
		Side:        pos.Side,
		Quantity:    qty,
		EntryDate:   pos.EntryDate,
		EntryPrice:  pos.AvgPrice,
		ExitDate:    &exitDate,
		ExitPrice:   price,
		Commission:  commission,
		Slippage:    slippage,
		PnL:         pnl,
		ExitReason:  reason,
		EntryReason: b.openTrades[symbol].EntryReason,
	}
	b.trades = append(b.trades, slice)

	pos.Quantity -= qty
	pos.UnrealizedPnL = 0 // revalued on next Update
	remaining := b.openTrades[symbol]
	remaining.Quantity = pos.Quantity
	return slice, nil
}
