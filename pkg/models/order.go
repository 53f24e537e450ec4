package models

import "time"

// OrderRequest is a market order submitted to an Executor. Price is the
// reference price (the current bar's close in backtests); the executor
// applies slippage around it.
type OrderRequest struct {
	Symbol    string  `json:"symbol"`
	Direction string  `json:"direction"` // buy, sell, short, cover
	Quantity  float64 `json:"quantity"`
	Price     float64 `json:"price"`
}

// Fill is the executor's response to an order. Quantity is the
// lot-rounded quantity actually filled; Commission and Slippage are the
// costs the bookkeeper must deduct. FillPrice is the slippage-adjusted
// per-share price, kept for reporting.
type Fill struct {
	Symbol     string  `json:"symbol"`
	Direction  string  `json:"direction"`
	Quantity   float64 `json:"quantity"`
	FillPrice  float64 `json:"fill_price"`
	Commission float64 `json:"commission"`
	Slippage   float64 `json:"slippage"`
}

// PositionSide marks a position as long or short.
type PositionSide string

const (
	Long  PositionSide = "long"
	Short PositionSide = "short"
)

// Position is an open holding. At most one position per symbol exists at
// any time. PeakPrice tracks the most favorable price seen since entry:
// the highest for longs, the lowest for shorts. DaysHeld counts bars
// since entry, advanced by the bookkeeper's Update; it stays 0 on the
// entry bar.
type Position struct {
	Symbol        string       `json:"symbol"`
	Side          PositionSide `json:"side"`
	Quantity      float64      `json:"quantity"`
	AvgPrice      float64      `json:"avg_price"`
	EntryDate     time.Time    `json:"entry_date"`
	LastPrice     float64      `json:"last_price"`
	UnrealizedPnL float64      `json:"unrealized_pnl"`
	PeakPrice     float64      `json:"peak_price,omitempty"`
	DaysHeld      float64      `json:"days_held"`
	Margin        float64      `json:"margin,omitempty"` // reserved cash for shorts
}

// Trade is a round trip. While the position is open the trade has no
// exit fields and IsOpen is true; Commission and Slippage accumulate
// entry plus exit costs.
type Trade struct {
	Symbol      string       `json:"symbol"`
	Side        PositionSide `json:"side"`
	Quantity    float64      `json:"quantity"`
	EntryDate   time.Time    `json:"entry_date"`
	EntryPrice  float64      `json:"entry_price"`
	ExitDate    *time.Time   `json:"exit_date,omitempty"`
	ExitPrice   float64      `json:"exit_price,omitempty"`
	Commission  float64      `json:"commission"`
	Slippage    float64      `json:"slippage"`
	PnL         float64      `json:"pnl"`
	IsOpen      bool         `json:"is_open"`
	EntryReason string       `json:"entry_reason,omitempty"`
	ExitReason  string       `json:"exit_reason,omitempty"`
}

// Exit reasons set by the runner rather than by a rule.
const (
	ExitStopLoss      = "stop_loss"
	ExitTakeProfit    = "take_profit"
	ExitTrailingStop  = "trailing_stop"
	ExitRebalance     = "rebalance"
	ExitEndOfBacktest = "end_of_backtest"
)

// Snapshot is the end-of-bar portfolio record.
type Snapshot struct {
	Date           time.Time `json:"date"`
	Cash           float64   `json:"cash"`
	PositionsValue float64   `json:"positions_value"`
	Equity         float64   `json:"equity"`
	Drawdown       float64   `json:"drawdown"`
	DrawdownPct    float64   `json:"drawdown_pct"`
	OpenPositions  int       `json:"open_positions"`
}
