package models

import "time"

// EquityPoint is one point on the equity curve.
type EquityPoint struct {
	Date  time.Time `json:"date"`
	Value float64   `json:"value"`
}

// PerformanceMetrics summarizes a completed run. Ratios use daily
// compounding assumptions (252 trading days per year).
type PerformanceMetrics struct {
	TotalReturnPct     float64 `json:"total_return_pct"`
	CAGR               float64 `json:"cagr"`
	SharpeRatio        float64 `json:"sharpe_ratio"`
	SortinoRatio       float64 `json:"sortino_ratio"`
	MaxDrawdown        float64 `json:"max_drawdown"`
	MaxDrawdownPct     float64 `json:"max_drawdown_pct"`
	TotalTrades        int     `json:"total_trades"`
	WinningTrades      int     `json:"winning_trades"`
	LosingTrades       int     `json:"losing_trades"`
	WinRate            float64 `json:"win_rate"`
	ProfitFactor       float64 `json:"profit_factor"`
	AvgWin             float64 `json:"avg_win"`
	AvgLoss            float64 `json:"avg_loss"`
	Expectancy         float64 `json:"expectancy"`
	MaxConsecutiveWins int     `json:"max_consecutive_wins"`
	MaxConsecutiveLoss int     `json:"max_consecutive_losses"`
	TotalCommission    float64 `json:"total_commission"`
	TotalSlippage      float64 `json:"total_slippage"`
}

// BacktestResult is the outcome of a single-symbol run.
type BacktestResult struct {
	StrategyID     string              `json:"strategy_id"`
	StrategyName   string              `json:"strategy_name,omitempty"`
	Symbol         string              `json:"symbol"`
	StartDate      time.Time           `json:"start_date"`
	EndDate        time.Time           `json:"end_date"`
	InitialCapital float64             `json:"initial_capital"`
	FinalEquity    float64             `json:"final_equity"`
	Parameters     map[string]float64  `json:"parameters,omitempty"`
	Trades         []*Trade            `json:"trades"`
	Snapshots      []Snapshot          `json:"snapshots"`
	EquityCurve    []EquityPoint       `json:"equity_curve"`
	Metrics        *PerformanceMetrics `json:"metrics,omitempty"`
}

// WeightPoint records the target weights in force after a rebalance.
type WeightPoint struct {
	Date    time.Time          `json:"date"`
	Weights map[string]float64 `json:"weights"`
}

// PortfolioResult is the outcome of a multi-symbol run. PerSymbol holds
// attribution sub-results: each symbol's closed trades with an equity
// curve of cumulative realized P&L booked on exit dates.
type PortfolioResult struct {
	BacktestResult

	Symbols         []string                   `json:"symbols"`
	WeightScheme    string                     `json:"weight_scheme"`
	RebalanceFreq   string                     `json:"rebalance_frequency"`
	RebalanceCount  int                        `json:"rebalance_count"`
	AverageTurnover float64                    `json:"average_turnover"`
	WeightHistory   []WeightPoint              `json:"weight_history,omitempty"`
	PerSymbol       map[string]*BacktestResult `json:"per_symbol,omitempty"`
}
