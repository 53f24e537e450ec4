package engine

import (
	"math"

	"github.com/seenimoa/backtrail/pkg/models"
)

// ════════════════════════════════════════════════════════════════════
// Performance Metrics
// ════════════════════════════════════════════════════════════════════

// ComputeMetrics fills r.Metrics from the trades and equity curve.
// riskFreeRate is annual (e.g. 0.065 for 6.5%).
func ComputeMetrics(r *models.BacktestResult, riskFreeRate float64) {
	if r == nil {
		return
	}
	m := &models.PerformanceMetrics{}
	if r.InitialCapital > 0 {
		m.TotalReturnPct = (r.FinalEquity - r.InitialCapital) / r.InitialCapital * 100
	}
	computeTradeStats(m, r.Trades)
	computeCAGR(m, r)
	computeDrawdown(m, r.EquityCurve)
	computeSharpe(m, r.EquityCurve, riskFreeRate)
	computeSortino(m, r.EquityCurve, riskFreeRate)
	r.Metrics = m
}

// ────────────────────────────────────────────────────────────────────
// Trade statistics
// ────────────────────────────────────────────────────────────────────

func computeTradeStats(m *models.PerformanceMetrics, trades []*models.Trade) {
	var totalWin, totalLoss float64
	var closed int
	for _, t := range trades {
		m.TotalCommission += t.Commission
		m.TotalSlippage += t.Slippage
		if t.IsOpen {
			continue
		}
		closed++
		m.Expectancy += t.PnL
		if t.PnL > 0 {
			m.WinningTrades++
			totalWin += t.PnL
		} else if t.PnL < 0 {
			m.LosingTrades++
			totalLoss += math.Abs(t.PnL)
		}
	}
	m.TotalTrades = closed
	if closed == 0 {
		m.Expectancy = 0
		return
	}

	m.WinRate = float64(m.WinningTrades) / float64(closed) * 100
	m.Expectancy /= float64(closed)

	if m.WinningTrades > 0 {
		m.AvgWin = totalWin / float64(m.WinningTrades)
	}
	if m.LosingTrades > 0 {
		m.AvgLoss = totalLoss / float64(m.LosingTrades)
	}
	if totalLoss > 0 {
		m.ProfitFactor = totalWin / totalLoss
	} else if totalWin > 0 {
		m.ProfitFactor = math.Inf(1)
	}

	m.MaxConsecutiveWins = longestStreak(trades, func(pnl float64) bool { return pnl > 0 })
	m.MaxConsecutiveLoss = longestStreak(trades, func(pnl float64) bool { return pnl < 0 })
}

func longestStreak(trades []*models.Trade, hit func(pnl float64) bool) int {
	best, current := 0, 0
	for _, t := range trades {
		if t.IsOpen {
			continue
		}
		if hit(t.PnL) {
			current++
			if current > best {
				best = current
			}
		} else {
			current = 0
		}
	}
	return best
}

// ────────────────────────────────────────────────────────────────────
// CAGR — Compound Annual Growth Rate
// ────────────────────────────────────────────────────────────────────

func computeCAGR(m *models.PerformanceMetrics, r *models.BacktestResult) {
	if r.InitialCapital <= 0 || r.FinalEquity <= 0 {
		return
	}
	days := r.EndDate.Sub(r.StartDate).Hours() / 24
	if days <= 0 {
		return
	}
	years := days / 365.25
	m.CAGR = (math.Pow(r.FinalEquity/r.InitialCapital, 1.0/years) - 1) * 100
}

// ────────────────────────────────────────────────────────────────────
// Maximum Drawdown
// ────────────────────────────────────────────────────────────────────

func computeDrawdown(m *models.PerformanceMetrics, curve []models.EquityPoint) {
	if len(curve) == 0 {
		return
	}
	peak := curve[0].Value
	for _, ep := range curve {
		if ep.Value > peak {
			peak = ep.Value
		}
		dd := ep.Value - peak
		if -dd > m.MaxDrawdown {
			m.MaxDrawdown = -dd
		}
		if peak > 0 && -dd/peak*100 > m.MaxDrawdownPct {
			m.MaxDrawdownPct = -dd / peak * 100
		}
	}
}

// ────────────────────────────────────────────────────────────────────
// Sharpe / Sortino (annualized, 252 trading days)
// ────────────────────────────────────────────────────────────────────

func computeSharpe(m *models.PerformanceMetrics, curve []models.EquityPoint, riskFreeRate float64) {
	excess := excessReturns(curve, riskFreeRate)
	if len(excess) < 2 {
		return
	}
	sd := stddevOf(excess)
	if sd > 0 {
		m.SharpeRatio = meanOf(excess) / sd * math.Sqrt(252)
	}
}

func computeSortino(m *models.PerformanceMetrics, curve []models.EquityPoint, riskFreeRate float64) {
	excess := excessReturns(curve, riskFreeRate)
	if len(excess) < 2 {
		return
	}

	// Downside deviation over all observations, squaring only the
	// negative excess returns.
	var downsideSqSum float64
	var downsideCount int
	for _, er := range excess {
		if er < 0 {
			downsideSqSum += er * er
			downsideCount++
		}
	}
	if downsideCount == 0 {
		return
	}
	downsideDev := math.Sqrt(downsideSqSum / float64(len(excess)))
	if downsideDev > 0 {
		m.SortinoRatio = meanOf(excess) / downsideDev * math.Sqrt(252)
	}
}

func excessReturns(curve []models.EquityPoint, riskFreeRate float64) []float64 {
	if len(curve) < 2 {
		return nil
	}
	dailyRf := riskFreeRate / 252
	out := make([]float64, len(curve)-1)
	for i := 1; i < len(curve); i++ {
		if curve[i-1].Value > 0 {
			out[i-1] = (curve[i].Value-curve[i-1].Value)/curve[i-1].Value - dailyRf
		}
	}
	return out
}

func meanOf(data []float64) float64 {
	if len(data) == 0 {
		return 0
	}
	sum := 0.0
	for _, v := range data {
		sum += v
	}
	return sum / float64(len(data))
}

func stddevOf(data []float64) float64 {
	if len(data) < 2 {
		return 0
	}
	m := meanOf(data)
	sumSq := 0.0
	for _, v := range data {
		d := v - m
		sumSq += d * d
	}
	return math.Sqrt(sumSq / float64(len(data)-1)) // sample stddev
}
