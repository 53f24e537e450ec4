package engine

import (
	"time"

	"github.com/seenimoa/backtrail/internal/portfolio"
	"github.com/seenimoa/backtrail/internal/signal"
	"github.com/seenimoa/backtrail/internal/sizing"
	"github.com/seenimoa/backtrail/internal/strategy"
	"github.com/seenimoa/backtrail/pkg/models"
	"github.com/seenimoa/backtrail/pkg/telemetry"
)

// Run executes the strategy against one symbol's bars. overrides, when
// non-nil, shadow the strategy's default parameters for this run only.
//
// Phase order within a bar: update, rule actions, protective exits,
// snapshot. Exits run after same-bar entries, so a position that
// violates its stop on its entry bar exits on the next bar at the
// earliest.
func (e *Engine) Run(strat *models.Strategy, symbol string, bars []models.Bar, overrides map[string]float64) (*models.BacktestResult, error) {
	started := time.Now()
	result, err := e.run(strat, symbol, bars, overrides)
	observeRun(started, err)
	return result, err
}

func (e *Engine) run(strat *models.Strategy, symbol string, bars []models.Bar, overrides map[string]float64) (*models.BacktestResult, error) {
	if err := strategy.Validate(strat); err != nil {
		return nil, err
	}
	if err := models.ValidateBars(symbol, bars); err != nil {
		return nil, err
	}
	bars = models.NormalizeBars(bars)
	params := mergeParams(strat.Parameters, overrides)

	ctx := signal.NewContext(symbol, bars, strat, params, e.reg)
	ctx.Events = e.cfg.Events
	ctx.Fundamentals = e.cfg.Fundamentals[symbol]
	ctx.Externals = e.cfg.Externals

	prev := newPortfolioState(e.cfg.InitialCapital)
	ctx.Portfolio = prev

	book := portfolio.NewBook(e.cfg.InitialCapital)
	rules := e.compileRules(ctx, strat)

	for i := range bars {
		if e.canceled() {
			return nil, ErrCanceled
		}
		date := bars[i].Timestamp
		price := bars[i].Close
		prices := map[string]float64{symbol: price}

		book.Update(prices, date)

		for _, cr := range rules {
			if e.fires(ctx, cr, i) {
				e.applyAction(book, strat, cr.rule, symbol, bars, i, price, prices, date)
			}
		}

		if err := book.CheckExits(prices, date, strat.Constraints, e.protectiveCloser(book)); err != nil {
			return nil, err
		}

		book.Record(date, prices)
		prev.capture(book, prices)
	}

	last := bars[len(bars)-1]
	for _, sym := range book.Symbols() {
		e.closePosition(book, sym, last.Close, last.Timestamp, models.ExitEndOfBacktest)
	}

	result := e.assembleResult(strat, symbol, bars, params, book)
	return result, nil
}

func observeRun(started time.Time, err error) {
	telemetry.RunDuration.Observe(time.Since(started).Seconds())
	outcome := "ok"
	if err != nil {
		outcome = "error"
	}
	telemetry.BacktestsTotal.WithLabelValues(outcome).Inc()
}

func (e *Engine) assembleResult(strat *models.Strategy, symbol string, bars []models.Bar, params map[string]float64, book *portfolio.Book) *models.BacktestResult {
	snaps := book.Snapshots()
	curve := make([]models.EquityPoint, len(snaps))
	for i, s := range snaps {
		curve[i] = models.EquityPoint{Date: s.Date, Value: s.Equity}
	}

	result := &models.BacktestResult{
		StrategyID:     strat.Info.ID,
		StrategyName:   strat.Info.Name,
		Symbol:         symbol,
		StartDate:      bars[0].Timestamp,
		EndDate:        bars[len(bars)-1].Timestamp,
		InitialCapital: e.cfg.InitialCapital,
		// All positions are force-closed before assembly, so final
		// equity is cash.
		FinalEquity: book.Cash(),
		Parameters:  params,
		Trades:      book.Trades(),
		Snapshots:   snaps,
		EquityCurve: curve,
	}
	ComputeMetrics(result, e.cfg.RiskFreeRate)
	return result
}

// ════════════════════════════════════════════════════════════════════
// Rule actions
// ════════════════════════════════════════════════════════════════════

func (e *Engine) applyAction(book *portfolio.Book, strat *models.Strategy, rule *models.Rule, symbol string, bars []models.Bar, i int, price float64, prices map[string]float64, date time.Time) {
	act := rule.Then
	if act == nil {
		return
	}
	switch act.Type {
	case models.ActionHold:
	case models.ActionAlert:
		evt := e.log.Info()
		if act.Level == "warn" || act.Level == "warning" {
			evt = e.log.Warn()
		}
		evt.Str("rule", rule.Name).Str("symbol", symbol).Time("date", date).Msg(act.Message)
	case models.ActionTrade:
		e.applyTrade(book, strat, rule, symbol, bars, i, price, prices, date)
	default:
		e.log.Warn().Str("rule", rule.Name).Str("action", act.Type).Msg("unknown action type, skipped")
	}
}

func (e *Engine) applyTrade(book *portfolio.Book, strat *models.Strategy, rule *models.Rule, symbol string, bars []models.Bar, i int, price float64, prices map[string]float64, date time.Time) {
	act := rule.Then
	reason := act.Reason
	if reason == "" {
		reason = rule.Name
	}
	pos := book.Position(symbol)
	cons := strat.Constraints

	switch act.Direction {
	case models.DirectionSell, models.DirectionClose:
		if pos != nil {
			e.closePosition(book, symbol, price, date, reason)
		}

	case models.DirectionCover:
		if pos != nil && pos.Side == models.Short {
			e.closePosition(book, symbol, price, date, reason)
		}

	case models.DirectionBuy, models.DirectionShort:
		if pos != nil {
			return // at most one open position per symbol
		}
		if act.Direction == models.DirectionShort && cons != nil && cons.NoShorting {
			return
		}
		if cons != nil && cons.MaxPositions > 0 && book.OpenPositions() >= cons.MaxPositions {
			return
		}
		qty := sizing.Resolve(act.Sizing, e.sizingInputs(book, symbol, bars, i, price, prices))
		if qty <= 0 {
			return
		}
		fill, err := e.ex.Execute(models.OrderRequest{Symbol: symbol, Direction: act.Direction, Quantity: qty, Price: price})
		if err != nil {
			e.log.Warn().Err(err).Str("rule", rule.Name).Str("symbol", symbol).Msg("order rejected")
			return
		}
		if fill == nil {
			return
		}
		side := models.Long
		if act.Direction == models.DirectionShort {
			side = models.Short
		}
		if _, err := book.Open(symbol, fill.Quantity, price, side, date, fill.Commission, fill.Slippage, reason); err != nil {
			e.log.Warn().Err(err).Str("symbol", symbol).Msg("open rejected by bookkeeper")
			return
		}
		telemetry.OrdersExecuted.WithLabelValues(act.Direction).Inc()

	default:
		e.log.Warn().Str("rule", rule.Name).Str("direction", act.Direction).Msg("unknown trade direction, skipped")
	}
}

// closePosition exits the whole position at the bar close, costing fees
// through the executor's schedule without lot rounding so positions can
// always be flattened.
func (e *Engine) closePosition(book *portfolio.Book, symbol string, price float64, date time.Time, reason string) {
	pos := book.Position(symbol)
	if pos == nil {
		return
	}
	dir := closeDirection(pos.Side)
	commission, slippage := e.closeCosts(dir, price, pos.Quantity)
	tr, err := book.Close(symbol, price, date, reason, commission, slippage)
	if err != nil {
		e.log.Warn().Err(err).Str("symbol", symbol).Msg("close rejected by bookkeeper")
		return
	}
	if tr != nil {
		telemetry.OrdersExecuted.WithLabelValues(dir).Inc()
		telemetry.TradesClosed.WithLabelValues(reason).Inc()
	}
}

func (e *Engine) protectiveCloser(book *portfolio.Book) portfolio.Closer {
	return func(symbol string, pos *models.Position, price float64, date time.Time, reason string) error {
		e.closePosition(book, symbol, price, date, reason)
		return nil
	}
}
