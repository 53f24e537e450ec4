package engine

import (
	"runtime"
	"sort"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/seenimoa/backtrail/internal/portfolio"
	"github.com/seenimoa/backtrail/internal/signal"
	"github.com/seenimoa/backtrail/internal/strategy"
	"github.com/seenimoa/backtrail/internal/universe"
	"github.com/seenimoa/backtrail/pkg/models"
	"github.com/seenimoa/backtrail/pkg/telemetry"
)

// Rebalance deltas below this many shares are left alone.
const minRebalanceQty = 0.01

// RunPortfolio executes the strategy across the resolved universe on a
// unified timeline, rebalancing to the configured weight scheme. Phase
// order per date matches Run, with the rebalance step between position
// update and rule actions.
func (e *Engine) RunPortfolio(strat *models.Strategy, data map[string][]models.Bar, overrides map[string]float64) (*models.PortfolioResult, error) {
	started := time.Now()
	result, err := e.runPortfolio(strat, data, overrides)
	observeRun(started, err)
	return result, err
}

func (e *Engine) runPortfolio(strat *models.Strategy, data map[string][]models.Bar, overrides map[string]float64) (*models.PortfolioResult, error) {
	if err := strategy.Validate(strat); err != nil {
		return nil, err
	}
	params := mergeParams(strat.Parameters, overrides)

	resolver := &universe.Resolver{Indexes: e.cfg.Indexes, Registry: e.reg}
	sel, err := resolver.Resolve(strat.Universe, strat, params, data)
	if err != nil {
		return nil, err
	}

	// Universe members without data cannot be simulated.
	var symbols []string
	for _, sym := range sel.All() {
		if len(data[sym]) == 0 {
			e.log.Warn().Str("symbol", sym).Msg("universe symbol has no bars, dropped")
			continue
		}
		symbols = append(symbols, sym)
	}
	if len(symbols) == 0 {
		return nil, models.NewDataError("no universe symbol has bar data")
	}

	normalized := make(map[string][]models.Bar, len(symbols))
	for _, sym := range symbols {
		if err := models.ValidateBars(sym, data[sym]); err != nil {
			return nil, err
		}
		normalized[sym] = models.NormalizeBars(data[sym])
	}
	data = normalized

	scheme, err := newWeightScheme(e.cfg)
	if err != nil {
		return nil, err
	}
	cad, err := newCadence(e.cfg)
	if err != nil {
		return nil, err
	}
	drift, driftBased := cad.(driftCadence)

	prev := newPortfolioState(e.cfg.InitialCapital)
	ctxs := make(map[string]*signal.Context, len(symbols))
	for _, sym := range symbols {
		ctx := signal.NewContext(sym, data[sym], strat, params, e.reg)
		ctx.Events = e.cfg.Events
		ctx.Fundamentals = e.cfg.Fundamentals[sym]
		ctx.Externals = e.cfg.Externals
		ctx.Portfolio = prev
		ctxs[sym] = ctx
	}

	// Rule precomputation is pure per symbol, so it parallelizes; the
	// bar loop below stays strictly sequential.
	compiled := make(map[string][]compiledRule, len(symbols))
	var mu sync.Mutex
	var g errgroup.Group
	g.SetLimit(runtime.GOMAXPROCS(0))
	for _, sym := range symbols {
		g.Go(func() error {
			rules := e.compileRules(ctxs[sym], strat)
			mu.Lock()
			compiled[sym] = rules
			mu.Unlock()
			return nil
		})
	}
	g.Wait()

	dates, byDate := unifiedTimeline(symbols, data)

	book := portfolio.NewBook(e.cfg.InitialCapital)
	var (
		targets       map[string]float64
		weightHistory []models.WeightPoint
		rebalances    int
		turnoverSum   float64
	)

	for di, d := range dates {
		if e.canceled() {
			return nil, ErrCanceled
		}
		present := byDate[di]
		prices := make(map[string]float64, len(present))
		counts := make(map[string]int, len(present))
		for sym, i := range present {
			prices[sym] = data[sym][i].Close
			counts[sym] = i + 1
		}

		book.Update(prices, d)

		due := di == 0 || cad.Due(d, dates[di-1])
		if !due && driftBased && len(targets) > 0 {
			due = drift.Drifted(e.actualWeights(book, prices), targets)
		}
		if due {
			targets = scheme.Calculate(symbols, data, counts)
			turnoverSum += e.rebalance(book, targets, prices, d)
			rebalances++
			weightHistory = append(weightHistory, models.WeightPoint{Date: d, Weights: copyWeights(targets)})
		}

		for _, sym := range sortedSymbols(present) {
			i := present[sym]
			for _, cr := range compiled[sym] {
				if e.fires(ctxs[sym], cr, i) {
					e.applyAction(book, strat, cr.rule, sym, data[sym], i, prices[sym], prices, d)
				}
			}
		}

		if err := book.CheckExits(prices, d, strat.Constraints, e.protectiveCloser(book)); err != nil {
			return nil, err
		}

		book.Record(d, prices)
		prev.capture(book, prices)
	}

	for _, sym := range book.Symbols() {
		last := data[sym][len(data[sym])-1]
		e.closePosition(book, sym, last.Close, last.Timestamp, models.ExitEndOfBacktest)
	}

	result := &models.PortfolioResult{
		BacktestResult: models.BacktestResult{
			StrategyID:     strat.Info.ID,
			StrategyName:   strat.Info.Name,
			StartDate:      dates[0],
			EndDate:        dates[len(dates)-1],
			InitialCapital: e.cfg.InitialCapital,
			FinalEquity:    book.Cash(),
			Parameters:     params,
			Trades:         book.Trades(),
			Snapshots:      book.Snapshots(),
		},
		Symbols:        symbols,
		WeightScheme:   scheme.Name(),
		RebalanceFreq:  e.cfg.RebalanceFreq,
		RebalanceCount: rebalances,
		WeightHistory:  weightHistory,
	}
	curve := make([]models.EquityPoint, len(result.Snapshots))
	for i, s := range result.Snapshots {
		curve[i] = models.EquityPoint{Date: s.Date, Value: s.Equity}
	}
	result.EquityCurve = curve
	if rebalances > 0 {
		result.AverageTurnover = turnoverSum / float64(rebalances)
	}
	result.PerSymbol = perSymbolResults(strat, symbols, data, book)
	ComputeMetrics(&result.BacktestResult, e.cfg.RiskFreeRate)
	return result, nil
}

// unifiedTimeline unions and sorts all symbols' timestamps, mapping
// each date back to the local bar index per symbol that trades on it.
func unifiedTimeline(symbols []string, data map[string][]models.Bar) ([]time.Time, []map[string]int) {
	seen := make(map[int64]time.Time)
	for _, sym := range symbols {
		for _, b := range data[sym] {
			seen[b.Timestamp.UnixNano()] = b.Timestamp
		}
	}
	dates := make([]time.Time, 0, len(seen))
	for _, d := range seen {
		dates = append(dates, d)
	}
	sort.Slice(dates, func(i, j int) bool { return dates[i].Before(dates[j]) })

	index := make(map[int64]int, len(dates))
	for i, d := range dates {
		index[d.UnixNano()] = i
	}
	byDate := make([]map[string]int, len(dates))
	for i := range byDate {
		byDate[i] = make(map[string]int)
	}
	for _, sym := range symbols {
		for local, b := range data[sym] {
			byDate[index[b.Timestamp.UnixNano()]][sym] = local
		}
	}
	return dates, byDate
}

func sortedSymbols(present map[string]int) []string {
	out := make([]string, 0, len(present))
	for sym := range present {
		out = append(out, sym)
	}
	sort.Strings(out)
	return out
}

func copyWeights(w map[string]float64) map[string]float64 {
	out := make(map[string]float64, len(w))
	for k, v := range w {
		out[k] = v
	}
	return out
}

// actualWeights reports each long position's share of current equity.
func (e *Engine) actualWeights(book *portfolio.Book, prices map[string]float64) map[string]float64 {
	equity := book.Equity(prices)
	out := make(map[string]float64)
	if equity <= 0 {
		return out
	}
	for _, sym := range book.Symbols() {
		pos := book.Position(sym)
		if pos.Side != models.Long {
			continue
		}
		price, ok := prices[sym]
		if !ok {
			price = pos.LastPrice
		}
		out[sym] = price * pos.Quantity / equity
	}
	return out
}

// rebalance adjusts long positions toward the target weights, sells
// before buys so freed cash funds the additions. Returns the event's
// turnover: traded value over pre-trade equity. Short positions are
// owned by the rules that opened them and are left alone.
func (e *Engine) rebalance(book *portfolio.Book, targets map[string]float64, prices map[string]float64, d time.Time) float64 {
	equity := book.Equity(prices)
	if equity <= 0 {
		return 0
	}

	type adjustment struct {
		sym string
		qty float64 // positive in both lists
	}
	var sells, buys []adjustment

	universeSyms := make(map[string]bool)
	for sym := range targets {
		universeSyms[sym] = true
	}
	for _, sym := range book.Symbols() {
		universeSyms[sym] = true
	}
	ordered := make([]string, 0, len(universeSyms))
	for sym := range universeSyms {
		ordered = append(ordered, sym)
	}
	sort.Strings(ordered)

	for _, sym := range ordered {
		price, ok := prices[sym]
		if !ok || price <= 0 {
			continue // no quote today, leave the position as is
		}
		current := 0.0
		if pos := book.Position(sym); pos != nil {
			if pos.Side == models.Short {
				continue
			}
			current = pos.Quantity
		}
		target := targets[sym] * equity / price
		delta := target - current
		if delta < minRebalanceQty && delta > -minRebalanceQty {
			continue
		}
		if delta < 0 {
			sells = append(sells, adjustment{sym: sym, qty: -delta})
		} else {
			buys = append(buys, adjustment{sym: sym, qty: delta})
		}
	}

	traded := 0.0
	for _, adj := range sells {
		price := prices[adj.sym]
		commission, slippage := e.closeCosts(models.DirectionSell, price, adj.qty)
		tr, err := book.ScaleOut(adj.sym, adj.qty, price, d, models.ExitRebalance, commission, slippage)
		if err != nil {
			e.log.Warn().Err(err).Str("symbol", adj.sym).Msg("rebalance sell rejected")
			continue
		}
		if tr != nil {
			telemetry.OrdersExecuted.WithLabelValues(models.DirectionSell).Inc()
			telemetry.TradesClosed.WithLabelValues(models.ExitRebalance).Inc()
		}
		traded += adj.qty * price
	}

	for _, adj := range buys {
		price := prices[adj.sym]
		fill, err := e.ex.Execute(models.OrderRequest{Symbol: adj.sym, Direction: models.DirectionBuy, Quantity: adj.qty, Price: price})
		if err != nil {
			e.log.Warn().Err(err).Str("symbol", adj.sym).Msg("rebalance buy rejected")
			continue
		}
		if fill == nil {
			continue
		}
		if book.Position(adj.sym) != nil {
			err = book.ScaleIn(adj.sym, fill.Quantity, price, d, fill.Commission, fill.Slippage)
		} else {
			_, err = book.Open(adj.sym, fill.Quantity, price, models.Long, d, fill.Commission, fill.Slippage, models.ExitRebalance)
		}
		if err != nil {
			e.log.Warn().Err(err).Str("symbol", adj.sym).Msg("rebalance buy rejected by bookkeeper")
			continue
		}
		telemetry.OrdersExecuted.WithLabelValues(models.DirectionBuy).Inc()
		traded += fill.Quantity * price
	}

	return traded / equity
}

// perSymbolResults attributes closed trades back to their symbols, with
// an equity curve of cumulative realized P&L booked on exit dates.
func perSymbolResults(strat *models.Strategy, symbols []string, data map[string][]models.Bar, book *portfolio.Book) map[string]*models.BacktestResult {
	bySym := make(map[string][]*models.Trade)
	for _, tr := range book.ClosedTrades() {
		bySym[tr.Symbol] = append(bySym[tr.Symbol], tr)
	}

	out := make(map[string]*models.BacktestResult, len(symbols))
	for _, sym := range symbols {
		trades := bySym[sym]
		sort.SliceStable(trades, func(i, j int) bool {
			return trades[i].ExitDate.Before(*trades[j].ExitDate)
		})
		var curve []models.EquityPoint
		cum := 0.0
		for _, tr := range trades {
			cum += tr.PnL
			curve = append(curve, models.EquityPoint{Date: *tr.ExitDate, Value: cum})
		}
		bars := data[sym]
		sub := &models.BacktestResult{
			StrategyID:   strat.Info.ID,
			StrategyName: strat.Info.Name,
			Symbol:       sym,
			StartDate:    bars[0].Timestamp,
			EndDate:      bars[len(bars)-1].Timestamp,
			FinalEquity:  cum,
			Trades:       trades,
			EquityCurve:  curve,
		}
		m := &models.PerformanceMetrics{}
		computeTradeStats(m, trades)
		sub.Metrics = m
		out[sym] = sub
	}
	return out
}
