// Package engine runs declarative strategies against historical bars
// bar-by-bar with deterministic simulation of fills, slippage, and
// commission schedules. A single run is strictly sequential; callers
// that want parallelism run independent engines per parameter set.
package engine

import (
	"errors"
	"time"

	"github.com/rs/zerolog"

	"github.com/seenimoa/backtrail/internal/exec"
	"github.com/seenimoa/backtrail/internal/indicator"
	"github.com/seenimoa/backtrail/internal/portfolio"
	"github.com/seenimoa/backtrail/internal/signal"
	"github.com/seenimoa/backtrail/internal/sizing"
	"github.com/seenimoa/backtrail/pkg/logging"
	"github.com/seenimoa/backtrail/pkg/models"
)

// ErrCanceled is returned when the caller's cancel check fires between
// bars. The run's partial state is discarded.
var ErrCanceled = errors.New("backtest canceled")

// ════════════════════════════════════════════════════════════════════
// Engine Configuration
// ════════════════════════════════════════════════════════════════════

// Config holds all parameters for a run.
type Config struct {
	InitialCapital float64               // starting capital (default 100,000)
	CommissionRate float64               // flat commission as fraction of trade value
	SlippageRate   float64               // slippage per trade as fraction (0.001 = 0.1%)
	LotSize        float64               // order quantities round down to this multiple
	Tiers          []exec.CommissionTier // tiered schedule; overrides CommissionRate when set
	RiskFreeRate   float64               // annual, for Sharpe/Sortino (default 0.065)

	// Multi-symbol runs.
	WeightScheme      string             // equal | inverse_vol | risk_parity | fixed
	FixedWeights      map[string]float64 // weight_scheme=fixed
	RebalanceFreq     string             // never | weekly | monthly | on_drift
	RebalanceDay      int                // weekly: 0=Monday .. 6=Sunday; -1 = any week start
	DriftThresholdPct float64            // on_drift: max |actual - target| weight in percent

	// Host-supplied context.
	Executor     exec.Executor                  // nil builds a BacktestExecutor from the rates above
	Registry     *indicator.Registry            // nil uses the built-in registry
	Indexes      map[string][]string            // index universe membership
	Events       map[string][]time.Time         // event signal occurrences, per event type
	Fundamentals map[string]map[string][]float64 // symbol -> metric -> bar-aligned series
	Externals    map[string]map[string][]float64 // source -> key -> series

	// CancelCheck, when set, is polled once per bar before any mutation;
	// returning true aborts the run with ErrCanceled.
	CancelCheck func() bool
}

// DefaultConfig returns the defaults used when fields are zero.
func DefaultConfig() Config {
	return Config{
		InitialCapital: 100000,
		LotSize:        1,
		RiskFreeRate:   0.065,
		WeightScheme:   WeightEqual,
		RebalanceFreq:  RebalanceNever,
		RebalanceDay:   -1,
	}
}

// ════════════════════════════════════════════════════════════════════
// Engine
// ════════════════════════════════════════════════════════════════════

// Engine runs strategies. It is stateless between runs; each Run owns a
// fresh bookkeeper and evaluator cache, so one engine may be reused for
// sequential runs and results stay bit-identical for identical inputs.
type Engine struct {
	cfg Config
	ex  exec.Executor
	bt  *exec.BacktestExecutor // non-nil when ex is the built-in executor
	reg *indicator.Registry
	log zerolog.Logger
}

// NewEngine creates an engine, filling config gaps with defaults.
func NewEngine(cfg Config) (*Engine, error) {
	def := DefaultConfig()
	if cfg.InitialCapital <= 0 {
		cfg.InitialCapital = def.InitialCapital
	}
	if cfg.LotSize <= 0 {
		cfg.LotSize = def.LotSize
	}
	if cfg.RiskFreeRate <= 0 {
		cfg.RiskFreeRate = def.RiskFreeRate
	}
	if cfg.WeightScheme == "" {
		cfg.WeightScheme = def.WeightScheme
	}
	if cfg.RebalanceFreq == "" {
		cfg.RebalanceFreq = def.RebalanceFreq
	}

	e := &Engine{
		cfg: cfg,
		reg: cfg.Registry,
		log: logging.GetLogger("engine"),
	}
	if e.reg == nil {
		e.reg = indicator.Default()
	}
	if cfg.Executor != nil {
		e.ex = cfg.Executor
		if bt, ok := cfg.Executor.(*exec.BacktestExecutor); ok {
			e.bt = bt
		}
	} else {
		bt, err := exec.NewBacktestExecutor(cfg.LotSize, cfg.SlippageRate, cfg.CommissionRate, cfg.Tiers)
		if err != nil {
			return nil, err
		}
		e.ex = bt
		e.bt = bt
	}
	return e, nil
}

func (e *Engine) canceled() bool {
	return e.cfg.CancelCheck != nil && e.cfg.CancelCheck()
}

// mergeParams overlays per-run overrides on the strategy's defaults.
func mergeParams(defaults, overrides map[string]float64) map[string]float64 {
	out := make(map[string]float64, len(defaults)+len(overrides))
	for k, v := range defaults {
		out[k] = v
	}
	for k, v := range overrides {
		out[k] = v
	}
	return out
}

// closeCosts prices the fees of closing qty at the bar close. Closes
// bypass lot rounding so a position can always be fully exited.
func (e *Engine) closeCosts(direction string, price, qty float64) (commission, slippage float64) {
	slippage = price * e.cfg.SlippageRate * qty
	fillPrice := price * (1 - e.cfg.SlippageRate)
	if direction == models.DirectionCover {
		fillPrice = price * (1 + e.cfg.SlippageRate)
	}
	if e.bt != nil {
		commission = e.bt.Commission(fillPrice, qty)
	}
	return commission, slippage
}

// closeDirection maps a position side to the exit order direction.
func closeDirection(side models.PositionSide) string {
	if side == models.Short {
		return models.DirectionCover
	}
	return models.DirectionSell
}

// ════════════════════════════════════════════════════════════════════
// Portfolio signal snapshot
// ════════════════════════════════════════════════════════════════════
//
// Portfolio signals read state as it stood at the previous bar's close.
// The runner refreshes this snapshot after each bar's record, so lazy
// rule evaluation at bar i sees bar i-1.

type positionView struct {
	qty      float64
	pnl      float64
	daysHeld float64
	short    bool
}

type portfolioState struct {
	cash      float64
	equity    float64
	exposure  float64
	unrlzd    float64
	positions map[string]positionView
}

func newPortfolioState(initialCapital float64) *portfolioState {
	return &portfolioState{
		cash:      initialCapital,
		equity:    initialCapital,
		positions: make(map[string]positionView),
	}
}

func (p *portfolioState) capture(book *portfolio.Book, prices map[string]float64) {
	p.cash = book.Cash()
	p.equity = book.Equity(prices)
	p.unrlzd = 0
	p.positions = make(map[string]positionView, book.OpenPositions())
	grossValue := 0.0
	for _, sym := range book.Symbols() {
		pos := book.Position(sym)
		p.unrlzd += pos.UnrealizedPnL
		grossValue += pos.LastPrice * pos.Quantity
		p.positions[sym] = positionView{
			qty:      pos.Quantity,
			pnl:      pos.UnrealizedPnL,
			daysHeld: pos.DaysHeld,
			short:    pos.Side == models.Short,
		}
	}
	p.exposure = 0
	if p.equity > 0 {
		p.exposure = grossValue / p.equity
	}
}

// Field implements signal.PortfolioReader.
func (p *portfolioState) Field(metric, symbol string) (float64, bool) {
	switch metric {
	case "cash":
		return p.cash, true
	case "equity":
		return p.equity, true
	case "exposure":
		return p.exposure, true
	case "unrealized_pnl":
		return p.unrlzd, true
	case "open_positions":
		return float64(len(p.positions)), true
	case "qty", "position_qty":
		return p.positions[symbol].qty, true
	case "position_pnl":
		return p.positions[symbol].pnl, true
	case "days_held":
		return p.positions[symbol].daysHeld, true
	case "is_short":
		if p.positions[symbol].short {
			return 1, true
		}
		return 0, true
	}
	return 0, false
}

// ════════════════════════════════════════════════════════════════════
// Rule compilation
// ════════════════════════════════════════════════════════════════════

// compiledRule pairs a rule with its precomputed boolean series. Rules
// whose condition reads portfolio state cannot be precomputed; they are
// marked lazy and evaluated per bar inside the loop.
type compiledRule struct {
	rule   *models.Rule
	series []bool
	lazy   bool
}

// compileRules precomputes every enabled rule it can. A rule whose
// precomputation fails is logged and pinned false for the whole run so
// one broken rule cannot abort the others.
func (e *Engine) compileRules(ctx *signal.Context, strat *models.Strategy) []compiledRule {
	out := make([]compiledRule, 0, len(strat.Rules))
	for _, rule := range strat.Rules {
		if !rule.IsEnabled() || rule.When == nil {
			continue
		}
		if signal.DependsOnPortfolio(rule.When, strat) {
			out = append(out, compiledRule{rule: rule, lazy: true})
			continue
		}
		series, err := ctx.EvalCondition(rule.When)
		if err != nil {
			e.log.Warn().Err(err).Str("rule", rule.Name).Str("symbol", ctx.Symbol).
				Msg("rule precompute failed, pinned false")
			series = make([]bool, len(ctx.Bars))
		}
		out = append(out, compiledRule{rule: rule, series: series})
	}
	return out
}

// fires reports whether the rule is true at bar i. Lazy rules evaluate
// here against the current portfolio snapshot; their per-bar errors are
// logged and read as false.
func (e *Engine) fires(ctx *signal.Context, cr compiledRule, i int) bool {
	if !cr.lazy {
		return cr.series[i]
	}
	ok, err := ctx.EvalConditionAt(cr.rule.When, i)
	if err != nil {
		e.log.Warn().Err(err).Str("rule", cr.rule.Name).Int("bar", i).
			Msg("rule evaluation failed, treated as false")
		return false
	}
	return ok
}

// sizingInputs assembles the sizing resolver's view of the run at bar i.
func (e *Engine) sizingInputs(book *portfolio.Book, symbol string, bars []models.Bar, i int, price float64, prices map[string]float64) sizing.Inputs {
	return sizing.Inputs{
		Price:    price,
		Equity:   book.Equity(prices),
		Cash:     book.Cash(),
		Position: book.Position(symbol),
		Closed:   book.ClosedTrades(),
		Bars:     bars[:i+1],
		Registry: e.reg,
	}
}
