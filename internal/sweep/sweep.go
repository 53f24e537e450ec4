// Package sweep runs a strategy across a cartesian grid of parameter
// values, one independent engine per combination, and collects the
// results for comparison.
package sweep

import (
	"runtime"
	"sort"

	"golang.org/x/sync/errgroup"

	"github.com/seenimoa/backtrail/internal/engine"
	"github.com/seenimoa/backtrail/pkg/logging"
	"github.com/seenimoa/backtrail/pkg/models"
)

// Grid maps parameter names to the candidate values to try.
type Grid map[string][]float64

// Combinations expands the grid into every parameter combination.
// Keys are iterated in sorted order so the output sequence is
// deterministic across runs.
func (g Grid) Combinations() []map[string]float64 {
	if len(g) == 0 {
		return []map[string]float64{{}}
	}

	keys := make([]string, 0, len(g))
	for k := range g {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	combos := []map[string]float64{{}}
	for _, key := range keys {
		values := g[key]
		next := make([]map[string]float64, 0, len(combos)*len(values))
		for _, base := range combos {
			for _, v := range values {
				combo := make(map[string]float64, len(base)+1)
				for bk, bv := range base {
					combo[bk] = bv
				}
				combo[key] = v
				next = append(next, combo)
			}
		}
		combos = next
	}
	return combos
}

// Size returns the number of combinations the grid expands to.
func (g Grid) Size() int {
	n := 1
	for _, values := range g {
		n *= len(values)
	}
	return n
}

// Outcome pairs one parameter combination with its backtest result.
// Err is set when that single run failed; other runs are unaffected.
type Outcome struct {
	Params map[string]float64     `json:"params"`
	Result *models.BacktestResult `json:"result,omitempty"`
	Err    error                  `json:"-"`
}

// Run executes the strategy once per grid combination against the same
// bar series. maxConcurrent limits parallel runs; 0 means GOMAXPROCS.
// Outcomes come back in grid combination order regardless of which run
// finished first.
func Run(cfg engine.Config, strat *models.Strategy, symbol string, bars []models.Bar, grid Grid, maxConcurrent int) ([]Outcome, error) {
	log := logging.GetLogger("sweep")

	combos := grid.Combinations()
	outcomes := make([]Outcome, len(combos))

	if maxConcurrent <= 0 {
		maxConcurrent = runtime.GOMAXPROCS(0)
	}
	log.Info().
		Int("combinations", len(combos)).
		Int("workers", maxConcurrent).
		Str("strategy", strat.Info.ID).
		Msg("starting parameter sweep")

	var g errgroup.Group
	g.SetLimit(maxConcurrent)
	for i, combo := range combos {
		g.Go(func() error {
			// Engines hold run state, so each combination gets its own.
			eng, err := engine.NewEngine(cfg)
			if err != nil {
				outcomes[i] = Outcome{Params: combo, Err: err}
				return nil
			}
			res, err := eng.Run(strat, symbol, bars, combo)
			outcomes[i] = Outcome{Params: combo, Result: res, Err: err}
			if err != nil {
				log.Warn().Err(err).Interface("params", combo).Msg("sweep run failed")
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return outcomes, nil
}

// Best returns the successful outcome with the highest total return,
// or nil when every run failed.
func Best(outcomes []Outcome) *Outcome {
	var best *Outcome
	for i := range outcomes {
		o := &outcomes[i]
		if o.Err != nil || o.Result == nil || o.Result.Metrics == nil {
			continue
		}
		if best == nil || o.Result.Metrics.TotalReturnPct > best.Result.Metrics.TotalReturnPct {
			best = o
		}
	}
	return best
}
