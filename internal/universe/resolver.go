// Package universe maps a strategy's universe spec to the concrete set
// of symbols a run trades.
package universe

import (
	"math"
	"sort"

	"github.com/seenimoa/backtrail/internal/indicator"
	"github.com/seenimoa/backtrail/internal/signal"
	"github.com/seenimoa/backtrail/pkg/models"
)

// Resolver turns universe specs into symbol lists. Indexes supplies
// constituent lists for index universes; the registry backs screener
// filter and ranking evaluation.
type Resolver struct {
	Indexes  map[string][]string
	Registry *indicator.Registry
}

// Selection is a resolved universe. Plain universes land entirely in
// Long; dual universes carry both sides.
type Selection struct {
	Long  []string
	Short []string
}

// All returns the union of both sides, sorted and deduplicated.
func (s *Selection) All() []string {
	seen := make(map[string]bool, len(s.Long)+len(s.Short))
	for _, sym := range s.Long {
		seen[sym] = true
	}
	for _, sym := range s.Short {
		seen[sym] = true
	}
	out := make([]string, 0, len(seen))
	for sym := range seen {
		out = append(out, sym)
	}
	sort.Strings(out)
	return out
}

// Resolve evaluates the universe spec against the loaded bar data.
// strat and params back screener filters, which may reference the
// strategy's signal library and parameters.
func (r *Resolver) Resolve(u *models.Universe, strat *models.Strategy, params map[string]float64, data map[string][]models.Bar) (*Selection, error) {
	if u == nil {
		return nil, models.NewValidationError("strategy has no universe")
	}
	if u.Type == models.UniverseDual {
		if u.Long == nil || u.Short == nil {
			return nil, models.NewValidationError("dual universe needs both long and short sides")
		}
		long, err := r.resolveSet(u.Long, strat, params, data)
		if err != nil {
			return nil, err
		}
		short, err := r.resolveSet(u.Short, strat, params, data)
		if err != nil {
			return nil, err
		}
		return &Selection{Long: long, Short: short}, nil
	}
	symbols, err := r.resolveSet(u, strat, params, data)
	if err != nil {
		return nil, err
	}
	return &Selection{Long: symbols}, nil
}

func (r *Resolver) resolveSet(u *models.Universe, strat *models.Strategy, params map[string]float64, data map[string][]models.Bar) ([]string, error) {
	switch u.Type {
	case models.UniverseStatic:
		if len(u.Symbols) == 0 {
			return nil, models.NewValidationError("static universe has no symbols")
		}
		return append([]string(nil), u.Symbols...), nil

	case models.UniverseIndex:
		members, ok := r.Indexes[u.Index]
		if !ok {
			return nil, models.NewValidationError("unknown index %q", u.Index)
		}
		return append([]string(nil), members...), nil

	case models.UniverseScreener:
		return r.screen(u, strat, params, data)

	case models.UniverseDual:
		// Nested dual flattens to the union of its sides.
		long, err := r.resolveSet(u.Long, strat, params, data)
		if err != nil {
			return nil, err
		}
		short, err := r.resolveSet(u.Short, strat, params, data)
		if err != nil {
			return nil, err
		}
		return (&Selection{Long: long, Short: short}).All(), nil

	default:
		return nil, models.NewValidationError("unknown universe type %q", u.Type)
	}
}

// screen narrows a base universe: symbols without data are dropped,
// each filter must be true at the symbol's most recent bar, and an
// optional ranking signal orders the survivors before the limit cut.
func (r *Resolver) screen(u *models.Universe, strat *models.Strategy, params map[string]float64, data map[string][]models.Bar) ([]string, error) {
	if u.Base == nil {
		return nil, models.NewValidationError("screener universe needs a base")
	}
	base, err := r.resolveSet(u.Base, strat, params, data)
	if err != nil {
		return nil, err
	}

	type ranked struct {
		symbol string
		score  float64
	}
	var survivors []ranked

	for _, sym := range base {
		bars := data[sym]
		if len(bars) == 0 {
			continue
		}
		ctx := signal.NewContext(sym, bars, strat, params, r.Registry)
		last := len(bars) - 1

		keep := true
		for _, filter := range u.Filters {
			series, err := ctx.EvalCondition(filter)
			if err != nil {
				return nil, err
			}
			if !series[last] {
				keep = false
				break
			}
		}
		if !keep {
			continue
		}

		score := math.NaN()
		if u.RankBy != nil {
			series, err := ctx.EvalSignal(u.RankBy)
			if err != nil {
				return nil, err
			}
			score = series[last]
		}
		survivors = append(survivors, ranked{symbol: sym, score: score})
	}

	if u.RankBy != nil {
		asc := u.Order == "asc"
		sort.SliceStable(survivors, func(i, j int) bool {
			a, b := survivors[i], survivors[j]
			// NaN scores sink to the bottom regardless of direction.
			if math.IsNaN(a.score) {
				return false
			}
			if math.IsNaN(b.score) {
				return true
			}
			if a.score != b.score {
				if asc {
					return a.score < b.score
				}
				return a.score > b.score
			}
			return a.symbol < b.symbol
		})
	}

	if u.Limit > 0 && len(survivors) > u.Limit {
		survivors = survivors[:u.Limit]
	}

	out := make([]string, len(survivors))
	for i, s := range survivors {
		out[i] = s.symbol
	}
	return out, nil
}
