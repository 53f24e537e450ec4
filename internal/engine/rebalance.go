package engine

import (
	"time"

	"github.com/seenimoa/backtrail/pkg/models"
	"github.com/seenimoa/backtrail/pkg/utils"
)

// Rebalance cadence names accepted in Config.RebalanceFreq.
const (
	RebalanceNever   = "never"
	RebalanceWeekly  = "weekly"
	RebalanceMonthly = "monthly"
	RebalanceDrift   = "on_drift"
)

// cadence decides whether a unified date triggers a rebalance. The
// initial allocation on the first date always rebalances regardless of
// cadence; Due is only consulted afterwards. Drift-based cadences also
// compare actual weights to targets via Drifted.
type cadence interface {
	Due(d, prev time.Time) bool
}

func newCadence(cfg Config) (cadence, error) {
	switch cfg.RebalanceFreq {
	case RebalanceNever, "":
		return neverCadence{}, nil
	case RebalanceWeekly:
		if cfg.RebalanceDay < -1 || cfg.RebalanceDay > 6 {
			return nil, models.NewValidationError("rebalance day %d out of range", cfg.RebalanceDay)
		}
		return weeklyCadence{day: cfg.RebalanceDay}, nil
	case RebalanceMonthly:
		return monthlyCadence{}, nil
	case RebalanceDrift:
		threshold := cfg.DriftThresholdPct
		if threshold <= 0 {
			threshold = 5
		}
		return driftCadence{thresholdPct: threshold}, nil
	default:
		return nil, models.NewValidationError("unknown rebalance frequency %q", cfg.RebalanceFreq)
	}
}

type neverCadence struct{}

func (neverCadence) Due(d, prev time.Time) bool { return false }

// weeklyCadence fires on a chosen weekday (0=Monday), or on the first
// trading day of each ISO week when no day is pinned.
type weeklyCadence struct {
	day int
}

func (c weeklyCadence) Due(d, prev time.Time) bool {
	if c.day >= 0 {
		return utils.WeekdayIndex(d) == c.day && utils.WeekdayIndex(prev) != c.day
	}
	return !utils.SameISOWeek(prev, d)
}

// monthlyCadence fires on the first trading day of each month.
type monthlyCadence struct{}

func (monthlyCadence) Due(d, prev time.Time) bool {
	return !utils.SameMonth(prev, d)
}

// driftCadence never fires on the calendar; the runner checks Drifted
// against current weights instead.
type driftCadence struct {
	thresholdPct float64
}

func (driftCadence) Due(d, prev time.Time) bool { return false }

// Drifted reports whether any actual weight strays from its target by
// more than the threshold.
func (c driftCadence) Drifted(actual, target map[string]float64) bool {
	for sym, want := range target {
		diff := actual[sym] - want
		if diff < 0 {
			diff = -diff
		}
		if diff*100 > c.thresholdPct {
			return true
		}
	}
	return false
}
