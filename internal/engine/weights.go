package engine

import (
	"math"

	"github.com/seenimoa/backtrail/pkg/models"
)

// Weight scheme names accepted in Config.WeightScheme.
const (
	WeightEqual      = "equal"
	WeightInverseVol = "inverse_vol"
	WeightRiskParity = "risk_parity"
	WeightFixed      = "fixed"
)

const (
	inverseVolLookback = 20
	riskParityLookback = 60
)

// WeightScheme computes target portfolio weights at a rebalance point.
// counts maps each symbol to the number of its bars available so far
// (bars[:count] is the history up to and including the current date);
// symbols absent from counts have no bar on the date and receive no
// weight. Returned weights sum to 1 over the symbols weighted.
type WeightScheme interface {
	Name() string
	Calculate(symbols []string, data map[string][]models.Bar, counts map[string]int) map[string]float64
}

// newWeightScheme resolves a scheme name from config.
func newWeightScheme(cfg Config) (WeightScheme, error) {
	switch cfg.WeightScheme {
	case WeightEqual, "":
		return equalWeight{}, nil
	case WeightInverseVol:
		return volWeight{lookback: inverseVolLookback, squared: false, name: WeightInverseVol}, nil
	case WeightRiskParity:
		// Inverse-variance weighting, the standard closed form when
		// cross-correlations are ignored.
		return volWeight{lookback: riskParityLookback, squared: true, name: WeightRiskParity}, nil
	case WeightFixed:
		if len(cfg.FixedWeights) == 0 {
			return nil, models.NewValidationError("fixed weight scheme needs FixedWeights")
		}
		return fixedWeight{targets: cfg.FixedWeights}, nil
	default:
		return nil, models.NewValidationError("unknown weight scheme %q", cfg.WeightScheme)
	}
}

// normalize scales weights to sum to 1; an all-zero map falls back to
// equal weights over its keys.
func normalize(w map[string]float64) map[string]float64 {
	total := 0.0
	for _, v := range w {
		total += v
	}
	if total <= 0 {
		for sym := range w {
			w[sym] = 1 / float64(len(w))
		}
		return w
	}
	for sym, v := range w {
		w[sym] = v / total
	}
	return w
}

type equalWeight struct{}

func (equalWeight) Name() string { return WeightEqual }

func (equalWeight) Calculate(symbols []string, data map[string][]models.Bar, counts map[string]int) map[string]float64 {
	out := make(map[string]float64)
	for _, sym := range symbols {
		if counts[sym] > 0 {
			out[sym] = 1
		}
	}
	return normalize(out)
}

// volWeight weights by inverse volatility (or inverse variance when
// squared) of daily close returns over a trailing window.
type volWeight struct {
	lookback int
	squared  bool
	name     string
}

func (v volWeight) Name() string { return v.name }

func (v volWeight) Calculate(symbols []string, data map[string][]models.Bar, counts map[string]int) map[string]float64 {
	out := make(map[string]float64)
	for _, sym := range symbols {
		n := counts[sym]
		if n == 0 {
			continue
		}
		vol := closeVolatility(data[sym][:n], v.lookback)
		if vol <= 0 || math.IsNaN(vol) {
			// Flat or too-short history gets a neutral unit weight.
			out[sym] = 1
			continue
		}
		if v.squared {
			out[sym] = 1 / (vol * vol)
		} else {
			out[sym] = 1 / vol
		}
	}
	return normalize(out)
}

func closeVolatility(bars []models.Bar, lookback int) float64 {
	if len(bars) > lookback+1 {
		bars = bars[len(bars)-lookback-1:]
	}
	if len(bars) < 3 {
		return 0
	}
	returns := make([]float64, 0, len(bars)-1)
	for i := 1; i < len(bars); i++ {
		if bars[i-1].Close > 0 {
			returns = append(returns, (bars[i].Close-bars[i-1].Close)/bars[i-1].Close)
		}
	}
	return stddevOf(returns)
}

type fixedWeight struct {
	targets map[string]float64
}

func (fixedWeight) Name() string { return WeightFixed }

func (f fixedWeight) Calculate(symbols []string, data map[string][]models.Bar, counts map[string]int) map[string]float64 {
	out := make(map[string]float64)
	for _, sym := range symbols {
		if counts[sym] > 0 && f.targets[sym] > 0 {
			out[sym] = f.targets[sym]
		}
	}
	return normalize(out)
}
