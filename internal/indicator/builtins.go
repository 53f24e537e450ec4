package indicator

import (
	"math"

	"github.com/seenimoa/backtrail/pkg/models"
)

// ════════════════════════════════════════════════════════════════════
// Built-in Indicator Library
// ════════════════════════════════════════════════════════════════════
//
// Numerics follow the conventional definitions: Wilder smoothing for
// RSI/ATR, SMA-seeded EMA, population stddev for Bollinger. Warmup
// regions are NaN rather than zero so that comparisons in warmup never
// fire a rule.

func registerBuiltins(r *Registry) {
	must := func(def *Definition) {
		if err := r.Register(def); err != nil {
			panic(err)
		}
	}

	must(&Definition{
		Name:   "sma",
		Params: []ParamDef{{Name: "period", Default: 20, Min: 1}},
		Inputs: InputSource,
		Compute: func(in Input) (map[string][]float64, error) {
			return single(smaSeries(in.Source, period(in))), nil
		},
	})
	must(&Definition{
		Name:   "ema",
		Params: []ParamDef{{Name: "period", Default: 20, Min: 1}},
		Inputs: InputSource,
		Compute: func(in Input) (map[string][]float64, error) {
			return single(emaSeries(in.Source, period(in))), nil
		},
	})
	must(&Definition{
		Name:   "wma",
		Params: []ParamDef{{Name: "period", Default: 20, Min: 1}},
		Inputs: InputSource,
		Compute: func(in Input) (map[string][]float64, error) {
			return single(wmaSeries(in.Source, period(in))), nil
		},
	})
	must(&Definition{
		Name:   "rsi",
		Params: []ParamDef{{Name: "period", Default: 14, Min: 1}},
		Inputs: InputSource,
		Compute: func(in Input) (map[string][]float64, error) {
			return single(rsiSeries(in.Source, period(in))), nil
		},
	})
	must(&Definition{
		Name: "macd",
		Params: []ParamDef{
			{Name: "fast", Default: 12, Min: 1},
			{Name: "slow", Default: 26, Min: 1},
			{Name: "signal", Default: 9, Min: 1},
		},
		Inputs:           InputSource,
		Components:       []string{"macd", "signal", "histogram"},
		DefaultComponent: "macd",
		Compute: func(in Input) (map[string][]float64, error) {
			return macdSeries(in.Source, int(in.Params["fast"]), int(in.Params["slow"]), int(in.Params["signal"])), nil
		},
	})
	must(&Definition{
		Name: "bb",
		Params: []ParamDef{
			{Name: "period", Default: 20, Min: 1},
			{Name: "mult", Default: 2, Min: 0},
		},
		Inputs:           InputSource,
		Components:       []string{"upper", "middle", "lower"},
		DefaultComponent: "middle",
		Compute: func(in Input) (map[string][]float64, error) {
			return bollingerSeries(in.Source, period(in), in.Params["mult"]), nil
		},
	})
	must(&Definition{
		Name:   "atr",
		Params: []ParamDef{{Name: "period", Default: 14, Min: 1}},
		Inputs: InputBars,
		Compute: func(in Input) (map[string][]float64, error) {
			return single(atrSeries(in.Bars, period(in))), nil
		},
	})
	must(&Definition{
		Name: "supertrend",
		Params: []ParamDef{
			{Name: "period", Default: 7, Min: 1},
			{Name: "mult", Default: 3, Min: 0},
		},
		Inputs:           InputBars,
		Components:       []string{"value", "trend"},
		DefaultComponent: "value",
		Compute: func(in Input) (map[string][]float64, error) {
			return superTrendSeries(in.Bars, period(in), in.Params["mult"]), nil
		},
	})
	must(&Definition{
		Name:   "vwap",
		Inputs: InputBars,
		Compute: func(in Input) (map[string][]float64, error) {
			return single(vwapSeries(in.Bars)), nil
		},
	})
	must(&Definition{
		Name: "stoch",
		Params: []ParamDef{
			{Name: "k_period", Default: 14, Min: 1},
			{Name: "d_period", Default: 3, Min: 1},
		},
		Inputs:           InputBars,
		Components:       []string{"k", "d"},
		DefaultComponent: "k",
		Compute: func(in Input) (map[string][]float64, error) {
			return stochasticSeries(in.Bars, int(in.Params["k_period"]), int(in.Params["d_period"])), nil
		},
	})
	must(&Definition{
		Name:   "roc",
		Params: []ParamDef{{Name: "period", Default: 12, Min: 1}},
		Inputs: InputSource,
		Compute: func(in Input) (map[string][]float64, error) {
			return single(rocSeries(in.Source, period(in))), nil
		},
	})
	must(&Definition{
		Name: "kama",
		Params: []ParamDef{
			{Name: "period", Default: 10, Min: 1},
			{Name: "fast", Default: 2, Min: 1},
			{Name: "slow", Default: 30, Min: 1},
		},
		Inputs: InputSource,
		Compute: func(in Input) (map[string][]float64, error) {
			return single(kamaSeries(in.Source, period(in), int(in.Params["fast"]), int(in.Params["slow"]))), nil
		},
	})
	must(&Definition{
		Name: "psar",
		Params: []ParamDef{
			{Name: "step", Default: 0.02, Min: 0},
			{Name: "max", Default: 0.2, Min: 0},
		},
		Inputs: InputBars,
		Compute: func(in Input) (map[string][]float64, error) {
			return single(psarSeries(in.Bars, in.Params["step"], in.Params["max"])), nil
		},
	})
	must(&Definition{
		Name:   "obv",
		Inputs: InputBars,
		Compute: func(in Input) (map[string][]float64, error) {
			return single(obvSeries(in.Bars)), nil
		},
	})
	must(&Definition{
		Name:   "highest",
		Params: []ParamDef{{Name: "period", Default: 20, Min: 1}},
		Inputs: InputSource,
		Compute: func(in Input) (map[string][]float64, error) {
			return single(rollingExtreme(in.Source, period(in), true)), nil
		},
	})
	must(&Definition{
		Name:   "lowest",
		Params: []ParamDef{{Name: "period", Default: 20, Min: 1}},
		Inputs: InputSource,
		Compute: func(in Input) (map[string][]float64, error) {
			return single(rollingExtreme(in.Source, period(in), false)), nil
		},
	})
	must(&Definition{
		Name:   "stddev",
		Params: []ParamDef{{Name: "period", Default: 20, Min: 1}},
		Inputs: InputSource,
		Compute: func(in Input) (map[string][]float64, error) {
			return single(rollingStddev(in.Source, period(in))), nil
		},
	})
}

func period(in Input) int { return int(in.Params["period"]) }

func single(series []float64) map[string][]float64 {
	return map[string][]float64{"value": series}
}

// ────────────────────────────────────────────────────────────────────
// Moving averages
// ────────────────────────────────────────────────────────────────────

func smaSeries(src []float64, period int) []float64 {
	n := len(src)
	out := models.NaNSeries(n)
	if n < period {
		return out
	}
	// Rolling sum keeps this O(n).
	sum := 0.0
	for i := 0; i < period; i++ {
		sum += src[i]
	}
	out[period-1] = sum / float64(period)
	for i := period; i < n; i++ {
		sum += src[i] - src[i-period]
		out[i] = sum / float64(period)
	}
	return out
}

func emaSeries(src []float64, period int) []float64 {
	n := len(src)
	out := models.NaNSeries(n)
	if n < period {
		return out
	}
	k := 2.0 / float64(period+1)

	// Seed with the SMA of the first period values.
	sum := 0.0
	for i := 0; i < period; i++ {
		sum += src[i]
	}
	out[period-1] = sum / float64(period)
	for i := period; i < n; i++ {
		out[i] = src[i]*k + out[i-1]*(1-k)
	}
	return out
}

func wmaSeries(src []float64, period int) []float64 {
	n := len(src)
	out := models.NaNSeries(n)
	if n < period {
		return out
	}
	denom := float64(period*(period+1)) / 2
	for i := period - 1; i < n; i++ {
		sum := 0.0
		for j := 0; j < period; j++ {
			sum += src[i-j] * float64(period-j)
		}
		out[i] = sum / denom
	}
	return out
}

func kamaSeries(src []float64, period, fast, slow int) []float64 {
	n := len(src)
	out := models.NaNSeries(n)
	if n < period {
		return out
	}
	fastSC := 2.0 / float64(fast+1)
	slowSC := 2.0 / float64(slow+1)

	out[period-1] = src[period-1]
	for i := period; i < n; i++ {
		change := math.Abs(src[i] - src[i-period])
		volatility := 0.0
		for j := i - period + 1; j <= i; j++ {
			volatility += math.Abs(src[j] - src[j-1])
		}
		er := 0.0
		if volatility > 0 {
			er = change / volatility
		}
		sc := er*(fastSC-slowSC) + slowSC
		sc *= sc
		out[i] = out[i-1] + sc*(src[i]-out[i-1])
	}
	return out
}

// ────────────────────────────────────────────────────────────────────
// Oscillators
// ────────────────────────────────────────────────────────────────────

func rsiSeries(src []float64, period int) []float64 {
	n := len(src)
	out := models.NaNSeries(n)
	if n < period+1 {
		return out
	}

	var avgGain, avgLoss float64
	for i := 1; i <= period; i++ {
		change := src[i] - src[i-1]
		if change > 0 {
			avgGain += change
		} else {
			avgLoss += -change
		}
	}
	avgGain /= float64(period)
	avgLoss /= float64(period)
	out[period] = rsiValue(avgGain, avgLoss)

	// Wilder smoothing for subsequent values.
	for i := period + 1; i < n; i++ {
		change := src[i] - src[i-1]
		gain, loss := 0.0, 0.0
		if change > 0 {
			gain = change
		} else {
			loss = -change
		}
		avgGain = (avgGain*float64(period-1) + gain) / float64(period)
		avgLoss = (avgLoss*float64(period-1) + loss) / float64(period)
		out[i] = rsiValue(avgGain, avgLoss)
	}
	return out
}

func rsiValue(avgGain, avgLoss float64) float64 {
	if avgLoss == 0 {
		return 100
	}
	rs := avgGain / avgLoss
	return 100 - (100 / (1 + rs))
}

func macdSeries(src []float64, fast, slow, signal int) map[string][]float64 {
	n := len(src)
	fastEMA := emaSeries(src, fast)
	slowEMA := emaSeries(src, slow)

	macd := make([]float64, n)
	for i := 0; i < n; i++ {
		macd[i] = fastEMA[i] - slowEMA[i]
	}

	// The signal line is an EMA of the defined part of the MACD line.
	sig := models.NaNSeries(n)
	start := firstDefined(macd)
	if start >= 0 {
		tail := emaSeries(macd[start:], signal)
		copy(sig[start:], tail)
	}

	hist := make([]float64, n)
	for i := 0; i < n; i++ {
		hist[i] = macd[i] - sig[i]
	}
	return map[string][]float64{"macd": macd, "signal": sig, "histogram": hist}
}

func stochasticSeries(bars []models.Bar, kPeriod, dPeriod int) map[string][]float64 {
	n := len(bars)
	k := models.NaNSeries(n)
	for i := kPeriod - 1; i < n; i++ {
		hi, lo := bars[i].High, bars[i].Low
		for j := i - kPeriod + 1; j <= i; j++ {
			hi = math.Max(hi, bars[j].High)
			lo = math.Min(lo, bars[j].Low)
		}
		if hi == lo {
			k[i] = 50
		} else {
			k[i] = 100 * (bars[i].Close - lo) / (hi - lo)
		}
	}

	d := models.NaNSeries(n)
	start := firstDefined(k)
	if start >= 0 {
		tail := smaSeries(k[start:], dPeriod)
		copy(d[start:], tail)
	}
	return map[string][]float64{"k": k, "d": d}
}

func rocSeries(src []float64, period int) []float64 {
	n := len(src)
	out := models.NaNSeries(n)
	for i := period; i < n; i++ {
		if src[i-period] == 0 {
			continue
		}
		out[i] = 100 * (src[i]/src[i-period] - 1)
	}
	return out
}

// ────────────────────────────────────────────────────────────────────
// Volatility and bands
// ────────────────────────────────────────────────────────────────────

func bollingerSeries(src []float64, period int, mult float64) map[string][]float64 {
	n := len(src)
	upper := models.NaNSeries(n)
	middle := models.NaNSeries(n)
	lower := models.NaNSeries(n)
	for i := period - 1; i < n; i++ {
		window := src[i-period+1 : i+1]
		mean := meanOf(window)
		sd := stddevOf(window, mean)
		middle[i] = mean
		upper[i] = mean + mult*sd
		lower[i] = mean - mult*sd
	}
	return map[string][]float64{"upper": upper, "middle": middle, "lower": lower}
}

func trueRanges(bars []models.Bar) []float64 {
	n := len(bars)
	tr := make([]float64, n)
	if n == 0 {
		return tr
	}
	tr[0] = bars[0].High - bars[0].Low
	for i := 1; i < n; i++ {
		hl := bars[i].High - bars[i].Low
		hc := math.Abs(bars[i].High - bars[i-1].Close)
		lc := math.Abs(bars[i].Low - bars[i-1].Close)
		tr[i] = math.Max(hl, math.Max(hc, lc))
	}
	return tr
}

func atrSeries(bars []models.Bar, period int) []float64 {
	n := len(bars)
	out := models.NaNSeries(n)
	if n < period {
		return out
	}
	tr := trueRanges(bars)

	// First ATR is the simple average of the first period true ranges,
	// then Wilder smoothing.
	sum := 0.0
	for i := 0; i < period; i++ {
		sum += tr[i]
	}
	out[period-1] = sum / float64(period)
	for i := period; i < n; i++ {
		out[i] = (out[i-1]*float64(period-1) + tr[i]) / float64(period)
	}
	return out
}

func superTrendSeries(bars []models.Bar, period int, mult float64) map[string][]float64 {
	n := len(bars)
	value := models.NaNSeries(n)
	trend := models.NaNSeries(n)
	if n < period {
		return map[string][]float64{"value": value, "trend": trend}
	}
	atr := atrSeries(bars, period)

	upper := make([]float64, n)
	lower := make([]float64, n)
	for i := period - 1; i < n; i++ {
		mid := (bars[i].High + bars[i].Low) / 2
		upper[i] = mid + mult*atr[i]
		lower[i] = mid - mult*atr[i]
	}

	// Band ratchet: bands only tighten while price stays on their side.
	for i := period; i < n; i++ {
		if lower[i] < lower[i-1] && bars[i-1].Close >= lower[i-1] {
			lower[i] = lower[i-1]
		}
		if upper[i] > upper[i-1] && bars[i-1].Close <= upper[i-1] {
			upper[i] = upper[i-1]
		}
	}

	for i := period - 1; i < n; i++ {
		if i == period-1 {
			if bars[i].Close > upper[i] {
				value[i], trend[i] = lower[i], 1
			} else {
				value[i], trend[i] = upper[i], -1
			}
			continue
		}
		if trend[i-1] == 1 {
			if bars[i].Close < lower[i] {
				value[i], trend[i] = upper[i], -1
			} else {
				value[i], trend[i] = lower[i], 1
			}
		} else {
			if bars[i].Close > upper[i] {
				value[i], trend[i] = lower[i], 1
			} else {
				value[i], trend[i] = upper[i], -1
			}
		}
	}
	return map[string][]float64{"value": value, "trend": trend}
}

func psarSeries(bars []models.Bar, step, max float64) []float64 {
	n := len(bars)
	out := models.NaNSeries(n)
	if n < 2 {
		return out
	}

	uptrend := bars[1].Close >= bars[0].Close
	af := step
	var sar, ep float64
	if uptrend {
		sar, ep = bars[0].Low, bars[1].High
	} else {
		sar, ep = bars[0].High, bars[1].Low
	}
	out[1] = sar

	for i := 2; i < n; i++ {
		sar = sar + af*(ep-sar)
		if uptrend {
			// SAR may not enter the prior two bars' range.
			sar = math.Min(sar, math.Min(bars[i-1].Low, bars[i-2].Low))
			if bars[i].Low < sar {
				uptrend = false
				sar = ep
				ep = bars[i].Low
				af = step
			} else if bars[i].High > ep {
				ep = bars[i].High
				af = math.Min(af+step, max)
			}
		} else {
			sar = math.Max(sar, math.Max(bars[i-1].High, bars[i-2].High))
			if bars[i].High > sar {
				uptrend = true
				sar = ep
				ep = bars[i].High
				af = step
			} else if bars[i].Low < ep {
				ep = bars[i].Low
				af = math.Min(af+step, max)
			}
		}
		out[i] = sar
	}
	return out
}

// ────────────────────────────────────────────────────────────────────
// Volume
// ────────────────────────────────────────────────────────────────────

func vwapSeries(bars []models.Bar) []float64 {
	n := len(bars)
	out := models.NaNSeries(n)
	var cumPV, cumVol float64
	for i, b := range bars {
		typical := (b.High + b.Low + b.Close) / 3
		cumPV += typical * b.Volume
		cumVol += b.Volume
		if cumVol > 0 {
			out[i] = cumPV / cumVol
		}
	}
	return out
}

func obvSeries(bars []models.Bar) []float64 {
	n := len(bars)
	out := make([]float64, n)
	if n == 0 {
		return out
	}
	for i := 1; i < n; i++ {
		switch {
		case bars[i].Close > bars[i-1].Close:
			out[i] = out[i-1] + bars[i].Volume
		case bars[i].Close < bars[i-1].Close:
			out[i] = out[i-1] - bars[i].Volume
		default:
			out[i] = out[i-1]
		}
	}
	return out
}

// ────────────────────────────────────────────────────────────────────
// Rolling statistics
// ────────────────────────────────────────────────────────────────────

func rollingExtreme(src []float64, period int, highest bool) []float64 {
	n := len(src)
	out := models.NaNSeries(n)
	for i := period - 1; i < n; i++ {
		ext := src[i]
		for j := i - period + 1; j < i; j++ {
			if highest && src[j] > ext {
				ext = src[j]
			} else if !highest && src[j] < ext {
				ext = src[j]
			}
		}
		out[i] = ext
	}
	return out
}

func rollingStddev(src []float64, period int) []float64 {
	n := len(src)
	out := models.NaNSeries(n)
	for i := period - 1; i < n; i++ {
		window := src[i-period+1 : i+1]
		out[i] = stddevOf(window, meanOf(window))
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

func stddevOf(data []float64, mean float64) float64 {
	if len(data) == 0 {
		return 0
	}
	sumSq := 0.0
	for _, v := range data {
		d := v - mean
		sumSq += d * d
	}
	return math.Sqrt(sumSq / float64(len(data)))
}

func firstDefined(series []float64) int {
	for i, v := range series {
		if !math.IsNaN(v) {
			return i
		}
	}
	return -1
}
