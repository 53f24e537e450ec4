// Package models defines the core data structures shared across backtrail.
package models

import (
	"fmt"
	"math"
	"time"
)

// Bar represents a single OHLCV bar of price data. Timestamps are
// normalized to UTC on ingest; the engine treats them as opaque ordered
// instants, so any bar interval (daily, hourly, minute) works.
type Bar struct {
	Timestamp time.Time `json:"timestamp"`
	Open      float64   `json:"open"`
	High      float64   `json:"high"`
	Low       float64   `json:"low"`
	Close     float64   `json:"close"`
	Volume    float64   `json:"volume"`
}

// Price field names accepted by Column and by price() signals.
const (
	FieldOpen   = "open"
	FieldHigh   = "high"
	FieldLow    = "low"
	FieldClose  = "close"
	FieldVolume = "volume"
	FieldHL2    = "hl2"
	FieldHLC3   = "hlc3"
	FieldOHLC4  = "ohlc4"
)

// Column extracts a named price series from bars. Besides the raw OHLCV
// fields it supports the derived hl2, hlc3 and ohlc4 averages.
func Column(bars []Bar, field string) ([]float64, error) {
	out := make([]float64, len(bars))
	switch field {
	case FieldOpen:
		for i, b := range bars {
			out[i] = b.Open
		}
	case FieldHigh:
		for i, b := range bars {
			out[i] = b.High
		}
	case FieldLow:
		for i, b := range bars {
			out[i] = b.Low
		}
	case FieldClose:
		for i, b := range bars {
			out[i] = b.Close
		}
	case FieldVolume:
		for i, b := range bars {
			out[i] = b.Volume
		}
	case FieldHL2:
		for i, b := range bars {
			out[i] = (b.High + b.Low) / 2
		}
	case FieldHLC3:
		for i, b := range bars {
			out[i] = (b.High + b.Low + b.Close) / 3
		}
	case FieldOHLC4:
		for i, b := range bars {
			out[i] = (b.Open + b.High + b.Low + b.Close) / 4
		}
	default:
		return nil, NewDataError(fmt.Sprintf("unknown price field %q", field))
	}
	return out, nil
}

// ValidateBars checks the ingest invariants: a non-empty series with
// strictly increasing timestamps. Violations are DataErrors.
func ValidateBars(symbol string, bars []Bar) error {
	if len(bars) == 0 {
		return NewDataError(fmt.Sprintf("%s: empty bar series", symbol))
	}
	for i := 1; i < len(bars); i++ {
		if !bars[i].Timestamp.After(bars[i-1].Timestamp) {
			return NewDataError(fmt.Sprintf("%s: timestamps not strictly increasing at index %d (%s -> %s)",
				symbol, i, bars[i-1].Timestamp.Format(time.RFC3339), bars[i].Timestamp.Format(time.RFC3339)))
		}
	}
	return nil
}

// NormalizeBars returns a copy of bars with all timestamps converted to UTC.
func NormalizeBars(bars []Bar) []Bar {
	out := make([]Bar, len(bars))
	for i, b := range bars {
		b.Timestamp = b.Timestamp.UTC()
		out[i] = b
	}
	return out
}

// NaN is the canonical missing-value marker for numeric series.
// Warmup regions of indicators and unavailable data points are NaN;
// comparisons against NaN are false by definition.
func NaN() float64 { return math.NaN() }

// NaNSeries returns a series of length n filled with NaN.
func NaNSeries(n int) []float64 {
	out := make([]float64, n)
	for i := range out {
		out[i] = math.NaN()
	}
	return out
}
