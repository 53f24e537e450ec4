package signal

import (
	"time"

	"github.com/seenimoa/backtrail/pkg/models"
	"github.com/seenimoa/backtrail/pkg/utils"
)

// Calendar fields. dayofweek uses the Monday=0 .. Sunday=6 convention.
// The boundary flags are relative to the bar series itself: the first
// bar of a month in the series is that month's start, whatever its
// calendar day.
const (
	CalDayOfWeek      = "dayofweek"
	CalDay            = "day"
	CalMonth          = "month"
	CalWeek           = "week"
	CalQuarter        = "quarter"
	CalIsMonthStart   = "is_month_start"
	CalIsMonthEnd     = "is_month_end"
	CalIsQuarterStart = "is_quarter_start"
	CalIsQuarterEnd   = "is_quarter_end"
	CalIsWeekStart    = "is_week_start"
	CalIsWeekEnd      = "is_week_end"
)

func (c *Context) evalCalendar(s *models.Signal) ([]float64, error) {
	n := c.n()
	out := make([]float64, n)

	switch s.Field {
	case CalDayOfWeek:
		for i, b := range c.Bars {
			out[i] = float64(utils.WeekdayIndex(b.Timestamp))
		}
	case CalDay:
		for i, b := range c.Bars {
			out[i] = float64(b.Timestamp.UTC().Day())
		}
	case CalMonth:
		for i, b := range c.Bars {
			out[i] = float64(int(b.Timestamp.UTC().Month()))
		}
	case CalWeek:
		for i, b := range c.Bars {
			_, w := b.Timestamp.UTC().ISOWeek()
			out[i] = float64(w)
		}
	case CalQuarter:
		for i, b := range c.Bars {
			out[i] = float64(utils.Quarter(b.Timestamp))
		}
	case CalIsMonthStart:
		c.boundaryFlag(out, utils.SameMonth, true)
	case CalIsMonthEnd:
		c.boundaryFlag(out, utils.SameMonth, false)
	case CalIsQuarterStart:
		c.boundaryFlag(out, utils.SameQuarter, true)
	case CalIsQuarterEnd:
		c.boundaryFlag(out, utils.SameQuarter, false)
	case CalIsWeekStart:
		c.boundaryFlag(out, utils.SameISOWeek, true)
	case CalIsWeekEnd:
		c.boundaryFlag(out, utils.SameISOWeek, false)
	default:
		return nil, models.NewValidationError("unknown calendar field %q", s.Field)
	}
	return out, nil
}

// boundaryFlag marks bars that open (start=true) or close (start=false)
// a same-period group in the series.
func (c *Context) boundaryFlag(out []float64, samePeriod func(a, b time.Time) bool, start bool) {
	n := len(c.Bars)
	for i := 0; i < n; i++ {
		if start {
			if i == 0 || !samePeriod(c.Bars[i-1].Timestamp, c.Bars[i].Timestamp) {
				out[i] = 1
			}
		} else {
			if i == n-1 || !samePeriod(c.Bars[i].Timestamp, c.Bars[i+1].Timestamp) {
				out[i] = 1
			}
		}
	}
}
