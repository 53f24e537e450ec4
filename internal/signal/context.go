// Package signal evaluates declarative signal and condition trees over
// a bar series. Evaluation is lazy and memoized: each structurally
// distinct signal computes once per run, portfolio signals excepted
// (they read live bookkeeper state and are never cached).
package signal

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/seenimoa/backtrail/internal/expr"
	"github.com/seenimoa/backtrail/internal/indicator"
	"github.com/seenimoa/backtrail/pkg/models"
	"github.com/seenimoa/backtrail/pkg/utils"
)

// PortfolioReader exposes bookkeeper state to portfolio signals. The
// runner backs this with a snapshot taken at the previous bar's close,
// so rules never see intra-bar state.
type PortfolioReader interface {
	// Field returns the named portfolio metric. symbol qualifies
	// per-position metrics (qty, days_held, position_pnl) and is empty
	// for account-level ones (cash, equity, exposure...).
	Field(metric, symbol string) (float64, bool)
}

// Context holds everything needed to evaluate signals for one symbol.
type Context struct {
	Symbol   string
	Bars     []models.Bar
	Params   map[string]float64
	Registry *indicator.Registry

	// Optional host-supplied data.
	Events       map[string][]time.Time          // event type -> occurrence dates
	Fundamentals map[string][]float64            // metric -> bar-aligned series
	Externals    map[string]map[string][]float64 // source -> key -> series
	Portfolio    PortfolioReader

	// Library resolves $refs ("#/signals/NAME", "#/conditions/NAME").
	Library *models.Strategy

	cache     map[string][]float64
	resolving map[string]bool
}

// NewContext builds an evaluation context. params must already include
// any override merge; strat may be nil for standalone evaluation.
func NewContext(symbol string, bars []models.Bar, strat *models.Strategy, params map[string]float64, reg *indicator.Registry) *Context {
	if reg == nil {
		reg = indicator.Default()
	}
	return &Context{
		Symbol:    symbol,
		Bars:      bars,
		Params:    params,
		Registry:  reg,
		Library:   strat,
		cache:     make(map[string][]float64),
		resolving: make(map[string]bool),
	}
}

// Reset drops all memoized series. Call between runs that reuse a
// context with different parameters.
func (c *Context) Reset() {
	c.cache = make(map[string][]float64)
	c.resolving = make(map[string]bool)
}

func (c *Context) n() int { return len(c.Bars) }

func (c *Context) broadcast(v float64) []float64 {
	out := make([]float64, c.n())
	for i := range out {
		out[i] = v
	}
	return out
}

// ════════════════════════════════════════════════════════════════════
// Signal evaluation
// ════════════════════════════════════════════════════════════════════

// EvalSignal evaluates a signal node to a bar-aligned numeric series.
// Portfolio signals broadcast the reader's current scalar and bypass
// the cache.
func (c *Context) EvalSignal(s *models.Signal) ([]float64, error) {
	if s == nil {
		return nil, models.NewValidationError("nil signal node")
	}
	if s.Type == models.SignalPortfolio {
		return c.evalPortfolio(s)
	}

	key := signalKey(s)
	if series, ok := c.cache[key]; ok {
		return series, nil
	}
	series, err := c.evalSignalUncached(s)
	if err != nil {
		return nil, err
	}
	c.cache[key] = series
	return series, nil
}

func (c *Context) evalSignalUncached(s *models.Signal) ([]float64, error) {
	switch s.Type {
	case models.SignalPrice:
		return c.evalPrice(s)
	case models.SignalIndicator:
		return c.evalIndicator(s)
	case models.SignalConstant:
		return c.evalConstant(s)
	case models.SignalCalendar:
		return c.evalCalendar(s)
	case models.SignalEvent:
		return c.evalEvent(s)
	case models.SignalFundamental:
		return c.evalFundamental(s)
	case models.SignalExternal:
		return c.evalExternal(s)
	case models.SignalExpr:
		return expr.EvalFormula(s.Formula, &exprEnv{c: c})
	case models.SignalRef:
		return c.evalSignalRef(s.Ref)
	default:
		return nil, models.NewValidationError("unknown signal type %q", s.Type)
	}
}

func (c *Context) evalPrice(s *models.Signal) ([]float64, error) {
	field := s.Field
	if field == "" {
		field = models.FieldClose
	}
	series, err := models.Column(c.Bars, field)
	if err != nil {
		return nil, err
	}
	if s.Offset < 0 {
		return nil, models.NewValidationError("price offset must be >= 0, got %d", s.Offset)
	}
	return shiftBack(series, s.Offset), nil
}

func (c *Context) evalIndicator(s *models.Signal) ([]float64, error) {
	params, source, err := c.resolveIndicatorParams(s.Name, s.Params)
	if err != nil {
		return nil, err
	}
	return c.indicatorSeries(s.Name, s.Component, params, source)
}

// resolveIndicatorParams converts the raw param map (numbers or "$name"
// strings) into resolved numerics plus the optional source column.
func (c *Context) resolveIndicatorParams(name string, raw map[string]any) (map[string]float64, string, error) {
	params := make(map[string]float64, len(raw))
	source := ""
	for k, v := range raw {
		switch val := v.(type) {
		case float64:
			params[k] = val
		case int:
			params[k] = float64(val)
		case string:
			if strings.HasPrefix(val, "$") {
				pv, err := c.paramValue(val[1:])
				if err != nil {
					return nil, "", err
				}
				params[k] = pv
			} else if k == "source" {
				source = val
			} else {
				return nil, "", models.NewIndicatorError(name, "parameter %q: string value %q is neither a $param nor a source", k, val)
			}
		default:
			return nil, "", models.NewIndicatorError(name, "parameter %q has unsupported type %T", k, v)
		}
	}
	return params, source, nil
}

// indicatorSeries computes one indicator component with caching. source
// names a price column; empty means close.
func (c *Context) indicatorSeries(name, component string, params map[string]float64, source string) ([]float64, error) {
	key := indicatorKey(name, component, params, source)
	if series, ok := c.cache[key]; ok {
		return series, nil
	}

	var src []float64
	if source != "" {
		var err error
		src, err = models.Column(c.Bars, source)
		if err != nil {
			return nil, err
		}
	}
	series, err := c.Registry.ComputeComponent(name, component, c.Bars, src, params)
	if err != nil {
		return nil, err
	}
	c.cache[key] = series
	return series, nil
}

func (c *Context) evalConstant(s *models.Signal) ([]float64, error) {
	if s.Param != "" {
		v, err := c.paramValue(strings.TrimPrefix(s.Param, "$"))
		if err != nil {
			return nil, err
		}
		return c.broadcast(v), nil
	}
	if s.Value == nil {
		return nil, models.NewValidationError("constant signal needs a value or a param")
	}
	return c.broadcast(*s.Value), nil
}

func (c *Context) evalEvent(s *models.Signal) ([]float64, error) {
	out := make([]float64, c.n())
	dates := c.Events[s.Event]
	if len(dates) == 0 {
		return out, nil
	}
	for i, b := range c.Bars {
		for _, d := range dates {
			delta := utils.DaysBetween(d, b.Timestamp)
			if delta >= -s.DaysBefore && delta <= s.DaysAfter {
				out[i] = 1
				break
			}
		}
	}
	return out, nil
}

func (c *Context) evalFundamental(s *models.Signal) ([]float64, error) {
	if series, ok := c.Fundamentals[s.Metric]; ok {
		if len(series) != c.n() {
			return nil, models.NewDataError(fmt.Sprintf("fundamental %q: length %d, want %d", s.Metric, len(series), c.n()))
		}
		return series, nil
	}
	if s.Default != nil {
		return c.broadcast(*s.Default), nil
	}
	return nil, models.NewDataError(fmt.Sprintf("fundamental metric %q unavailable and no default given", s.Metric))
}

func (c *Context) evalExternal(s *models.Signal) ([]float64, error) {
	if bySource, ok := c.Externals[s.Source]; ok {
		if series, ok := bySource[s.Key]; ok {
			if len(series) != c.n() {
				return nil, models.NewDataError(fmt.Sprintf("external %s/%s: length %d, want %d", s.Source, s.Key, len(series), c.n()))
			}
			return series, nil
		}
	}
	if s.Default != nil {
		return c.broadcast(*s.Default), nil
	}
	return nil, models.NewDataError(fmt.Sprintf("external series %s/%s unavailable and no default given", s.Source, s.Key))
}

func (c *Context) evalPortfolio(s *models.Signal) ([]float64, error) {
	if c.Portfolio == nil {
		if s.Default != nil {
			return c.broadcast(*s.Default), nil
		}
		return nil, models.NewDataError("portfolio signal evaluated without portfolio state")
	}
	sym := s.Symbol
	if sym == "" {
		sym = c.Symbol
	}
	v, ok := c.Portfolio.Field(s.Metric, sym)
	if !ok {
		return nil, models.NewValidationError("unknown portfolio metric %q", s.Metric)
	}
	return c.broadcast(v), nil
}

func (c *Context) evalSignalRef(ref string) ([]float64, error) {
	name, ok := strings.CutPrefix(ref, "#/signals/")
	if !ok {
		return nil, models.NewValidationError("malformed signal $ref %q", ref)
	}
	if c.Library == nil || c.Library.Signals[name] == nil {
		return nil, models.NewValidationError("signal $ref %q: no such signal", ref)
	}
	guard := "signals/" + name
	if c.resolving[guard] {
		return nil, models.NewValidationError("signal $ref cycle through %q", name)
	}
	c.resolving[guard] = true
	defer delete(c.resolving, guard)
	return c.EvalSignal(c.Library.Signals[name])
}

// paramValue resolves a named strategy parameter.
func (c *Context) paramValue(name string) (float64, error) {
	if v, ok := c.Params[name]; ok {
		return v, nil
	}
	return 0, models.NewParameterError(name, "not defined")
}

// ════════════════════════════════════════════════════════════════════
// Expression environment
// ════════════════════════════════════════════════════════════════════

type exprEnv struct {
	c *Context
}

func (e *exprEnv) Len() int { return e.c.n() }

func (e *exprEnv) Column(name string) ([]float64, bool) {
	series, err := models.Column(e.c.Bars, name)
	if err != nil {
		return nil, false
	}
	return series, true
}

func (e *exprEnv) Param(name string) (float64, bool) {
	v, ok := e.c.Params[name]
	return v, ok
}

func (e *exprEnv) Indicator(name string, args []float64, component string) ([]float64, error) {
	def, ok := e.c.Registry.Lookup(name)
	if !ok {
		return nil, models.NewIndicatorError(name, "unknown indicator")
	}
	params, err := def.BindPositional(args)
	if err != nil {
		return nil, err
	}
	return e.c.indicatorSeries(name, component, params, "")
}

// ════════════════════════════════════════════════════════════════════
// Cache keys
// ════════════════════════════════════════════════════════════════════
//
// Keys are structural: two signal nodes that describe the same
// computation share a key regardless of object identity.

func signalKey(s *models.Signal) string {
	var sb strings.Builder
	sb.WriteString(s.Type)
	switch s.Type {
	case models.SignalPrice:
		fmt.Fprintf(&sb, "|%s|%d", s.Field, s.Offset)
	case models.SignalIndicator:
		fmt.Fprintf(&sb, "|%s|%s|%s", s.Name, s.Component, paramsKey(s.Params))
	case models.SignalConstant:
		if s.Value != nil {
			fmt.Fprintf(&sb, "|%v", *s.Value)
		}
		sb.WriteString("|" + s.Param)
	case models.SignalCalendar:
		sb.WriteString("|" + s.Field)
	case models.SignalEvent:
		fmt.Fprintf(&sb, "|%s|%d|%d", s.Event, s.DaysBefore, s.DaysAfter)
	case models.SignalFundamental:
		sb.WriteString("|" + s.Metric)
		writeDefaultKey(&sb, s.Default)
	case models.SignalExternal:
		fmt.Fprintf(&sb, "|%s|%s", s.Source, s.Key)
		writeDefaultKey(&sb, s.Default)
	case models.SignalExpr:
		sb.WriteString("|" + s.Formula)
	case models.SignalRef:
		sb.WriteString("|" + s.Ref)
	}
	return "sig:" + sb.String()
}

// A node with a default evaluates differently from one without when the
// backing series is absent, so the default is part of the key.
func writeDefaultKey(sb *strings.Builder, d *float64) {
	if d == nil {
		sb.WriteString("|nodef")
		return
	}
	fmt.Fprintf(sb, "|def=%v", *d)
}

func indicatorKey(name, component string, params map[string]float64, source string) string {
	keys := make([]string, 0, len(params))
	for k := range params {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	var sb strings.Builder
	fmt.Fprintf(&sb, "ind:%s|%s|%s", strings.ToLower(name), component, source)
	for _, k := range keys {
		fmt.Fprintf(&sb, "|%s=%v", k, params[k])
	}
	return sb.String()
}

func paramsKey(raw map[string]any) string {
	keys := make([]string, 0, len(raw))
	for k := range raw {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	var sb strings.Builder
	for _, k := range keys {
		fmt.Fprintf(&sb, "%s=%v,", k, raw[k])
	}
	return sb.String()
}

// ════════════════════════════════════════════════════════════════════
// Series helpers
// ════════════════════════════════════════════════════════════════════

func shiftBack(series []float64, bars int) []float64 {
	if bars == 0 {
		return series
	}
	out := models.NaNSeries(len(series))
	for i := bars; i < len(series); i++ {
		out[i] = series[i-bars]
	}
	return out
}
