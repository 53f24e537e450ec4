package models

// ════════════════════════════════════════════════════════════════════
// Declarative Strategy Tree
// ════════════════════════════════════════════════════════════════════
//
// Strategies arrive as pre-parsed JSON trees. The engine never mutates a
// tree; evaluation walks it read-only, which is what makes runs safely
// parallelizable across parameter sets.

// Strategy is the root of a declarative strategy definition.
type Strategy struct {
	Info        Info                  `json:"info"`
	Universe    *Universe             `json:"universe"`
	Parameters  map[string]float64    `json:"parameters,omitempty"`
	Signals     map[string]*Signal    `json:"signals,omitempty"`
	Conditions  map[string]*Condition `json:"conditions,omitempty"`
	Rules       []*Rule               `json:"rules"`
	Constraints *Constraints          `json:"constraints,omitempty"`
}

// Info identifies a strategy.
type Info struct {
	ID      string `json:"id"`
	Name    string `json:"name"`
	Version string `json:"version"`
	Author  string `json:"author,omitempty"`
	Notes   string `json:"notes,omitempty"`
}

// Universe types.
const (
	UniverseStatic   = "static"
	UniverseIndex    = "index"
	UniverseScreener = "screener"
	UniverseDual     = "dual"
)

// Universe selects the symbols a strategy trades.
//
// static lists symbols explicitly; index names a membership list resolved
// by the host; screener filters and ranks a base universe; dual splits
// into long and short sides.
type Universe struct {
	Type    string   `json:"type"`
	Symbols []string `json:"symbols,omitempty"` // static
	Index   string   `json:"index,omitempty"`   // index

	// screener
	Base    *Universe    `json:"base,omitempty"`
	Filters []*Condition `json:"filters,omitempty"`
	RankBy  *Signal      `json:"rank_by,omitempty"`
	Order   string       `json:"order,omitempty"` // "asc" or "desc"
	Limit   int          `json:"limit,omitempty"`

	// dual
	Long  *Universe `json:"long,omitempty"`
	Short *Universe `json:"short,omitempty"`
}

// Signal node types.
const (
	SignalPrice       = "price"
	SignalIndicator   = "indicator"
	SignalConstant    = "constant"
	SignalCalendar    = "calendar"
	SignalEvent       = "event"
	SignalPortfolio   = "portfolio"
	SignalFundamental = "fundamental"
	SignalExternal    = "external"
	SignalExpr        = "expr"
	SignalRef         = "ref"
)

// Signal is a node producing a numeric time series (or a per-bar scalar
// broadcast, for portfolio signals). Exactly one variant's fields are
// populated, selected by Type.
type Signal struct {
	Type string `json:"type"`

	// price
	Field  string `json:"field,omitempty"`
	Offset int    `json:"offset,omitempty"` // bars back, >= 0

	// indicator
	Name      string         `json:"name,omitempty"`
	Params    map[string]any `json:"params,omitempty"` // numbers, or "$name" parameter refs
	Component string         `json:"component,omitempty"`

	// constant: either a literal value or a $param reference
	Value *float64 `json:"value,omitempty"`
	Param string   `json:"param,omitempty"`

	// event
	Event      string `json:"event,omitempty"`
	DaysBefore int    `json:"days_before,omitempty"`
	DaysAfter  int    `json:"days_after,omitempty"`

	// portfolio / fundamental / external
	Metric  string   `json:"metric,omitempty"`
	Symbol  string   `json:"symbol,omitempty"`
	Source  string   `json:"source,omitempty"`
	Key     string   `json:"key,omitempty"`
	Default *float64 `json:"default,omitempty"`

	// expr
	Formula string `json:"formula,omitempty"`

	// ref: "#/signals/NAME"
	Ref string `json:"ref,omitempty"`
}

// Condition node types.
const (
	ConditionComparison = "comparison"
	ConditionAnd        = "and"
	ConditionOr         = "or"
	ConditionNot        = "not"
	ConditionExpr       = "expr"
	ConditionAlways     = "always"
	ConditionRef        = "ref"
)

// Comparison operators.
const (
	OpLT = "<"
	OpLE = "<="
	OpEQ = "=="
	OpGE = ">="
	OpGT = ">"
	OpNE = "!="
)

// Condition is a node producing a boolean time series.
type Condition struct {
	Type string `json:"type"`

	// comparison
	Left  *Signal `json:"left,omitempty"`
	Op    string  `json:"op,omitempty"`
	Right *Signal `json:"right,omitempty"`

	// and / or
	Conditions []*Condition `json:"conditions,omitempty"`

	// not
	Condition *Condition `json:"condition,omitempty"`

	// expr
	Formula string `json:"formula,omitempty"`

	// ref: "#/conditions/NAME"
	Ref string `json:"ref,omitempty"`
}

// Rule binds a condition to an action. Rules evaluate in declaration
// order every bar; a nil Enabled means enabled.
type Rule struct {
	Name    string     `json:"name"`
	When    *Condition `json:"when"`
	Then    *Action    `json:"then"`
	Enabled *bool      `json:"enabled,omitempty"`
}

// IsEnabled reports whether the rule participates in evaluation.
func (r *Rule) IsEnabled() bool { return r.Enabled == nil || *r.Enabled }

// Action types and trade directions.
const (
	ActionTrade = "trade"
	ActionAlert = "alert"
	ActionHold  = "hold"

	DirectionBuy   = "buy"
	DirectionSell  = "sell"
	DirectionShort = "short"
	DirectionCover = "cover"
	DirectionClose = "close"
)

// Action is what a fired rule does.
type Action struct {
	Type      string  `json:"type"`
	Direction string  `json:"direction,omitempty"`
	Sizing    *Sizing `json:"sizing,omitempty"`
	Reason    string  `json:"reason,omitempty"`

	// alert
	Message string `json:"message,omitempty"`
	Level   string `json:"level,omitempty"`
}

// Sizing types.
const (
	SizeFixedAmount        = "fixed_amount"
	SizeFixedQuantity      = "fixed_quantity"
	SizePercentOfEquity    = "percent_of_equity"
	SizePercentOfCash      = "percent_of_cash"
	SizePercentOfPosition  = "percent_of_position"
	SizeRiskBased          = "risk_based"
	SizeKelly              = "kelly"
	SizeVolatilityAdjusted = "volatility_adjusted"
)

// Sizing describes how a trade action converts portfolio state into a
// quantity. Percent is expressed on a 0-100 scale.
type Sizing struct {
	Type            string  `json:"type"`
	Amount          float64 `json:"amount,omitempty"`
	Quantity        float64 `json:"quantity,omitempty"`
	Percent         float64 `json:"percent,omitempty"`
	RiskPct         float64 `json:"risk_pct,omitempty"`           // risk_based: % of equity risked
	StopDistancePct float64 `json:"stop_distance_pct,omitempty"`  // risk_based: stop distance as % of price
	Multiplier      float64 `json:"multiplier,omitempty"`         // kelly: fraction of full Kelly
	TargetRisk      float64 `json:"target_risk,omitempty"`        // volatility_adjusted: currency risk per trade
	Lookback        int     `json:"lookback,omitempty"`           // volatility_adjusted: ATR period
}

// Constraints are portfolio-level guards applied by the runner. The
// protective-exit percentages are relative to entry price (trailing is
// relative to the post-entry peak).
type Constraints struct {
	MaxPositions    int      `json:"max_positions,omitempty"`
	NoShorting      bool     `json:"no_shorting,omitempty"`
	StopLossPct     *float64 `json:"stop_loss_pct,omitempty"`
	TakeProfitPct   *float64 `json:"take_profit_pct,omitempty"`
	TrailingStopPct *float64 `json:"trailing_stop_pct,omitempty"`
}
