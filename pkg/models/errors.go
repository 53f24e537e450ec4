package models

import "fmt"

// ════════════════════════════════════════════════════════════════════
// Error Taxonomy
// ════════════════════════════════════════════════════════════════════
//
// Every error surfaced by the engine falls into one of six categories.
// Structural problems (ValidationError, ParameterError) abort a run
// before the bar loop starts; per-bar evaluation problems are logged
// and the offending rule is treated as not-triggered for that bar.

// ValidationError reports a malformed strategy tree: unknown node types,
// missing required fields, dangling $refs or $ref cycles.
type ValidationError struct {
	Msg string
}

func (e *ValidationError) Error() string { return "validation: " + e.Msg }

// NewValidationError creates a ValidationError.
func NewValidationError(format string, args ...any) *ValidationError {
	return &ValidationError{Msg: fmt.Sprintf(format, args...)}
}

// ParameterError reports an unresolvable $param reference or an
// out-of-domain parameter value.
type ParameterError struct {
	Name string
	Msg  string
}

func (e *ParameterError) Error() string {
	if e.Name != "" {
		return fmt.Sprintf("parameter %q: %s", e.Name, e.Msg)
	}
	return "parameter: " + e.Msg
}

// NewParameterError creates a ParameterError for the named parameter.
func NewParameterError(name, format string, args ...any) *ParameterError {
	return &ParameterError{Name: name, Msg: fmt.Sprintf(format, args...)}
}

// IndicatorError reports an unknown indicator, a bad parameter set, or a
// computation failure inside an indicator.
type IndicatorError struct {
	Indicator string
	Msg       string
}

func (e *IndicatorError) Error() string {
	if e.Indicator != "" {
		return fmt.Sprintf("indicator %s: %s", e.Indicator, e.Msg)
	}
	return "indicator: " + e.Msg
}

// NewIndicatorError creates an IndicatorError for the named indicator.
func NewIndicatorError(indicator, format string, args ...any) *IndicatorError {
	return &IndicatorError{Indicator: indicator, Msg: fmt.Sprintf(format, args...)}
}

// DataError reports malformed input data: empty bar series,
// non-monotonic timestamps, unknown price fields.
type DataError struct {
	Msg string
}

func (e *DataError) Error() string { return "data: " + e.Msg }

// NewDataError creates a DataError.
func NewDataError(msg string) *DataError { return &DataError{Msg: msg} }

// ExpressionError reports a formula parse or evaluation failure with the
// 1-based source position where it occurred.
type ExpressionError struct {
	Line    int
	Column  int
	Msg     string
	Formula string
}

func (e *ExpressionError) Error() string {
	if e.Line > 0 {
		return fmt.Sprintf("expression: %s at line %d, column %d", e.Msg, e.Line, e.Column)
	}
	return "expression: " + e.Msg
}

// NewExpressionError creates an ExpressionError at the given position.
func NewExpressionError(line, column int, format string, args ...any) *ExpressionError {
	return &ExpressionError{Line: line, Column: column, Msg: fmt.Sprintf(format, args...)}
}

// ExecutionError reports an order the executor refused: non-positive
// price, negative quantity, malformed commission tiers.
type ExecutionError struct {
	Symbol string
	Msg    string
}

func (e *ExecutionError) Error() string {
	if e.Symbol != "" {
		return fmt.Sprintf("execution %s: %s", e.Symbol, e.Msg)
	}
	return "execution: " + e.Msg
}

// NewExecutionError creates an ExecutionError for the given symbol.
func NewExecutionError(symbol, format string, args ...any) *ExecutionError {
	return &ExecutionError{Symbol: symbol, Msg: fmt.Sprintf(format, args...)}
}
