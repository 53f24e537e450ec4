// Package indicator implements the indicator registry and the built-in
// indicator library. All series are bar-aligned []float64 with NaN in
// the warmup region, so downstream comparisons stay well defined.
package indicator

import (
	"fmt"
	"sort"
	"strings"

	"github.com/seenimoa/backtrail/pkg/models"
)

// ════════════════════════════════════════════════════════════════════
// Registry
// ════════════════════════════════════════════════════════════════════

// InputKind declares what data an indicator consumes.
type InputKind int

const (
	// InputSource: a single price series, selectable via the "source"
	// string param (default "close").
	InputSource InputKind = iota
	// InputBars: full OHLCV bars (ATR, SuperTrend, PSAR, VWAP...).
	InputBars
)

// ParamDef declares one numeric parameter with its default. Parameters
// are ordered; formula calls bind positional arguments in this order.
type ParamDef struct {
	Name    string
	Default float64
	Min     float64
	Max     float64 // Max == 0 means unbounded
}

// ComputeFunc computes an indicator. It returns one series per
// component, keyed by component name ("value" for single-output
// indicators). Every series must be bar-aligned with NaN warmup.
type ComputeFunc func(in Input) (map[string][]float64, error)

// Input carries the data a ComputeFunc operates on. Source is populated
// for InputSource indicators; Bars is always populated. Params holds the
// resolved numeric parameters with defaults applied.
type Input struct {
	Bars   []models.Bar
	Source []float64
	Params map[string]float64
}

// Definition describes a registered indicator.
type Definition struct {
	Name             string
	Params           []ParamDef
	Inputs           InputKind
	Components       []string // nil for single-output indicators
	DefaultComponent string   // used when a multi-output indicator is referenced bare
	Compute          ComputeFunc
}

// HasComponent reports whether the definition exposes the named output.
func (d *Definition) HasComponent(name string) bool {
	if len(d.Components) == 0 {
		return name == "" || name == "value"
	}
	for _, c := range d.Components {
		if c == name {
			return true
		}
	}
	return false
}

// Registry maps indicator names to definitions. Lookup is
// case-insensitive; names register in lower case.
type Registry struct {
	defs map[string]*Definition
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{defs: make(map[string]*Definition)}
}

// Default returns a registry pre-loaded with the built-in library.
func Default() *Registry {
	r := NewRegistry()
	registerBuiltins(r)
	return r
}

// Register adds a definition. Re-registering a name overwrites it, which
// is how hosts shadow a built-in with their own numerics.
func (r *Registry) Register(def *Definition) error {
	if def == nil || def.Name == "" {
		return models.NewIndicatorError("", "cannot register unnamed indicator")
	}
	if def.Compute == nil {
		return models.NewIndicatorError(def.Name, "nil compute function")
	}
	if len(def.Components) > 0 && def.DefaultComponent == "" {
		return models.NewIndicatorError(def.Name, "multi-output indicator needs a default component")
	}
	r.defs[strings.ToLower(def.Name)] = def
	return nil
}

// Lookup finds a definition by name.
func (r *Registry) Lookup(name string) (*Definition, bool) {
	def, ok := r.defs[strings.ToLower(name)]
	return def, ok
}

// Names returns all registered indicator names, sorted.
func (r *Registry) Names() []string {
	out := make([]string, 0, len(r.defs))
	for name := range r.defs {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

// ResolveParams merges the given params over the definition's defaults
// and range-checks them. Unknown parameter names are rejected; the
// "source" pseudo-param is handled by the caller and ignored here.
func (d *Definition) ResolveParams(params map[string]float64) (map[string]float64, error) {
	out := make(map[string]float64, len(d.Params))
	for _, p := range d.Params {
		out[p.Name] = p.Default
	}
	for name, v := range params {
		if name == "source" {
			continue
		}
		pd, ok := d.paramDef(name)
		if !ok {
			return nil, models.NewIndicatorError(d.Name, "unknown parameter %q", name)
		}
		if v < pd.Min || (pd.Max != 0 && v > pd.Max) {
			return nil, models.NewIndicatorError(d.Name, "parameter %q out of range: %v", name, v)
		}
		out[name] = v
	}
	return out, nil
}

// BindPositional maps ordered argument values onto the definition's
// parameter names, for formula-style calls like MACD(12, 26, 9).
func (d *Definition) BindPositional(args []float64) (map[string]float64, error) {
	if len(args) > len(d.Params) {
		return nil, models.NewIndicatorError(d.Name, "too many arguments: got %d, max %d", len(args), len(d.Params))
	}
	params := make(map[string]float64, len(args))
	for i, v := range args {
		params[d.Params[i].Name] = v
	}
	return d.ResolveParams(params)
}

func (d *Definition) paramDef(name string) (ParamDef, bool) {
	for _, p := range d.Params {
		if p.Name == name {
			return p, true
		}
	}
	return ParamDef{}, false
}

// Compute runs the named indicator over bars and returns all of its
// component series. source may be nil for InputSource indicators, in
// which case the close column is used.
func (r *Registry) Compute(name string, bars []models.Bar, source []float64, params map[string]float64) (map[string][]float64, error) {
	def, ok := r.Lookup(name)
	if !ok {
		return nil, models.NewIndicatorError(name, "unknown indicator")
	}
	resolved, err := def.ResolveParams(params)
	if err != nil {
		return nil, err
	}

	in := Input{Bars: bars, Params: resolved}
	if def.Inputs == InputSource {
		if source == nil {
			source, err = models.Column(bars, models.FieldClose)
			if err != nil {
				return nil, err
			}
		}
		in.Source = source
	}

	out, err := def.Compute(in)
	if err != nil {
		return nil, err
	}
	for comp, series := range out {
		if len(series) != len(bars) {
			return nil, models.NewIndicatorError(name, "component %q length %d, want %d", comp, len(series), len(bars))
		}
	}
	return out, nil
}

// ComputeComponent runs the named indicator and extracts one component.
// An empty component selects the default.
func (r *Registry) ComputeComponent(name string, component string, bars []models.Bar, source []float64, params map[string]float64) ([]float64, error) {
	def, ok := r.Lookup(name)
	if !ok {
		return nil, models.NewIndicatorError(name, "unknown indicator")
	}
	if component == "" {
		if len(def.Components) > 0 {
			component = def.DefaultComponent
		} else {
			component = "value"
		}
	}
	if !def.HasComponent(component) {
		return nil, models.NewIndicatorError(name, "unknown component %q (have %s)", component, strings.Join(def.Components, ", "))
	}

	out, err := r.Compute(name, bars, source, params)
	if err != nil {
		return nil, err
	}
	series, ok := out[component]
	if !ok {
		return nil, models.NewIndicatorError(name, "compute did not produce component %q", component)
	}
	return series, nil
}

// Describe returns a one-line human description of a definition, used by
// the CLI indicators command and the API listing.
func (d *Definition) Describe() string {
	parts := make([]string, len(d.Params))
	for i, p := range d.Params {
		parts[i] = fmt.Sprintf("%s=%v", p.Name, p.Default)
	}
	s := d.Name + "(" + strings.Join(parts, ", ") + ")"
	if len(d.Components) > 0 {
		s += " -> " + strings.Join(d.Components, "|")
	}
	return s
}
