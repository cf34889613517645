package curve

import (
	"fmt"
)

// CompositeModel binds an ordered list of SeriesDef into one model over a
// shared parameter space. The free-parameter signature is the union of all
// series' parameter names in first-seen order, minus any fixed parameters.
//
// A CompositeModel is immutable after construction; rebuilding it from an
// equal series list yields the same signature and the same evaluation
// results.
type CompositeModel struct {
	series    []SeriesDef
	signature []string
	fixed     map[string]float64

	// argSource maps, per series and per declared parameter, where the value
	// comes from at evaluation time: an index into the free-parameter vector,
	// or fixedSlot for a fixed parameter.
	argSource [][]argRef
}

type argRef struct {
	freeIdx  int // index into the signature vector, or -1
	fixedVal float64
}

// NewCompositeModel validates the series list and computes the union
// signature. Fixing a parameter name that appears in no series is a
// configuration error, as are duplicate series names or an empty series
// list.
func NewCompositeModel(series []SeriesDef, fixed map[string]float64) (*CompositeModel, error) {
	if len(series) == 0 {
		return nil, fmt.Errorf("%w: at least one series is required", ErrConfig)
	}
	seen := make(map[string]bool, len(series))
	for _, s := range series {
		if s.Name == "" {
			return nil, fmt.Errorf("%w: series with empty name", ErrConfig)
		}
		if seen[s.Name] {
			return nil, fmt.Errorf("%w: duplicate series name %q", ErrConfig, s.Name)
		}
		seen[s.Name] = true
		if s.Fn == nil {
			return nil, fmt.Errorf("%w: series %q has no fit function", ErrConfig, s.Name)
		}
		if len(s.ParamNames) == 0 {
			return nil, fmt.Errorf("%w: series %q declares no parameters", ErrConfig, s.Name)
		}
		perSeries := make(map[string]bool, len(s.ParamNames))
		for _, p := range s.ParamNames {
			if perSeries[p] {
				return nil, fmt.Errorf("%w: series %q repeats parameter %q", ErrConfig, s.Name, p)
			}
			perSeries[p] = true
		}
	}

	// Union of parameter names, first-seen order.
	var union []string
	known := make(map[string]bool)
	for _, s := range series {
		for _, p := range s.ParamNames {
			if !known[p] {
				known[p] = true
				union = append(union, p)
			}
		}
	}

	for name := range fixed {
		if !known[name] {
			return nil, fmt.Errorf("%w: fixed parameter %q is not used by any series", ErrConfig, name)
		}
	}

	var signature []string
	freeIdx := make(map[string]int)
	for _, p := range union {
		if _, isFixed := fixed[p]; isFixed {
			continue
		}
		freeIdx[p] = len(signature)
		signature = append(signature, p)
	}
	if len(signature) == 0 {
		return nil, fmt.Errorf("%w: every parameter is fixed, nothing to fit", ErrConfig)
	}

	m := &CompositeModel{
		series:    append([]SeriesDef(nil), series...),
		signature: signature,
		fixed:     make(map[string]float64, len(fixed)),
		argSource: make([][]argRef, len(series)),
	}
	for k, v := range fixed {
		m.fixed[k] = v
	}
	for i, s := range series {
		refs := make([]argRef, len(s.ParamNames))
		for j, p := range s.ParamNames {
			if v, isFixed := fixed[p]; isFixed {
				refs[j] = argRef{freeIdx: -1, fixedVal: v}
			} else {
				refs[j] = argRef{freeIdx: freeIdx[p]}
			}
		}
		m.argSource[i] = refs
	}
	return m, nil
}

// Signature returns a copy of the free-parameter names, in order.
func (m *CompositeModel) Signature() []string {
	return append([]string(nil), m.signature...)
}

// NumFree returns the number of free parameters.
func (m *CompositeModel) NumFree() int { return len(m.signature) }

// NumSeries returns the number of series.
func (m *CompositeModel) NumSeries() int { return len(m.series) }

// Series returns the i-th series definition.
func (m *CompositeModel) Series(i int) SeriesDef { return m.series[i] }

// SeriesIndex returns the index of the series with the given name, or -1.
func (m *CompositeModel) SeriesIndex(name string) int {
	for i, s := range m.series {
		if s.Name == name {
			return i
		}
	}
	return -1
}

// FixedValue reports the value a fixed parameter is bound to.
func (m *CompositeModel) FixedValue(name string) (float64, bool) {
	v, ok := m.fixed[name]
	return v, ok
}

// HasParam reports whether name is a free or fixed parameter of the model.
func (m *CompositeModel) HasParam(name string) bool {
	if _, ok := m.fixed[name]; ok {
		return true
	}
	for _, p := range m.signature {
		if p == name {
			return true
		}
	}
	return false
}

// EvalSeries evaluates series i at x given the free-parameter vector.
func (m *CompositeModel) EvalSeries(i int, x float64, free []float64) float64 {
	refs := m.argSource[i]
	args := make([]float64, len(refs))
	for j, ref := range refs {
		if ref.freeIdx >= 0 {
			args[j] = free[ref.freeIdx]
		} else {
			args[j] = ref.fixedVal
		}
	}
	return m.series[i].Fn(x, args)
}

// Eval evaluates the composite model over a dataset. xs and seriesIDs are
// parallel: each x value is dispatched to the fit function of its own
// series. free must have exactly NumFree entries.
func (m *CompositeModel) Eval(xs []float64, seriesIDs []int, free []float64) ([]float64, error) {
	if len(xs) != len(seriesIDs) {
		return nil, fmt.Errorf("curve: %d x values but %d series ids", len(xs), len(seriesIDs))
	}
	if len(free) != len(m.signature) {
		return nil, fmt.Errorf("curve: got %d parameters, signature has %d", len(free), len(m.signature))
	}
	out := make([]float64, len(xs))
	for i, x := range xs {
		sid := seriesIDs[i]
		if sid < 0 || sid >= len(m.series) {
			return nil, fmt.Errorf("curve: series id %d out of range [0,%d)", sid, len(m.series))
		}
		out[i] = m.EvalSeries(sid, x, free)
	}
	return out, nil
}
