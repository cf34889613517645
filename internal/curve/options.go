package curve

import (
	"fmt"
	"math"
	"reflect"
	"sort"
)

// Bound is an inclusive (low, high) interval for one fit parameter.
type Bound struct {
	Low  float64
	High float64
}

// Unbounded spans the whole real line.
var Unbounded = Bound{Low: math.Inf(-1), High: math.Inf(1)}

// Contains reports whether v lies inside the bound.
func (b Bound) Contains(v float64) bool { return v >= b.Low && v <= b.High }

// Clamp returns v limited to the bound.
func (b Bound) Clamp(v float64) float64 {
	return math.Max(b.Low, math.Min(b.High, v))
}

// FitOptions bundles per-parameter initial guesses and bounds plus free-form
// solver settings for one fit attempt.
//
// The builder convention is merge-if-empty: guess code calls the SetIfEmpty
// methods so values seeded by the user always win, and only missing entries
// get filled. Once Finalize has run, the instance is treated as immutable.
type FitOptions struct {
	signature []string
	p0        map[string]float64
	bounds    map[string]Bound
	extra     map[string]any
	finalized bool
}

// NewFitOptions creates an empty builder for the given parameter signature.
func NewFitOptions(signature []string) *FitOptions {
	return &FitOptions{
		signature: append([]string(nil), signature...),
		p0:        make(map[string]float64),
		bounds:    make(map[string]Bound),
		extra:     make(map[string]any),
	}
}

// Signature returns a copy of the parameter names this builder covers.
func (o *FitOptions) Signature() []string {
	return append([]string(nil), o.signature...)
}

func (o *FitOptions) knows(param string) bool {
	for _, p := range o.signature {
		if p == param {
			return true
		}
	}
	return false
}

// SetP0 sets an initial guess, overwriting any existing entry.
func (o *FitOptions) SetP0(param string, v float64) error {
	if !o.knows(param) {
		return fmt.Errorf("%w: unknown fit parameter %q", ErrConfig, param)
	}
	o.p0[param] = v
	return nil
}

// SetP0IfEmpty fills initial guesses without overwriting existing entries.
// Unknown parameter names are rejected.
func (o *FitOptions) SetP0IfEmpty(guesses map[string]float64) error {
	for param, v := range guesses {
		if !o.knows(param) {
			return fmt.Errorf("%w: unknown fit parameter %q", ErrConfig, param)
		}
		if _, ok := o.p0[param]; !ok {
			o.p0[param] = v
		}
	}
	return nil
}

// SetBounds sets a bound, overwriting any existing entry.
func (o *FitOptions) SetBounds(param string, b Bound) error {
	if !o.knows(param) {
		return fmt.Errorf("%w: unknown fit parameter %q", ErrConfig, param)
	}
	o.bounds[param] = b
	return nil
}

// SetBoundsIfEmpty fills bounds without overwriting existing entries.
func (o *FitOptions) SetBoundsIfEmpty(bounds map[string]Bound) error {
	for param, b := range bounds {
		if !o.knows(param) {
			return fmt.Errorf("%w: unknown fit parameter %q", ErrConfig, param)
		}
		if _, ok := o.bounds[param]; !ok {
			o.bounds[param] = b
		}
	}
	return nil
}

// SetExtra stores one free-form solver setting, overwriting any existing
// value. Recognized keys are interpreted by RunFit; unrecognized ones are
// logged and ignored there.
func (o *FitOptions) SetExtra(key string, v any) {
	o.extra[key] = v
}

// Extra returns the free-form solver setting for key.
func (o *FitOptions) Extra(key string) (any, bool) {
	v, ok := o.extra[key]
	return v, ok
}

// ExtraKeys returns the keys of all free-form solver settings, sorted.
func (o *FitOptions) ExtraKeys() []string {
	keys := make([]string, 0, len(o.extra))
	for k := range o.extra {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// P0 returns the initial guess for param, if set.
func (o *FitOptions) P0(param string) (float64, bool) {
	v, ok := o.p0[param]
	return v, ok
}

// Bounds returns the bound for param, if set.
func (o *FitOptions) Bounds(param string) (Bound, bool) {
	b, ok := o.bounds[param]
	return b, ok
}

// Copy returns a full value copy sharing no mutable state with the
// receiver, so guess code can branch one seed into several candidates.
func (o *FitOptions) Copy() *FitOptions {
	c := NewFitOptions(o.signature)
	for k, v := range o.p0 {
		c.p0[k] = v
	}
	for k, v := range o.bounds {
		c.bounds[k] = v
	}
	for k, v := range o.extra {
		c.extra[k] = v
	}
	c.finalized = o.finalized
	return c
}

// Finalize checks that every parameter in the signature has an initial
// guess, defaults missing bounds to (-Inf, +Inf), and verifies each guess
// lies inside its bound. A missing guess after all guess code has run is a
// configuration error.
func (o *FitOptions) Finalize() error {
	for _, param := range o.signature {
		if _, ok := o.p0[param]; !ok {
			return fmt.Errorf("%w: no initial guess for parameter %q", ErrConfig, param)
		}
		b, ok := o.bounds[param]
		if !ok {
			o.bounds[param] = Unbounded
			continue
		}
		if b.Low > b.High {
			return fmt.Errorf("%w: bounds for %q are inverted (%g > %g)", ErrConfig, param, b.Low, b.High)
		}
	}
	o.finalized = true
	return nil
}

// Finalized reports whether Finalize has run successfully.
func (o *FitOptions) Finalized() bool { return o.finalized }

// P0Vector returns the initial-guess vector in signature order. Only valid
// after Finalize.
func (o *FitOptions) P0Vector() []float64 {
	out := make([]float64, len(o.signature))
	for i, p := range o.signature {
		out[i] = o.p0[p]
	}
	return out
}

// BoundsVector returns the bounds in signature order. Only valid after
// Finalize.
func (o *FitOptions) BoundsVector() []Bound {
	out := make([]Bound, len(o.signature))
	for i, p := range o.signature {
		out[i] = o.bounds[p]
	}
	return out
}

// Equal reports structural equality of two builders: same signature, same
// guesses, same bounds, same extra settings. Used to deduplicate candidate
// lists so identical candidates are not fit twice.
func (o *FitOptions) Equal(other *FitOptions) bool {
	if other == nil {
		return false
	}
	if !reflect.DeepEqual(o.signature, other.signature) {
		return false
	}
	if !reflect.DeepEqual(o.p0, other.p0) {
		return false
	}
	if !reflect.DeepEqual(o.bounds, other.bounds) {
		return false
	}
	return reflect.DeepEqual(o.extra, other.extra)
}

// String renders the builder compactly for logs and diagnostics.
func (o *FitOptions) String() string {
	params := append([]string(nil), o.signature...)
	sort.Strings(params)
	s := "FitOptions{"
	for i, p := range params {
		if i > 0 {
			s += ", "
		}
		if v, ok := o.p0[p]; ok {
			s += fmt.Sprintf("%s=%g", p, v)
		} else {
			s += p + "=?"
		}
		if b, ok := o.bounds[p]; ok && b != Unbounded {
			s += fmt.Sprintf(" [%g,%g]", b.Low, b.High)
		}
	}
	return s + "}"
}

// DedupOptions removes structural duplicates from a candidate list,
// preserving first occurrences and submission order.
func DedupOptions(candidates []*FitOptions) []*FitOptions {
	var out []*FitOptions
	for _, c := range candidates {
		dup := false
		for _, kept := range out {
			if kept.Equal(c) {
				dup = true
				break
			}
		}
		if !dup {
			out = append(out, c)
		}
	}
	return out
}
