package analyses

import (
	"fmt"
	"sort"

	"github.com/qubit-data/calibration.report/internal/curve"
)

// Constructor builds a named analysis instance from options.
type Constructor func(name string, opts curve.Options) (*curve.Analysis, error)

var registry = map[string]Constructor{
	"decay":       NewDecay,
	"oscillation": NewOscillation,
	"resonance":   NewResonance,
	"ramsey_xy":   NewRamseyXY,
}

// Kinds lists the registered analysis kinds, sorted.
func Kinds() []string {
	kinds := make([]string, 0, len(registry))
	for k := range registry {
		kinds = append(kinds, k)
	}
	sort.Strings(kinds)
	return kinds
}

// New builds an analysis of the given kind. Unknown kinds are a
// configuration error.
func New(kind, name string, opts curve.Options) (*curve.Analysis, error) {
	ctor, ok := registry[kind]
	if !ok {
		return nil, fmt.Errorf("%w: unknown analysis kind %q (have %v)", curve.ErrConfig, kind, Kinds())
	}
	return ctor(name, opts)
}
