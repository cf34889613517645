package curve

// FitFunc evaluates one sub-curve model at x. params holds the values of the
// parameters this series declares, in the order of SeriesDef.ParamNames.
type FitFunc func(x float64, params []float64) float64

// MetadataFilter decides whether a raw record belongs to a series, based on
// the record's metadata. A nil filter matches every record.
type MetadataFilter func(metadata map[string]any) bool

// SeriesDef declares one named sub-curve of a multi-series fit.
//
// Identity is by Name. Several series may declare the same parameter name;
// the composite model then shares that parameter between them.
type SeriesDef struct {
	// Name is the unique human-readable label for the series.
	Name string

	// Fn is the model function for this series.
	Fn FitFunc

	// ParamNames lists the fit parameters Fn consumes, in call order.
	ParamNames []string

	// Filter routes raw records into this series. Records are offered to
	// each series in declaration order and land in the first match.
	Filter MetadataFilter

	// Description documents the model, e.g. "amp * exp(-x/tau) + base".
	Description string
}

// MetadataEquals returns a filter matching records whose metadata key equals
// the given value. Numeric values compare by float64 conversion so that a
// JSON-decoded 1 matches an int 1.
func MetadataEquals(key string, value any) MetadataFilter {
	return func(metadata map[string]any) bool {
		got, ok := metadata[key]
		if !ok {
			return false
		}
		if got == value {
			return true
		}
		gf, gok := toFloat(got)
		wf, wok := toFloat(value)
		return gok && wok && gf == wf
	}
}

func toFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	case uint64:
		return float64(n), true
	}
	return 0, false
}
