package curve

import (
	"encoding/json"
)

// ResultData is one typed analysis result record, created only after a fit
// outcome exists and never mutated afterwards.
type ResultData struct {
	// Name identifies the record: a parameter name, or "parameters" for the
	// aggregate entry.
	Name string `json:"name"`

	// Value is the payload: a ParamValue for per-parameter records, a
	// []ParamValue for the aggregate record, or raw data for snapshots.
	Value any `json:"value"`

	// Quality carries the fit verdict, empty when not applicable.
	Quality string `json:"quality,omitempty"`

	// ChiSq is the reduced chi-squared of the underlying fit, nil for
	// records not derived from a fit.
	ChiSq *float64 `json:"chisq,omitempty"`

	// Unit optionally tags the physical unit of Value.
	Unit string `json:"unit,omitempty"`

	// Extra holds free-form metadata, e.g. the owning analysis name.
	Extra map[string]any `json:"extra,omitempty"`
}

// AggregateResultName is the Name of the record carrying the full fitted
// parameter vector.
const AggregateResultName = "parameters"

// DataPointsResultName is the Name of the raw/formatted data snapshot
// record.
const DataPointsResultName = "data_points"

// MarshalValue renders Value as JSON, for persistence.
func (r ResultData) MarshalValue() (json.RawMessage, error) {
	return json.Marshal(r.Value)
}
