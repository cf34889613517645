package curve

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/qubit-data/calibration.report/internal/scatter"
)

// decayRecords samples amp*exp(-x/tau)+base over n points on [0, 1.5] with a
// small deterministic ripple standing in for measurement noise.
func decayRecords(n int, amp, tau, base float64) []Record {
	records := make([]Record, n)
	for i := range records {
		x := 1.5 * float64(i) / float64(n-1)
		y := amp*math.Exp(-x/tau) + base + 0.005*math.Sin(137*x)
		records[i] = Record{
			Metadata:    map[string]any{"delay": x},
			Probability: &y,
			Shots:       4096,
		}
	}
	return records
}

func decaySeries() []SeriesDef {
	return []SeriesDef{{
		Name:       "exp_decay",
		Fn:         func(x float64, p []float64) float64 { return p[0]*math.Exp(-x/p[1]) + p[2] },
		ParamNames: []string{"amp", "tau", "base"},
	}}
}

func TestAnalysisRunEndToEnd(t *testing.T) {
	t.Parallel()

	a, err := NewAnalysis("t1", decaySeries(), nil, Options{
		XKey:             "delay",
		P0:               map[string]float64{"amp": 0.4, "tau": 0.2, "base": 0.0},
		Bounds:           map[string]Bound{"tau": {Low: 1e-6, High: math.Inf(1)}},
		ResultParams:     []ParamSpec{{Name: "tau", Unit: "s"}},
		ReturnDataPoints: true,
	})
	require.NoError(t, err)

	outcome, err := a.Run(decayRecords(100, 0.5, 0.3, 0.1))
	require.NoError(t, err)
	require.NotNil(t, outcome.Fit)

	amp, _ := outcome.Fit.Param("amp")
	tau, _ := outcome.Fit.Param("tau")
	base, _ := outcome.Fit.Param("base")
	assert.InDelta(t, 0.5, amp.Value, 0.05)
	assert.InDelta(t, 0.3, tau.Value, 0.05)
	assert.InDelta(t, 0.1, base.Value, 0.05)
	assert.Less(t, outcome.Fit.ReducedChiSq, 3.0)
	assert.Equal(t, QualityGood, outcome.Quality)

	// The table carries all three categories, every row tagged with the
	// analysis name.
	raw := outcome.Table.Filter(scatter.Query{Category: scatter.Ptr(scatter.CategoryRaw)})
	formatted := outcome.Table.Filter(scatter.Query{Category: scatter.Ptr(scatter.CategoryFormatted)})
	fitted := outcome.Table.Filter(scatter.Query{Category: scatter.Ptr(scatter.CategoryFitted)})
	assert.Equal(t, 100, raw.Len())
	assert.Equal(t, 100, formatted.Len())
	assert.Equal(t, 100, fitted.Len(), "default FittedSamples per series")
	for _, r := range outcome.Table.Rows() {
		require.NotNil(t, r.Analysis)
		assert.Equal(t, "t1", *r.Analysis)
	}

	// Results: aggregate record, the tau record, and the data snapshot.
	require.Len(t, outcome.Results, 3)
	assert.Equal(t, AggregateResultName, outcome.Results[0].Name)
	assert.Equal(t, "tau", outcome.Results[1].Name)
	assert.Equal(t, "s", outcome.Results[1].Unit)
	tauRecord, ok := outcome.Results[1].Value.(ParamValue)
	require.True(t, ok)
	assert.InDelta(t, tau.Value, tauRecord.Value, 1e-12)
	assert.Equal(t, DataPointsResultName, outcome.Results[2].Name)
}

func TestAnalysisRunWithFixedParameter(t *testing.T) {
	t.Parallel()

	a, err := NewAnalysis("t1_fixed", decaySeries(), nil, Options{
		XKey:         "delay",
		FixedParams:  map[string]float64{"base": 0.1},
		P0:           map[string]float64{"amp": 0.4, "tau": 0.2},
		ResultParams: []ParamSpec{{Name: "base"}, {Name: "tau", Unit: "s"}},
	})
	require.NoError(t, err)

	outcome, err := a.Run(decayRecords(80, 0.5, 0.3, 0.1))
	require.NoError(t, err)
	require.NotNil(t, outcome.Fit)

	// base is not fitted but still reported, with zero standard error.
	assert.Equal(t, []string{"amp", "tau"}, a.Model().Signature())
	var baseRecord *ResultData
	for i := range outcome.Results {
		if outcome.Results[i].Name == "base" {
			baseRecord = &outcome.Results[i]
		}
	}
	require.NotNil(t, baseRecord)
	pv, ok := baseRecord.Value.(ParamValue)
	require.True(t, ok)
	assert.Equal(t, 0.1, pv.Value)
	assert.Equal(t, 0.0, pv.Stderr)
}

func TestAnalysisRunSurvivesTotalFitFailure(t *testing.T) {
	t.Parallel()

	series := []SeriesDef{{
		Name:       "explosive",
		Fn:         func(x float64, p []float64) float64 { panic("numerical meltdown") },
		ParamNames: []string{"a"},
	}}
	a, err := NewAnalysis("doomed", series, nil, Options{
		XKey:             "delay",
		P0:               map[string]float64{"a": 1},
		ReturnDataPoints: true,
	})
	require.NoError(t, err)

	outcome, err := a.Run(decayRecords(20, 0.5, 0.3, 0.1))
	require.NoError(t, err, "a failed fit is a completed run, not an error")
	assert.Nil(t, outcome.Fit)
	assert.Empty(t, outcome.Quality)
	assert.NotEmpty(t, outcome.Diagnostics)

	// The safe outputs survive: no fitted rows, but the data snapshot does.
	fitted := outcome.Table.Filter(scatter.Query{Category: scatter.Ptr(scatter.CategoryFitted)})
	assert.Equal(t, 0, fitted.Len())
	require.Len(t, outcome.Results, 1)
	assert.Equal(t, DataPointsResultName, outcome.Results[0].Name)
}

func TestAnalysisRunConfigErrors(t *testing.T) {
	t.Parallel()

	t.Run("no_records", func(t *testing.T) {
		t.Parallel()
		a, err := NewAnalysis("t1", decaySeries(), nil, Options{
			XKey: "delay",
			P0:   map[string]float64{"amp": 1, "tau": 1, "base": 0},
		})
		require.NoError(t, err)
		_, err = a.Run(nil)
		assert.ErrorIs(t, err, ErrNoData)
	})

	t.Run("missing_x_key_in_record", func(t *testing.T) {
		t.Parallel()
		a, err := NewAnalysis("t1", decaySeries(), nil, Options{
			XKey: "delay",
			P0:   map[string]float64{"amp": 1, "tau": 1, "base": 0},
		})
		require.NoError(t, err)
		p := 0.5
		_, err = a.Run([]Record{{Metadata: map[string]any{"freq": 1.0}, Probability: &p}})
		assert.ErrorIs(t, err, ErrConfig)
	})

	t.Run("missing_initial_guess", func(t *testing.T) {
		t.Parallel()
		// No guesser and no complete P0: Finalize inside RunFit must abort
		// the run with a config error.
		a, err := NewAnalysis("t1", decaySeries(), nil, Options{
			XKey: "delay",
			P0:   map[string]float64{"amp": 1},
		})
		require.NoError(t, err)
		_, err = a.Run(decayRecords(20, 0.5, 0.3, 0.1))
		assert.ErrorIs(t, err, ErrConfig)
	})
}

func TestNewAnalysisValidation(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		an   string
		opts Options
	}{
		{name: "empty_name", an: "", opts: Options{XKey: "delay"}},
		{name: "missing_x_key", an: "t1", opts: Options{}},
		{
			name: "unknown_result_param",
			an:   "t1",
			opts: Options{XKey: "delay", ResultParams: []ParamSpec{{Name: "zeta"}}},
		},
		{
			name: "unknown_p0_param",
			an:   "t1",
			opts: Options{XKey: "delay", P0: map[string]float64{"zeta": 1}},
		},
		{
			name: "unknown_bounds_param",
			an:   "t1",
			opts: Options{XKey: "delay", Bounds: map[string]Bound{"zeta": Unbounded}},
		},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			_, err := NewAnalysis(tc.an, decaySeries(), nil, tc.opts)
			assert.ErrorIs(t, err, ErrConfig)
		})
	}
}

func TestAnalysisReturnFitParamsOptOut(t *testing.T) {
	t.Parallel()

	off := false
	a, err := NewAnalysis("t1", decaySeries(), nil, Options{
		XKey:            "delay",
		P0:              map[string]float64{"amp": 0.4, "tau": 0.2, "base": 0.0},
		ReturnFitParams: &off,
	})
	require.NoError(t, err)

	outcome, err := a.Run(decayRecords(60, 0.5, 0.3, 0.1))
	require.NoError(t, err)
	require.NotNil(t, outcome.Fit)
	for _, r := range outcome.Results {
		assert.NotEqual(t, AggregateResultName, r.Name)
	}
}
