package curve

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/qubit-data/calibration.report/internal/scatter"
)

// formattedLine builds a formatted single-series table sampling fn over n
// points on [0, 1].
func formattedLine(n int, fn func(x float64) float64, yErr float64) *scatter.Table {
	table := scatter.NewTable()
	for i := 0; i < n; i++ {
		x := float64(i) / float64(n-1)
		row := scatter.Row{
			X: x, Y: fn(x),
			Name:     scatter.Ptr("line"),
			SeriesID: scatter.Ptr(0),
			Category: scatter.Ptr(scatter.CategoryFormatted),
		}
		if yErr > 0 {
			row.YErr = scatter.Ptr(yErr)
		}
		table.AddRow(row)
	}
	return table
}

func seededOptions(t *testing.T, m *CompositeModel, p0 map[string]float64) *FitOptions {
	t.Helper()
	o := NewFitOptions(m.Signature())
	require.NoError(t, o.SetP0IfEmpty(p0))
	return o
}

func TestRunFitRecoversLinearModel(t *testing.T) {
	t.Parallel()

	model := singleSeriesModel(t)
	table := formattedLine(20, func(x float64) float64 { return 2*x + 1 }, 0.05)
	cand := seededOptions(t, model, map[string]float64{"slope": 1, "offset": 0})

	fit, failures, err := RunFit(table, model, []*FitOptions{cand})
	require.NoError(t, err)
	assert.Empty(t, failures)

	slope, ok := fit.Param("slope")
	require.True(t, ok)
	assert.InDelta(t, 2.0, slope.Value, 1e-3)
	offset, ok := fit.Param("offset")
	require.True(t, ok)
	assert.InDelta(t, 1.0, offset.Value, 1e-3)

	assert.True(t, fit.Weighted)
	assert.Equal(t, 18, fit.DOF)
	assert.Less(t, fit.ReducedChiSq, 0.1, "noiseless data should fit almost exactly")
	assert.Equal(t, [2]float64{0, 1}, fit.XRange)
	assert.NotNil(t, fit.Covariance)
	assert.False(t, fit.CorrelationsMissing)
	assert.Greater(t, slope.Stderr, 0.0)
}

func TestRunFitUnweightedWhenErrorBarsMissing(t *testing.T) {
	t.Parallel()

	model := singleSeriesModel(t)
	table := formattedLine(10, func(x float64) float64 { return -x + 3 }, 0)
	cand := seededOptions(t, model, map[string]float64{"slope": 0, "offset": 0})

	fit, _, err := RunFit(table, model, []*FitOptions{cand})
	require.NoError(t, err)
	assert.False(t, fit.Weighted)
}

func TestRunFitRecoversFromPanickingModel(t *testing.T) {
	t.Parallel()

	m, err := NewCompositeModel([]SeriesDef{{
		Name:       "explosive",
		Fn:         func(x float64, p []float64) float64 { panic("boom") },
		ParamNames: []string{"a"},
	}}, nil)
	require.NoError(t, err)

	table := formattedLine(5, func(x float64) float64 { return x }, 0)
	cand := seededOptions(t, m, map[string]float64{"a": 1})

	fit, failures, err := RunFit(table, m, []*FitOptions{cand})
	require.Nil(t, fit)
	require.ErrorIs(t, err, ErrAllFitsFailed)
	require.Len(t, failures, 1)
	assert.Contains(t, failures[0].Error(), "panic")
}

func TestRunFitInsufficientData(t *testing.T) {
	t.Parallel()

	model := singleSeriesModel(t)
	table := formattedLine(2, func(x float64) float64 { return x }, 0)
	cand := seededOptions(t, model, map[string]float64{"slope": 1, "offset": 0})

	fit, failures, err := RunFit(table, model, []*FitOptions{cand})
	require.Nil(t, fit)
	require.ErrorIs(t, err, ErrAllFitsFailed)
	require.Len(t, failures, 1)
	assert.ErrorIs(t, failures[0].Err, ErrInsufficientData)
}

func TestRunFitDeduplicatesCandidates(t *testing.T) {
	t.Parallel()

	model := singleSeriesModel(t)
	table := formattedLine(10, func(x float64) float64 { return x }, 0)
	a := seededOptions(t, model, map[string]float64{"slope": 1, "offset": 0})
	b := a.Copy()

	fit, failures, err := RunFit(table, model, []*FitOptions{a, b})
	require.NoError(t, err)
	assert.Empty(t, failures)
	assert.Equal(t, 0, fit.CandidateIndex)
}

func TestRunFitPicksBestCandidate(t *testing.T) {
	t.Parallel()

	m, err := NewCompositeModel([]SeriesDef{{
		Name:       "const",
		Fn:         func(x float64, p []float64) float64 { return p[0] },
		ParamNames: []string{"c"},
	}}, nil)
	require.NoError(t, err)

	table := formattedLine(10, func(x float64) float64 { return 1 }, 0.1)

	// First candidate is boxed away from the optimum; the second can reach
	// it. The reduction must pick the second despite submission order.
	boxed := seededOptions(t, m, map[string]float64{"c": 5})
	require.NoError(t, boxed.SetBounds("c", Bound{Low: 4, High: 6}))
	free := seededOptions(t, m, map[string]float64{"c": 0})

	fit, failures, err := RunFit(table, m, []*FitOptions{boxed, free})
	require.NoError(t, err)
	assert.Empty(t, failures)
	assert.Equal(t, 1, fit.CandidateIndex)
	c, _ := fit.Param("c")
	assert.InDelta(t, 1.0, c.Value, 1e-3)
}

func TestRunFitClampsResultToBounds(t *testing.T) {
	t.Parallel()

	m, err := NewCompositeModel([]SeriesDef{{
		Name:       "const",
		Fn:         func(x float64, p []float64) float64 { return p[0] },
		ParamNames: []string{"c"},
	}}, nil)
	require.NoError(t, err)

	table := formattedLine(10, func(x float64) float64 { return 1 }, 0.1)
	cand := seededOptions(t, m, map[string]float64{"c": 0.2})
	require.NoError(t, cand.SetBounds("c", Bound{Low: 0, High: 0.5}))

	fit, _, err := RunFit(table, m, []*FitOptions{cand})
	require.NoError(t, err)
	c, _ := fit.Param("c")
	assert.LessOrEqual(t, c.Value, 0.5)
	assert.InDelta(t, 0.5, c.Value, 1e-3, "optimum sits on the boundary")
}

func TestRunFitSkipsUnassignedRows(t *testing.T) {
	t.Parallel()

	model := singleSeriesModel(t)
	table := formattedLine(10, func(x float64) float64 { return x }, 0)
	// Rows without a series id are excluded from the solver inputs.
	table.AddRow(scatter.Row{X: 0.5, Y: 99, Category: scatter.Ptr(scatter.CategoryFormatted)})

	cand := seededOptions(t, model, map[string]float64{"slope": 1, "offset": 0})
	fit, _, err := RunFit(table, model, []*FitOptions{cand})
	require.NoError(t, err)
	assert.Equal(t, 8, fit.DOF, "10 assigned rows minus 2 free parameters")
	slope, _ := fit.Param("slope")
	assert.InDelta(t, 1.0, slope.Value, 1e-3)
}

func TestRunFitNoCandidates(t *testing.T) {
	t.Parallel()

	model := singleSeriesModel(t)
	table := formattedLine(5, func(x float64) float64 { return x }, 0)
	_, _, err := RunFit(table, model, nil)
	assert.ErrorIs(t, err, ErrConfig)
}

func TestSolverSettings(t *testing.T) {
	t.Parallel()

	t.Run("method_and_iterations", func(t *testing.T) {
		t.Parallel()
		o := NewFitOptions([]string{"a"})
		o.SetExtra(ExtraMethod, "lbfgs")
		o.SetExtra(ExtraMaxIterations, 250)
		method, maxIter, err := solverSettings(o)
		require.NoError(t, err)
		assert.Equal(t, MethodLBFGS, method)
		assert.Equal(t, 250, maxIter)
	})

	t.Run("json_decoded_iterations", func(t *testing.T) {
		t.Parallel()
		o := NewFitOptions([]string{"a"})
		o.SetExtra(ExtraMaxIterations, float64(100))
		_, maxIter, err := solverSettings(o)
		require.NoError(t, err)
		assert.Equal(t, 100, maxIter)
	})

	t.Run("bad_method_type", func(t *testing.T) {
		t.Parallel()
		o := NewFitOptions([]string{"a"})
		o.SetExtra(ExtraMethod, 7)
		_, _, err := solverSettings(o)
		assert.ErrorIs(t, err, ErrConfig)
	})

	t.Run("unknown_method", func(t *testing.T) {
		t.Parallel()
		o := NewFitOptions([]string{"a"})
		o.SetExtra(ExtraMethod, "simulated-annealing")
		_, _, err := solverSettings(o)
		assert.ErrorIs(t, err, ErrConfig)
	})

	t.Run("unknown_keys_ignored", func(t *testing.T) {
		t.Parallel()
		o := NewFitOptions([]string{"a"})
		o.SetExtra("tolerance", 1e-9)
		method, maxIter, err := solverSettings(o)
		require.NoError(t, err)
		assert.Equal(t, MethodNelderMead, method)
		assert.Equal(t, 0, maxIter)
	})
}

func TestEstimateErrorsDegenerateModel(t *testing.T) {
	t.Parallel()

	// Two parameters with identical effect make J^T W J exactly singular;
	// the estimate must fall back to diagonal errors instead of failing.
	m, err := NewCompositeModel([]SeriesDef{{
		Name:       "degenerate",
		Fn:         func(x float64, p []float64) float64 { return p[0] + p[1] },
		ParamNames: []string{"a", "b"},
	}}, nil)
	require.NoError(t, err)

	table := formattedLine(10, func(x float64) float64 { return 1 }, 0.1)
	cand := seededOptions(t, m, map[string]float64{"a": 0.5, "b": 0.5})

	fit, _, err := RunFit(table, m, []*FitOptions{cand})
	require.NoError(t, err)
	assert.True(t, fit.CorrelationsMissing)
	assert.Nil(t, fit.Covariance)
	for _, p := range fit.Params {
		assert.False(t, math.IsInf(p.Stderr, 0))
	}
}

func TestParseFitMethod(t *testing.T) {
	t.Parallel()

	for _, s := range []string{"", "nelder-mead", "lbfgs", "gradient"} {
		m, err := ParseFitMethod(s)
		require.NoError(t, err)
		if s != "" {
			assert.Equal(t, s, m.String())
		}
	}
	_, err := ParseFitMethod("newton")
	assert.ErrorIs(t, err, ErrConfig)
}
