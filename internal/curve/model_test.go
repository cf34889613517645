package curve

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func linear(x float64, p []float64) float64 { return p[0]*x + p[1] }

func twoSeries() []SeriesDef {
	return []SeriesDef{
		{
			Name:       "up",
			Fn:         func(x float64, p []float64) float64 { return p[0]*x + p[1] },
			ParamNames: []string{"slope", "offset"},
		},
		{
			Name:       "down",
			Fn:         func(x float64, p []float64) float64 { return -p[0]*x + p[1] },
			ParamNames: []string{"slope", "shift"},
		},
	}
}

func TestCompositeModelSignature(t *testing.T) {
	t.Parallel()

	t.Run("union_first_seen_order", func(t *testing.T) {
		t.Parallel()
		m, err := NewCompositeModel(twoSeries(), nil)
		require.NoError(t, err)
		assert.Equal(t, []string{"slope", "offset", "shift"}, m.Signature())
		assert.Equal(t, 3, m.NumFree())
	})

	t.Run("fixed_params_removed", func(t *testing.T) {
		t.Parallel()
		m, err := NewCompositeModel(twoSeries(), map[string]float64{"slope": 2})
		require.NoError(t, err)
		assert.Equal(t, []string{"offset", "shift"}, m.Signature())
		v, ok := m.FixedValue("slope")
		require.True(t, ok)
		assert.Equal(t, 2.0, v)
		assert.True(t, m.HasParam("slope"), "fixed params are still model params")
	})

	t.Run("stable_across_rebuilds", func(t *testing.T) {
		t.Parallel()
		a, err := NewCompositeModel(twoSeries(), nil)
		require.NoError(t, err)
		b, err := NewCompositeModel(twoSeries(), nil)
		require.NoError(t, err)
		assert.Equal(t, a.Signature(), b.Signature())
	})
}

func TestCompositeModelValidation(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name   string
		series []SeriesDef
		fixed  map[string]float64
	}{
		{name: "empty_series"},
		{
			name: "duplicate_series_name",
			series: []SeriesDef{
				{Name: "a", Fn: linear, ParamNames: []string{"p"}},
				{Name: "a", Fn: linear, ParamNames: []string{"q"}},
			},
		},
		{
			name:   "unknown_fixed_param",
			series: []SeriesDef{{Name: "a", Fn: linear, ParamNames: []string{"p"}}},
			fixed:  map[string]float64{"nope": 1},
		},
		{
			name:   "everything_fixed",
			series: []SeriesDef{{Name: "a", Fn: linear, ParamNames: []string{"p"}}},
			fixed:  map[string]float64{"p": 1},
		},
		{
			name:   "no_fit_function",
			series: []SeriesDef{{Name: "a", ParamNames: []string{"p"}}},
		},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			_, err := NewCompositeModel(tc.series, tc.fixed)
			require.Error(t, err)
			assert.ErrorIs(t, err, ErrConfig)
		})
	}
}

func TestCompositeModelEval(t *testing.T) {
	t.Parallel()

	m, err := NewCompositeModel(twoSeries(), map[string]float64{"slope": 3})
	require.NoError(t, err)

	// Free vector is [offset, shift]; slope arrives from the fixed binding.
	free := []float64{10, 20}
	assert.InDelta(t, 3*2+10, m.EvalSeries(0, 2, free), 1e-12)
	assert.InDelta(t, -3*2+20, m.EvalSeries(1, 2, free), 1e-12)

	ys, err := m.Eval([]float64{1, 1}, []int{0, 1}, free)
	require.NoError(t, err)
	assert.Equal(t, []float64{13, 17}, ys)

	_, err = m.Eval([]float64{1}, []int{5}, free)
	assert.Error(t, err, "series id out of range")

	_, err = m.Eval([]float64{1}, []int{0}, []float64{1})
	assert.Error(t, err, "wrong parameter count")
}

func TestSeriesIndex(t *testing.T) {
	t.Parallel()

	m, err := NewCompositeModel(twoSeries(), nil)
	require.NoError(t, err)
	assert.Equal(t, 0, m.SeriesIndex("up"))
	assert.Equal(t, 1, m.SeriesIndex("down"))
	assert.Equal(t, -1, m.SeriesIndex("sideways"))
}

func TestMetadataEquals(t *testing.T) {
	t.Parallel()

	f := MetadataEquals("series", "X")
	assert.True(t, f(map[string]any{"series": "X"}))
	assert.False(t, f(map[string]any{"series": "Y"}))
	assert.False(t, f(map[string]any{}))

	// Numeric values compare across int/float representations.
	g := MetadataEquals("level", 2)
	assert.True(t, g(map[string]any{"level": 2.0}))
	assert.True(t, g(map[string]any{"level": int64(2)}))
	assert.False(t, g(map[string]any{"level": 2.5}))
	assert.False(t, g(map[string]any{"level": math.NaN()}))
}
