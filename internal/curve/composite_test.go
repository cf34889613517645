package curve

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/qubit-data/calibration.report/internal/scatter"
)

func decayAnalysis(t *testing.T, name string, quality Quality) *Analysis {
	t.Helper()
	a, err := NewAnalysis(name, decaySeries(), nil, Options{
		XKey:    "delay",
		P0:      map[string]float64{"amp": 0.4, "tau": 0.2, "base": 0.0},
		Quality: quality,
	})
	require.NoError(t, err)
	return a
}

func TestCompositeAnalysisRun(t *testing.T) {
	t.Parallel()

	good := decayAnalysis(t, "first", nil)
	bad := decayAnalysis(t, "second", func(*FitResult) string { return QualityBad })

	c, err := NewCompositeAnalysis(good, bad)
	require.NoError(t, err)

	outcome, err := c.Run(decayRecords(60, 0.5, 0.3, 0.1))
	require.NoError(t, err)
	require.Len(t, outcome.Children, 2)

	// Child order matches declaration order regardless of completion order.
	assert.Equal(t, "first", outcome.Children[0].Analysis)
	assert.Equal(t, "second", outcome.Children[1].Analysis)

	// One bad child spoils the batch verdict.
	assert.Equal(t, QualityGood, outcome.Children[0].Quality)
	assert.Equal(t, QualityBad, outcome.Quality)

	// The merged table keeps both children's rows, distinguishable by the
	// analysis column.
	first := outcome.Table.Filter(scatter.Query{Analysis: scatter.Ptr("first")})
	second := outcome.Table.Filter(scatter.Query{Analysis: scatter.Ptr("second")})
	assert.Equal(t, outcome.Children[0].Table.Len(), first.Len())
	assert.Equal(t, outcome.Children[1].Table.Len(), second.Len())

	// Flattened results are tagged with their owning analysis.
	require.NotEmpty(t, outcome.Results)
	assert.Equal(t, "first", outcome.Results[0].Extra["analysis"])
}

func TestCompositeAnalysisAllGood(t *testing.T) {
	t.Parallel()

	c, err := NewCompositeAnalysis(decayAnalysis(t, "a", nil), decayAnalysis(t, "b", nil))
	require.NoError(t, err)

	outcome, err := c.Run(decayRecords(60, 0.5, 0.3, 0.1))
	require.NoError(t, err)
	assert.Equal(t, QualityGood, outcome.Quality)
}

func TestCompositeAnalysisChildErrorAborts(t *testing.T) {
	t.Parallel()

	broken, err := NewAnalysis("broken", decaySeries(), nil, Options{
		XKey: "no_such_key",
		P0:   map[string]float64{"amp": 1, "tau": 1, "base": 0},
	})
	require.NoError(t, err)

	c, err := NewCompositeAnalysis(decayAnalysis(t, "fine", nil), broken)
	require.NoError(t, err)

	_, err = c.Run(decayRecords(20, 0.5, 0.3, 0.1))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "broken")
}

func TestNewCompositeAnalysisValidation(t *testing.T) {
	t.Parallel()

	_, err := NewCompositeAnalysis()
	assert.ErrorIs(t, err, ErrConfig)

	dup := decayAnalysis(t, "same", nil)
	_, err = NewCompositeAnalysis(dup, decayAnalysis(t, "same", nil))
	assert.ErrorIs(t, err, ErrConfig)
}

func TestCompositeQualityWithFailedChildFit(t *testing.T) {
	t.Parallel()

	// A child whose every candidate fails completes with an empty quality,
	// which must still count against the batch verdict.
	series := []SeriesDef{{
		Name:       "explosive",
		Fn:         func(x float64, p []float64) float64 { panic(math.Inf(1)) },
		ParamNames: []string{"a"},
	}}
	doomed, err := NewAnalysis("doomed", series, nil, Options{
		XKey: "delay",
		P0:   map[string]float64{"a": 1},
	})
	require.NoError(t, err)

	c, err := NewCompositeAnalysis(decayAnalysis(t, "fine", nil), doomed)
	require.NoError(t, err)

	outcome, err := c.Run(decayRecords(40, 0.5, 0.3, 0.1))
	require.NoError(t, err)
	assert.Equal(t, QualityBad, outcome.Quality)
}
