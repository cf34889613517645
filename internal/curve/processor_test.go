package curve

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestProbabilityProcessor(t *testing.T) {
	t.Parallel()

	proc := ProbabilityProcessor{Outcome: "1"}

	t.Run("counts_to_probability", func(t *testing.T) {
		t.Parallel()
		ys, errs, err := proc.Process([]Record{
			{Counts: map[string]int64{"0": 768, "1": 256}, Shots: 1024},
		})
		require.NoError(t, err)
		assert.Equal(t, 0.25, ys[0])
		assert.InDelta(t, math.Sqrt(0.25*0.75/1024), errs[0], 1e-12)
	})

	t.Run("degenerate_proportion_gets_floor", func(t *testing.T) {
		t.Parallel()
		ys, errs, err := proc.Process([]Record{
			{Counts: map[string]int64{"0": 100}, Shots: 100},
		})
		require.NoError(t, err)
		assert.Equal(t, 0.0, ys[0])
		// Rule-of-one floor keeps the error bar non-zero.
		assert.InDelta(t, 0.01, errs[0], 1e-12)
	})

	t.Run("explicit_probability_bypasses_counts", func(t *testing.T) {
		t.Parallel()
		p := 0.7
		ys, errs, err := proc.Process([]Record{
			{Probability: &p, Counts: map[string]int64{"1": 0}, Shots: 1000},
			{Probability: &p},
		})
		require.NoError(t, err)
		assert.Equal(t, 0.7, ys[0])
		assert.InDelta(t, math.Sqrt(0.7*0.3/1000), errs[0], 1e-12)
		// Without shots there is no uncertainty estimate.
		assert.True(t, math.IsNaN(errs[1]))
	})

	t.Run("no_shots_no_probability_fails", func(t *testing.T) {
		t.Parallel()
		_, _, err := proc.Process([]Record{{Counts: map[string]int64{"1": 5}}})
		assert.Error(t, err)
	})
}

func TestNormalizingProcessor(t *testing.T) {
	t.Parallel()

	inner := ProcessorFunc(func(records []Record) ([]float64, []float64, error) {
		ys := make([]float64, len(records))
		errs := make([]float64, len(records))
		for i, r := range records {
			ys[i] = *r.Probability
			errs[i] = 0.2
		}
		return ys, errs, nil
	})

	n := &NormalizingProcessor{Inner: inner}
	records := []Record{
		{Probability: ptrFloat(2)},
		{Probability: ptrFloat(4)},
		{Probability: ptrFloat(6)},
	}

	_, _, err := n.Process(records)
	assert.Error(t, err, "must be trained first")

	require.False(t, n.Trained())
	require.NoError(t, n.Train(records))
	require.True(t, n.Trained())

	ys, errs, err := n.Process(records)
	require.NoError(t, err)
	assert.Equal(t, []float64{0, 0.5, 1}, ys)
	assert.InDelta(t, 0.05, errs[0], 1e-12)
}

func ptrFloat(v float64) *float64 { return &v }
