package analyses

import (
	"math"

	"github.com/qubit-data/calibration.report/internal/curve"
	"github.com/qubit-data/calibration.report/internal/scatter"
)

// SeriesKey is the metadata key routing records into the X or Y quadrature
// series of a RamseyXY sweep.
const SeriesKey = "series"

// NewRamseyXY builds the two-series Ramsey analysis: the X and Y quadrature
// sweeps share amplitude, frequency, phase and baseline, so both series
// constrain the same four parameters.
func NewRamseyXY(name string, opts curve.Options) (*curve.Analysis, error) {
	series := []curve.SeriesDef{
		{
			Name:        "X",
			Fn:          cosine,
			ParamNames:  []string{"amp", "freq", "phase", "base"},
			Filter:      curve.MetadataEquals(SeriesKey, "X"),
			Description: "amp * cos(2*pi*freq*x + phase) + base",
		},
		{
			Name:        "Y",
			Fn:          sine,
			ParamNames:  []string{"amp", "freq", "phase", "base"},
			Filter:      curve.MetadataEquals(SeriesKey, "Y"),
			Description: "amp * sin(2*pi*freq*x + phase) + base",
		},
	}
	if opts.Quality == nil {
		opts.Quality = oscillationQuality
	}
	if len(opts.ResultParams) == 0 {
		opts.ResultParams = []curve.ParamSpec{
			{Name: "freq", Unit: "Hz"},
			{Name: "phase", Unit: "rad"},
		}
	}
	return curve.NewAnalysis(name, series, ramseyGuesser, opts)
}

func ramseyGuesser(base *curve.FitOptions, formatted *scatter.Table, _ *curve.CompositeModel) ([]*curve.FitOptions, error) {
	// Frequency and levels are estimated from the X quadrature alone; both
	// series share the parameters anyway.
	xSeries := formatted.Filter(scatter.Query{Name: scatter.Ptr("X")})
	if xSeries.Len() == 0 {
		xSeries = formatted
	}
	xs := xSeries.Xs(false)
	ys := xSeries.Ys(false)

	if err := base.SetP0IfEmpty(map[string]float64{
		"amp":  halfSpread(ys),
		"freq": curve.GuessFrequency(xs, ys),
		"base": meanOf(ys),
	}); err != nil {
		return nil, err
	}
	if err := base.SetBoundsIfEmpty(map[string]curve.Bound{
		"amp":   {Low: 0, High: math.Inf(1)},
		"freq":  {Low: 0, High: math.Inf(1)},
		"phase": {Low: -math.Pi, High: math.Pi},
	}); err != nil {
		return nil, err
	}

	var candidates []*curve.FitOptions
	for _, phase := range oscillationPhases {
		c := base.Copy()
		if err := c.SetP0IfEmpty(map[string]float64{"phase": phase}); err != nil {
			return nil, err
		}
		candidates = append(candidates, c)
	}
	return candidates, nil
}
