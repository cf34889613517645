// Package report renders analysis outcomes for human consumption: static
// PNG plots via gonum/plot and interactive HTML charts via go-echarts.
package report

import (
	"fmt"
	"image/color"

	"gonum.org/v1/plot"
	"gonum.org/v1/plot/plotter"
	"gonum.org/v1/plot/vg"

	"github.com/qubit-data/calibration.report/internal/scatter"
)

// errPoints combines coordinates and error bars for plotter.NewYErrorBars.
type errPoints struct {
	plotter.XYs
	plotter.YErrors
}

// SavePNG renders one analysis table to a PNG file: formatted data points
// with error bars per series, overlaid with the fitted curves.
func SavePNG(table *scatter.Table, title, path string) error {
	formatted := table.Filter(scatter.Query{Category: scatter.Ptr(scatter.CategoryFormatted)})
	fitted := table.Filter(scatter.Query{Category: scatter.Ptr(scatter.CategoryFitted)})
	if formatted.Len() == 0 {
		return fmt.Errorf("no formatted rows to plot")
	}

	p := plot.New()
	p.Title.Text = title
	p.X.Label.Text = "x"
	p.Y.Label.Text = "y"

	groups := formatted.IterBySeries()
	colors := seriesColors(len(groups))

	for i, group := range groups {
		sub := group.Table
		name := seriesLabel(sub, group.SeriesID)

		pts := errPoints{
			XYs:     make(plotter.XYs, sub.Len()),
			YErrors: make(plotter.YErrors, sub.Len()),
		}
		for j, r := range sub.Rows() {
			pts.XYs[j] = plotter.XY{X: r.X, Y: r.Y}
			if r.YErr != nil {
				pts.YErrors[j] = struct{ Low, High float64 }{*r.YErr, *r.YErr}
			}
		}

		sc, err := plotter.NewScatter(pts.XYs)
		if err != nil {
			return fmt.Errorf("scatter for series %s: %w", name, err)
		}
		sc.GlyphStyle.Color = colors[i]
		sc.GlyphStyle.Radius = vg.Points(2.5)
		p.Add(sc)
		p.Legend.Add(name, sc)

		bars, err := plotter.NewYErrorBars(pts)
		if err != nil {
			return fmt.Errorf("error bars for series %s: %w", name, err)
		}
		bars.Color = colors[i]
		p.Add(bars)
	}

	for i, group := range fitted.IterBySeries() {
		sub := group.Table
		line := make(plotter.XYs, sub.Len())
		for j, r := range sub.Rows() {
			line[j] = plotter.XY{X: r.X, Y: r.Y}
		}
		l, err := plotter.NewLine(line)
		if err != nil {
			return fmt.Errorf("fitted line for series %d: %w", group.SeriesID, err)
		}
		l.Color = colors[i%len(colors)]
		l.Width = vg.Points(1.5)
		p.Add(l)
	}

	p.Legend.Top = true
	p.Legend.Left = false

	if err := p.Save(8*vg.Inch, 5*vg.Inch, path); err != nil {
		return fmt.Errorf("save plot: %w", err)
	}
	return nil
}

// seriesLabel prefers the series name column over the numeric id.
func seriesLabel(sub *scatter.Table, id int) string {
	if sub.Len() > 0 {
		if name := sub.Row(0).Name; name != nil {
			return *name
		}
	}
	return fmt.Sprintf("series %d", id)
}

// seriesColors returns n distinguishable colors.
func seriesColors(n int) []color.Color {
	palette := []color.Color{
		color.RGBA{R: 31, G: 119, B: 180, A: 255},
		color.RGBA{R: 255, G: 127, B: 14, A: 255},
		color.RGBA{R: 44, G: 160, B: 44, A: 255},
		color.RGBA{R: 214, G: 39, B: 40, A: 255},
		color.RGBA{R: 148, G: 103, B: 189, A: 255},
		color.RGBA{R: 140, G: 86, B: 75, A: 255},
	}
	out := make([]color.Color, n)
	for i := range out {
		out[i] = palette[i%len(palette)]
	}
	return out
}
