package report

import (
	"fmt"
	"io"

	"github.com/go-echarts/go-echarts/v2/charts"
	"github.com/go-echarts/go-echarts/v2/components"
	"github.com/go-echarts/go-echarts/v2/opts"

	"github.com/qubit-data/calibration.report/internal/curve"
	"github.com/qubit-data/calibration.report/internal/scatter"
)

// RenderHTML writes an interactive HTML report for an analysis outcome:
// one chart of formatted data with overlaid fitted curves, plus a bar chart
// of the fitted parameter values when a fit succeeded.
func RenderHTML(outcome *curve.Outcome, w io.Writer) error {
	page := components.NewPage()
	page.PageTitle = fmt.Sprintf("analysis %s", outcome.Analysis)

	page.AddCharts(dataChart(outcome))
	if bar := paramChart(outcome); bar != nil {
		page.AddCharts(bar)
	}

	if err := page.Render(w); err != nil {
		return fmt.Errorf("rendering report: %w", err)
	}
	return nil
}

func dataChart(outcome *curve.Outcome) *charts.Scatter {
	chart := charts.NewScatter()

	subtitle := "fit failed"
	if outcome.Fit != nil {
		subtitle = fmt.Sprintf("quality %s, reduced chi-squared %.3f", outcome.Quality, outcome.Fit.ReducedChiSq)
	}
	chart.SetGlobalOptions(
		charts.WithInitializationOpts(opts.Initialization{
			Width:  "900px",
			Height: "520px",
		}),
		charts.WithTitleOpts(opts.Title{
			Title:    outcome.Analysis,
			Subtitle: subtitle,
		}),
		charts.WithTooltipOpts(opts.Tooltip{Show: opts.Bool(true)}),
		charts.WithXAxisOpts(opts.XAxis{
			Name: "x",
			Type: "value",
		}),
		charts.WithYAxisOpts(opts.YAxis{
			Name: "y",
			Type: "value",
		}),
		charts.WithLegendOpts(opts.Legend{Show: opts.Bool(true)}),
	)

	formatted := outcome.Table.Filter(scatter.Query{Category: scatter.Ptr(scatter.CategoryFormatted)})
	for _, group := range formatted.IterBySeries() {
		sub := group.Table
		points := make([]opts.ScatterData, 0, sub.Len())
		for _, r := range sub.Rows() {
			points = append(points, opts.ScatterData{
				Value: []interface{}{r.X, r.Y},
			})
		}
		chart.AddSeries(seriesLabel(sub, group.SeriesID), points,
			charts.WithScatterChartOpts(opts.ScatterChart{SymbolSize: 6}))
	}

	fitted := outcome.Table.Filter(scatter.Query{Category: scatter.Ptr(scatter.CategoryFitted)})
	if fitted.Len() > 0 {
		chart.Overlap(fittedLines(fitted))
	}
	return chart
}

// fittedLines builds a line chart of the sampled fit curves, one series per
// series id, for overlaying on the scatter chart.
func fittedLines(fitted *scatter.Table) *charts.Line {
	line := charts.NewLine()
	for _, group := range fitted.IterBySeries() {
		sub := group.Table
		points := make([]opts.LineData, 0, sub.Len())
		for _, r := range sub.Rows() {
			points = append(points, opts.LineData{
				Value: []interface{}{r.X, r.Y},
			})
		}
		name := fmt.Sprintf("%s fit", seriesLabel(sub, group.SeriesID))
		line.AddSeries(name, points,
			charts.WithLineChartOpts(opts.LineChart{Smooth: opts.Bool(true), ShowSymbol: opts.Bool(false)}))
	}
	return line
}

// paramChart summarizes the fitted parameter magnitudes, or nil when no fit
// succeeded.
func paramChart(outcome *curve.Outcome) *charts.Bar {
	if outcome.Fit == nil || len(outcome.Fit.Params) == 0 {
		return nil
	}
	chart := charts.NewBar()
	chart.SetGlobalOptions(
		charts.WithInitializationOpts(opts.Initialization{
			Width:  "900px",
			Height: "320px",
		}),
		charts.WithTitleOpts(opts.Title{Title: "fitted parameters"}),
		charts.WithTooltipOpts(opts.Tooltip{Show: opts.Bool(true)}),
	)

	names := make([]string, 0, len(outcome.Fit.Params))
	values := make([]opts.BarData, 0, len(outcome.Fit.Params))
	for _, p := range outcome.Fit.Params {
		names = append(names, p.Name)
		values = append(values, opts.BarData{Value: p.Value})
	}
	chart.SetXAxis(names).AddSeries("value", values)
	return chart
}
