package report

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/qubit-data/calibration.report/internal/curve"
	"github.com/qubit-data/calibration.report/internal/scatter"
)

func reportOutcome() *curve.Outcome {
	table := scatter.NewTable()
	for i := 0; i < 10; i++ {
		x := float64(i) / 9
		table.AddRow(scatter.Row{
			X: x, Y: 1 - x,
			YErr:     scatter.Ptr(0.05),
			Name:     scatter.Ptr("exp_decay"),
			SeriesID: scatter.Ptr(0),
			Category: scatter.Ptr(scatter.CategoryFormatted),
			Analysis: scatter.Ptr("t1"),
		})
		table.AddRow(scatter.Row{
			X: x, Y: 1 - x,
			Name:     scatter.Ptr("exp_decay"),
			SeriesID: scatter.Ptr(0),
			Category: scatter.Ptr(scatter.CategoryFitted),
			Analysis: scatter.Ptr("t1"),
		})
	}
	return &curve.Outcome{
		Analysis: "t1",
		Table:    table,
		Quality:  curve.QualityGood,
		Fit: &curve.FitResult{
			Params:       []curve.ParamValue{{Name: "tau", Value: 0.3, Stderr: 0.01}},
			ReducedChiSq: 1.1,
		},
	}
}

func TestSavePNG(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "fit.png")
	require.NoError(t, SavePNG(reportOutcome().Table, "t1", path))

	info, err := os.Stat(path)
	require.NoError(t, err)
	assert.Greater(t, info.Size(), int64(0))
}

func TestSavePNGRequiresFormattedRows(t *testing.T) {
	t.Parallel()

	err := SavePNG(scatter.NewTable(), "empty", filepath.Join(t.TempDir(), "x.png"))
	assert.Error(t, err)
}

func TestRenderHTML(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	require.NoError(t, RenderHTML(reportOutcome(), &buf))

	html := buf.String()
	assert.Contains(t, html, "echarts")
	assert.Contains(t, html, "t1")
	assert.Contains(t, html, "fitted parameters")
}

func TestRenderHTMLFailedFit(t *testing.T) {
	t.Parallel()

	outcome := reportOutcome()
	outcome.Fit = nil
	outcome.Quality = ""

	var buf bytes.Buffer
	require.NoError(t, RenderHTML(outcome, &buf))
	assert.Contains(t, buf.String(), "fit failed")
}
