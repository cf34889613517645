package curve

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/stat"

	"github.com/qubit-data/calibration.report/internal/scatter"
)

// extractRows converts raw records into one raw-category table row per
// measurement. Each record is routed to the first series whose filter
// matches its metadata; records matching no series stay in the table
// without a series assignment. A record missing the x-value key is a
// configuration error, not a per-record skip.
func extractRows(records []Record, model *CompositeModel, proc Processor, xKey, analysisName string) (*scatter.Table, error) {
	if xKey == "" {
		return nil, fmt.Errorf("%w: no x-value key configured", ErrConfig)
	}

	// A trainable processor gets exactly one training pass over the full
	// record set before extraction.
	if tr, ok := proc.(Trainable); ok && !tr.Trained() {
		if err := tr.Train(records); err != nil {
			return nil, fmt.Errorf("training data processor: %w", err)
		}
	}

	ys, yErrs, err := proc.Process(records)
	if err != nil {
		return nil, fmt.Errorf("processing records: %w", err)
	}
	if len(ys) != len(records) || len(yErrs) != len(records) {
		return nil, fmt.Errorf("data processor returned %d values and %d errors for %d records",
			len(ys), len(yErrs), len(records))
	}

	table := scatter.NewTable()
	for i, r := range records {
		raw, ok := r.Metadata[xKey]
		if !ok {
			return nil, fmt.Errorf("%w: record %d has no metadata key %q", ErrConfig, i, xKey)
		}
		x, ok := toFloat(raw)
		if !ok {
			return nil, fmt.Errorf("%w: record %d metadata key %q is %T, want a number", ErrConfig, i, xKey, raw)
		}

		row := scatter.Row{
			X:        x,
			Y:        ys[i],
			Category: scatter.Ptr(scatter.CategoryRaw),
			Analysis: scatter.Ptr(analysisName),
		}
		if !math.IsNaN(yErrs[i]) {
			row.YErr = scatter.Ptr(yErrs[i])
		}
		if r.Shots > 0 {
			row.Shots = scatter.Ptr(r.Shots)
		}
		if sid := assignSeries(r.Metadata, model); sid >= 0 {
			row.SeriesID = scatter.Ptr(sid)
			row.Name = scatter.Ptr(model.Series(sid).Name)
		}
		table.AddRow(row)
	}
	return table, nil
}

// assignSeries returns the index of the first series whose filter matches,
// or -1 when no series claims the record.
func assignSeries(metadata map[string]any, model *CompositeModel) int {
	for i := 0; i < model.NumSeries(); i++ {
		f := model.Series(i).Filter
		if f == nil || f(metadata) {
			return i
		}
	}
	return -1
}

// formatTable reduces a raw table to one row per (series, x) pair: duplicate
// x values within a series are averaged with shot weighting, and the result
// is sorted ascending by x. Running it on already-formatted data returns the
// formatted rows unchanged, so the pipeline is idempotent.
func formatTable(raw *scatter.Table) (*scatter.Table, error) {
	rawOnly := raw.Filter(scatter.Query{Category: scatter.Ptr(scatter.CategoryRaw)})
	if rawOnly.Len() == 0 {
		// Nothing raw left to reduce; pass existing formatted rows through.
		formatted := raw.Filter(scatter.Query{Category: scatter.Ptr(scatter.CategoryFormatted)})
		if formatted.Len() == 0 {
			return nil, fmt.Errorf("%w: no raw or formatted rows to format", ErrNoData)
		}
		out := formatted.Copy()
		out.SortByX()
		return out, nil
	}

	out := scatter.NewTable()
	for _, group := range rawOnly.IterBySeries() {
		sub := group.Table
		// Within a series, bucket rows by exact x value, preserving
		// first-seen x order (SortByX below is stable over it).
		seenOrder := []float64{}
		byX := map[float64][]scatter.Row{}
		for _, r := range sub.Rows() {
			if _, ok := byX[r.X]; !ok {
				seenOrder = append(seenOrder, r.X)
			}
			byX[r.X] = append(byX[r.X], r)
		}
		for _, x := range seenOrder {
			out.AddRow(reduceGroup(byX[x]))
		}
	}
	out.SortByX()
	return out, nil
}

// reduceGroup collapses rows sharing one (series, x) pair into a single
// formatted row with a shot-weighted mean and a combined error bar.
// Single-member groups pass through with only the category changed.
func reduceGroup(rows []scatter.Row) scatter.Row {
	first := rows[0]
	if len(rows) == 1 {
		first.Category = scatter.Ptr(scatter.CategoryFormatted)
		return first
	}

	ys := make([]float64, len(rows))
	weights := make([]float64, len(rows))
	var totalShots int64
	haveShots := true
	haveErrs := true
	for i, r := range rows {
		ys[i] = r.Y
		if r.Shots != nil {
			weights[i] = float64(*r.Shots)
			totalShots += *r.Shots
		} else {
			weights[i] = 1
			haveShots = false
		}
		if r.YErr == nil || !isFiniteNonzero(*r.YErr) {
			haveErrs = false
		}
	}

	mean := stat.Mean(ys, weights)

	var yErr float64
	if haveErrs {
		// Propagate member error bars through the weighted mean.
		var sumW, sumSq float64
		for i, r := range rows {
			sumW += weights[i]
			sumSq += weights[i] * weights[i] * (*r.YErr) * (*r.YErr)
		}
		yErr = math.Sqrt(sumSq) / sumW
	} else {
		// No usable error bars: fall back to the standard error of the
		// weighted mean.
		sd := stat.StdDev(ys, weights)
		yErr = sd / math.Sqrt(float64(len(ys)))
	}

	out := scatter.Row{
		X:        first.X,
		Y:        mean,
		Name:     first.Name,
		SeriesID: first.SeriesID,
		Category: scatter.Ptr(scatter.CategoryFormatted),
		Analysis: first.Analysis,
	}
	if isFiniteNonzero(yErr) {
		out.YErr = scatter.Ptr(yErr)
	}
	if haveShots {
		out.Shots = scatter.Ptr(totalShots)
	}
	return out
}

func isFiniteNonzero(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0) && v != 0
}
