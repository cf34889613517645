// Package scatter implements the tabular store shared by all curve analyses.
//
// A Table holds one row per measured or derived data point. Rows carry the
// measured x/y pair plus optional error bars, shot counts, the owning series
// (by human-readable name and by dense integer id), a category tag
// ("raw", "formatted", "fitted") and the name of the analysis that produced
// them. Filtering always returns an independent copy, so readers can hold
// filtered views while a single owner keeps appending to the source.
package scatter

import (
	"fmt"
	"log"
	"math"
	"sort"
)

// Column names of the fixed table schema, in serialization order.
var Columns = []string{"xval", "yval", "yerr", "name", "data_uid", "category", "shots", "analysis"}

// Common category tags. The set is open; these are the conventional values.
const (
	CategoryRaw       = "raw"
	CategoryFormatted = "formatted"
	CategoryFitted    = "fitted"
)

// Row is one data point. Optional fields are pointers so that "unset"
// survives a JSON round trip as null rather than collapsing to a zero value.
type Row struct {
	X        float64  `json:"xval"`
	Y        float64  `json:"yval"`
	YErr     *float64 `json:"yerr"`
	Name     *string  `json:"name"`
	SeriesID *int     `json:"data_uid"`
	Category *string  `json:"category"`
	Shots    *int64   `json:"shots"`
	Analysis *string  `json:"analysis"`
}

// Ptr returns a pointer to v, for filling optional Row fields inline.
func Ptr[T any](v T) *T { return &v }

// Table is an append-only, filterable sequence of rows.
//
// A Table is not safe for concurrent mutation. The owner must serialize
// writes; filtered copies are independent and may be read concurrently.
type Table struct {
	rows []Row

	// Columnar caches, built on first access and dropped on append so that
	// incremental row-by-row construction stays O(n) overall.
	colX     []float64
	colY     []float64
	colYErr  []float64
	colShots []int64
}

// NewTable returns an empty table.
func NewTable() *Table {
	return &Table{}
}

// FromRows builds a table from a row slice (the slice is copied).
func FromRows(rows []Row) *Table {
	t := NewTable()
	t.rows = append(t.rows, rows...)
	return t
}

// Len returns the number of rows.
func (t *Table) Len() int { return len(t.rows) }

// Rows returns a copy of the row slice.
func (t *Table) Rows() []Row {
	out := make([]Row, len(t.rows))
	copy(out, t.rows)
	return out
}

// Row returns the i-th row.
func (t *Table) Row(i int) Row { return t.rows[i] }

// AddRow appends one row and invalidates the columnar caches.
func (t *Table) AddRow(r Row) {
	t.rows = append(t.rows, r)
	t.colX, t.colY, t.colYErr, t.colShots = nil, nil, nil, nil
}

// Merge appends all rows from the given tables, in order.
func (t *Table) Merge(others ...*Table) {
	for _, o := range others {
		if o == nil {
			continue
		}
		t.rows = append(t.rows, o.rows...)
	}
	t.colX, t.colY, t.colYErr, t.colShots = nil, nil, nil, nil
}

// Copy returns an independent deep copy of the table.
func (t *Table) Copy() *Table {
	return FromRows(t.rows)
}

// Query selects rows by series, category and analysis. Nil fields match
// everything. Series may be addressed by name, by id, or both; when a name
// and an id are both given they must refer to the same series for a row to
// match.
type Query struct {
	Name     *string
	SeriesID *int
	Category *string
	Analysis *string
}

// Filter returns a new table holding only the rows matching q. The receiver
// is never mutated.
//
// A series name in q also matches rows that carry only the corresponding
// series id (and vice versa), using the name<->id pairs present in the table.
func (t *Table) Filter(q Query) *Table {
	nameByID, idByName := t.seriesIndex()

	wantName := q.Name
	wantID := q.SeriesID
	// A name/id pair naming two different series matches nothing.
	if wantName != nil && wantID != nil {
		if id, ok := idByName[*wantName]; ok && id != *wantID {
			return NewTable()
		}
		if name, ok := nameByID[*wantID]; ok && name != *wantName {
			return NewTable()
		}
	}
	// Resolve each series key through the other when only one side is set on
	// a row.
	if wantName != nil && wantID == nil {
		if id, ok := idByName[*wantName]; ok {
			wantID = &id
		}
	}
	if wantID != nil && wantName == nil {
		if name, ok := nameByID[*wantID]; ok {
			wantName = &name
		}
	}

	out := NewTable()
	for _, r := range t.rows {
		if q.Name != nil || q.SeriesID != nil {
			if !matchSeries(r, wantName, wantID) {
				continue
			}
		}
		if q.Category != nil && (r.Category == nil || *r.Category != *q.Category) {
			continue
		}
		if q.Analysis != nil && (r.Analysis == nil || *r.Analysis != *q.Analysis) {
			continue
		}
		out.rows = append(out.rows, r)
	}
	return out
}

// matchSeries reports whether the row is consistent with the wanted series
// keys: every set field must agree, and at least one must match. A row whose
// name matches but whose id contradicts the wanted id does not match.
func matchSeries(r Row, name *string, id *int) bool {
	matched := false
	if name != nil && r.Name != nil {
		if *r.Name != *name {
			return false
		}
		matched = true
	}
	if id != nil && r.SeriesID != nil {
		if *r.SeriesID != *id {
			return false
		}
		matched = true
	}
	return matched
}

// seriesIndex scans the table and returns the name<->id correspondence seen
// in rows where both fields are set.
func (t *Table) seriesIndex() (nameByID map[int]string, idByName map[string]int) {
	nameByID = make(map[int]string)
	idByName = make(map[string]int)
	for _, r := range t.rows {
		if r.Name != nil && r.SeriesID != nil {
			nameByID[*r.SeriesID] = *r.Name
			idByName[*r.Name] = *r.SeriesID
		}
	}
	return nameByID, idByName
}

// Xs returns the x column. When check is true, a warning is logged if the
// rows span more than one series, category or analysis; that usually means
// the caller forgot to filter first.
func (t *Table) Xs(check bool) []float64 {
	if check {
		t.warnIfMixed("Xs")
	}
	if t.colX == nil {
		t.colX = make([]float64, len(t.rows))
		for i, r := range t.rows {
			t.colX[i] = r.X
		}
	}
	return t.colX
}

// Ys returns the y column. See Xs for the meaning of check.
func (t *Table) Ys(check bool) []float64 {
	if check {
		t.warnIfMixed("Ys")
	}
	if t.colY == nil {
		t.colY = make([]float64, len(t.rows))
		for i, r := range t.rows {
			t.colY[i] = r.Y
		}
	}
	return t.colY
}

// YErrs returns the y-error column; rows without an error bar yield NaN.
func (t *Table) YErrs(check bool) []float64 {
	if check {
		t.warnIfMixed("YErrs")
	}
	if t.colYErr == nil {
		t.colYErr = make([]float64, len(t.rows))
		for i, r := range t.rows {
			if r.YErr != nil {
				t.colYErr[i] = *r.YErr
			} else {
				t.colYErr[i] = math.NaN()
			}
		}
	}
	return t.colYErr
}

// ShotCounts returns the shots column; rows without a count yield -1.
func (t *Table) ShotCounts(check bool) []int64 {
	if check {
		t.warnIfMixed("ShotCounts")
	}
	if t.colShots == nil {
		t.colShots = make([]int64, len(t.rows))
		for i, r := range t.rows {
			if r.Shots != nil {
				t.colShots[i] = *r.Shots
			} else {
				t.colShots[i] = -1
			}
		}
	}
	return t.colShots
}

// SeriesIDs returns the series-id column; unassigned rows yield -1.
func (t *Table) SeriesIDs() []int {
	out := make([]int, len(t.rows))
	for i, r := range t.rows {
		if r.SeriesID != nil {
			out[i] = *r.SeriesID
		} else {
			out[i] = -1
		}
	}
	return out
}

// SortByX stable-sorts rows ascending by x. Ties keep their original order,
// which preserves series ordering for duplicated x values.
func (t *Table) SortByX() {
	sort.SliceStable(t.rows, func(i, j int) bool { return t.rows[i].X < t.rows[j].X })
	t.colX, t.colY, t.colYErr, t.colShots = nil, nil, nil, nil
}

// XRange returns the minimum and maximum x value. Zero-length tables return
// (NaN, NaN).
func (t *Table) XRange() (lo, hi float64) {
	if len(t.rows) == 0 {
		return math.NaN(), math.NaN()
	}
	lo, hi = t.rows[0].X, t.rows[0].X
	for _, r := range t.rows[1:] {
		lo = math.Min(lo, r.X)
		hi = math.Max(hi, r.X)
	}
	return lo, hi
}

// YRange returns the minimum and maximum y value. Zero-length tables return
// (NaN, NaN).
func (t *Table) YRange() (lo, hi float64) {
	if len(t.rows) == 0 {
		return math.NaN(), math.NaN()
	}
	lo, hi = t.rows[0].Y, t.rows[0].Y
	for _, r := range t.rows[1:] {
		lo = math.Min(lo, r.Y)
		hi = math.Max(hi, r.Y)
	}
	return lo, hi
}

// warnIfMixed logs when the table spans more than one series, category or
// analysis. Mixing those in a single columnar read is almost always a
// missing Filter call, but it is not an error.
func (t *Table) warnIfMixed(caller string) {
	names := map[string]bool{}
	categories := map[string]bool{}
	analyses := map[string]bool{}
	for _, r := range t.rows {
		names[strOrEmpty(r.Name)] = true
		categories[strOrEmpty(r.Category)] = true
		analyses[strOrEmpty(r.Analysis)] = true
	}
	if len(names) > 1 || len(categories) > 1 || len(analyses) > 1 {
		log.Printf("scatter: %s called on a table spanning %d series, %d categories, %d analyses; did you mean to Filter first?",
			caller, len(names), len(categories), len(analyses))
	}
}

func strOrEmpty(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

// String returns a short human-readable summary, useful in logs.
func (t *Table) String() string {
	return fmt.Sprintf("ScatterTable(%d rows)", len(t.rows))
}
