package scatter

import (
	"fmt"
	"sort"
	"strconv"
	"strings"
)

// SeriesGroup is one (series id, subtable) pair produced by IterBySeries.
type SeriesGroup struct {
	SeriesID int
	Table    *Table
}

// IterBySeries splits the table by series id, sorted ascending by id.
// Rows without a series id (unassigned data) are skipped.
func (t *Table) IterBySeries() []SeriesGroup {
	byID := make(map[int]*Table)
	var ids []int
	for _, r := range t.rows {
		if r.SeriesID == nil {
			continue
		}
		sub, ok := byID[*r.SeriesID]
		if !ok {
			sub = NewTable()
			byID[*r.SeriesID] = sub
			ids = append(ids, *r.SeriesID)
		}
		sub.rows = append(sub.rows, r)
	}
	sort.Ints(ids)

	out := make([]SeriesGroup, 0, len(ids))
	for _, id := range ids {
		out = append(out, SeriesGroup{SeriesID: id, Table: byID[id]})
	}
	return out
}

// Group is one (key tuple, subtable) pair produced by IterGroups. Key holds
// the string form of each grouping column's value for this group; unset
// fields appear as the empty string.
type Group struct {
	Key   []string
	Table *Table
}

// IterGroups splits the table by the Cartesian combination of the named
// columns, sorted by key tuple. Groupable columns are the discrete ones:
// "name", "data_uid", "category" and "analysis".
func (t *Table) IterGroups(columns ...string) ([]Group, error) {
	for _, c := range columns {
		switch c {
		case "name", "data_uid", "category", "analysis":
		default:
			return nil, fmt.Errorf("scatter: column %q is not groupable", c)
		}
	}

	byKey := make(map[string]*Table)
	keyTuples := make(map[string][]string)
	var keys []string
	for _, r := range t.rows {
		tuple := make([]string, len(columns))
		for i, c := range columns {
			tuple[i] = r.columnString(c)
		}
		k := strings.Join(tuple, "\x1f")
		sub, ok := byKey[k]
		if !ok {
			sub = NewTable()
			byKey[k] = sub
			keyTuples[k] = tuple
			keys = append(keys, k)
		}
		sub.rows = append(sub.rows, r)
	}
	// Compare key tuples element-wise; data_uid values order numerically so
	// id 2 precedes id 10.
	sort.Slice(keys, func(i, j int) bool {
		a, b := keyTuples[keys[i]], keyTuples[keys[j]]
		for c := range columns {
			if a[c] == b[c] {
				continue
			}
			if columns[c] == "data_uid" {
				ai, aerr := strconv.Atoi(a[c])
				bi, berr := strconv.Atoi(b[c])
				if aerr == nil && berr == nil {
					return ai < bi
				}
			}
			return a[c] < b[c]
		}
		return false
	})

	out := make([]Group, 0, len(keys))
	for _, k := range keys {
		out = append(out, Group{Key: keyTuples[k], Table: byKey[k]})
	}
	return out, nil
}

func (r Row) columnString(col string) string {
	switch col {
	case "name":
		return strOrEmpty(r.Name)
	case "data_uid":
		if r.SeriesID == nil {
			return ""
		}
		return strconv.Itoa(*r.SeriesID)
	case "category":
		return strOrEmpty(r.Category)
	case "analysis":
		return strOrEmpty(r.Analysis)
	}
	return ""
}
