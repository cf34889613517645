package scatter

import (
	"encoding/json"
	"fmt"
	"sort"
	"strconv"
)

const className = "ScatterTable"

// envelope is the wire form: a class marker plus a row-index-keyed map so
// the payload stays self-describing for non-Go consumers.
type envelope struct {
	Class string                     `json:"class"`
	Data  map[string]json.RawMessage `json:"data"`
}

// MarshalJSON serializes the table as
// {"class":"ScatterTable","data":{"0":{...},"1":{...}}}.
func (t *Table) MarshalJSON() ([]byte, error) {
	data := make(map[string]json.RawMessage, len(t.rows))
	for i, r := range t.rows {
		b, err := json.Marshal(r)
		if err != nil {
			return nil, fmt.Errorf("marshaling row %d: %w", i, err)
		}
		data[strconv.Itoa(i)] = b
	}
	return json.Marshal(envelope{Class: className, Data: data})
}

// UnmarshalJSON reconstructs a table by replaying rows through AddRow in
// index order. Payloads whose column set differs from the fixed schema are
// rejected outright; a schema drift must surface at load time, not as
// silently coerced fields.
func (t *Table) UnmarshalJSON(b []byte) error {
	var env envelope
	if err := json.Unmarshal(b, &env); err != nil {
		return fmt.Errorf("decoding scatter table: %w", err)
	}
	if env.Class != className {
		return fmt.Errorf("decoding scatter table: class %q, want %q", env.Class, className)
	}

	indices := make([]int, 0, len(env.Data))
	for k := range env.Data {
		i, err := strconv.Atoi(k)
		if err != nil {
			return fmt.Errorf("decoding scatter table: bad row index %q", k)
		}
		indices = append(indices, i)
	}
	sort.Ints(indices)

	loaded := NewTable()
	for _, i := range indices {
		raw := env.Data[strconv.Itoa(i)]
		if err := verifyRowColumns(raw, i); err != nil {
			return err
		}
		var r Row
		if err := json.Unmarshal(raw, &r); err != nil {
			return fmt.Errorf("decoding scatter table row %d: %w", i, err)
		}
		loaded.AddRow(r)
	}
	*t = *loaded
	return nil
}

// verifyRowColumns checks that a serialized row carries exactly the fixed
// column set, no more and no fewer.
func verifyRowColumns(raw json.RawMessage, idx int) error {
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(raw, &fields); err != nil {
		return fmt.Errorf("decoding scatter table row %d: %w", idx, err)
	}
	if len(fields) != len(Columns) {
		return fmt.Errorf("scatter table row %d has %d columns, want %d (%v)",
			idx, len(fields), len(Columns), Columns)
	}
	for _, c := range Columns {
		if _, ok := fields[c]; !ok {
			return fmt.Errorf("scatter table row %d is missing column %q", idx, c)
		}
	}
	return nil
}
