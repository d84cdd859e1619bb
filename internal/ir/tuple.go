package ir

import (
	"encoding/json"
	"strings"
)

// Tuple is one row of a relation: key columns first, then value columns.
type Tuple []Value

// CompareTuples orders tuples lexicographically by the value total order.
// A shorter tuple that is a prefix of a longer one sorts first.
func CompareTuples(a, b Tuple) int {
	n := min(len(a), len(b))
	for i := 0; i < n; i++ {
		if c := Compare(a[i], b[i]); c != 0 {
			return c
		}
	}
	switch {
	case len(a) < len(b):
		return -1
	case len(a) > len(b):
		return 1
	}
	return 0
}

// Clone returns a copy of the tuple.
func (t Tuple) Clone() Tuple {
	out := make(Tuple, len(t))
	copy(out, t)
	return out
}

func (t Tuple) String() string {
	parts := make([]string, len(t))
	for i, v := range t {
		if v == nil {
			parts[i] = "null"
			continue
		}
		parts[i] = v.String()
	}
	return "[" + strings.Join(parts, ", ") + "]"
}

// MarshalJSON encodes the tuple as a JSON array of scalars.
func (t Tuple) MarshalJSON() ([]byte, error) {
	out := make([]json.RawMessage, len(t))
	for i, v := range t {
		b, err := MarshalValue(v)
		if err != nil {
			return nil, err
		}
		out[i] = b
	}
	return json.Marshal(out)
}

// UnmarshalJSON decodes a JSON array of scalars.
func (t *Tuple) UnmarshalJSON(data []byte) error {
	var raw []json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	out := make(Tuple, len(raw))
	for i, r := range raw {
		v, err := ParseValue(r)
		if err != nil {
			return err
		}
		out[i] = v
	}
	*t = out
	return nil
}

// NamedRows is a headed set of rows: the shape of query results and of bulk
// import payloads.
type NamedRows struct {
	Headers []string `json:"headers"`
	Rows    []Tuple  `json:"rows"`
}
