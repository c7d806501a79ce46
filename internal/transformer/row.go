package transformer

// Value is one raw cell. Valid is false for JSON null.
type Value struct {
	S     string
	Valid bool
}

// Row is one decoded row object with its columns in source order.
//
// Contract:
//   - The parser reuses a single Row for every object it decodes; consumers
//     must not retain r, r.Columns or r.Values after their callback returns.
//   - Line is the 1-based position of the object in the source array.
type Row struct {
	Line    int
	Columns []string
	Values  []Value
}

// Reset empties the row for reuse, keeping the backing arrays.
func (r *Row) Reset(line int) {
	r.Line = line
	r.Columns = r.Columns[:0]
	r.Values = r.Values[:0]
}

// Set appends col=v, or replaces the value in place when col already exists
// in this row (a repeated key keeps its first position and its last value).
func (r *Row) Set(col string, v Value) {
	for i, c := range r.Columns {
		if c == col {
			r.Values[i] = v
			return
		}
	}
	r.Columns = append(r.Columns, col)
	r.Values = append(r.Values, v)
}

// Lookup returns the value of col and whether the column exists in the row.
func (r *Row) Lookup(col string) (Value, bool) {
	for i, c := range r.Columns {
		if c == col {
			return r.Values[i], true
		}
	}
	return Value{}, false
}
