// Package models provides the record and value types that flow from the
// ingestion side of the loader into stage files.
//
// A Record maps column names to Values. A Value is a tagged scalar whose kind is
// decided once, when the incoming JSON field is converted, and never re-guessed
// downstream: a string that looks like a number stays a string.
package models

// Record is one row destined for a target table.
type Record struct {
	// Values maps column name to value. Absent columns are loaded as null.
	Values map[string]Value

	// Position is the most recent checkpoint position observed before the
	// record arrived. It is informational; acknowledgement is driven by
	// checkpoint requests, not by records.
	Position string

	// Deleted marks a soft-deleted source row. Under hard delete the row is
	// removed from the target instead of upserted.
	Deleted bool
}

// NewRecord creates an empty record with capacity for n columns.
func NewRecord(n int) Record {
	return Record{Values: make(map[string]Value, n)}
}

// Get returns the value for column, or Null when the column is absent.
func (r Record) Get(column string) Value {
	if v, ok := r.Values[column]; ok {
		return v
	}
	return Null()
}

// Size estimates the staged size of the record in bytes.
func (r Record) Size() int64 {
	var n int64
	for name, v := range r.Values {
		n += int64(len(name)) + int64(v.Size()) + 3
	}
	return n + 1
}
