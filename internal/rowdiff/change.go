// Package rowdiff compares two primary-key-ordered row streams with a
// merge-join and classifies the differences as inserts, updates and deletes.
package rowdiff

import (
	"fmt"
	"strings"
)

// ChangeKind classifies a row-level difference
type ChangeKind int

const (
	Insert ChangeKind = iota + 1
	Update
	Delete
)

func (k ChangeKind) String() string {
	switch k {
	case Insert:
		return "Insert"
	case Update:
		return "Update"
	case Delete:
		return "Delete"
	default:
		return "Unknown"
	}
}

// ColumnValue pairs a column name with a value
type ColumnValue struct {
	Column string
	Value  any
}

// RowChange is one classified difference between the source and target rows.
//
// Insert carries every source column in Values. Update carries only the
// differing columns in Values and the target's current values in Previous.
// Delete carries only Key.
type RowChange struct {
	Kind     ChangeKind
	Table    string
	Key      []ColumnValue
	Values   []ColumnValue
	Previous []ColumnValue
}

// KeyValues returns the primary key tuple
func (c RowChange) KeyValues() []any {
	vals := make([]any, len(c.Key))
	for i, k := range c.Key {
		vals[i] = k.Value
	}
	return vals
}

// Value returns the new value of a column
func (c RowChange) Value(column string) (any, bool) {
	for _, v := range c.Values {
		if v.Column == column {
			return v.Value, true
		}
	}
	return nil, false
}

func (c RowChange) String() string {
	parts := make([]string, len(c.Key))
	for i, k := range c.Key {
		parts[i] = fmt.Sprintf("%s=%v", k.Column, k.Value)
	}
	key := strings.Join(parts, ", ")

	switch c.Kind {
	case Update:
		cols := make([]string, len(c.Values))
		for i, v := range c.Values {
			cols[i] = v.Column
		}
		return fmt.Sprintf("Update %s(%s) {%s}", c.Table, key, strings.Join(cols, ", "))
	default:
		return fmt.Sprintf("%s %s(%s)", c.Kind, c.Table, key)
	}
}
