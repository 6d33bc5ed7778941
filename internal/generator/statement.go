// Package generator renders schema changes and row changes as SQL text for a
// target dialect. It never executes anything.
package generator

import (
	"context"
	"errors"
	"strings"

	"github.com/tordrt/syncforge/internal/rowdiff"
	"github.com/tordrt/syncforge/internal/schema"
)

// ErrUnresolvedLargeValue is returned when a row change holds a large value
// digest and no loader was supplied to fetch the content.
var ErrUnresolvedLargeValue = errors.New("large value content not loaded")

// Descriptor is the structured preview of a statement
type Descriptor struct {
	Kind        string   `json:"kind"`
	Table       string   `json:"table"`
	Object      string   `json:"object,omitempty"`
	Summary     string   `json:"summary"`
	Warnings    []string `json:"warnings,omitempty"`
	Destructive bool     `json:"destructive,omitempty"`
}

// Statement is one executable SQL statement and its descriptor
type Statement struct {
	SQL string `json:"sql"`
	Descriptor
}

// String returns the statement text terminated with a semicolon
func (s Statement) String() string {
	if strings.HasSuffix(s.SQL, ";") {
		return s.SQL
	}
	return s.SQL + ";"
}

// LargeValueLoader fetches the full content of a column that the comparator
// replaced with a digest
type LargeValueLoader func(ctx context.Context, table *schema.Table, column string, key []rowdiff.ColumnValue) (any, error)

// Options controls rendering
type Options struct {
	// IfExists adds pre-flight existence checks where the dialect has them
	IfExists bool
	// Transaction marks the output as running inside one transaction
	Transaction bool
	// LoadLargeValue resolves large value digests in row changes
	LoadLargeValue LargeValueLoader
}

// Warnings collects the warnings of every statement, once each
func Warnings(stmts []Statement) []string {
	var out []string
	seen := make(map[string]bool)
	for _, s := range stmts {
		for _, w := range s.Warnings {
			key := s.Table + "\x00" + w
			if seen[key] {
				continue
			}
			seen[key] = true
			out = append(out, s.Table+": "+w)
		}
	}
	return out
}
