// Package formatter renders a reviewed change plan as an SQL script, a
// markdown report or a directory of per-table files.
package formatter

import (
	"github.com/tordrt/syncforge/internal/generator"
	"github.com/tordrt/syncforge/internal/rowdiff"
)

// Plan is everything a reviewer sees before applying changes
type Plan struct {
	Title      string
	Source     string
	Target     string
	Statements []generator.Statement
	Notices    []string
	Stats      []TableStats
}

// TableStats holds the row comparison counts of one table
type TableStats struct {
	Table string
	rowdiff.Stats
}

// Formatter writes a plan
type Formatter interface {
	Format(p *Plan) error
}

// Warnings returns the deduplicated statement warnings
func (p *Plan) Warnings() []string {
	return generator.Warnings(p.Statements)
}

// Destructive counts statements that drop data or structure
func (p *Plan) Destructive() int {
	n := 0
	for _, s := range p.Statements {
		if s.Destructive {
			n++
		}
	}
	return n
}

// Tables lists the tables touched by the plan in order of first appearance
func (p *Plan) Tables() []string {
	var names []string
	seen := make(map[string]bool)
	for _, s := range p.Statements {
		if s.Table == "" || seen[s.Table] {
			continue
		}
		seen[s.Table] = true
		names = append(names, s.Table)
	}
	return names
}

// TableStatements returns the statements of one table in plan order
func (p *Plan) TableStatements(table string) []generator.Statement {
	var out []generator.Statement
	for _, s := range p.Statements {
		if s.Table == table {
			out = append(out, s)
		}
	}
	return out
}

// changes collapses runs of statements sharing a summary, such as the
// statements of one table rebuild
func changes(stmts []generator.Statement) []generator.Statement {
	var out []generator.Statement
	for i, s := range stmts {
		if i > 0 && s.Summary == stmts[i-1].Summary && s.Kind == stmts[i-1].Kind {
			continue
		}
		out = append(out, s)
	}
	return out
}
