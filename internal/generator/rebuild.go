package generator

import (
	"fmt"
	"strings"

	"github.com/tordrt/syncforge/internal/diff"
)

const rebuildPrefix = "_syncforge_new_"

// rebuild recreates a table in its desired shape: create a copy, move the
// surviving columns, drop the original, rename the copy and restore indexes.
// Every later change to the table is covered by the rebuild.
func (g *schemaGenerator) rebuild(ops []diff.ChangeOp, i int) ([]Statement, error) {
	op := ops[i]
	def, current := op.Definition, op.Current

	desc := Descriptor{Kind: "RebuildTable", Table: op.Table, Object: op.Table}
	var summaries []string
	for _, c := range ops[i:] {
		if c.Table != op.Table {
			continue
		}
		summaries = append(summaries, c.Describe())
		desc.Warnings = append(desc.Warnings, c.Warnings...)
		desc.Destructive = desc.Destructive || c.Kind.Destructive()
	}
	desc.Summary = fmt.Sprintf("rebuild table %s: %s", op.Table, strings.Join(summaries, "; "))

	var copied []string
	for _, col := range def.Columns {
		_, exists := current.Column(col.Name)
		if exists || g.added[op.Table+"."+col.Name] {
			copied = append(copied, col.Name)
		}
	}

	tmp := rebuildPrefix + def.Name
	create, warnings := g.createTableSQL(tmp, def, op.From, true)
	desc.Warnings = append(desc.Warnings, warnings...)

	var sqls []string
	if g.opts.Transaction {
		// foreign_keys cannot change inside a transaction
		sqls = append(sqls, "PRAGMA defer_foreign_keys = ON")
	} else {
		sqls = append(sqls, "PRAGMA foreign_keys = OFF")
	}
	sqls = append(sqls, create)
	if len(copied) > 0 {
		sqls = append(sqls, fmt.Sprintf("INSERT INTO %s (%s) SELECT %s FROM %s",
			g.q(tmp), g.qs(copied), g.qs(copied), g.q(def.Name)))
	}
	sqls = append(sqls,
		fmt.Sprintf("DROP TABLE %s", g.q(def.Name)),
		fmt.Sprintf("ALTER TABLE %s RENAME TO %s", g.q(tmp), g.q(def.Name)),
	)
	for _, idx := range def.Indexes {
		isql, iw := g.createIndexSQL(def.Name, idx, op.From)
		sqls = append(sqls, isql)
		desc.Warnings = append(desc.Warnings, iw...)
	}
	if !g.opts.Transaction {
		sqls = append(sqls, "PRAGMA foreign_keys = ON")
	}

	out := make([]Statement, len(sqls))
	for j, sql := range sqls {
		out[j] = Statement{SQL: sql, Descriptor: desc}
	}
	return out, nil
}
