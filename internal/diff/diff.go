package diff

import (
	"fmt"
	"slices"
	"sort"
	"strings"

	"github.com/tordrt/syncforge/internal/dialect"
	"github.com/tordrt/syncforge/internal/schema"
)

// Schemas returns the ordered changes that make target match source
func Schemas(source, target *schema.Snapshot) []ChangeOp {
	return Compare(source, target).Ops
}

// Compare diffs two snapshots. Source is the desired state and target the
// database the changes are meant for, so column types are judged in the
// target's dialect.
func Compare(source, target *schema.Snapshot) *Result {
	d := newDiffer(source, target)

	for _, name := range unionNames(source, target) {
		if source.IsSkipped(name) || target.IsSkipped(name) {
			d.notice(name, "", "table was skipped during snapshot, not compared")
			continue
		}

		src, inSource := source.Table(name)
		tgt, inTarget := target.Table(name)
		switch {
		case inSource && !inTarget:
			d.createTable(src)
		case !inSource && inTarget:
			d.dropTable(tgt)
		default:
			d.compareTable(src, tgt)
		}
	}

	d.dropReferencingKeys(source, target)
	sortOps(d.res.Ops)
	return d.res
}

type differ struct {
	source dialect.Dialect
	target dialect.Dialect
	caps   dialect.Capabilities
	res    *Result
}

func newDiffer(source, target *schema.Snapshot) *differ {
	sd, _ := dialect.Parse(source.Dialect)
	td, _ := dialect.Parse(target.Dialect)
	if td == dialect.Unknown {
		td = sd
	}
	if sd == dialect.Unknown {
		sd = td
	}
	return &differ{
		source: sd,
		target: td,
		caps:   td.Capabilities(),
		res:    &Result{Source: sd, Target: td},
	}
}

func unionNames(a, b *schema.Snapshot) []string {
	names := append(a.TableNames(), b.TableNames()...)
	names = append(names, a.Skipped...)
	names = append(names, b.Skipped...)
	sort.Strings(names)
	return slices.Compact(names)
}

func (d *differ) add(op ChangeOp) {
	op.From = d.source
	d.res.Ops = append(d.res.Ops, op)
}

func (d *differ) notice(table, object, format string, args ...any) {
	d.res.Notices = append(d.res.Notices, Notice{Table: table, Object: object, Message: fmt.Sprintf(format, args...)})
}

// mapType renders a desired column type for the target dialect
func (d *differ) mapType(col schema.Column) dialect.Mapping {
	if d.target == dialect.Unknown {
		return dialect.Mapping{Type: col.Type, SQL: col.Type.String()}
	}
	return dialect.MapFrom(d.source, col.Type, d.target)
}

// sameType reports whether a target column already holds the desired type.
// Across dialects both sides are normalized through the target's type table
// so that equivalent spellings do not register as changes.
func (d *differ) sameType(src, tgt schema.Column) (dialect.Mapping, dialect.Conversion, bool) {
	desired := d.mapType(src)
	current := tgt.Type
	if d.source != d.target {
		current = dialect.Map(tgt.Type, d.target).Type
	} else {
		desired.Type = src.Type
	}
	conv := dialect.Classify(current, desired.Type)
	return desired, conv, conv == dialect.ConversionNone
}

func (d *differ) createTable(src *schema.Table) {
	var warnings []string
	for _, col := range src.Columns {
		if m := d.mapType(col); m.Ambiguous() {
			warnings = append(warnings, fmt.Sprintf("column %s: %s", col.Name, m.Ambiguity.Reason))
		}
	}
	for _, idx := range src.Indexes {
		if w := d.indexWarning(idx); w != "" {
			warnings = append(warnings, w)
		}
	}

	d.add(ChangeOp{Kind: CreateTable, Table: src.Name, Definition: src, Warnings: warnings})
	for i := range src.ForeignKeys {
		d.add(ChangeOp{Kind: AddForeignKey, Table: src.Name, ForeignKey: &src.ForeignKeys[i], Definition: src})
	}
}

func (d *differ) dropTable(tgt *schema.Table) {
	for i := range tgt.ForeignKeys {
		d.add(ChangeOp{Kind: DropForeignKey, Table: tgt.Name, ForeignKey: &tgt.ForeignKeys[i], Current: tgt})
	}
	d.add(ChangeOp{
		Kind:     DropTable,
		Table:    tgt.Name,
		Current:  tgt,
		Warnings: []string{"table data will be lost"},
	})
}

// dropReferencingKeys drops foreign keys in surviving tables that point at a
// dropped table, unless the diff already drops them.
func (d *differ) dropReferencingKeys(source, target *schema.Snapshot) {
	dropped := make(map[string]bool)
	seen := make(map[string]bool)
	for _, op := range d.res.Ops {
		switch op.Kind {
		case DropTable:
			dropped[op.Table] = true
		case DropForeignKey:
			seen[op.Table+"."+op.ForeignKey.Name] = true
		}
	}
	if len(dropped) == 0 {
		return
	}

	for _, name := range target.TableNames() {
		src, ok := source.Table(name)
		if dropped[name] || !ok {
			continue
		}
		tgt, _ := target.Table(name)
		for i := range tgt.ForeignKeys {
			fk := &tgt.ForeignKeys[i]
			if !dropped[fk.RefTable] || seen[name+"."+fk.Name] {
				continue
			}
			seen[name+"."+fk.Name] = true
			d.add(ChangeOp{
				Kind:       DropForeignKey,
				Table:      name,
				ForeignKey: fk,
				Definition: src,
				Current:    tgt,
				Warnings:   []string{fmt.Sprintf("references dropped table %s", fk.RefTable)},
			})
		}
	}
}

func (d *differ) compareTable(src, tgt *schema.Table) {
	d.compareColumns(src, tgt)

	if !slices.Equal(src.PrimaryKey, tgt.PrimaryKey) {
		d.notice(src.Name, "", "primary key differs: (%s) in source, (%s) in target",
			strings.Join(src.PrimaryKey, ", "), strings.Join(tgt.PrimaryKey, ", "))
	}

	d.compareIndexes(src, tgt)
	d.compareForeignKeys(src, tgt)
}

func (d *differ) compareColumns(src, tgt *schema.Table) {
	for i := range tgt.Columns {
		col := &tgt.Columns[i]
		if _, ok := src.Column(col.Name); !ok {
			d.add(ChangeOp{
				Kind:       DropColumn,
				Table:      tgt.Name,
				Column:     col,
				Definition: src,
				Current:    tgt,
				Warnings:   []string{"column data will be lost"},
			})
		}
	}

	for i := range src.Columns {
		sc := &src.Columns[i]
		tc, ok := tgt.Column(sc.Name)
		if !ok {
			m := d.mapType(*sc)
			op := ChangeOp{Kind: AddColumn, Table: src.Name, Column: sc, Definition: src, Current: tgt, Mapping: &m}
			if m.Ambiguous() {
				op.Warnings = append(op.Warnings, m.Ambiguity.Reason)
			}
			if !sc.Nullable && sc.Default == nil && !sc.AutoIncrement {
				op.Warnings = append(op.Warnings, "NOT NULL column without a default cannot be added to a table that has rows")
			}
			d.add(op)
			continue
		}

		m, conv, same := d.sameType(*sc, *tc)
		if !same {
			op := ChangeOp{
				Kind:       AlterColumnType,
				Table:      src.Name,
				Column:     sc,
				Previous:   tc,
				Definition: src,
				Current:    tgt,
				Mapping:    &m,
				Conversion: conv,
			}
			if m.Ambiguous() {
				op.Warnings = append(op.Warnings, m.Ambiguity.Reason)
			}
			switch conv {
			case dialect.ConversionNarrowing:
				op.Warnings = append(op.Warnings, fmt.Sprintf("narrowing %s to %s may truncate or reject existing values", tc.Type, m.SQL))
			case dialect.ConversionChange:
				op.Warnings = append(op.Warnings, fmt.Sprintf("converting %s to %s may fail for existing values", tc.Type, m.SQL))
			}
			d.add(op)
		} else if m.Ambiguous() {
			d.notice(src.Name, sc.Name, "%s", m.Ambiguity.Reason)
		}

		if sc.Nullable != tc.Nullable {
			op := ChangeOp{Kind: AlterNullability, Table: src.Name, Column: sc, Previous: tc, Definition: src, Current: tgt, Mapping: &m}
			if !sc.Nullable {
				op.Warnings = append(op.Warnings, "fails if existing rows hold NULL")
			}
			d.add(op)
		}

		if d.source == d.target && !sameDefault(sc.Default, tc.Default) {
			d.notice(src.Name, sc.Name, "default differs: %s in source, %s in target", defaultString(sc.Default), defaultString(tc.Default))
		}
		if sc.AutoIncrement != tc.AutoIncrement {
			d.notice(src.Name, sc.Name, "auto-increment differs: %t in source, %t in target", sc.AutoIncrement, tc.AutoIncrement)
		}
	}
}

func sameDefault(a, b *string) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return *a == *b
}

func defaultString(s *string) string {
	if s == nil {
		return "none"
	}
	return *s
}

func (d *differ) indexWarning(idx schema.Index) string {
	if idx.Predicate != "" && !d.caps.PartialIndexes {
		return fmt.Sprintf("index %s: %s has no partial indexes, predicate %q is dropped", idx.Name, d.target, idx.Predicate)
	}
	return ""
}

// indexKey identifies an index by shape, ignoring its name
func indexKey(idx schema.Index) string {
	cols := slices.Clone(idx.Columns)
	sort.Strings(cols)
	return fmt.Sprintf("%s|%t|%s", strings.Join(cols, ","), idx.Unique, normalizePredicate(idx.Predicate))
}

// normalizePredicate drops outer parentheses, case and whitespace runs so
// that catalog spellings of the same predicate compare equal.
func normalizePredicate(p string) string {
	p = strings.TrimSpace(p)
	for len(p) >= 2 && p[0] == '(' && p[len(p)-1] == ')' && balancedParens(p[1:len(p)-1]) {
		p = strings.TrimSpace(p[1 : len(p)-1])
	}
	return strings.ToLower(strings.Join(strings.Fields(p), " "))
}

func balancedParens(s string) bool {
	depth := 0
	for _, r := range s {
		switch r {
		case '(':
			depth++
		case ')':
			depth--
			if depth < 0 {
				return false
			}
		}
	}
	return depth == 0
}

func (d *differ) compareIndexes(src, tgt *schema.Table) {
	remaining := make(map[string]int)
	for _, idx := range tgt.Indexes {
		remaining[indexKey(idx)]++
	}

	var missing []int
	for i, idx := range src.Indexes {
		k := indexKey(idx)
		if remaining[k] > 0 {
			remaining[k]--
			continue
		}
		missing = append(missing, i)
	}

	for i := range tgt.Indexes {
		idx := &tgt.Indexes[i]
		k := indexKey(*idx)
		if remaining[k] > 0 {
			remaining[k]--
			d.add(ChangeOp{Kind: DropIndex, Table: tgt.Name, Index: idx, Definition: src, Current: tgt})
		}
	}

	for _, i := range missing {
		idx := &src.Indexes[i]
		op := ChangeOp{Kind: AddIndex, Table: src.Name, Index: idx, Definition: src, Current: tgt}
		if w := d.indexWarning(*idx); w != "" {
			op.Warnings = append(op.Warnings, w)
		}
		d.add(op)
	}
}

// foreignKeyKey identifies a foreign key by its column mapping
func foreignKeyKey(fk schema.ForeignKey) string {
	return fmt.Sprintf("%s|%s|%s", strings.Join(fk.Columns, ","), fk.RefTable, strings.Join(fk.RefColumns, ","))
}

func (d *differ) compareForeignKeys(src, tgt *schema.Table) {
	remaining := make(map[string]int)
	for _, fk := range tgt.ForeignKeys {
		remaining[foreignKeyKey(fk)]++
	}

	var missing []int
	for i, fk := range src.ForeignKeys {
		k := foreignKeyKey(fk)
		if remaining[k] > 0 {
			remaining[k]--
			continue
		}
		missing = append(missing, i)
	}

	for i := range tgt.ForeignKeys {
		fk := &tgt.ForeignKeys[i]
		k := foreignKeyKey(*fk)
		if remaining[k] > 0 {
			remaining[k]--
			d.add(ChangeOp{Kind: DropForeignKey, Table: tgt.Name, ForeignKey: fk, Definition: src, Current: tgt})
		}
	}

	for _, i := range missing {
		d.add(ChangeOp{Kind: AddForeignKey, Table: src.Name, ForeignKey: &src.ForeignKeys[i], Definition: src, Current: tgt})
	}
}

// sortOps orders changes by phase, then table, then object, keeping column
// type changes ahead of nullability changes on the same column.
func sortOps(ops []ChangeOp) {
	sort.SliceStable(ops, func(i, j int) bool {
		a, b := ops[i], ops[j]
		if a.Kind.phase() != b.Kind.phase() {
			return a.Kind.phase() < b.Kind.phase()
		}
		if a.Table != b.Table {
			return a.Table < b.Table
		}
		if a.Object() != b.Object() {
			return a.Object() < b.Object()
		}
		return a.Kind < b.Kind
	})
}
