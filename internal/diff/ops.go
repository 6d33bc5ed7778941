// Package diff computes the ordered structural changes that turn a target
// schema snapshot into the shape of a source snapshot.
package diff

import (
	"fmt"
	"strings"

	"github.com/tordrt/syncforge/internal/dialect"
	"github.com/tordrt/syncforge/internal/schema"
)

// Kind identifies a structural change. The declaration order is the order
// in which changes must be applied.
type Kind int

const (
	DropForeignKey Kind = iota + 1
	DropIndex
	DropColumn
	DropTable
	CreateTable
	AddColumn
	AlterColumnType
	AlterNullability
	AddIndex
	AddForeignKey
)

func (k Kind) String() string {
	switch k {
	case DropForeignKey:
		return "DropForeignKey"
	case DropIndex:
		return "DropIndex"
	case DropColumn:
		return "DropColumn"
	case DropTable:
		return "DropTable"
	case CreateTable:
		return "CreateTable"
	case AddColumn:
		return "AddColumn"
	case AlterColumnType:
		return "AlterColumnType"
	case AlterNullability:
		return "AlterNullability"
	case AddIndex:
		return "AddIndex"
	case AddForeignKey:
		return "AddForeignKey"
	default:
		return "Unknown"
	}
}

// phase groups kinds that share a slot in the apply order. Column type and
// nullability changes share one phase, type first.
func (k Kind) phase() int {
	if k == AlterNullability {
		return int(AlterColumnType)
	}
	return int(k)
}

// Destructive reports whether applying the change can lose data
func (k Kind) Destructive() bool {
	return k == DropColumn || k == DropTable
}

// ChangeOp is one structural difference. Column, Index and ForeignKey hold
// the desired (source) object for additions and alterations and the existing
// (target) object for drops.
type ChangeOp struct {
	Kind  Kind
	Table string
	// From is the dialect the desired objects were captured in.
	From dialect.Dialect

	Column     *schema.Column
	Previous   *schema.Column
	Index      *schema.Index
	ForeignKey *schema.ForeignKey

	// Definition is the desired table, Current the table as it exists in the
	// target. Either is nil when the table exists on one side only.
	Definition *schema.Table
	Current    *schema.Table

	// Mapping is the column type rendered for the target dialect
	Mapping    *dialect.Mapping
	Conversion dialect.Conversion
	Warnings   []string
}

// Object names the changed object within its table
func (op ChangeOp) Object() string {
	switch {
	case op.Column != nil:
		return op.Column.Name
	case op.Index != nil:
		return op.Index.Name
	case op.ForeignKey != nil:
		return op.ForeignKey.Name
	}
	return op.Table
}

// Describe returns a one-line summary for previews
func (op ChangeOp) Describe() string {
	switch op.Kind {
	case CreateTable:
		return fmt.Sprintf("create table %s", op.Table)
	case DropTable:
		return fmt.Sprintf("drop table %s", op.Table)
	case AddColumn:
		return fmt.Sprintf("add column %s.%s %s", op.Table, op.Column.Name, op.typeSQL())
	case DropColumn:
		return fmt.Sprintf("drop column %s.%s", op.Table, op.Column.Name)
	case AlterColumnType:
		return fmt.Sprintf("alter column %s.%s type %s -> %s (%s)", op.Table, op.Column.Name, op.Previous.Type, op.typeSQL(), op.Conversion)
	case AlterNullability:
		if op.Column.Nullable {
			return fmt.Sprintf("alter column %s.%s drop not null", op.Table, op.Column.Name)
		}
		return fmt.Sprintf("alter column %s.%s set not null", op.Table, op.Column.Name)
	case AddIndex:
		return fmt.Sprintf("add %s %s on %s(%s)", indexWord(op.Index), op.Index.Name, op.Table, strings.Join(op.Index.Columns, ", "))
	case DropIndex:
		return fmt.Sprintf("drop %s %s on %s", indexWord(op.Index), op.Index.Name, op.Table)
	case AddForeignKey:
		fk := op.ForeignKey
		return fmt.Sprintf("add foreign key %s on %s(%s) references %s(%s)", fk.Name, op.Table,
			strings.Join(fk.Columns, ", "), fk.RefTable, strings.Join(fk.RefColumns, ", "))
	case DropForeignKey:
		return fmt.Sprintf("drop foreign key %s on %s", op.ForeignKey.Name, op.Table)
	}
	return op.Kind.String()
}

func (op ChangeOp) typeSQL() string {
	if op.Mapping != nil {
		return op.Mapping.SQL
	}
	return op.Column.Type.String()
}

func indexWord(idx *schema.Index) string {
	if idx.Unique {
		return "unique index"
	}
	return "index"
}

// Notice reports a difference that is never turned into a statement
type Notice struct {
	Table   string
	Object  string
	Message string
}

func (n Notice) String() string {
	if n.Object != "" && n.Object != n.Table {
		return fmt.Sprintf("%s.%s: %s", n.Table, n.Object, n.Message)
	}
	return fmt.Sprintf("%s: %s", n.Table, n.Message)
}

// Result holds the ordered changes and the informational notices
type Result struct {
	Source dialect.Dialect
	Target dialect.Dialect
	Ops    []ChangeOp
	// Notices cover default, primary key and auto-increment differences,
	// skipped tables and ambiguous mappings that did not produce a change.
	Notices []Notice
}

// Warnings returns every op warning prefixed with its object
func (r *Result) Warnings() []string {
	var out []string
	for _, op := range r.Ops {
		for _, w := range op.Warnings {
			out = append(out, fmt.Sprintf("%s.%s: %s", op.Table, op.Object(), w))
		}
	}
	return out
}
