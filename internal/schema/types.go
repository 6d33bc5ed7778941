// Package schema holds the engine-neutral model every metadata adapter produces
// and the diff engine consumes.
package schema

import (
	"fmt"
	"slices"
	"sort"
	"time"
)

// Category is the normalized family of a column type
type Category string

const (
	CategoryInteger   Category = "integer"
	CategoryDecimal   Category = "decimal"
	CategoryFloat     Category = "float"
	CategoryBoolean   Category = "boolean"
	CategoryChar      Category = "char"
	CategoryVarchar   Category = "varchar"
	CategoryText      Category = "text"
	CategoryBinary    Category = "binary"
	CategoryVarbinary Category = "varbinary"
	CategoryBlob      Category = "blob"
	CategoryDate      Category = "date"
	CategoryTime      Category = "time"
	CategoryTimestamp Category = "timestamp"
	CategoryInterval  Category = "interval"
	CategoryJSON      Category = "json"
	CategoryUUID      Category = "uuid"
	CategoryEnum      Category = "enum"
	CategoryOther     Category = "other"
)

// IsNumeric reports whether values of the category compare by numeric value
func (c Category) IsNumeric() bool {
	return c == CategoryInteger || c == CategoryDecimal || c == CategoryFloat
}

// IsText reports whether values of the category are character strings
func (c Category) IsText() bool {
	switch c {
	case CategoryChar, CategoryVarchar, CategoryText, CategoryEnum, CategoryJSON:
		return true
	}
	return false
}

// IsBinary reports whether values of the category are byte strings
func (c Category) IsBinary() bool {
	return c == CategoryBinary || c == CategoryVarbinary || c == CategoryBlob
}

// ColumnType is a normalized column type.
//
// Size is the storage width in bytes for integers, floats and the sized
// MySQL text/blob families. Length is the declared character or byte length,
// zero when unbounded. Precision doubles as fractional-second precision for
// temporal types. Raw keeps the catalog text and never takes part in equality.
type ColumnType struct {
	Category     Category `json:"category"`
	Size         int      `json:"size,omitempty"`
	Length       int      `json:"length,omitempty"`
	Precision    int      `json:"precision,omitempty"`
	Scale        int      `json:"scale,omitempty"`
	Unsigned     bool     `json:"unsigned,omitempty"`
	WithTimeZone bool     `json:"with_time_zone,omitempty"`
	Values       []string `json:"values,omitempty"`
	Raw          string   `json:"raw,omitempty"`
}

// String returns the catalog text, or a synthesized description
func (t ColumnType) String() string {
	if t.Raw != "" {
		return t.Raw
	}
	switch {
	case t.Precision > 0 && t.Category == CategoryDecimal:
		return fmt.Sprintf("%s(%d,%d)", t.Category, t.Precision, t.Scale)
	case t.Length > 0:
		return fmt.Sprintf("%s(%d)", t.Category, t.Length)
	case t.Size > 0:
		return fmt.Sprintf("%s%d", t.Category, t.Size*8)
	}
	return string(t.Category)
}

// Column represents a table column
type Column struct {
	Name          string     `json:"name"`
	Type          ColumnType `json:"type"`
	Nullable      bool       `json:"nullable"`
	Default       *string    `json:"default,omitempty"`
	Position      int        `json:"position"`
	AutoIncrement bool       `json:"auto_increment,omitempty"`
}

// Index represents a secondary index. Predicate is set for partial indexes.
// Constraint marks indexes that back a UNIQUE constraint and must be dropped
// through the constraint.
type Index struct {
	Name       string   `json:"name"`
	Columns    []string `json:"columns"`
	Unique     bool     `json:"unique"`
	Predicate  string   `json:"predicate,omitempty"`
	Constraint bool     `json:"constraint,omitempty"`
}

// ForeignKey represents a possibly composite foreign key constraint
type ForeignKey struct {
	Name       string   `json:"name"`
	Columns    []string `json:"columns"`
	RefTable   string   `json:"ref_table"`
	RefColumns []string `json:"ref_columns"`
	OnDelete   string   `json:"on_delete,omitempty"`
	OnUpdate   string   `json:"on_update,omitempty"`
}

// Table represents a database table
type Table struct {
	Name        string       `json:"name"`
	Columns     []Column     `json:"columns"`
	PrimaryKey  []string     `json:"primary_key,omitempty"`
	Indexes     []Index      `json:"indexes,omitempty"`
	ForeignKeys []ForeignKey `json:"foreign_keys,omitempty"`
}

// Column returns the named column
func (t *Table) Column(name string) (*Column, bool) {
	for i := range t.Columns {
		if t.Columns[i].Name == name {
			return &t.Columns[i], true
		}
	}
	return nil, false
}

// ColumnNames returns column names in ordinal order
func (t *Table) ColumnNames() []string {
	names := make([]string, len(t.Columns))
	for i, c := range t.Columns {
		names[i] = c.Name
	}
	return names
}

// IsPrimaryKey reports whether the column is part of the primary key
func (t *Table) IsPrimaryKey(name string) bool {
	return slices.Contains(t.PrimaryKey, name)
}

// Clone returns a deep copy of the table
func (t *Table) Clone() *Table {
	c := &Table{
		Name:       t.Name,
		Columns:    make([]Column, len(t.Columns)),
		PrimaryKey: slices.Clone(t.PrimaryKey),
	}
	for i, col := range t.Columns {
		col.Type.Values = slices.Clone(col.Type.Values)
		if col.Default != nil {
			d := *col.Default
			col.Default = &d
		}
		c.Columns[i] = col
	}
	for _, idx := range t.Indexes {
		idx.Columns = slices.Clone(idx.Columns)
		c.Indexes = append(c.Indexes, idx)
	}
	for _, fk := range t.ForeignKeys {
		fk.Columns = slices.Clone(fk.Columns)
		fk.RefColumns = slices.Clone(fk.RefColumns)
		c.ForeignKeys = append(c.ForeignKeys, fk)
	}
	return c
}

// Validate checks the structural invariants of a table
func (t *Table) Validate() error {
	if t.Name == "" {
		return fmt.Errorf("table name is empty")
	}

	seen := make(map[string]bool, len(t.Columns))
	for _, c := range t.Columns {
		if c.Name == "" {
			return fmt.Errorf("table %s: column name is empty", t.Name)
		}
		if seen[c.Name] {
			return fmt.Errorf("table %s: duplicate column %s", t.Name, c.Name)
		}
		seen[c.Name] = true
	}

	for _, pk := range t.PrimaryKey {
		if !seen[pk] {
			return fmt.Errorf("table %s: primary key column %s does not exist", t.Name, pk)
		}
	}

	for _, idx := range t.Indexes {
		if len(idx.Columns) == 0 {
			return fmt.Errorf("table %s: index %s has no columns", t.Name, idx.Name)
		}
		for _, c := range idx.Columns {
			if !seen[c] {
				return fmt.Errorf("table %s: index %s references unknown column %s", t.Name, idx.Name, c)
			}
		}
	}

	for _, fk := range t.ForeignKeys {
		if len(fk.Columns) == 0 || len(fk.Columns) != len(fk.RefColumns) {
			return fmt.Errorf("table %s: foreign key %s has mismatched column lists", t.Name, fk.Name)
		}
		for _, c := range fk.Columns {
			if !seen[c] {
				return fmt.Errorf("table %s: foreign key %s references unknown column %s", t.Name, fk.Name, c)
			}
		}
	}

	return nil
}

// Snapshot is a point-in-time capture of one database's schema.
// Tables that could not be captured are listed in Skipped.
type Snapshot struct {
	Dialect    string            `json:"dialect"`
	Database   string            `json:"database,omitempty"`
	CapturedAt time.Time         `json:"captured_at"`
	Tables     map[string]*Table `json:"tables"`
	Skipped    []string          `json:"skipped,omitempty"`
}

// NewSnapshot creates an empty snapshot stamped with the current time
func NewSnapshot(dialect, database string) *Snapshot {
	return &Snapshot{
		Dialect:    dialect,
		Database:   database,
		CapturedAt: time.Now().UTC(),
		Tables:     make(map[string]*Table),
	}
}

// Add stores a table in the snapshot
func (s *Snapshot) Add(t *Table) {
	if s.Tables == nil {
		s.Tables = make(map[string]*Table)
	}
	s.Tables[t.Name] = t
}

// Table returns the named table
func (s *Snapshot) Table(name string) (*Table, bool) {
	t, ok := s.Tables[name]
	return t, ok
}

// TableNames returns the captured table names in sorted order
func (s *Snapshot) TableNames() []string {
	names := make([]string, 0, len(s.Tables))
	for name := range s.Tables {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// IsSkipped reports whether the table failed to snapshot
func (s *Snapshot) IsSkipped(name string) bool {
	return slices.Contains(s.Skipped, name)
}

// Validate checks every table in the snapshot
func (s *Snapshot) Validate() error {
	for _, name := range s.TableNames() {
		t := s.Tables[name]
		if t.Name != name {
			return fmt.Errorf("table %s stored under key %s", t.Name, name)
		}
		if err := t.Validate(); err != nil {
			return err
		}
	}
	return nil
}
