package generator

import (
	"fmt"
	"slices"
	"strings"

	"github.com/tordrt/syncforge/internal/dialect"
	"github.com/tordrt/syncforge/internal/diff"
	"github.com/tordrt/syncforge/internal/schema"
)

// Schema renders structural changes for the target dialect in the order
// given. Changes a dialect cannot apply in place are folded into a table
// rebuild emitted at the first such change of the table.
func Schema(ops []diff.ChangeOp, target dialect.Dialect, opts Options) ([]Statement, error) {
	if target == dialect.Unknown {
		return nil, fmt.Errorf("unsupported target dialect: %s", target)
	}

	g := &schemaGenerator{
		d:        target,
		caps:     target.Capabilities(),
		opts:     opts,
		created:  make(map[string]bool),
		rebuilt:  make(map[string]bool),
		added:    make(map[string]bool),
		modified: make(map[string]bool),
	}

	var out []Statement
	for i, op := range ops {
		stmts, err := g.render(ops, i)
		if err != nil {
			return nil, fmt.Errorf("failed to render %s: %w", op.Describe(), err)
		}
		out = append(out, stmts...)
	}
	return out, nil
}

type schemaGenerator struct {
	d    dialect.Dialect
	caps dialect.Capabilities
	opts Options

	// created and rebuilt are keyed by table, added and modified by table.column
	created  map[string]bool
	rebuilt  map[string]bool
	added    map[string]bool
	modified map[string]bool
}

func (g *schemaGenerator) q(name string) string {
	return g.d.QuoteIdent(name)
}

func (g *schemaGenerator) qs(names []string) string {
	return g.d.QuoteIdents(names)
}

func (g *schemaGenerator) stmt(op diff.ChangeOp, sql string, warnings ...string) Statement {
	return Statement{
		SQL: sql,
		Descriptor: Descriptor{
			Kind:        op.Kind.String(),
			Table:       op.Table,
			Object:      op.Object(),
			Summary:     op.Describe(),
			Warnings:    slices.Concat(op.Warnings, warnings),
			Destructive: op.Kind.Destructive(),
		},
	}
}

func (g *schemaGenerator) render(ops []diff.ChangeOp, i int) ([]Statement, error) {
	op := ops[i]
	if g.rebuilt[op.Table] {
		return nil, nil
	}
	if g.needsRebuild(op) {
		g.rebuilt[op.Table] = true
		return g.rebuild(ops, i)
	}

	switch op.Kind {
	case diff.DropForeignKey:
		return g.dropForeignKey(op)
	case diff.DropIndex:
		return g.dropIndex(op)
	case diff.DropColumn:
		return g.dropColumn(op)
	case diff.DropTable:
		return g.dropTable(op)
	case diff.CreateTable:
		return g.createTable(op)
	case diff.AddColumn:
		return g.addColumn(op)
	case diff.AlterColumnType:
		return g.alterColumnType(op)
	case diff.AlterNullability:
		return g.alterNullability(op)
	case diff.AddIndex:
		return g.addIndex(op)
	case diff.AddForeignKey:
		return g.addForeignKey(op)
	}
	return nil, fmt.Errorf("unknown change kind %d", op.Kind)
}

// needsRebuild reports whether the change must be applied by recreating a
// table that exists on both sides
func (g *schemaGenerator) needsRebuild(op diff.ChangeOp) bool {
	if op.Definition == nil || op.Current == nil {
		return false
	}
	switch op.Kind {
	case diff.AlterColumnType, diff.AlterNullability:
		return !g.caps.AlterColumn
	case diff.AddForeignKey, diff.DropForeignKey:
		return !g.caps.AlterConstraints
	case diff.DropIndex:
		return op.Index.Constraint && !g.caps.AlterConstraints
	case diff.AddColumn:
		return !g.caps.AlterColumn && !op.Column.Nullable && !op.Column.AutoIncrement &&
			(op.Column.Default == nil || op.From != g.d)
	}
	return false
}

func (g *schemaGenerator) ifExists() string {
	// mysql only accepts IF EXISTS on DROP TABLE
	if g.opts.IfExists && g.caps.DropIfExists && g.d != dialect.MySQL {
		return "IF EXISTS "
	}
	return ""
}

func (g *schemaGenerator) columnIfExists(clause string) string {
	if g.opts.IfExists && g.caps.ColumnIfExists {
		return clause + " "
	}
	return ""
}

// guard prefixes a SQL Server statement with an existence check
func (g *schemaGenerator) guard(check, sql string) string {
	if g.opts.IfExists && g.d == dialect.SQLServer {
		return "IF " + check + "\n" + sql
	}
	return sql
}

func (g *schemaGenerator) dropForeignKey(op diff.ChangeOp) ([]Statement, error) {
	if op.ForeignKey == nil {
		return nil, fmt.Errorf("missing foreign key")
	}
	if !g.caps.AlterConstraints {
		// the table is being dropped and takes the key with it
		return nil, nil
	}

	var sql string
	if g.d == dialect.MySQL {
		sql = fmt.Sprintf("ALTER TABLE %s DROP FOREIGN KEY %s", g.q(op.Table), g.q(op.ForeignKey.Name))
	} else {
		sql = fmt.Sprintf("ALTER TABLE %s DROP CONSTRAINT %s%s", g.q(op.Table), g.ifExists(), g.q(op.ForeignKey.Name))
	}
	return []Statement{g.stmt(op, sql)}, nil
}

func (g *schemaGenerator) dropIndex(op diff.ChangeOp) ([]Statement, error) {
	idx := op.Index
	if idx == nil {
		return nil, fmt.Errorf("missing index")
	}

	var sql string
	switch {
	case idx.Constraint && g.d != dialect.MySQL && g.caps.AlterConstraints:
		sql = fmt.Sprintf("ALTER TABLE %s DROP CONSTRAINT %s%s", g.q(op.Table), g.ifExists(), g.q(idx.Name))
	case g.d == dialect.MySQL:
		sql = fmt.Sprintf("DROP INDEX %s ON %s", g.q(idx.Name), g.q(op.Table))
	case g.d == dialect.SQLServer:
		sql = fmt.Sprintf("DROP INDEX %s%s ON %s", g.ifExists(), g.q(idx.Name), g.q(op.Table))
	default:
		sql = fmt.Sprintf("DROP INDEX %s%s", g.ifExists(), g.q(idx.Name))
	}
	return []Statement{g.stmt(op, sql)}, nil
}

func (g *schemaGenerator) dropColumn(op diff.ChangeOp) ([]Statement, error) {
	if op.Column == nil {
		return nil, fmt.Errorf("missing column")
	}

	sql := fmt.Sprintf("ALTER TABLE %s DROP COLUMN %s%s", g.q(op.Table), g.columnIfExists("IF EXISTS"), g.q(op.Column.Name))

	var warnings []string
	if g.d == dialect.SQLServer && op.Column.Default != nil {
		warnings = append(warnings, "the column's default constraint must be dropped first")
	}
	return []Statement{g.stmt(op, sql, warnings...)}, nil
}

func (g *schemaGenerator) dropTable(op diff.ChangeOp) ([]Statement, error) {
	ifExists := ""
	if g.opts.IfExists && g.caps.DropIfExists {
		ifExists = "IF EXISTS "
	}
	return []Statement{g.stmt(op, fmt.Sprintf("DROP TABLE %s%s", ifExists, g.q(op.Table)))}, nil
}

func (g *schemaGenerator) createTable(op diff.ChangeOp) ([]Statement, error) {
	def := op.Definition
	if def == nil {
		return nil, fmt.Errorf("missing table definition")
	}
	g.created[op.Table] = true

	// without ALTER TABLE ... ADD CONSTRAINT the keys must be declared inline
	inlineKeys := !g.caps.AlterConstraints
	sql, warnings := g.createTableSQL(def.Name, def, op.From, inlineKeys)

	if g.opts.IfExists {
		if g.d == dialect.SQLServer {
			sql = g.guard(fmt.Sprintf("OBJECT_ID(N'%s', N'U') IS NULL", escapeNString(def.Name)), sql)
		} else {
			sql = strings.Replace(sql, "CREATE TABLE ", "CREATE TABLE IF NOT EXISTS ", 1)
		}
	}

	out := []Statement{g.stmt(op, sql, warnings...)}
	for _, idx := range def.Indexes {
		isql, iw := g.createIndexSQL(def.Name, idx, op.From)
		s := g.stmt(op, isql, iw...)
		s.Object = idx.Name
		s.Summary = fmt.Sprintf("create %s %s on %s", indexWord(idx), idx.Name, def.Name)
		// table-level warnings already ride on the CREATE TABLE statement
		s.Warnings = iw
		out = append(out, s)
	}
	return out, nil
}

func indexWord(idx schema.Index) string {
	if idx.Unique {
		return "unique index"
	}
	return "index"
}

// createTableSQL renders CREATE TABLE for a desired definition captured in
// dialect from
func (g *schemaGenerator) createTableSQL(name string, def *schema.Table, from dialect.Dialect, inlineKeys bool) (string, []string) {
	var warnings []string
	inlinePK := g.inlinePrimaryKey(def)

	var lines []string
	for _, col := range def.Columns {
		typeSQL := dialect.MapFrom(from, col.Type, g.d).SQL
		line, w := g.columnDef(col, typeSQL, from == g.d, inlinePK == col.Name)
		lines = append(lines, line)
		warnings = append(warnings, w...)
	}
	if inlinePK == "" && len(def.PrimaryKey) > 0 {
		lines = append(lines, fmt.Sprintf("PRIMARY KEY (%s)", g.qs(def.PrimaryKey)))
	}
	if inlineKeys {
		for _, fk := range def.ForeignKeys {
			lines = append(lines, g.foreignKeyClause(fk))
		}
	}

	return fmt.Sprintf("CREATE TABLE %s (\n  %s\n)", g.q(name), strings.Join(lines, ",\n  ")), warnings
}

// inlinePrimaryKey returns the column declared as INTEGER PRIMARY KEY
// AUTOINCREMENT, which SQLite only accepts as a column constraint
func (g *schemaGenerator) inlinePrimaryKey(def *schema.Table) string {
	if g.d != dialect.SQLite || len(def.PrimaryKey) != 1 {
		return ""
	}
	col, ok := def.Column(def.PrimaryKey[0])
	if !ok || !col.AutoIncrement || col.Type.Category != schema.CategoryInteger {
		return ""
	}
	return col.Name
}

// columnDef renders a column definition. withDefault is false when the
// default expression was captured in another dialect and cannot be reused.
func (g *schemaGenerator) columnDef(col schema.Column, typeSQL string, withDefault, inlinePK bool) (string, []string) {
	var warnings []string
	parts := []string{g.q(col.Name)}

	if inlinePK {
		parts = append(parts, "INTEGER PRIMARY KEY AUTOINCREMENT")
	} else {
		parts = append(parts, typeSQL)
	}

	identity := col.AutoIncrement && col.Type.Category == schema.CategoryInteger
	if col.AutoIncrement && !identity {
		warnings = append(warnings, fmt.Sprintf("column %s: auto-increment on a non-integer type is not carried", col.Name))
	}
	if identity {
		switch g.d {
		case dialect.PostgreSQL:
			parts = append(parts, "GENERATED BY DEFAULT AS IDENTITY")
		case dialect.SQLServer:
			parts = append(parts, "IDENTITY(1,1)")
		case dialect.SQLite:
			if !inlinePK {
				warnings = append(warnings, fmt.Sprintf("column %s: sqlite only auto-increments a single-column integer primary key", col.Name))
			}
		}
	}

	if !col.Nullable {
		parts = append(parts, "NOT NULL")
	}

	if col.Default != nil && !identity {
		if withDefault {
			parts = append(parts, "DEFAULT "+*col.Default)
		} else {
			warnings = append(warnings, fmt.Sprintf("column %s: default %s is not carried across dialects", col.Name, *col.Default))
		}
	}

	if identity && g.d == dialect.MySQL {
		parts = append(parts, "AUTO_INCREMENT")
	}

	return strings.Join(parts, " "), warnings
}

func (g *schemaGenerator) foreignKeyClause(fk schema.ForeignKey) string {
	var b strings.Builder
	fmt.Fprintf(&b, "CONSTRAINT %s FOREIGN KEY (%s) REFERENCES %s (%s)",
		g.q(fk.Name), g.qs(fk.Columns), g.q(fk.RefTable), g.qs(fk.RefColumns))
	if a := g.action(fk.OnDelete); a != "" {
		b.WriteString(" ON DELETE " + a)
	}
	if a := g.action(fk.OnUpdate); a != "" {
		b.WriteString(" ON UPDATE " + a)
	}
	return b.String()
}

func (g *schemaGenerator) action(a string) string {
	a = strings.ToUpper(strings.TrimSpace(a))
	switch {
	case a == "" || a == "NO ACTION":
		return ""
	case a == "RESTRICT" && g.d == dialect.SQLServer:
		return ""
	}
	return a
}

func (g *schemaGenerator) createIndexSQL(table string, idx schema.Index, from dialect.Dialect) (string, []string) {
	var warnings []string

	unique := ""
	if idx.Unique {
		unique = "UNIQUE "
	}
	ifNotExists := ""
	if g.opts.IfExists && g.caps.IndexIfNotExists {
		ifNotExists = "IF NOT EXISTS "
	}

	sql := fmt.Sprintf("CREATE %sINDEX %s%s ON %s (%s)", unique, ifNotExists, g.q(idx.Name), g.q(table), g.qs(idx.Columns))
	if idx.Predicate != "" && g.caps.PartialIndexes {
		sql += " WHERE " + idx.Predicate
		if from != g.d {
			warnings = append(warnings, fmt.Sprintf("index %s: predicate copied verbatim from %s", idx.Name, from))
		}
	}

	sql = g.guard(fmt.Sprintf("NOT EXISTS (SELECT 1 FROM sys.indexes WHERE name = N'%s' AND object_id = OBJECT_ID(N'%s'))",
		escapeNString(idx.Name), escapeNString(table)), sql)
	return sql, warnings
}

func escapeNString(s string) string {
	return strings.ReplaceAll(s, "'", "''")
}

func (g *schemaGenerator) addColumn(op diff.ChangeOp) ([]Statement, error) {
	col := op.Column
	if col == nil {
		return nil, fmt.Errorf("missing column")
	}
	g.added[op.Table+"."+col.Name] = true

	def, warnings := g.columnDef(*col, g.typeSQL(op), op.From == g.d, false)

	var sql string
	if g.d == dialect.SQLServer {
		sql = g.guard(fmt.Sprintf("COL_LENGTH(N'%s', N'%s') IS NULL", escapeNString(op.Table), escapeNString(col.Name)),
			fmt.Sprintf("ALTER TABLE %s ADD %s", g.q(op.Table), def))
	} else {
		sql = fmt.Sprintf("ALTER TABLE %s ADD COLUMN %s%s", g.q(op.Table), g.columnIfExists("IF NOT EXISTS"), def)
	}
	return []Statement{g.stmt(op, sql, warnings...)}, nil
}

func (g *schemaGenerator) typeSQL(op diff.ChangeOp) string {
	if op.Mapping != nil {
		return op.Mapping.SQL
	}
	return dialect.MapFrom(op.From, op.Column.Type, g.d).SQL
}

// modifyDef renders the full column definition MySQL's MODIFY COLUMN needs.
// Default and auto-increment are kept as they exist in the target.
func (g *schemaGenerator) modifyDef(op diff.ChangeOp, typeSQL string) (string, []string) {
	col := *op.Column
	col.Default = op.Previous.Default
	col.AutoIncrement = op.Previous.AutoIncrement
	return g.columnDef(col, typeSQL, true, false)
}

func (g *schemaGenerator) alterColumnType(op diff.ChangeOp) ([]Statement, error) {
	if op.Column == nil || op.Previous == nil {
		return nil, fmt.Errorf("missing column")
	}
	key := op.Table + "." + op.Column.Name
	typeSQL := g.typeSQL(op)

	var sql string
	var warnings []string
	switch g.d {
	case dialect.PostgreSQL:
		sql = fmt.Sprintf("ALTER TABLE %s ALTER COLUMN %s TYPE %s USING %s::%s",
			g.q(op.Table), g.q(op.Column.Name), typeSQL, g.q(op.Column.Name), typeSQL)
	case dialect.MySQL:
		var def string
		def, warnings = g.modifyDef(op, typeSQL)
		sql = fmt.Sprintf("ALTER TABLE %s MODIFY COLUMN %s", g.q(op.Table), def)
		g.modified[key] = true
	default:
		sql = fmt.Sprintf("ALTER TABLE %s ALTER COLUMN %s %s %s", g.q(op.Table), g.q(op.Column.Name), typeSQL, nullClause(op.Column.Nullable))
		g.modified[key] = true
	}
	return []Statement{g.stmt(op, sql, warnings...)}, nil
}

func nullClause(nullable bool) string {
	if nullable {
		return "NULL"
	}
	return "NOT NULL"
}

func (g *schemaGenerator) alterNullability(op diff.ChangeOp) ([]Statement, error) {
	if op.Column == nil || op.Previous == nil {
		return nil, fmt.Errorf("missing column")
	}
	if g.modified[op.Table+"."+op.Column.Name] {
		// the preceding type change restated the nullability
		return nil, nil
	}

	// the type is unchanged, so keep the target's own spelling
	current := dialect.MapFrom(g.d, op.Previous.Type, g.d).SQL

	var sql string
	var warnings []string
	switch g.d {
	case dialect.PostgreSQL:
		action := "SET NOT NULL"
		if op.Column.Nullable {
			action = "DROP NOT NULL"
		}
		sql = fmt.Sprintf("ALTER TABLE %s ALTER COLUMN %s %s", g.q(op.Table), g.q(op.Column.Name), action)
	case dialect.MySQL:
		var def string
		def, warnings = g.modifyDef(op, current)
		sql = fmt.Sprintf("ALTER TABLE %s MODIFY COLUMN %s", g.q(op.Table), def)
	default:
		sql = fmt.Sprintf("ALTER TABLE %s ALTER COLUMN %s %s %s", g.q(op.Table), g.q(op.Column.Name), current, nullClause(op.Column.Nullable))
	}
	return []Statement{g.stmt(op, sql, warnings...)}, nil
}

func (g *schemaGenerator) addIndex(op diff.ChangeOp) ([]Statement, error) {
	idx := op.Index
	if idx == nil {
		return nil, fmt.Errorf("missing index")
	}

	if idx.Constraint && idx.Predicate == "" && g.caps.AlterConstraints && g.d != dialect.MySQL {
		sql := fmt.Sprintf("ALTER TABLE %s ADD CONSTRAINT %s UNIQUE (%s)", g.q(op.Table), g.q(idx.Name), g.qs(idx.Columns))
		sql = g.guard(fmt.Sprintf("OBJECT_ID(N'%s', N'UQ') IS NULL", escapeNString(idx.Name)), sql)
		return []Statement{g.stmt(op, sql)}, nil
	}

	sql, warnings := g.createIndexSQL(op.Table, *idx, op.From)
	return []Statement{g.stmt(op, sql, warnings...)}, nil
}

func (g *schemaGenerator) addForeignKey(op diff.ChangeOp) ([]Statement, error) {
	if op.ForeignKey == nil {
		return nil, fmt.Errorf("missing foreign key")
	}
	if !g.caps.AlterConstraints {
		if g.created[op.Table] {
			// declared inline by CREATE TABLE
			return nil, nil
		}
		return nil, fmt.Errorf("%s cannot add a foreign key to table %s without its definition", g.d, op.Table)
	}

	sql := fmt.Sprintf("ALTER TABLE %s ADD %s", g.q(op.Table), g.foreignKeyClause(*op.ForeignKey))
	sql = g.guard(fmt.Sprintf("OBJECT_ID(N'%s', N'F') IS NULL", escapeNString(op.ForeignKey.Name)), sql)
	return []Statement{g.stmt(op, sql)}, nil
}
