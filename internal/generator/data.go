package generator

import (
	"context"
	"fmt"
	"math"
	"slices"
	"sort"
	"strings"

	"github.com/tordrt/syncforge/internal/dialect"
	"github.com/tordrt/syncforge/internal/rowdiff"
	"github.com/tordrt/syncforge/internal/schema"
)

// Data renders row changes for one table. Inserts use the dialect's
// idempotent form, updates set only the changed columns and deletes match
// on the primary key.
func Data(ctx context.Context, table *schema.Table, changes []rowdiff.RowChange, target dialect.Dialect, opts Options) ([]Statement, error) {
	if target == dialect.Unknown {
		return nil, fmt.Errorf("unsupported target dialect: %s", target)
	}
	if len(table.PrimaryKey) == 0 {
		return nil, fmt.Errorf("table %s: %w", table.Name, rowdiff.ErrNoPrimaryKey)
	}

	g := &dataGenerator{d: target, caps: target.Capabilities(), table: table, opts: opts}

	var out []Statement
	identity := false
	for _, ch := range changes {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		s, err := g.render(ctx, ch)
		if err != nil {
			return nil, fmt.Errorf("failed to render %s: %w", ch, err)
		}
		if ch.Kind == rowdiff.Insert && g.insertsIdentity(ch) {
			identity = true
		}
		out = append(out, s)
	}

	if identity && target == dialect.SQLServer {
		on := Statement{
			SQL:        fmt.Sprintf("SET IDENTITY_INSERT %s ON", g.q(table.Name)),
			Descriptor: Descriptor{Kind: "IdentityInsert", Table: table.Name, Summary: "allow explicit identity values in " + table.Name},
		}
		off := Statement{
			SQL:        fmt.Sprintf("SET IDENTITY_INSERT %s OFF", g.q(table.Name)),
			Descriptor: Descriptor{Kind: "IdentityInsert", Table: table.Name, Summary: "restore identity generation in " + table.Name},
		}
		out = slices.Concat([]Statement{on}, out, []Statement{off})
	}
	return out, nil
}

type dataGenerator struct {
	d     dialect.Dialect
	caps  dialect.Capabilities
	table *schema.Table
	opts  Options
}

func (g *dataGenerator) q(name string) string {
	return g.d.QuoteIdent(name)
}

func (g *dataGenerator) insertsIdentity(ch rowdiff.RowChange) bool {
	for _, v := range ch.Values {
		if col, ok := g.table.Column(v.Column); ok && col.AutoIncrement {
			return true
		}
	}
	return false
}

func (g *dataGenerator) render(ctx context.Context, ch rowdiff.RowChange) (Statement, error) {
	desc := Descriptor{
		Kind:        ch.Kind.String(),
		Table:       g.table.Name,
		Object:      keyString(ch.Key),
		Summary:     ch.String(),
		Destructive: ch.Kind == rowdiff.Delete,
	}

	where, warnings, err := g.where(ch.Key)
	if err != nil {
		return Statement{}, err
	}
	desc.Warnings = append(desc.Warnings, warnings...)

	var sql string
	switch ch.Kind {
	case rowdiff.Insert:
		var cols, vals []string
		for _, v := range ch.Values {
			if _, ok := g.table.Column(v.Column); !ok {
				desc.Warnings = append(desc.Warnings, fmt.Sprintf("column %s is not in target table %s; value dropped", v.Column, g.table.Name))
				continue
			}
			lit, w, err := g.literal(ctx, ch, v)
			if err != nil {
				return Statement{}, err
			}
			cols = append(cols, g.q(v.Column))
			vals = append(vals, lit)
			desc.Warnings = append(desc.Warnings, w...)
		}
		sql = g.insertSQL(strings.Join(cols, ", "), strings.Join(vals, ", "), where)

	case rowdiff.Update:
		if len(ch.Values) == 0 {
			return Statement{}, fmt.Errorf("update without changed columns")
		}
		sets := make([]string, len(ch.Values))
		for i, v := range ch.Values {
			lit, w, err := g.literal(ctx, ch, v)
			if err != nil {
				return Statement{}, err
			}
			sets[i] = g.q(v.Column) + " = " + lit
			desc.Warnings = append(desc.Warnings, w...)
		}
		sql = fmt.Sprintf("UPDATE %s SET %s WHERE %s", g.q(g.table.Name), strings.Join(sets, ", "), where)

	case rowdiff.Delete:
		sql = fmt.Sprintf("DELETE FROM %s WHERE %s", g.q(g.table.Name), where)

	default:
		return Statement{}, fmt.Errorf("unknown change kind %d", ch.Kind)
	}

	return Statement{SQL: sql, Descriptor: desc}, nil
}

func (g *dataGenerator) insertSQL(cols, vals, where string) string {
	t := g.q(g.table.Name)
	switch g.d {
	case dialect.PostgreSQL:
		return fmt.Sprintf("INSERT INTO %s (%s) VALUES (%s) ON CONFLICT (%s) DO NOTHING", t, cols, vals, g.d.QuoteIdents(g.table.PrimaryKey))
	case dialect.MySQL:
		return fmt.Sprintf("INSERT IGNORE INTO %s (%s) VALUES (%s)", t, cols, vals)
	case dialect.SQLite:
		return fmt.Sprintf("INSERT OR IGNORE INTO %s (%s) VALUES (%s)", t, cols, vals)
	default:
		return fmt.Sprintf("IF NOT EXISTS (SELECT 1 FROM %s WHERE %s) INSERT INTO %s (%s) VALUES (%s)", t, where, t, cols, vals)
	}
}

func (g *dataGenerator) where(key []rowdiff.ColumnValue) (string, []string, error) {
	if len(key) != len(g.table.PrimaryKey) {
		return "", nil, fmt.Errorf("%w: got %d key values for %d key columns", rowdiff.ErrKeyMismatch, len(key), len(g.table.PrimaryKey))
	}

	var warnings []string
	conds := make([]string, len(key))
	for i, k := range key {
		if k.Value == nil {
			return "", nil, fmt.Errorf("key column %s is NULL", k.Column)
		}
		lit, w, err := g.plainLiteral(k.Column, k.Value)
		if err != nil {
			return "", nil, err
		}
		conds[i] = g.q(k.Column) + " = " + lit
		warnings = append(warnings, w...)
	}
	return strings.Join(conds, " AND "), warnings, nil
}

// literal resolves large value digests before rendering
func (g *dataGenerator) literal(ctx context.Context, ch rowdiff.RowChange, v rowdiff.ColumnValue) (string, []string, error) {
	value := v.Value
	if lv, ok := value.(rowdiff.LargeValue); ok {
		if g.opts.LoadLargeValue == nil {
			return "", nil, fmt.Errorf("%w: column %s (%s)", ErrUnresolvedLargeValue, v.Column, lv)
		}
		loaded, err := g.opts.LoadLargeValue(ctx, g.table, v.Column, ch.Key)
		if err != nil {
			return "", nil, fmt.Errorf("failed to load %s.%s: %w", g.table.Name, v.Column, err)
		}
		if _, still := loaded.(rowdiff.LargeValue); still {
			return "", nil, fmt.Errorf("%w: column %s", ErrUnresolvedLargeValue, v.Column)
		}
		value = loaded
	}
	return g.plainLiteral(v.Column, value)
}

func (g *dataGenerator) plainLiteral(column string, value any) (string, []string, error) {
	var warnings []string
	if u, ok := value.(uint64); ok && u > math.MaxInt64 && !g.caps.UnsignedIntegers {
		warnings = append(warnings, fmt.Sprintf("column %s: value %d exceeds the signed 64-bit range of %s", column, u, g.d))
	}

	if col, ok := g.table.Column(column); ok && col.Type.Category == schema.CategoryBoolean && g.caps.NativeBoolean {
		if b, isBool := asBool(value); isBool {
			value = b
		}
	}

	lit, err := g.d.Literal(value)
	if err != nil {
		return "", nil, fmt.Errorf("column %s: %w", column, err)
	}
	return lit, warnings, nil
}

// asBool reads the integer and text forms engines without a boolean type
// store flags as
func asBool(v any) (bool, bool) {
	switch x := v.(type) {
	case bool:
		return x, true
	case int64:
		return x != 0, true
	case int:
		return x != 0, true
	case string:
		switch strings.ToLower(x) {
		case "1", "t", "true":
			return true, true
		case "0", "f", "false":
			return false, true
		}
	}
	return false, false
}

func keyString(key []rowdiff.ColumnValue) string {
	parts := make([]string, len(key))
	for i, k := range key {
		parts[i] = fmt.Sprintf("%s=%v", k.Column, k.Value)
	}
	return strings.Join(parts, ", ")
}

// TableOrder sorts tables so that every table follows the tables its foreign
// keys reference. Tables on a reference cycle cannot be ordered and are
// returned separately, sorted by name.
func TableOrder(snap *schema.Snapshot) (order, cyclic []string) {
	deps := make(map[string]map[string]bool)
	dependents := make(map[string][]string)
	for _, name := range snap.TableNames() {
		t, _ := snap.Table(name)
		deps[name] = make(map[string]bool)
		for _, fk := range t.ForeignKeys {
			if fk.RefTable == name {
				continue
			}
			if _, ok := snap.Table(fk.RefTable); !ok {
				continue
			}
			if !deps[name][fk.RefTable] {
				deps[name][fk.RefTable] = true
				dependents[fk.RefTable] = append(dependents[fk.RefTable], name)
			}
		}
	}

	var ready []string
	for _, name := range snap.TableNames() {
		if len(deps[name]) == 0 {
			ready = append(ready, name)
		}
	}

	for len(ready) > 0 {
		name := ready[0]
		ready = ready[1:]
		order = append(order, name)

		var next []string
		for _, child := range dependents[name] {
			delete(deps[child], name)
			if len(deps[child]) == 0 {
				next = append(next, child)
			}
		}
		ready = append(ready, next...)
		sort.Strings(ready)
	}

	for _, name := range snap.TableNames() {
		if !slices.Contains(order, name) {
			cyclic = append(cyclic, name)
		}
	}
	return order, cyclic
}

// DataPlan renders row changes for several tables in foreign key order:
// deletes run children first, inserts and updates parents first.
func DataPlan(ctx context.Context, snap *schema.Snapshot, changes map[string][]rowdiff.RowChange, target dialect.Dialect, opts Options) ([]Statement, error) {
	order, cyclic := TableOrder(snap)
	tables := append(order, cyclic...)

	for name := range changes {
		if _, ok := snap.Table(name); !ok {
			return nil, fmt.Errorf("table %s is not in the snapshot", name)
		}
	}

	render := func(name string, keep func(rowdiff.RowChange) bool) ([]Statement, error) {
		var selected []rowdiff.RowChange
		for _, ch := range changes[name] {
			if keep(ch) {
				selected = append(selected, ch)
			}
		}
		if len(selected) == 0 {
			return nil, nil
		}
		table, _ := snap.Table(name)
		stmts, err := Data(ctx, table, selected, target, opts)
		if err != nil {
			return nil, err
		}
		if slices.Contains(cyclic, name) {
			for i := range stmts {
				stmts[i].Warnings = append(stmts[i].Warnings, "table is on a foreign key cycle, constraint checks may need to be deferred")
			}
		}
		return stmts, nil
	}

	var out []Statement
	for i := len(tables) - 1; i >= 0; i-- {
		stmts, err := render(tables[i], func(ch rowdiff.RowChange) bool { return ch.Kind == rowdiff.Delete })
		if err != nil {
			return nil, err
		}
		out = append(out, stmts...)
	}
	for _, name := range tables {
		stmts, err := render(name, func(ch rowdiff.RowChange) bool { return ch.Kind != rowdiff.Delete })
		if err != nil {
			return nil, err
		}
		out = append(out, stmts...)
	}
	return out, nil
}

// Wrap encloses statements in a transaction of the target dialect
func Wrap(stmts []Statement, target dialect.Dialect) []Statement {
	if len(stmts) == 0 {
		return stmts
	}

	begin := Statement{SQL: "BEGIN", Descriptor: Descriptor{Kind: "Transaction", Summary: "begin transaction"}}
	commit := Statement{SQL: "COMMIT", Descriptor: Descriptor{Kind: "Transaction", Summary: "commit transaction"}}

	var prefix []Statement
	switch target {
	case dialect.MySQL:
		begin.SQL = "START TRANSACTION"
	case dialect.SQLServer:
		begin.SQL = "BEGIN TRANSACTION"
		commit.SQL = "COMMIT TRANSACTION"
		prefix = append(prefix, Statement{
			SQL:        "SET XACT_ABORT ON",
			Descriptor: Descriptor{Kind: "Transaction", Summary: "roll back the whole transaction on any error"},
		})
	}

	if !target.Capabilities().TransactionalDDL {
		for _, s := range stmts {
			if isDDL(s.Kind) {
				begin.Warnings = append(begin.Warnings, fmt.Sprintf("%s commits implicitly on DDL, a failure leaves earlier statements applied", target))
				break
			}
		}
	}

	return slices.Concat(prefix, []Statement{begin}, stmts, []Statement{commit})
}

func isDDL(kind string) bool {
	switch kind {
	case "Insert", "Update", "Delete", "IdentityInsert", "Transaction":
		return false
	}
	return true
}
