package db

import (
	"context"
	"database/sql"
	"fmt"
	"io"
	"strings"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/tordrt/syncforge/internal/dialect"
	"github.com/tordrt/syncforge/internal/rowdiff"
	"github.com/tordrt/syncforge/internal/schema"
)

// tableCursor carries the metadata every cursor reports
type tableCursor struct {
	table *schema.Table
}

func (c tableCursor) Table() string            { return c.table.Name }
func (c tableCursor) Columns() []schema.Column { return c.table.Columns }
func (c tableCursor) PrimaryKey() []string     { return c.table.PrimaryKey }

// sqlCursor streams rows from a database/sql result set
type sqlCursor struct {
	tableCursor
	rows *sql.Rows
}

func (c *sqlCursor) Next(ctx context.Context) (rowdiff.Row, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if !c.rows.Next() {
		if err := c.rows.Err(); err != nil {
			return nil, err
		}
		return nil, io.EOF
	}

	row := make(rowdiff.Row, len(c.table.Columns))
	dest := make([]any, len(row))
	for i := range row {
		dest[i] = &row[i]
	}
	if err := c.rows.Scan(dest...); err != nil {
		return nil, err
	}
	for i, col := range c.table.Columns {
		row[i] = normalizeValue(col.Type, row[i])
	}
	return row, nil
}

func (c *sqlCursor) Close() error {
	return c.rows.Close()
}

// pgCursor streams rows from a pgx result set
type pgCursor struct {
	tableCursor
	rows pgx.Rows
}

func (c *pgCursor) Next(ctx context.Context) (rowdiff.Row, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if !c.rows.Next() {
		if err := c.rows.Err(); err != nil {
			return nil, err
		}
		return nil, io.EOF
	}

	vals, err := c.rows.Values()
	if err != nil {
		return nil, err
	}
	row := make(rowdiff.Row, len(vals))
	for i, col := range c.table.Columns {
		row[i] = normalizeValue(col.Type, vals[i])
	}
	return row, nil
}

func (c *pgCursor) Close() error {
	c.rows.Close()
	return c.rows.Err()
}

// selectQuery builds the key-ordered full scan of a table. Text keys sort by
// binary collation so every engine agrees with the comparator's ordering.
func selectQuery(d dialect.Dialect, qualified string, table *schema.Table) string {
	cols := make([]string, len(table.Columns))
	for i, col := range table.Columns {
		cols[i] = selectExpr(d, col)
	}

	order := make([]string, len(table.PrimaryKey))
	for i, name := range table.PrimaryKey {
		col, _ := table.Column(name)
		order[i] = orderExpr(d, *col)
	}

	return fmt.Sprintf("SELECT %s FROM %s ORDER BY %s",
		strings.Join(cols, ", "), qualified, strings.Join(order, ", "))
}

func selectExpr(d dialect.Dialect, col schema.Column) string {
	q := d.QuoteIdent(col.Name)
	switch d {
	case dialect.PostgreSQL:
		switch col.Type.Category {
		case schema.CategoryDecimal, schema.CategoryJSON, schema.CategoryEnum,
			schema.CategoryInterval, schema.CategoryTime, schema.CategoryOther:
			return q + "::text"
		}
	case dialect.SQLServer:
		switch col.Type.Category {
		case schema.CategoryUUID:
			return fmt.Sprintf("CONVERT(NVARCHAR(36), %s) AS %s", q, q)
		case schema.CategoryTime:
			return fmt.Sprintf("CONVERT(VARCHAR(16), %s, 114) AS %s", q, q)
		}
	}
	return q
}

func orderExpr(d dialect.Dialect, col schema.Column) string {
	q := d.QuoteIdent(col.Name)
	if !col.Type.Category.IsText() && col.Type.Category != schema.CategoryUUID {
		return q
	}
	switch d {
	case dialect.PostgreSQL:
		if col.Type.Category == schema.CategoryUUID {
			return q
		}
		return q + ` COLLATE "C"`
	case dialect.MySQL:
		return fmt.Sprintf("CAST(%s AS BINARY)", q)
	case dialect.SQLite:
		return q + " COLLATE BINARY"
	case dialect.SQLServer:
		if col.Type.Category == schema.CategoryUUID {
			return fmt.Sprintf("CONVERT(NVARCHAR(36), %s) COLLATE Latin1_General_BIN2", q)
		}
		return q + " COLLATE Latin1_General_BIN2"
	}
	return q
}

func placeholder(d dialect.Dialect, n int) string {
	switch d {
	case dialect.PostgreSQL:
		return fmt.Sprintf("$%d", n)
	case dialect.SQLServer:
		return fmt.Sprintf("@p%d", n)
	default:
		return "?"
	}
}

// loadValueQuery selects one column of the row identified by key
func loadValueQuery(d dialect.Dialect, qualified string, table *schema.Table, column string, key []rowdiff.ColumnValue) (string, []any, error) {
	col, ok := table.Column(column)
	if !ok {
		return "", nil, fmt.Errorf("table %s has no column %s", table.Name, column)
	}
	if len(key) != len(table.PrimaryKey) {
		return "", nil, fmt.Errorf("table %s: key has %d values, primary key has %d columns", table.Name, len(key), len(table.PrimaryKey))
	}

	conds := make([]string, len(key))
	args := make([]any, len(key))
	for i, k := range key {
		conds[i] = fmt.Sprintf("%s = %s", d.QuoteIdent(k.Column), placeholder(d, i+1))
		args[i] = k.Value
	}
	query := fmt.Sprintf("SELECT %s FROM %s WHERE %s", selectExpr(d, *col), qualified, strings.Join(conds, " AND "))
	return query, args, nil
}

func querySQLCursor(ctx context.Context, db *sql.DB, d dialect.Dialect, qualified string, table *schema.Table) (rowdiff.Cursor, error) {
	if len(table.PrimaryKey) == 0 {
		return nil, fmt.Errorf("%w: %s", rowdiff.ErrNoPrimaryKey, table.Name)
	}
	rows, err := db.QueryContext(ctx, selectQuery(d, qualified, table))
	if err != nil {
		return nil, fmt.Errorf("failed to scan table %s: %w", table.Name, err)
	}
	return &sqlCursor{tableCursor: tableCursor{table: table}, rows: rows}, nil
}

func loadSQLValue(ctx context.Context, db *sql.DB, d dialect.Dialect, qualified string, table *schema.Table, column string, key []rowdiff.ColumnValue) (any, error) {
	query, args, err := loadValueQuery(d, qualified, table, column, key)
	if err != nil {
		return nil, err
	}
	var v any
	if err := db.QueryRowContext(ctx, query, args...).Scan(&v); err != nil {
		return nil, fmt.Errorf("failed to load %s.%s: %w", table.Name, column, err)
	}
	col, _ := table.Column(column)
	return normalizeValue(col.Type, v), nil
}

func queryPgCursor(ctx context.Context, pool *pgxpool.Pool, qualified string, table *schema.Table) (rowdiff.Cursor, error) {
	if len(table.PrimaryKey) == 0 {
		return nil, fmt.Errorf("%w: %s", rowdiff.ErrNoPrimaryKey, table.Name)
	}
	rows, err := pool.Query(ctx, selectQuery(dialect.PostgreSQL, qualified, table))
	if err != nil {
		return nil, fmt.Errorf("failed to scan table %s: %w", table.Name, err)
	}
	return &pgCursor{tableCursor: tableCursor{table: table}, rows: rows}, nil
}

func loadPgValue(ctx context.Context, pool *pgxpool.Pool, qualified string, table *schema.Table, column string, key []rowdiff.ColumnValue) (any, error) {
	query, args, err := loadValueQuery(dialect.PostgreSQL, qualified, table, column, key)
	if err != nil {
		return nil, err
	}
	var v any
	if err := pool.QueryRow(ctx, query, args...).Scan(&v); err != nil {
		return nil, fmt.Errorf("failed to load %s.%s: %w", table.Name, column, err)
	}
	col, _ := table.Column(column)
	return normalizeValue(col.Type, v), nil
}

// normalizeValue maps driver-specific representations onto the ones the
// comparator and the literal renderer understand.
func normalizeValue(t schema.ColumnType, v any) any {
	switch x := v.(type) {
	case nil:
		return nil
	case [16]byte:
		return uuid.UUID(x).String()
	case []byte:
		if t.Category.IsBinary() {
			return x
		}
		if t.Category == schema.CategoryUUID && len(x) == 16 {
			if u, err := uuid.FromBytes(x); err == nil {
				return u.String()
			}
		}
		return string(x)
	case float32:
		return float64(x)
	}
	return v
}
