package db

import (
	"context"
	"database/sql"
	"fmt"
	"slices"
	"strings"

	"github.com/tordrt/syncforge/internal/dialect"
	"github.com/tordrt/syncforge/internal/rowdiff"
	"github.com/tordrt/syncforge/internal/schema"
)

// MySQLExtractor reads MySQL catalogs and table rows
type MySQLExtractor struct {
	client     *MySQLClient
	schemaName string
	filter     TableFilter
}

// NewMySQLExtractor creates a new MySQL adapter. An empty schema name uses
// the database named in the DSN.
func NewMySQLExtractor(client *MySQLClient, schemaName string, filter TableFilter) *MySQLExtractor {
	if schemaName == "" {
		schemaName = client.Database()
	}
	return &MySQLExtractor{
		client:     client,
		schemaName: schemaName,
		filter:     filter,
	}
}

// Dialect returns dialect.MySQL
func (e *MySQLExtractor) Dialect() dialect.Dialect {
	return dialect.MySQL
}

// Snapshot captures every selected table of the schema
func (e *MySQLExtractor) Snapshot(ctx context.Context) (*schema.Snapshot, []schema.TableWarning, error) {
	names, err := e.getTableNames(ctx)
	if err != nil {
		return nil, nil, databaseError("get table names", err)
	}
	return captureSnapshot(ctx, dialect.MySQL, e.schemaName, e.filter.apply(names), e.extractTable)
}

// getTableNames returns every base table in the schema
func (e *MySQLExtractor) getTableNames(ctx context.Context) ([]string, error) {
	query := `
		SELECT table_name
		FROM information_schema.tables
		WHERE table_schema = ? AND table_type = 'BASE TABLE'
		ORDER BY table_name
	`

	rows, err := e.client.DB().QueryContext(ctx, query, e.schemaName)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var tables []string
	for rows.Next() {
		var tableName string
		if err := rows.Scan(&tableName); err != nil {
			return nil, err
		}
		tables = append(tables, tableName)
	}

	return tables, rows.Err()
}

// extractTable extracts all information for a single table
func (e *MySQLExtractor) extractTable(ctx context.Context, tableName string) (*schema.Table, error) {
	table := &schema.Table{Name: tableName}

	columns, err := e.extractColumns(ctx, tableName)
	if err != nil {
		return nil, fmt.Errorf("failed to extract columns: %w", err)
	}
	if len(columns) == 0 {
		return nil, fmt.Errorf("table %s not found in schema %s", tableName, e.schemaName)
	}
	table.Columns = columns

	pk, err := e.extractPrimaryKey(ctx, tableName)
	if err != nil {
		return nil, fmt.Errorf("failed to extract primary key: %w", err)
	}
	table.PrimaryKey = pk

	fks, err := e.extractForeignKeys(ctx, tableName)
	if err != nil {
		return nil, fmt.Errorf("failed to extract foreign keys: %w", err)
	}
	table.ForeignKeys = fks

	indexes, err := e.extractIndexes(ctx, tableName, fks)
	if err != nil {
		return nil, err
	}
	table.Indexes = indexes

	return table, nil
}

// extractColumns extracts column information for a table
func (e *MySQLExtractor) extractColumns(ctx context.Context, tableName string) ([]schema.Column, error) {
	query := `
		SELECT
			c.column_name,
			c.column_type,
			c.is_nullable,
			c.column_default,
			c.ordinal_position,
			c.extra
		FROM information_schema.columns c
		WHERE c.table_schema = ? AND c.table_name = ?
		ORDER BY c.ordinal_position
	`

	rows, err := e.client.DB().QueryContext(ctx, query, e.schemaName, tableName)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var columns []schema.Column
	for rows.Next() {
		var col schema.Column
		var columnType, nullable, extra string
		var defaultVal sql.NullString

		if err := rows.Scan(&col.Name, &columnType, &nullable, &defaultVal, &col.Position, &extra); err != nil {
			return nil, err
		}

		// column_type already carries enum members, lengths and unsigned
		col.Type = dialect.ParseType(dialect.MySQL, columnType)
		col.Nullable = (nullable == "YES")
		extra = strings.ToLower(extra)
		col.AutoIncrement = strings.Contains(extra, "auto_increment")

		if defaultVal.Valid {
			def := defaultVal.String
			// literal string defaults come back unquoted
			if !strings.Contains(extra, "default_generated") && (col.Type.Category.IsText() || col.Type.Category == schema.CategoryDate || col.Type.Category == schema.CategoryTimestamp) {
				def = dialect.MySQL.QuoteString(def)
			}
			col.Default = &def
		}

		columns = append(columns, col)
	}

	return columns, rows.Err()
}

// extractPrimaryKey extracts primary key columns
func (e *MySQLExtractor) extractPrimaryKey(ctx context.Context, tableName string) ([]string, error) {
	query := `
		SELECT column_name
		FROM information_schema.key_column_usage
		WHERE table_schema = ?
			AND table_name = ?
			AND constraint_name = 'PRIMARY'
		ORDER BY ordinal_position
	`

	rows, err := e.client.DB().QueryContext(ctx, query, e.schemaName, tableName)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var pk []string
	for rows.Next() {
		var colName string
		if err := rows.Scan(&colName); err != nil {
			return nil, err
		}
		pk = append(pk, colName)
	}

	return pk, rows.Err()
}

// extractForeignKeys groups key_column_usage rows by constraint
func (e *MySQLExtractor) extractForeignKeys(ctx context.Context, tableName string) ([]schema.ForeignKey, error) {
	query := `
		SELECT
			kcu.constraint_name,
			kcu.column_name,
			kcu.referenced_table_name,
			kcu.referenced_column_name,
			rc.delete_rule,
			rc.update_rule
		FROM information_schema.key_column_usage kcu
		JOIN information_schema.referential_constraints rc
			ON rc.constraint_schema = kcu.table_schema
			AND rc.constraint_name = kcu.constraint_name
			AND rc.table_name = kcu.table_name
		WHERE kcu.table_schema = ?
			AND kcu.table_name = ?
			AND kcu.referenced_table_name IS NOT NULL
		ORDER BY kcu.constraint_name, kcu.ordinal_position
	`

	rows, err := e.client.DB().QueryContext(ctx, query, e.schemaName, tableName)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var fks []schema.ForeignKey
	for rows.Next() {
		var name, column, refTable, refColumn, onDelete, onUpdate string
		if err := rows.Scan(&name, &column, &refTable, &refColumn, &onDelete, &onUpdate); err != nil {
			return nil, err
		}

		if n := len(fks); n > 0 && fks[n-1].Name == name {
			fks[n-1].Columns = append(fks[n-1].Columns, column)
			fks[n-1].RefColumns = append(fks[n-1].RefColumns, refColumn)
			continue
		}
		fks = append(fks, schema.ForeignKey{
			Name:       name,
			Columns:    []string{column},
			RefTable:   refTable,
			RefColumns: []string{refColumn},
			OnDelete:   referentialAction(onDelete),
			OnUpdate:   referentialAction(onUpdate),
		})
	}

	return fks, rows.Err()
}

// referentialAction normalizes a catalog rule, folding the default to ""
func referentialAction(rule string) string {
	rule = strings.ToUpper(strings.ReplaceAll(strings.TrimSpace(rule), "_", " "))
	if rule == "NO ACTION" {
		return ""
	}
	return rule
}

// extractIndexes extracts secondary indexes. The indexes MySQL creates
// implicitly for foreign keys are left out.
func (e *MySQLExtractor) extractIndexes(ctx context.Context, tableName string, fks []schema.ForeignKey) ([]schema.Index, error) {
	query := `
		SELECT
			s.index_name,
			s.non_unique = 0 AS is_unique,
			s.index_type,
			s.column_name
		FROM information_schema.statistics s
		WHERE s.table_schema = ?
			AND s.table_name = ?
			AND s.index_name != 'PRIMARY'
		ORDER BY s.index_name, s.seq_in_index
	`

	rows, err := e.client.DB().QueryContext(ctx, query, e.schemaName, tableName)
	if err != nil {
		return nil, fmt.Errorf("failed to extract indexes: %w", err)
	}
	defer rows.Close()

	var indexes []schema.Index
	for rows.Next() {
		var name, indexType string
		var isUnique int
		var column sql.NullString

		if err := rows.Scan(&name, &isUnique, &indexType, &column); err != nil {
			return nil, fmt.Errorf("failed to extract indexes: %w", err)
		}

		switch {
		case indexType == "FULLTEXT" || indexType == "SPATIAL":
			return nil, schema.Unsupported(tableName, name, "%s index", strings.ToLower(indexType))
		case !column.Valid:
			return nil, schema.Unsupported(tableName, name, "functional index")
		}

		if n := len(indexes); n > 0 && indexes[n-1].Name == name {
			indexes[n-1].Columns = append(indexes[n-1].Columns, column.String)
			continue
		}
		indexes = append(indexes, schema.Index{
			Name:    name,
			Unique:  isUnique == 1,
			Columns: []string{column.String},
		})
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to extract indexes: %w", err)
	}

	return slices.DeleteFunc(indexes, func(idx schema.Index) bool {
		return !idx.Unique && slices.ContainsFunc(fks, func(fk schema.ForeignKey) bool {
			return fk.Name == idx.Name && slices.Equal(fk.Columns, idx.Columns)
		})
	}), nil
}

func (e *MySQLExtractor) qualified(table string) string {
	return dialect.MySQL.QuoteIdent(e.schemaName) + "." + dialect.MySQL.QuoteIdent(table)
}

// OpenCursor scans a table in primary key order
func (e *MySQLExtractor) OpenCursor(ctx context.Context, table *schema.Table) (rowdiff.Cursor, error) {
	return querySQLCursor(ctx, e.client.DB(), dialect.MySQL, e.qualified(table.Name), table)
}

// LoadValue fetches one column of one row
func (e *MySQLExtractor) LoadValue(ctx context.Context, table *schema.Table, column string, key []rowdiff.ColumnValue) (any, error) {
	return loadSQLValue(ctx, e.client.DB(), dialect.MySQL, e.qualified(table.Name), table, column, key)
}
