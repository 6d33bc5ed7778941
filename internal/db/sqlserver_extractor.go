package db

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"github.com/tordrt/syncforge/internal/dialect"
	"github.com/tordrt/syncforge/internal/rowdiff"
	"github.com/tordrt/syncforge/internal/schema"
)

// SQLServerExtractor reads SQL Server catalog views and table rows
type SQLServerExtractor struct {
	client *SQLServerClient
	schema string
	filter TableFilter
}

// NewSQLServerExtractor creates a new SQL Server adapter for one schema
func NewSQLServerExtractor(client *SQLServerClient, schemaName string, filter TableFilter) *SQLServerExtractor {
	if schemaName == "" {
		schemaName = "dbo"
	}
	return &SQLServerExtractor{
		client: client,
		schema: schemaName,
		filter: filter,
	}
}

// Dialect returns dialect.SQLServer
func (e *SQLServerExtractor) Dialect() dialect.Dialect {
	return dialect.SQLServer
}

// Snapshot captures every selected table of the schema
func (e *SQLServerExtractor) Snapshot(ctx context.Context) (*schema.Snapshot, []schema.TableWarning, error) {
	var database string
	if err := e.client.DB().QueryRowContext(ctx, "SELECT DB_NAME()").Scan(&database); err != nil {
		return nil, nil, databaseError("read database name", err)
	}

	names, err := e.getTableNames(ctx)
	if err != nil {
		return nil, nil, databaseError("get table names", err)
	}

	return captureSnapshot(ctx, dialect.SQLServer, database, e.filter.apply(names), e.extractTable)
}

func (e *SQLServerExtractor) getTableNames(ctx context.Context) ([]string, error) {
	query := `
		SELECT t.name
		FROM sys.tables t
		JOIN sys.schemas s ON s.schema_id = t.schema_id
		WHERE s.name = @p1 AND t.is_ms_shipped = 0
		ORDER BY t.name
	`

	rows, err := e.client.DB().QueryContext(ctx, query, e.schema)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var tables []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, err
		}
		tables = append(tables, name)
	}

	return tables, rows.Err()
}

func (e *SQLServerExtractor) extractTable(ctx context.Context, tableName string) (*schema.Table, error) {
	table := &schema.Table{Name: tableName}

	columns, err := e.extractColumns(ctx, tableName)
	if err != nil {
		return nil, fmt.Errorf("failed to extract columns: %w", err)
	}
	if len(columns) == 0 {
		return nil, fmt.Errorf("table %s not found in schema %s", tableName, e.schema)
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

	indexes, err := e.extractIndexes(ctx, tableName)
	if err != nil {
		return nil, err
	}
	table.Indexes = indexes

	return table, nil
}

func (e *SQLServerExtractor) extractColumns(ctx context.Context, tableName string) ([]schema.Column, error) {
	query := `
		SELECT
			c.name,
			ty.name,
			c.max_length,
			c.precision,
			c.scale,
			c.is_nullable,
			dc.definition,
			c.column_id,
			c.is_identity
		FROM sys.columns c
		JOIN sys.tables t ON t.object_id = c.object_id
		JOIN sys.schemas s ON s.schema_id = t.schema_id
		JOIN sys.types ty ON ty.user_type_id = c.user_type_id
		LEFT JOIN sys.default_constraints dc ON dc.object_id = c.default_object_id
		WHERE s.name = @p1 AND t.name = @p2
		ORDER BY c.column_id
	`

	rows, err := e.client.DB().QueryContext(ctx, query, e.schema, tableName)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var columns []schema.Column
	for rows.Next() {
		var col schema.Column
		var typeName string
		var maxLength, precision, scale int
		var definition sql.NullString

		if err := rows.Scan(&col.Name, &typeName, &maxLength, &precision, &scale, &col.Nullable, &definition, &col.Position, &col.AutoIncrement); err != nil {
			return nil, err
		}

		col.Type = dialect.ParseType(dialect.SQLServer, sqlServerTypeString(typeName, maxLength, precision, scale))
		if definition.Valid {
			def := stripParens(definition.String)
			col.Default = &def
		}

		columns = append(columns, col)
	}

	return columns, rows.Err()
}

// sqlServerTypeString rebuilds a declared type from sys.columns. max_length
// is in bytes, so national character types are halved.
func sqlServerTypeString(name string, maxLength, precision, scale int) string {
	switch name {
	case "varchar", "char", "varbinary", "binary":
		if maxLength == -1 {
			return name + "(max)"
		}
		return fmt.Sprintf("%s(%d)", name, maxLength)
	case "nvarchar", "nchar":
		if maxLength == -1 {
			return name + "(max)"
		}
		return fmt.Sprintf("%s(%d)", name, maxLength/2)
	case "decimal", "numeric":
		return fmt.Sprintf("%s(%d,%d)", name, precision, scale)
	case "datetime2", "time", "datetimeoffset":
		return fmt.Sprintf("%s(%d)", name, scale)
	}
	return name
}

// stripParens removes the parentheses SQL Server wraps defaults in: ((0))
func stripParens(s string) string {
	for len(s) >= 2 && s[0] == '(' && s[len(s)-1] == ')' {
		inner := s[1 : len(s)-1]
		if !balanced(inner) {
			break
		}
		s = inner
	}
	return s
}

func balanced(s string) bool {
	depth := 0
	inQuote := false
	for _, r := range s {
		switch {
		case r == '\'':
			inQuote = !inQuote
		case inQuote:
		case r == '(':
			depth++
		case r == ')':
			depth--
			if depth < 0 {
				return false
			}
		}
	}
	return depth == 0
}

func (e *SQLServerExtractor) extractPrimaryKey(ctx context.Context, tableName string) ([]string, error) {
	query := `
		SELECT c.name
		FROM sys.indexes i
		JOIN sys.tables t ON t.object_id = i.object_id
		JOIN sys.schemas s ON s.schema_id = t.schema_id
		JOIN sys.index_columns ic ON ic.object_id = i.object_id AND ic.index_id = i.index_id
		JOIN sys.columns c ON c.object_id = ic.object_id AND c.column_id = ic.column_id
		WHERE i.is_primary_key = 1 AND s.name = @p1 AND t.name = @p2
		ORDER BY ic.key_ordinal
	`

	rows, err := e.client.DB().QueryContext(ctx, query, e.schema, tableName)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var pk []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, err
		}
		pk = append(pk, name)
	}

	return pk, rows.Err()
}

func (e *SQLServerExtractor) extractForeignKeys(ctx context.Context, tableName string) ([]schema.ForeignKey, error) {
	query := `
		SELECT
			fk.name,
			rt.name,
			pc.name,
			rc.name,
			fk.delete_referential_action_desc,
			fk.update_referential_action_desc
		FROM sys.foreign_keys fk
		JOIN sys.foreign_key_columns fkc ON fkc.constraint_object_id = fk.object_id
		JOIN sys.tables t ON t.object_id = fk.parent_object_id
		JOIN sys.schemas s ON s.schema_id = t.schema_id
		JOIN sys.tables rt ON rt.object_id = fk.referenced_object_id
		JOIN sys.columns pc ON pc.object_id = fkc.parent_object_id AND pc.column_id = fkc.parent_column_id
		JOIN sys.columns rc ON rc.object_id = fkc.referenced_object_id AND rc.column_id = fkc.referenced_column_id
		WHERE s.name = @p1 AND t.name = @p2
		ORDER BY fk.name, fkc.constraint_column_id
	`

	rows, err := e.client.DB().QueryContext(ctx, query, e.schema, tableName)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var fks []schema.ForeignKey
	for rows.Next() {
		var name, refTable, column, refColumn, onDelete, onUpdate string
		if err := rows.Scan(&name, &refTable, &column, &refColumn, &onDelete, &onUpdate); err != nil {
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

// extractIndexes reads rowstore indexes. Columnstore, XML and spatial
// indexes cannot be normalized.
func (e *SQLServerExtractor) extractIndexes(ctx context.Context, tableName string) ([]schema.Index, error) {
	query := `
		SELECT
			i.name,
			i.is_unique,
			CAST(i.type AS INT),
			i.type_desc,
			i.is_unique_constraint,
			COALESCE(i.filter_definition, ''),
			c.name
		FROM sys.indexes i
		JOIN sys.tables t ON t.object_id = i.object_id
		JOIN sys.schemas s ON s.schema_id = t.schema_id
		JOIN sys.index_columns ic ON ic.object_id = i.object_id AND ic.index_id = i.index_id
		JOIN sys.columns c ON c.object_id = ic.object_id AND c.column_id = ic.column_id
		WHERE s.name = @p1
			AND t.name = @p2
			AND i.is_primary_key = 0
			AND i.is_hypothetical = 0
			AND i.type > 0
			AND ic.is_included_column = 0
		ORDER BY i.name, ic.key_ordinal
	`

	rows, err := e.client.DB().QueryContext(ctx, query, e.schema, tableName)
	if err != nil {
		return nil, fmt.Errorf("failed to extract indexes: %w", err)
	}
	defer rows.Close()

	var indexes []schema.Index
	for rows.Next() {
		var name, typeDesc, filter, column string
		var unique, constraint bool
		var indexType int

		if err := rows.Scan(&name, &unique, &indexType, &typeDesc, &constraint, &filter, &column); err != nil {
			return nil, fmt.Errorf("failed to extract indexes: %w", err)
		}
		if indexType != 1 && indexType != 2 {
			return nil, schema.Unsupported(tableName, name, "%s index", strings.ToLower(typeDesc))
		}

		if n := len(indexes); n > 0 && indexes[n-1].Name == name {
			indexes[n-1].Columns = append(indexes[n-1].Columns, column)
			continue
		}
		indexes = append(indexes, schema.Index{
			Name:       name,
			Columns:    []string{column},
			Unique:     unique,
			Predicate:  filter,
			Constraint: constraint,
		})
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to extract indexes: %w", err)
	}
	return indexes, nil
}

func (e *SQLServerExtractor) qualified(table string) string {
	return dialect.SQLServer.QuoteIdent(e.schema) + "." + dialect.SQLServer.QuoteIdent(table)
}

// OpenCursor scans a table in primary key order
func (e *SQLServerExtractor) OpenCursor(ctx context.Context, table *schema.Table) (rowdiff.Cursor, error) {
	return querySQLCursor(ctx, e.client.DB(), dialect.SQLServer, e.qualified(table.Name), table)
}

// LoadValue fetches one column of one row
func (e *SQLServerExtractor) LoadValue(ctx context.Context, table *schema.Table, column string, key []rowdiff.ColumnValue) (any, error) {
	return loadSQLValue(ctx, e.client.DB(), dialect.SQLServer, e.qualified(table.Name), table, column, key)
}
