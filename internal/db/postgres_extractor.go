package db

import (
	"context"
	"fmt"
	"strings"

	"github.com/tordrt/syncforge/internal/dialect"
	"github.com/tordrt/syncforge/internal/rowdiff"
	"github.com/tordrt/syncforge/internal/schema"
)

// PostgresExtractor reads PostgreSQL catalogs and table rows
type PostgresExtractor struct {
	client *PostgresClient
	schema string
	filter TableFilter
}

// NewPostgresExtractor creates a new PostgreSQL adapter for one schema
func NewPostgresExtractor(client *PostgresClient, schemaName string, filter TableFilter) *PostgresExtractor {
	if schemaName == "" {
		schemaName = "public"
	}
	return &PostgresExtractor{
		client: client,
		schema: schemaName,
		filter: filter,
	}
}

// Dialect returns dialect.PostgreSQL
func (e *PostgresExtractor) Dialect() dialect.Dialect {
	return dialect.PostgreSQL
}

// Snapshot captures every selected table of the schema
func (e *PostgresExtractor) Snapshot(ctx context.Context) (*schema.Snapshot, []schema.TableWarning, error) {
	var database string
	if err := e.client.Pool().QueryRow(ctx, "SELECT current_database()").Scan(&database); err != nil {
		return nil, nil, databaseError("read database name", err)
	}

	names, err := e.getTableNames(ctx)
	if err != nil {
		return nil, nil, databaseError("get table names", err)
	}

	return captureSnapshot(ctx, dialect.PostgreSQL, database, e.filter.apply(names), e.extractTable)
}

// getTableNames returns every base table in the schema
func (e *PostgresExtractor) getTableNames(ctx context.Context) ([]string, error) {
	query := `
		SELECT table_name
		FROM information_schema.tables
		WHERE table_schema = $1 AND table_type = 'BASE TABLE'
		ORDER BY table_name
	`

	rows, err := e.client.Pool().Query(ctx, query, e.schema)
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
func (e *PostgresExtractor) extractTable(ctx context.Context, tableName string) (*schema.Table, error) {
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

// extractColumns extracts column information for a table
func (e *PostgresExtractor) extractColumns(ctx context.Context, tableName string) ([]schema.Column, error) {
	query := `
		SELECT
			a.attname::text,
			format_type(a.atttypid, a.atttypmod),
			NOT a.attnotnull,
			pg_get_expr(d.adbin, d.adrelid),
			a.attnum::int,
			a.attidentity <> '' OR COALESCE(pg_get_expr(d.adbin, d.adrelid), '') LIKE 'nextval(%',
			t.typtype = 'e',
			t.typname::text
		FROM pg_attribute a
		JOIN pg_class c ON c.oid = a.attrelid
		JOIN pg_namespace n ON n.oid = c.relnamespace
		JOIN pg_type t ON t.oid = a.atttypid
		LEFT JOIN pg_attrdef d ON d.adrelid = a.attrelid AND d.adnum = a.attnum
		WHERE n.nspname = $1 AND c.relname = $2 AND a.attnum > 0 AND NOT a.attisdropped
		ORDER BY a.attnum
	`

	rows, err := e.client.Pool().Query(ctx, query, e.schema, tableName)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var columns []schema.Column
	enumColumns := make(map[int]string)

	// First pass: collect all columns and enum type names
	for rows.Next() {
		var col schema.Column
		var rawType, typName string
		var isEnum bool

		if err := rows.Scan(&col.Name, &rawType, &col.Nullable, &col.Default, &col.Position, &col.AutoIncrement, &isEnum, &typName); err != nil {
			return nil, err
		}

		col.Type = dialect.ParseType(dialect.PostgreSQL, rawType)
		if col.AutoIncrement && col.Default != nil && strings.HasPrefix(*col.Default, "nextval(") {
			// sequence defaults are rendered through AutoIncrement
			col.Default = nil
		}
		if isEnum {
			col.Type.Category = schema.CategoryEnum
			enumColumns[len(columns)] = typName
		}

		columns = append(columns, col)
	}

	if err := rows.Err(); err != nil {
		return nil, err
	}

	// Second pass: fetch enum values for all USER-DEFINED types
	if len(enumColumns) > 0 {
		typeNames := make([]string, 0, len(enumColumns))
		for _, name := range enumColumns {
			typeNames = append(typeNames, name)
		}
		enumValuesMap, err := e.extractEnumValuesMap(ctx, typeNames)
		if err != nil {
			return nil, err
		}
		for i, name := range enumColumns {
			columns[i].Type.Values = enumValuesMap[name]
		}
	}

	return columns, nil
}

// extractEnumValuesMap extracts enum values for multiple enum types at once
func (e *PostgresExtractor) extractEnumValuesMap(ctx context.Context, enumTypeNames []string) (map[string][]string, error) {
	query := `
		SELECT t.typname::text, e.enumlabel::text
		FROM pg_type t
		JOIN pg_enum e ON t.oid = e.enumtypid
		WHERE t.typname = ANY($1)
		ORDER BY t.typname, e.enumsortorder
	`

	rows, err := e.client.Pool().Query(ctx, query, enumTypeNames)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	result := make(map[string][]string)
	for rows.Next() {
		var typName, enumLabel string
		if err := rows.Scan(&typName, &enumLabel); err != nil {
			return nil, err
		}
		result[typName] = append(result[typName], enumLabel)
	}

	return result, rows.Err()
}

// extractPrimaryKey extracts primary key columns in key order
func (e *PostgresExtractor) extractPrimaryKey(ctx context.Context, tableName string) ([]string, error) {
	query := `
		SELECT column_name
		FROM information_schema.key_column_usage
		WHERE table_schema = $1
			AND table_name = $2
			AND constraint_name IN (
				SELECT constraint_name
				FROM information_schema.table_constraints
				WHERE table_schema = $1
					AND table_name = $2
					AND constraint_type = 'PRIMARY KEY'
			)
		ORDER BY ordinal_position
	`

	rows, err := e.client.Pool().Query(ctx, query, e.schema, tableName)
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

// extractForeignKeys reads foreign keys with their column pairs in order
func (e *PostgresExtractor) extractForeignKeys(ctx context.Context, tableName string) ([]schema.ForeignKey, error) {
	query := `
		SELECT
			con.conname::text,
			rc.relname::text,
			a.attname::text,
			ra.attname::text,
			con.confdeltype::text,
			con.confupdtype::text
		FROM pg_constraint con
		JOIN pg_class c ON c.oid = con.conrelid
		JOIN pg_namespace n ON n.oid = c.relnamespace
		JOIN pg_class rc ON rc.oid = con.confrelid
		CROSS JOIN LATERAL unnest(con.conkey, con.confkey) WITH ORDINALITY AS k(attnum, refattnum, ord)
		JOIN pg_attribute a ON a.attrelid = con.conrelid AND a.attnum = k.attnum
		JOIN pg_attribute ra ON ra.attrelid = con.confrelid AND ra.attnum = k.refattnum
		WHERE con.contype = 'f' AND n.nspname = $1 AND c.relname = $2
		ORDER BY con.conname, k.ord
	`

	rows, err := e.client.Pool().Query(ctx, query, e.schema, tableName)
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
			OnDelete:   postgresAction(onDelete),
			OnUpdate:   postgresAction(onUpdate),
		})
	}

	return fks, rows.Err()
}

// postgresAction decodes pg_constraint referential action codes
func postgresAction(code string) string {
	switch code {
	case "r":
		return "RESTRICT"
	case "c":
		return "CASCADE"
	case "n":
		return "SET NULL"
	case "d":
		return "SET DEFAULT"
	default:
		return ""
	}
}

// extractIndexes extracts secondary indexes. Expression indexes and access
// methods other than btree and hash cannot be normalized.
func (e *PostgresExtractor) extractIndexes(ctx context.Context, tableName string) ([]schema.Index, error) {
	query := `
		SELECT
			i.relname::text,
			ix.indisunique,
			am.amname::text,
			ix.indexprs IS NOT NULL,
			COALESCE(pg_get_expr(ix.indpred, ix.indrelid), ''),
			EXISTS (
				SELECT 1 FROM pg_constraint con
				WHERE con.conindid = ix.indexrelid AND con.contype = 'u'
			),
			ARRAY(
				SELECT a.attname::text
				FROM unnest(ix.indkey::int2[]) WITH ORDINALITY AS k(attnum, ord)
				JOIN pg_attribute a ON a.attrelid = ix.indrelid AND a.attnum = k.attnum
				WHERE k.ord <= ix.indnkeyatts
				ORDER BY k.ord
			)
		FROM pg_index ix
		JOIN pg_class t ON t.oid = ix.indrelid
		JOIN pg_class i ON i.oid = ix.indexrelid
		JOIN pg_am am ON am.oid = i.relam
		JOIN pg_namespace n ON n.oid = t.relnamespace
		WHERE n.nspname = $1
			AND t.relname = $2
			AND NOT ix.indisprimary
		ORDER BY i.relname
	`

	rows, err := e.client.Pool().Query(ctx, query, e.schema, tableName)
	if err != nil {
		return nil, fmt.Errorf("failed to extract indexes: %w", err)
	}
	defer rows.Close()

	var indexes []schema.Index
	for rows.Next() {
		var idx schema.Index
		var method string
		var expression bool
		if err := rows.Scan(&idx.Name, &idx.Unique, &method, &expression, &idx.Predicate, &idx.Constraint, &idx.Columns); err != nil {
			return nil, fmt.Errorf("failed to extract indexes: %w", err)
		}

		if expression {
			return nil, schema.Unsupported(tableName, idx.Name, "expression index")
		}
		if method != "btree" && method != "hash" {
			return nil, schema.Unsupported(tableName, idx.Name, "index method %s", method)
		}
		indexes = append(indexes, idx)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to extract indexes: %w", err)
	}
	return indexes, nil
}

func (e *PostgresExtractor) qualified(table string) string {
	return dialect.PostgreSQL.QuoteIdent(e.schema) + "." + dialect.PostgreSQL.QuoteIdent(table)
}

// OpenCursor scans a table in primary key order
func (e *PostgresExtractor) OpenCursor(ctx context.Context, table *schema.Table) (rowdiff.Cursor, error) {
	return queryPgCursor(ctx, e.client.Pool(), e.qualified(table.Name), table)
}

// LoadValue fetches one column of one row
func (e *PostgresExtractor) LoadValue(ctx context.Context, table *schema.Table, column string, key []rowdiff.ColumnValue) (any, error) {
	return loadPgValue(ctx, e.client.Pool(), e.qualified(table.Name), table, column, key)
}
