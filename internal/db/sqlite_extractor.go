package db

import (
	"context"
	"database/sql"
	"fmt"
	"regexp"
	"slices"
	"sort"
	"strings"

	"github.com/tordrt/syncforge/internal/dialect"
	"github.com/tordrt/syncforge/internal/rowdiff"
	"github.com/tordrt/syncforge/internal/schema"
)

var (
	autoIncrementPattern = regexp.MustCompile(`(?i)\bAUTOINCREMENT\b`)
	wherePattern         = regexp.MustCompile(`(?is)\bWHERE\b(.*)$`)
)

// SQLiteExtractor reads SQLite catalogs and table rows
type SQLiteExtractor struct {
	client *SQLiteClient
	filter TableFilter
}

// NewSQLiteExtractor creates a new SQLite adapter
func NewSQLiteExtractor(client *SQLiteClient, filter TableFilter) *SQLiteExtractor {
	return &SQLiteExtractor{
		client: client,
		filter: filter,
	}
}

// Dialect returns dialect.SQLite
func (e *SQLiteExtractor) Dialect() dialect.Dialect {
	return dialect.SQLite
}

// Snapshot captures every selected table of the database
func (e *SQLiteExtractor) Snapshot(ctx context.Context) (*schema.Snapshot, []schema.TableWarning, error) {
	names, err := e.getTableNames(ctx)
	if err != nil {
		return nil, nil, databaseError("get table names", err)
	}
	return captureSnapshot(ctx, dialect.SQLite, e.client.path, e.filter.apply(names), e.extractTable)
}

// getTableNames returns every user table
func (e *SQLiteExtractor) getTableNames(ctx context.Context) ([]string, error) {
	query := `
		SELECT name
		FROM sqlite_master
		WHERE type = 'table' AND name NOT LIKE 'sqlite_%'
		ORDER BY name
	`

	rows, err := e.client.DB().QueryContext(ctx, query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var tableList []string
	for rows.Next() {
		var tableName string
		if err := rows.Scan(&tableName); err != nil {
			return nil, err
		}
		tableList = append(tableList, tableName)
	}

	return tableList, rows.Err()
}

// extractTable extracts all information for a single table
func (e *SQLiteExtractor) extractTable(ctx context.Context, tableName string) (*schema.Table, error) {
	var createSQL sql.NullString
	err := e.client.DB().QueryRowContext(ctx,
		"SELECT sql FROM sqlite_master WHERE type = 'table' AND name = ?", tableName).Scan(&createSQL)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("table %s not found", tableName)
	}
	if err != nil {
		return nil, err
	}

	table := &schema.Table{Name: tableName}

	columns, pk, err := e.extractColumns(ctx, tableName)
	if err != nil {
		return nil, fmt.Errorf("failed to extract columns: %w", err)
	}
	table.Columns = columns
	table.PrimaryKey = pk

	if len(pk) == 1 && autoIncrementPattern.MatchString(createSQL.String) {
		col, _ := table.Column(pk[0])
		col.AutoIncrement = true
	}

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

// extractColumns extracts columns and the primary key in key order
func (e *SQLiteExtractor) extractColumns(ctx context.Context, tableName string) ([]schema.Column, []string, error) {
	query := fmt.Sprintf("PRAGMA table_info(%s)", dialect.SQLite.QuoteIdent(tableName))

	rows, err := e.client.DB().QueryContext(ctx, query)
	if err != nil {
		return nil, nil, err
	}
	defer rows.Close()

	type pkColumn struct {
		name  string
		order int
	}
	var columns []schema.Column
	var pkColumns []pkColumn

	for rows.Next() {
		var cid int
		var name, colType string
		var notNull, pk int
		var defaultValue sql.NullString

		if err := rows.Scan(&cid, &name, &colType, &notNull, &defaultValue, &pk); err != nil {
			return nil, nil, err
		}

		col := schema.Column{
			Name:     name,
			Type:     dialect.ParseType(dialect.SQLite, colType),
			Nullable: notNull == 0 && pk == 0,
			Position: cid + 1,
		}
		if defaultValue.Valid {
			col.Default = &defaultValue.String
		}

		// Track primary key columns
		if pk > 0 {
			pkColumns = append(pkColumns, pkColumn{name: name, order: pk})
		}

		columns = append(columns, col)
	}
	if err := rows.Err(); err != nil {
		return nil, nil, err
	}

	sort.Slice(pkColumns, func(i, j int) bool { return pkColumns[i].order < pkColumns[j].order })
	var pk []string
	for _, c := range pkColumns {
		pk = append(pk, c.name)
	}

	return columns, pk, nil
}

// extractForeignKeys groups foreign_key_list rows by constraint id
func (e *SQLiteExtractor) extractForeignKeys(ctx context.Context, tableName string) ([]schema.ForeignKey, error) {
	query := fmt.Sprintf("PRAGMA foreign_key_list(%s)", dialect.SQLite.QuoteIdent(tableName))

	rows, err := e.client.DB().QueryContext(ctx, query)
	if err != nil {
		return nil, err
	}

	var fks []schema.ForeignKey
	var ids []int
	for rows.Next() {
		var id, seq int
		var targetTable, fromCol, onUpdate, onDelete, match string
		var toCol sql.NullString

		if err := rows.Scan(&id, &seq, &targetTable, &fromCol, &toCol, &onUpdate, &onDelete, &match); err != nil {
			rows.Close()
			return nil, err
		}

		if n := len(fks); n > 0 && ids[n-1] == id {
			fks[n-1].Columns = append(fks[n-1].Columns, fromCol)
			fks[n-1].RefColumns = append(fks[n-1].RefColumns, toCol.String)
			continue
		}
		ids = append(ids, id)
		fks = append(fks, schema.ForeignKey{
			Name:       fmt.Sprintf("fk_%s_%d", tableName, id),
			Columns:    []string{fromCol},
			RefTable:   targetTable,
			RefColumns: []string{toCol.String},
			OnDelete:   referentialAction(onDelete),
			OnUpdate:   referentialAction(onUpdate),
		})
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return nil, err
	}
	rows.Close()

	// REFERENCES parent without a column list targets the parent's key
	for i := range fks {
		if !slices.Contains(fks[i].RefColumns, "") {
			continue
		}
		_, refPK, err := e.extractColumns(ctx, fks[i].RefTable)
		if err != nil {
			return nil, err
		}
		if len(refPK) != len(fks[i].Columns) {
			return nil, schema.Unsupported(tableName, fks[i].Name, "foreign key to %s has no resolvable columns", fks[i].RefTable)
		}
		fks[i].RefColumns = refPK
	}

	return fks, nil
}

// extractIndexes extracts secondary indexes, skipping the primary key's
func (e *SQLiteExtractor) extractIndexes(ctx context.Context, tableName string) ([]schema.Index, error) {
	query := fmt.Sprintf("PRAGMA index_list(%s)", dialect.SQLite.QuoteIdent(tableName))

	rows, err := e.client.DB().QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to extract indexes: %w", err)
	}

	type entry struct {
		name    string
		unique  bool
		origin  string
		partial bool
	}
	var entries []entry
	for rows.Next() {
		var seq, unique, partial int
		var name, origin string

		if err := rows.Scan(&seq, &name, &unique, &origin, &partial); err != nil {
			rows.Close()
			return nil, fmt.Errorf("failed to extract indexes: %w", err)
		}
		if origin == "pk" {
			continue
		}
		entries = append(entries, entry{name: name, unique: unique == 1, origin: origin, partial: partial == 1})
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return nil, fmt.Errorf("failed to extract indexes: %w", err)
	}
	rows.Close()

	var indexes []schema.Index
	for _, ent := range entries {
		columns, err := e.indexColumns(ctx, tableName, ent.name)
		if err != nil {
			return nil, err
		}

		idx := schema.Index{
			Name:       ent.name,
			Unique:     ent.unique,
			Columns:    columns,
			Constraint: ent.origin == "u",
		}
		if ent.partial {
			pred, err := e.indexPredicate(ctx, ent.name)
			if err != nil {
				return nil, err
			}
			idx.Predicate = pred
		}
		indexes = append(indexes, idx)
	}

	sort.Slice(indexes, func(i, j int) bool { return indexes[i].Name < indexes[j].Name })
	return indexes, nil
}

func (e *SQLiteExtractor) indexColumns(ctx context.Context, tableName, indexName string) ([]string, error) {
	query := fmt.Sprintf("PRAGMA index_info(%s)", dialect.SQLite.QuoteIdent(indexName))
	rows, err := e.client.DB().QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to extract indexes: %w", err)
	}
	defer rows.Close()

	var columns []string
	for rows.Next() {
		var seqno, cid int
		var colName sql.NullString

		if err := rows.Scan(&seqno, &cid, &colName); err != nil {
			return nil, fmt.Errorf("failed to extract indexes: %w", err)
		}
		if !colName.Valid {
			return nil, schema.Unsupported(tableName, indexName, "expression index")
		}
		columns = append(columns, colName.String)
	}

	return columns, rows.Err()
}

func (e *SQLiteExtractor) indexPredicate(ctx context.Context, indexName string) (string, error) {
	var createSQL sql.NullString
	err := e.client.DB().QueryRowContext(ctx,
		"SELECT sql FROM sqlite_master WHERE type = 'index' AND name = ?", indexName).Scan(&createSQL)
	if err != nil {
		return "", fmt.Errorf("failed to read index %s: %w", indexName, err)
	}
	m := wherePattern.FindStringSubmatch(createSQL.String)
	if m == nil {
		return "", nil
	}
	return strings.TrimSpace(m[1]), nil
}

// OpenCursor scans a table in primary key order
func (e *SQLiteExtractor) OpenCursor(ctx context.Context, table *schema.Table) (rowdiff.Cursor, error) {
	return querySQLCursor(ctx, e.client.DB(), dialect.SQLite, dialect.SQLite.QuoteIdent(table.Name), table)
}

// LoadValue fetches one column of one row
func (e *SQLiteExtractor) LoadValue(ctx context.Context, table *schema.Table, column string, key []rowdiff.ColumnValue) (any, error) {
	return loadSQLValue(ctx, e.client.DB(), dialect.SQLite, dialect.SQLite.QuoteIdent(table.Name), table, column, key)
}
