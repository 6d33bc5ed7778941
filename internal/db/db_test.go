package db

import (
	"context"
	"errors"
	"fmt"
	"io"
	"path/filepath"
	"testing"

	"github.com/go-sql-driver/mysql"
	"github.com/jackc/pgx/v5/pgconn"
	mssql "github.com/microsoft/go-mssqldb"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tordrt/syncforge/internal/dialect"
	"github.com/tordrt/syncforge/internal/rowdiff"
	"github.com/tordrt/syncforge/internal/schema"
)

func openSQLite(t *testing.T, ddl ...string) *SQLiteClient {
	t.Helper()
	ctx := context.Background()
	client, err := NewSQLiteClient(ctx, filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Skipf("sqlite driver unavailable: %v", err)
	}
	t.Cleanup(func() { _ = client.Close() })

	for _, stmt := range ddl {
		_, err := client.DB().ExecContext(ctx, stmt)
		require.NoError(t, err, stmt)
	}
	return client
}

func TestTableFilter(t *testing.T) {
	all := []string{"users", "posts", "comments"}
	tests := []struct {
		name   string
		filter TableFilter
		want   []string
	}{
		{"no filter", TableFilter{}, all},
		{"exclude single table", TableFilter{Exclude: []string{"posts"}}, []string{"users", "comments"}},
		{"exclude non-existent table", TableFilter{Exclude: []string{"products"}}, all},
		{"exclude all tables", TableFilter{Exclude: all}, []string{}},
		{"include then exclude", TableFilter{Include: []string{"users", "posts"}, Exclude: []string{"posts"}}, []string{"users"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.filter.apply(all))
		})
	}
}

func TestSQLiteSnapshot(t *testing.T) {
	client := openSQLite(t,
		`CREATE TABLE users (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			email VARCHAR(255) NOT NULL UNIQUE,
			name TEXT,
			score DECIMAL(10,2) DEFAULT 0
		)`,
		`CREATE TABLE orders (
			id INTEGER PRIMARY KEY,
			user_id INTEGER NOT NULL REFERENCES users ON DELETE CASCADE,
			total REAL
		)`,
		`CREATE INDEX idx_orders_user ON orders(user_id) WHERE total > 0`,
		`CREATE TABLE docs (id INTEGER PRIMARY KEY, body TEXT)`,
		`CREATE INDEX idx_docs_lower ON docs(lower(body))`,
	)

	snap, warnings, err := NewSQLiteExtractor(client, TableFilter{}).Snapshot(context.Background())
	require.NoError(t, err)

	assert.Equal(t, "sqlite", snap.Dialect)
	assert.Equal(t, []string{"orders", "users"}, snap.TableNames())
	assert.Equal(t, []string{"docs"}, snap.Skipped)
	require.Len(t, warnings, 1)
	assert.ErrorIs(t, warnings[0].Err, schema.ErrUnsupportedFeature)
	assert.Equal(t, "idx_docs_lower", warnings[0].Err.Construct)

	users, _ := snap.Table("users")
	assert.Equal(t, []string{"id"}, users.PrimaryKey)
	id, _ := users.Column("id")
	assert.True(t, id.AutoIncrement)
	assert.False(t, id.Nullable)
	email, _ := users.Column("email")
	assert.Equal(t, schema.CategoryVarchar, email.Type.Category)
	assert.Equal(t, 255, email.Type.Length)
	assert.False(t, email.Nullable)
	score, _ := users.Column("score")
	assert.Equal(t, schema.CategoryDecimal, score.Type.Category)
	require.NotNil(t, score.Default)
	assert.Equal(t, "0", *score.Default)

	require.Len(t, users.Indexes, 1)
	assert.True(t, users.Indexes[0].Unique)
	assert.True(t, users.Indexes[0].Constraint)
	assert.Equal(t, []string{"email"}, users.Indexes[0].Columns)

	orders, _ := snap.Table("orders")
	require.Len(t, orders.ForeignKeys, 1)
	fk := orders.ForeignKeys[0]
	assert.Equal(t, []string{"user_id"}, fk.Columns)
	assert.Equal(t, "users", fk.RefTable)
	assert.Equal(t, []string{"id"}, fk.RefColumns)
	assert.Equal(t, "CASCADE", fk.OnDelete)
	assert.Empty(t, fk.OnUpdate)

	require.Len(t, orders.Indexes, 1)
	assert.Equal(t, "idx_orders_user", orders.Indexes[0].Name)
	assert.Equal(t, "total > 0", orders.Indexes[0].Predicate)
}

func TestSQLiteSnapshotFilter(t *testing.T) {
	client := openSQLite(t,
		`CREATE TABLE a (id INTEGER PRIMARY KEY)`,
		`CREATE TABLE b (id INTEGER PRIMARY KEY)`,
		`CREATE TABLE c (id INTEGER PRIMARY KEY)`,
	)

	snap, _, err := NewSQLiteExtractor(client, TableFilter{Exclude: []string{"b"}}).Snapshot(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "c"}, snap.TableNames())

	snap, _, err = NewSQLiteExtractor(client, TableFilter{Include: []string{"b", "c"}, Exclude: []string{"c"}}).Snapshot(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{"b"}, snap.TableNames())
}

func TestSQLiteCursorOrder(t *testing.T) {
	client := openSQLite(t,
		`CREATE TABLE tags (code TEXT PRIMARY KEY, label TEXT, payload BLOB)`,
		`INSERT INTO tags VALUES ('b', 'second', X'01'), ('B', 'upper', NULL), ('a', 'first', X'0203')`,
	)
	ctx := context.Background()
	ext := NewSQLiteExtractor(client, TableFilter{})
	snap, _, err := ext.Snapshot(ctx)
	require.NoError(t, err)
	table, ok := snap.Table("tags")
	require.True(t, ok)

	cur, err := ext.OpenCursor(ctx, table)
	require.NoError(t, err)
	defer cur.Close()

	var keys []any
	for {
		row, err := cur.Next(ctx)
		if errors.Is(err, io.EOF) {
			break
		}
		require.NoError(t, err)
		keys = append(keys, row[0])
	}
	// binary collation puts upper case first
	assert.Equal(t, []any{"B", "a", "b"}, keys)

	v, err := ext.LoadValue(ctx, table, "payload", []rowdiff.ColumnValue{{Column: "code", Value: "a"}})
	require.NoError(t, err)
	assert.Equal(t, []byte{0x02, 0x03}, v)
}

func TestCursorRejectsKeylessTable(t *testing.T) {
	client := openSQLite(t, `CREATE TABLE logs (msg TEXT)`)
	table := &schema.Table{Name: "logs", Columns: []schema.Column{{Name: "msg", Type: schema.ColumnType{Category: schema.CategoryText}}}}
	_, err := NewSQLiteExtractor(client, TableFilter{}).OpenCursor(context.Background(), table)
	assert.ErrorIs(t, err, rowdiff.ErrNoPrimaryKey)
}

func TestSelectQuery(t *testing.T) {
	table := &schema.Table{
		Name: "items",
		Columns: []schema.Column{
			{Name: "sku", Type: schema.ColumnType{Category: schema.CategoryVarchar, Length: 20}},
			{Name: "price", Type: schema.ColumnType{Category: schema.CategoryDecimal, Precision: 10, Scale: 2}},
			{Name: "ref", Type: schema.ColumnType{Category: schema.CategoryUUID}},
		},
		PrimaryKey: []string{"sku"},
	}

	tests := []struct {
		d    dialect.Dialect
		want string
	}{
		{dialect.PostgreSQL, `SELECT "sku", "price"::text, "ref" FROM t ORDER BY "sku" COLLATE "C"`},
		{dialect.MySQL, "SELECT `sku`, `price`, `ref` FROM t ORDER BY CAST(`sku` AS BINARY)"},
		{dialect.SQLite, `SELECT "sku", "price", "ref" FROM t ORDER BY "sku" COLLATE BINARY`},
		{dialect.SQLServer, "SELECT [sku], [price], CONVERT(NVARCHAR(36), [ref]) AS [ref] FROM t ORDER BY [sku] COLLATE Latin1_General_BIN2"},
	}
	for _, tt := range tests {
		t.Run(tt.d.String(), func(t *testing.T) {
			assert.Equal(t, tt.want, selectQuery(tt.d, "t", table))
		})
	}
}

func TestLoadValueQuery(t *testing.T) {
	table := &schema.Table{
		Name: "lines",
		Columns: []schema.Column{
			{Name: "order_id", Type: schema.ColumnType{Category: schema.CategoryInteger, Size: 8}},
			{Name: "line", Type: schema.ColumnType{Category: schema.CategoryInteger, Size: 4}},
			{Name: "note", Type: schema.ColumnType{Category: schema.CategoryText}},
		},
		PrimaryKey: []string{"order_id", "line"},
	}
	key := []rowdiff.ColumnValue{{Column: "order_id", Value: int64(7)}, {Column: "line", Value: int64(2)}}

	query, args, err := loadValueQuery(dialect.SQLServer, "[dbo].[lines]", table, "note", key)
	require.NoError(t, err)
	assert.Equal(t, "SELECT [note] FROM [dbo].[lines] WHERE [order_id] = @p1 AND [line] = @p2", query)
	assert.Equal(t, []any{int64(7), int64(2)}, args)

	_, _, err = loadValueQuery(dialect.PostgreSQL, "lines", table, "missing", key)
	assert.Error(t, err)
	_, _, err = loadValueQuery(dialect.PostgreSQL, "lines", table, "note", key[:1])
	assert.Error(t, err)
}

type timeoutError struct{}

func (timeoutError) Error() string   { return "i/o timeout" }
func (timeoutError) Timeout() bool   { return true }
func (timeoutError) Temporary() bool { return true }

func TestClassifyError(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want schema.ErrorCategory
	}{
		{"postgres privilege", &pgconn.PgError{Code: "42501"}, schema.PermissionDenied},
		{"postgres connection", &pgconn.PgError{Code: "08006"}, schema.ConnectionLost},
		{"postgres other", &pgconn.PgError{Code: "42P01"}, schema.UnsupportedFeature},
		{"mysql table access", &mysql.MySQLError{Number: 1142}, schema.PermissionDenied},
		{"mysql bad conn", mysql.ErrInvalidConn, schema.ConnectionLost},
		{"sqlserver permission", mssql.Error{Number: 229}, schema.PermissionDenied},
		{"eof", fmt.Errorf("read: %w", io.ErrUnexpectedEOF), schema.ConnectionLost},
		{"net timeout", timeoutError{}, schema.ConnectionLost},
		{"unknown", errors.New("boom"), schema.UnsupportedFeature},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			me := classifyError("users", tt.err)
			assert.Equal(t, tt.want, me.Category)
			assert.Equal(t, "users", me.Table)
			assert.Equal(t, tt.err, me.Err)
		})
	}

	existing := schema.Unsupported("", "idx", "gist")
	me := classifyError("docs", fmt.Errorf("wrapped: %w", existing))
	assert.Same(t, existing, me)
	assert.Equal(t, "docs", me.Table)
}

func TestSQLServerTypeString(t *testing.T) {
	tests := []struct {
		name                        string
		maxLength, precision, scale int
		want                        string
	}{
		{"nvarchar", 200, 0, 0, "nvarchar(100)"},
		{"nvarchar", -1, 0, 0, "nvarchar(max)"},
		{"varbinary", 16, 0, 0, "varbinary(16)"},
		{"decimal", 9, 18, 4, "decimal(18,4)"},
		{"datetime2", 8, 27, 7, "datetime2(7)"},
		{"int", 4, 10, 0, "int"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, sqlServerTypeString(tt.name, tt.maxLength, tt.precision, tt.scale))
	}
}

func TestStripParens(t *testing.T) {
	assert.Equal(t, "0", stripParens("((0))"))
	assert.Equal(t, "'a(b'", stripParens("('a(b')"))
	assert.Equal(t, "getdate()", stripParens("(getdate())"))
	assert.Equal(t, "(1)+(2)", stripParens("((1)+(2))"))
}

func TestNormalizeValue(t *testing.T) {
	text := schema.ColumnType{Category: schema.CategoryText}
	blob := schema.ColumnType{Category: schema.CategoryBlob}
	id := schema.ColumnType{Category: schema.CategoryUUID}

	assert.Equal(t, "abc", normalizeValue(text, []byte("abc")))
	assert.Equal(t, []byte("abc"), normalizeValue(blob, []byte("abc")))
	assert.Equal(t, "00010203-0405-0607-0809-0a0b0c0d0e0f",
		normalizeValue(id, [16]byte{0, 1, 2, 3, 4, 5, 6, 7, 8, 9, 10, 11, 12, 13, 14, 15}))
	assert.Nil(t, normalizeValue(text, nil))
}
