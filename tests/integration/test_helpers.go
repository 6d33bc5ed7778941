//go:build integration
// +build integration

package integration

import (
	"context"
	"database/sql"
	"path/filepath"
	"slices"
	"testing"

	"github.com/tordrt/syncforge"
	"github.com/tordrt/syncforge/internal/db"
	"github.com/tordrt/syncforge/internal/diff"
	"github.com/tordrt/syncforge/internal/generator"
	"github.com/tordrt/syncforge/internal/rowdiff"
	"github.com/tordrt/syncforge/internal/schema"
)

// fixtureTables are created by every live-database test and dropped afterwards
var fixtureTables = []string{"sf_orders", "sf_users"}

// verifyTablesExist checks that all expected tables are present in the snapshot
func verifyTablesExist(t *testing.T, s *schema.Snapshot, expectedTables []string) {
	t.Helper()

	for _, tableName := range expectedTables {
		if _, ok := s.Table(tableName); !ok {
			t.Errorf("Expected table %s not found in snapshot (have %v)", tableName, s.TableNames())
		}
	}
}

// verifyColumns checks that expected columns exist in a table, in order
func verifyColumns(t *testing.T, table *schema.Table, expectedColumns []string) {
	t.Helper()

	if got := table.ColumnNames(); !slices.Equal(got, expectedColumns) {
		t.Errorf("Expected columns %v in %s table, got %v", expectedColumns, table.Name, got)
	}
}

// verifyPrimaryKey checks that a table has the expected primary key
func verifyPrimaryKey(t *testing.T, table *schema.Table, expectedPK []string) {
	t.Helper()

	if !slices.Equal(table.PrimaryKey, expectedPK) {
		t.Errorf("Expected primary key %v, got %v", expectedPK, table.PrimaryKey)
	}
}

// verifyForeignKey checks that a foreign key from sourceColumn to targetTable exists
func verifyForeignKey(t *testing.T, table *schema.Table, sourceColumn, targetTable string) {
	t.Helper()

	for _, fk := range table.ForeignKeys {
		if fk.RefTable == targetTable && slices.Equal(fk.Columns, []string{sourceColumn}) {
			return
		}
	}
	t.Errorf("Expected foreign key from %s.%s to %s not found", table.Name, sourceColumn, targetTable)
}

// verifyUniqueIndex checks that a unique index covers exactly the given columns
func verifyUniqueIndex(t *testing.T, table *schema.Table, columns []string) {
	t.Helper()

	for _, idx := range table.Indexes {
		if idx.Unique && slices.Equal(idx.Columns, columns) {
			return
		}
	}
	t.Errorf("Expected unique index on %s%v not found", table.Name, columns)
}

// verifyCategory checks a column's normalized type family
func verifyCategory(t *testing.T, table *schema.Table, column string, want schema.Category) {
	t.Helper()

	col, ok := table.Column(column)
	if !ok {
		t.Errorf("Column %s not found in table %s", column, table.Name)
		return
	}
	if col.Type.Category != want {
		t.Errorf("Expected %s.%s to be %s, got %s", table.Name, column, want, col.Type.Category)
	}
}

// verifyFixture checks the shape every dialect's fixture must normalize to
func verifyFixture(t *testing.T, s *schema.Snapshot) {
	t.Helper()

	verifyTablesExist(t, s, fixtureTables)

	users, ok := s.Table("sf_users")
	if !ok {
		t.Fatal("sf_users table not found")
	}
	verifyPrimaryKey(t, users, []string{"id"})
	verifyColumns(t, users, []string{"id", "email", "name"})
	verifyUniqueIndex(t, users, []string{"email"})
	verifyCategory(t, users, "id", schema.CategoryInteger)
	verifyCategory(t, users, "email", schema.CategoryVarchar)

	orders, ok := s.Table("sf_orders")
	if !ok {
		t.Fatal("sf_orders table not found")
	}
	verifyPrimaryKey(t, orders, []string{"id"})
	verifyColumns(t, orders, []string{"id", "user_id", "total", "note"})
	verifyForeignKey(t, orders, "user_id", "sf_users")
	verifyCategory(t, orders, "total", schema.CategoryDecimal)
}

// newSQLiteFile returns the path of a fresh database file holding stmts
func newSQLiteFile(t *testing.T, name string, stmts ...string) string {
	t.Helper()

	path := filepath.Join(t.TempDir(), name)
	client, err := db.NewSQLiteClient(context.Background(), path)
	if err != nil {
		t.Fatalf("Failed to create SQLite database: %v", err)
	}
	defer client.Close()

	execAll(t, client.DB(), stmts)
	return path
}

// execAll runs statements in order on one connection so that session
// settings such as PRAGMA foreign_keys carry over
func execAll(t *testing.T, database *sql.DB, stmts []string) {
	t.Helper()

	ctx := context.Background()
	conn, err := database.Conn(ctx)
	if err != nil {
		t.Fatalf("Failed to get connection: %v", err)
	}
	defer conn.Close()

	for _, stmt := range stmts {
		if _, err := conn.ExecContext(ctx, stmt); err != nil {
			t.Fatalf("Failed to execute %q: %v", stmt, err)
		}
	}
}

func statementSQL(stmts []generator.Statement) []string {
	out := make([]string, len(stmts))
	for i, s := range stmts {
		out[i] = s.SQL
	}
	return out
}

// applyToSQLite executes generated statements against a SQLite file
func applyToSQLite(t *testing.T, path string, stmts []generator.Statement) {
	t.Helper()

	client, err := db.NewSQLiteClient(context.Background(), path)
	if err != nil {
		t.Fatalf("Failed to connect to SQLite: %v", err)
	}
	defer client.Close()

	execAll(t, client.DB(), statementSQL(stmts))
}

func connect(t *testing.T, url string, opts *syncforge.Options) *syncforge.Conn {
	t.Helper()

	c, err := syncforge.Connect(context.Background(), url, opts)
	if err != nil {
		t.Fatalf("Failed to connect to %s: %v", url, err)
	}
	t.Cleanup(func() { _ = c.Close() })
	return c
}

// syncData snapshots both sides and returns the data statements for tables
func syncData(t *testing.T, source, target *syncforge.Conn, tables []string, opts rowdiff.Options) *syncforge.DataSync {
	t.Helper()

	ctx := context.Background()
	srcSnap, tgtSnap, err := syncforge.SnapshotBoth(ctx, source, target)
	if err != nil {
		t.Fatalf("Failed to snapshot: %v", err)
	}
	out, err := syncforge.SyncData(ctx, source, target, srcSnap, tgtSnap, tables, opts, generator.Options{})
	if err != nil {
		t.Fatalf("Failed to sync data: %v", err)
	}
	return out
}

// replicateToSQLite copies the fixture schema and rows of source into a new
// SQLite file and checks that a second pass finds nothing left to do
func replicateToSQLite(t *testing.T, source *syncforge.Conn) {
	t.Helper()
	ctx := context.Background()

	path := newSQLiteFile(t, "replica.db")
	target := connect(t, "sqlite://"+path, nil)

	srcSnap, tgtSnap, err := syncforge.SnapshotBoth(ctx, source, target)
	if err != nil {
		t.Fatalf("Failed to snapshot: %v", err)
	}
	stmts, err := syncforge.RenderSchema(syncforge.DiffSchema(srcSnap, tgtSnap), generator.Options{})
	if err != nil {
		t.Fatalf("Failed to render schema: %v", err)
	}
	applyToSQLite(t, path, stmts)

	srcSnap, tgtSnap, err = syncforge.SnapshotBoth(ctx, source, target)
	if err != nil {
		t.Fatalf("Failed to snapshot: %v", err)
	}
	for _, op := range syncforge.DiffSchema(srcSnap, tgtSnap).Ops {
		switch op.Kind {
		case diff.CreateTable, diff.AddColumn, diff.DropColumn, diff.AddForeignKey:
			t.Errorf("Structural change left after replay: %s", op.Describe())
		}
	}

	first := syncData(t, source, target, fixtureTables, rowdiff.Options{})
	applyToSQLite(t, path, first.Statements)

	second := syncData(t, source, target, fixtureTables, rowdiff.Options{})
	if len(second.Statements) != 0 {
		t.Errorf("Expected no data changes after replay, got %v", statementSQL(second.Statements))
	}
}
