//go:build integration
// +build integration

package integration

import (
	"context"
	"strings"
	"testing"

	"github.com/tordrt/syncforge"
	"github.com/tordrt/syncforge/internal/diff"
	"github.com/tordrt/syncforge/internal/generator"
	"github.com/tordrt/syncforge/internal/rowdiff"
)

var sqliteFixture = []string{
	`CREATE TABLE sf_users (
		id INTEGER PRIMARY KEY,
		email VARCHAR(255) NOT NULL,
		name TEXT
	)`,
	`CREATE UNIQUE INDEX sf_users_email_key ON sf_users (email)`,
	`CREATE TABLE sf_orders (
		id INTEGER PRIMARY KEY,
		user_id INTEGER NOT NULL REFERENCES sf_users (id) ON DELETE CASCADE,
		total DECIMAL(10,2),
		note TEXT
	)`,
	`CREATE INDEX sf_orders_user_idx ON sf_orders (user_id)`,
}

var sqliteRows = []string{
	`INSERT INTO sf_users VALUES (1, 'ada@example.com', 'Ada'), (2, 'grace@example.com', NULL), (3, 'linus@example.com', 'Linus')`,
	`INSERT INTO sf_orders VALUES (10, 1, 12.50, 'first order'), (11, 3, 99.99, '` + strings.Repeat("long note ", 20) + `')`,
}

func TestSQLiteExtraction(t *testing.T) {
	path := newSQLiteFile(t, "source.db", sqliteFixture...)
	c := connect(t, "sqlite://"+path, nil)

	s, err := c.Snapshot(context.Background())
	if err != nil {
		t.Fatalf("Failed to extract schema: %v", err)
	}
	if s.Dialect != "sqlite" {
		t.Errorf("Expected dialect sqlite, got %s", s.Dialect)
	}
	verifyFixture(t, s)
}

func TestSQLiteSpecificTables(t *testing.T) {
	path := newSQLiteFile(t, "source.db", sqliteFixture...)
	c := connect(t, "sqlite://"+path, &syncforge.Options{Tables: []string{"sf_users"}})

	s, err := c.Snapshot(context.Background())
	if err != nil {
		t.Fatalf("Failed to extract schema: %v", err)
	}
	if names := s.TableNames(); len(names) != 1 || names[0] != "sf_users" {
		t.Errorf("Expected only sf_users, got %v", names)
	}
}

func TestSQLiteSchemaReplay(t *testing.T) {
	ctx := context.Background()
	sourcePath := newSQLiteFile(t, "source.db", sqliteFixture...)
	// an older shape of the same schema: no name column, no orders, one leftover column
	targetPath := newSQLiteFile(t, "target.db",
		`CREATE TABLE sf_users (id INTEGER PRIMARY KEY, email VARCHAR(255) NOT NULL, legacy TEXT)`,
		`INSERT INTO sf_users VALUES (1, 'ada@example.com', 'x')`,
	)
	source := connect(t, "sqlite://"+sourcePath, nil)
	target := connect(t, "sqlite://"+targetPath, nil)

	srcSnap, tgtSnap, err := syncforge.SnapshotBoth(ctx, source, target)
	if err != nil {
		t.Fatalf("Failed to snapshot: %v", err)
	}
	res := syncforge.DiffSchema(srcSnap, tgtSnap)
	kinds := map[diff.Kind]bool{}
	for _, op := range res.Ops {
		kinds[op.Kind] = true
	}
	for _, k := range []diff.Kind{diff.CreateTable, diff.AddColumn, diff.DropColumn, diff.AddIndex} {
		if !kinds[k] {
			t.Errorf("Expected a %s op", k)
		}
	}

	stmts, err := syncforge.RenderSchema(res, generator.Options{})
	if err != nil {
		t.Fatalf("Failed to render schema: %v", err)
	}
	applyToSQLite(t, targetPath, stmts)

	srcSnap, tgtSnap, err = syncforge.SnapshotBoth(ctx, source, target)
	if err != nil {
		t.Fatalf("Failed to snapshot: %v", err)
	}
	if ops := syncforge.DiffSchema(srcSnap, tgtSnap).Ops; len(ops) != 0 {
		for _, op := range ops {
			t.Errorf("Unexpected op after replay: %s", op.Describe())
		}
	}
}

func TestSQLiteDataReplay(t *testing.T) {
	sourcePath := newSQLiteFile(t, "source.db", append(sqliteFixture, sqliteRows...)...)
	targetPath := newSQLiteFile(t, "target.db", append(sqliteFixture,
		`INSERT INTO sf_users VALUES (1, 'ada@example.com', 'Ada L.'), (4, 'ken@example.com', 'Ken')`,
		`INSERT INTO sf_orders VALUES (12, 4, 5.00, NULL)`,
	)...)
	source := connect(t, "sqlite://"+sourcePath, nil)
	target := connect(t, "sqlite://"+targetPath, nil)

	// a low threshold sends the long note through the large value loader
	opts := rowdiff.Options{LargeValueHashThresholdBytes: 64}

	first := syncData(t, source, target, nil, opts)
	var inserts, updates, deletes int64
	for _, r := range first.Results {
		inserts += r.Stats.Inserts
		updates += r.Stats.Updates
		deletes += r.Stats.Deletes
	}
	if inserts != 4 || updates != 1 || deletes != 2 {
		t.Errorf("Expected 4 inserts, 1 update, 2 deletes, got %d, %d, %d", inserts, updates, deletes)
	}

	// orders must be deleted before the user they reference
	sqls := statementSQL(first.Statements)
	if !strings.HasPrefix(sqls[0], `DELETE FROM "sf_orders"`) {
		t.Errorf("Expected the child delete first, got %v", sqls)
	}
	applyToSQLite(t, targetPath, first.Statements)

	second := syncData(t, source, target, nil, opts)
	if len(second.Statements) != 0 {
		t.Errorf("Expected no data changes after replay, got %v", statementSQL(second.Statements))
	}
}

func TestSQLiteReplicaFromSQLite(t *testing.T) {
	path := newSQLiteFile(t, "source.db", append(sqliteFixture, sqliteRows...)...)
	replicateToSQLite(t, connect(t, "sqlite://"+path, nil))
}
