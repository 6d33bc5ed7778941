package generator

import (
	"context"
	"errors"
	"math"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tordrt/syncforge/internal/dialect"
	"github.com/tordrt/syncforge/internal/diff"
	"github.com/tordrt/syncforge/internal/rowdiff"
	"github.com/tordrt/syncforge/internal/schema"
)

func intType(size int) schema.ColumnType {
	return schema.ColumnType{Category: schema.CategoryInteger, Size: size}
}

func varchar(n int) schema.ColumnType {
	return schema.ColumnType{Category: schema.CategoryVarchar, Length: n}
}

func usersTable() *schema.Table {
	return &schema.Table{
		Name: "users",
		Columns: []schema.Column{
			{Name: "id", Type: intType(4), Position: 1, AutoIncrement: true},
			{Name: "email", Type: varchar(255), Position: 2},
			{Name: "name", Type: varchar(100), Nullable: true, Position: 3},
		},
		PrimaryKey: []string{"id"},
		Indexes:    []schema.Index{{Name: "users_email_key", Columns: []string{"email"}, Unique: true, Constraint: true}},
	}
}

func ordersTable() *schema.Table {
	return &schema.Table{
		Name: "orders",
		Columns: []schema.Column{
			{Name: "id", Type: intType(8), Position: 1},
			{Name: "user_id", Type: intType(4), Position: 2},
		},
		PrimaryKey: []string{"id"},
		ForeignKeys: []schema.ForeignKey{{
			Name:       "orders_user_id_fkey",
			Columns:    []string{"user_id"},
			RefTable:   "users",
			RefColumns: []string{"id"},
			OnDelete:   "CASCADE",
		}},
	}
}

func sqls(stmts []Statement) []string {
	out := make([]string, len(stmts))
	for i, s := range stmts {
		out[i] = s.SQL
	}
	return out
}

func TestCreateTablePerDialect(t *testing.T) {
	op := diff.ChangeOp{Kind: diff.CreateTable, Table: "users", From: dialect.PostgreSQL, Definition: usersTable()}

	tests := []struct {
		target dialect.Dialect
		want   []string
	}{
		{dialect.PostgreSQL, []string{
			"CREATE TABLE \"users\" (\n" +
				"  \"id\" INTEGER GENERATED BY DEFAULT AS IDENTITY NOT NULL,\n" +
				"  \"email\" VARCHAR(255) NOT NULL,\n" +
				"  \"name\" VARCHAR(100),\n" +
				"  PRIMARY KEY (\"id\")\n)",
			`CREATE UNIQUE INDEX "users_email_key" ON "users" ("email")`,
		}},
		{dialect.MySQL, []string{
			"CREATE TABLE `users` (\n" +
				"  `id` INT NOT NULL AUTO_INCREMENT,\n" +
				"  `email` VARCHAR(255) NOT NULL,\n" +
				"  `name` VARCHAR(100),\n" +
				"  PRIMARY KEY (`id`)\n)",
			"CREATE UNIQUE INDEX `users_email_key` ON `users` (`email`)",
		}},
		{dialect.SQLite, []string{
			"CREATE TABLE \"users\" (\n" +
				"  \"id\" INTEGER PRIMARY KEY AUTOINCREMENT NOT NULL,\n" +
				"  \"email\" VARCHAR(255) NOT NULL,\n" +
				"  \"name\" VARCHAR(100)\n)",
			`CREATE UNIQUE INDEX "users_email_key" ON "users" ("email")`,
		}},
		{dialect.SQLServer, []string{
			"CREATE TABLE [users] (\n" +
				"  [id] INT IDENTITY(1,1) NOT NULL,\n" +
				"  [email] NVARCHAR(255) NOT NULL,\n" +
				"  [name] NVARCHAR(100),\n" +
				"  PRIMARY KEY ([id])\n)",
			"CREATE UNIQUE INDEX [users_email_key] ON [users] ([email])",
		}},
	}

	for _, tt := range tests {
		t.Run(tt.target.String(), func(t *testing.T) {
			stmts, err := Schema([]diff.ChangeOp{op}, tt.target, Options{})
			require.NoError(t, err)
			assert.Equal(t, tt.want, sqls(stmts))
			assert.Equal(t, "CreateTable", stmts[0].Kind)
			assert.Equal(t, "users_email_key", stmts[1].Object)
		})
	}
}

func TestCreateTableIfNotExists(t *testing.T) {
	op := diff.ChangeOp{Kind: diff.CreateTable, Table: "orders", From: dialect.PostgreSQL, Definition: ordersTable()}

	stmts, err := Schema([]diff.ChangeOp{op}, dialect.PostgreSQL, Options{IfExists: true})
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(stmts[0].SQL, `CREATE TABLE IF NOT EXISTS "orders"`))

	stmts, err = Schema([]diff.ChangeOp{op}, dialect.SQLServer, Options{IfExists: true})
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(stmts[0].SQL, "IF OBJECT_ID(N'orders', N'U') IS NULL\nCREATE TABLE [orders]"))
}

// alteredUsers returns a pair of snapshots whose diff drops, adds and alters
// columns of users and adds an index
func alteredUsers(d string) (*schema.Snapshot, *schema.Snapshot) {
	source := schema.NewSnapshot(d, "app")
	src := usersTable()
	src.Columns[2].Type = varchar(200)
	src.Columns[2].Nullable = false
	src.Columns = append(src.Columns, schema.Column{Name: "age", Type: intType(4), Nullable: true, Position: 4})
	src.Indexes = append(src.Indexes, schema.Index{Name: "idx_users_name", Columns: []string{"name"}})
	source.Add(src)

	target := schema.NewSnapshot(d, "app")
	tgt := usersTable()
	tgt.Columns = append(tgt.Columns, schema.Column{Name: "legacy", Type: varchar(10), Nullable: true, Position: 4})
	target.Add(tgt)
	return source, target
}

func TestSchemaAlterStatements(t *testing.T) {
	tests := []struct {
		target dialect.Dialect
		opts   Options
		want   []string
	}{
		{dialect.PostgreSQL, Options{}, []string{
			`ALTER TABLE "users" DROP COLUMN "legacy"`,
			`ALTER TABLE "users" ADD COLUMN "age" INTEGER`,
			`ALTER TABLE "users" ALTER COLUMN "name" TYPE VARCHAR(200) USING "name"::VARCHAR(200)`,
			`ALTER TABLE "users" ALTER COLUMN "name" SET NOT NULL`,
			`CREATE INDEX "idx_users_name" ON "users" ("name")`,
		}},
		{dialect.MySQL, Options{IfExists: true}, []string{
			"ALTER TABLE `users` DROP COLUMN `legacy`",
			"ALTER TABLE `users` ADD COLUMN `age` INT",
			"ALTER TABLE `users` MODIFY COLUMN `name` VARCHAR(200) NOT NULL",
			"CREATE INDEX `idx_users_name` ON `users` (`name`)",
		}},
		{dialect.SQLServer, Options{IfExists: true}, []string{
			"ALTER TABLE [users] DROP COLUMN IF EXISTS [legacy]",
			"IF COL_LENGTH(N'users', N'age') IS NULL\nALTER TABLE [users] ADD [age] INT",
			"ALTER TABLE [users] ALTER COLUMN [name] NVARCHAR(200) NOT NULL",
			"IF NOT EXISTS (SELECT 1 FROM sys.indexes WHERE name = N'idx_users_name' AND object_id = OBJECT_ID(N'users'))\n" +
				"CREATE INDEX [idx_users_name] ON [users] ([name])",
		}},
	}

	for _, tt := range tests {
		t.Run(tt.target.String(), func(t *testing.T) {
			source, target := alteredUsers(tt.target.String())
			stmts, err := Schema(diff.Schemas(source, target), tt.target, tt.opts)
			require.NoError(t, err)
			assert.Equal(t, tt.want, sqls(stmts))
			assert.True(t, stmts[0].Destructive)
		})
	}
}

func TestSQLiteRebuild(t *testing.T) {
	source, target := alteredUsers("sqlite")
	ops := diff.Schemas(source, target)

	stmts, err := Schema(ops, dialect.SQLite, Options{})
	require.NoError(t, err)
	assert.Equal(t, []string{
		`ALTER TABLE "users" DROP COLUMN "legacy"`,
		`ALTER TABLE "users" ADD COLUMN "age" INTEGER`,
		`PRAGMA foreign_keys = OFF`,
		"CREATE TABLE \"_syncforge_new_users\" (\n" +
			"  \"id\" INTEGER PRIMARY KEY AUTOINCREMENT NOT NULL,\n" +
			"  \"email\" VARCHAR(255) NOT NULL,\n" +
			"  \"name\" VARCHAR(200) NOT NULL,\n" +
			"  \"age\" INTEGER\n)",
		`INSERT INTO "_syncforge_new_users" ("id", "email", "name", "age") SELECT "id", "email", "name", "age" FROM "users"`,
		`DROP TABLE "users"`,
		`ALTER TABLE "_syncforge_new_users" RENAME TO "users"`,
		`CREATE UNIQUE INDEX "users_email_key" ON "users" ("email")`,
		`CREATE INDEX "idx_users_name" ON "users" ("name")`,
		`PRAGMA foreign_keys = ON`,
	}, sqls(stmts))

	rebuild := stmts[2]
	assert.Equal(t, "RebuildTable", rebuild.Kind)
	assert.Contains(t, rebuild.Summary, "alter column users.name")
	assert.Contains(t, rebuild.Summary, "add index idx_users_name")
	assert.Contains(t, rebuild.Warnings, "fails if existing rows hold NULL")
	assert.False(t, rebuild.Destructive)
}

func TestSQLiteRebuildStartsAtFirstChange(t *testing.T) {
	source := schema.NewSnapshot("sqlite", "")
	source.Add(usersTable())
	orders := ordersTable()
	orders.ForeignKeys = nil
	orders.Columns[1].Nullable = true
	source.Add(orders)

	target := schema.NewSnapshot("sqlite", "")
	target.Add(usersTable())
	tOrders := ordersTable()
	tOrders.Indexes = []schema.Index{{Name: "idx_orders_user", Columns: []string{"user_id"}}}
	target.Add(tOrders)

	ops := diff.Schemas(source, target)
	require.Equal(t, diff.DropForeignKey, ops[0].Kind)

	stmts, err := Schema(ops, dialect.SQLite, Options{Transaction: true})
	require.NoError(t, err)
	for _, s := range stmts {
		assert.Equal(t, "RebuildTable", s.Kind, s.SQL)
	}
	assert.Equal(t, "PRAGMA defer_foreign_keys = ON", stmts[0].SQL)
	assert.NotContains(t, sqls(stmts), "PRAGMA foreign_keys = ON")
	assert.NotContains(t, strings.Join(sqls(stmts), "\n"), "FOREIGN KEY")
	assert.NotContains(t, strings.Join(sqls(stmts), "\n"), "idx_orders_user")
}

func TestForeignKeysInlineForSQLite(t *testing.T) {
	ops := diff.Schemas(func() *schema.Snapshot {
		s := schema.NewSnapshot("postgres", "")
		s.Add(usersTable())
		s.Add(ordersTable())
		return s
	}(), func() *schema.Snapshot {
		s := schema.NewSnapshot("postgres", "")
		s.Add(usersTable())
		return s
	}())
	require.Len(t, ops, 2)

	stmts, err := Schema(ops, dialect.SQLite, Options{})
	require.NoError(t, err)
	require.Len(t, stmts, 1)
	assert.Contains(t, stmts[0].SQL, `CONSTRAINT "orders_user_id_fkey" FOREIGN KEY ("user_id") REFERENCES "users" ("id") ON DELETE CASCADE`)

	stmts, err = Schema(ops, dialect.PostgreSQL, Options{})
	require.NoError(t, err)
	require.Len(t, stmts, 2)
	assert.NotContains(t, stmts[0].SQL, "FOREIGN KEY")
	assert.Equal(t, `ALTER TABLE "orders" ADD CONSTRAINT "orders_user_id_fkey" FOREIGN KEY ("user_id") REFERENCES "users" ("id") ON DELETE CASCADE`, stmts[1].SQL)
}

func TestDropTableAfterForeignKeyDrops(t *testing.T) {
	target := schema.NewSnapshot("postgres", "")
	target.Add(usersTable())
	target.Add(ordersTable())
	source := schema.NewSnapshot("postgres", "")
	source.Add(usersTable())
	ops := diff.Schemas(source, target)

	tests := []struct {
		target dialect.Dialect
		want   []string
	}{
		{dialect.PostgreSQL, []string{
			`ALTER TABLE "orders" DROP CONSTRAINT IF EXISTS "orders_user_id_fkey"`,
			`DROP TABLE IF EXISTS "orders"`,
		}},
		{dialect.MySQL, []string{
			"ALTER TABLE `orders` DROP FOREIGN KEY `orders_user_id_fkey`",
			"DROP TABLE IF EXISTS `orders`",
		}},
		{dialect.SQLite, []string{
			`DROP TABLE IF EXISTS "orders"`,
		}},
		{dialect.SQLServer, []string{
			"ALTER TABLE [orders] DROP CONSTRAINT IF EXISTS [orders_user_id_fkey]",
			"DROP TABLE IF EXISTS [orders]",
		}},
	}

	for _, tt := range tests {
		t.Run(tt.target.String(), func(t *testing.T) {
			stmts, err := Schema(ops, tt.target, Options{IfExists: true})
			require.NoError(t, err)
			assert.Equal(t, tt.want, sqls(stmts))
			last := stmts[len(stmts)-1]
			assert.Equal(t, "DropTable", last.Kind)
			assert.True(t, last.Destructive)
		})
	}
}

func TestDropConstraintIndex(t *testing.T) {
	op := diff.ChangeOp{
		Kind:       diff.DropIndex,
		Table:      "users",
		From:       dialect.PostgreSQL,
		Index:      &usersTable().Indexes[0],
		Definition: usersTable(),
		Current:    usersTable(),
	}

	stmts, err := Schema([]diff.ChangeOp{op}, dialect.PostgreSQL, Options{})
	require.NoError(t, err)
	assert.Equal(t, []string{`ALTER TABLE "users" DROP CONSTRAINT "users_email_key"`}, sqls(stmts))

	stmts, err = Schema([]diff.ChangeOp{op}, dialect.MySQL, Options{})
	require.NoError(t, err)
	assert.Equal(t, []string{"DROP INDEX `users_email_key` ON `users`"}, sqls(stmts))
}

func TestDefaultsAcrossDialects(t *testing.T) {
	def := "'active'"
	col := schema.Column{Name: "status", Type: varchar(10), Default: &def}
	op := diff.ChangeOp{Kind: diff.AddColumn, Table: "users", From: dialect.PostgreSQL, Column: &col}

	stmts, err := Schema([]diff.ChangeOp{op}, dialect.PostgreSQL, Options{})
	require.NoError(t, err)
	assert.Equal(t, `ALTER TABLE "users" ADD COLUMN "status" VARCHAR(10) NOT NULL DEFAULT 'active'`, stmts[0].SQL)
	assert.Empty(t, stmts[0].Warnings)

	stmts, err = Schema([]diff.ChangeOp{op}, dialect.MySQL, Options{})
	require.NoError(t, err)
	assert.Equal(t, "ALTER TABLE `users` ADD COLUMN `status` VARCHAR(10) NOT NULL", stmts[0].SQL)
	require.Len(t, stmts[0].Warnings, 1)
	assert.Contains(t, stmts[0].Warnings[0], "not carried across dialects")
}

func TestSchemaUnknownDialect(t *testing.T) {
	_, err := Schema(nil, dialect.Unknown, Options{})
	assert.Error(t, err)
}

func insertUpdateDelete() []rowdiff.RowChange {
	return []rowdiff.RowChange{
		{
			Kind:  rowdiff.Update,
			Table: "users",
			Key:   []rowdiff.ColumnValue{{Column: "id", Value: int64(1)}},
			Values: []rowdiff.ColumnValue{
				{Column: "name", Value: "John"},
			},
			Previous: []rowdiff.ColumnValue{{Column: "name", Value: "Jon"}},
		},
		{
			Kind:  rowdiff.Delete,
			Table: "users",
			Key:   []rowdiff.ColumnValue{{Column: "id", Value: int64(2)}},
		},
		{
			Kind:  rowdiff.Insert,
			Table: "users",
			Key:   []rowdiff.ColumnValue{{Column: "id", Value: int64(3)}},
			Values: []rowdiff.ColumnValue{
				{Column: "id", Value: int64(3)},
				{Column: "email", Value: "a@x"},
				{Column: "name", Value: "O'Neil"},
			},
		},
	}
}

func TestDataPerDialect(t *testing.T) {
	tests := []struct {
		target dialect.Dialect
		want   []string
	}{
		{dialect.PostgreSQL, []string{
			`UPDATE "users" SET "name" = 'John' WHERE "id" = 1`,
			`DELETE FROM "users" WHERE "id" = 2`,
			`INSERT INTO "users" ("id", "email", "name") VALUES (3, 'a@x', 'O''Neil') ON CONFLICT ("id") DO NOTHING`,
		}},
		{dialect.MySQL, []string{
			"UPDATE `users` SET `name` = 'John' WHERE `id` = 1",
			"DELETE FROM `users` WHERE `id` = 2",
			"INSERT IGNORE INTO `users` (`id`, `email`, `name`) VALUES (3, 'a@x', 'O''Neil')",
		}},
		{dialect.SQLite, []string{
			`UPDATE "users" SET "name" = 'John' WHERE "id" = 1`,
			`DELETE FROM "users" WHERE "id" = 2`,
			`INSERT OR IGNORE INTO "users" ("id", "email", "name") VALUES (3, 'a@x', 'O''Neil')`,
		}},
		{dialect.SQLServer, []string{
			"SET IDENTITY_INSERT [users] ON",
			"UPDATE [users] SET [name] = N'John' WHERE [id] = 1",
			"DELETE FROM [users] WHERE [id] = 2",
			"IF NOT EXISTS (SELECT 1 FROM [users] WHERE [id] = 3) INSERT INTO [users] ([id], [email], [name]) VALUES (3, N'a@x', N'O''Neil')",
			"SET IDENTITY_INSERT [users] OFF",
		}},
	}

	for _, tt := range tests {
		t.Run(tt.target.String(), func(t *testing.T) {
			stmts, err := Data(context.Background(), usersTable(), insertUpdateDelete(), tt.target, Options{})
			require.NoError(t, err)
			assert.Equal(t, tt.want, sqls(stmts))
		})
	}
}

func TestDataDescriptors(t *testing.T) {
	stmts, err := Data(context.Background(), usersTable(), insertUpdateDelete(), dialect.PostgreSQL, Options{})
	require.NoError(t, err)

	assert.Equal(t, "Update", stmts[0].Kind)
	assert.Equal(t, "id=1", stmts[0].Object)
	assert.Equal(t, "Update users(id=1) {name}", stmts[0].Summary)
	assert.False(t, stmts[0].Destructive)
	assert.True(t, stmts[1].Destructive)
	assert.Equal(t, `DELETE FROM "users" WHERE "id" = 2;`, stmts[1].String())
}

func TestDataDropsColumnsMissingFromTarget(t *testing.T) {
	changes := []rowdiff.RowChange{{
		Kind:  rowdiff.Insert,
		Table: "users",
		Key:   []rowdiff.ColumnValue{{Column: "id", Value: int64(2)}},
		Values: []rowdiff.ColumnValue{
			{Column: "id", Value: int64(2)},
			{Column: "name", Value: "b"},
			{Column: "nickname", Value: "y"},
		},
	}}

	stmts, err := Data(context.Background(), usersTable(), changes, dialect.SQLite, Options{})
	require.NoError(t, err)
	require.Len(t, stmts, 1)
	assert.Equal(t, `INSERT OR IGNORE INTO "users" ("id", "name") VALUES (2, 'b')`, stmts[0].SQL)
	assert.Equal(t, []string{"column nickname is not in target table users; value dropped"}, stmts[0].Warnings)
}

func blobTable() *schema.Table {
	return &schema.Table{
		Name: "files",
		Columns: []schema.Column{
			{Name: "id", Type: intType(8)},
			{Name: "payload", Type: schema.ColumnType{Category: schema.CategoryBlob}, Nullable: true},
		},
		PrimaryKey: []string{"id"},
	}
}

func TestDataLargeValues(t *testing.T) {
	content := []byte("abc")
	changes := []rowdiff.RowChange{{
		Kind:   rowdiff.Update,
		Table:  "files",
		Key:    []rowdiff.ColumnValue{{Column: "id", Value: int64(7)}},
		Values: []rowdiff.ColumnValue{{Column: "payload", Value: rowdiff.Digest(content)}},
	}}

	_, err := Data(context.Background(), blobTable(), changes, dialect.PostgreSQL, Options{})
	assert.ErrorIs(t, err, ErrUnresolvedLargeValue)

	var gotColumn string
	var gotKey []rowdiff.ColumnValue
	opts := Options{LoadLargeValue: func(_ context.Context, table *schema.Table, column string, key []rowdiff.ColumnValue) (any, error) {
		gotColumn, gotKey = column, key
		return content, nil
	}}
	stmts, err := Data(context.Background(), blobTable(), changes, dialect.PostgreSQL, opts)
	require.NoError(t, err)
	assert.Equal(t, `UPDATE "files" SET "payload" = '\x616263'::bytea WHERE "id" = 7`, stmts[0].SQL)
	assert.Equal(t, "payload", gotColumn)
	assert.Equal(t, changes[0].Key, gotKey)

	boom := errors.New("connection reset")
	opts.LoadLargeValue = func(context.Context, *schema.Table, string, []rowdiff.ColumnValue) (any, error) {
		return nil, boom
	}
	_, err = Data(context.Background(), blobTable(), changes, dialect.PostgreSQL, opts)
	assert.ErrorIs(t, err, boom)
}

func TestDataUnsignedOverflowWarning(t *testing.T) {
	changes := []rowdiff.RowChange{{
		Kind:   rowdiff.Update,
		Table:  "files",
		Key:    []rowdiff.ColumnValue{{Column: "id", Value: int64(1)}},
		Values: []rowdiff.ColumnValue{{Column: "payload", Value: uint64(math.MaxUint64)}},
	}}

	stmts, err := Data(context.Background(), blobTable(), changes, dialect.PostgreSQL, Options{})
	require.NoError(t, err)
	require.Len(t, stmts[0].Warnings, 1)
	assert.Contains(t, stmts[0].Warnings[0], "exceeds the signed 64-bit range")

	stmts, err = Data(context.Background(), blobTable(), changes, dialect.MySQL, Options{})
	require.NoError(t, err)
	assert.Empty(t, stmts[0].Warnings)
}

func TestDataBooleanFlags(t *testing.T) {
	table := &schema.Table{
		Name: "flags",
		Columns: []schema.Column{
			{Name: "id", Type: intType(4)},
			{Name: "active", Type: schema.ColumnType{Category: schema.CategoryBoolean}},
		},
		PrimaryKey: []string{"id"},
	}
	changes := []rowdiff.RowChange{{
		Kind:   rowdiff.Update,
		Key:    []rowdiff.ColumnValue{{Column: "id", Value: int64(1)}},
		Values: []rowdiff.ColumnValue{{Column: "active", Value: int64(1)}},
	}}

	stmts, err := Data(context.Background(), table, changes, dialect.PostgreSQL, Options{})
	require.NoError(t, err)
	assert.Equal(t, `UPDATE "flags" SET "active" = TRUE WHERE "id" = 1`, stmts[0].SQL)

	changes[0].Values[0].Value = true
	stmts, err = Data(context.Background(), table, changes, dialect.SQLServer, Options{})
	require.NoError(t, err)
	assert.Equal(t, "UPDATE [flags] SET [active] = 1 WHERE [id] = 1", stmts[0].SQL)
}

func TestDataRejectsKeylessTable(t *testing.T) {
	table := usersTable()
	table.PrimaryKey = nil
	_, err := Data(context.Background(), table, insertUpdateDelete(), dialect.MySQL, Options{})
	assert.ErrorIs(t, err, rowdiff.ErrNoPrimaryKey)
}

func TestDataCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := Data(ctx, usersTable(), insertUpdateDelete(), dialect.MySQL, Options{})
	assert.ErrorIs(t, err, context.Canceled)
}

func linkedSnapshot() *schema.Snapshot {
	snap := schema.NewSnapshot("sqlite", "")
	snap.Add(usersTable())
	snap.Add(ordersTable())
	ref := func(name, col, ref string) *schema.Table {
		return &schema.Table{
			Name:        name,
			Columns:     []schema.Column{{Name: "id", Type: intType(8)}, {Name: col, Type: intType(8), Nullable: true}},
			PrimaryKey:  []string{"id"},
			ForeignKeys: []schema.ForeignKey{{Name: name + "_fk", Columns: []string{col}, RefTable: ref, RefColumns: []string{"id"}}},
		}
	}
	snap.Add(ref("items", "order_id", "orders"))
	snap.Add(ref("a", "b_id", "b"))
	snap.Add(ref("b", "a_id", "a"))
	snap.Add(ref("c", "parent_id", "c"))
	return snap
}

func TestTableOrder(t *testing.T) {
	order, cyclic := TableOrder(linkedSnapshot())
	assert.Equal(t, []string{"c", "users", "orders", "items"}, order)
	assert.Equal(t, []string{"a", "b"}, cyclic)
}

func TestDataPlanOrdersByForeignKeys(t *testing.T) {
	changes := map[string][]rowdiff.RowChange{
		"users": {
			{Kind: rowdiff.Insert, Key: []rowdiff.ColumnValue{{Column: "id", Value: int64(3)}},
				Values: []rowdiff.ColumnValue{{Column: "id", Value: int64(3)}, {Column: "email", Value: "c@x"}}},
			{Kind: rowdiff.Delete, Key: []rowdiff.ColumnValue{{Column: "id", Value: int64(2)}}},
		},
		"orders": {
			{Kind: rowdiff.Delete, Key: []rowdiff.ColumnValue{{Column: "id", Value: int64(10)}}},
			{Kind: rowdiff.Insert, Key: []rowdiff.ColumnValue{{Column: "id", Value: int64(11)}},
				Values: []rowdiff.ColumnValue{{Column: "id", Value: int64(11)}, {Column: "user_id", Value: int64(3)}}},
		},
		"a": {
			{Kind: rowdiff.Delete, Key: []rowdiff.ColumnValue{{Column: "id", Value: int64(1)}}},
		},
	}

	stmts, err := DataPlan(context.Background(), linkedSnapshot(), changes, dialect.SQLite, Options{})
	require.NoError(t, err)
	assert.Equal(t, []string{
		`DELETE FROM "a" WHERE "id" = 1`,
		`DELETE FROM "orders" WHERE "id" = 10`,
		`DELETE FROM "users" WHERE "id" = 2`,
		`INSERT OR IGNORE INTO "users" ("id", "email") VALUES (3, 'c@x')`,
		`INSERT OR IGNORE INTO "orders" ("id", "user_id") VALUES (11, 3)`,
	}, sqls(stmts))
	assert.NotEmpty(t, stmts[0].Warnings)

	_, err = DataPlan(context.Background(), linkedSnapshot(), map[string][]rowdiff.RowChange{"ghost": nil}, dialect.SQLite, Options{})
	assert.Error(t, err)
}

func TestWrap(t *testing.T) {
	assert.Empty(t, Wrap(nil, dialect.PostgreSQL))

	ddl := []Statement{{SQL: "DROP TABLE `x`", Descriptor: Descriptor{Kind: "DropTable", Table: "x"}}}
	wrapped := Wrap(ddl, dialect.MySQL)
	assert.Equal(t, []string{"START TRANSACTION", "DROP TABLE `x`", "COMMIT"}, sqls(wrapped))
	assert.NotEmpty(t, wrapped[0].Warnings)

	data := []Statement{{SQL: "DELETE FROM [x] WHERE [id] = 1", Descriptor: Descriptor{Kind: "Delete", Table: "x"}}}
	wrapped = Wrap(data, dialect.SQLServer)
	assert.Equal(t, []string{"SET XACT_ABORT ON", "BEGIN TRANSACTION", "DELETE FROM [x] WHERE [id] = 1", "COMMIT TRANSACTION"}, sqls(wrapped))
	assert.Empty(t, wrapped[1].Warnings)

	wrapped = Wrap(ddl, dialect.PostgreSQL)
	assert.Equal(t, "BEGIN", wrapped[0].SQL)
	assert.Empty(t, wrapped[0].Warnings)
}

func TestWarningsDeduplicated(t *testing.T) {
	stmts := []Statement{
		{Descriptor: Descriptor{Table: "t", Warnings: []string{"w1"}}},
		{Descriptor: Descriptor{Table: "t", Warnings: []string{"w1", "w2"}}},
		{Descriptor: Descriptor{Table: "u", Warnings: []string{"w1"}}},
	}
	assert.Equal(t, []string{"t: w1", "t: w2", "u: w1"}, Warnings(stmts))
}
