package formatter

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tordrt/syncforge/internal/generator"
	"github.com/tordrt/syncforge/internal/rowdiff"
)

func samplePlan() *Plan {
	rebuild := generator.Descriptor{Kind: "RebuildTable", Table: "orders", Object: "orders", Summary: "rebuild table orders: drop foreign key fk on orders"}
	return &Plan{
		Title:  "Schema changes",
		Source: "postgres (shop)",
		Target: "sqlite (copy.db)",
		Statements: []generator.Statement{
			{SQL: `DROP TABLE "legacy"`, Descriptor: generator.Descriptor{
				Kind: "DropTable", Table: "legacy", Object: "legacy", Summary: "drop table legacy",
				Warnings: []string{"table data will be lost"}, Destructive: true,
			}},
			{SQL: "PRAGMA foreign_keys = OFF", Descriptor: rebuild},
			{SQL: `DROP TABLE "orders"`, Descriptor: rebuild},
			{SQL: `ALTER TABLE "users" ADD COLUMN "age" INTEGER`, Descriptor: generator.Descriptor{
				Kind: "AddColumn", Table: "users", Object: "age", Summary: "add column users.age INTEGER",
			}},
		},
		Notices: []string{"users.email: default differs: none in source, '' in target"},
		Stats: []TableStats{
			{Table: "users", Stats: rowdiff.Stats{Inserts: 2, Updates: 1, Deletes: 0, Unchanged: 40}},
		},
	}
}

func TestPlanHelpers(t *testing.T) {
	p := samplePlan()
	assert.Equal(t, 1, p.Destructive())
	assert.Equal(t, []string{"legacy", "orders", "users"}, p.Tables())
	assert.Len(t, p.TableStatements("orders"), 2)
	assert.Equal(t, []string{"legacy: table data will be lost"}, p.Warnings())
	assert.Len(t, changes(p.Statements), 3)
}

func TestTextFormatter(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, NewTextFormatter(&buf).Format(samplePlan()))
	out := buf.String()

	assert.True(t, strings.HasPrefix(out, "-- Schema changes\n-- source: postgres (shop)\n-- target: sqlite (copy.db)\n"))
	assert.Contains(t, out, "-- 4 statements, 1 destructive\n")
	assert.Contains(t, out, "-- users: 2 inserts, 1 updates, 0 deletes, 40 unchanged\n")
	assert.Contains(t, out, "-- WARNING: legacy: table data will be lost\n")
	assert.Contains(t, out, "-- NOTE: users.email: default differs")
	assert.Contains(t, out, "-- drop table legacy [destructive]\nDROP TABLE \"legacy\";\n")
	assert.Contains(t, out, "PRAGMA foreign_keys = OFF;\nDROP TABLE \"orders\";\n")
	assert.Equal(t, 1, strings.Count(out, "rebuild table orders"))
}

func TestMarkdownFormatter(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, NewMarkdownFormatter(&buf).Format(samplePlan()))
	out := buf.String()

	assert.True(t, strings.HasPrefix(out, "# Schema changes\n\n"))
	assert.Contains(t, out, "- **Statements:** 4 (1 destructive)\n")
	assert.Contains(t, out, "| users | 2 | 1 | 0 | 40 |\n")
	assert.Contains(t, out, "## Warnings\n\n- legacy: table data will be lost\n")
	assert.Contains(t, out, "1. drop table legacy **(destructive)**\n")
	assert.Contains(t, out, "2. rebuild table orders: drop foreign key fk on orders\n")
	assert.Contains(t, out, "3. add column users.age INTEGER\n")
	assert.Contains(t, out, "```sql\nDROP TABLE \"legacy\";\n")
}

func TestMarkdownFormatterEmptyPlan(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, NewMarkdownFormatter(&buf).Format(&Plan{}))
	assert.Equal(t, "# Change Plan\n\n- **Statements:** 0 (0 destructive)\n\nNo changes.\n", buf.String())
}

func TestMultiFileFormatter(t *testing.T) {
	tests := []struct {
		format string
		files  []string
	}{
		{"text", []string{"_overview.sql", "legacy.sql", "orders.sql", "plan.sql", "users.sql"}},
		{"markdown", []string{"_overview.md", "legacy.md", "orders.md", "plan.sql", "users.md"}},
	}

	for _, tt := range tests {
		t.Run(tt.format, func(t *testing.T) {
			dir := filepath.Join(t.TempDir(), "out")
			require.NoError(t, NewMultiFileFormatter(dir, tt.format).Format(samplePlan()))

			entries, err := os.ReadDir(dir)
			require.NoError(t, err)
			var names []string
			for _, e := range entries {
				names = append(names, e.Name())
			}
			assert.Equal(t, tt.files, names)

			script, err := os.ReadFile(filepath.Join(dir, ScriptFile))
			require.NoError(t, err)
			assert.Contains(t, string(script), `ALTER TABLE "users" ADD COLUMN "age" INTEGER;`)

			orders, err := os.ReadFile(filepath.Join(dir, tt.files[2]))
			require.NoError(t, err)
			assert.Contains(t, string(orders), `DROP TABLE "orders";`)
			assert.NotContains(t, string(orders), "users")
		})
	}
}

func TestMultiFileFormatterRejectsUnknownFormat(t *testing.T) {
	err := NewMultiFileFormatter(t.TempDir(), "html").Format(samplePlan())
	assert.Error(t, err)
}

func TestTableFileNameAvoidsReservedNames(t *testing.T) {
	f := NewMultiFileFormatter("", "text")
	assert.Equal(t, "table_plan.sql", f.tableFileName("plan"))
	assert.Equal(t, "a_b.sql", f.tableFileName("a/b"))
}
