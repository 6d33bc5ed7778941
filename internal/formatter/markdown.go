package formatter

import (
	"fmt"
	"io"

	"github.com/tordrt/syncforge/internal/generator"
)

// MarkdownFormatter writes a plan as a review report
type MarkdownFormatter struct {
	writer io.Writer
}

// NewMarkdownFormatter creates a new markdown formatter
func NewMarkdownFormatter(w io.Writer) *MarkdownFormatter {
	return &MarkdownFormatter{writer: w}
}

// Format writes the plan in markdown format
func (f *MarkdownFormatter) Format(p *Plan) error {
	title := p.Title
	if title == "" {
		title = "Change Plan"
	}
	_, _ = fmt.Fprintf(f.writer, "# %s\n\n", title)

	if p.Source != "" {
		_, _ = fmt.Fprintf(f.writer, "- **Source:** %s\n", p.Source)
	}
	if p.Target != "" {
		_, _ = fmt.Fprintf(f.writer, "- **Target:** %s\n", p.Target)
	}
	_, _ = fmt.Fprintf(f.writer, "- **Statements:** %d (%d destructive)\n\n", len(p.Statements), p.Destructive())

	f.FormatStats(p.Stats)
	f.formatList("Warnings", p.Warnings())
	f.formatList("Notices", p.Notices)

	if len(p.Statements) == 0 {
		_, _ = fmt.Fprintln(f.writer, "No changes.")
		return nil
	}
	f.FormatChanges(p.Statements)
	f.FormatScript(p.Statements)
	return nil
}

// FormatStats writes the row comparison counts as a table
func (f *MarkdownFormatter) FormatStats(stats []TableStats) {
	if len(stats) == 0 {
		return
	}
	_, _ = fmt.Fprintln(f.writer, "## Row Changes")
	_, _ = fmt.Fprintln(f.writer)
	_, _ = fmt.Fprintln(f.writer, "| Table | Inserts | Updates | Deletes | Unchanged |")
	_, _ = fmt.Fprintln(f.writer, "|---|---:|---:|---:|---:|")
	for _, st := range stats {
		_, _ = fmt.Fprintf(f.writer, "| %s | %d | %d | %d | %d |\n", st.Table, st.Inserts, st.Updates, st.Deletes, st.Unchanged)
	}
	_, _ = fmt.Fprintln(f.writer)
}

func (f *MarkdownFormatter) formatList(heading string, items []string) {
	if len(items) == 0 {
		return
	}
	_, _ = fmt.Fprintf(f.writer, "## %s\n\n", heading)
	for _, item := range items {
		_, _ = fmt.Fprintf(f.writer, "- %s\n", item)
	}
	_, _ = fmt.Fprintln(f.writer)
}

// FormatChanges writes one numbered line per change
func (f *MarkdownFormatter) FormatChanges(stmts []generator.Statement) {
	_, _ = fmt.Fprintln(f.writer, "## Changes")
	_, _ = fmt.Fprintln(f.writer)
	for i, s := range changes(stmts) {
		flag := ""
		if s.Destructive {
			flag = " **(destructive)**"
		}
		_, _ = fmt.Fprintf(f.writer, "%d. %s%s\n", i+1, s.Summary, flag)
	}
	_, _ = fmt.Fprintln(f.writer)
}

// FormatScript writes the statements as one SQL code block
func (f *MarkdownFormatter) FormatScript(stmts []generator.Statement) {
	_, _ = fmt.Fprintln(f.writer, "## Script")
	_, _ = fmt.Fprintln(f.writer)
	_, _ = fmt.Fprintln(f.writer, "```sql")
	for _, s := range stmts {
		_, _ = fmt.Fprintln(f.writer, s.String())
	}
	_, _ = fmt.Fprintln(f.writer, "```")
	_, _ = fmt.Fprintln(f.writer)
}
