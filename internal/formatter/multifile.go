package formatter

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/tordrt/syncforge/internal/generator"
)

const (
	formatMarkdown = "markdown"
	formatText     = "text"
)

// ScriptFile holds the complete ordered script in multi-file output
const ScriptFile = "plan.sql"

// MultiFileFormatter writes a plan to a directory: an overview, the full
// script and one file per table
type MultiFileFormatter struct {
	OutputDir    string
	OutputFormat string // "text" or "markdown"
}

// NewMultiFileFormatter creates a new multi-file formatter
func NewMultiFileFormatter(outputDir, format string) *MultiFileFormatter {
	return &MultiFileFormatter{
		OutputDir:    outputDir,
		OutputFormat: format,
	}
}

// Format writes the plan to multiple files
func (f *MultiFileFormatter) Format(p *Plan) error {
	if f.OutputFormat != formatMarkdown && f.OutputFormat != formatText {
		return fmt.Errorf("unsupported output format: %s", f.OutputFormat)
	}
	if err := os.MkdirAll(f.OutputDir, 0755); err != nil {
		return fmt.Errorf("failed to create output directory: %w", err)
	}

	if err := f.writeFile("_overview"+f.getFileExtension(), func(w io.Writer) error {
		return f.writeOverview(w, p)
	}); err != nil {
		return fmt.Errorf("failed to write overview: %w", err)
	}

	// cross-table order matters, so the full script is always written
	if err := f.writeFile(ScriptFile, func(w io.Writer) error {
		return NewTextFormatter(w).Format(p)
	}); err != nil {
		return fmt.Errorf("failed to write script: %w", err)
	}

	for _, table := range p.Tables() {
		if err := f.writeFile(f.tableFileName(table), func(w io.Writer) error {
			return f.writeTable(w, p, table)
		}); err != nil {
			return fmt.Errorf("failed to write table file for %s: %w", table, err)
		}
	}
	return nil
}

func (f *MultiFileFormatter) writeFile(name string, write func(io.Writer) error) error {
	file, err := os.Create(filepath.Join(f.OutputDir, name))
	if err != nil {
		return err
	}
	if err := write(file); err != nil {
		_ = file.Close()
		return err
	}
	return file.Close()
}

func (f *MultiFileFormatter) writeOverview(w io.Writer, p *Plan) error {
	tables := p.Tables()

	if f.OutputFormat == formatMarkdown {
		md := NewMarkdownFormatter(w)
		_, _ = fmt.Fprintf(w, "# Plan Overview\n\n")
		_, _ = fmt.Fprintf(w, "Apply `%s` as a whole. Each table also has `<table_name>%s` for review.\n\n", ScriptFile, f.getFileExtension())
		md.FormatStats(p.Stats)
		md.formatList("Warnings", p.Warnings())
		md.formatList("Notices", p.Notices)
		_, _ = fmt.Fprintf(w, "## Tables\n\n")
		for _, t := range tables {
			stmts := p.TableStatements(t)
			_, _ = fmt.Fprintf(w, "- **%s** (%d statements%s)\n", t, len(stmts), destructiveNote(stmts))
		}
		return nil
	}

	_, _ = fmt.Fprintf(w, "PLAN OVERVIEW\n")
	_, _ = fmt.Fprintf(w, "Apply %s as a whole. Each table has a file: <table_name>%s\n\n", ScriptFile, f.getFileExtension())
	for _, warning := range p.Warnings() {
		_, _ = fmt.Fprintf(w, "WARNING: %s\n", warning)
	}
	for _, n := range p.Notices {
		_, _ = fmt.Fprintf(w, "NOTE: %s\n", n)
	}
	for _, t := range tables {
		stmts := p.TableStatements(t)
		_, _ = fmt.Fprintf(w, "%s: %d statements%s\n", t, len(stmts), destructiveNote(stmts))
	}
	return nil
}

func destructiveNote(stmts []generator.Statement) string {
	n := 0
	for _, s := range stmts {
		if s.Destructive {
			n++
		}
	}
	if n == 0 {
		return ""
	}
	return fmt.Sprintf(", %d destructive", n)
}

func (f *MultiFileFormatter) writeTable(w io.Writer, p *Plan, table string) error {
	stmts := p.TableStatements(table)
	sub := &Plan{Title: "Changes for " + table, Source: p.Source, Target: p.Target, Statements: stmts}
	for _, st := range p.Stats {
		if st.Table == table {
			sub.Stats = append(sub.Stats, st)
		}
	}

	if f.OutputFormat == formatMarkdown {
		return NewMarkdownFormatter(w).Format(sub)
	}
	return NewTextFormatter(w).Format(sub)
}

func (f *MultiFileFormatter) tableFileName(table string) string {
	r := strings.NewReplacer("/", "_", `\`, "_", ":", "_", "..", "_")
	name := r.Replace(table) + f.getFileExtension()
	if name == ScriptFile || strings.HasPrefix(name, "_overview.") {
		name = "table_" + name
	}
	return name
}

func (f *MultiFileFormatter) getFileExtension() string {
	if f.OutputFormat == formatMarkdown {
		return ".md"
	}
	return ".sql"
}
