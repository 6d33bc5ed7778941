package formatter

import (
	"fmt"
	"io"
	"strings"

	"github.com/tordrt/syncforge/internal/generator"
)

// TextFormatter writes a plan as an SQL script with comment headers
type TextFormatter struct {
	writer io.Writer
}

// NewTextFormatter creates a new text formatter
func NewTextFormatter(w io.Writer) *TextFormatter {
	return &TextFormatter{writer: w}
}

// Format writes the plan as an executable script
func (f *TextFormatter) Format(p *Plan) error {
	f.writeHeader(p)
	f.writeStatements(p.Statements)
	return nil
}

func (f *TextFormatter) writeHeader(p *Plan) {
	if p.Title != "" {
		_, _ = fmt.Fprintf(f.writer, "-- %s\n", p.Title)
	}
	if p.Source != "" {
		_, _ = fmt.Fprintf(f.writer, "-- source: %s\n", p.Source)
	}
	if p.Target != "" {
		_, _ = fmt.Fprintf(f.writer, "-- target: %s\n", p.Target)
	}
	_, _ = fmt.Fprintf(f.writer, "-- %d statements, %d destructive\n", len(p.Statements), p.Destructive())

	for _, st := range p.Stats {
		_, _ = fmt.Fprintf(f.writer, "-- %s: %d inserts, %d updates, %d deletes, %d unchanged\n",
			st.Table, st.Inserts, st.Updates, st.Deletes, st.Unchanged)
	}

	warnings := p.Warnings()
	if len(warnings) > 0 || len(p.Notices) > 0 {
		_, _ = fmt.Fprintln(f.writer, "--")
	}
	for _, w := range warnings {
		_, _ = fmt.Fprintf(f.writer, "-- WARNING: %s\n", w)
	}
	for _, n := range p.Notices {
		_, _ = fmt.Fprintf(f.writer, "-- NOTE: %s\n", n)
	}
	_, _ = fmt.Fprintln(f.writer)
}

func (f *TextFormatter) writeStatements(stmts []generator.Statement) {
	for i, s := range stmts {
		// statements of one rebuild share their summary
		if i == 0 || s.Summary != stmts[i-1].Summary {
			if i > 0 {
				_, _ = fmt.Fprintln(f.writer)
			}
			_, _ = fmt.Fprintf(f.writer, "-- %s\n", commentLine(s))
		}
		_, _ = fmt.Fprintln(f.writer, s.String())
	}
}

func commentLine(s generator.Statement) string {
	line := strings.ReplaceAll(s.Summary, "\n", " ")
	if s.Destructive {
		line += " [destructive]"
	}
	return line
}
