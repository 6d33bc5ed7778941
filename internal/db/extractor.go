// Package db holds the per-engine metadata adapters and row cursors.
package db

import (
	"context"
	"database/sql/driver"
	"errors"
	"fmt"
	"io"
	"net"
	"slices"

	"github.com/go-sql-driver/mysql"
	"github.com/jackc/pgx/v5/pgconn"
	mssql "github.com/microsoft/go-mssqldb"

	"github.com/tordrt/syncforge/internal/dialect"
	"github.com/tordrt/syncforge/internal/logging"
	"github.com/tordrt/syncforge/internal/rowdiff"
	"github.com/tordrt/syncforge/internal/schema"
)

// Adapter captures a normalized schema snapshot from one connection
type Adapter interface {
	Dialect() dialect.Dialect
	// Snapshot returns the tables it could capture plus one warning per
	// skipped table. The error is set only when nothing could be read.
	Snapshot(ctx context.Context) (*schema.Snapshot, []schema.TableWarning, error)
}

// RowSource opens primary-key-ordered row cursors and fetches single values
type RowSource interface {
	OpenCursor(ctx context.Context, table *schema.Table) (rowdiff.Cursor, error)
	LoadValue(ctx context.Context, table *schema.Table, column string, key []rowdiff.ColumnValue) (any, error)
}

// TableFilter restricts which tables a snapshot covers.
// Include takes precedence; Exclude is applied afterwards.
type TableFilter struct {
	Include []string
	Exclude []string
}

func (f TableFilter) apply(names []string) []string {
	if len(f.Include) > 0 {
		names = f.Include
	}
	if len(f.Exclude) == 0 {
		return names
	}
	filtered := make([]string, 0, len(names))
	for _, n := range names {
		if !slices.Contains(f.Exclude, n) {
			filtered = append(filtered, n)
		}
	}
	return filtered
}

type tableExtractor func(ctx context.Context, name string) (*schema.Table, error)

// captureSnapshot extracts every table, turning per-table failures into warnings
func captureSnapshot(ctx context.Context, d dialect.Dialect, database string, names []string, extract tableExtractor) (*schema.Snapshot, []schema.TableWarning, error) {
	snap := schema.NewSnapshot(d.String(), database)
	var warnings []schema.TableWarning

	for _, name := range names {
		if err := ctx.Err(); err != nil {
			return nil, nil, err
		}

		table, err := extract(ctx, name)
		if err == nil {
			if verr := table.Validate(); verr != nil {
				err = schema.Unsupported(name, "", "%v", verr)
			}
		}
		if err != nil {
			me := classifyError(name, err)
			warnings = append(warnings, schema.TableWarning{Table: name, Err: me})
			snap.Skipped = append(snap.Skipped, name)
			logging.Warn("skipping table", "dialect", d.String(), "table", name, "category", me.Category.String(), "error", me.Err)
			continue
		}
		snap.Add(table)
	}

	logging.Debug("snapshot captured", "dialect", d.String(), "tables", len(snap.Tables), "skipped", len(snap.Skipped))
	return snap, warnings, nil
}

// classifyError maps driver errors onto metadata error categories
func classifyError(table string, err error) *schema.MetadataError {
	var me *schema.MetadataError
	if errors.As(err, &me) {
		if me.Table == "" {
			me.Table = table
		}
		return me
	}
	return &schema.MetadataError{Category: errorCategory(err), Table: table, Err: err}
}

func errorCategory(err error) schema.ErrorCategory {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		// insufficient_privilege
		if pgErr.Code == "42501" {
			return schema.PermissionDenied
		}
		// connection_exception class
		if len(pgErr.Code) == 5 && pgErr.Code[:2] == "08" {
			return schema.ConnectionLost
		}
		return schema.UnsupportedFeature
	}

	var myErr *mysql.MySQLError
	if errors.As(err, &myErr) {
		switch myErr.Number {
		case 1044, 1045, 1142, 1143, 1227:
			return schema.PermissionDenied
		}
		return schema.UnsupportedFeature
	}

	var msErr mssql.Error
	if errors.As(err, &msErr) {
		switch msErr.Number {
		case 229, 230, 262, 297, 300, 18456:
			return schema.PermissionDenied
		}
		return schema.UnsupportedFeature
	}

	var netErr net.Error
	switch {
	case errors.Is(err, driver.ErrBadConn),
		errors.Is(err, mysql.ErrInvalidConn),
		errors.Is(err, io.EOF),
		errors.Is(err, io.ErrUnexpectedEOF),
		errors.As(err, &netErr),
		pgconn.SafeToRetry(err),
		pgconn.Timeout(err):
		return schema.ConnectionLost
	}

	return schema.UnsupportedFeature
}

// databaseError wraps a failure that happened before any table was read
func databaseError(op string, err error) error {
	return fmt.Errorf("failed to %s: %w", op, classifyError("", err))
}
