// Package dialect describes the SQL vocabulary of each supported engine:
// capabilities, identifier and literal quoting, type parsing and type mapping.
package dialect

import (
	"fmt"
	"strings"

	"github.com/lib/pq"
)

// Dialect identifies a database engine's SQL syntax and type vocabulary
type Dialect int

const (
	Unknown Dialect = iota
	MySQL
	PostgreSQL
	SQLite
	SQLServer
)

// All lists the supported dialects
var All = []Dialect{MySQL, PostgreSQL, SQLite, SQLServer}

func (d Dialect) String() string {
	switch d {
	case MySQL:
		return "mysql"
	case PostgreSQL:
		return "postgres"
	case SQLite:
		return "sqlite"
	case SQLServer:
		return "sqlserver"
	default:
		return "unknown"
	}
}

// Parse resolves a dialect from its name or a common alias
func Parse(name string) (Dialect, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "mysql", "mariadb":
		return MySQL, nil
	case "postgres", "postgresql", "pg":
		return PostgreSQL, nil
	case "sqlite", "sqlite3":
		return SQLite, nil
	case "sqlserver", "mssql":
		return SQLServer, nil
	default:
		return Unknown, fmt.Errorf("unsupported dialect: %q", name)
	}
}

// Capabilities lists the engine features the mapper, diff engine and
// generator consult instead of branching on the engine itself.
type Capabilities struct {
	UnsignedIntegers bool
	PartialIndexes   bool
	NativeBoolean    bool
	NativeUUID       bool
	NativeJSON       bool
	TimeZoneAware    bool
	// DropIfExists covers DROP TABLE/INDEX/CONSTRAINT ... IF EXISTS
	DropIfExists bool
	// ColumnIfExists covers ADD COLUMN IF NOT EXISTS / DROP COLUMN IF EXISTS
	ColumnIfExists   bool
	IndexIfNotExists bool
	// AlterColumn is false where column type and nullability changes need a table rebuild
	AlterColumn bool
	// AlterConstraints is false where foreign keys cannot be added or dropped in place
	AlterConstraints bool
	TransactionalDDL bool
	MaxDecimalDigits int
	MaxCharLength    int
	MaxVarcharLength int
}

// Capabilities returns the feature flags of the dialect
func (d Dialect) Capabilities() Capabilities {
	switch d {
	case MySQL:
		return Capabilities{
			UnsignedIntegers: true,
			NativeJSON:       true,
			AlterColumn:      true,
			AlterConstraints: true,
			DropIfExists:     true,
			MaxDecimalDigits: 65,
			MaxCharLength:    255,
			MaxVarcharLength: 16383,
		}
	case PostgreSQL:
		return Capabilities{
			PartialIndexes:   true,
			NativeBoolean:    true,
			NativeUUID:       true,
			NativeJSON:       true,
			TimeZoneAware:    true,
			DropIfExists:     true,
			ColumnIfExists:   true,
			IndexIfNotExists: true,
			AlterColumn:      true,
			AlterConstraints: true,
			TransactionalDDL: true,
			MaxDecimalDigits: 1000,
			MaxCharLength:    10485760,
			MaxVarcharLength: 10485760,
		}
	case SQLite:
		return Capabilities{
			PartialIndexes:   true,
			DropIfExists:     true,
			IndexIfNotExists: true,
			TransactionalDDL: true,
			MaxDecimalDigits: 1000,
			MaxCharLength:    1 << 30,
			MaxVarcharLength: 1 << 30,
		}
	case SQLServer:
		return Capabilities{
			PartialIndexes:   true,
			NativeUUID:       true,
			TimeZoneAware:    true,
			DropIfExists:     true,
			ColumnIfExists:   true,
			AlterColumn:      true,
			AlterConstraints: true,
			TransactionalDDL: true,
			MaxDecimalDigits: 38,
			MaxCharLength:    4000,
			MaxVarcharLength: 4000,
		}
	default:
		return Capabilities{}
	}
}

// DefaultPort returns the engine's standard TCP port, zero for file-based engines
func (d Dialect) DefaultPort() int {
	switch d {
	case MySQL:
		return 3306
	case PostgreSQL:
		return 5432
	case SQLServer:
		return 1433
	default:
		return 0
	}
}

// QuoteIdent quotes an identifier
func (d Dialect) QuoteIdent(name string) string {
	switch d {
	case MySQL:
		return "`" + strings.ReplaceAll(name, "`", "``") + "`"
	case PostgreSQL:
		return pq.QuoteIdentifier(name)
	case SQLServer:
		return "[" + strings.ReplaceAll(name, "]", "]]") + "]"
	default:
		return `"` + strings.ReplaceAll(name, `"`, `""`) + `"`
	}
}

// QuoteIdents quotes and joins a column list
func (d Dialect) QuoteIdents(names []string) string {
	quoted := make([]string, len(names))
	for i, n := range names {
		quoted[i] = d.QuoteIdent(n)
	}
	return strings.Join(quoted, ", ")
}

// QuoteString renders a string literal
func (d Dialect) QuoteString(s string) string {
	switch d {
	case MySQL:
		s = strings.ReplaceAll(s, `\`, `\\`)
		return "'" + strings.ReplaceAll(s, "'", "''") + "'"
	case PostgreSQL:
		return strings.TrimSpace(pq.QuoteLiteral(s))
	case SQLServer:
		return "N'" + strings.ReplaceAll(s, "'", "''") + "'"
	default:
		return "'" + strings.ReplaceAll(s, "'", "''") + "'"
	}
}
