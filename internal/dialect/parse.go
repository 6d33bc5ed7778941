package dialect

import (
	"strconv"
	"strings"

	"github.com/tordrt/syncforge/internal/schema"
)

// ParseType normalizes a catalog type string of the given dialect
func ParseType(d Dialect, raw string) schema.ColumnType {
	t := schema.ColumnType{Raw: raw}

	s := strings.ToLower(strings.TrimSpace(raw))
	if strings.Contains(s, " unsigned") {
		t.Unsigned = true
		s = strings.Replace(s, " unsigned", "", 1)
	}
	s = strings.ReplaceAll(s, " zerofill", "")

	if strings.Contains(s, " with time zone") {
		t.WithTimeZone = true
		s = strings.Replace(s, " with time zone", "", 1)
	}
	s = strings.Replace(s, " without time zone", "", 1)

	if strings.HasSuffix(s, "[]") {
		t.Category = schema.CategoryOther
		return t
	}

	base, args := splitTypeArgs(s)

	switch base {
	case "tinyint":
		t.Category, t.Size = schema.CategoryInteger, 1
		if d == MySQL && len(args) == 1 && args[0] == "1" {
			t = schema.ColumnType{Category: schema.CategoryBoolean, Raw: raw}
		}
		if d == SQLServer {
			t.Unsigned = true
		}
	case "smallint", "int2", "smallserial", "serial2":
		t.Category, t.Size = schema.CategoryInteger, 2
	case "mediumint":
		t.Category, t.Size = schema.CategoryInteger, 3
	case "int", "integer", "int4", "serial", "serial4":
		t.Category, t.Size = schema.CategoryInteger, 4
		if d == SQLite {
			t.Size = 8
		}
	case "bigint", "int8", "bigserial", "serial8":
		t.Category, t.Size = schema.CategoryInteger, 8
	case "year":
		t.Category, t.Size = schema.CategoryInteger, 2
	case "bool", "boolean":
		t.Category = schema.CategoryBoolean
	case "bit":
		n := intArg(args, 0, 1)
		if d == SQLServer || n == 1 {
			t.Category = schema.CategoryBoolean
		} else {
			t.Category, t.Length = schema.CategoryBinary, (n+7)/8
		}
	case "decimal", "numeric", "dec", "fixed", "number":
		t.Category = schema.CategoryDecimal
		t.Precision = intArg(args, 0, 0)
		t.Scale = intArg(args, 1, 0)
	case "money":
		t.Category, t.Precision, t.Scale = schema.CategoryDecimal, 19, 4
	case "smallmoney":
		t.Category, t.Precision, t.Scale = schema.CategoryDecimal, 10, 4
	case "real", "float4":
		t.Category, t.Size = schema.CategoryFloat, 4
		if d == SQLite {
			t.Size = 8
		}
	case "double", "double precision", "float8":
		t.Category, t.Size = schema.CategoryFloat, 8
	case "float":
		t.Category, t.Size = schema.CategoryFloat, 4
		if d == SQLServer || d == SQLite {
			t.Size = 8
		}
		if n := intArg(args, 0, 0); n > 24 {
			t.Size = 8
		} else if n > 0 {
			t.Size = 4
		}
	case "char", "character", "nchar", "bpchar", "national character":
		t.Category, t.Length = schema.CategoryChar, intArg(args, 0, 1)
	case "varchar", "character varying", "nvarchar", "varchar2", "nvarchar2", "national character varying":
		if len(args) == 1 && args[0] == "max" {
			t.Category = schema.CategoryText
		} else {
			t.Category, t.Length = schema.CategoryVarchar, intArg(args, 0, 0)
		}
	case "tinytext":
		t.Category, t.Size = schema.CategoryText, 1
	case "text":
		t.Category = schema.CategoryText
		if d == MySQL {
			t.Size = 2
		}
	case "mediumtext":
		t.Category, t.Size = schema.CategoryText, 3
	case "longtext":
		t.Category, t.Size = schema.CategoryText, 4
	case "clob", "ntext", "citext", "xml":
		t.Category = schema.CategoryText
	case "binary":
		t.Category, t.Length = schema.CategoryBinary, intArg(args, 0, 1)
	case "varbinary":
		if len(args) == 1 && args[0] == "max" {
			t.Category = schema.CategoryBlob
		} else {
			t.Category, t.Length = schema.CategoryVarbinary, intArg(args, 0, 0)
		}
	case "tinyblob":
		t.Category, t.Size = schema.CategoryBlob, 1
	case "blob":
		t.Category = schema.CategoryBlob
		if d == MySQL {
			t.Size = 2
		}
	case "mediumblob":
		t.Category, t.Size = schema.CategoryBlob, 3
	case "longblob":
		t.Category, t.Size = schema.CategoryBlob, 4
	case "bytea", "image":
		t.Category = schema.CategoryBlob
	case "date":
		t.Category = schema.CategoryDate
	case "time":
		t.Category, t.Precision = schema.CategoryTime, intArg(args, 0, 0)
	case "timetz":
		t.Category, t.Precision, t.WithTimeZone = schema.CategoryTime, intArg(args, 0, 0), true
	case "timestamp", "datetime", "datetime2", "smalldatetime":
		t.Category, t.Precision = schema.CategoryTimestamp, intArg(args, 0, 0)
		if d == SQLServer && base == "timestamp" {
			// rowversion, not a point in time
			t = schema.ColumnType{Category: schema.CategoryBinary, Length: 8, Raw: raw}
		}
	case "timestamptz", "datetimeoffset":
		t.Category, t.Precision, t.WithTimeZone = schema.CategoryTimestamp, intArg(args, 0, 0), true
	case "interval":
		t.Category = schema.CategoryInterval
	case "json", "jsonb":
		t.Category = schema.CategoryJSON
	case "uuid", "uniqueidentifier":
		t.Category = schema.CategoryUUID
	case "enum", "set":
		// members keep their case
		_, rawArgs := splitTypeArgs(strings.TrimSpace(raw))
		t.Category = schema.CategoryEnum
		t.Values = parseEnumValues(rawArgs)
	default:
		if d == SQLite {
			t.Category, t.Size = sqliteAffinity(base)
		} else {
			t.Category = schema.CategoryOther
		}
	}

	return t
}

// sqliteAffinity applies SQLite's column affinity rules to a declared type
func sqliteAffinity(declared string) (schema.Category, int) {
	switch {
	case strings.Contains(declared, "int"):
		return schema.CategoryInteger, 8
	case strings.Contains(declared, "char"), strings.Contains(declared, "clob"), strings.Contains(declared, "text"):
		return schema.CategoryText, 0
	case declared == "" || strings.Contains(declared, "blob"):
		return schema.CategoryBlob, 0
	case strings.Contains(declared, "real"), strings.Contains(declared, "floa"), strings.Contains(declared, "doub"):
		return schema.CategoryFloat, 8
	default:
		return schema.CategoryDecimal, 0
	}
}

// splitTypeArgs splits "decimal(10,2)" into "decimal" and ["10", "2"]
func splitTypeArgs(s string) (string, []string) {
	open := strings.Index(s, "(")
	if open < 0 {
		return strings.TrimSpace(s), nil
	}
	end := strings.LastIndex(s, ")")
	if end < open {
		return strings.TrimSpace(s[:open]), nil
	}

	base := strings.TrimSpace(s[:open])
	inner := s[open+1 : end]

	var args []string
	var cur strings.Builder
	inQuote := false
	for i := 0; i < len(inner); i++ {
		ch := inner[i]
		switch {
		case ch == '\'':
			if inQuote && i+1 < len(inner) && inner[i+1] == '\'' {
				cur.WriteString("''")
				i++
				continue
			}
			inQuote = !inQuote
			cur.WriteByte(ch)
		case ch == ',' && !inQuote:
			args = append(args, strings.TrimSpace(cur.String()))
			cur.Reset()
		default:
			cur.WriteByte(ch)
		}
	}
	args = append(args, strings.TrimSpace(cur.String()))

	// Trailing modifiers such as "time(3) with time zone" were stripped
	// earlier; anything else after the parenthesis is kept on the base.
	if rest := strings.TrimSpace(s[end+1:]); rest != "" {
		base = base + " " + rest
	}
	return base, args
}

// parseEnumValues unquotes MySQL enum members: enum('a','b''c')
func parseEnumValues(args []string) []string {
	values := make([]string, 0, len(args))
	for _, a := range args {
		if len(a) >= 2 && a[0] == '\'' && a[len(a)-1] == '\'' {
			a = a[1 : len(a)-1]
		}
		values = append(values, strings.ReplaceAll(a, "''", "'"))
	}
	return values
}

func intArg(args []string, i, fallback int) int {
	if i >= len(args) {
		return fallback
	}
	n, err := strconv.Atoi(args[i])
	if err != nil {
		return fallback
	}
	return n
}
