package dialect

import (
	"fmt"
	"slices"
	"strings"

	"github.com/tordrt/syncforge/internal/schema"
)

// Ambiguity explains why a mapping may lose information. It is a warning to
// surface in previews, never an error.
type Ambiguity struct {
	Source schema.ColumnType
	Target Dialect
	Reason string
}

func (a *Ambiguity) String() string {
	return fmt.Sprintf("%s -> %s: %s", a.Source, a.Target, a.Reason)
}

// Mapping is a type rendered for a target dialect. Type is the normalized
// form the target catalog would report back for SQL.
type Mapping struct {
	Type      schema.ColumnType
	SQL       string
	Ambiguity *Ambiguity
}

// Ambiguous reports whether the mapping may lose information
func (m Mapping) Ambiguous() bool {
	return m.Ambiguity != nil
}

// MapFrom maps a type captured from source into target. Same-dialect types
// keep their catalog spelling.
func MapFrom(source Dialect, t schema.ColumnType, target Dialect) Mapping {
	if source == target && t.Raw != "" {
		return Mapping{Type: t, SQL: t.Raw}
	}
	return Map(t, target)
}

// Map translates a normalized type to the nearest equivalent in target
func Map(t schema.ColumnType, target Dialect) Mapping {
	m := mapper{src: t, target: target, caps: target.Capabilities()}

	var res Mapping
	switch t.Category {
	case schema.CategoryInteger:
		res = m.integer()
	case schema.CategoryDecimal:
		res = m.decimal()
	case schema.CategoryFloat:
		res = m.float()
	case schema.CategoryBoolean:
		res = m.boolean()
	case schema.CategoryChar:
		res = m.char()
	case schema.CategoryVarchar:
		res = m.varchar(t.Length)
	case schema.CategoryText:
		res = m.text(t.Size)
	case schema.CategoryBinary, schema.CategoryVarbinary:
		res = m.binary()
	case schema.CategoryBlob:
		res = m.blob(t.Size)
	case schema.CategoryDate:
		res = m.mapped(schema.ColumnType{Category: schema.CategoryDate}, "DATE")
	case schema.CategoryTime:
		res = m.time()
	case schema.CategoryTimestamp:
		res = m.timestamp()
	case schema.CategoryInterval:
		res = m.interval()
	case schema.CategoryJSON:
		res = m.json()
	case schema.CategoryUUID:
		res = m.uuid()
	case schema.CategoryEnum:
		res = m.enum()
	default:
		res = m.text(0)
		res.Ambiguity = m.ambiguous("no equivalent for %s, stored as text", t)
	}

	res.Type.Raw = res.SQL
	return res
}

type mapper struct {
	src    schema.ColumnType
	target Dialect
	caps   Capabilities
}

func (m mapper) mapped(t schema.ColumnType, sql string) Mapping {
	return Mapping{Type: t, SQL: sql}
}

func (m mapper) ambiguous(format string, args ...any) *Ambiguity {
	return &Ambiguity{Source: m.src, Target: m.target, Reason: fmt.Sprintf(format, args...)}
}

var (
	mysqlIntegers     = map[int]string{1: "TINYINT", 2: "SMALLINT", 3: "MEDIUMINT", 4: "INT", 8: "BIGINT"}
	postgresIntegers  = map[int]string{2: "SMALLINT", 4: "INTEGER", 8: "BIGINT"}
	sqlserverIntegers = map[int]string{2: "SMALLINT", 4: "INT", 8: "BIGINT"}
)

func (m mapper) integer() Mapping {
	size := m.src.Size
	if size == 0 {
		size = 4
	}

	switch m.target {
	case MySQL:
		name, ok := mysqlIntegers[size]
		if !ok {
			size, name = 8, "BIGINT"
		}
		if m.src.Unsigned {
			name += " UNSIGNED"
		}
		return m.mapped(schema.ColumnType{Category: schema.CategoryInteger, Size: size, Unsigned: m.src.Unsigned}, name)
	case SQLite:
		res := m.mapped(schema.ColumnType{Category: schema.CategoryInteger, Size: 8}, "INTEGER")
		if m.src.Unsigned && size >= 8 {
			res.Ambiguity = m.ambiguous("unsigned 64-bit values above 9223372036854775807 do not fit a signed INTEGER")
		}
		return res
	case SQLServer:
		if m.src.Unsigned && size == 1 {
			return m.mapped(schema.ColumnType{Category: schema.CategoryInteger, Size: 1, Unsigned: true}, "TINYINT")
		}
		return m.signedWidth(size, sqlserverIntegers)
	default:
		return m.signedWidth(size, postgresIntegers)
	}
}

// signedWidth picks the smallest signed width holding the source range.
// An unsigned source needs one more bit than its storage width.
func (m mapper) signedWidth(size int, names map[int]string) Mapping {
	needed := size
	if m.src.Unsigned {
		needed = size + 1
	}
	for _, w := range []int{2, 4, 8} {
		if w >= needed {
			return m.mapped(schema.ColumnType{Category: schema.CategoryInteger, Size: w}, names[w])
		}
	}
	res := m.mapped(schema.ColumnType{Category: schema.CategoryInteger, Size: 8}, names[8])
	res.Ambiguity = m.ambiguous("%s has no unsigned integers; values above 9223372036854775807 do not fit %s", m.target, names[8])
	return res
}

func (m mapper) decimal() Mapping {
	p, s := m.src.Precision, m.src.Scale
	var amb *Ambiguity

	switch {
	case p == 0 && m.target == MySQL:
		p, s = 65, 30
		amb = m.ambiguous("unbounded numeric limited to DECIMAL(65,30)")
	case p == 0 && m.target == SQLServer:
		p, s = 38, 10
		amb = m.ambiguous("unbounded numeric limited to DECIMAL(38,10)")
	case p > m.caps.MaxDecimalDigits:
		amb = m.ambiguous("precision %d exceeds the %s maximum of %d", p, m.target, m.caps.MaxDecimalDigits)
		p = m.caps.MaxDecimalDigits
		s = min(s, p)
	}
	if m.target == MySQL && s > 30 {
		amb = m.ambiguous("scale %d exceeds the mysql maximum of 30", s)
		s = 30
	}

	name := "DECIMAL"
	if m.target == PostgreSQL || m.target == SQLite {
		name = "NUMERIC"
	}
	sql := name
	if p > 0 {
		sql = fmt.Sprintf("%s(%d,%d)", name, p, s)
	}

	res := m.mapped(schema.ColumnType{Category: schema.CategoryDecimal, Precision: p, Scale: s}, sql)
	res.Ambiguity = amb
	return res
}

func (m mapper) float() Mapping {
	double := m.src.Size != 4
	switch m.target {
	case MySQL:
		if double {
			return m.mapped(schema.ColumnType{Category: schema.CategoryFloat, Size: 8}, "DOUBLE")
		}
		return m.mapped(schema.ColumnType{Category: schema.CategoryFloat, Size: 4}, "FLOAT")
	case SQLServer:
		if double {
			return m.mapped(schema.ColumnType{Category: schema.CategoryFloat, Size: 8}, "FLOAT")
		}
		return m.mapped(schema.ColumnType{Category: schema.CategoryFloat, Size: 4}, "REAL")
	case SQLite:
		return m.mapped(schema.ColumnType{Category: schema.CategoryFloat, Size: 8}, "REAL")
	default:
		if double {
			return m.mapped(schema.ColumnType{Category: schema.CategoryFloat, Size: 8}, "DOUBLE PRECISION")
		}
		return m.mapped(schema.ColumnType{Category: schema.CategoryFloat, Size: 4}, "REAL")
	}
}

// boolean falls back to the smallest integer where there is no native type
func (m mapper) boolean() Mapping {
	switch m.target {
	case MySQL:
		return m.mapped(schema.ColumnType{Category: schema.CategoryInteger, Size: 1}, "TINYINT(1)")
	case SQLServer:
		return m.mapped(schema.ColumnType{Category: schema.CategoryBoolean}, "BIT")
	case SQLite:
		return m.mapped(schema.ColumnType{Category: schema.CategoryInteger, Size: 8}, "INTEGER")
	default:
		return m.mapped(schema.ColumnType{Category: schema.CategoryBoolean}, "BOOLEAN")
	}
}

func (m mapper) char() Mapping {
	n := max(m.src.Length, 1)
	if n > m.caps.MaxCharLength {
		res := m.varchar(n)
		res.Ambiguity = m.ambiguous("CHAR(%d) exceeds the %s fixed-width maximum, padding semantics are lost", n, m.target)
		return res
	}
	name := "CHAR"
	if m.target == SQLServer {
		name = "NCHAR"
	}
	return m.mapped(schema.ColumnType{Category: schema.CategoryChar, Length: n}, fmt.Sprintf("%s(%d)", name, n))
}

func (m mapper) varchar(n int) Mapping {
	if n == 0 || n > m.caps.MaxVarcharLength {
		return m.text(0)
	}
	name := "VARCHAR"
	if m.target == SQLServer {
		name = "NVARCHAR"
	}
	return m.mapped(schema.ColumnType{Category: schema.CategoryVarchar, Length: n}, fmt.Sprintf("%s(%d)", name, n))
}

var (
	mysqlTexts = map[int]string{1: "TINYTEXT", 2: "TEXT", 3: "MEDIUMTEXT", 4: "LONGTEXT"}
	mysqlBlobs = map[int]string{1: "TINYBLOB", 2: "BLOB", 3: "MEDIUMBLOB", 4: "LONGBLOB"}
)

func (m mapper) text(size int) Mapping {
	switch m.target {
	case MySQL:
		if _, ok := mysqlTexts[size]; !ok {
			size = 4
		}
		return m.mapped(schema.ColumnType{Category: schema.CategoryText, Size: size}, mysqlTexts[size])
	case SQLServer:
		return m.mapped(schema.ColumnType{Category: schema.CategoryText}, "NVARCHAR(MAX)")
	default:
		return m.mapped(schema.ColumnType{Category: schema.CategoryText}, "TEXT")
	}
}

func (m mapper) binary() Mapping {
	n := m.src.Length
	fixed := m.src.Category == schema.CategoryBinary

	switch m.target {
	case MySQL:
		switch {
		case fixed && n > 0 && n <= 255:
			return m.mapped(schema.ColumnType{Category: schema.CategoryBinary, Length: n}, fmt.Sprintf("BINARY(%d)", n))
		case n > 0 && n <= 65535:
			return m.mapped(schema.ColumnType{Category: schema.CategoryVarbinary, Length: n}, fmt.Sprintf("VARBINARY(%d)", n))
		}
		return m.blob(0)
	case SQLServer:
		switch {
		case fixed && n > 0 && n <= 8000:
			return m.mapped(schema.ColumnType{Category: schema.CategoryBinary, Length: n}, fmt.Sprintf("BINARY(%d)", n))
		case n > 0 && n <= 8000:
			return m.mapped(schema.ColumnType{Category: schema.CategoryVarbinary, Length: n}, fmt.Sprintf("VARBINARY(%d)", n))
		}
		return m.blob(0)
	default:
		return m.blob(0)
	}
}

func (m mapper) blob(size int) Mapping {
	switch m.target {
	case MySQL:
		if _, ok := mysqlBlobs[size]; !ok {
			size = 4
		}
		return m.mapped(schema.ColumnType{Category: schema.CategoryBlob, Size: size}, mysqlBlobs[size])
	case PostgreSQL:
		return m.mapped(schema.ColumnType{Category: schema.CategoryBlob}, "BYTEA")
	case SQLServer:
		return m.mapped(schema.ColumnType{Category: schema.CategoryBlob}, "VARBINARY(MAX)")
	default:
		return m.mapped(schema.ColumnType{Category: schema.CategoryBlob}, "BLOB")
	}
}

// maxFractionalDigits is the largest fractional-second precision per engine
func (m mapper) maxFractionalDigits() int {
	if m.target == SQLServer {
		return 7
	}
	return 6
}

func (m mapper) withPrecision(name string, p int) string {
	if p <= 0 {
		return name
	}
	return fmt.Sprintf("%s(%d)", name, p)
}

func (m mapper) time() Mapping {
	p := min(m.src.Precision, m.maxFractionalDigits())
	if m.target == PostgreSQL && m.src.WithTimeZone {
		return m.mapped(schema.ColumnType{Category: schema.CategoryTime, Precision: p, WithTimeZone: true}, m.withPrecision("TIMETZ", p))
	}
	res := m.mapped(schema.ColumnType{Category: schema.CategoryTime, Precision: p}, m.withPrecision("TIME", p))
	if m.src.WithTimeZone {
		res.Ambiguity = m.ambiguous("%s TIME has no time zone, offsets are dropped", m.target)
	}
	return res
}

func (m mapper) timestamp() Mapping {
	p := min(m.src.Precision, m.maxFractionalDigits())
	tz := m.src.WithTimeZone

	var res Mapping
	switch m.target {
	case MySQL:
		res = m.mapped(schema.ColumnType{Category: schema.CategoryTimestamp, Precision: p}, m.withPrecision("DATETIME", p))
	case SQLServer:
		if tz {
			return m.mapped(schema.ColumnType{Category: schema.CategoryTimestamp, Precision: p, WithTimeZone: true}, m.withPrecision("DATETIMEOFFSET", p))
		}
		return m.mapped(schema.ColumnType{Category: schema.CategoryTimestamp, Precision: p}, m.withPrecision("DATETIME2", p))
	case SQLite:
		res = m.mapped(schema.ColumnType{Category: schema.CategoryTimestamp, Precision: p}, m.withPrecision("DATETIME", p))
	default:
		if tz {
			return m.mapped(schema.ColumnType{Category: schema.CategoryTimestamp, Precision: p, WithTimeZone: true}, m.withPrecision("TIMESTAMPTZ", p))
		}
		return m.mapped(schema.ColumnType{Category: schema.CategoryTimestamp, Precision: p}, m.withPrecision("TIMESTAMP", p))
	}

	if tz {
		res.Ambiguity = m.ambiguous("%s %s has no time zone, offsets are dropped", m.target, res.SQL)
	}
	return res
}

func (m mapper) interval() Mapping {
	if m.target == PostgreSQL {
		return m.mapped(schema.ColumnType{Category: schema.CategoryInterval}, "INTERVAL")
	}
	res := m.varchar(64)
	res.Ambiguity = m.ambiguous("%s has no interval type, stored as text", m.target)
	return res
}

func (m mapper) json() Mapping {
	switch m.target {
	case MySQL:
		return m.mapped(schema.ColumnType{Category: schema.CategoryJSON}, "JSON")
	case PostgreSQL:
		return m.mapped(schema.ColumnType{Category: schema.CategoryJSON}, "JSONB")
	default:
		return m.text(0)
	}
}

func (m mapper) uuid() Mapping {
	switch m.target {
	case PostgreSQL:
		return m.mapped(schema.ColumnType{Category: schema.CategoryUUID}, "UUID")
	case SQLServer:
		return m.mapped(schema.ColumnType{Category: schema.CategoryUUID}, "UNIQUEIDENTIFIER")
	default:
		return m.mapped(schema.ColumnType{Category: schema.CategoryChar, Length: 36}, "CHAR(36)")
	}
}

func (m mapper) enum() Mapping {
	values := m.src.Values
	if m.target == MySQL && len(values) > 0 {
		quoted := make([]string, len(values))
		for i, v := range values {
			quoted[i] = "'" + strings.ReplaceAll(v, "'", "''") + "'"
		}
		t := schema.ColumnType{Category: schema.CategoryEnum, Values: slices.Clone(values)}
		return m.mapped(t, "ENUM("+strings.Join(quoted, ",")+")")
	}

	n := 0
	for _, v := range values {
		n = max(n, len(v))
	}
	if n == 0 {
		n = 255
	}
	res := m.varchar(n)
	res.Ambiguity = m.ambiguous("%s has no inline enum type, allowed values are not enforced", m.target)
	return res
}

// Equivalent compares two normalized types, ignoring catalog spelling
func Equivalent(a, b schema.ColumnType) bool {
	return a.Category == b.Category &&
		a.Size == b.Size &&
		a.Length == b.Length &&
		a.Precision == b.Precision &&
		a.Scale == b.Scale &&
		a.Unsigned == b.Unsigned &&
		a.WithTimeZone == b.WithTimeZone &&
		slices.Equal(a.Values, b.Values)
}
