package dialect

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/tordrt/syncforge/internal/schema"
)

func TestMapIntegers(t *testing.T) {
	tests := []struct {
		name      string
		src       schema.ColumnType
		target    Dialect
		wantSQL   string
		ambiguous bool
	}{
		{"int to postgres", schema.ColumnType{Category: schema.CategoryInteger, Size: 4}, PostgreSQL, "INTEGER", false},
		{"tinyint to postgres widens", schema.ColumnType{Category: schema.CategoryInteger, Size: 1}, PostgreSQL, "SMALLINT", false},
		{"mediumint to sqlserver", schema.ColumnType{Category: schema.CategoryInteger, Size: 3}, SQLServer, "INT", false},
		{"int unsigned to postgres", schema.ColumnType{Category: schema.CategoryInteger, Size: 4, Unsigned: true}, PostgreSQL, "BIGINT", false},
		{"bigint unsigned to postgres", schema.ColumnType{Category: schema.CategoryInteger, Size: 8, Unsigned: true}, PostgreSQL, "BIGINT", true},
		{"bigint unsigned to sqlite", schema.ColumnType{Category: schema.CategoryInteger, Size: 8, Unsigned: true}, SQLite, "INTEGER", true},
		{"bigint unsigned to sqlserver", schema.ColumnType{Category: schema.CategoryInteger, Size: 8, Unsigned: true}, SQLServer, "BIGINT", true},
		{"bigint unsigned stays in mysql", schema.ColumnType{Category: schema.CategoryInteger, Size: 8, Unsigned: true}, MySQL, "BIGINT UNSIGNED", false},
		{"tinyint unsigned to sqlserver", schema.ColumnType{Category: schema.CategoryInteger, Size: 1, Unsigned: true}, SQLServer, "TINYINT", false},
		{"smallint to sqlite", schema.ColumnType{Category: schema.CategoryInteger, Size: 2}, SQLite, "INTEGER", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m := Map(tt.src, tt.target)
			assert.Equal(t, tt.wantSQL, m.SQL)
			assert.Equal(t, tt.ambiguous, m.Ambiguous())
			if m.Ambiguous() {
				assert.NotEmpty(t, m.Ambiguity.Reason)
				assert.Equal(t, tt.target, m.Ambiguity.Target)
			}
		})
	}
}

func TestMapBooleanEmulation(t *testing.T) {
	b := schema.ColumnType{Category: schema.CategoryBoolean}

	assert.Equal(t, "BOOLEAN", Map(b, PostgreSQL).SQL)
	assert.Equal(t, "TINYINT(1)", Map(b, MySQL).SQL)
	assert.Equal(t, "BIT", Map(b, SQLServer).SQL)
	assert.Equal(t, "INTEGER", Map(b, SQLite).SQL)

	// a mysql tinyint(1) read back normalizes to the same shape
	fromMySQL := ParseType(MySQL, "tinyint")
	assert.True(t, Equivalent(Map(b, MySQL).Type, Map(fromMySQL, MySQL).Type))
}

func TestMapRoundTripsThroughParse(t *testing.T) {
	sources := []schema.ColumnType{
		{Category: schema.CategoryInteger, Size: 2},
		{Category: schema.CategoryInteger, Size: 8},
		{Category: schema.CategoryDecimal, Precision: 12, Scale: 3},
		{Category: schema.CategoryFloat, Size: 8},
		{Category: schema.CategoryVarchar, Length: 100},
		{Category: schema.CategoryChar, Length: 2},
		{Category: schema.CategoryText},
		{Category: schema.CategoryBlob},
		{Category: schema.CategoryDate},
		{Category: schema.CategoryTimestamp, Precision: 3},
		{Category: schema.CategoryUUID},
	}

	for _, d := range All {
		for _, src := range sources {
			m := Map(src, d)
			back := ParseType(d, m.SQL)
			assert.True(t, Equivalent(m.Type, back), "%s: %s parsed back as %+v, want %+v", d, m.SQL, back, m.Type)
		}
	}
}

func TestMapAmbiguities(t *testing.T) {
	tz := schema.ColumnType{Category: schema.CategoryTimestamp, WithTimeZone: true}
	assert.True(t, Map(tz, MySQL).Ambiguous())
	assert.False(t, Map(tz, PostgreSQL).Ambiguous())
	assert.Equal(t, "DATETIMEOFFSET", Map(tz, SQLServer).SQL)

	wide := schema.ColumnType{Category: schema.CategoryDecimal, Precision: 60, Scale: 4}
	m := Map(wide, SQLServer)
	assert.True(t, m.Ambiguous())
	assert.Equal(t, "DECIMAL(38,4)", m.SQL)

	enum := schema.ColumnType{Category: schema.CategoryEnum, Values: []string{"on", "off"}}
	assert.Equal(t, "ENUM('on','off')", Map(enum, MySQL).SQL)
	pg := Map(enum, PostgreSQL)
	assert.Equal(t, "VARCHAR(3)", pg.SQL)
	assert.True(t, pg.Ambiguous())

	other := schema.ColumnType{Category: schema.CategoryOther, Raw: "geometry"}
	assert.True(t, Map(other, PostgreSQL).Ambiguous())
}

func TestMapFromKeepsSameDialectSpelling(t *testing.T) {
	ts := ParseType(MySQL, "timestamp")
	assert.Equal(t, "timestamp", MapFrom(MySQL, ts, MySQL).SQL)
	assert.Equal(t, "TIMESTAMP", MapFrom(MySQL, ts, PostgreSQL).SQL)
}

func TestClassify(t *testing.T) {
	i4 := schema.ColumnType{Category: schema.CategoryInteger, Size: 4}
	i8 := schema.ColumnType{Category: schema.CategoryInteger, Size: 8}
	u4 := schema.ColumnType{Category: schema.CategoryInteger, Size: 4, Unsigned: true}
	v10 := schema.ColumnType{Category: schema.CategoryVarchar, Length: 10}
	v20 := schema.ColumnType{Category: schema.CategoryVarchar, Length: 20}
	text := schema.ColumnType{Category: schema.CategoryText}
	d52 := schema.ColumnType{Category: schema.CategoryDecimal, Precision: 5, Scale: 2}
	d83 := schema.ColumnType{Category: schema.CategoryDecimal, Precision: 8, Scale: 3}

	assert.Equal(t, ConversionNone, Classify(i4, i4))
	assert.Equal(t, ConversionWidening, Classify(i4, i8))
	assert.Equal(t, ConversionNarrowing, Classify(i8, i4))
	assert.Equal(t, ConversionWidening, Classify(u4, i8))
	assert.Equal(t, ConversionChange, Classify(i4, u4))
	assert.Equal(t, ConversionWidening, Classify(v10, v20))
	assert.Equal(t, ConversionWidening, Classify(v20, text))
	assert.Equal(t, ConversionNarrowing, Classify(text, v10))
	assert.Equal(t, ConversionWidening, Classify(d52, d83))
	assert.Equal(t, ConversionChange, Classify(v10, i4))
}
