package dialect

import (
	"github.com/tordrt/syncforge/internal/schema"
)

// Conversion describes the effect of changing a column from one type to another
type Conversion int

const (
	ConversionNone Conversion = iota
	ConversionWidening
	ConversionNarrowing
	ConversionChange
)

func (c Conversion) String() string {
	switch c {
	case ConversionNone:
		return "none"
	case ConversionWidening:
		return "widening"
	case ConversionNarrowing:
		return "narrowing"
	default:
		return "change"
	}
}

// Classify reports whether every value of from fits to (widening), every
// value of to fits from (narrowing), or neither.
func Classify(from, to schema.ColumnType) Conversion {
	if Equivalent(from, to) {
		return ConversionNone
	}
	if contains(to, from) {
		return ConversionWidening
	}
	if contains(from, to) {
		return ConversionNarrowing
	}
	return ConversionChange
}

// contains reports whether outer can hold every value of inner
func contains(outer, inner schema.ColumnType) bool {
	switch {
	case outer.Category == inner.Category:
		return sameCategoryContains(outer, inner)
	case inner.Category == schema.CategoryBoolean && outer.Category == schema.CategoryInteger:
		return true
	case inner.Category == schema.CategoryInteger && outer.Category == schema.CategoryDecimal:
		return outer.Precision == 0 || outer.Precision-outer.Scale >= integerDigits(inner)
	case inner.Category == schema.CategoryInteger && outer.Category == schema.CategoryFloat:
		return outer.Size == 8 && inner.Size <= 4
	case inner.Category == schema.CategoryChar && outer.Category == schema.CategoryVarchar:
		return unbounded(outer.Length) >= unbounded(inner.Length)
	case (inner.Category == schema.CategoryChar || inner.Category == schema.CategoryVarchar) && outer.Category == schema.CategoryText:
		return true
	case inner.Category.IsBinary() && outer.Category == schema.CategoryBlob:
		return true
	case inner.Category == schema.CategoryBinary && outer.Category == schema.CategoryVarbinary:
		return unbounded(outer.Length) >= unbounded(inner.Length)
	case inner.Category == schema.CategoryDate && outer.Category == schema.CategoryTimestamp:
		return true
	}
	return false
}

func sameCategoryContains(outer, inner schema.ColumnType) bool {
	switch outer.Category {
	case schema.CategoryInteger:
		if inner.Unsigned != outer.Unsigned && !outer.Unsigned {
			return magnitudeBits(outer) >= magnitudeBits(inner)
		}
		if inner.Unsigned != outer.Unsigned {
			// outer unsigned cannot hold negative values
			return false
		}
		return outer.Size >= inner.Size
	case schema.CategoryDecimal:
		if outer.Precision == 0 {
			return true
		}
		if inner.Precision == 0 {
			return false
		}
		return outer.Precision-outer.Scale >= inner.Precision-inner.Scale && outer.Scale >= inner.Scale
	case schema.CategoryFloat:
		return outer.Size >= inner.Size
	case schema.CategoryChar, schema.CategoryVarchar, schema.CategoryBinary, schema.CategoryVarbinary:
		return unbounded(outer.Length) >= unbounded(inner.Length)
	case schema.CategoryText, schema.CategoryBlob:
		return unbounded(outer.Size) >= unbounded(inner.Size)
	case schema.CategoryTime, schema.CategoryTimestamp:
		return outer.Precision >= inner.Precision && (outer.WithTimeZone || !inner.WithTimeZone)
	case schema.CategoryEnum:
		for _, v := range inner.Values {
			found := false
			for _, o := range outer.Values {
				if o == v {
					found = true
					break
				}
			}
			if !found {
				return false
			}
		}
		return true
	}
	return false
}

func magnitudeBits(t schema.ColumnType) int {
	bits := t.Size * 8
	if !t.Unsigned {
		bits--
	}
	return bits
}

// integerDigits is the decimal digit count of the largest value of an integer type
func integerDigits(t schema.ColumnType) int {
	switch magnitudeBits(t) {
	case 7, 8:
		return 3
	case 15, 16:
		return 5
	case 23, 24:
		return 8
	case 31, 32:
		return 10
	case 63:
		return 19
	default:
		return 20
	}
}

// unbounded treats zero as the largest possible length
func unbounded(n int) int {
	if n == 0 {
		return int(^uint(0) >> 1)
	}
	return n
}
