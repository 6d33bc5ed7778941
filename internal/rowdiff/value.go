package rowdiff

import (
	"bytes"
	"encoding/hex"
	"fmt"
	"math"
	"math/big"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/zeebo/blake3"

	"github.com/tordrt/syncforge/internal/schema"
)

// LargeValue stands in for a text or binary value above the hash threshold.
// Two large values are equal when their sizes and BLAKE3 digests match.
type LargeValue struct {
	Size int64
	Sum  [32]byte
}

// Digest hashes a value's bytes
func Digest(b []byte) LargeValue {
	return LargeValue{Size: int64(len(b)), Sum: blake3.Sum256(b)}
}

func (v LargeValue) String() string {
	return fmt.Sprintf("<%d bytes blake3:%s>", v.Size, hex.EncodeToString(v.Sum[:8]))
}

// hashLarge replaces a value longer than threshold with its digest. Text is
// folded first under the active comparison modes so that equal-by-mode values
// share a digest.
func hashLarge(t schema.ColumnType, v any, threshold int64, opts Options) any {
	if threshold < 0 {
		return v
	}
	switch x := v.(type) {
	case []byte:
		if int64(len(x)) > threshold {
			return digestValue(t, x, opts)
		}
	case string:
		if int64(len(x)) > threshold {
			return digestValue(t, []byte(x), opts)
		}
	}
	return v
}

func digestValue(t schema.ColumnType, b []byte, opts Options) LargeValue {
	if t.Category.IsText() {
		return Digest([]byte(foldText(string(b), opts)))
	}
	return Digest(b)
}

func digestOf(t schema.ColumnType, v any, opts Options) (LargeValue, bool) {
	switch x := v.(type) {
	case LargeValue:
		return x, true
	case []byte:
		return digestValue(t, x, opts), true
	case string:
		return digestValue(t, []byte(x), opts), true
	}
	return LargeValue{}, false
}

// valuesEqual compares two column values by meaning rather than representation
func valuesEqual(t schema.ColumnType, a, b any, opts Options) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}

	_, aLarge := a.(LargeValue)
	_, bLarge := b.(LargeValue)
	if aLarge || bLarge {
		da, okA := digestOf(t, a, opts)
		db, okB := digestOf(t, b, opts)
		return okA && okB && da == db
	}

	switch {
	case t.Category.IsNumeric():
		if ra, ok := toRat(a); ok {
			if rb, ok := toRat(b); ok {
				return ra.Cmp(rb) == 0
			}
		}
	case t.Category == schema.CategoryBoolean:
		if ba, ok := toBool(a); ok {
			if bb, ok := toBool(b); ok {
				return ba == bb
			}
		}
	case t.Category == schema.CategoryUUID:
		if ua, ok := toUUID(a); ok {
			if ub, ok := toUUID(b); ok {
				return ua == ub
			}
		}
	case t.Category.IsBinary():
		return bytes.Equal(toBytes(a), toBytes(b))
	case t.Category.IsText():
		return textEqual(toString(a), toString(b), opts)
	case t.Category == schema.CategoryDate, t.Category == schema.CategoryTime, t.Category == schema.CategoryTimestamp:
		if ta, ok := toTime(a); ok {
			if tb, ok := toTime(b); ok {
				return ta.Equal(tb)
			}
		}
	}

	return toString(a) == toString(b)
}

func textEqual(a, b string, opts Options) bool {
	if opts.IgnoreWhitespace {
		a = collapseSpace(a)
		b = collapseSpace(b)
	}
	if opts.CaseInsensitiveText {
		return strings.EqualFold(a, b)
	}
	return a == b
}

func collapseSpace(s string) string {
	return strings.Join(strings.Fields(s), " ")
}

// foldText normalizes text the way textEqual compares it
func foldText(s string, opts Options) string {
	if opts.IgnoreWhitespace {
		s = collapseSpace(s)
	}
	if opts.CaseInsensitiveText {
		s = strings.ToLower(strings.ToUpper(s))
	}
	return s
}

// compareKeys orders two primary key tuples component by component
func compareKeys(types []schema.ColumnType, a, b []any) (int, error) {
	for i := range a {
		c, err := compareKeyValue(types[i], a[i], b[i])
		if err != nil {
			return 0, err
		}
		if c != 0 {
			return c, nil
		}
	}
	return 0, nil
}

func compareKeyValue(t schema.ColumnType, a, b any) (int, error) {
	if a == nil || b == nil {
		return 0, fmt.Errorf("primary key value is NULL")
	}

	switch {
	case t.Category.IsNumeric() || t.Category == schema.CategoryBoolean:
		ra, okA := toRat(a)
		rb, okB := toRat(b)
		if !okA || !okB {
			return 0, fmt.Errorf("cannot compare key values %v and %v numerically", a, b)
		}
		return ra.Cmp(rb), nil
	case t.Category == schema.CategoryUUID:
		ua, okA := toUUID(a)
		ub, okB := toUUID(b)
		if okA && okB {
			return bytes.Compare(ua[:], ub[:]), nil
		}
	case t.Category == schema.CategoryDate, t.Category == schema.CategoryTime, t.Category == schema.CategoryTimestamp:
		ta, okA := toTime(a)
		tb, okB := toTime(b)
		if okA && okB {
			return ta.Compare(tb), nil
		}
	}

	// binary collation
	return bytes.Compare(toBytes(a), toBytes(b)), nil
}

func toRat(v any) (*big.Rat, bool) {
	switch x := v.(type) {
	case int:
		return new(big.Rat).SetInt64(int64(x)), true
	case int8:
		return new(big.Rat).SetInt64(int64(x)), true
	case int16:
		return new(big.Rat).SetInt64(int64(x)), true
	case int32:
		return new(big.Rat).SetInt64(int64(x)), true
	case int64:
		return new(big.Rat).SetInt64(x), true
	case uint:
		return new(big.Rat).SetUint64(uint64(x)), true
	case uint8:
		return new(big.Rat).SetUint64(uint64(x)), true
	case uint16:
		return new(big.Rat).SetUint64(uint64(x)), true
	case uint32:
		return new(big.Rat).SetUint64(uint64(x)), true
	case uint64:
		return new(big.Rat).SetUint64(x), true
	case float32:
		return floatRat(float64(x))
	case float64:
		return floatRat(x)
	case bool:
		if x {
			return big.NewRat(1, 1), true
		}
		return new(big.Rat), true
	case *big.Rat:
		return x, true
	case string:
		return new(big.Rat).SetString(strings.TrimSpace(x))
	case []byte:
		return new(big.Rat).SetString(strings.TrimSpace(string(x)))
	}
	return nil, false
}

// floatRat converts through the shortest decimal form so that 0.1 read as a
// float matches 0.1 read as a decimal string.
func floatRat(f float64) (*big.Rat, bool) {
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return nil, false
	}
	return new(big.Rat).SetString(strconv.FormatFloat(f, 'g', -1, 64))
}

func toBool(v any) (bool, bool) {
	switch x := v.(type) {
	case bool:
		return x, true
	case string, []byte:
		s := strings.ToLower(strings.TrimSpace(toString(x)))
		switch s {
		case "1", "t", "true", "y", "yes", "on":
			return true, true
		case "0", "f", "false", "n", "no", "off":
			return false, true
		}
		return false, false
	}
	if r, ok := toRat(v); ok {
		return r.Sign() != 0, true
	}
	return false, false
}

func toUUID(v any) (uuid.UUID, bool) {
	switch x := v.(type) {
	case uuid.UUID:
		return x, true
	case [16]byte:
		return uuid.UUID(x), true
	case []byte:
		if len(x) == 16 {
			u, err := uuid.FromBytes(x)
			return u, err == nil
		}
		u, err := uuid.ParseBytes(x)
		return u, err == nil
	case string:
		u, err := uuid.Parse(x)
		return u, err == nil
	}
	return uuid.UUID{}, false
}

var timeLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02 15:04:05.999999999Z07:00",
	"2006-01-02 15:04:05.999999999-07:00",
	"2006-01-02 15:04:05.999999999",
	"2006-01-02T15:04:05.999999999",
	"2006-01-02",
	"15:04:05.999999999",
}

func toTime(v any) (time.Time, bool) {
	switch x := v.(type) {
	case time.Time:
		return x, true
	case string, []byte:
		s := strings.TrimSpace(toString(x))
		for _, layout := range timeLayouts {
			if t, err := time.Parse(layout, s); err == nil {
				return t, true
			}
		}
	}
	return time.Time{}, false
}

func toBytes(v any) []byte {
	switch x := v.(type) {
	case []byte:
		return x
	case string:
		return []byte(x)
	}
	return []byte(toString(v))
}

func toString(v any) string {
	switch x := v.(type) {
	case nil:
		return ""
	case string:
		return x
	case []byte:
		return string(x)
	case time.Time:
		return x.Format(time.RFC3339Nano)
	case *big.Rat:
		return x.RatString()
	case fmt.Stringer:
		return x.String()
	}
	return fmt.Sprint(v)
}
