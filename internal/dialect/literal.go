package dialect

import (
	"encoding/hex"
	"fmt"
	"math"
	"math/big"
	"strconv"
	"time"

	"github.com/google/uuid"
)

// Literal renders a Go value as an SQL literal of the dialect
func (d Dialect) Literal(v any) (string, error) {
	switch x := v.(type) {
	case nil:
		return "NULL", nil
	case bool:
		if d == PostgreSQL {
			if x {
				return "TRUE", nil
			}
			return "FALSE", nil
		}
		if x {
			return "1", nil
		}
		return "0", nil
	case int:
		return strconv.FormatInt(int64(x), 10), nil
	case int8:
		return strconv.FormatInt(int64(x), 10), nil
	case int16:
		return strconv.FormatInt(int64(x), 10), nil
	case int32:
		return strconv.FormatInt(int64(x), 10), nil
	case int64:
		return strconv.FormatInt(x, 10), nil
	case uint:
		return strconv.FormatUint(uint64(x), 10), nil
	case uint8:
		return strconv.FormatUint(uint64(x), 10), nil
	case uint16:
		return strconv.FormatUint(uint64(x), 10), nil
	case uint32:
		return strconv.FormatUint(uint64(x), 10), nil
	case uint64:
		return strconv.FormatUint(x, 10), nil
	case float32:
		return d.floatLiteral(float64(x))
	case float64:
		return d.floatLiteral(x)
	case *big.Rat:
		if x.IsInt() {
			return x.Num().String(), nil
		}
		return x.FloatString(decimalDigits(x)), nil
	case string:
		return d.QuoteString(x), nil
	case []byte:
		return d.bytesLiteral(x), nil
	case uuid.UUID:
		return d.QuoteString(x.String()), nil
	case time.Time:
		return d.timeLiteral(x), nil
	case fmt.Stringer:
		return d.QuoteString(x.String()), nil
	default:
		return "", fmt.Errorf("cannot render %T as a %s literal", v, d)
	}
}

func (d Dialect) floatLiteral(f float64) (string, error) {
	if math.IsNaN(f) || math.IsInf(f, 0) {
		if d == PostgreSQL {
			return d.QuoteString(strconv.FormatFloat(f, 'g', -1, 64)) + "::float8", nil
		}
		return "", fmt.Errorf("%s cannot store %v", d, f)
	}
	return strconv.FormatFloat(f, 'g', -1, 64), nil
}

func (d Dialect) bytesLiteral(b []byte) string {
	h := hex.EncodeToString(b)
	switch d {
	case PostgreSQL:
		return `'\x` + h + `'::bytea`
	case SQLServer:
		return "0x" + h
	default:
		return "X'" + h + "'"
	}
}

func (d Dialect) timeLiteral(t time.Time) string {
	switch d {
	case PostgreSQL, SQLServer:
		return d.QuoteString(t.Format("2006-01-02 15:04:05.999999999-07:00"))
	case MySQL:
		return d.QuoteString(t.Format("2006-01-02 15:04:05.999999"))
	default:
		return d.QuoteString(t.Format("2006-01-02 15:04:05.999999999Z07:00"))
	}
}

// decimalDigits returns the fractional digits needed to print r exactly when
// its denominator has only factors 2 and 5, and a fixed width otherwise.
func decimalDigits(r *big.Rat) int {
	den := new(big.Int).Set(r.Denom())
	mod := new(big.Int)
	count := func(f int64) int {
		n := 0
		div := big.NewInt(f)
		for {
			mod.Mod(den, div)
			if mod.Sign() != 0 {
				return n
			}
			den.Div(den, div)
			n++
		}
	}
	twos, fives := count(2), count(5)
	if den.Cmp(big.NewInt(1)) != 0 {
		return 30
	}
	return max(twos, fives)
}
