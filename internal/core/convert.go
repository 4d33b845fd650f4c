package core

// convert.go renders field values as CSV cells and compares them.
//
// Values arrive from several places: strings from decoded CSV cells, int64
// from the integer processor, and whatever pgx hands back for a column
// (int32, time.Time, pgtype.Numeric, [16]byte for uuid, ...). Everything that
// ends up in a cell, a cache key or a change check goes through FormatValue so
// those paths agree on what a value looks like.

import (
	"database/sql/driver"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
)

// DateTimeLayout is the canonical textual form of timestamps.
const DateTimeLayout = "2006-01-02 15:04:05"

// FormatValue renders a field value as cell text. nil renders as "".
func FormatValue(v any) string {
	switch x := v.(type) {
	case nil:
		return ""
	case string:
		return x
	case []byte:
		return string(x)
	case bool:
		return strconv.FormatBool(x)
	case int:
		return strconv.Itoa(x)
	case int8:
		return strconv.FormatInt(int64(x), 10)
	case int16:
		return strconv.FormatInt(int64(x), 10)
	case int32:
		return strconv.FormatInt(int64(x), 10)
	case int64:
		return strconv.FormatInt(x, 10)
	case uint:
		return strconv.FormatUint(uint64(x), 10)
	case uint32:
		return strconv.FormatUint(uint64(x), 10)
	case uint64:
		return strconv.FormatUint(x, 10)
	case float32:
		return strconv.FormatFloat(float64(x), 'f', -1, 32)
	case float64:
		return strconv.FormatFloat(x, 'f', -1, 64)
	case time.Time:
		return x.Format(DateTimeLayout)
	case [16]byte:
		return uuid.UUID(x).String()
	case uuid.UUID:
		return x.String()
	case driver.Valuer:
		dv, err := x.Value()
		if err != nil {
			return ""
		}
		return FormatValue(dv)
	case fmt.Stringer:
		return x.String()
	default:
		return fmt.Sprint(x)
	}
}

// SameValue reports whether two field values render identically.
// nil only matches nil.
func SameValue(a, b any) bool {
	if isNull(a) || isNull(b) {
		return isNull(a) && isNull(b)
	}
	return FormatValue(a) == FormatValue(b)
}

// isNull treats nil and invalid driver values (pgtype with Valid=false) as null.
func isNull(v any) bool {
	if v == nil {
		return true
	}
	if dv, ok := v.(driver.Valuer); ok {
		inner, err := dv.Value()
		return err == nil && inner == nil
	}
	return false
}

// KeyOf returns the normalized lookup key for a business-key value.
func KeyOf(v any) string {
	return strings.ToLower(FormatValue(v))
}

// LeadingInt parses the leading integer of s the way lenient numeric
// coercion does: optional sign, then digits; anything else yields 0.
func LeadingInt(s string) int64 {
	s = strings.TrimSpace(s)
	end := 0
	if end < len(s) && (s[end] == '+' || s[end] == '-') {
		end++
	}
	digits := end
	for end < len(s) && s[end] >= '0' && s[end] <= '9' {
		end++
	}
	if end == digits {
		return 0
	}
	n, err := strconv.ParseInt(s[:end], 10, 64)
	if err != nil {
		// Overflow saturates like the parser does.
		if s[0] == '-' {
			return -1 << 63
		}
		return 1<<63 - 1
	}
	return n
}

// CleanCell trims whitespace and strips a leading UTF-8 BOM.
func CleanCell(s string) string {
	return strings.TrimSpace(strings.TrimPrefix(s, "\ufeff"))
}
