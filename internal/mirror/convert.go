package mirror

import (
	"strconv"
	"strings"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Raw upstream values arrive as string (XML), float64/bool/nil (JSON) or
// absent. The converters below normalise them; a row whose primary key does
// not convert is skipped by the mapper, never guessed.

func safeUUID(v any) (uuid.UUID, bool) {
	s, ok := v.(string)
	if !ok || s == "" {
		return uuid.Nil, false
	}
	u, err := uuid.Parse(s)
	if err != nil {
		return uuid.Nil, false
	}
	return u, true
}

// nullableUUID returns nil (SQL NULL) for absent or malformed values.
func nullableUUID(v any) any {
	if u, ok := safeUUID(v); ok {
		return u
	}
	return nil
}

func safeBool(v any) bool {
	switch t := v.(type) {
	case bool:
		return t
	case string:
		return strings.EqualFold(t, "true")
	default:
		return false
	}
}

// safeString returns "" for nil and stringifies numbers the way the
// upstream formats them in XML.
func safeString(v any) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return t
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64)
	case bool:
		return strconv.FormatBool(t)
	default:
		return ""
	}
}

// nullableString maps "" to SQL NULL.
func nullableString(v any) any {
	s := safeString(v)
	if s == "" {
		return nil
	}
	return s
}

// safeDecimal converts numeric upstream values to an exact decimal; nil or
// unparseable input yields (zero, false).
func safeDecimal(v any) (decimal.Decimal, bool) {
	switch t := v.(type) {
	case float64:
		return decimal.NewFromFloat(t), true
	case string:
		if t == "" {
			return decimal.Decimal{}, false
		}
		d, err := decimal.NewFromString(t)
		if err != nil {
			return decimal.Decimal{}, false
		}
		return d, true
	case int:
		return decimal.NewFromInt(int64(t)), true
	case int64:
		return decimal.NewFromInt(t), true
	default:
		return decimal.Decimal{}, false
	}
}

// nullableDecimal returns nil for absent or unparseable values.
func nullableDecimal(v any) any {
	if d, ok := safeDecimal(v); ok {
		return d
	}
	return nil
}

// safeInt64 handles the finance API's numeric ids, which arrive as JSON
// numbers or strings.
func safeInt64(v any) (int64, bool) {
	switch t := v.(type) {
	case float64:
		return int64(t), true
	case int64:
		return t, true
	case int:
		return int64(t), true
	case string:
		if t == "" {
			return 0, false
		}
		n, err := strconv.ParseInt(t, 10, 64)
		if err != nil {
			return 0, false
		}
		return n, true
	default:
		return 0, false
	}
}

// nullableInt64 returns nil for absent or unparseable values.
func nullableInt64(v any) any {
	if n, ok := safeInt64(v); ok {
		return n
	}
	return nil
}

// boolAsInt keeps the upstream's 0/1 flags as integers.
func boolAsInt(v any) any {
	switch t := v.(type) {
	case bool:
		if t {
			return 1
		}
		return 0
	case float64:
		return int(t)
	default:
		return nil
	}
}
