package settings

import (
	"errors"
	"math"
	"strconv"
)

// Coerce converts v to the Go type of like where the conversion is lossless.
// Values from JSON arrive as float64, strings and []any; NetworkManager
// expects the exact wire type of the setting they replace. v is returned
// unchanged when it cannot be converted.
func Coerce(v, like any) any {
	switch like.(type) {
	case uint32:
		if n, ok := toUint64(v); ok && n <= math.MaxUint32 {
			return uint32(n)
		}
	case int32:
		if n, ok := toInt64(v); ok && n >= math.MinInt32 && n <= math.MaxInt32 {
			return int32(n)
		}
	case uint64:
		if n, ok := toUint64(v); ok {
			return n
		}
	case int64:
		if n, ok := toInt64(v); ok {
			return n
		}
	case bool:
		switch t := v.(type) {
		case bool:
			return t
		case string:
			if b, err := strconv.ParseBool(t); err == nil {
				return b
			}
		}
	case []byte:
		if s, ok := v.(string); ok {
			return []byte(s)
		}
	case []string:
		if list, ok := v.([]any); ok {
			out := make([]string, 0, len(list))
			for _, e := range list {
				s, ok := e.(string)
				if !ok {
					return v
				}
				out = append(out, s)
			}
			return out
		}
	}
	return v
}

// Bounds as float64. Both are exact powers of two and lie one past the
// largest representable value, so comparisons against them must be strict.
const (
	twoTo63 = float64(1 << 63)
	twoTo64 = twoTo63 * 2
)

// toUint64 converts integral numbers and decimal strings. Strings are parsed
// as integers first so values above 2^53 keep every digit.
func toUint64(v any) (uint64, bool) {
	switch t := v.(type) {
	case float64:
		if t != math.Trunc(t) || t < 0 || t >= twoTo64 {
			return 0, false
		}
		return uint64(t), true
	case int:
		if t < 0 {
			return 0, false
		}
		return uint64(t), true
	case string:
		n, err := strconv.ParseUint(t, 10, 64)
		if err == nil {
			return n, true
		}
		if errors.Is(err, strconv.ErrRange) {
			return 0, false
		}
		f, err := strconv.ParseFloat(t, 64)
		if err != nil {
			return 0, false
		}
		return toUint64(f)
	}
	return 0, false
}

func toInt64(v any) (int64, bool) {
	switch t := v.(type) {
	case float64:
		if t != math.Trunc(t) || t < -twoTo63 || t >= twoTo63 {
			return 0, false
		}
		return int64(t), true
	case int:
		return int64(t), true
	case string:
		n, err := strconv.ParseInt(t, 10, 64)
		if err == nil {
			return n, true
		}
		if errors.Is(err, strconv.ErrRange) {
			return 0, false
		}
		f, err := strconv.ParseFloat(t, 64)
		if err != nil {
			return 0, false
		}
		return toInt64(f)
	}
	return 0, false
}
