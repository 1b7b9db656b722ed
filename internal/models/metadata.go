package models

import (
	"encoding/json"
	"fmt"
	"math"
	"strconv"

	"github.com/healforge/healer/internal/healerrors"
)

// Metadata is the flat scalar mapping attached to an indexed record.
// Values are string, bool, int64 or float64; records are converted to and from
// Metadata only at the vector index boundary.
type Metadata map[string]any

// String returns the string value for key, or "" when absent or not a string.
func (m Metadata) String(key string) string {
	v, _ := m[key].(string)

	return v
}

// Int returns the integer value for key. JSON round-trips turn integers into float64
// (or json.Number), so both are accepted.
func (m Metadata) Int(key string) int64 {
	switch v := m[key].(type) {
	case int:
		return int64(v)
	case int64:
		return v
	case int32:
		return int64(v)
	case float64:
		return int64(math.Round(v))
	case json.Number:
		n, err := v.Int64()
		if err != nil {
			f, ferr := v.Float64()
			if ferr != nil {
				return 0
			}

			return int64(math.Round(f))
		}

		return n
	case string:
		n, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			return 0
		}

		return n
	default:
		return 0
	}
}

// Float returns the float value for key.
func (m Metadata) Float(key string) float64 {
	switch v := m[key].(type) {
	case float64:
		return v
	case float32:
		return float64(v)
	case int:
		return float64(v)
	case int64:
		return float64(v)
	case json.Number:
		f, err := v.Float64()
		if err != nil {
			return 0
		}

		return f
	default:
		return 0
	}
}

// Bool returns the bool value for key.
func (m Metadata) Bool(key string) bool {
	v, ok := m[key].(bool)

	return ok && v
}

// Clone returns a shallow copy; values are scalars so this is a full copy.
func (m Metadata) Clone() Metadata {
	out := make(Metadata, len(m))
	for k, v := range m {
		out[k] = v
	}

	return out
}

// Matches reports whether every key in filter is present in m with an equal value.
// Numbers compare by value regardless of their Go type.
func (m Metadata) Matches(filter Metadata) bool {
	for k, want := range filter {
		got, ok := m[k]
		if !ok {
			return false
		}

		if !scalarEqual(got, want) {
			return false
		}
	}

	return true
}

func scalarEqual(a, b any) bool {
	af, aNum := toFloat(a)
	bf, bNum := toFloat(b)

	if aNum && bNum {
		return af == bf
	}

	return a == b
}

func toFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case int:
		return float64(n), true
	case int32:
		return float64(n), true
	case int64:
		return float64(n), true
	case float32:
		return float64(n), true
	case float64:
		return n, true
	case json.Number:
		f, err := n.Float64()

		return f, err == nil
	default:
		return 0, false
	}
}

// Validate rejects values that are not scalars. Lists and maps must be encoded by the caller.
func (m Metadata) Validate() error {
	for k, v := range m {
		switch v.(type) {
		case nil, string, bool, int, int32, int64, float32, float64, json.Number:
		default:
			return healerrors.NewValidationError(k, fmt.Sprintf("metadata %q has non-scalar value of type %T", k, v))
		}
	}

	return nil
}
