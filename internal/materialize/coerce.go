package materialize

import (
	"encoding/json"
	"strconv"
	"strings"
	"time"

	"github.com/skothari-dev/loom/internal/core"
)

// coerce normalizes one raw column value to the field's semantic type.
// Database drivers hand back strings and driver-specific types; after
// this pass integer fields hold int64, floats float64, booleans 0/1
// and json fields decoded structures.
func coerce(f *core.Field, value any) any {
	if value == nil {
		return nil
	}

	switch f.Type {
	case core.TypeInteger, core.TypeOrder:
		return coerceInt(value)
	case core.TypeFloat:
		return coerceFloat(value)
	case core.TypeBoolean:
		return coerceBool(value)
	case core.TypeJSON:
		return coerceJSON(value)
	case core.TypeDate:
		return coerceTime(value, "2006-01-02")
	case core.TypeDatetime:
		return coerceTime(value, "2006-01-02 15:04:05")
	default:
		if s, ok := value.(string); ok {
			return s
		}
		if b, ok := value.([]byte); ok {
			return string(b)
		}
		return value
	}
}

func coerceInt(value any) any {
	switch v := value.(type) {
	case int64:
		return v
	case int:
		return int64(v)
	case int32:
		return int64(v)
	case uint64:
		return int64(v)
	case float64:
		return int64(v)
	case []byte:
		return coerceInt(string(v))
	case string:
		n, err := strconv.ParseInt(strings.TrimSpace(v), 10, 64)
		if err != nil {
			return value
		}
		return n
	default:
		return value
	}
}

func coerceFloat(value any) any {
	switch v := value.(type) {
	case float64:
		return v
	case float32:
		return float64(v)
	case int64:
		return float64(v)
	case int:
		return float64(v)
	case []byte:
		return coerceFloat(string(v))
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(v), 64)
		if err != nil {
			return value
		}
		return f
	default:
		return value
	}
}

// coerceBool normalizes to the 0/1 integers the storage layer uses.
func coerceBool(value any) any {
	switch v := value.(type) {
	case bool:
		if v {
			return int64(1)
		}
		return int64(0)
	case int64:
		if v != 0 {
			return int64(1)
		}
		return int64(0)
	case int:
		if v != 0 {
			return int64(1)
		}
		return int64(0)
	case []byte:
		return coerceBool(string(v))
	case string:
		if v == "1" || strings.EqualFold(v, "true") {
			return int64(1)
		}
		return int64(0)
	default:
		return int64(0)
	}
}

func coerceJSON(value any) any {
	var raw []byte
	switch v := value.(type) {
	case string:
		raw = []byte(v)
	case []byte:
		raw = v
	default:
		return value
	}
	if len(raw) == 0 {
		return nil
	}
	var out any
	if err := json.Unmarshal(raw, &out); err != nil {
		// Not valid JSON; hand the raw string back rather than losing
		// the column value.
		return string(raw)
	}
	return out
}

func coerceTime(value any, layout string) any {
	switch v := value.(type) {
	case time.Time:
		return v.Format(layout)
	case []byte:
		return string(v)
	case string:
		return v
	default:
		return value
	}
}
