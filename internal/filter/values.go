package filter

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/skothari-dev/loom/internal/core"
)

// DefaultDigits is the zero-pad width for multi-value id sets when the
// field does not configure one.
const DefaultDigits = 4

// Values applies the per-type value-processing rules shared by the
// read path (WHERE parameters) and the write path (SET parameters), so
// the two can never diverge.
type Values struct {
	cipher core.Cipher
	digits int
}

// NewValues creates a value processor. cipher may be nil when no
// encrypted fields exist; digits <= 0 selects DefaultDigits.
func NewValues(cipher core.Cipher, digits int) *Values {
	if digits <= 0 {
		digits = DefaultDigits
	}
	return &Values{cipher: cipher, digits: digits}
}

// Param converts one value for the given field into a typed bound
// parameter. field may be nil for values with no schema field, in
// which case the type is inferred from the Go value alone.
func (v *Values) Param(field *core.Field, value any) (core.Param, error) {
	if field == nil {
		return inferParam(value), nil
	}

	if field.Settings.HashKey != "" {
		s, err := toString(value)
		if err != nil {
			return core.Param{}, fmt.Errorf("field %s: %w", field.Name, err)
		}
		if v.cipher == nil {
			return core.Param{}, &core.ConfigError{
				Msg: fmt.Sprintf("field %s is encrypted but no cipher is configured", field.Name),
				Err: core.ErrMissingKey,
			}
		}
		enc, err := v.cipher.Encrypt(s, field.Settings.HashKey)
		if err != nil {
			return core.Param{}, &core.ConfigError{
				Msg: fmt.Sprintf("failed to encrypt field %s", field.Name), Err: err,
			}
		}
		return core.Param{Type: core.ParamString, Value: enc}, nil
	}

	switch field.Type {
	case core.TypeInteger, core.TypeOrder:
		n, err := toInt64(value)
		if err != nil {
			return core.Param{}, fmt.Errorf("field %s: %w", field.Name, err)
		}
		return core.Param{Type: core.ParamInteger, Value: n}, nil

	case core.TypeFloat:
		f, err := toFloat64(value)
		if err != nil {
			return core.Param{}, fmt.Errorf("field %s: %w", field.Name, err)
		}
		return core.Param{Type: core.ParamFloat, Value: f}, nil

	case core.TypeBoolean:
		b, err := toBool(value)
		if err != nil {
			return core.Param{}, fmt.Errorf("field %s: %w", field.Name, err)
		}
		n := int64(0)
		if b {
			n = 1
		}
		return core.Param{Type: core.ParamInteger, Value: n}, nil

	case core.TypeCheckboxes, core.TypeElements:
		s, err := v.EncodeSet(field, value)
		if err != nil {
			return core.Param{}, err
		}
		return core.Param{Type: core.ParamString, Value: s}, nil

	case core.TypeDate:
		s, err := toDate(value, "2006-01-02")
		if err != nil {
			return core.Param{}, fmt.Errorf("field %s: %w", field.Name, err)
		}
		return core.Param{Type: core.ParamString, Value: s}, nil

	case core.TypeDatetime:
		s, err := toDate(value, "2006-01-02 15:04:05")
		if err != nil {
			return core.Param{}, fmt.Errorf("field %s: %w", field.Name, err)
		}
		return core.Param{Type: core.ParamString, Value: s}, nil

	case core.TypeJSON:
		switch val := value.(type) {
		case string:
			return core.Param{Type: core.ParamString, Value: val}, nil
		default:
			b, err := json.Marshal(value)
			if err != nil {
				return core.Param{}, fmt.Errorf("field %s: cannot encode json value: %w", field.Name, err)
			}
			return core.Param{Type: core.ParamString, Value: string(b)}, nil
		}

	default:
		s, err := toString(value)
		if err != nil {
			return core.Param{}, fmt.Errorf("field %s: %w", field.Name, err)
		}
		return core.Param{Type: core.ParamString, Value: s}, nil
	}
}

// EncodeSet encodes a multi-value id set for storage or comparison:
// ids are zero-padded to the configured digit width and comma-joined.
// Output "string" disables the digit encoding and stores raw values.
func (v *Values) EncodeSet(field *core.Field, value any) (string, error) {
	items := asSlice(value)
	parts := make([]string, 0, len(items))
	for _, item := range items {
		if field.Settings.Output == "string" {
			s, err := toString(item)
			if err != nil {
				return "", fmt.Errorf("field %s: %w", field.Name, err)
			}
			parts = append(parts, s)
			continue
		}
		n, err := toInt64(item)
		if err != nil {
			return "", fmt.Errorf("field %s: %w", field.Name, err)
		}
		parts = append(parts, v.pad(field, n))
	}
	return strings.Join(parts, ","), nil
}

// DecodeSet splits a stored multi-value set back into ids.
func (v *Values) DecodeSet(field *core.Field, stored string) []int64 {
	if stored == "" || field.Settings.Output == "string" {
		return nil
	}
	parts := strings.Split(stored, ",")
	ids := make([]int64, 0, len(parts))
	for _, p := range parts {
		n, err := strconv.ParseInt(strings.TrimSpace(p), 10, 64)
		if err == nil {
			ids = append(ids, n)
		}
	}
	return ids
}

// Ints normalizes a scalar-or-slice value into ids. Used by the
// join-table synchronizer for external field values.
func (v *Values) Ints(value any) ([]int64, error) {
	items := asSlice(value)
	out := make([]int64, 0, len(items))
	for _, item := range items {
		n, err := toInt64(item)
		if err != nil {
			return nil, err
		}
		out = append(out, n)
	}
	return out, nil
}

func (v *Values) pad(field *core.Field, n int64) string {
	width := field.Settings.Digits
	if width <= 0 {
		width = v.digits
	}
	return fmt.Sprintf("%0*d", width, n)
}

// inferParam classifies a value with no schema field by its Go type.
func inferParam(value any) core.Param {
	switch v := value.(type) {
	case int, int8, int16, int32, int64, uint, uint8, uint16, uint32, uint64:
		n, _ := toInt64(v)
		return core.Param{Type: core.ParamInteger, Value: n}
	case float32, float64:
		f, _ := toFloat64(v)
		return core.Param{Type: core.ParamFloat, Value: f}
	case bool:
		n := int64(0)
		if v {
			n = 1
		}
		return core.Param{Type: core.ParamInteger, Value: n}
	default:
		s, err := toString(value)
		if err != nil {
			s = fmt.Sprintf("%v", value)
		}
		return core.Param{Type: core.ParamString, Value: s}
	}
}

func asSlice(value any) []any {
	switch v := value.(type) {
	case []any:
		return v
	case []int64:
		out := make([]any, len(v))
		for i, n := range v {
			out[i] = n
		}
		return out
	case []int:
		out := make([]any, len(v))
		for i, n := range v {
			out[i] = n
		}
		return out
	case []string:
		out := make([]any, len(v))
		for i, s := range v {
			out[i] = s
		}
		return out
	case nil:
		return nil
	default:
		return []any{value}
	}
}

func toInt64(value any) (int64, error) {
	switch v := value.(type) {
	case int64:
		return v, nil
	case int:
		return int64(v), nil
	case int8:
		return int64(v), nil
	case int16:
		return int64(v), nil
	case int32:
		return int64(v), nil
	case uint:
		return int64(v), nil
	case uint8:
		return int64(v), nil
	case uint16:
		return int64(v), nil
	case uint32:
		return int64(v), nil
	case uint64:
		return int64(v), nil
	case float32:
		return int64(v), nil
	case float64:
		return int64(v), nil
	case bool:
		if v {
			return 1, nil
		}
		return 0, nil
	case string:
		n, err := strconv.ParseInt(strings.TrimSpace(v), 10, 64)
		if err != nil {
			return 0, fmt.Errorf("cannot convert %q to integer", v)
		}
		return n, nil
	case []byte:
		return toInt64(string(v))
	default:
		return 0, fmt.Errorf("cannot convert %T to integer", value)
	}
}

func toFloat64(value any) (float64, error) {
	switch v := value.(type) {
	case float64:
		return v, nil
	case float32:
		return float64(v), nil
	case int:
		return float64(v), nil
	case int64:
		return float64(v), nil
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(v), 64)
		if err != nil {
			return 0, fmt.Errorf("cannot convert %q to float", v)
		}
		return f, nil
	case []byte:
		return toFloat64(string(v))
	default:
		n, err := toInt64(value)
		if err != nil {
			return 0, fmt.Errorf("cannot convert %T to float", value)
		}
		return float64(n), nil
	}
}

func toBool(value any) (bool, error) {
	switch v := value.(type) {
	case bool:
		return v, nil
	case string:
		if b, err := strconv.ParseBool(v); err == nil {
			return b, nil
		}
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			return n != 0, nil
		}
		return false, fmt.Errorf("cannot convert %q to boolean", v)
	default:
		n, err := toInt64(value)
		if err != nil {
			return false, fmt.Errorf("cannot convert %T to boolean", value)
		}
		return n != 0, nil
	}
}

func toString(value any) (string, error) {
	switch v := value.(type) {
	case string:
		return v, nil
	case []byte:
		return string(v), nil
	case int, int8, int16, int32, int64, uint, uint8, uint16, uint32, uint64:
		return fmt.Sprintf("%d", v), nil
	case float32, float64:
		return fmt.Sprintf("%g", v), nil
	case bool:
		return strconv.FormatBool(v), nil
	case time.Time:
		return v.Format("2006-01-02 15:04:05"), nil
	case nil:
		return "", nil
	default:
		b, err := json.Marshal(v)
		if err != nil {
			return "", fmt.Errorf("cannot convert %T to string: %w", value, err)
		}
		return string(b), nil
	}
}

func toDate(value any, layout string) (string, error) {
	switch v := value.(type) {
	case time.Time:
		return v.Format(layout), nil
	case string:
		return v, nil
	case int64:
		return time.Unix(v, 0).UTC().Format(layout), nil
	default:
		return "", fmt.Errorf("cannot convert %T to date", value)
	}
}
