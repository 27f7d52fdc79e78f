// Package ingest validates telemetry submissions against a source schema
// and reconciles accepted values into the store.
package ingest

import (
	"encoding/json"
	"math"
	"strconv"

	"github.com/Derkades/metrics/internal/apperr"
	"github.com/Derkades/metrics/internal/schema"
)

// ValidateFields checks a raw submission against the schema's field
// descriptors, in schema order, and returns canonical string values keyed
// by field name. A field that is absent (or null) is skipped when optional,
// written as its configured null_value when one exists, and rejected
// otherwise. The output contains no entry for skipped fields, so a stored
// value for such a metric is left untouched.
func ValidateFields(fields []schema.Field, submitted map[string]any) (map[string]string, error) {
	out := make(map[string]string, len(fields))
	for i := range fields {
		f := &fields[i]

		value, present := submitted[f.Name]
		if !present || value == nil {
			switch {
			case f.Optional:
				continue
			case f.NullValue != nil:
				out[f.Name] = *f.NullValue
			default:
				return nil, &apperr.FieldError{Name: f.Name, Reason: apperr.FieldMissing}
			}
			continue
		}

		canonical, err := canonicalize(f, value)
		if err != nil {
			return nil, err
		}
		out[f.Name] = canonical
	}
	return out, nil
}

func canonicalize(f *schema.Field, value any) (string, error) {
	switch f.Type {
	case schema.FieldString:
		s, ok := value.(string)
		if !ok {
			return "", wrongType(f)
		}
		if !f.Allowed(s) {
			return "", &apperr.FieldError{Name: f.Name, Reason: apperr.FieldDisallowed, Value: s}
		}
		return s, nil

	case schema.FieldBoolean:
		b, ok := value.(bool)
		if !ok {
			return "", wrongType(f)
		}
		if b {
			return "True", nil
		}
		return "False", nil

	case schema.FieldInteger:
		n, ok := integerValue(value)
		if !ok {
			return "", wrongType(f)
		}
		return strconv.FormatInt(n, 10), nil
	}

	// Field types are a closed enum resolved at configuration load.
	panic("unknown field type " + f.Type.String())
}

func wrongType(f *schema.Field) error {
	return &apperr.FieldError{Name: f.Name, Reason: apperr.FieldWrongType, Expected: f.Type.String()}
}

// integerValue extracts an int64 from a decoded JSON value. Numbers with a
// fractional part are not integers; booleans are never integers.
func integerValue(value any) (int64, bool) {
	switch v := value.(type) {
	case json.Number:
		n, err := v.Int64()
		return n, err == nil
	case float64:
		if math.Trunc(v) != v || v < math.MinInt64 || v > math.MaxInt64 {
			return 0, false
		}
		return int64(v), true
	case int:
		return int64(v), true
	case int64:
		return v, true
	default:
		return 0, false
	}
}
