package forms

import (
	"encoding/json"
	"strconv"
)

// FieldValue is the tagged union of submitted value shapes: a scalar string
// for most field types, or a set of option strings for checkbox fields. The
// zero value represents an absent entry.
type FieldValue struct {
	scalar  string
	set     []string
	isSet   bool
	present bool
}

// ScalarValue wraps a single string value.
func ScalarValue(value string) FieldValue {
	return FieldValue{scalar: value, present: true}
}

// SetValue wraps a set of option strings.
func SetValue(values []string) FieldValue {
	return FieldValue{set: values, isSet: true, present: true}
}

// Present reports whether the payload contained an entry at all.
func (v FieldValue) Present() bool {
	return v.present
}

// IsSet reports whether the value carries the option-set shape.
func (v FieldValue) IsSet() bool {
	return v.isSet
}

// Scalar returns the scalar string, empty for set-shaped or absent values.
func (v FieldValue) Scalar() string {
	if v.isSet {
		return ""
	}
	return v.scalar
}

// Set returns the option set, nil for scalar-shaped or absent values.
func (v FieldValue) Set() []string {
	return v.set
}

// Empty reports whether the value counts as missing for the required-field
// check: absent, an empty string, or an empty set.
func (v FieldValue) Empty() bool {
	if !v.present {
		return true
	}
	if v.isSet {
		return len(v.set) == 0
	}
	return v.scalar == ""
}

// ValueMap holds a decoded submission payload keyed by field id.
type ValueMap map[string]FieldValue

// ValueMapFromJSON coerces a decoded JSON object into a ValueMap. Strings map
// to scalars, arrays to option sets, numbers and booleans are rendered as
// their canonical string form. Entries of any other shape are dropped, which
// makes them indistinguishable from absent values downstream.
func ValueMapFromJSON(payload map[string]any) ValueMap {
	values := make(ValueMap, len(payload))
	for key, raw := range payload {
		switch typed := raw.(type) {
		case string:
			values[key] = ScalarValue(typed)
		case float64:
			values[key] = ScalarValue(strconv.FormatFloat(typed, 'f', -1, 64))
		case bool:
			values[key] = ScalarValue(strconv.FormatBool(typed))
		case []any:
			set := make([]string, 0, len(typed))
			for _, item := range typed {
				if text, ok := item.(string); ok {
					set = append(set, text)
				}
			}
			values[key] = SetValue(set)
		}
	}
	return values
}

// JSONObject renders the map back into the shape stored on a submission
// record: scalar strings and string arrays keyed by field id. Absent entries
// are omitted.
func (m ValueMap) JSONObject() map[string]any {
	payload := make(map[string]any, len(m))
	for key, value := range m {
		if !value.Present() {
			continue
		}
		if value.IsSet() {
			set := value.Set()
			if set == nil {
				set = []string{}
			}
			payload[key] = set
			continue
		}
		payload[key] = value.Scalar()
	}
	return payload
}

// MarshalJSON encodes the map in its stored wire shape.
func (m ValueMap) MarshalJSON() ([]byte, error) {
	return json.Marshal(m.JSONObject())
}
