package forms

import (
	"fmt"
	"regexp"
	"strconv"
)

// validateValues checks a submitted value map against the form's fields and
// returns every failure message, one per problem, never stopping at the
// first. Keys in the payload that match no field are ignored. An empty
// result means the submission is acceptable.
func validateValues(fields []FieldSpec, values ValueMap) []string {
	var messages []string
	for _, field := range fields {
		value := values[field.ID]
		if field.Required && value.Empty() {
			messages = append(messages, fmt.Sprintf("%s is required", field.Label))
			continue
		}
		if value.Empty() {
			continue
		}
		messages = append(messages, checkFieldValue(field, value)...)
	}
	return messages
}

// checkFieldValue applies the advisory constraints of a single field to a
// non-empty value. Option-typed fields additionally require every submitted
// entry to be one of the declared options.
func checkFieldValue(field FieldSpec, value FieldValue) []string {
	var messages []string

	if field.Type.RequiresOptions() {
		for _, entry := range submittedEntries(field, value) {
			if !containsOption(field.Options, entry) {
				messages = append(messages, fmt.Sprintf("%s has an unknown option %q", field.Label, entry))
			}
		}
	}

	constraints := field.Validation
	if constraints == nil {
		return messages
	}

	switch field.Type {
	case FieldTypeNumber:
		messages = append(messages, checkNumericBounds(field, value.Scalar(), constraints)...)
	case FieldTypeText, FieldTypeTextArea, FieldTypeEmail:
		messages = append(messages, checkLengthBounds(field, value.Scalar(), constraints)...)
	}

	if constraints.Pattern != "" && !value.IsSet() {
		expr, err := regexp.Compile(constraints.Pattern)
		if err == nil && !expr.MatchString(value.Scalar()) {
			messages = append(messages, fmt.Sprintf("%s does not match the expected format", field.Label))
		}
	}

	return messages
}

func checkNumericBounds(field FieldSpec, raw string, constraints *FieldConstraints) []string {
	if constraints.Min == nil && constraints.Max == nil {
		return nil
	}
	parsed, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return []string{fmt.Sprintf("%s must be a number", field.Label)}
	}
	var messages []string
	if constraints.Min != nil && parsed < *constraints.Min {
		messages = append(messages, fmt.Sprintf("%s must be at least %s", field.Label, formatBound(*constraints.Min)))
	}
	if constraints.Max != nil && parsed > *constraints.Max {
		messages = append(messages, fmt.Sprintf("%s must be at most %s", field.Label, formatBound(*constraints.Max)))
	}
	return messages
}

func checkLengthBounds(field FieldSpec, raw string, constraints *FieldConstraints) []string {
	length := float64(len([]rune(raw)))
	var messages []string
	if constraints.Min != nil && length < *constraints.Min {
		messages = append(messages, fmt.Sprintf("%s must be at least %s characters", field.Label, formatBound(*constraints.Min)))
	}
	if constraints.Max != nil && length > *constraints.Max {
		messages = append(messages, fmt.Sprintf("%s must be at most %s characters", field.Label, formatBound(*constraints.Max)))
	}
	return messages
}

func submittedEntries(field FieldSpec, value FieldValue) []string {
	if field.Type.SetValued() {
		return value.Set()
	}
	return []string{value.Scalar()}
}

func containsOption(options []string, candidate string) bool {
	for _, option := range options {
		if option == candidate {
			return true
		}
	}
	return false
}

func formatBound(value float64) string {
	return strconv.FormatFloat(value, 'f', -1, 64)
}

// validateFieldSpecs checks a draft's field list for structural problems:
// empty or duplicate ids, unknown types, and option-typed fields without
// options. It aggregates messages the same way submission validation does.
func validateFieldSpecs(fields []FieldSpec) []string {
	var messages []string
	seen := make(map[string]struct{}, len(fields))
	for index, field := range fields {
		if field.ID == "" {
			messages = append(messages, fmt.Sprintf("field %d is missing an id", index+1))
			continue
		}
		if _, duplicate := seen[field.ID]; duplicate {
			messages = append(messages, fmt.Sprintf("field id %q is used more than once", field.ID))
		}
		seen[field.ID] = struct{}{}
		if !KnownFieldType(field.Type) {
			messages = append(messages, fmt.Sprintf("field %q has unknown type %q", field.ID, field.Type))
			continue
		}
		if field.Type.RequiresOptions() && len(field.Options) == 0 {
			messages = append(messages, fmt.Sprintf("field %q requires at least one option", field.ID))
		}
		if field.Validation != nil && field.Validation.Pattern != "" {
			if _, err := regexp.Compile(field.Validation.Pattern); err != nil {
				messages = append(messages, fmt.Sprintf("field %q has an invalid pattern", field.ID))
			}
		}
	}
	return messages
}
