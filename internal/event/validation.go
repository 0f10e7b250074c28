package event

import (
	"fmt"
	"regexp"
	"strings"
)

// Validation constraints shared across the SDK stores.
const (
	MaxEventProperties   = 100
	MaxUserProperties    = 50
	MaxSessionProperties = 25
)

var namePattern = regexp.MustCompile(`^[A-Za-z0-9_-]+$`)

// FieldError represents a single field's validation error.
type FieldError struct {
	Field string `json:"field"`
	Msg   string `json:"message"`
}

func (e FieldError) Error() string { return fmt.Sprintf("%s: %s", e.Field, e.Msg) }

// ValidationError aggregates all field errors found in one input.
// Nothing is mutated or persisted when it is returned.
type ValidationError struct {
	Fields []FieldError
}

func (e *ValidationError) Error() string {
	msgs := make([]string, len(e.Fields))
	for i, fe := range e.Fields {
		msgs[i] = fe.Error()
	}
	return "validation failed: " + strings.Join(msgs, "; ")
}

// ValidateName checks an event name against the allowed pattern.
func ValidateName(name string) []FieldError {
	if name == "" {
		return []FieldError{{"name", "required"}}
	}
	if !namePattern.MatchString(name) {
		return []FieldError{{"name", "must match [A-Za-z0-9_-]+"}}
	}
	return nil
}

// ValidateProperties checks keys, value types and the entry ceiling.
// maxEntries differs per record kind (event 100, user 50, session 25).
func ValidateProperties(props Properties, maxEntries int) []FieldError {
	var errs []FieldError
	if len(props) > maxEntries {
		errs = append(errs, FieldError{"properties", fmt.Sprintf("max %d entries", maxEntries)})
		return errs
	}
	for k, v := range props {
		if !namePattern.MatchString(k) {
			errs = append(errs, FieldError{"properties." + k, "key must match [A-Za-z0-9_-]+"})
			continue
		}
		if !validValue(v) {
			errs = append(errs, FieldError{"properties." + k, "value must be a string, number, boolean or null"})
		}
	}
	return errs
}

func validValue(v any) bool {
	switch v.(type) {
	case nil, string, bool,
		int, int8, int16, int32, int64,
		uint, uint8, uint16, uint32, uint64,
		float32, float64:
		return true
	default:
		return false
	}
}
