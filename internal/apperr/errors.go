// Package apperr defines the error taxonomy shared by the ingest and API layers.
package apperr

import (
	"errors"
	"fmt"
)

var (
	ErrUnknownSource = errors.New("invalid source")
	ErrInvalidUUID   = errors.New("invalid uuid")
	ErrRateLimited   = errors.New("rate limited")
)

// FieldReason classifies why a submitted field was rejected.
type FieldReason int

const (
	FieldMissing FieldReason = iota
	FieldWrongType
	FieldDisallowed
)

// FieldError reports a schema-validation failure for a single submitted field.
type FieldError struct {
	Name     string
	Reason   FieldReason
	Expected string // schema type name, set for FieldWrongType
	Value    string // offending value, set for FieldDisallowed
}

func (e *FieldError) Error() string {
	switch e.Reason {
	case FieldMissing:
		return fmt.Sprintf("missing field '%s'", e.Name)
	case FieldWrongType:
		return fmt.Sprintf("field '%s' must be %s %s", e.Name, article(e.Expected), e.Expected)
	case FieldDisallowed:
		return fmt.Sprintf("field value '%s' not allowed for field '%s'", e.Value, e.Name)
	default:
		return fmt.Sprintf("invalid field '%s'", e.Name)
	}
}

func article(noun string) string {
	if noun == "integer" {
		return "an"
	}
	return "a"
}

// RateLimitError reports a submission that arrived before the source's
// minimum interval elapsed. It unwraps to ErrRateLimited.
type RateLimitError struct {
	FrequencyMinutes int
	ElapsedMinutes   float64
}

func (e *RateLimitError) Error() string {
	return fmt.Sprintf("Please wait %d minutes in between requests", e.FrequencyMinutes)
}

func (e *RateLimitError) Unwrap() error { return ErrRateLimited }
