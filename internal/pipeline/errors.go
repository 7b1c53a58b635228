// Package pipeline holds the pieces shared by the feed and search request
// pipelines: the error taxonomy, per-source fetch results and their metrics.
package pipeline

import (
	"errors"
	"fmt"
)

// ValidationError reports a malformed or missing request parameter.
// Handlers surface it as 400.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return e.Message
	}
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// NewValidationError builds a ValidationError.
func NewValidationError(field, message string) *ValidationError {
	return &ValidationError{Field: field, Message: message}
}

// SourceFetchError reports that one backing source failed or timed out.
// It is recovered at the composition point: the source contributes nothing.
type SourceFetchError struct {
	Source string
	Err    error
}

func (e *SourceFetchError) Error() string {
	return fmt.Sprintf("fetch %s: %v", e.Source, e.Err)
}

func (e *SourceFetchError) Unwrap() error { return e.Err }

// NormalizationError reports a record that could not be turned into an
// output item. The record is skipped.
type NormalizationError struct {
	RecordID string
	Type     string
	Reason   string
}

func (e *NormalizationError) Error() string {
	if e.RecordID == "" {
		return fmt.Sprintf("normalize %s: %s", e.Type, e.Reason)
	}
	return fmt.Sprintf("normalize %s %s: %s", e.Type, e.RecordID, e.Reason)
}

// IsValidation reports whether err is, or wraps, a ValidationError.
func IsValidation(err error) bool {
	var v *ValidationError
	return errors.As(err, &v)
}
