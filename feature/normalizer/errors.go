package normalizer

import (
	"errors"
	"fmt"
)

// Reason classifies why normalization failed.
type Reason string

const (
	// MalformedStructure covers unparseable XML, wrong root elements and
	// missing required fields.
	MalformedStructure Reason = "malformed-structure"
	// FieldTypeMismatch covers present fields whose value cannot be parsed
	// into the declared type.
	FieldTypeMismatch Reason = "field-type-mismatch"
)

// NormalizationError is the typed failure of Normalize. Structural errors
// are never retried by callers; they are recorded per item.
type NormalizationError struct {
	Reason Reason
	// Field names the offending field for FieldTypeMismatch.
	Field string
	Err   error
}

func (e *NormalizationError) Error() string {
	if e.Field != "" {
		return fmt.Sprintf("normalization failed (%s, field %q): %v", e.Reason, e.Field, e.Err)
	}
	return fmt.Sprintf("normalization failed (%s): %v", e.Reason, e.Err)
}

func (e *NormalizationError) Unwrap() error { return e.Err }

// AsNormalizationError unwraps err into a NormalizationError if possible.
func AsNormalizationError(err error) (*NormalizationError, bool) {
	var ne *NormalizationError
	if errors.As(err, &ne) {
		return ne, true
	}
	return nil, false
}

func malformed(format string, args ...any) error {
	return &NormalizationError{Reason: MalformedStructure, Err: fmt.Errorf(format, args...)}
}

func typeMismatch(field string, err error) error {
	return &NormalizationError{Reason: FieldTypeMismatch, Field: field, Err: err}
}
