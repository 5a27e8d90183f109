// Package apperrors defines the error taxonomy shared across services.
package apperrors

import (
	"errors"
	"fmt"
	"strings"

	"github.com/clinsight-health/clinsight-engine/pkg/sqlshape"
)

var (
	ErrNotFound = errors.New("not found")
	ErrConflict = errors.New("conflict")
)

// TemplateStateError indicates an invalid template status transition,
// e.g. updating a template that is no longer in Draft.
type TemplateStateError struct {
	Current   string
	Attempted string
}

func (e *TemplateStateError) Error() string {
	return fmt.Sprintf("invalid template transition: cannot %s while %s", e.Attempted, e.Current)
}

// ValidationRequestError indicates a client-fixable problem with the request
// itself (empty required fields), before any validation rules run.
type ValidationRequestError struct {
	Field   string
	Message string
}

func (e *ValidationRequestError) Error() string {
	return fmt.Sprintf("invalid request: %s: %s", e.Field, e.Message)
}

// TemplateValidationError indicates template content that failed validation.
// It carries the full validation result so callers can surface every issue.
type TemplateValidationError struct {
	Result sqlshape.ValidationResult
}

func (e *TemplateValidationError) Error() string {
	msgs := make([]string, 0, len(e.Result.Errors))
	for _, issue := range e.Result.Errors {
		msgs = append(msgs, issue.Code)
	}
	return fmt.Sprintf("template validation failed: %s", strings.Join(msgs, ", "))
}

// IsNotFound reports whether err wraps ErrNotFound.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}

// IsConflict reports whether err wraps ErrConflict.
func IsConflict(err error) bool {
	return errors.Is(err, ErrConflict)
}
