package apperr

import (
	"errors"
	"strings"
)

var (
	// ErrUnauthenticated is returned when a call carries no valid caller identity.
	ErrUnauthenticated = errors.New("not authenticated")
	// ErrForbidden is returned when the caller is authenticated but lacks the role.
	ErrForbidden = errors.New("access denied")
	// ErrNotFound is returned when an identifier has no corresponding record.
	ErrNotFound = errors.New("not found")
	// ErrConflict is returned when a unique attribute is already taken.
	ErrConflict = errors.New("already exists")
)

// Violation is a single field level problem with a submitted payload.
type Violation struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

// ValidationError carries every violation found in a payload, in check order.
type ValidationError struct {
	Violations []Violation
}

func (v *ValidationError) Error() string {
	if v == nil || len(v.Violations) == 0 {
		return "validation failed"
	}
	parts := make([]string, 0, len(v.Violations))
	for _, viol := range v.Violations {
		parts = append(parts, viol.Field+": "+viol.Message)
	}
	return "validation failed: " + strings.Join(parts, "; ")
}

// Add records a violation.
func (v *ValidationError) Add(field, message string) {
	v.Violations = append(v.Violations, Violation{Field: field, Message: message})
}

// HasViolations reports whether anything was recorded.
func (v *ValidationError) HasViolations() bool {
	return v != nil && len(v.Violations) > 0
}

// OrNil returns v as an error when it holds violations and nil otherwise.
func (v *ValidationError) OrNil() error {
	if v.HasViolations() {
		return v
	}
	return nil
}

// Invalid builds a ValidationError with a single violation.
func Invalid(field, message string) *ValidationError {
	return &ValidationError{Violations: []Violation{{Field: field, Message: message}}}
}

// AsValidation unwraps err into a ValidationError if it is one.
func AsValidation(err error) (*ValidationError, bool) {
	var verr *ValidationError
	if errors.As(err, &verr) {
		return verr, true
	}
	return nil, false
}
