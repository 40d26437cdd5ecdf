package application

import "errors"

var (
	// ErrUnauthorized is returned when the acting participant does not
	// belong to the consultation they address.
	ErrUnauthorized = errors.New("application: unauthorized")
	// ErrNotFound is returned when the requested consultation does not exist.
	ErrNotFound = errors.New("application: not found")
	// ErrNotLive is returned when messaging is attempted outside the live state.
	ErrNotLive = errors.New("application: consultation is not live")
	// ErrInvalidTransition is returned when a lifecycle move is not permitted
	// from the consultation's current state. The state is left unchanged.
	ErrInvalidTransition = errors.New("application: invalid lifecycle transition")
	// ErrStorageTimeout is returned when a storage operation exceeded its
	// time budget even after the internal retry. Callers may retry.
	ErrStorageTimeout = errors.New("application: storage operation timed out")
)

// ValidationError captures field level validation issues that callers can
// surface to users.
type ValidationError struct {
	FieldErrors map[string]string
}

// Error implements the error interface.
func (v *ValidationError) Error() string {
	return "validation failed"
}

// HasErrors reports whether any field level issues were recorded.
func (v *ValidationError) HasErrors() bool {
	return v != nil && len(v.FieldErrors) > 0
}

// add records a field level validation error.
func (v *ValidationError) add(field, message string) {
	if v.FieldErrors == nil {
		v.FieldErrors = make(map[string]string)
	}
	v.FieldErrors[field] = message
}
