package persistence

import "errors"

var (
	// ErrNotFound is returned when the requested record does not exist.
	ErrNotFound = errors.New("persistence: not found")
	// ErrDuplicate is returned when a unique constraint rejects a record.
	ErrDuplicate = errors.New("persistence: duplicate record")
	// ErrInvalidState is returned when a conditional status update matched
	// the record but not its required current state.
	ErrInvalidState = errors.New("persistence: record not in required state")
	// ErrConstraintViolation is returned when a check constraint rejects a record.
	ErrConstraintViolation = errors.New("persistence: constraint violation")
	// ErrForeignKeyViolation is returned when a referenced record is missing.
	ErrForeignKeyViolation = errors.New("persistence: foreign key violation")
)
