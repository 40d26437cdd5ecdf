package sqlite

import (
	"database/sql"
	"errors"
	"strings"

	"github.com/example/astro-consult/internal/persistence"
)

// mapError translates driver errors into persistence sentinels so callers
// never match on SQLite error strings themselves.
func mapError(err error) error {
	if err == nil {
		return nil
	}

	if errors.Is(err, sql.ErrNoRows) {
		return persistence.ErrNotFound
	}

	msg := err.Error()
	switch {
	case strings.Contains(msg, "UNIQUE constraint failed"):
		return persistence.ErrDuplicate
	case strings.Contains(msg, "FOREIGN KEY constraint failed"):
		return persistence.ErrForeignKeyViolation
	case strings.Contains(msg, "CHECK constraint failed"):
		return persistence.ErrConstraintViolation
	}

	return err
}
