package postgres

import (
	"database/sql"
	"errors"
	"fmt"

	"github.com/lib/pq"

	"github.com/jensholdgaard/three-kingdoms/internal/match"
	"github.com/jensholdgaard/three-kingdoms/internal/store"
)

// SQLSTATE codes that mean another transaction got in the way.
const (
	codeSerializationFailure = "40001"
	codeDeadlockDetected     = "40P01"
	codeLockNotAvailable     = "55P03"
	codeUniqueViolation      = "23505"
)

// SQLSTATE codes for values that do not fit their column.
const (
	codeStringTooLong     = "22001"
	codeNumericOutOfRange = "22003"
)

// mapError translates driver errors that signal contention into
// match.ErrConcurrencyConflict and values too large for their column into
// match.ErrInvalidArgument. Other errors pass through unchanged.
func mapError(op string, err error) error {
	if err == nil {
		return nil
	}
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		switch pqErr.Code {
		case codeSerializationFailure, codeDeadlockDetected, codeLockNotAvailable:
			return store.Conflict(op, err)
		case codeUniqueViolation:
			if pqErr.Constraint == "match_events_pkey" {
				return store.Conflict(op, err)
			}
		case codeStringTooLong, codeNumericOutOfRange:
			return match.Wrap(match.CodeInvalidArgument, fmt.Sprintf("%s: value out of range", op), err)
		}
	}
	return err
}

func isNoRows(err error) bool {
	return errors.Is(err, sql.ErrNoRows)
}
