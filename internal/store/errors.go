package store

import (
	"errors"

	"github.com/jackc/pgx/v5/pgconn"
)

// ErrDuplicate reports that an insert lost against a unique constraint. The
// constraints on reviews, credit_awards and identity_reveals are the only
// mutex-like primitives in the system, so callers treat this as a conflict
// with a concurrent winner, not as a validation problem.
var ErrDuplicate = errors.New("duplicate row")

const uniqueViolation = "23505"

func mapInsertErr(err error) error {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
		return ErrDuplicate
	}
	return err
}
