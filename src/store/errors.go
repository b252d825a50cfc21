package store

import (
	"errors"

	"github.com/jackc/pgx/v5/pgconn"
)

// ErrAlreadyExists reports a uniqueness violation (tenant name or api key,
// device id, token lookup). Concurrent creations racing on the same key are
// serialized by the database and the loser receives this error.
var ErrAlreadyExists = errors.New("record already exists")

// uniqueViolation is the PostgreSQL error code for unique_violation.
const uniqueViolation = "23505"

// mapError converts driver-level uniqueness violations to ErrAlreadyExists
// and passes everything else through untouched.
func mapError(err error) error {
	if err == nil {
		return nil
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
		return ErrAlreadyExists
	}
	return err
}
