package database

import (
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/livepoll/backend/pkg/apperr"
)

// UniqueViolation is the Postgres SQLSTATE for a unique constraint violation.
const UniqueViolation = "23505"

// IsUniqueViolation reports whether err was raised by a unique constraint, optionally a specific one.
func IsUniqueViolation(err error, constraint string) bool {
	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) || pgErr.Code != UniqueViolation {
		return false
	}
	return constraint == "" || pgErr.ConstraintName == constraint
}

// Wrap maps driver errors onto apperr kinds: no rows becomes NotFound(entity), anything else a Store error.
func Wrap(err error, entity, op string) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, pgx.ErrNoRows) {
		return apperr.NotFound(entity)
	}
	return apperr.Store(op, err)
}
