package repository

import (
	"database/sql"
	"errors"

	"github.com/jackc/pgx/v5/pgconn"
)

const (
	pgUniqueViolation = "23505"
	pgCheckViolation  = "23514"
)

// Errors holds the domain errors a repository maps database failures onto.
// A nil field leaves the corresponding failure unmapped.
type Errors struct {
	NotFound  error
	Duplicate error
	Invalid   error
}

// Map translates err: sql.ErrNoRows becomes NotFound, a unique violation
// becomes Duplicate and a check violation becomes Invalid. Other errors are
// returned unchanged.
func (e Errors) Map(err error) error {
	if err == nil {
		return nil
	}

	if errors.Is(err, sql.ErrNoRows) && e.NotFound != nil {
		return e.NotFound
	}

	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch {
		case pgErr.Code == pgUniqueViolation && e.Duplicate != nil:
			return e.Duplicate
		case pgErr.Code == pgCheckViolation && e.Invalid != nil:
			return e.Invalid
		}
	}

	return err
}

// MapError is shorthand for Errors{NotFound: notFoundErr, Duplicate: duplicateErr}.Map(err).
func MapError(err error, notFoundErr, duplicateErr error) error {
	return Errors{NotFound: notFoundErr, Duplicate: duplicateErr}.Map(err)
}
