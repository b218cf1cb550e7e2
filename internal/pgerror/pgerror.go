package pgerror

import (
	"errors"

	"github.com/jackc/pgx/v5/pgconn"
)

const (
	UniqueViolation     = "23505"
	ForeignKeyViolation = "23503"
	CheckViolation      = "23514"
	NotNullViolation    = "23502"
)

// GetConstraintName returns the violated constraint of an integrity error.
func GetConstraintName(err error) (string, bool) {
	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) {
		return "", false
	}
	switch pgErr.Code {
	case UniqueViolation, ForeignKeyViolation, CheckViolation, NotNullViolation:
		if pgErr.ConstraintName != "" {
			return pgErr.ConstraintName, true
		}
	}
	return "", false
}
