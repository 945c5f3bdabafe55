package postgres

import (
	"errors"

	"github.com/lib/pq"
)

// uniqueViolation is the PostgreSQL error code for violating a unique
// constraint. See https://www.postgresql.org/docs/current/errcodes-appendix.html
const uniqueViolation = "23505"

// isUniqueViolation reports whether err is a PostgreSQL unique constraint
// violation. Repositories translate these to repositories.ErrAlreadyExists
// so callers can resolve insert races without knowing about pq.
func isUniqueViolation(err error) bool {
	var pqErr *pq.Error
	return errors.As(err, &pqErr) && pqErr.Code == uniqueViolation
}
