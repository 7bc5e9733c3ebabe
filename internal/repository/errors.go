package repository

import (
	"errors"

	"github.com/lib/pq"
)

const uniqueViolation = "23505"

// Unique indexes whose violations surface as domain errors.
const (
	cloneLiveOwnerIndex = "clone_registrations_live_owner_key"
	cloneLiveTokenIndex = "clone_registrations_live_token_key"
)

// uniqueConstraint returns the violated index name if err is a unique violation.
func uniqueConstraint(err error) (string, bool) {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) && pqErr.Code == uniqueViolation {
		return pqErr.Constraint, true
	}
	return "", false
}
