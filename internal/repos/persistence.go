package repos

import "github.com/wandergen/wandergen-backend/internal/types"

// wrapPersistence tags a storage failure with the operation that produced it.
// The cause stays reachable through Unwrap, so errors.Is checks against gorm
// sentinels keep working.
func wrapPersistence(op string, err error) error {
	if err == nil {
		return nil
	}
	return types.NewPersistenceError(op, err)
}
