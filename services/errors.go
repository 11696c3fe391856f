package services

import (
	"errors"
	"fmt"
)

// Error kinds returned to the API layer. Handlers map these onto HTTP
// statuses; the services themselves carry no user-facing text.
var (
	// ErrUserNotFound: the external user id has no citizen record.
	ErrUserNotFound = errors.New("user not found")

	// ErrUserNotRanked: the user has no score in the requested leaderboard scope.
	ErrUserNotRanked = errors.New("user not ranked in this leaderboard")

	// ErrInvalidLeaderboardType: unrecognized leaderboard scope string.
	ErrInvalidLeaderboardType = errors.New("invalid leaderboard type")
)

// PersistenceError wraps a failed durable write or read. Award is atomic, so
// a caller seeing this error knows no partial state was left behind.
type PersistenceError struct {
	Op  string
	Err error
}

func (e *PersistenceError) Error() string {
	return fmt.Sprintf("persistence failure during %s: %v", e.Op, e.Err)
}

func (e *PersistenceError) Unwrap() error { return e.Err }

// persistenceErr wraps err unless it is nil or already one of our sentinels.
func persistenceErr(op string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, ErrUserNotFound) || errors.Is(err, ErrUserNotRanked) || errors.Is(err, ErrInvalidLeaderboardType) {
		return err
	}
	var pe *PersistenceError
	if errors.As(err, &pe) {
		return err
	}
	return &PersistenceError{Op: op, Err: err}
}
