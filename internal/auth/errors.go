package auth

import (
	"errors"
	"fmt"
)

var (
	// ErrInvalidCredentials covers both an unknown handle and a wrong
	// password. The two are never distinguishable from the outside.
	ErrInvalidCredentials = errors.New("auth: invalid credentials")
	// ErrUnauthorized marks a valid session that the permission matrix
	// denies.
	ErrUnauthorized = errors.New("auth: unauthorized")
)

// InvalidCredentialsError carries the attempts left before the handle's
// cool-down opens. Matches ErrInvalidCredentials under errors.Is.
type InvalidCredentialsError struct {
	RemainingAttempts int
}

func (e *InvalidCredentialsError) Error() string {
	return fmt.Sprintf("auth: invalid credentials (%d attempts remaining)", e.RemainingAttempts)
}

func (e *InvalidCredentialsError) Is(target error) bool { return target == ErrInvalidCredentials }
