package service

import "errors"

// One variant per user-visible failure class. "Wrong identifier" and
// "wrong password" collapse into the same variant on purpose: callers
// must not be able to probe which half was wrong.
var (
	ErrValidation         = errors.New("validation failed")
	ErrInvalidCredentials = errors.New("invalid credentials")
	ErrLockedOut          = errors.New("account temporarily locked")
	ErrInvalidToken       = errors.New("invalid or expired token")
	ErrSecurityViolation  = errors.New("token reuse detected")
	ErrNotFound           = errors.New("not found")
)
