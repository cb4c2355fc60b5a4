// Package common defines the sentinel errors shared by the services and the
// transports. Callers match them with errors.Is; services add detail by
// wrapping, e.g. fmt.Errorf("%w: title is required", common.ErrInvalidInput).
package common

import "errors"

var (
	// ErrUnauthenticated means no session or an invalid one.
	ErrUnauthenticated = errors.New("unauthenticated")

	// ErrForbidden means a valid session acting on a record it does not own.
	ErrForbidden = errors.New("forbidden")

	// ErrInvalidInput covers missing or malformed fields and weak passwords.
	ErrInvalidInput = errors.New("invalid input")

	// ErrNotFound is returned by every store backend when no record matches.
	ErrNotFound = errors.New("not found")

	// ErrMisconfigured means a required secret or setting is absent.
	ErrMisconfigured = errors.New("server misconfigured")

	// ErrInvalidToken is a reset token that matches no user.
	ErrInvalidToken = errors.New("invalid token")

	ErrInternal = errors.New("internal error")
)
