package core

import "errors"

var (
	// ErrUnauthenticated means the request carried no resolvable identity.
	ErrUnauthenticated = errors.New("unauthenticated")

	// ErrInvalidInput covers malformed or missing required fields. Wrapped
	// errors carry the specific complaint.
	ErrInvalidInput = errors.New("invalid input")

	// ErrAlreadyExists is returned for duplicate registrations.
	ErrAlreadyExists = errors.New("account already exists")

	// ErrInvalidCredentials deliberately covers both unknown email and wrong
	// password.
	ErrInvalidCredentials = errors.New("invalid credentials")

	// ErrProvider wraps completion provider failures so callers can surface
	// them distinctly from fatal errors.
	ErrProvider = errors.New("completion provider failure")
)
