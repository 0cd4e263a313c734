// Package errs holds the error taxonomy shared by services and handlers.
package errs

import "errors"

var (
	// ErrUnauthenticated means no identity was supplied where one is required.
	ErrUnauthenticated = errors.New("unauthenticated")
	// ErrForbidden means the caller is known but lacks the required role.
	ErrForbidden = errors.New("forbidden")
	// ErrNotFound means the referenced document or member does not exist.
	ErrNotFound = errors.New("not found")
	// ErrInvalidArgument means the request payload is malformed.
	ErrInvalidArgument = errors.New("invalid argument")
)
