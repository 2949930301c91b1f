package models

import "errors"

// Sentinel errors for common failure conditions
var (
	ErrNotFound       = errors.New("resource not found")
	ErrConflict       = errors.New("resource already exists")
	ErrUnauthorized   = errors.New("unauthorized")
	ErrForbidden      = errors.New("forbidden")
	ErrBadRequest     = errors.New("bad request")
	ErrInternalServer = errors.New("internal server error")

	// Lockout domain errors
	ErrInvalidPolicy      = errors.New("security policy failed validation")
	ErrStorageUnavailable = errors.New("lockout storage unavailable")
	ErrAccountLocked      = errors.New("account is temporarily locked")
	ErrVersionConflict    = errors.New("record was modified concurrently")
)
