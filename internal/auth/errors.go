package auth

import "errors"

var (
	// ErrNotFound indicates a referenced record does not exist.
	ErrNotFound = errors.New("auth: not found")
	// ErrConflict indicates a uniqueness violation, e.g. duplicate email.
	ErrConflict = errors.New("auth: already exists")
	// ErrInvalidInput indicates malformed caller input.
	ErrInvalidInput = errors.New("auth: invalid input")
	// ErrAuthenticationDenied covers bad credentials, expired or forged
	// tokens and stale refresh digests. It is always kept distinct from
	// ErrInternal so callers can branch on it.
	ErrAuthenticationDenied = errors.New("auth: authentication denied")
	// ErrInternal wraps store, signer and hasher faults not attributable
	// to caller input. The original cause is attached for logging and
	// never exposed verbatim.
	ErrInternal = errors.New("auth: internal error")
)
