// Package errs contains sentinel errors used across layers for stable error mapping.
package errs

import "errors"

// Common sentinels across engine/repo/service layers.
var (
	// ErrNotFound indicates the requested entity does not exist.
	ErrNotFound = errors.New("not found")

	// ErrDuplicateKey indicates byte-identical key material is already trusted.
	ErrDuplicateKey = errors.New("duplicate key")

	// ErrMalformedSubmission indicates a payload with values outside the
	// supported scalar/sequence/mapping set; such submissions never enter
	// verification.
	ErrMalformedSubmission = errors.New("malformed submission")

	// ErrMalformedSignature indicates signature bytes that cannot be decoded,
	// distinct from a signature that simply fails to verify.
	ErrMalformedSignature = errors.New("malformed signature")

	// ErrAlreadyResolved indicates a second resolution attempt on a flag.
	ErrAlreadyResolved = errors.New("flag already resolved")

	// ErrFinalized indicates a vote arriving after consensus reached a terminal state.
	ErrFinalized = errors.New("consensus finalized")

	// ErrRateLimited indicates the flagger exceeded the flag submission budget.
	ErrRateLimited = errors.New("rate limited")

	// ErrNoVerifiers indicates the pool cannot supply any eligible verifier.
	ErrNoVerifiers = errors.New("no eligible verifiers")
)
