// Package errs contains sentinel errors used across layers for stable error mapping.
package errs

import "errors"

// Common sentinels across repo/service layers.
var (
	// ErrNotFound indicates the requested entity does not exist.
	ErrNotFound = errors.New("not found")

	// ErrUnauthorized indicates a wrong password for an existing user.
	ErrUnauthorized = errors.New("unauthorized")

	// ErrRateLimited indicates temporary login lock due to rate limiting.
	ErrRateLimited = errors.New("rate limited")

	// ErrAlreadyExists indicates a unique constraint violation (e.g., username taken).
	ErrAlreadyExists = errors.New("already exists")

	// ErrValidation indicates malformed caller input.
	ErrValidation = errors.New("validation error")
)

// Session lifecycle.
var (
	// ErrNoSession means nobody is logged in on this store.
	ErrNoSession = errors.New("no active session")

	// ErrSessionExpired means a session existed but is past its expiry; it has
	// already been destroyed when this is returned.
	ErrSessionExpired = errors.New("session expired")
)

// Crypto and storage.
var (
	// ErrCrypto covers key derivation faults and every decryption failure.
	// Wrong key and tampered ciphertext are deliberately indistinguishable.
	ErrCrypto = errors.New("crypto failure")

	// ErrSerialization indicates structured data could not be encoded or decoded.
	ErrSerialization = errors.New("serialization failure")

	// ErrVaultAccess covers vault I/O faults, path escapes and malformed records.
	ErrVaultAccess = errors.New("vault access failure")
)

// Generation provider.
var (
	// ErrUnsupported indicates the provider lacks an optional capability.
	ErrUnsupported = errors.New("unsupported by provider")

	// ErrGeneration indicates the provider failed or is unavailable.
	ErrGeneration = errors.New("generation failed")
)
