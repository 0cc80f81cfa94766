// Package limiter defines interfaces and implementations for login rate limiting.
package limiter

import (
	"context"
	"crypto/sha256"
	"time"
)

// Limiter controls login attempts and temporary lockouts per (username, source).
type Limiter interface {
	// Allow reports whether login is currently allowed and optional retry-after.
	Allow(ctx context.Context, username string, source []byte) (bool, time.Duration, error)
	// Success resets counters after a successful login.
	Success(ctx context.Context, username string, source []byte) error
	// Failure records a failed attempt; may place a temporary block.
	Failure(ctx context.Context, username string, source []byte) (bool, time.Duration, error)
}

// Policy holds the lockout thresholds.
type Policy struct {
	Window      time.Duration // failures older than this start a new count
	MaxFailures int
	BlockFor    time.Duration
}

// HashSource returns a stable hash of the client identity (host name, address)
// so the raw value is never stored.
func HashSource(source string) []byte {
	h := sha256.Sum256([]byte(source))
	return h[:]
}
