// Package crypto implements password-based key derivation for the vault.
//
// One password yields two independent 32-byte secrets: the auth secret, which
// is the only value ever stored by the user repository, and the master secret,
// which keys every envelope and never leaves the client session.
package crypto

import (
	"crypto/rand"
	"crypto/subtle"
	"errors"
	"fmt"

	"golang.org/x/crypto/argon2"
)

// Sizes of generated salts and derived secrets.
const (
	SaltLen   = 32
	SecretLen = 32
)

// Params are the Argon2id cost parameters.
type Params struct {
	Time      uint32 // iterations
	MemoryKiB uint32
	Threads   uint8
}

// DefaultParams returns time=3, memory=64 MiB, threads=4.
func DefaultParams() Params {
	return Params{Time: 3, MemoryKiB: 64 * 1024, Threads: 4}
}

// Validate checks that Argon2id accepts the parameters.
func (p Params) Validate() error {
	if p.Time < 1 {
		return errors.New("argon2: time must be >= 1")
	}
	if p.Threads < 1 {
		return errors.New("argon2: threads must be >= 1")
	}
	if p.MemoryKiB < 8*uint32(p.Threads) {
		return fmt.Errorf("argon2: memory must be >= %d KiB for %d threads", 8*uint32(p.Threads), p.Threads)
	}
	return nil
}

// KeyDeriver derives auth and master secrets from a password.
type KeyDeriver struct {
	params Params
}

// NewKeyDeriver validates params once; a bad configuration is fatal for the caller.
func NewKeyDeriver(p Params) (*KeyDeriver, error) {
	if err := p.Validate(); err != nil {
		return nil, err
	}
	return &KeyDeriver{params: p}, nil
}

// RandBytes returns n cryptographically secure random bytes.
func RandBytes(n int) ([]byte, error) {
	b := make([]byte, n)
	_, err := rand.Read(b)
	return b, err
}

// GenerateSalt returns a fresh random salt.
func GenerateSalt() ([]byte, error) {
	return RandBytes(SaltLen)
}

func (d *KeyDeriver) hash(password string, salt []byte) []byte {
	return argon2.IDKey([]byte(password), salt, d.params.Time, d.params.MemoryKiB, d.params.Threads, SecretLen)
}

// Derive returns (authSecret, masterSecret). Same inputs always give the same
// outputs, which is what lets login re-derive the master secret.
func (d *KeyDeriver) Derive(password string, authSalt, keySalt []byte) (authSecret, masterSecret []byte) {
	return d.hash(password, authSalt), d.hash(password, keySalt)
}

// Verify recomputes the auth secret and compares it in constant time.
func (d *KeyDeriver) Verify(storedAuthSecret []byte, password string, authSalt []byte) bool {
	got := d.hash(password, authSalt)
	return subtle.ConstantTimeCompare(got, storedAuthSecret) == 1
}

// DeriveAuth returns only the auth secret; registration needs nothing else.
func (d *KeyDeriver) DeriveAuth(password string, authSalt []byte) []byte {
	return d.hash(password, authSalt)
}

// DeriveMaster returns only the master secret; login uses it after Verify so
// the auth secret is not hashed twice.
func (d *KeyDeriver) DeriveMaster(password string, keySalt []byte) []byte {
	return d.hash(password, keySalt)
}
