// Package model defines domain entities used by services and repositories.
package model

import (
	"time"
)

// Algorithm tags written into envelopes.
const (
	AlgAES256GCM        = "AES-256-GCM"
	AlgChaCha20Poly1305 = "ChaCha20-Poly1305"
)

// Credential is the account record kept by the user repository. The master
// secret is never part of it: only the auth secret and both salts are stored.
type Credential struct {
	ID         int64  // assigned by the repository
	Username   string // unique
	AuthSalt   []byte // salt for the auth secret
	KeySalt    []byte // salt for the master secret, independent of AuthSalt
	AuthSecret []byte // Argon2id(password, AuthSalt)
	CreatedAt  time.Time
}

// EncryptedEnvelope is an AEAD payload plus the randomness needed to open it.
// Ciphertext is nonce(12B) || sealed output. Values are never mutated; every
// encryption produces a new envelope.
type EncryptedEnvelope struct {
	Ciphertext []byte
	Salt       []byte
	Algorithm  string
}

// Session is an authenticated login holding the decrypted master secret.
type Session struct {
	UserID    int64
	Username  string
	MasterKey []byte
	CreatedAt time.Time
	ExpiresAt time.Time
}

// Expired reports whether the session is past its expiry at now.
func (s Session) Expired(now time.Time) bool {
	return now.After(s.ExpiresAt)
}

// Wipe zeroes the in-memory master key.
func (s *Session) Wipe() {
	for i := range s.MasterKey {
		s.MasterKey[i] = 0
	}
}

// Artifact is a stored generated image. The payload lives in the vault at
// VaultPath; descriptive metadata is kept encrypted next to the record.
type Artifact struct {
	ID        int64
	UserID    int64
	VaultPath string
	Metadata  EncryptedEnvelope
	Thumbnail *EncryptedEnvelope // optional
	CreatedAt time.Time
}

// ArtifactMetadata is the plaintext description of an artifact. It only ever
// leaves memory encrypted.
type ArtifactMetadata struct {
	Prompt         string    `json:"prompt"`
	NegativePrompt string    `json:"negative_prompt"`
	Width          int       `json:"width"`
	Height         int       `json:"height"`
	Steps          int       `json:"steps"`
	CFGScale       float64   `json:"cfg_scale"`
	Seed           int64     `json:"seed"`
	Sampler        string    `json:"sampler"`
	Model          string    `json:"model"`
	Provider       string    `json:"provider"`
	CreatedAt      time.Time `json:"created_at"`
}

// GenerationParams describes a text-to-image request.
type GenerationParams struct {
	Prompt         string
	NegativePrompt string
	Width          int
	Height         int
	Steps          int
	CFGScale       float64
	Seed           *int64 // nil picks a random seed
	Model          string // small, medium or large; empty uses the provider default
}

// TransformParams describes an image-to-image request.
type TransformParams struct {
	Prompt         string
	NegativePrompt string
	Strength       float64 // (0, 1], higher changes more
	Steps          int
	CFGScale       float64
	Seed           *int64
	Model          string
}
