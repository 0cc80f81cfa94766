// Package envelope implements per-object envelope encryption under a master key.
//
// Every Encrypt call draws a fresh salt and nonce. The salt feeds HKDF-SHA256
// (info "file") to produce a single-use subkey, so no two objects share an AEAD
// key even when they share a master key.
package envelope

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/json"
	"fmt"
	"io"

	"golang.org/x/crypto/chacha20poly1305"
	"golang.org/x/crypto/hkdf"

	"github.com/and161185/pixvault/internal/errs"
	"github.com/and161185/pixvault/internal/model"
)

// Params
const (
	KeyLen   = 32
	SaltLen  = 32
	NonceLen = 12

	fileInfo = "file"
)

// Cipher encrypts with one configured algorithm and decrypts any supported one.
type Cipher struct {
	algorithm string
}

// New returns a Cipher that seals with algorithm (model.AlgAES256GCM when empty).
func New(algorithm string) (*Cipher, error) {
	if algorithm == "" {
		algorithm = model.AlgAES256GCM
	}
	if _, err := newAEAD(algorithm, make([]byte, KeyLen)); err != nil {
		return nil, err
	}
	return &Cipher{algorithm: algorithm}, nil
}

// Algorithm returns the tag written into new envelopes.
func (c *Cipher) Algorithm() string { return c.algorithm }

func newAEAD(algorithm string, key []byte) (cipher.AEAD, error) {
	switch algorithm {
	case model.AlgAES256GCM:
		block, err := aes.NewCipher(key)
		if err != nil {
			return nil, err
		}
		return cipher.NewGCM(block)
	case model.AlgChaCha20Poly1305:
		return chacha20poly1305.New(key)
	default:
		return nil, fmt.Errorf("unsupported algorithm %q", algorithm)
	}
}

// deriveFileKey derives a per-object subkey via HKDF-SHA256 keyed by masterKey.
func deriveFileKey(masterKey, salt []byte) ([]byte, error) {
	r := hkdf.New(sha256.New, masterKey, salt, []byte(fileInfo))
	key := make([]byte, KeyLen)
	if _, err := io.ReadFull(r, key); err != nil {
		return nil, err
	}
	return key, nil
}

// Encrypt seals plaintext into a new envelope.
func (c *Cipher) Encrypt(plaintext, masterKey []byte) (model.EncryptedEnvelope, error) {
	if len(masterKey) != KeyLen {
		return model.EncryptedEnvelope{}, fmt.Errorf("%w: master key must be %d bytes", errs.ErrCrypto, KeyLen)
	}
	salt := make([]byte, SaltLen)
	if _, err := rand.Read(salt); err != nil {
		return model.EncryptedEnvelope{}, fmt.Errorf("%w: salt: %v", errs.ErrCrypto, err)
	}
	key, err := deriveFileKey(masterKey, salt)
	if err != nil {
		return model.EncryptedEnvelope{}, fmt.Errorf("%w: subkey: %v", errs.ErrCrypto, err)
	}
	aead, err := newAEAD(c.algorithm, key)
	if err != nil {
		return model.EncryptedEnvelope{}, fmt.Errorf("%w: %v", errs.ErrCrypto, err)
	}
	nonce := make([]byte, NonceLen)
	if _, err := rand.Read(nonce); err != nil {
		return model.EncryptedEnvelope{}, fmt.Errorf("%w: nonce: %v", errs.ErrCrypto, err)
	}
	out := make([]byte, 0, NonceLen+len(plaintext)+aead.Overhead())
	out = append(out, nonce...)
	out = aead.Seal(out, nonce, plaintext, nil)
	return model.EncryptedEnvelope{Ciphertext: out, Salt: salt, Algorithm: c.algorithm}, nil
}

// errDecrypt is returned for every decryption failure so callers cannot tell
// a wrong key from corrupted data.
var errDecrypt = fmt.Errorf("%w: decryption failed", errs.ErrCrypto)

// Decrypt opens an envelope produced by Encrypt.
func (c *Cipher) Decrypt(env model.EncryptedEnvelope, masterKey []byte) ([]byte, error) {
	if len(masterKey) != KeyLen || len(env.Ciphertext) < NonceLen {
		return nil, errDecrypt
	}
	key, err := deriveFileKey(masterKey, env.Salt)
	if err != nil {
		return nil, errDecrypt
	}
	aead, err := newAEAD(env.Algorithm, key)
	if err != nil {
		return nil, errDecrypt
	}
	nonce := env.Ciphertext[:NonceLen]
	ct := env.Ciphertext[NonceLen:]
	pt, err := aead.Open(nil, nonce, ct, nil)
	if err != nil {
		return nil, errDecrypt
	}
	return pt, nil
}

// EncryptMetadata encodes v as JSON and seals it.
func (c *Cipher) EncryptMetadata(v any, masterKey []byte) (model.EncryptedEnvelope, error) {
	plaintext, err := json.Marshal(v)
	if err != nil {
		return model.EncryptedEnvelope{}, fmt.Errorf("%w: %v", errs.ErrSerialization, err)
	}
	return c.Encrypt(plaintext, masterKey)
}

// DecryptMetadata opens env and decodes the JSON into v.
func (c *Cipher) DecryptMetadata(env model.EncryptedEnvelope, masterKey []byte, v any) error {
	plaintext, err := c.Decrypt(env, masterKey)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(plaintext, v); err != nil {
		return fmt.Errorf("%w: %v", errs.ErrSerialization, err)
	}
	return nil
}
