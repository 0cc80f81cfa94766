// Package vault persists encrypted envelopes as opaque records addressed by a
// slash-separated path relative to the vault root.
package vault

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"path"
	"strings"
	"time"

	"github.com/gofrs/uuid/v5"

	"github.com/and161185/pixvault/internal/errs"
	"github.com/and161185/pixvault/internal/model"
)

// Storage is the vault contract shared by every backend. Paths passed to
// Retrieve, Delete and Exists are checked for containment before the backend
// is touched.
type Storage interface {
	Store(ctx context.Context, ownerID int64, env model.EncryptedEnvelope, suggestedName string) (string, error)
	Retrieve(ctx context.Context, vaultPath string) (model.EncryptedEnvelope, bool, error)
	Delete(ctx context.Context, vaultPath string) (bool, error)
	Exists(ctx context.Context, vaultPath string) (bool, error)
}

type record struct {
	Ciphertext string `json:"ciphertext"`
	Salt       string `json:"salt"`
	Algorithm  string `json:"algorithm"`
	StoredAt   string `json:"stored_at"`
}

func encodeRecord(env model.EncryptedEnvelope, now time.Time) ([]byte, error) {
	data, err := json.Marshal(record{
		Ciphertext: hex.EncodeToString(env.Ciphertext),
		Salt:       hex.EncodeToString(env.Salt),
		Algorithm:  env.Algorithm,
		StoredAt:   now.UTC().Format(time.RFC3339),
	})
	if err != nil {
		return nil, fmt.Errorf("%w: encode record: %w", errs.ErrVaultAccess, err)
	}
	return data, nil
}

func decodeRecord(data []byte) (model.EncryptedEnvelope, error) {
	var r record
	if err := json.Unmarshal(data, &r); err != nil {
		return model.EncryptedEnvelope{}, fmt.Errorf("%w: malformed record: %w", errs.ErrVaultAccess, err)
	}
	ct, err := hex.DecodeString(r.Ciphertext)
	if err != nil {
		return model.EncryptedEnvelope{}, fmt.Errorf("%w: malformed ciphertext: %w", errs.ErrVaultAccess, err)
	}
	salt, err := hex.DecodeString(r.Salt)
	if err != nil {
		return model.EncryptedEnvelope{}, fmt.Errorf("%w: malformed salt: %w", errs.ErrVaultAccess, err)
	}
	if r.Algorithm == "" {
		return model.EncryptedEnvelope{}, fmt.Errorf("%w: record has no algorithm", errs.ErrVaultAccess)
	}
	return model.EncryptedEnvelope{Ciphertext: ct, Salt: salt, Algorithm: r.Algorithm}, nil
}

// Clean validates a vault path and returns its canonical slash form. It is
// purely lexical: empty, absolute, root-resolving and escaping paths are
// rejected with errs.ErrVaultAccess.
func Clean(vaultPath string) (string, error) {
	p := strings.ReplaceAll(vaultPath, `\`, "/")
	if strings.TrimSpace(p) == "" {
		return "", fmt.Errorf("%w: empty path", errs.ErrVaultAccess)
	}
	if path.IsAbs(p) || hasVolume(p) {
		return "", fmt.Errorf("%w: absolute path %q", errs.ErrVaultAccess, vaultPath)
	}
	c := path.Clean(p)
	if c == "." || c == ".." || strings.HasPrefix(c, "../") {
		return "", fmt.Errorf("%w: path %q escapes vault root", errs.ErrVaultAccess, vaultPath)
	}
	return c, nil
}

func hasVolume(p string) bool {
	return len(p) >= 2 && p[1] == ':' && ((p[0] >= 'a' && p[0] <= 'z') || (p[0] >= 'A' && p[0] <= 'Z'))
}

// uniqueName turns a suggested name into <stem>_<YYYYmmdd_HHMMSS>_<8 hex>.<ext>.
func uniqueName(suggested string, now time.Time) (string, error) {
	base := path.Base(strings.ReplaceAll(suggested, `\`, "/"))
	ext := path.Ext(base)
	stem := strings.Trim(sanitize(strings.TrimSuffix(base, ext)), ".")
	if stem == "" {
		stem = "object"
	}
	ext = sanitize(ext)
	if ext == "." {
		ext = ""
	}

	id, err := uuid.NewV4()
	if err != nil {
		return "", fmt.Errorf("%w: name suffix: %w", errs.ErrVaultAccess, err)
	}
	suffix := hex.EncodeToString(id.Bytes()[:4])
	return fmt.Sprintf("%s_%s_%s%s", stem, now.UTC().Format("20060102_150405"), suffix, ext), nil
}

func sanitize(s string) string {
	s = strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
			return r
		case r == '-' || r == '_' || r == '.':
			return r
		default:
			return '_'
		}
	}, s)
	return strings.Trim(s, "_")
}

func validOwner(ownerID int64) error {
	if ownerID <= 0 {
		return fmt.Errorf("%w: invalid owner id %d", errs.ErrVaultAccess, ownerID)
	}
	return nil
}
