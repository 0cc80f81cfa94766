package vault

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/and161185/pixvault/internal/errs"
	"github.com/and161185/pixvault/internal/model"
)

const nameAttempts = 5

// Local keeps one file per record under <root>/<owner_id>.
type Local struct {
	root     string
	realRoot string
	now      func() time.Time
	log      *zap.Logger
}

var _ Storage = (*Local)(nil)

// NewLocal creates the root directory if needed.
func NewLocal(root string, log *zap.Logger) (*Local, error) {
	if log == nil {
		log = zap.NewNop()
	}
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("%w: vault root: %w", errs.ErrVaultAccess, err)
	}
	if err := os.MkdirAll(abs, 0o700); err != nil {
		return nil, fmt.Errorf("%w: create vault root: %w", errs.ErrVaultAccess, err)
	}
	resolved, err := filepath.EvalSymlinks(abs)
	if err != nil {
		return nil, fmt.Errorf("%w: resolve vault root: %w", errs.ErrVaultAccess, err)
	}
	return &Local{root: abs, realRoot: resolved, now: time.Now, log: log}, nil
}

// Root returns the absolute vault root.
func (l *Local) Root() string { return l.root }

func (l *Local) Store(ctx context.Context, ownerID int64, env model.EncryptedEnvelope, suggestedName string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	if err := validOwner(ownerID); err != nil {
		return "", err
	}
	owner := strconv.FormatInt(ownerID, 10)
	dir := filepath.Join(l.root, owner)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return "", fmt.Errorf("%w: create owner dir: %w", errs.ErrVaultAccess, err)
	}

	now := l.now()
	data, err := encodeRecord(env, now)
	if err != nil {
		return "", err
	}

	for range nameAttempts {
		name, err := uniqueName(suggestedName, now)
		if err != nil {
			return "", err
		}
		f, err := os.OpenFile(filepath.Join(dir, name), os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o600)
		if errors.Is(err, fs.ErrExist) {
			continue
		}
		if err != nil {
			return "", fmt.Errorf("%w: create record: %w", errs.ErrVaultAccess, err)
		}
		if err := writeAndClose(f, data); err != nil {
			_ = os.Remove(f.Name())
			return "", fmt.Errorf("%w: write record: %w", errs.ErrVaultAccess, err)
		}
		vp := path.Join(owner, name)
		l.log.Debug("vault record stored", zap.String("path", vp), zap.Int("bytes", len(data)))
		return vp, nil
	}
	return "", fmt.Errorf("%w: no free name for %q", errs.ErrVaultAccess, suggestedName)
}

func (l *Local) Retrieve(ctx context.Context, vaultPath string) (model.EncryptedEnvelope, bool, error) {
	full, err := l.resolve(vaultPath)
	if err != nil {
		return model.EncryptedEnvelope{}, false, err
	}
	if err := ctx.Err(); err != nil {
		return model.EncryptedEnvelope{}, false, err
	}
	if err := l.checkLinks(full); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return model.EncryptedEnvelope{}, false, nil
		}
		return model.EncryptedEnvelope{}, false, err
	}
	data, err := os.ReadFile(full)
	if errors.Is(err, fs.ErrNotExist) {
		return model.EncryptedEnvelope{}, false, nil
	}
	if err != nil {
		return model.EncryptedEnvelope{}, false, fmt.Errorf("%w: read record: %w", errs.ErrVaultAccess, err)
	}
	env, err := decodeRecord(data)
	if err != nil {
		return model.EncryptedEnvelope{}, false, err
	}
	return env, true, nil
}

// Delete overwrites the record with random bytes of the same length, syncs and
// unlinks it. It reports whether a record was removed.
func (l *Local) Delete(ctx context.Context, vaultPath string) (bool, error) {
	full, err := l.resolve(vaultPath)
	if err != nil {
		return false, err
	}
	if err := ctx.Err(); err != nil {
		return false, err
	}
	if err := l.checkLinks(full); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return false, nil
		}
		return false, err
	}
	st, err := os.Lstat(full)
	if errors.Is(err, fs.ErrNotExist) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("%w: stat record: %w", errs.ErrVaultAccess, err)
	}
	if !st.Mode().IsRegular() {
		return false, fmt.Errorf("%w: %q is not a regular file", errs.ErrVaultAccess, vaultPath)
	}

	if err := overwrite(full, st.Size()); err != nil {
		return false, fmt.Errorf("%w: overwrite record: %w", errs.ErrVaultAccess, err)
	}
	if err := os.Remove(full); err != nil {
		return false, fmt.Errorf("%w: unlink record: %w", errs.ErrVaultAccess, err)
	}
	l.log.Debug("vault record deleted", zap.String("path", vaultPath))
	return true, nil
}

func (l *Local) Exists(ctx context.Context, vaultPath string) (bool, error) {
	full, err := l.resolve(vaultPath)
	if err != nil {
		return false, err
	}
	if err := ctx.Err(); err != nil {
		return false, err
	}
	if err := l.checkLinks(full); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return false, nil
		}
		return false, err
	}
	st, err := os.Stat(full)
	if errors.Is(err, fs.ErrNotExist) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("%w: stat record: %w", errs.ErrVaultAccess, err)
	}
	return st.Mode().IsRegular(), nil
}

// resolve maps a vault path onto the filesystem. No syscall happens here.
func (l *Local) resolve(vaultPath string) (string, error) {
	rel, err := Clean(vaultPath)
	if err != nil {
		return "", err
	}
	return filepath.Join(l.root, filepath.FromSlash(rel)), nil
}

// checkLinks rejects targets whose symlink-resolved location leaves the root.
func (l *Local) checkLinks(full string) error {
	resolved, err := filepath.EvalSymlinks(full)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return err
		}
		return fmt.Errorf("%w: resolve record: %w", errs.ErrVaultAccess, err)
	}
	rel, err := filepath.Rel(l.realRoot, resolved)
	if err != nil || rel == "." || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return fmt.Errorf("%w: record resolves outside vault root", errs.ErrVaultAccess)
	}
	return nil
}

func overwrite(name string, size int64) error {
	f, err := os.OpenFile(name, os.O_WRONLY, 0)
	if err != nil {
		return err
	}
	if _, err := io.CopyN(f, rand.Reader, size); err != nil {
		_ = f.Close()
		return err
	}
	if err := f.Sync(); err != nil {
		_ = f.Close()
		return err
	}
	return f.Close()
}

func writeAndClose(f *os.File, data []byte) error {
	if _, err := f.Write(data); err != nil {
		_ = f.Close()
		return err
	}
	if err := f.Sync(); err != nil {
		_ = f.Close()
		return err
	}
	return f.Close()
}
