// Package session keeps the decrypted master secret for the lifetime of a login.
//
// A Ledger persists exactly one session per Store. Expiry is enforced lazily on
// read; an expired or malformed record is destroyed as soon as it is seen.
package session

import (
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	pkgcrypto "github.com/and161185/pixvault/internal/crypto"
	"github.com/and161185/pixvault/internal/errs"
	"github.com/and161185/pixvault/internal/model"
)

// record is the persisted form. master_secret is hex and protected only by the
// store's access restriction.
type record struct {
	UserID       int64  `json:"user_id"`
	Username     string `json:"username"`
	MasterSecret string `json:"master_secret"`
	CreatedAt    string `json:"created_at"`
	ExpiresAt    string `json:"expires_at"`
}

// Ledger manages the session state machine NoSession -> Active -> {LoggedOut, Expired}.
type Ledger struct {
	mu      sync.Mutex
	store   Store
	timeout time.Duration
	now     func() time.Time
	log     *zap.Logger
}

// NewLedger constructs a Ledger. timeout is the lifetime given to sessions built by Open.
func NewLedger(store Store, timeout time.Duration, log *zap.Logger) *Ledger {
	if log == nil {
		log = zap.NewNop()
	}
	return &Ledger{store: store, timeout: timeout, now: time.Now, log: log}
}

// Timeout returns the configured session lifetime.
func (l *Ledger) Timeout() time.Duration { return l.timeout }

// Open starts a new session for the user, valid for the ledger timeout.
func (l *Ledger) Open(userID int64, username string, masterKey []byte) (model.Session, error) {
	now := l.now().UTC()
	s := model.Session{
		UserID:    userID,
		Username:  username,
		MasterKey: append([]byte(nil), masterKey...),
		CreatedAt: now,
		ExpiresAt: now.Add(l.timeout),
	}
	if err := l.Start(s); err != nil {
		return model.Session{}, err
	}
	return s, nil
}

// Start persists s, superseding any previous session, and restricts access to it.
func (l *Ledger) Start(s model.Session) error {
	if len(s.MasterKey) != pkgcrypto.SecretLen {
		return fmt.Errorf("%w: master key must be %d bytes", errs.ErrValidation, pkgcrypto.SecretLen)
	}
	data, err := json.Marshal(record{
		UserID:       s.UserID,
		Username:     s.Username,
		MasterSecret: hex.EncodeToString(s.MasterKey),
		CreatedAt:    s.CreatedAt.UTC().Format(time.RFC3339Nano),
		ExpiresAt:    s.ExpiresAt.UTC().Format(time.RFC3339Nano),
	})
	if err != nil {
		return fmt.Errorf("encode session: %w", err)
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	if err := l.store.Save(data); err != nil {
		return fmt.Errorf("save session: %w", err)
	}
	if err := l.store.Restrict(); err != nil {
		return fmt.Errorf("restrict session: %w", err)
	}
	l.log.Info("session started",
		zap.Int64("user_id", s.UserID),
		zap.Time("expires_at", s.ExpiresAt),
	)
	return nil
}

// Current returns the active session. ok is false when there is none; an expired
// session is destroyed and reported as errs.ErrSessionExpired.
func (l *Ledger) Current() (s model.Session, ok bool, err error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	data, err := l.store.Load()
	if errors.Is(err, ErrNoRecord) {
		return model.Session{}, false, nil
	}
	if err != nil {
		return model.Session{}, false, fmt.Errorf("load session: %w", err)
	}

	s, err = decode(data)
	if err != nil {
		l.log.Warn("discarding malformed session record", zap.Error(err))
		if derr := l.destroy(); derr != nil {
			return model.Session{}, false, derr
		}
		return model.Session{}, false, nil
	}

	if s.Expired(l.now()) {
		s.Wipe()
		if derr := l.destroy(); derr != nil {
			return model.Session{}, false, derr
		}
		l.log.Info("session expired", zap.Int64("user_id", s.UserID))
		return model.Session{}, false, errs.ErrSessionExpired
	}
	return s, true, nil
}

// Require returns the active session or errs.ErrNoSession / errs.ErrSessionExpired.
func (l *Ledger) Require() (model.Session, error) {
	s, ok, err := l.Current()
	if err != nil {
		return model.Session{}, err
	}
	if !ok {
		return model.Session{}, errs.ErrNoSession
	}
	return s, nil
}

// Active reports whether a valid session exists.
func (l *Ledger) Active() bool {
	_, ok, err := l.Current()
	return ok && err == nil
}

// End scrubs and removes the persisted session. Ending with no session is a no-op.
func (l *Ledger) End() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.destroy()
}

func (l *Ledger) destroy() error {
	if err := l.store.Scrub(); err != nil {
		return fmt.Errorf("scrub session: %w", err)
	}
	if err := l.store.Remove(); err != nil {
		return fmt.Errorf("remove session: %w", err)
	}
	return nil
}

func decode(data []byte) (model.Session, error) {
	var r record
	if err := json.Unmarshal(data, &r); err != nil {
		return model.Session{}, err
	}
	key, err := hex.DecodeString(r.MasterSecret)
	if err != nil {
		return model.Session{}, fmt.Errorf("master_secret: %w", err)
	}
	if len(key) != pkgcrypto.SecretLen {
		return model.Session{}, fmt.Errorf("master_secret: %d bytes, want %d", len(key), pkgcrypto.SecretLen)
	}
	created, err := time.Parse(time.RFC3339Nano, r.CreatedAt)
	if err != nil {
		return model.Session{}, fmt.Errorf("created_at: %w", err)
	}
	expires, err := time.Parse(time.RFC3339Nano, r.ExpiresAt)
	if err != nil {
		return model.Session{}, fmt.Errorf("expires_at: %w", err)
	}
	return model.Session{
		UserID:    r.UserID,
		Username:  r.Username,
		MasterKey: key,
		CreatedAt: created,
		ExpiresAt: expires,
	}, nil
}
