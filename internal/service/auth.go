// Package service contains the application use cases: accounts, generation and
// the encrypted gallery.
package service

import (
	"context"
	"errors"
	"fmt"
	"unicode/utf8"

	"go.uber.org/zap"

	pkgcrypto "github.com/and161185/pixvault/internal/crypto"
	"github.com/and161185/pixvault/internal/errs"
	"github.com/and161185/pixvault/internal/limiter"
	"github.com/and161185/pixvault/internal/model"
	"github.com/and161185/pixvault/internal/repository"
)

const (
	minUsernameLen = 3
	maxUsernameLen = 50
)

// Sessions is the part of the session ledger the services depend on.
type Sessions interface {
	Open(userID int64, username string, masterKey []byte) (model.Session, error)
	Current() (model.Session, bool, error)
	Require() (model.Session, error)
	End() error
}

// AuthService defines account and session operations.
type AuthService interface {
	// Register creates a new account. Only the auth secret and salts are persisted.
	Register(ctx context.Context, username, password string) (*model.Credential, error)
	// Login verifies the password, derives the master secret and opens a session.
	Login(ctx context.Context, username, password string) (model.Session, error)
	// Logout ends the current session, if any.
	Logout() error
	// WhoAmI returns the current session.
	WhoAmI() (model.Session, bool, error)
}

type AuthServiceImpl struct {
	users    repository.UserRepository
	kdf      *pkgcrypto.KeyDeriver
	sessions Sessions
	lim      limiter.Limiter
	source   []byte
	log      *zap.Logger
}

// NewAuthService constructs AuthService. source identifies the client for rate
// limiting and is hashed before use.
func NewAuthService(users repository.UserRepository, kdf *pkgcrypto.KeyDeriver, sessions Sessions, lim limiter.Limiter, source string, log *zap.Logger) *AuthServiceImpl {
	if log == nil {
		log = zap.NewNop()
	}
	return &AuthServiceImpl{
		users:    users,
		kdf:      kdf,
		sessions: sessions,
		lim:      lim,
		source:   limiter.HashSource(source),
		log:      log,
	}
}

func validateCredentials(username, password string) error {
	n := utf8.RuneCountInString(username)
	if n < minUsernameLen || n > maxUsernameLen {
		return fmt.Errorf("%w: username must be %d-%d characters", errs.ErrValidation, minUsernameLen, maxUsernameLen)
	}
	if password == "" {
		return fmt.Errorf("%w: empty password", errs.ErrValidation)
	}
	return nil
}

// Register creates a new user record with two independent per-user salts.
func (s *AuthServiceImpl) Register(ctx context.Context, username, password string) (*model.Credential, error) {
	if err := validateCredentials(username, password); err != nil {
		return nil, err
	}
	exists, err := s.users.Exists(ctx, username)
	if err != nil {
		return nil, err
	}
	if exists {
		return nil, errs.ErrAlreadyExists
	}

	authSalt, keySalt, err := newSaltPair()
	if err != nil {
		return nil, err
	}
	authSecret := s.kdf.DeriveAuth(password, authSalt)

	c := &model.Credential{
		Username:   username,
		AuthSalt:   authSalt,
		KeySalt:    keySalt,
		AuthSecret: authSecret,
	}
	if err := s.users.Create(ctx, c); err != nil {
		return nil, err
	}
	s.log.Info("user registered", zap.Int64("user_id", c.ID), zap.String("username", username))
	return c, nil
}

func newSaltPair() (authSalt, keySalt []byte, err error) {
	authSalt, err = pkgcrypto.GenerateSalt()
	if err != nil {
		return nil, nil, err
	}
	for {
		keySalt, err = pkgcrypto.GenerateSalt()
		if err != nil {
			return nil, nil, err
		}
		if string(keySalt) != string(authSalt) {
			return authSalt, keySalt, nil
		}
	}
}

// Login authenticates with rate limiting by (username, source).
func (s *AuthServiceImpl) Login(ctx context.Context, username, password string) (model.Session, error) {
	allowed, retry, err := s.lim.Allow(ctx, username, s.source)
	if err != nil {
		return model.Session{}, err
	}
	if !allowed {
		s.log.Warn("login blocked", zap.String("username", username), zap.Duration("retry_after", retry))
		return model.Session{}, errs.ErrRateLimited
	}

	c, err := s.users.GetByUsername(ctx, username)
	if err != nil {
		if errors.Is(err, errs.ErrNotFound) {
			if blocked, _, ferr := s.lim.Failure(ctx, username, s.source); ferr == nil && blocked {
				return model.Session{}, errs.ErrRateLimited
			}
		}
		return model.Session{}, err
	}

	if !s.kdf.Verify(c.AuthSecret, password, c.AuthSalt) {
		if blocked, _, ferr := s.lim.Failure(ctx, username, s.source); ferr == nil && blocked {
			return model.Session{}, errs.ErrRateLimited
		}
		s.log.Info("login rejected", zap.String("username", username))
		return model.Session{}, errs.ErrUnauthorized
	}

	if err := s.lim.Success(ctx, username, s.source); err != nil {
		s.log.Warn("reset login failures", zap.Error(err))
	}

	master := s.kdf.DeriveMaster(password, c.KeySalt)
	defer wipe(master)
	sess, err := s.sessions.Open(c.ID, c.Username, master)
	if err != nil {
		return model.Session{}, err
	}
	return sess, nil
}

// Logout ends the session. Logging out twice is not an error.
func (s *AuthServiceImpl) Logout() error {
	return s.sessions.End()
}

// WhoAmI returns the current session; ok is false when nobody is logged in.
func (s *AuthServiceImpl) WhoAmI() (model.Session, bool, error) {
	return s.sessions.Current()
}

func wipe(b []byte) {
	for i := range b {
		b[i] = 0
	}
}
