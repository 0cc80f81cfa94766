package main

import (
	"context"
	"errors"
	"fmt"
	"os"

	"go.uber.org/zap"

	"github.com/and161185/pixvault/internal/config"
	pkgcrypto "github.com/and161185/pixvault/internal/crypto"
	"github.com/and161185/pixvault/internal/crypto/envelope"
	"github.com/and161185/pixvault/internal/limiter"
	"github.com/and161185/pixvault/internal/migrate"
	"github.com/and161185/pixvault/internal/provider"
	"github.com/and161185/pixvault/internal/provider/comfyui"
	"github.com/and161185/pixvault/internal/repository"
	"github.com/and161185/pixvault/internal/repository/postgres"
	"github.com/and161185/pixvault/internal/repository/sqlite"
	"github.com/and161185/pixvault/internal/service"
	"github.com/and161185/pixvault/internal/session"
	"github.com/and161185/pixvault/internal/vault"
)

// app holds the wired services for one command invocation.
type app struct {
	cfg      config.Config
	log      *zap.Logger
	provider provider.Provider
	auth     service.AuthService
	gen      service.GenerationService
	gallery  service.GalleryService
	closers  []func() error
}

type stores struct {
	users     repository.UserRepository
	artifacts repository.ArtifactRepository
	limiter   limiter.Limiter
	close     func() error
}

func newApp(ctx context.Context, cfg config.Config, log *zap.Logger) (*app, error) {
	if err := os.MkdirAll(cfg.DataDir, 0o700); err != nil {
		return nil, fmt.Errorf("create data dir: %w", err)
	}

	kdf, err := pkgcrypto.NewKeyDeriver(pkgcrypto.Params{
		Time:      cfg.Argon2.Time,
		MemoryKiB: cfg.Argon2.MemoryKiB,
		Threads:   cfg.Argon2.Threads,
	})
	if err != nil {
		return nil, err
	}
	cipher, err := envelope.New(cfg.Cipher.Algorithm)
	if err != nil {
		return nil, err
	}

	fs, err := session.NewFileStore(cfg.Session.Dir)
	if err != nil {
		return nil, fmt.Errorf("session store: %w", err)
	}
	ledger := session.NewLedger(fs, cfg.Session.Timeout, log.Named("session"))

	st, err := openStores(ctx, cfg)
	if err != nil {
		return nil, err
	}
	a := &app{cfg: cfg, log: log, closers: []func() error{st.close}}

	store, err := openVault(ctx, cfg, log.Named("vault"))
	if err != nil {
		_ = a.Close()
		return nil, err
	}

	prov, err := comfyui.New(comfyui.Options{
		BaseURL: cfg.ComfyUI.URL,
		Timeout: cfg.ComfyUI.Timeout,
		Model:   cfg.Generation.Model,
	}, log)
	if err != nil {
		_ = a.Close()
		return nil, err
	}

	host, err := os.Hostname()
	if err != nil {
		host = "localhost"
	}

	a.provider = prov
	a.auth = service.NewAuthService(st.users, kdf, ledger, st.limiter, host, log.Named("auth"))
	a.gen = service.NewGenerationService(st.artifacts, store, cipher, prov, ledger, cfg.Generation, log.Named("generation"))
	a.gallery = service.NewGalleryService(st.artifacts, store, cipher, ledger, log.Named("gallery"))
	return a, nil
}

// Close releases database handles in reverse order of opening.
func (a *app) Close() error {
	var errList []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			errList = append(errList, err)
		}
	}
	return errors.Join(errList...)
}

func openStores(ctx context.Context, cfg config.Config) (stores, error) {
	policy := limiter.Policy{
		Window:      cfg.Limiter.Window,
		MaxFailures: cfg.Limiter.MaxFailures,
		BlockFor:    cfg.Limiter.BlockFor,
	}

	switch cfg.Database.Driver {
	case "postgres":
		if err := migrate.UpPostgres(ctx, cfg.Database.DSN); err != nil {
			return stores{}, fmt.Errorf("migrate postgres: %w", err)
		}
		db, err := postgres.New(ctx, cfg.Database.DSN)
		if err != nil {
			return stores{}, fmt.Errorf("connect postgres: %w", err)
		}
		return stores{
			users:     postgres.NewUserRepo(db),
			artifacts: postgres.NewArtifactRepo(db),
			limiter:   limiter.NewPG(db.Pool, policy),
			close:     func() error { db.Close(); return nil },
		}, nil
	default:
		db, err := sqlite.Open(ctx, cfg.Database.Path)
		if err != nil {
			return stores{}, err
		}
		return stores{
			users:     sqlite.NewUserRepo(db),
			artifacts: sqlite.NewArtifactRepo(db),
			limiter:   limiter.NewSQLite(db, policy),
			close:     db.Close,
		}, nil
	}
}

func openVault(ctx context.Context, cfg config.Config, log *zap.Logger) (vault.Storage, error) {
	if cfg.Vault.Backend == "s3" {
		s3cfg := cfg.Vault.S3
		client, err := vault.NewS3Client(ctx, vault.S3Options{
			Region:    s3cfg.Region,
			Endpoint:  s3cfg.Endpoint,
			AccessKey: s3cfg.AccessKey,
			SecretKey: s3cfg.SecretKey,
		})
		if err != nil {
			return nil, fmt.Errorf("s3 client: %w", err)
		}
		return vault.NewS3(client, s3cfg.Bucket, s3cfg.Prefix, log), nil
	}
	return vault.NewLocal(cfg.Vault.Dir, log)
}
