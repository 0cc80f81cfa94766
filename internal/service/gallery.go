package service

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"go.uber.org/zap"

	"github.com/and161185/pixvault/internal/crypto/envelope"
	"github.com/and161185/pixvault/internal/errs"
	"github.com/and161185/pixvault/internal/model"
	"github.com/and161185/pixvault/internal/repository"
	"github.com/and161185/pixvault/internal/vault"
)

const defaultPageSize = 100

// SearchResult is one artifact visited by Search. Err is set when its metadata
// could not be decrypted; Metadata is then zero.
type SearchResult struct {
	Artifact model.Artifact
	Metadata model.ArtifactMetadata
	Err      error
}

// GalleryService reads and removes the current user's artifacts.
type GalleryService interface {
	List(ctx context.Context, limit, offset int) ([]model.Artifact, error)
	Metadata(ctx context.Context, id int64) (model.ArtifactMetadata, error)
	// Export writes the decrypted payload to w.
	Export(ctx context.Context, id int64, w io.Writer) (int64, error)
	// ExportFile writes the decrypted payload to a new file at path.
	ExportFile(ctx context.Context, id int64, path string) (string, error)
	// Delete securely removes the payload and then the record.
	Delete(ctx context.Context, id int64) (bool, error)
	// Search matches keyword against decrypted prompts, case-insensitively.
	Search(ctx context.Context, keyword string, limit int) ([]SearchResult, error)
}

type GalleryServiceImpl struct {
	artifacts repository.ArtifactRepository
	vault     vault.Storage
	cipher    *envelope.Cipher
	sessions  Sessions
	log       *zap.Logger
}

// NewGalleryService constructs GalleryService.
func NewGalleryService(artifacts repository.ArtifactRepository, store vault.Storage, cipher *envelope.Cipher, sessions Sessions, log *zap.Logger) *GalleryServiceImpl {
	if log == nil {
		log = zap.NewNop()
	}
	return &GalleryServiceImpl{artifacts: artifacts, vault: store, cipher: cipher, sessions: sessions, log: log}
}

func pageArgs(limit, offset int) (int, int, error) {
	if limit < 0 || offset < 0 {
		return 0, 0, fmt.Errorf("%w: negative limit or offset", errs.ErrValidation)
	}
	if limit == 0 {
		limit = defaultPageSize
	}
	return limit, offset, nil
}

// List returns the user's artifacts, newest first. A zero limit means 100.
func (s *GalleryServiceImpl) List(ctx context.Context, limit, offset int) ([]model.Artifact, error) {
	sess, err := s.sessions.Require()
	if err != nil {
		return nil, err
	}
	sess.Wipe()

	limit, offset, err = pageArgs(limit, offset)
	if err != nil {
		return nil, err
	}
	return s.artifacts.ListByUser(ctx, sess.UserID, limit, offset)
}

func (s *GalleryServiceImpl) Metadata(ctx context.Context, id int64) (model.ArtifactMetadata, error) {
	sess, err := s.sessions.Require()
	if err != nil {
		return model.ArtifactMetadata{}, err
	}
	defer sess.Wipe()

	a, err := s.artifacts.GetByID(ctx, id, sess.UserID)
	if err != nil {
		return model.ArtifactMetadata{}, err
	}
	var meta model.ArtifactMetadata
	if err := s.cipher.DecryptMetadata(a.Metadata, sess.MasterKey, &meta); err != nil {
		return model.ArtifactMetadata{}, err
	}
	return meta, nil
}

func (s *GalleryServiceImpl) Export(ctx context.Context, id int64, w io.Writer) (int64, error) {
	sess, err := s.sessions.Require()
	if err != nil {
		return 0, err
	}
	defer sess.Wipe()

	a, err := s.artifacts.GetByID(ctx, id, sess.UserID)
	if err != nil {
		return 0, err
	}
	env, ok, err := s.vault.Retrieve(ctx, a.VaultPath)
	if err != nil {
		return 0, err
	}
	if !ok {
		return 0, fmt.Errorf("%w: payload of artifact %d is missing", errs.ErrVaultAccess, id)
	}
	payload, err := s.cipher.Decrypt(env, sess.MasterKey)
	if err != nil {
		return 0, err
	}
	n, err := w.Write(payload)
	return int64(n), err
}

// ExportFile creates path (and missing parent directories) with mode 0600.
// An existing file is not overwritten.
func (s *GalleryServiceImpl) ExportFile(ctx context.Context, id int64, path string) (string, error) {
	if path == "" {
		return "", fmt.Errorf("%w: empty output path", errs.ErrValidation)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return "", err
	}
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o600)
	if err != nil {
		if errors.Is(err, os.ErrExist) {
			return "", fmt.Errorf("%w: %s", errs.ErrAlreadyExists, path)
		}
		return "", err
	}

	_, err = s.Export(ctx, id, f)
	if cerr := f.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		_ = os.Remove(path)
		return "", err
	}
	s.log.Info("artifact exported", zap.Int64("artifact_id", id), zap.String("path", path))
	return path, nil
}

// Delete reports false when the artifact does not exist for this user. When the
// vault delete fails the record is kept so the payload stays reachable.
func (s *GalleryServiceImpl) Delete(ctx context.Context, id int64) (bool, error) {
	sess, err := s.sessions.Require()
	if err != nil {
		return false, err
	}
	sess.Wipe()

	a, err := s.artifacts.GetByID(ctx, id, sess.UserID)
	if errors.Is(err, errs.ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	if _, err := s.vault.Delete(ctx, a.VaultPath); err != nil {
		return false, err
	}
	// the payload is gone, so the record must follow even if ctx is cancelled now
	deleted, err := s.artifacts.Delete(context.WithoutCancel(ctx), id, sess.UserID)
	if err != nil {
		return false, err
	}
	s.log.Info("artifact deleted", zap.Int64("artifact_id", id))
	return deleted, nil
}

// Search decrypts metadata of up to limit newest artifacts. Matches are
// returned in list order; artifacts whose metadata fails to decrypt are
// returned with Err set.
func (s *GalleryServiceImpl) Search(ctx context.Context, keyword string, limit int) ([]SearchResult, error) {
	sess, err := s.sessions.Require()
	if err != nil {
		return nil, err
	}
	defer sess.Wipe()

	limit, _, err = pageArgs(limit, 0)
	if err != nil {
		return nil, err
	}
	items, err := s.artifacts.ListByUser(ctx, sess.UserID, limit, 0)
	if err != nil {
		return nil, err
	}

	kw := strings.ToLower(keyword)
	var out []SearchResult
	for _, a := range items {
		var meta model.ArtifactMetadata
		if err := s.cipher.DecryptMetadata(a.Metadata, sess.MasterKey, &meta); err != nil {
			s.log.Warn("skip undecryptable metadata", zap.Int64("artifact_id", a.ID), zap.Error(err))
			out = append(out, SearchResult{Artifact: a, Err: err})
			continue
		}
		if strings.Contains(strings.ToLower(meta.Prompt), kw) {
			out = append(out, SearchResult{Artifact: a, Metadata: meta})
		}
	}
	return out, nil
}
