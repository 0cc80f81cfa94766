package service

import (
	"bytes"
	"context"
	"fmt"
	"image"
	_ "image/jpeg" // decoders for output dimensions
	_ "image/png"
	"math/rand/v2"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/and161185/pixvault/internal/config"
	"github.com/and161185/pixvault/internal/crypto/envelope"
	"github.com/and161185/pixvault/internal/errs"
	"github.com/and161185/pixvault/internal/model"
	"github.com/and161185/pixvault/internal/provider"
	"github.com/and161185/pixvault/internal/repository"
	"github.com/and161185/pixvault/internal/vault"
)

// DefaultSampler is recorded in metadata for every artifact.
const DefaultSampler = "DPM++ 2M Karras"

const defaultStrength = 0.75

// GenerationService produces new encrypted artifacts.
type GenerationService interface {
	// Generate runs text-to-image and stores the result.
	Generate(ctx context.Context, p model.GenerationParams) (*model.Artifact, error)
	// Transform runs image-to-image on caller supplied bytes.
	Transform(ctx context.Context, input []byte, p model.TransformParams) (*model.Artifact, error)
	// Restyle runs image-to-image on an artifact already in the gallery,
	// reusing its steps, cfg scale and seed.
	Restyle(ctx context.Context, artifactID int64, p model.TransformParams) (*model.Artifact, error)
}

type GenerationServiceImpl struct {
	artifacts repository.ArtifactRepository
	vault     vault.Storage
	cipher    *envelope.Cipher
	prov      provider.Provider
	sessions  Sessions
	defaults  config.GenerationConfig
	now       func() time.Time
	log       *zap.Logger
}

// NewGenerationService constructs GenerationService. Zero fields in requests are
// filled from defaults.
func NewGenerationService(
	artifacts repository.ArtifactRepository,
	store vault.Storage,
	cipher *envelope.Cipher,
	prov provider.Provider,
	sessions Sessions,
	defaults config.GenerationConfig,
	log *zap.Logger,
) *GenerationServiceImpl {
	if log == nil {
		log = zap.NewNop()
	}
	return &GenerationServiceImpl{
		artifacts: artifacts,
		vault:     store,
		cipher:    cipher,
		prov:      prov,
		sessions:  sessions,
		defaults:  defaults,
		now:       time.Now,
		log:       log,
	}
}

// Generate creates an artifact from a text prompt. The image is stored as
// image_<seed>.png.
func (s *GenerationServiceImpl) Generate(ctx context.Context, p model.GenerationParams) (*model.Artifact, error) {
	sess, err := s.sessions.Require()
	if err != nil {
		return nil, err
	}
	defer sess.Wipe()

	if strings.TrimSpace(p.Prompt) == "" {
		return nil, fmt.Errorf("%w: empty prompt", errs.ErrValidation)
	}
	s.applyDefaults(&p)
	if p.Width <= 0 || p.Height <= 0 || p.Steps <= 0 {
		return nil, fmt.Errorf("%w: width, height and steps must be positive", errs.ErrValidation)
	}
	seed := resolveSeed(p.Seed)
	p.Seed = &seed

	if !s.prov.HealthCheck(ctx) {
		return nil, fmt.Errorf("%w: provider %s is not available", errs.ErrGeneration, s.prov.Name())
	}

	s.log.Info("generating image",
		zap.String("provider", s.prov.Name()),
		zap.String("model", p.Model),
		zap.Int("width", p.Width),
		zap.Int("height", p.Height),
		zap.Int64("seed", seed),
	)
	img, err := s.prov.Generate(ctx, p)
	if err != nil {
		return nil, fmt.Errorf("generate: %w", err)
	}

	meta := model.ArtifactMetadata{
		Prompt:         p.Prompt,
		NegativePrompt: p.NegativePrompt,
		Width:          p.Width,
		Height:         p.Height,
		Steps:          p.Steps,
		CFGScale:       p.CFGScale,
		Seed:           seed,
		Sampler:        DefaultSampler,
		Model:          p.Model,
		Provider:       s.prov.Name(),
		CreatedAt:      s.now().UTC(),
	}
	return s.persist(ctx, sess, img, meta, fmt.Sprintf("image_%d.png", seed))
}

// Transform creates an artifact from input using the prompt as a style. The
// result is stored as img2img_<seed>.png.
func (s *GenerationServiceImpl) Transform(ctx context.Context, input []byte, p model.TransformParams) (*model.Artifact, error) {
	sess, err := s.sessions.Require()
	if err != nil {
		return nil, err
	}
	defer sess.Wipe()

	if len(input) == 0 {
		return nil, fmt.Errorf("%w: empty input image", errs.ErrValidation)
	}
	s.applyTransformDefaults(&p)
	seed := resolveSeed(p.Seed)
	p.Seed = &seed

	return s.transform(ctx, sess, input, p, "[img2img] "+p.Prompt, fmt.Sprintf("img2img_%d.png", seed))
}

// Restyle transforms the decrypted payload of an existing artifact. The result
// is stored as restyle_<id>_<seed>.png.
func (s *GenerationServiceImpl) Restyle(ctx context.Context, artifactID int64, p model.TransformParams) (*model.Artifact, error) {
	sess, err := s.sessions.Require()
	if err != nil {
		return nil, err
	}
	defer sess.Wipe()

	orig, err := s.artifacts.GetByID(ctx, artifactID, sess.UserID)
	if err != nil {
		return nil, err
	}
	env, ok, err := s.vault.Retrieve(ctx, orig.VaultPath)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, fmt.Errorf("%w: payload of artifact %d is missing", errs.ErrVaultAccess, artifactID)
	}
	input, err := s.cipher.Decrypt(env, sess.MasterKey)
	if err != nil {
		return nil, err
	}
	var origMeta model.ArtifactMetadata
	if err := s.cipher.DecryptMetadata(orig.Metadata, sess.MasterKey, &origMeta); err != nil {
		return nil, err
	}

	p.Steps = origMeta.Steps
	p.CFGScale = origMeta.CFGScale
	seed := origMeta.Seed
	p.Seed = &seed
	if p.Model == "" {
		p.Model = origMeta.Model
	}
	s.applyTransformDefaults(&p)

	return s.transform(ctx, sess, input, p,
		fmt.Sprintf("[Restyled from #%d] %s", artifactID, p.Prompt),
		fmt.Sprintf("restyle_%d_%d.png", artifactID, seed),
	)
}

func (s *GenerationServiceImpl) transform(ctx context.Context, sess model.Session, input []byte, p model.TransformParams, prompt, name string) (*model.Artifact, error) {
	if strings.TrimSpace(p.Prompt) == "" {
		return nil, fmt.Errorf("%w: empty prompt", errs.ErrValidation)
	}
	if p.Strength <= 0 || p.Strength > 1 {
		return nil, fmt.Errorf("%w: strength must be in (0, 1]", errs.ErrValidation)
	}
	t, err := provider.AsTransformer(s.prov)
	if err != nil {
		return nil, err
	}
	if !s.prov.HealthCheck(ctx) {
		return nil, fmt.Errorf("%w: provider %s is not available", errs.ErrGeneration, s.prov.Name())
	}

	s.log.Info("transforming image",
		zap.String("provider", s.prov.Name()),
		zap.Float64("strength", p.Strength),
		zap.Int64("seed", *p.Seed),
	)
	out, err := t.Transform(ctx, input, p)
	if err != nil {
		return nil, fmt.Errorf("transform: %w", err)
	}
	cfg, _, err := image.DecodeConfig(bytes.NewReader(out))
	if err != nil {
		return nil, fmt.Errorf("%w: provider returned an unreadable image: %v", errs.ErrGeneration, err)
	}

	meta := model.ArtifactMetadata{
		Prompt:         prompt,
		NegativePrompt: p.NegativePrompt,
		Width:          cfg.Width,
		Height:         cfg.Height,
		Steps:          p.Steps,
		CFGScale:       p.CFGScale,
		Seed:           *p.Seed,
		Sampler:        DefaultSampler,
		Model:          p.Model,
		Provider:       s.prov.Name(),
		CreatedAt:      s.now().UTC(),
	}
	return s.persist(ctx, sess, out, meta, name)
}

// persist encrypts the payload and metadata, stores the payload and creates the
// record. The vault object is removed again if the record cannot be created.
func (s *GenerationServiceImpl) persist(ctx context.Context, sess model.Session, payload []byte, meta model.ArtifactMetadata, name string) (*model.Artifact, error) {
	env, err := s.cipher.Encrypt(payload, sess.MasterKey)
	if err != nil {
		return nil, err
	}
	metaEnv, err := s.cipher.EncryptMetadata(meta, sess.MasterKey)
	if err != nil {
		return nil, err
	}

	vaultPath, err := s.vault.Store(ctx, sess.UserID, env, name)
	if err != nil {
		return nil, err
	}

	a := &model.Artifact{
		UserID:    sess.UserID,
		VaultPath: vaultPath,
		Metadata:  metaEnv,
	}
	if err := s.artifacts.Create(ctx, a); err != nil {
		// the caller may have given up; the object must still go
		if _, derr := s.vault.Delete(context.WithoutCancel(ctx), vaultPath); derr != nil {
			s.log.Error("rollback vault object", zap.String("vault_path", vaultPath), zap.Error(derr))
		}
		return nil, err
	}
	s.log.Info("artifact stored", zap.Int64("artifact_id", a.ID), zap.String("vault_path", vaultPath))
	return a, nil
}

func (s *GenerationServiceImpl) applyDefaults(p *model.GenerationParams) {
	if p.Width == 0 {
		p.Width = s.defaults.Width
	}
	if p.Height == 0 {
		p.Height = s.defaults.Height
	}
	if p.Steps == 0 {
		p.Steps = s.defaults.Steps
	}
	if p.CFGScale == 0 {
		p.CFGScale = s.defaults.CFGScale
	}
	if p.Model == "" {
		p.Model = s.defaults.Model
	}
}

func (s *GenerationServiceImpl) applyTransformDefaults(p *model.TransformParams) {
	if p.Strength == 0 {
		p.Strength = defaultStrength
	}
	if p.Steps == 0 {
		p.Steps = s.defaults.Steps
	}
	if p.CFGScale == 0 {
		p.CFGScale = s.defaults.CFGScale
	}
	if p.Model == "" {
		p.Model = s.defaults.Model
	}
}

// resolveSeed returns *seed or a random value in [0, 2^32).
func resolveSeed(seed *int64) int64 {
	if seed != nil {
		return *seed
	}
	return rand.Int64N(1 << 32)
}
