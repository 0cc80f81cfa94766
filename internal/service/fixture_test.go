package service

import (
	"bytes"
	"context"
	"image"
	"image/color"
	"image/png"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/and161185/pixvault/internal/config"
	"github.com/and161185/pixvault/internal/crypto/envelope"
	"github.com/and161185/pixvault/internal/errs"
	"github.com/and161185/pixvault/internal/model"
	"github.com/and161185/pixvault/internal/repository"
	"github.com/and161185/pixvault/internal/session"
	"github.com/and161185/pixvault/internal/vault"
)

type fakeArtifacts struct {
	mu     sync.Mutex
	byID   map[int64]model.Artifact
	nextID int64

	createErr error
	deleteErr error

	beforeCreate func()
}

var _ repository.ArtifactRepository = (*fakeArtifacts)(nil)

func newFakeArtifacts() *fakeArtifacts { return &fakeArtifacts{byID: map[int64]model.Artifact{}} }

func (f *fakeArtifacts) Create(ctx context.Context, a *model.Artifact) error {
	if f.beforeCreate != nil {
		f.beforeCreate()
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := ctx.Err(); err != nil {
		return err
	}
	if f.createErr != nil {
		return f.createErr
	}
	f.nextID++
	a.ID = f.nextID
	a.CreatedAt = time.Now().UTC()
	f.byID[a.ID] = *a
	return nil
}

func (f *fakeArtifacts) GetByID(_ context.Context, id, ownerID int64) (*model.Artifact, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	a, ok := f.byID[id]
	if !ok || a.UserID != ownerID {
		return nil, errs.ErrNotFound
	}
	return &a, nil
}

func (f *fakeArtifacts) ListByUser(_ context.Context, ownerID int64, limit, offset int) ([]model.Artifact, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []model.Artifact
	for _, a := range f.byID {
		if a.UserID == ownerID {
			out = append(out, a)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID > out[j].ID })
	if offset >= len(out) {
		return nil, nil
	}
	out = out[offset:]
	if limit < len(out) {
		out = out[:limit]
	}
	return out, nil
}

func (f *fakeArtifacts) Delete(ctx context.Context, id, ownerID int64) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := ctx.Err(); err != nil {
		return false, err
	}
	if f.deleteErr != nil {
		return false, f.deleteErr
	}
	a, ok := f.byID[id]
	if !ok || a.UserID != ownerID {
		return false, nil
	}
	delete(f.byID, id)
	return true, nil
}

// fakeProvider generates a fixed image and records requests.
type fakeProvider struct {
	healthy bool
	out     []byte
	err     error

	generated []model.GenerationParams
}

func (p *fakeProvider) Name() string                     { return "fake" }
func (p *fakeProvider) HealthCheck(context.Context) bool { return p.healthy }
func (p *fakeProvider) Generate(_ context.Context, gp model.GenerationParams) ([]byte, error) {
	p.generated = append(p.generated, gp)
	return p.out, p.err
}

// fakeTransformer adds image-to-image support.
type fakeTransformer struct {
	fakeProvider
	inputs      [][]byte
	transformed []model.TransformParams
}

func (p *fakeTransformer) Transform(_ context.Context, input []byte, tp model.TransformParams) ([]byte, error) {
	p.inputs = append(p.inputs, append([]byte(nil), input...))
	p.transformed = append(p.transformed, tp)
	return p.out, p.err
}

var testDefaults = config.GenerationConfig{Width: 512, Height: 512, Steps: 20, CFGScale: 7, Model: "small"}

type fixture struct {
	arts   *fakeArtifacts
	vault  *vault.Local
	ledger *session.Ledger
	cipher *envelope.Cipher
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	v, err := vault.NewLocal(t.TempDir(), nil)
	require.NoError(t, err)
	c, err := envelope.New(model.AlgAES256GCM)
	require.NoError(t, err)
	return &fixture{arts: newFakeArtifacts(), vault: v, ledger: newTestLedger(t), cipher: c}
}

func (f *fixture) login(t *testing.T, userID int64) model.Session {
	t.Helper()
	s, err := f.ledger.Open(userID, "alice", bytes.Repeat([]byte{byte(userID)}, 32))
	require.NoError(t, err)
	return s
}

func (f *fixture) generation(p *fakeProvider) *GenerationServiceImpl {
	return NewGenerationService(f.arts, f.vault, f.cipher, p, f.ledger, testDefaults, nil)
}

func (f *fixture) transformer(p *fakeTransformer) *GenerationServiceImpl {
	return NewGenerationService(f.arts, f.vault, f.cipher, p, f.ledger, testDefaults, nil)
}

func (f *fixture) gallery() *GalleryServiceImpl {
	return NewGalleryService(f.arts, f.vault, f.cipher, f.ledger, nil)
}

func pngBytes(t *testing.T, w, h int) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	img.Set(0, 0, color.RGBA{R: 0xFF, A: 0xFF})
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, img))
	return buf.Bytes()
}

func seedPtr(v int64) *int64 { return &v }
