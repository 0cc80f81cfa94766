package provider

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/and161185/pixvault/internal/errs"
	"github.com/and161185/pixvault/internal/model"
)

type textOnly struct{}

func (textOnly) Name() string                     { return "text-only" }
func (textOnly) HealthCheck(context.Context) bool { return true }
func (textOnly) Generate(context.Context, model.GenerationParams) ([]byte, error) {
	return []byte("png"), nil
}

type withTransform struct{ textOnly }

func (withTransform) Transform(_ context.Context, in []byte, _ model.TransformParams) ([]byte, error) {
	return append([]byte("t:"), in...), nil
}

func TestCapabilities(t *testing.T) {
	t.Parallel()

	assert.False(t, SupportsTransform(textOnly{}))
	_, err := AsTransformer(textOnly{})
	require.ErrorIs(t, err, errs.ErrUnsupported)

	assert.True(t, SupportsTransform(withTransform{}))
	tr, err := AsTransformer(withTransform{})
	require.NoError(t, err)
	out, err := tr.Transform(context.Background(), []byte("x"), model.TransformParams{})
	require.NoError(t, err)
	assert.Equal(t, []byte("t:x"), out)
}

func TestLookupModel(t *testing.T) {
	t.Parallel()

	m, err := LookupModel("Large")
	require.NoError(t, err)
	assert.Equal(t, "sd_xl_base_1.0.safetensors", m.Checkpoint)
	assert.Equal(t, 1024, m.NativeSize)

	m, err = LookupModel("small")
	require.NoError(t, err)
	assert.Equal(t, 512, m.NativeSize)

	_, err = LookupModel("xl")
	require.ErrorIs(t, err, errs.ErrValidation)

	list := Models()
	require.Len(t, list, 3)
	assert.Equal(t, "small", list[0].Size)
	assert.Equal(t, "large", list[2].Size)
}
