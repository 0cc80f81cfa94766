// Package provider defines the image generation capabilities the services
// depend on. Concrete backends live in subpackages.
package provider

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/and161185/pixvault/internal/errs"
	"github.com/and161185/pixvault/internal/model"
)

// Provider turns a text prompt into encoded image bytes.
type Provider interface {
	Name() string
	// HealthCheck reports whether the backend is reachable. It never errors.
	HealthCheck(ctx context.Context) bool
	Generate(ctx context.Context, p model.GenerationParams) ([]byte, error)
}

// Transformer is implemented by providers that support image-to-image.
type Transformer interface {
	Transform(ctx context.Context, input []byte, p model.TransformParams) ([]byte, error)
}

// SupportsTransform reports whether p can run image-to-image requests.
func SupportsTransform(p Provider) bool {
	_, ok := p.(Transformer)
	return ok
}

// AsTransformer returns p's image-to-image capability or errs.ErrUnsupported.
func AsTransformer(p Provider) (Transformer, error) {
	t, ok := p.(Transformer)
	if !ok {
		return nil, fmt.Errorf("%w: provider %s has no image-to-image support", errs.ErrUnsupported, p.Name())
	}
	return t, nil
}

// ModelSpec describes a checkpoint selectable by size name.
type ModelSpec struct {
	Size        string
	Name        string
	Checkpoint  string
	NativeSize  int
	Steps       int
	MinVRAMGB   float64
	Description string
}

var models = map[string]ModelSpec{
	"small": {
		Size: "small", Name: "Stable Diffusion 1.5", Checkpoint: "v1-5-pruned-emaonly.safetensors",
		NativeSize: 512, Steps: 20, MinVRAMGB: 2,
		Description: "Fast generation, lower quality.",
	},
	"medium": {
		Size: "medium", Name: "Stable Diffusion 2.1", Checkpoint: "v2-1_768-ema-pruned.safetensors",
		NativeSize: 768, Steps: 25, MinVRAMGB: 4,
		Description: "Balanced speed and quality.",
	},
	"large": {
		Size: "large", Name: "SDXL Base 1.0", Checkpoint: "sd_xl_base_1.0.safetensors",
		NativeSize: 1024, Steps: 25, MinVRAMGB: 8,
		Description: "Best quality, needs a large GPU.",
	},
}

// LookupModel resolves a size name (case-insensitive).
func LookupModel(size string) (ModelSpec, error) {
	m, ok := models[strings.ToLower(strings.TrimSpace(size))]
	if !ok {
		return ModelSpec{}, fmt.Errorf("%w: unknown model size %q (choose small, medium or large)", errs.ErrValidation, size)
	}
	return m, nil
}

// Models lists the known models ordered by native size.
func Models() []ModelSpec {
	out := make([]ModelSpec, 0, len(models))
	for _, m := range models {
		out = append(out, m)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].NativeSize < out[j].NativeSize })
	return out
}
