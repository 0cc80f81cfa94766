package comfyui

import (
	"github.com/and161185/pixvault/internal/provider"
)

// node is one step of a ComfyUI API-format workflow.
type node struct {
	Inputs    map[string]any `json:"inputs"`
	ClassType string         `json:"class_type"`
}

type workflow map[string]node

const (
	sampler   = "dpmpp_2m"
	scheduler = "karras"
	outPrefix = "pixvault"
)

type samplerSettings struct {
	prompt, negative string
	steps            int
	cfg              float64
	seed             int64
	denoise          float64
}

// textToImage builds checkpoint -> prompts -> empty latent -> sampler -> decode -> save.
func textToImage(m provider.ModelSpec, s samplerSettings, width, height int) workflow {
	wf := base(m, s)
	wf["4"] = node{
		ClassType: "EmptyLatentImage",
		Inputs:    map[string]any{"width": width, "height": height, "batch_size": 1},
	}
	wf["5"].Inputs["latent_image"] = []any{"4", 0}
	return wf
}

// imageToImage replaces the empty latent with the VAE-encoded input image.
// denoise controls how far the result may drift from the input.
func imageToImage(m provider.ModelSpec, s samplerSettings, image string) workflow {
	wf := base(m, s)
	wf["4"] = node{
		ClassType: "LoadImage",
		Inputs:    map[string]any{"image": image},
	}
	wf["8"] = node{
		ClassType: "VAEEncode",
		Inputs:    map[string]any{"pixels": []any{"4", 0}, "vae": []any{"1", 2}},
	}
	wf["5"].Inputs["latent_image"] = []any{"8", 0}
	return wf
}

func base(m provider.ModelSpec, s samplerSettings) workflow {
	return workflow{
		"1": {
			ClassType: "CheckpointLoaderSimple",
			Inputs:    map[string]any{"ckpt_name": m.Checkpoint},
		},
		"2": {
			ClassType: "CLIPTextEncode",
			Inputs:    map[string]any{"text": s.prompt, "clip": []any{"1", 1}},
		},
		"3": {
			ClassType: "CLIPTextEncode",
			Inputs:    map[string]any{"text": s.negative, "clip": []any{"1", 1}},
		},
		"5": {
			ClassType: "KSampler",
			Inputs: map[string]any{
				"seed":         s.seed,
				"steps":        s.steps,
				"cfg":          s.cfg,
				"sampler_name": sampler,
				"scheduler":    scheduler,
				"denoise":      s.denoise,
				"model":        []any{"1", 0},
				"positive":     []any{"2", 0},
				"negative":     []any{"3", 0},
			},
		},
		"6": {
			ClassType: "VAEDecode",
			Inputs:    map[string]any{"samples": []any{"5", 0}, "vae": []any{"1", 2}},
		},
		"7": {
			ClassType: "SaveImage",
			Inputs:    map[string]any{"filename_prefix": outPrefix, "images": []any{"6", 0}},
		},
	}
}
