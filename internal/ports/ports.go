package ports

import (
	"context"

	"subburn/internal/tier"
	"subburn/internal/types"
)

type VideoTool interface {
	ProbeDimensions(ctx context.Context, in string) (width, height int, err error)
	ExtractAudioMono16k(ctx context.Context, in, outWav string) error
	Render(ctx context.Context, in RenderInput) error
}

// RenderInput describes one encode pass: scale to the target tier, apply the
// enhancement filter chain, mux the extracted audio back, and burn the
// subtitle file, which is referenced by name relative to WorkDir so the ass
// filter never sees an absolute path.
type RenderInput struct {
	Video        string
	Audio        string
	Output       string
	Target       tier.Tier
	Portrait     bool
	SubtitleName string
	WorkDir      string
}

type Transcriber interface {
	Transcribe(ctx context.Context, wavPath, workDir string) (types.Transcript, error)
}

// Upscaler is the capability-dependent resolution strategy. Cap is the
// highest tier the strategy can actually produce; Upscale runs any
// pre-scaling pass and returns the media path to feed the encode.
type Upscaler interface {
	Cap() tier.Tier
	Upscale(ctx context.Context, in string, target tier.Tier, workDir string) (string, error)
}
