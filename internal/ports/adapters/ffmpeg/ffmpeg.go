package ffmpeg

import (
	"context"
	"fmt"
	"os/exec"
	"strconv"
	"strings"

	"subburn/internal/config"
	"subburn/internal/fault"
	"subburn/internal/ports"
	"subburn/internal/tier"
)

type Adapter struct {
	ffmpeg  string
	ffprobe string
	filters config.Filters
}

func New(ffmpegPath, ffprobePath string, filters config.Filters) *Adapter {
	if ffmpegPath == "" {
		ffmpegPath = "ffmpeg"
	}
	if ffprobePath == "" {
		ffprobePath = "ffprobe"
	}
	return &Adapter{ffmpeg: ffmpegPath, ffprobe: ffprobePath, filters: filters}
}

// ProbeDimensions reads the first video stream's frame size. Unreadable or
// corrupt media surfaces as a decode error.
func (a *Adapter) ProbeDimensions(ctx context.Context, in string) (int, int, error) {
	cmd := exec.CommandContext(ctx, a.ffprobe,
		"-v", "error",
		"-select_streams", "v:0",
		"-show_entries", "stream=width,height",
		"-of", "csv=p=0",
		in,
	)
	b, err := cmd.CombinedOutput()
	if err != nil {
		return 0, 0, fault.Wrap(fault.ErrDecode, "probe", "dimensions", fmt.Errorf("%w\n%s", err, string(b)))
	}
	dims := strings.Split(strings.TrimSpace(string(b)), ",")
	if len(dims) < 2 {
		return 0, 0, fault.Wrap(fault.ErrDecode, "probe", "dimensions", fmt.Errorf("unexpected ffprobe output %q", string(b)))
	}
	width, err := strconv.Atoi(strings.TrimSpace(dims[0]))
	if err != nil {
		return 0, 0, fault.Wrap(fault.ErrDecode, "probe", "dimensions", err)
	}
	height, err := strconv.Atoi(strings.TrimSpace(dims[1]))
	if err != nil {
		return 0, 0, fault.Wrap(fault.ErrDecode, "probe", "dimensions", err)
	}
	return width, height, nil
}

func (a *Adapter) ExtractAudioMono16k(ctx context.Context, in, outWav string) error {
	cmd := exec.CommandContext(ctx, a.ffmpeg,
		"-y",
		"-i", in,
		"-vn",
		"-acodec", "pcm_s16le",
		"-ar", "16000",
		"-ac", "1",
		outWav,
	)
	b, err := cmd.CombinedOutput()
	if err != nil {
		return fault.Wrap(fault.ErrDecode, "transcribing", "extract audio", fmt.Errorf("%w\n%s", err, string(b)))
	}
	return nil
}

// Render runs the single encode pass: scale + enhancement filters + optional
// subtitle burn, x264 video and aac audio. The command runs from WorkDir so
// the ass filter resolves the subtitle file by bare name.
func (a *Adapter) Render(ctx context.Context, in ports.RenderInput) error {
	args := []string{
		"-y",
		"-i", in.Video,
		"-i", in.Audio,
		"-map", "0:v:0",
		"-map", "1:a:0",
		"-vf", a.FilterChain(in.Target, in.Portrait, in.SubtitleName),
		"-c:v", "libx264",
		"-preset", "medium",
		"-crf", "18",
		"-c:a", "aac",
		"-b:a", "192k",
		in.Output,
	}
	cmd := exec.CommandContext(ctx, a.ffmpeg, args...)
	cmd.Dir = in.WorkDir
	b, err := cmd.CombinedOutput()
	if err != nil {
		return fault.Wrap(fault.ErrEncode, "rendering", "encode", fmt.Errorf("%w\n%s", err, string(b)))
	}
	return nil
}

// FilterChain composes the full -vf value for one render: high-quality
// lanczos resize to the tier's target, the fixed enhancement chain, then the
// subtitle burn when a track is present.
func (a *Adapter) FilterChain(target tier.Tier, portrait bool, subtitleName string) string {
	width, height := target.Dimensions(portrait)
	parts := []string{fmt.Sprintf("scale=%d:%d:flags=lanczos", width, height)}
	for _, f := range []string{a.filters.Denoise, a.filters.Color, a.filters.Sharpen} {
		if strings.TrimSpace(f) != "" {
			parts = append(parts, f)
		}
	}
	if subtitleName != "" {
		parts = append(parts, "ass="+subtitleName)
	}
	return strings.Join(parts, ",")
}
