package ffmpeg

import (
	"strings"
	"testing"

	"subburn/internal/config"
	"subburn/internal/tier"
)

func testFilters() config.Filters {
	return config.Filters{
		Denoise: "hqdn3d=1.0:1.0:6:6",
		Color:   "eq=brightness=0.05:contrast=1.15:saturation=1.3",
		Sharpen: "unsharp=7:7:1.0:7:7:0.0",
	}
}

func TestFilterChain_Order(t *testing.T) {
	a := New("", "", testFilters())
	chain := a.FilterChain(tier.FullHD, false, "subtitles.ass")
	want := "scale=1920:1080:flags=lanczos," +
		"hqdn3d=1.0:1.0:6:6," +
		"eq=brightness=0.05:contrast=1.15:saturation=1.3," +
		"unsharp=7:7:1.0:7:7:0.0," +
		"ass=subtitles.ass"
	if chain != want {
		t.Fatalf("chain = %q\nwant  %q", chain, want)
	}
}

func TestFilterChain_NoSubtitles(t *testing.T) {
	a := New("", "", testFilters())
	chain := a.FilterChain(tier.QHD, false, "")
	if strings.Contains(chain, "ass=") {
		t.Fatalf("subtitle filter present without a track: %q", chain)
	}
	if !strings.HasPrefix(chain, "scale=2560:1440:flags=lanczos") {
		t.Fatalf("unexpected scale target: %q", chain)
	}
}

func TestFilterChain_PortraitSwapsScale(t *testing.T) {
	a := New("", "", testFilters())
	chain := a.FilterChain(tier.UHD, true, "subtitles.ass")
	if !strings.HasPrefix(chain, "scale=2160:3840:flags=lanczos") {
		t.Fatalf("portrait scale target wrong: %q", chain)
	}
}

func TestFilterChain_SkipsEmptyFilters(t *testing.T) {
	a := New("", "", config.Filters{Sharpen: "unsharp=5:5:0.8:5:5:0.0"})
	chain := a.FilterChain(tier.FullHD, false, "")
	if strings.Contains(chain, ",,") {
		t.Fatalf("empty filter left a gap: %q", chain)
	}
	if !strings.Contains(chain, "unsharp=5:5:0.8") {
		t.Fatalf("configured filter missing: %q", chain)
	}
}

func TestNew_Defaults(t *testing.T) {
	a := New("", "", config.Filters{})
	if a.ffmpeg != "ffmpeg" || a.ffprobe != "ffprobe" {
		t.Fatalf("defaults = %q/%q", a.ffmpeg, a.ffprobe)
	}
}
