package realesrgan

import (
	"context"
	"testing"

	"subburn/internal/tier"
)

func TestNative_CapsAtFullHD(t *testing.T) {
	n := Native{}
	if n.Cap() != tier.FullHD {
		t.Fatalf("native cap = %s", n.Cap())
	}
	out, err := n.Upscale(context.Background(), "/tmp/in.mp4", tier.UHD, t.TempDir())
	if err != nil {
		t.Fatalf("native upscale: %v", err)
	}
	if out != "/tmp/in.mp4" {
		t.Fatalf("native upscale should pass input through, got %q", out)
	}
}

func TestExternal_PassThroughBelowTopTier(t *testing.T) {
	e := NewExternal("realesrgan-ncnn-vulkan")
	if e.Cap() != tier.UHD {
		t.Fatalf("external cap = %s", e.Cap())
	}
	for _, target := range []tier.Tier{tier.FullHD, tier.QHD} {
		out, err := e.Upscale(context.Background(), "/tmp/in.mp4", target, t.TempDir())
		if err != nil {
			t.Fatalf("upscale at %s: %v", target, err)
		}
		if out != "/tmp/in.mp4" {
			t.Fatalf("pre-pass should be skipped at %s, got %q", target, out)
		}
	}
}

func TestSelect_MissingBinaryFallsBack(t *testing.T) {
	up := Select("definitely-not-a-real-binary-name-xyz")
	if _, ok := up.(Native); !ok {
		t.Fatalf("expected native fallback, got %T", up)
	}
}
