// Package realesrgan selects the resolution strategy for a job: native
// lanczos scaling capped at Full HD, or a Real-ESRGAN pre-pass that unlocks
// the 4K tier when the binary is installed.
package realesrgan

import (
	"context"
	"fmt"
	"os/exec"
	"path/filepath"
	"sync"

	"subburn/internal/fault"
	"subburn/internal/ports"
	"subburn/internal/tier"
)

// Native performs no pre-pass; the encode's scale filter does the resize and
// output caps at Full HD.
type Native struct{}

func (Native) Cap() tier.Tier { return tier.FullHD }

func (Native) Upscale(_ context.Context, in string, _ tier.Tier, _ string) (string, error) {
	return in, nil
}

// External runs the Real-ESRGAN binary as a pre-pass for the top tier.
type External struct {
	bin string
}

func NewExternal(bin string) *External { return &External{bin: bin} }

func (*External) Cap() tier.Tier { return tier.UHD }

func (e *External) Upscale(ctx context.Context, in string, target tier.Tier, workDir string) (string, error) {
	if target != tier.UHD {
		return in, nil
	}
	out := filepath.Join(workDir, "upscaled"+filepath.Ext(in))
	cmd := exec.CommandContext(ctx, e.bin,
		"-i", in,
		"-o", out,
		"-s", "4",
	)
	b, err := cmd.CombinedOutput()
	if err != nil {
		return "", fault.Wrap(fault.ErrEncode, "enhancing", "realesrgan", fmt.Errorf("%w\n%s", err, string(b)))
	}
	return out, nil
}

type onceProbe struct {
	once  sync.Once
	found bool
	path  string
}

var detected onceProbe

// Select probes for the configured binary once per process and returns the
// matching strategy. A missing binary is not an error: the native strategy
// takes over silently.
func Select(bin string) ports.Upscaler {
	detected.once.Do(func() {
		if bin == "" {
			return
		}
		path, err := exec.LookPath(bin)
		if err != nil {
			return
		}
		detected.found = true
		detected.path = path
	})
	if detected.found {
		return NewExternal(detected.path)
	}
	return Native{}
}
