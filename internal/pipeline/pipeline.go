// Package pipeline sequences one conversion job: authorize against the
// ledger, transcribe, format subtitles, enhance and upscale, render, and
// commit the debit only when the whole job succeeded. Every job owns a scoped
// workspace that is removed on all exit paths.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/google/uuid"

	"subburn/internal/fault"
	"subburn/internal/ledger"
	"subburn/internal/ports"
	"subburn/internal/subtitles"
	"subburn/internal/tier"
)

// Ledger is the slice of the usage ledger the orchestrator needs.
type Ledger interface {
	Authorize(ctx context.Context, userID int64, requested tier.Tier) (ledger.Authorization, error)
	Commit(ctx context.Context, userID int64, auth ledger.Authorization, success bool) error
}

// OrientationPref pins the output orientation or leaves it to frame probing.
type OrientationPref string

const (
	OrientationAuto      OrientationPref = "auto"
	OrientationLandscape OrientationPref = "landscape"
	OrientationPortrait  OrientationPref = "portrait"
)

// ParseOrientation validates a user-supplied orientation preference.
func ParseOrientation(value string) (OrientationPref, error) {
	switch strings.ToLower(strings.TrimSpace(value)) {
	case "", "auto":
		return OrientationAuto, nil
	case "landscape", "16:9":
		return OrientationLandscape, nil
	case "portrait", "9:16":
		return OrientationPortrait, nil
	default:
		return "", fmt.Errorf("unknown orientation %q (expected auto, landscape or portrait)", value)
	}
}

// Job is one conversion request.
type Job struct {
	UserID      int64
	Input       string
	Requested   tier.Tier
	Orientation OrientationPref
	Subtitles   bool
	Style       subtitles.Style
}

// Result reports a finished job.
type Result struct {
	JobID     string
	Output    string
	Requested tier.Tier
	Tier      tier.Tier
	State     State
}

// Deps wires the orchestrator's collaborators.
type Deps struct {
	Ledger   Ledger
	Video    ports.VideoTool
	ASR      ports.Transcriber
	Upscaler ports.Upscaler
	WorkDir  string
	OutDir   string
	Logger   *slog.Logger
}

type Orchestrator struct {
	d Deps

	mu    sync.Mutex
	users map[int64]*sync.Mutex
}

func New(d Deps) *Orchestrator {
	if d.Logger == nil {
		d.Logger = slog.Default()
	}
	return &Orchestrator{d: d, users: make(map[int64]*sync.Mutex)}
}

// userLock serializes jobs per user so two jobs cannot authorize against the
// same balance at once. Jobs from different users run concurrently.
func (o *Orchestrator) userLock(userID int64) *sync.Mutex {
	o.mu.Lock()
	defer o.mu.Unlock()
	l, ok := o.users[userID]
	if !ok {
		l = &sync.Mutex{}
		o.users[userID] = l
	}
	return l
}

// Process runs one job to completion or failure. On failure nothing is
// debited and no partial output is left behind.
func (o *Orchestrator) Process(ctx context.Context, job Job) (Result, error) {
	lock := o.userLock(job.UserID)
	lock.Lock()
	defer lock.Unlock()

	res := Result{
		JobID:     uuid.NewString(),
		Requested: job.Requested,
		State:     StateReceived,
	}
	log := o.d.Logger.With("job", res.JobID, "user", job.UserID)
	log.Info("job received", "input", job.Input, "requested", job.Requested.String())

	auth, err := o.d.Ledger.Authorize(ctx, job.UserID, job.Requested)
	if err != nil {
		res.State = StateFailed
		return res, err
	}
	if !auth.Allowed {
		res.State = StateFailed
		log.Warn("authorization denied", "reason", auth.Reason)
		return res, fault.Wrap(fault.ErrAuthorizationDenied, "authorize", auth.Reason, nil)
	}
	o.advance(&res, StateAuthorized, log)
	res.Tier = auth.Tier

	ws, err := os.MkdirTemp(o.d.WorkDir, "job-*")
	if err != nil {
		return o.fail(ctx, &res, job, auth, log, fmt.Errorf("create workspace: %w", err))
	}
	// Workspace removal is the cleanup guarantee: every intermediate
	// artifact, including the staged copy of the upload, lives under ws.
	defer os.RemoveAll(ws)

	staged := filepath.Join(ws, "input"+filepath.Ext(job.Input))
	if err := copyFile(job.Input, staged); err != nil {
		return o.fail(ctx, &res, job, auth, log, fault.Wrap(fault.ErrDecode, "stage", "copy input", err))
	}

	portrait, err := o.resolveOrientation(ctx, job, staged)
	if err != nil {
		return o.fail(ctx, &res, job, auth, log, err)
	}

	o.advance(&res, StateTranscribing, log)
	audio := filepath.Join(ws, "audio.wav")
	if err := o.d.Video.ExtractAudioMono16k(ctx, staged, audio); err != nil {
		return o.fail(ctx, &res, job, auth, log, err)
	}
	transcript, err := o.d.ASR.Transcribe(ctx, audio, ws)
	if err != nil {
		return o.fail(ctx, &res, job, auth, log, err)
	}

	o.advance(&res, StateFormatting, log)
	subtitleName := ""
	if job.Subtitles {
		orientation := subtitles.Landscape
		if portrait {
			orientation = subtitles.Portrait
		}
		track := subtitles.Format(transcript, orientation, job.Style)
		subtitleName = "subtitles.ass"
		if err := os.WriteFile(filepath.Join(ws, subtitleName), []byte(track.Render()), 0o644); err != nil {
			return o.fail(ctx, &res, job, auth, log, fault.Wrap(fault.ErrEncode, "formatting", "write track", err))
		}
	}

	o.advance(&res, StateEnhancing, log)
	// The capability cap is a resolution limit, not an economic one: the
	// debit stays at the authorized tier.
	renderTier := auth.Tier
	if limit := o.d.Upscaler.Cap(); renderTier > limit {
		renderTier = limit
	}
	enhanced, err := o.d.Upscaler.Upscale(ctx, staged, renderTier, ws)
	if err != nil {
		return o.fail(ctx, &res, job, auth, log, err)
	}

	o.advance(&res, StateRendering, log)
	rendered := filepath.Join(ws, "processed.mp4")
	err = o.d.Video.Render(ctx, ports.RenderInput{
		Video:        enhanced,
		Audio:        audio,
		Output:       rendered,
		Target:       renderTier,
		Portrait:     portrait,
		SubtitleName: subtitleName,
		WorkDir:      ws,
	})
	if err != nil {
		return o.fail(ctx, &res, job, auth, log, err)
	}

	// The deliverable appears at its final name only once complete: the copy
	// goes to a temp name and a rename publishes it, so a half-written file
	// never sits at the user-visible path.
	final := filepath.Join(o.d.OutDir, outputName(job.Input))
	part := final + ".part"
	if err := copyFile(rendered, part); err != nil {
		_ = os.Remove(part)
		return o.fail(ctx, &res, job, auth, log, fault.Wrap(fault.ErrEncode, "rendering", "deliver output", err))
	}
	if err := os.Rename(part, final); err != nil {
		_ = os.Remove(part)
		return o.fail(ctx, &res, job, auth, log, fault.Wrap(fault.ErrEncode, "rendering", "deliver output", err))
	}

	if err := o.d.Ledger.Commit(ctx, job.UserID, auth, true); err != nil {
		// A debit that cannot be recorded must not hand out the artifact.
		_ = os.Remove(final)
		res.State = StateFailed
		log.Error("ledger commit failed", "error", err)
		return res, err
	}

	o.advance(&res, StateCompleted, log)
	res.Output = final
	log.Info("job completed", "output", final, "tier", res.Tier.String())
	return res, nil
}

// fail settles a job that died mid-flight: the ledger sees a failed commit
// (no debit, no counter) and the caller gets the classified error.
func (o *Orchestrator) fail(ctx context.Context, res *Result, job Job, auth ledger.Authorization, log *slog.Logger, cause error) (Result, error) {
	res.State = StateFailed
	if err := o.d.Ledger.Commit(ctx, job.UserID, auth, false); err != nil {
		log.Error("failure commit error", "error", err)
	}
	log.Warn("job failed", "kind", fault.Kind(cause), "error", cause)
	return *res, cause
}

func (o *Orchestrator) advance(res *Result, next State, log *slog.Logger) {
	if !CanTransition(res.State, next) {
		// Transition table and Process must agree; this is a programming error.
		panic(fmt.Sprintf("illegal state transition %s -> %s", res.State, next))
	}
	res.State = next
	log.Debug("state", "state", string(next))
}

func (o *Orchestrator) resolveOrientation(ctx context.Context, job Job, staged string) (portrait bool, err error) {
	switch job.Orientation {
	case OrientationLandscape:
		return false, nil
	case OrientationPortrait:
		return true, nil
	default:
		width, height, err := o.d.Video.ProbeDimensions(ctx, staged)
		if err != nil {
			return false, err
		}
		return subtitles.DetectOrientation(width, height) == subtitles.Portrait, nil
	}
}

func outputName(input string) string {
	base := filepath.Base(input)
	stem := strings.TrimSuffix(base, filepath.Ext(base))
	if stem == "" {
		stem = "video"
	}
	return stem + "_processed.mp4"
}

func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := os.Create(dst)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, in); err != nil {
		_ = out.Close()
		return err
	}
	if err := out.Close(); err != nil {
		return err
	}
	return nil
}

var errNoInput = errors.New("input is empty")

// ValidateJob rejects requests the pipeline cannot start.
func ValidateJob(job Job) error {
	if job.Input == "" {
		return errNoInput
	}
	if _, err := os.Stat(job.Input); err != nil {
		return fmt.Errorf("stat input: %w", err)
	}
	if !job.Requested.Valid() {
		return fmt.Errorf("invalid tier %d", int(job.Requested))
	}
	if job.UserID <= 0 {
		return fmt.Errorf("user id must be positive")
	}
	return nil
}
