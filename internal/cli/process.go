package cli

import (
	"fmt"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"

	"github.com/spf13/cobra"

	"subburn/internal/pipeline"
	"subburn/internal/ports/adapters/ffmpeg"
	"subburn/internal/ports/adapters/realesrgan"
	"subburn/internal/ports/adapters/whispercpp"
	"subburn/internal/subtitles"
	"subburn/internal/tier"
)

func newProcessCommand(app *appContext) *cobra.Command {
	var (
		userID      int64
		quality     string
		orientation string
		noSubtitles bool
		font        string
		fontSize    int
	)

	cmd := &cobra.Command{
		Use:   "process <input>",
		Short: "Run one video through transcription, subtitling, enhancement and upscaling",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			store, cfg, logger, err := app.openLedger()
			if err != nil {
				return err
			}
			defer store.Close()

			requested, err := tier.Parse(quality)
			if err != nil {
				return err
			}
			pref, err := pipeline.ParseOrientation(orientation)
			if err != nil {
				return err
			}
			input, err := filepath.Abs(args[0])
			if err != nil {
				return err
			}

			style := subtitles.Style{Font: cfg.Subtitles.Font, Size: cfg.Subtitles.FontSize}
			if font != "" {
				if !cfg.Subtitles.FontAllowed(font) {
					return fmt.Errorf("font %q is not offered (available: %s)",
						font, strings.Join(cfg.Subtitles.Fonts, ", "))
				}
				style.Font = font
			}
			if fontSize > 0 {
				style.Size = fontSize
			}

			job := pipeline.Job{
				UserID:      userID,
				Input:       input,
				Requested:   requested,
				Orientation: pref,
				Subtitles:   cfg.Subtitles.Enabled && !noSubtitles,
				Style:       style,
			}
			if err := pipeline.ValidateJob(job); err != nil {
				return err
			}

			orch := pipeline.New(pipeline.Deps{
				Ledger:   store,
				Video:    ffmpeg.New(cfg.Tools.FFmpeg, cfg.Tools.FFprobe, cfg.Filters),
				ASR:      whispercpp.New(cfg.Tools.WhisperBin, cfg.Tools.WhisperModel),
				Upscaler: realesrgan.Select(cfg.Tools.Upscaler),
				WorkDir:  cfg.Paths.WorkDir,
				OutDir:   cfg.Paths.OutputDir,
				Logger:   logger,
			})

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			res, err := orch.Process(ctx, job)
			if err != nil {
				return err
			}
			if res.Tier != res.Requested {
				fmt.Fprintf(cmd.OutOrStdout(), "requested %s, delivered %s\n", res.Requested, res.Tier)
			}
			fmt.Fprintln(cmd.OutOrStdout(), res.Output)
			return nil
		},
	}

	cmd.Flags().Int64Var(&userID, "user", 0, "User id the conversion is billed to")
	cmd.Flags().StringVar(&quality, "quality", "1080p", "Requested quality (1080p, 2k or 4k)")
	cmd.Flags().StringVar(&orientation, "orientation", "auto", "Frame orientation (auto, landscape or portrait)")
	cmd.Flags().BoolVar(&noSubtitles, "no-subtitles", false, "Skip subtitle burn-in")
	cmd.Flags().StringVar(&font, "font", "", "Subtitle font override")
	cmd.Flags().IntVar(&fontSize, "font-size", 0, "Subtitle font size override")
	_ = cmd.MarkFlagRequired("user")

	return cmd
}
