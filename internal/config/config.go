// Package config loads and validates the TOML configuration file.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/pelletier/go-toml/v2"
)

// Paths contains directory configuration.
type Paths struct {
	WorkDir   string `toml:"work_dir"`
	OutputDir string `toml:"output_dir"`
	LedgerDir string `toml:"ledger_dir"`
}

// Ledger contains the quota economy knobs.
type Ledger struct {
	FreeConversions     int `toml:"free_conversions"`
	ReferralBonusTokens int `toml:"referral_bonus_tokens"`
}

// Subtitles contains default subtitle styling. Fonts lists the families
// offered for selection; they should correspond to fonts installed on the
// host, since an unknown family makes the subtitle filter fall back to a
// default font silently.
type Subtitles struct {
	Enabled  bool     `toml:"enabled"`
	Font     string   `toml:"font"`
	FontSize int      `toml:"font_size"`
	Fonts    []string `toml:"fonts"`
}

// FontAllowed reports whether name is one of the offered families. An empty
// list allows any font.
func (s Subtitles) FontAllowed(name string) bool {
	if len(s.Fonts) == 0 {
		return true
	}
	for _, f := range s.Fonts {
		if f == name {
			return true
		}
	}
	return false
}

// Filters contains the enhancement filter chain parameters.
type Filters struct {
	Denoise string `toml:"denoise"`
	Color   string `toml:"color"`
	Sharpen string `toml:"sharpen"`
}

// Tools contains external binary paths.
type Tools struct {
	FFmpeg       string `toml:"ffmpeg"`
	FFprobe      string `toml:"ffprobe"`
	WhisperBin   string `toml:"whisper_bin"`
	WhisperModel string `toml:"whisper_model"`
	Upscaler     string `toml:"upscaler"`
}

// Logging contains log output configuration.
type Logging struct {
	Level  string `toml:"level"`
	Format string `toml:"format"`
}

// Config is the root configuration.
type Config struct {
	Paths     Paths     `toml:"paths"`
	Ledger    Ledger    `toml:"ledger"`
	Subtitles Subtitles `toml:"subtitles"`
	Filters   Filters   `toml:"filters"`
	Tools     Tools     `toml:"tools"`
	Logging   Logging   `toml:"logging"`
}

// Default returns the built-in configuration. Filter values match the fixed
// enhancement chain: gentle denoise, richer color and contrast, sharpening.
func Default() *Config {
	return &Config{
		Paths: Paths{
			WorkDir:   filepath.Join(os.TempDir(), "subburn"),
			OutputDir: "out",
			LedgerDir: defaultLedgerDir(),
		},
		Ledger: Ledger{
			FreeConversions:     3,
			ReferralBonusTokens: 100,
		},
		Subtitles: Subtitles{
			Enabled:  true,
			Font:     "Times New Roman",
			FontSize: 12,
			Fonts: []string{
				"Times New Roman",
				"Arial",
				"Helvetica",
				"Courier New",
				"DejaVu Sans",
			},
		},
		Filters: Filters{
			Denoise: "hqdn3d=1.0:1.0:6:6",
			Color:   "eq=brightness=0.05:contrast=1.15:saturation=1.3",
			Sharpen: "unsharp=7:7:1.0:7:7:0.0",
		},
		Tools: Tools{
			FFmpeg:       "ffmpeg",
			FFprobe:      "ffprobe",
			WhisperBin:   "whisper-cli",
			WhisperModel: "",
			Upscaler:     "realesrgan-ncnn-vulkan",
		},
		Logging: Logging{
			Level:  "info",
			Format: "",
		},
	}
}

// Load reads the config file at path, overlaying it onto the defaults. A
// missing file is not an error: the defaults apply unchanged.
func Load(path string) (*Config, error) {
	cfg := Default()
	if path == "" {
		return cfg, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return cfg, nil
		}
		return nil, fmt.Errorf("read config: %w", err)
	}
	if err := toml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks for values the rest of the system cannot work with.
func (c *Config) Validate() error {
	if c.Paths.WorkDir == "" {
		return errors.New("config: paths.work_dir must not be empty")
	}
	if c.Paths.OutputDir == "" {
		return errors.New("config: paths.output_dir must not be empty")
	}
	if c.Paths.LedgerDir == "" {
		return errors.New("config: paths.ledger_dir must not be empty")
	}
	if c.Ledger.FreeConversions < 0 {
		return errors.New("config: ledger.free_conversions must not be negative")
	}
	if c.Ledger.ReferralBonusTokens < 0 {
		return errors.New("config: ledger.referral_bonus_tokens must not be negative")
	}
	if c.Subtitles.FontSize <= 0 {
		return errors.New("config: subtitles.font_size must be positive")
	}
	if !c.Subtitles.FontAllowed(c.Subtitles.Font) {
		return fmt.Errorf("config: subtitles.font %q is not in subtitles.fonts", c.Subtitles.Font)
	}
	if c.Tools.FFmpeg == "" || c.Tools.FFprobe == "" {
		return errors.New("config: tools.ffmpeg and tools.ffprobe must be set")
	}
	return nil
}

// EnsureDirectories creates the directories the pipeline and ledger write to.
func (c *Config) EnsureDirectories() error {
	for _, dir := range []string{c.Paths.WorkDir, c.Paths.OutputDir, c.Paths.LedgerDir} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("ensure directory %s: %w", dir, err)
		}
	}
	return nil
}

func defaultLedgerDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".subburn"
	}
	return filepath.Join(home, ".local", "share", "subburn")
}
