// Package subtitles turns transcript segments into a styled ASS track.
// Formatting is a pure text/style transform: segment timing is copied through
// untouched and the renderer emits one Dialogue event per segment.
package subtitles

import (
	"fmt"
	"strings"
	"time"

	"subburn/internal/types"
)

// Orientation is the output frame orientation.
type Orientation string

const (
	Landscape Orientation = "landscape"
	Portrait  Orientation = "portrait"
)

// Line-wrap limits per orientation. Portrait frames are narrower, so lines
// break earlier to stay readable.
const (
	charLimitLandscape = 32
	charLimitPortrait  = 15
)

// DetectOrientation classifies a frame by its aspect ratio.
func DetectOrientation(width, height int) Orientation {
	if height > width {
		return Portrait
	}
	return Landscape
}

// Style carries the configurable parts of the subtitle look. The rest of the
// style (bold, white text, semi-transparent backdrop) is fixed.
type Style struct {
	Font string
	Size int
}

// Event is a single timed subtitle entry. Text is wrapped with ASS line
// breaks already applied.
type Event struct {
	Start time.Duration
	End   time.Duration
	Text  string
}

// Track is an immutable ordered subtitle track, derived 1:1 from transcript
// segments and consumed exactly once by the renderer.
type Track struct {
	Events      []Event
	Style       Style
	Orientation Orientation
}

// Format builds a Track from transcript segments. Timing is preserved exactly;
// only the text is sanitized and wrapped to the orientation's line limit.
func Format(tr types.Transcript, orientation Orientation, style Style) Track {
	limit := charLimitLandscape
	if orientation == Portrait {
		limit = charLimitPortrait
	}
	events := make([]Event, 0, len(tr.Segments))
	for _, seg := range tr.Segments {
		events = append(events, Event{
			Start: dur(seg.Start),
			End:   dur(seg.End),
			Text:  wrap(sanitizeASS(seg.Text), limit),
		})
	}
	return Track{Events: events, Style: style, Orientation: orientation}
}

// Render emits the track as an ASS file body.
func (t Track) Render() string {
	var b strings.Builder
	b.WriteString(t.header())
	b.WriteString("\n[Events]\n")
	b.WriteString("Format: Layer, Start, End, Style, Name, MarginL, MarginR, MarginV, Effect, Text\n")
	for _, ev := range t.Events {
		b.WriteString("Dialogue: 0,")
		b.WriteString(assTime(ev.Start))
		b.WriteString(",")
		b.WriteString(assTime(ev.End))
		b.WriteString(",Burn,,0,0,0,,")
		b.WriteString(ev.Text)
		b.WriteString("\n")
	}
	return b.String()
}

func (t Track) header() string {
	resX, resY := 1920, 1080
	if t.Orientation == Portrait {
		resX, resY = 1080, 1920
	}
	font := t.Style.Font
	if font == "" {
		font = "Times New Roman"
	}
	size := t.Style.Size
	if size <= 0 {
		size = 12
	}
	var b strings.Builder
	b.WriteString("[Script Info]\n")
	b.WriteString("ScriptType: v4.00+\n")
	fmt.Fprintf(&b, "PlayResX: %d\n", resX)
	fmt.Fprintf(&b, "PlayResY: %d\n", resY)
	b.WriteString("ScaledBorderAndShadow: yes\n")
	b.WriteString("\n[V4+ Styles]\n")
	b.WriteString("Format: Name, Fontname, Fontsize, PrimaryColour, SecondaryColour, OutlineColour, BackColour, Bold, Italic, Underline, StrikeOut, ScaleX, ScaleY, Spacing, Angle, BorderStyle, Outline, Shadow, Alignment, MarginL, MarginR, MarginV, Encoding\n")
	// Bold white text over a semi-transparent backdrop, bottom-center, kept
	// high enough off the frame edge to stay clear of player chrome.
	fmt.Fprintf(&b, "Style: Burn, %s, %d, &H00FFFFFF, &H00000000, &H00000000, &H60000000, 1,0,0,0,100,100,0,0,1,3,0,2, 40,40,100,1\n", font, size)
	return b.String()
}

// wrap splits text into lines no longer than limit characters, joined with
// the ASS newline marker.
// wrap breaks text into lines of at most limit characters, splitting only at
// word boundaries. A single word longer than the limit stays on its own line
// unbroken: speech transcripts do not produce words worth hyphenating, and an
// over-long line renders better than a mid-word cut.
func wrap(text string, limit int) string {
	words := strings.Fields(text)
	if len(words) == 0 {
		return strings.TrimSpace(text)
	}
	var lines []string
	current := words[0]
	for _, word := range words[1:] {
		if len([]rune(current))+1+len([]rune(word)) > limit {
			lines = append(lines, current)
			current = word
			continue
		}
		current += " " + word
	}
	lines = append(lines, current)
	return strings.Join(lines, `\N`)
}

func assTime(d time.Duration) string {
	if d < 0 {
		d = 0
	}
	hs := int(d / time.Hour)
	d -= time.Duration(hs) * time.Hour
	ms := int(d / time.Minute)
	d -= time.Duration(ms) * time.Minute
	s := int(d / time.Second)
	d -= time.Duration(s) * time.Second
	cs := int(d / (10 * time.Millisecond))
	return fmt.Sprintf("%d:%02d:%02d.%02d", hs, ms, s, cs)
}

func sanitizeASS(s string) string {
	s = strings.ReplaceAll(s, "\\", "\\\\")
	s = strings.ReplaceAll(s, "{", "(")
	s = strings.ReplaceAll(s, "}", ")")
	return strings.TrimSpace(s)
}

func dur(sec float64) time.Duration { return time.Duration(sec * float64(time.Second)) }
