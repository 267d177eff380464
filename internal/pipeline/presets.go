// Package pipeline implements the live ingest core: publish admission,
// resolution probing, the rendition encoder supervisor, manifest and preview
// publishing, and session teardown.
package pipeline

import (
	"fmt"
	"strconv"
	"strings"
)

// Preset is one immutable entry of the quality ladder. Bitrate is in bits
// per second.
type Preset struct {
	Name    string
	Width   int
	Height  int
	Bitrate int
	FPS     int
}

// DefaultPresets returns the built-in quality ladder, highest resolution
// first.
func DefaultPresets() []Preset {
	return []Preset{
		{Name: "1080p", Width: 1920, Height: 1080, Bitrate: 4_000_000, FPS: 30},
		{Name: "720p", Width: 1280, Height: 720, Bitrate: 2_500_000, FPS: 30},
		{Name: "480p", Width: 854, Height: 480, Bitrate: 1_000_000, FPS: 30},
		{Name: "360p", Width: 640, Height: 360, Bitrate: 500_000, FPS: 30},
	}
}

// SelectLadder returns the presets applicable to a source of the given native
// height, preserving table order. A preset whose height exceeds the native
// height is excluded; no upscaling is ever performed. The result is empty
// only when the native height is below the smallest preset.
func SelectLadder(presets []Preset, nativeHeight int) []Preset {
	ladder := make([]Preset, 0, len(presets))
	for _, preset := range presets {
		if preset.Height <= nativeHeight {
			ladder = append(ladder, preset)
		}
	}
	return ladder
}

// ParseLadder parses a ladder override of the form
// "name:WxH:kbps:fps,name:WxH:kbps:fps,...", e.g.
// "720p:1280x720:2500:30,480p:854x480:1000:30".
func ParseLadder(spec string) ([]Preset, error) {
	entries := strings.Split(spec, ",")
	presets := make([]Preset, 0, len(entries))
	for _, entry := range entries {
		trimmed := strings.TrimSpace(entry)
		if trimmed == "" {
			continue
		}
		parts := strings.Split(trimmed, ":")
		if len(parts) != 4 {
			return nil, fmt.Errorf("invalid preset spec %q", trimmed)
		}
		dims := strings.SplitN(parts[1], "x", 2)
		if len(dims) != 2 {
			return nil, fmt.Errorf("invalid resolution for preset %q", trimmed)
		}
		width, err := strconv.Atoi(dims[0])
		if err != nil {
			return nil, fmt.Errorf("invalid width for preset %q: %w", trimmed, err)
		}
		height, err := strconv.Atoi(dims[1])
		if err != nil {
			return nil, fmt.Errorf("invalid height for preset %q: %w", trimmed, err)
		}
		kbps, err := strconv.Atoi(parts[2])
		if err != nil {
			return nil, fmt.Errorf("invalid bitrate for preset %q: %w", trimmed, err)
		}
		fps, err := strconv.Atoi(parts[3])
		if err != nil {
			return nil, fmt.Errorf("invalid frame rate for preset %q: %w", trimmed, err)
		}
		if width <= 0 || height <= 0 || kbps <= 0 || fps <= 0 {
			return nil, fmt.Errorf("preset %q fields must be positive", trimmed)
		}
		presets = append(presets, Preset{
			Name:    parts[0],
			Width:   width,
			Height:  height,
			Bitrate: kbps * 1000,
			FPS:     fps,
		})
	}
	if len(presets) == 0 {
		return nil, fmt.Errorf("no presets configured")
	}
	for i := 1; i < len(presets); i++ {
		if presets[i].Height > presets[i-1].Height {
			return nil, fmt.Errorf("presets must be ordered highest resolution first")
		}
	}
	return presets, nil
}
