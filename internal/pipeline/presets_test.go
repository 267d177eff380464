package pipeline

import "testing"

func TestDefaultPresetsOrderedHighestFirst(t *testing.T) {
	presets := DefaultPresets()
	if len(presets) != 4 {
		t.Fatalf("expected 4 presets, got %d", len(presets))
	}
	for i := 1; i < len(presets); i++ {
		if presets[i].Height >= presets[i-1].Height {
			t.Fatalf("presets out of order at %d: %d >= %d", i, presets[i].Height, presets[i-1].Height)
		}
	}
	top := presets[0]
	if top.Name != "1080p" || top.Width != 1920 || top.Height != 1080 || top.Bitrate != 4_000_000 || top.FPS != 30 {
		t.Fatalf("unexpected top preset: %+v", top)
	}
	bottom := presets[3]
	if bottom.Name != "360p" || bottom.Width != 640 || bottom.Height != 360 || bottom.Bitrate != 500_000 {
		t.Fatalf("unexpected bottom preset: %+v", bottom)
	}
}

func TestSelectLadderExcludesUpscaledPresets(t *testing.T) {
	presets := DefaultPresets()
	cases := []struct {
		name         string
		nativeHeight int
		want         []string
	}{
		{name: "full HD source", nativeHeight: 1080, want: []string{"1080p", "720p", "480p", "360p"}},
		{name: "720p source", nativeHeight: 720, want: []string{"720p", "480p", "360p"}},
		{name: "between presets", nativeHeight: 600, want: []string{"480p", "360p"}},
		{name: "default fallback height", nativeHeight: 480, want: []string{"480p", "360p"}},
		{name: "exact smallest", nativeHeight: 360, want: []string{"360p"}},
		{name: "below smallest", nativeHeight: 240, want: nil},
		{name: "above table", nativeHeight: 2160, want: []string{"1080p", "720p", "480p", "360p"}},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			ladder := SelectLadder(presets, tc.nativeHeight)
			if len(ladder) != len(tc.want) {
				t.Fatalf("expected %d presets, got %d (%v)", len(tc.want), len(ladder), ladderNames(ladder))
			}
			for i, name := range tc.want {
				if ladder[i].Name != name {
					t.Fatalf("position %d: expected %s, got %s", i, name, ladder[i].Name)
				}
			}
		})
	}
}

func TestParseLadder(t *testing.T) {
	presets, err := ParseLadder("720p:1280x720:2500:30, 480p:854x480:1000:30")
	if err != nil {
		t.Fatalf("parse ladder: %v", err)
	}
	if len(presets) != 2 {
		t.Fatalf("expected 2 presets, got %d", len(presets))
	}
	if presets[0].Name != "720p" || presets[0].Width != 1280 || presets[0].Height != 720 {
		t.Fatalf("unexpected first preset: %+v", presets[0])
	}
	if presets[0].Bitrate != 2_500_000 {
		t.Fatalf("expected bitrate in bits per second, got %d", presets[0].Bitrate)
	}
	if presets[1].FPS != 30 {
		t.Fatalf("unexpected frame rate: %d", presets[1].FPS)
	}
}

func TestParseLadderRejectsMalformedSpecs(t *testing.T) {
	cases := []struct {
		name string
		spec string
	}{
		{name: "empty", spec: ""},
		{name: "missing fields", spec: "720p:1280x720:2500"},
		{name: "bad resolution", spec: "720p:1280:2500:30"},
		{name: "non-numeric bitrate", spec: "720p:1280x720:fast:30"},
		{name: "zero height", spec: "720p:1280x0:2500:30"},
		{name: "ascending order", spec: "480p:854x480:1000:30,720p:1280x720:2500:30"},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if _, err := ParseLadder(tc.spec); err == nil {
				t.Fatalf("expected error for spec %q", tc.spec)
			}
		})
	}
}
