package pipeline

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/livepeer/m3u8"
)

// ManifestName is the file name of both the master playlist and each
// rendition's media playlist.
const ManifestName = "index.m3u8"

// hlsWindowSize is the sliding-window length of each rendition playlist,
// matching the encoder's -hls_list_size.
const hlsWindowSize = 3

// WriteMasterManifest writes the top-level playlist for the given ladder into
// dir, one stream-info/URI pair per rendition in ladder order. It is written
// exactly once per session, before encoders begin producing segments.
func WriteMasterManifest(dir string, ladder []Preset) error {
	master := m3u8.NewMasterPlaylist()
	for _, preset := range ladder {
		variant, err := m3u8.NewMediaPlaylist(hlsWindowSize, hlsWindowSize)
		if err != nil {
			return fmt.Errorf("build variant playlist: %w", err)
		}
		master.Append(preset.Name+"/"+ManifestName, variant, m3u8.VariantParams{
			Bandwidth:  uint32(preset.Bitrate),
			Resolution: fmt.Sprintf("%dx%d", preset.Width, preset.Height),
		})
	}

	target := filepath.Join(dir, ManifestName)
	tmp, err := os.CreateTemp(dir, "manifest-*.tmp")
	if err != nil {
		return fmt.Errorf("write master manifest: %w", err)
	}
	if _, err := tmp.Write(master.Encode().Bytes()); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return fmt.Errorf("write master manifest: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("write master manifest: %w", err)
	}
	if err := os.Rename(tmp.Name(), target); err != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("write master manifest: %w", err)
	}
	return nil
}
