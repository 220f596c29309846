// Package packager drives the external shaka-style packager that turns
// a transcoded bytestream into segmented HLS or DASH output, optionally
// applying DRM.
package packager

import (
	"fmt"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/sawmill-video/sawmill/jobs"
)

// Command builds the packager argument list for one rendition. The
// packager reads the rendition's named pipe (or a file, if the settings
// carry an input override) and writes init plus numbered segments and a
// playlist into outputDir.
func Command(settings *jobs.Settings, outputDir string) ([]string, error) {
	if settings.Output == nil {
		return nil, fmt.Errorf("settings have no output rendition")
	}
	in := settings.Output.Pipe
	if in == "" {
		in = settings.Output.Input
	}
	if in == "" {
		return nil, fmt.Errorf("packager has no input pipe or file")
	}

	name := settings.Output.Name
	args := []string{
		streamDescriptor(in, "video",
			filepath.Join(outputDir, fmt.Sprintf("video_%s_init.mp4", name)),
			filepath.Join(outputDir, fmt.Sprintf("video_%s_$Number$.mp4", name))),
		streamDescriptor(in, "audio",
			filepath.Join(outputDir, "audio_init.mp4"),
			filepath.Join(outputDir, "audio_$Number$.mp4")),
		"--segment_duration", strconv.Itoa(settings.SegmentLengthOrDefault()),
	}

	switch settings.Format {
	case jobs.FormatDASH, jobs.FormatAdaptive:
		if settings.PlaylistType == jobs.PlaylistVOD {
			args = append(args, "--generate_static_live_mpd")
		}
		args = append(args, "--mpd_output", filepath.Join(outputDir, "video.mpd"))
	}
	switch settings.Format {
	case jobs.FormatHLS, jobs.FormatAdaptive:
		playlistType := "VOD"
		if settings.PlaylistType == jobs.PlaylistLive {
			playlistType = "LIVE"
		}
		args = append(args,
			"--hls_playlist_type", playlistType,
			"--hls_master_playlist_output", filepath.Join(outputDir, "video.m3u8"))
	}

	if settings.Encryption != nil {
		args = append(args, encryptionArgs(settings)...)
	}
	return args, nil
}

func streamDescriptor(in, stream, initSegment, segmentTemplate string) string {
	return strings.Join([]string{
		"in=" + in,
		"stream=" + stream,
		"init_segment=" + initSegment,
		"segment_template=" + segmentTemplate,
	}, ",")
}

func encryptionArgs(settings *jobs.Settings) []string {
	enc := settings.Encryption
	switch settings.Format {
	case jobs.FormatDASH:
		if enc.Widevine != nil {
			return []string{
				"--enable_widevine_encryption",
				"--key_server_url", enc.Widevine.KeyServerURL,
				"--content_id", enc.Widevine.ContentID,
				"--signer", enc.Widevine.Signer,
				"--aes_signing_key", enc.Widevine.AESSigningKey,
				"--aes_signing_iv", enc.Widevine.AESSigningIV,
			}
		}
	case jobs.FormatHLS:
		if enc.Fairplay != nil {
			keyID := enc.Fairplay.KeyID
			if keyID == "" {
				keyID = enc.Fairplay.Key
			}
			return []string{
				"--enable_raw_key_encryption",
				"--keys", "label=:key_id=" + keyID + ":key=" + enc.Fairplay.Key,
				"--protection_systems", "Fairplay",
				"--iv", enc.Fairplay.IV,
				"--hls_key_uri", enc.Fairplay.KeyURI,
			}
		}
		if enc.Key != "" {
			keyID := enc.Key
			return []string{
				"--enable_fixed_key_encryption",
				"--key", enc.Key,
				"--key_id", keyID,
				"--hls_key_uri", enc.URL,
			}
		}
	}
	return nil
}
