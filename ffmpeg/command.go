// Package ffmpeg drives the external transcoder: building its command
// line from rendition settings and turning its log stream into progress
// events.
package ffmpeg

import (
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/sawmill-video/sawmill/clients"
	"github.com/sawmill-video/sawmill/jobs"
)

const (
	DefaultVideoCodec = "h264"
	DefaultAudioCodec = "aac"
	DefaultPreset     = "fast"

	// How long ffmpeg keeps trying to re-establish a dropped http input.
	reconnectDelayMaxSec = "300"
)

// LocalDir is the rendition's staging directory under the transcoded
// root: <root>/<job_id>/<rendition_name>.
func LocalDir(root string, settings *jobs.Settings) string {
	return filepath.Join(root, settings.ID, settings.Output.Name)
}

// Command builds the full ffmpeg argument list for one rendition. It is
// a pure function of the settings apart from two side effects: s3 inputs
// are presigned, and AES-128 key material is written under
// <root>/<job_id>/key/.
func Command(root string, settings *jobs.Settings) ([]string, error) {
	if settings.Output == nil {
		return nil, fmt.Errorf("settings have no output rendition")
	}

	input := settings.Output.Input
	if input == "" {
		input = settings.Input
	}
	signedInput, err := clients.SignURL(input)
	if err != nil {
		return nil, fmt.Errorf("failed to sign input URL: %w", err)
	}

	args := []string{"-hide_banner"}
	if strings.HasPrefix(signedInput, "http") {
		args = append(args, "-reconnect", "1", "-reconnect_streamed", "1", "-reconnect_delay_max", reconnectDelayMaxSec)
	}
	args = append(args, "-i", signedInput)
	args = append(args, audioArgs(settings.Output.Audio)...)
	args = append(args, videoArgs(settings.Output.Video)...)

	outputPath := settings.Output.Pipe
	switch {
	case outputPath != "":
		// Piping to a packager. mpegts is the one container ffmpeg can
		// stream into a FIFO without seeking back to fix up headers.
		args = append(args, "-f", "mpegts")
	case settings.Format == jobs.FormatHLS:
		hls, err := hlsArgs(root, settings)
		if err != nil {
			return nil, err
		}
		args = append(args, hls...)
	}

	args = append(args, "-max_muxing_queue_size", "9999")

	if outputPath == "" {
		fileName := settings.FileName
		if fileName == "" {
			fileName = jobs.DefaultFileName(settings.Format)
		}
		if fileName == "" {
			return nil, fmt.Errorf("no output file name for format %q", settings.Format)
		}
		outputPath = filepath.Join(LocalDir(root, settings), fileName)
	}
	return append(args, outputPath), nil
}

func audioArgs(audio jobs.AudioSettings) []string {
	codec := audio.Codec
	if codec == "" {
		codec = DefaultAudioCodec
	}
	args := []string{"-c:a", codec}
	if audio.Bitrate > 0 {
		args = append(args, "-b:a", strconv.Itoa(audio.Bitrate))
	}
	return args
}

func videoArgs(video jobs.VideoSettings) []string {
	codec := video.Codec
	if codec == "" {
		codec = DefaultVideoCodec
	}
	preset := video.Preset
	if preset == "" {
		preset = DefaultPreset
	}
	args := []string{
		"-c:v", codec,
		"-preset", preset,
		"-s", jobs.Resolution(video.Width, video.Height),
	}
	if video.Bitrate > 0 {
		args = append(args, "-b:v", strconv.Itoa(video.Bitrate))
	}
	return args
}

func hlsArgs(root string, settings *jobs.Settings) ([]string, error) {
	args := []string{
		"-f", "hls",
		"-hls_list_size", "0",
		"-hls_time", strconv.Itoa(settings.SegmentLengthOrDefault()),
		"-hls_segment_filename", filepath.Join(LocalDir(root, settings), "video_%d.ts"),
	}
	if enc := settings.Encryption; enc != nil && enc.Key != "" {
		keyInfoPath, err := writeHLSKeyInfo(filepath.Join(root, settings.ID, "key"), enc.Key, enc.URL)
		if err != nil {
			return nil, err
		}
		args = append(args, "-hls_key_info_file", keyInfoPath)
	}
	return args, nil
}

// writeHLSKeyInfo materialises the AES-128 key files ffmpeg needs:
// enc.key holds the raw key bytes, enc.keyinfo points ffmpeg at the key
// URL players will fetch and the local key path it encrypts with.
func writeHLSKeyInfo(keyDir, hexKey, keyURL string) (string, error) {
	keyBytes, err := hex.DecodeString(hexKey)
	if err != nil {
		return "", fmt.Errorf("encryption key is not valid hex: %w", err)
	}
	if err := os.MkdirAll(keyDir, 0700); err != nil {
		return "", fmt.Errorf("failed to create key dir: %w", err)
	}

	keyPath := filepath.Join(keyDir, "enc.key")
	if err := os.WriteFile(keyPath, keyBytes, 0600); err != nil {
		return "", fmt.Errorf("failed to write key file: %w", err)
	}

	keyInfoPath := filepath.Join(keyDir, "enc.keyinfo")
	keyInfo := keyURL + "\n" + keyPath
	if err := os.WriteFile(keyInfoPath, []byte(keyInfo), 0600); err != nil {
		return "", fmt.Errorf("failed to write key info file: %w", err)
	}
	return keyInfoPath, nil
}
