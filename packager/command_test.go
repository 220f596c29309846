package packager

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/sawmill-video/sawmill/jobs"
)

func dashSettings() *jobs.Settings {
	return &jobs.Settings{
		ID:            "1232",
		Format:        jobs.FormatDASH,
		SegmentLength: 10,
		PlaylistType:  jobs.PlaylistVOD,
		Output: &jobs.OutputSettings{
			Name: "720p",
			Pipe: "/tmp/fifo-720p",
		},
	}
}

func TestCommandForDASH(t *testing.T) {
	args, err := Command(dashSettings(), "/var/tmp/sawmill/1232/720p_dash")
	require.NoError(t, err)

	expected := []string{
		"in=/tmp/fifo-720p,stream=video," +
			"init_segment=/var/tmp/sawmill/1232/720p_dash/video_720p_init.mp4," +
			"segment_template=/var/tmp/sawmill/1232/720p_dash/video_720p_$Number$.mp4",
		"in=/tmp/fifo-720p,stream=audio," +
			"init_segment=/var/tmp/sawmill/1232/720p_dash/audio_init.mp4," +
			"segment_template=/var/tmp/sawmill/1232/720p_dash/audio_$Number$.mp4",
		"--segment_duration", "10",
		"--generate_static_live_mpd",
		"--mpd_output", "/var/tmp/sawmill/1232/720p_dash/video.mpd",
	}
	require.Equal(t, expected, args)
}

func TestCommandForLiveDASHSkipsStaticMPD(t *testing.T) {
	settings := dashSettings()
	settings.PlaylistType = jobs.PlaylistLive

	args, err := Command(settings, "/out")
	require.NoError(t, err)
	require.NotContains(t, args, "--generate_static_live_mpd")
}

func TestCommandForHLS(t *testing.T) {
	settings := dashSettings()
	settings.Format = jobs.FormatHLS

	args, err := Command(settings, "/out")
	require.NoError(t, err)

	joined := strings.Join(args, " ")
	require.Contains(t, joined, "--hls_playlist_type VOD")
	require.Contains(t, joined, "--hls_master_playlist_output /out/video.m3u8")
	require.NotContains(t, joined, "--mpd_output")
}

func TestCommandForAdaptiveEmitsBothManifests(t *testing.T) {
	settings := dashSettings()
	settings.Format = jobs.FormatAdaptive
	settings.PlaylistType = jobs.PlaylistLive

	args, err := Command(settings, "/out")
	require.NoError(t, err)

	joined := strings.Join(args, " ")
	require.Contains(t, joined, "--mpd_output /out/video.mpd")
	require.Contains(t, joined, "--hls_playlist_type LIVE")
	require.Contains(t, joined, "--hls_master_playlist_output /out/video.m3u8")
}

func TestCommandWithWidevine(t *testing.T) {
	settings := dashSettings()
	settings.Encryption = &jobs.Encryption{
		Widevine: &jobs.WidevineDRM{
			KeyServerURL:  "https://license.example.com/cenc/getcontentkey",
			ContentID:     "0123456789abcdef",
			Signer:        "sawmill",
			AESSigningKey: "aaaa",
			AESSigningIV:  "bbbb",
		},
	}

	args, err := Command(settings, "/out")
	require.NoError(t, err)

	joined := strings.Join(args, " ")
	require.Contains(t, joined, "--enable_widevine_encryption")
	require.Contains(t, joined, "--key_server_url https://license.example.com/cenc/getcontentkey")
	require.Contains(t, joined, "--content_id 0123456789abcdef")
	require.Contains(t, joined, "--signer sawmill")
}

func TestCommandWithFairplay(t *testing.T) {
	settings := dashSettings()
	settings.Format = jobs.FormatHLS
	settings.Encryption = &jobs.Encryption{
		Fairplay: &jobs.FairplayDRM{
			Key:    "ecd0d06eaf884d8226c33928e87efa33",
			KeyID:  "f3c5e0361e6654b28f8049c778b23946",
			IV:     "11223344556677889900112233445566",
			KeyURI: "skd://keys.example.com/fairplay",
		},
	}

	args, err := Command(settings, "/out")
	require.NoError(t, err)

	joined := strings.Join(args, " ")
	require.Contains(t, joined, "--enable_raw_key_encryption")
	require.Contains(t, joined, "--keys label=:key_id=f3c5e0361e6654b28f8049c778b23946:key=ecd0d06eaf884d8226c33928e87efa33")
	require.Contains(t, joined, "--protection_systems Fairplay")
	require.Contains(t, joined, "--hls_key_uri skd://keys.example.com/fairplay")
}

func TestCommandWithFixedKey(t *testing.T) {
	settings := dashSettings()
	settings.Format = jobs.FormatHLS
	settings.Encryption = &jobs.Encryption{
		Key: "ecd0d06eaf884d8226c33928e87efa33",
		URL: "https://keys.example.com/enc.key",
	}

	args, err := Command(settings, "/out")
	require.NoError(t, err)

	joined := strings.Join(args, " ")
	require.Contains(t, joined, "--enable_fixed_key_encryption")
	require.Contains(t, joined, "--key ecd0d06eaf884d8226c33928e87efa33")
	require.Contains(t, joined, "--key_id ecd0d06eaf884d8226c33928e87efa33")
	require.Contains(t, joined, "--hls_key_uri https://keys.example.com/enc.key")
}

func TestCommandRequiresAnInput(t *testing.T) {
	settings := dashSettings()
	settings.Output.Pipe = ""

	_, err := Command(settings, "/out")
	require.ErrorContains(t, err, "no input pipe")
}
