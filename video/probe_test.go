package video

import (
	"testing"

	"github.com/stretchr/testify/require"
	"gopkg.in/vansante/go-ffprobe.v2"
)

func TestItRejectsWhenNoVideoTrackPresent(t *testing.T) {
	_, err := parseProbeOutput(&ffprobe.ProbeData{
		Streams: []*ffprobe.Stream{
			{
				CodecType: "audio",
			},
		},
	})
	require.ErrorContains(t, err, "no video stream found")
}

func TestItRejectsWhenFormatMissing(t *testing.T) {
	_, err := parseProbeOutput(&ffprobe.ProbeData{
		Streams: []*ffprobe.Stream{
			{
				CodecType: "video",
			},
		},
	})
	require.ErrorContains(t, err, "format information missing")
}

func TestItParsesStreamDetails(t *testing.T) {
	iv, err := parseProbeOutput(&ffprobe.ProbeData{
		Format: &ffprobe.Format{
			FormatName: "mov,mp4,m4a,3gp,3g2,mj2",
			Size:       "123456",
		},
		Streams: []*ffprobe.Stream{
			{
				CodecType: "video",
				CodecName: "h264",
				Width:     1920,
				Height:    1080,
				Duration:  "123.45",
			},
		},
	})
	require.NoError(t, err)
	require.Equal(t, 123.45, iv.Duration)
	require.Equal(t, 1920, iv.Width)
	require.Equal(t, 1080, iv.Height)
	require.Equal(t, "h264", iv.Codec)
	require.Equal(t, int64(123456), iv.SizeBytes)
}

func TestItFallsBackToFormatDuration(t *testing.T) {
	iv, err := parseProbeOutput(&ffprobe.ProbeData{
		Format: &ffprobe.Format{
			DurationSeconds: 60.5,
		},
		Streams: []*ffprobe.Stream{
			{
				CodecType: "video",
				CodecName: "h264",
			},
		},
	})
	require.NoError(t, err)
	require.Equal(t, 60.5, iv.Duration)
}
