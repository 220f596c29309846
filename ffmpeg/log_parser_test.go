package ffmpeg

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/sawmill-video/sawmill/events"
)

const ffmpegLog = `Input #0, mov,mp4,m4a,3gp,3g2,mj2, from 'raw_video.mp4':
  Duration: 00:01:40.00, start: 0.000000, bitrate: 1058 kb/s
Output #0, hls, to '/var/tmp/sawmill/1232/360p/video.m3u8':
[hls @ 0x7f9e2] Opening '/var/tmp/sawmill/1232/360p/video_0.ts' for writing
frame=  625 fps= 52 q=28.0 size=     512kB time=00:00:25.00 bitrate= 167.8kbits/s speed=2.1x
frame= 1250 fps= 52 q=28.0 size=    1024kB time=00:00:50.00 bitrate= 167.8kbits/s speed=2.1x
[hls @ 0x7f9e2] Opening '/var/tmp/sawmill/1232/360p/video_1.ts' for writing
frame= 2500 fps= 52 q=28.0 size=    2048kB time=00:01:40.00 bitrate= 167.8kbits/s speed=2.1x
`

func TestLogParserEmitsProgressAndOutputEvents(t *testing.T) {
	bus := events.NewBus()
	var progress []int
	var outputs []events.Event
	bus.Subscribe(events.TypeProgress, func(e events.Event) { progress = append(progress, e.Percentage) })
	bus.Subscribe(events.TypeOutput, func(e events.Event) { outputs = append(outputs, e) })

	parser := NewLogParser(strings.NewReader(ffmpegLog), bus)
	parser.Start()
	parser.Stop()

	// only lines carrying a time= position produce progress events
	require.Equal(t, []int{25, 50, 100}, progress)

	// two segment opens plus the terminal completion event
	require.Len(t, outputs, 3)
	require.False(t, outputs[0].TranscodeCompleted)
	require.False(t, outputs[1].TranscodeCompleted)
	require.True(t, outputs[2].TranscodeCompleted)
}

func TestLogParserProgressIsMonotonic(t *testing.T) {
	bus := events.NewBus()
	var progress []int
	bus.Subscribe(events.TypeProgress, func(e events.Event) { progress = append(progress, e.Percentage) })

	parser := NewLogParser(strings.NewReader(ffmpegLog), bus)
	parser.Start()
	parser.Stop()

	for i := 1; i < len(progress); i++ {
		require.GreaterOrEqual(t, progress[i], progress[i-1])
	}
}

func TestLogParserEmitsTerminalEventOnEmptyStream(t *testing.T) {
	bus := events.NewBus()
	var outputs []events.Event
	bus.Subscribe(events.TypeOutput, func(e events.Event) { outputs = append(outputs, e) })

	parser := NewLogParser(strings.NewReader(""), bus)
	parser.Start()
	parser.Stop()

	require.Len(t, outputs, 1)
	require.True(t, outputs[0].TranscodeCompleted)
}

func TestLogParserKeepsErrorTail(t *testing.T) {
	log := strings.Repeat("noise line\n", 20) +
		"[mp4 @ 0x5555] Could not open input\n" +
		"Error opening input file raw_video.mp4\n"

	parser := NewLogParser(strings.NewReader(log), events.NewBus())
	parser.Start()
	parser.Stop()

	tail := parser.Tail()
	require.Len(t, tail, errorTailLines)
	require.Equal(t, "Error opening input file raw_video.mp4", tail[len(tail)-1])
}
