// Package video wraps ffprobe for inspecting source media before a
// transcode starts.
package video

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/cenkalti/backoff/v4"
	"gopkg.in/vansante/go-ffprobe.v2"
)

// InputVideo is what we know about a source file ahead of transcoding.
// Duration drives progress reporting, so a zero Duration means progress
// events can't be computed from wall time alone.
type InputVideo struct {
	Duration  float64
	Width     int
	Height    int
	Codec     string
	Format    string
	SizeBytes int64
}

type Prober interface {
	ProbeFile(jobID, url string) (InputVideo, error)
}

type Probe struct{}

func (p Probe) ProbeFile(jobID, url string) (InputVideo, error) {
	var data *ffprobe.ProbeData
	operation := func() error {
		probeCtx, probeCancel := context.WithTimeout(context.Background(), 60*time.Second)
		defer probeCancel()
		var err error
		data, err = ffprobe.ProbeURL(probeCtx, url, "-loglevel", "error")
		return err
	}

	backOff := backoff.NewExponentialBackOff()
	backOff.InitialInterval = 500 * time.Millisecond
	backOff.MaxInterval = 2 * time.Second
	backOff.MaxElapsedTime = 0 // don't impose a timeout as part of the retries
	if err := backoff.Retry(operation, backoff.WithMaxRetries(backOff, 3)); err != nil {
		return InputVideo{}, fmt.Errorf("error probing: %w", err)
	}
	return parseProbeOutput(data)
}

func parseProbeOutput(probeData *ffprobe.ProbeData) (InputVideo, error) {
	videoStream := probeData.FirstVideoStream()
	if videoStream == nil {
		return InputVideo{}, errors.New("error checking for video: no video stream found")
	}
	// We rely on this being present to get required information about the input video, so error out if it isn't
	if probeData.Format == nil {
		return InputVideo{}, fmt.Errorf("error parsing input video: format information missing")
	}

	duration, err := strconv.ParseFloat(videoStream.Duration, 64)
	if err != nil {
		duration = probeData.Format.DurationSeconds
	}

	// filesize is missing for stream inputs
	size, _ := strconv.ParseInt(probeData.Format.Size, 10, 64)

	return InputVideo{
		Duration:  duration,
		Width:     videoStream.Width,
		Height:    videoStream.Height,
		Codec:     videoStream.CodecName,
		Format:    probeData.Format.FormatName,
		SizeBytes: size,
	}, nil
}
