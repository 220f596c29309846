// Package manifest builds the job-level master manifest once every
// rendition has completed, and uploads it next to the rendition output.
package manifest

import (
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/sawmill-video/sawmill/clients"
	"github.com/sawmill-video/sawmill/jobs"
	"github.com/sawmill-video/sawmill/log"
)

func DownloadRetryBackoffLong() backoff.BackOff {
	return backoff.WithMaxRetries(backoff.NewConstantBackOff(5*time.Second), 10)
}

// Swappable so tests don't sit through the long retry schedule.
var DownloadRetryBackoff = DownloadRetryBackoffLong

// Merger merges per-rendition manifests into the master manifest for the
// job's format and publishes it at the job's destination.
type Merger struct{}

func NewMerger() *Merger {
	return &Merger{}
}

// Merge runs exactly once per job, from whichever rendition runner
// observed all siblings completed. Outputs arrive in creation order,
// which fixes the variant order in the master playlist.
func (m *Merger) Merge(job *jobs.Job, outputs []*jobs.Output) error {
	settings := job.Settings
	if settings == nil {
		return fmt.Errorf("job %s has no settings to merge manifests for", job.ID)
	}
	if len(outputs) == 0 {
		return fmt.Errorf("job %s has no outputs to merge manifests for", job.ID)
	}

	switch settings.Format {
	case jobs.FormatMP4:
		// nothing to merge, each rendition is a self-contained file
		return nil
	case jobs.FormatHLS:
		return m.mergeHLS(job, settings, outputs)
	case jobs.FormatDASH:
		return m.mergeDASH(job, settings, outputs)
	case jobs.FormatAdaptive:
		if err := m.mergeHLS(job, settings, outputs); err != nil {
			return err
		}
		return m.mergeDASH(job, settings, outputs)
	}
	return fmt.Errorf("unknown output format %q", settings.Format)
}

func (m *Merger) mergeHLS(job *jobs.Job, settings *jobs.Settings, outputs []*jobs.Output) error {
	var contents string
	var err error
	if hlsPackaged(settings) {
		contents, err = mergePackagedPlaylists(settings.Destination, outputs)
		if err != nil {
			return err
		}
	} else {
		contents = ffmpegMasterPlaylist(outputs)
	}
	return m.upload(job, settings, jobs.FormatHLS, contents)
}

func (m *Merger) mergeDASH(job *jobs.Job, settings *jobs.Settings, outputs []*jobs.Output) error {
	contents, err := mergeMPDs(settings.Destination, outputs)
	if err != nil {
		return err
	}
	return m.upload(job, settings, jobs.FormatDASH, contents)
}

func (m *Merger) upload(job *jobs.Job, settings *jobs.Settings, format jobs.Format, contents string) error {
	filename := manifestFilename(settings, format)
	if err := clients.SaveTextFile(settings.Destination, filename, contents); err != nil {
		return fmt.Errorf("failed to upload master manifest %q: %w", filename, err)
	}
	log.Log(job.ID.String(), "uploaded master manifest", "filename", filename, "destination", settings.Destination)
	return nil
}

// hlsPackaged mirrors the controller's packaging decision: adaptive jobs
// and FairPlay HLS go through the packager, so their rendition
// playlists live under <name>_hls.
func hlsPackaged(settings *jobs.Settings) bool {
	if settings.Format == jobs.FormatAdaptive {
		return true
	}
	return settings.Encryption != nil && settings.Encryption.Fairplay != nil
}

// manifestFilename prefers the file name from the job's output URL when
// its extension matches the format, falling back to the format default.
func manifestFilename(settings *jobs.Settings, format jobs.Format) string {
	fallback := jobs.DefaultFileName(format)
	if settings.FileName != "" && strings.HasSuffix(settings.FileName, manifestExtension(format)) {
		return settings.FileName
	}
	return fallback
}

func manifestExtension(format jobs.Format) string {
	if format == jobs.FormatHLS {
		return ".m3u8"
	}
	return ".mpd"
}

func downloadManifest(osURL string) (string, error) {
	var contents string
	err := backoff.Retry(func() error {
		rc, err := clients.DownloadOSURL(osURL)
		if err != nil {
			return err
		}
		defer rc.Close()
		data, err := io.ReadAll(rc)
		if err != nil {
			return fmt.Errorf("error reading manifest %q: %s", osURL, err)
		}
		contents = string(data)
		return nil
	}, DownloadRetryBackoff())
	return contents, err
}
