package clients

import (
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/cenkalti/backoff/v4"

	"github.com/sawmill-video/sawmill/executor"
	"github.com/sawmill-video/sawmill/log"
	"github.com/sawmill-video/sawmill/metrics"
)

// DirectoryUploader mirrors a rendition's working directory to its
// destination while the transcode is still running, deleting local files
// as they land remotely so segments don't pile up on disk.
//
// Two kinds of file are held back during the run:
//   - *.tmp files, which ffmpeg and the packager are still writing
//   - playlists and MPDs, which keep changing until the transcode is done
//
// The final sweep after Stop picks both up.
type DirectoryUploader struct {
	jobID       string
	localDir    string
	destination string

	mu        sync.Mutex
	completed bool
	sweeping  bool
}

func NewDirectoryUploader(jobID, localDir, destination string) *DirectoryUploader {
	return &DirectoryUploader{
		jobID:       jobID,
		localDir:    localDir,
		destination: destination,
	}
}

// Node wraps the uploader in a loop executor so the controller can
// manage it like any other pipeline node. Upload errors don't kill the
// loop; the file is retried on the next sweep.
func (u *DirectoryUploader) Node() *executor.Loop {
	return &executor.Loop{
		JobID:           u.jobID,
		Name:            "uploader",
		RunOnce:         u.Sweep,
		PostStop:        u.finalSweep,
		ContinueOnError: true,
	}
}

// SetTranscodeCompleted releases the hold on playlist files. Called when
// the log parser sees the transcoder exit cleanly.
func (u *DirectoryUploader) SetTranscodeCompleted() {
	u.mu.Lock()
	defer u.mu.Unlock()
	u.completed = true
}

func (u *DirectoryUploader) transcodeCompleted() bool {
	u.mu.Lock()
	defer u.mu.Unlock()
	return u.completed
}

// Sweep walks the working directory once and uploads everything that is
// safe to move. Reentrant calls (a slow sweep overlapping the final one)
// are collapsed into a no-op.
func (u *DirectoryUploader) Sweep() error {
	u.mu.Lock()
	if u.sweeping {
		u.mu.Unlock()
		return nil
	}
	u.sweeping = true
	u.mu.Unlock()
	defer func() {
		u.mu.Lock()
		u.sweeping = false
		u.mu.Unlock()
	}()

	var firstErr error
	err := filepath.WalkDir(u.localDir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() || !u.shouldUpload(path) {
			return nil
		}
		if err := u.uploadFile(path); err != nil {
			metrics.Metrics.UploadErrorCount.Inc()
			log.LogError(u.jobID, "upload failed, will retry on next sweep", err, "file", path)
			if firstErr == nil {
				firstErr = err
			}
		}
		return nil
	})
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("failed to walk %q: %w", u.localDir, err)
	}
	return firstErr
}

func (u *DirectoryUploader) finalSweep() {
	u.SetTranscodeCompleted()
	if err := u.Sweep(); err != nil {
		log.LogError(u.jobID, "final upload sweep failed", err, "dir", u.localDir)
	}
}

func (u *DirectoryUploader) shouldUpload(path string) bool {
	if strings.HasSuffix(path, ".tmp") {
		return false
	}
	if isManifest(path) && !u.transcodeCompleted() {
		return false
	}
	return true
}

func isManifest(path string) bool {
	switch filepath.Ext(path) {
	case ".m3u8", ".mpd":
		return true
	}
	return false
}

func (u *DirectoryUploader) uploadFile(path string) error {
	rel, err := filepath.Rel(u.localDir, path)
	if err != nil {
		return fmt.Errorf("failed to relativise %q: %w", path, err)
	}

	// a file that already landed (a retried sweep after a failed local
	// delete, or a restarted worker) is not uploaded twice
	if RemoteFileExists(u.destination, rel) {
		if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
			log.LogError(u.jobID, "failed to remove already-uploaded file", err, "file", path)
		}
		return nil
	}

	err = backoff.Retry(func() error {
		file, err := os.Open(path)
		if err != nil {
			return err
		}
		defer file.Close()
		return UploadToOSURL(u.destination, rel, file, MaxUploadDuration)
	}, UploadRetryBackoff())
	if err != nil {
		return err
	}

	metrics.Metrics.UploadedFileCount.Inc()
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		log.LogError(u.jobID, "failed to remove uploaded file", err, "file", path)
	}
	return nil
}
