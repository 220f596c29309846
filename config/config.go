package config

import (
	"os"

	"github.com/go-kit/log"
)

var Version string

// Root directory for local staging of transcoded renditions before upload.
// Layout underneath is <TranscodedRoot>/<job_id>/<rendition_name>.
var TranscodedRoot = "/var/tmp/sawmill"

// Binaries we shell out to. Overridable for hosts where they live
// outside PATH.
var FFmpegBin = "ffmpeg"
var PackagerBin = "packager"

// Default name of the worker queue renditions are dispatched to when a
// job's metadata doesn't name one.
const DefaultQueue = "transcoding"

// Number of rendition tasks a single worker processes concurrently.
var QueueConcurrency = 4

// Global variable, but easier than passing a logger around throughout the system
var Logger log.Logger = log.NewLogfmtLogger(log.NewSyncWriter(os.Stderr))

func init() {
	Logger = log.With(Logger, "ts", log.DefaultTimestampUTC)
}
