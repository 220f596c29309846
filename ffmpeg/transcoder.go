package ffmpeg

import (
	"fmt"
	"os"
	"strings"

	"github.com/sawmill-video/sawmill/config"
	"github.com/sawmill-video/sawmill/events"
	"github.com/sawmill-video/sawmill/executor"
	"github.com/sawmill-video/sawmill/jobs"
)

// Transcoder supervises one ffmpeg run: the subprocess plus the log
// parser feeding the event bus. It is polite on stop so ffmpeg can drain
// its muxing queue when the rest of the pipeline finished cleanly.
type Transcoder struct {
	jobID    string
	localDir string
	proc     executor.PolitelyWait
	parser   *LogParser
}

func NewTranscoder(root string, settings *jobs.Settings, bus *events.Bus) (*Transcoder, error) {
	args, err := Command(root, settings)
	if err != nil {
		return nil, err
	}

	proc := executor.NewSubprocess(settings.ID, "transcoder", config.FFmpegBin, args)
	logStream, err := proc.CombinedOutput()
	if err != nil {
		return nil, err
	}

	return &Transcoder{
		jobID:    settings.ID,
		localDir: LocalDir(root, settings),
		proc:     executor.PolitelyWait{Subprocess: proc},
		parser:   NewLogParser(logStream, bus),
	}, nil
}

func (t *Transcoder) Start() error {
	if err := os.MkdirAll(t.localDir, 0755); err != nil {
		return fmt.Errorf("failed to create rendition dir %q: %w", t.localDir, err)
	}
	if err := t.proc.Start(); err != nil {
		return err
	}
	t.parser.Start()
	return nil
}

func (t *Transcoder) Status() executor.Status {
	return t.proc.Status()
}

func (t *Transcoder) Stop(terminal executor.Status) {
	t.proc.Stop(terminal)
	// The log stream closes once the process is gone, so this drains
	// quickly and guarantees the terminal output event has been
	// published.
	t.parser.Stop()
}

// ErrorMessage describes why ffmpeg failed, combining the exit error
// with the last lines it logged.
func (t *Transcoder) ErrorMessage() string {
	err := t.proc.Err()
	if err == nil {
		return ""
	}
	tail := t.parser.Tail()
	if len(tail) == 0 {
		return err.Error()
	}
	return fmt.Sprintf("%s: %s", err.Error(), strings.Join(tail, "\n"))
}
