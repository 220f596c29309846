package pipeline

import (
	"fmt"
	"io"
	"os"
	"sync"
	"time"

	"github.com/sawmill-video/sawmill/executor"
	"github.com/sawmill-video/sawmill/log"
)

// Fanout reads the transcoder's bytestream from one named pipe and
// duplicates it into N downstream pipes, one per packager. A write error
// on any output pipe means a packager died, so the fanout reports
// Errored and the controller fails the rendition.
type Fanout struct {
	jobID   string
	input   string
	outputs []string

	mu     sync.Mutex
	status executor.Status
	inFile *os.File
	done   chan struct{}
}

func NewFanout(jobID, input string, outputs []string) *Fanout {
	return &Fanout{
		jobID:   jobID,
		input:   input,
		outputs: outputs,
		done:    make(chan struct{}),
	}
}

func (f *Fanout) Start() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.status != executor.NotStarted {
		return fmt.Errorf("fanout already started")
	}
	f.status = executor.Running
	go f.run()
	return nil
}

func (f *Fanout) run() {
	defer close(f.done)
	err := f.copy()
	f.mu.Lock()
	defer f.mu.Unlock()
	if err != nil {
		log.LogError(f.jobID, "fanout failed", err)
		f.status = executor.Errored
		return
	}
	f.status = executor.Finished
}

func (f *Fanout) copy() error {
	// Opening a FIFO for writing blocks until the reader side opens, so
	// this happens here rather than in Start.
	writers := make([]io.Writer, 0, len(f.outputs))
	for _, path := range f.outputs {
		out, err := os.OpenFile(path, os.O_WRONLY, 0)
		if err != nil {
			return fmt.Errorf("failed to open output pipe %q: %w", path, err)
		}
		defer out.Close()
		writers = append(writers, out)
	}

	in, err := os.Open(f.input)
	if err != nil {
		return fmt.Errorf("failed to open input pipe %q: %w", f.input, err)
	}
	f.mu.Lock()
	f.inFile = in
	f.mu.Unlock()
	defer in.Close()

	if _, err := io.Copy(io.MultiWriter(writers...), in); err != nil {
		return fmt.Errorf("failed to copy stream: %w", err)
	}
	return nil
}

func (f *Fanout) Status() executor.Status {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.status
}

// Stop unblocks the copy loop by closing the input side, then waits for
// the goroutine to exit. Normally the loop has already drained: the
// transcoder closing its end of the input pipe ends the copy.
func (f *Fanout) Stop(terminal executor.Status) {
	f.mu.Lock()
	if f.status == executor.NotStarted {
		f.status = executor.Finished
		f.mu.Unlock()
		return
	}
	in := f.inFile
	f.mu.Unlock()

	select {
	case <-f.done:
		return
	default:
	}
	if in != nil {
		in.Close()
	}
	// A fanout stuck opening a pipe whose far end never appeared can't
	// be unblocked from here, so don't wait forever. The goroutine is
	// leaked until the process exits, which beats hanging the runner.
	select {
	case <-f.done:
	case <-time.After(5 * time.Second):
		log.Log(f.jobID, "fanout did not exit after stop")
	}
}
