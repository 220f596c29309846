package executor

import (
	"fmt"
	"io"
	"os"
	"os/exec"
	"sync"
	"syscall"
	"time"

	"github.com/sawmill-video/sawmill/log"
)

// How long Stop waits after SIGTERM before escalating to SIGKILL.
const terminateGracePeriod = 1 * time.Second

// How long a PolitelyWait executor waits for a clean exit when the whole
// group finished successfully. Packagers can take a while to flush their
// final segments after the transcoder closes the pipe.
var politeWaitTimeout = 300 * time.Second

// Subprocess runs one child process. Start never blocks; the exit status
// is reaped by a background goroutine and surfaced through Status.
type Subprocess struct {
	jobID string
	name  string
	bin   string
	args  []string

	mu        sync.Mutex
	cmd       *exec.Cmd
	started   bool
	done      chan struct{}
	waitErr   error
	childOut  *os.File
	parentOut *os.File
}

func NewSubprocess(jobID, name, bin string, args []string) *Subprocess {
	return &Subprocess{
		jobID: jobID,
		name:  name,
		bin:   bin,
		args:  args,
		done:  make(chan struct{}),
	}
}

// CombinedOutput returns a reader over the child's merged stdout and
// stderr. Must be called before Start. The reader sees EOF once the child
// exits and the write side is closed.
func (s *Subprocess) CombinedOutput() (io.Reader, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.started {
		return nil, fmt.Errorf("%s: CombinedOutput must be called before Start", s.name)
	}
	r, w, err := os.Pipe()
	if err != nil {
		return nil, fmt.Errorf("%s: failed to create output pipe: %w", s.name, err)
	}
	s.parentOut, s.childOut = r, w
	return r, nil
}

func (s *Subprocess) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.started {
		return fmt.Errorf("%s already started", s.name)
	}

	cmd := exec.Command(s.bin, s.args...)
	// Stdin stays nil so the child reads from /dev/null.
	if s.childOut != nil {
		cmd.Stdout = s.childOut
		cmd.Stderr = s.childOut
	} else {
		cmd.Stdout = os.Stdout
		cmd.Stderr = os.Stderr
	}

	log.Log(s.jobID, "starting subprocess", "name", s.name, "bin", s.bin)
	if err := cmd.Start(); err != nil {
		if s.childOut != nil {
			s.childOut.Close()
			s.parentOut.Close()
		}
		return fmt.Errorf("%s: failed to start %s: %w", s.name, s.bin, err)
	}
	if s.childOut != nil {
		// The child holds its own copy of the write end now. Closing ours
		// lets readers see EOF when the child exits.
		s.childOut.Close()
	}

	s.cmd = cmd
	s.started = true
	go func() {
		err := cmd.Wait()
		s.mu.Lock()
		s.waitErr = err
		s.mu.Unlock()
		close(s.done)
	}()
	return nil
}

func (s *Subprocess) Status() Status {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.started {
		return NotStarted
	}
	select {
	case <-s.done:
		if s.waitErr != nil {
			return Errored
		}
		return Finished
	default:
		return Running
	}
}

// Err returns the exit error of the child, if any. Only meaningful once
// Status reports Errored.
func (s *Subprocess) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.waitErr
}

// Stop terminates the child if it is still running: SIGTERM first, then
// SIGKILL after a grace period. Errors are swallowed, teardown is
// best-effort.
func (s *Subprocess) Stop(terminal Status) {
	s.mu.Lock()
	if !s.started {
		s.mu.Unlock()
		return
	}
	cmd := s.cmd
	s.mu.Unlock()

	select {
	case <-s.done:
		return
	default:
	}

	// Slightly more polite than kill. Try this first.
	if err := cmd.Process.Signal(syscall.SIGTERM); err != nil {
		log.LogError(s.jobID, "failed to terminate subprocess", err, "name", s.name)
	}
	if s.waitFor(terminateGracePeriod) {
		return
	}

	// There is no way to ignore a kill signal, so waiting afterwards will
	// return quickly and reaps the child.
	if err := cmd.Process.Kill(); err != nil {
		log.LogError(s.jobID, "failed to kill subprocess", err, "name", s.name)
	}
	<-s.done
}

// waitFor waits up to d for the child to exit, reporting whether it did.
func (s *Subprocess) waitFor(d time.Duration) bool {
	select {
	case <-s.done:
		return true
	case <-time.After(d):
		return false
	}
}

// PolitelyWait changes Stop behaviour for executors whose child should be
// allowed to finish its own work when the rest of the group completed
// successfully: ffmpeg draining its muxing queue, packager writing the
// last segments read from a pipe.
type PolitelyWait struct {
	*Subprocess
}

func (p PolitelyWait) Stop(terminal Status) {
	if terminal == Finished {
		if !p.waitFor(politeWaitTimeout) {
			log.Log(p.jobID, "subprocess did not exit within polite-wait window", "name", p.name)
		}
	}
	p.Subprocess.Stop(terminal)
}
