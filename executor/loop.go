package executor

import (
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/sawmill-video/sawmill/log"
)

// Loop runs a callback repeatedly on a background goroutine with a yield
// between passes, until stopped or until the callback fails. With
// ContinueOnError set, callback errors are logged and the loop carries on;
// otherwise the loop transitions to Errored and exits.
type Loop struct {
	JobID           string
	Name            string
	RunOnce         func() error
	PostStop        func()
	ContinueOnError bool
	Interval        time.Duration
	Clock           clock.Clock

	mu     sync.Mutex
	status Status
	done   chan struct{}
}

func (l *Loop) Start() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.status != NotStarted {
		return nil
	}
	if l.Interval == 0 {
		l.Interval = 1 * time.Second
	}
	if l.Clock == nil {
		l.Clock = clock.New()
	}
	l.status = Running
	l.done = make(chan struct{})
	go l.run()
	return nil
}

func (l *Loop) run() {
	defer close(l.done)
	for l.Status() == Running {
		if err := l.RunOnce(); err != nil {
			if !l.ContinueOnError {
				log.LogError(l.JobID, "loop pass failed, quitting", err, "name", l.Name)
				l.setStatus(Errored)
				return
			}
			log.LogError(l.JobID, "loop pass failed, continuing", err, "name", l.Name)
		}

		// Yield time to other goroutines.
		l.Clock.Sleep(l.Interval)
	}
}

func (l *Loop) Status() Status {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.status
}

func (l *Loop) setStatus(s Status) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.status = s
}

// Stop marks the loop finished, waits for the current pass to complete
// and runs the PostStop hook so implementations can flush final work.
func (l *Loop) Stop(terminal Status) {
	l.mu.Lock()
	if l.status == NotStarted {
		l.status = Finished
		l.mu.Unlock()
		return
	}
	if l.status == Running {
		l.status = Finished
	}
	done := l.done
	l.mu.Unlock()

	<-done
	if l.PostStop != nil {
		l.PostStop()
	}
}
