package executor

import (
	"bufio"
	"fmt"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestMaxStatusOrdering(t *testing.T) {
	require.Equal(t, Finished, Max(nil))
	require.Equal(t, Finished, Max([]Status{Running, Finished}))
	require.Equal(t, Errored, Max([]Status{Running, Finished, Errored}))
	require.Equal(t, Running, Max([]Status{Running, Running}))
	require.Equal(t, Finished, Max([]Status{Finished, Finished}))
}

func TestSubprocessReportsFinishedOnZeroExit(t *testing.T) {
	s := NewSubprocess("test-job", "true", "true", nil)
	require.Equal(t, NotStarted, s.Status())
	require.NoError(t, s.Start())
	require.Eventually(t, func() bool { return s.Status() == Finished }, 5*time.Second, 10*time.Millisecond)
}

func TestSubprocessReportsErroredOnNonZeroExit(t *testing.T) {
	s := NewSubprocess("test-job", "false", "false", nil)
	require.NoError(t, s.Start())
	require.Eventually(t, func() bool { return s.Status() == Errored }, 5*time.Second, 10*time.Millisecond)
	require.Error(t, s.Err())
}

func TestSubprocessStartFailsTwice(t *testing.T) {
	s := NewSubprocess("test-job", "true", "true", nil)
	require.NoError(t, s.Start())
	require.Error(t, s.Start())
}

func TestSubprocessStopTerminatesChild(t *testing.T) {
	s := NewSubprocess("test-job", "sleeper", "sleep", []string{"60"})
	require.NoError(t, s.Start())
	require.Equal(t, Running, s.Status())

	start := time.Now()
	s.Stop(Errored)
	require.Less(t, time.Since(start), 10*time.Second)
	require.NotEqual(t, Running, s.Status())
}

func TestSubprocessStopOnStoppedProcessIsNoop(t *testing.T) {
	s := NewSubprocess("test-job", "true", "true", nil)
	require.NoError(t, s.Start())
	require.Eventually(t, func() bool { return s.Status() == Finished }, 5*time.Second, 10*time.Millisecond)
	s.Stop(Finished)
	s.Stop(Finished)
	require.Equal(t, Finished, s.Status())
}

func TestSubprocessCombinedOutput(t *testing.T) {
	s := NewSubprocess("test-job", "echoer", "sh", []string{"-c", "echo out; echo err 1>&2"})
	r, err := s.CombinedOutput()
	require.NoError(t, err)
	require.NoError(t, s.Start())

	var lines []string
	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		lines = append(lines, scanner.Text())
	}
	require.ElementsMatch(t, []string{"out", "err"}, lines)
}

func TestPolitelyWaitStopWaitsForCleanExit(t *testing.T) {
	s := NewSubprocess("test-job", "slowexit", "sh", []string{"-c", "sleep 0.2"})
	require.NoError(t, s.Start())

	p := PolitelyWait{s}
	p.Stop(Finished)
	require.Equal(t, Finished, s.Status())
	require.NoError(t, s.Err())
}

func TestLoopRunsUntilStopped(t *testing.T) {
	var passes int64
	l := &Loop{
		JobID:    "test-job",
		Name:     "counter",
		Interval: 5 * time.Millisecond,
		RunOnce: func() error {
			atomic.AddInt64(&passes, 1)
			return nil
		},
	}
	require.NoError(t, l.Start())
	require.Equal(t, Running, l.Status())
	require.Eventually(t, func() bool { return atomic.LoadInt64(&passes) >= 3 }, 5*time.Second, time.Millisecond)

	l.Stop(Finished)
	require.Equal(t, Finished, l.Status())
}

func TestLoopErrorStopsWhenNotContinuing(t *testing.T) {
	l := &Loop{
		JobID:    "test-job",
		Name:     "failing",
		Interval: time.Millisecond,
		RunOnce:  func() error { return fmt.Errorf("boom") },
	}
	require.NoError(t, l.Start())
	require.Eventually(t, func() bool { return l.Status() == Errored }, 5*time.Second, time.Millisecond)
}

func TestLoopContinuesOnErrorWhenAsked(t *testing.T) {
	var passes int64
	l := &Loop{
		JobID:           "test-job",
		Name:            "stubborn",
		Interval:        time.Millisecond,
		ContinueOnError: true,
		RunOnce: func() error {
			atomic.AddInt64(&passes, 1)
			return fmt.Errorf("boom")
		},
	}
	require.NoError(t, l.Start())
	require.Eventually(t, func() bool { return atomic.LoadInt64(&passes) >= 3 }, 5*time.Second, time.Millisecond)
	l.Stop(Finished)
	require.Equal(t, Finished, l.Status())
}

func TestLoopPostStopRunsFinalPass(t *testing.T) {
	var finalRan atomic.Bool
	l := &Loop{
		JobID:    "test-job",
		Name:     "flusher",
		Interval: time.Millisecond,
		RunOnce:  func() error { return nil },
		PostStop: func() { finalRan.Store(true) },
	}
	require.NoError(t, l.Start())
	l.Stop(Finished)
	require.True(t, finalRan.Load())
}
