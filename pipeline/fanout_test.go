//go:build unix

package pipeline

import (
	"io"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/sawmill-video/sawmill/executor"
)

func makePipes(t *testing.T, n int) []string {
	t.Helper()
	dir := t.TempDir()
	pipes := make([]string, n)
	for i := range pipes {
		path, err := createPipe(dir)
		require.NoError(t, err)
		pipes[i] = path
	}
	return pipes
}

func TestFanoutDuplicatesStream(t *testing.T) {
	pipes := makePipes(t, 3)
	fanout := NewFanout("some-job-id", pipes[0], pipes[1:])
	require.NoError(t, fanout.Start())

	payload := []byte("mpegts bytes go here")
	go func() {
		in, err := os.OpenFile(pipes[0], os.O_WRONLY, 0)
		if err != nil {
			return
		}
		defer in.Close()
		_, _ = in.Write(payload)
	}()

	results := make(chan []byte, 2)
	for _, path := range pipes[1:] {
		go func(path string) {
			out, err := os.Open(path)
			if err != nil {
				results <- nil
				return
			}
			defer out.Close()
			data, _ := io.ReadAll(out)
			results <- data
		}(path)
	}

	for i := 0; i < 2; i++ {
		select {
		case data := <-results:
			require.Equal(t, payload, data)
		case <-time.After(5 * time.Second):
			t.Fatal("fanout output never arrived")
		}
	}

	require.Eventually(t, func() bool {
		return fanout.Status() == executor.Finished
	}, 5*time.Second, 10*time.Millisecond)
	fanout.Stop(executor.Finished)
}

func TestFanoutErrorsWhenAReaderDies(t *testing.T) {
	pipes := makePipes(t, 2)
	fanout := NewFanout("some-job-id", pipes[0], pipes[1:])
	require.NoError(t, fanout.Start())

	// open then immediately close the reader, simulating a dead packager
	readerReady := make(chan struct{})
	go func() {
		out, err := os.Open(pipes[1])
		if err == nil {
			out.Close()
		}
		close(readerReady)
	}()

	in, err := os.OpenFile(pipes[0], os.O_WRONLY, 0)
	require.NoError(t, err)
	defer in.Close()
	<-readerReady

	// keep writing until the broken pipe surfaces
	require.Eventually(t, func() bool {
		_, _ = in.Write(make([]byte, 64*1024))
		return fanout.Status() == executor.Errored
	}, 5*time.Second, 10*time.Millisecond)
}

func TestFanoutStopBeforeStartIsFinished(t *testing.T) {
	pipes := makePipes(t, 2)
	fanout := NewFanout("some-job-id", pipes[0], pipes[1:])
	fanout.Stop(executor.Finished)
	require.Equal(t, executor.Finished, fanout.Status())
}
