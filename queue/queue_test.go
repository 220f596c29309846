package queue

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestEnqueueRunsTask(t *testing.T) {
	q := NewInProcessQueue(2, 0)
	defer q.Shutdown(context.Background())

	done := make(chan struct{})
	_, err := q.Enqueue("transcoding", func(ctx context.Context) error {
		close(done)
		return nil
	})
	require.NoError(t, err)

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("task never ran")
	}
}

func TestConcurrencyLimitPerQueue(t *testing.T) {
	q := NewInProcessQueue(2, 0)
	defer q.Shutdown(context.Background())

	var running, peak int32
	release := make(chan struct{})
	var wg sync.WaitGroup
	for i := 0; i < 6; i++ {
		wg.Add(1)
		_, err := q.Enqueue("transcoding", func(ctx context.Context) error {
			defer wg.Done()
			n := atomic.AddInt32(&running, 1)
			for {
				p := atomic.LoadInt32(&peak)
				if n <= p || atomic.CompareAndSwapInt32(&peak, p, n) {
					break
				}
			}
			<-release
			atomic.AddInt32(&running, -1)
			return nil
		})
		require.NoError(t, err)
	}

	time.Sleep(100 * time.Millisecond)
	close(release)
	wg.Wait()
	require.LessOrEqual(t, atomic.LoadInt32(&peak), int32(2))
}

func TestRevokePendingTaskNeverRuns(t *testing.T) {
	q := NewInProcessQueue(1, 0)
	defer q.Shutdown(context.Background())

	release := make(chan struct{})
	_, err := q.Enqueue("transcoding", func(ctx context.Context) error {
		<-release
		return nil
	})
	require.NoError(t, err)

	var ran int32
	id, err := q.Enqueue("transcoding", func(ctx context.Context) error {
		atomic.StoreInt32(&ran, 1)
		return nil
	})
	require.NoError(t, err)

	q.Revoke(id)
	close(release)

	require.NoError(t, q.Shutdown(context.Background()))
	require.Equal(t, int32(0), atomic.LoadInt32(&ran))
}

func TestRevokeRunningTaskCancelsContext(t *testing.T) {
	q := NewInProcessQueue(1, 0)
	defer q.Shutdown(context.Background())

	started := make(chan struct{})
	cancelled := make(chan struct{})
	id, err := q.Enqueue("transcoding", func(ctx context.Context) error {
		close(started)
		<-ctx.Done()
		close(cancelled)
		return ctx.Err()
	})
	require.NoError(t, err)

	<-started
	q.Revoke(id)

	select {
	case <-cancelled:
	case <-time.After(5 * time.Second):
		t.Fatal("task context never cancelled")
	}
}

func TestSoftTimeLimitCancelsContext(t *testing.T) {
	q := NewInProcessQueue(1, 50*time.Millisecond)
	defer q.Shutdown(context.Background())

	expired := make(chan error, 1)
	_, err := q.Enqueue("transcoding", func(ctx context.Context) error {
		<-ctx.Done()
		expired <- ctx.Err()
		return ctx.Err()
	})
	require.NoError(t, err)

	select {
	case err := <-expired:
		require.ErrorIs(t, err, context.DeadlineExceeded)
	case <-time.After(5 * time.Second):
		t.Fatal("soft time limit never fired")
	}
}

func TestShutdownWaitsForRunningTasks(t *testing.T) {
	q := NewInProcessQueue(1, 0)

	var finished int32
	_, err := q.Enqueue("transcoding", func(ctx context.Context) error {
		time.Sleep(50 * time.Millisecond)
		atomic.StoreInt32(&finished, 1)
		return nil
	})
	require.NoError(t, err)

	require.NoError(t, q.Shutdown(context.Background()))
	require.Equal(t, int32(1), atomic.LoadInt32(&finished))

	_, err = q.Enqueue("transcoding", func(ctx context.Context) error { return nil })
	require.Error(t, err)
}

func TestQueuesAreIndependent(t *testing.T) {
	q := NewInProcessQueue(1, 0)
	defer q.Shutdown(context.Background())

	blocked := make(chan struct{})
	_, err := q.Enqueue("slow", func(ctx context.Context) error {
		<-blocked
		return nil
	})
	require.NoError(t, err)

	done := make(chan struct{})
	_, err = q.Enqueue("fast", func(ctx context.Context) error {
		close(done)
		return nil
	})
	require.NoError(t, err)

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("fast queue starved by slow queue")
	}
	close(blocked)
}
