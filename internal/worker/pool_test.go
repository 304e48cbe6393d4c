package worker

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"inbox-hub/internal/logger"
)

func TestPoolRunsJobs(t *testing.T) {
	wp := NewWorkerPool("t1", 3, logger.Discard())
	wp.Start()
	defer wp.Stop()

	var (
		wg    sync.WaitGroup
		count atomic.Int32
	)
	for i := 0; i < 20; i++ {
		wg.Add(1)
		require.NoError(t, wp.Submit(context.Background(), func() {
			defer wg.Done()
			count.Add(1)
		}))
	}
	wg.Wait()
	assert.Equal(t, int32(20), count.Load())
}

func TestPoolBoundsConcurrency(t *testing.T) {
	wp := NewWorkerPool("t1", 2, logger.Discard())
	wp.Start()
	defer wp.Stop()

	release := make(chan struct{})
	var running, peak atomic.Int32
	job := func() {
		n := running.Add(1)
		for {
			p := peak.Load()
			if n <= p || peak.CompareAndSwap(p, n) {
				break
			}
		}
		<-release
		running.Add(-1)
	}
	// Two jobs run and two more wait in the queue.
	for i := 0; i < 4; i++ {
		require.NoError(t, wp.Submit(context.Background(), job))
	}
	require.Eventually(t, func() bool { return running.Load() == 2 }, time.Second, 5*time.Millisecond)

	// Workers busy and queue full, so the next submit waits until the deadline.
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	assert.ErrorIs(t, wp.Submit(ctx, job), context.DeadlineExceeded)

	close(release)
	assert.LessOrEqual(t, peak.Load(), int32(2))
}

func TestSubmitDoesNotWaitForRunningJob(t *testing.T) {
	wp := NewWorkerPool("t1", 1, logger.Discard())
	wp.Start()
	defer wp.Stop()

	release := make(chan struct{})
	started := make(chan struct{})
	require.NoError(t, wp.Submit(context.Background(), func() {
		close(started)
		<-release
	}))
	<-started

	ran := make(chan struct{})
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	require.NoError(t, wp.Submit(ctx, func() { close(ran) }))

	close(release)
	select {
	case <-ran:
	case <-time.After(2 * time.Second):
		t.Fatal("queued job never ran")
	}
}

func TestPoolSurvivesPanics(t *testing.T) {
	wp := NewWorkerPool("t1", 1, logger.Discard())
	wp.Start()
	defer wp.Stop()

	require.NoError(t, wp.Submit(context.Background(), func() { panic("boom") }))
	done := make(chan struct{})
	require.NoError(t, wp.Submit(context.Background(), func() { close(done) }))
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("worker did not recover from panic")
	}
}

func TestSubmitAfterStop(t *testing.T) {
	wp := NewWorkerPool("t1", 1, logger.Discard())
	wp.Start()
	wp.Stop()
	wp.Stop()
	assert.ErrorIs(t, wp.Submit(context.Background(), func() {}), ErrPoolStopped)
}

func TestSetWorkerCount(t *testing.T) {
	wp := NewWorkerPool("t1", 1, logger.Discard())
	wp.Start()
	defer wp.Stop()

	wp.SetWorkerCount(4)
	assert.Equal(t, 4, wp.Workers())

	release := make(chan struct{})
	var started sync.WaitGroup
	started.Add(4)
	for i := 0; i < 4; i++ {
		require.NoError(t, wp.Submit(context.Background(), func() {
			started.Done()
			<-release
		}))
	}
	started.Wait()
	close(release)
}
