package jobs

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestQueueProcessesJobs(t *testing.T) {
	var processed int32
	var wg sync.WaitGroup
	wg.Add(3)
	q := NewQueue("test", func(ctx context.Context, job Job) error {
		atomic.AddInt32(&processed, 1)
		wg.Done()
		return nil
	}, QueueConfig{Workers: 2})
	q.Start(context.Background())
	defer q.Stop()

	for i := 0; i < 3; i++ {
		require.NoError(t, q.TryEnqueue(Job{ID: "job", Type: "audit"}))
	}
	wg.Wait()
	assert.EqualValues(t, 3, atomic.LoadInt32(&processed))
}

func TestQueueTryEnqueueFull(t *testing.T) {
	block := make(chan struct{})
	q := NewQueue("full", func(ctx context.Context, job Job) error {
		<-block
		return nil
	}, QueueConfig{Workers: 1, BufferSize: 1})
	q.Start(context.Background())

	require.NoError(t, q.TryEnqueue(Job{ID: "1"}))
	// the worker may or may not have taken the first job yet
	var full error
	for i := 0; i < 3 && full == nil; i++ {
		full = q.TryEnqueue(Job{ID: "n"})
	}
	assert.True(t, errors.Is(full, ErrQueueFull))

	close(block)
	q.Stop()
}

func TestQueueRejectsWhenClosed(t *testing.T) {
	q := NewQueue("idle", func(ctx context.Context, job Job) error { return nil }, QueueConfig{})
	assert.ErrorIs(t, q.TryEnqueue(Job{ID: "1"}), ErrQueueClosed)

	q.Start(context.Background())
	q.Stop()
	assert.ErrorIs(t, q.TryEnqueue(Job{ID: "2"}), ErrQueueClosed)
	q.Stop()
}

func TestQueueStopDrainsBufferedJobs(t *testing.T) {
	var processed int32
	release := make(chan struct{})
	q := NewQueue("drain", func(ctx context.Context, job Job) error {
		if job.ID == "first" {
			<-release
		}
		atomic.AddInt32(&processed, 1)
		return nil
	}, QueueConfig{Workers: 1, BufferSize: 4})
	q.Start(context.Background())

	require.NoError(t, q.TryEnqueue(Job{ID: "first"}))
	require.Eventually(t, func() bool { return q.Pending() == 0 }, time.Second, time.Millisecond)
	require.NoError(t, q.TryEnqueue(Job{ID: "second"}))
	require.NoError(t, q.TryEnqueue(Job{ID: "third"}))

	go func() {
		time.Sleep(10 * time.Millisecond)
		close(release)
	}()
	q.Stop()
	assert.EqualValues(t, 3, atomic.LoadInt32(&processed))
	assert.EqualValues(t, 3, q.Stats().Processed)
}

func TestQueueRetriesThenGivesUp(t *testing.T) {
	var calls int32
	var gaveUp Job
	done := make(chan struct{})
	q := NewQueue("retry", func(ctx context.Context, job Job) error {
		atomic.AddInt32(&calls, 1)
		return errors.New("db down")
	}, QueueConfig{
		MaxRetries: 2,
		RetryDelay: time.Millisecond,
		OnGiveUp: func(job Job, err error) {
			gaveUp = job
			close(done)
		},
	})
	q.Start(context.Background())
	defer q.Stop()

	require.NoError(t, q.TryEnqueue(Job{ID: "a-1", Type: "audit.write"}))

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("job was not given up")
	}
	assert.EqualValues(t, 3, atomic.LoadInt32(&calls))
	assert.Equal(t, "a-1", gaveUp.ID)
	assert.Equal(t, 2, gaveUp.Attempt)
	stats := q.Stats()
	assert.EqualValues(t, 2, stats.Retried)
	assert.EqualValues(t, 1, stats.Failed)
}

func TestQueueStopsWithContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	q := NewQueue("ctx", func(ctx context.Context, job Job) error { return nil }, QueueConfig{})
	q.Start(ctx)
	cancel()

	require.Eventually(t, func() bool {
		return errors.Is(q.TryEnqueue(Job{ID: "late"}), ErrQueueClosed)
	}, time.Second, time.Millisecond)
}
