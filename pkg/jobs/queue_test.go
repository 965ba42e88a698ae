package jobs

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestQueueProcessesJobs(t *testing.T) {
	var processed int32
	q := NewQueue("test", func(_ context.Context, job Job) error {
		atomic.AddInt32(&processed, 1)
		return nil
	}, QueueConfig{Workers: 2})

	require.Error(t, q.Enqueue(Job{ID: "early"}))
	assert.False(t, q.TryEnqueue(Job{ID: "early"}))

	q.Start(context.Background())
	defer q.Stop()
	assert.True(t, q.Started())

	for i := 0; i < 5; i++ {
		require.NoError(t, q.Enqueue(Job{ID: "job"}))
	}
	require.Eventually(t, func() bool { return atomic.LoadInt32(&processed) == 5 }, time.Second, 5*time.Millisecond)
}

func TestQueueRetriesFailedJobs(t *testing.T) {
	var attempts int32
	q := NewQueue("retry", func(_ context.Context, job Job) error {
		if atomic.AddInt32(&attempts, 1) < 3 {
			return errors.New("transient")
		}
		return nil
	}, QueueConfig{MaxRetries: 3, RetryDelay: time.Millisecond})
	q.Start(context.Background())
	defer q.Stop()

	require.NoError(t, q.Enqueue(Job{ID: "flaky"}))
	require.Eventually(t, func() bool { return atomic.LoadInt32(&attempts) == 3 }, time.Second, 5*time.Millisecond)
}

func TestQueueTryEnqueueWhenFull(t *testing.T) {
	block := make(chan struct{})
	q := NewQueue("full", func(ctx context.Context, job Job) error {
		select {
		case <-block:
		case <-ctx.Done():
		}
		return nil
	}, QueueConfig{Workers: 1, BufferSize: 1})
	q.Start(context.Background())

	accepted := 0
	for i := 0; i < 5; i++ {
		if q.TryEnqueue(Job{ID: "job"}) {
			accepted++
		}
	}
	assert.LessOrEqual(t, accepted, 2)
	assert.GreaterOrEqual(t, accepted, 1)

	close(block)
	q.Stop()
	assert.False(t, q.TryEnqueue(Job{ID: "late"}))
}

func TestQueueGivesUpOnPermanentFailure(t *testing.T) {
	permanent := errors.New("invalid payload")
	var attempts int32
	gaveUp := make(chan Job, 1)
	q := NewQueue("permanent", func(context.Context, Job) error {
		atomic.AddInt32(&attempts, 1)
		return permanent
	}, QueueConfig{
		MaxRetries: 5,
		RetryDelay: time.Millisecond,
		Retryable:  func(err error) bool { return !errors.Is(err, permanent) },
		OnGiveUp:   func(job Job, _ error) { gaveUp <- job },
	})
	q.Start(context.Background())
	defer q.Stop()

	require.NoError(t, q.Enqueue(Job{Type: "run"}))
	select {
	case job := <-gaveUp:
		assert.NotEmpty(t, job.ID)
		assert.Equal(t, 0, job.Attempt)
	case <-time.After(time.Second):
		t.Fatal("job was never given up")
	}
	assert.Equal(t, int32(1), atomic.LoadInt32(&attempts))
}

func TestQueueZeroRetries(t *testing.T) {
	var attempts int32
	gaveUp := make(chan struct{}, 1)
	q := NewQueue("once", func(context.Context, Job) error {
		atomic.AddInt32(&attempts, 1)
		return errors.New("transient")
	}, QueueConfig{RetryDelay: time.Millisecond, OnGiveUp: func(Job, error) { gaveUp <- struct{}{} }})
	q.Start(context.Background())
	defer q.Stop()

	require.NoError(t, q.Enqueue(Job{ID: "single"}))
	select {
	case <-gaveUp:
	case <-time.After(time.Second):
		t.Fatal("job was never given up")
	}
	assert.Equal(t, int32(1), atomic.LoadInt32(&attempts))
}

func TestQueueJobTimeout(t *testing.T) {
	deadline := make(chan bool, 1)
	q := NewQueue("timeout", func(ctx context.Context, _ Job) error {
		_, ok := ctx.Deadline()
		deadline <- ok
		return nil
	}, QueueConfig{JobTimeout: time.Minute})
	q.Start(context.Background())
	defer q.Stop()

	require.NoError(t, q.Enqueue(Job{ID: "bounded"}))
	assert.True(t, <-deadline)
}
