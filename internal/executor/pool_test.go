package executor

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestPool_ExecutesSubmittedTasks(t *testing.T) {
	p := NewPool(Config{RingCapacity: 16, Workers: 4, TaskTimeout: time.Second})
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	p.Start(ctx)

	var done int32
	const n = 50
	for i := 0; i < n; i++ {
		err := p.Submit(Task{Label: "test", Fn: func(ctx context.Context) {
			atomic.AddInt32(&done, 1)
		}})
		require.NoError(t, err)
	}

	require.Eventually(t, func() bool {
		return atomic.LoadInt32(&done) == n
	}, time.Second, time.Millisecond)
}

func TestPool_TaskTimeoutDoesNotHangWorker(t *testing.T) {
	p := NewPool(Config{RingCapacity: 4, Workers: 1, TaskTimeout: 10 * time.Millisecond})
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	p.Start(ctx)

	var timedOut int32
	require.NoError(t, p.Submit(Task{Fn: func(ctx context.Context) {
		<-ctx.Done()
		atomic.AddInt32(&timedOut, 1)
	}}))

	require.Eventually(t, func() bool {
		return atomic.LoadInt32(&timedOut) == 1
	}, time.Second, time.Millisecond)

	// The worker must be free again to pick up a second task.
	var ran int32
	require.NoError(t, p.Submit(Task{Fn: func(ctx context.Context) {
		atomic.AddInt32(&ran, 1)
	}}))
	require.Eventually(t, func() bool {
		return atomic.LoadInt32(&ran) == 1
	}, time.Second, time.Millisecond)
}

func TestRing_SubmitRespectsCapacity(t *testing.T) {
	r := NewRing(2)
	// Nobody drains, so only `bufferSize` submissions should ever be
	// possible before Submit starts returning ErrRingFull.
	require.NoError(t, r.Submit(Task{}))
	require.NoError(t, r.Submit(Task{}))

	errCh := make(chan error, 1)
	go func() { errCh <- r.Submit(Task{}) }()

	select {
	case err := <-errCh:
		require.ErrorIs(t, err, ErrRingFull)
	case <-time.After(2 * time.Second):
		t.Fatal("Submit should have returned ErrRingFull instead of hanging")
	}
}
