package worker

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/eleven/artcache/pkg/errors"
)

func startedPool(t *testing.T, cfg Config) *Pool {
	t.Helper()
	p := NewPool(cfg, nil)
	require.NoError(t, p.Start())
	t.Cleanup(func() { _ = p.Stop(context.Background()) })
	return p
}

func TestPool_RunsJobs(t *testing.T) {
	p := startedPool(t, Config{Workers: 3, QueueSize: 16})

	var ran atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		require.NoError(t, p.Submit(func(ctx context.Context) {
			defer wg.Done()
			ran.Add(1)
		}))
	}
	wg.Wait()

	assert.Equal(t, int32(10), ran.Load())
	assert.Eventually(t, func() bool { return p.Stats().Completed == 10 }, time.Second, 5*time.Millisecond)
	assert.Equal(t, uint64(10), p.Stats().Submitted)
}

func TestPool_RejectsWhenSaturated(t *testing.T) {
	p := startedPool(t, Config{Workers: 1, QueueSize: 1})

	release := make(chan struct{})
	running := make(chan struct{})
	require.NoError(t, p.Submit(func(ctx context.Context) {
		close(running)
		<-release
	}))
	<-running

	// the single queue slot
	require.NoError(t, p.Submit(func(ctx context.Context) {}))

	err := p.Submit(func(ctx context.Context) {})
	require.Error(t, err)
	assert.True(t, errors.IsCode(err, errors.ErrCodeWorkerBusy))
	assert.Equal(t, uint64(1), p.Stats().Rejected)

	close(release)
}

func TestPool_SubmitBeforeStartAndAfterStop(t *testing.T) {
	p := NewPool(Config{}, nil)

	err := p.Submit(func(ctx context.Context) {})
	assert.True(t, errors.IsCode(err, errors.ErrCodeComponentStopped))

	require.NoError(t, p.Start())
	assert.True(t, errors.IsCode(p.Start(), errors.ErrCodeAlreadyStarted))

	require.NoError(t, p.Stop(context.Background()))
	require.NoError(t, p.Stop(context.Background()))

	err = p.Submit(func(ctx context.Context) {})
	assert.True(t, errors.IsCode(err, errors.ErrCodeComponentStopped))
	assert.True(t, errors.IsCode(p.Start(), errors.ErrCodeComponentStopped))
}

func TestPool_StopCancelsRunningJobs(t *testing.T) {
	p := NewPool(Config{Workers: 1}, nil)
	require.NoError(t, p.Start())

	observed := make(chan error, 1)
	started := make(chan struct{})
	require.NoError(t, p.Submit(func(ctx context.Context) {
		close(started)
		<-ctx.Done()
		observed <- ctx.Err()
	}))
	<-started

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	require.NoError(t, p.Stop(ctx))
	assert.ErrorIs(t, <-observed, context.Canceled)
}

func TestPool_RecoversPanics(t *testing.T) {
	p := startedPool(t, Config{Workers: 1})

	require.NoError(t, p.Submit(func(ctx context.Context) { panic("bad cover") }))

	done := make(chan struct{})
	require.NoError(t, p.Submit(func(ctx context.Context) { close(done) }))

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("worker did not survive a panicking job")
	}
	assert.Eventually(t, func() bool { return p.Stats().Panics == 1 }, time.Second, 5*time.Millisecond)
}

func TestNewPool_Defaults(t *testing.T) {
	p := NewPool(Config{}, nil)
	assert.Equal(t, 4, p.Stats().Workers)
	assert.Equal(t, 64, cap(p.queue))
}
