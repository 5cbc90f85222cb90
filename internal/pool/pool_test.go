package pool

import (
	"sync/atomic"
	"testing"
	"time"

	"github.com/brynm0/boidnode/internal/arena"
	"github.com/stretchr/testify/require"
)

func TestSaturationCounterExact(t *testing.T) {
	const n = 64
	p, err := Start(Config{WorkerCount: 4, MaxWorkOrders: 10 * n}, nil)
	require.NoError(t, err)
	defer p.Shutdown(time.Second)

	var counter atomic.Int64
	for i := 0; i < 10*n; i++ {
		err := p.AddWork(func(data any, scratch *arena.Arena) {
			counter.Add(1)
		}, nil)
		require.NoError(t, err)
	}

	require.NoError(t, p.WaitForCompletion(5*time.Second))
	require.Equal(t, int64(10*n), counter.Load())
}

func TestWorkerSpinBoundedUnderInterleavedSubmission(t *testing.T) {
	p, err := Start(Config{WorkerCount: 2, MaxWorkOrders: 256, SpinThreshold: 50}, nil)
	require.NoError(t, err)
	defer p.Shutdown(time.Second)

	for round := 0; round < 20; round++ {
		var done atomic.Bool
		require.NoError(t, p.AddWork(func(data any, scratch *arena.Arena) {
			done.Store(true)
		}, nil))
		require.NoError(t, p.WaitForCompletion(time.Second))
		require.True(t, done.Load())

		diag := p.Diagnostics()
		for id, s := range diag.WorkerSpins {
			require.LessOrEqualf(t, s, int64(10*50), "worker %d spun %d times, threshold is %d", id, s, 10*50)
		}
	}
}

func TestShutdownWithPendingItemsDoesNotCrash(t *testing.T) {
	p, err := Start(Config{WorkerCount: 2, MaxWorkOrders: 64}, nil)
	require.NoError(t, err)

	for i := 0; i < 64; i++ {
		_ = p.AddWork(func(data any, scratch *arena.Arena) {
			time.Sleep(time.Millisecond)
		}, nil)
	}

	p.Shutdown(50 * time.Millisecond)
}

func TestAddWorkOverflowReturnsResourceExhausted(t *testing.T) {
	p, err := Start(Config{WorkerCount: 1, MaxWorkOrders: 1}, nil)
	require.NoError(t, err)
	defer p.Shutdown(time.Second)

	var block atomic.Bool
	block.Store(true)
	require.NoError(t, p.AddWork(func(data any, scratch *arena.Arena) {
		for block.Load() {
			time.Sleep(time.Microsecond)
		}
	}, nil))

	for i := 0; i < 4; i++ {
		_ = p.AddWork(func(data any, scratch *arena.Arena) {}, nil)
	}

	var sawErr error
	for i := 0; i < 8 && sawErr == nil; i++ {
		if err := p.AddWork(func(data any, scratch *arena.Arena) {}, nil); err != nil {
			sawErr = err
		}
	}
	block.Store(false)
	require.ErrorIs(t, sawErr, ErrResourceExhausted)
}
