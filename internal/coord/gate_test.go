package coord

import (
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestStepEntriesRunConcurrently(t *testing.T) {
	var g Gate
	var inFlight atomic.Int32
	var maxSeen atomic.Int32

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = g.EnterStep(func() error {
				n := inFlight.Add(1)
				for {
					cur := maxSeen.Load()
					if n <= cur || maxSeen.CompareAndSwap(cur, n) {
						break
					}
				}
				time.Sleep(time.Millisecond)
				inFlight.Add(-1)
				return nil
			})
		}()
	}
	wg.Wait()

	t.Logf("max concurrent steps observed: %d", maxSeen.Load())
	require.Greater(t, maxSeen.Load(), int32(1), "step entries should overlap")
}

func TestRebuildExcludesSteps(t *testing.T) {
	var g Gate
	var inFlight atomic.Int32
	var violated atomic.Bool

	var wg sync.WaitGroup
	for i := 0; i < 6; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = g.EnterStep(func() error {
				if inFlight.Load() != 0 {
					violated.Store(true)
				}
				time.Sleep(200 * time.Microsecond)
				return nil
			})
		}()
	}

	wg.Add(1)
	go func() {
		defer wg.Done()
		_ = g.EnterRebuild(func() error {
			inFlight.Add(1)
			time.Sleep(2 * time.Millisecond)
			inFlight.Add(-1)
			return nil
		})
	}()

	wg.Wait()
	require.False(t, violated.Load(), "a step observed a rebuild in flight")
}

func TestEpochAdvancesPerEntry(t *testing.T) {
	var g Gate
	start := g.Epoch()
	require.NoError(t, g.EnterStep(func() error { return nil }))
	require.NoError(t, g.EnterRebuild(func() error { return nil }))
	require.Equal(t, start+2, g.Epoch())
}
