package maintenance

import (
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

// TestQueueLoadMeter reproduces threadpool-test.cc's QueueLoadMeter
// scenario (spec §8 scenario 6): 3 workers, 100ms overload threshold, 6
// tasks each sleeping 200ms. The queue should read overloaded shortly after
// submission and clear again once every task has drained.
func TestQueueLoadMeter(t *testing.T) {
	p := NewPool(3, 100*time.Millisecond)
	defer p.Shutdown()

	var wg sync.WaitGroup
	wg.Add(6)
	for i := 0; i < 6; i++ {
		require.NoError(t, p.Submit(func() {
			time.Sleep(200 * time.Millisecond)
			wg.Done()
		}))
	}

	time.Sleep(110 * time.Millisecond)
	require.True(t, p.QueueOverloaded(), "queue head should have aged past the threshold")

	wg.Wait()
	time.Sleep(150 * time.Millisecond) // let recentSamples age out of the window
	require.False(t, p.QueueOverloaded(), "queue should settle once drained and the sample window ages out")
}

// TestSerialTokenOrdering checks spec §8's "tasks submitted in order start
// in order" invariant for a SERIAL token.
func TestSerialTokenOrdering(t *testing.T) {
	p := NewPool(4, time.Second)
	defer p.Shutdown()

	tok := p.NewToken(Serial)
	var mu sync.Mutex
	var order []int
	for i := 0; i < 5; i++ {
		i := i
		require.NoError(t, tok.Submit(func() {
			time.Sleep(time.Millisecond)
			mu.Lock()
			order = append(order, i)
			mu.Unlock()
		}))
	}
	tok.Wait()

	mu.Lock()
	defer mu.Unlock()
	require.Equal(t, []int{0, 1, 2, 3, 4}, order)
}

// TestConcurrentTokenOutstanding checks that a CONCURRENT token lets its own
// tasks overlap and Wait still blocks until all of them finish.
func TestConcurrentTokenOutstanding(t *testing.T) {
	p := NewPool(4, time.Second)
	defer p.Shutdown()

	tok := p.NewToken(Concurrent)
	var running int32
	var maxRunning int32
	for i := 0; i < 4; i++ {
		require.NoError(t, tok.Submit(func() {
			n := atomic.AddInt32(&running, 1)
			for {
				old := atomic.LoadInt32(&maxRunning)
				if n <= old || atomic.CompareAndSwapInt32(&maxRunning, old, n) {
					break
				}
			}
			time.Sleep(20 * time.Millisecond)
			atomic.AddInt32(&running, -1)
		}))
	}
	tok.Wait()
	require.Greater(t, atomic.LoadInt32(&maxRunning), int32(1), "concurrent token tasks should overlap")
}

func TestTokenCloseAndShutdownIdempotent(t *testing.T) {
	p := NewPool(2, time.Second)
	defer p.Shutdown()

	tok := p.NewToken(Concurrent)
	require.NoError(t, tok.Submit(func() { time.Sleep(time.Millisecond) }))
	tok.Shutdown()
	require.Equal(t, Quiesced, tok.State())

	// Re-Close and re-Shutdown on an already-quiesced token are no-ops.
	tok.Close()
	require.Equal(t, Quiesced, tok.State())
	tok.Shutdown()
	require.Equal(t, Quiesced, tok.State())

	err := tok.Submit(func() {})
	require.Error(t, err)
}

func TestTokenCloseLetsQueuedWorkDrain(t *testing.T) {
	p := NewPool(1, time.Second)
	defer p.Shutdown()

	tok := p.NewToken(Serial)
	var ran int32
	for i := 0; i < 3; i++ {
		require.NoError(t, tok.Submit(func() {
			time.Sleep(5 * time.Millisecond)
			atomic.AddInt32(&ran, 1)
		}))
	}
	tok.Close() // stop accepting new work, don't block
	require.Error(t, tok.Submit(func() {}))
	tok.Wait()
	require.EqualValues(t, 3, atomic.LoadInt32(&ran))
}
