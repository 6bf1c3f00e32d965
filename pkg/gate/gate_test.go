package gate

import (
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// waitForWaiters polls until n callers are queued.
func waitForWaiters(t *testing.T, g *Gate, n int) {
	t.Helper()
	require.Eventually(t, func() bool { return g.Waiting() == n }, time.Second, time.Millisecond)
}

func TestGate_FIFOOrder(t *testing.T) {
	g := New()
	release := g.Acquire()

	var (
		mu    sync.Mutex
		order []int
		wg    sync.WaitGroup
	)
	for i := 0; i < 5; i++ {
		wg.Add(1)
		go func(id int) {
			defer wg.Done()
			r := g.Acquire()
			mu.Lock()
			order = append(order, id)
			mu.Unlock()
			r()
		}(i)
		// Queue them one at a time so arrival order is known.
		waitForWaiters(t, g, i+1)
	}

	release()
	wg.Wait()

	assert.Equal(t, []int{0, 1, 2, 3, 4}, order)
	assert.False(t, g.Held())
}

func TestGate_NoOverlap(t *testing.T) {
	g := New()
	var (
		inside  int32
		overlap int32
		wg      sync.WaitGroup
	)
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			release := g.Acquire()
			defer release()
			if atomic.AddInt32(&inside, 1) > 1 {
				atomic.StoreInt32(&overlap, 1)
			}
			time.Sleep(100 * time.Microsecond)
			atomic.AddInt32(&inside, -1)
		}()
	}
	wg.Wait()
	assert.Zero(t, atomic.LoadInt32(&overlap), "two owners held the gate at once")
}

func TestGate_ReleaseIsIdempotent(t *testing.T) {
	g := New()
	release := g.Acquire()
	release()
	release()

	r2 := g.Acquire()
	// A stale release from the first owner must not free the second owner's hold.
	release()
	assert.True(t, g.Held())
	r2()
	assert.False(t, g.Held())
}

func TestGate_HandsOffToNextWaiter(t *testing.T) {
	g := New()
	release := g.Acquire()

	acquired := make(chan func())
	go func() { acquired <- g.Acquire() }()
	waitForWaiters(t, g, 1)

	release()
	r2 := <-acquired
	assert.True(t, g.Held(), "ownership passes without the gate going free")
	assert.Zero(t, g.Waiting())
	r2()
	assert.False(t, g.Held())
}
