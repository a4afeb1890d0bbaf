package pool_test

import (
	"context"
	"sync"
	"testing"
	"time"

	pool "github.com/posidoni/resource-pool"
	"github.com/stretchr/testify/require"
)

// TestWaiterOrdering is S5: three concurrent acquirers enqueued in order
// while the single object is held are woken in that same order, one per
// release.
func TestWaiterOrdering(t *testing.T) {
	mgr := newTestManager(0, 0)
	p := buildPool(t, mgr, func(b *pool.Builder[int]) *pool.Builder[int] {
		return b.MinIdle(1).MaxSize(1)
	})

	ctx := context.Background()
	held, err := p.Get(ctx)
	require.NoError(t, err)

	var order []string
	var mu sync.Mutex
	record := func(name string) {
		mu.Lock()
		order = append(order, name)
		mu.Unlock()
	}

	started := make(chan struct{}, 3)
	var wg sync.WaitGroup
	acquire := func(name string) {
		defer wg.Done()
		started <- struct{}{}
		g, err := p.Get(ctx)
		require.NoError(t, err)
		record(name)
		g.Release()
	}

	wg.Add(3)
	go acquire("A")
	<-started
	time.Sleep(20 * time.Millisecond) // let A enqueue first
	go acquire("B")
	<-started
	time.Sleep(20 * time.Millisecond)
	go acquire("C")
	<-started
	time.Sleep(20 * time.Millisecond)

	require.Equal(t, 3, p.State().Waiters)

	held.Release()
	wg.Wait()

	require.Equal(t, []string{"A", "B", "C"}, order)
}

// TestWaiterCancellation is S6: a waiter whose context is cancelled while
// parked is removed from the queue, and the next release returns the
// object to idle rather than handing it to the cancelled waiter.
func TestWaiterCancellation(t *testing.T) {
	mgr := newTestManager(0, 0)
	p := buildPool(t, mgr, func(b *pool.Builder[int]) *pool.Builder[int] {
		return b.MinIdle(2).MaxSize(2)
	})

	g1, err := p.Get(context.Background())
	require.NoError(t, err)
	g2, err := p.Get(context.Background())
	require.NoError(t, err)

	cancelCtx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() {
		_, err := p.Get(cancelCtx)
		errCh <- err
	}()

	require.Eventually(t, func() bool { return p.State().Waiters == 1 }, time.Second, 5*time.Millisecond)

	cancel()
	err = <-errCh
	require.Error(t, err)

	require.Eventually(t, func() bool { return p.State().Waiters == 0 }, time.Second, 5*time.Millisecond)

	g1.Release()
	g2.Release()

	state := p.State()
	require.Equal(t, 2, state.Idle)
	require.Equal(t, 0, state.Waiters)
}
