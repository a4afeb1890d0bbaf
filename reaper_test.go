package pool_test

import (
	"context"
	"testing"
	"time"

	pool "github.com/posidoni/resource-pool"
	"github.com/stretchr/testify/require"
)

// TestIdleTimeoutReap is S3: min_idle=2, max_size=8, idle_timeout=300ms,
// reaper_rate=300ms. Acquire-and-release 8 in quick succession (leaving
// idle=4 under the even-valid/div-by-4-closed filtering of S1), then wait
// past two reap ticks. Idle settles back to the min_idle floor.
func TestIdleTimeoutReap(t *testing.T) {
	mgr := newTestManager(2, 4)
	p := buildPool(t, mgr, func(b *pool.Builder[int]) *pool.Builder[int] {
		return b.MinIdle(2).MaxSize(8).AlwaysCheck(true).
			IdleTimeout(300 * time.Millisecond).
			ReaperRate(300 * time.Millisecond)
	})

	ctx := context.Background()
	guards := make([]*pool.Guard[int], 0, 8)
	for i := 0; i < 8; i++ {
		g, err := p.Get(ctx)
		require.NoError(t, err)
		guards = append(guards, g)
	}
	for _, g := range guards {
		g.Release()
	}

	state := p.State()
	require.Equal(t, 4, state.Idle)

	require.Eventually(t, func() bool {
		s := p.State()
		return s.Idle == 2 && s.Live == 2
	}, 2*time.Second, 50*time.Millisecond)
}

// TestMaxLifetimeReap is S4: identical shape to S3 but gated on age rather
// than time-since-last-use — objects are reaped regardless of how recently
// they were used, down to the min_idle floor.
func TestMaxLifetimeReap(t *testing.T) {
	mgr := newTestManager(2, 4)
	p := buildPool(t, mgr, func(b *pool.Builder[int]) *pool.Builder[int] {
		return b.MinIdle(2).MaxSize(8).AlwaysCheck(true).
			MaxLifetime(300 * time.Millisecond).
			ReaperRate(300 * time.Millisecond)
	})

	ctx := context.Background()
	guards := make([]*pool.Guard[int], 0, 8)
	for i := 0; i < 8; i++ {
		g, err := p.Get(ctx)
		require.NoError(t, err)
		guards = append(guards, g)
	}
	for _, g := range guards {
		g.Release()
	}

	state := p.State()
	require.Equal(t, 4, state.Idle)

	require.Eventually(t, func() bool {
		s := p.State()
		return s.Idle == 2 && s.Live == 2
	}, 2*time.Second, 50*time.Millisecond)
}

// TestReaperRespectsMinIdleFloor confirms the reaper never reduces live
// below min_idle, keeping the youngest reapable candidates when an entire
// sweep's worth of candidates would otherwise breach the floor (P4).
func TestReaperRespectsMinIdleFloor(t *testing.T) {
	mgr := newTestManager(0, 0)
	p := buildPool(t, mgr, func(b *pool.Builder[int]) *pool.Builder[int] {
		return b.MinIdle(3).MaxSize(3).
			IdleTimeout(50 * time.Millisecond).
			ReaperRate(50 * time.Millisecond)
	})

	time.Sleep(300 * time.Millisecond)

	state := p.State()
	require.Equal(t, 3, state.Live)
	require.Equal(t, 3, state.Idle)
}
