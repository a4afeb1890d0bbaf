package pool

import (
	"context"
	"sort"
	"sync/atomic"
	"time"
)

// WeakPool is a non-owning back-reference to a Pool, modeling the source
// implementation's weak-shared-pointer handle (spec.md §9 "Background task
// lifetime"). Background tasks hold only a WeakPool so that the last
// strong handle being dropped (Pool.Close) lets the pool and its manager
// be collected; each tick the task attempts Upgrade and exits on failure.
type WeakPool[T any] struct {
	ptr atomic.Pointer[Pool[T]]
}

func newWeakPool[T any](p *Pool[T]) *WeakPool[T] {
	w := &WeakPool[T]{}
	w.ptr.Store(p)
	return w
}

// Upgrade attempts to observe the pool. ok is false once the pool has
// been closed.
func (w *WeakPool[T]) Upgrade() (p *Pool[T], ok bool) {
	p = w.ptr.Load()
	return p, p != nil
}

func (w *WeakPool[T]) clear() { w.ptr.Store(nil) }

// startBackgroundTasks launches the default reaper and GC loops, unless
// the manager implements ScheduleHookManager, in which case its hooks
// replace them entirely (spec.md §6 "Optional schedule_inner /
// garbage_collect_inner hooks").
func startBackgroundTasks[T any](ctx context.Context, p *Pool[T]) {
	if hooks, ok := p.manager.(ScheduleHookManager[T]); ok {
		p.manager.Spawn(func() { hooks.ScheduleInner(ctx, p.weak) })
		p.manager.Spawn(func() { hooks.GarbageCollectInner(ctx, p.weak) })
		return
	}
	p.manager.Spawn(func() { reaperLoop(ctx, p.weak, p.cfg.ReaperRate) })
	p.manager.Spawn(func() { gcLoop(ctx, p.weak, 6*p.cfg.ReaperRate) })
}

// reaperLoop wakes every rate and sweeps idle objects past idle_timeout or
// max_lifetime, keeping the min_idle floor (spec.md §4.5). It exits once
// the weak handle fails to upgrade.
func reaperLoop[T any](ctx context.Context, weak *WeakPool[T], rate time.Duration) {
	ticker := time.NewTicker(rate)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			p, ok := weak.Upgrade()
			if !ok {
				return
			}
			reapTick(p)
		}
	}
}

// reapTick wraps reapOnce with panic recovery: a manager's Closer.Close
// running during a sweep is the one manager callback a background task
// invokes without a caller waiting on it, so a panic there must not take
// the whole reaper goroutine down (spec.md §7's non-recovery guarantee
// only binds the synchronous caller-facing paths).
func reapTick[T any](p *Pool[T]) {
	defer recoverManagerPanic(p.logger, "reap", nil)
	reapOnce(p)
}

// reapOnce implements the sweep rule exactly: candidates whose age exceeds
// max_lifetime or whose idle time exceeds idle_timeout are removed, except
// that the sweep may never push live below min_idle — excess reapables
// beyond that floor are kept as the youngest subset (spec.md §4.5, P4).
func reapOnce[T any](p *Pool[T]) {
	now := time.Now()

	p.inv.mu.Lock()
	type candidate struct {
		idx int
		it  *item[T]
	}
	var reapable []candidate
	var keep []*item[T]
	for i, it := range p.inv.idle {
		expired := (p.cfg.MaxLifetime > 0 && it.age(now) > p.cfg.MaxLifetime) ||
			(p.cfg.IdleTimeout > 0 && it.idleFor(now) > p.cfg.IdleTimeout)
		if expired {
			reapable = append(reapable, candidate{idx: i, it: it})
		} else {
			keep = append(keep, it)
		}
	}

	// The min_idle floor exception: if reaping everything reapable would
	// drop live below min_idle, keep the youngest reapable candidates
	// (smallest age) until the floor is satisfied.
	liveAfterFullReap := p.inv.live - len(reapable)
	if liveAfterFullReap < p.cfg.MinIdle {
		mustKeep := p.cfg.MinIdle - liveAfterFullReap
		sort.Slice(reapable, func(a, b int) bool {
			return reapable[a].it.age(now) < reapable[b].it.age(now)
		})
		if mustKeep > len(reapable) {
			mustKeep = len(reapable)
		}
		for _, c := range reapable[:mustKeep] {
			keep = append(keep, c.it)
		}
		reapable = reapable[mustKeep:]
	}

	reaped := make([]*item[T], 0, len(reapable))
	for _, c := range reapable {
		reaped = append(reaped, c.it)
	}

	p.inv.idle = keep
	p.inv.live -= len(reaped)
	p.inv.syncGaugesLocked()
	p.inv.mu.Unlock()

	if closer, ok := p.manager.(Closer[T]); ok {
		for _, it := range reaped {
			closer.Close(it.value)
		}
	}

	if len(reaped) > 0 {
		logReaped[T](p.logger, len(reaped))
		p.inv.metrics.incReaped(len(reaped))
		p.inv.maybeSpawnReplenish()
	}
}

// gcLoop wakes every 6x the reaper rate and reconciles pending against
// reality (spec.md §4.5 garbage collector): any create slot pending
// longer than 2*connection_timeout is treated as orphaned and its slot is
// reclaimed, avoiding permanent capacity loss from a dropped create future.
func gcLoop[T any](ctx context.Context, weak *WeakPool[T], rate time.Duration) {
	ticker := time.NewTicker(rate)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			p, ok := weak.Upgrade()
			if !ok {
				return
			}
			gcTick(p)
		}
	}
}

func gcTick[T any](p *Pool[T]) {
	defer recoverManagerPanic(p.logger, "gc", nil)
	gcOnce(p)
}

func gcOnce[T any](p *Pool[T]) {
	threshold := p.cfg.gcOrphanThreshold()
	now := time.Now()

	p.inv.mu.Lock()
	var orphans []pendingSlot
	kept := p.inv.pending[:0:0]
	for _, slot := range p.inv.pending {
		if now.Sub(slot.startedAt) > threshold {
			orphans = append(orphans, slot)
			continue
		}
		kept = append(kept, slot)
	}
	p.inv.pending = kept
	p.inv.syncGaugesLocked()
	p.inv.mu.Unlock()

	for _, slot := range orphans {
		if slot.cancel != nil {
			slot.cancel()
		}
	}
	if len(orphans) > 0 {
		logOrphansReclaimed(p.logger, len(orphans))
		p.inv.maybeSpawnReplenish()
	}
}
