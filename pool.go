package pool

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"
)

// Pool multiplexes a bounded population of manager-supplied objects among
// concurrent callers. It is unsafe to copy a Pool; callers always hold a
// *Pool[T].
type Pool[T any] struct {
	cfg     Config
	manager Manager[T]
	inv     *inventory[T]
	metrics *Metrics
	logger  *slog.Logger
	weak    *WeakPool[T]

	closeOnce sync.Once
	bgCancel  context.CancelFunc
}

// State returns a diagnostic snapshot of the pool's counters (spec.md §6
// "Observable state"). Each counter is loaded separately without the
// inventory lock, so the values are not guaranteed to come from a single
// instant.
func (p *Pool[T]) State() State { return p.inv.snapshot() }

// Get executes the acquisition pipeline of spec.md §4.4: try an idle
// object, validate it if the validation rule requires it, otherwise
// reserve a create slot and connect, otherwise park as a waiter. The whole
// call is bounded by a wall-clock budget derived from ConnectionTimeout
// (and, if set, ctx's own deadline).
func (p *Pool[T]) Get(ctx context.Context) (*Guard[T], error) {
	if p.inv.isClosed() {
		return nil, ErrPoolClosed
	}

	budget, cancel := p.deadlineCtx(ctx, p.cfg.ConnectionTimeout)
	defer cancel()

	limit := p.cfg.retryLimit()
	for attempt := 0; ; attempt++ {
		if attempt > limit {
			return nil, ErrExhausted
		}

		if it, ok := p.inv.takeIdle(); ok {
			if err := p.checkout(budget, it, false); err != nil {
				if isCtxErr(err) {
					return nil, ErrTimeout
				}
				continue
			}
			return p.newGuard(it), nil
		}

		id := p.inv.nextPendingID()
		if p.inv.reserveCreate(id, nil) {
			v, err := p.manager.Connect(budget)
			if err != nil {
				p.inv.finishCreateFailed(id)
				if isCtxErr(err) || isCtxErr(budget.Err()) {
					return nil, ErrTimeout
				}
				continue
			}
			it := p.inv.finishCreateCheckedOut(id)
			it.value = v
			if err := p.checkout(budget, it, true); err != nil {
				if isCtxErr(err) {
					return nil, ErrTimeout
				}
				continue
			}
			return p.newGuard(it), nil
		}

		it, err := p.waitForHandoff(budget)
		if err != nil {
			return nil, err
		}
		return p.newGuard(it), nil
	}
}

// checkout runs the validation rule (spec.md §3/§4.4/P5): validate
// whenever AlwaysCheck is true, or whenever the object was just created.
// On failure the object is dropped from the inventory and the caller
// should retry. IsClosed is deliberately not consulted here: it is a
// release-time signal only (see Guard.Release) — the scenario traces in
// original_source/tests/pool.rs build and hold connections the checkout
// validator would reject if IsClosed gated acquisition too (e.g. id 0,
// divisible by 4, is acquired and held successfully in valid_closed, and
// only discarded once released).
func (p *Pool[T]) checkout(ctx context.Context, it *item[T], isNew bool) error {
	if !needsValidation(p.cfg, isNew) {
		return nil
	}
	if err := p.manager.IsValid(ctx, it.value); err != nil {
		p.inv.dropCheckedOut(it)
		return &ManagerError{Err: err}
	}
	return nil
}

// waitForHandoff parks the caller as a waiter (spec.md §4.3) and waits for
// either a handoff, a pool-initiated create on its behalf, or the budget
// to expire.
func (p *Pool[T]) waitForHandoff(ctx context.Context) (*item[T], error) {
	waitCtx := ctx
	if p.cfg.WaitTimeout > 0 {
		var waitCancel func()
		waitCtx, waitCancel = context.WithTimeout(ctx, p.cfg.WaitTimeout)
		defer waitCancel()
	}

	w := newWaiter[T]()
	elem := p.inv.enqueueWaiter(w)

	select {
	case res := <-w.ch:
		if res.err != nil {
			return nil, res.err
		}
		return res.it, nil
	case <-waitCtx.Done():
		if p.inv.removeWaiter(elem) {
			return nil, ErrTimeout
		}
		// Lost the race: a releaser already popped us and is about to (or
		// just did) send. Drain so the object/error isn't lost, then
		// return it to idle per spec.md §4.3 rather than use it ourselves.
		res := <-w.ch
		if res.it != nil {
			p.release(res.it, outcomeReturn)
		}
		return nil, ErrTimeout
	}
}

// release is the common path for both an explicit Guard.Release and the
// pool's own create-for-waiter flow. Return handoff bypasses idle entirely
// when waiters exist (spec.md §5); Discard always frees a slot and may let
// a parked waiter's own create attempt proceed.
func (p *Pool[T]) release(it *item[T], out outcome) {
	if out == outcomeReturn && p.inv.isClosed() {
		out = outcomeDiscard
	}
	if out == outcomeReturn {
		if w := p.inv.popWaiter(); w != nil {
			it.lastUsedAt = time.Now()
			if w.deliver(it) {
				return
			}
		}
		p.inv.putBack(it, outcomeReturn)
		return
	}

	p.inv.putBack(it, outcomeDiscard)
	p.tryCreateForWaiter()
}

// tryCreateForWaiter is invoked after a Discard frees pool capacity: the
// freed slot means a waiter parked on "pool at capacity" can now be served
// by a fresh create, without that waiter ever touching reserveCreate
// itself.
func (p *Pool[T]) tryCreateForWaiter() {
	w := p.inv.popWaiter()
	if w == nil {
		return
	}
	id := p.inv.nextPendingID()
	if !p.inv.reserveCreate(id, nil) {
		p.inv.requeueWaiterFront(w)
		return
	}
	p.manager.Spawn(func() {
		defer recoverManagerPanic(p.logger, "create-for-waiter", func(any) {
			p.inv.finishCreateFailed(id)
			w.deliverErr(ErrPoolClosed)
		})

		ctx, cancel := newTimeoutCtx(p.cfg.ConnectionTimeout)
		defer cancel()
		v, err := p.manager.Connect(ctx)
		if err != nil {
			p.inv.finishCreateFailed(id)
			w.deliverErr(&ManagerError{Err: err})
			return
		}
		it := p.inv.finishCreateCheckedOut(id)
		it.value = v
		if err := p.checkout(ctx, it, true); err != nil {
			w.deliverErr(err)
			return
		}
		if !w.deliver(it) {
			// Waiter already gone (shouldn't happen, channel is
			// buffered); return the object rather than leak it.
			p.release(it, outcomeReturn)
		}
	})
}

// Close stops the background reaper/GC tasks and releases the weak
// back-reference so they exit on their next tick. Idle objects are
// drained and, if the manager implements Closer, disposed of. Checked-out
// objects are not affected; they return through their guard as usual, at
// which point they are discarded since the pool is closed.
func (p *Pool[T]) Close() {
	p.closeOnce.Do(func() {
		p.inv.markClosed()
		if p.bgCancel != nil {
			p.bgCancel()
		}
		p.weak.clear()

		items := p.inv.drainIdle()
		if closer, ok := p.manager.(Closer[T]); ok {
			for _, it := range items {
				closer.Close(it.value)
			}
		}
	})
}

func (p *Pool[T]) deadlineCtx(ctx context.Context, d time.Duration) (context.Context, func()) {
	if d <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, d)
}

func isCtxErr(err error) bool {
	return errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled)
}

// Guard is the scoped handle of spec.md's "handoff": exclusive, temporary
// ownership of a checked-out object. The object returns to the pool on
// every path out of the guard's scope — call Release explicitly or defer
// it; release logic itself only ever runs once.
type Guard[T any] struct {
	pool   *Pool[T]
	it     *item[T]
	once   sync.Once
	mu     sync.Mutex
	broken bool
}

func (p *Pool[T]) newGuard(it *item[T]) *Guard[T] {
	return &Guard[T]{pool: p, it: it}
}

// Value returns the underlying object. Valid until Release is called.
func (g *Guard[T]) Value() T { return g.it.value }

// Break marks the object as unusable so Release discards it instead of
// returning it to idle, even if the manager's IsClosed probe disagrees.
func (g *Guard[T]) Break() {
	g.mu.Lock()
	g.broken = true
	g.mu.Unlock()
}

// Release returns the object to the pool (or discards it, per spec.md
// §4.4 "Handoff"). Safe to call multiple times or via defer alongside an
// explicit call; only the first call has effect.
func (g *Guard[T]) Release() {
	g.once.Do(func() {
		g.mu.Lock()
		broken := g.broken
		g.mu.Unlock()

		if broken || g.pool.manager.IsClosed(g.it.value) {
			g.pool.release(g.it, outcomeDiscard)
			return
		}
		g.pool.release(g.it, outcomeReturn)
	})
}
