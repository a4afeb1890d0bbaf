package pool

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"go.uber.org/atomic"
)

// outcome classifies how a checked-out object is disposed of by release.
type outcome int

const (
	outcomeReturn outcome = iota
	outcomeDiscard
)

// item is a pooled object plus the bookkeeping metadata spec.md's data
// model requires: birth time for max-lifetime, last-used time for
// idle-timeout, and a monotonic generation assigned at creation.
type item[T any] struct {
	value      T
	bornAt     time.Time
	lastUsedAt time.Time
	gen        uint64
}

func (it *item[T]) age(now time.Time) time.Duration     { return now.Sub(it.bornAt) }
func (it *item[T]) idleFor(now time.Time) time.Duration { return now.Sub(it.lastUsedAt) }

// State is the diagnostic snapshot returned by Pool.State: the counters
// named in spec.md §3/§6, useful for tests and operational visibility.
// Quantities may be stale the instant the caller observes them (spec.md
// §5).
type State struct {
	Live       int
	Idle       int
	Pending    int
	CheckedOut int
	Waiters    int
}

// inventory is the single contended resource of the pool (spec.md §5): a
// serialized state machine guarded by a short critical section, never held
// across a manager await. All primitives here are the C3 operations of
// spec.md §4.2.
type inventory[T any] struct {
	mu sync.Mutex

	cfg     Config
	manager Manager[T]
	metrics *Metrics
	logger  *slog.Logger

	idle            []*item[T] // LIFO stack: append/pop from the tail for cache warmth
	pending         []pendingSlot
	checkedOut      int
	live            int
	nextGen         uint64
	nextPendingSlot uint64
	closed          bool

	waiters *waiterQueue[T]

	// Lock-free diagnostic mirrors, updated under mu, read without it by
	// snapshot()/State(). Staleness here is explicitly allowed by spec.md
	// §5: a caller observing State() never blocks behind an in-flight
	// checkout or release.
	liveGauge       *atomic.Int64
	idleGauge       *atomic.Int64
	pendingGauge    *atomic.Int64
	checkedOutGauge *atomic.Int64
	waiterGauge     *atomic.Int64
}

// pendingSlot tracks one in-flight create so the GC task can recognize an
// orphaned reservation: a slot whose creation future is no longer making
// progress after cfg.gcOrphanThreshold().
type pendingSlot struct {
	id        uint64
	startedAt time.Time
	cancel    func()
}

func newInventory[T any](cfg Config, manager Manager[T], metrics *Metrics, logger *slog.Logger) *inventory[T] {
	return &inventory[T]{
		cfg:             cfg,
		logger:          logger,
		manager:         manager,
		metrics:         metrics,
		idle:            make([]*item[T], 0, cfg.MinIdle),
		waiters:         newWaiterQueue[T](),
		liveGauge:       atomic.NewInt64(0),
		idleGauge:       atomic.NewInt64(0),
		pendingGauge:    atomic.NewInt64(0),
		checkedOutGauge: atomic.NewInt64(0),
		waiterGauge:     atomic.NewInt64(0),
	}
}

// takeIdle removes and returns one idle object if any, marking it
// checked-out. Does not touch live (idle and checked_out both count
// towards it). Returns ok=false if idle is empty.
func (inv *inventory[T]) takeIdle() (*item[T], bool) {
	inv.mu.Lock()
	n := len(inv.idle)
	if n == 0 {
		inv.mu.Unlock()
		return nil, false
	}
	it := inv.idle[n-1]
	inv.idle = inv.idle[:n-1]
	inv.checkedOut++
	inv.syncGaugesLocked()
	inv.mu.Unlock()

	// Taking from idle is the only discard-adjacent event that actually
	// shrinks idle itself; top-up belongs here (and in the reaper's own
	// removal), not on a checked-out object's discard — that object was
	// never in idle, so discarding it doesn't change the min_idle deficit.
	inv.maybeSpawnReplenish()
	return it, true
}

// reserveCreate reserves a create slot if live+pending < max_size.
func (inv *inventory[T]) reserveCreate(id uint64, cancel func()) bool {
	inv.mu.Lock()
	defer inv.mu.Unlock()

	if inv.live+len(inv.pending) >= inv.cfg.MaxSize {
		return false
	}
	inv.pending = append(inv.pending, pendingSlot{id: id, startedAt: time.Now(), cancel: cancel})
	inv.syncGaugesLocked()
	return true
}

// finishCreateFailed releases a reserved create slot after Connect failed.
func (inv *inventory[T]) finishCreateFailed(id uint64) {
	inv.mu.Lock()
	defer inv.mu.Unlock()
	inv.removePendingLocked(id)
	inv.syncGaugesLocked()
	inv.metrics.incCreationError()
}

// finishCreateCheckedOut completes a reserved create slot successfully and
// immediately marks the new object checked-out (the acquisition pipeline
// never parks a freshly created object in idle before handing it out).
func (inv *inventory[T]) finishCreateCheckedOut(id uint64) *item[T] {
	inv.mu.Lock()
	defer inv.mu.Unlock()
	inv.removePendingLocked(id)
	inv.nextGen++
	now := time.Now()
	it := &item[T]{bornAt: now, lastUsedAt: now, gen: inv.nextGen}
	inv.live++
	inv.checkedOut++
	inv.syncGaugesLocked()
	inv.metrics.incCreated()
	return it
}

// finishCreateIdle completes a reserved create slot successfully and
// inserts the new object directly into idle. Used only by top-up
// replenishment, which hands the object to no specific caller.
func (inv *inventory[T]) finishCreateIdle(id uint64, value T) {
	inv.mu.Lock()
	defer inv.mu.Unlock()
	inv.removePendingLocked(id)
	inv.nextGen++
	now := time.Now()
	it := &item[T]{value: value, bornAt: now, lastUsedAt: now, gen: inv.nextGen}
	inv.live++
	inv.idle = append(inv.idle, it)
	inv.syncGaugesLocked()
	inv.metrics.incCreated()
}

func (inv *inventory[T]) removePendingLocked(id uint64) {
	for i, slot := range inv.pending {
		if slot.id == id {
			inv.pending = append(inv.pending[:i], inv.pending[i+1:]...)
			return
		}
	}
}

// closeItem disposes of a discarded object through the manager's optional
// Closer capability (manager.go), matching the teacher's Cleanup-calls-
// destructor behavior for anything the pool drops rather than returns.
func (inv *inventory[T]) closeItem(it *item[T]) {
	if closer, ok := inv.manager.(Closer[T]); ok {
		closer.Close(it.value)
	}
}

// dropCheckedOut discards an object that failed validation right after
// being taken from idle or just created — by Get's checkout or by warm-up.
// Decrements live and checked_out. It does not
// trigger top-up: the object was checked-out, never sitting in idle, so
// its removal does not by itself widen the min_idle deficit (the takeIdle
// it may have come from already triggered top-up, if applicable).
func (inv *inventory[T]) dropCheckedOut(it *item[T]) {
	inv.mu.Lock()
	inv.live--
	inv.checkedOut--
	inv.syncGaugesLocked()
	inv.mu.Unlock()
	inv.closeItem(it)
	inv.metrics.incClosed()
}

// putBack returns a released object to idle (Return) or discards it
// (Discard). Callers should try waiter handoff before calling this (see
// Pool.release) since handoff bypasses idle entirely per spec.md §5. A
// Discard here never touches idle — the object was checked-out at release
// time, not sitting idle — so it does not trigger top-up; only Return
// needs no top-up either, since it grows idle rather than shrinking it.
func (inv *inventory[T]) putBack(it *item[T], out outcome) {
	inv.mu.Lock()
	switch out {
	case outcomeReturn:
		it.lastUsedAt = time.Now()
		inv.idle = append(inv.idle, it)
		inv.checkedOut--
	case outcomeDiscard:
		inv.live--
		inv.checkedOut--
	}
	inv.syncGaugesLocked()
	inv.mu.Unlock()

	if out == outcomeDiscard {
		inv.closeItem(it)
		inv.metrics.incClosed()
	}
}

// snapshot returns the diagnostic view used by tests and Pool.State. It
// reads the atomic gauges rather than inv.mu, so an observer never blocks
// behind an in-flight checkout/release (spec.md §5's explicit allowance
// for a stale read).
func (inv *inventory[T]) snapshot() State {
	return State{
		Live:       int(inv.liveGauge.Load()),
		Idle:       int(inv.idleGauge.Load()),
		Pending:    int(inv.pendingGauge.Load()),
		CheckedOut: int(inv.checkedOutGauge.Load()),
		Waiters:    int(inv.waiterGauge.Load()),
	}
}

// syncGaugesLocked refreshes every atomic gauge from the locked fields they
// mirror. Called at the end of every mutation while inv.mu is still held,
// so snapshot()'s lock-free reads are never more than one mutation stale.
func (inv *inventory[T]) syncGaugesLocked() {
	inv.liveGauge.Store(int64(inv.live))
	inv.idleGauge.Store(int64(len(inv.idle)))
	inv.pendingGauge.Store(int64(len(inv.pending)))
	inv.checkedOutGauge.Store(int64(inv.checkedOut))
	inv.waiterGauge.Store(int64(inv.waiters.len()))
	if inv.metrics != nil {
		inv.metrics.observe(inv.live, len(inv.idle), len(inv.pending), inv.checkedOut)
	}
}

// maybeSpawnReplenish is the top-up policy of spec.md §4.2: after an
// operation that actually shrinks idle (takeIdle handing an object to a
// caller, or the reaper evicting one), issue up to
// min_idle - (idle + pending) create requests, each gated by
// reserveCreate. Discarding a checked-out object is deliberately not such
// a trigger — that object was never in idle, so its removal does not
// change the deficit. Never awaited by the acquire path.
func (inv *inventory[T]) maybeSpawnReplenish() {
	inv.mu.Lock()
	if inv.closed {
		inv.mu.Unlock()
		return
	}
	deficit := inv.cfg.MinIdle - (len(inv.idle) + len(inv.pending))
	inv.mu.Unlock()

	for i := 0; i < deficit; i++ {
		inv.spawnOneReplenish()
	}
}

// spawnOneReplenish fills one top-up slot, retrying on validation failure
// exactly like the acquisition pipeline's checkout (spec.md §4.4's
// "newly created" rule applies here too: needsValidation is always true
// for a freshly connected object). Bounded by the same retry limit as
// Get() so a persistently broken manager can't spin forever; on
// exhaustion the reservation is simply released rather than surfaced
// anywhere, since replenishment has no caller to report to.
func (inv *inventory[T]) spawnOneReplenish() {
	id := inv.nextPendingID()
	if !inv.reserveCreate(id, nil) {
		return
	}
	inv.manager.Spawn(func() {
		defer recoverManagerPanic(inv.logger, "replenish", func(any) {
			inv.finishCreateFailed(id)
		})

		ctx, cancel := inv.connectTimeoutCtx()
		defer cancel()
		limit := inv.cfg.retryLimit()
		for attempt := 0; attempt <= limit; attempt++ {
			v, err := inv.manager.Connect(ctx)
			if err != nil {
				inv.finishCreateFailed(id)
				return
			}
			if needsValidation(inv.cfg, true) {
				if verr := inv.manager.IsValid(ctx, v); verr != nil {
					inv.closeItem(&item[T]{value: v})
					inv.metrics.incClosed()
					continue
				}
			}
			inv.finishCreateIdle(id, v)
			return
		}
		inv.finishCreateFailed(id)
	})
}

func (inv *inventory[T]) connectTimeoutCtx() (context.Context, func()) {
	return newTimeoutCtx(inv.cfg.ConnectionTimeout)
}

// nextPendingID hands out a monotonic id used only to identify a
// pendingSlot for removal/orphan detection; it is not the item generation.
func (inv *inventory[T]) nextPendingID() uint64 {
	inv.mu.Lock()
	defer inv.mu.Unlock()
	inv.nextPendingSlot++
	return inv.nextPendingSlot
}

// enqueueWaiter, removeWaiter, popWaiter and requeueWaiterFront adapt the
// waiterQueue primitives to the inventory's lock discipline: the waiter
// queue is part of the same serialized state machine as the rest of the
// inventory (spec.md §4.3 notes waiters and idle objects are matched
// under the same accounting).
func (inv *inventory[T]) enqueueWaiter(w *waiter[T]) *waiterElem[T] {
	inv.mu.Lock()
	defer inv.mu.Unlock()
	elem := inv.waiters.enqueue(w)
	inv.syncGaugesLocked()
	return elem
}

func (inv *inventory[T]) removeWaiter(e *waiterElem[T]) bool {
	inv.mu.Lock()
	defer inv.mu.Unlock()
	ok := inv.waiters.remove(e)
	inv.syncGaugesLocked()
	return ok
}

func (inv *inventory[T]) popWaiter() *waiter[T] {
	inv.mu.Lock()
	defer inv.mu.Unlock()
	w := inv.waiters.popFront()
	inv.syncGaugesLocked()
	return w
}

func (inv *inventory[T]) requeueWaiterFront(w *waiter[T]) {
	inv.mu.Lock()
	defer inv.mu.Unlock()
	inv.waiters.pushFront(w)
	inv.syncGaugesLocked()
}

// drainIdle removes every idle object from the inventory (used by Close)
// and returns them so the caller can dispose of them outside the lock.
func (inv *inventory[T]) drainIdle() []*item[T] {
	inv.mu.Lock()
	defer inv.mu.Unlock()
	items := inv.idle
	inv.idle = nil
	inv.live -= len(items)
	inv.syncGaugesLocked()
	return items
}

func (inv *inventory[T]) markClosed() {
	inv.mu.Lock()
	defer inv.mu.Unlock()
	inv.closed = true
}

func (inv *inventory[T]) isClosed() bool {
	inv.mu.Lock()
	defer inv.mu.Unlock()
	return inv.closed
}
