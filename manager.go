package pool

import "context"

// Manager is the pluggable collaborator that creates, validates, and
// classifies the objects a Pool multiplexes. The pool never knows what a
// "connection" is, only the capabilities exposed here.
//
// Connect, IsValid and the pool's own background work are the only
// suspension points a Pool introduces; IsClosed must be cheap and
// synchronous.
type Manager[T any] interface {
	// Connect creates a new object. Called inside a reserved pending slot.
	// Get retries a failed Connect within its retry bound and returns
	// ErrExhausted once that is spent; a waiter served by a pool-initiated
	// create receives the failure as a ManagerError; during initial warm-up
	// a failure is fatal to Build.
	Connect(ctx context.Context) (T, error)

	// IsValid reports whether v is still usable. Invoked whenever
	// AlwaysCheck is true, or whenever v was just created, per the pool's
	// validation rule.
	IsValid(ctx context.Context, v T) error

	// IsClosed is a cheap, synchronous liveness probe consulted once at
	// guard release to decide whether the object returns to idle or is
	// discarded. It is not consulted during acquisition: a newly created
	// or freshly validated object is handed out even if IsClosed would
	// report it closed (see DESIGN.md's ground-truth correction).
	IsClosed(v T) bool

	// Spawn schedules fn as a detached task. The pool does not otherwise
	// depend on a particular runtime; callers typically pass `go fn()`.
	Spawn(fn func())
}

// Closer is an optional capability a Manager may implement to dispose of
// an object the pool is discarding (reaped, validation-failed, or dropped
// at Close). Not all managers need real disposal (e.g. a manager whose
// resource type closes itself via finalizers), so the pool only calls this
// when the manager implements it.
type Closer[T any] interface {
	Close(v T)
}

// ScheduleHookManager lets a Manager replace the pool's default reaper and
// GC loops entirely. p is a non-owning back-reference; implementations must
// call p.Upgrade() on every tick and exit once it fails, exactly like the
// default loops in reaper.go.
type ScheduleHookManager[T any] interface {
	Manager[T]

	ScheduleInner(ctx context.Context, p *WeakPool[T])
	GarbageCollectInner(ctx context.Context, p *WeakPool[T])
}
