package pool

import (
	"context"
	"log/slog"
)

// Builder.Logger lets a caller supply a *slog.Logger for the pool's own
// lifecycle events (objects reaped, orphaned pending slots reclaimed,
// build failed, a manager callback panicked). Object creation is not
// logged. Matches the pack's structured-logging
// idiom (other_examples' amp-labs/amp-common pool logs through
// slog.Default().With("component", ...)) rather than the bare fmt/log
// calls a hand-rolled pool would use.
func (b *Builder[T]) Logger(l *slog.Logger) *Builder[T] {
	b.logger = l
	return b
}

func defaultLogger() *slog.Logger {
	return slog.Default().With("component", "pool")
}

// recoverManagerPanic is deferred around every pool-owned goroutine that
// invokes manager code outside the direct call stack of Get (background
// replenishment, reaper, GC): a panicking manager operation is not
// recovered by the spec (§7), but it must not be allowed to take down an
// unrelated background goroutine silently. onPanic receives the recovered
// value so the caller can resolve any waiter it was servicing.
func recoverManagerPanic(logger *slog.Logger, op string, onPanic func(r any)) {
	if r := recover(); r != nil {
		logger.Error("manager callback panicked", "op", op, "panic", r)
		if onPanic != nil {
			onPanic(r)
		}
	}
}

func logReaped[T any](logger *slog.Logger, n int) {
	if n > 0 {
		logger.Debug("reaper removed idle objects", "count", n)
	}
}

func logOrphansReclaimed(logger *slog.Logger, n int) {
	if n > 0 {
		logger.Debug("gc reclaimed orphaned pending slots", "count", n)
	}
}

func logBuildFailed(ctx context.Context, logger *slog.Logger, err error) {
	logger.ErrorContext(ctx, "pool build failed", "error", err)
}
