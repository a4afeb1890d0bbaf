package pool

import (
	"context"
	"time"
)

// newTimeoutCtx returns a context bounded by d, or a background context
// with a no-op cancel if d is zero (timeout disabled).
func newTimeoutCtx(d time.Duration) (context.Context, func()) {
	if d <= 0 {
		return context.Background(), func() {}
	}
	return context.WithTimeout(context.Background(), d)
}

// needsValidation implements the precise validation rule of spec.md §3/P5:
// validate whenever AlwaysCheck is true, or whenever the object was just
// created (an idle-taken object is skipped only when AlwaysCheck is false).
func needsValidation(cfg Config, isNew bool) bool {
	return cfg.AlwaysCheck || isNew
}
