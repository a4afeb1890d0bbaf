package pool

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"
)

// Builder accumulates configuration through fluent setters and exposes one
// terminal operation, Build, which constructs a pool in its initial warmed
// state (spec.md §4.1). Start from NewBuilder: a zero Builder has no
// ReaperRate or ConnectionTimeout, and Build rejects it until both are set.
type Builder[T any] struct {
	cfg        Config
	metricsReg MetricsRegisterer
	logger     *slog.Logger
}

// NewBuilder returns a Builder seeded with the package defaults for
// ReaperRate and ConnectionTimeout; every other field defaults to its
// Go zero value (disabled) until set.
func NewBuilder[T any]() *Builder[T] {
	return &Builder[T]{
		cfg: Config{
			ReaperRate:        defaultReaperRate,
			ConnectionTimeout: defaultConnectionTimeout,
		},
	}
}

func (b *Builder[T]) MinIdle(n int) *Builder[T]              { b.cfg.MinIdle = n; return b }
func (b *Builder[T]) MaxSize(n int) *Builder[T]              { b.cfg.MaxSize = n; return b }
func (b *Builder[T]) IdleTimeout(d time.Duration) *Builder[T] {
	b.cfg.IdleTimeout = d
	return b
}
func (b *Builder[T]) MaxLifetime(d time.Duration) *Builder[T] {
	b.cfg.MaxLifetime = d
	return b
}
func (b *Builder[T]) ReaperRate(d time.Duration) *Builder[T] { b.cfg.ReaperRate = d; return b }
func (b *Builder[T]) AlwaysCheck(v bool) *Builder[T]         { b.cfg.AlwaysCheck = v; return b }
func (b *Builder[T]) ConnectionTimeout(d time.Duration) *Builder[T] {
	b.cfg.ConnectionTimeout = d
	return b
}
func (b *Builder[T]) WaitTimeout(d time.Duration) *Builder[T] { b.cfg.WaitTimeout = d; return b }
func (b *Builder[T]) RetryLimit(n int) *Builder[T]            { b.cfg.RetryLimit = n; return b }
func (b *Builder[T]) GCOrphanThreshold(d time.Duration) *Builder[T] {
	b.cfg.GCOrphanThreshold = d
	return b
}

// Metrics registers Prometheus gauges/counters mirroring the pool's
// inventory state (DOMAIN STACK enrichment; see metrics.go). Optional —
// a pool built without calling this carries zero Prometheus cost.
func (b *Builder[T]) Metrics(reg MetricsRegisterer) *Builder[T] {
	b.metricsReg = reg
	return b
}

// Build validates the configuration, creates the inventory, eagerly
// populates it to MinIdle through manager.Connect, launches the
// background reaper/GC tasks, and returns a strong pool handle. A failed
// initial create fails the whole build and no background tasks start
// (spec.md §4.1).
func (b *Builder[T]) Build(ctx context.Context, manager Manager[T]) (*Pool[T], error) {
	if err := b.cfg.validate(); err != nil {
		return nil, err
	}

	var metrics *Metrics
	if b.metricsReg != nil {
		metrics = newMetrics(b.metricsReg)
	}

	logger := b.logger
	if logger == nil {
		logger = defaultLogger()
	}

	inv := newInventory[T](b.cfg, manager, metrics, logger)

	p := &Pool[T]{
		cfg:     b.cfg,
		manager: manager,
		inv:     inv,
		metrics: metrics,
		logger:  logger,
	}
	p.weak = newWeakPool(p)

	if err := warmUp(ctx, p); err != nil {
		buildErr := fmt.Errorf("%w: %w", ErrBuildFailed, err)
		logBuildFailed(ctx, logger, buildErr)
		return nil, buildErr
	}

	bgCtx, cancel := context.WithCancel(context.Background())
	p.bgCancel = cancel
	startBackgroundTasks(bgCtx, p)

	return p, nil
}

// warmUp issues MinIdle concurrent create requests via errgroup, matching
// spec.md §4.1.3's eager population step. A validation failure on a
// newly-created object is recovered locally (discard and retry, same as
// the acquisition pipeline's own rule) since it is a transient manager
// signal, not a build failure; only a genuine Connect error is fatal to
// the whole build. Unlike Get(), warm-up retries are not bounded by
// RetryLimit: spec.md §9's retry-bound open question is scoped explicitly
// to "validation during get()", and the source's own warm-up keeps
// retrying until it has min_idle good objects or a real connect failure.
func warmUp[T any](ctx context.Context, p *Pool[T]) error {
	if p.cfg.MinIdle == 0 {
		return nil
	}

	g, gctx := errgroup.WithContext(ctx)
	for i := 0; i < p.cfg.MinIdle; i++ {
		g.Go(func() (err error) {
			defer func() {
				if r := recover(); r != nil {
					p.logger.Error("manager callback panicked", "op", "warm-up", "panic", r)
					err = fmt.Errorf("pool: warm-up manager callback panicked: %v", r)
				}
			}()
			for {
				id := p.inv.nextPendingID()
				if !p.inv.reserveCreate(id, nil) {
					// Can't happen during warm-up (min_idle <= max_size
					// is enforced by validate), but stay defensive.
					return fmt.Errorf("pool: warm-up could not reserve a create slot")
				}

				v, err := p.manager.Connect(gctx)
				if err != nil {
					p.inv.finishCreateFailed(id)
					return err
				}

				it := p.inv.finishCreateCheckedOut(id)
				it.value = v

				if needsValidation(p.cfg, true) {
					if err := p.manager.IsValid(gctx, v); err != nil {
						p.inv.dropCheckedOut(it)
						continue
					}
				}

				// Warm-up objects belong in idle, not handed to any
				// caller; there are no waiters yet during Build.
				p.inv.putBack(it, outcomeReturn)
				return nil
			}
		})
	}
	return g.Wait()
}
