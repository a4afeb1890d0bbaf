package pool

import "github.com/prometheus/client_golang/prometheus"

// MetricsRegisterer is the subset of *prometheus.Registry (or
// prometheus.DefaultRegisterer) Metrics needs. Accepting the interface
// rather than a concrete registry keeps this package from forcing a
// particular registry on callers who already have one.
type MetricsRegisterer interface {
	MustRegister(...prometheus.Collector)
}

// Metrics mirrors the pool's State() counters as Prometheus gauges, plus a
// few lifetime counters, grounded on the gauge/counter vector pattern the
// pack's amp-labs/amp-common pool uses for the same domain (poolAlive,
// poolObjectsTotal, poolObjectsIdle, objectsCreated, objectsClosed). A nil
// *Metrics is always safe to call into: Builder.Metrics is optional, and a
// pool built without it pays no Prometheus cost.
type Metrics struct {
	live       prometheus.Gauge
	idle       prometheus.Gauge
	pending    prometheus.Gauge
	checkedOut prometheus.Gauge

	created        prometheus.Counter
	creationErrors prometheus.Counter
	closed         prometheus.Counter
	reaped         prometheus.Counter
}

func newMetrics(reg MetricsRegisterer) *Metrics {
	ns := "resource_pool"
	m := &Metrics{
		live: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: ns, Name: "live", Help: "Objects the pool currently considers to exist.",
		}),
		idle: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: ns, Name: "idle", Help: "Objects immediately available for checkout.",
		}),
		pending: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: ns, Name: "pending", Help: "Create operations started but not yet completed.",
		}),
		checkedOut: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: ns, Name: "checked_out", Help: "Objects currently held by a caller.",
		}),
		created: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: ns, Name: "objects_created_total", Help: "Objects successfully created by the manager.",
		}),
		creationErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: ns, Name: "creation_errors_total", Help: "Manager Connect calls that failed.",
		}),
		closed: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: ns, Name: "objects_closed_total", Help: "Objects discarded after failed validation or at release (broken or reported closed).",
		}),
		reaped: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: ns, Name: "objects_reaped_total", Help: "Objects removed by the idle-timeout/max-lifetime reaper.",
		}),
	}
	reg.MustRegister(m.live, m.idle, m.pending, m.checkedOut, m.created, m.creationErrors, m.closed, m.reaped)
	return m
}

func (m *Metrics) observe(live, idle, pending, checkedOut int) {
	if m == nil {
		return
	}
	m.live.Set(float64(live))
	m.idle.Set(float64(idle))
	m.pending.Set(float64(pending))
	m.checkedOut.Set(float64(checkedOut))
}

func (m *Metrics) incCreated() {
	if m != nil {
		m.created.Inc()
	}
}

func (m *Metrics) incCreationError() {
	if m != nil {
		m.creationErrors.Inc()
	}
}

func (m *Metrics) incClosed() {
	if m != nil {
		m.closed.Inc()
	}
}

func (m *Metrics) incReaped(n int) {
	if m != nil {
		m.reaped.Add(float64(n))
	}
}
