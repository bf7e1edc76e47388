// Package metrics collects Prometheus metrics for the optimistic sync engine,
// the REST client and the push channel.
//
// Metrics collected:
//   - shotonme_mutations_applied_total: optimistic mutations applied, by entity
//   - shotonme_mutations_committed_total: mutations confirmed by the server, by entity
//   - shotonme_mutations_rolled_back_total: mutations undone, by entity
//   - shotonme_reconcile_duplicates_total: creates ignored because the id was already stored
//   - shotonme_reconcile_buffered_updates: updates waiting for their create, by entity
//   - shotonme_reconcile_dropped_updates_total: buffered updates that expired
//   - shotonme_push_events_total: push events received, by event name
//   - shotonme_push_reconnects_total: push channel reconnects
//   - shotonme_api_request_duration_seconds: REST call duration, by operation and outcome
//
// A nil *Metrics is valid and records nothing, so components can be built
// without instrumentation in tests.
//
// Example:
//
//	reg := prometheus.NewRegistry()
//	m := metrics.New(metrics.WithRegistry(reg))
//	http.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Config configures the metrics set.
type Config struct {
	// Namespace is the metrics namespace (default: "shotonme").
	Namespace string

	// Subsystem is the metrics subsystem (default: "").
	Subsystem string

	// ConstLabels are constant labels added to all metrics.
	ConstLabels prometheus.Labels

	// Buckets are the histogram buckets for request duration.
	// Default: prometheus.DefBuckets
	Buckets []float64

	// Registry is the Prometheus registry to use.
	// Default: prometheus.DefaultRegisterer
	Registry prometheus.Registerer
}

// Option configures the metrics set.
type Option func(*Config)

// WithNamespace sets the metrics namespace.
func WithNamespace(namespace string) Option {
	return func(c *Config) {
		c.Namespace = namespace
	}
}

// WithSubsystem sets the metrics subsystem.
func WithSubsystem(subsystem string) Option {
	return func(c *Config) {
		c.Subsystem = subsystem
	}
}

// WithConstLabels sets constant labels for all metrics.
func WithConstLabels(labels prometheus.Labels) Option {
	return func(c *Config) {
		c.ConstLabels = labels
	}
}

// WithBuckets sets the histogram buckets.
func WithBuckets(buckets []float64) Option {
	return func(c *Config) {
		c.Buckets = buckets
	}
}

// WithRegistry sets the Prometheus registry.
func WithRegistry(registry prometheus.Registerer) Option {
	return func(c *Config) {
		c.Registry = registry
	}
}

func defaultConfig() Config {
	return Config{
		Namespace: "shotonme",
		Buckets:   prometheus.DefBuckets,
		Registry:  prometheus.DefaultRegisterer,
	}
}

// Metrics holds the collectors. Methods are safe on a nil receiver.
type Metrics struct {
	applied         *prometheus.CounterVec
	committed       *prometheus.CounterVec
	rolledBack      *prometheus.CounterVec
	duplicates      *prometheus.CounterVec
	buffered        *prometheus.GaugeVec
	dropped         *prometheus.CounterVec
	pushEvents      *prometheus.CounterVec
	pushReconnects  prometheus.Counter
	requestDuration *prometheus.HistogramVec
}

// New registers and returns a metrics set.
func New(opts ...Option) *Metrics {
	config := defaultConfig()
	for _, opt := range opts {
		opt(&config)
	}
	factory := promauto.With(config.Registry)

	counter := func(name, help string, labels ...string) *prometheus.CounterVec {
		return factory.NewCounterVec(prometheus.CounterOpts{
			Namespace:   config.Namespace,
			Subsystem:   config.Subsystem,
			Name:        name,
			Help:        help,
			ConstLabels: config.ConstLabels,
		}, labels)
	}

	return &Metrics{
		applied:    counter("mutations_applied_total", "Optimistic mutations applied", "entity"),
		committed:  counter("mutations_committed_total", "Optimistic mutations confirmed by the server", "entity"),
		rolledBack: counter("mutations_rolled_back_total", "Optimistic mutations undone", "entity"),
		duplicates: counter("reconcile_duplicates_total", "Creates ignored because the entity was already stored", "entity"),
		dropped:    counter("reconcile_dropped_updates_total", "Buffered updates dropped before their create arrived", "entity"),
		pushEvents: counter("push_events_total", "Push events received", "event"),

		buffered: factory.NewGaugeVec(prometheus.GaugeOpts{
			Namespace:   config.Namespace,
			Subsystem:   config.Subsystem,
			Name:        "reconcile_buffered_updates",
			Help:        "Updates waiting for their entity to be created",
			ConstLabels: config.ConstLabels,
		}, []string{"entity"}),

		pushReconnects: factory.NewCounter(prometheus.CounterOpts{
			Namespace:   config.Namespace,
			Subsystem:   config.Subsystem,
			Name:        "push_reconnects_total",
			Help:        "Push channel reconnects",
			ConstLabels: config.ConstLabels,
		}),

		requestDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace:   config.Namespace,
			Subsystem:   config.Subsystem,
			Name:        "api_request_duration_seconds",
			Help:        "REST request duration in seconds",
			ConstLabels: config.ConstLabels,
			Buckets:     config.Buckets,
		}, []string{"op", "outcome"}),
	}
}

// MutationApplied records an optimistic apply.
func (m *Metrics) MutationApplied(entity string) {
	if m != nil {
		m.applied.WithLabelValues(entity).Inc()
	}
}

// MutationCommitted records a commit.
func (m *Metrics) MutationCommitted(entity string) {
	if m != nil {
		m.committed.WithLabelValues(entity).Inc()
	}
}

// MutationRolledBack records a rollback.
func (m *Metrics) MutationRolledBack(entity string) {
	if m != nil {
		m.rolledBack.WithLabelValues(entity).Inc()
	}
}

// DuplicateCreate records an idempotent create that was ignored.
func (m *Metrics) DuplicateCreate(entity string) {
	if m != nil {
		m.duplicates.WithLabelValues(entity).Inc()
	}
}

// BufferedUpdates sets the number of buffered updates for entity.
func (m *Metrics) BufferedUpdates(entity string, n int) {
	if m != nil {
		m.buffered.WithLabelValues(entity).Set(float64(n))
	}
}

// DroppedUpdates records expired buffered updates.
func (m *Metrics) DroppedUpdates(entity string, n int) {
	if m != nil && n > 0 {
		m.dropped.WithLabelValues(entity).Add(float64(n))
	}
}

// PushEvent records a received push event.
func (m *Metrics) PushEvent(event string) {
	if m != nil {
		m.pushEvents.WithLabelValues(event).Inc()
	}
}

// PushReconnect records a push channel reconnect.
func (m *Metrics) PushReconnect() {
	if m != nil {
		m.pushReconnects.Inc()
	}
}

// ObserveRequest records the duration of a REST call.
func (m *Metrics) ObserveRequest(op string, start time.Time, err error) {
	if m == nil {
		return
	}
	outcome := "success"
	if err != nil {
		outcome = "error"
	}
	m.requestDuration.WithLabelValues(op, outcome).Observe(time.Since(start).Seconds())
}
