// Package reconcile merges authoritative server state (HTTP response bodies
// and push events) into an Entity Store without duplicating entities or
// losing optimistic edits that are still in flight.
//
// Updates that arrive before the entity they patch are held for a short
// window and replayed, in arrival order, when the create shows up.
package reconcile

import (
	"log/slog"
	"sync"
	"time"

	"github.com/shotonme/shotonme/pkg/metrics"
	"github.com/shotonme/shotonme/pkg/optimistic"
	"github.com/shotonme/shotonme/pkg/store"
)

// Defaults for the early-update buffer.
const (
	DefaultBufferTTL   = 30 * time.Second
	DefaultMaxBuffered = 16
)

// Outcome describes what MergeUpdate did with a patch.
type Outcome int

const (
	// Applied means the patch was applied to the stored entity.
	Applied Outcome = iota
	// Buffered means the entity is unknown and the patch is held for replay.
	Buffered
	// Dropped means the entity is unknown and buffering is disabled.
	Dropped
)

// String returns the outcome name.
func (o Outcome) String() string {
	switch o {
	case Applied:
		return "applied"
	case Buffered:
		return "buffered"
	case Dropped:
		return "dropped"
	default:
		return "unknown"
	}
}

type earlyUpdate[T store.Entity[T]] struct {
	patch optimistic.Transform[T]
	at    time.Time
}

// Reconciler merges authoritative creates, updates and deletes through an
// optimistic.Applier, so pending mutations stay replayed on top.
type Reconciler[T store.Entity[T]] struct {
	applier *optimistic.Applier[T]

	mu     sync.Mutex
	early  map[string][]earlyUpdate[T]
	total  int
	ttl    time.Duration
	max    int
	now    func() time.Time
	metric *metrics.Metrics
	logger *slog.Logger
}

// Option configures a Reconciler.
type Option func(*config)

type config struct {
	ttl     time.Duration
	max     int
	now     func() time.Time
	metrics *metrics.Metrics
	logger  *slog.Logger
}

// WithBufferTTL sets how long an early update is kept. Zero disables
// buffering; early updates are then dropped.
func WithBufferTTL(d time.Duration) Option {
	return func(c *config) { c.ttl = d }
}

// WithMaxBuffered caps the early updates kept per entity. The oldest is
// dropped when the cap is reached.
func WithMaxBuffered(n int) Option {
	return func(c *config) { c.max = n }
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(c *config) { c.now = now }
}

// WithMetrics sets the metrics sink.
func WithMetrics(m *metrics.Metrics) Option {
	return func(c *config) { c.metrics = m }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(c *config) { c.logger = l }
}

// New creates a reconciler writing through a.
func New[T store.Entity[T]](a *optimistic.Applier[T], opts ...Option) *Reconciler[T] {
	c := config{
		ttl:    DefaultBufferTTL,
		max:    DefaultMaxBuffered,
		now:    time.Now,
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(&c)
	}
	if c.max <= 0 {
		c.max = DefaultMaxBuffered
	}
	return &Reconciler[T]{
		applier: a,
		early:   make(map[string][]earlyUpdate[T]),
		ttl:     c.ttl,
		max:     c.max,
		now:     c.now,
		metric:  c.metrics,
		logger:  c.logger,
	}
}

// Applier returns the applier the reconciler writes through.
func (r *Reconciler[T]) Applier() *optimistic.Applier[T] { return r.applier }

// MergeCreate merges an authoritative entity. A create for an id that is
// already stored is a no-op. If correlationKey names a temporary entity it is
// replaced in place. Otherwise ent is inserted. Updates buffered for ent's id
// are replayed afterwards in arrival order.
func (r *Reconciler[T]) MergeCreate(ent T, correlationKey string) (optimistic.InsertResult, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	res, err := r.applier.Insert(ent, correlationKey)
	if err != nil {
		return res, err
	}
	if res == optimistic.Duplicate {
		r.logger.Debug("duplicate create ignored", "entity", r.applier.Name(), "id", ent.EntityID())
		return res, nil
	}

	r.replay(ent.EntityID())
	return res, nil
}

// MergeLoaded stores entities read from a listing, in order. New ids are
// appended after what is already stored; known ids adopt the listed state
// with pending mutations replayed on top. It returns how many were new.
func (r *Reconciler[T]) MergeLoaded(ents ...T) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	added := 0
	for _, ent := range ents {
		res, err := r.applier.Load(ent)
		if err != nil {
			return added, err
		}
		if res == optimistic.Inserted {
			added++
			r.replay(ent.EntityID())
		}
	}
	return added, nil
}

// replay applies updates buffered for id in arrival order. Callers hold r.mu.
func (r *Reconciler[T]) replay(id string) {
	pending := r.early[id]
	if len(pending) == 0 {
		return
	}
	delete(r.early, id)
	r.total -= len(pending)
	cutoff := r.now().Add(-r.ttl)
	replayed := 0
	for _, u := range pending {
		if u.at.Before(cutoff) {
			continue
		}
		r.applier.Rebase(id, u.patch)
		replayed++
	}
	r.metric.BufferedUpdates(r.applier.Name(), r.total)
	r.logger.Debug("replayed early updates", "entity", r.applier.Name(), "id", id, "count", replayed)
}

// MergeUpdate applies patch to the authoritative state of id. Patches should
// carry absolute server state so that an HTTP response and a push event for
// the same change converge. If id is not stored yet the patch is buffered.
func (r *Reconciler[T]) MergeUpdate(id string, patch optimistic.Transform[T]) Outcome {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.applier.Rebase(id, patch) {
		return Applied
	}
	if r.ttl <= 0 {
		r.metric.DroppedUpdates(r.applier.Name(), 1)
		r.logger.Debug("update for unknown entity dropped", "entity", r.applier.Name(), "id", id)
		return Dropped
	}

	list := r.early[id]
	if len(list) >= r.max {
		list = list[1:]
		r.total--
		r.metric.DroppedUpdates(r.applier.Name(), 1)
	}
	r.early[id] = append(list, earlyUpdate[T]{patch: patch, at: r.now()})
	r.total++
	r.metric.BufferedUpdates(r.applier.Name(), r.total)
	r.logger.Debug("update buffered until create", "entity", r.applier.Name(), "id", id, "buffered", len(r.early[id]))
	return Buffered
}

// MergeDelete removes id and discards anything pending or buffered for it.
func (r *Reconciler[T]) MergeDelete(id string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if list, ok := r.early[id]; ok {
		r.total -= len(list)
		delete(r.early, id)
		r.metric.BufferedUpdates(r.applier.Name(), r.total)
	}
	r.applier.Forget(id)
}

// Sweep drops buffered updates older than the TTL and returns how many were dropped.
func (r *Reconciler[T]) Sweep() int {
	r.mu.Lock()
	defer r.mu.Unlock()

	cutoff := r.now().Add(-r.ttl)
	dropped := 0
	for id, list := range r.early {
		keep := list[:0]
		for _, u := range list {
			if u.at.Before(cutoff) {
				dropped++
				continue
			}
			keep = append(keep, u)
		}
		if len(keep) == 0 {
			delete(r.early, id)
		} else {
			r.early[id] = keep
		}
	}
	if dropped > 0 {
		r.total -= dropped
		r.metric.DroppedUpdates(r.applier.Name(), dropped)
		r.metric.BufferedUpdates(r.applier.Name(), r.total)
		r.logger.Debug("expired early updates", "entity", r.applier.Name(), "count", dropped)
	}
	return dropped
}

// Buffered returns the number of updates held for id.
func (r *Reconciler[T]) Buffered(id string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.early[id])
}
