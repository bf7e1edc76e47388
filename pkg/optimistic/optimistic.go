package optimistic

import (
	"log/slog"
	"slices"
	"strings"
	"sync"

	"github.com/google/uuid"

	apperrors "github.com/shotonme/shotonme/internal/errors"
	"github.com/shotonme/shotonme/pkg/metrics"
	"github.com/shotonme/shotonme/pkg/store"
)

// Status is the lifecycle state of a pending mutation.
type Status int

const (
	Pending Status = iota
	Committed
	Failed
)

// String returns the status name.
func (s Status) String() string {
	switch s {
	case Pending:
		return "pending"
	case Committed:
		return "committed"
	case Failed:
		return "failed"
	default:
		return "unknown"
	}
}

// TempPrefix marks client-generated temporary identifiers.
const TempPrefix = "tmp-"

// Transform produces the optimistic state of an entity from its current state.
// It must not change the entity id.
type Transform[T any] func(T) T

// Errors returned by the applier. They carry codes from internal/errors.
var (
	ErrUnknownHandle = apperrors.New("S080")
	ErrSettled       = apperrors.New("S081")
	ErrNotFound      = apperrors.New("S082")
)

// Mutation is the record of one optimistic change. It doubles as the handle
// returned by Apply and consumed by Commit or Rollback.
type Mutation[T store.Entity[T]] struct {
	applier    *Applier[T]
	seq        uint64
	targetID   string
	tempID     string
	previous   T
	hadPrev    bool
	optimistic T
	status     Status
	create     bool
	transform  Transform[T]
}

// Seq returns the mutation's sequence number within its applier.
func (m *Mutation[T]) Seq() uint64 { return m.seq }

// TargetID returns the id the mutation currently applies to. For a committed
// create this is the authoritative id.
func (m *Mutation[T]) TargetID() string {
	m.applier.mu.Lock()
	defer m.applier.mu.Unlock()
	return m.targetID
}

// TempID returns the id the entity had when the mutation was applied.
func (m *Mutation[T]) TempID() string { return m.tempID }

// Previous returns the snapshot captured at Apply time. ok is false for creates.
func (m *Mutation[T]) Previous() (prev T, ok bool) { return m.previous, m.hadPrev }

// Optimistic returns the state written at Apply time.
func (m *Mutation[T]) Optimistic() T { return m.optimistic }

// Status returns the mutation's current status.
func (m *Mutation[T]) Status() Status {
	m.applier.mu.Lock()
	defer m.applier.mu.Unlock()
	return m.status
}

// IsCreate reports whether the mutation inserted a new entity.
func (m *Mutation[T]) IsCreate() bool { return m.create }

type entry[T store.Entity[T]] struct {
	base    T
	hasBase bool
	pending []*Mutation[T]
}

// Applier applies and settles optimistic mutations against one store.
// It is safe for concurrent use; writes to one entity are serialized in call order.
type Applier[T store.Entity[T]] struct {
	mu      sync.Mutex
	store   *store.Store[T]
	entries map[string]*entry[T]
	seq     uint64

	name    string
	front   bool
	metrics *metrics.Metrics
	logger  *slog.Logger
}

// Option configures an Applier.
type Option func(*options)

type options struct {
	name    string
	front   bool
	metrics *metrics.Metrics
	logger  *slog.Logger
}

// WithEntityName sets the entity label used in logs and metrics.
func WithEntityName(name string) Option {
	return func(o *options) { o.name = name }
}

// WithCreateAtFront inserts new entities at the front of the store
// (newest-first feeds).
func WithCreateAtFront() Option {
	return func(o *options) { o.front = true }
}

// WithMetrics sets the metrics sink.
func WithMetrics(m *metrics.Metrics) Option {
	return func(o *options) { o.metrics = m }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(o *options) { o.logger = l }
}

// New creates an applier writing to s.
func New[T store.Entity[T]](s *store.Store[T], opts ...Option) *Applier[T] {
	o := options{name: "entity", logger: slog.Default()}
	for _, opt := range opts {
		opt(&o)
	}
	return &Applier[T]{
		store:   s,
		entries: make(map[string]*entry[T]),
		name:    o.name,
		front:   o.front,
		metrics: o.metrics,
		logger:  o.logger,
	}
}

// Store returns the store the applier writes to.
func (a *Applier[T]) Store() *store.Store[T] { return a.store }

// Name returns the entity label.
func (a *Applier[T]) Name() string { return a.name }

// Apply snapshots targetID, writes transform's result and returns the handle.
func (a *Applier[T]) Apply(targetID string, transform Transform[T]) (*Mutation[T], error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	cur, ok := a.store.Get(targetID)
	if !ok {
		return nil, apperrors.New("S082").WithDetail(a.name + " " + targetID)
	}

	e := a.entries[targetID]
	if e == nil {
		e = &entry[T]{base: cur.Clone(), hasBase: true}
		a.entries[targetID] = e
	}

	next := transform(cur.Clone())
	if next.EntityID() != targetID {
		if len(e.pending) == 0 {
			delete(a.entries, targetID)
		}
		return nil, apperrors.Newf(apperrors.CategoryState, "transform changed %s id %q to %q", a.name, targetID, next.EntityID())
	}

	a.seq++
	m := &Mutation[T]{
		applier:    a,
		seq:        a.seq,
		targetID:   targetID,
		tempID:     targetID,
		previous:   cur,
		hadPrev:    true,
		optimistic: next.Clone(),
		transform:  transform,
	}
	e.pending = append(e.pending, m)

	a.store.Upsert(next)
	a.metrics.MutationApplied(a.name)
	a.logger.Debug("optimistic apply", "entity", a.name, "id", targetID, "seq", m.seq, "pending", len(e.pending))
	return m, nil
}

// ApplyCreate inserts ent, which carries a client-generated temporary id.
func (a *Applier[T]) ApplyCreate(ent T) (*Mutation[T], error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	id := ent.EntityID()
	if id == "" || a.store.Has(id) {
		return nil, apperrors.Newf(apperrors.CategoryState, "%s create needs a fresh temporary id, got %q", a.name, id)
	}

	snapshot := ent.Clone()
	a.seq++
	m := &Mutation[T]{
		applier:    a,
		seq:        a.seq,
		targetID:   id,
		tempID:     id,
		optimistic: snapshot,
		create:     true,
		transform:  func(T) T { return snapshot.Clone() },
	}
	a.entries[id] = &entry[T]{pending: []*Mutation[T]{m}}

	if a.front {
		a.store.UpsertFront(ent)
	} else {
		a.store.Upsert(ent)
	}
	a.metrics.MutationApplied(a.name)
	a.logger.Debug("optimistic create", "entity", a.name, "temp_id", id, "seq", m.seq)
	return m, nil
}

// Commit settles m with the server's entity. When authoritative carries a
// different id than the temporary one, the store entry is rekeyed in place.
// An authoritative entity with an empty id means the server confirmed the
// change without returning state; the optimistic transform becomes the base.
func (a *Applier[T]) Commit(m *Mutation[T], authoritative T) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if err := a.check(m); err != nil {
		return err
	}
	a.commit(m, authoritative)
	return nil
}

func (a *Applier[T]) commit(m *Mutation[T], authoritative T) {
	oldID := m.targetID
	e := a.entries[oldID]
	e.pending = remove(e.pending, m)
	m.status = Committed

	newID := authoritative.EntityID()
	switch {
	case newID == "":
		if e.hasBase || m.create {
			e.base = m.transform(e.base.Clone())
			e.hasBase = true
		}
	default:
		e.base = authoritative.Clone()
		e.hasBase = true
	}

	if newID != "" && newID != oldID {
		delete(a.entries, oldID)
		if existing := a.entries[newID]; existing != nil {
			existing.base = e.base
			existing.hasBase = true
			existing.pending = append(existing.pending, e.pending...)
			e = existing
		} else {
			a.entries[newID] = e
		}
		for _, p := range e.pending {
			p.targetID = newID
		}
		m.targetID = newID

		visible, _ := e.fold()
		if len(e.pending) == 0 {
			delete(a.entries, newID)
		}
		a.store.Rekey(oldID, visible)
	} else {
		visible, _ := e.fold()
		if len(e.pending) == 0 {
			delete(a.entries, oldID)
		}
		a.store.Upsert(visible)
	}

	a.metrics.MutationCommitted(a.name)
	a.logger.Debug("optimistic commit", "entity", a.name, "id", m.targetID, "temp_id", oldID, "seq", m.seq)
}

// CommitPatch settles m when the server confirms a sub-entity rather than
// returning the whole entity: patch is applied to the authoritative base in
// place of m's transform.
func (a *Applier[T]) CommitPatch(m *Mutation[T], patch Transform[T]) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if err := a.check(m); err != nil {
		return err
	}
	e := a.entries[m.targetID]
	if !e.hasBase {
		return apperrors.Newf(apperrors.CategoryState, "%s %s has no confirmed state to patch", a.name, m.targetID)
	}

	e.pending = remove(e.pending, m)
	m.status = Committed
	e.base = patch(e.base.Clone())

	visible, _ := e.fold()
	if len(e.pending) == 0 {
		delete(a.entries, m.targetID)
	}
	a.store.Upsert(visible)

	a.metrics.MutationCommitted(a.name)
	a.logger.Debug("optimistic commit", "entity", a.name, "id", m.targetID, "seq", m.seq)
	return nil
}

// Rollback undoes m. Later pending mutations on the same entity are replayed
// on top of the restored base.
func (a *Applier[T]) Rollback(m *Mutation[T]) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if err := a.check(m); err != nil {
		return err
	}

	id := m.targetID
	e := a.entries[id]
	m.status = Failed

	if m.create && !e.hasBase {
		// Nothing can stand without the entity it was applied to.
		for _, p := range e.pending {
			p.status = Failed
		}
		delete(a.entries, id)
		a.store.Remove(id)
		a.metrics.MutationRolledBack(a.name)
		a.logger.Debug("optimistic create rolled back", "entity", a.name, "temp_id", id, "seq", m.seq)
		return nil
	}

	e.pending = remove(e.pending, m)
	var visible T
	if len(e.pending) == 0 {
		visible = e.base
		delete(a.entries, id)
	} else {
		visible, _ = e.fold()
	}
	a.store.Upsert(visible)

	a.metrics.MutationRolledBack(a.name)
	a.logger.Debug("optimistic rollback", "entity", a.name, "id", id, "seq", m.seq, "remaining", len(e.pending))
	return nil
}

// Rebase applies patch to the authoritative state of id and replays pending
// mutations on top. It reports false if the entity is not stored or only
// exists as an unconfirmed create.
func (a *Applier[T]) Rebase(id string, patch Transform[T]) bool {
	a.mu.Lock()
	defer a.mu.Unlock()

	e := a.entries[id]
	if e == nil {
		cur, ok := a.store.Get(id)
		if !ok {
			return false
		}
		a.store.Upsert(patch(cur))
		return true
	}
	if !e.hasBase {
		return false
	}

	e.base = patch(e.base.Clone())
	visible, _ := e.fold()
	a.store.Upsert(visible)
	return true
}

// InsertResult describes what Insert did.
type InsertResult int

const (
	// Inserted means the entity was new and was added.
	Inserted InsertResult = iota
	// Duplicate means an entity with the same id was already stored; nothing changed.
	Duplicate
	// Resolved means a temporary counterpart was replaced in place.
	Resolved
	// Refreshed means a stored entity adopted new authoritative state.
	Refreshed
)

// String returns the result name.
func (r InsertResult) String() string {
	switch r {
	case Inserted:
		return "inserted"
	case Duplicate:
		return "duplicate"
	case Resolved:
		return "resolved"
	case Refreshed:
		return "refreshed"
	default:
		return "unknown"
	}
}

// Insert merges an authoritative create. If ent's id is already stored it is a
// no-op. Otherwise, if correlationKey names a temporary entity, that entity is
// replaced in place (committing its pending create if one is in flight).
// Otherwise ent is added as new.
func (a *Applier[T]) Insert(ent T, correlationKey string) (InsertResult, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	id := ent.EntityID()
	if id == "" {
		return Duplicate, apperrors.Newf(apperrors.CategoryProtocol, "%s create without id", a.name)
	}
	if a.store.Has(id) {
		a.metrics.DuplicateCreate(a.name)
		return Duplicate, nil
	}

	if correlationKey != "" && correlationKey != id {
		if e := a.entries[correlationKey]; e != nil {
			for _, p := range e.pending {
				if p.create {
					a.commit(p, ent)
					return Resolved, nil
				}
			}
		}
		if a.store.Has(correlationKey) {
			a.store.Rekey(correlationKey, ent)
			return Resolved, nil
		}
	}

	if a.front {
		a.store.UpsertFront(ent)
	} else {
		a.store.Upsert(ent)
	}
	return Inserted, nil
}

// Load stores an entity read from a listing. A new id is appended. A known id
// adopts ent as its authoritative state and pending mutations are replayed on
// top, so a refresh never discards an in-flight change.
func (a *Applier[T]) Load(ent T) (InsertResult, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	id := ent.EntityID()
	if id == "" {
		return Duplicate, apperrors.Newf(apperrors.CategoryProtocol, "%s without id", a.name)
	}
	if e := a.entries[id]; e != nil {
		e.base = ent.Clone()
		e.hasBase = true
		visible, _ := e.fold()
		a.store.Upsert(visible)
		return Refreshed, nil
	}
	if a.store.Has(id) {
		a.store.Upsert(ent)
		return Refreshed, nil
	}
	a.store.Upsert(ent)
	return Inserted, nil
}

// Forget removes id from the store and fails every pending mutation on it.
// It is used for explicit deletes.
func (a *Applier[T]) Forget(id string) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if e := a.entries[id]; e != nil {
		for _, p := range e.pending {
			p.status = Failed
		}
		delete(a.entries, id)
	}
	a.store.Remove(id)
}

// Pending returns the in-flight mutations for id in apply order.
func (a *Applier[T]) Pending(id string) []*Mutation[T] {
	a.mu.Lock()
	defer a.mu.Unlock()
	if e := a.entries[id]; e != nil {
		return slices.Clone(e.pending)
	}
	return nil
}

// InFlight returns the number of entities with pending mutations.
func (a *Applier[T]) InFlight() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.entries)
}

// NewTempID returns a client-generated temporary identifier.
func NewTempID() string {
	return TempPrefix + uuid.NewString()
}

// IsTempID reports whether id was produced by NewTempID.
func IsTempID(id string) bool {
	return strings.HasPrefix(id, TempPrefix)
}

func (a *Applier[T]) check(m *Mutation[T]) error {
	if m == nil || m.applier != a {
		return ErrUnknownHandle
	}
	if m.status != Pending {
		return ErrSettled
	}
	if e := a.entries[m.targetID]; e == nil || !slices.Contains(e.pending, m) {
		return ErrUnknownHandle
	}
	return nil
}

// fold replays the pending queue on top of the base.
func (e *entry[T]) fold() (T, bool) {
	var cur T
	ok := e.hasBase
	if ok {
		cur = e.base.Clone()
	}
	for _, p := range e.pending {
		if !ok && !p.create {
			continue
		}
		cur = p.transform(cur)
		ok = true
	}
	return cur, ok
}

func remove[T store.Entity[T]](list []*Mutation[T], m *Mutation[T]) []*Mutation[T] {
	return slices.DeleteFunc(slices.Clone(list), func(p *Mutation[T]) bool { return p == m })
}
