package store

import (
	"iter"
	"slices"
	"sync"
)

// Entity is the constraint for values held by a Store.
type Entity[T any] interface {
	EntityID() string
	Clone() T
}

// Op identifies the kind of change reported to watchers.
type Op int

const (
	OpInsert Op = iota
	OpUpdate
	OpRemove
	OpRekey
)

// String returns the op name.
func (o Op) String() string {
	switch o {
	case OpInsert:
		return "insert"
	case OpUpdate:
		return "update"
	case OpRemove:
		return "remove"
	case OpRekey:
		return "rekey"
	default:
		return "unknown"
	}
}

// Change describes one store write.
type Change struct {
	Op    Op
	ID    string
	OldID string // set for OpRekey
}

// Store is an insertion-ordered keyed collection of entities.
// It is safe for concurrent use.
type Store[T Entity[T]] struct {
	mu       sync.RWMutex
	order    []string
	items    map[string]T
	watchers map[uint64]func(Change)
	nextW    uint64
}

// New creates an empty store.
func New[T Entity[T]]() *Store[T] {
	return &Store[T]{
		items:    make(map[string]T),
		watchers: make(map[uint64]func(Change)),
	}
}

// Upsert inserts e at the end if its id is new, otherwise replaces the
// existing entry in place.
func (s *Store[T]) Upsert(e T) {
	s.upsert(e, false)
}

// UpsertFront is like Upsert but new entities go to the front.
func (s *Store[T]) UpsertFront(e T) {
	s.upsert(e, true)
}

func (s *Store[T]) upsert(e T, front bool) {
	id := e.EntityID()
	if id == "" {
		return
	}

	s.mu.Lock()
	op := OpUpdate
	if _, ok := s.items[id]; !ok {
		op = OpInsert
		if front {
			s.order = slices.Insert(s.order, 0, id)
		} else {
			s.order = append(s.order, id)
		}
	}
	s.items[id] = e.Clone()
	s.mu.Unlock()

	s.notify(Change{Op: op, ID: id})
}

// Rekey replaces the entry stored under oldID with e, keeping oldID's position.
// If e's id is already present elsewhere the oldID entry is dropped and the
// existing entry is updated in place, so the store never holds both.
// If oldID is absent Rekey behaves like Upsert.
func (s *Store[T]) Rekey(oldID string, e T) {
	newID := e.EntityID()
	if newID == "" {
		return
	}
	if oldID == newID {
		s.Upsert(e)
		return
	}

	s.mu.Lock()
	oldIdx := slices.Index(s.order, oldID)
	if oldIdx < 0 {
		s.mu.Unlock()
		s.Upsert(e)
		return
	}
	delete(s.items, oldID)
	if _, exists := s.items[newID]; exists {
		s.order = slices.Delete(s.order, oldIdx, oldIdx+1)
	} else {
		s.order[oldIdx] = newID
	}
	s.items[newID] = e.Clone()
	s.mu.Unlock()

	s.notify(Change{Op: OpRekey, ID: newID, OldID: oldID})
}

// Remove deletes the entity with id. Removing a missing id is a no-op.
func (s *Store[T]) Remove(id string) {
	s.mu.Lock()
	if _, ok := s.items[id]; !ok {
		s.mu.Unlock()
		return
	}
	delete(s.items, id)
	if i := slices.Index(s.order, id); i >= 0 {
		s.order = slices.Delete(s.order, i, i+1)
	}
	s.mu.Unlock()

	s.notify(Change{Op: OpRemove, ID: id})
}

// Get returns a copy of the entity with id.
func (s *Store[T]) Get(id string) (T, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	e, ok := s.items[id]
	if !ok {
		var zero T
		return zero, false
	}
	return e.Clone(), true
}

// Has reports whether an entity with id is stored.
func (s *Store[T]) Has(id string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.items[id]
	return ok
}

// Len returns the number of stored entities.
func (s *Store[T]) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.order)
}

// IDs returns the stored ids in order.
func (s *Store[T]) IDs() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return slices.Clone(s.order)
}

// All returns the entities in order as a lazy sequence. Each iteration
// starts from the store's current order; entities removed mid-iteration
// are skipped.
func (s *Store[T]) All() iter.Seq[T] {
	return func(yield func(T) bool) {
		for _, id := range s.IDs() {
			e, ok := s.Get(id)
			if !ok {
				continue
			}
			if !yield(e) {
				return
			}
		}
	}
}

// Slice collects All into a slice.
func (s *Store[T]) Slice() []T {
	return slices.Collect(s.All())
}

// Find returns the first entity matching fn.
func (s *Store[T]) Find(fn func(T) bool) (T, bool) {
	for e := range s.All() {
		if fn(e) {
			return e, true
		}
	}
	var zero T
	return zero, false
}

// Clear removes every entity.
func (s *Store[T]) Clear() {
	s.mu.Lock()
	ids := s.order
	s.order = nil
	s.items = make(map[string]T)
	s.mu.Unlock()

	for _, id := range ids {
		s.notify(Change{Op: OpRemove, ID: id})
	}
}

// Watch registers fn to be called after every write. The returned function
// unregisters it. Callbacks run on the writing goroutine, outside the lock.
func (s *Store[T]) Watch(fn func(Change)) (cancel func()) {
	s.mu.Lock()
	id := s.nextW
	s.nextW++
	s.watchers[id] = fn
	s.mu.Unlock()

	return func() {
		s.mu.Lock()
		delete(s.watchers, id)
		s.mu.Unlock()
	}
}

func (s *Store[T]) notify(c Change) {
	s.mu.RLock()
	if len(s.watchers) == 0 {
		s.mu.RUnlock()
		return
	}
	fns := make([]func(Change), 0, len(s.watchers))
	for _, fn := range s.watchers {
		fns = append(fns, fn)
	}
	s.mu.RUnlock()

	for _, fn := range fns {
		fn(c)
	}
}
