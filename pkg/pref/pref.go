// Package pref provides local UI preferences persisted across runs.
//
// Preferences are small typed values, such as whether the feed shows friend
// suggestions. Conflicts between this process and another writer of the same
// backend resolve last-write-wins by default.
//
// Example:
//
//	b, _ := pref.OpenPebble(dir)
//	defer b.Close()
//
//	show := pref.FriendSuggestions(b)
//	if show.Get() {
//	    // render suggestions
//	}
//	_ = show.Set(false)
package pref

import (
	"encoding/json"
	"sync"
	"time"

	apperrors "github.com/shotonme/shotonme/internal/errors"
)

// MergeStrategy determines how conflicts are resolved when local and stored values differ.
type MergeStrategy int

const (
	// LWW keeps whichever value was written last.
	LWW MergeStrategy = iota

	// RemoteWins always adopts the stored value.
	RemoteWins

	// LocalWins keeps the in-memory value.
	LocalWins
)

// Option configures a preference.
type Option func(*config)

type config struct {
	mergeStrategy   MergeStrategy
	conflictHandler func(local, remote any) any
	backend         Backend
	now             func() time.Time
}

// MergeWith sets the merge strategy for conflict resolution.
func MergeWith(strategy MergeStrategy) Option {
	return func(c *config) {
		c.mergeStrategy = strategy
	}
}

// OnConflict sets a custom conflict handler.
// The handler receives local and remote values and returns the resolved value.
func OnConflict(handler func(local, remote any) any) Option {
	return func(c *config) {
		c.conflictHandler = handler
	}
}

// WithBackend persists the preference in b.
func WithBackend(b Backend) Option {
	return func(c *config) {
		c.backend = b
	}
}

// WithClock overrides the time source used for write timestamps.
func WithClock(now func() time.Time) Option {
	return func(c *config) {
		c.now = now
	}
}

// Pref is a typed preference value.
type Pref[T any] struct {
	key       string
	value     T
	defaults  T
	updatedAt time.Time
	config    config

	mu sync.RWMutex
}

// New creates a preference with the given key and default value. If a backend
// is configured the stored value, when present, is loaded immediately; a load
// failure leaves the default in place and is returned by Load.
func New[T any](key string, defaultValue T, opts ...Option) *Pref[T] {
	cfg := config{
		mergeStrategy: LWW,
		now:           time.Now,
	}
	for _, opt := range opts {
		opt(&cfg)
	}

	p := &Pref[T]{
		key:      key,
		value:    defaultValue,
		defaults: defaultValue,
		config:   cfg,
	}
	_ = p.Load()
	return p
}

// Get returns the current value.
func (p *Pref[T]) Get() T {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.value
}

// Set updates the value and persists it.
func (p *Pref[T]) Set(value T) error {
	p.mu.Lock()
	p.value = value
	p.updatedAt = p.config.now()
	rec, err := p.recordLocked()
	p.mu.Unlock()
	if err != nil {
		return err
	}

	if p.config.backend == nil {
		return nil
	}
	if err := p.config.backend.Save(p.key, rec); err != nil {
		return apperrors.Newf(apperrors.CategoryState, "save preference %q", p.key).Wrap(err)
	}
	return nil
}

// Reset restores the default value.
func (p *Pref[T]) Reset() error {
	return p.Set(p.defaults)
}

// Key returns the preference key.
func (p *Pref[T]) Key() string {
	return p.key
}

// UpdatedAt returns when the preference was last written. It is zero for a
// default that was never set.
func (p *Pref[T]) UpdatedAt() time.Time {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.updatedAt
}

// Load reads the stored value and merges it in.
func (p *Pref[T]) Load() error {
	if p.config.backend == nil {
		return nil
	}
	rec, ok, err := p.config.backend.Load(p.key)
	if err != nil {
		return apperrors.Newf(apperrors.CategoryState, "load preference %q", p.key).Wrap(err)
	}
	if !ok {
		return nil
	}
	var v T
	if err := json.Unmarshal(rec.Value, &v); err != nil {
		return apperrors.Newf(apperrors.CategoryState, "decode preference %q", p.key).Wrap(err)
	}
	p.SetFromRemote(v, rec.UpdatedAt)
	return nil
}

// SetFromRemote merges a value written elsewhere, using the configured
// merge strategy.
func (p *Pref[T]) SetFromRemote(value T, remoteUpdatedAt time.Time) {
	p.mu.Lock()
	defer p.mu.Unlock()

	resolved := p.resolveConflict(p.value, value, p.updatedAt, remoteUpdatedAt)
	if resolvedT, ok := resolved.(T); ok {
		p.value = resolvedT
		if remoteUpdatedAt.After(p.updatedAt) {
			p.updatedAt = remoteUpdatedAt
		}
	}
}

// resolveConflict applies the merge strategy to resolve conflicts.
func (p *Pref[T]) resolveConflict(local, remote any, localTime, remoteTime time.Time) any {
	if p.config.conflictHandler != nil {
		return p.config.conflictHandler(local, remote)
	}

	switch p.config.mergeStrategy {
	case RemoteWins:
		return remote
	case LocalWins:
		return local
	default:
		if !remoteTime.Before(localTime) {
			return remote
		}
		return local
	}
}

func (p *Pref[T]) recordLocked() (Record, error) {
	b, err := json.Marshal(p.value)
	if err != nil {
		return Record{}, apperrors.Newf(apperrors.CategoryState, "encode preference %q", p.key).Wrap(err)
	}
	return Record{Value: b, UpdatedAt: p.updatedAt}, nil
}

// MarshalJSON implements json.Marshaler.
func (p *Pref[T]) MarshalJSON() ([]byte, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()

	return json.Marshal(struct {
		Key       string    `json:"key"`
		Value     T         `json:"value"`
		UpdatedAt time.Time `json:"updated_at"`
	}{
		Key:       p.key,
		Value:     p.value,
		UpdatedAt: p.updatedAt,
	})
}
