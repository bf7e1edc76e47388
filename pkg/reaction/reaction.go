// Package reaction implements the per-viewer reaction and like sets attached
// to posts and comments.
//
// A Set tracks, for every reaction kind, the aggregate count and the users that
// contributed to it, plus the viewer's own reactions. Toggling is a two-state
// machine per (entity, viewer, kind):
//
//	not-reacted --toggle--> reacted --toggle--> not-reacted
//
// Reacting adds the viewer and increments the count; toggling an existing
// reaction removes the viewer, decrements the count (never below zero) and
// drops the kind when it reaches zero. Toggling twice is the identity.
//
// Server payloads always describe absolute state, so Replace adopts them
// wholesale instead of applying them as deltas. This makes an HTTP response
// and a push event for the same change converge to one result.
package reaction

import (
	"slices"
	"sort"
)

// Like is the kind used for plain likes, which are modelled as a
// single-kind reaction set.
const Like = "like"

// Aggregate is the count and contributing users for one reaction kind.
type Aggregate struct {
	Count int      `json:"count"`
	Users []string `json:"users,omitempty"`
}

// Set is the reaction state of one entity as seen by one viewer.
// The zero value is an empty set.
type Set struct {
	Counts map[string]Aggregate `json:"counts,omitempty"`
	Mine   map[string]struct{}  `json:"-"`
}

// Has reports whether the viewer has reacted with kind.
func (s Set) Has(kind string) bool {
	_, ok := s.Mine[kind]
	return ok
}

// Count returns the aggregate count for kind.
func (s Set) Count(kind string) int {
	return s.Counts[kind].Count
}

// Total returns the sum of all aggregate counts.
func (s Set) Total() int {
	n := 0
	for _, a := range s.Counts {
		n += a.Count
	}
	return n
}

// Kinds returns the reaction kinds with a non-zero count, sorted.
func (s Set) Kinds() []string {
	kinds := make([]string, 0, len(s.Counts))
	for k := range s.Counts {
		kinds = append(kinds, k)
	}
	sort.Strings(kinds)
	return kinds
}

// MineKinds returns the viewer's reaction kinds, sorted.
func (s Set) MineKinds() []string {
	kinds := make([]string, 0, len(s.Mine))
	for k := range s.Mine {
		kinds = append(kinds, k)
	}
	sort.Strings(kinds)
	return kinds
}

// Toggle flips the viewer's membership in kind and returns the new set.
// The receiver is not modified.
func (s Set) Toggle(viewer, kind string) Set {
	return s.With(viewer, kind, !s.Has(kind))
}

// With returns the set with the viewer's membership in kind set to on.
// It is a no-op when the viewer is already in that state, so replaying it on
// top of server state that already reflects the change does not double count.
func (s Set) With(viewer, kind string, on bool) Set {
	if s.Has(kind) == on {
		return s.Clone()
	}
	out := s.Clone()
	if out.Counts == nil {
		out.Counts = make(map[string]Aggregate)
	}
	if out.Mine == nil {
		out.Mine = make(map[string]struct{})
	}

	agg := out.Counts[kind]
	if on {
		out.Mine[kind] = struct{}{}
		agg.Count++
		if viewer != "" && !slices.Contains(agg.Users, viewer) {
			agg.Users = append(agg.Users, viewer)
		}
	} else {
		delete(out.Mine, kind)
		agg.Count--
		if agg.Count < 0 {
			agg.Count = 0
		}
		agg.Users = slices.DeleteFunc(agg.Users, func(u string) bool { return u == viewer })
	}

	if agg.Count == 0 {
		delete(out.Counts, kind)
	} else {
		out.Counts[kind] = agg
	}
	return out.normalize()
}

// Replace returns the authoritative aggregate with the viewer's membership
// derived from each kind's user list.
func Replace(counts map[string]Aggregate, viewer string) Set {
	out := Set{}
	for kind, agg := range counts {
		if agg.Count <= 0 {
			continue
		}
		if out.Counts == nil {
			out.Counts = make(map[string]Aggregate)
		}
		out.Counts[kind] = Aggregate{Count: agg.Count, Users: slices.Clone(agg.Users)}
		if viewer != "" && slices.Contains(agg.Users, viewer) {
			if out.Mine == nil {
				out.Mine = make(map[string]struct{})
			}
			out.Mine[kind] = struct{}{}
		}
	}
	return out
}

// Clone returns a deep copy of the set.
func (s Set) Clone() Set {
	var out Set
	if s.Counts != nil {
		out.Counts = make(map[string]Aggregate, len(s.Counts))
		for k, a := range s.Counts {
			out.Counts[k] = Aggregate{Count: a.Count, Users: slices.Clone(a.Users)}
		}
	}
	if s.Mine != nil {
		out.Mine = make(map[string]struct{}, len(s.Mine))
		for k := range s.Mine {
			out.Mine[k] = struct{}{}
		}
	}
	return out
}

// Equal reports whether two sets hold the same counts, users and viewer membership.
// Nil and empty maps compare equal.
func (s Set) Equal(o Set) bool {
	if len(s.Counts) != len(o.Counts) || len(s.Mine) != len(o.Mine) {
		return false
	}
	for k, a := range s.Counts {
		b, ok := o.Counts[k]
		if !ok || a.Count != b.Count {
			return false
		}
		au, bu := slices.Clone(a.Users), slices.Clone(b.Users)
		sort.Strings(au)
		sort.Strings(bu)
		if !slices.Equal(au, bu) {
			return false
		}
	}
	for k := range s.Mine {
		if _, ok := o.Mine[k]; !ok {
			return false
		}
	}
	return true
}

// Valid reports whether every viewer reaction has a positive aggregate count.
func (s Set) Valid() bool {
	for k := range s.Mine {
		if s.Counts[k].Count <= 0 {
			return false
		}
	}
	for _, a := range s.Counts {
		if a.Count <= 0 {
			return false
		}
	}
	return true
}

// normalize collapses empty maps to nil so toggling back to the start
// yields a value identical to the zero set.
func (s Set) normalize() Set {
	if len(s.Counts) == 0 {
		s.Counts = nil
	}
	if len(s.Mine) == 0 {
		s.Mine = nil
	}
	for k, a := range s.Counts {
		if len(a.Users) == 0 && a.Users != nil {
			a.Users = nil
			s.Counts[k] = a
		}
	}
	return s
}
