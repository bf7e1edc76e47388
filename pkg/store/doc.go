// Package store provides the in-memory Entity Store each view renders from.
//
// A Store is a keyed collection that remembers insertion order. Upserting an
// existing id replaces the entry where it already sits, so updates never move
// an entity; only creation decides its position.
//
// Usage:
//
//	posts := store.New[model.Post]()
//	posts.Upsert(post)
//	for p := range posts.All() {
//	    render(p)
//	}
//
// Values go in and come out as clones, so callers can never mutate stored
// state behind the optimistic engine's back.
package store
