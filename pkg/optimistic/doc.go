// Package optimistic applies user-intent changes to an Entity Store before the
// server confirms them, and guarantees each change is either committed or undone.
//
// # How It Works
//
// A view wants instant feedback for a like, a message or a payment:
//  1. Apply records the entity's current state and writes the transformed state
//  2. The caller performs the network call itself
//  3. On success, Commit installs the server's entity as the new truth
//  4. On failure or timeout, Rollback undoes the change
//
// # Multiple In-Flight Mutations
//
// Each entity with pending work keeps an authoritative base and an ordered
// queue of pending transforms. The visible entity is always the base with the
// queue replayed on top:
//
//	visible = tN(...t2(t1(base)))
//
//   - Rollback removes one transform and replays the rest, so a failed like
//     does not erase a comment sent after it.
//   - Commit replaces the base with the server entity and replays the rest.
//   - Rebase patches the base with pushed server state and replays the rest.
//
// Rolling back the only pending mutation writes the snapshot taken at Apply
// time back unchanged.
//
// Because transforms are replayed on top of fresh server state, they should
// set the intended end state (reaction.Set.With) rather than apply a delta.
//
// # Creates
//
// ApplyCreate inserts an entity under a client-generated temporary id. Its
// commit swaps the temporary entry for the authoritative one in place. Rolling
// back a create removes the entity and fails every mutation queued behind it.
//
// Every call performs exactly one store write. No network I/O happens here.
package optimistic
