// Package conversation derives stable conversation identifiers from their
// participants, so a thread can be opened before the server has seen it.
//
// Direct ids must match the server's derivation exactly: both participant
// ids sorted lexicographically and joined with Separator.
package conversation

import (
	"strings"
)

// Separator joins the two participant ids of a direct conversation.
const Separator = "_"

// GroupPrefix marks group conversation ids.
const GroupPrefix = "group:"

// DirectID returns the conversation id for a 1:1 thread between a and b.
// DirectID(a, b) == DirectID(b, a).
func DirectID(a, b string) string {
	if b < a {
		a, b = b, a
	}
	return a + Separator + b
}

// GroupID returns the conversation id for a group. Ids that already carry
// GroupPrefix are returned unchanged.
func GroupID(id string) string {
	if id == "" || strings.HasPrefix(id, GroupPrefix) {
		return id
	}
	return GroupPrefix + id
}

// IsGroup reports whether id names a group conversation.
func IsGroup(id string) bool {
	return strings.HasPrefix(id, GroupPrefix)
}

// Participants splits a direct conversation id into its two participants.
// ok is false for group ids and for ids that cannot be split unambiguously.
func Participants(id string) (a, b string, ok bool) {
	if IsGroup(id) || strings.Count(id, Separator) != 1 {
		return "", "", false
	}
	a, b, _ = strings.Cut(id, Separator)
	if a == "" || b == "" || b < a {
		return "", "", false
	}
	return a, b, true
}

// Other returns the participant of direct conversation id that is not viewer.
func Other(id, viewer string) (string, bool) {
	a, b, ok := Participants(id)
	switch {
	case !ok:
		return "", false
	case a == viewer:
		return b, true
	case b == viewer:
		return a, true
	default:
		return "", false
	}
}
