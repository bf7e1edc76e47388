// Package model defines the canonical client-side entities of the Shot On Me app.
//
// Server payloads come in several shapes (id or _id, nested author objects or
// bare ids, camelCase or snake_case timestamps). They are normalized into these
// types once, at the API and push boundaries, so nothing past that point ever
// branches on payload shape.
//
// Every entity exposes EntityID and a deep Clone so the optimistic engine can
// take isolated snapshots.
package model
