// Package api is the REST client for the Shot On Me backend.
//
// Every response is normalized at this boundary into the canonical pkg/model
// entities: ids may arrive as "id" or "_id", timestamps as "createdAt" or
// "created_at" in any common layout, and authors as nested objects or bare
// ids. Code above this package never branches on payload shape.
//
// Each call carries a bounded timeout (DefaultTimeout unless configured) and
// makes a single attempt. Failures are returned as coded errors from
// internal/errors, with two business conditions surfaced as distinct types:
//
//	var ib *api.InsufficientBalanceError
//	if errors.As(err, &ib) {
//	    // offer to add at least ib.ShortfallCents
//	}
//
// A circuit breaker fails calls fast once the backend is clearly down, so an
// optimistic change is rolled back immediately instead of after a timeout.
package api
