// Package errors provides structured, coded errors for the Shot On Me client core.
//
// Every failure a view can surface to the user carries a code and a category
// so callers can branch on it without parsing messages.
//
// # Error Categories
//
//   - network: the request did not reach or complete on the server
//   - timeout: the request exceeded its deadline
//   - validation: rejected client-side before any mutation or network call
//   - business: a distinguished server rule (insufficient balance, duplicate request)
//   - protocol: malformed payloads on the REST or push channel
//   - state: misuse of the optimistic engine (unknown or settled handles)
//   - config: invalid shotonme.json or environment
//   - cli: command line usage errors
//
// # Usage
//
//	err := errors.New("S020").WithDetail("message text is blank")
//	if errors.HasCode(err, "S020") {
//	    // validation failure, nothing was mutated
//	}
//
//	fmt.Println(err.Format())
package errors
