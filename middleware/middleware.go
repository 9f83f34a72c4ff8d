// Package middleware wraps handler dispatch with cross-cutting behavior.
//
// The endpoint engine builds its dispatch chain once at construction:
//
//	Chain(A, B, C)(dispatch) → A(B(C(dispatch)))
//	Execution order: A.before → B.before → C.before → dispatch → C.after → B.after → A.after
package middleware

import (
	"context"
	"encoding/json"

	"ws-rpc/message"
)

// HandlerFunc is the dispatch signature middleware wraps: the full request
// envelope goes in, the raw response body comes out.
type HandlerFunc func(ctx context.Context, req *message.Message) (json.RawMessage, error)

// Middleware decorates a HandlerFunc with additional behavior.
type Middleware func(next HandlerFunc) HandlerFunc

// Chain composes multiple middlewares into one, preserving registration
// order in the onion model.
func Chain(middlewares ...Middleware) Middleware {
	return func(next HandlerFunc) HandlerFunc {
		for i := len(middlewares) - 1; i >= 0; i-- {
			next = middlewares[i](next)
		}
		return next
	}
}
