// Package middleware provides the HTTP middleware mounted on modules:
// CORS, request logging, tracing and bearer authentication.
package middleware

import "net/http"

// Func wraps a handler.
type Func func(http.Handler) http.Handler

// Stack is an ordered list of middleware. The first entry is outermost.
type Stack []Func

// Use appends mw to the stack.
func (s *Stack) Use(mw Func) {
	*s = append(*s, mw)
}

// Apply wraps handler with every middleware in the stack.
func (s Stack) Apply(handler http.Handler) http.Handler {
	for i := len(s) - 1; i >= 0; i-- {
		handler = s[i](handler)
	}
	return handler
}
