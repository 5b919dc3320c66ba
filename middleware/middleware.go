// Package middleware wraps the server's dispatch handler.
//
// Chain(A, B, C)(h) builds A(B(C(h))): A runs first on the way in and last on
// the way out.
package middleware

import (
	"context"

	"socket-rpc/message"
)

// HandlerFunc handles one invocation and always returns a Result; failures are
// reported as fault results, never as a nil Result.
type HandlerFunc func(ctx context.Context, meta *message.MethodInvokeMeta) *message.Result

type Middleware func(next HandlerFunc) HandlerFunc

// Chain composes middlewares into one.
func Chain(middlewares ...Middleware) Middleware {
	return func(next HandlerFunc) HandlerFunc {
		for i := len(middlewares) - 1; i >= 0; i-- {
			next = middlewares[i](next)
		}
		return next
	}
}

// StatusLabel names the outcome of res for logs and metrics.
func StatusLabel(res *message.Result) string {
	switch {
	case res == nil:
		return "nil"
	case res.Status == message.StatusValue:
		return "value"
	case res.Status == message.StatusVoid:
		return "void"
	case res.Fault != nil:
		return string(res.Fault.Kind)
	}
	return "fault"
}
