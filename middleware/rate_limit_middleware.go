package middleware

import (
	"context"

	"golang.org/x/time/rate"

	"socket-rpc/message"
)

// RateLimit rejects invocations beyond r per second (token bucket, burst size
// burst) with an Exception fault. The connection stays open.
func RateLimit(r float64, burst int) Middleware {
	limiter := rate.NewLimiter(rate.Limit(r), burst)
	return func(next HandlerFunc) HandlerFunc {
		return func(ctx context.Context, meta *message.MethodInvokeMeta) *message.Result {
			if !limiter.Allow() {
				return message.FaultResult(&message.Fault{
					Kind:    message.FaultException,
					Message: "rate limit exceeded",
				})
			}
			return next(ctx, meta)
		}
	}
}
