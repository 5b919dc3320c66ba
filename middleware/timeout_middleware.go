package middleware

import (
	"context"
	"time"

	"socket-rpc/message"
)

// Timeout answers with an Exception fault when next takes longer than timeout.
// next keeps running in the background with a cancelled context.
func Timeout(timeout time.Duration) Middleware {
	return func(next HandlerFunc) HandlerFunc {
		return func(ctx context.Context, meta *message.MethodInvokeMeta) *message.Result {
			ctx, cancel := context.WithTimeout(ctx, timeout)
			defer cancel()

			done := make(chan *message.Result, 1)
			go func() {
				done <- next(ctx, meta)
			}()

			select {
			case res := <-done:
				return res
			case <-ctx.Done():
				return message.FaultResult(&message.Fault{
					Kind:    message.FaultException,
					Message: "request timed out",
				})
			}
		}
	}
}
