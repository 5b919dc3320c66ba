package middleware

import (
	"context"
	"time"

	"socket-rpc/message"
	"socket-rpc/metrics"
)

// Metrics records the count and duration of every invocation.
func Metrics() Middleware {
	return func(next HandlerFunc) HandlerFunc {
		return func(ctx context.Context, meta *message.MethodInvokeMeta) *message.Result {
			start := time.Now()
			res := next(ctx, meta)
			metrics.RecordServerRequest(meta.Interface, meta.Signature(), StatusLabel(res), time.Since(start))
			return res
		}
	}
}
