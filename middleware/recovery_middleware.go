package middleware

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"socket-rpc/logging"
	"socket-rpc/message"
)

// Recovery turns a panic further down the chain into an Exception fault.
func Recovery(logger *zap.Logger) Middleware {
	logger = logging.OrNop(logger)
	return func(next HandlerFunc) HandlerFunc {
		return func(ctx context.Context, meta *message.MethodInvokeMeta) (res *message.Result) {
			defer func() {
				if r := recover(); r != nil {
					logger.Error("panic in handler",
						zap.String("interface", meta.Interface),
						zap.String("method", meta.Signature()),
						zap.Any("panic", r),
						zap.Stack("stack"),
					)
					res = message.FaultResult(&message.Fault{
						Kind:    message.FaultException,
						Message: fmt.Sprintf("panic: %v", r),
					})
				}
			}()
			return next(ctx, meta)
		}
	}
}
