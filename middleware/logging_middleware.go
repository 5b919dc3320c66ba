package middleware

import (
	"context"
	"time"

	"go.uber.org/zap"

	"socket-rpc/logging"
	"socket-rpc/message"
)

func Logging(logger *zap.Logger) Middleware {
	logger = logging.OrNop(logger)
	return func(next HandlerFunc) HandlerFunc {
		return func(ctx context.Context, meta *message.MethodInvokeMeta) *message.Result {
			start := time.Now()
			res := next(ctx, meta)
			fields := []zap.Field{
				zap.String("interface", meta.Interface),
				zap.String("method", meta.Signature()),
				zap.String("status", StatusLabel(res)),
				zap.Duration("duration", time.Since(start)),
			}
			if res != nil && res.Fault != nil {
				logger.Info("invocation failed", append(fields, zap.String("fault", res.Fault.Message))...)
				return res
			}
			logger.Debug("invocation", fields...)
			return res
		}
	}
}
