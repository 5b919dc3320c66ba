package server

import (
	"context"
	"encoding/json"
	"fmt"

	"go.uber.org/zap"

	"socket-rpc/logging"
	"socket-rpc/message"
	"socket-rpc/middleware"
)

// Dispatcher resolves an invocation against a ServiceTable and runs it through
// the middleware chain.
//
//	meta → middleware chain → lookup(interface, "method(t1,...)") → Handler → Result
type Dispatcher struct {
	table   *ServiceTable
	handler middleware.HandlerFunc
	logger  *zap.Logger
}

// NewDispatcher builds the handler chain once; Chain(A, B)(invoke) runs A first.
func NewDispatcher(table *ServiceTable, logger *zap.Logger, mws ...middleware.Middleware) *Dispatcher {
	d := &Dispatcher{table: table, logger: logging.OrNop(logger)}
	d.handler = middleware.Chain(mws...)(d.invoke)
	return d
}

// Dispatch runs meta and returns its result. terminal reports that the
// connection must be closed once the result is written, which is the case for
// NoSuchMethod only.
func (d *Dispatcher) Dispatch(ctx context.Context, meta *message.MethodInvokeMeta) (res *message.Result, terminal bool) {
	res = d.handler(ctx, meta)
	if res == nil {
		res = message.FaultResult(&message.Fault{Kind: message.FaultException, Message: "no result"})
	}
	terminal = res.Status == message.StatusFault && res.Fault != nil && res.Fault.Kind == message.FaultNoSuchMethod
	return res, terminal
}

// invoke is the innermost handler of the chain.
func (d *Dispatcher) invoke(ctx context.Context, meta *message.MethodInvokeMeta) (res *message.Result) {
	svc, md, fault := d.table.lookup(meta)
	if fault != nil {
		d.logger.Warn("method not found",
			zap.String("interface", meta.Interface),
			zap.String("method", meta.Signature()),
		)
		return message.FaultResult(fault)
	}

	defer func() {
		if r := recover(); r != nil {
			d.logger.Error("implementation panicked",
				zap.String("interface", meta.Interface),
				zap.String("method", meta.Signature()),
				zap.Any("panic", r),
			)
			res = message.FaultResult(&message.Fault{
				Kind:    message.FaultException,
				Message: fmt.Sprintf("panic: %v", r),
			})
		}
	}()

	v, err := md.Handler(ctx, svc.impl, newArgs(meta))
	if err != nil {
		return message.FaultResult(message.FaultFrom(err))
	}
	if v == nil || md.ReturnType == message.TypeVoid {
		return message.VoidResult()
	}
	value, err := json.Marshal(v)
	if err != nil {
		return message.FaultResult(&message.Fault{
			Kind:    message.FaultException,
			Message: fmt.Sprintf("cannot encode %s result: %v", md.ReturnType, err),
		})
	}
	return message.ValueResult(value)
}
