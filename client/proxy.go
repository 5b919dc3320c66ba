package client

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"socket-rpc/message"
	"socket-rpc/metrics"
)

var (
	ErrRemoteCallTimeout = errors.New("client: remote call timed out")
	ErrArgumentCount     = errors.New("client: argument count does not match signature")
)

// Signature is the declared shape of a remote method.
type Signature struct {
	ParameterTypes []string
	ReturnType     string // message.TypeVoid when the method returns nothing
}

// Proxy invokes methods of one remote interface.
type Proxy struct {
	iface  string
	client *Client
}

func (p *Proxy) Interface() string { return p.iface }

// Invoke calls method on the remote interface and blocks until it answers.
//
// args are JSON-encoded positionally and must match sig.ParameterTypes. On a
// value result it is decoded into reply (which may be nil to discard it). The
// returned error is a *message.Fault for faults raised by the server,
// ErrRemoteCallTimeout when no answer arrives within the deadline of ctx (or
// the client's call timeout if ctx has none), transport.ErrNoUsableConnection
// when no connection is open, or transport.ErrConnectionLost when the
// connection drops mid-call.
func (p *Proxy) Invoke(ctx context.Context, method string, sig Signature, reply any, args ...any) error {
	start := time.Now()
	meta, err := p.buildMeta(method, sig, args)
	if err != nil {
		return err
	}

	err = p.invoke(ctx, meta, reply)

	status := callStatus(err)
	if err == nil && sig.ReturnType == message.TypeVoid {
		status = "void"
	}
	metrics.RecordClientCall(p.iface, meta.Signature(), status, time.Since(start))
	p.client.logger.Debug("remote call",
		zap.String("interface", p.iface),
		zap.String("method", meta.Signature()),
		zap.String("status", status),
		zap.Duration("duration", time.Since(start)),
		zap.Error(err),
	)
	return err
}

func (p *Proxy) buildMeta(method string, sig Signature, args []any) (*message.MethodInvokeMeta, error) {
	if len(args) != len(sig.ParameterTypes) {
		return nil, fmt.Errorf("%w: %s.%s wants %d, got %d", ErrArgumentCount, p.iface, method, len(sig.ParameterTypes), len(args))
	}
	raw := make([][]byte, len(args))
	for i, a := range args {
		b, err := json.Marshal(a)
		if err != nil {
			return nil, fmt.Errorf("client: encode argument %d of %s.%s: %w", i, p.iface, method, err)
		}
		raw[i] = b
	}
	returnType := sig.ReturnType
	if returnType == "" {
		returnType = message.TypeVoid
	}
	return &message.MethodInvokeMeta{
		Interface:      p.iface,
		MethodName:     method,
		ParameterTypes: sig.ParameterTypes,
		Args:           raw,
		ReturnType:     returnType,
	}, nil
}

func (p *Proxy) invoke(ctx context.Context, meta *message.MethodInvokeMeta, reply any) error {
	if _, ok := ctx.Deadline(); !ok && p.client.cfg.CallTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, p.client.cfg.CallTimeout)
		defer cancel()
	}

	conn, err := p.client.registry.Acquire(ctx)
	if err != nil {
		return p.timeoutErr(meta, err)
	}
	res, err := conn.RoundTrip(ctx, meta)
	if err != nil {
		return p.timeoutErr(meta, err)
	}

	switch res.Status {
	case message.StatusFault:
		return res.Fault
	case message.StatusVoid:
		return nil
	}
	if reply == nil {
		return nil
	}
	if err := json.Unmarshal(res.Value, reply); err != nil {
		return fmt.Errorf("client: decode %s result of %s.%s: %w", meta.ReturnType, p.iface, meta.Signature(), err)
	}
	return nil
}

func (p *Proxy) timeoutErr(meta *message.MethodInvokeMeta, err error) error {
	if errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("%w: %s.%s", ErrRemoteCallTimeout, p.iface, meta.Signature())
	}
	return err
}

func callStatus(err error) string {
	var f *message.Fault
	switch {
	case err == nil:
		return "ok"
	case errors.As(err, &f):
		return string(f.Kind)
	case errors.Is(err, ErrRemoteCallTimeout):
		return "timeout"
	}
	return "error"
}

// Call invokes a method returning R. Hand-written stubs use it for every
// non-void method.
func Call[R any](ctx context.Context, p *Proxy, method string, sig Signature, args ...any) (R, error) {
	var reply R
	err := p.Invoke(ctx, method, sig, &reply, args...)
	return reply, err
}

// CallVoid invokes a method that returns nothing.
func CallVoid(ctx context.Context, p *Proxy, method string, sig Signature, args ...any) error {
	if sig.ReturnType == "" {
		sig.ReturnType = message.TypeVoid
	}
	return p.Invoke(ctx, method, sig, nil, args...)
}
