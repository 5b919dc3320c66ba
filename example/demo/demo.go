// Package demo is a small service used by the commands and the end-to-end
// tests. It shows how an interface is exposed: a ServiceDesc on the server
// side and a hand-written Stub on the client side, both naming the same
// exact signatures.
package demo

import (
	"context"
	"sync"

	"go.uber.org/zap"

	"socket-rpc/client"
	"socket-rpc/logging"
	"socket-rpc/message"
	"socket-rpc/server"
)

// ServiceName identifies the interface on the wire.
const ServiceName = "DemoService"

type Service interface {
	// Division returns a / b, or an ErrorParams fault when b is 0.
	Division(ctx context.Context, a, b int32) (float64, error)
	// Record stores a note and returns nothing.
	Record(ctx context.Context, note string) error
	Echo(ctx context.Context, s string) (string, error)
}

var (
	divisionSig = client.Signature{ParameterTypes: []string{"int32", "int32"}, ReturnType: "float64"}
	recordSig   = client.Signature{ParameterTypes: []string{"string"}, ReturnType: message.TypeVoid}
	echoSig     = client.Signature{ParameterTypes: []string{"string"}, ReturnType: "string"}
)

// Impl is the server-side implementation.
type Impl struct {
	logger *zap.Logger

	mu    sync.Mutex
	notes []string
}

var _ Service = (*Impl)(nil)

func NewImpl(logger *zap.Logger) *Impl {
	return &Impl{logger: logging.OrNop(logger)}
}

func (s *Impl) Division(ctx context.Context, a, b int32) (float64, error) {
	if b == 0 {
		return 0, message.ErrorParams("divisor must not be 0")
	}
	return float64(a) / float64(b), nil
}

func (s *Impl) Record(ctx context.Context, note string) error {
	s.mu.Lock()
	s.notes = append(s.notes, note)
	s.mu.Unlock()
	s.logger.Info("note recorded", zap.String("note", note))
	return nil
}

func (s *Impl) Echo(ctx context.Context, str string) (string, error) {
	return str, nil
}

// Notes returns the recorded notes.
func (s *Impl) Notes() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.notes...)
}

// ServiceDesc registers a Service implementation with a server.Server.
var ServiceDesc = server.ServiceDesc{
	Name: ServiceName,
	Methods: []server.MethodDesc{
		{
			Name:           "division",
			ParameterTypes: divisionSig.ParameterTypes,
			ReturnType:     divisionSig.ReturnType,
			Handler: func(ctx context.Context, impl any, args *server.Args) (any, error) {
				var a, b int32
				if err := args.Bind(&a, &b); err != nil {
					return nil, err
				}
				return impl.(Service).Division(ctx, a, b)
			},
		},
		{
			Name:           "record",
			ParameterTypes: recordSig.ParameterTypes,
			ReturnType:     recordSig.ReturnType,
			Handler: func(ctx context.Context, impl any, args *server.Args) (any, error) {
				var note string
				if err := args.Bind(&note); err != nil {
					return nil, err
				}
				return nil, impl.(Service).Record(ctx, note)
			},
		},
		{
			Name:           "echo",
			ParameterTypes: echoSig.ParameterTypes,
			ReturnType:     echoSig.ReturnType,
			Handler: func(ctx context.Context, impl any, args *server.Args) (any, error) {
				var s string
				if err := args.Bind(&s); err != nil {
					return nil, err
				}
				return impl.(Service).Echo(ctx, s)
			},
		},
	},
}

// Stub is the client-side Service.
type Stub struct {
	proxy *client.Proxy
}

var _ Service = (*Stub)(nil)

func NewStub(c *client.Client) *Stub {
	return &Stub{proxy: c.Proxy(ServiceName)}
}

func (s *Stub) Division(ctx context.Context, a, b int32) (float64, error) {
	return client.Call[float64](ctx, s.proxy, "division", divisionSig, a, b)
}

func (s *Stub) Record(ctx context.Context, note string) error {
	return client.CallVoid(ctx, s.proxy, "record", recordSig, note)
}

func (s *Stub) Echo(ctx context.Context, str string) (string, error) {
	return client.Call[string](ctx, s.proxy, "echo", echoSig, str)
}
