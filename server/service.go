package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"socket-rpc/message"
)

// MethodHandler runs one method against impl. It returns the value to send
// back (nil for none) or an error; a *message.Fault anywhere in the error chain
// is reported as is, any other error as an Exception.
type MethodHandler func(ctx context.Context, impl any, args *Args) (any, error)

// MethodDesc declares one remotely callable method. Name plus ParameterTypes
// form the exact signature a MethodInvokeMeta must match.
type MethodDesc struct {
	Name           string
	ParameterTypes []string
	ReturnType     string // message.TypeVoid for methods without a result
	Handler        MethodHandler
}

// ServiceDesc declares an interface and its methods. It is written by hand next
// to the interface it serves (see example/demo).
type ServiceDesc struct {
	Name    string
	Methods []MethodDesc
}

// ImplementationRegistry resolves an interface identity to the implementation
// registered for it.
type ImplementationRegistry interface {
	Resolve(iface string) (any, bool)
}

type service struct {
	name    string
	impl    any
	methods map[string]*MethodDesc // by signature, "division(int32,int32)"
}

var (
	ErrDuplicateService = errors.New("server: service already registered")
	ErrInvalidService   = errors.New("server: invalid service description")
)

// ServiceTable is the interface → implementation table. It is filled before
// serving starts and only read afterwards, so lookups take no lock. Register
// must not run concurrently with lookups; Server enforces this.
type ServiceTable struct {
	services map[string]*service
}

func NewServiceTable() *ServiceTable {
	return &ServiceTable{services: make(map[string]*service)}
}

// Register adds impl as the implementation of desc.
func (t *ServiceTable) Register(desc *ServiceDesc, impl any) error {
	if desc == nil || desc.Name == "" {
		return fmt.Errorf("%w: missing name", ErrInvalidService)
	}
	if impl == nil {
		return fmt.Errorf("%w: nil implementation for %s", ErrInvalidService, desc.Name)
	}
	svc := &service{
		name:    desc.Name,
		impl:    impl,
		methods: make(map[string]*MethodDesc, len(desc.Methods)),
	}
	for i := range desc.Methods {
		md := &desc.Methods[i]
		if md.Name == "" || md.Handler == nil {
			return fmt.Errorf("%w: %s method %d has no name or handler", ErrInvalidService, desc.Name, i)
		}
		sig := message.Signature(md.Name, md.ParameterTypes)
		if _, ok := svc.methods[sig]; ok {
			return fmt.Errorf("%w: %s declares %s twice", ErrInvalidService, desc.Name, sig)
		}
		svc.methods[sig] = md
	}

	if _, ok := t.services[desc.Name]; ok {
		return fmt.Errorf("%w: %s", ErrDuplicateService, desc.Name)
	}
	t.services[desc.Name] = svc
	return nil
}

func (t *ServiceTable) Resolve(iface string) (any, bool) {
	svc := t.service(iface)
	if svc == nil {
		return nil, false
	}
	return svc.impl, true
}

// Names lists the registered interfaces.
func (t *ServiceTable) Names() []string {
	names := make([]string, 0, len(t.services))
	for name := range t.services {
		names = append(names, name)
	}
	return names
}

func (t *ServiceTable) service(iface string) *service {
	return t.services[iface]
}

// lookup finds the method matching meta's exact signature.
func (t *ServiceTable) lookup(meta *message.MethodInvokeMeta) (*service, *MethodDesc, *message.Fault) {
	svc := t.service(meta.Interface)
	if svc == nil {
		return nil, nil, message.NoSuchMethod("no implementation registered for %s", meta.Interface)
	}
	md, ok := svc.methods[meta.Signature()]
	if !ok {
		return nil, nil, message.NoSuchMethod("%s has no method %s", meta.Interface, meta.Signature())
	}
	return svc, md, nil
}

// Args are the positional arguments of one invocation, still encoded.
type Args struct {
	types []string
	raw   [][]byte
}

func newArgs(meta *message.MethodInvokeMeta) *Args {
	return &Args{types: meta.ParameterTypes, raw: meta.Args}
}

func (a *Args) Len() int { return len(a.raw) }

// Bind decodes the arguments into dst, one pointer per parameter in order.
// Any mismatch is reported as an ErrorParams fault.
func (a *Args) Bind(dst ...any) error {
	if len(dst) != len(a.raw) {
		return message.ErrorParams("expected %d arguments, got %d", len(dst), len(a.raw))
	}
	for i, d := range dst {
		if err := json.Unmarshal(a.raw[i], d); err != nil {
			return message.ErrorParams("argument %d (%s): %v", i, a.types[i], err)
		}
	}
	return nil
}
