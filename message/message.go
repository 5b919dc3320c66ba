// Package message defines the records exchanged between client and server.
//
// Every frame on the wire carries exactly one Packet: a heartbeat token, a
// MethodInvokeMeta (client → server) or a Result (server → client). There is no
// request id; a Result always answers the single call outstanding on its connection.
package message

import (
	"errors"
	"fmt"
	"strings"
)

// HeartbeatToken is the literal payload of a heartbeat packet.
const HeartbeatToken = "ping-pong-ping-pong"

// TypeVoid is the return type descriptor of methods that produce no value.
const TypeVoid = "void"

// Kind tags the packet carried by a frame.
type Kind byte

const (
	KindHeartbeat Kind = 0 // Client → Server liveness probe, never dispatched
	KindInvoke    Kind = 1 // Client → Server method invocation
	KindResult    Kind = 2 // Server → Client value, void marker or fault
)

func (k Kind) String() string {
	switch k {
	case KindHeartbeat:
		return "heartbeat"
	case KindInvoke:
		return "invoke"
	case KindResult:
		return "result"
	}
	return fmt.Sprintf("kind(%d)", byte(k))
}

// MethodInvokeMeta describes a single remote method invocation.
//
//   - Interface and MethodName select the target.
//   - ParameterTypes is the declared signature; the server resolves methods by
//     name plus this exact list.
//   - Args holds one JSON payload per parameter, positionally.
//   - ReturnType tells the caller how to read the result (TypeVoid for none).
type MethodInvokeMeta struct {
	Interface      string   `json:"interface"`
	MethodName     string   `json:"methodName"`
	ParameterTypes []string `json:"parameterTypes"`
	Args           [][]byte `json:"args"`
	ReturnType     string   `json:"returnType"`
}

var ErrInvalidMeta = errors.New("message: invalid method invoke meta")

// Validate checks the structural invariants of the record.
func (m *MethodInvokeMeta) Validate() error {
	if m.Interface == "" {
		return fmt.Errorf("%w: empty interface", ErrInvalidMeta)
	}
	if m.MethodName == "" {
		return fmt.Errorf("%w: empty method name", ErrInvalidMeta)
	}
	if len(m.ParameterTypes) != len(m.Args) {
		return fmt.Errorf("%w: %d parameter types but %d args", ErrInvalidMeta, len(m.ParameterTypes), len(m.Args))
	}
	return nil
}

// Signature returns the exact-signature key, e.g. "division(int32,int32)".
func (m *MethodInvokeMeta) Signature() string {
	return Signature(m.MethodName, m.ParameterTypes)
}

// Signature builds the lookup key for a method name and its parameter types.
func Signature(method string, parameterTypes []string) string {
	return method + "(" + strings.Join(parameterTypes, ",") + ")"
}

// Status says what a Result carries.
type Status byte

const (
	StatusValue Status = 0
	StatusVoid  Status = 1 // Method returned nothing; releases the caller with no value
	StatusFault Status = 2
)

// Result answers a MethodInvokeMeta.
type Result struct {
	Status Status `json:"status"`
	Value  []byte `json:"value,omitempty"` // JSON of the return value when Status == StatusValue
	Fault  *Fault `json:"fault,omitempty"`
}

// ValueResult wraps an already-encoded return value.
func ValueResult(value []byte) *Result {
	return &Result{Status: StatusValue, Value: value}
}

// VoidResult is the "no value" marker.
func VoidResult() *Result {
	return &Result{Status: StatusVoid}
}

// FaultResult carries f back to the caller.
func FaultResult(f *Fault) *Result {
	return &Result{Status: StatusFault, Fault: f}
}

// Packet is the unit carried by one frame. Exactly one of the fields matching
// Kind is set; a heartbeat carries Token.
type Packet struct {
	Kind   Kind
	Token  string
	Invoke *MethodInvokeMeta
	Result *Result
}

// Heartbeat returns a heartbeat packet.
func Heartbeat() *Packet {
	return &Packet{Kind: KindHeartbeat, Token: HeartbeatToken}
}

// Invoke returns an invocation packet.
func Invoke(m *MethodInvokeMeta) *Packet {
	return &Packet{Kind: KindInvoke, Invoke: m}
}

// Reply returns a result packet.
func Reply(r *Result) *Packet {
	return &Packet{Kind: KindResult, Result: r}
}
