package message

import (
	"errors"
	"fmt"
)

// FaultKind classifies a fault reported by the remote side.
type FaultKind string

const (
	// FaultErrorParams is a business validation failure (bad arguments).
	// It never closes the connection.
	FaultErrorParams FaultKind = "ErrorParams"
	// FaultNoSuchMethod means the server has no method matching the exact
	// signature. The server closes the connection after reporting it.
	FaultNoSuchMethod FaultKind = "NoSuchMethod"
	// FaultException is any other error returned or panicked by an implementation.
	FaultException FaultKind = "Exception"
	// FaultCodec reports a record the server could decode as a frame but not use.
	FaultCodec FaultKind = "CodecError"
)

// Fault is a remote error as seen by the caller. It keeps the original message.
type Fault struct {
	Kind    FaultKind `json:"kind"`
	Message string    `json:"message"`
}

func (f *Fault) Error() string {
	return string(f.Kind) + ": " + f.Message
}

// Is matches faults of the same kind, so errors.Is(err, ErrErrorParams) works
// regardless of message.
func (f *Fault) Is(target error) bool {
	t, ok := target.(*Fault)
	if !ok {
		return false
	}
	return t.Kind == f.Kind
}

// Sentinels for errors.Is.
var (
	ErrErrorParams  = &Fault{Kind: FaultErrorParams}
	ErrNoSuchMethod = &Fault{Kind: FaultNoSuchMethod}
	ErrException    = &Fault{Kind: FaultException}
)

// ErrorParams builds an invalid-argument fault. Implementations return it
// from service methods.
func ErrorParams(format string, args ...any) *Fault {
	return &Fault{Kind: FaultErrorParams, Message: fmt.Sprintf(format, args...)}
}

// NoSuchMethod builds a method resolution fault.
func NoSuchMethod(format string, args ...any) *Fault {
	return &Fault{Kind: FaultNoSuchMethod, Message: fmt.Sprintf(format, args...)}
}

// FaultFrom unwraps the underlying cause of err. A *Fault anywhere in the
// chain is returned as is; anything else becomes an Exception with err's message.
func FaultFrom(err error) *Fault {
	if err == nil {
		return nil
	}
	var f *Fault
	if errors.As(err, &f) {
		return f
	}
	return &Fault{Kind: FaultException, Message: err.Error()}
}
