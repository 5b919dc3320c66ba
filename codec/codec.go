// Package codec serializes the records carried inside a frame.
//
// A frame payload is laid out as
//
//	[1 byte packet kind][1 byte codec type][body ...]
//
// where body is the codec-encoded MethodInvokeMeta or Result, or the literal
// heartbeat token. The codec byte lets each peer answer in the format it was
// spoken to.
package codec

import (
	"errors"
	"fmt"
)

type CodecType byte

const (
	CodecTypeJSON   CodecType = 0
	CodecTypeBinary CodecType = 1
)

func (t CodecType) String() string {
	switch t {
	case CodecTypeJSON:
		return "json"
	case CodecTypeBinary:
		return "binary"
	}
	return fmt.Sprintf("codec(%d)", byte(t))
}

// ParseCodecType maps a configuration name to a CodecType.
func ParseCodecType(name string) (CodecType, error) {
	switch name {
	case "", "json":
		return CodecTypeJSON, nil
	case "binary":
		return CodecTypeBinary, nil
	}
	return 0, fmt.Errorf("codec: unknown codec %q", name)
}

// Codec encodes *message.MethodInvokeMeta and *message.Result values.
type Codec interface {
	Encode(v any) ([]byte, error)
	Decode(data []byte, v any) error
	Type() CodecType // 0=JSON, 1=Binary
}

var (
	jsonCodec   = &JSONCodec{}
	binaryCodec = &BinaryCodec{}
)

// GetCodec returns the codec for codecType.
func GetCodec(codecType CodecType) (Codec, error) {
	switch codecType {
	case CodecTypeJSON:
		return jsonCodec, nil
	case CodecTypeBinary:
		return binaryCodec, nil
	}
	return nil, &CodecError{Op: "lookup", Err: fmt.Errorf("unknown codec type %d", byte(codecType))}
}

var (
	ErrTruncated       = errors.New("truncated record")
	ErrUnsupportedType = errors.New("unsupported value type")
)

// CodecError reports a payload that cannot be encoded or decoded. After a
// decode failure the stream offers no recovery point, so the connection that
// produced it must be closed.
type CodecError struct {
	Op  string // "encode", "decode" or "lookup"
	Err error
}

func (e *CodecError) Error() string {
	return "codec: " + e.Op + ": " + e.Err.Error()
}

func (e *CodecError) Unwrap() error { return e.Err }

// IsCodecError reports whether err is, or wraps, a *CodecError.
func IsCodecError(err error) bool {
	var ce *CodecError
	return errors.As(err, &ce)
}
