package codec

import (
	"encoding/binary"
	"fmt"
	"math"

	"github.com/valyala/bytebufferpool"

	"socket-rpc/message"
)

// BinaryCodec packs records field by field with explicit length prefixes.
//
// MethodInvokeMeta:
//
//	interface u16+n | method u16+n | returnType u16+n |
//	paramCount u16 | (type u16+n)* | argCount u16 | (arg u32+n)*
//
// Result:
//
//	status u8 | value u32+n | hasFault u8 | [kind u16+n | message u16+n]
//
// Zero-length slices decode as nil.
type BinaryCodec struct{}

func (c *BinaryCodec) Encode(v any) ([]byte, error) {
	buf := bytebufferpool.Get()
	defer bytebufferpool.Put(buf)

	var err error
	switch msg := v.(type) {
	case *message.MethodInvokeMeta:
		err = encodeMeta(buf, msg)
	case *message.Result:
		err = encodeResult(buf, msg)
	default:
		err = fmt.Errorf("%w: %T", ErrUnsupportedType, v)
	}
	if err != nil {
		return nil, &CodecError{Op: "encode", Err: err}
	}

	// buf goes back to the pool, hand out a copy
	out := make([]byte, buf.Len())
	copy(out, buf.B)
	return out, nil
}

func (c *BinaryCodec) Decode(data []byte, v any) error {
	r := &binaryReader{data: data}
	switch msg := v.(type) {
	case *message.MethodInvokeMeta:
		decodeMeta(r, msg)
	case *message.Result:
		decodeResult(r, msg)
	default:
		return &CodecError{Op: "decode", Err: fmt.Errorf("%w: %T", ErrUnsupportedType, v)}
	}
	if r.err == nil && r.off != len(data) {
		r.err = fmt.Errorf("%d trailing bytes", len(data)-r.off)
	}
	if r.err != nil {
		return &CodecError{Op: "decode", Err: r.err}
	}
	return nil
}

func (c *BinaryCodec) Type() CodecType {
	return CodecTypeBinary
}

func encodeMeta(buf *bytebufferpool.ByteBuffer, m *message.MethodInvokeMeta) error {
	for _, s := range []string{m.Interface, m.MethodName, m.ReturnType} {
		if err := writeString16(buf, s); err != nil {
			return err
		}
	}

	if len(m.ParameterTypes) > math.MaxUint16 || len(m.Args) > math.MaxUint16 {
		return fmt.Errorf("too many parameters: %d", len(m.ParameterTypes))
	}
	writeUint16(buf, uint16(len(m.ParameterTypes)))
	for _, p := range m.ParameterTypes {
		if err := writeString16(buf, p); err != nil {
			return err
		}
	}
	writeUint16(buf, uint16(len(m.Args)))
	for _, a := range m.Args {
		writeBytes32(buf, a)
	}
	return nil
}

func decodeMeta(r *binaryReader, m *message.MethodInvokeMeta) {
	m.Interface = r.string16()
	m.MethodName = r.string16()
	m.ReturnType = r.string16()

	m.ParameterTypes = nil
	if n := int(r.uint16()); n > 0 {
		m.ParameterTypes = make([]string, 0, n)
		for i := 0; i < n && r.err == nil; i++ {
			m.ParameterTypes = append(m.ParameterTypes, r.string16())
		}
	}
	m.Args = nil
	if n := int(r.uint16()); n > 0 {
		m.Args = make([][]byte, 0, n)
		for i := 0; i < n && r.err == nil; i++ {
			m.Args = append(m.Args, r.bytes32())
		}
	}
}

func encodeResult(buf *bytebufferpool.ByteBuffer, res *message.Result) error {
	_ = buf.WriteByte(byte(res.Status))
	writeBytes32(buf, res.Value)
	if res.Fault == nil {
		_ = buf.WriteByte(0)
		return nil
	}
	_ = buf.WriteByte(1)
	if err := writeString16(buf, string(res.Fault.Kind)); err != nil {
		return err
	}
	return writeString16(buf, res.Fault.Message)
}

func decodeResult(r *binaryReader, res *message.Result) {
	res.Status = message.Status(r.uint8())
	res.Value = r.bytes32()
	res.Fault = nil
	if r.uint8() == 1 {
		res.Fault = &message.Fault{
			Kind:    message.FaultKind(r.string16()),
			Message: r.string16(),
		}
	}
}

func writeUint16(buf *bytebufferpool.ByteBuffer, v uint16) {
	var b [2]byte
	binary.BigEndian.PutUint16(b[:], v)
	_, _ = buf.Write(b[:])
}

func writeString16(buf *bytebufferpool.ByteBuffer, s string) error {
	if len(s) > math.MaxUint16 {
		return fmt.Errorf("string field too long: %d bytes", len(s))
	}
	writeUint16(buf, uint16(len(s)))
	_, _ = buf.WriteString(s)
	return nil
}

func writeBytes32(buf *bytebufferpool.ByteBuffer, p []byte) {
	var b [4]byte
	binary.BigEndian.PutUint32(b[:], uint32(len(p)))
	_, _ = buf.Write(b[:])
	_, _ = buf.Write(p)
}

// binaryReader walks a record and remembers the first truncation; every read
// after a failure returns a zero value.
type binaryReader struct {
	data []byte
	off  int
	err  error
}

func (r *binaryReader) next(n int) []byte {
	if r.err != nil {
		return nil
	}
	if n < 0 || r.off+n > len(r.data) {
		r.err = fmt.Errorf("%w: need %d bytes at offset %d, have %d", ErrTruncated, n, r.off, len(r.data)-r.off)
		return nil
	}
	p := r.data[r.off : r.off+n]
	r.off += n
	return p
}

func (r *binaryReader) uint8() uint8 {
	p := r.next(1)
	if p == nil {
		return 0
	}
	return p[0]
}

func (r *binaryReader) uint16() uint16 {
	p := r.next(2)
	if p == nil {
		return 0
	}
	return binary.BigEndian.Uint16(p)
}

func (r *binaryReader) string16() string {
	n := int(r.uint16())
	return string(r.next(n))
}

func (r *binaryReader) bytes32() []byte {
	p := r.next(4)
	if p == nil {
		return nil
	}
	n := int(binary.BigEndian.Uint32(p))
	body := r.next(n)
	if len(body) == 0 {
		return nil
	}
	out := make([]byte, n)
	copy(out, body)
	return out
}
