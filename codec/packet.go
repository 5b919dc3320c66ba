package codec

import (
	"fmt"

	"github.com/valyala/bytebufferpool"

	"socket-rpc/message"
)

const packetHeaderSize = 2 // kind + codec type

// EncodePacket serializes p into a frame payload using the codec codecType.
func EncodePacket(codecType CodecType, p *message.Packet) ([]byte, error) {
	c, err := GetCodec(codecType)
	if err != nil {
		return nil, err
	}

	var body []byte
	switch p.Kind {
	case message.KindHeartbeat:
		body = []byte(p.Token)
	case message.KindInvoke:
		if p.Invoke == nil {
			return nil, &CodecError{Op: "encode", Err: fmt.Errorf("invoke packet without record")}
		}
		if err := p.Invoke.Validate(); err != nil {
			return nil, &CodecError{Op: "encode", Err: err}
		}
		if body, err = c.Encode(p.Invoke); err != nil {
			return nil, err
		}
	case message.KindResult:
		if p.Result == nil {
			return nil, &CodecError{Op: "encode", Err: fmt.Errorf("result packet without record")}
		}
		if body, err = c.Encode(p.Result); err != nil {
			return nil, err
		}
	default:
		return nil, &CodecError{Op: "encode", Err: fmt.Errorf("unknown packet %s", p.Kind)}
	}

	buf := bytebufferpool.Get()
	defer bytebufferpool.Put(buf)
	_ = buf.WriteByte(byte(p.Kind))
	_ = buf.WriteByte(byte(codecType))
	_, _ = buf.Write(body)

	out := make([]byte, buf.Len())
	copy(out, buf.B)
	return out, nil
}

// DecodePacket parses a frame payload. It also reports the codec the peer used
// so the answer can be written in the same format. Every failure is a
// *CodecError.
func DecodePacket(payload []byte) (*message.Packet, CodecType, error) {
	if len(payload) < packetHeaderSize {
		return nil, 0, &CodecError{Op: "decode", Err: fmt.Errorf("%w: %d byte payload", ErrTruncated, len(payload))}
	}
	kind := message.Kind(payload[0])
	codecType := CodecType(payload[1])
	body := payload[packetHeaderSize:]

	c, err := GetCodec(codecType)
	if err != nil {
		return nil, 0, err
	}

	switch kind {
	case message.KindHeartbeat:
		if string(body) != message.HeartbeatToken {
			return nil, codecType, &CodecError{Op: "decode", Err: fmt.Errorf("unknown heartbeat token %q", body)}
		}
		return message.Heartbeat(), codecType, nil

	case message.KindInvoke:
		meta := &message.MethodInvokeMeta{}
		if err := c.Decode(body, meta); err != nil {
			return nil, codecType, err
		}
		if err := meta.Validate(); err != nil {
			return nil, codecType, &CodecError{Op: "decode", Err: err}
		}
		return message.Invoke(meta), codecType, nil

	case message.KindResult:
		res := &message.Result{}
		if err := c.Decode(body, res); err != nil {
			return nil, codecType, err
		}
		if err := validateResult(res); err != nil {
			return nil, codecType, &CodecError{Op: "decode", Err: err}
		}
		return message.Reply(res), codecType, nil
	}

	return nil, codecType, &CodecError{Op: "decode", Err: fmt.Errorf("unknown packet %s", kind)}
}

func validateResult(res *message.Result) error {
	switch res.Status {
	case message.StatusValue, message.StatusVoid:
		if res.Fault != nil {
			return fmt.Errorf("status %d carries a fault", res.Status)
		}
	case message.StatusFault:
		if res.Fault == nil {
			return fmt.Errorf("fault status without fault")
		}
	default:
		return fmt.Errorf("unknown result status %d", res.Status)
	}
	return nil
}
