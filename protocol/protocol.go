// Package protocol implements the length-prefixed frame format of socket-rpc.
//
// TCP is a byte stream: one Write may arrive split over several reads, and
// several Writes may arrive in a single read. Every message is therefore
// preceded by a 2-byte big-endian length, and the receiver reads exactly that
// many bytes before handing the payload on.
//
// Frame format:
//
//	0       2
//	┌───────┬──────────────────────┐
//	│  len  │      payload ...     │
//	│uint16 │     len bytes        │
//	└───────┴──────────────────────┘
//
// The framing carries no checksum and no magic, so a corrupted stream cannot be
// resynchronized: any error returned here is fatal for the connection.
package protocol

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
)

const (
	// LengthFieldSize is the width of the length prefix in bytes.
	LengthFieldSize = 2
	// MaxFrameLength is the largest payload the length field can describe.
	MaxFrameLength = 1<<16 - 1
)

var (
	ErrFrameTooLarge = errors.New("protocol: frame too large")
	ErrEmptyFrame    = errors.New("protocol: empty frame")
)

// WriteFrame writes the length prefix and payload to w as one buffer.
// The caller must serialize writers sharing w; two interleaved frames corrupt
// the stream for good.
func WriteFrame(w io.Writer, payload []byte) error {
	if len(payload) == 0 {
		return ErrEmptyFrame
	}
	if len(payload) > MaxFrameLength {
		return fmt.Errorf("%w: %d bytes", ErrFrameTooLarge, len(payload))
	}
	buf := make([]byte, LengthFieldSize+len(payload))
	binary.BigEndian.PutUint16(buf[:LengthFieldSize], uint16(len(payload)))
	copy(buf[LengthFieldSize:], payload)
	_, err := w.Write(buf)
	return err
}

// ReadFrame reads one complete frame from r and returns its payload.
// Frames announcing more than maxLen bytes are rejected before the body is
// read; maxLen <= 0 or above MaxFrameLength means MaxFrameLength.
//
// A clean EOF before the first length byte is returned as io.EOF; EOF inside a
// frame is io.ErrUnexpectedEOF.
func ReadFrame(r io.Reader, maxLen int) ([]byte, error) {
	if maxLen <= 0 || maxLen > MaxFrameLength {
		maxLen = MaxFrameLength
	}

	var lenBuf [LengthFieldSize]byte
	if _, err := io.ReadFull(r, lenBuf[:]); err != nil {
		return nil, err
	}

	n := int(binary.BigEndian.Uint16(lenBuf[:]))
	if n == 0 {
		return nil, ErrEmptyFrame
	}
	if n > maxLen {
		return nil, fmt.Errorf("%w: %d bytes exceeds limit %d", ErrFrameTooLarge, n, maxLen)
	}

	payload := make([]byte, n)
	if _, err := io.ReadFull(r, payload); err != nil {
		if errors.Is(err, io.EOF) {
			return nil, io.ErrUnexpectedEOF
		}
		return nil, err
	}
	return payload, nil
}
