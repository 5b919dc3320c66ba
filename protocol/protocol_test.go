package protocol

import (
	"bytes"
	"errors"
	"io"
	"testing"
)

func TestWriteReadFrame(t *testing.T) {
	var buf bytes.Buffer
	body := []byte("hello world")

	if err := WriteFrame(&buf, body); err != nil {
		t.Fatalf("WriteFrame failed: %v", err)
	}
	if buf.Len() != LengthFieldSize+len(body) {
		t.Fatalf("frame size mismatch: got %d, want %d", buf.Len(), LengthFieldSize+len(body))
	}
	if got := buf.Bytes()[:2]; got[0] != 0 || got[1] != 11 {
		t.Fatalf("length prefix should be big-endian 11, got %v", got)
	}

	decoded, err := ReadFrame(&buf, 0)
	if err != nil {
		t.Fatalf("ReadFrame failed: %v", err)
	}
	if !bytes.Equal(decoded, body) {
		t.Errorf("Body mismatch: got %s, want %s", decoded, body)
	}
}

// Several frames written back to back come out one by one.
func TestCoalescedFrames(t *testing.T) {
	var buf bytes.Buffer
	frames := [][]byte{[]byte("a"), []byte("bb"), []byte("ccc")}
	for _, f := range frames {
		if err := WriteFrame(&buf, f); err != nil {
			t.Fatal(err)
		}
	}

	for i, want := range frames {
		got, err := ReadFrame(&buf, 0)
		if err != nil {
			t.Fatalf("frame %d: %v", i, err)
		}
		if !bytes.Equal(got, want) {
			t.Fatalf("frame %d: got %q, want %q", i, got, want)
		}
	}

	if _, err := ReadFrame(&buf, 0); err != io.EOF {
		t.Fatalf("expect io.EOF after last frame, got %v", err)
	}
}

// oneByteReader hands out a single byte per Read, like a badly fragmented stream.
type oneByteReader struct{ r io.Reader }

func (o oneByteReader) Read(p []byte) (int, error) {
	if len(p) == 0 {
		return 0, nil
	}
	return o.r.Read(p[:1])
}

func TestFragmentedFrame(t *testing.T) {
	var buf bytes.Buffer
	body := bytes.Repeat([]byte("xyz"), 100)
	if err := WriteFrame(&buf, body); err != nil {
		t.Fatal(err)
	}

	got, err := ReadFrame(oneByteReader{&buf}, 0)
	if err != nil {
		t.Fatalf("ReadFrame failed: %v", err)
	}
	if !bytes.Equal(got, body) {
		t.Fatal("fragmented body mismatch")
	}
}

func TestTruncatedFrame(t *testing.T) {
	var buf bytes.Buffer
	if err := WriteFrame(&buf, []byte("hello world")); err != nil {
		t.Fatal(err)
	}
	truncated := bytes.NewReader(buf.Bytes()[:6])

	_, err := ReadFrame(truncated, 0)
	if !errors.Is(err, io.ErrUnexpectedEOF) {
		t.Fatalf("expect io.ErrUnexpectedEOF, got %v", err)
	}
}

func TestFrameTooLarge(t *testing.T) {
	if err := WriteFrame(io.Discard, make([]byte, MaxFrameLength+1)); !errors.Is(err, ErrFrameTooLarge) {
		t.Fatalf("expect ErrFrameTooLarge on write, got %v", err)
	}

	var buf bytes.Buffer
	if err := WriteFrame(&buf, make([]byte, 1024)); err != nil {
		t.Fatal(err)
	}
	if _, err := ReadFrame(&buf, 512); !errors.Is(err, ErrFrameTooLarge) {
		t.Fatalf("expect ErrFrameTooLarge on read, got %v", err)
	}
}

func TestMaxSizeFrame(t *testing.T) {
	var buf bytes.Buffer
	body := make([]byte, MaxFrameLength)
	for i := range body {
		body[i] = byte(i % 256)
	}
	if err := WriteFrame(&buf, body); err != nil {
		t.Fatalf("WriteFrame failed: %v", err)
	}
	got, err := ReadFrame(&buf, MaxFrameLength)
	if err != nil {
		t.Fatalf("ReadFrame failed: %v", err)
	}
	if !bytes.Equal(got, body) {
		t.Error("max size body mismatch")
	}
}

func TestEmptyFrame(t *testing.T) {
	if err := WriteFrame(io.Discard, nil); !errors.Is(err, ErrEmptyFrame) {
		t.Fatalf("expect ErrEmptyFrame, got %v", err)
	}
	if _, err := ReadFrame(bytes.NewReader([]byte{0, 0}), 0); !errors.Is(err, ErrEmptyFrame) {
		t.Fatalf("expect ErrEmptyFrame, got %v", err)
	}
}
