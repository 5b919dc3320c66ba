// Package transport implements the client side of socket-rpc's connection handling.
//
// A Conn owns one TCP connection and allows a single outstanding call at a time.
// The wire format has no request id, so a response is matched to its call only
// by arriving on the same connection: correlation is per connection, and two
// calls in flight on one Conn would be indistinguishable.
//
//	caller ──RoundTrip──► pending slot ──frame──► server
//	                           ▲
//	recvLoop ◄──frame──────────┘  (resolves the slot, wakes the caller)
//
// Callers obtain a Conn from the Registry, which hands it out with its call
// slot reserved; RoundTrip releases the slot when the call completes.
package transport

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"socket-rpc/codec"
	"socket-rpc/logging"
	"socket-rpc/message"
	"socket-rpc/metrics"
	"socket-rpc/protocol"
)

var (
	ErrNoUsableConnection = errors.New("transport: no usable connection")
	ErrConnectionLost     = errors.New("transport: connection lost")
	ErrCallInFlight       = errors.New("transport: call already in flight on connection")
)

// ConnOptions configures a Conn.
type ConnOptions struct {
	Codec             codec.CodecType
	MaxFrameLength    int           // 0 means protocol.MaxFrameLength
	HeartbeatInterval time.Duration // write-idle period before a heartbeat is sent; 0 disables
	Logger            *zap.Logger
}

// Conn is one client connection and its pending-result slot.
type Conn struct {
	id     string
	conn   net.Conn
	opts   ConnOptions
	logger *zap.Logger

	writeMu   sync.Mutex   // a frame must be written in one piece
	lastWrite atomic.Int64 // unix nanos of the last frame written

	slot chan struct{} // capacity 1; held by the call that owns the connection

	mu      sync.Mutex
	pending *pendingCall

	closeOnce sync.Once
	closed    chan struct{}
	err       error // why the connection closed, set before closed is closed
}

type pendingCall struct {
	done      chan callResult // buffered, recvLoop never blocks on it
	abandoned bool            // caller gave up; a late response is dropped
}

type callResult struct {
	res *message.Result
	err error
}

// NewConn wraps nc and starts its read loop and, if configured, its heartbeat loop.
func NewConn(nc net.Conn, opts ConnOptions) *Conn {
	c := &Conn{
		id:     uuid.NewString(),
		conn:   nc,
		opts:   opts,
		slot:   make(chan struct{}, 1),
		closed: make(chan struct{}),
	}
	c.logger = logging.OrNop(opts.Logger).With(
		zap.String("conn_id", c.id),
		zap.Stringer("remote", nc.RemoteAddr()),
	)
	c.lastWrite.Store(time.Now().UnixNano())

	go c.recvLoop()
	if opts.HeartbeatInterval > 0 {
		go c.heartbeatLoop(opts.HeartbeatInterval)
	}
	return c
}

func (c *Conn) ID() string { return c.id }

func (c *Conn) RemoteAddr() net.Addr { return c.conn.RemoteAddr() }

// Done is closed once the connection is closed for any reason.
func (c *Conn) Done() <-chan struct{} { return c.closed }

// Err returns the reason the connection closed, or nil while it is open.
func (c *Conn) Err() error {
	select {
	case <-c.closed:
		return c.err
	default:
		return nil
	}
}

func (c *Conn) isClosed() bool {
	select {
	case <-c.closed:
		return true
	default:
		return false
	}
}

// Close closes the connection. Any caller waiting on it fails with ErrConnectionLost.
func (c *Conn) Close() error {
	return c.closeWith(net.ErrClosed)
}

func (c *Conn) closeWith(cause error) error {
	var err error
	c.closeOnce.Do(func() {
		c.err = cause
		close(c.closed)
		err = c.conn.Close()

		c.mu.Lock()
		p := c.pending
		c.pending = nil
		c.mu.Unlock()
		if p != nil && !p.abandoned {
			p.done <- callResult{err: fmt.Errorf("%w: %v", ErrConnectionLost, cause)}
		}
		c.logger.Info("connection closed", zap.Error(cause))
	})
	return err
}

// tryAcquire reserves the call slot without waiting.
func (c *Conn) tryAcquire() bool {
	select {
	case c.slot <- struct{}{}:
		if c.isClosed() {
			c.release()
			return false
		}
		return true
	default:
		return false
	}
}

// acquire waits for the call slot. It fails when the connection closes or ctx ends first.
func (c *Conn) acquire(ctx context.Context) error {
	select {
	case c.slot <- struct{}{}:
		if c.isClosed() {
			c.release()
			return ErrConnectionLost
		}
		return nil
	case <-c.closed:
		return ErrConnectionLost
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (c *Conn) release() {
	select {
	case <-c.slot:
	default:
	}
}

// Release gives back a slot obtained from Registry.Acquire without making a call.
func (c *Conn) Release() { c.release() }

// RoundTrip sends meta and blocks until the matching result arrives, the
// connection fails, or ctx ends. The caller must hold the call slot (see
// Registry.Acquire); RoundTrip gives it back.
//
// If ctx ends first the slot stays reserved until the late response arrives
// and is dropped, so that response can never be mistaken for the answer to a
// later call.
func (c *Conn) RoundTrip(ctx context.Context, meta *message.MethodInvokeMeta) (*message.Result, error) {
	payload, err := codec.EncodePacket(c.opts.Codec, message.Invoke(meta))
	if err != nil {
		c.release()
		return nil, err
	}

	p := &pendingCall{done: make(chan callResult, 1)}
	c.mu.Lock()
	if c.isClosed() {
		c.mu.Unlock()
		c.release()
		return nil, fmt.Errorf("%w: %v", ErrConnectionLost, c.err)
	}
	if c.pending != nil {
		c.mu.Unlock()
		return nil, ErrCallInFlight
	}
	c.pending = p
	c.mu.Unlock()

	if err := c.write(payload); err != nil {
		c.mu.Lock()
		if c.pending == p {
			c.pending = nil
		}
		c.mu.Unlock()
		_ = c.closeWith(err)
		c.release()
		return nil, fmt.Errorf("%w: %v", ErrConnectionLost, err)
	}

	select {
	case r := <-p.done:
		c.release()
		return r.res, r.err
	case <-ctx.Done():
		c.mu.Lock()
		if c.pending == p {
			p.abandoned = true
			c.mu.Unlock()
			c.logger.Warn("call abandoned, connection held until the late response is drained",
				zap.String("interface", meta.Interface),
				zap.String("method", meta.MethodName),
				zap.Error(ctx.Err()),
			)
			return nil, ctx.Err()
		}
		c.mu.Unlock()
		// recvLoop already took the slot and is handing over the result
		r := <-p.done
		c.release()
		return r.res, r.err
	}
}

func (c *Conn) write(payload []byte) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	if err := protocol.WriteFrame(c.conn, payload); err != nil {
		return err
	}
	c.lastWrite.Store(time.Now().UnixNano())
	return nil
}

// recvLoop reads results until the connection fails. Any read or decode error
// is fatal: the framing has no recovery point.
func (c *Conn) recvLoop() {
	for {
		payload, err := protocol.ReadFrame(c.conn, c.opts.MaxFrameLength)
		if err != nil {
			_ = c.closeWith(err)
			return
		}
		pkt, _, err := codec.DecodePacket(payload)
		if err != nil {
			c.logger.Error("undecodable frame, closing connection", zap.Error(err))
			_ = c.closeWith(err)
			return
		}
		if pkt.Kind != message.KindResult {
			err := &codec.CodecError{Op: "decode", Err: fmt.Errorf("unexpected %s packet from server", pkt.Kind)}
			c.logger.Error("protocol violation, closing connection", zap.Error(err))
			_ = c.closeWith(err)
			return
		}
		c.resolve(pkt.Result)
	}
}

func (c *Conn) resolve(res *message.Result) {
	c.mu.Lock()
	p := c.pending
	c.pending = nil
	abandoned := p != nil && p.abandoned
	c.mu.Unlock()

	switch {
	case p == nil:
		c.logger.Warn("result without a pending call dropped")
	case abandoned:
		metrics.LateResponseDropped()
		c.logger.Warn("late result after caller timeout dropped")
		c.release()
	default:
		p.done <- callResult{res: res}
	}
}

// heartbeatLoop writes the heartbeat token whenever nothing has been written
// for interval, keeping the server's read-idle monitor satisfied.
func (c *Conn) heartbeatLoop(interval time.Duration) {
	payload, err := codec.EncodePacket(c.opts.Codec, message.Heartbeat())
	if err != nil {
		c.logger.Error("cannot encode heartbeat", zap.Error(err))
		return
	}

	timer := time.NewTimer(interval)
	defer timer.Stop()
	for {
		select {
		case <-c.closed:
			return
		case <-timer.C:
		}

		idle := time.Since(time.Unix(0, c.lastWrite.Load()))
		if idle < interval {
			timer.Reset(interval - idle)
			continue
		}
		if err := c.write(payload); err != nil {
			_ = c.closeWith(err)
			return
		}
		c.logger.Debug("heartbeat sent")
		timer.Reset(interval)
	}
}
