package server

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"socket-rpc/codec"
	"socket-rpc/message"
	"socket-rpc/metrics"
	"socket-rpc/protocol"
)

var errIdleEvicted = errors.New("server: connection idle")

// outbound is one frame waiting for the writer goroutine.
type outbound struct {
	payload    []byte // nil writes nothing
	closeAfter bool
}

// serverConn is one accepted connection.
//
// A single goroutine reads frames; each invocation is dispatched on its own
// goroutine (bounded by the server's worker slots) and its result is handed to
// the writer goroutine, so frames are never interleaved and dispatch never
// waits for the socket.
type serverConn struct {
	id      string
	conn    net.Conn
	srv     *Server
	logger  *zap.Logger
	monitor *livenessMonitor

	out chan outbound

	ctx       context.Context // cancelled when the connection closes
	cancel    context.CancelFunc
	closeOnce sync.Once
	closed    chan struct{}
}

func newServerConn(srv *Server, nc net.Conn) *serverConn {
	c := &serverConn{
		id:     uuid.NewString(),
		conn:   nc,
		srv:    srv,
		out:    make(chan outbound, 16),
		closed: make(chan struct{}),
	}
	c.ctx, c.cancel = context.WithCancel(srv.ctx)
	c.logger = srv.logger.With(zap.String("conn_id", c.id), zap.Stringer("remote", nc.RemoteAddr()))
	c.monitor = newLivenessMonitor(srv.cfg.ReadIdle, srv.cfg.MaxIdleMisses, func(misses int) {
		metrics.IdleEviction()
		c.logger.Warn("evicting idle connection", zap.Int("misses", misses))
		c.closeWith(errIdleEvicted)
	})
	return c
}

func (c *serverConn) serve() {
	go c.writeLoop()
	go c.monitor.run(c.closed)
	c.readLoop()
}

func (c *serverConn) readLoop() {
	for {
		payload, err := protocol.ReadFrame(c.conn, c.srv.cfg.MaxFrameLength)
		if err != nil {
			c.closeWith(err)
			return
		}
		c.monitor.Touch()

		pkt, ct, err := codec.DecodePacket(payload)
		if err != nil {
			c.logger.Error("undecodable frame, closing connection", zap.Error(err))
			c.closeWith(err)
			return
		}

		switch pkt.Kind {
		case message.KindHeartbeat:
			metrics.HeartbeatReceived()
			c.logger.Debug("heartbeat")
			continue
		case message.KindInvoke:
		default:
			err := &codec.CodecError{Op: "decode", Err: fmt.Errorf("unexpected %s packet from client", pkt.Kind)}
			c.logger.Error("protocol violation, closing connection", zap.Error(err))
			c.closeWith(err)
			return
		}

		select {
		case c.srv.workers <- struct{}{}:
		case <-c.closed:
			return
		}
		c.srv.inflight.Add(1)
		go c.handle(pkt.Invoke, ct)
	}
}

func (c *serverConn) handle(meta *message.MethodInvokeMeta, ct codec.CodecType) {
	defer func() {
		<-c.srv.workers
		c.srv.inflight.Done()
	}()

	res, terminal := c.srv.dispatcher.Dispatch(c.ctx, meta)
	payload, err := c.encodeResult(res, ct)
	if err != nil {
		c.logger.Error("cannot encode result, closing connection", zap.Error(err))
		c.closeWith(err)
		return
	}
	c.enqueue(outbound{payload: payload, closeAfter: terminal})
}

// encodeResult answers in the codec the request used. A result too large for
// one frame is replaced by an Exception fault.
func (c *serverConn) encodeResult(res *message.Result, ct codec.CodecType) ([]byte, error) {
	payload, err := codec.EncodePacket(ct, message.Reply(res))
	if err != nil {
		return nil, err
	}
	if len(payload) <= protocol.MaxFrameLength {
		return payload, nil
	}
	return codec.EncodePacket(ct, message.Reply(message.FaultResult(&message.Fault{
		Kind:    message.FaultException,
		Message: fmt.Sprintf("result of %d bytes exceeds the frame limit", len(payload)),
	})))
}

func (c *serverConn) enqueue(o outbound) {
	select {
	case c.out <- o:
	case <-c.closed:
	}
}

func (c *serverConn) writeLoop() {
	for {
		select {
		case o := <-c.out:
			if o.payload != nil {
				if err := protocol.WriteFrame(c.conn, o.payload); err != nil {
					c.closeWith(err)
					return
				}
			}
			if o.closeAfter {
				c.closeWith(nil)
				return
			}
		case <-c.closed:
			return
		}
	}
}

// drain closes the connection after the frames already queued are written.
func (c *serverConn) drain(ctx context.Context) {
	select {
	case c.out <- outbound{closeAfter: true}:
	case <-c.closed:
	case <-ctx.Done():
	}
}

func (c *serverConn) Close() error {
	return c.closeWith(net.ErrClosed)
}

func (c *serverConn) closeWith(cause error) error {
	var err error
	c.closeOnce.Do(func() {
		close(c.closed)
		c.cancel()
		err = c.conn.Close()
		c.srv.removeConn(c)
		if cause != nil && !errors.Is(cause, net.ErrClosed) {
			c.logger.Info("connection closed", zap.Error(cause))
		} else {
			c.logger.Debug("connection closed")
		}
	})
	return err
}
