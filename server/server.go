// Package server implements the RPC server: the registration table, the
// request dispatcher, per-connection liveness monitoring and graceful shutdown.
//
// Request processing pipeline:
//
//	Accept conn (AcceptGoroutines loops) → serverConn.readLoop (one goroutine reads frames)
//	  → heartbeat: touch liveness monitor, drop
//	  → invoke: go handle (bounded by WorkerGoroutines)
//	    → Dispatcher: middleware chain → lookup by exact signature → MethodHandler
//	    → EncodePacket in the request's codec → writer goroutine
package server

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/multierr"
	"go.uber.org/zap"

	"socket-rpc/config"
	"socket-rpc/logging"
	"socket-rpc/metrics"
	"socket-rpc/middleware"
)

var (
	ErrServerStarted   = errors.New("server: already serving")
	ErrShutdownTimeout = errors.New("server: timeout waiting for ongoing requests to finish")
)

// Server is the RPC server that registers services and handles incoming requests.
type Server struct {
	cfg         config.ServerConfig
	logger      *zap.Logger
	table       *ServiceTable
	middlewares []middleware.Middleware
	dispatcher  *Dispatcher

	mu       sync.Mutex
	started  bool
	listener net.Listener
	conns    map[*serverConn]struct{}

	shutdown atomic.Bool // set before the listener is closed to suppress Accept errors
	workers  chan struct{}
	inflight sync.WaitGroup // dispatches not yet handed to a writer

	ctx    context.Context
	cancel context.CancelFunc
}

type Option func(*Server)

func WithLogger(l *zap.Logger) Option {
	return func(s *Server) { s.logger = logging.OrNop(l) }
}

// WithConfig replaces the default server settings.
func WithConfig(cfg config.ServerConfig) Option {
	return func(s *Server) { s.cfg = cfg }
}

// WithMiddleware appends mws to the chain, after the built-in ones.
func WithMiddleware(mws ...middleware.Middleware) Option {
	return func(s *Server) { s.middlewares = append(s.middlewares, mws...) }
}

func NewServer(opts ...Option) *Server {
	s := &Server{
		cfg:    config.Default().Server,
		logger: zap.NewNop(),
		table:  NewServiceTable(),
		conns:  make(map[*serverConn]struct{}),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.fillDefaults()
	s.ctx, s.cancel = context.WithCancel(context.Background())
	return s
}

// fillDefaults replaces unset settings with the built-in ones.
func (s *Server) fillDefaults() {
	def := config.Default().Server
	if s.cfg.MaxFrameLength <= 0 {
		s.cfg.MaxFrameLength = def.MaxFrameLength
	}
	if s.cfg.ReadIdle <= 0 {
		s.cfg.ReadIdle = def.ReadIdle
	}
	if s.cfg.MaxIdleMisses <= 0 {
		s.cfg.MaxIdleMisses = def.MaxIdleMisses
	}
	if s.cfg.AcceptGoroutines <= 0 {
		s.cfg.AcceptGoroutines = def.AcceptGoroutines
	}
	if s.cfg.WorkerGoroutines <= 0 {
		s.cfg.WorkerGoroutines = def.WorkerGoroutines
	}
}

// RegisterService makes impl reachable under desc.Name. It fails once the
// server is serving.
func (s *Server) RegisterService(desc *ServiceDesc, impl any) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.started {
		return ErrServerStarted
	}
	if err := s.table.Register(desc, impl); err != nil {
		return err
	}
	s.logger.Info("service registered", zap.String("interface", desc.Name), zap.Int("methods", len(desc.Methods)))
	return nil
}

// Resolve implements ImplementationRegistry.
func (s *Server) Resolve(iface string) (any, bool) { return s.table.Resolve(iface) }

// Use registers a middleware. Middlewares are applied in the order they are added.
func (s *Server) Use(mw middleware.Middleware) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.middlewares = append(s.middlewares, mw)
}

// chain is the built-in middleware stack followed by the user's.
func (s *Server) chain() []middleware.Middleware {
	mws := []middleware.Middleware{
		middleware.Recovery(s.logger),
		middleware.Metrics(),
		middleware.Logging(s.logger),
	}
	if s.cfg.RateLimit > 0 {
		mws = append(mws, middleware.RateLimit(s.cfg.RateLimit, s.cfg.RateBurst))
	}
	if s.cfg.RequestTimeout > 0 {
		mws = append(mws, middleware.Timeout(s.cfg.RequestTimeout))
	}
	return append(mws, s.middlewares...)
}

// Serve listens on address and handles connections until Shutdown.
func (s *Server) Serve(network, address string) error {
	ln, err := net.Listen(network, address)
	if err != nil {
		return err
	}
	return s.ServeListener(ln)
}

// ServeListener handles connections accepted from ln until Shutdown. It
// returns nil after a Shutdown and the Accept error otherwise.
func (s *Server) ServeListener(ln net.Listener) error {
	s.mu.Lock()
	if s.started {
		s.mu.Unlock()
		return ErrServerStarted
	}
	s.started = true
	s.listener = ln
	s.dispatcher = NewDispatcher(s.table, s.logger, s.chain()...)
	s.workers = make(chan struct{}, s.cfg.WorkerGoroutines)
	s.mu.Unlock()

	loops := s.cfg.AcceptGoroutines
	s.logger.Info("server listening",
		zap.Stringer("addr", ln.Addr()),
		zap.Strings("services", s.table.Names()),
		zap.Int("accept_goroutines", loops),
		zap.Int("worker_goroutines", cap(s.workers)),
	)

	errs := make(chan error, loops)
	for i := 0; i < loops; i++ {
		go func() { errs <- s.acceptLoop(ln) }()
	}
	var err error
	for i := 0; i < loops; i++ {
		err = multierr.Append(err, <-errs)
	}
	return err
}

func (s *Server) acceptLoop(ln net.Listener) error {
	for {
		nc, err := ln.Accept()
		if err != nil {
			// During shutdown, listener.Close() causes Accept to return an error.
			if s.shutdown.Load() {
				return nil
			}
			// stop the other loops as well
			_ = ln.Close()
			if errors.Is(err, net.ErrClosed) {
				return nil
			}
			return err
		}
		c, ok := s.trackConn(nc)
		if !ok {
			_ = nc.Close()
			continue
		}
		go c.serve()
	}
}

func (s *Server) trackConn(nc net.Conn) (*serverConn, bool) {
	if s.shutdown.Load() {
		return nil, false
	}
	c := newServerConn(s, nc)
	s.mu.Lock()
	s.conns[c] = struct{}{}
	n := len(s.conns)
	s.mu.Unlock()
	metrics.ServerConnOpened()
	c.logger.Info("connection accepted", zap.Int("connections", n))
	return c, true
}

func (s *Server) removeConn(c *serverConn) {
	s.mu.Lock()
	_, ok := s.conns[c]
	delete(s.conns, c)
	s.mu.Unlock()
	if ok {
		metrics.ServerConnClosed()
	}
}

// Addr returns the listener address, or nil before serving.
func (s *Server) Addr() net.Addr {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener == nil {
		return nil
	}
	return s.listener.Addr()
}

// ConnCount returns the number of open connections.
func (s *Server) ConnCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.conns)
}

func (s *Server) snapshotConns() []*serverConn {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*serverConn, 0, len(s.conns))
	for c := range s.conns {
		out = append(out, c)
	}
	return out
}

// Shutdown performs graceful shutdown:
//  1. stop accepting new connections;
//  2. wait for in-flight dispatches, at most timeout;
//  3. flush queued results and close every connection.
func (s *Server) Shutdown(timeout time.Duration) error {
	s.shutdown.Store(true)
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	s.mu.Lock()
	ln := s.listener
	s.mu.Unlock()

	var err error
	if ln != nil {
		if cerr := ln.Close(); cerr != nil && !errors.Is(cerr, net.ErrClosed) {
			err = multierr.Append(err, cerr)
		}
	}

	done := make(chan struct{})
	go func() {
		s.inflight.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
		err = multierr.Append(err, ErrShutdownTimeout)
	}

	conns := s.snapshotConns()
	for _, c := range conns {
		c.drain(ctx)
	}
	for _, c := range conns {
		select {
		case <-c.closed:
		case <-ctx.Done():
		}
		if cerr := c.Close(); cerr != nil && !errors.Is(cerr, net.ErrClosed) {
			err = multierr.Append(err, fmt.Errorf("close %s: %w", c.id, cerr))
		}
	}
	s.cancel()
	s.logger.Info("server stopped", zap.Error(err))
	return err
}
