package transport

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"socket-rpc/logging"
	"socket-rpc/metrics"
)

// State of a Connector.
//
//	Disconnected ──Start──► Connecting ──dial ok──► Connected
//	                            ▲                      │
//	                            └────── conn lost ─────┘
//
// Running out of retries in Connecting moves back to Disconnected for good.
type State int32

const (
	StateDisconnected State = iota
	StateConnecting
	StateConnected
)

func (s State) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	}
	return fmt.Sprintf("state(%d)", int32(s))
}

var (
	ErrRetriesExhausted = errors.New("transport: connect retries exhausted")
	ErrConnectorClosed  = errors.New("transport: connector closed")
)

// DialFunc opens the raw connection; net.Dialer.DialContext by default.
type DialFunc func(ctx context.Context, network, addr string) (net.Conn, error)

type ConnectorConfig struct {
	Addr         string
	MaxRetries   int           // attempts after the first one
	RetryBackoff time.Duration // fixed pause between attempts
	DialTimeout  time.Duration
	Conn         ConnOptions
	Dial         DialFunc
	Logger       *zap.Logger
	// OnFatal is called once if reconnection gives up.
	OnFatal func(error)
}

// Connector keeps one connection to the server alive. Every connection it
// opens is registered in the Registry and removed again when it closes.
type Connector struct {
	cfg      ConnectorConfig
	registry *Registry
	logger   *zap.Logger

	state atomic.Int32

	mu       sync.Mutex
	current  *Conn
	fatalErr error

	stopOnce sync.Once
	stop     chan struct{}
	wg       sync.WaitGroup
}

func NewConnector(cfg ConnectorConfig, registry *Registry) *Connector {
	if cfg.Dial == nil {
		d := &net.Dialer{Timeout: cfg.DialTimeout}
		cfg.Dial = d.DialContext
	}
	if cfg.Conn.Logger == nil {
		cfg.Conn.Logger = cfg.Logger
	}
	return &Connector{
		cfg:      cfg,
		registry: registry,
		logger:   logging.OrNop(cfg.Logger).With(zap.String("addr", cfg.Addr)),
		stop:     make(chan struct{}),
	}
}

func (c *Connector) State() State { return State(c.state.Load()) }

func (c *Connector) setState(s State) {
	old := State(c.state.Swap(int32(s)))
	if old != s {
		c.logger.Debug("connector state", zap.Stringer("from", old), zap.Stringer("to", s))
	}
}

// Err returns the error that made the connector give up, if any.
func (c *Connector) Err() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.fatalErr
}

// Conn returns the live connection, or nil while (re)connecting.
func (c *Connector) Conn() *Conn {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.current
}

// Start opens the first connection, retrying within the configured bound, and
// then keeps it alive in the background. A failure here is a startup error.
func (c *Connector) Start(ctx context.Context) error {
	conn, err := c.connect(ctx)
	if err != nil {
		c.setState(StateDisconnected)
		c.mu.Lock()
		c.fatalErr = err
		c.mu.Unlock()
		return err
	}
	c.install(conn)

	c.wg.Add(1)
	go c.run()
	return nil
}

// Close stops reconnecting and closes the live connection.
func (c *Connector) Close() error {
	c.stopOnce.Do(func() { close(c.stop) })

	c.mu.Lock()
	conn := c.current
	c.current = nil
	c.mu.Unlock()

	var err error
	if conn != nil {
		c.registry.Remove(conn)
		err = conn.Close()
	}
	c.wg.Wait()
	c.setState(StateDisconnected)
	return err
}

func (c *Connector) stopped() bool {
	select {
	case <-c.stop:
		return true
	default:
		return false
	}
}

func (c *Connector) connect(ctx context.Context) (*Conn, error) {
	c.setState(StateConnecting)
	var lastErr error
	for attempt := 0; attempt <= c.cfg.MaxRetries; attempt++ {
		if attempt > 0 {
			select {
			case <-time.After(c.cfg.RetryBackoff):
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-c.stop:
				return nil, ErrConnectorClosed
			}
		}

		nc, err := c.cfg.Dial(ctx, "tcp", c.cfg.Addr)
		metrics.RecordConnectAttempt(err == nil)
		if err == nil {
			return NewConn(nc, c.cfg.Conn), nil
		}
		lastErr = err
		c.logger.Warn("connect attempt failed", zap.Int("attempt", attempt+1), zap.Error(err))
	}
	return nil, fmt.Errorf("%w: %s after %d attempts: %v", ErrRetriesExhausted, c.cfg.Addr, c.cfg.MaxRetries+1, lastErr)
}

func (c *Connector) install(conn *Conn) {
	c.mu.Lock()
	c.current = conn
	c.mu.Unlock()
	c.registry.Register(conn)
	c.setState(StateConnected)
	c.logger.Info("connected", zap.String("conn_id", conn.ID()))
}

// run waits for the live connection to drop and replaces it.
func (c *Connector) run() {
	defer c.wg.Done()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() {
		select {
		case <-c.stop:
			cancel()
		case <-ctx.Done():
		}
	}()

	for {
		conn := c.Conn()
		if conn == nil {
			return
		}
		select {
		case <-conn.Done():
		case <-c.stop:
			return
		}

		c.registry.Remove(conn)
		c.mu.Lock()
		if c.current == conn {
			c.current = nil
		}
		c.mu.Unlock()
		if c.stopped() {
			return
		}
		c.logger.Warn("connection lost, reconnecting", zap.String("conn_id", conn.ID()), zap.Error(conn.Err()))

		next, err := c.connect(ctx)
		if err != nil {
			if c.stopped() {
				return
			}
			c.setState(StateDisconnected)
			c.mu.Lock()
			c.fatalErr = err
			c.mu.Unlock()
			c.logger.Error("giving up on reconnection", zap.Error(err))
			if c.cfg.OnFatal != nil {
				c.cfg.OnFatal(err)
			}
			return
		}
		if c.stopped() {
			_ = next.Close()
			return
		}
		c.install(next)
	}
}
