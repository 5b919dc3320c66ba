// Package client presents remote interfaces as local proxies.
//
// A Client owns the connection registry and one reconnecting connector per
// pooled connection. Proxies built from it turn a method call into a
// MethodInvokeMeta, borrow a free connection, and block until the matching
// Result arrives:
//
//	stub.Division(ctx, 3, 0)
//	  → Proxy.Invoke → Registry.Acquire → Conn.RoundTrip → frame → server
//	  ← Result: value decoded into reply | nil (void) | *message.Fault
package client

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/multierr"
	"go.uber.org/zap"

	"socket-rpc/config"
	"socket-rpc/logging"
	"socket-rpc/transport"
)

const defaultDialTimeout = 3 * time.Second

type Client struct {
	cfg      config.ClientConfig
	logger   *zap.Logger
	dial     transport.DialFunc
	registry *transport.Registry

	mu         sync.Mutex
	connectors []*transport.Connector
	proxies    map[string]*Proxy
}

type Option func(*Client)

func WithLogger(l *zap.Logger) Option {
	return func(c *Client) { c.logger = logging.OrNop(l) }
}

// WithDialer replaces the TCP dialer used by the connectors.
func WithDialer(d transport.DialFunc) Option {
	return func(c *Client) { c.dial = d }
}

// New builds a client for the server at cfg.Addr(). No connection is opened
// until Start.
func New(cfg config.ClientConfig, opts ...Option) *Client {
	c := &Client{
		cfg:     cfg,
		logger:  zap.NewNop(),
		proxies: make(map[string]*Proxy),
	}
	for _, opt := range opts {
		opt(c)
	}
	c.registry = transport.NewRegistry(c.logger)
	return c
}

// Start opens cfg.PoolSize connections. Each is retried up to cfg.MaxRetries
// times; if any cannot be opened the client is closed and the error returned.
func (c *Client) Start(ctx context.Context) error {
	n := max(c.cfg.PoolSize, 1)
	for i := 0; i < n; i++ {
		conn := transport.NewConnector(transport.ConnectorConfig{
			Addr:         c.cfg.Addr(),
			MaxRetries:   c.cfg.MaxRetries,
			RetryBackoff: c.cfg.RetryBackoff,
			DialTimeout:  defaultDialTimeout,
			Dial:         c.dial,
			Logger:       c.logger,
			Conn: transport.ConnOptions{
				Codec:             c.cfg.CodecType(),
				MaxFrameLength:    c.cfg.MaxFrameLength,
				HeartbeatInterval: c.cfg.HeartbeatInterval,
			},
			OnFatal: func(err error) {
				c.logger.Error("connection to server lost for good", zap.Error(err))
			},
		}, c.registry)

		c.mu.Lock()
		c.connectors = append(c.connectors, conn)
		c.mu.Unlock()

		if err := conn.Start(ctx); err != nil {
			return multierr.Append(fmt.Errorf("client: connect %s: %w", c.cfg.Addr(), err), c.Close())
		}
	}
	return nil
}

// Proxy returns the proxy for iface. Proxies are cached and safe for
// concurrent use.
func (c *Client) Proxy(iface string) *Proxy {
	c.mu.Lock()
	defer c.mu.Unlock()
	p, ok := c.proxies[iface]
	if !ok {
		p = &Proxy{iface: iface, client: c}
		c.proxies[iface] = p
	}
	return p
}

// Registry exposes the live connections.
func (c *Client) Registry() *transport.Registry { return c.registry }

// State reports the state of every connector, in pool order.
func (c *Client) State() []transport.State {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]transport.State, len(c.connectors))
	for i, conn := range c.connectors {
		out[i] = conn.State()
	}
	return out
}

// Close stops reconnecting and closes every connection.
func (c *Client) Close() error {
	c.mu.Lock()
	connectors := c.connectors
	c.connectors = nil
	c.mu.Unlock()

	var err error
	for _, conn := range connectors {
		if cerr := conn.Close(); cerr != nil && !errors.Is(cerr, transport.ErrConnectorClosed) {
			err = multierr.Append(err, cerr)
		}
	}
	return multierr.Append(err, c.registry.CloseAll())
}
