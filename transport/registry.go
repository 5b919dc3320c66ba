package transport

import (
	"context"
	"sync"

	"go.uber.org/multierr"
	"go.uber.org/zap"

	"socket-rpc/logging"
	"socket-rpc/metrics"
)

// Registry tracks the open client connections and lends them to calls.
//
// Selection is "first available": connections are tried in registration
// order and the first one whose call slot is free wins. When every connection
// is busy the caller queues on the first one. An empty registry fails at once
// with ErrNoUsableConnection instead of waiting for a connection that may
// never come.
type Registry struct {
	mu     sync.RWMutex
	conns  []*Conn
	logger *zap.Logger
}

func NewRegistry(logger *zap.Logger) *Registry {
	return &Registry{logger: logging.OrNop(logger)}
}

// Register adds c. Registering the same connection twice is a no-op.
func (r *Registry) Register(c *Conn) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, existing := range r.conns {
		if existing == c {
			return
		}
	}
	r.conns = append(r.conns, c)
	metrics.ClientConnRegistered()
	r.logger.Info("connection registered", zap.String("conn_id", c.ID()), zap.Int("connections", len(r.conns)))
}

// Remove drops c and reports whether it was registered.
func (r *Registry) Remove(c *Conn) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	for i, existing := range r.conns {
		if existing == c {
			r.conns = append(r.conns[:i:i], r.conns[i+1:]...)
			metrics.ClientConnRemoved()
			r.logger.Info("connection removed", zap.String("conn_id", c.ID()), zap.Int("connections", len(r.conns)))
			return true
		}
	}
	return false
}

func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.conns)
}

// Conns returns a snapshot of the registered connections in registration order.
func (r *Registry) Conns() []*Conn {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*Conn, len(r.conns))
	copy(out, r.conns)
	return out
}

// live returns the open connections and prunes closed ones.
func (r *Registry) live() []*Conn {
	conns := r.Conns()
	open := conns[:0:0]
	for _, c := range conns {
		if c.isClosed() {
			r.Remove(c)
			continue
		}
		open = append(open, c)
	}
	return open
}

// Acquire returns a connection with its call slot reserved. The caller must
// pass it to Conn.RoundTrip, or give it back with Conn.Release.
func (r *Registry) Acquire(ctx context.Context) (*Conn, error) {
	for {
		conns := r.live()
		if len(conns) == 0 {
			return nil, ErrNoUsableConnection
		}
		for _, c := range conns {
			if c.tryAcquire() {
				return c, nil
			}
		}

		// all busy: queue behind the first connection
		err := conns[0].acquire(ctx)
		switch {
		case err == nil:
			return conns[0], nil
		case ctx.Err() != nil:
			return nil, ctx.Err()
		}
		// it closed while we waited, look again
	}
}

// CloseAll closes and removes every connection.
func (r *Registry) CloseAll() error {
	r.mu.Lock()
	conns := r.conns
	r.conns = nil
	r.mu.Unlock()

	var err error
	for _, c := range conns {
		metrics.ClientConnRemoved()
		err = multierr.Append(err, c.Close())
	}
	return err
}
