// Package config holds the key/value settings consumed by the server and client.
//
// Settings are layered: Default() → YAML file → etcd document (optional) →
// environment variables.
package config

import (
	"context"
	"errors"
	"fmt"
	"net"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"

	"socket-rpc/codec"
	"socket-rpc/protocol"
)

// DefaultServerPort is the port the server binds when none is configured.
const DefaultServerPort = 17777

type Config struct {
	Server  ServerConfig  `yaml:"server"`
	Client  ClientConfig  `yaml:"client"`
	Log     LogConfig     `yaml:"log"`
	Metrics MetricsConfig `yaml:"metrics"`
}

type ServerConfig struct {
	BindPort         int           `yaml:"bind_port"`
	AcceptGoroutines int           `yaml:"accept_goroutines"` // concurrent Accept loops
	WorkerGoroutines int           `yaml:"worker_goroutines"` // concurrent dispatches, all connections
	MaxFrameLength   int           `yaml:"max_frame_length"`
	ReadIdle         time.Duration `yaml:"read_idle"`       // one liveness window
	MaxIdleMisses    int           `yaml:"max_idle_misses"` // consecutive idle windows before eviction
	RequestTimeout   time.Duration `yaml:"request_timeout"` // 0 disables the timeout middleware
	RateLimit        float64       `yaml:"rate_limit"`      // requests per second, 0 disables
	RateBurst        int           `yaml:"rate_burst"`
	ShutdownTimeout  time.Duration `yaml:"shutdown_timeout"`
}

type ClientConfig struct {
	Host              string        `yaml:"host"`
	Port              int           `yaml:"port"`
	PoolSize          int           `yaml:"pool_size"` // connections kept open to the server
	CallTimeout       time.Duration `yaml:"call_timeout"`
	HeartbeatInterval time.Duration `yaml:"heartbeat_interval"`
	MaxRetries        int           `yaml:"max_retries"`
	RetryBackoff      time.Duration `yaml:"retry_backoff"`
	Codec             string        `yaml:"codec"` // "json" or "binary"
	MaxFrameLength    int           `yaml:"max_frame_length"`
}

type LogConfig struct {
	Level       string `yaml:"level"`
	Development bool   `yaml:"development"`
}

type MetricsConfig struct {
	Addr string `yaml:"addr"` // empty disables the /metrics listener
}

// Default returns the built-in settings.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			BindPort:         DefaultServerPort,
			AcceptGoroutines: 1,
			WorkerGoroutines: 64,
			MaxFrameLength:   protocol.MaxFrameLength,
			ReadIdle:         5 * time.Second,
			MaxIdleMisses:    3,
			ShutdownTimeout:  5 * time.Second,
		},
		Client: ClientConfig{
			Host:              "127.0.0.1",
			Port:              DefaultServerPort,
			PoolSize:          1,
			CallTimeout:       10 * time.Second,
			HeartbeatInterval: 4 * time.Second,
			MaxRetries:        10,
			RetryBackoff:      100 * time.Millisecond,
			Codec:             "json",
			MaxFrameLength:    protocol.MaxFrameLength,
		},
		Log: LogConfig{Level: "info"},
	}
}

// Load builds a Config from defaults, the optional YAML file at path and the
// environment, then validates it.
func Load(path string) (*Config, error) {
	return LoadContext(context.Background(), path, nil)
}

// LoadContext is Load with the document stored in etcd, if src is not nil,
// merged between the file and the environment. A missing etcd key is not an
// error.
func LoadContext(ctx context.Context, path string, src *EtcdSource) (*Config, error) {
	cfg := Default()
	if path != "" {
		if err := cfg.LoadFile(path); err != nil {
			return nil, err
		}
	}
	if src != nil {
		if err := src.Load(ctx, cfg); err != nil && !errors.Is(err, ErrKeyNotFound) {
			return nil, err
		}
	}
	if err := ApplyEnv(cfg); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// LoadFile merges the YAML document at path over c. Keys missing from the
// file keep their current values.
func (c *Config) LoadFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read config: %w", err)
	}
	return c.merge(data)
}

func (c *Config) merge(data []byte) error {
	if err := yaml.Unmarshal(data, c); err != nil {
		return fmt.Errorf("failed to parse config: %w", err)
	}
	return nil
}

var ErrInvalid = errors.New("config: invalid")

// Validate rejects settings the server or client cannot run with.
func (c *Config) Validate() error {
	s, cl := c.Server, c.Client
	switch {
	case s.BindPort < 0 || s.BindPort > 65535:
		return fmt.Errorf("%w: server.bind_port %d", ErrInvalid, s.BindPort)
	case s.AcceptGoroutines < 1:
		return fmt.Errorf("%w: server.accept_goroutines must be >= 1", ErrInvalid)
	case s.WorkerGoroutines < 1:
		return fmt.Errorf("%w: server.worker_goroutines must be >= 1", ErrInvalid)
	case s.MaxFrameLength < 1 || s.MaxFrameLength > protocol.MaxFrameLength:
		return fmt.Errorf("%w: server.max_frame_length must be in [1, %d]", ErrInvalid, protocol.MaxFrameLength)
	case s.ReadIdle <= 0:
		return fmt.Errorf("%w: server.read_idle must be positive", ErrInvalid)
	case s.MaxIdleMisses < 1:
		return fmt.Errorf("%w: server.max_idle_misses must be >= 1", ErrInvalid)
	case s.RateLimit < 0 || (s.RateLimit > 0 && s.RateBurst < 1):
		return fmt.Errorf("%w: server.rate_limit needs a positive rate_burst", ErrInvalid)
	case cl.Port < 1 || cl.Port > 65535:
		return fmt.Errorf("%w: client.port %d", ErrInvalid, cl.Port)
	case cl.PoolSize < 1:
		return fmt.Errorf("%w: client.pool_size must be >= 1", ErrInvalid)
	case cl.CallTimeout <= 0:
		return fmt.Errorf("%w: client.call_timeout must be positive", ErrInvalid)
	case cl.HeartbeatInterval <= 0:
		return fmt.Errorf("%w: client.heartbeat_interval must be positive", ErrInvalid)
	case cl.MaxRetries < 0:
		return fmt.Errorf("%w: client.max_retries must be >= 0", ErrInvalid)
	case cl.MaxFrameLength < 1 || cl.MaxFrameLength > protocol.MaxFrameLength:
		return fmt.Errorf("%w: client.max_frame_length must be in [1, %d]", ErrInvalid, protocol.MaxFrameLength)
	}
	if _, err := codec.ParseCodecType(cl.Codec); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalid, err)
	}
	return nil
}

// ListenAddr is the server bind address, all interfaces.
func (s ServerConfig) ListenAddr() string {
	return ":" + strconv.Itoa(s.BindPort)
}

// Addr is the host:port the client dials.
func (c ClientConfig) Addr() string {
	return net.JoinHostPort(c.Host, strconv.Itoa(c.Port))
}

// CodecType returns the parsed client codec; Validate guarantees it parses.
func (c ClientConfig) CodecType() codec.CodecType {
	ct, _ := codec.ParseCodecType(c.Codec)
	return ct
}
