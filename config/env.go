package config

import (
	"errors"
	"fmt"
	"time"

	"github.com/joeshaw/envdecode"
)

// envOverrides lists every setting that can come from the environment.
// Unset variables leave the current value alone.
type envOverrides struct {
	BindPort         int           `env:"SOCKETRPC_SERVER_BIND_PORT"`
	AcceptGoroutines int           `env:"SOCKETRPC_SERVER_ACCEPT_GOROUTINES"`
	WorkerGoroutines int           `env:"SOCKETRPC_SERVER_WORKER_GOROUTINES"`
	ServerMaxFrame   int           `env:"SOCKETRPC_SERVER_MAX_FRAME_LENGTH"`
	ReadIdle         time.Duration `env:"SOCKETRPC_SERVER_READ_IDLE"`
	MaxIdleMisses    int           `env:"SOCKETRPC_SERVER_MAX_IDLE_MISSES"`
	RequestTimeout   time.Duration `env:"SOCKETRPC_SERVER_REQUEST_TIMEOUT"`
	RateLimit        float64       `env:"SOCKETRPC_SERVER_RATE_LIMIT"`
	RateBurst        int           `env:"SOCKETRPC_SERVER_RATE_BURST"`
	ShutdownTimeout  time.Duration `env:"SOCKETRPC_SERVER_SHUTDOWN_TIMEOUT"`

	Host              string        `env:"SOCKETRPC_CLIENT_HOST"`
	Port              int           `env:"SOCKETRPC_CLIENT_PORT"`
	PoolSize          int           `env:"SOCKETRPC_CLIENT_POOL_SIZE"`
	CallTimeout       time.Duration `env:"SOCKETRPC_CLIENT_CALL_TIMEOUT"`
	HeartbeatInterval time.Duration `env:"SOCKETRPC_CLIENT_HEARTBEAT_INTERVAL"`
	MaxRetries        int           `env:"SOCKETRPC_CLIENT_MAX_RETRIES"`
	RetryBackoff      time.Duration `env:"SOCKETRPC_CLIENT_RETRY_BACKOFF"`
	Codec             string        `env:"SOCKETRPC_CLIENT_CODEC"`
	ClientMaxFrame    int           `env:"SOCKETRPC_CLIENT_MAX_FRAME_LENGTH"`

	LogLevel       string `env:"SOCKETRPC_LOG_LEVEL"`
	LogDevelopment bool   `env:"SOCKETRPC_LOG_DEVELOPMENT"`
	MetricsAddr    string `env:"SOCKETRPC_METRICS_ADDR"`
}

// ApplyEnv overlays SOCKETRPC_* environment variables on cfg.
func ApplyEnv(cfg *Config) error {
	s, c := &cfg.Server, &cfg.Client
	o := envOverrides{
		BindPort: s.BindPort, AcceptGoroutines: s.AcceptGoroutines, WorkerGoroutines: s.WorkerGoroutines,
		ServerMaxFrame: s.MaxFrameLength, ReadIdle: s.ReadIdle, MaxIdleMisses: s.MaxIdleMisses,
		RequestTimeout: s.RequestTimeout, RateLimit: s.RateLimit, RateBurst: s.RateBurst,
		ShutdownTimeout: s.ShutdownTimeout,

		Host: c.Host, Port: c.Port, PoolSize: c.PoolSize, CallTimeout: c.CallTimeout,
		HeartbeatInterval: c.HeartbeatInterval, MaxRetries: c.MaxRetries, RetryBackoff: c.RetryBackoff,
		Codec: c.Codec, ClientMaxFrame: c.MaxFrameLength,

		LogLevel: cfg.Log.Level, LogDevelopment: cfg.Log.Development, MetricsAddr: cfg.Metrics.Addr,
	}

	if err := envdecode.Decode(&o); err != nil {
		if errors.Is(err, envdecode.ErrNoTargetFieldsAreSet) {
			return nil
		}
		return fmt.Errorf("failed to read environment: %w", err)
	}

	s.BindPort, s.AcceptGoroutines, s.WorkerGoroutines = o.BindPort, o.AcceptGoroutines, o.WorkerGoroutines
	s.MaxFrameLength, s.ReadIdle, s.MaxIdleMisses = o.ServerMaxFrame, o.ReadIdle, o.MaxIdleMisses
	s.RequestTimeout, s.RateLimit, s.RateBurst = o.RequestTimeout, o.RateLimit, o.RateBurst
	s.ShutdownTimeout = o.ShutdownTimeout

	c.Host, c.Port, c.PoolSize, c.CallTimeout = o.Host, o.Port, o.PoolSize, o.CallTimeout
	c.HeartbeatInterval, c.MaxRetries, c.RetryBackoff = o.HeartbeatInterval, o.MaxRetries, o.RetryBackoff
	c.Codec, c.MaxFrameLength = o.Codec, o.ClientMaxFrame

	cfg.Log.Level, cfg.Log.Development, cfg.Metrics.Addr = o.LogLevel, o.LogDevelopment, o.MetricsAddr
	return nil
}
