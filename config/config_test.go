package config

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"socket-rpc/codec"
)

func TestDefaultIsValid(t *testing.T) {
	cfg := Default()
	require.NoError(t, cfg.Validate())

	assert.Equal(t, 17777, cfg.Server.BindPort)
	assert.Equal(t, 5*time.Second, cfg.Server.ReadIdle)
	assert.Equal(t, 3, cfg.Server.MaxIdleMisses)
	assert.Equal(t, 10, cfg.Client.MaxRetries)
	assert.Equal(t, "127.0.0.1:17777", cfg.Client.Addr())
	assert.Equal(t, ":17777", cfg.Server.ListenAddr())
}

func TestLoadFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "socket-rpc.yaml")
	doc := `
server:
  bind_port: 18000
  read_idle: 2s
client:
  host: rpc.internal
  codec: binary
  call_timeout: 1500ms
log:
  level: debug
`
	require.NoError(t, os.WriteFile(path, []byte(doc), 0o600))

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, 18000, cfg.Server.BindPort)
	assert.Equal(t, 2*time.Second, cfg.Server.ReadIdle)
	assert.Equal(t, 3, cfg.Server.MaxIdleMisses, "keys absent from the file keep defaults")
	assert.Equal(t, "rpc.internal", cfg.Client.Host)
	assert.Equal(t, codec.CodecTypeBinary, cfg.Client.CodecType())
	assert.Equal(t, 1500*time.Millisecond, cfg.Client.CallTimeout)
	assert.Equal(t, "debug", cfg.Log.Level)
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	assert.Error(t, err)
}

func TestApplyEnv(t *testing.T) {
	t.Setenv("SOCKETRPC_CLIENT_PORT", "19001")
	t.Setenv("SOCKETRPC_SERVER_READ_IDLE", "250ms")
	t.Setenv("SOCKETRPC_LOG_LEVEL", "warn")

	cfg := Default()
	require.NoError(t, ApplyEnv(cfg))

	assert.Equal(t, 19001, cfg.Client.Port)
	assert.Equal(t, 250*time.Millisecond, cfg.Server.ReadIdle)
	assert.Equal(t, "warn", cfg.Log.Level)
	assert.Equal(t, "127.0.0.1", cfg.Client.Host, "unset variables keep their value")
}

func TestValidate(t *testing.T) {
	cases := map[string]func(*Config){
		"frame too large": func(c *Config) { c.Server.MaxFrameLength = 70000 },
		"no idle window":  func(c *Config) { c.Server.ReadIdle = 0 },
		"no misses":       func(c *Config) { c.Server.MaxIdleMisses = 0 },
		"empty pool":      func(c *Config) { c.Client.PoolSize = 0 },
		"bad codec":       func(c *Config) { c.Client.Codec = "xml" },
		"rate no burst":   func(c *Config) { c.Server.RateLimit = 10 },
		"negative retry":  func(c *Config) { c.Client.MaxRetries = -1 },
	}
	for name, mutate := range cases {
		t.Run(name, func(t *testing.T) {
			cfg := Default()
			mutate(cfg)
			assert.ErrorIs(t, cfg.Validate(), ErrInvalid)
		})
	}
}

// Needs a local etcd; skipped when none answers.
func TestEtcdSource(t *testing.T) {
	src, err := NewEtcdSource([]string{"127.0.0.1:2379"}, "/socket-rpc/test/config", time.Second)
	require.NoError(t, err)
	defer src.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	shared := Default()
	shared.Client.PoolSize = 4
	if err := src.Publish(ctx, shared); err != nil {
		t.Skipf("etcd not available: %v", err)
	}
	defer src.Delete(context.Background())

	cfg := Default()
	require.NoError(t, src.Load(ctx, cfg))
	assert.Equal(t, 4, cfg.Client.PoolSize)
}

func TestLoadContextWithoutEtcd(t *testing.T) {
	cfg, err := LoadContext(context.Background(), "", nil)
	require.NoError(t, err)
	assert.Equal(t, Default(), cfg)
}
