// Package bootstrap is the start-up code shared by the commands: .env, config
// layering and the logger.
package bootstrap

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"go.uber.org/zap"

	"socket-rpc/config"
	"socket-rpc/logging"
)

type Flags struct {
	EnvFile       string
	ConfigFile    string
	EtcdEndpoints string // comma separated; empty skips etcd
	EtcdKey       string
}

// Load reads the .env file (if present), builds the layered config and the logger.
func Load(ctx context.Context, f Flags) (*config.Config, *zap.Logger, error) {
	if f.EnvFile != "" {
		if err := godotenv.Load(f.EnvFile); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return nil, nil, fmt.Errorf("load env (%s): %w", f.EnvFile, err)
		}
	}

	var src *config.EtcdSource
	if f.EtcdEndpoints != "" {
		var err error
		src, err = config.NewEtcdSource(strings.Split(f.EtcdEndpoints, ","), f.EtcdKey, 5*time.Second)
		if err != nil {
			return nil, nil, err
		}
		defer src.Close()
	}

	cfg, err := config.LoadContext(ctx, f.ConfigFile, src)
	if err != nil {
		return nil, nil, err
	}
	logger, err := logging.New(cfg.Log.Level, cfg.Log.Development)
	if err != nil {
		return nil, nil, err
	}
	return cfg, logger, nil
}
