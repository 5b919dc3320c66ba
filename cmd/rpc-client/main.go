package main

import (
	"context"
	"errors"
	"flag"
	"log"
	"os"
	"os/signal"
	"syscall"

	"go.uber.org/zap"

	"socket-rpc/client"
	"socket-rpc/cmd/internal/bootstrap"
	"socket-rpc/config"
	"socket-rpc/example/demo"
	"socket-rpc/message"
)

func main() {
	var f bootstrap.Flags
	flag.StringVar(&f.EnvFile, "env", ".env", "Optional .env file read before the environment")
	flag.StringVar(&f.ConfigFile, "config", "", "YAML config file")
	flag.StringVar(&f.EtcdEndpoints, "etcd", "", "Comma separated etcd endpoints holding the shared config")
	flag.StringVar(&f.EtcdKey, "etcd-key", config.DefaultEtcdKey, "etcd key of the shared config")
	a := flag.Int("a", 3, "Dividend")
	b := flag.Int("b", 0, "Divisor")
	flag.Parse()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg, logger, err := bootstrap.Load(ctx, f)
	if err != nil {
		log.Fatalf("startup: %v", err)
	}
	defer logger.Sync()

	c := client.New(cfg.Client, client.WithLogger(logger))
	if err := c.Start(ctx); err != nil {
		logger.Fatal("connect", zap.Error(err))
	}
	defer c.Close()

	stub := demo.NewStub(c)

	q, err := stub.Division(ctx, int32(*a), int32(*b))
	switch {
	case errors.Is(err, message.ErrErrorParams):
		logger.Warn("division rejected", zap.Int("a", *a), zap.Int("b", *b), zap.Error(err))
	case err != nil:
		logger.Fatal("division", zap.Error(err))
	default:
		logger.Info("division", zap.Int("a", *a), zap.Int("b", *b), zap.Float64("result", q))
	}

	// the connection survives a rejected call
	q, err = stub.Division(ctx, 10, 2)
	if err != nil {
		logger.Fatal("division", zap.Error(err))
	}
	logger.Info("division", zap.Int("a", 10), zap.Int("b", 2), zap.Float64("result", q))

	if err := stub.Record(ctx, "client finished"); err != nil {
		logger.Fatal("record", zap.Error(err))
	}
}
