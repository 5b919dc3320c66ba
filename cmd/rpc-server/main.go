package main

import (
	"context"
	"errors"
	"flag"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"go.uber.org/zap"

	"socket-rpc/cmd/internal/bootstrap"
	"socket-rpc/config"
	"socket-rpc/example/demo"
	"socket-rpc/metrics"
	"socket-rpc/server"
)

func main() {
	var f bootstrap.Flags
	flag.StringVar(&f.EnvFile, "env", ".env", "Optional .env file read before the environment")
	flag.StringVar(&f.ConfigFile, "config", "", "YAML config file")
	flag.StringVar(&f.EtcdEndpoints, "etcd", "", "Comma separated etcd endpoints holding the shared config")
	flag.StringVar(&f.EtcdKey, "etcd-key", config.DefaultEtcdKey, "etcd key of the shared config")
	flag.Parse()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg, logger, err := bootstrap.Load(ctx, f)
	if err != nil {
		log.Fatalf("startup: %v", err)
	}
	defer logger.Sync()

	if cfg.Metrics.Addr != "" {
		mux := http.NewServeMux()
		mux.Handle("/metrics", metrics.Handler())
		go func() {
			if err := http.ListenAndServe(cfg.Metrics.Addr, mux); err != nil && !errors.Is(err, http.ErrServerClosed) {
				logger.Error("metrics listener stopped", zap.Error(err))
			}
		}()
		logger.Info("metrics listening", zap.String("addr", cfg.Metrics.Addr))
	}

	srv := server.NewServer(server.WithConfig(cfg.Server), server.WithLogger(logger))
	if err := srv.RegisterService(&demo.ServiceDesc, demo.NewImpl(logger)); err != nil {
		logger.Fatal("register service", zap.Error(err))
	}

	served := make(chan error, 1)
	go func() { served <- srv.Serve("tcp", cfg.Server.ListenAddr()) }()

	select {
	case err := <-served:
		if err != nil {
			logger.Fatal("serve", zap.Error(err))
		}
	case <-ctx.Done():
		logger.Info("shutting down")
		if err := srv.Shutdown(cfg.Server.ShutdownTimeout); err != nil {
			logger.Error("shutdown", zap.Error(err))
		}
		<-served
	}
}
