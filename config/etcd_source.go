package config

import (
	"context"
	"errors"
	"fmt"
	"time"

	clientv3 "go.etcd.io/etcd/client/v3"
	"gopkg.in/yaml.v3"
)

// DefaultEtcdKey is where the shared configuration document lives.
const DefaultEtcdKey = "/socket-rpc/config"

var ErrKeyNotFound = errors.New("config: etcd key not found")

// EtcdSource reads a YAML configuration document stored under one etcd key,
// so a fleet of servers and clients can share settings without local files.
//
//	Key:   /socket-rpc/config
//	Value: the same YAML accepted by LoadFile
type EtcdSource struct {
	client *clientv3.Client // thread-safe, shared across goroutines
	key    string
}

// NewEtcdSource connects to the given etcd endpoints. An empty key means DefaultEtcdKey.
func NewEtcdSource(endpoints []string, key string, dialTimeout time.Duration) (*EtcdSource, error) {
	c, err := clientv3.New(clientv3.Config{
		Endpoints:   endpoints,
		DialTimeout: dialTimeout,
	})
	if err != nil {
		return nil, fmt.Errorf("config: connect etcd: %w", err)
	}
	if key == "" {
		key = DefaultEtcdKey
	}
	return &EtcdSource{client: c, key: key}, nil
}

// Load merges the stored document over cfg. Keys absent from the document
// keep their current values.
func (s *EtcdSource) Load(ctx context.Context, cfg *Config) error {
	resp, err := s.client.Get(ctx, s.key)
	if err != nil {
		return fmt.Errorf("config: etcd get %s: %w", s.key, err)
	}
	if len(resp.Kvs) == 0 {
		return fmt.Errorf("%w: %s", ErrKeyNotFound, s.key)
	}
	return cfg.merge(resp.Kvs[0].Value)
}

// Publish stores cfg as the shared document.
func (s *EtcdSource) Publish(ctx context.Context, cfg *Config) error {
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("config: marshal: %w", err)
	}
	if _, err := s.client.Put(ctx, s.key, string(data)); err != nil {
		return fmt.Errorf("config: etcd put %s: %w", s.key, err)
	}
	return nil
}

// Delete removes the shared document.
func (s *EtcdSource) Delete(ctx context.Context) error {
	_, err := s.client.Delete(ctx, s.key)
	return err
}

func (s *EtcdSource) Close() error {
	return s.client.Close()
}
