// Package redis stores artifacts as Redis string values. It suits
// deployments where the downstream parser consumes artifacts shortly after a
// run and they can expire afterwards.
package redis

import (
	"context"
	"fmt"
	"io"
	"strings"
	"time"

	goredis "github.com/redis/go-redis/v9"
)

// Config configures the Redis-backed blob store.
type Config struct {
	Addr      string        `mapstructure:"addr" yaml:"addr"`
	Password  string        `mapstructure:"password" yaml:"password"`
	DB        int           `mapstructure:"db" yaml:"db"`
	KeyPrefix string        `mapstructure:"key_prefix" yaml:"key_prefix"`
	TTL       time.Duration `mapstructure:"ttl" yaml:"ttl"`
}

type setCloser interface {
	Set(ctx context.Context, key string, value any, expiration time.Duration) *goredis.StatusCmd
	Close() error
}

// BlobStore writes artifacts with SET, so a repeated key replaces the value.
type BlobStore struct {
	client    setCloser
	keyPrefix string
	ttl       time.Duration
}

// New dials Redis and verifies the connection with PING.
func New(ctx context.Context, cfg Config) (*BlobStore, error) {
	if strings.TrimSpace(cfg.Addr) == "" {
		return nil, fmt.Errorf("redis addr is required")
	}
	client := goredis.NewClient(&goredis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("ping redis %s: %w", cfg.Addr, err)
	}
	return NewWithClient(client, cfg)
}

// NewWithClient wraps an existing client (primarily for testing).
func NewWithClient(client setCloser, cfg Config) (*BlobStore, error) {
	if client == nil {
		return nil, fmt.Errorf("redis client is required")
	}
	if cfg.TTL < 0 {
		return nil, fmt.Errorf("redis ttl must be >= 0")
	}
	return &BlobStore{
		client:    client,
		keyPrefix: cfg.KeyPrefix,
		ttl:       cfg.TTL,
	}, nil
}

// PutObject stores the reader's content under keyPrefix+path. A zero TTL
// keeps the value until it is overwritten.
func (s *BlobStore) PutObject(ctx context.Context, path string, _ string, r io.Reader) (string, error) {
	if strings.TrimSpace(path) == "" {
		return "", fmt.Errorf("path is required")
	}
	content, err := io.ReadAll(r)
	if err != nil {
		return "", fmt.Errorf("read object content: %w", err)
	}
	key := s.keyPrefix + path
	if err := s.client.Set(ctx, key, content, s.ttl).Err(); err != nil {
		return "", fmt.Errorf("redis set %s: %w", key, err)
	}
	return "redis://" + key, nil
}

// Close closes the underlying client.
func (s *BlobStore) Close() error {
	return s.client.Close()
}
