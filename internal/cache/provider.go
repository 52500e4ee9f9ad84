package cache

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"
)

// Provider defines the minimal cache operations used for fetched ticket records.
type Provider interface {
	Get(ctx context.Context, key string) ([]byte, error)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	Del(ctx context.Context, key string) error
	Close() error
}

// ErrCacheMiss signals that a cache key was not found.
var ErrCacheMiss = errors.New("cache miss")

// Backend names accepted by New.
const (
	BackendMemory = "memory"
	BackendValkey = "valkey"
)

// Options selects and configures a cache backend.
type Options struct {
	Enabled bool
	Backend string
	Valkey  ValkeyConfig
}

// New builds the configured provider. A disabled cache yields NoopProvider.
func New(opts Options, logger *slog.Logger) (Provider, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if !opts.Enabled {
		return NoopProvider{}, nil
	}
	switch opts.Backend {
	case "", BackendMemory:
		logger.Info("using in-memory ticket cache")
		return NewMemoryProvider(), nil
	case BackendValkey:
		provider, err := NewValkeyProvider(opts.Valkey)
		if err != nil {
			return nil, err
		}
		logger.Info("valkey ticket cache connected", slog.String("addr", opts.Valkey.Addr))
		return provider, nil
	default:
		return nil, fmt.Errorf("unsupported cache backend: %s", opts.Backend)
	}
}

// NoopProvider implements Provider but never stores data.
type NoopProvider struct{}

// Get always returns ErrCacheMiss.
func (NoopProvider) Get(context.Context, string) ([]byte, error) {
	return nil, ErrCacheMiss
}

// Set discards the value and returns nil.
func (NoopProvider) Set(context.Context, string, []byte, time.Duration) error {
	return nil
}

// Del is a no-op for the noop cache.
func (NoopProvider) Del(context.Context, string) error { return nil }

// Close is a no-op.
func (NoopProvider) Close() error { return nil }
