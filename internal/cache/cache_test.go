package cache

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/miradorstack/mirador-triage/internal/utils"
)

func TestMemoryProviderRoundTrip(t *testing.T) {
	ctx := context.Background()
	c := NewMemoryProvider()

	if _, err := c.Get(ctx, "missing"); !errors.Is(err, ErrCacheMiss) {
		t.Fatalf("expected miss, got %v", err)
	}

	value := []byte("payload")
	if err := c.Set(ctx, "k", value, 0); err != nil {
		t.Fatalf("set: %v", err)
	}
	value[0] = 'X'

	got, err := c.Get(ctx, "k")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if string(got) != "payload" {
		t.Fatalf("expected stored copy, got %q", got)
	}

	if err := c.Del(ctx, "k"); err != nil {
		t.Fatalf("del: %v", err)
	}
	if _, err := c.Get(ctx, "k"); !errors.Is(err, ErrCacheMiss) {
		t.Fatalf("expected miss after delete, got %v", err)
	}
}

func TestMemoryProviderExpiry(t *testing.T) {
	ctx := context.Background()
	c := NewMemoryProvider()
	now := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	c.now = func() time.Time { return now }

	_ = c.Set(ctx, "k", []byte("v"), time.Minute)
	if _, err := c.Get(ctx, "k"); err != nil {
		t.Fatalf("expected hit before expiry: %v", err)
	}
	now = now.Add(2 * time.Minute)
	if _, err := c.Get(ctx, "k"); !errors.Is(err, ErrCacheMiss) {
		t.Fatalf("expected miss after expiry, got %v", err)
	}
}

func TestNewSelectsBackend(t *testing.T) {
	logger := utils.DiscardLogger()

	p, err := New(Options{}, logger)
	if err != nil {
		t.Fatalf("disabled cache: %v", err)
	}
	if _, ok := p.(NoopProvider); !ok {
		t.Fatalf("expected noop provider, got %T", p)
	}

	p, err = New(Options{Enabled: true, Backend: BackendMemory}, logger)
	if err != nil {
		t.Fatalf("memory cache: %v", err)
	}
	if _, ok := p.(*MemoryProvider); !ok {
		t.Fatalf("expected memory provider, got %T", p)
	}

	if _, err := New(Options{Enabled: true, Backend: "memcached"}, logger); err == nil {
		t.Fatalf("expected unsupported backend error")
	}
	if _, err := New(Options{Enabled: true, Backend: BackendValkey}, logger); err == nil {
		t.Fatalf("expected missing addr error")
	}
}

func TestValkeyProviderFailsFastWhenUnreachable(t *testing.T) {
	_, err := NewValkeyProvider(ValkeyConfig{Addr: "127.0.0.1:1", DialTimeout: 100 * time.Millisecond})
	if err == nil {
		t.Fatalf("expected ping failure")
	}
}

func TestNoopProvider(t *testing.T) {
	var p Provider = NoopProvider{}
	if err := p.Set(context.Background(), "k", []byte("v"), time.Second); err != nil {
		t.Fatalf("set: %v", err)
	}
	if _, err := p.Get(context.Background(), "k"); !errors.Is(err, ErrCacheMiss) {
		t.Fatalf("expected miss, got %v", err)
	}
}
