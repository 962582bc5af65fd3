package utils

import (
	"context"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
)

func TestLeaseScriptCompiles(t *testing.T) {
	if leaseReleaseScript == nil {
		t.Fatalf("expected release script to be initialized")
	}
}

func TestRedisLease_RejectsInvalidArgs(t *testing.T) {
	var l *RedisLease
	if _, err := l.Acquire(context.Background(), "k", "t", time.Second); err == nil {
		t.Fatalf("expected error for nil lease")
	}
	l = NewRedisLease(nil, "analysis:poll:")
	if _, err := l.Acquire(context.Background(), "", "t", time.Second); err == nil {
		t.Fatalf("expected error for nil client")
	}
}

// unreachable returns a client whose commands fail fast without a server.
func unreachable(t *testing.T) *redis.Client {
	t.Helper()
	rdb := redis.NewClient(&redis.Options{Addr: "127.0.0.1:1", DialTimeout: 100 * time.Millisecond, MaxRetries: -1})
	t.Cleanup(func() { _ = rdb.Close() })
	return rdb
}

func TestRedisLease_ValidatesBeforeNetwork(t *testing.T) {
	l := NewRedisLease(unreachable(t), "crm:")
	if _, err := l.Acquire(context.Background(), "", "t", time.Second); err == nil {
		t.Fatalf("expected error for empty key")
	}
	if _, err := l.Acquire(context.Background(), "k", "t", 0); err == nil {
		t.Fatalf("expected error for zero ttl")
	}
}

func TestRedisPublisher_Errors(t *testing.T) {
	var p *RedisPublisher
	if err := p.Publish(context.Background(), []byte(`{}`)); err == nil {
		t.Fatalf("expected error for nil publisher")
	}
	p = NewRedisPublisher(unreachable(t), "crm:calls:events")
	if err := p.Publish(context.Background(), []byte(`{}`)); err == nil {
		t.Fatalf("expected error without a server")
	}
}

func TestOpenRedis_RequiresAddr(t *testing.T) {
	if _, err := OpenRedis(context.Background(), RedisConfig{}); err == nil {
		t.Fatalf("expected error for empty addr")
	}
}
