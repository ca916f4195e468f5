package queue

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"strings"
	"sync"

	"github.com/redis/go-redis/v9"
)

// DefaultRedisURL is used when no connection URL is configured.
const DefaultRedisURL = "redis://localhost:6379/0"

// RedisBackend stores the queue keyspace in Redis. The connection is created
// lazily, shared across all operations, and recreated transparently when a
// ping fails. Connectivity errors are retried once with a fresh connection
// before surfacing to the caller.
type RedisBackend struct {
	url string

	mu     sync.Mutex
	client *redis.Client
}

// NewRedisBackend creates a backend for the given connection URL. The URL is
// validated on first use, not here.
func NewRedisBackend(url string) *RedisBackend {
	if url == "" {
		url = DefaultRedisURL
	}
	return &RedisBackend{url: url}
}

// getClient returns the shared client, creating or recreating it as needed.
func (b *RedisBackend) getClient(ctx context.Context) (*redis.Client, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.client != nil {
		if err := b.client.Ping(ctx).Err(); err == nil {
			return b.client, nil
		}
		_ = b.client.Close()
		b.client = nil
	}

	opts, err := redis.ParseURL(b.url)
	if err != nil {
		return nil, fmt.Errorf("parsing redis url: %w", err)
	}

	client := redis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("connecting to redis: %w", err)
	}

	b.client = client
	return b.client, nil
}

// reconnect drops the shared client so the next getClient dials fresh.
func (b *RedisBackend) reconnect() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.client != nil {
		_ = b.client.Close()
		b.client = nil
	}
}

// do runs op against the shared client, reconnecting and retrying once on
// connectivity errors.
func (b *RedisBackend) do(ctx context.Context, op func(*redis.Client) error) error {
	client, err := b.getClient(ctx)
	if err != nil {
		return err
	}

	err = op(client)
	if err == nil || !isConnError(err) {
		return err
	}

	b.reconnect()
	client, err = b.getClient(ctx)
	if err != nil {
		return err
	}
	return op(client)
}

// isConnError reports whether err looks like a lost/unreachable connection
// rather than a protocol-level reply.
func isConnError(err error) bool {
	if err == nil || errors.Is(err, redis.Nil) {
		return false
	}
	if errors.Is(err, io.EOF) {
		return true
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return true
	}
	msg := err.Error()
	return strings.Contains(msg, "connection refused") ||
		strings.Contains(msg, "connection reset") ||
		strings.Contains(msg, "broken pipe") ||
		strings.Contains(msg, "client is closed")
}

// Ping verifies the Redis connection, creating it if necessary.
func (b *RedisBackend) Ping(ctx context.Context) error {
	_, err := b.getClient(ctx)
	return err
}

// Close closes the shared connection.
func (b *RedisBackend) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.client == nil {
		return nil
	}
	err := b.client.Close()
	b.client = nil
	return err
}

func (b *RedisBackend) Put(ctx context.Context, key string, value []byte) error {
	return b.do(ctx, func(c *redis.Client) error {
		return c.Set(ctx, key, value, 0).Err()
	})
}

func (b *RedisBackend) Get(ctx context.Context, key string) ([]byte, error) {
	var value []byte
	err := b.do(ctx, func(c *redis.Client) error {
		var err error
		value, err = c.Get(ctx, key).Bytes()
		return err
	})
	if errors.Is(err, redis.Nil) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get %s: %w", key, err)
	}
	return value, nil
}

func (b *RedisBackend) SortedAddNX(ctx context.Context, key, member string, score float64) (bool, error) {
	var added int64
	err := b.do(ctx, func(c *redis.Client) error {
		var err error
		added, err = c.ZAddNX(ctx, key, redis.Z{Score: score, Member: member}).Result()
		return err
	})
	if err != nil {
		return false, fmt.Errorf("sorted add nx %s: %w", key, err)
	}
	return added > 0, nil
}

func (b *RedisBackend) SortedAdd(ctx context.Context, key, member string, score float64) error {
	err := b.do(ctx, func(c *redis.Client) error {
		return c.ZAdd(ctx, key, redis.Z{Score: score, Member: member}).Err()
	})
	if err != nil {
		return fmt.Errorf("sorted add %s: %w", key, err)
	}
	return nil
}

func (b *RedisBackend) SortedPopMin(ctx context.Context, key string) (string, bool, error) {
	var popped []redis.Z
	err := b.do(ctx, func(c *redis.Client) error {
		var err error
		popped, err = c.ZPopMin(ctx, key, 1).Result()
		return err
	})
	if err != nil {
		return "", false, fmt.Errorf("pop %s: %w", key, err)
	}
	if len(popped) == 0 {
		return "", false, nil
	}
	member, _ := popped[0].Member.(string)
	return member, true, nil
}

func (b *RedisBackend) SortedCount(ctx context.Context, key string) (int64, error) {
	var n int64
	err := b.do(ctx, func(c *redis.Client) error {
		var err error
		n, err = c.ZCard(ctx, key).Result()
		return err
	})
	if err != nil {
		return 0, fmt.Errorf("sorted count %s: %w", key, err)
	}
	return n, nil
}

func (b *RedisBackend) SortedRemoveBelow(ctx context.Context, key string, max float64) (int64, error) {
	var removed int64
	err := b.do(ctx, func(c *redis.Client) error {
		var err error
		removed, err = c.ZRemRangeByScore(ctx, key, "-inf", fmt.Sprintf("%f", max)).Result()
		return err
	})
	if err != nil {
		return 0, fmt.Errorf("sorted remove %s: %w", key, err)
	}
	return removed, nil
}

func (b *RedisBackend) SetAdd(ctx context.Context, key, member string) error {
	err := b.do(ctx, func(c *redis.Client) error {
		return c.SAdd(ctx, key, member).Err()
	})
	if err != nil {
		return fmt.Errorf("set add %s: %w", key, err)
	}
	return nil
}

func (b *RedisBackend) SetRemove(ctx context.Context, key, member string) error {
	err := b.do(ctx, func(c *redis.Client) error {
		return c.SRem(ctx, key, member).Err()
	})
	if err != nil {
		return fmt.Errorf("set remove %s: %w", key, err)
	}
	return nil
}

func (b *RedisBackend) SetCount(ctx context.Context, key string) (int64, error) {
	var n int64
	err := b.do(ctx, func(c *redis.Client) error {
		var err error
		n, err = c.SCard(ctx, key).Result()
		return err
	})
	if err != nil {
		return 0, fmt.Errorf("set count %s: %w", key, err)
	}
	return n, nil
}

func (b *RedisBackend) SetKeys(ctx context.Context, prefix string) ([]string, error) {
	var keys []string
	err := b.do(ctx, func(c *redis.Client) error {
		var err error
		keys, err = c.Keys(ctx, prefix+"*").Result()
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("set keys %s: %w", prefix, err)
	}
	return keys, nil
}
