package store

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	crawlerr "github.com/vinayprograms/crawlkit/errors"
)

// RedisConfig holds Redis connection configuration.
type RedisConfig struct {
	// Host is the Redis host name.
	Host string

	// Port is the Redis port.
	// Default: 6379
	Port int

	// Password for AUTH (empty = none).
	Password string

	// DB is the logical database index.
	DB int

	// DialTimeout for establishing the connection.
	// Default: 5 seconds
	DialTimeout time.Duration
}

// DefaultRedisConfig returns configuration with sensible defaults.
func DefaultRedisConfig() RedisConfig {
	return RedisConfig{
		Host:        "localhost",
		Port:        6379,
		DialTimeout: 5 * time.Second,
	}
}

// Addr returns host:port.
func (c RedisConfig) Addr() string {
	return net.JoinHostPort(c.Host, strconv.Itoa(c.Port))
}

// RedisDialer returns a Dialer that connects to Redis and verifies the
// connection with PING before handing it out.
func RedisDialer(cfg RedisConfig) Dialer {
	def := DefaultRedisConfig()
	if cfg.Host == "" {
		cfg.Host = def.Host
	}
	if cfg.Port <= 0 {
		cfg.Port = def.Port
	}
	if cfg.DialTimeout <= 0 {
		cfg.DialTimeout = def.DialTimeout
	}

	return func(ctx context.Context) (Backend, error) {
		client := redis.NewClient(&redis.Options{
			Addr:        cfg.Addr(),
			Password:    cfg.Password,
			DB:          cfg.DB,
			DialTimeout: cfg.DialTimeout,
			// Retry policy belongs to the caller.
			MaxRetries: -1,
		})

		if err := client.Ping(ctx).Err(); err != nil {
			_ = client.Close()
			return nil, redisErr("ping "+cfg.Addr(), err)
		}
		return NewRedisBackend(client), nil
	}
}

// RedisBackend implements Backend on a go-redis client.
type RedisBackend struct {
	client redis.UniversalClient
}

var _ Backend = (*RedisBackend)(nil)

// NewRedisBackend wraps an existing client. Closing the backend closes the client.
func NewRedisBackend(client redis.UniversalClient) *RedisBackend {
	return &RedisBackend{client: client}
}

// SetNX runs SET key value NX with expiry.
func (b *RedisBackend) SetNX(ctx context.Context, key string, value []byte, ttl time.Duration) (bool, error) {
	ok, err := b.client.SetNX(ctx, key, value, ttl).Result()
	if err != nil {
		return false, redisErr("setnx", err)
	}
	return ok, nil
}

// Get runs GET.
func (b *RedisBackend) Get(ctx context.Context, key string) ([]byte, error) {
	v, err := b.client.Get(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, redisErr("get", err)
	}
	return v, nil
}

// SAdd runs SADD.
func (b *RedisBackend) SAdd(ctx context.Context, key string, members ...[]byte) (int64, error) {
	n, err := b.client.SAdd(ctx, key, toArgs(members)...).Result()
	if err != nil {
		return 0, redisErr("sadd", err)
	}
	return n, nil
}

// SRandMember runs SRANDMEMBER.
func (b *RedisBackend) SRandMember(ctx context.Context, key string) ([]byte, error) {
	v, err := b.client.SRandMember(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, redisErr("srandmember", err)
	}
	return v, nil
}

// SRem runs SREM.
func (b *RedisBackend) SRem(ctx context.Context, key string, member []byte) (int64, error) {
	n, err := b.client.SRem(ctx, key, member).Result()
	if err != nil {
		return 0, redisErr("srem", err)
	}
	return n, nil
}

// SCard runs SCARD.
func (b *RedisBackend) SCard(ctx context.Context, key string) (int64, error) {
	n, err := b.client.SCard(ctx, key).Result()
	if err != nil {
		return 0, redisErr("scard", err)
	}
	return n, nil
}

// LPush runs LPUSH.
func (b *RedisBackend) LPush(ctx context.Context, key string, values ...[]byte) (int64, error) {
	n, err := b.client.LPush(ctx, key, toArgs(values)...).Result()
	if err != nil {
		return 0, redisErr("lpush", err)
	}
	return n, nil
}

// RPopLPush runs RPOPLPUSH.
func (b *RedisBackend) RPopLPush(ctx context.Context, src, dst string) ([]byte, error) {
	v, err := b.client.RPopLPush(ctx, src, dst).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, redisErr("rpoplpush", err)
	}
	return v, nil
}

// LRem runs LREM.
func (b *RedisBackend) LRem(ctx context.Context, key string, count int64, value []byte) (int64, error) {
	n, err := b.client.LRem(ctx, key, count, value).Result()
	if err != nil {
		return 0, redisErr("lrem", err)
	}
	return n, nil
}

// LLen runs LLEN.
func (b *RedisBackend) LLen(ctx context.Context, key string) (int64, error) {
	n, err := b.client.LLen(ctx, key).Result()
	if err != nil {
		return 0, redisErr("llen", err)
	}
	return n, nil
}

// Close closes the client.
func (b *RedisBackend) Close() error {
	if err := b.client.Close(); err != nil && !errors.Is(err, redis.ErrClosed) {
		return fmt.Errorf("crawlkit/redis: close: %w", err)
	}
	return nil
}

func toArgs(values [][]byte) []interface{} {
	args := make([]interface{}, len(values))
	for i, v := range values {
		args[i] = v
	}
	return args
}

// redisErr classifies a go-redis failure. Network-level failures become
// CONNECTION errors, context errors CANCELED, server replies INTERNAL.
func redisErr(op string, err error) error {
	msg := "crawlkit/redis: " + op
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return crawlerr.Wrap(err, msg)
	}

	var netErr net.Error
	if errors.Is(err, redis.ErrClosed) || errors.Is(err, io.EOF) ||
		errors.Is(err, io.ErrUnexpectedEOF) || errors.As(err, &netErr) {
		return crawlerr.Connection(msg, crawlerr.WithCause(err))
	}

	var replyErr redis.Error
	if errors.As(err, &replyErr) {
		return crawlerr.Internal(msg, crawlerr.WithCause(err))
	}
	return crawlerr.Connection(msg, crawlerr.WithCause(err))
}
