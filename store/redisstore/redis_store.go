package redisstore

import (
	"context"
	"errors"
	"fmt"
	"time"

	apperrors "github.com/jrsteele09/go-subs-manager/internal/errors"
	"github.com/jrsteele09/go-subs-manager/store"
	"github.com/redis/go-redis/v9"
)

// Default timeouts for Redis operations.
const (
	DefaultDialTimeout  = 5 * time.Second
	DefaultReadTimeout  = 3 * time.Second
	DefaultWriteTimeout = 3 * time.Second
)

// Config holds Redis connection configuration.
type Config struct {
	Addr      string
	Username  string
	Password  string
	DB        int
	KeyPrefix string

	DialTimeout  time.Duration
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
}

// Store implements store.Store on top of a go-redis client.
type Store struct {
	client    redis.UniversalClient
	keyPrefix string
}

var _ store.Store = (*Store)(nil)

// New connects to Redis and verifies the connection with a PING.
func New(ctx context.Context, cfg Config) (*Store, error) {
	if cfg.Addr == "" {
		return nil, errors.New("redis address is required")
	}
	if cfg.DialTimeout == 0 {
		cfg.DialTimeout = DefaultDialTimeout
	}
	if cfg.ReadTimeout == 0 {
		cfg.ReadTimeout = DefaultReadTimeout
	}
	if cfg.WriteTimeout == 0 {
		cfg.WriteTimeout = DefaultWriteTimeout
	}

	client := redis.NewClient(&redis.Options{
		Addr:         cfg.Addr,
		Username:     cfg.Username,
		Password:     cfg.Password,
		DB:           cfg.DB,
		DialTimeout:  cfg.DialTimeout,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
	})

	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}

	return NewWithClient(client, cfg.KeyPrefix), nil
}

// NewWithClient wraps a pre-configured client. Used with miniredis in tests.
func NewWithClient(client redis.UniversalClient, keyPrefix string) *Store {
	return &Store{client: client, keyPrefix: keyPrefix}
}

func (s *Store) key(k string) string {
	return s.keyPrefix + k
}

func storeErr(op, key string, err error) error {
	return apperrors.Classify(apperrors.ErrStore, fmt.Errorf("redis %s %s: %w", op, key, err))
}

func (s *Store) Get(ctx context.Context, key string) (string, error) {
	v, err := s.client.Get(ctx, s.key(key)).Result()
	if errors.Is(err, redis.Nil) {
		return "", store.ErrNotFound
	}
	if err != nil {
		return "", storeErr("get", key, err)
	}
	return v, nil
}

func (s *Store) Set(ctx context.Context, key, value string, opts store.SetOptions) (bool, error) {
	if opts.OnlyIfAbsent {
		ok, err := s.client.SetNX(ctx, s.key(key), value, opts.TTL).Result()
		if err != nil {
			return false, storeErr("setnx", key, err)
		}
		return ok, nil
	}
	if err := s.client.Set(ctx, s.key(key), value, opts.TTL).Err(); err != nil {
		return false, storeErr("set", key, err)
	}
	return true, nil
}

func (s *Store) Delete(ctx context.Context, keys ...string) error {
	if len(keys) == 0 {
		return nil
	}
	prefixed := make([]string, len(keys))
	for i, k := range keys {
		prefixed[i] = s.key(k)
	}
	if err := s.client.Del(ctx, prefixed...).Err(); err != nil {
		return storeErr("del", fmt.Sprint(keys), err)
	}
	return nil
}

func (s *Store) Exists(ctx context.Context, key string) (bool, error) {
	n, err := s.client.Exists(ctx, s.key(key)).Result()
	if err != nil {
		return false, storeErr("exists", key, err)
	}
	return n > 0, nil
}

func (s *Store) Expire(ctx context.Context, key string, ttl time.Duration) error {
	if err := s.client.Expire(ctx, s.key(key), ttl).Err(); err != nil {
		return storeErr("expire", key, err)
	}
	return nil
}

// TTL maps Redis' -1 / -2 replies onto store.NoExpiry / store.KeyMissing.
func (s *Store) TTL(ctx context.Context, key string) (time.Duration, error) {
	d, err := s.client.TTL(ctx, s.key(key)).Result()
	if err != nil {
		return 0, storeErr("ttl", key, err)
	}
	switch d {
	case -1:
		return store.NoExpiry, nil
	case -2:
		return store.KeyMissing, nil
	}
	return d, nil
}

func (s *Store) HashGetAll(ctx context.Context, key string) (map[string]string, error) {
	m, err := s.client.HGetAll(ctx, s.key(key)).Result()
	if err != nil {
		return nil, storeErr("hgetall", key, err)
	}
	if m == nil {
		m = map[string]string{}
	}
	return m, nil
}

func (s *Store) HashSet(ctx context.Context, key string, fields map[string]string, ttl time.Duration) error {
	if len(fields) == 0 {
		return nil
	}
	values := make(map[string]interface{}, len(fields))
	for k, v := range fields {
		values[k] = v
	}

	k := s.key(key)
	_, err := s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.HSet(ctx, k, values)
		if ttl > 0 {
			pipe.Expire(ctx, k, ttl)
		}
		return nil
	})
	if err != nil {
		return storeErr("hset", key, err)
	}
	return nil
}

func (s *Store) HashDeleteFields(ctx context.Context, key string, fields ...string) error {
	if len(fields) == 0 {
		return nil
	}
	if err := s.client.HDel(ctx, s.key(key), fields...).Err(); err != nil {
		return storeErr("hdel", key, err)
	}
	return nil
}

func (s *Store) IncrementBy(ctx context.Context, key string, n int64) (int64, error) {
	v, err := s.client.IncrBy(ctx, s.key(key), n).Result()
	if err != nil {
		return 0, storeErr("incrby", key, err)
	}
	return v, nil
}

// Ping checks Redis connectivity.
func (s *Store) Ping(ctx context.Context) error {
	if err := s.client.Ping(ctx).Err(); err != nil {
		return storeErr("ping", "", err)
	}
	return nil
}

// Close closes the Redis client connection.
func (s *Store) Close() error {
	return s.client.Close()
}
