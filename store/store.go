package store

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound is returned by Get when the key does not exist.
var ErrNotFound = errors.New("key not found")

const (
	// NoExpiry is reported by TTL for a key that exists without an expiry.
	NoExpiry time.Duration = -1
	// KeyMissing is reported by TTL for a key that does not exist.
	KeyMissing time.Duration = -2
)

// SetOptions controls a Set call.
type SetOptions struct {
	TTL          time.Duration // zero means no expiry
	OnlyIfAbsent bool
}

// Store is the key/value, hash and TTL surface the session, quota and cache
// layers are built on. Every key is owned by exactly one of those layers.
type Store interface {
	Get(ctx context.Context, key string) (string, error)

	// Set writes value; with OnlyIfAbsent it reports false and writes nothing when the key exists.
	Set(ctx context.Context, key, value string, opts SetOptions) (bool, error)

	Delete(ctx context.Context, keys ...string) error
	Exists(ctx context.Context, key string) (bool, error)
	Expire(ctx context.Context, key string, ttl time.Duration) error

	// TTL returns the remaining lifetime, NoExpiry or KeyMissing.
	TTL(ctx context.Context, key string) (time.Duration, error)

	// HashGetAll returns an empty map when the key does not exist.
	HashGetAll(ctx context.Context, key string) (map[string]string, error)

	// HashSet writes fields and, when ttl > 0, arms the key's TTL in the same transaction.
	HashSet(ctx context.Context, key string, fields map[string]string, ttl time.Duration) error

	HashDeleteFields(ctx context.Context, key string, fields ...string) error
	IncrementBy(ctx context.Context, key string, n int64) (int64, error)

	Ping(ctx context.Context) error
	Close() error
}
