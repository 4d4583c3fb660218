package config

import "time"

type StoreConfig interface {
	GetRedisAddr() string
	GetRedisUsername() string
	GetRedisPassword() string
	GetRedisDB() int
	GetStoreKeyPrefix() string
	GetCacheTTL() time.Duration
}

type Store struct{}

var _ StoreConfig = Store{}

func (Store) GetRedisAddr() string {
	return GetEnv("REDIS_ADDR", "localhost:6379")
}

func (Store) GetRedisUsername() string {
	return GetEnv("REDIS_USERNAME", "")
}

func (Store) GetRedisPassword() string {
	return GetEnv("REDIS_PASSWORD", "")
}

func (Store) GetRedisDB() int {
	return GetEnvInt("REDIS_DB", 0)
}

func (Store) GetStoreKeyPrefix() string {
	return GetEnv("STORE_KEY_PREFIX", "subs:")
}

func (Store) GetCacheTTL() time.Duration {
	return GetEnvDuration("CACHE_TTL", 2*time.Hour)
}
