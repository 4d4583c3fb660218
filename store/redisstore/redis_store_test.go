package redisstore_test

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/jrsteele09/go-subs-manager/store"
	"github.com/jrsteele09/go-subs-manager/store/redisstore"
	"github.com/jrsteele09/go-subs-manager/store/storetest"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"
)

func newMiniredisStore(t *testing.T) (*redisstore.Store, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	s := redisstore.NewWithClient(client, "test:")
	t.Cleanup(func() { _ = s.Close() })
	return s, mr
}

func TestRedisStoreConformance(t *testing.T) {
	storetest.Run(t, func(t *testing.T) (store.Store, func(time.Duration)) {
		s, mr := newMiniredisStore(t)
		return s, mr.FastForward
	})
}

func TestRedisStoreKeyPrefix(t *testing.T) {
	ctx := context.Background()
	s, mr := newMiniredisStore(t)

	_, err := s.Set(ctx, "session:abc", "1", store.SetOptions{})
	require.NoError(t, err)
	require.True(t, mr.Exists("test:session:abc"))
	require.False(t, mr.Exists("session:abc"))
}

func TestNewRequiresAddr(t *testing.T) {
	_, err := redisstore.New(context.Background(), redisstore.Config{})
	require.Error(t, err)
}

func TestNewConnects(t *testing.T) {
	mr := miniredis.RunT(t)
	s, err := redisstore.New(context.Background(), redisstore.Config{Addr: mr.Addr(), KeyPrefix: "p:"})
	require.NoError(t, err)
	require.NoError(t, s.Ping(context.Background()))
	require.NoError(t, s.Close())
}
