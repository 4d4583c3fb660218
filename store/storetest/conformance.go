// Package storetest holds behaviour checks every store.Store implementation must pass.
package storetest

import (
	"context"
	"testing"
	"time"

	apperrors "github.com/jrsteele09/go-subs-manager/internal/errors"
	"github.com/jrsteele09/go-subs-manager/store"
	"github.com/stretchr/testify/require"
)

// Factory returns a fresh, empty store and a function that moves its clock forward.
type Factory func(t *testing.T) (store.Store, func(time.Duration))

func Run(t *testing.T, newStore Factory) {
	ctx := context.Background()

	t.Run("get missing", func(t *testing.T) {
		s, _ := newStore(t)
		_, err := s.Get(ctx, "nope")
		require.ErrorIs(t, err, store.ErrNotFound)
	})

	t.Run("set only if absent", func(t *testing.T) {
		s, _ := newStore(t)
		ok, err := s.Set(ctx, "k", "first", store.SetOptions{OnlyIfAbsent: true, TTL: time.Minute})
		require.NoError(t, err)
		require.True(t, ok)

		ok, err = s.Set(ctx, "k", "second", store.SetOptions{OnlyIfAbsent: true, TTL: time.Minute})
		require.NoError(t, err)
		require.False(t, ok)

		v, err := s.Get(ctx, "k")
		require.NoError(t, err)
		require.Equal(t, "first", v)
	})

	t.Run("ttl states", func(t *testing.T) {
		s, advance := newStore(t)
		ttl, err := s.TTL(ctx, "missing")
		require.NoError(t, err)
		require.Equal(t, store.KeyMissing, ttl)

		_, err = s.Set(ctx, "forever", "1", store.SetOptions{})
		require.NoError(t, err)
		ttl, err = s.TTL(ctx, "forever")
		require.NoError(t, err)
		require.Equal(t, store.NoExpiry, ttl)

		require.NoError(t, s.Expire(ctx, "forever", time.Hour))
		ttl, err = s.TTL(ctx, "forever")
		require.NoError(t, err)
		require.Equal(t, time.Hour, ttl)

		advance(time.Hour + time.Second)
		exists, err := s.Exists(ctx, "forever")
		require.NoError(t, err)
		require.False(t, exists)
	})

	t.Run("hash set arms ttl", func(t *testing.T) {
		s, advance := newStore(t)
		empty, err := s.HashGetAll(ctx, "h")
		require.NoError(t, err)
		require.Empty(t, empty)

		require.NoError(t, s.HashSet(ctx, "h", map[string]string{"a": "1", "b": "2"}, 10*time.Second))
		require.NoError(t, s.HashSet(ctx, "h", map[string]string{"c": "3"}, 0))

		m, err := s.HashGetAll(ctx, "h")
		require.NoError(t, err)
		require.Equal(t, map[string]string{"a": "1", "b": "2", "c": "3"}, m)

		ttl, err := s.TTL(ctx, "h")
		require.NoError(t, err)
		require.Equal(t, 10*time.Second, ttl)

		require.NoError(t, s.HashDeleteFields(ctx, "h", "a", "missing"))
		m, err = s.HashGetAll(ctx, "h")
		require.NoError(t, err)
		require.Equal(t, map[string]string{"b": "2", "c": "3"}, m)

		advance(11 * time.Second)
		m, err = s.HashGetAll(ctx, "h")
		require.NoError(t, err)
		require.Empty(t, m)
	})

	t.Run("increment", func(t *testing.T) {
		s, _ := newStore(t)
		v, err := s.IncrementBy(ctx, "counter", 5)
		require.NoError(t, err)
		require.EqualValues(t, 5, v)

		v, err = s.IncrementBy(ctx, "counter", 3)
		require.NoError(t, err)
		require.EqualValues(t, 8, v)

		// INCRBY on a missing key creates it without a TTL
		ttl, err := s.TTL(ctx, "counter")
		require.NoError(t, err)
		require.Equal(t, store.NoExpiry, ttl)
	})

	t.Run("increment non integer", func(t *testing.T) {
		s, _ := newStore(t)
		_, err := s.Set(ctx, "word", "abc", store.SetOptions{})
		require.NoError(t, err)
		_, err = s.IncrementBy(ctx, "word", 1)
		require.Error(t, err)
		require.True(t, apperrors.Is(err, apperrors.ErrStore))
	})

	t.Run("delete many", func(t *testing.T) {
		s, _ := newStore(t)
		_, _ = s.Set(ctx, "a", "1", store.SetOptions{})
		require.NoError(t, s.HashSet(ctx, "b", map[string]string{"f": "v"}, 0))
		require.NoError(t, s.Delete(ctx, "a", "b", "c"))

		for _, k := range []string{"a", "b"} {
			exists, err := s.Exists(ctx, k)
			require.NoError(t, err)
			require.False(t, exists)
		}
		require.NoError(t, s.Ping(ctx))
	})
}
