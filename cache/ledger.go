package cache

import (
	"context"
	"time"

	apperrors "github.com/jrsteele09/go-subs-manager/internal/errors"
	"github.com/jrsteele09/go-subs-manager/store"
	"github.com/rs/zerolog/log"
)

const (
	keyPrefix = "cache:"
	// nullMarker records that a lookup ran and found nothing, so it is not repeated.
	nullMarker = "null"
)

func key(identity string) string {
	return keyPrefix + identity
}

// FetchFunc looks up the values for ids the cache does not hold. Ids absent from the returned map
// are recorded as unknown.
type FetchFunc func(ctx context.Context, ids []string) (map[string]*time.Time, error)

// Ledger caches one timestamp (or "unknown") per resource id, per identity.
type Ledger struct {
	store store.Store
	ttl   time.Duration
}

func NewLedger(s store.Store, ttl time.Duration) *Ledger {
	return &Ledger{store: s, ttl: ttl}
}

// Reconcile returns a value for every id in ids, calling fetchMissing only for ids not yet cached.
// Cached entries for ids no longer present are not detected when the counts happen to match.
func (l *Ledger) Reconcile(ctx context.Context, identity string, ids []string, fetchMissing FetchFunc) (map[string]*time.Time, error) {
	k := key(identity)
	cached, err := l.store.HashGetAll(ctx, k)
	if err != nil {
		return nil, err
	}

	result := make(map[string]*time.Time, len(ids))
	var missing []string
	for _, id := range ids {
		raw, ok := cached[id]
		if !ok {
			missing = append(missing, id)
			continue
		}
		result[id] = decode(raw)
	}

	if len(cached) == len(ids) && len(missing) == 0 {
		return result, nil
	}
	if len(missing) == 0 {
		log.Debug().Str("identity", identity).Int("cached", len(cached)).Int("live", len(ids)).Msg("cache holds stale entries")
		return result, nil
	}

	log.Debug().Str("identity", identity).Int("missing", len(missing)).Msg("fetching uncached entries")
	fetched, err := fetchMissing(ctx, missing)
	if err != nil {
		return nil, apperrors.Wrapf(err, "failed to fetch %d uncached entries", len(missing))
	}

	fields := make(map[string]string, len(missing))
	for _, id := range missing {
		v := fetched[id]
		result[id] = v
		fields[id] = encode(v)
	}
	if err := l.store.HashSet(ctx, k, fields, l.ttl); err != nil {
		return nil, err
	}
	return result, nil
}

// Invalidate drops the entries for ids so the next Reconcile fetches them again.
func (l *Ledger) Invalidate(ctx context.Context, identity string, ids []string) error {
	if len(ids) == 0 {
		return nil
	}
	return l.store.HashDeleteFields(ctx, key(identity), ids...)
}

func encode(t *time.Time) string {
	if t == nil {
		return nullMarker
	}
	return t.UTC().Format(time.RFC3339)
}

func decode(raw string) *time.Time {
	if raw == nullMarker || raw == "" {
		return nil
	}
	t, err := time.Parse(time.RFC3339, raw)
	if err != nil {
		return nil
	}
	return &t
}
