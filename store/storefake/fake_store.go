package storefake

import (
	"context"
	"fmt"
	"strconv"
	"sync"
	"time"

	apperrors "github.com/jrsteele09/go-subs-manager/internal/errors"
	"github.com/jrsteele09/go-subs-manager/store"
)

var _ store.Store = (*FakeStore)(nil)

type entry struct {
	value     string
	hash      map[string]string
	expiresAt time.Time // zero means no expiry
}

// FakeStore is an in-memory store.Store with a controllable clock.
type FakeStore struct {
	entries map[string]*entry
	now     time.Time
	failErr error
	lock    sync.Mutex
}

func NewFakeStore() *FakeStore {
	return &FakeStore{
		entries: make(map[string]*entry),
		now:     time.Unix(1_700_000_000, 0),
	}
}

// Now returns the fake clock's current time.
func (fs *FakeStore) Now() time.Time {
	fs.lock.Lock()
	defer fs.lock.Unlock()
	return fs.now
}

// Advance moves the fake clock forward, expiring keys whose TTL elapses.
func (fs *FakeStore) Advance(d time.Duration) {
	fs.lock.Lock()
	defer fs.lock.Unlock()
	fs.now = fs.now.Add(d)
}

// FailWith makes every subsequent operation return err (wrapped as a store error). nil restores normal behaviour.
func (fs *FakeStore) FailWith(err error) {
	fs.lock.Lock()
	defer fs.lock.Unlock()
	fs.failErr = err
}

// Keys returns the number of live keys.
func (fs *FakeStore) Keys() int {
	fs.lock.Lock()
	defer fs.lock.Unlock()
	n := 0
	for k := range fs.entries {
		if fs.live(k) != nil {
			n++
		}
	}
	return n
}

func (fs *FakeStore) fail() error {
	if fs.failErr != nil {
		return apperrors.Classify(apperrors.ErrStore, fs.failErr)
	}
	return nil
}

// live returns the entry for key, evicting it first if it has expired. Caller holds the lock.
func (fs *FakeStore) live(key string) *entry {
	e, ok := fs.entries[key]
	if !ok {
		return nil
	}
	if !e.expiresAt.IsZero() && !fs.now.Before(e.expiresAt) {
		delete(fs.entries, key)
		return nil
	}
	return e
}

func (fs *FakeStore) Get(_ context.Context, key string) (string, error) {
	fs.lock.Lock()
	defer fs.lock.Unlock()
	if err := fs.fail(); err != nil {
		return "", err
	}
	e := fs.live(key)
	if e == nil || e.hash != nil {
		return "", store.ErrNotFound
	}
	return e.value, nil
}

func (fs *FakeStore) Set(_ context.Context, key, value string, opts store.SetOptions) (bool, error) {
	fs.lock.Lock()
	defer fs.lock.Unlock()
	if err := fs.fail(); err != nil {
		return false, err
	}
	if opts.OnlyIfAbsent && fs.live(key) != nil {
		return false, nil
	}
	e := &entry{value: value}
	if opts.TTL > 0 {
		e.expiresAt = fs.now.Add(opts.TTL)
	}
	fs.entries[key] = e
	return true, nil
}

func (fs *FakeStore) Delete(_ context.Context, keys ...string) error {
	fs.lock.Lock()
	defer fs.lock.Unlock()
	if err := fs.fail(); err != nil {
		return err
	}
	for _, k := range keys {
		delete(fs.entries, k)
	}
	return nil
}

func (fs *FakeStore) Exists(_ context.Context, key string) (bool, error) {
	fs.lock.Lock()
	defer fs.lock.Unlock()
	if err := fs.fail(); err != nil {
		return false, err
	}
	return fs.live(key) != nil, nil
}

func (fs *FakeStore) Expire(_ context.Context, key string, ttl time.Duration) error {
	fs.lock.Lock()
	defer fs.lock.Unlock()
	if err := fs.fail(); err != nil {
		return err
	}
	if e := fs.live(key); e != nil {
		e.expiresAt = fs.now.Add(ttl)
	}
	return nil
}

func (fs *FakeStore) TTL(_ context.Context, key string) (time.Duration, error) {
	fs.lock.Lock()
	defer fs.lock.Unlock()
	if err := fs.fail(); err != nil {
		return 0, err
	}
	e := fs.live(key)
	if e == nil {
		return store.KeyMissing, nil
	}
	if e.expiresAt.IsZero() {
		return store.NoExpiry, nil
	}
	return e.expiresAt.Sub(fs.now).Round(time.Second), nil
}

func (fs *FakeStore) HashGetAll(_ context.Context, key string) (map[string]string, error) {
	fs.lock.Lock()
	defer fs.lock.Unlock()
	if err := fs.fail(); err != nil {
		return nil, err
	}
	out := map[string]string{}
	if e := fs.live(key); e != nil {
		for k, v := range e.hash {
			out[k] = v
		}
	}
	return out, nil
}

func (fs *FakeStore) HashSet(_ context.Context, key string, fields map[string]string, ttl time.Duration) error {
	fs.lock.Lock()
	defer fs.lock.Unlock()
	if err := fs.fail(); err != nil {
		return err
	}
	if len(fields) == 0 {
		return nil
	}
	e := fs.live(key)
	if e == nil || e.hash == nil {
		e = &entry{hash: map[string]string{}}
		fs.entries[key] = e
	}
	for k, v := range fields {
		e.hash[k] = v
	}
	if ttl > 0 {
		e.expiresAt = fs.now.Add(ttl)
	}
	return nil
}

func (fs *FakeStore) HashDeleteFields(_ context.Context, key string, fields ...string) error {
	fs.lock.Lock()
	defer fs.lock.Unlock()
	if err := fs.fail(); err != nil {
		return err
	}
	e := fs.live(key)
	if e == nil || e.hash == nil {
		return nil
	}
	for _, f := range fields {
		delete(e.hash, f)
	}
	if len(e.hash) == 0 {
		delete(fs.entries, key)
	}
	return nil
}

func (fs *FakeStore) IncrementBy(_ context.Context, key string, n int64) (int64, error) {
	fs.lock.Lock()
	defer fs.lock.Unlock()
	if err := fs.fail(); err != nil {
		return 0, err
	}
	e := fs.live(key)
	if e == nil {
		e = &entry{value: "0"}
		fs.entries[key] = e
	}
	current, err := strconv.ParseInt(e.value, 10, 64)
	if err != nil || e.hash != nil {
		return 0, apperrors.Classify(apperrors.ErrStore, fmt.Errorf("value at %s is not an integer", key))
	}
	current += n
	e.value = strconv.FormatInt(current, 10)
	return current, nil
}

func (fs *FakeStore) Ping(context.Context) error {
	fs.lock.Lock()
	defer fs.lock.Unlock()
	return fs.fail()
}

func (fs *FakeStore) Close() error {
	return nil
}
