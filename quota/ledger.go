package quota

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	apperrors "github.com/jrsteele09/go-subs-manager/internal/errors"
	"github.com/jrsteele09/go-subs-manager/store"
	"github.com/rs/zerolog/log"
)

const keyPrefix = "quota:"

func key(identity string) string {
	return keyPrefix + identity
}

// Ledger counts destructive actions per identity within a fixed window that starts on first touch.
//
// Reserve and Consume are not atomic with each other: two concurrent requests can both pass Reserve
// and together overshoot the maximum by up to one batch.
type Ledger struct {
	store  store.Store
	max    int
	window time.Duration
}

// Status is a snapshot of one identity's quota.
type Status struct {
	Used      int64
	Remaining int
	ResetIn   time.Duration
}

func NewLedger(s store.Store, maxSelection int, window time.Duration) *Ledger {
	return &Ledger{store: s, max: maxSelection, window: window}
}

// Max is the number of actions allowed per window.
func (l *Ledger) Max() int {
	return l.max
}

// ensure lazily creates the counter at 0 with the window TTL. An existing counter is left alone.
func (l *Ledger) ensure(ctx context.Context, k string) error {
	_, err := l.store.Set(ctx, k, "0", store.SetOptions{TTL: l.window, OnlyIfAbsent: true})
	return err
}

// repair re-arms a counter that lost its TTL, so a window can never become permanent.
func (l *Ledger) repair(ctx context.Context, k string) (time.Duration, error) {
	ttl, err := l.store.TTL(ctx, k)
	if err != nil {
		return 0, err
	}
	if ttl != store.NoExpiry {
		return ttl, nil
	}
	if err := l.store.Expire(ctx, k, l.window); err != nil {
		return 0, err
	}
	log.Warn().Str("key", k).Dur("window", l.window).Msg("quota counter had no expiry, window re-armed")
	return l.window, nil
}

func (l *Ledger) used(ctx context.Context, k string) (int64, error) {
	raw, err := l.store.Get(ctx, k)
	if errors.Is(err, store.ErrNotFound) {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	n, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("%w: quota counter %q is not an integer", apperrors.ErrValidation, raw)
	}
	return n, nil
}

// Remaining returns how many actions the identity may still perform in the current window.
func (l *Ledger) Remaining(ctx context.Context, identity string) (int, error) {
	k := key(identity)
	if err := l.ensure(ctx, k); err != nil {
		return 0, err
	}
	used, err := l.used(ctx, k)
	if err != nil {
		return 0, err
	}
	if _, err := l.repair(ctx, k); err != nil {
		return 0, err
	}
	remaining := int64(l.max) - used
	if remaining < 0 {
		remaining = 0
	}
	return int(remaining), nil
}

// Reserve checks that n more actions fit in the window. It does not change the counter.
func (l *Ledger) Reserve(ctx context.Context, identity string, n int) error {
	if n <= 0 {
		return fmt.Errorf("%w: reserve count must be positive", apperrors.ErrValidation)
	}
	remaining, err := l.Remaining(ctx, identity)
	if err != nil {
		return err
	}
	if n > remaining {
		return fmt.Errorf("%w: requested %d, remaining %d", apperrors.ErrQuotaExceeded, n, remaining)
	}
	return nil
}

// Consume records n actions and returns the new counter value. Increments never move the window.
func (l *Ledger) Consume(ctx context.Context, identity string, n int) (int64, error) {
	k := key(identity)
	if err := l.ensure(ctx, k); err != nil {
		return 0, err
	}
	used, err := l.store.IncrementBy(ctx, k, int64(n))
	if err != nil {
		return 0, err
	}
	// The counter may have expired between ensure and the increment, recreating it without a TTL.
	if _, err := l.repair(ctx, k); err != nil {
		return 0, err
	}
	return used, nil
}

// ResetWindowRemaining returns the time until the identity's window closes, or 0 when no window is open.
func (l *Ledger) ResetWindowRemaining(ctx context.Context, identity string) (time.Duration, error) {
	ttl, err := l.repair(ctx, key(identity))
	if err != nil {
		return 0, err
	}
	if ttl == store.KeyMissing {
		return 0, nil
	}
	return ttl, nil
}

// Status reports the identity's quota without opening a window.
func (l *Ledger) Status(ctx context.Context, identity string) (Status, error) {
	k := key(identity)
	used, err := l.used(ctx, k)
	if err != nil {
		return Status{}, err
	}
	resetIn, err := l.ResetWindowRemaining(ctx, identity)
	if err != nil {
		return Status{}, err
	}
	remaining := int64(l.max) - used
	if remaining < 0 {
		remaining = 0
	}
	return Status{Used: used, Remaining: int(remaining), ResetIn: resetIn}, nil
}

// Reset clears the identity's counter and closes its window.
func (l *Ledger) Reset(ctx context.Context, identity string) error {
	if err := l.store.Delete(ctx, key(identity)); err != nil {
		return err
	}
	log.Info().Str("identity", identity).Msg("quota reset")
	return nil
}
