package bulk

import (
	"context"
	"errors"
	"fmt"

	"github.com/jrsteele09/go-subs-manager/cache"
	apperrors "github.com/jrsteele09/go-subs-manager/internal/errors"
	"github.com/jrsteele09/go-subs-manager/quota"
	"github.com/jrsteele09/go-subs-manager/workerpool"
	"github.com/rs/zerolog/log"
)

// ItemFunc performs the destructive action on one resource id.
type ItemFunc func(ctx context.Context, id string) error

// Result lists the ids whose action succeeded or failed.
type Result struct {
	Succeeded []string `json:"succeeded"`
	Failed    []string `json:"failed"`
}

// Orchestrator runs quota-guarded destructive batches.
type Orchestrator struct {
	quota *quota.Ledger
	cache *cache.Ledger
	limit int
}

func NewOrchestrator(q *quota.Ledger, c *cache.Ledger, fanOutLimit int) *Orchestrator {
	return &Orchestrator{quota: q, cache: c, limit: fanOutLimit}
}

// Execute rejects the whole batch when it exceeds the identity's remaining quota. Otherwise it runs
// action for every id with bounded concurrency; a failing item never stops the others. The full
// batch is charged to the quota and evicted from the cache whatever the per-item outcomes.
func (o *Orchestrator) Execute(ctx context.Context, identity string, ids []string, action ItemFunc) (Result, error) {
	if len(ids) == 0 {
		return Result{}, fmt.Errorf("%w: no items selected", apperrors.ErrValidation)
	}
	if err := o.quota.Reserve(ctx, identity, len(ids)); err != nil {
		return Result{}, err
	}

	outcomes := workerpool.Run(ctx, o.limit, ids, func(ctx context.Context, id string) (struct{}, error) {
		return struct{}{}, action(ctx, id)
	})

	result := Result{Succeeded: []string{}, Failed: []string{}}
	for _, out := range outcomes {
		if out.Err != nil {
			log.Warn().Err(out.Err).Str("identity", identity).Str("item", out.Item).Msg("bulk item failed")
			result.Failed = append(result.Failed, out.Item)
			continue
		}
		result.Succeeded = append(result.Succeeded, out.Item)
	}

	// Bookkeeping must survive a client that went away mid-batch. Both steps always run.
	bookkeeping := context.WithoutCancel(ctx)
	var consumeErr error
	if _, err := o.quota.Consume(bookkeeping, identity, len(ids)); err != nil {
		consumeErr = apperrors.Wrapf(err, "failed to record quota usage for %d items", len(ids))
	}
	invalidateErr := apperrors.Wrapf(o.cache.Invalidate(bookkeeping, identity, ids), "failed to invalidate cache")
	if err := errors.Join(consumeErr, invalidateErr); err != nil {
		return result, err
	}

	log.Info().Str("identity", identity).Int("succeeded", len(result.Succeeded)).Int("failed", len(result.Failed)).Msg("bulk action completed")
	return result, nil
}
