package workerpool

import (
	"context"
	"fmt"

	"golang.org/x/sync/errgroup"
)

// DefaultLimit is the fan-out used when a caller passes a non-positive limit.
const DefaultLimit = 15

// Outcome is the result of running fn on one item.
type Outcome[T, R any] struct {
	Item   T
	Result R
	Err    error
}

// Run calls fn for every item with at most limit calls in flight and returns one Outcome per item,
// in input order. A failing or panicking item never cancels its siblings. Items not yet started
// when ctx is cancelled get ctx's error.
func Run[T, R any](ctx context.Context, limit int, items []T, fn func(context.Context, T) (R, error)) []Outcome[T, R] {
	if limit <= 0 {
		limit = DefaultLimit
	}

	outcomes := make([]Outcome[T, R], len(items))
	var g errgroup.Group
	g.SetLimit(limit)

	for i, item := range items {
		outcomes[i].Item = item
		if err := ctx.Err(); err != nil {
			outcomes[i].Err = err
			continue
		}
		g.Go(func() error {
			outcomes[i].Result, outcomes[i].Err = call(ctx, item, fn)
			return nil
		})
	}
	_ = g.Wait()
	return outcomes
}

func call[T, R any](ctx context.Context, item T, fn func(context.Context, T) (R, error)) (result R, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("task panicked: %v", r)
		}
	}()
	return fn(ctx, item)
}

// Errors returns the failed outcomes.
func Errors[T, R any](outcomes []Outcome[T, R]) []Outcome[T, R] {
	var failed []Outcome[T, R]
	for _, o := range outcomes {
		if o.Err != nil {
			failed = append(failed, o)
		}
	}
	return failed
}
