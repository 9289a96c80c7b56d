package parallel

import (
	"context"
	"errors"

	"golang.org/x/sync/errgroup"
)

// Each calls fn for every item with at most limit invocations in flight and
// waits for all of them. A failing item does not stop the others, so the
// returned error joins every failure in item order. limit <= 0 means no limit.
//
//	err := parallel.Each(ctx, 4, handlers, func(ctx context.Context, h Handler) error {...})
func Each[E any](ctx context.Context, limit int, items []E, fn func(context.Context, E) error) error {
	switch len(items) {
	case 0:
		return nil
	case 1:
		return fn(ctx, items[0])
	}

	var g errgroup.Group
	if limit > 0 {
		g.SetLimit(limit)
	}
	errs := make([]error, len(items))
	for idx, item := range items {
		g.Go(func() error {
			errs[idx] = fn(ctx, item)
			return nil
		})
	}
	_ = g.Wait() // goroutines do not return an error
	return errors.Join(errs...)
}
