package reconcile

import (
	"context"

	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"
)

// Fanout implements Component G: it runs op against every organization in
// orgs, bounded to workers concurrent in flight. With fewer than two workers
// or fewer than two organizations it just runs sequentially -- there is
// nothing to gain from a pool for one item, and it keeps the error path
// simple for the common single-org CLI invocation.
func Fanout(ctx context.Context, orgs []string, workers int, op func(ctx context.Context, org string) error) error {
	if workers < 2 || len(orgs) < 2 {
		for _, org := range orgs {
			if err := op(ctx, org); err != nil {
				return err
			}
		}
		return nil
	}

	eg, egCtx := errgroup.WithContext(ctx)
	sem := semaphore.NewWeighted(int64(workers))

	for _, org := range orgs {
		org := org
		if err := sem.Acquire(egCtx, 1); err != nil {
			// egCtx is only cancelled here because a dispatched op already
			// failed or ctx itself was cancelled; wait for in-flight
			// goroutines to finish and surface that underlying error
			// instead of the acquire failure.
			if werr := eg.Wait(); werr != nil {
				return werr
			}
			return err
		}
		eg.Go(func() error {
			defer sem.Release(1)
			return op(egCtx, org)
		})
	}

	return eg.Wait()
}

// PushAll fans Push out across orgs per SPEC_FULL.md §5's bounded
// concurrency model.
func (r *Reconciler) PushAll(ctx context.Context, orgs []string, workers int) error {
	return Fanout(ctx, orgs, workers, r.Push)
}

// RefreshAll fans Refresh out across orgs the same way.
func (r *Reconciler) RefreshAll(ctx context.Context, orgs []string, workers int) error {
	return Fanout(ctx, orgs, workers, r.Refresh)
}
