// Copyright (C) 2019 Storj Labs, Inc.
// See LICENSE for copying information.

package asyncutil

import (
	"context"

	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"
)

// DefaultConcurrency is the bounded-concurrency default from spec §9
// ("a bounded-concurrency mapping adapter (max in-flight = 10 by
// default)").
const DefaultConcurrency = 10

// MapConcurrently applies fn to every item in items with at most
// concurrency in-flight calls (concurrency <= 0 uses DefaultConcurrency),
// preserving input order in the returned slice. The first error from any
// fn call cancels the remaining work and is returned.
func MapConcurrently[In, Out any](ctx context.Context, concurrency int, items []In, fn func(ctx context.Context, item In) (Out, error)) ([]Out, error) {
	if concurrency <= 0 {
		concurrency = DefaultConcurrency
	}

	out := make([]Out, len(items))
	sem := semaphore.NewWeighted(int64(concurrency))
	group, groupCtx := errgroup.WithContext(ctx)

	for i, item := range items {
		i, item := i, item
		if err := sem.Acquire(groupCtx, 1); err != nil {
			break
		}
		group.Go(func() error {
			defer sem.Release(1)
			result, err := fn(groupCtx, item)
			if err != nil {
				return err
			}
			out[i] = result
			return nil
		})
	}

	if err := group.Wait(); err != nil {
		return nil, err
	}
	return out, nil
}
