package dataprovider

import (
	"context"
	"time"

	"golang.org/x/sync/errgroup"
)


// anything that can be waited on
type Waiter interface {
	WaitUntilReady(ctx context.Context, timeout time.Duration) error
}


// waits for every provider in parallel
// returns the first failure, which cancels the other waits
func WaitAllReady(ctx context.Context, timeout time.Duration, waiters ...Waiter) error {
	group, groupCtx := errgroup.WithContext(ctx)
	for _, waiter := range waiters {
		group.Go(func() error {
			return waiter.WaitUntilReady(groupCtx, timeout)
		})
	}
	return group.Wait()
}
