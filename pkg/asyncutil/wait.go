// Copyright (C) 2019 Storj Labs, Inc.
// See LICENSE for copying information.

package asyncutil

import (
	"context"
	"time"

	"storj.io/drivesync/pkg/driveerrs"
)

// PollInterval is the fixed poll period spec §5 assigns to
// WaitForCondition ("Waiters (waitForCondition) poll at 50 ms").
const PollInterval = 50 * time.Millisecond

// WaitForCondition polls cond every PollInterval until it returns true or
// ctx is cancelled, in which case it returns a driveerrs.Aborted-classed
// error.
func WaitForCondition(ctx context.Context, cond func() bool) error {
	if cond() {
		return nil
	}
	ticker := time.NewTicker(PollInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return driveerrs.Aborted.Wrap(ctx.Err())
		case <-ticker.C:
			if cond() {
				return nil
			}
		}
	}
}
