// Copyright (C) 2019 Storj Labs, Inc.
// See LICENSE for copying information.

// Package asyncutil implements the bounded-concurrency and cooperative
// suspension primitives from spec §4.9/§5/§9 (C12): a mapping iterator
// with a concurrency cap, a fixed-size batch accumulator, a condition
// waiter, a pause/resume controller, and a broadcast Fence — the last
// copied in spirit from the teacher's private/sync2.Fence.
package asyncutil

import (
	"context"
	"sync"
)

// Fence is a single release, broadcast-to-all-waiters gate, identical in
// behavior to the teacher's private/sync2.Fence (see fence_test.go).
type Fence struct {
	once     sync.Once
	released chan struct{}
	init     sync.Once
}

func (f *Fence) lazyInit() {
	f.init.Do(func() {
		f.released = make(chan struct{})
	})
}

// Wait blocks until Release is called or ctx is cancelled, returning false
// in the latter case.
func (f *Fence) Wait(ctx context.Context) bool {
	f.lazyInit()
	select {
	case <-f.released:
		return true
	case <-ctx.Done():
		return false
	}
}

// Release unblocks every current and future Wait call. Safe to call more
// than once or concurrently with Wait.
func (f *Fence) Release() {
	f.lazyInit()
	f.once.Do(func() { close(f.released) })
}
