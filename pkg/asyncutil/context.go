// Copyright (C) 2020 Storj Labs, Inc.
// See LICENSE for copying information.

package asyncutil

import (
	"context"
	"time"
)

// WithoutCancellation returns a context that carries parent's values but
// is never Done and never errors, matching the teacher's
// private/context2.WithoutCancellation. Used by ScopeEventManager.Stop to
// let an in-flight iteration finish even after the caller's context is
// cancelled, per spec §4.4/§9.
func WithoutCancellation(parent context.Context) context.Context {
	return withoutCancellation{parent}
}

type withoutCancellation struct {
	parent context.Context
}

func (withoutCancellation) Deadline() (time.Time, bool) { return time.Time{}, false }
func (withoutCancellation) Done() <-chan struct{}       { return nil }
func (withoutCancellation) Err() error                  { return nil }
func (c withoutCancellation) Value(key interface{}) interface{} {
	return c.parent.Value(key)
}
