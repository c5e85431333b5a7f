// Copyright (C) 2019 Storj Labs, Inc.
// See LICENSE for copying information.

package asyncutil

import (
	"context"
	"sync"
	"time"
)

// ManualTimer is a Timer driven by explicit Advance calls instead of wall
// clock time, for deterministic tests of the spec §4.4 backoff schedule
// (spec §8 requires the backoff property to "hold under virtual time").
type ManualTimer struct {
	mu      sync.Mutex
	pending []*manualWait
}

type manualWait struct {
	remaining time.Duration
	done      chan struct{}
}

// After implements Timer, parking the caller until Advance consumes d or
// ctx is cancelled.
func (m *ManualTimer) After(ctx context.Context, d time.Duration) bool {
	wait := &manualWait{remaining: d, done: make(chan struct{})}
	m.mu.Lock()
	m.pending = append(m.pending, wait)
	m.mu.Unlock()

	select {
	case <-wait.done:
		return true
	case <-ctx.Done():
		return false
	}
}

// Advance moves the virtual clock forward by d, firing every pending timer
// whose remaining duration has elapsed.
func (m *ManualTimer) Advance(d time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var still []*manualWait
	for _, w := range m.pending {
		w.remaining -= d
		if w.remaining <= 0 {
			close(w.done)
		} else {
			still = append(still, w)
		}
	}
	m.pending = still
}

// Pending reports how many timers are currently waiting.
func (m *ManualTimer) Pending() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.pending)
}
