// Copyright (C) 2019 Storj Labs, Inc.
// See LICENSE for copying information.

package events_test

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"storj.io/drivesync/pkg/asyncutil"
	"storj.io/drivesync/pkg/drivenode"
	"storj.io/drivesync/pkg/events"
)

// scriptedSource lets tests control exactly what GetEvents does on each
// call: fail N times, then yield a fixed event sequence, matching spec
// §8 scenario 3 (polling backoff).
type scriptedSource struct {
	mu          sync.Mutex
	calls       int32
	failUntil   int32
	eventsAfter []drivenode.Event
}

func (s *scriptedSource) GetLatestEventID(ctx context.Context) (string, error) {
	return "e0", nil
}

func (s *scriptedSource) GetEvents(ctx context.Context, latestEventID string, yield events.Yield) error {
	n := atomic.AddInt32(&s.calls, 1)
	if n <= s.failUntil {
		return context.DeadlineExceeded
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, e := range s.eventsAfter {
		if err := yield(ctx, e); err != nil {
			return err
		}
	}
	s.eventsAfter = nil
	return nil
}

func (s *scriptedSource) Calls() int32 { return atomic.LoadInt32(&s.calls) }

// knownCursorProvider resolves a latestEventId immediately, so Start()
// runs its first iteration without deferring to the scheduled interval,
// per spec §4.4's "start()" description.
type knownCursorProvider struct{}

func (knownCursorProvider) GetLatestEventID(ctx context.Context, scopeID string) (string, bool, error) {
	return "e0", true, nil
}

func TestScopeEventManagerBackoffSchedule(t *testing.T) {
	source := &scriptedSource{failUntil: 3, eventsAfter: []drivenode.Event{
		drivenode.NewNodeCreated("e1", "v1", drivenode.NewNodeUID("v1", "n1"), drivenode.NewNodeUID("v1", "root")),
	}}
	timer := &asyncutil.ManualTimer{}
	mgr := events.NewScopeEventManager("v1", source, time.Second, timer, knownCursorProvider{}, nil)

	var received int32
	mgr.AddListener(func(ctx context.Context, e drivenode.Event) error {
		atomic.AddInt32(&received, 1)
		return nil
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	mgr.Start(ctx)

	waitForCalls := func(n int32) {
		for i := 0; i < 500 && source.Calls() < n; i++ {
			time.Sleep(time.Millisecond)
		}
		require.GreaterOrEqual(t, source.Calls(), n)
	}
	waitForPending := func() {
		for i := 0; i < 500 && timer.Pending() == 0; i++ {
			time.Sleep(time.Millisecond)
		}
		require.Equal(t, 1, timer.Pending())
	}

	// call 1: immediate failure, sleep 1s (fib[0]=1)
	waitForCalls(1)
	waitForPending()
	timer.Advance(time.Second)

	// call 2: failure, sleep 1s (fib[1]=1)
	waitForCalls(2)
	waitForPending()
	timer.Advance(time.Second)

	// call 3: failure, sleep 2s (fib[2]=2)
	waitForCalls(3)
	waitForPending()
	timer.Advance(2 * time.Second)

	// call 4: success, yields one event, then sleeps the base interval (1s)
	waitForCalls(4)
	for i := 0; i < 500 && atomic.LoadInt32(&received) == 0; i++ {
		time.Sleep(time.Millisecond)
	}
	require.EqualValues(t, 1, received)
	waitForPending()

	cancel()
}

func TestScopeEventManagerUnsubscribeStopsLoop(t *testing.T) {
	source := &unsubscribingSource{}
	timer := &asyncutil.ManualTimer{}
	mgr := events.NewScopeEventManager("v1", source, time.Second, timer, knownCursorProvider{}, nil)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	mgr.Start(ctx)

	done := make(chan struct{})
	go func() {
		mgr.Stop(context.Background())
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("manager did not stop after unsubscribe")
	}
}

type unsubscribingSource struct{}

func (unsubscribingSource) GetLatestEventID(ctx context.Context) (string, error) { return "e0", nil }

func (unsubscribingSource) GetEvents(ctx context.Context, latestEventID string, yield events.Yield) error {
	return events.ErrUnsubscribe.New("gone")
}

func TestEventSubscriptionDisposeIsIdempotent(t *testing.T) {
	source := &scriptedSource{}
	timer := &asyncutil.ManualTimer{}
	mgr := events.NewScopeEventManager("v1", source, time.Hour, timer, nil, nil)

	var calls int32
	sub := mgr.AddListener(func(ctx context.Context, e drivenode.Event) error {
		atomic.AddInt32(&calls, 1)
		return nil
	})
	sub.Dispose()
	sub.Dispose() // must be idempotent
}
