// Copyright (C) 2019 Storj Labs, Inc.
// See LICENSE for copying information.

package events

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"storj.io/drivesync/pkg/asyncutil"
	"storj.io/drivesync/pkg/drivenode"
)

// fibonacci is the backoff multiplier table from spec §4.4, indexed by
// min(retryIndex, 6).
var fibonacci = [7]int{1, 1, 2, 3, 5, 8, 13}

// Listener is notified of each event a ScopeEventManager's source yields,
// in registration order. Returning an error breaks the current iteration
// and is re-raised to the manager's caller (spec §4.4 item 2).
type Listener func(ctx context.Context, event drivenode.Event) error

// EventSubscription is returned by AddListener; Dispose removes the
// listener, per spec's "scoped resource release" redesign flag.
type EventSubscription struct {
	cancel func()
}

// Dispose removes the associated listener. Safe to call more than once.
func (s *EventSubscription) Dispose() {
	if s.cancel != nil {
		s.cancel()
	}
}

// ScopeEventManager runs the per-scope polling loop (C5) for one Source:
// fetch -> yield -> persist latest id -> sleep with backoff; cancellable.
type ScopeEventManager struct {
	scopeID             string
	source              Source
	pollingInterval     time.Duration
	timer               asyncutil.Timer
	log                 *zap.Logger
	latestEventProvider LatestEventIDProvider

	mu             sync.Mutex
	listeners      map[int]Listener
	nextListenerID int
	latestEventID  string
	haveEventID    bool
	running        bool

	stopOnce sync.Once
	stopCh   chan struct{}
	doneCh   chan struct{}
}

// LatestEventIDProvider resumes a scope's cursor across process restarts,
// mirroring driveapi.LatestEventIDProvider but scoped to one manager.
type LatestEventIDProvider interface {
	GetLatestEventID(ctx context.Context, scopeID string) (string, bool, error)
}

// NewScopeEventManager builds a manager for scopeID, not yet started.
func NewScopeEventManager(scopeID string, source Source, pollingInterval time.Duration, timer asyncutil.Timer, provider LatestEventIDProvider, log *zap.Logger) *ScopeEventManager {
	if timer == nil {
		timer = asyncutil.RealTimer{}
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &ScopeEventManager{
		scopeID:             scopeID,
		source:              source,
		pollingInterval:     pollingInterval,
		timer:               timer,
		log:                 log,
		latestEventProvider: provider,
		listeners:           make(map[int]Listener),
		stopCh:              make(chan struct{}),
		doneCh:              make(chan struct{}),
	}
}

// AddListener registers cb and returns a disposable subscription.
func (m *ScopeEventManager) AddListener(cb Listener) *EventSubscription {
	m.mu.Lock()
	id := m.nextListenerID
	m.nextListenerID++
	m.listeners[id] = cb
	m.mu.Unlock()

	return &EventSubscription{cancel: func() {
		m.mu.Lock()
		delete(m.listeners, id)
		m.mu.Unlock()
	}}
}

// orderedListeners snapshots the registered listeners in registration
// order, so concurrent AddListener/Dispose calls never race an iteration.
func (m *ScopeEventManager) orderedListeners() []Listener {
	m.mu.Lock()
	defer m.mu.Unlock()
	ids := make([]int, 0, len(m.listeners))
	for id := range m.listeners {
		ids = append(ids, id)
	}
	for i := 1; i < len(ids); i++ {
		for j := i; j > 0 && ids[j-1] > ids[j]; j-- {
			ids[j-1], ids[j] = ids[j], ids[j-1]
		}
	}
	out := make([]Listener, 0, len(ids))
	for _, id := range ids {
		out = append(out, m.listeners[id])
	}
	return out
}

// Start runs the manager's loop in the background, per spec §4.4 "start()".
// If latestEventId is unknown it is resolved first and the first poll
// iteration is deferred to the scheduled interval; otherwise one iteration
// runs immediately.
func (m *ScopeEventManager) Start(ctx context.Context) {
	m.mu.Lock()
	if m.running {
		m.mu.Unlock()
		return
	}
	m.running = true
	m.mu.Unlock()

	go m.run(ctx)
}

func (m *ScopeEventManager) run(ctx context.Context) {
	defer close(m.doneCh)

	deferFirstTick := false
	if !m.haveEventID {
		if m.latestEventProvider != nil {
			if id, ok, err := m.latestEventProvider.GetLatestEventID(ctx, m.scopeID); err == nil && ok {
				m.latestEventID = id
				m.haveEventID = true
			}
		}
		if !m.haveEventID {
			id, err := m.source.GetLatestEventID(ctx)
			if err != nil {
				m.log.Error("resolve latest event id", zap.String("scope", m.scopeID), zap.Error(err))
				if ErrUnsubscribe.Has(err) {
					return
				}
			} else {
				m.latestEventID = id
				m.haveEventID = true
			}
			deferFirstTick = true
		}
	}

	retryIndex := 0
	for {
		if deferFirstTick {
			if !m.sleep(ctx, m.pollingInterval) {
				return
			}
			deferFirstTick = false
		}

		err := m.iterate(ctx)
		select {
		case <-ctx.Done():
			return
		case <-m.stopCh:
			return
		default:
		}

		if err != nil {
			if ErrUnsubscribe.Has(err) {
				return
			}
			m.log.Error("event manager iteration failed", zap.String("scope", m.scopeID), zap.Error(err))
			idx := retryIndex
			if idx > 6 {
				idx = 6
			}
			delay := m.pollingInterval * time.Duration(fibonacci[idx])
			retryIndex++
			if !m.sleep(ctx, delay) {
				return
			}
			continue
		}

		retryIndex = 0
		if !m.sleep(ctx, m.pollingInterval) {
			return
		}
	}
}

// iterate performs one fetch -> yield -> advance cycle.
func (m *ScopeEventManager) iterate(ctx context.Context) error {
	listeners := m.orderedListeners()
	return m.source.GetEvents(ctx, m.latestEventID, func(ctx context.Context, event drivenode.Event) error {
		for _, cb := range listeners {
			if err := cb(ctx, event); err != nil {
				return err
			}
		}
		m.mu.Lock()
		m.latestEventID = event.EventID()
		m.mu.Unlock()
		return nil
	})
}

func (m *ScopeEventManager) sleep(ctx context.Context, d time.Duration) bool {
	select {
	case <-m.stopCh:
		return false
	default:
	}
	done := make(chan bool, 1)
	go func() { done <- m.timer.After(ctx, d) }()
	select {
	case ok := <-done:
		return ok
	case <-m.stopCh:
		return false
	}
}

// Stop signals the loop to exit and waits for any in-flight iteration to
// finish, using asyncutil.WithoutCancellation so a caller-cancelled ctx
// does not truncate the final iteration, per spec's "scoped resource
// release" redesign flag.
func (m *ScopeEventManager) Stop(ctx context.Context) {
	m.stopOnce.Do(func() { close(m.stopCh) })
	without := asyncutil.WithoutCancellation(ctx)
	select {
	case <-m.doneCh:
	case <-without.Done():
	}
}
