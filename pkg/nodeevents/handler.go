// Copyright (C) 2019 Storj Labs, Inc.
// See LICENSE for copying information.

// Package nodeevents consumes the event stream produced by pkg/events
// (C7), keeping pkg/nodecache's staleness/listing-complete state in sync
// and fanning out predicate-filtered node-change notifications to
// downstream subscribers, per spec §4.6.
package nodeevents

import (
	"context"
	"sync"

	"go.uber.org/zap"

	"storj.io/drivesync/pkg/drivenode"
	"storj.io/drivesync/pkg/nodecache"
)

// NodeLookup resolves the current, decrypted view of a node, per spec
// §4.6's "looks up the fresh node via (C8)". Satisfied by pkg/access.Access;
// kept as an interface here to avoid an import cycle (C8 depends on C2/C3,
// not on C7).
type NodeLookup interface {
	GetNode(ctx context.Context, uid drivenode.NodeUID) (*drivenode.Node, error)
}

// Predicate filters which node changes a subscriber is notified of. A nil
// field matches any value.
type Predicate struct {
	ParentUID *drivenode.NodeUID
	IsTrashed *bool
	IsShared  *bool
}

func (p Predicate) matches(n *drivenode.Node) bool {
	if p.ParentUID != nil {
		if n.ParentUID == nil || *n.ParentUID != *p.ParentUID {
			return false
		}
	}
	if p.IsTrashed != nil && n.IsTrashed() != *p.IsTrashed {
		return false
	}
	if p.IsShared != nil && n.IsShared != *p.IsShared {
		return false
	}
	return true
}

// ChangeType distinguishes an update-in-place from a removal.
type ChangeType int

// Change types, per spec §4.6.
const (
	ChangeUpdate ChangeType = iota
	ChangeRemove
)

// Change is delivered to a downstream subscriber's callback.
type Change struct {
	Type ChangeType
	UID  drivenode.NodeUID
	Node *drivenode.Node // nil for ChangeRemove
}

// Callback receives matching node changes.
type Callback func(ctx context.Context, change Change)

// Subscription is returned by AddSubscriber; Dispose stops delivery.
type Subscription struct {
	cancel func()
}

// Dispose removes the associated subscriber. Safe to call more than once.
func (s *Subscription) Dispose() {
	if s.cancel != nil {
		s.cancel()
	}
}

type subscriber struct {
	predicate Predicate
	callback  Callback
}

// Handler is the C7 listener: attach its HandleEvent method to a
// pkg/events.ScopeEventManager (or pkg/events.Service subscription) via
// AddListener.
type Handler struct {
	cache  *nodecache.Cache
	lookup NodeLookup
	log    *zap.Logger

	mu             sync.Mutex
	subscribers    map[int]subscriber
	nextSubscriber int
}

// New builds a Handler over cache, using lookup to resolve fresh nodes for
// update notifications.
func New(cache *nodecache.Cache, lookup NodeLookup, log *zap.Logger) *Handler {
	if log == nil {
		log = zap.NewNop()
	}
	return &Handler{cache: cache, lookup: lookup, log: log, subscribers: make(map[int]subscriber)}
}

// AddSubscriber registers cb for changes matching predicate.
func (h *Handler) AddSubscriber(predicate Predicate, cb Callback) *Subscription {
	h.mu.Lock()
	id := h.nextSubscriber
	h.nextSubscriber++
	h.subscribers[id] = subscriber{predicate: predicate, callback: cb}
	h.mu.Unlock()

	return &Subscription{cancel: func() {
		h.mu.Lock()
		delete(h.subscribers, id)
		h.mu.Unlock()
	}}
}

func (h *Handler) snapshotSubscribers() []subscriber {
	h.mu.Lock()
	defer h.mu.Unlock()
	out := make([]subscriber, 0, len(h.subscribers))
	for _, s := range h.subscribers {
		out = append(out, s)
	}
	return out
}

// HandleEvent implements events.Listener, per spec §4.6's per-event-type
// cache mutation table.
func (h *Handler) HandleEvent(ctx context.Context, event drivenode.Event) error {
	switch e := event.(type) {
	case *drivenode.NodeCreated:
		if err := h.cache.ResetFolderChildrenLoaded(ctx, e.ParentUID); err != nil {
			return err
		}
	case *drivenode.NodeUpdated:
		if err := h.handleNodeUpdated(ctx, e); err != nil {
			return err
		}
		h.notifyUpdate(ctx, e.NodeUID)
	case *drivenode.NodeDeleted:
		last, _ := h.cache.GetNode(ctx, e.NodeUID)
		if err := h.cache.RemoveNodes(ctx, []drivenode.NodeUID{e.NodeUID}); err != nil {
			return err
		}
		h.notifyRemove(ctx, e.NodeUID, last)
	case *drivenode.TreeRefresh:
		if err := h.cache.SetNodesStaleFromVolume(ctx, e.ScopeID()); err != nil {
			return err
		}
	case *drivenode.TreeRemove:
		if err := h.cache.RemoveVolumeRoot(ctx, e.ScopeID()); err != nil {
			return err
		}
	case *drivenode.SharedWithMeUpdated, *drivenode.FastForward:
		// no cache mutation, and no downstream callback is invoked.
	}
	return nil
}

// handleNodeUpdated marks a cached node stale and writes it back; a
// setNode failure triggers a corrective removeNodes, with the original
// error re-raised if that also fails, per spec §4.6.
func (h *Handler) handleNodeUpdated(ctx context.Context, e *drivenode.NodeUpdated) error {
	n, err := h.cache.GetNode(ctx, e.NodeUID)
	if err != nil {
		return nil // not cached: nothing to mark stale
	}
	n.IsStale = true
	if setErr := h.cache.SetNode(ctx, n); setErr != nil {
		if removeErr := h.cache.RemoveNodes(ctx, []drivenode.NodeUID{e.NodeUID}); removeErr != nil {
			h.log.Error("corrective removeNodes failed after setNode failure",
				zap.String("uid", string(e.NodeUID)), zap.Error(removeErr))
			return setErr
		}
	}
	return nil
}

func (h *Handler) notifyUpdate(ctx context.Context, uid drivenode.NodeUID) {
	n, err := h.lookup.GetNode(ctx, uid)
	if err != nil {
		h.log.Warn("node events: lookup failed for update notification", zap.String("uid", string(uid)), zap.Error(err))
		return
	}
	for _, sub := range h.snapshotSubscribers() {
		if sub.predicate.matches(n) {
			sub.callback(ctx, Change{Type: ChangeUpdate, UID: uid, Node: n})
		}
	}
}

func (h *Handler) notifyRemove(ctx context.Context, uid drivenode.NodeUID, last *drivenode.Node) {
	for _, sub := range h.snapshotSubscribers() {
		if last == nil || sub.predicate.matches(last) {
			sub.callback(ctx, Change{Type: ChangeRemove, UID: uid})
		}
	}
}
