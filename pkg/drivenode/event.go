// Copyright (C) 2019 Storj Labs, Inc.
// See LICENSE for copying information.

package drivenode

// CoreScope is the literal scope id for the core (non-volume) event
// stream, per spec §3/GLOSSARY.
const CoreScope = "core"

// Event is the tagged union of server events the event engine fans out,
// per spec §3. Concrete event types implement it; callers type-switch.
type Event interface {
	EventID() string
	ScopeID() string
	isEvent()
}

type base struct {
	ID    string
	Scope string
}

// EventID implements Event.
func (b base) EventID() string { return b.ID }

// ScopeID implements Event.
func (b base) ScopeID() string { return b.Scope }

func (base) isEvent() {}

// NodeCreated signals a new node was created server-side.
type NodeCreated struct {
	base
	NodeUID   NodeUID
	ParentUID NodeUID
}

// NodeUpdated signals an existing node changed server-side.
type NodeUpdated struct {
	base
	NodeUID    NodeUID
	ParentUID  NodeUID
	IsTrashed  bool
	IsShared   bool
}

// NodeDeleted signals a node (and its subtree) was removed server-side.
type NodeDeleted struct {
	base
	NodeUID NodeUID
}

// SharedWithMeUpdated signals the "shared with me" collection changed.
// Always scoped to CoreScope.
type SharedWithMeUpdated struct {
	base
}

// TreeRefresh signals the whole volume tree should be treated as stale.
type TreeRefresh struct {
	base
}

// TreeRemove signals the whole volume tree should be evicted.
type TreeRemove struct {
	base
}

// FastForward signals the event cursor jumped ahead with no intervening
// per-node events to replay.
type FastForward struct {
	base
}

// NewNodeCreated builds a NodeCreated event.
func NewNodeCreated(eventID, scope string, nodeUID, parentUID NodeUID) *NodeCreated {
	return &NodeCreated{base: base{eventID, scope}, NodeUID: nodeUID, ParentUID: parentUID}
}

// NewNodeUpdated builds a NodeUpdated event.
func NewNodeUpdated(eventID, scope string, nodeUID, parentUID NodeUID, isTrashed, isShared bool) *NodeUpdated {
	return &NodeUpdated{base: base{eventID, scope}, NodeUID: nodeUID, ParentUID: parentUID, IsTrashed: isTrashed, IsShared: isShared}
}

// NewNodeDeleted builds a NodeDeleted event.
func NewNodeDeleted(eventID, scope string, nodeUID NodeUID) *NodeDeleted {
	return &NodeDeleted{base: base{eventID, scope}, NodeUID: nodeUID}
}

// NewSharedWithMeUpdated builds a SharedWithMeUpdated event, always scoped
// to CoreScope.
func NewSharedWithMeUpdated(eventID string) *SharedWithMeUpdated {
	return &SharedWithMeUpdated{base{eventID, CoreScope}}
}

// NewTreeRefresh builds a TreeRefresh event for the given volume scope.
func NewTreeRefresh(eventID, volumeID string) *TreeRefresh {
	return &TreeRefresh{base{eventID, volumeID}}
}

// NewTreeRemove builds a TreeRemove event for the given volume scope.
func NewTreeRemove(eventID, volumeID string) *TreeRemove {
	return &TreeRemove{base{eventID, volumeID}}
}

// NewFastForward builds a FastForward event for the given volume scope.
func NewFastForward(eventID, volumeID string) *FastForward {
	return &FastForward{base{eventID, volumeID}}
}
