// Copyright (C) 2019 Storj Labs, Inc.
// See LICENSE for copying information.

// Package nodecache implements the node-domain semantics layered over
// pkg/entitycache, per spec §4.2 (C2): key conventions, tag indices,
// recursive eviction, staleness, and per-folder listing-complete markers.
package nodecache

import (
	"storj.io/drivesync/pkg/drivenode"
	"storj.io/drivesync/pkg/entitycache"
)

const nodeKeyPrefix = "node-"

// nodeKey returns the cache key for a node row.
func nodeKey(uid drivenode.NodeUID) entitycache.Key {
	return entitycache.Key(nodeKeyPrefix + string(uid))
}

// uidFromNodeKey extracts the NodeUID from a key produced by nodeKey.
func uidFromNodeKey(key entitycache.Key) drivenode.NodeUID {
	return drivenode.NodeUID(key[len(nodeKeyPrefix):])
}

// childrenKey returns the cache key for a folder's listing-complete marker.
func childrenKey(uid drivenode.NodeUID) entitycache.Key {
	return entitycache.Key("node-children-" + string(uid))
}

// volumeTag is set on every node in a volume.
func volumeTag(volumeID string) entitycache.Tag {
	return entitycache.Tag("volume:" + volumeID)
}

// parentTag is set on every node with a parent.
func parentTag(parentUID drivenode.NodeUID) entitycache.Tag {
	return entitycache.Tag("nodeParentUid:" + string(parentUID))
}

// rootTag is set on a volume's root node (no parent).
func rootTag(volumeID string) entitycache.Tag {
	return entitycache.Tag("nodeRoot:" + volumeID)
}

// trashedTag is set on a node with a trash time.
const trashedTag entitycache.Tag = "nodeTrashed"

// childrenVolumeTag marks a folder-listing-complete row as belonging to a
// volume, so setNodesStaleFromVolume can find and clear them in bulk.
func childrenVolumeTag(volumeID string) entitycache.Tag {
	return entitycache.Tag("children-volume:" + volumeID)
}

// tagsForNode computes the full tag set for n, per spec §4.2.
func tagsForNode(n *drivenode.Node) []entitycache.Tag {
	tags := []entitycache.Tag{volumeTag(n.VolumeID)}
	if n.ParentUID != nil {
		tags = append(tags, parentTag(*n.ParentUID))
	} else {
		tags = append(tags, rootTag(n.VolumeID))
	}
	if n.IsTrashed() {
		tags = append(tags, trashedTag)
	}
	return tags
}

func childrenMarkerValue() string {
	return "1"
}
