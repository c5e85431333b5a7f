// Copyright (C) 2019 Storj Labs, Inc.
// See LICENSE for copying information.

package nodecache

import (
	"context"
	"sort"

	"go.uber.org/zap"

	"storj.io/drivesync/pkg/driveerrs"
	"storj.io/drivesync/pkg/drivenode"
	"storj.io/drivesync/pkg/entitycache"
)

// Cache layers the node-domain semantics of spec §4.2 over a generic
// entitycache.Store.
type Cache struct {
	store entitycache.Store
	log   *zap.Logger
}

// New returns a Cache backed by store. log may be nil, in which case a
// no-op logger is used.
func New(store entitycache.Store, log *zap.Logger) *Cache {
	if log == nil {
		log = zap.NewNop()
	}
	return &Cache{store: store, log: log}
}

// SetNode upserts n, computing its tag set per spec §4.2.
func (c *Cache) SetNode(ctx context.Context, n *drivenode.Node) error {
	data, err := marshalRecord(toRecord(n))
	if err != nil {
		return err
	}
	return c.store.Set(ctx, nodeKey(n.UID), string(data), tagsForNode(n))
}

// GetNode returns the cached node for uid, or driveerrs.NotFound. A schema
// validation failure removes the entry (warning-logged on removal failure,
// never silently ignored) and returns driveerrs.CorruptedEntity.
func (c *Cache) GetNode(ctx context.Context, uid drivenode.NodeUID) (*drivenode.Node, error) {
	data, err := c.store.Get(ctx, nodeKey(uid))
	if err != nil {
		return nil, err
	}
	r, err := unmarshalRecord([]byte(data))
	if err != nil {
		if removeErr := c.store.Remove(ctx, []entitycache.Key{nodeKey(uid)}); removeErr != nil {
			c.log.Warn("failed to remove corrupted node", zap.String("uid", string(uid)), zap.Error(removeErr))
		}
		return nil, driveerrs.CorruptedEntity(string(uid), err)
	}
	return fromRecord(r), nil
}

// RemoveNodes deletes uids and every descendant discovered via recursive
// parent-tag lookups, deleting leaves before their ancestors within this
// call (spec §4.2's "leaf -> root" ordering) so a partial failure never
// orphans a child above an already-deleted parent.
func (c *Cache) RemoveNodes(ctx context.Context, uids []drivenode.NodeUID) error {
	order, err := c.discoverSubtree(ctx, uids)
	if err != nil {
		return err
	}
	// Reverse: discovery is root-to-leaf (BFS from uids), so reversing
	// yields leaf-to-root deletion order.
	for i, j := 0, len(order)-1; i < j; i, j = i+1, j-1 {
		order[i], order[j] = order[j], order[i]
	}
	keys := make([]entitycache.Key, 0, len(order))
	for _, uid := range order {
		keys = append(keys, nodeKey(uid))
	}
	return c.store.Remove(ctx, keys)
}

// discoverSubtree walks parent->child tags breadth-first starting at
// roots, returning [roots..., then each successive generation...] in
// discovery order (root-to-leaf). Duplicate discovery (shouldn't happen in
// a well-formed tree) is de-duplicated defensively.
func (c *Cache) discoverSubtree(ctx context.Context, roots []drivenode.NodeUID) ([]drivenode.NodeUID, error) {
	seen := make(map[drivenode.NodeUID]struct{}, len(roots))
	var order []drivenode.NodeUID
	frontier := append([]drivenode.NodeUID(nil), roots...)

	for _, uid := range frontier {
		if _, ok := seen[uid]; !ok {
			seen[uid] = struct{}{}
			order = append(order, uid)
		}
	}

	for len(frontier) > 0 {
		var next []drivenode.NodeUID
		for _, uid := range frontier {
			children, err := c.store.IterateByTag(ctx, parentTag(uid))
			if err != nil {
				return nil, err
			}
			for _, key := range children {
				childUID := uidFromNodeKey(key)
				if _, ok := seen[childUID]; ok {
					continue
				}
				seen[childUID] = struct{}{}
				order = append(order, childUID)
				next = append(next, childUID)
			}
		}
		frontier = next
	}
	return order, nil
}

// SetNodesStaleFromVolume marks every cached node in volumeID stale and
// clears every folder-listing-complete marker in that volume, per spec
// §4.2.
func (c *Cache) SetNodesStaleFromVolume(ctx context.Context, volumeID string) error {
	keys, err := c.store.IterateByTag(ctx, volumeTag(volumeID))
	if err != nil {
		return err
	}
	for _, key := range keys {
		uid := uidFromNodeKey(key)
		n, err := c.GetNode(ctx, uid)
		if err != nil {
			if driveerrs.NotFound.Has(err) || driveerrs.Corrupted.Has(err) {
				continue
			}
			return err
		}
		n.IsStale = true
		if err := c.SetNode(ctx, n); err != nil {
			return err
		}
	}

	markers, err := c.store.IterateByTag(ctx, childrenVolumeTag(volumeID))
	if err != nil {
		return err
	}
	return c.store.Remove(ctx, markers)
}

// IterateChildren returns the non-trashed children of parentUID, in no
// particular server-defined order (callers needing completeness use
// IsFolderChildrenLoaded alongside this).
func (c *Cache) IterateChildren(ctx context.Context, parentUID drivenode.NodeUID) ([]*drivenode.Node, error) {
	keys, err := c.store.IterateByTag(ctx, parentTag(parentUID))
	if err != nil {
		return nil, err
	}
	return c.loadAndFilter(ctx, keys, func(n *drivenode.Node) bool { return !n.IsTrashed() })
}

// IterateTrashedNodes returns every trashed node across all volumes.
func (c *Cache) IterateTrashedNodes(ctx context.Context) ([]*drivenode.Node, error) {
	keys, err := c.store.IterateByTag(ctx, trashedTag)
	if err != nil {
		return nil, err
	}
	return c.loadAndFilter(ctx, keys, func(*drivenode.Node) bool { return true })
}

func (c *Cache) loadAndFilter(ctx context.Context, keys []entitycache.Key, keep func(*drivenode.Node) bool) ([]*drivenode.Node, error) {
	uids := make([]drivenode.NodeUID, 0, len(keys))
	for _, key := range keys {
		uids = append(uids, uidFromNodeKey(key))
	}
	sort.Slice(uids, func(i, j int) bool { return uids[i] < uids[j] })

	var out []*drivenode.Node
	for _, uid := range uids {
		n, err := c.GetNode(ctx, uid)
		if err != nil {
			if driveerrs.NotFound.Has(err) || driveerrs.Corrupted.Has(err) {
				continue
			}
			return nil, err
		}
		if keep(n) {
			out = append(out, n)
		}
	}
	return out, nil
}

// SetFolderChildrenLoaded marks parentUID's children as fully listed.
func (c *Cache) SetFolderChildrenLoaded(ctx context.Context, parentUID drivenode.NodeUID) error {
	return c.store.Set(ctx, childrenKey(parentUID), childrenMarkerValue(), []entitycache.Tag{childrenVolumeTag(parentUID.VolumeID())})
}

// ResetFolderChildrenLoaded clears parentUID's listing-complete marker.
func (c *Cache) ResetFolderChildrenLoaded(ctx context.Context, parentUID drivenode.NodeUID) error {
	return c.store.Remove(ctx, []entitycache.Key{childrenKey(parentUID)})
}

// IsFolderChildrenLoaded reports whether parentUID's listing-complete
// marker is present.
func (c *Cache) IsFolderChildrenLoaded(ctx context.Context, parentUID drivenode.NodeUID) (bool, error) {
	_, err := c.store.Get(ctx, childrenKey(parentUID))
	if err != nil {
		if driveerrs.NotFound.Has(err) {
			return false, nil
		}
		return false, err
	}
	return true, nil
}

// RemoveVolumeRoot recursively removes every node under volumeID's root
// tag, used by the node events handler on TreeRemove (spec §4.6).
func (c *Cache) RemoveVolumeRoot(ctx context.Context, volumeID string) error {
	keys, err := c.store.IterateByTag(ctx, rootTag(volumeID))
	if err != nil {
		return err
	}
	roots := make([]drivenode.NodeUID, 0, len(keys))
	for _, key := range keys {
		roots = append(roots, uidFromNodeKey(key))
	}
	if len(roots) == 0 {
		return nil
	}
	return c.RemoveNodes(ctx, roots)
}
