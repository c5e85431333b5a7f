// Copyright (C) 2019 Storj Labs, Inc.
// See LICENSE for copying information.

package nodeevents_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"storj.io/drivesync/pkg/drivenode"
	"storj.io/drivesync/pkg/entitycache"
	"storj.io/drivesync/pkg/nodecache"
	"storj.io/drivesync/pkg/nodeevents"
)

func ptr(uid drivenode.NodeUID) *drivenode.NodeUID { return &uid }

func newNode(uid drivenode.NodeUID, parent *drivenode.NodeUID, volumeID string) *drivenode.Node {
	return &drivenode.Node{
		UID:          uid,
		ParentUID:    parent,
		VolumeID:     volumeID,
		CreationTime: time.Unix(0, 0).UTC(),
		Type:         drivenode.TypeFile,
		Name:         drivenode.Ok("name"),
		KeyAuthor:    drivenode.Ok(drivenode.Email("a@example.com")),
		NameAuthor:   drivenode.Ok(drivenode.Email("a@example.com")),
	}
}

type fakeLookup struct {
	cache *nodecache.Cache
}

func (f *fakeLookup) GetNode(ctx context.Context, uid drivenode.NodeUID) (*drivenode.Node, error) {
	return f.cache.GetNode(ctx, uid)
}

func TestHandleNodeCreatedResetsListingComplete(t *testing.T) {
	ctx := context.Background()
	cache := nodecache.New(entitycache.NewMemory(), nil)
	root := drivenode.NewNodeUID("v1", "root")
	require.NoError(t, cache.SetFolderChildrenLoaded(ctx, root))

	h := nodeevents.New(cache, &fakeLookup{cache: cache}, nil)
	err := h.HandleEvent(ctx, drivenode.NewNodeCreated("e1", "v1", drivenode.NewNodeUID("v1", "n1"), root))
	require.NoError(t, err)

	loaded, err := cache.IsFolderChildrenLoaded(ctx, root)
	require.NoError(t, err)
	require.False(t, loaded)
}

func TestHandleNodeUpdatedMarksStaleAndNotifies(t *testing.T) {
	ctx := context.Background()
	cache := nodecache.New(entitycache.NewMemory(), nil)
	root := drivenode.NewNodeUID("v1", "root")
	uid := drivenode.NewNodeUID("v1", "f1")
	require.NoError(t, cache.SetNode(ctx, newNode(uid, ptr(root), "v1")))

	h := nodeevents.New(cache, &fakeLookup{cache: cache}, nil)

	var got []nodeevents.Change
	h.AddSubscriber(nodeevents.Predicate{ParentUID: ptr(root)}, func(ctx context.Context, c nodeevents.Change) {
		got = append(got, c)
	})

	err := h.HandleEvent(ctx, drivenode.NewNodeUpdated("e1", "v1", uid, root, false, false))
	require.NoError(t, err)
	require.Len(t, got, 1)
	require.Equal(t, nodeevents.ChangeUpdate, got[0].Type)
	require.True(t, got[0].Node.IsStale)

	n, err := cache.GetNode(ctx, uid)
	require.NoError(t, err)
	require.True(t, n.IsStale)
}

func TestHandleNodeDeletedRemovesAndNotifies(t *testing.T) {
	ctx := context.Background()
	cache := nodecache.New(entitycache.NewMemory(), nil)
	root := drivenode.NewNodeUID("v1", "root")
	uid := drivenode.NewNodeUID("v1", "f1")
	require.NoError(t, cache.SetNode(ctx, newNode(uid, ptr(root), "v1")))

	h := nodeevents.New(cache, &fakeLookup{cache: cache}, nil)

	var got []nodeevents.Change
	h.AddSubscriber(nodeevents.Predicate{}, func(ctx context.Context, c nodeevents.Change) {
		got = append(got, c)
	})

	err := h.HandleEvent(ctx, drivenode.NewNodeDeleted("e1", "v1", uid))
	require.NoError(t, err)
	require.Len(t, got, 1)
	require.Equal(t, nodeevents.ChangeRemove, got[0].Type)

	_, err = cache.GetNode(ctx, uid)
	require.Error(t, err)
}

func TestHandleTreeRefreshMarksVolumeStale(t *testing.T) {
	ctx := context.Background()
	cache := nodecache.New(entitycache.NewMemory(), nil)
	uid := drivenode.NewNodeUID("v1", "f1")
	require.NoError(t, cache.SetNode(ctx, newNode(uid, nil, "v1")))

	h := nodeevents.New(cache, &fakeLookup{cache: cache}, nil)
	err := h.HandleEvent(ctx, drivenode.NewTreeRefresh("e1", "v1"))
	require.NoError(t, err)

	n, err := cache.GetNode(ctx, uid)
	require.NoError(t, err)
	require.True(t, n.IsStale)
}

func TestHandleTreeRemoveDeletesVolume(t *testing.T) {
	ctx := context.Background()
	cache := nodecache.New(entitycache.NewMemory(), nil)
	root := drivenode.NewNodeUID("v1", "root")
	child := drivenode.NewNodeUID("v1", "f1")
	require.NoError(t, cache.SetNode(ctx, newNode(root, nil, "v1")))
	require.NoError(t, cache.SetNode(ctx, newNode(child, ptr(root), "v1")))

	h := nodeevents.New(cache, &fakeLookup{cache: cache}, nil)
	err := h.HandleEvent(ctx, drivenode.NewTreeRemove("e1", "v1"))
	require.NoError(t, err)

	_, err = cache.GetNode(ctx, root)
	require.Error(t, err)
	_, err = cache.GetNode(ctx, child)
	require.Error(t, err)
}

func TestSubscriptionDisposeStopsDelivery(t *testing.T) {
	ctx := context.Background()
	cache := nodecache.New(entitycache.NewMemory(), nil)
	h := nodeevents.New(cache, &fakeLookup{cache: cache}, nil)

	var calls int
	sub := h.AddSubscriber(nodeevents.Predicate{}, func(ctx context.Context, c nodeevents.Change) { calls++ })
	sub.Dispose()

	uid := drivenode.NewNodeUID("v1", "f1")
	require.NoError(t, h.HandleEvent(ctx, drivenode.NewNodeDeleted("e1", "v1", uid)))
	require.Equal(t, 0, calls)
}
