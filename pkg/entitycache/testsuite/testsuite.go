// Copyright (C) 2019 Storj Labs, Inc.
// See LICENSE for copying information.

// Package testsuite is a store-agnostic contract test suite for
// entitycache.Store, modeled on the teacher's
// private/kvstore/testsuite package.
package testsuite

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"storj.io/drivesync/pkg/entitycache"
)

// RunTests exercises every entitycache.Store invariant from spec §4.1
// against store. Intended to be called once per backing implementation.
func RunTests(t *testing.T, newStore func() entitycache.Store) {
	t.Run("SetGetRemove", func(t *testing.T) { testSetGetRemove(t, newStore()) })
	t.Run("UpsertPreservesTags", func(t *testing.T) { testUpsertPreservesTags(t, newStore()) })
	t.Run("EmptyTagsClears", func(t *testing.T) { testEmptyTagsClears(t, newStore()) })
	t.Run("IterateOrderAndErrors", func(t *testing.T) { testIterateOrderAndErrors(t, newStore()) })
	t.Run("IterateByTagSnapshot", func(t *testing.T) { testIterateByTagSnapshot(t, newStore()) })
}

func testSetGetRemove(t *testing.T, store entitycache.Store) {
	ctx := context.Background()

	require.NoError(t, store.Set(ctx, "a", "1", []entitycache.Tag{"x"}))
	v, err := store.Get(ctx, "a")
	require.NoError(t, err)
	require.Equal(t, "1", v)

	require.NoError(t, store.Remove(ctx, []entitycache.Key{"a"}))
	_, err = store.Get(ctx, "a")
	require.Error(t, err)
}

func testUpsertPreservesTags(t *testing.T, store entitycache.Store) {
	ctx := context.Background()

	require.NoError(t, store.Set(ctx, "a", "1", []entitycache.Tag{"x", "y"}))
	// Re-set with nil tags: existing tags must be preserved.
	require.NoError(t, store.Set(ctx, "a", "2", nil))

	keys, err := store.IterateByTag(ctx, "x")
	require.NoError(t, err)
	require.Contains(t, keys, entitycache.Key("a"))

	v, err := store.Get(ctx, "a")
	require.NoError(t, err)
	require.Equal(t, "2", v)
}

func testEmptyTagsClears(t *testing.T, store entitycache.Store) {
	ctx := context.Background()

	require.NoError(t, store.Set(ctx, "a", "1", []entitycache.Tag{"x"}))
	require.NoError(t, store.Set(ctx, "a", "1", []entitycache.Tag{}))

	keys, err := store.IterateByTag(ctx, "x")
	require.NoError(t, err)
	require.Empty(t, keys)
}

func testIterateOrderAndErrors(t *testing.T, store entitycache.Store) {
	ctx := context.Background()

	require.NoError(t, store.Set(ctx, "a", "1", nil))
	require.NoError(t, store.Set(ctx, "c", "3", nil))

	entries, err := store.Iterate(ctx, []entitycache.Key{"c", "missing", "a"})
	require.NoError(t, err)
	require.Len(t, entries, 3)

	require.Equal(t, entitycache.Key("c"), entries[0].Key)
	require.True(t, entries[0].OK)
	require.Equal(t, "3", entries[0].Value)

	require.Equal(t, entitycache.Key("missing"), entries[1].Key)
	require.False(t, entries[1].OK)
	require.Error(t, entries[1].Err)

	require.Equal(t, entitycache.Key("a"), entries[2].Key)
	require.True(t, entries[2].OK)
	require.Equal(t, "1", entries[2].Value)
}

func testIterateByTagSnapshot(t *testing.T, store entitycache.Store) {
	ctx := context.Background()

	require.NoError(t, store.Set(ctx, "a", "1", []entitycache.Tag{"group"}))
	require.NoError(t, store.Set(ctx, "b", "2", []entitycache.Tag{"group"}))

	keys, err := store.IterateByTag(ctx, "group")
	require.NoError(t, err)
	require.ElementsMatch(t, []entitycache.Key{"a", "b"}, keys)

	// Mutating after the snapshot was taken must not change it.
	require.NoError(t, store.Remove(ctx, []entitycache.Key{"a"}))
	require.ElementsMatch(t, []entitycache.Key{"a", "b"}, keys)
}
