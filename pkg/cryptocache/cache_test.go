// Copyright (C) 2019 Storj Labs, Inc.
// See LICENSE for copying information.

package cryptocache_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"storj.io/drivesync/pkg/cryptocache"
	"storj.io/drivesync/pkg/drivenode"
	"storj.io/drivesync/pkg/entitycache"
)

func TestSetGetKeys(t *testing.T) {
	ctx := context.Background()
	c := cryptocache.New(entitycache.NewMemory())

	keys := drivenode.NodeKeys{Passphrase: []byte("pp"), PrivateKey: []byte("priv")}
	require.NoError(t, c.SetKeys(ctx, "v~n", keys))

	got, err := c.GetKeys(ctx, "v~n")
	require.NoError(t, err)
	require.Equal(t, keys.Passphrase, got.Passphrase)
	require.Equal(t, keys.PrivateKey, got.PrivateKey)
}

func TestMissingPassphraseIsCorrupted(t *testing.T) {
	ctx := context.Background()
	c := cryptocache.New(entitycache.NewMemory())

	require.NoError(t, c.SetKeys(ctx, "v~n", drivenode.NodeKeys{PrivateKey: []byte("priv")}))

	_, err := c.GetKeys(ctx, "v~n")
	require.Error(t, err)

	_, err = c.GetKeys(ctx, "v~n")
	require.Error(t, err) // still gone after removal
}
