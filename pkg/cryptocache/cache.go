// Copyright (C) 2019 Storj Labs, Inc.
// See LICENSE for copying information.

// Package cryptocache mirrors pkg/nodecache for drivenode.NodeKeys, per
// spec §4.3 (C3): a distinct key prefix, stored in a separate backing
// store from node metadata so a production caller can route it to a
// secure keychain.
package cryptocache

import (
	"context"

	msgpack "gopkg.in/vmihailenco/msgpack.v2"

	"storj.io/drivesync/pkg/driveerrs"
	"storj.io/drivesync/pkg/drivenode"
	"storj.io/drivesync/pkg/entitycache"
)

const keyPrefix = "nodeKeys-"

func cacheKey(uid drivenode.NodeUID) entitycache.Key {
	return entitycache.Key(keyPrefix + string(uid))
}

type record struct {
	Passphrase                 []byte
	PrivateKey                 []byte
	PassphraseSessionKey       []byte
	ContentKeyPacketSessionKey []byte
	HashKey                    []byte
}

// Cache is the crypto-material cache: never share a backing store with
// pkg/nodecache.Cache.
type Cache struct {
	store entitycache.Store
}

// New returns a Cache backed by store.
func New(store entitycache.Store) *Cache {
	return &Cache{store: store}
}

// SetKeys upserts keys for uid.
func (c *Cache) SetKeys(ctx context.Context, uid drivenode.NodeUID, keys drivenode.NodeKeys) error {
	data, err := msgpack.Marshal(&record{
		Passphrase:                 keys.Passphrase,
		PrivateKey:                 keys.PrivateKey,
		PassphraseSessionKey:       keys.PassphraseSessionKey,
		ContentKeyPacketSessionKey: keys.ContentKeyPacketSessionKey,
		HashKey:                    keys.HashKey,
	})
	if err != nil {
		return err
	}
	return c.store.Set(ctx, cacheKey(uid), string(data), nil)
}

// GetKeys returns the cached keys for uid. A missing passphrase is treated
// as corruption: the entry is removed and driveerrs.CorruptedKeys is
// returned, per spec §4.3.
func (c *Cache) GetKeys(ctx context.Context, uid drivenode.NodeUID) (drivenode.NodeKeys, error) {
	data, err := c.store.Get(ctx, cacheKey(uid))
	if err != nil {
		return drivenode.NodeKeys{}, err
	}
	r := new(record)
	if err := msgpack.Unmarshal([]byte(data), r); err != nil {
		_ = c.store.Remove(ctx, []entitycache.Key{cacheKey(uid)})
		return drivenode.NodeKeys{}, driveerrs.Corrupted.Wrap(err)
	}
	if len(r.Passphrase) == 0 {
		_ = c.store.Remove(ctx, []entitycache.Key{cacheKey(uid)})
		return drivenode.NodeKeys{}, driveerrs.CorruptedKeys(string(uid))
	}
	return drivenode.NodeKeys{
		Passphrase:                 r.Passphrase,
		PrivateKey:                 r.PrivateKey,
		PassphraseSessionKey:       r.PassphraseSessionKey,
		ContentKeyPacketSessionKey: r.ContentKeyPacketSessionKey,
		HashKey:                    r.HashKey,
	}, nil
}

// RemoveKeys deletes the cached keys for the given uids.
func (c *Cache) RemoveKeys(ctx context.Context, uids []drivenode.NodeUID) error {
	keys := make([]entitycache.Key, 0, len(uids))
	for _, uid := range uids {
		keys = append(keys, cacheKey(uid))
	}
	return c.store.Remove(ctx, keys)
}
