// Copyright (C) 2019 Storj Labs, Inc.
// See LICENSE for copying information.

// Package entitycache implements the tag-indexed, persistent document
// store from spec §4.1 (C1). The contract mirrors the teacher's
// private/kvstore.Store (Put/Get/Delete/Range) extended with a tag index,
// so that any kvstore.Store-shaped backend (in-memory, bolt, redis, a
// document database) can be wrapped via Tagged and satisfy Store.
package entitycache

import (
	"context"
)

// Key identifies a cached value.
type Key string

// Tag is an opaque classification string. Multi-part tags are encoded as
// "category:value" per spec §4.1.
type Tag string

// Entry is one row returned by Iterate: either Value is populated, or Err
// explains why it couldn't be.
type Entry struct {
	Key   Key
	OK    bool
	Value string
	Err   error
}

// Store is the tag-indexed entity cache contract from spec §4.1.
//
// Implementations must make Set/Get/Remove/Iterate/IterateByTag safe for
// concurrent use; IterateByTag must snapshot the underlying tag index at
// call time so concurrent mutations never alter an in-progress iteration.
type Store interface {
	// Clear removes every entry and tag.
	Clear(ctx context.Context) error

	// Set is an upsert. A nil tags slice preserves existing tags; a
	// non-nil empty slice clears them.
	Set(ctx context.Context, key Key, value string, tags []Tag) error

	// Get returns driveerrs.NotFound-classed error when key is absent.
	Get(ctx context.Context, key Key) (string, error)

	// Remove deletes the given keys. Missing keys are not an error.
	Remove(ctx context.Context, keys []Key) error

	// Iterate yields one Entry per input key, in the given order.
	Iterate(ctx context.Context, keys []Key) ([]Entry, error)

	// IterateByTag yields every key bearing exactly this tag, as a
	// snapshot taken at call time.
	IterateByTag(ctx context.Context, tag Tag) ([]Key, error)
}
