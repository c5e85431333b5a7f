// Copyright (C) 2019 Storj Labs, Inc.
// See LICENSE for copying information.

package entitycache

import (
	"context"
	"strings"
	"sync"

	"storj.io/drivesync/pkg/driveerrs"
)

// tagPrefix namespaces tag-index rows inside a Backend so a single
// persistent key space (e.g. bolt, redis, a document store) can carry both
// entity rows and a rebuildable tag index, mirroring how the teacher lets
// private/kvstore.Store implementations share one key space.
const tagPrefix = "\x00tag:"

// Backend is the minimal contract a production store must satisfy,
// equivalent to the teacher's private/kvstore.Store (Put/Get/Delete/Range).
// Tagged adapts any Backend into a full entitycache.Store by keeping the
// tag index in process.
type Backend interface {
	Put(ctx context.Context, key Key, value string) error
	Get(ctx context.Context, key Key) (string, error)
	Delete(ctx context.Context, key Key) error
	// Range calls fn for every (key, value) pair currently stored.
	Range(ctx context.Context, fn func(ctx context.Context, key Key, value string) error) error
}

// Tagged decorates a Backend with the tag index entitycache.Store requires.
// Each entity row's tag set is mirrored into a reserved tagPrefix row in the
// same Backend, so a fresh Tagged wrapping a persistent backend (e.g. after
// a process restart) can rebuild tags/byTag by scanning those rows once on
// construction instead of losing the index; an in-memory backend would use
// Memory directly instead, which never needs this round trip.
type Tagged struct {
	backend Backend

	mu    sync.RWMutex
	tags  map[Key]map[Tag]struct{}
	byTag map[Tag]map[Key]struct{}
}

func tagIndexKey(key Key) Key {
	return Key(tagPrefix + string(key))
}

func encodeTags(tags []Tag) string {
	parts := make([]string, len(tags))
	for i, t := range tags {
		parts[i] = string(t)
	}
	return strings.Join(parts, "\n")
}

func decodeTags(encoded string) []Tag {
	if encoded == "" {
		return nil
	}
	parts := strings.Split(encoded, "\n")
	tags := make([]Tag, len(parts))
	for i, p := range parts {
		tags[i] = Tag(p)
	}
	return tags
}

// NewTagged wraps backend, rebuilding the tag index from the tagPrefix rows
// backend currently holds. Entity rows are distinguished from reserved
// index rows by key prefix.
func NewTagged(ctx context.Context, backend Backend) (*Tagged, error) {
	t := &Tagged{
		backend: backend,
		tags:    make(map[Key]map[Tag]struct{}),
		byTag:   make(map[Tag]map[Key]struct{}),
	}

	err := backend.Range(ctx, func(ctx context.Context, key Key, value string) error {
		if !strings.HasPrefix(string(key), tagPrefix) {
			return nil
		}
		entityKey := Key(strings.TrimPrefix(string(key), tagPrefix))
		tags := decodeTags(value)
		set := make(map[Tag]struct{}, len(tags))
		for _, tag := range tags {
			set[tag] = struct{}{}
			if t.byTag[tag] == nil {
				t.byTag[tag] = make(map[Key]struct{})
			}
			t.byTag[tag][entityKey] = struct{}{}
		}
		t.tags[entityKey] = set
		return nil
	})
	if err != nil {
		return nil, err
	}
	return t, nil
}

var _ Store = (*Tagged)(nil)

// Clear implements Store.
func (t *Tagged) Clear(ctx context.Context) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	var keys []Key
	err := t.backend.Range(ctx, func(ctx context.Context, key Key, value string) error {
		keys = append(keys, key)
		return nil
	})
	if err != nil {
		return err
	}
	for _, key := range keys {
		if err := t.backend.Delete(ctx, key); err != nil {
			return err
		}
	}
	t.tags = make(map[Key]map[Tag]struct{})
	t.byTag = make(map[Tag]map[Key]struct{})
	return nil
}

// Set implements Store.
func (t *Tagged) Set(ctx context.Context, key Key, value string, tags []Tag) error {
	if err := t.backend.Put(ctx, key, value); err != nil {
		return err
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	if tags == nil {
		if _, exists := t.tags[key]; !exists {
			t.tags[key] = make(map[Tag]struct{})
		}
		return nil
	}

	t.unindexLocked(key)
	set := make(map[Tag]struct{}, len(tags))
	for _, tag := range tags {
		set[tag] = struct{}{}
		if t.byTag[tag] == nil {
			t.byTag[tag] = make(map[Key]struct{})
		}
		t.byTag[tag][key] = struct{}{}
	}
	t.tags[key] = set
	return t.backend.Put(ctx, tagIndexKey(key), encodeTags(tags))
}

func (t *Tagged) unindexLocked(key Key) {
	for tag := range t.tags[key] {
		if bucket, ok := t.byTag[tag]; ok {
			delete(bucket, key)
			if len(bucket) == 0 {
				delete(t.byTag, tag)
			}
		}
	}
}

// Get implements Store.
func (t *Tagged) Get(ctx context.Context, key Key) (string, error) {
	v, err := t.backend.Get(ctx, key)
	if err != nil {
		return "", driveerrs.NotFoundError(string(key))
	}
	return v, nil
}

// Remove implements Store.
func (t *Tagged) Remove(ctx context.Context, keys []Key) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	for _, key := range keys {
		t.unindexLocked(key)
		delete(t.tags, key)
		_ = t.backend.Delete(ctx, key)             // missing keys are not an error
		_ = t.backend.Delete(ctx, tagIndexKey(key)) // missing index rows are not an error
	}
	return nil
}

// Iterate implements Store.
func (t *Tagged) Iterate(ctx context.Context, keys []Key) ([]Entry, error) {
	out := make([]Entry, len(keys))
	for i, key := range keys {
		v, err := t.backend.Get(ctx, key)
		if err != nil {
			out[i] = Entry{Key: key, OK: false, Err: driveerrs.NotFoundError(string(key))}
			continue
		}
		out[i] = Entry{Key: key, OK: true, Value: v}
	}
	return out, nil
}

// IterateByTag implements Store.
func (t *Tagged) IterateByTag(ctx context.Context, tag Tag) ([]Key, error) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	bucket := t.byTag[tag]
	out := make([]Key, 0, len(bucket))
	for k := range bucket {
		out = append(out, k)
	}
	return out, nil
}
