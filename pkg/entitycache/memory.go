// Copyright (C) 2019 Storj Labs, Inc.
// See LICENSE for copying information.

package entitycache

import (
	"context"
	"sync"

	"storj.io/drivesync/pkg/driveerrs"
)

// Memory is the process-local reference implementation of Store: a map
// plus a tag -> key[] index, guarded by a single RWMutex, modeled on the
// teacher's private/kvstore/teststore in-memory reference store.
type Memory struct {
	mu     sync.RWMutex
	values map[Key]string
	tags   map[Key]map[Tag]struct{}
	byTag  map[Tag]map[Key]struct{}
}

// NewMemory returns an empty Memory store.
func NewMemory() *Memory {
	return &Memory{
		values: make(map[Key]string),
		tags:   make(map[Key]map[Tag]struct{}),
		byTag:  make(map[Tag]map[Key]struct{}),
	}
}

// Clear implements Store.
func (m *Memory) Clear(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.values = make(map[Key]string)
	m.tags = make(map[Key]map[Tag]struct{})
	m.byTag = make(map[Tag]map[Key]struct{})
	return nil
}

// Set implements Store.
func (m *Memory) Set(ctx context.Context, key Key, value string, tags []Tag) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.values[key] = value

	if tags == nil {
		// Preserve existing tags.
		if _, exists := m.tags[key]; !exists {
			m.tags[key] = make(map[Tag]struct{})
		}
		return nil
	}

	m.unindexLocked(key)
	set := make(map[Tag]struct{}, len(tags))
	for _, t := range tags {
		set[t] = struct{}{}
		if m.byTag[t] == nil {
			m.byTag[t] = make(map[Key]struct{})
		}
		m.byTag[t][key] = struct{}{}
	}
	m.tags[key] = set
	return nil
}

// unindexLocked removes key from every tag bucket it currently belongs to.
// Caller must hold m.mu.
func (m *Memory) unindexLocked(key Key) {
	for t := range m.tags[key] {
		if bucket, ok := m.byTag[t]; ok {
			delete(bucket, key)
			if len(bucket) == 0 {
				delete(m.byTag, t)
			}
		}
	}
}

// Get implements Store.
func (m *Memory) Get(ctx context.Context, key Key) (string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	v, ok := m.values[key]
	if !ok {
		return "", driveerrs.NotFoundError(string(key))
	}
	return v, nil
}

// Remove implements Store.
func (m *Memory) Remove(ctx context.Context, keys []Key) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, key := range keys {
		m.unindexLocked(key)
		delete(m.values, key)
		delete(m.tags, key)
	}
	return nil
}

// Iterate implements Store.
func (m *Memory) Iterate(ctx context.Context, keys []Key) ([]Entry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]Entry, len(keys))
	for i, key := range keys {
		v, ok := m.values[key]
		if !ok {
			out[i] = Entry{Key: key, OK: false, Err: driveerrs.NotFoundError(string(key))}
			continue
		}
		out[i] = Entry{Key: key, OK: true, Value: v}
	}
	return out, nil
}

// IterateByTag implements Store. The returned slice is a snapshot: later
// mutations to the store never affect a caller's already-returned slice.
func (m *Memory) IterateByTag(ctx context.Context, tag Tag) ([]Key, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	bucket := m.byTag[tag]
	out := make([]Key, 0, len(bucket))
	for k := range bucket {
		out = append(out, k)
	}
	return out, nil
}
