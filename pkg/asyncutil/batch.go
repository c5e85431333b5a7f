// Copyright (C) 2019 Storj Labs, Inc.
// See LICENSE for copying information.

package asyncutil

// BatchLoader accumulates up to size distinct keys and reports a batch
// once full, per spec §4.7's "accumulates up to BATCH_LOADING (10) stale
// uids, then flushes" requirement. Duplicate Add calls for the same key
// are ignored, satisfying the "never emits a node twice for the same
// input uid" invariant from spec §4.7.
type BatchLoader[K comparable] struct {
	size int
	buf  []K
	seen map[K]struct{}
}

// NewBatchLoader returns a BatchLoader that flushes every size keys.
func NewBatchLoader[K comparable](size int) *BatchLoader[K] {
	if size <= 0 {
		size = DefaultConcurrency
	}
	return &BatchLoader[K]{size: size, seen: make(map[K]struct{}, size)}
}

// Add appends key to the pending batch, ignoring it if it was added before,
// including keys already returned in an earlier batch.
// It returns the batch and ready=true once the batch reaches its size.
func (b *BatchLoader[K]) Add(key K) (batch []K, ready bool) {
	if _, dup := b.seen[key]; dup {
		return nil, false
	}
	b.seen[key] = struct{}{}
	b.buf = append(b.buf, key)
	if len(b.buf) >= b.size {
		return b.reset(), true
	}
	return nil, false
}

// Flush returns and clears any keys still pending below the batch size,
// per spec §4.7's "flushes at size 10 and at end-of-iteration".
func (b *BatchLoader[K]) Flush() []K {
	if len(b.buf) == 0 {
		return nil
	}
	return b.reset()
}

func (b *BatchLoader[K]) reset() []K {
	out := b.buf
	b.buf = nil
	return out
}
