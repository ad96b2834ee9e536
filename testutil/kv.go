package testutil

import (
	"context"
	"fmt"
	"sync"
)

// MemoryBucket is an in-memory key/value bucket with revisions. It
// satisfies varstore.Bucket.
type MemoryBucket struct {
	mu       sync.RWMutex
	data     map[string][]byte
	revision uint64
	putErr   error
}

// NewMemoryBucket returns an empty bucket.
func NewMemoryBucket() *MemoryBucket {
	return &MemoryBucket{data: make(map[string][]byte)}
}

// Put stores a copy of value and returns the new revision.
func (b *MemoryBucket) Put(_ context.Context, key string, value []byte) (uint64, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.putErr != nil {
		return 0, b.putErr
	}
	b.revision++
	b.data[key] = append([]byte(nil), value...)
	return b.revision, nil
}

// Get returns a copy of the value under key.
func (b *MemoryBucket) Get(key string) ([]byte, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	if val, ok := b.data[key]; ok {
		return append([]byte(nil), val...), nil
	}
	return nil, fmt.Errorf("key not found: %s", key)
}

// FailPuts makes every Put fail with err; nil restores normal behavior.
func (b *MemoryBucket) FailPuts(err error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.putErr = err
}

// Revision is the revision of the last successful Put.
func (b *MemoryBucket) Revision() uint64 {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.revision
}
