package draft

import (
	"context"
	"fmt"
	"slices"
	"strings"
	"sync"
)

// MemoryBackend is an in-memory Backend with an optional byte quota.
// Suitable for testing and ephemeral deployments.
type MemoryBackend struct {
	mu       sync.RWMutex
	entries  map[string][]byte
	used     int64
	maxBytes int64
}

// NewMemoryBackend creates a memory backend. A maxBytes of zero or less
// disables the quota.
func NewMemoryBackend(maxBytes int64) *MemoryBackend {
	return &MemoryBackend{
		entries:  make(map[string][]byte),
		maxBytes: maxBytes,
	}
}

// Get returns a copy of the value stored under key.
func (b *MemoryBackend) Get(_ context.Context, key string) ([]byte, bool, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	v, ok := b.entries[key]
	if !ok {
		return nil, false, nil
	}
	return slices.Clone(v), true, nil
}

// Put stores value under key, enforcing the quota.
func (b *MemoryBackend) Put(_ context.Context, key string, value []byte) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	size := entrySize(key, value)
	used := b.used
	if old, ok := b.entries[key]; ok {
		used -= entrySize(key, old)
	}
	if b.maxBytes > 0 && used+size > b.maxBytes {
		return fmt.Errorf("memory backend: %d of %d bytes used: %w", b.used, b.maxBytes, ErrStorageFull)
	}

	b.entries[key] = slices.Clone(value)
	b.used = used + size
	return nil
}

// Delete removes key.
func (b *MemoryBackend) Delete(_ context.Context, key string) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if old, ok := b.entries[key]; ok {
		b.used -= entrySize(key, old)
		delete(b.entries, key)
	}
	return nil
}

// Keys lists the keys starting with prefix in sorted order.
func (b *MemoryBackend) Keys(_ context.Context, prefix string) ([]string, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	var keys []string
	for k := range b.entries {
		if strings.HasPrefix(k, prefix) {
			keys = append(keys, k)
		}
	}
	slices.Sort(keys)
	return keys, nil
}

// HealthCheck always succeeds.
func (b *MemoryBackend) HealthCheck(context.Context) error { return nil }

// Close is a no-op.
func (b *MemoryBackend) Close() error { return nil }

// Used returns the number of bytes currently stored. For testing.
func (b *MemoryBackend) Used() int64 {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.used
}

func entrySize(key string, value []byte) int64 {
	return int64(len(key) + len(value))
}
