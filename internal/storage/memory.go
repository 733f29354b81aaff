package storage

import (
	"context"
	"sync"
)

// MemoryBackend keeps every blob in process memory. Nothing survives a
// restart; it backs tests and the in-memory storage mode.
type MemoryBackend struct {
	mu    sync.RWMutex
	blobs map[string]string
}

func NewMemoryBackend() *MemoryBackend {
	return &MemoryBackend{
		blobs: make(map[string]string),
	}
}

func (b *MemoryBackend) Get(_ context.Context, key string) (string, bool, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	value, exists := b.blobs[key]
	return value, exists, nil
}

func (b *MemoryBackend) Set(_ context.Context, key, value string) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.blobs[key] = value
	return nil
}

func (b *MemoryBackend) Delete(_ context.Context, key string) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	delete(b.blobs, key)
	return nil
}

// Keys returns the stored keys in no particular order.
func (b *MemoryBackend) Keys() []string {
	b.mu.RLock()
	defer b.mu.RUnlock()

	keys := make([]string, 0, len(b.blobs))
	for k := range b.blobs {
		keys = append(keys, k)
	}
	return keys
}

func (b *MemoryBackend) Close() error {
	// Nothing to close for in-memory storage
	return nil
}
