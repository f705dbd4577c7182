package cachestore

import (
	"cmp"
	"context"
	"slices"
	"sync"

	gocache "github.com/patrickmn/go-cache"
)

// MemoryStorage keeps buckets in process memory. Entries never expire; a
// bucket lives until it is deleted.
type MemoryStorage struct {
	mu      sync.RWMutex
	buckets map[string]*memoryBucket
}

// NewMemoryStorage creates an empty in-memory storage.
func NewMemoryStorage() *MemoryStorage {
	return &MemoryStorage{buckets: make(map[string]*memoryBucket)}
}

// Open returns the named bucket, creating it on first use.
func (s *MemoryStorage) Open(_ context.Context, name string) (Bucket, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	b, ok := s.buckets[name]
	if !ok {
		b = &memoryBucket{
			name:    name,
			entries: gocache.New(gocache.NoExpiration, 0),
		}
		s.buckets[name] = b
	}
	return b, nil
}

// Has reports whether the bucket exists.
func (s *MemoryStorage) Has(_ context.Context, name string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.buckets[name]
	return ok, nil
}

// Keys lists bucket names.
func (s *MemoryStorage) Keys(_ context.Context) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	names := make([]string, 0, len(s.buckets))
	for name := range s.buckets {
		names = append(names, name)
	}
	slices.Sort(names)
	return names, nil
}

// Delete drops a bucket.
func (s *MemoryStorage) Delete(_ context.Context, name string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	b, ok := s.buckets[name]
	if !ok {
		return false, nil
	}
	b.entries.Flush()
	delete(s.buckets, name)
	return true, nil
}

type memoryEntry struct {
	key  RequestKey
	snap *Snapshot
}

// memoryBucket stores entries in a go-cache instance, which gives atomic
// per-key reads and writes.
type memoryBucket struct {
	name    string
	entries *gocache.Cache
}

func (b *memoryBucket) Name() string { return b.name }

func (b *memoryBucket) Match(_ context.Context, key RequestKey) (*Snapshot, error) {
	v, ok := b.entries.Get(key.String())
	if !ok {
		return nil, ErrNotFound
	}
	return v.(memoryEntry).snap.Clone(), nil
}

func (b *memoryBucket) Put(_ context.Context, key RequestKey, snap *Snapshot) error {
	if !key.Cacheable() {
		return notCacheable(key)
	}
	b.entries.Set(key.String(), memoryEntry{key: key, snap: snap.Clone()}, gocache.NoExpiration)
	return nil
}

func (b *memoryBucket) Delete(_ context.Context, key RequestKey) (bool, error) {
	if _, ok := b.entries.Get(key.String()); !ok {
		return false, nil
	}
	b.entries.Delete(key.String())
	return true, nil
}

func (b *memoryBucket) Keys(_ context.Context) ([]RequestKey, error) {
	items := b.entries.Items()
	keys := make([]RequestKey, 0, len(items))
	for _, item := range items {
		keys = append(keys, item.Object.(memoryEntry).key)
	}
	slices.SortFunc(keys, func(a, b RequestKey) int {
		return cmp.Or(cmp.Compare(a.URL, b.URL), cmp.Compare(a.Method, b.Method))
	})
	return keys, nil
}
