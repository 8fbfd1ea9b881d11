// internal/storage/memory_storage.go
package storage

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"
)

// MemoryStorage 内存键值存储 for tests and ephemeral sessions.
// Entries expire after expiration; when full, the least recently read are dropped.
type MemoryStorage struct {
	cache      map[string]*memoryEntry
	mutex      sync.RWMutex
	maxSize    int
	expiration time.Duration
	now        func() time.Time
}

type memoryEntry struct {
	Data      []byte
	CreatedAt time.Time
	LastRead  time.Time
}

// NewMemoryStorage creates a store; zero values pick the defaults
func NewMemoryStorage(maxSize int, expiration time.Duration) *MemoryStorage {
	if maxSize <= 0 {
		maxSize = 1000 // 默认缓存1000个条目
	}
	if expiration <= 0 {
		expiration = 24 * time.Hour
	}
	return &MemoryStorage{
		cache:      make(map[string]*memoryEntry),
		maxSize:    maxSize,
		expiration: expiration,
		now:        time.Now,
	}
}

// Get returns a copy of the stored value
func (s *MemoryStorage) Get(ctx context.Context, key string) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mutex.Lock()
	defer s.mutex.Unlock()

	entry, ok := s.cache[key]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrKeyNotFound, key)
	}
	now := s.now()
	if now.Sub(entry.CreatedAt) > s.expiration {
		delete(s.cache, key)
		return nil, fmt.Errorf("%w: %s", ErrKeyNotFound, key)
	}
	entry.LastRead = now
	return append([]byte(nil), entry.Data...), nil
}

// Put stores a copy of value
func (s *MemoryStorage) Put(ctx context.Context, key string, value []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mutex.Lock()
	defer s.mutex.Unlock()

	now := s.now()
	s.cache[key] = &memoryEntry{
		Data:      append([]byte(nil), value...),
		CreatedAt: now,
		LastRead:  now,
	}
	if len(s.cache) > s.maxSize {
		s.cleanupLRU(max(1, s.maxSize/5))
	}
	return nil
}

// Delete removes key
func (s *MemoryStorage) Delete(ctx context.Context, key string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mutex.Lock()
	delete(s.cache, key)
	s.mutex.Unlock()
	return nil
}

// Len returns the number of entries
func (s *MemoryStorage) Len() int {
	s.mutex.RLock()
	defer s.mutex.RUnlock()
	return len(s.cache)
}

// Close is a no-op
func (s *MemoryStorage) Close() error {
	return nil
}

// 清理最少使用的条目
func (s *MemoryStorage) cleanupLRU(count int) {
	type keyAge struct {
		key  string
		time time.Time
	}

	entries := make([]keyAge, 0, len(s.cache))
	for k, v := range s.cache {
		entries = append(entries, keyAge{k, v.LastRead})
	}
	sort.Slice(entries, func(i, j int) bool {
		return entries[i].time.Before(entries[j].time)
	})

	maxToDelete := min(count, len(entries))
	for i := 0; i < maxToDelete; i++ {
		delete(s.cache, entries[i].key)
	}
}
