// Package cache provides a generic, size-bounded cache keyed by file
// identity (size + mtime), used by adapters to avoid re-parsing session
// files that have not changed on disk since the last scan.
package cache

import (
	"os"
	"sort"
	"sync"
	"time"
)

// Entry holds cached data alongside the file metadata used to invalidate it.
type Entry[T any] struct {
	Data       T
	ModTime    time.Time
	Size       int64
	LastAccess time.Time
	ByteOffset int64 // resume point for incremental re-parsing
}

// Cache is a thread-safe generic cache with LRU eviction by last access.
type Cache[T any] struct {
	entries map[string]Entry[T]
	mu      sync.RWMutex
	maxSize int
}

// New creates a cache holding at most maxSize entries.
func New[T any](maxSize int) *Cache[T] {
	return &Cache[T]{
		entries: make(map[string]Entry[T]),
		maxSize: maxSize,
	}
}

// Get returns cached data if the file identified by key has not changed.
func (c *Cache[T]) Get(key string, size int64, modTime time.Time) (T, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	entry, ok := c.entries[key]
	if !ok || entry.Size != size || !entry.ModTime.Equal(modTime) {
		var zero T
		return zero, false
	}

	entry.LastAccess = time.Now()
	c.entries[key] = entry
	return entry.Data, true
}

// GetWithOffset returns the cached data, byte offset, size, and mtime for
// key regardless of whether the file has since changed — callers use this
// to decide whether to resume parsing from ByteOffset or start over.
func (c *Cache[T]) GetWithOffset(key string) (data T, offset, size int64, modTime time.Time, ok bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	entry, ok := c.entries[key]
	if !ok {
		var zero T
		return zero, 0, 0, time.Time{}, false
	}
	return entry.Data, entry.ByteOffset, entry.Size, entry.ModTime, true
}

// Set stores data in the cache along with the file metadata it was parsed
// from, then evicts least-recently-used entries if over capacity.
func (c *Cache[T]) Set(key string, data T, size int64, modTime time.Time, offset int64) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.entries[key] = Entry[T]{
		Data:       data,
		ModTime:    modTime,
		Size:       size,
		LastAccess: time.Now(),
		ByteOffset: offset,
	}
	c.evictOldestLocked()
}

// Delete removes an entry.
func (c *Cache[T]) Delete(key string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.entries, key)
}

// DeleteIf removes entries matching pred.
func (c *Cache[T]) DeleteIf(pred func(key string, entry Entry[T]) bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	for key, entry := range c.entries {
		if pred(key, entry) {
			delete(c.entries, key)
		}
	}
}

// Len returns the number of entries currently cached.
func (c *Cache[T]) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}

func (c *Cache[T]) evictOldestLocked() {
	excess := len(c.entries) - c.maxSize
	if excess <= 0 {
		return
	}

	type keyAccess struct {
		key        string
		lastAccess time.Time
	}
	ordered := make([]keyAccess, 0, len(c.entries))
	for key, entry := range c.entries {
		ordered = append(ordered, keyAccess{key, entry.LastAccess})
	}
	sort.Slice(ordered, func(i, j int) bool {
		return ordered[i].lastAccess.Before(ordered[j].lastAccess)
	})

	for i := 0; i < excess; i++ {
		delete(c.entries, ordered[i].key)
	}
}

// FileChanged reports whether the file at path differs from the cached
// size/modTime, and whether it grew (which permits an incremental
// re-parse from the previous byte offset instead of starting over).
func FileChanged(path string, cachedSize int64, cachedModTime time.Time) (changed, grew bool, info os.FileInfo, err error) {
	info, err = os.Stat(path)
	if err != nil {
		return false, false, nil, err
	}
	if info.Size() == cachedSize && info.ModTime().Equal(cachedModTime) {
		return false, false, info, nil
	}
	return true, info.Size() > cachedSize, info, nil
}
