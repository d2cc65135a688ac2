// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package context

import (
	"container/list"
	"sync"
	"time"
)

// =============================================================================
// FILE CACHE
// =============================================================================

// FileCache is an LRU cache of formatted file contents keyed by workspace
// relative path. An entry is stale once the file's modification time moves
// past the cached one; the workspace index also invalidates entries when it
// sees a change.
type FileCache struct {
	mu          sync.Mutex
	entries     map[string]*list.Element
	order       *list.List // front is most recently used
	maxEntries  int
	maxSize     int64
	currentSize int64

	hits   int
	misses int
}

type fileCacheEntry struct {
	key     string
	content string
	modTime time.Time
}

// FileCacheStats holds cache statistics.
type FileCacheStats struct {
	Hits       int
	Misses     int
	EntryCount int
	TotalSize  int64
	MaxSize    int64
}

// HitRate returns hits / (hits + misses), or 0 before any lookup.
func (s FileCacheStats) HitRate() float64 {
	total := s.Hits + s.Misses
	if total == 0 {
		return 0
	}
	return float64(s.Hits) / float64(total)
}

// NewFileCache creates a cache bounded by entry count and total bytes
// (defaults 100 entries, 16MB).
func NewFileCache(maxEntries int, maxSize int64) *FileCache {
	if maxEntries <= 0 {
		maxEntries = 100
	}
	if maxSize <= 0 {
		maxSize = 16 * 1024 * 1024
	}
	return &FileCache{
		entries:    make(map[string]*list.Element),
		order:      list.New(),
		maxEntries: maxEntries,
		maxSize:    maxSize,
	}
}

// Get returns the cached content for key if it was cached at modTime or later.
func (fc *FileCache) Get(key string, modTime time.Time) (string, bool) {
	fc.mu.Lock()
	defer fc.mu.Unlock()

	el, ok := fc.entries[key]
	if !ok {
		fc.misses++
		return "", false
	}
	entry := el.Value.(*fileCacheEntry)
	if modTime.After(entry.modTime) {
		fc.removeLocked(el)
		fc.misses++
		return "", false
	}
	fc.order.MoveToFront(el)
	fc.hits++
	return entry.content, true
}

// Put stores content for key. Entries larger than a tenth of the byte limit
// are not cached.
func (fc *FileCache) Put(key, content string, modTime time.Time) {
	fc.mu.Lock()
	defer fc.mu.Unlock()

	size := int64(len(content))
	if size > fc.maxSize/10 {
		return
	}
	if el, ok := fc.entries[key]; ok {
		fc.removeLocked(el)
	}
	for fc.order.Len() > 0 && (fc.currentSize+size > fc.maxSize || fc.order.Len() >= fc.maxEntries) {
		fc.removeLocked(fc.order.Back())
	}

	fc.entries[key] = fc.order.PushFront(&fileCacheEntry{key: key, content: content, modTime: modTime})
	fc.currentSize += size
}

// Invalidate drops key from the cache.
func (fc *FileCache) Invalidate(key string) {
	fc.mu.Lock()
	defer fc.mu.Unlock()
	if el, ok := fc.entries[key]; ok {
		fc.removeLocked(el)
	}
}

// Clear removes all entries.
func (fc *FileCache) Clear() {
	fc.mu.Lock()
	defer fc.mu.Unlock()
	fc.entries = make(map[string]*list.Element)
	fc.order.Init()
	fc.currentSize = 0
}

// Stats returns cache statistics.
func (fc *FileCache) Stats() FileCacheStats {
	fc.mu.Lock()
	defer fc.mu.Unlock()
	return FileCacheStats{
		Hits:       fc.hits,
		Misses:     fc.misses,
		EntryCount: len(fc.entries),
		TotalSize:  fc.currentSize,
		MaxSize:    fc.maxSize,
	}
}

func (fc *FileCache) removeLocked(el *list.Element) {
	entry := fc.order.Remove(el).(*fileCacheEntry)
	delete(fc.entries, entry.key)
	fc.currentSize -= int64(len(entry.content))
}
