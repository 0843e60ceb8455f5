// Package simplecache is the consumed on-disk lookup collaborator
// (spec.md §4.3's init/get/destroy) mapping a request path to an open
// file, rooted at a configured cache directory.
package simplecache

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	libitm "github.com/nabbar/golib/cache/item"
)

// negativeTTL bounds how long a NOT_FOUND lookup is memoized before the
// cache worker will stat the path again, so a file created after a miss
// becomes visible without restarting the daemon.
const negativeTTL = 2 * time.Second

// Cache is the on-disk file lookup collaborator. It never evicts a
// positive (found) result on its own — every Get reopens the file fresh,
// since the cache worker owns the descriptor's lifetime, not Cache — but
// it memoizes negative (not-found) lookups for negativeTTL to spare a
// hot-missing-path workload repeated stat syscalls.
type Cache struct {
	root string

	mu   sync.Mutex
	miss map[string]libitm.CacheItem[struct{}]
}

// Init validates root as an existing, readable cache directory and
// returns a ready Cache.
func Init(root string) (*Cache, error) {
	info, err := os.Stat(root)
	if err != nil {
		return nil, fmt.Errorf("simplecache: init %s: %w", root, err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("simplecache: init %s: not a directory", root)
	}
	return &Cache{root: root, miss: make(map[string]libitm.CacheItem[struct{}])}, nil
}

// Get resolves path against the cache root and opens it. ok is false if
// the path is absent (or was recently confirmed absent); the caller must
// Close the returned file whenever ok is true.
func (c *Cache) Get(path string) (f *os.File, size int64, ok bool) {
	clean := filepath.Join(c.root, filepath.Clean("/"+path))

	if c.recentMiss(clean) {
		return nil, 0, false
	}

	file, err := os.Open(clean)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			c.recordMiss(clean)
		}
		return nil, 0, false
	}

	info, err := file.Stat()
	if err != nil || info.IsDir() {
		_ = file.Close()
		c.recordMiss(clean)
		return nil, 0, false
	}

	return file, info.Size(), true
}

func (c *Cache) recentMiss(path string) bool {
	c.mu.Lock()
	item, tracked := c.miss[path]
	c.mu.Unlock()
	if !tracked {
		return false
	}
	// Check reports whether the item is still within its TTL (true means
	// still valid, not yet expired), despite what its own doc comment says.
	if item.Check() {
		return true
	}
	c.mu.Lock()
	delete(c.miss, path)
	c.mu.Unlock()
	return false
}

func (c *Cache) recordMiss(path string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if existing, tracked := c.miss[path]; tracked {
		existing.Store(struct{}{})
		return
	}
	c.miss[path] = libitm.New(negativeTTL, struct{}{})
}

// Destroy releases the negative-lookup bookkeeping. It does not touch the
// underlying filesystem.
func (c *Cache) Destroy() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.miss = make(map[string]libitm.CacheItem[struct{}])
}
