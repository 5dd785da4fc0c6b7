// Package filecache implements the read-mostly, mtime-keyed file cache
// invariant shared by the Pattern Library's overlay loader and the
// Enforcement Hook's prompt loader: stat the file on every access, and only
// re-read and rebuild when the modification time has changed. Every access
// holds the cache's mutex, so concurrent readers are serialized and no
// reader ever observes a partially updated entry.
package filecache

import (
	"os"
	"sync"
	"time"
)

// Cache holds a single cached value keyed by the mtime of the file it was
// built from. One Cache corresponds to one file path.
type Cache[T any] struct {
	mu       sync.Mutex
	mtime    time.Time
	value    T
	loaded   bool
}

// Get returns the cached value for path, reloading via load if the file's
// mtime has changed since the last call (or if nothing has been loaded
// yet). If the file does not exist, the cache is marked unloaded and
// onMissing's result is returned, so the next access after the file
// reappears reloads it. Any other stat or load error returns onError's
// result and leaves the cached value as it was.
func (c *Cache[T]) Get(path string, load func(path string) (T, error), onMissing func() T, onError func(error) T) T {
	c.mu.Lock()
	defer c.mu.Unlock()

	info, err := os.Stat(path)
	if err != nil {
		if os.IsNotExist(err) {
			c.loaded = false
			return onMissing()
		}
		return onError(err)
	}

	mtime := info.ModTime()
	if c.loaded && mtime.Equal(c.mtime) {
		return c.value
	}

	v, err := load(path)
	if err != nil {
		return onError(err)
	}

	c.value = v
	c.mtime = mtime
	c.loaded = true
	return c.value
}
