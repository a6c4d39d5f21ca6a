// Package openfiles tracks per-path RangeCache instances for files the
// filesystem currently has open, and periodically evicts stale temporary-tier
// bytes from the ones that have actually been read.
package openfiles

import (
	"context"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/b2fs4chia/b2fs/internal/rangecache"
	"github.com/b2fs4chia/b2fs/pkg/errors"
)

// Logger is the minimal logging surface OpenFileTable needs; nil is a valid
// no-op.
type Logger interface {
	Errorf(format string, args ...interface{})
}

// CacheFactory builds a new RangeCache for a path's FileInfo. Supplied by the
// adapter so OpenFileTable stays decoupled from the bucket client.
type CacheFactory func(info rangecache.FileInfo) *rangecache.RangeCache

// Table maps normalized path to an open RangeCache, plus the two
// touched-interval sets the eviction tick consumes. Read adds a path to the
// current touched set before looking up its entry, and Release does not
// remove the path from either touched set, so a touched set can name a path
// that has no mapping entry; EvictTick skips such paths.
type Table struct {
	newCache CacheFactory
	logger   Logger

	mu      sync.Mutex
	entries map[string]*rangecache.RangeCache
	handles uint64

	touchedMu       sync.Mutex
	touchedThis     map[string]struct{}
	touchedPrevious map[string]struct{}
}

// New creates an empty table. factory builds the RangeCache for a path that
// has no entry yet.
func New(factory CacheFactory, logger Logger) *Table {
	return &Table{
		newCache:        factory,
		logger:          logger,
		entries:         make(map[string]*rangecache.RangeCache),
		touchedThis:     make(map[string]struct{}),
		touchedPrevious: make(map[string]struct{}),
	}
}

// NormalizePath strips a single leading '/' so "/a/b" and "a/b" key the same
// entry.
func NormalizePath(path string) string {
	return strings.TrimPrefix(path, "/")
}

// Open ensures a RangeCache entry exists for path and returns a
// monotonically increasing handle. The handle is opaque: every later
// operation dispatches on path, not on the handle.
func (t *Table) Open(path string, info rangecache.FileInfo) uint64 {
	path = NormalizePath(path)

	t.mu.Lock()
	defer t.mu.Unlock()
	if _, ok := t.entries[path]; !ok {
		t.entries[path] = t.newCache(info)
	}
	return atomic.AddUint64(&t.handles, 1)
}

// Read marks path as touched in the current interval and dispatches to its
// cache's Get. Returns an error if the path has no open entry.
func (t *Table) Read(ctx context.Context, path string, offset, length int64) ([]byte, error) {
	path = NormalizePath(path)

	t.touchedMu.Lock()
	t.touchedThis[path] = struct{}{}
	t.touchedMu.Unlock()

	t.mu.Lock()
	cache, ok := t.entries[path]
	t.mu.Unlock()
	if !ok {
		return nil, errors.NotFound("openfiles", "no open entry for "+path)
	}
	return cache.Get(ctx, offset, length)
}

// Release removes the entry for path. No remote side effect.
func (t *Table) Release(path string) {
	path = NormalizePath(path)
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.entries, path)
}

// Paths returns the normalized paths currently open, for readdir to cross-
// reference against a listing that may not yet (or no longer) mention them.
func (t *Table) Paths() []string {
	t.mu.Lock()
	defer t.mu.Unlock()
	paths := make([]string, 0, len(t.entries))
	for path := range t.entries {
		paths = append(paths, path)
	}
	return paths
}

// IsOpen reports whether path currently has a live entry.
func (t *Table) IsOpen(path string) bool {
	path = NormalizePath(path)
	t.mu.Lock()
	defer t.mu.Unlock()
	_, ok := t.entries[path]
	return ok
}

// Len returns the number of currently open entries, for the open-files
// gauge.
func (t *Table) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.entries)
}

// EvictTick swaps the touched-interval sets and asks every file touched in
// either the current or previous interval to drop temporary-tier bytes
// older than cutoff. A file touched near the end of one tick is still
// revisited on the next, guaranteeing it survives at least one full TTL
// before it can be evicted.
func (t *Table) EvictTick(cutoff time.Time) {
	t.touchedMu.Lock()
	union := make(map[string]struct{}, len(t.touchedThis)+len(t.touchedPrevious))
	for path := range t.touchedThis {
		union[path] = struct{}{}
	}
	for path := range t.touchedPrevious {
		union[path] = struct{}{}
	}
	t.touchedPrevious = t.touchedThis
	t.touchedThis = make(map[string]struct{})
	t.touchedMu.Unlock()

	for path := range union {
		t.mu.Lock()
		cache, ok := t.entries[path]
		t.mu.Unlock()
		if !ok {
			continue
		}
		t.evictOne(path, cache, cutoff)
	}
}

func (t *Table) evictOne(path string, cache *rangecache.RangeCache, cutoff time.Time) {
	defer func() {
		if r := recover(); r != nil && t.logger != nil {
			t.logger.Errorf("eviction panic for %s: %v", path, r)
		}
	}()
	cache.EvictOlderThan(cutoff)
}

