package bucket

import (
	"context"
	"sync"
	"time"

	"github.com/b2fs4chia/b2fs/internal/rangecache"
)

// CachedBucket wraps a Client with a time-bounded memoization of Ls, the
// only bucket-metadata call expensive enough to need one. DownloadRange,
// DeleteFileVersion and UploadBytes pass straight through.
type CachedBucket struct {
	client Client
	ttl    time.Duration

	mu        sync.Mutex
	cachedAt  time.Time
	cached    []rangecache.FileInfo
	hasCached bool
}

// NewCachedBucket wraps client with a listing cache of the given TTL.
func NewCachedBucket(client Client, ttl time.Duration) *CachedBucket {
	return &CachedBucket{client: client, ttl: ttl}
}

// Ls returns the memoized listing if it is younger than the TTL, otherwise
// refreshes it. The single mutex held across the refresh prevents a
// thundering herd of concurrent callers all triggering their own remote
// listing.
func (c *CachedBucket) Ls(ctx context.Context, recursive bool) ([]rangecache.FileInfo, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.hasCached && time.Since(c.cachedAt) < c.ttl {
		return c.cached, nil
	}

	fresh, err := c.client.Ls(ctx, recursive)
	if err != nil {
		return nil, err
	}
	c.cached = fresh
	c.cachedAt = time.Now()
	c.hasCached = true
	return c.cached, nil
}

// Invalidate forces the next Ls call to refresh regardless of TTL. Used by
// readdir, which spec.md requires to force a fresh listing.
func (c *CachedBucket) Invalidate() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.hasCached = false
}

// DownloadRange passes through to the wrapped client.
func (c *CachedBucket) DownloadRange(ctx context.Context, fileID string, inclusiveLo, inclusiveHi int64) ([]byte, error) {
	return c.client.DownloadRange(ctx, fileID, inclusiveLo, inclusiveHi)
}

// DeleteFileVersion passes through to the wrapped client.
func (c *CachedBucket) DeleteFileVersion(ctx context.Context, fileID, fileName string) error {
	return c.client.DeleteFileVersion(ctx, fileID, fileName)
}

// UploadBytes passes through to the wrapped client.
func (c *CachedBucket) UploadBytes(ctx context.Context, data []byte, fileName string) error {
	return c.client.UploadBytes(ctx, data, fileName)
}
