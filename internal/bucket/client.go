// Package bucket adapts a B2-style object-storage bucket, consumed through
// its S3-compatible API, into the narrow BucketClient contract the rest of
// the filesystem depends on.
package bucket

import (
	"context"

	"github.com/b2fs4chia/b2fs/internal/rangecache"
)

// Client is the bucket-client contract the filesystem consumes. The
// read-only core only ever calls Ls and DownloadRange; DeleteFileVersion
// and UploadBytes are declared because the original interface does, but
// nothing in this repository's mutating-op set (which always fails with
// NotImplemented) ever reaches them.
type Client interface {
	// Ls lists every object in the bucket. recursive is accepted for
	// interface parity with the original contract; this bucket has no
	// concept of a partial (non-recursive) listing, so it is ignored.
	Ls(ctx context.Context, recursive bool) ([]rangecache.FileInfo, error)

	// DownloadRange fetches the inclusive byte range [inclusiveLo,
	// inclusiveHi] of the object identified by fileID.
	DownloadRange(ctx context.Context, fileID string, inclusiveLo, inclusiveHi int64) ([]byte, error)

	// DeleteFileVersion removes one version of an object. Unused by the
	// read-only core; declared for interface completeness.
	DeleteFileVersion(ctx context.Context, fileID, fileName string) error

	// UploadBytes stores data under fileName. Unused by the read-only
	// core; declared for interface completeness.
	UploadBytes(ctx context.Context, data []byte, fileName string) error
}
