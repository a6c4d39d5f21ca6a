package fuse

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/hanwen/go-fuse/v2/fuse"
	"github.com/hanwen/go-fuse/v2/nodefs"
	"github.com/hanwen/go-fuse/v2/pathfs"

	"github.com/b2fs4chia/b2fs/internal/dirtree"
	"github.com/b2fs4chia/b2fs/internal/openfiles"
	"github.com/b2fs4chia/b2fs/internal/rangecache"
	b2errors "github.com/b2fs4chia/b2fs/pkg/errors"
	"github.com/b2fs4chia/b2fs/pkg/recovery"
)

// sha1Suffix names the synthetic sidecar file b2fs serves next to every real
// object: reading "name.sha1" returns the object's content hash without a
// remote call, since the listing already carries it.
const sha1Suffix = ".sha1"

// Logger is the minimal logging surface the facade needs; nil is a valid
// no-op. Satisfied by internal/observability.Logger.
type Logger interface {
	Debugf(format string, args ...interface{})
	Infof(format string, args ...interface{})
	Errorf(format string, args ...interface{})
}

// Metrics is the subset of internal/metrics.Collector the facade drives.
type Metrics interface {
	RecordFuseOp(operation string, duration time.Duration, err error)
	SetOpenFiles(n int)
}

// Lister is the listing half of bucket.CachedBucket: the facade only ever
// needs to force a refresh and fetch the result, never the raw download
// path (that belongs to the OpenFileTable's RangeCache instances).
type Lister interface {
	Ls(ctx context.Context, recursive bool) ([]rangecache.FileInfo, error)
	Invalidate()
}

// Stats tracks filesystem operation counters, read the same way the
// teacher's FileSystem.Stats were: a simple mutex-guarded struct, exposed
// for diagnostics rather than paged through Prometheus.
type Stats struct {
	mu sync.RWMutex

	Lookups   int64
	Opens     int64
	Reads     int64
	Readdirs  int64
	BytesRead int64
	Errors    int64
}

func (s *Stats) incLookups()     { s.mu.Lock(); s.Lookups++; s.mu.Unlock() }
func (s *Stats) incOpens()       { s.mu.Lock(); s.Opens++; s.mu.Unlock() }
func (s *Stats) incReaddirs()    { s.mu.Lock(); s.Readdirs++; s.mu.Unlock() }
func (s *Stats) incErrors()      { s.mu.Lock(); s.Errors++; s.mu.Unlock() }
func (s *Stats) addRead(n int64) { s.mu.Lock(); s.Reads++; s.BytesRead += n; s.mu.Unlock() }

// Snapshot returns a copy of the current counters.
func (s *Stats) Snapshot() Stats {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return Stats{
		Lookups:   s.Lookups,
		Opens:     s.Opens,
		Reads:     s.Reads,
		Readdirs:  s.Readdirs,
		BytesRead: s.BytesRead,
		Errors:    s.Errors,
	}
}

// Facade projects the bucket's flat listing, through DirectoryStructure and
// OpenFileTable, as a read-only pathfs.FileSystem. The mutating operations
// in unsupported.go are overridden to fail with NotImplemented rather than
// fall through to pathfs's own ENOSYS default, so the dispatch wrapper
// still gets to log and count them; Link, Symlink, Mknod, SetXAttr and
// RemoveXAttr are not overridden and return pathfs's ENOSYS directly.
type Facade struct {
	pathfs.FileSystem

	tree    *dirtree.Structure
	bucket  Lister
	table   *openfiles.Table
	logger  Logger
	metrics Metrics
	stats   *Stats

	mu          sync.Mutex
	lastListing []rangecache.FileInfo
}

// NewFacade builds a Facade. tree and table are owned by the adapter, which
// also wires table's CacheFactory to bucket's DownloadRange.
func NewFacade(tree *dirtree.Structure, bucket Lister, table *openfiles.Table, logger Logger, metrics Metrics) *Facade {
	return &Facade{
		FileSystem: pathfs.NewDefaultFileSystem(),
		tree:       tree,
		bucket:     bucket,
		table:      table,
		logger:     logger,
		metrics:    metrics,
		stats:      &Stats{},
	}
}

// Stats returns the facade's operation counters.
func (f *Facade) Stats() Stats {
	return f.stats.Snapshot()
}

// cleanPath trims a leading slash, matching the project convention already
// established by openfiles.NormalizePath.
func cleanPath(name string) string {
	return strings.TrimPrefix(name, "/")
}

// dispatch wraps fn with panic recovery, error-to-status translation,
// timing and a metrics record, the same shape every FUSE entry point in
// this package uses.
func (f *Facade) dispatch(operation, path string, fn func() (fuse.Status, error)) fuse.Status {
	start := time.Now()
	var status fuse.Status
	guardErr := recovery.Guard(f.logger, "fuse", operation, func() error {
		var err error
		status, err = fn()
		return err
	})

	var opErr error
	if guardErr != nil {
		status = fuse.EIO
		opErr = guardErr
		f.stats.incErrors()
	} else if !status.Ok() {
		opErr = fmt.Errorf("%s: status %v", operation, status)
		f.stats.incErrors()
	}

	if f.metrics != nil {
		f.metrics.RecordFuseOp(operation, time.Since(start), opErr)
	}
	if opErr != nil && f.logger != nil {
		f.logger.Debugf("%s %s: %v", operation, path, opErr)
	}
	return status
}

// errnoFor maps a domain error's Kind to the POSIX errno FUSE expects.
// Nothing below this package knows about syscall numbers; this is the one
// place that translation happens.
func errnoFor(err error) (fuse.Status, error) {
	if domainErr, ok := err.(*b2errors.Error); ok {
		switch domainErr.Kind {
		case b2errors.KindNotFound:
			return fuse.ENOENT, err
		case b2errors.KindAccessDenied:
			return fuse.EACCES, err
		case b2errors.KindNotImplemented:
			return fuse.ENOSYS, err
		default:
			return fuse.EIO, err
		}
	}
	return fuse.EIO, err
}

// Access implements the read-only existence/permission check: every path
// that resolves to a directory, a known file, or that file's ".sha1"
// sidecar is accessible; everything else is denied.
func (f *Facade) Access(name string, mode uint32, context *fuse.Context) fuse.Status {
	path := cleanPath(name)
	return f.dispatch("access", path, func() (fuse.Status, error) {
		if path == "" || f.tree.IsDirectory(path) {
			return fuse.OK, nil
		}
		if real, isSidecar := splitSha1(path); isSidecar {
			if f.tree.IsFile(real) {
				return fuse.OK, nil
			}
			return errnoFor(b2errors.AccessDenied("fuse", path))
		}
		if f.tree.IsFile(path) {
			return fuse.OK, nil
		}
		return errnoFor(b2errors.AccessDenied("fuse", path))
	})
}

// GetAttr reports a synthetic directory entry for "" and every projected
// directory, the real object's size/mtime for a file, and a tiny synthetic
// entry for a ".sha1" sidecar.
func (f *Facade) GetAttr(name string, context *fuse.Context) (*fuse.Attr, fuse.Status) {
	path := cleanPath(name)
	f.stats.incLookups()

	var attr *fuse.Attr
	status := f.dispatch("getattr", path, func() (fuse.Status, error) {
		if path == "" || f.tree.IsDirectory(path) {
			attr = dirAttr()
			return fuse.OK, nil
		}
		if real, isSidecar := splitSha1(path); isSidecar {
			info, ok := f.tree.GetFileInfo(real)
			if !ok {
				return errnoFor(b2errors.NotFound("fuse", path))
			}
			attr = sha1Attr(info)
			return fuse.OK, nil
		}
		info, ok := f.tree.GetFileInfo(path)
		if !ok {
			return errnoFor(b2errors.NotFound("fuse", path))
		}
		attr = fileAttr(info)
		return fuse.OK, nil
	})
	return attr, status
}

// OpenDir forces a listing refresh (spec requires readdir to see newly
// uploaded objects immediately, unlike every other operation which tolerates
// the TTL-cached view) and reports the projected directory's children, plus
// any path that is open in the OpenFileTable but has not yet reappeared in
// a listing.
func (f *Facade) OpenDir(name string, fctx *fuse.Context) ([]fuse.DirEntry, fuse.Status) {
	path := cleanPath(name)
	f.stats.incReaddirs()

	var entries []fuse.DirEntry
	status := f.dispatch("readdir", path, func() (fuse.Status, error) {
		if err := f.refreshListing(context.Background()); err != nil {
			return errnoFor(err)
		}
		if path != "" && !f.tree.IsDirectory(path) {
			return errnoFor(b2errors.NotFound("fuse", path))
		}

		view, _ := f.tree.GetDirectory(path)
		seen := make(map[string]struct{}, len(view.Subdirectories)+len(view.Files))

		entries = make([]fuse.DirEntry, 0, len(view.Subdirectories)+len(view.Files))
		for _, sub := range view.Subdirectories {
			entries = append(entries, fuse.DirEntry{Name: sub, Mode: fuse.S_IFDIR})
			seen[sub] = struct{}{}
		}
		for _, file := range view.Files {
			base := baseName(file.FileName)
			entries = append(entries, fuse.DirEntry{Name: base, Mode: fuse.S_IFREG})
			seen[base] = struct{}{}
		}
		for _, base := range f.openChildrenOf(path) {
			if _, ok := seen[base]; ok {
				continue
			}
			entries = append(entries, fuse.DirEntry{Name: base, Mode: fuse.S_IFREG})
			seen[base] = struct{}{}
		}
		return fuse.OK, nil
	})
	return entries, status
}

// openChildrenOf returns the basenames of paths the OpenFileTable still
// holds open whose parent is dir, covering a file deleted remotely between
// open and a subsequent readdir while it is still being read.
func (f *Facade) openChildrenOf(dir string) []string {
	var children []string
	for _, p := range f.table.Paths() {
		parent, base := splitParentPath(p)
		if parent == dir {
			children = append(children, base)
		}
	}
	return children
}

// Open resolves path to a FileInfo (real object or ".sha1" sidecar) and
// hands back a handle. Real files register with the OpenFileTable so reads
// dispatch through its RangeCache; sidecars are served from the in-memory
// digest with no RangeCache of their own.
func (f *Facade) Open(name string, flags uint32, context *fuse.Context) (nodefs.File, fuse.Status) {
	path := cleanPath(name)
	f.stats.incOpens()

	var handle nodefs.File
	status := f.dispatch("open", path, func() (fuse.Status, error) {
		if real, isSidecar := splitSha1(path); isSidecar {
			info, ok := f.tree.GetFileInfo(real)
			if !ok {
				return errnoFor(b2errors.AccessDenied("fuse", path))
			}
			handle = newSha1File(info)
			return fuse.OK, nil
		}

		info, ok := f.tree.GetFileInfo(path)
		if !ok {
			return errnoFor(b2errors.AccessDenied("fuse", path))
		}
		f.table.Open(path, info)
		handle = newDataFile(f.table, path, f.logger, f.stats)
		if f.metrics != nil {
			f.metrics.SetOpenFiles(f.table.Len())
		}
		return fuse.OK, nil
	})
	return handle, status
}

// StatFs reports a cosmetic filesystem summary: b2 has no real notion of
// free space, so everything here is derived from the last listing, with a
// fixed block count large enough that no client treats the volume as full.
func (f *Facade) StatFs(name string) *fuse.StatfsOut {
	const blockSize = 1 << 16
	const totalBlocks = uint64(1) << 40

	f.mu.Lock()
	listing := f.lastListing
	f.mu.Unlock()

	var usedBytes uint64
	for _, info := range listing {
		usedBytes += uint64(info.Size)
	}
	usedBlocks := usedBytes / blockSize
	if usedBlocks > totalBlocks {
		usedBlocks = totalBlocks
	}

	return &fuse.StatfsOut{
		Bsize:  blockSize,
		Blocks: totalBlocks,
		Bfree:  totalBlocks - usedBlocks,
		Bavail: totalBlocks - usedBlocks,
		Files:  uint64(len(listing)),
		Ffree:  ^uint64(0),
	}
}

// refreshListing invalidates the bucket's listing cache, refetches it, and
// rebuilds the directory tree from the result.
func (f *Facade) refreshListing(ctx context.Context) error {
	f.bucket.Invalidate()
	listing, err := f.bucket.Ls(ctx, true)
	if err != nil {
		return b2errors.RemoteFailure("fuse", "refresh listing", err)
	}
	f.mu.Lock()
	f.lastListing = listing
	f.mu.Unlock()
	f.tree.Update(listing, nil)
	return nil
}

func splitSha1(path string) (real string, isSidecar bool) {
	if !strings.HasSuffix(path, sha1Suffix) {
		return "", false
	}
	return strings.TrimSuffix(path, sha1Suffix), true
}

func baseName(name string) string {
	idx := strings.LastIndex(name, "/")
	if idx < 0 {
		return name
	}
	return name[idx+1:]
}

func splitParentPath(path string) (parent, base string) {
	path = strings.Trim(path, "/")
	idx := strings.LastIndex(path, "/")
	if idx < 0 {
		return "", path
	}
	return path[:idx], path[idx+1:]
}

func dirAttr() *fuse.Attr {
	now := uint64(time.Now().Unix())
	return &fuse.Attr{
		Mode:  fuse.S_IFDIR | 0777,
		Nlink: 2,
		Atime: now,
		Mtime: now,
		Ctime: now,
	}
}

func fileAttr(info rangecache.FileInfo) *fuse.Attr {
	sec := uint64(info.UploadTimestamp / 1000)
	return &fuse.Attr{
		Mode:  fuse.S_IFREG | 0777,
		Nlink: 1,
		Size:  uint64(info.Size),
		Atime: sec,
		Mtime: sec,
		Ctime: sec,
	}
}

func sha1Content(info rangecache.FileInfo) []byte {
	return []byte(info.ContentSha1 + "\n")
}

func sha1Attr(info rangecache.FileInfo) *fuse.Attr {
	content := sha1Content(info)
	sec := uint64(info.UploadTimestamp / 1000)
	return &fuse.Attr{
		Mode:  fuse.S_IFREG | 0777,
		Nlink: 1,
		Size:  uint64(len(content)),
		Atime: sec,
		Mtime: sec,
		Ctime: sec,
	}
}
