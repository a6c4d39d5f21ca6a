package fuse

import (
	"context"

	"github.com/hanwen/go-fuse/v2/fuse"
	"github.com/hanwen/go-fuse/v2/nodefs"

	"github.com/b2fs4chia/b2fs/internal/openfiles"
	"github.com/b2fs4chia/b2fs/internal/rangecache"
)

// dataFile is the nodefs.File handle for a real object: Read dispatches
// through the OpenFileTable's per-path RangeCache, Release drops the
// table entry. Every other nodefs.File method (Write, Truncate, Fsync, ...)
// falls through to the embedded default, which returns ENOSYS - correct for
// a read-only mount without needing its own override here.
type dataFile struct {
	nodefs.File
	table  *openfiles.Table
	path   string
	logger Logger
	stats  *Stats
}

func newDataFile(table *openfiles.Table, path string, logger Logger, stats *Stats) nodefs.File {
	return &dataFile{
		File:   nodefs.NewDefaultFile(),
		table:  table,
		path:   path,
		logger: logger,
		stats:  stats,
	}
}

func (d *dataFile) String() string {
	return "b2fsDataFile(" + d.path + ")"
}

func (d *dataFile) Read(dest []byte, off int64) (fuse.ReadResult, fuse.Status) {
	data, err := d.table.Read(context.Background(), d.path, off, int64(len(dest)))
	if err != nil {
		if d.logger != nil {
			d.logger.Errorf("read %s at offset %d: %v", d.path, off, err)
		}
		d.stats.incErrors()
		status, _ := errnoFor(err)
		return nil, status
	}
	d.stats.addRead(int64(len(data)))
	return fuse.ReadResultData(data), fuse.OK
}

func (d *dataFile) Release() {
	d.table.Release(d.path)
}

// sha1File serves the synthetic ".sha1" sidecar: a fixed in-memory byte
// slice built once at Open time from the listing's ContentSha1 field, with
// no RangeCache or remote call involved.
type sha1File struct {
	nodefs.File
	content []byte
}

func newSha1File(info rangecache.FileInfo) nodefs.File {
	return &sha1File{
		File:    nodefs.NewDefaultFile(),
		content: sha1Content(info),
	}
}

func (s *sha1File) String() string {
	return "b2fsSha1File"
}

func (s *sha1File) Read(dest []byte, off int64) (fuse.ReadResult, fuse.Status) {
	if off >= int64(len(s.content)) {
		return fuse.ReadResultData(nil), fuse.OK
	}
	end := off + int64(len(dest))
	if end > int64(len(s.content)) {
		end = int64(len(s.content))
	}
	return fuse.ReadResultData(s.content[off:end]), fuse.OK
}
