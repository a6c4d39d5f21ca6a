package fuse

import (
	"time"

	"github.com/hanwen/go-fuse/v2/fuse"
	"github.com/hanwen/go-fuse/v2/nodefs"

	b2errors "github.com/b2fs4chia/b2fs/pkg/errors"
)

// The mutating pathfs.FileSystem operations below are explicitly
// overridden here rather than left to fall through to
// pathfs.NewDefaultFileSystem's own ENOSYS stubs. The behavior is
// identical, but routing each one through dispatch means an attempt
// still shows up in the operation counters and the log instead of
// vanishing silently. Link, Symlink, Mknod, SetXAttr and RemoveXAttr are
// not overridden, and a Write on an open file handle goes to the
// nodefs.File default; those return ENOSYS without passing through
// dispatch.

func (f *Facade) Create(name string, flags uint32, mode uint32, context *fuse.Context) (nodefs.File, fuse.Status) {
	path := cleanPath(name)
	var handle nodefs.File
	status := f.dispatch("create", path, func() (fuse.Status, error) {
		return errnoFor(b2errors.NotImplemented("fuse", "create"))
	})
	return handle, status
}

func (f *Facade) Mkdir(name string, mode uint32, context *fuse.Context) fuse.Status {
	path := cleanPath(name)
	return f.dispatch("mkdir", path, func() (fuse.Status, error) {
		return errnoFor(b2errors.NotImplemented("fuse", "mkdir"))
	})
}

func (f *Facade) Rmdir(name string, context *fuse.Context) fuse.Status {
	path := cleanPath(name)
	return f.dispatch("rmdir", path, func() (fuse.Status, error) {
		return errnoFor(b2errors.NotImplemented("fuse", "rmdir"))
	})
}

func (f *Facade) Unlink(name string, context *fuse.Context) fuse.Status {
	path := cleanPath(name)
	return f.dispatch("unlink", path, func() (fuse.Status, error) {
		return errnoFor(b2errors.NotImplemented("fuse", "unlink"))
	})
}

func (f *Facade) Rename(oldName string, newName string, context *fuse.Context) fuse.Status {
	path := cleanPath(oldName)
	return f.dispatch("rename", path, func() (fuse.Status, error) {
		return errnoFor(b2errors.NotImplemented("fuse", "rename"))
	})
}

func (f *Facade) Truncate(name string, size uint64, context *fuse.Context) fuse.Status {
	path := cleanPath(name)
	return f.dispatch("truncate", path, func() (fuse.Status, error) {
		return errnoFor(b2errors.NotImplemented("fuse", "truncate"))
	})
}

func (f *Facade) Chmod(name string, mode uint32, context *fuse.Context) fuse.Status {
	path := cleanPath(name)
	return f.dispatch("chmod", path, func() (fuse.Status, error) {
		return errnoFor(b2errors.NotImplemented("fuse", "chmod"))
	})
}

func (f *Facade) Chown(name string, uid uint32, gid uint32, context *fuse.Context) fuse.Status {
	path := cleanPath(name)
	return f.dispatch("chown", path, func() (fuse.Status, error) {
		return errnoFor(b2errors.NotImplemented("fuse", "chown"))
	})
}

func (f *Facade) Utimens(name string, atime *time.Time, mtime *time.Time, context *fuse.Context) fuse.Status {
	path := cleanPath(name)
	return f.dispatch("utimens", path, func() (fuse.Status, error) {
		return errnoFor(b2errors.NotImplemented("fuse", "utimens"))
	})
}
