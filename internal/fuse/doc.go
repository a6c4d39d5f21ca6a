// Package fuse projects the domain layer (dirtree.Structure,
// bucket.CachedBucket, openfiles.Table) onto the filesystem as a read-only
// mount, built on go-fuse v2's path-keyed pathfs/nodefs API rather than its
// newer inode-oriented fs package: every operation b2fs needs to support
// (access, getattr, readdir, open, read, release, statfs) is naturally
// expressed in terms of a path string, and the bucket itself has no inode
// numbers to hand out.
//
// Facade implements pathfs.FileSystem for the read path and fails the
// mutating operations in unsupported.go with a structured NotImplemented
// error, translated to ENOSYS at the boundary; the remaining mutating
// operations return go-fuse's default ENOSYS. MountManager wraps the pathfs.PathNodeFs /
// nodefs.FileSystemConnector / fuse.Server wiring a live mount needs.
package fuse
