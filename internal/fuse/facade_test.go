package fuse

import (
	"context"
	"testing"

	"github.com/hanwen/go-fuse/v2/fuse"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/b2fs4chia/b2fs/internal/dirtree"
	"github.com/b2fs4chia/b2fs/internal/openfiles"
	"github.com/b2fs4chia/b2fs/internal/rangecache"
)

// fakeLister is an in-memory stand-in for bucket.CachedBucket's listing
// half: Ls returns whatever was last set, Invalidate is a no-op since there
// is no TTL to reset.
type fakeLister struct {
	listing []rangecache.FileInfo
	err     error
	calls   int
}

func (f *fakeLister) Ls(ctx context.Context, recursive bool) ([]rangecache.FileInfo, error) {
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	return f.listing, nil
}

func (f *fakeLister) Invalidate() {}

// fakeFetcher serves DownloadRange from an in-memory byte buffer keyed by
// fileID, long enough to exercise reads through the real OpenFileTable /
// RangeCache stack underneath the facade.
type fakeFetcher struct {
	data map[string][]byte
}

func (f *fakeFetcher) DownloadRange(ctx context.Context, fileID string, inclusiveLo, inclusiveHi int64) ([]byte, error) {
	buf := f.data[fileID]
	hi := inclusiveHi + 1
	if hi > int64(len(buf)) {
		hi = int64(len(buf))
	}
	if inclusiveLo >= hi {
		return nil, nil
	}
	return buf[inclusiveLo:hi], nil
}

func newTestFacade(files []rangecache.FileInfo, contents map[string][]byte) (*Facade, *fakeLister) {
	tree := dirtree.New()
	tree.Update(files, nil)

	fetcher := &fakeFetcher{data: contents}
	factory := func(info rangecache.FileInfo) *rangecache.RangeCache {
		return rangecache.New(info, fetcher, nil, nil)
	}
	table := openfiles.New(factory, nil)

	lister := &fakeLister{listing: files}
	facade := NewFacade(tree, lister, table, nil, nil)
	return facade, lister
}

func sampleFiles() []rangecache.FileInfo {
	return []rangecache.FileInfo{
		{FileID: "a/b.txt", FileName: "a/b.txt", Size: 11, ContentSha1: "deadbeef"},
		{FileID: "c.txt", FileName: "c.txt", Size: 3, ContentSha1: "cafef00d"},
	}
}

func TestFacade_AccessKnownAndUnknownPaths(t *testing.T) {
	facade, _ := newTestFacade(sampleFiles(), nil)

	const fOK = 0
	assert.Equal(t, fuse.OK, facade.Access("a", fOK, nil))
	assert.Equal(t, fuse.OK, facade.Access("a/b.txt", fOK, nil))
	assert.Equal(t, fuse.OK, facade.Access("a/b.txt.sha1", fOK, nil))
	assert.Equal(t, fuse.EACCES, facade.Access("missing.txt", fOK, nil))
}

func TestFacade_GetAttrDirectoryAndFile(t *testing.T) {
	facade, _ := newTestFacade(sampleFiles(), nil)

	attr, status := facade.GetAttr("", nil)
	require.Equal(t, fuse.OK, status)
	assert.True(t, attr.Mode&fuse.S_IFDIR != 0)

	attr, status = facade.GetAttr("c.txt", nil)
	require.Equal(t, fuse.OK, status)
	assert.True(t, attr.Mode&fuse.S_IFREG != 0)
	assert.Equal(t, uint64(3), attr.Size)
}

func TestFacade_GetAttrSha1Sidecar(t *testing.T) {
	facade, _ := newTestFacade(sampleFiles(), nil)

	attr, status := facade.GetAttr("c.txt.sha1", nil)
	require.Equal(t, fuse.OK, status)
	assert.Equal(t, uint64(len("cafef00d\n")), attr.Size)

	_, status = facade.GetAttr("missing.txt.sha1", nil)
	assert.Equal(t, fuse.ENOENT, status)
}

func TestFacade_GetAttrUnknownPath(t *testing.T) {
	facade, _ := newTestFacade(sampleFiles(), nil)
	_, status := facade.GetAttr("nope", nil)
	assert.Equal(t, fuse.ENOENT, status)
}

func TestFacade_OpenDirListsSubdirsAndFilesAndForcesRefresh(t *testing.T) {
	facade, lister := newTestFacade(sampleFiles(), nil)

	entries, status := facade.OpenDir("", nil)
	require.Equal(t, fuse.OK, status)
	assert.Equal(t, 1, lister.calls)

	names := make(map[string]bool)
	for _, e := range entries {
		names[e.Name] = true
	}
	assert.True(t, names["a"])
	assert.True(t, names["c.txt"])
}

func TestFacade_OpenDirIncludesOpenButUnlistedFile(t *testing.T) {
	files := sampleFiles()
	facade, lister := newTestFacade(files, map[string][]byte{"c.txt": []byte("xyz")})

	_, status := facade.Open("c.txt", 0, nil)
	require.Equal(t, fuse.OK, status)

	// Simulate the object disappearing from a subsequent listing while it
	// is still open.
	lister.listing = []rangecache.FileInfo{files[0]}

	entries, status := facade.OpenDir("", nil)
	require.Equal(t, fuse.OK, status)

	found := false
	for _, e := range entries {
		if e.Name == "c.txt" {
			found = true
		}
	}
	assert.True(t, found, "open file missing from a listing should still be reported")
}

func TestFacade_OpenDirUnknownDirectory(t *testing.T) {
	facade, _ := newTestFacade(sampleFiles(), nil)
	_, status := facade.OpenDir("nope", nil)
	assert.Equal(t, fuse.ENOENT, status)
}

func TestFacade_OpenAndReadFile(t *testing.T) {
	files := []rangecache.FileInfo{{FileID: "c.txt", FileName: "c.txt", Size: 5, ContentSha1: "abc"}}
	facade, _ := newTestFacade(files, map[string][]byte{"c.txt": []byte("hello")})

	handle, status := facade.Open("c.txt", 0, nil)
	require.Equal(t, fuse.OK, status)
	require.NotNil(t, handle)

	dest := make([]byte, 5)
	result, status := handle.Read(dest, 0)
	require.Equal(t, fuse.OK, status)
	data, status := result.Bytes(dest)
	require.Equal(t, fuse.OK, status)
	assert.Equal(t, "hello", string(data))

	handle.Release()
}

func TestFacade_OpenSha1Sidecar(t *testing.T) {
	files := []rangecache.FileInfo{{FileID: "c.txt", FileName: "c.txt", Size: 5, ContentSha1: "abc123"}}
	facade, _ := newTestFacade(files, nil)

	handle, status := facade.Open("c.txt.sha1", 0, nil)
	require.Equal(t, fuse.OK, status)

	dest := make([]byte, 16)
	result, status := handle.Read(dest, 0)
	require.Equal(t, fuse.OK, status)
	data, status := result.Bytes(dest)
	require.Equal(t, fuse.OK, status)
	assert.Equal(t, "abc123\n", string(data))
}

func TestFacade_OpenUnknownPathDenied(t *testing.T) {
	facade, _ := newTestFacade(sampleFiles(), nil)
	_, status := facade.Open("nope", 0, nil)
	assert.Equal(t, fuse.EACCES, status)
}

func TestFacade_StatFsReflectsListingSize(t *testing.T) {
	facade, _ := newTestFacade(sampleFiles(), nil)

	_, status := facade.OpenDir("", nil) // populates lastListing
	require.Equal(t, fuse.OK, status)

	out := facade.StatFs("")
	assert.Equal(t, uint64(2), out.Files)
}

func TestFacade_MutatingOpsAreNotImplemented(t *testing.T) {
	facade, _ := newTestFacade(sampleFiles(), nil)

	assert.Equal(t, fuse.ENOSYS, facade.Mkdir("newdir", 0755, nil))
	assert.Equal(t, fuse.ENOSYS, facade.Rmdir("a", nil))
	assert.Equal(t, fuse.ENOSYS, facade.Unlink("c.txt", nil))
	assert.Equal(t, fuse.ENOSYS, facade.Rename("c.txt", "d.txt", nil))
	assert.Equal(t, fuse.ENOSYS, facade.Truncate("c.txt", 0, nil))
	assert.Equal(t, fuse.ENOSYS, facade.Chmod("c.txt", 0644, nil))
	assert.Equal(t, fuse.ENOSYS, facade.Chown("c.txt", 0, 0, nil))
	assert.Equal(t, fuse.ENOSYS, facade.Utimens("c.txt", nil, nil, nil))

	_, status := facade.Create("new.txt", 0, 0644, nil)
	assert.Equal(t, fuse.ENOSYS, status)
}

func TestFacade_StatsTrackLookupsAndErrors(t *testing.T) {
	facade, _ := newTestFacade(sampleFiles(), nil)

	facade.GetAttr("c.txt", nil)
	facade.GetAttr("nope", nil)

	stats := facade.Stats()
	assert.Equal(t, int64(2), stats.Lookups)
	assert.Equal(t, int64(1), stats.Errors)
}
