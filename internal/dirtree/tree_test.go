package dirtree

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/b2fs4chia/b2fs/internal/rangecache"
)

func fi(name string) rangecache.FileInfo {
	return rangecache.FileInfo{FileID: name, FileName: name, Size: int64(len(name))}
}

// S5 — readdir projects nested names.
func TestStructure_ProjectsNestedListing(t *testing.T) {
	s := New()
	s.Update([]rangecache.FileInfo{fi("a/b/c.txt"), fi("a/d.txt"), fi("e.txt")}, nil)

	root, ok := s.GetDirectory("")
	assert.True(t, ok)
	assert.ElementsMatch(t, []string{"a"}, root.Subdirectories)
	assert.Len(t, root.Files, 1)
	assert.Equal(t, "e.txt", root.Files[0].FileName)

	a, ok := s.GetDirectory("a")
	assert.True(t, ok)
	assert.ElementsMatch(t, []string{"b"}, a.Subdirectories)
	assert.Len(t, a.Files, 1)
	assert.Equal(t, "a/d.txt", a.Files[0].FileName)

	ab, ok := s.GetDirectory("a/b")
	assert.True(t, ok)
	assert.Empty(t, ab.Subdirectories)
	assert.Len(t, ab.Files, 1)
	assert.Equal(t, "a/b/c.txt", ab.Files[0].FileName)
}

func TestStructure_IsDirectoryAndIsFile(t *testing.T) {
	s := New()
	s.Update([]rangecache.FileInfo{fi("a/b/c.txt"), fi("e.txt")}, nil)

	assert.True(t, s.IsDirectory(""))
	assert.True(t, s.IsDirectory("a"))
	assert.True(t, s.IsDirectory("a/b"))
	assert.False(t, s.IsDirectory("a/b/c.txt"))
	assert.False(t, s.IsDirectory("nope"))

	assert.True(t, s.IsFile("e.txt"))
	assert.True(t, s.IsFile("a/b/c.txt"))
	assert.False(t, s.IsFile("a"))
	assert.False(t, s.IsFile("nope.txt"))
}

func TestStructure_GetFileInfo(t *testing.T) {
	s := New()
	s.Update([]rangecache.FileInfo{fi("e.txt")}, nil)

	info, ok := s.GetFileInfo("e.txt")
	assert.True(t, ok)
	assert.Equal(t, "e.txt", info.FileName)

	_, ok = s.GetFileInfo("missing.txt")
	assert.False(t, ok)
}

func TestStructure_GetSubdirectories(t *testing.T) {
	s := New()
	s.Update([]rangecache.FileInfo{fi("a/b/c.txt"), fi("a/d/e.txt")}, nil)

	subs, ok := s.GetSubdirectories("a")
	assert.True(t, ok)
	assert.Equal(t, []string{"b", "d"}, subs)

	_, ok = s.GetSubdirectories("missing")
	assert.False(t, ok)
}

func TestStructure_ExtraLocalDirsInjectEmptyDirectories(t *testing.T) {
	s := New()
	s.Update([]rangecache.FileInfo{fi("e.txt")}, []string{"/synthetic/nested"})

	assert.True(t, s.IsDirectory("synthetic"))
	assert.True(t, s.IsDirectory("synthetic/nested"))

	view, ok := s.GetDirectory("synthetic/nested")
	assert.True(t, ok)
	assert.Empty(t, view.Files)
}

func TestStructure_UpdateReplacesTreeWholesale(t *testing.T) {
	s := New()
	s.Update([]rangecache.FileInfo{fi("old.txt")}, nil)
	assert.True(t, s.IsFile("old.txt"))

	s.Update([]rangecache.FileInfo{fi("new.txt")}, nil)
	assert.False(t, s.IsFile("old.txt"))
	assert.True(t, s.IsFile("new.txt"))
}

// Leading/trailing slashes are normalized consistently on read paths.
func TestStructure_NormalizesSlashes(t *testing.T) {
	s := New()
	s.Update([]rangecache.FileInfo{fi("a/b.txt")}, nil)

	assert.True(t, s.IsDirectory("/a/"))
	assert.True(t, s.IsFile("/a/b.txt"))
}
