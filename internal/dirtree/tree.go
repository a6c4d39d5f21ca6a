// Package dirtree projects a flat listing of remote object names into an
// in-memory directory tree, the shape readdir and getattr need without a
// remote call per path component.
package dirtree

import (
	"sort"
	"strings"
	"sync"

	"github.com/b2fs4chia/b2fs/internal/rangecache"
)

// Node is one directory in the projected tree: its own basename, child
// directories keyed by basename, and the files that resolve directly
// inside it (no further '/' in the remainder of their name).
type Node struct {
	Name          string
	Subdirectories map[string]*Node
	Files         map[string]rangecache.FileInfo
}

func newNode(name string) *Node {
	return &Node{
		Name:           name,
		Subdirectories: make(map[string]*Node),
		Files:          make(map[string]rangecache.FileInfo),
	}
}

// Structure holds the current projected tree. The zero value is not usable;
// build one with New. Between calls to Update it is read-only from the
// caller's perspective — every read method takes the same lock a
// concurrent Update would take, so a reader never observes a half-built
// tree.
type Structure struct {
	mu   sync.RWMutex
	root *Node
}

// New creates an empty Structure (a single, childless root).
func New() *Structure {
	return &Structure{root: newNode("")}
}

// Update replaces the tree wholesale from a fresh listing. For every
// FileInfo, FileName is split on '/'; a Node is walked or created
// for each prefix component, and the FileInfo is attached to the leaf
// node's file list keyed by basename. extraLocalDirs are directory-only
// entries injected with no backing file, letting callers present synthetic
// folders; the read-only core never populates this itself but callers may.
func (s *Structure) Update(fileInfos []rangecache.FileInfo, extraLocalDirs []string) {
	root := newNode("")

	for _, info := range fileInfos {
		parts := strings.Split(info.FileName, "/")
		dir := root
		for _, component := range parts[:len(parts)-1] {
			child, ok := dir.Subdirectories[component]
			if !ok {
				child = newNode(component)
				dir.Subdirectories[component] = child
			}
			dir = child
		}
		basename := parts[len(parts)-1]
		dir.Files[basename] = info
	}

	for _, path := range extraLocalDirs {
		path = strings.Trim(path, "/")
		if path == "" {
			continue
		}
		dir := root
		for _, component := range strings.Split(path, "/") {
			child, ok := dir.Subdirectories[component]
			if !ok {
				child = newNode(component)
				dir.Subdirectories[component] = child
			}
			dir = child
		}
	}

	s.mu.Lock()
	s.root = root
	s.mu.Unlock()
}

// walk returns the Node at path ("" for root), or nil if no such directory
// exists. Caller must hold s.mu.
func (s *Structure) walk(path string) *Node {
	path = strings.Trim(path, "/")
	dir := s.root
	if path == "" {
		return dir
	}
	for _, component := range strings.Split(path, "/") {
		next, ok := dir.Subdirectories[component]
		if !ok {
			return nil
		}
		dir = next
	}
	return dir
}

// splitParent returns the parent directory path and basename of path.
func splitParent(path string) (parent, base string) {
	path = strings.Trim(path, "/")
	idx := strings.LastIndex(path, "/")
	if idx < 0 {
		return "", path
	}
	return path[:idx], path[idx+1:]
}

// IsDirectory reports whether path names a directory in the current tree.
// The root ("") always qualifies.
func (s *Structure) IsDirectory(path string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.walk(path) != nil
}

// IsFile reports whether path names a file in the current tree.
func (s *Structure) IsFile(path string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	parent, base := splitParent(path)
	dir := s.walk(parent)
	if dir == nil {
		return false
	}
	_, ok := dir.Files[base]
	return ok
}

// GetFileInfo returns the FileInfo for path and whether it was found.
func (s *Structure) GetFileInfo(path string) (rangecache.FileInfo, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	parent, base := splitParent(path)
	dir := s.walk(parent)
	if dir == nil {
		return rangecache.FileInfo{}, false
	}
	info, ok := dir.Files[base]
	return info, ok
}

// GetDirectory returns a snapshot of the Node at path: its own data copied
// out from under the lock, safe for the caller to read freely afterward.
func (s *Structure) GetDirectory(path string) (NodeView, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	dir := s.walk(path)
	if dir == nil {
		return NodeView{}, false
	}
	return snapshot(dir), true
}

// NodeView is a read-only, lock-free copy of a Node's contents.
type NodeView struct {
	Name           string
	Subdirectories []string
	Files          []rangecache.FileInfo
}

func snapshot(n *Node) NodeView {
	subdirs := make([]string, 0, len(n.Subdirectories))
	for name := range n.Subdirectories {
		subdirs = append(subdirs, name)
	}
	sort.Strings(subdirs)

	files := make([]rangecache.FileInfo, 0, len(n.Files))
	for _, info := range n.Files {
		files = append(files, info)
	}
	sort.Slice(files, func(i, j int) bool { return files[i].FileName < files[j].FileName })

	return NodeView{Name: n.Name, Subdirectories: subdirs, Files: files}
}

// GetSubdirectories returns the basenames of path's immediate subdirectories,
// sorted, and whether path exists as a directory at all.
func (s *Structure) GetSubdirectories(path string) ([]string, bool) {
	view, ok := s.GetDirectory(path)
	if !ok {
		return nil, false
	}
	return view.Subdirectories, true
}
