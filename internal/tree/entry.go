// Package tree provides the file tree backends the sync engine reads from
// and writes to: a local filesystem and a remote device reached over adb.
package tree

import (
	"path"
	"sort"
	"time"

	mapset "github.com/deckarep/golang-set/v2"
)

// Entry is a single file known to one side of a sync.
type Entry struct {
	// Path is rooted at the listed root and always uses forward slashes.
	Path string
	// Name is the final component of Path.
	Name    string
	Size    uint64
	ModTime time.Time
}

// NewEntry builds an Entry from a slash-separated path.
func NewEntry(p string, size uint64, modTime time.Time) Entry {
	return Entry{
		Path:    p,
		Name:    path.Base(p),
		Size:    size,
		ModTime: modTime,
	}
}

// NewerThan reports whether e was modified strictly after other. Both sides
// are compared at one second resolution since remote listings carry no more.
func (e Entry) NewerThan(other Entry) bool {
	return e.ModTime.Truncate(time.Second).After(other.ModTime.Truncate(time.Second))
}

// Listing is the recursive content of one root.
type Listing struct {
	Files []Entry
	// EmptyDirs are directories below the root with no file anywhere in
	// their subtree. They may still hold empty subdirectories, which are
	// listed as well.
	EmptyDirs []string
}

// fileFreeDirs returns the members of dirs that are not an ancestor of any
// of files, sorted. Every path must lie below root.
func fileFreeDirs(root string, dirs []string, files []Entry) []string {
	root = path.Clean(root)
	occupied := mapset.NewThreadUnsafeSet[string]()
	for _, f := range files {
		for dir := path.Dir(f.Path); len(dir) > len(root); dir = path.Dir(dir) {
			if !occupied.Add(dir) {
				break
			}
		}
	}

	var free []string
	for _, dir := range dirs {
		if !occupied.Contains(path.Clean(dir)) {
			free = append(free, dir)
		}
	}
	sort.Strings(free)
	return free
}
