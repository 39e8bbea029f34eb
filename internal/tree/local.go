package tree

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/afero"
)

// LocalTree implements the sync tree operations on top of an afero filesystem.
type LocalTree struct {
	fs afero.Fs
}

// NewLocalTree creates a tree backed by fs.
func NewLocalTree(fs afero.Fs) *LocalTree {
	return &LocalTree{fs: fs}
}

// NewOSTree creates a tree backed by the host filesystem.
func NewOSTree() *LocalTree {
	return NewLocalTree(afero.NewOsFs())
}

// Fs returns the underlying filesystem.
func (t *LocalTree) Fs() afero.Fs {
	return t.fs
}

// List walks root and returns every regular file together with the
// directories below root that have no file in their subtree. A missing root
// yields an empty listing.
func (t *LocalTree) List(_ context.Context, root string) (Listing, error) {
	var listing Listing
	var dirs []string

	nativeRoot := filepath.FromSlash(root)
	if _, err := t.fs.Stat(nativeRoot); err != nil {
		if os.IsNotExist(err) {
			return listing, nil
		}
		return listing, fmt.Errorf("failed to stat %s: %w", root, err)
	}

	err := afero.Walk(t.fs, nativeRoot, func(p string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}

		if info.IsDir() {
			if p == nativeRoot {
				return nil
			}
			dirs = append(dirs, filepath.ToSlash(p))
			return nil
		}

		if !info.Mode().IsRegular() {
			return nil
		}

		listing.Files = append(listing.Files, NewEntry(filepath.ToSlash(p), uint64(info.Size()), info.ModTime()))
		return nil
	})
	if err != nil {
		return Listing{}, fmt.Errorf("failed to walk %s: %w", root, err)
	}

	listing.EmptyDirs = fileFreeDirs(filepath.ToSlash(nativeRoot), dirs, listing.Files)
	return listing, nil
}

// Mkdir creates p and any missing parents.
func (t *LocalTree) Mkdir(_ context.Context, p string) error {
	return t.fs.MkdirAll(filepath.FromSlash(p), 0755)
}

// RemoveFile removes a single file.
func (t *LocalTree) RemoveFile(_ context.Context, p string) error {
	return t.fs.Remove(filepath.FromSlash(p))
}

// RemoveDir removes p and everything below it.
func (t *LocalTree) RemoveDir(_ context.Context, p string) error {
	return t.fs.RemoveAll(filepath.FromSlash(p))
}

// SetModTime sets both access and modification time of p to mtime.
func (t *LocalTree) SetModTime(_ context.Context, p string, mtime time.Time) error {
	return t.fs.Chtimes(filepath.FromSlash(p), mtime, mtime)
}
