package sync

import (
	"errors"
	"fmt"
	"path"
	"sort"
	"strings"

	mapset "github.com/deckarep/golang-set/v2"

	"github.com/schaermu/adbsync/internal/tree"
)

// ErrOutsideRoot is returned when a listed path does not fall under the root
// it was listed from.
var ErrOutsideRoot = errors.New("path is not under root")

// reservedSuffix is the trailing character some filesystems refuse in names.
// Such a file is stored without it on the side that refuses it.
const reservedSuffix = "."

// Bucket holds the files directly inside one directory, keyed by name
type Bucket map[string]tree.Entry

// Names returns the file names in lexical order
func (b Bucket) Names() []string {
	names := make([]string, 0, len(b))
	for name := range b {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Has reports whether a file called name on the other side is the same file
// as one in b.
func (b Bucket) Has(name string) bool {
	for _, candidate := range identityNames(name) {
		if _, ok := b[candidate]; ok {
			return true
		}
	}
	return false
}

// identityNames returns every name a file called name may carry on the
// other side of a sync.
func identityNames(name string) []string {
	return []string{name, name + reservedSuffix}
}

// Partition maps a root-relative directory ("" for the root) to its files
type Partition map[string]Bucket

// Keys returns the directory keys in lexical order
func (p Partition) Keys() []string {
	keys := make([]string, 0, len(p))
	for key := range p {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	return keys
}

// PartitionEntries groups entries by their directory relative to root.
func PartitionEntries(entries []tree.Entry, root string) (Partition, error) {
	parts := Partition{}
	for _, e := range entries {
		rel, err := relativePath(e.Path, root)
		if err != nil {
			return nil, err
		}
		if rel == "" {
			return nil, fmt.Errorf("%w: file %s is the root itself", ErrOutsideRoot, e.Path)
		}

		dir := path.Dir(rel)
		if dir == "." {
			dir = ""
		}

		bucket, ok := parts[dir]
		if !ok {
			bucket = Bucket{}
			parts[dir] = bucket
		}
		bucket[e.Name] = e
	}
	return parts, nil
}

// relativePath strips root from p. p equal to root yields "".
func relativePath(p, root string) (string, error) {
	root = path.Clean(root)
	if p == root {
		return "", nil
	}

	prefix := root
	if !strings.HasSuffix(prefix, "/") {
		prefix += "/"
	}
	rel, ok := strings.CutPrefix(p, prefix)
	if !ok || rel == "" {
		return "", fmt.Errorf("%w: %s not under %s", ErrOutsideRoot, p, root)
	}
	return strings.TrimSuffix(rel, "/"), nil
}

// relativeSet converts root-prefixed paths into a set of root-relative ones.
func relativeSet(paths []string, root string) (mapset.Set[string], error) {
	set := mapset.NewThreadUnsafeSet[string]()
	for _, p := range paths {
		rel, err := relativePath(p, root)
		if err != nil {
			return nil, err
		}
		if rel == "" {
			continue
		}
		set.Add(rel)
	}
	return set, nil
}

// joinRel joins a relative path onto root; "" is root itself.
func joinRel(root, rel string) string {
	if rel == "" {
		return root
	}
	return path.Join(root, rel)
}

// within reports whether p is dir or lies below it. "" contains everything.
func within(p, dir string) bool {
	return dir == "" || p == dir || strings.HasPrefix(p, dir+"/")
}
