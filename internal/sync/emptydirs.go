package sync

import (
	"sort"

	mapset "github.com/deckarep/golang-set/v2"
)

// reconcileEmptyDirs plans the creation of directories that are empty on the
// source but missing on the destination and, with deleteOrphans, the removal
// of directories that are empty only on the destination. A directory empty
// on both sides is left alone. Both sets hold every file-free directory, so
// a chain a, a/b, a/b/c is created with one mkdir of its deepest member and
// removed with one removal of its topmost member.
func reconcileEmptyDirs(srcEmpty, dstEmpty, dstDirs, protected mapset.Set[string], destRoot string, ignore IgnoreFilter, deleteOrphans bool) []Op {
	var ops []Op

	missing := srcEmpty.Difference(dstEmpty)
	for _, rel := range sorted(missing) {
		// mkdir -p of a deeper member creates it; a destination
		// directory that holds files already exists
		if hasBelow(rel, missing) || containsAny(rel, dstDirs) {
			continue
		}
		ops = append(ops, Op{Kind: OpMkdir, Reason: ReasonEmptyDir, Path: joinRel(destRoot, rel)})
	}

	if !deleteOrphans {
		return ops
	}

	var removed, ignored []string
	for _, rel := range sorted(dstEmpty.Difference(srcEmpty)) {
		if underAny(rel, removed) || underAny(rel, ignored) {
			continue
		}
		if ignore.Match(rel) {
			ops = append(ops, Op{Kind: OpIgnore, Reason: ReasonIgnored, Path: joinRel(destRoot, rel)})
			ignored = append(ignored, rel)
			continue
		}
		// files copied below it in this run would go with it, and so
		// would ignored paths
		if containsAny(rel, protected) {
			continue
		}
		ops = append(ops, Op{Kind: OpRemoveDir, Reason: ReasonEmptyDir, Path: joinRel(destRoot, rel), BestEffort: true})
		removed = append(removed, rel)
	}
	return ops
}

// removeStaleDirs plans the removal of destination directories holding files
// that have no source counterpart. A directory that still contains synced
// paths only loses its own files.
func removeStaleDirs(stale Partition, protected mapset.Set[string], destRoot string, ignore IgnoreFilter) []Op {
	var ops []Op
	var removed []string

	for _, key := range stale.Keys() {
		dir := joinRel(destRoot, key)
		if ignore.Match(key) {
			ops = append(ops, Op{Kind: OpIgnore, Reason: ReasonIgnored, Path: dir})
			continue
		}
		if underAny(key, removed) {
			continue
		}

		if key == "" || containsAny(key, protected) {
			bucket := stale[key]
			for _, name := range bucket.Names() {
				ops = append(ops, Op{Kind: OpRemoveFile, Reason: ReasonOrphan, Path: bucket[name].Path, BestEffort: true})
			}
			continue
		}

		ops = append(ops, Op{Kind: OpRemoveDir, Reason: ReasonOrphan, Path: dir, BestEffort: true})
		removed = append(removed, key)
	}
	return ops
}

// containsAny reports whether any member of paths is dir or lies below it
func containsAny(dir string, paths mapset.Set[string]) bool {
	for _, p := range paths.ToSlice() {
		if within(p, dir) {
			return true
		}
	}
	return false
}

// hasBelow reports whether any member of paths lies strictly below dir
func hasBelow(dir string, paths mapset.Set[string]) bool {
	for _, p := range paths.ToSlice() {
		if p != dir && within(p, dir) {
			return true
		}
	}
	return false
}

// underAny reports whether p lies in or below any of dirs
func underAny(p string, dirs []string) bool {
	for _, dir := range dirs {
		if within(p, dir) {
			return true
		}
	}
	return false
}

func sorted(set mapset.Set[string]) []string {
	s := set.ToSlice()
	sort.Strings(s)
	return s
}
