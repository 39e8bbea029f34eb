package sync

import (
	"strings"

	mapset "github.com/deckarep/golang-set/v2"
)

// IgnoreFilter excludes root-relative directories by plain string prefix.
// A prefix of "a" also matches "ab/c"; pass "a/" to stop at the segment.
type IgnoreFilter struct {
	prefixes []string
}

// NewIgnoreFilter creates a filter. Empty prefixes are dropped since they
// would match every directory.
func NewIgnoreFilter(prefixes []string) IgnoreFilter {
	f := IgnoreFilter{}
	for _, p := range prefixes {
		if p != "" {
			f.prefixes = append(f.prefixes, p)
		}
	}
	return f
}

// Match reports whether rel starts with any configured prefix
func (f IgnoreFilter) Match(rel string) bool {
	for _, p := range f.prefixes {
		if strings.HasPrefix(rel, p) {
			return true
		}
	}
	return false
}

// Filter returns the members of set that are not ignored
func (f IgnoreFilter) Filter(set mapset.Set[string]) mapset.Set[string] {
	kept := mapset.NewThreadUnsafeSet[string]()
	for rel := range set.Iter() {
		if !f.Match(rel) {
			kept.Add(rel)
		}
	}
	return kept
}
