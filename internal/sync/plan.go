package sync

import (
	"fmt"
	"log/slog"

	mapset "github.com/deckarep/golang-set/v2"
	"github.com/dustin/go-humanize"

	"github.com/schaermu/adbsync/internal/tree"
)

// OpKind is the kind of mutation an Op applies to the destination
type OpKind string

const (
	OpIgnore     OpKind = "ignore"
	OpMkdir      OpKind = "mkdir"
	OpCopy       OpKind = "copy"
	OpRemoveFile OpKind = "remove-file"
	OpRemoveDir  OpKind = "remove-dir"
)

// Reason explains why an Op was planned
type Reason string

const (
	ReasonNotExist   Reason = "does-not-exist"
	ReasonSize       Reason = "size-mismatch"
	ReasonNewer      Reason = "newer"
	ReasonMissingDir Reason = "missing-dir"
	ReasonEmptyDir   Reason = "empty-dir"
	ReasonOrphan     Reason = "orphan"
	ReasonIgnored    Reason = "ignored"
)

// Op is a single planned action against the destination tree
type Op struct {
	Kind   OpKind
	Reason Reason
	Path   string     // destination path
	Source tree.Entry // source file, OpCopy only
	// BestEffort ops only log their failure; the run keeps going.
	BestEffort bool
}

// Plan is the ordered list of operations for one run
type Plan struct {
	Ops    []Op
	InSync int // matched files that need no action
}

func (p *Plan) add(op Op) {
	p.Ops = append(p.Ops, op)
}

// Count returns the number of planned ops of the given kind
func (p *Plan) Count(kind OpKind) int {
	n := 0
	for _, op := range p.Ops {
		if op.Kind == kind {
			n++
		}
	}
	return n
}

// Report returns the report the plan would produce if every op succeeded
func (p *Plan) Report() *Report {
	r := &Report{InSync: p.InSync}
	for _, op := range p.Ops {
		r.record(op)
	}
	return r
}

// Report summarizes an applied (or dry-run) plan
type Report struct {
	Copied       int
	InSync       int
	Ignored      int
	DirsCreated  int
	FilesRemoved int
	DirsRemoved  int
	Failed       int
	BytesCopied  uint64
}

func (r *Report) record(op Op) {
	switch op.Kind {
	case OpIgnore:
		r.Ignored++
	case OpMkdir:
		r.DirsCreated++
	case OpCopy:
		r.Copied++
		r.BytesCopied += op.Source.Size
	case OpRemoveFile:
		r.FilesRemoved++
	case OpRemoveDir:
		r.DirsRemoved++
	}
}

// Changed returns the number of files copied or removed
func (r *Report) Changed() int {
	return r.Copied + r.FilesRemoved
}

// LogValue implements slog.LogValuer.
func (r *Report) LogValue() slog.Value {
	return slog.GroupValue(
		slog.Int("copied", r.Copied),
		slog.String("bytes", humanize.Bytes(r.BytesCopied)),
		slog.Int("in_sync", r.InSync),
		slog.Int("ignored", r.Ignored),
		slog.Int("dirs_created", r.DirsCreated),
		slog.Int("files_removed", r.FilesRemoved),
		slog.Int("dirs_removed", r.DirsRemoved),
		slog.Int("failed", r.Failed),
	)
}

// BuildPlan classifies both listings into the operations that make the tree
// at destRoot match the tree at sourceRoot. It does not touch either tree.
func BuildPlan(sourceRoot, destRoot string, src, dst tree.Listing, opts Options) (*Plan, error) {
	srcParts, err := PartitionEntries(src.Files, sourceRoot)
	if err != nil {
		return nil, fmt.Errorf("failed to partition source listing: %w", err)
	}
	dstParts, err := PartitionEntries(dst.Files, destRoot)
	if err != nil {
		return nil, fmt.Errorf("failed to partition destination listing: %w", err)
	}

	ignore := NewIgnoreFilter(opts.IgnoreDirs)

	srcEmpty, err := relativeSet(src.EmptyDirs, sourceRoot)
	if err != nil {
		return nil, fmt.Errorf("failed to read source empty directories: %w", err)
	}
	srcEmpty = ignore.Filter(srcEmpty)
	dstEmpty, err := relativeSet(dst.EmptyDirs, destRoot)
	if err != nil {
		return nil, fmt.Errorf("failed to read destination empty directories: %w", err)
	}

	// directories that exist on the destination because they hold files
	dstDirs := mapset.NewThreadUnsafeSet(dstParts.Keys()...)

	plan := &Plan{}

	for _, key := range srcParts.Keys() {
		bucket := srcParts[key]
		dstBucket, hadDst := dstParts[key]
		delete(dstParts, key)

		dir := joinRel(destRoot, key)

		if ignore.Match(key) {
			plan.add(Op{Kind: OpIgnore, Reason: ReasonIgnored, Path: dir})
			continue
		}

		if !hadDst {
			plan.add(Op{Kind: OpMkdir, Reason: ReasonMissingDir, Path: dir})
		}

		for _, name := range bucket.Names() {
			sf := bucket[name]
			df, ok := dstBucket[name]
			switch {
			case !ok:
				plan.add(Op{Kind: OpCopy, Reason: ReasonNotExist, Path: joinRel(dir, name), Source: sf})
			case sf.Size != df.Size:
				plan.add(Op{Kind: OpCopy, Reason: ReasonSize, Path: df.Path, Source: sf})
			case sf.NewerThan(df):
				plan.add(Op{Kind: OpCopy, Reason: ReasonNewer, Path: df.Path, Source: sf})
			default:
				plan.InSync++
			}
		}

		if opts.DeleteOrphans && hadDst {
			for _, name := range dstBucket.Names() {
				if !bucket.Has(name) {
					plan.add(Op{Kind: OpRemoveFile, Reason: ReasonOrphan, Path: dstBucket[name].Path})
				}
			}
		}
	}

	// Nothing that holds a protected path is removed: source directories
	// and every ignored destination path.
	protected := mapset.NewThreadUnsafeSet(srcParts.Keys()...).Union(srcEmpty)
	for _, key := range dstParts.Keys() {
		if ignore.Match(key) {
			protected.Add(key)
		}
	}
	for rel := range dstEmpty.Iter() {
		if ignore.Match(rel) {
			protected.Add(rel)
		}
	}

	plan.Ops = append(plan.Ops, reconcileEmptyDirs(srcEmpty, dstEmpty, dstDirs, protected, destRoot, ignore, opts.DeleteOrphans)...)

	if opts.DeleteOrphans {
		plan.Ops = append(plan.Ops, removeStaleDirs(dstParts, protected, destRoot, ignore)...)
	}

	return plan, nil
}
