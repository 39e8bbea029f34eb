// Package sync reconciles a destination file tree with a source file tree.
//
// A run lists both trees once, partitions each listing into per-directory
// buckets, classifies every file and directory into an Op and then applies
// the resulting Plan to the destination. Nothing is persisted between runs.
package sync

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path"
	"time"

	"github.com/dustin/go-humanize"

	"github.com/schaermu/adbsync/internal/tree"
)

// ErrNoSourceName is returned when the source path has no final component
// to mirror under the destination.
var ErrNoSourceName = errors.New("source path has no final component")

// Tree is one side of a sync
type Tree interface {
	// List returns all files below root and the empty directories below it
	List(ctx context.Context, root string) (tree.Listing, error)
	// Mkdir creates a directory and its parents, succeeding if it exists
	Mkdir(ctx context.Context, path string) error
	// RemoveFile removes a single file
	RemoveFile(ctx context.Context, path string) error
	// RemoveDir removes a directory recursively
	RemoveDir(ctx context.Context, path string) error
	// SetModTime sets the modification time of a file
	SetModTime(ctx context.Context, path string, t time.Time) error
}

// Transferer moves one file's content from the source side to the
// destination side
type Transferer interface {
	Transfer(ctx context.Context, src, dst string, preserveTime bool) (string, error)
}

// Direction names which backend plays which role
type Direction string

const (
	DirectionPull   Direction = "pull"   // device to local
	DirectionPush   Direction = "push"   // local to device
	DirectionMirror Direction = "mirror" // local to local
)

// transferKeepsTime reports whether the transfer primitive can stamp the
// source modification time itself. Pushes to a device cannot.
func (d Direction) transferKeepsTime() bool {
	return d != DirectionPush
}

// Options configures a single run
type Options struct {
	SetTimes      bool
	DeleteOrphans bool
	IgnoreDirs    []string
	Direction     Direction
	DryRun        bool
}

// Engine orchestrates the sync process
type Engine struct {
	src      Tree
	dst      Tree
	transfer Transferer
	opts     Options
	logger   *slog.Logger
}

// NewEngine creates a new sync engine
func NewEngine(src, dst Tree, transfer Transferer, opts Options, logger *slog.Logger) *Engine {
	return &Engine{
		src:      src,
		dst:      dst,
		transfer: transfer,
		opts:     opts,
		logger:   logger,
	}
}

// DestRoot returns the directory the source tree is mirrored into: dest
// joined with the final component of source.
func DestRoot(source, dest string) (string, error) {
	name := path.Base(path.Clean(source))
	if name == "/" || name == "." || name == ".." {
		return "", fmt.Errorf("%w: %q", ErrNoSourceName, source)
	}
	return path.Join(dest, name), nil
}

// Run executes one complete sync of source into dest
func (e *Engine) Run(ctx context.Context, source, dest string) (*Report, error) {
	sourceRoot := path.Clean(source)
	destRoot, err := DestRoot(source, dest)
	if err != nil {
		return nil, err
	}

	e.logger.Info("starting sync",
		"source", sourceRoot,
		"dest", destRoot,
		"direction", e.opts.Direction,
		"set_times", e.opts.SetTimes,
		"delete_if_dne", e.opts.DeleteOrphans,
		"dry_run", e.opts.DryRun)

	if !e.opts.DryRun {
		if err := e.dst.Mkdir(ctx, destRoot); err != nil {
			return nil, fmt.Errorf("failed to create destination root %s: %w", destRoot, err)
		}
	}

	// Both listings are taken before anything else changes so every
	// decision is made against the same pair of snapshots.
	srcListing, err := e.src.List(ctx, sourceRoot)
	if err != nil {
		return nil, fmt.Errorf("failed to list source: %w", err)
	}
	dstListing, err := e.dst.List(ctx, destRoot)
	if err != nil {
		return nil, fmt.Errorf("failed to list destination: %w", err)
	}

	e.logger.Info("listed trees",
		"source_files", len(srcListing.Files),
		"source_empty_dirs", len(srcListing.EmptyDirs),
		"dest_files", len(dstListing.Files),
		"dest_empty_dirs", len(dstListing.EmptyDirs))

	plan, err := BuildPlan(sourceRoot, destRoot, srcListing, dstListing, e.opts)
	if err != nil {
		return nil, fmt.Errorf("failed to build sync plan: %w", err)
	}

	e.logger.Info("sync plan",
		"copy", plan.Count(OpCopy),
		"mkdir", plan.Count(OpMkdir),
		"remove_file", plan.Count(OpRemoveFile),
		"remove_dir", plan.Count(OpRemoveDir),
		"in_sync", plan.InSync)

	if e.opts.DryRun {
		e.logPlanDetails(plan)
		report := plan.Report()
		e.logger.Info("dry-run complete, no changes applied", "report", report)
		return report, nil
	}

	report, err := e.apply(ctx, plan)
	if err != nil {
		return report, fmt.Errorf("failed to apply sync plan: %w", err)
	}

	e.logger.Info("sync completed successfully", "report", report)
	return report, nil
}

// apply executes the plan in order. The first failing op that is not
// best-effort stops the run; ops already applied stay applied.
func (e *Engine) apply(ctx context.Context, plan *Plan) (*Report, error) {
	report := &Report{InSync: plan.InSync}

	for _, op := range plan.Ops {
		if err := e.applyOp(ctx, op); err != nil {
			if !op.BestEffort {
				return report, err
			}
			report.Failed++
			e.logger.Warn("could not delete", "path", op.Path, "error", err)
			continue
		}
		report.record(op)
	}

	return report, nil
}

func (e *Engine) applyOp(ctx context.Context, op Op) error {
	switch op.Kind {
	case OpIgnore:
		e.logger.Info("skip dir (ignored)", "path", op.Path)
		return nil

	case OpMkdir:
		e.logger.Debug("creating directory", "path", op.Path, "reason", op.Reason)
		if err := e.dst.Mkdir(ctx, op.Path); err != nil {
			return fmt.Errorf("failed to create directory %s: %w", op.Path, err)
		}
		return nil

	case OpCopy:
		return e.copy(ctx, op)

	case OpRemoveFile:
		e.logger.Info("deleting file", "path", op.Path, "reason", op.Reason)
		if err := e.dst.RemoveFile(ctx, op.Path); err != nil {
			return fmt.Errorf("failed to delete file %s: %w", op.Path, err)
		}
		return nil

	case OpRemoveDir:
		e.logger.Info("deleting directory", "path", op.Path, "reason", op.Reason)
		if err := e.dst.RemoveDir(ctx, op.Path); err != nil {
			return fmt.Errorf("failed to delete directory %s: %w", op.Path, err)
		}
		return nil

	default:
		return fmt.Errorf("unknown op kind: %s", op.Kind)
	}
}

// copy transfers one file and, for pushes with SetTimes, stamps the source
// modification time on the destination afterwards.
func (e *Engine) copy(ctx context.Context, op Op) error {
	viaTransfer := e.opts.Direction.transferKeepsTime()
	preserve := e.opts.SetTimes && viaTransfer

	out, err := e.transfer.Transfer(ctx, op.Source.Path, op.Path, preserve)
	if err != nil {
		return fmt.Errorf("failed to copy %s to %s: %w", op.Source.Path, op.Path, err)
	}

	if e.opts.SetTimes && !viaTransfer {
		if err := e.dst.SetModTime(ctx, op.Path, op.Source.ModTime); err != nil {
			return fmt.Errorf("failed to set modification time of %s: %w", op.Path, err)
		}
	}

	e.logger.Info("copied file",
		"reason", op.Reason,
		"path", op.Path,
		"size", humanize.Bytes(op.Source.Size),
		"output", out)
	return nil
}

// logPlanDetails logs detailed plan information for dry-run
func (e *Engine) logPlanDetails(plan *Plan) {
	for _, op := range plan.Ops {
		switch op.Kind {
		case OpIgnore:
			e.logger.Info("[dry-run] would skip", "path", op.Path, "reason", op.Reason)
		case OpMkdir:
			e.logger.Info("[dry-run] would create directory", "path", op.Path, "reason", op.Reason)
		case OpCopy:
			e.logger.Info("[dry-run] would copy", "source", op.Source.Path, "dest", op.Path,
				"reason", op.Reason, "size", humanize.Bytes(op.Source.Size))
		case OpRemoveFile:
			e.logger.Info("[dry-run] would delete file", "path", op.Path, "reason", op.Reason)
		case OpRemoveDir:
			e.logger.Info("[dry-run] would delete directory", "path", op.Path, "reason", op.Reason)
		}
	}
}
