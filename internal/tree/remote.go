package tree

import (
	"context"
	"fmt"
	"path"
	"strconv"
	"strings"
	"time"

	"github.com/schaermu/adbsync/internal/adb"
)

// RemoteTree implements the sync tree operations on a device through the
// device shell. All paths are slash-separated device paths.
type RemoteTree struct {
	client adb.Client
}

// NewRemoteTree creates a tree that runs its commands through client.
func NewRemoteTree(client adb.Client) *RemoteTree {
	return &RemoteTree{client: client}
}

// List runs find on the device. A symlinked root is followed, links below it
// are not. A missing root yields an empty listing.
func (t *RemoteTree) List(ctx context.Context, root string) (Listing, error) {
	q := adb.ShellQuote(path.Clean(root))
	guard := fmt.Sprintf("[ -d %s ] || exit 0; ", q)

	filesOut, err := t.client.Shell(ctx, guard+fmt.Sprintf("find -H %s -type f -exec stat -c '%%s %%Y %%n' {} +", q))
	if err != nil {
		return Listing{}, fmt.Errorf("failed to list files under %s: %w", root, err)
	}
	files, err := parseStatLines(filesOut)
	if err != nil {
		return Listing{}, fmt.Errorf("failed to parse listing of %s: %w", root, err)
	}

	dirsOut, err := t.client.Shell(ctx, guard+fmt.Sprintf("find -H %s -mindepth 1 -type d", q))
	if err != nil {
		return Listing{}, fmt.Errorf("failed to list directories under %s: %w", root, err)
	}

	return Listing{Files: files, EmptyDirs: fileFreeDirs(root, splitLines(dirsOut), files)}, nil
}

// Mkdir creates p and any missing parents.
func (t *RemoteTree) Mkdir(ctx context.Context, p string) error {
	_, err := t.client.Shell(ctx, "mkdir -p "+adb.ShellQuote(p))
	return err
}

// RemoveFile removes a single file.
func (t *RemoteTree) RemoveFile(ctx context.Context, p string) error {
	_, err := t.client.Shell(ctx, "rm -f "+adb.ShellQuote(p))
	return err
}

// RemoveDir removes p and everything below it.
func (t *RemoteTree) RemoveDir(ctx context.Context, p string) error {
	_, err := t.client.Shell(ctx, "rm -r "+adb.ShellQuote(p))
	return err
}

// SetModTime sets the modification time of p, at one second resolution.
func (t *RemoteTree) SetModTime(ctx context.Context, p string, mtime time.Time) error {
	_, err := t.client.Shell(ctx, fmt.Sprintf("touch -c -m -d @%d %s", mtime.Unix(), adb.ShellQuote(p)))
	return err
}

// parseStatLines parses `stat -c '%s %Y %n'` output: size, unix mtime and
// the path, which may itself contain spaces.
func parseStatLines(out string) ([]Entry, error) {
	var entries []Entry
	for _, line := range splitLines(out) {
		fields := strings.SplitN(line, " ", 3)
		if len(fields) != 3 {
			return nil, fmt.Errorf("malformed stat line %q", line)
		}
		size, err := strconv.ParseUint(fields[0], 10, 64)
		if err != nil {
			return nil, fmt.Errorf("invalid size in %q: %w", line, err)
		}
		secs, err := strconv.ParseInt(fields[1], 10, 64)
		if err != nil {
			return nil, fmt.Errorf("invalid mtime in %q: %w", line, err)
		}
		entries = append(entries, NewEntry(fields[2], size, time.Unix(secs, 0)))
	}
	return entries, nil
}

func splitLines(out string) []string {
	var lines []string
	for _, line := range strings.Split(out, "\n") {
		line = strings.TrimRight(line, "\r")
		if line == "" {
			continue
		}
		lines = append(lines, line)
	}
	return lines
}
