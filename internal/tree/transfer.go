package tree

import (
	"context"
	"fmt"
	"io"
	"path/filepath"

	"github.com/dustin/go-humanize"
	"github.com/spf13/afero"

	"github.com/schaermu/adbsync/internal/adb"
)

// PullTransfer copies files from the device to the local filesystem.
type PullTransfer struct {
	Client adb.Client
}

// Transfer pulls src to dst. preserveTime is handled by adb itself.
func (t PullTransfer) Transfer(ctx context.Context, src, dst string, preserveTime bool) (string, error) {
	return t.Client.Pull(ctx, src, filepath.FromSlash(dst), preserveTime)
}

// PushTransfer copies local files to the device.
type PushTransfer struct {
	Client adb.Client
}

// Transfer pushes src to dst. preserveTime is ignored: adb push does not
// keep it, so the engine sets the time on the device afterwards.
func (t PushTransfer) Transfer(ctx context.Context, src, dst string, _ bool) (string, error) {
	return t.Client.Push(ctx, filepath.FromSlash(src), dst)
}

// CopyTransfer copies files between two afero filesystems. Each copy goes
// through a temp file in the destination directory and an atomic rename.
type CopyTransfer struct {
	Src afero.Fs
	Dst afero.Fs
}

// Transfer copies src to dst, keeping the source mode and, when
// preserveTime is set, the source modification time.
func (t CopyTransfer) Transfer(_ context.Context, src, dst string, preserveTime bool) (string, error) {
	src = filepath.FromSlash(src)
	dst = filepath.FromSlash(dst)

	if err := t.Dst.MkdirAll(filepath.Dir(dst), 0755); err != nil {
		return "", err
	}

	srcFile, err := t.Src.Open(src)
	if err != nil {
		return "", err
	}
	defer func() {
		_ = srcFile.Close()
	}()

	srcInfo, err := srcFile.Stat()
	if err != nil {
		return "", err
	}

	tmpFile, err := afero.TempFile(t.Dst, filepath.Dir(dst), ".adbsync-tmp-*")
	if err != nil {
		return "", err
	}
	tmpPath := tmpFile.Name()
	defer func() {
		_ = t.Dst.Remove(tmpPath)
	}() // cleanup on error

	n, err := io.Copy(tmpFile, srcFile)
	if err != nil {
		_ = tmpFile.Close()
		return "", err
	}
	if err := tmpFile.Close(); err != nil {
		return "", err
	}

	if err := t.Dst.Chmod(tmpPath, srcInfo.Mode().Perm()); err != nil {
		return "", err
	}
	if preserveTime {
		if err := t.Dst.Chtimes(tmpPath, srcInfo.ModTime(), srcInfo.ModTime()); err != nil {
			return "", err
		}
	}

	if err := t.Dst.Rename(tmpPath, dst); err != nil {
		return "", err
	}

	return fmt.Sprintf("%s: 1 file copied, %s", src, humanize.Bytes(uint64(n))), nil
}
