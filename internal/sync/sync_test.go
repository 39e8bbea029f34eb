package sync

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"path"
	"testing"
	"time"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/schaermu/adbsync/internal/tree"
)

const (
	testSource = "/src/Music"
	testDest   = "/dst"
	testRoot   = "/dst/Music"
)

// recordingTree wraps a LocalTree and records or fails selected calls.
type recordingTree struct {
	*tree.LocalTree
	mkdirs       []string
	modTimes     map[string]time.Time
	listErr      error
	removeDirErr error
}

func newRecordingTree(fs afero.Fs) *recordingTree {
	return &recordingTree{LocalTree: tree.NewLocalTree(fs), modTimes: map[string]time.Time{}}
}

func (r *recordingTree) List(ctx context.Context, root string) (tree.Listing, error) {
	if r.listErr != nil {
		return tree.Listing{}, r.listErr
	}
	return r.LocalTree.List(ctx, root)
}

func (r *recordingTree) Mkdir(ctx context.Context, p string) error {
	r.mkdirs = append(r.mkdirs, p)
	return r.LocalTree.Mkdir(ctx, p)
}

func (r *recordingTree) RemoveDir(ctx context.Context, p string) error {
	if r.removeDirErr != nil {
		return r.removeDirErr
	}
	return r.LocalTree.RemoveDir(ctx, p)
}

func (r *recordingTree) SetModTime(ctx context.Context, p string, mtime time.Time) error {
	r.modTimes[p] = mtime
	return r.LocalTree.SetModTime(ctx, p, mtime)
}

// recordingTransfer wraps a Transferer and records the preserve flag per
// destination.
type recordingTransfer struct {
	next      Transferer
	preserved map[string]bool
	err       error
}

func (r *recordingTransfer) Transfer(ctx context.Context, src, dst string, preserveTime bool) (string, error) {
	if r.err != nil {
		return "", r.err
	}
	r.preserved[dst] = preserveTime
	return r.next.Transfer(ctx, src, dst, preserveTime)
}

type fixture struct {
	srcFs    afero.Fs
	dstFs    afero.Fs
	src      *recordingTree
	dst      *recordingTree
	transfer *recordingTransfer
}

func newFixture() *fixture {
	srcFs := afero.NewMemMapFs()
	dstFs := afero.NewMemMapFs()
	return &fixture{
		srcFs: srcFs,
		dstFs: dstFs,
		src:   newRecordingTree(srcFs),
		dst:   newRecordingTree(dstFs),
		transfer: &recordingTransfer{
			next:      tree.CopyTransfer{Src: srcFs, Dst: dstFs},
			preserved: map[string]bool{},
		},
	}
}

func (f *fixture) engine(opts Options) *Engine {
	if opts.Direction == "" {
		opts.Direction = DirectionMirror
	}
	return NewEngine(f.src, f.dst, f.transfer, opts, testLogger())
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
}

func writeFile(t *testing.T, fs afero.Fs, p, content string, unix int64) {
	t.Helper()
	require.NoError(t, fs.MkdirAll(path.Dir(p), 0755))
	require.NoError(t, afero.WriteFile(fs, p, []byte(content), 0644))
	mtime := time.Unix(unix, 0)
	require.NoError(t, fs.Chtimes(p, mtime, mtime))
}

func readFile(t *testing.T, fs afero.Fs, p string) string {
	t.Helper()
	data, err := afero.ReadFile(fs, p)
	require.NoError(t, err)
	return string(data)
}

func modTime(t *testing.T, fs afero.Fs, p string) time.Time {
	t.Helper()
	info, err := fs.Stat(p)
	require.NoError(t, err)
	return info.ModTime()
}

func TestRun_CopiesAndConverges(t *testing.T) {
	f := newFixture()
	writeFile(t, f.srcFs, testSource+"/a.txt", "alpha", 100)
	writeFile(t, f.srcFs, testSource+"/album/b.txt", "bravo!", 200)
	require.NoError(t, f.srcFs.MkdirAll(testSource+"/empty", 0755))

	opts := Options{SetTimes: true, DeleteOrphans: true}
	report, err := f.engine(opts).Run(context.Background(), testSource, testDest)
	require.NoError(t, err)

	assert.Equal(t, 2, report.Copied)
	assert.Equal(t, uint64(11), report.BytesCopied)
	assert.Equal(t, "alpha", readFile(t, f.dstFs, testRoot+"/a.txt"))
	assert.Equal(t, "bravo!", readFile(t, f.dstFs, testRoot+"/album/b.txt"))
	assert.True(t, modTime(t, f.dstFs, testRoot+"/album/b.txt").Equal(time.Unix(200, 0)))

	isDir, err := afero.IsDir(f.dstFs, testRoot+"/empty")
	require.NoError(t, err)
	assert.True(t, isDir)

	report, err = f.engine(opts).Run(context.Background(), testSource, testDest)
	require.NoError(t, err)
	assert.Equal(t, 0, report.Changed())
	assert.Equal(t, 0, report.DirsCreated)
	assert.Equal(t, 2, report.InSync)
}

func TestRun_ConvergesWithoutSetTimes(t *testing.T) {
	f := newFixture()
	writeFile(t, f.srcFs, testSource+"/a.txt", "alpha", 100)

	report, err := f.engine(Options{}).Run(context.Background(), testSource, testDest)
	require.NoError(t, err)
	assert.Equal(t, 1, report.Copied)
	assert.False(t, f.transfer.preserved[testRoot+"/a.txt"])

	// the copy is stamped with the time it was made, which is never older
	// than the source
	report, err = f.engine(Options{}).Run(context.Background(), testSource, testDest)
	require.NoError(t, err)
	assert.Equal(t, 0, report.Changed())
}

func TestRun_UpdatesChangedFiles(t *testing.T) {
	f := newFixture()
	writeFile(t, f.srcFs, testSource+"/newer.txt", "0123456789", 100)
	writeFile(t, f.dstFs, testRoot+"/newer.txt", "abcdefghij", 90)
	writeFile(t, f.srcFs, testSource+"/resized.txt", "short", 50)
	writeFile(t, f.dstFs, testRoot+"/resized.txt", "much longer", 500)
	writeFile(t, f.srcFs, testSource+"/older.txt", "same size", 90)
	writeFile(t, f.dstFs, testRoot+"/older.txt", "SAME SIZE", 100)

	report, err := f.engine(Options{SetTimes: true}).Run(context.Background(), testSource, testDest)
	require.NoError(t, err)

	assert.Equal(t, 2, report.Copied)
	assert.Equal(t, 1, report.InSync)
	assert.Equal(t, "0123456789", readFile(t, f.dstFs, testRoot+"/newer.txt"))
	assert.Equal(t, "short", readFile(t, f.dstFs, testRoot+"/resized.txt"))
	assert.Equal(t, "SAME SIZE", readFile(t, f.dstFs, testRoot+"/older.txt"))
}

func TestRun_DeletesOrphans(t *testing.T) {
	f := newFixture()
	writeFile(t, f.srcFs, testSource+"/keep/a", "a", 1)
	writeFile(t, f.dstFs, testRoot+"/keep/a", "a", 1)
	writeFile(t, f.dstFs, testRoot+"/keep/orphan", "o", 1)
	writeFile(t, f.dstFs, testRoot+"/stale/x", "x", 1)
	writeFile(t, f.dstFs, testRoot+"/stale/deeper/y", "y", 1)
	writeFile(t, f.dstFs, testRoot+"/loose", "l", 1)
	require.NoError(t, f.dstFs.MkdirAll(testRoot+"/hollow", 0755))

	report, err := f.engine(Options{DeleteOrphans: true}).Run(context.Background(), testSource, testDest)
	require.NoError(t, err)

	for _, p := range []string{"/keep/orphan", "/stale", "/loose", "/hollow"} {
		exists, err := afero.Exists(f.dstFs, testRoot+p)
		require.NoError(t, err)
		assert.False(t, exists, "%s should be gone", p)
	}
	exists, err := afero.Exists(f.dstFs, testRoot+"/keep/a")
	require.NoError(t, err)
	assert.True(t, exists)

	assert.Equal(t, 2, report.FilesRemoved)
	assert.Equal(t, 2, report.DirsRemoved)
	assert.Equal(t, 0, report.Failed)
}

func TestRun_KeepsOrphansWithoutDelete(t *testing.T) {
	f := newFixture()
	writeFile(t, f.srcFs, testSource+"/a", "a", 1)
	writeFile(t, f.dstFs, testRoot+"/orphan", "o", 1)
	writeFile(t, f.dstFs, testRoot+"/stale/x", "x", 1)

	report, err := f.engine(Options{}).Run(context.Background(), testSource, testDest)
	require.NoError(t, err)

	assert.Equal(t, 0, report.FilesRemoved)
	assert.Equal(t, 0, report.DirsRemoved)
	exists, err := afero.Exists(f.dstFs, testRoot+"/stale/x")
	require.NoError(t, err)
	assert.True(t, exists)
}

func TestRun_IgnoredDirectoriesUntouched(t *testing.T) {
	f := newFixture()
	writeFile(t, f.srcFs, testSource+"/cache/new", "n", 500)
	writeFile(t, f.dstFs, testRoot+"/cache/orphan", "o", 1)
	writeFile(t, f.dstFs, testRoot+"/cache-old/x", "x", 1)

	opts := Options{DeleteOrphans: true, IgnoreDirs: []string{"cache"}}
	report, err := f.engine(opts).Run(context.Background(), testSource, testDest)
	require.NoError(t, err)

	assert.Equal(t, 0, report.Copied)
	assert.Equal(t, 2, report.Ignored)
	for _, p := range []string{"/cache/orphan", "/cache-old/x"} {
		exists, err := afero.Exists(f.dstFs, testRoot+p)
		require.NoError(t, err)
		assert.True(t, exists, "%s should survive", p)
	}
	exists, err := afero.Exists(f.dstFs, testRoot+"/cache/new")
	require.NoError(t, err)
	assert.False(t, exists)
}

func TestRun_DirectionTimePolicy(t *testing.T) {
	tests := []struct {
		name         string
		direction    Direction
		setTimes     bool
		wantPreserve bool
		wantStamped  bool
	}{
		{name: "pull keeps time through transfer", direction: DirectionPull, setTimes: true, wantPreserve: true},
		{name: "mirror keeps time through transfer", direction: DirectionMirror, setTimes: true, wantPreserve: true},
		{name: "push stamps time afterwards", direction: DirectionPush, setTimes: true, wantStamped: true},
		{name: "push without set times", direction: DirectionPush},
		{name: "pull without set times", direction: DirectionPull},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture()
			writeFile(t, f.srcFs, testSource+"/song.mp3", "la", 1234)

			opts := Options{Direction: tt.direction, SetTimes: tt.setTimes}
			_, err := f.engine(opts).Run(context.Background(), testSource, testDest)
			require.NoError(t, err)

			dst := testRoot + "/song.mp3"
			assert.Equal(t, tt.wantPreserve, f.transfer.preserved[dst])

			stamped, ok := f.dst.modTimes[dst]
			assert.Equal(t, tt.wantStamped, ok)
			if tt.wantStamped {
				assert.True(t, stamped.Equal(time.Unix(1234, 0)))
			}
			if tt.setTimes {
				assert.True(t, modTime(t, f.dstFs, dst).Equal(time.Unix(1234, 0)))
			}
		})
	}
}

func TestRun_DryRun(t *testing.T) {
	f := newFixture()
	writeFile(t, f.srcFs, testSource+"/a", "a", 1)
	writeFile(t, f.srcFs, testSource+"/sub/b", "b", 1)

	report, err := f.engine(Options{DryRun: true, DeleteOrphans: true}).Run(context.Background(), testSource, testDest)
	require.NoError(t, err)

	assert.Equal(t, 2, report.Copied)
	assert.Equal(t, 2, report.DirsCreated)
	assert.Empty(t, f.dst.mkdirs)
	assert.Empty(t, f.transfer.preserved)

	exists, err := afero.Exists(f.dstFs, testRoot)
	require.NoError(t, err)
	assert.False(t, exists)
}

func TestRun_EmptyDirectoryCreatedOnce(t *testing.T) {
	f := newFixture()
	require.NoError(t, f.srcFs.MkdirAll(testSource+"/e", 0755))

	report, err := f.engine(Options{}).Run(context.Background(), testSource, testDest)
	require.NoError(t, err)

	assert.Equal(t, []string{testRoot, testRoot + "/e"}, f.dst.mkdirs)
	assert.Equal(t, 1, report.DirsCreated)
}

func TestRun_IgnoredBelowStaleDirectory(t *testing.T) {
	f := newFixture()
	writeFile(t, f.srcFs, testSource+"/a", "a", 1)
	writeFile(t, f.dstFs, testRoot+"/x/f", "f", 1)
	writeFile(t, f.dstFs, testRoot+"/x/keep/g", "g", 1)

	opts := Options{DeleteOrphans: true, IgnoreDirs: []string{"x/keep"}}
	report, err := f.engine(opts).Run(context.Background(), testSource, testDest)
	require.NoError(t, err)

	assert.Equal(t, "g", readFile(t, f.dstFs, testRoot+"/x/keep/g"))
	exists, err := afero.Exists(f.dstFs, testRoot+"/x/f")
	require.NoError(t, err)
	assert.False(t, exists)
	assert.Equal(t, 1, report.FilesRemoved)
	assert.Equal(t, 0, report.DirsRemoved)
	assert.Equal(t, 1, report.Ignored)
}

func TestRun_NestedEmptyDirectoriesConverge(t *testing.T) {
	f := newFixture()
	writeFile(t, f.srcFs, testSource+"/a", "a", 1)
	writeFile(t, f.dstFs, testRoot+"/a", "a", 1)
	require.NoError(t, f.srcFs.MkdirAll(testSource+"/c/d/e", 0755))
	require.NoError(t, f.dstFs.MkdirAll(testRoot+"/e/f/g", 0755))
	eng := f.engine(Options{DeleteOrphans: true})

	report, err := eng.Run(context.Background(), testSource, testDest)
	require.NoError(t, err)
	assert.Equal(t, 1, report.DirsCreated)
	assert.Equal(t, 1, report.DirsRemoved)
	assert.Equal(t, 0, report.Failed)

	exists, err := afero.Exists(f.dstFs, testRoot+"/e")
	require.NoError(t, err)
	assert.False(t, exists)
	exists, err = afero.DirExists(f.dstFs, testRoot+"/c/d/e")
	require.NoError(t, err)
	assert.True(t, exists)

	report, err = eng.Run(context.Background(), testSource, testDest)
	require.NoError(t, err)
	assert.Equal(t, 0, report.DirsCreated)
	assert.Equal(t, 0, report.DirsRemoved)
	assert.Equal(t, 0, report.Copied)
	assert.Equal(t, 1, report.InSync)
}

func TestRun_BestEffortFailureCounted(t *testing.T) {
	f := newFixture()
	writeFile(t, f.srcFs, testSource+"/a", "a", 1)
	writeFile(t, f.dstFs, testRoot+"/stale/x", "x", 1)
	f.dst.removeDirErr = errors.New("permission denied")

	report, err := f.engine(Options{DeleteOrphans: true}).Run(context.Background(), testSource, testDest)
	require.NoError(t, err)

	assert.Equal(t, 1, report.Failed)
	assert.Equal(t, 0, report.DirsRemoved)
	assert.Equal(t, 1, report.Copied)
}

func TestRun_TransferErrorStops(t *testing.T) {
	f := newFixture()
	writeFile(t, f.srcFs, testSource+"/a", "a", 1)
	writeFile(t, f.srcFs, testSource+"/b", "b", 1)
	errBoom := errors.New("device offline")
	f.transfer.err = errBoom

	report, err := f.engine(Options{}).Run(context.Background(), testSource, testDest)
	require.ErrorIs(t, err, errBoom)
	assert.Contains(t, err.Error(), "failed to copy")
	require.NotNil(t, report)
	assert.Equal(t, 0, report.Copied)
}

func TestRun_ListErrors(t *testing.T) {
	errList := errors.New("find failed")

	t.Run("source", func(t *testing.T) {
		f := newFixture()
		f.src.listErr = errList
		_, err := f.engine(Options{}).Run(context.Background(), testSource, testDest)
		require.ErrorIs(t, err, errList)
		assert.Contains(t, err.Error(), "failed to list source")
	})

	t.Run("destination", func(t *testing.T) {
		f := newFixture()
		f.dst.listErr = errList
		_, err := f.engine(Options{}).Run(context.Background(), testSource, testDest)
		require.ErrorIs(t, err, errList)
		assert.Contains(t, err.Error(), "failed to list destination")
	})
}

func TestRun_SourceWithoutName(t *testing.T) {
	f := newFixture()
	_, err := f.engine(Options{}).Run(context.Background(), "/", testDest)
	require.ErrorIs(t, err, ErrNoSourceName)
	assert.Empty(t, f.dst.mkdirs)
}

func TestRun_MissingSourceRoot(t *testing.T) {
	f := newFixture()
	writeFile(t, f.dstFs, testRoot+"/x", "x", 1)

	report, err := f.engine(Options{DeleteOrphans: true}).Run(context.Background(), testSource, testDest)
	require.NoError(t, err)

	// root files go one by one, the root itself stays
	assert.Equal(t, 1, report.FilesRemoved)
	isDir, err := afero.IsDir(f.dstFs, testRoot)
	require.NoError(t, err)
	assert.True(t, isDir)
}
