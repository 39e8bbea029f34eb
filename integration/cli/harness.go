//go:build integration

package cli

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/schaermu/adbsync/internal/testutil"
)

const defaultTimeout = 2 * time.Minute

// Harness builds the adbsync binary once and runs it against a fake adb
// whose device filesystem is a temp dir on the host.
type Harness struct {
	t       *testing.T
	binary  string
	adb     string
	adbLog  string
	Device  string // root of the fake device filesystem
	Local   string // root of the local side
	workDir string
}

// NewHarness builds the binary and prepares empty device and local roots
func NewHarness(ctx context.Context, t *testing.T) *Harness {
	t.Helper()
	work := t.TempDir()
	h := &Harness{
		t:       t,
		binary:  filepath.Join(work, "adbsync"),
		adb:     testutil.WriteFakeADB(t),
		adbLog:  filepath.Join(work, "adb.log"),
		Device:  filepath.Join(work, "device"),
		Local:   filepath.Join(work, "local"),
		workDir: work,
	}
	for _, dir := range []string{h.Device, h.Local} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			t.Fatalf("mkdir %s: %v", dir, err)
		}
	}
	if err := os.WriteFile(h.configPath(), []byte("log:\n  level: debug\n"), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	if err := h.build(ctx); err != nil {
		t.Fatalf("build binary: %v", err)
	}
	return h
}

func (h *Harness) configPath() string {
	return filepath.Join(h.workDir, "config.yaml")
}

func (h *Harness) build(ctx context.Context) error {
	h.t.Helper()
	projectRoot, err := testutil.FindProjectRoot()
	if err != nil {
		return fmt.Errorf("get project root: %w", err)
	}

	cmd := exec.CommandContext(ctx, "go", "build", "-o", h.binary, "./cmd/adbsync")
	cmd.Dir = projectRoot
	cmd.Stdout = &testWriter{t: h.t, prefix: "[build] "}
	cmd.Stderr = &testWriter{t: h.t, prefix: "[build] "}

	if err := cmd.Run(); err != nil {
		return fmt.Errorf("go build: %w", err)
	}
	return nil
}

// Run executes adbsync with args and returns its output and exit code
func (h *Harness) Run(ctx context.Context, args ...string) (string, int) {
	h.t.Helper()
	full := append([]string{"--adb", h.adb, "--config", h.configPath(), "--log-format", "json"}, args...)
	cmd := exec.CommandContext(ctx, h.binary, full...)
	cmd.Env = append(os.Environ(), "FAKE_ADB_LOG="+h.adbLog, "HOME="+h.workDir)

	var out bytes.Buffer
	cmd.Stdout = &out
	cmd.Stderr = &out

	err := cmd.Run()
	exitCode := 0
	if err != nil {
		if exitErr, ok := err.(*exec.ExitError); ok {
			exitCode = exitErr.ExitCode()
		} else {
			h.t.Fatalf("run adbsync: %v", err)
		}
	}
	return out.String(), exitCode
}

// MustRun runs adbsync and fails the test on a non-zero exit
func (h *Harness) MustRun(ctx context.Context, args ...string) string {
	h.t.Helper()
	out, code := h.Run(ctx, args...)
	if code != 0 {
		h.t.Fatalf("adbsync %v exited %d\n%s", args, code, out)
	}
	return out
}

// WriteFile creates a file below root with the given content and mtime
func (h *Harness) WriteFile(root, rel, content string, mtime time.Time) {
	h.t.Helper()
	p := filepath.Join(root, filepath.FromSlash(rel))
	if err := os.MkdirAll(filepath.Dir(p), 0o755); err != nil {
		h.t.Fatal(err)
	}
	if err := os.WriteFile(p, []byte(content), 0o644); err != nil {
		h.t.Fatal(err)
	}
	if err := os.Chtimes(p, mtime, mtime); err != nil {
		h.t.Fatal(err)
	}
}

// ReadFile reads a file below root
func (h *Harness) ReadFile(root, rel string) (string, error) {
	data, err := os.ReadFile(filepath.Join(root, filepath.FromSlash(rel)))
	return string(data), err
}

// Exists reports whether rel exists below root
func (h *Harness) Exists(root, rel string) bool {
	_, err := os.Stat(filepath.Join(root, filepath.FromSlash(rel)))
	return err == nil
}

// ReadADBLog returns every recorded fake adb invocation
func (h *Harness) ReadADBLog() []ADBLogEntry {
	h.t.Helper()
	content, err := os.ReadFile(h.adbLog)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		h.t.Fatal(err)
	}

	var entries []ADBLogEntry
	scanner := bufio.NewScanner(bytes.NewReader(content))
	for scanner.Scan() {
		line := scanner.Text()
		if line == "" {
			continue
		}
		entries = append(entries, ADBLogEntry{Args: strings.Fields(line)})
	}
	return entries
}

// ClearADBLog truncates the fake adb invocation log
func (h *Harness) ClearADBLog() {
	h.t.Helper()
	if err := os.WriteFile(h.adbLog, nil, 0o644); err != nil {
		h.t.Fatal(err)
	}
}

// ADBLogEntry is one recorded adb invocation
type ADBLogEntry struct {
	Args []string
}

// String returns a human-readable representation
func (e ADBLogEntry) String() string {
	return "adb " + strings.Join(e.Args, " ")
}

// HasArgs checks if the entry starts with the given arguments
func (e ADBLogEntry) HasArgs(args ...string) bool {
	if len(e.Args) < len(args) {
		return false
	}
	for i, arg := range args {
		if e.Args[i] != arg {
			return false
		}
	}
	return true
}

// ContainsArg checks if the entry contains a specific argument anywhere
func (e ADBLogEntry) ContainsArg(arg string) bool {
	for _, a := range e.Args {
		if a == arg {
			return true
		}
	}
	return false
}

// testWriter wraps test logging for command output
type testWriter struct {
	t      *testing.T
	prefix string
}

func (w *testWriter) Write(p []byte) (n int, err error) {
	lines := strings.Split(string(p), "\n")
	for _, line := range lines {
		if line != "" {
			w.t.Log(w.prefix + line)
		}
	}
	return len(p), nil
}

var _ io.Writer = (*testWriter)(nil)
