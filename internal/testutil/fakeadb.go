package testutil

import (
	"os"
	"path/filepath"
	"runtime"
	"testing"
)

// fakeADBScript stands in for adb against the host filesystem. The device
// shell is the host shell, pull and push are plain copies. Set
// FAKE_ADB_DEVICES to replace the device list and FAKE_ADB_LOG to record
// every invocation.
const fakeADBScript = `#!/bin/sh
if [ -n "$FAKE_ADB_LOG" ]; then
	echo "$*" >> "$FAKE_ADB_LOG"
fi
if [ "$1" = "-s" ]; then
	shift 2
fi
cmd="$1"
shift
case "$cmd" in
devices)
	echo "List of devices attached"
	if [ -n "$FAKE_ADB_DEVICES" ]; then
		printf '%b\n' "$FAKE_ADB_DEVICES"
	else
		printf 'emulator-5554\tdevice\n'
	fi
	;;
shell)
	exec sh -c "$*"
	;;
pull)
	if [ "$1" = "-a" ]; then
		shift
		cp -p "$1" "$2" || exit 1
	else
		cp "$1" "$2" || exit 1
	fi
	echo "$1: 1 file pulled"
	;;
push)
	cp "$1" "$2" || exit 1
	echo "$1: 1 file pushed"
	;;
*)
	echo "adb: unknown command $cmd" >&2
	exit 1
	;;
esac
`

// WriteFakeADB writes an executable fake adb into a temp dir and returns its
// path. Tests using it are skipped on Windows.
func WriteFakeADB(t testing.TB) string {
	t.Helper()
	if runtime.GOOS == "windows" {
		t.Skip("fake adb needs a POSIX shell")
	}

	path := filepath.Join(t.TempDir(), "adb")
	if err := os.WriteFile(path, []byte(fakeADBScript), 0755); err != nil {
		t.Fatalf("failed to write fake adb: %v", err)
	}
	return path
}
