//go:build !windows

package toolchain

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/go-logr/logr"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeScript answers the commands the handler issues the way arduino-cli would.
const fakeScript = `
case "$1 $2" in
"board listall") echo '{"boards":[{"name":"Arduino Uno","fqbn":"arduino:avr:uno"}]}' ;;
"board list") echo '{"detected_ports":[{"port":{"address":"COM7"}}]}' ;;
"core list") echo '{"platforms":[{"id":"arduino:avr"}]}' ;;
"core search") echo '{}' ;;
"lib list") echo 'this is not json' ;;
"lib search") echo '{"libraries":[{"name":"'"$3"'"}]}' ;;
"lib install") echo "Installed $3" ;;
"core install") echo "Platform $3 not found" >&2; exit 1 ;;
"compile --fqbn")
	sketch="$4/$(basename "$4").ino"
	test -f "$sketch" || { echo "missing $sketch" >&2; exit 1; }
	cat "$sketch"
	;;
"upload --fqbn") echo "uploading to $5" ;;
"env home") echo "$HOME" ;;
"env path") echo "$PATH" ;;
"bad utf8") printf '\377ok' ;;
"sleep now") exec sleep 5 ;;
*) echo "unknown command: $*" >&2; exit 2 ;;
esac
`

func writeExecutable(t *testing.T, dir, script string) string {
	t.Helper()
	require.NoError(t, os.MkdirAll(dir, 0o755))
	path := filepath.Join(dir, executableName())
	require.NoError(t, os.WriteFile(path, []byte("#!/bin/sh\n"+script), 0o755))
	return path
}

func newFakeCLI(t *testing.T) (*CLI, string) {
	t.Helper()
	root := t.TempDir()
	exe := writeExecutable(t, filepath.Join(root, "bin"), fakeScript)
	tempDir := t.TempDir()
	return New(Options{Root: root, CLIPath: exe, TempDir: tempDir}, logr.Discard()), tempDir
}

func TestLocatePrefersFirstCandidate(t *testing.T) {
	base := t.TempDir()
	root := filepath.Join(base, "app", "backend")
	require.NoError(t, os.MkdirAll(root, 0o755))
	writeExecutable(t, filepath.Join(root, "bin"), "exit 0")
	preferred := writeExecutable(t, filepath.Join(base, "app", "bin"), "exit 0")

	cli := New(Options{Root: root}, logr.Discard())
	exe, err := cli.Locate()
	require.NoError(t, err)
	assert.Equal(t, preferred, exe)
}

func TestLocateNotFound(t *testing.T) {
	root := filepath.Join(t.TempDir(), "a", "b", "c")
	cli := New(Options{Root: root}, logr.Discard())
	_, err := cli.Locate()
	require.Error(t, err)

	var nf *NotFoundError
	require.ErrorAs(t, err, &nf)
	assert.Equal(t, filepath.Join(root, "..", "bin", "arduino-cli"), nf.Path)
	assert.Equal(t, "Arduino CLI executable not found at "+nf.Path, err.Error())

	res := cli.Run(context.Background(), "version")
	assert.False(t, res.Success)
	assert.Equal(t, -1, res.ExitCode)
	assert.Equal(t, err.Error(), res.Stderr)
}

func TestLocateExplicitPathMissing(t *testing.T) {
	cli := New(Options{CLIPath: "/does/not/exist/arduino-cli"}, logr.Discard())
	_, err := cli.Locate()
	var nf *NotFoundError
	require.ErrorAs(t, err, &nf)
	assert.Equal(t, "/does/not/exist/arduino-cli", nf.Path)
}

func TestRunSuccessAndFailure(t *testing.T) {
	cli, _ := newFakeCLI(t)
	ctx := context.Background()

	res := cli.Run(ctx, "lib", "install", "Servo")
	assert.True(t, res.Success)
	assert.Equal(t, 0, res.ExitCode)
	assert.Equal(t, "Installed Servo\n", res.Stdout)
	assert.Equal(t, res.Stdout, res.Message())

	res = cli.Run(ctx, "core", "install", "nope:nope")
	assert.False(t, res.Success)
	assert.Equal(t, 1, res.ExitCode)
	assert.Equal(t, "Platform nope:nope not found\n", res.Stderr)
	assert.Equal(t, res.Stderr, res.Message())
}

func TestRunEnvironment(t *testing.T) {
	cli, _ := newFakeCLI(t)
	ctx := context.Background()

	res := cli.Run(ctx, "env", "home")
	require.True(t, res.Success)
	assert.Equal(t, cli.root, strings.TrimSpace(res.Stdout))

	res = cli.Run(ctx, "env", "path")
	require.True(t, res.Success)
	binDir := filepath.Dir(cli.explicit)
	assert.True(t, strings.HasPrefix(strings.TrimSpace(res.Stdout), binDir+string(os.PathListSeparator)))
}

func TestRunDecodesLeniently(t *testing.T) {
	cli, _ := newFakeCLI(t)
	res := cli.Run(context.Background(), "bad", "utf8")
	require.True(t, res.Success)
	assert.Equal(t, "\uFFFDok", res.Stdout)
}

func TestRunTimeout(t *testing.T) {
	cli, _ := newFakeCLI(t)
	cli.timeout = 100 * time.Millisecond

	start := time.Now()
	res := cli.Run(context.Background(), "sleep", "now")
	assert.Less(t, time.Since(start), 4*time.Second)
	assert.False(t, res.Success)
	assert.Equal(t, -1, res.ExitCode)
	assert.Contains(t, res.Stderr, "did not finish")
}

func TestRunJSON(t *testing.T) {
	cli, _ := newFakeCLI(t)
	ctx := context.Background()

	var doc map[string]any
	res, err := cli.RunJSON(ctx, &doc, "core", "list")
	require.NoError(t, err)
	assert.True(t, res.Success)
	assert.Contains(t, doc, "platforms")

	res, err = cli.RunJSON(ctx, &doc, "lib", "list")
	assert.True(t, res.Success)
	require.ErrorIs(t, err, ErrMalformedOutput)

	res, err = cli.RunJSON(ctx, &doc, "no", "such")
	require.NoError(t, err)
	assert.False(t, res.Success)
	assert.Equal(t, 2, res.ExitCode)
}

func TestCompileWritesAndRemovesSketch(t *testing.T) {
	cli, tempDir := newFakeCLI(t)
	code := "void setup() {}\nvoid loop() {}\n"

	res := cli.Compile(context.Background(), code, "arduino:avr:uno")
	require.True(t, res.Success, res.Stderr)
	assert.Equal(t, code, res.Stdout)

	entries, err := os.ReadDir(tempDir)
	require.NoError(t, err)
	assert.Empty(t, entries, "sketch directory should be removed")
}

func TestUploadPassesPort(t *testing.T) {
	cli, _ := newFakeCLI(t)
	res := cli.Upload(context.Background(), "", "arduino:avr:uno", "/dev/ttyACM0")
	require.True(t, res.Success, res.Stderr)
	assert.Equal(t, "uploading to /dev/ttyACM0\n", res.Stdout)
}

func TestMonitorCommand(t *testing.T) {
	cli, _ := newFakeCLI(t)
	cmd, err := cli.MonitorCommand("COM7", 115200)
	require.NoError(t, err)
	assert.Equal(t, []string{cli.explicit, "monitor", "--port", "COM7", "--config", "baudrate=115200"}, cmd.Args)
	assert.Contains(t, cmd.Env, "HOME="+cli.root)

	missing := New(Options{CLIPath: "/nope/arduino-cli"}, logr.Discard())
	_, err = missing.MonitorCommand("COM7", 9600)
	var nf *NotFoundError
	assert.ErrorAs(t, err, &nf)
}
