package toolchain

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"runtime"
	"strconv"
	"strings"
	"time"

	"github.com/go-logr/logr"
	"github.com/google/uuid"
	"github.com/pkg/errors"
)

// waitDelay bounds how long Run waits for output pipes after the context kills the process.
const waitDelay = time.Second

// ErrMalformedOutput is returned when arduino-cli succeeded but its JSON could not be parsed.
var ErrMalformedOutput = errors.New("malformed arduino-cli output")

// NotFoundError reports that no arduino-cli executable could be located.
type NotFoundError struct {
	Path string
}

func (e *NotFoundError) Error() string {
	return "Arduino CLI executable not found at " + e.Path
}

// Result is the outcome of one arduino-cli invocation. Output is always valid UTF-8.
type Result struct {
	Success  bool   `json:"success"`
	Stdout   string `json:"stdout"`
	Stderr   string `json:"stderr"`
	ExitCode int    `json:"returncode"`
}

// Message is what the HTTP layer reports for action-style commands.
func (r Result) Message() string {
	if r.Success {
		return r.Stdout
	}
	return r.Stderr
}

type Options struct {
	Root    string // base for bin dir candidates; also HOME for the child
	CLIPath string // explicit executable, skips the search
	TempDir string // parent of per-request sketch directories
	Timeout time.Duration
}

type CLI struct {
	root     string
	explicit string
	tempDir  string
	timeout  time.Duration
	log      logr.Logger
}

func New(opts Options, log logr.Logger) *CLI {
	tempDir := opts.TempDir
	if tempDir == "" {
		tempDir = os.TempDir()
	}
	return &CLI{
		root:     opts.Root,
		explicit: opts.CLIPath,
		tempDir:  tempDir,
		timeout:  opts.Timeout,
		log:      log.WithName("toolchain"),
	}
}

func executableName() string {
	if runtime.GOOS == "windows" {
		return "arduino-cli.exe"
	}
	return "arduino-cli"
}

func (c *CLI) binDirs() []string {
	return []string{
		filepath.Join(c.root, "..", "bin"),
		filepath.Join(c.root, "..", "..", "bin"),
		filepath.Join(c.root, "bin"),
		filepath.FromSlash("/app/bin"),
	}
}

// Locate returns the path of the first arduino-cli found in the candidate bin directories.
func (c *CLI) Locate() (string, error) {
	if c.explicit != "" {
		if isFile(c.explicit) {
			return c.explicit, nil
		}
		return "", &NotFoundError{Path: c.explicit}
	}

	dirs := c.binDirs()
	for _, dir := range dirs {
		candidate := filepath.Join(dir, executableName())
		if isFile(candidate) {
			c.log.V(1).Info("found arduino-cli", "path", candidate)
			return candidate, nil
		}
	}

	missing := filepath.Join(dirs[0], executableName())
	c.log.Info("arduino-cli not found in standard locations", "default", missing)
	return "", &NotFoundError{Path: missing}
}

func isFile(path string) bool {
	info, err := os.Stat(path)
	return err == nil && info.Mode().IsRegular()
}

// env returns the parent environment with the executable's directory prepended to PATH and HOME
// pointed at the root directory.
func (c *CLI) env(exe string) []string {
	binDir := filepath.Dir(exe)
	env := make([]string, 0, len(os.Environ())+2)
	path := ""
	for _, kv := range os.Environ() {
		key, value, _ := strings.Cut(kv, "=")
		switch {
		case strings.EqualFold(key, "PATH"):
			path = value
		case key == "HOME" && c.root != "":
		default:
			env = append(env, kv)
		}
	}
	if path != "" {
		path = binDir + string(os.PathListSeparator) + path
	} else {
		path = binDir
	}
	env = append(env, "PATH="+path)
	if c.root != "" {
		env = append(env, "HOME="+c.root)
	}
	return env
}

// Run executes arduino-cli synchronously. Failures, including a missing executable, are reported
// in the Result rather than as an error.
func (c *CLI) Run(ctx context.Context, args ...string) Result {
	exe, err := c.Locate()
	if err != nil {
		return Result{Stderr: err.Error(), ExitCode: -1}
	}

	if c.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.timeout)
		defer cancel()
	}

	cmd := exec.CommandContext(ctx, exe, args...)
	cmd.Env = c.env(exe)
	cmd.WaitDelay = waitDelay
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	c.log.Info("executing arduino-cli", "args", args)
	start := time.Now()
	runErr := cmd.Run()

	res := Result{
		Stdout: decode(stdout.Bytes()),
		Stderr: decode(stderr.Bytes()),
	}
	if runErr == nil {
		res.Success = true
		c.log.V(1).Info("arduino-cli finished", "args", args, "elapsed", time.Since(start))
		return res
	}

	var exitErr *exec.ExitError
	if errors.As(runErr, &exitErr) && ctx.Err() == nil {
		res.ExitCode = exitErr.ExitCode()
	} else {
		res.ExitCode = -1
		if ctx.Err() != nil {
			runErr = errors.Wrapf(ctx.Err(), "arduino-cli %s did not finish", strings.Join(args, " "))
		} else {
			runErr = errors.Wrapf(runErr, "run %s", filepath.Base(exe))
		}
		res.Stderr = appendLine(res.Stderr, runErr.Error())
	}
	c.log.Info("arduino-cli failed", "args", args, "exitCode", res.ExitCode)
	return res
}

// RunJSON runs arduino-cli with "--format json" and decodes stdout into v. The returned error is
// non-nil only when the command succeeded but produced output that could not be decoded.
func (c *CLI) RunJSON(ctx context.Context, v any, args ...string) (Result, error) {
	res := c.Run(ctx, append(args, "--format", "json")...)
	if !res.Success {
		return res, nil
	}
	if err := json.Unmarshal([]byte(res.Stdout), v); err != nil {
		c.log.Error(err, "could not decode arduino-cli output", "args", args)
		return res, errors.Wrapf(ErrMalformedOutput, "%s: %v", strings.Join(args, " "), err)
	}
	return res, nil
}

// MonitorCommand prepares (but does not start) "arduino-cli monitor" for a port.
func (c *CLI) MonitorCommand(port string, baud int) (*exec.Cmd, error) {
	exe, err := c.Locate()
	if err != nil {
		return nil, err
	}
	cmd := exec.Command(exe, "monitor", "--port", port, "--config", "baudrate="+strconv.Itoa(baud))
	cmd.Env = c.env(exe)
	return cmd, nil
}

func (c *CLI) Compile(ctx context.Context, code, fqbn string) Result {
	return c.withSketch(code, func(dir string) Result {
		return c.Run(ctx, "compile", "--fqbn", fqbn, dir)
	})
}

func (c *CLI) Upload(ctx context.Context, code, fqbn, port string) Result {
	return c.withSketch(code, func(dir string) Result {
		return c.Run(ctx, "upload", "--fqbn", fqbn, "--port", port, dir)
	})
}

// withSketch materializes code as a one-file sketch in a fresh directory for the duration of fn.
// arduino-cli requires the .ino name to match its directory.
func (c *CLI) withSketch(code string, fn func(dir string) Result) Result {
	name := "arduino_sketch_" + uuid.NewString()
	dir := filepath.Join(c.tempDir, name)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return Result{Stderr: fmt.Sprintf("create sketch directory: %v", err), ExitCode: -1}
	}
	defer func() {
		if err := os.RemoveAll(dir); err != nil {
			c.log.Error(err, "could not remove sketch directory", "dir", dir)
		}
	}()

	if err := os.WriteFile(filepath.Join(dir, name+".ino"), []byte(code), 0o644); err != nil {
		return Result{Stderr: fmt.Sprintf("write sketch: %v", err), ExitCode: -1}
	}
	return fn(dir)
}

func decode(b []byte) string {
	return strings.ToValidUTF8(string(b), "\uFFFD")
}

func appendLine(s, line string) string {
	if s == "" {
		return line
	}
	if !strings.HasSuffix(s, "\n") {
		s += "\n"
	}
	return s + line
}
