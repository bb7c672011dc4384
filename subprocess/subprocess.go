// Package subprocess runs external tools over explicit pipe pairs.
//
// The parent always proceeds in the same order: write the input, close the
// child's stdin, read the merged stdout and stderr to EOF, then wait. A child
// blocked on a full output pipe can therefore never deadlock against a parent
// blocked in wait. Output is captured into a secret.Buffer because some tools
// print key material.
package subprocess

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"strings"
	"syscall"

	"github.com/coder/cwg/secret"
)

const (
	// StatusNotStarted is reported when the child could not be started at
	// all. It is distinct from any real exit code or signal.
	StatusNotStarted = 255

	// MaxDiagnosticOutput bounds how much tool output RunCheck echoes on
	// failure.
	MaxDiagnosticOutput = 1000

	// readChunk is larger than any key a tool prints, so key output lands in
	// the buffer in one piece.
	readChunk = 1024
)

// Command describes one invocation. Args includes argv[0]. Key material
// belongs in Input, never in Args or Env.
type Command struct {
	Path  string
	Args  []string
	Env   []string
	Input []byte
}

func (c Command) String() string {
	if len(c.Args) == 0 {
		return c.Path
	}
	return strings.Join(c.Args, " ")
}

// Result is the outcome of a child that was spawned or attempted. The caller
// owns Output and must Close it.
type Result struct {
	Status int
	Output *secret.Buffer
}

// Error is returned by RunCheck for engine failures and unsuccessful exits
// alike.
type Error struct {
	Path   string
	Status int
	Err    error
}

func (e *Error) Error() string {
	switch {
	case e.Err != nil:
		return fmt.Sprintf("failed to run %s: %v", e.Path, e.Err)
	case e.Status == StatusNotStarted:
		return fmt.Sprintf("failed to start %s", e.Path)
	case e.Status < 0:
		return fmt.Sprintf("%s killed by signal %d", e.Path, -e.Status)
	default:
		return fmt.Sprintf("%s exited with status %d", e.Path, e.Status)
	}
}

func (e *Error) Unwrap() error { return e.Err }

type Config struct {
	// AmbientCaps is the capability set every child inherits.
	AmbientCaps []uintptr
	// Stderr receives diagnostics from RunCheck.
	Stderr io.Writer
	Logger *slog.Logger
}

// Engine spawns one child at a time.
type Engine struct {
	ambientCaps []uintptr
	stderr      io.Writer
	logger      *slog.Logger
}

func New(config Config) *Engine {
	stderr := config.Stderr
	if stderr == nil {
		stderr = os.Stderr
	}
	logger := config.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Engine{
		ambientCaps: config.AmbientCaps,
		stderr:      stderr,
		logger:      logger,
	}
}

// Run spawns cmd, feeds it Input, captures its output and waits for it. A
// child that starts and fails is a successful Run with a non-zero Status; the
// error is reserved for pipe and bookkeeping failures.
func (e *Engine) Run(cmd Command) (Result, error) {
	stdinR, stdinW, err := os.Pipe()
	if err != nil {
		return Result{}, fmt.Errorf("failed to create stdin pipe: %w", err)
	}
	outR, outW, err := os.Pipe()
	if err != nil {
		closeAll(stdinR, stdinW)
		return Result{}, fmt.Errorf("failed to create output pipe: %w", err)
	}

	args := cmd.Args
	if len(args) == 0 {
		args = []string{cmd.Path}
	}
	env := cmd.Env
	if env == nil {
		env = []string{}
	}

	child := &exec.Cmd{
		Path:        cmd.Path,
		Args:        args,
		Env:         env,
		Stdin:       stdinR,
		Stdout:      outW,
		Stderr:      outW,
		SysProcAttr: sysProcAttr(e.ambientCaps),
	}

	e.logger.Debug("running command", "command", cmd.String())
	startErr := child.Start()

	// The child owns its ends now. Keeping outW open here would hide EOF.
	closeAll(stdinR, outW)

	if startErr != nil {
		closeAll(stdinW, outR)
		e.logger.Debug("command did not start", "command", cmd.String(), "error", startErr)
		out, err := secret.NewFromBytes([]byte(fmt.Sprintf("Executing command: %v\n", startErr)))
		if err != nil {
			return Result{}, err
		}
		return Result{Status: StatusNotStarted, Output: out}, nil
	}

	if err := writeAll(stdinW, cmd.Input); err != nil && !errors.Is(err, syscall.EPIPE) {
		closeAll(stdinW, outR)
		_ = child.Wait()
		return Result{}, fmt.Errorf("failed to write to stdin of %s: %w", cmd.Path, err)
	}
	if err := stdinW.Close(); err != nil {
		closeAll(outR)
		_ = child.Wait()
		return Result{}, fmt.Errorf("failed to close stdin of %s: %w", cmd.Path, err)
	}

	out, err := secret.New(readChunk)
	if err != nil {
		closeAll(outR)
		_ = child.Wait()
		return Result{}, err
	}
	if _, err := out.ReadFrom(outR, readChunk); err != nil {
		_ = out.Close()
		closeAll(outR)
		_ = child.Wait()
		return Result{}, fmt.Errorf("failed to read output of %s: %w", cmd.Path, err)
	}
	closeAll(outR)

	status, err := waitStatus(child.Wait(), child.ProcessState)
	if err != nil {
		_ = out.Close()
		return Result{}, fmt.Errorf("failed to wait for %s: %w", cmd.Path, err)
	}
	e.logger.Debug("command finished", "command", cmd.String(), "status", status, "output_bytes", out.Len())
	return Result{Status: status, Output: out}, nil
}

// RunCheck treats an engine failure and a non-zero status the same way: a
// bounded excerpt of the output goes to the diagnostic stream and the output
// is wiped. On success the output is returned if keep is set and wiped
// otherwise.
func (e *Engine) RunCheck(cmd Command, keep bool) (*secret.Buffer, error) {
	res, err := e.Run(cmd)
	if err == nil && res.Status == 0 {
		if keep {
			return res.Output, nil
		}
		return nil, res.Output.Close()
	}

	if err != nil {
		fmt.Fprintf(e.stderr, "Error running %s:\n", cmd.Path)
	} else {
		fmt.Fprintf(e.stderr, "%s returned an error:\n", cmd.Path)
	}
	if res.Output != nil {
		e.printOutput(res.Output)
		_ = res.Output.Close()
	}
	return nil, &Error{Path: cmd.Path, Status: res.Status, Err: err}
}

func (e *Engine) printOutput(out *secret.Buffer) {
	p := out.Bytes()
	if len(p) > MaxDiagnosticOutput {
		p = p[:MaxDiagnosticOutput]
	}
	_, _ = e.stderr.Write(p)
}

func writeAll(w io.Writer, p []byte) error {
	for len(p) > 0 {
		n, err := w.Write(p)
		p = p[n:]
		if err != nil {
			return err
		}
	}
	return nil
}

// waitStatus maps the outcome of Wait to an exit code, or to the negated
// signal number for a killed child.
func waitStatus(waitErr error, state *os.ProcessState) (int, error) {
	var exitErr *exec.ExitError
	if waitErr != nil && !errors.As(waitErr, &exitErr) {
		return 0, waitErr
	}
	if state == nil {
		return 0, errors.New("no process state")
	}
	if ws, ok := state.Sys().(syscall.WaitStatus); ok && ws.Signaled() {
		return -int(ws.Signal()), nil
	}
	return state.ExitCode(), nil
}

func closeAll(files ...*os.File) {
	for _, f := range files {
		_ = f.Close()
	}
}
