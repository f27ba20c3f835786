// Package runner executes whitelisted external commands with bounded
// timeouts.
package runner

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"strings"
	"time"
)

// Kind classifies a command failure.
type Kind int

const (
	// KindNotAllowed means the command or subcommand is not whitelisted.
	KindNotAllowed Kind = iota + 1
	// KindStart means the process could not be started.
	KindStart
	// KindExit means the process exited with a non-zero status.
	KindExit
	// KindTimeout means the process was killed at its deadline.
	KindTimeout
)

func (k Kind) String() string {
	switch k {
	case KindNotAllowed:
		return "not_allowed"
	case KindStart:
		return "start"
	case KindExit:
		return "exit"
	case KindTimeout:
		return "timeout"
	default:
		return "unknown"
	}
}

// Error describes a failed command. Output is already redacted.
type Error struct {
	Kind     Kind
	Command  string
	ExitCode int
	Timeout  time.Duration
	Output   string
	Err      error
}

func (e *Error) Error() string {
	switch e.Kind {
	case KindNotAllowed:
		return e.Err.Error()
	case KindTimeout:
		return fmt.Sprintf("command timed out after %s: %s", e.Timeout, e.Command)
	case KindExit:
		out := e.Output
		if out == "" {
			out = "no output"
		}
		return fmt.Sprintf("command failed with exit code %d: %s", e.ExitCode, out)
	default:
		return fmt.Sprintf("run %s: %v", e.Command, e.Err)
	}
}

func (e *Error) Unwrap() error {
	return e.Err
}

// IsKind reports whether err is a runner *Error of kind k.
func IsKind(err error, k Kind) bool {
	var re *Error
	return errors.As(err, &re) && re.Kind == k
}

// CommandRunner abstracts process execution for testability.
type CommandRunner interface {
	Run(ctx context.Context, dir string, env []string, name string, args ...string) (stdout string, stderr string, exitCode int, err error)
}

// waitDelay bounds how long Run waits for output pipes after the process
// has been killed.
const waitDelay = 5 * time.Second

// ExecRunner implements CommandRunner with os/exec. No shell is involved.
type ExecRunner struct{}

func (e *ExecRunner) Run(ctx context.Context, dir string, env []string, name string, args ...string) (string, string, int, error) {
	cmd := exec.CommandContext(ctx, name, args...)
	cmd.Dir = dir
	cmd.WaitDelay = waitDelay
	killProcessGroup(cmd)
	if len(env) > 0 {
		cmd.Env = append(os.Environ(), env...)
	}

	var stdoutBuf, stderrBuf strings.Builder
	cmd.Stdout = &stdoutBuf
	cmd.Stderr = &stderrBuf

	err := cmd.Run()
	exitCode := 0
	if err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			exitCode = exitErr.ExitCode()
		} else {
			return stdoutBuf.String(), stderrBuf.String(), -1, fmt.Errorf("exec: %w", err)
		}
	}
	return stdoutBuf.String(), stderrBuf.String(), exitCode, nil
}

// Request is one command invocation.
type Request struct {
	Args    []string
	Dir     string
	Env     []string
	Timeout time.Duration
}

// Result is the output of a finished command.
type Result struct {
	Stdout   string
	Stderr   string
	ExitCode int
	Duration time.Duration
}

// Runner checks commands against a Policy and runs them.
type Runner struct {
	cmd      CommandRunner
	policy   Policy
	logger   *slog.Logger
	lookPath func(string) (string, error)
}

// New creates a Runner. A nil cmd uses ExecRunner and a nil logger discards
// output.
func New(cmd CommandRunner, policy Policy, logger *slog.Logger) *Runner {
	if cmd == nil {
		cmd = &ExecRunner{}
	}
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Runner{cmd: cmd, policy: policy, logger: logger, lookPath: exec.LookPath}
}

// Policy returns the runner's policy.
func (r *Runner) Policy() Policy {
	return r.policy
}

// Available reports whether name can be found on PATH.
func (r *Runner) Available(name string) bool {
	_, err := r.lookPath(name)
	return err == nil
}

// Run executes req. A non-zero exit returns the Result together with a
// KindExit *Error; a timeout returns KindTimeout.
func (r *Runner) Run(ctx context.Context, req Request) (*Result, error) {
	if err := r.policy.Check(req.Args); err != nil {
		return nil, err
	}
	timeout := r.policy.Clamp(req.Timeout)
	display := Redact(strings.Join(req.Args, " "))

	runCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	r.logger.Info("running command", "cmd", display, "timeout", timeout)
	start := time.Now()
	stdout, stderr, exitCode, err := r.cmd.Run(runCtx, req.Dir, req.Env, req.Args[0], req.Args[1:]...)
	res := &Result{Stdout: stdout, Stderr: stderr, ExitCode: exitCode, Duration: time.Since(start)}

	if errors.Is(runCtx.Err(), context.DeadlineExceeded) {
		return res, &Error{Kind: KindTimeout, Command: display, ExitCode: -1, Timeout: timeout, Err: context.DeadlineExceeded}
	}
	if err != nil {
		return nil, &Error{Kind: KindStart, Command: display, ExitCode: -1, Err: err}
	}
	if stdout != "" {
		r.logger.Debug("command stdout", "cmd", display, "out", Redact(truncate(stdout, 500)))
	}
	if stderr != "" {
		r.logger.Debug("command stderr", "cmd", display, "out", Redact(truncate(stderr, 500)))
	}
	if exitCode != 0 {
		out := stderr
		if strings.TrimSpace(out) == "" {
			out = stdout
		}
		return res, &Error{Kind: KindExit, Command: display, ExitCode: exitCode, Output: Redact(strings.TrimSpace(out))}
	}
	return res, nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
