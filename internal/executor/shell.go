package executor

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/exec"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/creack/pty"

	"github.com/Iron-Ham/treebuild/internal/errors"
)

const (
	defaultShell      = "sh"
	defaultOutputTail = 8 * 1024
	defaultKillGrace  = 5 * time.Second

	// exitTempFail is EX_TEMPFAIL from sysexits(3). Commands exit with it to
	// report a temporary failure worth retrying.
	exitTempFail = 75
)

// Shell runs the request command with "sh -c" in the package directory.
//
// The process runs in its own process group. On cancellation the group
// receives SIGTERM, then SIGKILL after KillGrace.
type Shell struct {
	// Shell is the interpreter (default "sh").
	Shell string
	// UsePTY attaches the command to a pseudo-terminal, for tools that only
	// print progress or colors when interactive.
	UsePTY bool
	// Timeout bounds each execution; zero means no limit.
	Timeout time.Duration
	// KillGrace is the delay between SIGTERM and SIGKILL (default 5s).
	KillGrace time.Duration
	// OutputTail is the number of trailing output bytes kept for failure
	// messages (default 8KiB).
	OutputTail int
	// Output, if set, receives the live combined output of every package.
	Output io.Writer
	// Env is appended to the inherited environment.
	Env []string
}

// Execute implements Executor.
func (s *Shell) Execute(ctx context.Context, req Request) Result {
	start := time.Now()
	if req.DryRun {
		return Result{Success: true}
	}
	if strings.TrimSpace(req.Command) == "" {
		return Result{
			Err:      errors.NewValidationError("command is empty").WithField("command"),
			ExitCode: -1,
		}
	}

	runCtx := ctx
	if s.Timeout > 0 {
		var cancel context.CancelFunc
		runCtx, cancel = context.WithTimeout(ctx, s.Timeout)
		defer cancel()
	}

	shell := s.Shell
	if shell == "" {
		shell = defaultShell
	}
	cmd := exec.Command(shell, "-c", req.Command)
	cmd.Dir = req.Package.Path
	cmd.Env = append(append(os.Environ(), s.Env...), requestEnv(req)...)

	tail := newTailWriter(s.outputTail(), NoChangesMarker)
	var out io.Writer = tail
	if s.Output != nil {
		out = io.MultiWriter(tail, s.Output)
	}

	wait, err := s.start(cmd, out)
	if err != nil {
		return Result{
			Err:      errors.NewExecutionError(req.Package.Name, "failed to start command", err),
			ExitCode: -1,
			Duration: time.Since(start),
		}
	}

	var waitErr error
	select {
	case waitErr = <-wait:
	case <-runCtx.Done():
		s.terminate(cmd, wait)
		res := Result{ExitCode: -1, Output: tail.String(), Duration: time.Since(start)}
		if ctx.Err() == nil && runCtx.Err() == context.DeadlineExceeded {
			res.Timeout = true
			res.Err = errors.NewTimeoutError(req.Command, s.Timeout)
		} else {
			res.Err = canceledError(ctx)
		}
		return res
	}

	res := Result{Output: tail.String(), Duration: time.Since(start)}
	if waitErr == nil {
		res.Success = true
		res.SkippedNoChanges = tail.SawMarker()
		return res
	}

	res.ExitCode = -1
	if exitErr, ok := waitErr.(*exec.ExitError); ok {
		res.ExitCode = exitErr.ExitCode()
	}
	res.Err = errors.NewExecutionError(req.Package.Name, fmt.Sprintf("command %q failed", req.Command), waitErr).
		WithExitCode(res.ExitCode).
		WithOutput(res.Output).
		WithRetryable(res.ExitCode == exitTempFail)
	return res
}

// start launches cmd with its output copied to out and returns a channel
// that yields the Wait result.
func (s *Shell) start(cmd *exec.Cmd, out io.Writer) (<-chan error, error) {
	wait := make(chan error, 1)

	if s.UsePTY {
		// pty.Start puts the child in a new session, which is also a new
		// process group.
		ptmx, err := pty.Start(cmd)
		if err != nil {
			return nil, err
		}
		copied := make(chan struct{})
		go func() {
			// Reads fail with EIO once the child exits; that ends the copy.
			_, _ = io.Copy(out, ptmx)
			close(copied)
		}()
		go func() {
			err := cmd.Wait()
			_ = ptmx.Close()
			<-copied
			wait <- err
		}()
		return wait, nil
	}

	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
	cmd.Stdout = out
	cmd.Stderr = out
	if err := cmd.Start(); err != nil {
		return nil, err
	}
	go func() { wait <- cmd.Wait() }()
	return wait, nil
}

// terminate signals the whole process group and waits for the process to
// exit.
func (s *Shell) terminate(cmd *exec.Cmd, wait <-chan error) {
	if cmd.Process == nil {
		return
	}
	pgid := -cmd.Process.Pid
	_ = syscall.Kill(pgid, syscall.SIGTERM)

	grace := s.KillGrace
	if grace <= 0 {
		grace = defaultKillGrace
	}
	t := time.NewTimer(grace)
	defer t.Stop()
	select {
	case <-wait:
	case <-t.C:
		_ = syscall.Kill(pgid, syscall.SIGKILL)
		<-wait
	}
}

func (s *Shell) outputTail() int {
	if s.OutputTail > 0 {
		return s.OutputTail
	}
	return defaultOutputTail
}

func requestEnv(req Request) []string {
	env := []string{
		"TREEBUILD_PACKAGE=" + req.Package.Name,
		"TREEBUILD_PACKAGE_PATH=" + req.Package.Path,
		"TREEBUILD_INDEX=" + strconv.Itoa(req.Index),
		"TREEBUILD_TOTAL=" + strconv.Itoa(req.Total),
		"TREEBUILD_ATTEMPT=" + strconv.Itoa(req.Attempt),
	}
	if req.Package.Version != "" {
		env = append(env, "TREEBUILD_PACKAGE_VERSION="+req.Package.Version)
	}
	return env
}

func canceledError(ctx context.Context) error {
	if cause := ctx.Err(); cause != nil {
		return fmt.Errorf("%w: %w", errors.ErrCanceled, cause)
	}
	return errors.ErrCanceled
}
