// Package runner executes compiled jars on a host JVM and classifies
// the outcome. A run that exceeds its wall-clock budget is reported as
// TimedOut rather than as a plain failure, since some programs are
// expected to outlive the budget.
package runner

import (
	"bytes"
	"context"
	"errors"
	"os"
	"os/exec"
	"strings"
	"time"
)

// Outcome classifies a finished run.
type Outcome int

const (
	Completed Outcome = iota
	Crashed
	TimedOut
)

func (o Outcome) String() string {
	switch o {
	case Completed:
		return "completed"
	case Crashed:
		return "crashed"
	case TimedOut:
		return "timed out"
	}
	return "unknown"
}

// Options describe one JVM invocation.
type Options struct {
	// Java is the launcher binary. Empty means "java" from PATH.
	Java string
	// ClassPath entries are joined with the platform list separator.
	ClassPath []string
	// MainClass is the class whose main method runs.
	MainClass string
	// Timeout bounds the run. Zero means no deadline.
	Timeout time.Duration
}

// Result carries what the JVM produced. ExitCode is -1 when the
// process did not exit on its own.
type Result struct {
	Outcome  Outcome
	ExitCode int
	Stdout   string
	Stderr   string
}

// FindJava locates the java launcher on PATH.
func FindJava() (string, error) {
	return exec.LookPath("java")
}

func command(ctx context.Context, opts Options) *exec.Cmd {
	java := opts.Java
	if java == "" {
		java = "java"
	}
	var args []string
	if len(opts.ClassPath) > 0 {
		args = append(args, "-cp", strings.Join(opts.ClassPath, string(os.PathListSeparator)))
	}
	args = append(args, opts.MainClass)
	return exec.CommandContext(ctx, java, args...)
}

// Run executes the JVM and waits for it to finish or for the timeout to
// expire, whichever comes first.
func Run(ctx context.Context, opts Options) Result {
	if opts.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, opts.Timeout)
		defer cancel()
	}

	cmd := command(ctx, opts)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	err := cmd.Run()

	res := Result{Stdout: stdout.String(), Stderr: stderr.String(), ExitCode: -1}
	switch {
	case err == nil:
		res.Outcome = Completed
		res.ExitCode = 0
	case ctx.Err() == context.DeadlineExceeded:
		res.Outcome = TimedOut
	default:
		res.Outcome = Crashed
		var exit *exec.ExitError
		if errors.As(err, &exit) {
			res.ExitCode = exit.ExitCode()
		} else {
			// The process never started, so the error is the only
			// diagnostic there is.
			res.Stderr = err.Error()
		}
	}
	return res
}
