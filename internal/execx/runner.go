// Package execx runs external tools (ffmpeg, whisper-cli) with captured
// output and cooperative termination.
package execx

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"time"
)

// DefaultGracePeriod is how long a cancelled process gets before it is killed.
const DefaultGracePeriod = 5 * time.Second

// Result is one process execution outcome.
type Result struct {
	Stdout   string
	Stderr   string
	ExitCode int
	Duration time.Duration
}

// Runner abstracts process execution for testability.
type Runner interface {
	Run(ctx context.Context, name string, args ...string) (Result, error)
}

// CommandLog captures one external command invocation for diagnostics.
type CommandLog struct {
	Command  string   `json:"command"`
	Args     []string `json:"args"`
	ExitCode int      `json:"exitCode"`
	Stdout   string   `json:"stdout"`
	Stderr   string   `json:"stderr"`
}

// NewLog builds a CommandLog from a finished invocation.
func NewLog(name string, args []string, res Result) CommandLog {
	return CommandLog{
		Command:  name,
		Args:     args,
		ExitCode: res.ExitCode,
		Stdout:   res.Stdout,
		Stderr:   res.Stderr,
	}
}

// OSRunner executes commands via os/exec. On cancellation the process tree
// is asked to terminate and killed after GracePeriod.
type OSRunner struct {
	GracePeriod time.Duration
}

// Run executes one command and captures stdout/stderr and exit code.
// Errors caused by ctx wrap ctx.Err().
func (r OSRunner) Run(ctx context.Context, name string, args ...string) (Result, error) {
	grace := r.GracePeriod
	if grace <= 0 {
		grace = DefaultGracePeriod
	}

	cmd := exec.CommandContext(ctx, name, args...)
	var stdout bytes.Buffer
	var stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	prepareProcessGroup(cmd)
	cmd.Cancel = func() error { return interruptProcess(cmd) }
	cmd.WaitDelay = grace

	start := time.Now()
	err := cmd.Run()
	result := Result{
		Stdout:   stdout.String(),
		Stderr:   stderr.String(),
		Duration: time.Since(start),
	}
	if err == nil {
		return result, nil
	}

	result.ExitCode = -1
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		result.ExitCode = exitErr.ExitCode()
	}
	if ctxErr := ctx.Err(); ctxErr != nil {
		return result, fmt.Errorf("%s interrupted: %w", name, ctxErr)
	}
	return result, err
}

// LookPath reports the resolved path for a tool name.
func LookPath(name string) (string, error) {
	return exec.LookPath(name)
}
