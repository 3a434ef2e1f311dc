package shell

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"time"

	"github.com/seqwright/hichipgo/internal/ctxlog"
)

// tailLimit bounds how much captured tool output is kept for diagnostics.
const tailLimit = 64 * 1024

// Result carries the captured output of one pipeline invocation. Both
// streams are retained on failure so the operator sees what the tool said.
type Result struct {
	Stdout   string
	Stderr   string
	Duration time.Duration
}

// RunError is returned when a pipeline exits non-zero. It keeps the
// captured stderr tail so the failure can be diagnosed without re-running.
type RunError struct {
	Script string
	Stderr string
	Err    error
}

// Error implements the error interface for RunError.
func (e *RunError) Error() string {
	if e.Stderr == "" {
		return fmt.Sprintf("tool invocation failed: %v", e.Err)
	}
	return fmt.Sprintf("tool invocation failed: %v\n--- captured stderr ---\n%s", e.Err, e.Stderr)
}

// Unwrap exposes the underlying exec error.
func (e *RunError) Unwrap() error { return e.Err }

// Runner executes rendered pipelines through a shell.
type Runner struct {
	// Shell is the interpreter used to run scripts. Defaults to /bin/bash,
	// which is required for pipefail.
	Shell string
	// Env entries are appended to the inherited environment.
	Env []string
}

// Run executes the script and waits for completion. Cancellation of ctx
// kills the process; the script's pipefail setting maps any stage failure
// to a non-zero exit.
func (r *Runner) Run(ctx context.Context, s *Script) (*Result, error) {
	logger := ctxlog.FromContext(ctx)
	script := s.Render()

	shell := r.Shell
	if shell == "" {
		shell = "/bin/bash"
	}

	cmd := exec.CommandContext(ctx, shell, "-c", script)
	cmd.Env = append(os.Environ(), r.Env...)
	// Orphaned children of a killed shell can hold the output pipes open;
	// bound how long Wait blocks on them after cancellation.
	cmd.WaitDelay = 5 * time.Second

	var stdout, stderr tailBuffer
	stdout.limit = tailLimit
	stderr.limit = tailLimit
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	logger.Debug("Invoking tool pipeline.", "script", script)
	start := time.Now()
	err := cmd.Run()
	res := &Result{
		Stdout:   stdout.String(),
		Stderr:   stderr.String(),
		Duration: time.Since(start),
	}

	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return res, ctxErr
		}
		return res, &RunError{Script: script, Stderr: res.Stderr, Err: err}
	}
	return res, nil
}

// VerifyOutputs checks that every declared output exists and is non-empty.
// A tool reporting success while leaving a declared output missing is a
// step failure, not a success.
func VerifyOutputs(paths []string) error {
	for _, path := range paths {
		info, err := os.Stat(path)
		if err != nil {
			return fmt.Errorf("declared output %s missing after reported success: %w", path, err)
		}
		if info.Size() == 0 {
			return fmt.Errorf("declared output %s is empty after reported success", path)
		}
	}
	return nil
}

// tailBuffer keeps only the last limit bytes written to it.
type tailBuffer struct {
	limit int
	buf   []byte
}

// Write implements io.Writer.
func (b *tailBuffer) Write(p []byte) (int, error) {
	b.buf = append(b.buf, p...)
	if len(b.buf) > b.limit {
		b.buf = b.buf[len(b.buf)-b.limit:]
	}
	return len(p), nil
}

// String returns the retained tail.
func (b *tailBuffer) String() string { return string(b.buf) }
