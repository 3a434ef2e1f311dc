package shell

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRunnerRunSuccess(t *testing.T) {
	out := filepath.Join(t.TempDir(), "out.txt")
	script := NewScript(
		NewPipeline(New("printf", "hello\n")).RedirectStdout(out),
	)

	r := &Runner{}
	res, err := r.Run(context.Background(), script)
	require.NoError(t, err)
	require.NotNil(t, res)

	data, err := os.ReadFile(out)
	require.NoError(t, err)
	assert.Equal(t, "hello\n", string(data))
}

func TestRunnerRunFailureCapturesStderr(t *testing.T) {
	script := NewScript().ThenCmd(New("ls", "/definitely/not/a/real/path/1f9c"))

	r := &Runner{}
	res, err := r.Run(context.Background(), script)
	require.Error(t, err)

	var runErr *RunError
	require.ErrorAs(t, err, &runErr)
	assert.NotEmpty(t, runErr.Stderr, "stderr should be captured for diagnostics")
	assert.NotEmpty(t, res.Stderr)
}

func TestRunnerRunFailsFastOnEarlyPipeStage(t *testing.T) {
	// Without pipefail the trailing stage would mask the failure.
	script := NewScript(
		NewPipeline(New("ls", "/definitely/not/a/real/path/1f9c")).Pipe(New("wc", "-l")),
	)

	r := &Runner{}
	_, err := r.Run(context.Background(), script)
	assert.Error(t, err)
}

func TestRunnerRunCancellation(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()

	script := NewScript().ThenCmd(New("sleep", "30"))

	r := &Runner{}
	start := time.Now()
	_, err := r.Run(ctx, script)
	require.Error(t, err)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Less(t, time.Since(start), 10*time.Second, "cancellation should terminate the tool promptly")
}

func TestVerifyOutputs(t *testing.T) {
	dir := t.TempDir()
	present := filepath.Join(dir, "present.txt")
	require.NoError(t, os.WriteFile(present, []byte("data"), 0o644))
	empty := filepath.Join(dir, "empty.txt")
	require.NoError(t, os.WriteFile(empty, nil, 0o644))

	t.Run("all present", func(t *testing.T) {
		assert.NoError(t, VerifyOutputs([]string{present}))
	})

	t.Run("missing output is a failure", func(t *testing.T) {
		err := VerifyOutputs([]string{present, filepath.Join(dir, "absent.txt")})
		assert.ErrorContains(t, err, "missing after reported success")
	})

	t.Run("empty output is a failure", func(t *testing.T) {
		err := VerifyOutputs([]string{empty})
		assert.ErrorContains(t, err, "empty after reported success")
	})
}

func TestTailBufferKeepsOnlyTail(t *testing.T) {
	b := tailBuffer{limit: 8}
	_, err := b.Write([]byte("0123456789abcdef"))
	require.NoError(t, err)
	assert.Equal(t, "89abcdef", b.String())
}
