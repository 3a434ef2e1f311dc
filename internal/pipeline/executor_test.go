package pipeline

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/seqwright/hichipgo/internal/config"
	"github.com/seqwright/hichipgo/internal/resource"
	"github.com/seqwright/hichipgo/internal/shell"
	"github.com/seqwright/hichipgo/internal/workspace"
)

// writerStep builds a step whose in-process work writes every declared
// output through the workspace staging discipline.
func writerStep(name, unit string, inputs, outputs []string) *Step {
	stage := make(map[string]string, len(outputs))
	staged := make([]string, len(outputs))
	for i, out := range outputs {
		staged[i] = fmt.Sprintf("out%d", i)
		stage[staged[i]] = out
	}
	return &Step{
		Name:    name,
		Unit:    Unit{ID: unit, Kind: SampleUnit},
		Inputs:  inputs,
		Outputs: outputs,
		Profile: resource.DefaultProfile,
		Post: func(ctx context.Context, ws *workspace.Scoped) error {
			for _, name := range staged {
				if err := os.WriteFile(ws.Path(name), []byte("data"), 0o644); err != nil {
					return err
				}
			}
			return nil
		},
		Stage: stage,
	}
}

func runGraph(t *testing.T, ctx context.Context, tmpdir string, steps []*Step, workers int, dryRun bool) (*Graph, error) {
	t.Helper()
	g, err := BuildGraph(ctx, &config.Pipeline{}, steps)
	require.NoError(t, err)

	exec := NewExecutor(&Executable{
		Graph:  g,
		Runner: &shell.Runner{},
		Tmpdir: tmpdir,
		DryRun: dryRun,
	}, workers)
	return g, exec.Run(ctx)
}

// assertNoWorkspacesLeft checks that every scoped workspace was released.
func assertNoWorkspacesLeft(t *testing.T, tmpdir string) {
	t.Helper()
	entries, err := os.ReadDir(tmpdir)
	require.NoError(t, err)
	assert.Empty(t, entries, "scoped workspaces must be removed on every exit path")
}

func TestExecutorRunsDependencyChain(t *testing.T) {
	workdir := t.TempDir()
	tmpdir := t.TempDir()
	a := filepath.Join(workdir, "a.txt")
	b := filepath.Join(workdir, "b.txt")

	steps := []*Step{
		writerStep("a", "S1", nil, []string{a}),
		writerStep("b", "S1", []string{a}, []string{b}),
	}

	g, err := runGraph(t, context.Background(), tmpdir, steps, 2, false)
	require.NoError(t, err)

	for _, n := range g.Nodes {
		assert.Equal(t, Succeeded, n.State(), "step %s", n.Step.Key())
	}
	assert.FileExists(t, a)
	assert.FileExists(t, b)
	assertNoWorkspacesLeft(t, tmpdir)
}

func TestExecutorFailFastSkipsDependents(t *testing.T) {
	workdir := t.TempDir()
	tmpdir := t.TempDir()
	injected := errors.New("tool exploded")

	failing := &Step{
		Name:    "a",
		Unit:    Unit{ID: "S1", Kind: SampleUnit},
		Outputs: []string{filepath.Join(workdir, "a.txt")},
		Profile: resource.DefaultProfile,
		Post: func(ctx context.Context, ws *workspace.Scoped) error {
			return injected
		},
	}
	dependent := writerStep("b", "S1", failing.Outputs, []string{filepath.Join(workdir, "b.txt")})

	g, err := runGraph(t, context.Background(), tmpdir, []*Step{failing, dependent}, 2, false)
	require.Error(t, err)
	assert.ErrorIs(t, err, injected)
	assert.ErrorContains(t, err, "a/S1")

	byKey := make(map[string]*Node)
	for _, n := range g.Nodes {
		byKey[n.Step.Key()] = n
	}
	assert.Equal(t, Failed, byKey["a/S1"].State())
	assert.Equal(t, Failed, byKey["b/S1"].State())
	assert.ErrorIs(t, byKey["b/S1"].Err, errSkipped)

	// The failed step must not leave its declared output behind.
	assert.NoFileExists(t, filepath.Join(workdir, "a.txt"))
	assert.NoFileExists(t, filepath.Join(workdir, "b.txt"))
	assertNoWorkspacesLeft(t, tmpdir)
}

func TestExecutorReportsMissingOutputAsFailure(t *testing.T) {
	// The tool exits zero but never writes its declared output: the step
	// must be reported failed, not succeeded.
	workdir := t.TempDir()
	tmpdir := t.TempDir()

	lying := &Step{
		Name:    "align",
		Unit:    Unit{ID: "S1", Kind: SampleUnit},
		Outputs: []string{filepath.Join(workdir, "S1.sorted.pairs.gz")},
		Profile: resource.DefaultProfile,
		Tools:   []string{"true"},
		Build: func(ws *workspace.Scoped) *shell.Script {
			return shell.NewScript().ThenCmd(shell.New("true"))
		},
	}

	g, err := runGraph(t, context.Background(), tmpdir, []*Step{lying}, 1, false)
	require.Error(t, err)
	assert.ErrorContains(t, err, "missing after reported success")

	assert.Equal(t, Failed, g.Nodes[0].State())
	var stepErr *StepError
	require.ErrorAs(t, err, &stepErr)
	assert.Equal(t, "align", stepErr.Step)
	assertNoWorkspacesLeft(t, tmpdir)
}

func TestExecutorSurfacesToolStderr(t *testing.T) {
	workdir := t.TempDir()
	tmpdir := t.TempDir()

	failing := &Step{
		Name:    "a",
		Unit:    Unit{ID: "S1", Kind: SampleUnit},
		Outputs: []string{filepath.Join(workdir, "a.txt")},
		Profile: resource.DefaultProfile,
		Build: func(ws *workspace.Scoped) *shell.Script {
			return shell.NewScript().ThenCmd(
				shell.New("ls", "/definitely/not/a/real/path/77af"))
		},
	}

	_, err := runGraph(t, context.Background(), tmpdir, []*Step{failing}, 1, false)
	require.Error(t, err)

	var runErr *shell.RunError
	require.ErrorAs(t, err, &runErr)
	assert.NotEmpty(t, runErr.Stderr)
}

func TestExecutorFailureDoesNotStrandIndependentChain(t *testing.T) {
	// A failure cancels the run while an unrelated chain is still pending;
	// those nodes must be accounted for or Run never returns.
	workdir := t.TempDir()
	tmpdir := t.TempDir()
	injected := errors.New("tool exploded")

	bad := &Step{
		Name:    "bad",
		Unit:    Unit{ID: "S1", Kind: SampleUnit},
		Outputs: []string{filepath.Join(workdir, "bad.txt")},
		Profile: resource.DefaultProfile,
		Post: func(ctx context.Context, ws *workspace.Scoped) error {
			return injected
		},
	}
	b := writerStep("b", "S2", nil, []string{filepath.Join(workdir, "b.txt")})
	c := writerStep("c", "S2", b.Outputs, []string{filepath.Join(workdir, "c.txt")})

	g, err := BuildGraph(context.Background(), &config.Pipeline{}, []*Step{bad, b, c})
	require.NoError(t, err)

	// A single worker processes the failing root first, so the unrelated
	// chain is only ever seen through the cancelled context.
	exec := NewExecutor(&Executable{
		Graph:  g,
		Runner: &shell.Runner{},
		Tmpdir: tmpdir,
	}, 1)

	done := make(chan error, 1)
	go func() { done <- exec.Run(context.Background()) }()

	select {
	case err := <-done:
		require.Error(t, err)
		assert.ErrorIs(t, err, injected)
		assert.ErrorContains(t, err, "bad/S1")
	case <-time.After(10 * time.Second):
		t.Fatal("Run did not return after a failure left an unrelated chain pending")
	}

	byKey := make(map[string]*Node)
	for _, n := range g.Nodes {
		byKey[n.Step.Key()] = n
		assert.Equal(t, Failed, n.State(), "step %s", n.Step.Key())
	}
	assert.ErrorIs(t, byKey["b/S2"].Err, context.Canceled)
	assert.ErrorIs(t, byKey["c/S2"].Err, errSkipped)

	assert.NoFileExists(t, filepath.Join(workdir, "b.txt"))
	assert.NoFileExists(t, filepath.Join(workdir, "c.txt"))
	assertNoWorkspacesLeft(t, tmpdir)
}

func TestExecutorCancellationLeavesNoPartialOutputs(t *testing.T) {
	workdir := t.TempDir()
	tmpdir := t.TempDir()
	out := filepath.Join(workdir, "slow.txt")
	downstream := filepath.Join(workdir, "downstream.txt")

	slow := &Step{
		Name:    "slow",
		Unit:    Unit{ID: "S1", Kind: SampleUnit},
		Outputs: []string{out},
		Profile: resource.DefaultProfile,
		Build: func(ws *workspace.Scoped) *shell.Script {
			// Writes inside the workspace, then stalls before staging.
			return shell.NewScript().
				Then(shell.NewPipeline(shell.New("printf", "partial")).RedirectStdout(ws.Path("out0"))).
				ThenCmd(shell.New("sleep", "30"))
		},
		Stage: map[string]string{"out0": out},
	}
	dependent := writerStep("later", "S1", []string{out}, []string{downstream})

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(200 * time.Millisecond)
		cancel()
	}()

	start := time.Now()
	g, err := runGraph(t, ctx, tmpdir, []*Step{slow, dependent}, 2, false)
	require.Error(t, err)
	assert.Less(t, time.Since(start), 10*time.Second, "cancellation must interrupt the running tool")

	// No declared output path may hold a partial artifact.
	assert.NoFileExists(t, out)
	assert.NoFileExists(t, downstream)
	for _, n := range g.Nodes {
		assert.NotEqual(t, Succeeded, n.State(), "step %s", n.Step.Key())
	}
	assertNoWorkspacesLeft(t, tmpdir)
}

func TestExecutorDryRunExecutesNothing(t *testing.T) {
	workdir := t.TempDir()
	tmpdir := t.TempDir()
	out := filepath.Join(workdir, "a.txt")

	steps := []*Step{
		{
			Name:    "a",
			Unit:    Unit{ID: "S1", Kind: SampleUnit},
			Outputs: []string{out},
			Profile: resource.DefaultProfile,
			Build: func(ws *workspace.Scoped) *shell.Script {
				return shell.NewScript().ThenCmd(shell.New("no-such-tool-anywhere"))
			},
		},
	}

	g, err := runGraph(t, context.Background(), tmpdir, steps, 1, true)
	require.NoError(t, err)
	assert.Equal(t, Succeeded, g.Nodes[0].State())
	assert.NoFileExists(t, out)
	assertNoWorkspacesLeft(t, tmpdir)
}

func TestExecutorEnforcesWalltime(t *testing.T) {
	workdir := t.TempDir()
	tmpdir := t.TempDir()

	wt, err := resource.ParseWalltime("00:00:01")
	require.NoError(t, err)

	slow := &Step{
		Name:    "slow",
		Unit:    Unit{ID: "S1", Kind: SampleUnit},
		Outputs: []string{filepath.Join(workdir, "slow.txt")},
		Profile: resource.Profile{Threads: 1, Memory: resource.Gibibyte, Walltime: wt},
		Build: func(ws *workspace.Scoped) *shell.Script {
			return shell.NewScript().ThenCmd(shell.New("sleep", "30"))
		},
	}

	start := time.Now()
	_, err = runGraph(t, context.Background(), tmpdir, []*Step{slow}, 1, false)
	require.Error(t, err)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Less(t, time.Since(start), 15*time.Second)
	assertNoWorkspacesLeft(t, tmpdir)
}
