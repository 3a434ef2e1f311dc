package pipeline

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/seqwright/hichipgo/internal/ctxlog"
	"github.com/seqwright/hichipgo/internal/shell"
	"github.com/seqwright/hichipgo/internal/workspace"
)

// StepError is a step execution failure with enough context to reproduce
// it: step name, unit, and (via the wrapped error) captured tool output.
type StepError struct {
	Step string
	Unit Unit
	Err  error
}

// Error implements the error interface for StepError.
func (e *StepError) Error() string {
	return fmt.Sprintf("step %s failed for %s: %v", e.Step, e.Unit, e.Err)
}

// Unwrap exposes the underlying cause.
func (e *StepError) Unwrap() error { return e.Err }

// errSkipped marks nodes failed only because an upstream step failed; it
// is a symptom, never the reported root cause.
var errSkipped = errors.New("skipped due to upstream failure")

// Executor runs a resolved graph with a bounded worker pool. Steps that
// share no data dependency run concurrently in any relative order; a step
// starts only after all producers of its inputs succeeded.
type Executor struct {
	graph   *Executable
	workers int
	wg      sync.WaitGroup
}

// Executable bundles the graph with the run-scoped collaborators each
// step invocation needs.
type Executable struct {
	Graph  *Graph
	Runner *shell.Runner
	Tmpdir string
	DryRun bool
}

// NewExecutor prepares a run of the given graph with the given worker
// bound.
func NewExecutor(exe *Executable, workers int) *Executor {
	if workers < 1 {
		workers = 1
	}
	return &Executor{graph: exe, workers: workers}
}

// Run executes the graph and returns the root-cause error of the first
// real failure, if any. Cancelling ctx stops scheduling, terminates
// running tools, and still releases every scoped workspace.
func (e *Executor) Run(ctx context.Context) error {
	logger := ctxlog.FromContext(ctx)
	nodes := e.graph.Graph.Nodes

	readyChan := make(chan *Node, len(nodes))
	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	rootCount := 0
	for _, node := range nodes {
		if node.depCount.Load() == 0 {
			readyChan <- node
			rootCount++
		}
	}
	logger.Debug("Seeded executor with root nodes.", "count", rootCount)

	e.wg.Add(len(nodes))
	logger.Debug("Starting worker pool.", "workers", e.workers)
	for i := 0; i < e.workers; i++ {
		go e.worker(runCtx, readyChan, cancel, i)
	}

	e.wg.Wait()
	close(readyChan)

	var failed []string
	var rootCause error
	for _, node := range nodes {
		if node.State() != Failed {
			continue
		}
		logger.Error("Step did not complete.", "step", node.Step.Key(), "error", node.Err)
		if errors.Is(node.Err, errSkipped) || errors.Is(node.Err, context.Canceled) {
			continue
		}
		failed = append(failed, node.Step.Key())
		if rootCause == nil {
			rootCause = node.Err
		}
	}

	if rootCause != nil {
		return fmt.Errorf("pipeline failed at %s: %w", strings.Join(failed, ", "), rootCause)
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	return nil
}

// worker pulls ready nodes until the channel drains.
func (e *Executor) worker(ctx context.Context, readyChan chan *Node, cancel context.CancelFunc, workerID int) {
	logger := ctxlog.FromContext(ctx).With("worker", workerID)

	for node := range readyChan {
		if ctx.Err() != nil {
			node.skipOnce.Do(func() {
				node.state.Store(int32(Failed))
				node.Err = ctx.Err()
				e.wg.Done()
				// Dependents of a cancelled node never reach the ready
				// channel; account for them here or wg.Wait blocks forever.
				e.skipDependents(ctx, node)
			})
			continue
		}

		stepLogger := logger.With("step", node.Step.Name, "unit", node.Step.Unit.String())
		stepLogger.Info("▶️ Starting step")
		node.state.Store(int32(Running))

		err := e.runNode(ctxlog.WithLogger(ctx, stepLogger), node)
		if err != nil {
			stepLogger.Error("Step failed.", "error", err)
			node.state.Store(int32(Failed))
			node.Err = err
			cancel()
			e.skipDependents(ctx, node)
			e.wg.Done()
			continue
		}

		stepLogger.Info("✅ Finished step")
		node.state.Store(int32(Succeeded))

		for _, dependent := range node.Dependents {
			if dependent.depCount.Add(-1) == 0 {
				readyChan <- dependent
			}
		}
		e.wg.Done()
	}
}

// skipDependents recursively fails every downstream node of a failed step
// without running it.
func (e *Executor) skipDependents(ctx context.Context, node *Node) {
	logger := ctxlog.FromContext(ctx)
	for _, dependent := range node.Dependents {
		dependent.skipOnce.Do(func() {
			logger.Warn("Skipping step, an upstream dependency failed.",
				"step", dependent.Step.Key(), "dependency", node.Step.Key())
			dependent.state.Store(int32(Failed))
			dependent.Err = fmt.Errorf("%w: %s", errSkipped, node.Step.Key())
			e.wg.Done()
			e.skipDependents(ctx, dependent)
		})
	}
}

// runNode performs one step invocation: scoped workspace, tool script,
// in-process post work, staging of outputs, and the integrity check.
func (e *Executor) runNode(ctx context.Context, node *Node) error {
	logger := ctxlog.FromContext(ctx)
	step := node.Step

	fail := func(err error) error {
		return &StepError{Step: step.Name, Unit: step.Unit, Err: err}
	}

	ws, err := workspace.Acquire(e.graph.Tmpdir, step.Name)
	if err != nil {
		return fail(err)
	}
	defer ws.Release(context.WithoutCancel(ctx))

	if e.graph.DryRun {
		if step.Build != nil {
			logger.Info("Dry run, would execute:", "script", step.Build(ws).Render())
		} else {
			logger.Info("Dry run, in-process step.", "outputs", step.Outputs)
		}
		return nil
	}

	// The configured walltime bounds the invocation locally as well.
	stepCtx := ctx
	if wt := step.Profile.Walltime.Duration(); wt > 0 {
		var cancel context.CancelFunc
		stepCtx, cancel = context.WithTimeout(ctx, wt)
		defer cancel()
	}

	if step.Build != nil {
		script := step.Build(ws)
		res, err := e.graph.Runner.Run(stepCtx, script)
		if res != nil {
			logger.Debug("Tool pipeline finished.", "duration", res.Duration)
		}
		if err != nil {
			return fail(err)
		}
	}

	if step.Post != nil {
		if err := step.Post(stepCtx, ws); err != nil {
			return fail(err)
		}
	}

	for name, final := range step.Stage {
		if err := ws.Keep(ws.Path(name), final); err != nil {
			return fail(err)
		}
	}

	if err := shell.VerifyOutputs(step.Outputs); err != nil {
		return fail(err)
	}
	return nil
}
