package app

import (
	"context"
	"fmt"

	"github.com/seqwright/hichipgo/internal/ctxlog"
	"github.com/seqwright/hichipgo/internal/pipeline"
	"github.com/seqwright/hichipgo/internal/shell"
)

// Run executes the main application logic based on the provided configuration.
func (a *App) Run(ctx context.Context, appConfig *Config) error {
	ctx = ctxlog.WithLogger(ctx, a.logger)
	a.logger.Debug("App.Run method started.")

	steps := pipeline.Steps(a.pipeline)
	a.logger.Info("Pipeline steps materialized.",
		"steps", len(steps), "samples", len(a.pipeline.Samples), "groups", len(a.pipeline.Groups))

	if !appConfig.DryRun {
		if err := a.pipeline.Reference.Validate(); err != nil {
			return fmt.Errorf("reference bundle for genome %q is unusable: %w", a.pipeline.Genome, err)
		}
		if err := pipeline.Preflight(ctx, steps); err != nil {
			return err
		}
	}

	graph, err := pipeline.BuildGraph(ctx, a.pipeline, steps)
	if err != nil {
		return fmt.Errorf("failed to build dependency graph: %w", err)
	}
	a.logger.Debug("Dependency graph built.", "node_count", len(graph.Nodes))

	exec := pipeline.NewExecutor(&pipeline.Executable{
		Graph:  graph,
		Runner: &shell.Runner{},
		Tmpdir: a.pipeline.Tmpdir,
		DryRun: appConfig.DryRun,
	}, appConfig.Workers)

	a.logger.Info("🚀 Starting concurrent execution...", "workers", appConfig.Workers)
	if err := exec.Run(ctx); err != nil {
		return fmt.Errorf("execution failed: %w", err)
	}
	a.logger.Info("🏁 Execution finished.")

	a.logger.Debug("App.Run method finished.")
	return nil
}
