// Package app wires the pipeline together: it owns the logger, loads and
// validates configuration, and drives preflight, graph resolution and
// execution for one run.
package app

import (
	"context"
	"fmt"
	"io"
	"log/slog"

	"github.com/seqwright/hichipgo/internal/config"
	"github.com/seqwright/hichipgo/internal/ctxlog"
	"github.com/seqwright/hichipgo/internal/samplesheet"
)

// App encapsulates the application's dependencies, configuration, and lifecycle.
type App struct {
	outW     io.Writer
	logger   *slog.Logger
	pipeline *config.Pipeline
}

// logLevels maps the CLI level names onto slog levels; unknown names fall
// back to the zero value, info.
var logLevels = map[string]slog.Level{
	"debug": slog.LevelDebug,
	"info":  slog.LevelInfo,
	"warn":  slog.LevelWarn,
	"error": slog.LevelError,
}

// newLogger builds the app's isolated logger without touching the global
// default. Runs default to JSON so the per-step fields (step, unit, worker)
// stay machine-parsable in batch logs.
func newLogger(level, format string, outW io.Writer) *slog.Logger {
	opts := &slog.HandlerOptions{Level: logLevels[level]}
	if format == "text" {
		return slog.New(slog.NewTextHandler(outW, opts))
	}
	return slog.New(slog.NewJSONHandler(outW, opts))
}

// NewApp is the constructor for the main application. It returns a fully
// initialized App with its own isolated logger and the loaded, validated
// pipeline model. A configuration failure is a fatal startup error and
// panics; the entrypoint recovers it into a clean exit.
func NewApp(outW io.Writer, appConfig *Config) *App {
	logger := newLogger(appConfig.LogLevel, appConfig.LogFormat, outW)
	ctx := ctxlog.WithLogger(context.Background(), logger)
	logger.Debug("Logger configured successfully.")

	pipeline, err := config.Load(ctx, appConfig.ConfigPath)
	if err != nil {
		panic(fmt.Errorf("failed to load pipeline configuration: %w", err))
	}
	logger.Debug("Pipeline configuration loaded.",
		"samples", len(pipeline.Samples), "groups", len(pipeline.Groups))

	if appConfig.SheetPath != "" {
		sheet, err := samplesheet.Parse(ctx, appConfig.SheetPath)
		if err != nil {
			panic(fmt.Errorf("failed to load samplesheet: %w", err))
		}
		if err := pipeline.ApplySheet(sheet); err != nil {
			panic(fmt.Errorf("failed to apply samplesheet: %w", err))
		}
		logger.Debug("Samplesheet applied.", "groups", len(pipeline.Groups))
	}

	return &App{
		outW:     outW,
		logger:   logger,
		pipeline: pipeline,
	}
}

// Pipeline returns the loaded pipeline model. This is primarily for testing.
func (a *App) Pipeline() *config.Pipeline {
	return a.pipeline
}
