package pipeline

import (
	"context"

	"github.com/seqwright/hichipgo/internal/resource"
	"github.com/seqwright/hichipgo/internal/shell"
	"github.com/seqwright/hichipgo/internal/workspace"
)

// Step names. Resource table entries are keyed by these, and group-level
// steps share the name (and therefore the resource profile) of their
// per-sample counterpart.
const (
	StepFastqc       = "fastqc"
	StepAlign        = "align"
	StepDedup        = "dedup"
	StepStats        = "stats"
	StepSplit        = "split"
	StepSortIndex    = "sortindex"
	StepContactMap   = "contactmap"
	StepConvertPairs = "convertpairs"
	StepEnrichQC     = "enrichqc"
	StepMergePairs   = "mergepairs"
	StepGroupStats   = "groupstats"
)

// Step is one unit of work wrapping a single external tool chain. Inputs
// and Outputs are the declared artifact paths that form the DAG edges;
// Stage maps workspace-relative names the tools write to their final
// output paths, published by atomic move after the tools finish.
type Step struct {
	Name string
	Unit Unit

	Inputs  []string
	Outputs []string

	Profile resource.Profile

	// Tools lists the executables the script invokes, for preflight.
	Tools []string

	// Build renders the tool invocation against a scoped workspace. Nil
	// for steps whose work happens in-process (see Post).
	Build func(ws *workspace.Scoped) *shell.Script

	// Stage maps workspace-relative file names to final output paths.
	Stage map[string]string

	// Post runs in-process after the script (or alone when Build is nil)
	// and may write additional files into the workspace for staging.
	Post func(ctx context.Context, ws *workspace.Scoped) error
}

// Key uniquely identifies a step invocation within one run.
func (s *Step) Key() string {
	return s.Name + "/" + s.Unit.ID
}
